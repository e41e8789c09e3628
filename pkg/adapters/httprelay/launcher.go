package httprelay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/aretw0/flows/internal/logging"
)

// Launcher starts a detached relay server when none is running.
type Launcher struct {
	client *Client
	argv   []string
	env    []string
	wait   time.Duration
	logger *slog.Logger

	mu sync.Mutex
}

// LauncherOption configures a Launcher.
type LauncherOption func(*Launcher)

// WithLaunchWait bounds how long Ensure waits for a started server. Default 5s.
func WithLaunchWait(d time.Duration) LauncherOption {
	return func(l *Launcher) { l.wait = d }
}

// WithLaunchEnv adds environment variables to the server process.
func WithLaunchEnv(env ...string) LauncherOption {
	return func(l *Launcher) { l.env = append(l.env, env...) }
}

// WithLauncherLogger sets a custom structured logger.
func WithLauncherLogger(logger *slog.Logger) LauncherOption {
	return func(l *Launcher) { l.logger = logger }
}

// NewLauncher creates a launcher running argv when client cannot reach a server.
func NewLauncher(client *Client, argv []string, opts ...LauncherOption) *Launcher {
	l := &Launcher{
		client: client,
		argv:   argv,
		wait:   5 * time.Second,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Ensure returns once a server answers on /ping and its command socket exists.
func (l *Launcher) Ensure(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ready(ctx) {
		return nil
	}
	if len(l.argv) == 0 {
		return errors.New("httprelay: no server command configured")
	}

	cmd := exec.Command(l.argv[0], l.argv[1:]...)
	cmd.Env = append(os.Environ(), l.env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("httprelay: start server: %w", err)
	}
	go func() { _ = cmd.Wait() }()
	l.logger.Info("started relay server", "pid", cmd.Process.Pid, "command_socket", l.client.CommandSocket())

	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("httprelay: server did not come up: %w", ctx.Err())
		case <-ticker.C:
			if l.ready(ctx) {
				return nil
			}
		}
	}
}

func (l *Launcher) ready(ctx context.Context) bool {
	if _, err := os.Stat(l.client.CommandSocket()); err != nil {
		return false
	}
	_, err := l.client.Ping(ctx)
	return err == nil
}
