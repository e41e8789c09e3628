package httprelay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aretw0/flows/pkg/domain"
)

// Client talks to a running relay server.
type Client struct {
	commandSocket string
	pingURL       string
	http          *http.Client
	timeout       time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientTimeout bounds a single command or ping. Default 5s.
func WithClientTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// NewClient creates a client for the server listening on address and reading commands
// from commandSocket.
func NewClient(commandSocket, address string, opts ...ClientOption) *Client {
	c := &Client{
		commandSocket: commandSocket,
		pingURL:       "http://" + address + pingPath,
		timeout:       5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http = &http.Client{Timeout: c.timeout}
	return c
}

// CommandSocket returns the command socket path.
func (c *Client) CommandSocket() string {
	return c.commandSocket
}

// Register adds a handler. The Command field is set by the client.
func (c *Client) Register(ctx context.Context, cmd Command) error {
	cmd.Command = CommandRegister
	return c.send(ctx, cmd)
}

// Deregister removes the handler for path owned by owner.
func (c *Client) Deregister(ctx context.Context, path, owner string) error {
	return c.send(ctx, Command{Command: CommandDeregister, Path: path, ExternalProcessID: owner})
}

func (c *Client) send(ctx context.Context, cmd Command) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.commandSocket)
	if err != nil {
		return fmt.Errorf("httprelay: dial command socket: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return fmt.Errorf("httprelay: write %s: %w", cmd.Command, err)
	}
	var reply CommandReply
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&reply); err != nil {
		return fmt.Errorf("httprelay: read %s reply: %w", cmd.Command, err)
	}
	if !reply.Ok {
		return fmt.Errorf("%w: %s %s: %s", domain.ErrRelayCommand, cmd.Command, cmd.Path, reply.Error)
	}
	return nil
}

// Ping checks that a server answers on /ping.
func (c *Client) Ping(ctx context.Context) (*PingPong, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pingURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httprelay: ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httprelay: ping: unexpected status %d", resp.StatusCode)
	}
	var pong PingPong
	if err := json.NewDecoder(resp.Body).Decode(&pong); err != nil {
		return nil, fmt.Errorf("httprelay: ping: %w", err)
	}
	return &pong, nil
}
