package events

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/flows/internal/logging"
	"github.com/aretw0/flows/pkg/adapters/httprelay"
	"github.com/aretw0/flows/pkg/reactor"
	"github.com/google/uuid"
)

// DefaultHTTPLifetime is how long, in seconds, a relay registration lives.
const DefaultHTTPLifetime = 600

// RequestFunc handles one relayed request. It may answer explicitly with Accepted or
// TryAgain; otherwise the returned value is answered for it.
type RequestFunc func(ctx context.Context, req *Request) (bool, error)

// Request is a relayed HTTP request waiting for its answer.
type Request struct {
	httprelay.RequestMsg

	conn     net.Conn
	owner    string
	answered bool
}

// Accepted answers the relay with ok; the HTTP client receives 202.
func (r *Request) Accepted(code int, status string, message any) (bool, error) {
	return true, r.answer(true, code, status, message)
}

// TryAgain answers the relay without ok; the HTTP client receives 400 and the path stays registered.
func (r *Request) TryAgain(code int, status string, message any) (bool, error) {
	return false, r.answer(false, code, status, message)
}

func (r *Request) answer(ok bool, code int, status string, message any) error {
	if r.answered {
		return nil
	}
	r.answered = true
	err := json.NewEncoder(r.conn).Encode(httprelay.ResponseMsg{
		Ok:          ok,
		Code:        code,
		Status:      status,
		Message:     message,
		InstanceUID: r.owner,
	})
	if err != nil {
		return fmt.Errorf("http event: answer relay: %w", err)
	}
	return nil
}

// HTTPRequest fires when the relay forwards a request for its path and the handler accepts it.
type HTTPRequest struct {
	client      *httprelay.Client
	path        string
	methods     []string
	lifetime    int
	owner       string
	readTimeout time.Duration
	handle      RequestFunc
	logger      *slog.Logger

	socket string
	ln     *net.UnixListener
	stream reactor.Stream
	once   sync.Once
}

// HTTPOption configures an HTTPRequest.
type HTTPOption func(*HTTPRequest)

// WithMethods restricts the accepted HTTP methods.
func WithMethods(methods ...string) HTTPOption {
	return func(e *HTTPRequest) { e.methods = methods }
}

// WithLifetime sets the registration lifetime in seconds.
func WithLifetime(seconds int) HTTPOption {
	return func(e *HTTPRequest) { e.lifetime = seconds }
}

// WithOwner sets the instance identifier the path is registered under.
func WithOwner(uid string) HTTPOption {
	return func(e *HTTPRequest) { e.owner = uid }
}

// WithReadTimeout bounds reading a relayed request. Default 5s.
func WithReadTimeout(d time.Duration) HTTPOption {
	return func(e *HTTPRequest) { e.readTimeout = d }
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(e *HTTPRequest) { e.logger = logger }
}

// NewHTTPRequest creates an event for path. A nil handle accepts the first request.
func NewHTTPRequest(client *httprelay.Client, path string, handle RequestFunc, opts ...HTTPOption) *HTTPRequest {
	e := &HTTPRequest{
		client:      client,
		path:        path,
		lifetime:    DefaultHTTPLifetime,
		owner:       uuid.NewString(),
		readTimeout: 5 * time.Second,
		handle:      handle,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Path returns the relayed path.
func (e *HTTPRequest) Path() string { return e.path }

// Socket returns the unix socket the relay forwards to, empty before Stream.
func (e *HTTPRequest) Socket() string { return e.socket }

// Stream listens on a fresh unix socket and registers the path with the relay.
func (e *HTTPRequest) Stream() (reactor.Stream, error) {
	if e.stream != nil {
		return e.stream, nil
	}

	socket := filepath.Join(os.TempDir(), "flows-"+strings.ReplaceAll(uuid.NewString(), "-", "")[:16]+".sock")
	_ = os.Remove(socket)
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: socket, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("http event: listen: %w", err)
	}
	ln.SetUnlinkOnClose(false)
	s, err := reactor.Conn(ln)
	if err != nil {
		ln.Close()
		_ = os.Remove(socket)
		return nil, fmt.Errorf("http event: %w", err)
	}

	err = e.client.Register(context.Background(), httprelay.Command{
		Path:              e.path,
		SocketFile:        socket,
		ExternalProcessID: e.owner,
		AllowedMethods:    e.methods,
		Timeout:           e.lifetime,
	})
	if err != nil {
		ln.Close()
		_ = os.Remove(socket)
		return nil, fmt.Errorf("http event: register %s: %w", e.path, err)
	}
	e.logger.Info("registered path", "path", e.path, "socket", socket)

	e.socket, e.ln, e.stream = socket, ln, s
	return s, nil
}

// Accept takes the next relayed request off the socket.
func (e *HTTPRequest) Accept() (any, error) {
	conn, err := e.ln.Accept()
	if err != nil {
		return nil, err
	}
	_ = conn.SetDeadline(time.Now().Add(e.readTimeout))

	req := &Request{conn: conn, owner: e.owner}
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&req.RequestMsg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("http event: read request: %w", err)
	}
	return req, nil
}

func (e *HTTPRequest) Resolve(ctx context.Context, data any) (bool, error) {
	req, ok := data.(*Request)
	if !ok {
		return false, fmt.Errorf("http event: unexpected data %T", data)
	}
	defer req.conn.Close()

	accepted := true
	var err error
	if e.handle != nil {
		accepted, err = e.handle(ctx, req)
	}
	if err != nil {
		_, _ = req.TryAgain(500, "fail", err.Error())
		return false, err
	}
	if accepted {
		_, err = req.Accepted(202, "success", "accepted")
	} else {
		_, err = req.TryAgain(400, "fail", "try again")
	}
	return accepted, err
}

// Healthy reports whether the relay server answers.
func (e *HTTPRequest) Healthy(ctx context.Context) bool {
	_, err := e.client.Ping(ctx)
	return err == nil
}

// Close deregisters the path and removes the socket. Only the first call has an effect.
func (e *HTTPRequest) Close() error {
	var err error
	e.once.Do(func() {
		if e.ln == nil {
			return
		}
		ctx := context.Background()
		if _, perr := e.client.Ping(ctx); perr == nil {
			if derr := e.client.Deregister(ctx, e.path, e.owner); derr != nil {
				e.logger.Info("could not deregister path", "path", e.path, "err", derr)
			}
		}
		err = e.ln.Close()
		_ = os.Remove(e.socket)
		e.logger.Info("closed socket", "socket", e.socket)
	})
	return err
}
