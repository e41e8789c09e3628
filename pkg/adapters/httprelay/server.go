package httprelay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/flows/internal/logging"
	"github.com/go-chi/chi/v5"
)

const (
	pingPath           = "/ping"
	defaultMaxBodySize = int64(16 << 20)
)

// Server status values reported by /ping.
const (
	StatusStarting  = "starting"
	StatusListening = "listening"
	StatusShutdown  = "shutdown"
)

var forbiddenMethods = []string{http.MethodConnect, http.MethodHead, http.MethodOptions, http.MethodTrace}

// resource is one registered single-shot handler.
type resource struct {
	mu        sync.Mutex
	enabled   bool
	handling  bool
	handled   bool
	socket    string
	owner     string
	methods   []string
	remaining int
}

// Server is the HTTP relay helper server.
type Server struct {
	address       string
	commandSocket string
	uid           string
	readTimeout   time.Duration
	maxBodySize   int64
	tick          time.Duration
	housekeeping  time.Duration
	autoShutdown  bool
	logger        *slog.Logger

	status atomic.Value
	used   atomic.Bool

	mu        sync.RWMutex
	resources map[string]*resource

	httpLn net.Listener
	cmdLn  net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithAddress sets the TCP address HTTP requests are served on.
func WithAddress(addr string) Option {
	return func(s *Server) { s.address = addr }
}

// WithCommandSocket sets the unix socket path commands are read from.
func WithCommandSocket(path string) Option {
	return func(s *Server) { s.commandSocket = path }
}

// WithServerUID sets the instance identifier reported in relayed requests and pings.
func WithServerUID(uid string) Option {
	return func(s *Server) { s.uid = uid }
}

// WithReadTimeout bounds the wait for a handler's reply.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) { s.readTimeout = d }
}

// WithMaxBodySize bounds request bodies.
func WithMaxBodySize(n int64) Option {
	return func(s *Server) { s.maxBodySize = n }
}

// WithLifetimeTick sets how long one unit of a handler's lifetime lasts. Default 1s.
func WithLifetimeTick(d time.Duration) Option {
	return func(s *Server) { s.tick = d }
}

// WithHousekeepingInterval sets how often handled and expired handlers are removed. Default 3s.
func WithHousekeepingInterval(d time.Duration) Option {
	return func(s *Server) { s.housekeeping = d }
}

// WithAutoShutdown makes Serve return once housekeeping leaves no handler registered,
// after at least one registration.
func WithAutoShutdown(enabled bool) Option {
	return func(s *Server) { s.autoShutdown = enabled }
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a relay server. It does not listen until Listen or Serve is called.
func NewServer(opts ...Option) *Server {
	s := &Server{
		address:      "127.0.0.1:9090",
		readTimeout:  30 * time.Second,
		maxBodySize:  defaultMaxBodySize,
		tick:         time.Second,
		housekeeping: 3 * time.Second,
		logger:       logging.NewNop(),
		resources:    make(map[string]*resource),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.status.Store(StatusStarting)
	return s
}

// Status reports the server status.
func (s *Server) Status() string {
	return s.status.Load().(string)
}

// Addr returns the bound HTTP address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.httpLn != nil {
		return s.httpLn.Addr().String()
	}
	return s.address
}

// Handler returns the HTTP handler serving /ping and every registered path.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get(pingPath, s.ping)
	r.HandleFunc("/*", s.relay)
	return r
}

// Listen binds the HTTP address and the command socket. A stale command socket file is removed.
func (s *Server) Listen() error {
	if s.commandSocket == "" {
		return errors.New("httprelay: command socket path is required")
	}
	if _, err := os.Stat(s.commandSocket); err == nil {
		_ = os.Remove(s.commandSocket)
	}
	cmdLn, err := net.Listen("unix", s.commandSocket)
	if err != nil {
		return fmt.Errorf("httprelay: listen on command socket: %w", err)
	}
	httpLn, err := net.Listen("tcp", s.address)
	if err != nil {
		cmdLn.Close()
		_ = os.Remove(s.commandSocket)
		return fmt.Errorf("httprelay: listen on %s: %w", s.address, err)
	}
	s.cmdLn, s.httpLn = cmdLn, httpLn
	s.logger.Info("relay listening", "address", httpLn.Addr().String(), "command_socket", s.commandSocket, "server_uid", s.uid)
	return nil
}

// Serve runs the relay until ctx is done or, with auto shutdown, until no handler remains.
func (s *Server) Serve(ctx context.Context) error {
	if s.httpLn == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		s.acceptCommands(ctx)
	}()
	go func() {
		defer wg.Done()
		s.countdown(ctx)
	}()
	go func() {
		defer wg.Done()
		s.housekeep(ctx, cancel)
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(s.httpLn)
	}()
	s.status.Store(StatusListening)

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("httprelay: serve: %w", err)
		}
		cancel()
	}

	s.status.Store(StatusShutdown)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.readTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("relay shutdown", "err", err)
	}
	s.cmdLn.Close()
	wg.Wait()
	_ = os.Remove(s.commandSocket)
	s.logger.Info("relay stopped", "server_uid", s.uid)
	return serveErr
}

func (s *Server) ping(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, PingPong{
		Message:   "pong",
		Status:    s.Status(),
		Now:       time.Now().Format(time.DateTime),
		ServerUID: s.uid,
	})
}

func (s *Server) relay(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	res := s.resources[r.URL.Path]
	s.mu.RUnlock()
	if res == nil {
		http.NotFound(w, r)
		return
	}

	res.mu.Lock()
	switch {
	case !res.enabled:
		res.mu.Unlock()
		http.NotFound(w, r)
		return
	case res.handling:
		res.mu.Unlock()
		w.WriteHeader(http.StatusLocked)
		return
	case !slices.Contains(res.methods, r.Method):
		res.mu.Unlock()
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if status := acceptable(r.Header.Get("Accept")); status != 0 {
		res.mu.Unlock()
		if status == http.StatusUnsupportedMediaType {
			w.Header().Set("Accept", "application/json, application/x-www-form-urlencoded, multipart/form-data")
		}
		w.WriteHeader(status)
		return
	}
	res.handling = true
	socket, owner := res.socket, res.owner
	res.mu.Unlock()

	done := func() {
		res.mu.Lock()
		res.handling = false
		res.mu.Unlock()
	}

	msg := RequestMsg{
		Method:      r.Method,
		Path:        r.URL.Path,
		Headers:     r.Header,
		Cookies:     r.Cookies(),
		InstanceUID: s.uid,
	}
	if r.Method != http.MethodGet && r.Method != http.MethodDelete {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBodySize)
		ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			done()
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		msg.ContentType = ct
		if reason := s.readBody(r, &msg); reason != "" {
			done()
			removeFiles(msg.Files)
			writeJSON(w, http.StatusBadRequest, ResponseMsg{Code: http.StatusBadRequest, Status: "fail", Message: reason, InstanceUID: owner})
			return
		}
	}

	resp, err := s.forward(socket, msg)
	if err != nil {
		done()
		s.logger.Warn("relay to handler failed", "resource", r.URL.Path, "socket", socket, "owner", owner, "err", err)
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	res.mu.Lock()
	res.handling = false
	if resp.Ok {
		res.enabled = false
		res.handled = true
	}
	res.mu.Unlock()

	if resp.Ok {
		writeJSON(w, http.StatusAccepted, resp)
		return
	}
	writeJSON(w, http.StatusBadRequest, resp)
}

// acceptable returns 0 when the Accept header allows one of the relayed media types.
func acceptable(header string) int {
	if header == "" || header == "*/*" {
		return 0
	}
	for _, v := range strings.Split(header, ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(v))
		if err != nil {
			return http.StatusBadRequest
		}
		switch mt {
		case "*/*", "application/json", "application/x-www-form-urlencoded", "multipart/form-data":
			return 0
		}
	}
	return http.StatusUnsupportedMediaType
}

// readBody fills the message body and files; it returns a failure reason.
func (s *Server) readBody(r *http.Request, msg *RequestMsg) string {
	switch msg.ContentType {
	case "application/json":
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return "request too large"
		}
		body := stripInvisible(string(raw))
		if !json.Valid([]byte(body)) {
			return "invalid JSON"
		}
		msg.Body = body

	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return "request too large"
		}
		msg.Body = firstValues(r.PostForm)

	case "multipart/form-data":
		if err := r.ParseMultipartForm(s.maxBodySize); err != nil {
			return "request too large"
		}
		defer r.MultipartForm.RemoveAll()
		msg.Body = firstValues(r.MultipartForm.Value)
		if len(r.MultipartForm.File) == 0 {
			return ""
		}
		msg.Files = make(map[string]string)
		for _, headers := range r.MultipartForm.File {
			for _, fh := range headers {
				path, err := saveUpload(fh)
				if err != nil {
					return "failed to save file " + fh.Filename
				}
				msg.Files[stripInvisible(fh.Filename)] = path
			}
		}
	}
	return ""
}

func firstValues(values map[string][]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = stripInvisible(v[0])
		}
	}
	return out
}

// saveUpload copies an uploaded file to a temporary file handed to the handler.
func saveUpload(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "flows-http-request-file-")
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(dst.Name())
		return "", err
	}
	return dst.Name(), nil
}

func removeFiles(files map[string]string) {
	for _, path := range files {
		_ = os.Remove(path)
	}
}

// forward writes the request to the handler socket and reads its reply.
func (s *Server) forward(socket string, msg RequestMsg) (ResponseMsg, error) {
	var resp ResponseMsg
	conn, err := net.DialTimeout("unix", socket, s.readTimeout)
	if err != nil {
		return resp, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(s.readTimeout))

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		removeFiles(msg.Files)
		return resp, fmt.Errorf("write request: %w", err)
	}
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&resp); err != nil {
		return resp, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}

func (s *Server) acceptCommands(ctx context.Context) {
	for {
		conn, err := s.cmdLn.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("command accept", "err", err)
			continue
		}
		s.handleCommand(conn)
	}
}

func (s *Server) handleCommand(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(s.readTimeout))

	enc := json.NewEncoder(conn)
	var cmd Command
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&cmd); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		_ = enc.Encode(CommandReply{Error: err.Error()})
		return
	}

	reply := s.Execute(cmd)
	if err := enc.Encode(reply); err != nil {
		s.logger.Warn("command reply", "command", cmd.Command, "owner", cmd.ExternalProcessID, "err", err)
		return
	}
	s.logger.Debug("command", "command", cmd.Command, "resource", cmd.Path, "owner", cmd.ExternalProcessID, "ok", reply.Ok, "reason", reply.Error)
}

// Execute applies a command to the handler table.
func (s *Server) Execute(cmd Command) CommandReply {
	switch strings.ToLower(strings.TrimSpace(cmd.Command)) {
	case CommandRegister:
		return s.register(cmd)
	case CommandDeregister:
		return s.deregister(cmd)
	default:
		return CommandReply{Error: "unknown command"}
	}
}

func (s *Server) register(cmd Command) CommandReply {
	for _, m := range cmd.AllowedMethods {
		if slices.Contains(forbiddenMethods, strings.ToUpper(m)) {
			return CommandReply{Error: "invalid method"}
		}
	}
	path := stripInvisible(strings.TrimSpace(cmd.Path))
	if !strings.HasPrefix(path, "/") || path == pingPath {
		return CommandReply{Error: "invalid path"}
	}

	methods := DefaultMethods
	if len(cmd.AllowedMethods) > 0 {
		methods = make([]string, len(cmd.AllowedMethods))
		for i, m := range cmd.AllowedMethods {
			methods[i] = strings.ToUpper(m)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.resources[path]; exists {
		return CommandReply{Error: "path already registered"}
	}
	s.resources[path] = &resource{
		enabled:   true,
		socket:    cmd.SocketFile,
		owner:     cmd.ExternalProcessID,
		methods:   methods,
		remaining: cmd.Timeout,
	}
	s.used.Store(true)
	return CommandReply{Ok: true}
}

func (s *Server) deregister(cmd Command) CommandReply {
	path := stripInvisible(strings.TrimSpace(cmd.Path))

	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.resources[path]
	if res == nil {
		return CommandReply{Error: "resource not found"}
	}
	if res.owner != cmd.ExternalProcessID {
		return CommandReply{Error: "wrong resource owner"}
	}
	delete(s.resources, path)
	return CommandReply{Ok: true}
}

// Registered reports whether a handler exists for path.
func (s *Server) Registered(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.resources[path]
	return ok
}

// countdown decreases the lifetime of idle handlers once per tick.
func (s *Server) countdown(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			for _, res := range s.resources {
				res.mu.Lock()
				if !res.handled && !res.handling && res.remaining > 0 {
					res.remaining--
				}
				res.mu.Unlock()
			}
			s.mu.RUnlock()
		}
	}
}

func (s *Server) housekeep(ctx context.Context, shutdown context.CancelFunc) {
	ticker := time.NewTicker(s.housekeeping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if left := s.sweep(); left == 0 && s.autoShutdown && s.used.Load() {
				s.logger.Info("no resources left, shutting down", "server_uid", s.uid)
				shutdown()
				return
			}
		}
	}
}

// sweep removes handled and expired handlers and returns how many remain.
func (s *Server) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, res := range s.resources {
		res.mu.Lock()
		var reason string
		switch {
		case res.handling:
		case res.handled && !res.enabled:
			reason = "handled"
		case res.remaining <= 0:
			reason = "timeout"
		}
		res.mu.Unlock()
		if reason == "" {
			continue
		}
		if res.socket != "" {
			_ = os.Remove(res.socket)
		}
		delete(s.resources, path)
		s.logger.Debug("resource removed", "resource", path, "reason", reason, "owner", res.owner)
	}
	return len(s.resources)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
