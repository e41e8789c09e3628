package httprelay

import "net/http"

// Commands accepted on the command socket. Matching is case-insensitive.
const (
	CommandRegister   = "register"
	CommandDeregister = "deregister"
)

// DefaultMethods are allowed when a registration names none.
var DefaultMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

// Command is a single JSON line written to the command socket.
type Command struct {
	Command           string   `json:"command"`
	Path              string   `json:"path"`
	SocketFile        string   `json:"socket_file"`
	ExternalProcessID string   `json:"external_process_id"`
	AllowedMethods    []string `json:"allowed_methods"`
	Timeout           int      `json:"timeout"`
}

// CommandReply answers a Command.
type CommandReply struct {
	Ok    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// RequestMsg is the relayed HTTP request, written as one JSON line to the handler socket.
type RequestMsg struct {
	Method      string              `json:"method"`
	Path        string              `json:"path"`
	Headers     map[string][]string `json:"headers"`
	Body        any                 `json:"body,omitempty"`
	ContentType string              `json:"content_type"`
	Files       map[string]string   `json:"files,omitempty"`
	Cookies     []*http.Cookie      `json:"cookies"`
	InstanceUID string              `json:"instance_uid"`
}

// ResponseMsg is the handler's answer. Ok is relayed as 202, anything else as 400.
// Message is relayed as is, so it may be any JSON value.
type ResponseMsg struct {
	Ok          bool   `json:"ok"`
	Code        int    `json:"code"`
	Status      string `json:"status"`
	Message     any    `json:"message"`
	InstanceUID string `json:"instance_uid"`
}

// PingPong is the /ping payload.
type PingPong struct {
	Message   string `json:"message"`
	Status    string `json:"status"`
	Now       string `json:"now"`
	ServerUID string `json:"server_uid"`
}
