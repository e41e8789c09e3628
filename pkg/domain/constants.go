package domain

// Configuration keys read by the engine.
const (
	// KeyKeepIO keeps a process' join bucket after it has been delivered.
	KeyKeepIO = "gate.on_branch.keep_io"

	// KeyStopOnOffloadError raises a full stop when a worker signals a fatal error.
	KeyStopOnOffloadError = "stop.on_offload_error"

	// KeyStatusCheckFrequency is the worker liveness check interval, in seconds.
	KeyStatusCheckFrequency = "offloaded_process_status_check_frequency"

	// KeyMaxExecutionTime bounds an offload batch, in seconds. Zero disables it.
	KeyMaxExecutionTime = "offload.max_execution_time"

	// KeyOffloadCommand is the argv used to start a worker.
	KeyOffloadCommand = "offload.command"

	KeyHTTPAddress        = "http.server.address"
	KeyHTTPCommandSocket  = "http.server.command_socket_path"
	KeyHTTPReadTimeout    = "http.server.timeout_read_external_process"
	KeyHTTPServerListenOn = "http.server.listen_on"
	KeyLogLevel           = "log.level"
	KeyLogFormat          = "log.format"
)
