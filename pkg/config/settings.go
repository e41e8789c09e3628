package config

import "time"

// Settings is the typed view of the engine configuration.
type Settings struct {
	Gate                 GateSettings    `mapstructure:"gate"`
	Stop                 StopSettings    `mapstructure:"stop"`
	StatusCheckFrequency float64         `mapstructure:"offloaded_process_status_check_frequency"`
	Offload              OffloadSettings `mapstructure:"offload"`
	HTTP                 HTTPSettings    `mapstructure:"http"`
	Log                  LogSettings     `mapstructure:"log"`
}

type GateSettings struct {
	OnBranch struct {
		KeepIO bool `mapstructure:"keep_io"`
	} `mapstructure:"on_branch"`
}

type StopSettings struct {
	OnOffloadError bool `mapstructure:"on_offload_error"`
}

type OffloadSettings struct {
	MaxExecutionTime float64  `mapstructure:"max_execution_time"`
	Command          []string `mapstructure:"command"`
}

type HTTPSettings struct {
	Server HTTPServerSettings `mapstructure:"server"`
}

type HTTPServerSettings struct {
	Address                    string  `mapstructure:"address"`
	CommandSocketPath          string  `mapstructure:"command_socket_path"`
	TimeoutReadExternalProcess float64 `mapstructure:"timeout_read_external_process"`
	ListenOn                   string  `mapstructure:"listen_on"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Settings decodes the configuration into a Settings value.
func (c *Config) Settings() (Settings, error) {
	var s Settings
	err := c.Decode(&s)
	return s, err
}

// StatusCheckInterval returns the worker liveness check interval.
func (s Settings) StatusCheckInterval() time.Duration {
	return seconds(s.StatusCheckFrequency)
}

// MaxExecution returns the offload batch bound, zero when disabled.
func (s Settings) MaxExecution() time.Duration {
	return seconds(s.Offload.MaxExecutionTime)
}

// ReadTimeout returns how long the relay server waits for a handler reply.
func (s HTTPServerSettings) ReadTimeout() time.Duration {
	return seconds(s.TimeoutReadExternalProcess)
}

// PingAddress returns the address the relay answers pings on. A listen_on port
// overrides the configured address.
func (s HTTPServerSettings) PingAddress() string {
	if s.ListenOn != "" {
		return "127.0.0.1:" + s.ListenOn
	}
	return s.Address
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
