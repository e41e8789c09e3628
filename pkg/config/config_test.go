package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/flows/pkg/config"
	"github.com/aretw0/flows/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
gate:
  on_branch:
    keep_io: true
stop:
  on_offload_error: true
offloaded_process_status_check_frequency: 0.25
offload:
  max_execution_time: 5
  command: [flows, worker, --log-level, debug]
http:
  server:
    address: 127.0.0.1:7070
log:
  level: debug
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := config.Load(writeFile(t, "flows.yaml", sample))
	require.NoError(t, err)

	assert.True(t, cfg.GetBool(domain.KeyKeepIO))
	assert.True(t, cfg.GetBool(domain.KeyStopOnOffloadError))
	assert.Equal(t, 0.25, cfg.GetFloat(domain.KeyStatusCheckFrequency))
	assert.Equal(t, 5*time.Second, cfg.Seconds(domain.KeyMaxExecutionTime))
	assert.Equal(t, []string{"flows", "worker", "--log-level", "debug"}, cfg.GetStrings(domain.KeyOffloadCommand))
	assert.Equal(t, "127.0.0.1:7070", cfg.GetString(domain.KeyHTTPAddress))

	// untouched keys keep their defaults
	assert.Equal(t, "text", cfg.GetString(domain.KeyLogFormat))
	assert.Equal(t, 30.0, cfg.GetFloat(domain.KeyHTTPReadTimeout))
}

func TestLoad_JSONAndMissing(t *testing.T) {
	cfg, err := config.Load(writeFile(t, "flows.json", `{"gate": {"on_branch": {"keep_io": true}}}`))
	require.NoError(t, err)
	assert.True(t, cfg.GetBool(domain.KeyKeepIO))

	cfg, err = config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.False(t, cfg.GetBool(domain.KeyKeepIO))
	assert.Equal(t, 1.0, cfg.GetFloat(domain.KeyStatusCheckFrequency))

	_, err = config.Load(writeFile(t, "broken.yaml", "gate: [unclosed"))
	assert.Error(t, err)
}

func TestConfig_Settings(t *testing.T) {
	cfg, err := config.Load(writeFile(t, "flows.yaml", sample))
	require.NoError(t, err)

	s, err := cfg.Settings()
	require.NoError(t, err)
	assert.True(t, s.Gate.OnBranch.KeepIO)
	assert.True(t, s.Stop.OnOffloadError)
	assert.Equal(t, 250*time.Millisecond, s.StatusCheckInterval())
	assert.Equal(t, 5*time.Second, s.MaxExecution())
	assert.Equal(t, "127.0.0.1:7070", s.HTTP.Server.Address)
	assert.Equal(t, 30*time.Second, s.HTTP.Server.ReadTimeout())
	assert.Equal(t, "127.0.0.1:7070", s.HTTP.Server.PingAddress())
	assert.Equal(t, "debug", s.Log.Level)

	s.HTTP.Server.ListenOn = "8181"
	assert.Equal(t, "127.0.0.1:8181", s.HTTP.Server.PingAddress())
}

func TestConfig_ReadOnly(t *testing.T) {
	cfg := config.New()
	require.NoError(t, cfg.Set(domain.KeyKeepIO, true))
	assert.True(t, cfg.GetBool(domain.KeyKeepIO))

	cfg.SetReadOnly()
	assert.ErrorIs(t, cfg.Set(domain.KeyKeepIO, false), domain.ErrReadOnlyConfig)
	assert.ErrorIs(t, cfg.Merge(map[string]any{"log": map[string]any{"level": "warn"}}), domain.ErrReadOnlyConfig)
	assert.True(t, cfg.GetBool(domain.KeyKeepIO))
}

func TestConfig_Conversions(t *testing.T) {
	cfg := config.New()
	require.NoError(t, cfg.Set("a.flag", "true"))
	require.NoError(t, cfg.Set("a.count", 3))
	require.NoError(t, cfg.Set("a.words", "one two"))

	assert.True(t, cfg.GetBool("a.flag"))
	assert.Equal(t, 3.0, cfg.GetFloat("a.count"))
	assert.Equal(t, "3", cfg.GetString("a.count"))
	assert.Equal(t, []string{"one", "two"}, cfg.GetStrings("a.words"))
	assert.Empty(t, cfg.GetString("missing"))
	assert.Contains(t, cfg.Keys(), "a.flag")
}
