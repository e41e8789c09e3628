package logging_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/aretw0/flows/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, slog.LevelInfo, logging.FormatJSON)

	logger.Debug("hidden")
	logger.Info("visible", "error", errors.New("boom"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "visible", line["msg"])
	assert.Equal(t, "boom", line["err"])
	assert.NotContains(t, line, "error")
}

func TestParseLevel(t *testing.T) {
	level, err := logging.ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)

	level, err = logging.ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	_, err = logging.ParseLevel("loud")
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := logging.ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, logging.FormatJSON, f)

	f, err = logging.ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, logging.FormatText, f)

	_, err = logging.ParseFormat("xml")
	assert.Error(t, err)
}
