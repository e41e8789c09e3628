package offload_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aretw0/flows/pkg/flow"
	"github.com/aretw0/flows/pkg/offload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spawnLine(t *testing.T, name, terminator string, in flow.IO) string {
	t.Helper()
	payload, err := flow.EncodeIO(in)
	require.NoError(t, err)
	return offload.SpawnLine{Name: name, Terminator: terminator, Payload: payload}.String() + "\n"
}

func TestServeWorker_Result(t *testing.T) {
	var stdout, stderr bytes.Buffer
	stdin := strings.NewReader(spawnLine(t, "upper", "---end---", "hello"))

	err := offload.ServeWorker(context.Background(), stdin, &stdout, &stderr, testWorker)
	require.NoError(t, err)
	assert.Empty(t, stderr.String())

	lines := strings.Split(strings.TrimSuffix(stdout.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "---end---", lines[1])

	v, err := flow.DecodeIO(lines[0])
	require.NoError(t, err)
	assert.Equal(t, "HELLO", v)
}

func TestServeWorker_Failure(t *testing.T) {
	var stdout, stderr bytes.Buffer
	stdin := strings.NewReader(spawnLine(t, "fail", "---end---", "x"))

	err := offload.ServeWorker(context.Background(), stdin, &stdout, &stderr, testWorker)
	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, stdout.String())
	assert.True(t, strings.HasSuffix(stderr.String(), "---end---\n"))
	assert.Contains(t, stderr.String(), "fail: boom")
}

func TestServeWorker_BadSpawnLine(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := offload.ServeWorker(context.Background(), strings.NewReader("garbage\n"), &stdout, &stderr,
		func(context.Context, string, flow.IO) (flow.IO, error) {
			return nil, errors.New("must not run")
		})
	assert.Error(t, err)
	assert.Empty(t, stdout.String())
	assert.NotEmpty(t, stderr.String())
}
