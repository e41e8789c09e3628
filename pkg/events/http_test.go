package events_test

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/flows/pkg/adapters/httprelay"
	"github.com/aretw0/flows/pkg/events"
	"github.com/aretw0/flows/pkg/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRelay(t *testing.T) (*httprelay.Server, *httprelay.Client) {
	t.Helper()
	dir, err := os.MkdirTemp("", "evrelay")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	cmdSocket := filepath.Join(dir, "cmd.sock")
	s := httprelay.NewServer(httprelay.WithAddress("127.0.0.1:0"), httprelay.WithCommandSocket(cmdSocket))
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	c := httprelay.NewClient(cmdSocket, s.Addr())
	require.Eventually(t, func() bool {
		_, err := c.Ping(context.Background())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	return s, c
}

func TestHTTPRequest(t *testing.T) {
	s, client := startRelay(t)

	var seen []string
	ev := events.NewHTTPRequest(client, "/approve", func(_ context.Context, req *events.Request) (bool, error) {
		seen = append(seen, req.Method)
		if req.Method == http.MethodGet {
			return req.TryAgain(409, "fail", "post the approval")
		}
		return true, nil
	}, events.WithMethods(http.MethodGet, http.MethodPost))

	codes := make(chan int, 2)
	go func() {
		for deadline := time.Now().Add(2 * time.Second); !s.Registered("/approve") && time.Now().Before(deadline); {
			time.Sleep(5 * time.Millisecond)
		}
		base := "http://" + s.Addr() + "/approve"
		for _, send := range []func() (*http.Response, error){
			func() (*http.Response, error) { return http.Get(base) },
			func() (*http.Response, error) {
				return http.Post(base, "application/json", strings.NewReader(`{"ok": true}`))
			},
		} {
			resp, err := send()
			if err != nil {
				codes <- 0
				continue
			}
			resp.Body.Close()
			codes <- resp.StatusCode
		}
	}()

	gate := flow.NewEventGate(
		func(_ context.Context, g *flow.EventGate) error { return g.PushEvent(ev) },
		func(context.Context, flow.GateEvent, flow.IO) (string, error) { return "", nil },
		flow.WithTimeout(5*time.Second),
	)
	ctx := context.Background()
	require.NoError(t, gate.Register(ctx))
	assert.True(t, gate.HasHTTPEvents())
	require.NoError(t, gate.WaitForEvent(ctx))
	assert.Same(t, ev, gate.Winner())
	assert.Equal(t, []string{http.MethodGet, http.MethodPost}, seen)
	assert.Equal(t, http.StatusBadRequest, <-codes)
	assert.Equal(t, http.StatusAccepted, <-codes)
	assert.True(t, ev.Healthy(ctx))

	socket := ev.Socket()
	gate.CleanUp(false)
	assert.False(t, s.Registered("/approve"))
	_, err := os.Stat(socket)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, ev.Close())
}

func TestHTTPRequest_RegisterFailure(t *testing.T) {
	s, client := startRelay(t)
	require.True(t, s.Execute(httprelay.Command{Command: "register", Path: "/taken", ExternalProcessID: "other", Timeout: 60}).Ok)

	ev := events.NewHTTPRequest(client, "/taken", nil)
	_, err := ev.Stream()
	assert.Error(t, err)
	assert.Empty(t, ev.Socket())
	assert.NoError(t, ev.Close())
}
