package events

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/aretw0/flows/pkg/reactor"
)

// ReadFunc decides whether the readable file resolves the event. It usually reads from f.
type ReadFunc func(ctx context.Context, f *os.File) (bool, error)

// StreamRead fires when an open file becomes readable and its hook agrees.
// A nil hook resolves on the first readiness.
type StreamRead struct {
	file   *os.File
	read   ReadFunc
	stream reactor.Stream
	once   sync.Once
	err    error
}

// NewStreamRead wraps f. The event owns f and closes it on Close.
func NewStreamRead(f *os.File, read ReadFunc) *StreamRead {
	return &StreamRead{file: f, read: read}
}

func (e *StreamRead) Stream() (reactor.Stream, error) {
	if e.stream == nil {
		s, err := reactor.Conn(e.file)
		if err != nil {
			return nil, fmt.Errorf("stream read event: %w", err)
		}
		e.stream = s
	}
	return e.stream, nil
}

func (e *StreamRead) Resolve(ctx context.Context, _ any) (bool, error) {
	if e.read == nil {
		return true, nil
	}
	return e.read(ctx, e.file)
}

// Healthy reports whether the file is still open.
func (e *StreamRead) Healthy(context.Context) bool {
	_, err := e.file.Stat()
	return err == nil
}

func (e *StreamRead) Close() error {
	e.once.Do(func() {
		e.err = e.file.Close()
	})
	return e.err
}
