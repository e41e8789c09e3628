package events

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/aretw0/flows/pkg/reactor"
	"golang.org/x/sys/unix"
)

// PipeRead fires when a named pipe becomes readable and its hook agrees.
// The pipe is opened without blocking, so no writer needs to be connected yet.
type PipeRead struct {
	path   string
	read   ReadFunc
	file   *os.File
	stream reactor.Stream
	once   sync.Once
	err    error
}

// NewPipeRead watches the FIFO at path.
func NewPipeRead(path string, read ReadFunc) (*PipeRead, error) {
	if !isFIFO(path) {
		return nil, fmt.Errorf("pipe read event: %s is not a named pipe", path)
	}
	return &PipeRead{path: path, read: read}, nil
}

func (e *PipeRead) Stream() (reactor.Stream, error) {
	if e.stream != nil {
		return e.stream, nil
	}
	f, err := os.OpenFile(e.path, os.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("pipe read event: %w", err)
	}
	s, err := reactor.Conn(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pipe read event: %w", err)
	}
	e.file, e.stream = f, s
	return s, nil
}

func (e *PipeRead) Resolve(ctx context.Context, _ any) (bool, error) {
	if e.read == nil {
		return true, nil
	}
	return e.read(ctx, e.file)
}

// Healthy reports whether the path is still a named pipe.
func (e *PipeRead) Healthy(context.Context) bool {
	return isFIFO(e.path)
}

func (e *PipeRead) Close() error {
	e.once.Do(func() {
		if e.file != nil {
			e.err = e.file.Close()
		}
	})
	return e.err
}

func isFIFO(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode()&os.ModeNamedPipe != 0
}
