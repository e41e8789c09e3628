package events

import (
	"context"
	"fmt"
	"os"
	"time"
)

// ChangeFunc decides whether a detected file change resolves the event.
type ChangeFunc func(ctx context.Context, info os.FileInfo) (bool, error)

// FileModification fires when the watched file differs from the state seen at construction.
type FileModification struct {
	path      string
	frequency time.Duration
	size      int64
	modTime   time.Time
	onChange  ChangeFunc
}

// NewFileModification watches path. The file must exist.
func NewFileModification(path string, frequency time.Duration) (*FileModification, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("file modification event: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("file modification event: %s is not a regular file", path)
	}
	return &FileModification{
		path:      path,
		frequency: frequencyOrDefault(frequency),
		size:      info.Size(),
		modTime:   info.ModTime(),
	}, nil
}

// OnChange sets a hook consulted when a change is detected.
func (e *FileModification) OnChange(fn ChangeFunc) *FileModification {
	e.onChange = fn
	return e
}

// Path returns the watched file.
func (e *FileModification) Path() string { return e.path }

func (e *FileModification) Frequency() time.Duration { return e.frequency }

func (e *FileModification) Resolve(ctx context.Context, _ any) (bool, error) {
	info, err := os.Stat(e.path)
	if err != nil {
		return false, fmt.Errorf("file modification event: %w", err)
	}
	if info.Size() == e.size && info.ModTime().Equal(e.modTime) {
		return false, nil
	}
	if e.onChange == nil {
		return true, nil
	}
	return e.onChange(ctx, info)
}
