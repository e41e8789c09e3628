package offload

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/aretw0/flows/pkg/domain"
	"github.com/google/uuid"
)

const fieldSep = "|"

// NewTerminator returns a random end-of-stream sentinel for one batch.
func NewTerminator() string {
	id := uuid.New()
	return "---" + strings.ReplaceAll(id.String(), "-", "") + "---"
}

// SpawnLine is the single line a worker receives on stdin.
type SpawnLine struct {
	Name       string
	Terminator string
	RootDir    string
	Payload    string
}

// String formats the line, without the trailing newline.
func (l SpawnLine) String() string {
	return strings.Join([]string{l.Name, l.Terminator, l.RootDir, l.Payload}, fieldSep)
}

// Validate rejects fields that would break the framing.
func (l SpawnLine) Validate() error {
	for _, f := range []struct{ name, value string }{
		{"name", l.Name},
		{"terminator", l.Terminator},
		{"root dir", l.RootDir},
	} {
		if strings.ContainsAny(f.value, "|\n") {
			return fmt.Errorf("%w: %s %q contains a separator", domain.ErrProtocolViolation, f.name, f.value)
		}
	}
	if l.Name == "" || l.Terminator == "" {
		return fmt.Errorf("%w: empty name or terminator", domain.ErrProtocolViolation)
	}
	return nil
}

// ParseSpawnLine parses a line produced by SpawnLine.String.
func ParseSpawnLine(line string) (SpawnLine, error) {
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), fieldSep, 4)
	if len(parts) != 4 {
		return SpawnLine{}, fmt.Errorf("%w: spawn line has %d fields", domain.ErrProtocolViolation, len(parts))
	}
	l := SpawnLine{Name: parts[0], Terminator: parts[1], RootDir: parts[2], Payload: parts[3]}
	if err := l.Validate(); err != nil {
		return SpawnLine{}, err
	}
	return l, nil
}

// lineBuffer splits a byte stream into lines.
type lineBuffer struct {
	buf bytes.Buffer
}

// feed appends data and returns every complete line, without its newline.
func (b *lineBuffer) feed(data []byte) []string {
	b.buf.Write(data)
	var lines []string
	for {
		i := bytes.IndexByte(b.buf.Bytes(), '\n')
		if i < 0 {
			return lines
		}
		line := string(b.buf.Next(i + 1))
		lines = append(lines, strings.TrimRight(line, "\r\n"))
	}
}

// rest returns a trailing unterminated line, if any, and empties the buffer.
func (b *lineBuffer) rest() string {
	s := b.buf.String()
	b.buf.Reset()
	return s
}
