package flow

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"fmt"

	"github.com/aretw0/flows/pkg/domain"
)

// envelope wraps an IO value so that nil and interface values encode uniformly.
type envelope struct {
	Value IO
}

// MarshalIO encodes v with encoding/gob.
func MarshalIO(v IO) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(envelope{Value: v}); err != nil {
		return nil, fmt.Errorf("failed to encode io: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalIO decodes a value produced by MarshalIO.
func UnmarshalIO(data []byte) (IO, error) {
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocolViolation, err)
	}
	return env.Value, nil
}

// EncodeIO encodes v as a single base64 line, the payload format of the worker protocol.
func EncodeIO(v IO) (string, error) {
	data, err := MarshalIO(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeIO decodes a payload line produced by EncodeIO.
// Anything that is not an encoded envelope is a protocol violation.
func DecodeIO(line string) (IO, error) {
	data, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProtocolViolation, err)
	}
	return UnmarshalIO(data)
}
