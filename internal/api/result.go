package api

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Shape tells which form a successful reply arrived in.
type Shape int

const (
	// ShapeEmpty is a reply with no body (204 and friends).
	ShapeEmpty Shape = iota
	// ShapeRaw is a reply that is not wrapped in an envelope.
	ShapeRaw
	// ShapeList is a bare JSON array.
	ShapeList
	// ShapeEnvelope is {data, message?, success?}.
	ShapeEnvelope
)

func (s Shape) String() string {
	switch s {
	case ShapeRaw:
		return "raw"
	case ShapeList:
		return "list"
	case ShapeEnvelope:
		return "envelope"
	default:
		return "empty"
	}
}

// Result is a decoded reply. Data always holds the payload with the envelope
// already stripped.
type Result struct {
	Shape   Shape
	Data    json.RawMessage
	Message string
	Success *bool
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Success *bool           `json:"success"`
}

// Decode resolves the reply shape once so callers never re-inspect it.
func Decode(raw []byte) (Result, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Result{Shape: ShapeEmpty}, nil
	}
	if !json.Valid(trimmed) {
		return Result{}, fmt.Errorf("reply is not valid JSON")
	}
	switch trimmed[0] {
	case '[':
		return Result{Shape: ShapeList, Data: trimmed}, nil
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return Result{}, err
		}
		if _, ok := fields["data"]; !ok {
			return Result{Shape: ShapeRaw, Data: trimmed}, nil
		}
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return Result{}, err
		}
		return Result{Shape: ShapeEnvelope, Data: env.Data, Message: env.Message, Success: env.Success}, nil
	default:
		return Result{Shape: ShapeRaw, Data: trimmed}, nil
	}
}

// Into decodes the payload into out. An empty or null payload leaves out
// untouched.
func (r Result) Into(out any) error {
	if out == nil || isNull(r.Data) {
		return nil
	}
	if err := json.Unmarshal(r.Data, out); err != nil {
		return fmt.Errorf("decode %s reply: %w", r.Shape, err)
	}
	return nil
}

// List returns the payload when it is list-shaped: either a JSON array, or an
// object whose own data field is an array (paginated replies). ok is false for
// anything else.
func (r Result) List() (json.RawMessage, bool) {
	if isArray(r.Data) {
		return r.Data, true
	}
	if len(r.Data) > 0 && r.Data[0] == '{' {
		var inner struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(r.Data, &inner); err == nil && isArray(inner.Data) {
			return inner.Data, true
		}
	}
	return nil, false
}

func isNull(b json.RawMessage) bool {
	b = bytes.TrimSpace(b)
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}

func isArray(b json.RawMessage) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '['
}
