// Package persist stores entity-store snapshots across restarts. A snapshot
// is an opaque JSON document saved under a per-store key.
package persist

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Load when no snapshot exists for the key
	ErrNotFound = errors.New("snapshot not found")
)

// Persister loads and saves snapshots
type Persister interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Nop discards every save and never finds anything
type Nop struct{}

func (Nop) Load(context.Context, string) ([]byte, error) { return nil, ErrNotFound }
func (Nop) Save(context.Context, string, []byte) error   { return nil }
func (Nop) Delete(context.Context, string) error         { return nil }

var _ Persister = Nop{}
