// Package kvstore provides the durable key-value slots the register engine
// persists its offline queue and learned tax rate into. Implementations must
// survive process restarts unless documented otherwise.
package kvstore

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by Get when no value is stored under the key.
var ErrKeyNotFound = errors.New("kvstore: key not found")

// Store persists string values under fixed keys. Values are opaque to the
// store; callers serialise their own payloads.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
