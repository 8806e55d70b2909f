// Package storage provides the durable client-side slots the session is
// persisted into. A slot is a named string value that survives restarts.
package storage

import (
	"context"
	"errors"
)

// Slot names used by the session.
const (
	TokenSlot    = "authToken"
	IdentitySlot = "authUser"
)

var ErrClosed = errors.New("storage closed")

// Store is a small durable key/value store of strings.
type Store interface {
	// Get returns the slot value and whether it was present.
	Get(ctx context.Context, slot string) (string, bool, error)
	Set(ctx context.Context, slot, value string) error
	// Delete removes the slots. Missing slots are not an error.
	Delete(ctx context.Context, slots ...string) error
	Close() error
}
