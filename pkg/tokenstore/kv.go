package tokenstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by KV.Get when the key has no value.
var ErrNotFound = errors.New("tokenstore: key not found")

// KV is the durable key-value port backing the token store. Drivers live
// under drivers/ (memory, sqlite, redis). Values are opaque strings; the
// store layers all typing on top.
//
// There is no transactional guarantee across keys. SetTokens writes its keys
// in a fixed order and a crash mid-write can leave a partially updated
// record. That matches the behaviour this engine was specified against and
// is deliberately not papered over here.
type KV interface {
	// Get retrieves the value for key, or ErrNotFound when absent.
	Get(ctx context.Context, key string) (string, error)

	// Set writes the value for key, overwriting any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
