// Package secret defines the durable credential store contract used by the
// session manager and provides a file-backed implementation for hosts without
// a native secret storage facility. All token state and pending authentication
// entries live behind this interface; no other component writes to the
// auth-prefixed keys.
package secret

import "context"

// Store is an opaque, durable key-value store holding tokens and pending
// authentication state, keyed by string. Inside the VS Code extension host the
// implementation is the host's encrypted SecretStorage; the CLI uses the
// FileStore in this package.
type Store interface {
	// Get returns the value for key, or the empty string when the key is
	// absent. Absence is not an error.
	Get(ctx context.Context, key string) (string, error)

	// Set writes the value for key, overwriting any existing value.
	Set(ctx context.Context, key, value string) error

	// Delete removes the key. Deleting an absent key is a no-op, not an error.
	Delete(ctx context.Context, key string) error
}

// KeyLister is an optional extension implemented by stores that can enumerate
// their keys. The session manager probes for it to sweep abandoned pending
// authentication entries left behind by earlier processes.
type KeyLister interface {
	Keys(ctx context.Context) ([]string, error)
}
