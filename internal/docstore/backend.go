package docstore

import "context"

// Backend persists top-level documents. Each top-level key (a community ID)
// maps to one JSON-compatible value; nested paths are resolved by the Manager.
type Backend interface {
	// Name identifies the backend in logs
	Name() string
	// Load returns the value stored under key and whether it exists
	Load(ctx context.Context, key string) (any, bool, error)
	// LoadAll returns every top-level document
	LoadAll(ctx context.Context) (map[string]any, error)
	// Save replaces the value stored under key
	Save(ctx context.Context, key string, value any) error
	// Remove deletes key, reporting whether it existed
	Remove(ctx context.Context, key string) (bool, error)
	// Clear deletes everything, reporting whether anything was stored
	Clear(ctx context.Context) (bool, error)
	Close() error
}
