package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/guild-achievements/internal/domain"
)

// JSONFile stores the whole document in one JSON file. The file is read on
// every load and rewritten on every save.
type JSONFile struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewJSONFile creates a JSON file backend, creating the file as {} when missing
func NewJSONFile(path string, logger *slog.Logger) (*JSONFile, error) {
	if path == "" {
		return nil, domain.RequiredParameterMissing("json.path")
	}

	b := &JSONFile{path: path, logger: logger}
	if err := b.ensure(); err != nil {
		return nil, err
	}
	return b, nil
}

// Name returns the backend name
func (b *JSONFile) Name() string {
	return "json"
}

// Path returns the file the backend writes to
func (b *JSONFile) Path() string {
	return b.path
}

// Load returns the value stored under key
func (b *JSONFile) Load(ctx context.Context, key string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.read()
	if err != nil {
		return nil, false, err
	}
	value, ok := doc[key]
	return value, ok, nil
}

// LoadAll returns the whole document
func (b *JSONFile) LoadAll(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.read()
}

// Save replaces the value under key and rewrites the file
func (b *JSONFile) Save(ctx context.Context, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.read()
	if err != nil {
		return err
	}
	doc[key] = value
	return b.write(doc)
}

// Remove deletes key and rewrites the file when it existed
func (b *JSONFile) Remove(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.read()
	if err != nil {
		return false, err
	}
	if _, ok := doc[key]; !ok {
		return false, nil
	}
	delete(doc, key)
	return true, b.write(doc)
}

// Clear resets the file to {}
func (b *JSONFile) Clear(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.read()
	if err != nil && !errors.Is(err, domain.ErrStorageMalformed) {
		return false, err
	}
	if err == nil && len(doc) == 0 {
		return false, nil
	}
	return true, b.write(map[string]any{})
}

// Close is a no-op for the file backend
func (b *JSONFile) Close() error {
	return nil
}

// Check re-reads the file and reports whether it still parses as a JSON object
func (b *JSONFile) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.read()
	return err
}

func (b *JSONFile) ensure() error {
	_, err := os.Stat(b.path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking database file: %w", err)
	}

	if dir := filepath.Dir(b.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating database directory: %w", err)
		}
	}
	if err := os.WriteFile(b.path, []byte("{}"), 0o644); err != nil {
		return fmt.Errorf("creating database file: %w", err)
	}

	b.logger.Info("created database file", "path", b.path)
	return nil
}

func (b *JSONFile) read() (map[string]any, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := b.ensure(); err != nil {
			return nil, err
		}
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading database file: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, domain.StorageMalformed(b.path, err)
	}
	if doc == nil {
		// a literal null parses into a nil map
		return nil, domain.StorageMalformed(b.path, errors.New("document is not an object"))
	}
	return doc, nil
}

func (b *JSONFile) write(doc map[string]any) error {
	data, err := json.MarshalIndent(doc, "", "\t")
	if err != nil {
		return fmt.Errorf("encoding database file: %w", err)
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing database file: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("replacing database file: %w", err)
	}
	return nil
}
