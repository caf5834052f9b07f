package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/guild-achievements/internal/domain"
)

// Manager provides dotted-path CRUD over a Backend. The first segment of
// every key selects a top-level document; the rest is walked inside it.
// Mutations on one top-level document are serialized.
type Manager struct {
	backend Backend
	logger  *slog.Logger
	locks   *KeyedMutex
}

// NewManager creates a new document manager over backend
func NewManager(backend Backend, logger *slog.Logger) *Manager {
	return &Manager{
		backend: backend,
		logger:  logger,
		locks:   NewKeyedMutex(),
	}
}

// Backend returns the underlying storage backend
func (m *Manager) Backend() Backend {
	return m.backend
}

// Close closes the underlying backend
func (m *Manager) Close() error {
	return m.backend.Close()
}

// Fetch returns the value at key, or nil when any segment is absent
func (m *Manager) Fetch(ctx context.Context, key string) (any, error) {
	value, _, err := m.fetch(ctx, key)
	return value, err
}

// Get is an alias for Fetch
func (m *Manager) Get(ctx context.Context, key string) (any, error) {
	return m.Fetch(ctx, key)
}

// Has reports whether the value at key is truthy. Stored 0, "" and false
// read as absent; use Exists to tell them apart from a missing key.
func (m *Manager) Has(ctx context.Context, key string) (bool, error) {
	value, err := m.Fetch(ctx, key)
	if err != nil {
		return false, err
	}
	return truthy(value), nil
}

// Includes is an alias for Has
func (m *Manager) Includes(ctx context.Context, key string) (bool, error) {
	return m.Has(ctx, key)
}

// Exists reports whether any value, including null, is stored at key
func (m *Manager) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := m.fetch(ctx, key)
	return ok, err
}

// Set stores value at key, creating intermediate objects as needed.
// It returns the updated top-level document.
func (m *Manager) Set(ctx context.Context, key string, value any) (any, error) {
	if value == nil {
		return nil, domain.RequiredParameterMissing("value")
	}
	return m.Update(ctx, key, func(any, bool) (any, error) {
		return value, nil
	})
}

// Delete removes the value at key. Absent keys are a no-op.
// It returns the updated top-level document.
func (m *Manager) Delete(ctx context.Context, key string) (any, error) {
	root, path, err := splitKey(key)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(root)
	defer unlock()

	if len(path) == 0 {
		if _, err := m.backend.Remove(ctx, root); err != nil {
			return nil, fmt.Errorf("deleting %s: %w", key, err)
		}
		return nil, nil
	}

	doc, found, err := m.backend.Load(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", root, err)
	}
	if !found || !remove(doc, path) {
		return doc, nil
	}
	if err := m.backend.Save(ctx, root, doc); err != nil {
		return nil, fmt.Errorf("saving %s: %w", root, err)
	}
	return doc, nil
}

// Remove is an alias for Delete
func (m *Manager) Remove(ctx context.Context, key string) (any, error) {
	return m.Delete(ctx, key)
}

// Add adds n to the number at key, treating an absent value as 0.
// Both operands are truncated to integers.
func (m *Manager) Add(ctx context.Context, key string, n float64) (any, error) {
	return m.addNumber(ctx, key, n)
}

// Subtract subtracts n from the number at key, treating an absent value as 0.
// Both operands are truncated to integers.
func (m *Manager) Subtract(ctx context.Context, key string, n float64) (any, error) {
	return m.addNumber(ctx, key, -n)
}

func (m *Manager) addNumber(ctx context.Context, key string, n float64) (any, error) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, domain.InvalidValue("value", "must be a finite number")
	}
	return m.Update(ctx, key, func(current any, _ bool) (any, error) {
		if current == nil {
			current = 0.0
		}
		number, ok := current.(float64)
		if !ok {
			return nil, domain.InvalidTargetType(key, "a number", current)
		}
		return math.Trunc(number) + math.Trunc(n), nil
	})
}

// Push appends value to the list at key, treating an absent value as an empty list
func (m *Manager) Push(ctx context.Context, key string, value any) (any, error) {
	if value == nil {
		return nil, domain.RequiredParameterMissing("value")
	}
	normalized, err := Normalize(value)
	if err != nil {
		return nil, err
	}
	return m.Update(ctx, key, func(current any, _ bool) (any, error) {
		list, err := asList(key, current)
		if err != nil {
			return nil, err
		}
		return append(list, normalized), nil
	})
}

// Pop removes the element at index from the list at key. A negative index
// counts from the end; an index past the end leaves the list unchanged. An
// absent value is stored as an empty list.
func (m *Manager) Pop(ctx context.Context, key string, index int) (any, error) {
	return m.modifyList(ctx, key, func(list []any) []any {
		return splice(list, index, 1)
	})
}

// Pull replaces the element at index in the list at key with value. An index
// past the end, or an absent list, appends value.
func (m *Manager) Pull(ctx context.Context, key string, index int, value any) (any, error) {
	if value == nil {
		return nil, domain.RequiredParameterMissing("value")
	}
	normalized, err := Normalize(value)
	if err != nil {
		return nil, err
	}
	return m.modifyList(ctx, key, func(list []any) []any {
		return splice(list, index, 1, normalized)
	})
}

func (m *Manager) modifyList(ctx context.Context, key string, fn func([]any) []any) (any, error) {
	return m.Update(ctx, key, func(current any, _ bool) (any, error) {
		list, err := asList(key, current)
		if err != nil {
			return nil, err
		}
		return fn(list), nil
	})
}

// Update runs fn on the current value at key and stores its result, holding
// the lock for the top-level document throughout. fn receives nil and false
// for an absent key.
func (m *Manager) Update(ctx context.Context, key string, fn func(current any, exists bool) (any, error)) (any, error) {
	return m.mutate(ctx, key, func(current any, exists bool) (any, bool, error) {
		next, err := fn(current, exists)
		if err != nil {
			return nil, false, err
		}
		if next == nil {
			return nil, false, domain.RequiredParameterMissing("value")
		}
		normalized, err := Normalize(next)
		if err != nil {
			return nil, false, err
		}
		return normalized, true, nil
	})
}

func (m *Manager) mutate(ctx context.Context, key string, fn func(current any, exists bool) (any, bool, error)) (any, error) {
	root, path, err := splitKey(key)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(root)
	defer unlock()

	doc, found, err := m.backend.Load(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", root, err)
	}

	current, ok := lookup(doc, path)
	next, changed, err := fn(current, found && ok)
	if err != nil {
		return nil, err
	}
	if !changed {
		return doc, nil
	}

	doc = assign(doc, path, next)
	if err := m.backend.Save(ctx, root, doc); err != nil {
		return nil, fmt.Errorf("saving %s: %w", root, err)
	}

	m.logger.Debug("document updated", "backend", m.backend.Name(), "key", key)
	return doc, nil
}

// Keys lists the keys of the object at prefix in sorted order. An empty
// prefix lists top-level keys holding a truthy value. Absent or non-object
// values yield an empty list.
func (m *Manager) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	if prefix == "" {
		all, err := m.All(ctx)
		if err != nil {
			return nil, err
		}
		for key, value := range all {
			if truthy(value) {
				keys = append(keys, key)
			}
		}
	} else {
		value, err := m.Fetch(ctx, prefix)
		if err != nil {
			return nil, err
		}
		object, ok := value.(map[string]any)
		if !ok {
			return []string{}, nil
		}
		for key := range object {
			keys = append(keys, key)
		}
	}

	if keys == nil {
		return []string{}, nil
	}
	sort.Strings(keys)
	return keys, nil
}

// All returns every top-level document
func (m *Manager) All(ctx context.Context) (map[string]any, error) {
	all, err := m.backend.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading all documents: %w", err)
	}
	return all, nil
}

// Clear removes every document and reports whether anything was stored
func (m *Manager) Clear(ctx context.Context) (bool, error) {
	cleared, err := m.backend.Clear(ctx)
	if err != nil {
		return false, fmt.Errorf("clearing documents: %w", err)
	}
	if cleared {
		m.logger.Info("document store cleared", "backend", m.backend.Name())
	}
	return cleared, nil
}

func (m *Manager) fetch(ctx context.Context, key string) (any, bool, error) {
	root, path, err := splitKey(key)
	if err != nil {
		return nil, false, err
	}

	doc, found, err := m.backend.Load(ctx, root)
	if err != nil {
		return nil, false, fmt.Errorf("loading %s: %w", root, err)
	}
	if !found {
		return nil, false, nil
	}
	value, ok := lookup(doc, path)
	return value, ok, nil
}

func asList(key string, value any) ([]any, error) {
	if value == nil {
		return []any{}, nil
	}
	list, ok := value.([]any)
	if !ok {
		return nil, domain.InvalidTargetType(key, "an array", value)
	}
	return list, nil
}

// Normalize converts value to its plain JSON representation so every
// backend stores and returns the same shapes.
func Normalize(value any) (any, error) {
	switch value.(type) {
	case nil, bool, float64, string:
		return value, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, domain.NewAchievementsError(domain.ErrCodeInvalidType, "value is not JSON serializable", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, domain.NewAchievementsError(domain.ErrCodeInvalidType, "value is not JSON serializable", err)
	}
	return out, nil
}

// Decode converts a normalized value into T
func Decode[T any](value any) (T, error) {
	var out T
	data, err := json.Marshal(value)
	if err != nil {
		return out, domain.NewAchievementsError(domain.ErrCodeInvalidType, "encoding stored value", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, domain.NewAchievementsError(domain.ErrCodeInvalidType,
			fmt.Sprintf("stored value is not a %T", out), err)
	}
	return out, nil
}

// FetchAs fetches key and decodes it into T. Absent keys return the zero value and false.
func FetchAs[T any](ctx context.Context, m *Manager, key string) (T, bool, error) {
	var zero T
	value, err := m.Fetch(ctx, key)
	if err != nil {
		return zero, false, err
	}
	if value == nil {
		return zero, false, nil
	}
	out, err := Decode[T](value)
	if err != nil {
		return zero, false, err
	}
	return out, true, nil
}
