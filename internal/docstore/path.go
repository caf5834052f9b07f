package docstore

import (
	"strings"

	"github.com/guild-achievements/internal/domain"
)

// Separator splits a key into nested segments
const Separator = "."

// splitKey validates key and returns its root segment and the remaining path
func splitKey(key string) (string, []string, error) {
	if key == "" {
		return "", nil, domain.RequiredParameterMissing("key")
	}
	segments := strings.Split(key, Separator)
	return segments[0], segments[1:], nil
}

// Join builds a dotted key from its segments
func Join(segments ...string) string {
	return strings.Join(segments, Separator)
}

// lookup walks path below node. Any missing or non-object intermediate yields (nil, false).
func lookup(node any, path []string) (any, bool) {
	current := node
	for _, segment := range path {
		object, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = object[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// assign stores value at path below node and returns the new node. Missing or
// non-object intermediates are replaced by empty objects.
func assign(node any, path []string, value any) any {
	if len(path) == 0 {
		return value
	}
	object, ok := node.(map[string]any)
	if !ok {
		object = make(map[string]any)
	}
	object[path[0]] = assign(object[path[0]], path[1:], value)
	return object
}

// remove deletes the final segment of path below node. It reports whether
// anything was removed and never creates intermediates.
func remove(node any, path []string) bool {
	if len(path) == 0 {
		return false
	}
	parent, ok := lookup(node, path[:len(path)-1])
	if !ok {
		return false
	}
	object, ok := parent.(map[string]any)
	if !ok {
		return false
	}
	last := path[len(path)-1]
	if _, exists := object[last]; !exists {
		return false
	}
	delete(object, last)
	return true
}

// truthy mirrors the loose truthiness the store has always used for Has
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

// splice removes deleteCount elements at start, optionally inserting items,
// with array splice index rules: negative start counts from the end and is
// clamped to zero, start past the end is clamped to the length.
func splice(list []any, start, deleteCount int, items ...any) []any {
	n := len(list)
	if start < 0 {
		start += n
		if start < 0 {
			start = 0
		}
	}
	if start > n {
		start = n
	}
	if deleteCount > n-start {
		deleteCount = n - start
	}
	if deleteCount < 0 {
		deleteCount = 0
	}

	out := make([]any, 0, n-deleteCount+len(items))
	out = append(out, list[:start]...)
	out = append(out, items...)
	out = append(out, list[start+deleteCount:]...)
	return out
}
