package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitKey(t *testing.T) {
	root, path, err := splitKey("G1.U1.progresses")
	require.NoError(t, err)
	assert.Equal(t, "G1", root)
	assert.Equal(t, []string{"U1", "progresses"}, path)

	root, path, err = splitKey("G1")
	require.NoError(t, err)
	assert.Equal(t, "G1", root)
	assert.Empty(t, path)

	_, _, err = splitKey("")
	assert.Error(t, err)
}

func TestAssignCreatesAndOverwritesIntermediates(t *testing.T) {
	doc := assign(nil, []string{"a", "b"}, 1.0)
	assert.Equal(t, map[string]any{"a": map[string]any{"b": 1.0}}, doc)

	// a scalar intermediate is replaced by an object
	doc = assign(map[string]any{"a": "scalar"}, []string{"a", "b"}, 2.0)
	assert.Equal(t, map[string]any{"a": map[string]any{"b": 2.0}}, doc)

	doc = assign(map[string]any{"a": 1.0}, nil, "root")
	assert.Equal(t, "root", doc)
}

func TestLookup(t *testing.T) {
	doc := map[string]any{"a": map[string]any{"b": 0.0, "list": []any{1.0}}}

	v, ok := lookup(doc, []string{"a", "b"})
	assert.True(t, ok)
	assert.Equal(t, 0.0, v)

	_, ok = lookup(doc, []string{"a", "missing", "deeper"})
	assert.False(t, ok)

	_, ok = lookup(doc, []string{"a", "list", "0"})
	assert.False(t, ok)
}

func TestRemove(t *testing.T) {
	doc := map[string]any{"a": map[string]any{"b": 1.0, "c": 2.0}}

	assert.True(t, remove(doc, []string{"a", "b"}))
	assert.Equal(t, map[string]any{"a": map[string]any{"c": 2.0}}, doc)

	assert.False(t, remove(doc, []string{"a", "b"}))
	assert.False(t, remove(doc, []string{"x", "y"}))
	// no intermediates are created for absent paths
	assert.NotContains(t, doc, "x")
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		value any
		want  bool
	}{
		{nil, false},
		{false, false},
		{0.0, false},
		{"", false},
		{true, true},
		{1.5, true},
		{"x", true},
		{[]any{}, true},
		{map[string]any{}, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, truthy(tt.value), "%#v", tt.value)
	}
}

func TestSplice(t *testing.T) {
	list := []any{"a", "b", "c"}

	tests := []struct {
		name   string
		start  int
		delete int
		items  []any
		want   []any
	}{
		{name: "remove middle", start: 1, delete: 1, want: []any{"a", "c"}},
		{name: "remove last by negative index", start: -1, delete: 1, want: []any{"a", "b"}},
		{name: "negative past start clamps to zero", start: -10, delete: 1, want: []any{"b", "c"}},
		{name: "index past end is no-op", start: 5, delete: 1, want: []any{"a", "b", "c"}},
		{name: "replace", start: 0, delete: 1, items: []any{"z"}, want: []any{"z", "b", "c"}},
		{name: "replace past end appends", start: 7, delete: 1, items: []any{"z"}, want: []any{"a", "b", "c", "z"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splice(list, tt.start, tt.delete, tt.items...)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, []any{"a", "b", "c"}, list, "input must not be modified")
		})
	}
}
