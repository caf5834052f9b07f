package docstore

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guild-achievements/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	backend, err := NewJSONFile(filepath.Join(t.TempDir(), "achievements.json"), testLogger())
	require.NoError(t, err)
	return NewManager(backend, testLogger())
}

func TestManager_SetFetchRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	doc, err := m.Set(ctx, "G1.U1.name", "alice")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"U1": map[string]any{"name": "alice"}}, doc)

	v, err := m.Fetch(ctx, "G1.U1.name")
	require.NoError(t, err)
	assert.Equal(t, "alice", v)

	v, err = m.Get(ctx, "G1.U1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "alice"}, v)
}

func TestManager_FetchAbsentIsNil(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	v, err := m.Fetch(ctx, "nope.deeper.still")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = m.Fetch(ctx, "")
	assert.True(t, errors.Is(err, domain.ErrRequiredParameterMissing))
}

func TestManager_SetNilValue(t *testing.T) {
	_, err := newTestManager(t).Set(context.Background(), "G1.x", nil)
	assert.True(t, errors.Is(err, domain.ErrRequiredParameterMissing))
}

func TestManager_SetOverwritesScalarIntermediate(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.Set(ctx, "G1.a", 5)
	require.NoError(t, err)
	_, err = m.Set(ctx, "G1.a.b", true)
	require.NoError(t, err)

	v, err := m.Fetch(ctx, "G1.a")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"b": true}, v)
}

func TestManager_NormalizesStructs(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	entry := domain.ProgressEntry{AchievementID: 3, AchievementName: "Chatty", Progress: 40}
	_, err := m.Set(ctx, "G1.U1.entry", entry)
	require.NoError(t, err)

	v, err := m.Fetch(ctx, "G1.U1.entry")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"achievement_id": 3.0, "achievement_name": "Chatty", "progress": 40.0}, v)

	decoded, ok, err := FetchAs[domain.ProgressEntry](ctx, m, "G1.U1.entry")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, entry, decoded)
}

func TestManager_HasTreatsFalsyAsAbsent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.Set(ctx, "G1.zero", 0)
	require.NoError(t, err)
	_, err = m.Set(ctx, "G1.one", 1)
	require.NoError(t, err)

	has, err := m.Has(ctx, "G1.zero")
	require.NoError(t, err)
	assert.False(t, has)

	exists, err := m.Exists(ctx, "G1.zero")
	require.NoError(t, err)
	assert.True(t, exists)

	has, err = m.Includes(ctx, "G1.one")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = m.Has(ctx, "G1.missing")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestManager_Delete(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.Set(ctx, "G1.U1.a", 1)
	require.NoError(t, err)
	_, err = m.Set(ctx, "G1.U1.b", 2)
	require.NoError(t, err)

	doc, err := m.Delete(ctx, "G1.U1.a")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"U1": map[string]any{"b": 2.0}}, doc)

	// absent is a no-op
	_, err = m.Remove(ctx, "G1.U9.zzz")
	require.NoError(t, err)
	exists, err := m.Exists(ctx, "G1.U9")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = m.Delete(ctx, "G1")
	require.NoError(t, err)
	v, err := m.Fetch(ctx, "G1")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestManager_AddSubtract(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.Add(ctx, "G1.U1.messages", 5)
	require.NoError(t, err)
	v, err := m.Fetch(ctx, "G1.U1.messages")
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)

	_, err = m.Add(ctx, "G1.U1.messages", 2.9)
	require.NoError(t, err)
	_, err = m.Subtract(ctx, "G1.U1.messages", 3)
	require.NoError(t, err)

	v, err = m.Fetch(ctx, "G1.U1.messages")
	require.NoError(t, err)
	assert.Equal(t, 4.0, v)

	_, err = m.Set(ctx, "G1.U1.name", "abc")
	require.NoError(t, err)
	_, err = m.Add(ctx, "G1.U1.name", 1)
	assert.True(t, errors.Is(err, domain.ErrInvalidTargetType))
	_, err = m.Subtract(ctx, "G1.U1.name", 1)
	assert.True(t, errors.Is(err, domain.ErrInvalidTargetType))
}

func TestManager_PushPopPull(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	key := "G1.list"

	for _, v := range []string{"a", "b", "c"} {
		_, err := m.Push(ctx, key, v)
		require.NoError(t, err)
	}
	list, err := m.Fetch(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, list)

	_, err = m.Pull(ctx, key, 1, "B")
	require.NoError(t, err)
	list, err = m.Fetch(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "B", "c"}, list)

	_, err = m.Pop(ctx, key, 0)
	require.NoError(t, err)
	list, err = m.Fetch(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []any{"B", "c"}, list)

	_, err = m.Pop(ctx, key, 10)
	require.NoError(t, err)
	list, err = m.Fetch(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []any{"B", "c"}, list)

	_, err = m.Pop(ctx, key, -1)
	require.NoError(t, err)
	list, err = m.Fetch(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []any{"B"}, list)
}

func TestManager_ListOpsRejectNonLists(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.Set(ctx, "G1.scalar", 3)
	require.NoError(t, err)

	_, err = m.Push(ctx, "G1.scalar", 1)
	assert.True(t, errors.Is(err, domain.ErrInvalidTargetType))
	_, err = m.Pop(ctx, "G1.scalar", 0)
	assert.True(t, errors.Is(err, domain.ErrInvalidTargetType))
	_, err = m.Pull(ctx, "G1.scalar", 0, 1)
	assert.True(t, errors.Is(err, domain.ErrInvalidTargetType))
}

func TestManager_ListOpsOnAbsentKey(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.Pop(ctx, "G1.nothing", 0)
	require.NoError(t, err)
	value, err := m.Fetch(ctx, "G1.nothing")
	require.NoError(t, err)
	assert.Equal(t, []any{}, value)

	_, err = m.Pull(ctx, "G1.list", 0, "x")
	require.NoError(t, err)
	value, err = m.Fetch(ctx, "G1.list")
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, value)

	_, err = m.Pull(ctx, "G2.list", -1, "y")
	require.NoError(t, err)
	value, err = m.Fetch(ctx, "G2.list")
	require.NoError(t, err)
	assert.Equal(t, []any{"y"}, value)
}

func TestManager_KeysAllClear(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.Set(ctx, "G2.b", 1)
	require.NoError(t, err)
	_, err = m.Set(ctx, "G2.a", 2)
	require.NoError(t, err)
	_, err = m.Set(ctx, "G1.x", 3)
	require.NoError(t, err)
	_, err = m.Set(ctx, "empty", "")
	require.NoError(t, err)

	keys, err := m.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"G1", "G2"}, keys)

	keys, err = m.Keys(ctx, "G2")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	keys, err = m.Keys(ctx, "G2.a")
	require.NoError(t, err)
	assert.Empty(t, keys)

	all, err := m.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	cleared, err := m.Clear(ctx)
	require.NoError(t, err)
	assert.True(t, cleared)

	cleared, err = m.Clear(ctx)
	require.NoError(t, err)
	assert.False(t, cleared)
}

func TestManager_ConcurrentAddsAreSerialized(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Add(ctx, "G1.counter", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	v, err := m.Fetch(ctx, "G1.counter")
	require.NoError(t, err)
	assert.Equal(t, 20.0, v)
}

func TestDecodeInvalidType(t *testing.T) {
	_, err := Decode[domain.ProgressEntry]("not an object")
	assert.True(t, errors.Is(err, domain.ErrInvalidType))
}
