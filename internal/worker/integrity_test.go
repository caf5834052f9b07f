package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guild-achievements/internal/docstore"
	"github.com/guild-achievements/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

type failures struct {
	mu   sync.Mutex
	errs []error
}

func (f *failures) record(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

func (f *failures) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs)
}

func TestRunOnce_ValidFile(t *testing.T) {
	backend, err := docstore.NewJSONFile(filepath.Join(t.TempDir(), "db.json"), testLogger())
	require.NoError(t, err)

	var f failures
	w := NewIntegrityChecker(backend, time.Second, f.record, testLogger())

	assert.NoError(t, w.RunOnce(context.Background()))
	assert.Zero(t, f.count())
}

func TestRunOnce_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	backend, err := docstore.NewJSONFile(path, testLogger())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"G1": `), 0o644))

	var f failures
	w := NewIntegrityChecker(backend, time.Second, f.record, testLogger())

	err = w.RunOnce(context.Background())
	assert.True(t, errors.Is(err, domain.ErrStorageMalformed))
	assert.Equal(t, 1, f.count())
}

func TestStartStop_ReportsFailures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	backend, err := docstore.NewJSONFile(path, testLogger())
	require.NoError(t, err)

	var f failures
	w := NewIntegrityChecker(backend, 10*time.Millisecond, f.record, testLogger())

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())
	// a second start is a no-op
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))

	assert.Eventually(t, func() bool { return f.count() > 0 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop())
}

func TestStartStop_Restart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	backend, err := docstore.NewJSONFile(path, testLogger())
	require.NoError(t, err)

	var f failures
	w := NewIntegrityChecker(backend, 10*time.Millisecond, f.record, testLogger())

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())

	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))
	assert.Eventually(t, func() bool { return f.count() > 0 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
}
