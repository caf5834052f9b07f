package storage

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guild-achievements/internal/config"
	"github.com/guild-achievements/internal/docstore"
	"github.com/guild-achievements/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestOpenJSON(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.JSON.Path = filepath.Join(t.TempDir(), "achievements.json")

	backend, err := Open(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	defer backend.Close()

	assert.Equal(t, "json", backend.Name())
	_, ok := backend.(*docstore.JSONFile)
	assert.True(t, ok)
}

func TestOpenUnknownBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = "sqlite"

	_, err := Open(context.Background(), cfg, testLogger())
	assert.True(t, errors.Is(err, domain.ErrUnknownBackend))
}

func TestOpenMongoWithoutURI(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = config.BackendMongo

	_, err := Open(context.Background(), cfg, testLogger())
	assert.True(t, errors.Is(err, domain.ErrNoConnectionData))
}
