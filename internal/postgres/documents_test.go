package postgres

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guild-achievements/internal/config"
	"github.com/guild-achievements/internal/domain"
)

func TestDecodeDocument(t *testing.T) {
	value, err := decodeDocument("G1", []byte(`{"achievements":[{"id":1}],"U1":{"messages":2}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"achievements": []any{map[string]any{"id": 1.0}},
		"U1":           map[string]any{"messages": 2.0},
	}, value)

	_, err = decodeDocument("G1", []byte(`{"achievements":`))
	assert.True(t, errors.Is(err, domain.ErrStorageMalformed))
}

func TestNewRepositoryRequiresConnectionData(t *testing.T) {
	_, err := NewRepository(&config.PostgresConfig{Host: "localhost"}, nil)
	assert.True(t, errors.Is(err, domain.ErrNoConnectionData))
}
