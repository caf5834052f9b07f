package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/guild-achievements/internal/domain"
)

// Name returns the backend name
func (r *Repository) Name() string {
	return "postgres"
}

// Load returns the document stored under key
func (r *Repository) Load(ctx context.Context, key string) (any, bool, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT value FROM achievement_documents WHERE key = $1`, key,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("getting document: %w", err)
	}

	value, err := decodeDocument(key, raw)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// LoadAll returns every stored document
func (r *Repository) LoadAll(ctx context.Context) (map[string]any, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, value FROM achievement_documents`)
	if err != nil {
		return nil, fmt.Errorf("getting all documents: %w", err)
	}
	defer rows.Close()

	docs := make(map[string]any)
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		value, err := decodeDocument(key, raw)
		if err != nil {
			return nil, err
		}
		docs[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// Save upserts the document stored under key
func (r *Repository) Save(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling document: %w", err)
	}

	query := `
		INSERT INTO achievement_documents (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key)
		DO UPDATE SET value = $2, updated_at = $3
	`
	if _, err := r.pool.Exec(ctx, query, key, data, time.Now()); err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

// Remove deletes the document stored under key
func (r *Repository) Remove(ctx context.Context, key string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM achievement_documents WHERE key = $1`, key)
	if err != nil {
		return false, fmt.Errorf("deleting document: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Clear deletes every stored document
func (r *Repository) Clear(ctx context.Context) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM achievement_documents`)
	if err != nil {
		return false, fmt.Errorf("clearing documents: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func decodeDocument(key string, raw []byte) (any, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, domain.StorageMalformed("postgres document "+key, err)
	}
	return value, nil
}
