package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/guild-achievements/internal/config"
	"github.com/guild-achievements/internal/domain"
)

// DocumentStore keeps every top-level document as one field of a Redis hash,
// holding the JSON encoding of the document.
type DocumentStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewDocumentStore creates a new Redis document backend
func NewDocumentStore(cfg *config.RedisConfig, logger *slog.Logger) (*DocumentStore, error) {
	if cfg.Addr == "" {
		return nil, domain.NoConnectionData("redis")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	logger.Info("connected to redis", "addr", cfg.Addr, "prefix", cfg.KeyPrefix)

	return &DocumentStore{
		client: client,
		prefix: cfg.KeyPrefix,
		logger: logger,
	}, nil
}

// Name returns the backend name
func (s *DocumentStore) Name() string {
	return "redis"
}

// Close closes the Redis connection
func (s *DocumentStore) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client
func (s *DocumentStore) Client() *redis.Client {
	return s.client
}

// documentsKey returns the Redis key of the hash holding all documents
func documentsKey(prefix string) string {
	return fmt.Sprintf("%s:documents", prefix)
}

// Load returns the document stored under key
func (s *DocumentStore) Load(ctx context.Context, key string) (any, bool, error) {
	raw, err := s.client.HGet(ctx, documentsKey(s.prefix), key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("getting document: %w", err)
	}

	value, err := decodeValue(key, raw)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// LoadAll returns every document in the hash
func (s *DocumentStore) LoadAll(ctx context.Context) (map[string]any, error) {
	result, err := s.client.HGetAll(ctx, documentsKey(s.prefix)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting all documents: %w", err)
	}

	docs := make(map[string]any, len(result))
	for key, raw := range result {
		value, err := decodeValue(key, raw)
		if err != nil {
			return nil, err
		}
		docs[key] = value
	}
	return docs, nil
}

// Save replaces the document stored under key
func (s *DocumentStore) Save(ctx context.Context, key string, value any) error {
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, documentsKey(s.prefix), key, raw).Err(); err != nil {
		return fmt.Errorf("setting document: %w", err)
	}
	return nil
}

// Remove deletes the document stored under key
func (s *DocumentStore) Remove(ctx context.Context, key string) (bool, error) {
	removed, err := s.client.HDel(ctx, documentsKey(s.prefix), key).Result()
	if err != nil {
		return false, fmt.Errorf("deleting document: %w", err)
	}
	return removed > 0, nil
}

// Clear deletes the whole hash
func (s *DocumentStore) Clear(ctx context.Context) (bool, error) {
	key := documentsKey(s.prefix)

	pipe := s.client.TxPipeline()
	lenCmd := pipe.HLen(ctx, key)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("clearing documents: %w", err)
	}

	count := lenCmd.Val()
	s.logger.Debug("cleared redis documents", "count", count)
	return count > 0, nil
}

func encodeValue(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encoding document: %w", err)
	}
	return string(data), nil
}

func decodeValue(key, raw string) (any, error) {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, domain.StorageMalformed("redis field "+key, err)
	}
	return value, nil
}
