package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/guild-achievements/internal/config"
	"github.com/guild-achievements/internal/domain"
)

// DocumentStore keeps every top-level document in its own MongoDB document
// shaped {_id: <key>, value: <document>}.
type DocumentStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *slog.Logger
}

// entry is the JSON view of a stored document after relaxed extended JSON conversion
type entry struct {
	ID    string `json:"_id"`
	Value any    `json:"value"`
}

// NewDocumentStore connects to MongoDB and returns a document backend
func NewDocumentStore(ctx context.Context, cfg *config.MongoConfig, logger *slog.Logger) (*DocumentStore, error) {
	if cfg.URI == "" {
		return nil, domain.NoConnectionData("mongodb")
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	logger.Info("connected to mongodb", "database", cfg.Database, "collection", cfg.Collection)

	return &DocumentStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		logger:     logger,
	}, nil
}

// Name returns the backend name
func (s *DocumentStore) Name() string {
	return "mongodb"
}

// Close disconnects from MongoDB
func (s *DocumentStore) Close() error {
	return s.client.Disconnect(context.Background())
}

// Load returns the document stored under key
func (s *DocumentStore) Load(ctx context.Context, key string) (any, bool, error) {
	raw, err := s.collection.FindOne(ctx, bson.M{"_id": key}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("finding document: %w", err)
	}

	e, err := decodeEntry(raw)
	if err != nil {
		return nil, false, err
	}
	return e.Value, true, nil
}

// LoadAll returns every document in the collection
func (s *DocumentStore) LoadAll(ctx context.Context) (map[string]any, error) {
	cur, err := s.collection.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("finding documents: %w", err)
	}
	defer cur.Close(ctx)

	docs := make(map[string]any)
	for cur.Next(ctx) {
		e, err := decodeEntry(cur.Current)
		if err != nil {
			return nil, err
		}
		docs[e.ID] = e.Value
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// Save upserts the document stored under key
func (s *DocumentStore) Save(ctx context.Context, key string, value any) error {
	_, err := s.collection.ReplaceOne(ctx,
		bson.M{"_id": key},
		bson.M{"_id": key, "value": value},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

// Remove deletes the document stored under key
func (s *DocumentStore) Remove(ctx context.Context, key string) (bool, error) {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return false, fmt.Errorf("deleting document: %w", err)
	}
	return result.DeletedCount > 0, nil
}

// Clear deletes every document in the collection
func (s *DocumentStore) Clear(ctx context.Context) (bool, error) {
	result, err := s.collection.DeleteMany(ctx, bson.D{})
	if err != nil {
		return false, fmt.Errorf("clearing documents: %w", err)
	}
	s.logger.Debug("cleared mongodb documents", "count", result.DeletedCount)
	return result.DeletedCount > 0, nil
}

// decodeEntry converts a raw BSON document into plain JSON values so numbers
// come back as float64 and nested documents as map[string]any.
func decodeEntry(raw bson.Raw) (entry, error) {
	var e entry

	data, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return e, domain.StorageMalformed("mongodb document", err)
	}
	if err := json.Unmarshal(data, &e); err != nil {
		return e, domain.StorageMalformed("mongodb document", err)
	}
	return e, nil
}
