package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type blobDocument struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	prefix     string
	now        Clock
}

var _ Store = (*MongoStore)(nil)

func NewMongoStore(client *mongo.Client, database, collection, prefix string) *MongoStore {
	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
		prefix:     prefix,
		now:        utcNow,
	}
}

func (s *MongoStore) Get(ctx context.Context, key string) ([]byte, time.Time, error) {
	var doc blobDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": s.prefix + key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, time.Time{}, ErrNotFound
		}
		return nil, time.Time{}, fmt.Errorf("failed to find blob: %w", err)
	}
	return doc.Value, doc.UpdatedAt.UTC(), nil
}

func (s *MongoStore) Set(ctx context.Context, key string, value []byte) error {
	doc := blobDocument{
		Key:       s.prefix + key,
		Value:     value,
		UpdatedAt: s.now(),
	}
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": doc.Key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert blob: %w", err)
	}
	return nil
}

func (s *MongoStore) Remove(ctx context.Context, key string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.M{"_id": s.prefix + key}); err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func (s *MongoStore) LastWrite(ctx context.Context, key string) (time.Time, error) {
	var doc struct {
		UpdatedAt time.Time `bson:"updated_at"`
	}
	opts := options.FindOne().SetProjection(bson.M{"updated_at": 1})
	err := s.collection.FindOne(ctx, bson.M{"_id": s.prefix + key}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("failed to find blob: %w", err)
	}
	return doc.UpdatedAt.UTC(), nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
