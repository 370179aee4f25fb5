package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names shared by the Mongo stores.
const (
	ParentUnitsCollection    = "parent_units"
	ChildFragmentsCollection = "child_fragments"
	RolesCollection          = "roles"
	AssignmentsCollection    = "role_documents"
	DocumentsCollection      = "documents"
)

func ConnectMongoDB(cfg *Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %v", err)
	}

	// Test connection
	err = client.Ping(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %v", err)
	}

	db := client.Database(cfg.DBName)
	if err := createIndexes(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %v", err)
	}

	if cfg.VectorSearchEnabled {
		// Atlas only; self-hosted deployments fall back to in-process scoring.
		if err := ensureVectorIndex(ctx, db, cfg); err != nil {
			slog.Warn("vector search index not created", "index", cfg.VectorIndexName, "error", err)
		}
	}

	return client, nil
}

func createIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		ParentUnitsCollection: {
			{Keys: bson.D{{Key: "metadata.document_id", Value: 1}, {Key: "metadata.sequence_index", Value: 1}}},
			{Keys: bson.D{{Key: "kind", Value: 1}}},
			{Keys: bson.D{{Key: "metadata.tenant_id", Value: 1}}},
		},
		ChildFragmentsCollection: {
			{Keys: bson.D{{Key: "parent_id", Value: 1}}},
			{Keys: bson.D{{Key: "metadata.kind", Value: 1}, {Key: "metadata.tenant_id", Value: 1}}},
		},
		RolesCollection: {
			{Keys: bson.D{{Key: "is_active", Value: 1}, {Key: "tenant_id", Value: 1}}},
			{Keys: bson.D{{Key: "department", Value: 1}}},
			{Keys: bson.D{{Key: "is_fallback", Value: 1}}},
		},
		AssignmentsCollection: {
			{Keys: bson.D{{Key: "role_id", Value: 1}, {Key: "assigned_at", Value: -1}}},
			{Keys: bson.D{{Key: "document_id", Value: 1}}},
		},
		DocumentsCollection: {
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
	}

	for name, models := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func ensureVectorIndex(ctx context.Context, db *mongo.Database, cfg *Config) error {
	definition := bson.D{{Key: "fields", Value: bson.A{
		bson.D{
			{Key: "type", Value: "vector"},
			{Key: "path", Value: "embedding"},
			{Key: "numDimensions", Value: cfg.VectorDimensions},
			{Key: "similarity", Value: "cosine"},
		},
		bson.D{{Key: "type", Value: "filter"}, {Key: "path", Value: "metadata.kind"}},
		bson.D{{Key: "type", Value: "filter"}, {Key: "path", Value: "metadata.tenant_id"}},
	}}}

	_, err := db.Collection(ChildFragmentsCollection).SearchIndexes().CreateOne(ctx, mongo.SearchIndexModel{
		Definition: definition,
		Options:    options.SearchIndexes().SetName(cfg.VectorIndexName).SetType("vectorSearch"),
	})
	return err
}
