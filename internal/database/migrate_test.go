package database

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"infra-rag-platform/internal/config"
	"infra-rag-platform/models"
)

func TestMongoMigrateBackfills(t *testing.T) {
	uri := os.Getenv("MONGO_URI_TEST")
	if uri == "" {
		t.Skip("MONGO_URI_TEST not set")
	}
	cfg := &config.Config{MongoURI: uri, DBName: "infra_rag_migrate_test"}
	client, err := config.ConnectMongoDB(cfg)
	require.NoError(t, err)
	ctx := context.Background()
	db := client.Database(cfg.DBName)
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})

	_, err = db.Collection(config.RolesCollection).InsertOne(ctx, bson.M{"_id": "legacy", "role_name": "Legacy", "priority": 0})
	require.NoError(t, err)
	_, err = db.Collection(config.ParentUnitsCollection).InsertOne(ctx, bson.M{"_id": "p1", "content": "x", "metadata": bson.M{"source": "a.md"}})
	require.NoError(t, err)

	store := NewMongoStore(db, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "a second run is a no-op")

	role, err := store.GetRole(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, 1, role.Priority)
	assert.False(t, role.IsFallback)

	parent, err := store.GetParent(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.MetadataSchemaVersion, parent.Metadata.SchemaVersion)
}
