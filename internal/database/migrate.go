package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"infra-rag-platform/models"
)

// Migrate backfills fields added after documents were first written.
// It only touches documents missing the field, so running it on every start is safe.
func (s *MongoStore) Migrate(ctx context.Context) error {
	steps := []struct {
		name   string
		col    *mongo.Collection
		filter bson.M
		update bson.M
	}{
		{
			name:   "role flags",
			col:    s.roles,
			filter: bson.M{"is_fallback": bson.M{"$exists": false}},
			update: bson.M{"$set": bson.M{"is_fallback": false, "updated_at": time.Now().UTC()}},
		},
		{
			name: "role priority",
			col:  s.roles,
			filter: bson.M{"$or": []bson.M{
				{"priority": bson.M{"$exists": false}},
				{"priority": bson.M{"$lt": 1}},
			}},
			update: bson.M{"$set": bson.M{"priority": 1}},
		},
		{
			name:   "parent schema version",
			col:    s.parents,
			filter: bson.M{"metadata.schema_version": bson.M{"$exists": false}},
			update: bson.M{"$set": bson.M{"metadata.schema_version": models.MetadataSchemaVersion}},
		},
		{
			name:   "fragment schema version",
			col:    s.children,
			filter: bson.M{"metadata.schema_version": bson.M{"$exists": false}},
			update: bson.M{"$set": bson.M{"metadata.schema_version": models.MetadataSchemaVersion}},
		},
	}

	for _, step := range steps {
		res, err := step.col.UpdateMany(ctx, step.filter, step.update)
		if err != nil {
			return fmt.Errorf("migrate %s: %w", step.name, err)
		}
		if res.ModifiedCount > 0 {
			s.logger.Info("backfilled documents", "step", step.name, "count", res.ModifiedCount)
		}
	}
	return nil
}
