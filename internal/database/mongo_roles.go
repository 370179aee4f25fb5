package database

import (
	"context"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"infra-rag-platform/models"
)

func (s *MongoStore) InsertRole(ctx context.Context, role *models.Role) error {
	if _, err := s.roles.InsertOne(ctx, role); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: role %s already exists", models.ErrInvalidInput, role.ID)
		}
		return fmt.Errorf("insert role: %w", err)
	}
	return nil
}

func (s *MongoStore) GetRole(ctx context.Context, id string) (*models.Role, error) {
	var r models.Role
	if err := s.roles.FindOne(ctx, bson.M{"_id": id}).Decode(&r); err != nil {
		return nil, notFound(err, "role", id)
	}
	return &r, nil
}

func (s *MongoStore) ListRoles(ctx context.Context, filter models.RoleFilter) ([]models.Role, error) {
	q := bson.M{}
	if filter.ActiveOnly {
		q["is_active"] = true
	}
	if filter.Department != "" {
		q["department"] = filter.Department
	}
	if filter.TenantID != "" {
		q["tenant_id"] = bson.M{"$in": bson.A{filter.TenantID, "", nil}}
	}

	opts := options.Find().SetSort(bson.D{{Key: "priority", Value: -1}, {Key: "role_name", Value: 1}})
	cursor, err := s.roles.Find(ctx, q, opts)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	roles := []models.Role{}
	if err := cursor.All(ctx, &roles); err != nil {
		return nil, fmt.Errorf("decode roles: %w", err)
	}
	return roles, nil
}

// ReplaceRole writes the whole role document, vector included, in one operation.
func (s *MongoStore) ReplaceRole(ctx context.Context, role *models.Role) error {
	res, err := s.roles.ReplaceOne(ctx, bson.M{"_id": role.ID}, role)
	if err != nil {
		return fmt.Errorf("replace role %s: %w", role.ID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("role %s: %w", role.ID, models.ErrNotFound)
	}
	return nil
}

// SetRoleVector is a conditional update so a concurrent edit or deactivation is never overwritten.
func (s *MongoStore) SetRoleVector(ctx context.Context, seen *models.Role, vec *models.RoleVector) error {
	filter := bson.M{
		"_id":              seen.ID,
		"is_active":        true,
		"updated_at":       seen.UpdatedAt,
		"responsibilities": seen.Responsibilities,
	}
	res, err := s.roles.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"vector": vec}})
	if err != nil {
		return fmt.Errorf("set role vector %s: %w", seen.ID, err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetRole(ctx, seen.ID); err != nil {
			return err
		}
		return fmt.Errorf("role %s: %w", seen.ID, models.ErrConflict)
	}
	return nil
}

func (s *MongoStore) SearchRoles(ctx context.Context, query []float32, limit int, threshold float64, tenantID string) ([]models.RoleMatch, error) {
	q := bson.M{"is_active": true, "vector.embedding": bson.M{"$exists": true}}
	if tenantID != "" {
		q["tenant_id"] = bson.M{"$in": bson.A{tenantID, "", nil}}
	}
	cursor, err := s.roles.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("find roles: %w", err)
	}
	var roles []models.Role
	if err := cursor.All(ctx, &roles); err != nil {
		return nil, fmt.Errorf("decode roles: %w", err)
	}
	return scoreRoles(roles, query, limit, threshold, tenantID), nil
}

func (s *MongoStore) FallbackRole(ctx context.Context, tenantID string) (*models.Role, error) {
	roles, err := s.ListRoles(ctx, models.RoleFilter{ActiveOnly: true, TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	if r := pickFallback(roles, tenantID); r != nil {
		return r, nil
	}
	return nil, fmt.Errorf("fallback role: %w", models.ErrNotFound)
}

func (s *MongoStore) InsertAssignment(ctx context.Context, a *models.Assignment) error {
	if _, err := s.assignments.InsertOne(ctx, a); err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

func (s *MongoStore) ListAssignments(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, error) {
	q := bson.M{}
	if filter.RoleID != "" {
		q["role_id"] = filter.RoleID
	}
	if filter.DocumentID != "" {
		q["document_id"] = filter.DocumentID
	}
	if filter.Search != "" {
		pattern := caseInsensitive(filter.Search)
		q["$or"] = bson.A{
			bson.M{"document_name": pattern},
			bson.M{"summary": pattern},
		}
	}

	opts := options.Find().SetSort(bson.D{{Key: "assigned_at", Value: -1}})
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := s.assignments.Find(ctx, q, opts)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	out := []models.Assignment{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode assignments: %w", err)
	}
	return out, nil
}

func (s *MongoStore) AssignmentStats(ctx context.Context) ([]models.RoleAssignmentStat, error) {
	cursor, err := s.assignments.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$sort", Value: bson.M{"assigned_at": 1}}},
		{{Key: "$group", Value: bson.M{
			"_id":            "$role_id",
			"role_name":      bson.M{"$last": "$role_name"},
			"documents":      bson.M{"$sum": 1},
			"avg_similarity": bson.M{"$avg": "$similarity"},
			"last_assigned":  bson.M{"$max": "$assigned_at"},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "documents", Value: -1}, {Key: "_id", Value: 1}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate assignments: %w", err)
	}
	out := []models.RoleAssignmentStat{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func caseInsensitive(term string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(term), "$options": "i"}
}
