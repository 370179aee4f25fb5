package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"infra-rag-platform/internal/config"
	"infra-rag-platform/internal/vector"
	"infra-rag-platform/models"
)

// vectorSearchCandidates multiplies the result limit into the ANN candidate pool.
const vectorSearchCandidates = 10

// MongoStore implements the document, role and assignment stores on MongoDB.
type MongoStore struct {
	parents     *mongo.Collection
	children    *mongo.Collection
	documents   *mongo.Collection
	roles       *mongo.Collection
	assignments *mongo.Collection

	vectorSearch bool
	indexName    string
	logger       *slog.Logger
}

func NewMongoStore(db *mongo.Database, cfg *config.Config, logger *slog.Logger) *MongoStore {
	return &MongoStore{
		parents:      db.Collection(config.ParentUnitsCollection),
		children:     db.Collection(config.ChildFragmentsCollection),
		documents:    db.Collection(config.DocumentsCollection),
		roles:        db.Collection(config.RolesCollection),
		assignments:  db.Collection(config.AssignmentsCollection),
		vectorSearch: cfg.VectorSearchEnabled,
		indexName:    cfg.VectorIndexName,
		logger:       logger,
	}
}

func (s *MongoStore) InsertParent(ctx context.Context, parent *models.ParentUnit) error {
	if _, err := s.parents.InsertOne(ctx, parent); err != nil {
		return fmt.Errorf("insert parent %s: %w", parent.ID, err)
	}
	return nil
}

func (s *MongoStore) GetParent(ctx context.Context, id string) (*models.ParentUnit, error) {
	var p models.ParentUnit
	if err := s.parents.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		return nil, notFound(err, "parent", id)
	}
	return &p, nil
}

// InsertChildren checks every referenced parent before writing any fragment.
func (s *MongoStore) InsertChildren(ctx context.Context, children []models.ChildFragment) error {
	if len(children) == 0 {
		return nil
	}

	ids := make([]string, 0, 1)
	seen := map[string]bool{}
	docs := make([]interface{}, len(children))
	for i, c := range children {
		if !seen[c.ParentID] {
			seen[c.ParentID] = true
			ids = append(ids, c.ParentID)
		}
		docs[i] = c
	}

	n, err := s.parents.CountDocuments(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return fmt.Errorf("check parents: %w", err)
	}
	if n != int64(len(ids)) {
		return fmt.Errorf("fragment parents: %w", models.ErrNotFound)
	}

	if _, err := s.children.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert children: %w", err)
	}
	return nil
}

// SearchChildren uses Atlas $vectorSearch when enabled and falls back to scoring
// a filtered cursor in process.
func (s *MongoStore) SearchChildren(ctx context.Context, query []float32, limit int, threshold float64, filter models.SearchFilter) ([]models.ChildMatch, error) {
	if s.vectorSearch {
		matches, err := s.vectorSearchChildren(ctx, query, limit, threshold, filter)
		if err == nil {
			return matches, nil
		}
		s.logger.Warn("vector search failed, scanning fragments", "index", s.indexName, "error", err)
	}
	return s.scanChildren(ctx, query, limit, threshold, filter)
}

type scoredFragment struct {
	models.ChildFragment `bson:",inline"`
	Score                float64 `bson:"score"`
}

func (s *MongoStore) vectorSearchChildren(ctx context.Context, query []float32, limit int, threshold float64, filter models.SearchFilter) ([]models.ChildMatch, error) {
	search := bson.D{
		{Key: "index", Value: s.indexName},
		{Key: "path", Value: "embedding"},
		{Key: "queryVector", Value: query},
		{Key: "numCandidates", Value: limit * vectorSearchCandidates},
		{Key: "limit", Value: limit},
	}
	if f := fragmentFilter(filter); len(f) > 0 {
		search = append(search, bson.E{Key: "filter", Value: f})
	}
	pipeline := mongo.Pipeline{
		{{Key: "$vectorSearch", Value: search}},
		{{Key: "$set", Value: bson.M{"score": bson.M{"$meta": "vectorSearchScore"}}}},
	}

	cursor, err := s.children.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var hits []scoredFragment
	if err := cursor.All(ctx, &hits); err != nil {
		return nil, err
	}

	matches := make([]models.ChildMatch, 0, len(hits))
	for _, h := range hits {
		// Atlas reports cosine as (1+cos)/2.
		sim := 2*h.Score - 1
		if sim < threshold {
			continue
		}
		matches = append(matches, models.ChildMatch{Fragment: h.ChildFragment, Similarity: sim})
	}
	return rankChildren(matches, limit), nil
}

func (s *MongoStore) scanChildren(ctx context.Context, query []float32, limit int, threshold float64, filter models.SearchFilter) ([]models.ChildMatch, error) {
	cursor, err := s.children.Find(ctx, fragmentFilter(filter))
	if err != nil {
		return nil, fmt.Errorf("find fragments: %w", err)
	}
	defer cursor.Close(ctx)

	var matches []models.ChildMatch
	for cursor.Next(ctx) {
		var c models.ChildFragment
		if err := cursor.Decode(&c); err != nil {
			return nil, fmt.Errorf("decode fragment: %w", err)
		}
		sim, err := vector.Cosine(query, c.Embedding)
		if err != nil || sim < threshold {
			continue
		}
		matches = append(matches, models.ChildMatch{Fragment: c, Similarity: sim})
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return rankChildren(matches, limit), nil
}

func (s *MongoStore) IndexStats(ctx context.Context) (*models.IndexStats, error) {
	parents, err := s.parents.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	children, err := s.children.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	documents, err := s.documents.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, err
	}

	cursor, err := s.parents.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$kind", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, err
	}
	var groups []struct {
		Kind  models.ContentKind `bson:"_id"`
		Count int64              `bson:"count"`
	}
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, err
	}

	stats := &models.IndexStats{
		ParentUnits:    parents,
		ChildFragments: children,
		Documents:      documents,
		ByKind:         make(map[models.ContentKind]int64, len(groups)),
	}
	for _, g := range groups {
		stats.ByKind[g.Kind] = g.Count
	}
	return stats, nil
}

// Purge deletes fragments before parents so no fragment outlives its parent.
func (s *MongoStore) DeleteDocument(ctx context.Context, documentID string) (int64, error) {
	filter := bson.M{"metadata.document_id": documentID}
	if _, err := s.children.DeleteMany(ctx, filter); err != nil {
		return 0, fmt.Errorf("delete fragments of %s: %w", documentID, err)
	}
	res, err := s.parents.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("delete parents of %s: %w", documentID, err)
	}
	return res.DeletedCount, nil
}

func (s *MongoStore) Purge(ctx context.Context) error {
	for _, col := range []*mongo.Collection{s.children, s.parents, s.documents} {
		if _, err := col.DeleteMany(ctx, bson.M{}); err != nil {
			return fmt.Errorf("purge %s: %w", col.Name(), err)
		}
	}
	return nil
}

func (s *MongoStore) SaveDocumentRecord(ctx context.Context, rec *models.DocumentRecord) error {
	_, err := s.documents.ReplaceOne(ctx, bson.M{"_id": rec.ID}, rec, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save document %s: %w", rec.ID, err)
	}
	return nil
}

func (s *MongoStore) GetDocumentRecord(ctx context.Context, id string) (*models.DocumentRecord, error) {
	var rec models.DocumentRecord
	if err := s.documents.FindOne(ctx, bson.M{"_id": id}).Decode(&rec); err != nil {
		return nil, notFound(err, "document", id)
	}
	return &rec, nil
}

func fragmentFilter(filter models.SearchFilter) bson.M {
	f := bson.M{}
	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		f["metadata.kind"] = bson.M{"$in": kinds}
	}
	if filter.TenantID != "" {
		f["metadata.tenant_id"] = filter.TenantID
	}
	return f
}

func notFound(err error, what, id string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s %s: %w", what, id, models.ErrNotFound)
	}
	return fmt.Errorf("load %s %s: %w", what, id, err)
}
