package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"infra-rag-platform/internal/telemetry"
	"infra-rag-platform/models"
	"infra-rag-platform/utils"
)

// IngestRequest is one converted document to index.
type IngestRequest struct {
	Document        *models.ConvertedDocument
	TenantID        string
	AutoRoute       bool
	SourceCreatedAt *time.Time
	Extra           map[string]string
}

// IngestionPipeline turns converted documents into parent units and searchable child fragments.
type IngestionPipeline struct {
	splitter   *MarkdownSplitter
	chunker    *TextChunker
	summarizer *MultimodalSummarizer
	embedder   Embedder
	store      DocumentStore
	objects    ObjectStore
	router     *RoleRouter
	cache      QueryCache
	workers    int
	metrics    *telemetry.Metrics
	logger     *slog.Logger
}

// PipelineDeps groups the collaborators of an IngestionPipeline. Router and Cache are optional.
type PipelineDeps struct {
	Splitter   *MarkdownSplitter
	Chunker    *TextChunker
	Summarizer *MultimodalSummarizer
	Embedder   Embedder
	Store      DocumentStore
	Objects    ObjectStore
	Router     *RoleRouter
	Cache      QueryCache
	Workers    int
	Metrics    *telemetry.Metrics
	Logger     *slog.Logger
}

func NewIngestionPipeline(deps PipelineDeps) *IngestionPipeline {
	if deps.Splitter == nil {
		deps.Splitter = NewMarkdownSplitter()
	}
	if deps.Chunker == nil {
		deps.Chunker = NewTextChunker()
	}
	if deps.Workers <= 0 {
		deps.Workers = 1
	}
	return &IngestionPipeline{
		splitter:   deps.Splitter,
		chunker:    deps.Chunker,
		summarizer: deps.Summarizer,
		embedder:   deps.Embedder,
		store:      deps.Store,
		objects:    deps.Objects,
		router:     deps.Router,
		cache:      deps.Cache,
		workers:    deps.Workers,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}
}

// Ingest indexes one document. Failures of single units are logged, counted and skipped.
func (p *IngestionPipeline) Ingest(ctx context.Context, req IngestRequest) (*models.IngestStats, error) {
	start := time.Now()
	doc := req.Document
	if doc == nil || strings.TrimSpace(doc.Markdown) == "" {
		return nil, fmt.Errorf("%w: document has no content", models.ErrInvalidInput)
	}
	if doc.DocumentID == "" {
		doc.DocumentID = uuid.NewString()
	}

	ctx, span := otel.Tracer("ingestion").Start(ctx, "ingestion.ingest")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", doc.DocumentID), attribute.String("document.source", doc.SourceName))

	log := p.logger.With("document_id", doc.DocumentID, "source", doc.SourceName)
	log.Info("ingestion started", "pages", doc.PageCount, "images", len(doc.Images))

	rec := p.loadRecord(ctx, doc, req.TenantID)
	rec.Status = models.DocumentProcessing
	if err := p.store.SaveDocumentRecord(ctx, rec); err != nil {
		log.Warn("failed to save document record", "error", err)
	}

	stats := &models.IngestStats{
		Source:     doc.SourceName,
		DocumentID: doc.DocumentID,
		TotalPages: doc.PageCount,
	}

	// A retried or re-uploaded document replaces its earlier units instead of duplicating them.
	removed, err := p.store.DeleteDocument(ctx, doc.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("clear previous index of %s: %w", doc.DocumentID, err)
	}
	if removed > 0 {
		log.Info("replacing previously indexed units", "parents", removed)
	}

	markdown, uploaded := p.uploadImages(ctx, doc, log)
	stats.ImagesUploaded = uploaded

	units := p.splitter.Split(markdown, models.UnitMetadata{
		Source:     doc.SourceName,
		DocumentID: doc.DocumentID,
		UploadedAt: rec.UploadedAt,
		TenantID:   req.TenantID,
		Extra:      req.Extra,
	})
	span.SetAttributes(attribute.Int("ingestion.units", len(units)))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i := range units {
		unit := units[i]
		surrounding := ""
		if unit.Kind == models.KindImage {
			surrounding = imageContext(units, i)
		}
		g.Go(func() error {
			fragments, err := p.processUnit(gctx, unit, surrounding, req.SourceCreatedAt)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.FailedUnits++
				p.metrics.RecordUnitFailure(string(unit.Kind))
				log.Error("unit ingestion failed",
					"sequence", unit.Metadata.SequenceIndex,
					"kind", unit.Kind,
					"section", unit.Metadata.SectionPath,
					"error", err)
				return nil
			}
			stats.ParentUnitCount++
			stats.ChildFragmentCount += fragments
			switch unit.Kind {
			case models.KindTable:
				stats.TableCount++
			case models.KindImage:
				stats.ImageCount++
			default:
				stats.TextSectionCount++
			}
			p.metrics.RecordFragments(string(unit.Kind), fragments)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if p.cache != nil {
		if err := p.cache.Invalidate(ctx); err != nil {
			log.Warn("query cache invalidation failed", "error", err)
		}
	}

	if req.AutoRoute && p.router != nil && stats.ParentUnitCount > 0 {
		assignments, err := p.route(ctx, doc, units, req.TenantID)
		if err != nil {
			log.Error("auto-routing failed", "error", err)
		}
		stats.Assignments = assignments
	}

	now := time.Now().UTC()
	rec.Status = models.DocumentCompleted
	rec.Stats = stats
	rec.TotalPages = doc.PageCount
	rec.ProcessedAt = &now
	if stats.ParentUnitCount == 0 && stats.FailedUnits > 0 {
		rec.Status = models.DocumentFailed
		rec.Error = "every unit failed to index"
	}
	if err := p.store.SaveDocumentRecord(ctx, rec); err != nil {
		log.Warn("failed to save document record", "error", err)
	}

	p.metrics.RecordIngestion(time.Since(start).Seconds(), rec.Status)
	log.Info("ingestion finished",
		"parents", stats.ParentUnitCount,
		"fragments", stats.ChildFragmentCount,
		"tables", stats.TableCount,
		"images", stats.ImageCount,
		"failed", stats.FailedUnits,
		"duration", time.Since(start))
	return stats, nil
}

// processUnit stores one parent unit and its child fragments. It returns the fragment count.
func (p *IngestionPipeline) processUnit(ctx context.Context, unit ContentUnit, surrounding string, sourceCreatedAt *time.Time) (int, error) {
	var (
		texts  []string
		chunks []TextFragment
	)
	switch unit.Kind {
	case models.KindTable:
		texts = []string{p.summarizer.SummarizeTable(ctx, unit.Content, unit.Metadata)}
	case models.KindImage:
		texts = []string{p.summarizer.DescribeImage(ctx, unit.Content, surrounding, unit.Metadata)}
	default:
		chunks = p.chunker.Chunk(unit.Content)
		for _, c := range chunks {
			texts = append(texts, c.Text)
		}
	}
	if len(texts) == 0 {
		return 0, fmt.Errorf("%w: unit produced no searchable text", models.ErrInvalidInput)
	}

	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed fragments: %w", err)
	}
	if len(embeddings) != len(texts) {
		return 0, fmt.Errorf("embed fragments: got %d vectors for %d texts", len(embeddings), len(texts))
	}

	now := time.Now().UTC()
	parent := &models.ParentUnit{
		ID:              uuid.NewString(),
		Content:         unit.Content,
		Kind:            unit.Kind,
		Metadata:        unit.Metadata,
		SourceCreatedAt: sourceCreatedAt,
		CreatedAt:       now,
	}
	if err := p.store.InsertParent(ctx, parent); err != nil {
		return 0, fmt.Errorf("insert parent: %w", err)
	}

	children := make([]models.ChildFragment, len(texts))
	for i, text := range texts {
		children[i] = models.ChildFragment{
			ID:        uuid.NewString(),
			ParentID:  parent.ID,
			Text:      text,
			Embedding: embeddings[i],
			Metadata: models.FragmentMetadata{
				UnitMetadata: unit.Metadata,
				ChunkIndex:   i,
				ChunkCount:   len(texts),
			},
			CreatedAt: now,
		}
	}
	if err := p.store.InsertChildren(ctx, children); err != nil {
		return 0, fmt.Errorf("insert children: %w", err)
	}
	return len(children), nil
}

// uploadImages stores extracted images and points their placeholders at the stored objects.
// Images that fail to upload keep their placeholder.
func (p *IngestionPipeline) uploadImages(ctx context.Context, doc *models.ConvertedDocument, log *slog.Logger) (string, int) {
	markdown := doc.Markdown
	if p.objects == nil || len(doc.Images) == 0 {
		return markdown, 0
	}

	uploaded := 0
	for _, img := range doc.Images {
		if len(img.Data) == 0 {
			continue
		}
		mimeType := utils.DetectImageType(img.Data, img.MimeType)
		path := fmt.Sprintf("%s/image_%d%s", doc.DocumentID, img.Index, utils.GetImageExtension(mimeType))

		ref, err := p.objects.Upload(ctx, path, img.Data, mimeType)
		if err != nil {
			log.Warn("image upload failed", "index", img.Index, "error", err)
			continue
		}
		placeholder := fmt.Sprintf("(%s%d)", models.ImagePlaceholderScheme, img.Index)
		markdown = strings.ReplaceAll(markdown, placeholder, "("+ref+")")
		uploaded++
	}
	return markdown, uploaded
}

func (p *IngestionPipeline) route(ctx context.Context, doc *models.ConvertedDocument, units []ContentUnit, tenantID string) ([]models.Assignment, error) {
	var b strings.Builder
	for _, u := range units {
		if u.Kind == models.KindImage {
			continue
		}
		b.WriteString(u.Content)
		b.WriteString("\n\n")
	}
	summary := p.summarizer.SummarizeDocument(ctx, doc.SourceName, b.String())

	return p.router.AutoRoute(ctx, DocumentRef{
		ID:         doc.DocumentID,
		Name:       doc.SourceName,
		Summary:    summary,
		TotalPages: doc.PageCount,
		TenantID:   tenantID,
	})
}

func (p *IngestionPipeline) loadRecord(ctx context.Context, doc *models.ConvertedDocument, tenantID string) *models.DocumentRecord {
	rec, err := p.store.GetDocumentRecord(ctx, doc.DocumentID)
	if err == nil {
		rec.Error = ""
		return rec
	}
	if !errors.Is(err, models.ErrNotFound) {
		p.logger.Warn("failed to load document record", "document_id", doc.DocumentID, "error", err)
	}
	return &models.DocumentRecord{
		ID:         doc.DocumentID,
		SourceName: doc.SourceName,
		TenantID:   tenantID,
		TotalPages: doc.PageCount,
		UploadedAt: time.Now().UTC(),
	}
}

// imageContext returns the nearest text unit before the image in the same section,
// or the nearest one after it when nothing precedes.
func imageContext(units []ContentUnit, i int) string {
	section := units[i].Metadata.SectionPath
	for j := i - 1; j >= 0 && units[j].Metadata.SectionPath == section; j-- {
		if units[j].Kind == models.KindText {
			return units[j].Content
		}
	}
	for j := i + 1; j < len(units) && units[j].Metadata.SectionPath == section; j++ {
		if units[j].Kind == models.KindText {
			return units[j].Content
		}
	}
	return ""
}
