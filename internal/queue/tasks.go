package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"infra-rag-platform/internal/convert"
	"infra-rag-platform/models"
	"infra-rag-platform/services"
)

const (
	TaskIngestDocument = "document:ingest"
	TaskVectorizeRoles = "roles:vectorize"
)

type IngestPayload struct {
	DocumentID string    `json:"document_id"`
	FilePath   string    `json:"file_path"`
	SourceName string    `json:"source_name"`
	TenantID   string    `json:"tenant_id,omitempty"`
	AutoRoute  bool      `json:"auto_route"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type VectorizePayload struct {
	OnlyMissing bool `json:"only_missing"`
}

func NewIngestTask(p IngestPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskIngestDocument,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("critical"),
	), nil
}

func NewVectorizeTask(onlyMissing bool) (*asynq.Task, error) {
	payload, err := json.Marshal(VectorizePayload{OnlyMissing: onlyMissing})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskVectorizeRoles,
		payload,
		asynq.MaxRetry(2),
		asynq.Timeout(5*time.Minute),
		asynq.Queue("low"),
		asynq.Unique(time.Minute),
	), nil
}

// Converter renders a stored upload as markdown.
type Converter interface {
	Convert(ctx context.Context, name string, data []byte) (*models.ConvertedDocument, error)
}

// Ingester indexes a converted document.
type Ingester interface {
	Ingest(ctx context.Context, req services.IngestRequest) (*models.IngestStats, error)
}

// RoleVectorizer re-embeds role responsibilities.
type RoleVectorizer interface {
	VectorizeAll(ctx context.Context) (int, error)
	VectorizeMissing(ctx context.Context) (int, error)
}

// RecordStore tracks document ingestion status.
type RecordStore interface {
	SaveDocumentRecord(ctx context.Context, rec *models.DocumentRecord) error
	GetDocumentRecord(ctx context.Context, id string) (*models.DocumentRecord, error)
}

type TaskProcessor struct {
	converter Converter
	ingester  Ingester
	roles     RoleVectorizer
	records   RecordStore
	logger    *slog.Logger
}

func NewTaskProcessor(converter Converter, ingester Ingester, roles RoleVectorizer, records RecordStore, logger *slog.Logger) *TaskProcessor {
	return &TaskProcessor{
		converter: converter,
		ingester:  ingester,
		roles:     roles,
		records:   records,
		logger:    logger,
	}
}

// Register wires the task handlers into mux.
func (p *TaskProcessor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskIngestDocument, p.ProcessIngest)
	mux.HandleFunc(TaskVectorizeRoles, p.ProcessVectorize)
}

// ProcessIngest converts and indexes an uploaded file. Input that can never succeed is not retried.
func (p *TaskProcessor) ProcessIngest(ctx context.Context, t *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}
	if payload.DocumentID == "" || payload.FilePath == "" {
		return fmt.Errorf("incomplete payload: %w", asynq.SkipRetry)
	}

	log := p.logger.With("document_id", payload.DocumentID, "source", payload.SourceName)
	log.Info("processing document")

	data, err := os.ReadFile(payload.FilePath)
	if err != nil {
		p.markFailed(ctx, payload, err)
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read upload: %v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	name := payload.SourceName
	if name == "" {
		name = payload.FilePath
	}
	doc, err := p.converter.Convert(ctx, name, data)
	if err != nil {
		p.markFailed(ctx, payload, err)
		if errors.Is(err, convert.ErrUnsupportedFormat) || errors.Is(err, models.ErrInvalidInput) {
			return fmt.Errorf("convert: %v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	doc.DocumentID = payload.DocumentID
	if payload.SourceName != "" {
		doc.SourceName = payload.SourceName
	}

	req := services.IngestRequest{
		Document:  doc,
		TenantID:  payload.TenantID,
		AutoRoute: payload.AutoRoute,
	}
	if !payload.UploadedAt.IsZero() {
		uploadedAt := payload.UploadedAt
		req.SourceCreatedAt = &uploadedAt
	}
	stats, err := p.ingester.Ingest(ctx, req)
	if err != nil {
		if lastAttempt(ctx) {
			p.markFailed(ctx, payload, err)
		}
		return err
	}

	if err := os.Remove(payload.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("failed to remove processed upload", "path", payload.FilePath, "error", err)
	}
	log.Info("document processed", "parents", stats.ParentUnitCount, "fragments", stats.ChildFragmentCount)
	return nil
}

func (p *TaskProcessor) ProcessVectorize(ctx context.Context, t *asynq.Task) error {
	var payload VectorizePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	run := p.roles.VectorizeAll
	if payload.OnlyMissing {
		run = p.roles.VectorizeMissing
	}
	n, err := run(ctx)
	p.logger.Info("roles vectorized", "count", n, "only_missing", payload.OnlyMissing, "error", err)
	return err
}

func (p *TaskProcessor) markFailed(ctx context.Context, payload IngestPayload, cause error) {
	rec, err := p.records.GetDocumentRecord(ctx, payload.DocumentID)
	if err != nil {
		rec = &models.DocumentRecord{
			ID:         payload.DocumentID,
			SourceName: payload.SourceName,
			TenantID:   payload.TenantID,
			UploadedAt: time.Now().UTC(),
		}
	}
	now := time.Now().UTC()
	rec.Status = models.DocumentFailed
	rec.Error = cause.Error()
	rec.ProcessedAt = &now
	if err := p.records.SaveDocumentRecord(ctx, rec); err != nil {
		p.logger.Error("failed to record ingestion failure", "document_id", payload.DocumentID, "error", err)
	}
}

// lastAttempt reports whether the running task will not be retried again.
// Outside a worker it is always true.
func lastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}
