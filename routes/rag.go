package routes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"infra-rag-platform/internal/config"
	"infra-rag-platform/internal/convert"
	"infra-rag-platform/internal/queue"
	"infra-rag-platform/middleware"
	"infra-rag-platform/models"
	"infra-rag-platform/services"
	"infra-rag-platform/utils"
)

// DocumentConverter renders uploads as markdown.
type DocumentConverter interface {
	queue.Converter
	Supports(name string) bool
}

// ObjectOpener streams stored objects by path.
type ObjectOpener interface {
	Open(ctx context.Context, path string) (io.ReadCloser, string, int64, error)
}

// Enqueuer hands work to the background worker.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Answerer produces cited answers.
type Answerer interface {
	Answer(ctx context.Context, req models.QueryRequest) (*models.QueryResponse, error)
}

// RAGDeps groups the collaborators of the document and query endpoints. Queue and Cache are optional.
type RAGDeps struct {
	Converter DocumentConverter
	Ingester  queue.Ingester
	Answerer  Answerer
	Store     services.DocumentStore
	Objects   ObjectOpener
	Cache     services.QueryCache
	Queue     Enqueuer
	Logger    *slog.Logger
}

type ragHandler struct {
	cfg *config.Config
	RAGDeps
}

// SetupRAGRoutes registers health, ingestion, query, object and admin endpoints.
func SetupRAGRoutes(router *gin.Engine, cfg *config.Config, deps RAGDeps) {
	h := &ragHandler{cfg: cfg, RAGDeps: deps}

	router.GET("/health", h.health)
	router.GET("/stats", h.stats)
	router.GET("/objects/*path", h.object)

	api := router.Group("/api")
	{
		api.POST("/documents", h.uploadDocument)
		api.GET("/documents/:id", h.getDocument)
		api.POST("/query", h.query)
	}

	admin := router.Group("/api/admin")
	admin.Use(middleware.AdminGuard(cfg.AdminAPIKey))
	{
		admin.DELETE("/index", h.purgeIndex)
	}
}

func (h *ragHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (h *ragHandler) stats(c *gin.Context) {
	stats, err := h.Store.IndexStats(c.Request.Context())
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *ragHandler) uploadDocument(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		utils.RespondWithBadRequest(c, "No file provided", gin.H{"field": "file"})
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !slices.Contains(h.cfg.AllowedExtensions, ext) || !h.Converter.Supports(header.Filename) {
		utils.RespondWithError(c, http.StatusUnsupportedMediaType, "unsupported_format",
			"File type is not supported", gin.H{"allowed": h.cfg.AllowedExtensions})
		return
	}
	if header.Size > h.cfg.MaxFileSize {
		utils.RespondWithError(c, http.StatusRequestEntityTooLarge, "file_too_large",
			"File size exceeds maximum limit", gin.H{"max_size": h.cfg.MaxFileSize})
		return
	}

	autoRoute := formBool(c, "auto_route", h.cfg.AutoRouteOnIngest)
	async := formBool(c, "async", false)
	tenantID := middleware.GetTenantID(c)
	documentID := uuid.NewString()

	if h.Queue != nil && (async || header.Size > h.cfg.SyncProcessingLimit) {
		h.enqueueDocument(c, file, header.Filename, documentID, tenantID, autoRoute)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, h.cfg.MaxFileSize))
	if err != nil {
		utils.RespondWithBadRequest(c, "Failed to read upload", err.Error())
		return
	}

	ctx, cancel := utils.WithIngestTimeout(c.Request.Context())
	defer cancel()

	doc, err := h.Converter.Convert(ctx, header.Filename, data)
	if err != nil {
		if errors.Is(err, convert.ErrUnsupportedFormat) {
			utils.RespondWithError(c, http.StatusUnsupportedMediaType, "unsupported_format", err.Error(), nil)
			return
		}
		utils.RespondWithServiceError(c, err)
		return
	}
	doc.DocumentID = documentID

	uploadedAt := time.Now().UTC()
	stats, err := h.Ingester.Ingest(ctx, services.IngestRequest{
		Document:        doc,
		TenantID:        tenantID,
		AutoRoute:       autoRoute,
		SourceCreatedAt: &uploadedAt,
	})
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"document_id": documentID,
		"status":      models.DocumentCompleted,
		"stats":       stats,
	})
}

// enqueueDocument stores the upload on disk and hands it to the worker.
func (h *ragHandler) enqueueDocument(c *gin.Context, file io.Reader, filename, documentID, tenantID string, autoRoute bool) {
	uploadDir := filepath.Join(h.cfg.FileStorageDir, "uploads")
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		utils.RespondWithInternalError(c, "Failed to create upload directory", nil)
		return
	}

	filePath := filepath.Join(uploadDir, documentID+strings.ToLower(filepath.Ext(filename)))
	if err := saveUpload(filePath, file, h.cfg.MaxFileSize); err != nil {
		h.Logger.Error("failed to save upload", "document_id", documentID, "error", err)
		utils.RespondWithInternalError(c, "Failed to save file", nil)
		return
	}

	ctx := c.Request.Context()
	rec := &models.DocumentRecord{
		ID:         documentID,
		SourceName: filepath.Base(filename),
		TenantID:   tenantID,
		Status:     models.DocumentPending,
		UploadedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveDocumentRecord(ctx, rec); err != nil {
		os.Remove(filePath)
		utils.RespondWithServiceError(c, err)
		return
	}

	task, err := queue.NewIngestTask(queue.IngestPayload{
		DocumentID: documentID,
		FilePath:   filePath,
		SourceName: rec.SourceName,
		TenantID:   tenantID,
		AutoRoute:  autoRoute,
		UploadedAt: rec.UploadedAt,
	})
	if err == nil {
		var info *asynq.TaskInfo
		if info, err = h.Queue.Enqueue(task); err == nil {
			c.JSON(http.StatusAccepted, gin.H{
				"message":     "Document accepted for processing",
				"document_id": documentID,
				"task_id":     info.ID,
				"status":      models.DocumentPending,
				"filename":    rec.SourceName,
			})
			return
		}
	}

	os.Remove(filePath)
	rec.Status = models.DocumentFailed
	rec.Error = fmt.Sprintf("enqueue failed: %v", err)
	if saveErr := h.Store.SaveDocumentRecord(ctx, rec); saveErr != nil {
		h.Logger.Warn("failed to record enqueue failure", "document_id", documentID, "error", saveErr)
	}
	utils.RespondWithInternalError(c, "Failed to enqueue processing task", nil)
}

func saveUpload(path string, src io.Reader, limit int64) error {
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, io.LimitReader(src, limit)); err != nil {
		dst.Close()
		os.Remove(path)
		return err
	}
	return dst.Close()
}

func (h *ragHandler) getDocument(c *gin.Context) {
	rec, err := h.Store.GetDocumentRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	if tenant := middleware.GetTenantID(c); rec.TenantID != "" && rec.TenantID != tenant {
		utils.RespondWithNotFound(c, "document not found")
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *ragHandler) query(c *gin.Context) {
	var req models.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondWithBadRequest(c, "Invalid request body", err.Error())
		return
	}
	if req.TopK < 0 {
		utils.RespondWithBadRequest(c, "top_k must not be negative", nil)
		return
	}
	req.TenantID = middleware.GetTenantID(c)

	resp, err := h.Answerer.Answer(c.Request.Context(), req)
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ragHandler) object(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")
	if path == "" || strings.Contains(path, "..") {
		utils.RespondWithBadRequest(c, "Invalid object path", nil)
		return
	}

	rc, contentType, size, err := h.Objects.Open(c.Request.Context(), path)
	if err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, size, contentType, rc, map[string]string{
		"Cache-Control": "public, max-age=86400",
	})
}

func (h *ragHandler) purgeIndex(c *gin.Context) {
	ctx := c.Request.Context()
	if err := h.Store.Purge(ctx); err != nil {
		utils.RespondWithServiceError(c, err)
		return
	}
	if h.Cache != nil {
		if err := h.Cache.Invalidate(ctx); err != nil {
			h.Logger.Warn("query cache invalidation failed", "error", err)
		}
	}
	h.Logger.Info("index purged", "request_id", middleware.GetRequestID(c))
	c.JSON(http.StatusOK, gin.H{"message": "Index purged"})
}

// formBool reads a boolean from the query string or the multipart form.
func formBool(c *gin.Context, key string, def bool) bool {
	v := c.Query(key)
	if v == "" {
		v = c.PostForm(key)
	}
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
