package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict means the record changed since it was read.
	ErrConflict = errors.New("conflict")
)

// RetrievalResult is one parent-grounded hit from the hybrid retriever.
type RetrievalResult struct {
	Parent       ParentUnit `json:"parent"`
	FragmentID   string     `json:"fragment_id"`
	FragmentText string     `json:"fragment_text"`
	Similarity   float64    `json:"similarity"`
}

// QueryRequest is the input to answer synthesis.
type QueryRequest struct {
	Question      string `json:"question" binding:"required"`
	TopK          int    `json:"top_k"`
	IncludeTables *bool  `json:"include_tables,omitempty"`
	IncludeImages *bool  `json:"include_images,omitempty"`
	TenantID      string `json:"tenant_id,omitempty"`
}

// Source is a numbered citation returned alongside an answer.
type Source struct {
	Rank         int         `json:"rank"`
	DocumentName string      `json:"document_name"`
	Page         int         `json:"page,omitempty"`
	SectionPath  string      `json:"section_path"`
	ContentKind  ContentKind `json:"content_kind"`
	Timestamp    time.Time   `json:"timestamp"`
	Similarity   float64     `json:"similarity"`
}

// QueryResponse is the synthesized answer with provenance.
type QueryResponse struct {
	Answer                 string   `json:"answer"`
	Sources                []Source `json:"sources"`
	RetrievedFragmentCount int      `json:"retrieved_fragment_count"`
	ProcessingTimeMS       int64    `json:"processing_time_ms"`
	Cached                 bool     `json:"cached"`
}
