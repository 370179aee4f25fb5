package models

import "time"

// MetadataSchemaVersion is stamped on every stored unit and fragment.
const MetadataSchemaVersion = 1

// ContentKind identifies what a parent unit holds.
type ContentKind string

const (
	KindText  ContentKind = "text"
	KindTable ContentKind = "table"
	KindImage ContentKind = "image"
)

// Valid reports whether k is one of the known kinds.
func (k ContentKind) Valid() bool {
	switch k {
	case KindText, KindTable, KindImage:
		return true
	}
	return false
}

// UnitMetadata is the closed metadata schema shared by parent units and child fragments.
type UnitMetadata struct {
	Source        string            `json:"source" bson:"source"`
	DocumentID    string            `json:"document_id" bson:"document_id"`
	Page          int               `json:"page,omitempty" bson:"page,omitempty"`
	SectionPath   string            `json:"section_path" bson:"section_path"`
	UploadedAt    time.Time         `json:"uploaded_at" bson:"uploaded_at"`
	SequenceIndex int               `json:"sequence_index" bson:"sequence_index"`
	Kind          ContentKind       `json:"kind" bson:"kind"`
	TenantID      string            `json:"tenant_id,omitempty" bson:"tenant_id,omitempty"`
	SchemaVersion int               `json:"schema_version" bson:"schema_version"`
	Extra         map[string]string `json:"extra,omitempty" bson:"extra,omitempty"`
}

// ParentUnit is the content shown to the answer generator.
type ParentUnit struct {
	ID              string       `json:"id" bson:"_id"`
	Content         string       `json:"content" bson:"content"`
	Kind            ContentKind  `json:"kind" bson:"kind"`
	Metadata        UnitMetadata `json:"metadata" bson:"metadata"`
	SourceCreatedAt *time.Time   `json:"source_created_at,omitempty" bson:"source_created_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at" bson:"created_at"`
}

// FragmentMetadata extends the parent metadata with chunk position.
type FragmentMetadata struct {
	UnitMetadata `bson:",inline"`
	ChunkIndex   int `json:"chunk_index" bson:"chunk_index"`
	ChunkCount   int `json:"chunk_count" bson:"chunk_count"`
}

// ChildFragment is the vector-searched surrogate of a parent unit.
type ChildFragment struct {
	ID        string           `json:"id" bson:"_id"`
	ParentID  string           `json:"parent_id" bson:"parent_id"`
	Text      string           `json:"text" bson:"text"`
	Embedding []float32        `json:"embedding,omitempty" bson:"embedding"`
	Metadata  FragmentMetadata `json:"metadata" bson:"metadata"`
	CreatedAt time.Time        `json:"created_at" bson:"created_at"`
}

// ChildMatch is one vector-search hit.
type ChildMatch struct {
	Fragment   ChildFragment `json:"fragment"`
	Similarity float64       `json:"similarity"`
}

// SearchFilter restricts child fragment search by exact-match metadata.
// An empty Kinds slice means every kind.
type SearchFilter struct {
	Kinds    []ContentKind
	TenantID string
}

// ExtractedImage is an image pulled out of a binary document by a converter.
type ExtractedImage struct {
	Index    int    `json:"index"`
	Page     int    `json:"page,omitempty"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// ImagePlaceholderScheme prefixes image references emitted by converters before upload.
const ImagePlaceholderScheme = "image://"

// ConvertedDocument is the markdown rendition of a source document.
// Image placeholders use the image://<index> URL form.
type ConvertedDocument struct {
	SourceName  string           `json:"source_name"`
	DocumentID  string           `json:"document_id"`
	Markdown    string           `json:"markdown"`
	Images      []ExtractedImage `json:"images,omitempty"`
	PageCount   int              `json:"page_count"`
	ProcessedAt time.Time        `json:"processed_at"`
}

// Document status values.
const (
	DocumentPending    = "pending"
	DocumentProcessing = "processing"
	DocumentCompleted  = "completed"
	DocumentFailed     = "failed"
)

// DocumentRecord tracks ingestion of one uploaded document.
type DocumentRecord struct {
	ID          string       `json:"id" bson:"_id"`
	SourceName  string       `json:"source_name" bson:"source_name"`
	TenantID    string       `json:"tenant_id,omitempty" bson:"tenant_id,omitempty"`
	Status      string       `json:"status" bson:"status"`
	Stats       *IngestStats `json:"stats,omitempty" bson:"stats,omitempty"`
	Error       string       `json:"error,omitempty" bson:"error,omitempty"`
	TotalPages  int          `json:"total_pages" bson:"total_pages"`
	UploadedAt  time.Time    `json:"uploaded_at" bson:"uploaded_at"`
	ProcessedAt *time.Time   `json:"processed_at,omitempty" bson:"processed_at,omitempty"`
}

// IngestStats summarizes one ingestion run.
type IngestStats struct {
	Source             string       `json:"source" bson:"source"`
	DocumentID         string       `json:"document_id" bson:"document_id"`
	TotalPages         int          `json:"total_pages" bson:"total_pages"`
	ParentUnitCount    int          `json:"parent_unit_count" bson:"parent_unit_count"`
	ChildFragmentCount int          `json:"child_fragment_count" bson:"child_fragment_count"`
	TableCount         int          `json:"table_count" bson:"table_count"`
	TextSectionCount   int          `json:"text_section_count" bson:"text_section_count"`
	ImageCount         int          `json:"image_count" bson:"image_count"`
	ImagesUploaded     int          `json:"images_uploaded" bson:"images_uploaded"`
	FailedUnits        int          `json:"failed_units" bson:"failed_units"`
	Assignments        []Assignment `json:"assignments,omitempty" bson:"assignments,omitempty"`
}

// IndexStats reports index size by content kind.
type IndexStats struct {
	ParentUnits    int64                 `json:"parent_units"`
	ChildFragments int64                 `json:"child_fragments"`
	ByKind         map[ContentKind]int64 `json:"by_kind"`
	Documents      int64                 `json:"documents"`
}
