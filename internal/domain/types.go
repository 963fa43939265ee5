package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// User is the owner identity a bearer credential resolves to.
type User struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email    string    `gorm:"type:text;not null;uniqueIndex" json:"email"`
	Password string    `gorm:"type:text;not null" json:"-"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string { return "users" }

// Document is one uploaded file after a fully successful ingestion. The row is
// written only after its chunk vectors are durably stored in the index, so a
// Document always has retrievable vectors under Namespace.
type Document struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	FileName   string `gorm:"type:text;not null" json:"file_name"`
	FileType   string `gorm:"type:text;not null" json:"file_type"`
	StorageURL string `gorm:"type:text;not null" json:"storage_url"`
	Namespace  string `gorm:"type:text;not null;index" json:"namespace"`

	ChunkCount int `gorm:"not null;default:0" json:"chunk_count"`
	CharCount  int `gorm:"not null;default:0" json:"char_count"`

	Metadata datatypes.JSON `gorm:"type:jsonb" json:"metadata"`
	Labels   datatypes.JSON `gorm:"type:jsonb" json:"labels"`

	UploadedAt time.Time `gorm:"not null;index" json:"uploaded_at"`
	UpdatedAt  time.Time `gorm:"not null" json:"updated_at"`
}

func (Document) TableName() string { return "documents" }

// LabelSet decodes the Labels column; a missing/null column is an empty set.
func (d *Document) LabelSet() []string {
	if len(d.Labels) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(d.Labels, &out); err != nil {
		return nil
	}
	return out
}

// MetadataMap decodes the Metadata column.
func (d *Document) MetadataMap() map[string]any {
	if len(d.Metadata) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(d.Metadata, &out); err != nil {
		return nil
	}
	return out
}

// DocumentChunk is one contiguous slice of a document's extracted text.
// Chunks are immutable once written; re-ingesting a file produces a new
// document id and a new chunk set rather than mutating these rows.
type DocumentChunk struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID uuid.UUID `gorm:"type:uuid;not null;index:idx_chunk_doc_index,unique,priority:1" json:"document_id"`
	ChunkIndex int       `gorm:"not null;index:idx_chunk_doc_index,unique,priority:2" json:"chunk_index"`

	Content   string `gorm:"type:text;not null" json:"content"`
	StartChar int    `gorm:"not null" json:"start_char"`
	EndChar   int    `gorm:"not null" json:"end_char"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (DocumentChunk) TableName() string { return "document_chunks" }

// MarshalJSONField is the single place a Go value becomes a jsonb column.
func MarshalJSONField(v any) datatypes.JSON {
	if v == nil {
		return datatypes.JSON("null")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(b)
}
