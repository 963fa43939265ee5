// Package pipeline runs the full ingestion path for one uploaded file:
// store the original bytes, extract or OCR the text, chunk it, embed the
// chunks, index the vectors, and only then record the document.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lexfind/lexfind-backend/internal/clients/gcs"
	"github.com/lexfind/lexfind-backend/internal/clients/pinecone"
	"github.com/lexfind/lexfind-backend/internal/domain"
	"github.com/lexfind/lexfind-backend/internal/index"
	"github.com/lexfind/lexfind-backend/internal/ingestion/chunker"
	"github.com/lexfind/lexfind-backend/internal/ingestion/extractor"
	"github.com/lexfind/lexfind-backend/internal/platform/logger"
	"github.com/lexfind/lexfind-backend/internal/repos"
)

var (
	// ErrFileTooLarge rejects uploads above the configured byte limit.
	ErrFileTooLarge = errors.New("file exceeds size limit")
	// ErrUnsupportedType rejects files outside the ingestible formats.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrNoExtractableText means extraction and OCR both produced nothing
	// worth indexing.
	ErrNoExtractableText = errors.New("no extractable text in document")
)

const (
	// DefaultMaxFileSize bounds one upload.
	DefaultMaxFileSize = 50 << 20

	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

// Transcriber OCRs a local file into plain text.
type Transcriber interface {
	Transcribe(ctx context.Context, path, mimeType string) (string, error)
}

// Embedder turns chunk texts into vectors, one per input, in order.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

type Config struct {
	MaxFileSize  int
	ChunkSize    int
	ChunkOverlap int
}

type Request struct {
	UserID   uuid.UUID
	FileName string
	MIMEType string
	Data     []byte

	// CaseName selects the vector namespace; empty means the shared
	// default case.
	CaseName string
	Metadata map[string]string
	Labels   []string
}

type Result struct {
	DocumentID uuid.UUID
	ChunkCount int
	CharCount  int
	StorageURL string
	Namespace  string
	UsedOCR    bool
	Elapsed    time.Duration
}

type Pipeline struct {
	log      *logger.Logger
	blobs    gcs.BlobStore
	ocr      Transcriber
	embedder Embedder
	vectors  pinecone.VectorStore
	docs     repos.DocumentRepo
	cfg      Config
}

func New(log *logger.Logger, blobs gcs.BlobStore, ocr Transcriber, embedder Embedder, vectors pinecone.VectorStore, docs repos.DocumentRepo, cfg Config) (*Pipeline, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if blobs == nil || ocr == nil || embedder == nil || vectors == nil || docs == nil {
		return nil, fmt.Errorf("all pipeline dependencies required")
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = defaultChunkOverlap
	}
	return &Pipeline{
		log:      log.With("component", "IngestionPipeline"),
		blobs:    blobs,
		ocr:      ocr,
		embedder: embedder,
		vectors:  vectors,
		docs:     docs,
		cfg:      cfg,
	}, nil
}

// Ingest processes one upload end to end. The document row is written last,
// after its vectors are durably indexed, so a visible document always has
// retrievable chunks.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()

	if len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrNoExtractableText)
	}
	if len(req.Data) > p.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, len(req.Data), p.cfg.MaxFileSize)
	}

	docType := extractor.Detect(req.FileName, req.MIMEType, req.Data)
	if docType == extractor.TypeUnknown {
		return nil, fmt.Errorf("%w: %q (%s)", ErrUnsupportedType, req.FileName, req.MIMEType)
	}

	docID := uuid.New()
	key := fmt.Sprintf("documents/%s/%s-%s", req.UserID, docID, sanitizeFileName(req.FileName))
	storageURL, err := p.blobs.Upload(ctx, key, req.MIMEType, bytes.NewReader(req.Data))
	if err != nil {
		return nil, fmt.Errorf("store original: %w", err)
	}

	text, err := extractor.Extract(ctx, req.Data, req.MIMEType, req.FileName)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}

	usedOCR := false
	if len(strings.TrimSpace(text)) < extractor.MinTextLength {
		text, err = p.transcribe(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("ocr fallback: %w", err)
		}
		usedOCR = true
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoExtractableText
	}

	meta := map[string]any{}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	chunks := chunker.Split(text, meta, docID.String(), p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return nil, ErrNoExtractableText
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}

	namespace := index.NormalizeNamespace(req.CaseName)
	uploadedAt := time.Now().UTC()
	pcVectors := make([]pinecone.Vector, len(chunks))
	for i, c := range chunks {
		pcVectors[i] = pinecone.Vector{
			ID:     fmt.Sprintf("%s-chunk-%d", docID, c.Index),
			Values: vectors[i],
			Metadata: map[string]any{
				"content":     c.Content,
				"document_id": docID.String(),
				"chunk_index": c.Index,
				"file_name":   req.FileName,
				"file_type":   docType.String(),
				"user_id":     req.UserID.String(),
				"uploaded_at": uploadedAt.Format(time.RFC3339),
			},
		}
	}
	if _, err := p.vectors.Upsert(ctx, namespace, pcVectors); err != nil {
		return nil, fmt.Errorf("index vectors: %w", err)
	}

	charCount := len([]rune(text))
	doc := &domain.Document{
		ID:         docID,
		UserID:     req.UserID,
		FileName:   req.FileName,
		FileType:   docType.String(),
		StorageURL: storageURL,
		Namespace:  namespace,
		ChunkCount: len(chunks),
		CharCount:  charCount,
		Metadata:   domain.MarshalJSONField(req.Metadata),
		Labels:     domain.MarshalJSONField(req.Labels),
		UploadedAt: uploadedAt,
		UpdatedAt:  uploadedAt,
	}
	chunkRows := make([]*domain.DocumentChunk, len(chunks))
	for i, c := range chunks {
		chunkRows[i] = &domain.DocumentChunk{
			ChunkIndex: c.Index,
			Content:    c.Content,
			StartChar:  c.StartChar,
			EndChar:    c.EndChar,
			CreatedAt:  uploadedAt,
		}
	}
	if _, err := p.docs.CreateWithChunks(ctx, nil, doc, chunkRows); err != nil {
		return nil, fmt.Errorf("persist document: %w", err)
	}

	p.log.Info("document ingested",
		"document_id", docID,
		"namespace", namespace,
		"chunks", len(chunks),
		"chars", charCount,
		"used_ocr", usedOCR,
		"elapsed", time.Since(started))

	return &Result{
		DocumentID: docID,
		ChunkCount: len(chunks),
		CharCount:  charCount,
		StorageURL: storageURL,
		Namespace:  namespace,
		UsedOCR:    usedOCR,
		Elapsed:    time.Since(started),
	}, nil
}

// transcribe writes the upload to a temp file for the OCR provider and
// removes it on every exit path.
func (p *Pipeline) transcribe(ctx context.Context, req Request) (string, error) {
	tmp, err := os.CreateTemp("", "lexfind-ocr-*"+filepath.Ext(req.FileName))
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(req.Data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return p.ocr.Transcribe(ctx, tmp.Name(), req.MIMEType)
}

func sanitizeFileName(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '-'
		}
	}, name)
}
