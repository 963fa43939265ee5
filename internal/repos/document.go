package repos

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lexfind/lexfind-backend/internal/domain"
	"github.com/lexfind/lexfind-backend/internal/platform/logger"
)

// LabelOp is a label mutation mode.
type LabelOp string

const (
	LabelOpAdd    LabelOp = "add"
	LabelOpRemove LabelOp = "remove"
	LabelOpSet    LabelOp = "set"
)

// ErrInvalidLabelOp reports an op value outside add/remove/set.
var ErrInvalidLabelOp = errors.New("invalid label operation")

// DocumentRepo is owner-scoped: every read and write takes the requesting
// user's id, and rows belonging to other users behave as if absent.
type DocumentRepo interface {
	CreateWithChunks(ctx context.Context, tx *gorm.DB, doc *domain.Document, chunks []*domain.DocumentChunk) (*domain.Document, error)
	GetByID(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID) (*domain.Document, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, userID uuid.UUID) ([]*domain.Document, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*domain.Document, error)
	DistinctLabels(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]string, error)
	UpdateLabels(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID, op LabelOp, labels []string) (*domain.Document, error)
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return &documentRepo{db: db, log: baseLog.With("repo", "DocumentRepo")}
}

// CreateWithChunks persists the document row together with its chunk rows.
// One transaction: a document must never exist without its chunks.
func (r *documentRepo) CreateWithChunks(ctx context.Context, tx *gorm.DB, doc *domain.Document, chunks []*domain.DocumentChunk) (*domain.Document, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	err := transaction.WithContext(ctx).Transaction(func(t *gorm.DB) error {
		if err := t.Create(doc).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		for _, c := range chunks {
			if c.ID == uuid.Nil {
				c.ID = uuid.New()
			}
			c.DocumentID = doc.ID
		}
		// Keep batches small because Content is large.
		const batchSize = 100
		return t.CreateInBatches(chunks, batchSize).Error
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *documentRepo) GetByID(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID) (*domain.Document, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var doc domain.Document
	err := transaction.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetByIDs returns only the requested documents the user owns; ids owned by
// someone else are silently dropped, never surfaced as an error.
func (r *documentRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, userID uuid.UUID) ([]*domain.Document, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*domain.Document
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ? AND user_id = ?", ids, userID).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *documentRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*domain.Document, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*domain.Document
	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("uploaded_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// DistinctLabels merges the label arrays of all the user's documents into a
// sorted, deduplicated list. Merging happens in Go so the query stays
// portable across Postgres and the sqlite used in tests.
func (r *documentRepo) DistinctLabels(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]string, error) {
	docs, err := r.ListByUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, d := range docs {
		for _, l := range d.LabelSet() {
			if l == "" || seen[l] {
				continue
			}
			seen[l] = true
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out, nil
}

// UpdateLabels applies an add/remove/set mutation to one owned document's
// label set, collapsing duplicates and preserving first-seen order.
func (r *documentRepo) UpdateLabels(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID, op LabelOp, labels []string) (*domain.Document, error) {
	switch op {
	case LabelOpAdd, LabelOpRemove, LabelOpSet:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidLabelOp, op)
	}

	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var doc *domain.Document
	err := transaction.WithContext(ctx).Transaction(func(t *gorm.DB) error {
		var err error
		doc, err = r.GetByID(ctx, t, id, userID)
		if err != nil {
			return err
		}
		next := applyLabelOp(doc.LabelSet(), op, labels)
		doc.Labels = domain.MarshalJSONField(next)
		doc.UpdatedAt = time.Now().UTC()
		return t.Model(&domain.Document{}).
			Where("id = ?", doc.ID).
			Updates(map[string]any{"labels": doc.Labels, "updated_at": doc.UpdatedAt}).Error
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func applyLabelOp(current []string, op LabelOp, labels []string) []string {
	switch op {
	case LabelOpSet:
		return dedupe(labels)
	case LabelOpAdd:
		return dedupe(append(append([]string{}, current...), labels...))
	case LabelOpRemove:
		drop := map[string]bool{}
		for _, l := range labels {
			drop[l] = true
		}
		out := []string{}
		for _, l := range current {
			if !drop[l] {
				out = append(out, l)
			}
		}
		return out
	}
	return current
}

func dedupe(labels []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, l := range labels {
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}
