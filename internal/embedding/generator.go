// Package embedding turns chunk texts and queries into vectors, hiding
// batching, concurrency, and failure fallback from callers.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/lexfind/lexfind-backend/internal/platform/logger"
)

// ErrQueryEmbedding reports a failed query embedding. Unlike document
// embedding there is no useful fallback: a zero vector would match
// arbitrary content, so the search must fail instead.
var ErrQueryEmbedding = errors.New("query embedding failed")

const (
	// DefaultDimension is the vector width of the embedding model; zero
	// vectors padded in on failure keep this width so the index stays
	// consistent.
	DefaultDimension = 768

	defaultBatchSize   = 100
	defaultConcurrency = 4
)

// Provider is the raw model call. Implemented by the Gemini client;
// generators own everything above it.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

type Config struct {
	Dimension   int
	BatchSize   int
	Concurrency int
}

type Generator struct {
	log      *logger.Logger
	provider Provider
	cfg      Config
}

func NewGenerator(log *logger.Logger, provider Provider, cfg Config) (*Generator, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if provider == nil {
		return nil, fmt.Errorf("embedding provider required")
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Generator{
		log:      log.With("component", "EmbeddingGenerator"),
		provider: provider,
		cfg:      cfg,
	}, nil
}

func (g *Generator) Dimension() int {
	return g.cfg.Dimension
}

// EmbedDocuments embeds texts in batches, running batches concurrently.
// The result always has len(texts) vectors in input order. When a whole
// batch fails it is retried one text at a time, and any text that still
// fails gets a zero vector so ingestion can proceed without it.
func (g *Generator) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(g.cfg.Concurrency)
	for start := 0; start < len(texts); start += g.cfg.BatchSize {
		end := start + g.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end
		grp.Go(func() error {
			g.embedBatchInto(gctx, texts[start:end], out[start:end])
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *Generator) embedBatchInto(ctx context.Context, texts []string, dst [][]float32) {
	vectors, err := g.provider.EmbedBatch(ctx, texts)
	if err == nil && len(vectors) == len(texts) {
		copy(dst, vectors)
		return
	}
	if err != nil {
		g.log.Warn("batch embed failed, falling back to per-text", "batch_size", len(texts), "error", err)
	}
	for i, t := range texts {
		v, err := g.provider.EmbedOne(ctx, t)
		if err != nil || len(v) == 0 {
			g.log.Warn("embedding failed, using zero vector", "index", i, "error", err)
			v = make([]float32, g.cfg.Dimension)
		}
		dst[i] = v
	}
}

// EmbedQuery embeds a single search query. Failure is fatal.
func (g *Generator) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	v, err := g.provider.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryEmbedding, err)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrQueryEmbedding)
	}
	return v, nil
}
