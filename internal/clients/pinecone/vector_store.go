package pinecone

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lexfind/lexfind-backend/internal/platform/httpx"
	"github.com/lexfind/lexfind-backend/internal/platform/logger"
	"github.com/lexfind/lexfind-backend/internal/platform/retry"
)

// ErrNamespaceNotFound reports a query against a namespace (or index) that
// holds no vectors yet. Callers treat it as an empty result or a 404,
// never as a server fault.
var ErrNamespaceNotFound = errors.New("vector namespace not found")

// ErrIndexNotReady reports that the index did not become ready within the
// configured readiness window.
var ErrIndexNotReady = errors.New("vector index not ready")

const (
	// Pinecone rejects upsert payloads above this vector count.
	maxUpsertBatch = 100

	defaultReadyAttempts = 30
	defaultReadyInterval = 10 * time.Second
)

// VectorStore is the storage-facing gateway: it owns index lifecycle,
// batching, and namespace semantics so callers deal only in vectors.
type VectorStore interface {
	EnsureIndex(ctx context.Context) error
	Upsert(ctx context.Context, namespace string, vectors []Vector) (int64, error)
	Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]any) ([]QueryMatch, error)
}

type VectorStoreConfig struct {
	IndexName string
	Dimension int
	Metric    string
	Cloud     string
	Region    string

	// Readiness polling after index creation.
	ReadyAttempts int
	ReadyInterval time.Duration

	// Sleep is injectable for tests; nil means time.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

type vectorStore struct {
	log    *logger.Logger
	client Client
	cfg    VectorStoreConfig

	// mu guards host. Concurrent first requests serialize on it so the
	// index is resolved exactly once.
	mu   sync.Mutex
	host string
}

func NewVectorStore(log *logger.Logger, client Client, cfg VectorStoreConfig) (VectorStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if client == nil {
		return nil, fmt.Errorf("pinecone client required")
	}
	if strings.TrimSpace(cfg.IndexName) == "" {
		return nil, fmt.Errorf("index name required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("index dimension required")
	}
	if strings.TrimSpace(cfg.Metric) == "" {
		cfg.Metric = "cosine"
	}
	if strings.TrimSpace(cfg.Cloud) == "" {
		cfg.Cloud = "aws"
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.ReadyAttempts <= 0 {
		cfg.ReadyAttempts = defaultReadyAttempts
	}
	if cfg.ReadyInterval <= 0 {
		cfg.ReadyInterval = defaultReadyInterval
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	return &vectorStore{
		log:    log.With("component", "VectorStore", "index", cfg.IndexName),
		client: client,
		cfg:    cfg,
	}, nil
}

// EnsureIndex makes the configured index exist and be ready, creating it on
// first use. Safe to call repeatedly and from concurrent requests; after the
// first success the cached host is returned without a control-plane call.
func (s *vectorStore) EnsureIndex(ctx context.Context) error {
	_, err := s.resolveHost(ctx)
	return err
}

func (s *vectorStore) resolveHost(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.host != "" {
		return s.host, nil
	}

	indexes, err := s.client.ListIndexes(ctx)
	if err != nil {
		return "", fmt.Errorf("ensure index: %w", err)
	}
	for _, idx := range indexes {
		if idx.Name == s.cfg.IndexName {
			if idx.Status.Ready {
				s.host = idx.Host
				return s.host, nil
			}
			if err := s.waitReady(ctx); err != nil {
				return "", err
			}
			return s.host, nil
		}
	}

	s.log.Info("creating vector index", "dimension", s.cfg.Dimension, "metric", s.cfg.Metric)
	err = s.client.CreateIndex(ctx, CreateIndexRequest{
		Name:      s.cfg.IndexName,
		Dimension: s.cfg.Dimension,
		Metric:    s.cfg.Metric,
		Spec: IndexSpec{Serverless: &ServerlessSpec{
			Cloud:  s.cfg.Cloud,
			Region: s.cfg.Region,
		}},
	})
	if err != nil {
		// A concurrent creator may have won the race.
		var he *HTTPError
		if !errors.As(err, &he) || he.StatusCode != 409 {
			return "", fmt.Errorf("ensure index: %w", err)
		}
	}
	if err := s.waitReady(ctx); err != nil {
		return "", err
	}
	return s.host, nil
}

// waitReady polls until the index reports ready. Caller holds s.mu.
func (s *vectorStore) waitReady(ctx context.Context) error {
	for attempt := 1; attempt <= s.cfg.ReadyAttempts; attempt++ {
		desc, err := s.client.DescribeIndex(ctx, s.cfg.IndexName)
		if err == nil && desc.Status.Ready {
			s.host = desc.Host
			return nil
		}
		if err != nil {
			s.log.Warn("describe index during readiness wait", "attempt", attempt, "error", err)
		}
		if attempt == s.cfg.ReadyAttempts {
			break
		}
		if err := s.cfg.Sleep(ctx, s.cfg.ReadyInterval); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts", ErrIndexNotReady, s.cfg.ReadyAttempts)
}

// Upsert writes vectors in batches of at most 100 and returns the total
// upserted count. A failed batch aborts the remainder.
func (s *vectorStore) Upsert(ctx context.Context, namespace string, vectors []Vector) (int64, error) {
	host, err := s.resolveHost(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for start := 0; start < len(vectors); start += maxUpsertBatch {
		end := start + maxUpsertBatch
		if end > len(vectors) {
			end = len(vectors)
		}
		batch := vectors[start:end]
		var resp *UpsertResponse
		err := retry.Do(ctx, retry.Config{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}, func(ctx context.Context) error {
			var err error
			resp, err = s.client.UpsertVectors(ctx, host, UpsertRequest{
				Vectors:   batch,
				Namespace: namespace,
			})
			return err
		})
		if err != nil {
			return total, fmt.Errorf("upsert batch [%d:%d] ns=%q: %w", start, end, namespace, err)
		}
		total += resp.UpsertedCount
	}
	s.log.Debug("upserted vectors", "namespace", namespace, "count", total)
	return total, nil
}

// Query runs a similarity search over one namespace. An unknown namespace
// or index maps to ErrNamespaceNotFound.
func (s *vectorStore) Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]any) ([]QueryMatch, error) {
	host, err := s.resolveHost(ctx)
	if err != nil {
		return nil, err
	}
	var resp *QueryResponse
	err = retry.Do(ctx, retry.Config{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, Retryable: httpx.IsRetryableError}, func(ctx context.Context) error {
		var err error
		resp, err = s.client.Query(ctx, host, QueryRequest{
			Namespace:       namespace,
			Vector:          vector,
			TopK:            topK,
			Filter:          filter,
			IncludeMetadata: true,
		})
		return err
	})
	if err != nil {
		var he *HTTPError
		if errors.As(err, &he) && he.StatusCode == 404 {
			return nil, fmt.Errorf("namespace %q: %w", namespace, ErrNamespaceNotFound)
		}
		return nil, fmt.Errorf("query ns=%q: %w", namespace, err)
	}
	return resp.Matches, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
