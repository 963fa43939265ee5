package pipeline

import (
	"context"
	"math"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/lexfind/lexfind-backend/internal/clients/pinecone"
	"github.com/lexfind/lexfind-backend/internal/platform/logger"
	"github.com/lexfind/lexfind-backend/internal/retrieval"
)

// bowEmbedder embeds text as keyword counts over a fixed vocabulary, so
// similar texts get similar vectors without a model.
type bowEmbedder struct{}

var vocab = []string{"notice", "days", "terminate", "lease", "rent", "deposit", "landlord", "tenant"}

func bowVector(text string) []float32 {
	lower := strings.ToLower(text)
	v := make([]float32, len(vocab))
	for i, w := range vocab {
		v[i] = float32(strings.Count(lower, w))
	}
	return v
}

func (bowEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = bowVector(t)
	}
	return out, nil
}

func (bowEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return bowVector(query), nil
}

// memVectorStore is a real similarity index over cosine distance, scoped by
// namespace and honoring the user_id equality filter.
type memVectorStore struct {
	namespaces map[string][]pinecone.Vector
}

func newMemVectorStore() *memVectorStore {
	return &memVectorStore{namespaces: map[string][]pinecone.Vector{}}
}

func (m *memVectorStore) EnsureIndex(ctx context.Context) error { return nil }

func (m *memVectorStore) Upsert(ctx context.Context, namespace string, vectors []pinecone.Vector) (int64, error) {
	m.namespaces[namespace] = append(m.namespaces[namespace], vectors...)
	return int64(len(vectors)), nil
}

func (m *memVectorStore) Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]any) ([]pinecone.QueryMatch, error) {
	stored, ok := m.namespaces[namespace]
	if !ok {
		return nil, pinecone.ErrNamespaceNotFound
	}
	var matches []pinecone.QueryMatch
	for _, v := range stored {
		if !matchesFilter(v.Metadata, filter) {
			continue
		}
		matches = append(matches, pinecone.QueryMatch{
			ID:       v.ID,
			Score:    cosine(vector, v.Values),
			Metadata: v.Metadata,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func matchesFilter(meta, filter map[string]any) bool {
	if filter == nil {
		return true
	}
	for key, cond := range filter {
		eq, ok := cond.(map[string]any)
		if !ok {
			return false
		}
		if meta[key] != eq["$eq"] {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type recordingLLM struct {
	lastUser string
}

func (r *recordingLLM) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	r.lastUser = userPrompt
	return "Either party may terminate the lease with 30 days notice.", nil
}

func TestIngestThenRetrieveRoundTrip(t *testing.T) {
	store := newMemVectorStore()
	docs := &fakeDocs{}
	embedder := bowEmbedder{}
	userID := uuid.New()

	p, err := New(logger.NewNop(), &fakeBlob{}, &fakeOCR{}, embedder, store, docs, Config{ChunkSize: 200, ChunkOverlap: 40})
	if err != nil {
		t.Fatalf("New pipeline: %v", err)
	}

	lease := strings.Repeat("The premises are leased for residential use only. ", 5) +
		"Either party may terminate this lease by providing 30 days notice in writing. " +
		strings.Repeat("The tenant shall keep the premises in good repair. ", 5)
	res, err := p.Ingest(context.Background(), Request{
		UserID:   userID,
		FileName: "lease.txt",
		MIMEType: "text/plain",
		Data:     []byte(lease),
		CaseName: "Rental Dispute",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	llm := &recordingLLM{}
	svc, err := retrieval.NewService(logger.NewNop(), embedder, store, docs, llm)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	searchResp, err := svc.Search(context.Background(), retrieval.SearchRequest{
		UserID:   userID,
		Query:    "how many days notice to terminate the lease",
		CaseName: "Rental Dispute",
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(searchResp.Results) != 1 || searchResp.Results[0].DocumentID != res.DocumentID {
		t.Fatalf("ingested document not found by search: %+v", searchResp.Results)
	}

	answer, err := svc.Ask(context.Background(), retrieval.AskRequest{
		UserID:   userID,
		Question: "how many days notice to terminate the lease",
		CaseName: "Rental Dispute",
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !strings.Contains(llm.lastUser, "30 days notice") {
		t.Fatal("indexed chunk content did not reach the answer prompt")
	}
	if len(answer.Sources) == 0 || answer.Sources[0].DocumentID != res.DocumentID.String() {
		t.Fatalf("answer sources missing ingested document: %+v", answer.Sources)
	}

	// A different user sees nothing in the same namespace.
	otherResp, err := svc.Search(context.Background(), retrieval.SearchRequest{
		UserID:   uuid.New(),
		Query:    "notice to terminate",
		CaseName: "Rental Dispute",
	})
	if err != nil {
		t.Fatalf("Search as other user: %v", err)
	}
	if len(otherResp.Results) != 0 {
		t.Fatalf("foreign user sees results: %+v", otherResp.Results)
	}
}
