package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lexfind/lexfind-backend/internal/clients/pinecone"
	"github.com/lexfind/lexfind-backend/internal/domain"
	"github.com/lexfind/lexfind-backend/internal/platform/logger"
	"github.com/lexfind/lexfind-backend/internal/repos"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.5, 0.5}, nil
}

type fakeVectors struct {
	matches   []pinecone.QueryMatch
	err       error
	gotFilter map[string]any
	gotNS     string
	gotTopK   int
}

func (f *fakeVectors) EnsureIndex(ctx context.Context) error { return nil }
func (f *fakeVectors) Upsert(ctx context.Context, namespace string, vectors []pinecone.Vector) (int64, error) {
	return 0, nil
}
func (f *fakeVectors) Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]any) ([]pinecone.QueryMatch, error) {
	f.gotNS = namespace
	f.gotTopK = topK
	f.gotFilter = filter
	if f.err != nil {
		return nil, f.err
	}
	return f.matches, nil
}

// fakeDocs serves only the documents whose UserID matches the caller.
type fakeDocs struct {
	docs map[uuid.UUID]*domain.Document
}

func (f *fakeDocs) CreateWithChunks(ctx context.Context, tx *gorm.DB, doc *domain.Document, chunks []*domain.DocumentChunk) (*domain.Document, error) {
	return doc, nil
}
func (f *fakeDocs) GetByID(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID) (*domain.Document, error) {
	d, ok := f.docs[id]
	if !ok || d.UserID != userID {
		return nil, repos.ErrNotFound
	}
	return d, nil
}
func (f *fakeDocs) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, userID uuid.UUID) ([]*domain.Document, error) {
	var out []*domain.Document
	for _, id := range ids {
		if d, ok := f.docs[id]; ok && d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}
func (f *fakeDocs) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*domain.Document, error) {
	return nil, nil
}
func (f *fakeDocs) DistinctLabels(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]string, error) {
	return nil, nil
}
func (f *fakeDocs) UpdateLabels(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID, op repos.LabelOp, labels []string) (*domain.Document, error) {
	return nil, repos.ErrNotFound
}

type spyLLM struct {
	calls    int
	lastUser string
	answer   string
	err      error
}

func (s *spyLLM) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	s.calls++
	s.lastUser = userPrompt
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

func chunkMatch(docID uuid.UUID, idx int, score float64, content, fileName string) pinecone.QueryMatch {
	return pinecone.QueryMatch{
		ID:    docID.String() + "-chunk-0",
		Score: score,
		Metadata: map[string]any{
			"content":     content,
			"document_id": docID.String(),
			"chunk_index": float64(idx),
			"file_name":   fileName,
		},
	}
}

func newTestService(t *testing.T, v *fakeVectors, d *fakeDocs, llm *spyLLM) *Service {
	t.Helper()
	if d == nil {
		d = &fakeDocs{docs: map[uuid.UUID]*domain.Document{}}
	}
	if llm == nil {
		llm = &spyLLM{answer: "grounded answer"}
	}
	svc, err := NewService(logger.NewNop(), &fakeEmbedder{}, v, d, llm)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func ownedDoc(userID uuid.UUID, name string) *domain.Document {
	return &domain.Document{
		ID:         uuid.New(),
		UserID:     userID,
		FileName:   name,
		FileType:   "text/plain",
		UploadedAt: time.Now().UTC(),
	}
}

func TestSearchAggregatesByAverageScore(t *testing.T) {
	userID := uuid.New()
	docA := ownedDoc(userID, "a.txt")
	docB := ownedDoc(userID, "b.txt")

	v := &fakeVectors{matches: []pinecone.QueryMatch{
		// docA: one strong chunk, one weak one. Average 0.55.
		chunkMatch(docA.ID, 0, 0.9, "strong chunk", "a.txt"),
		chunkMatch(docA.ID, 1, 0.2, "weak chunk", "a.txt"),
		// docB: single 0.7 chunk. Average 0.7, so docB ranks first.
		chunkMatch(docB.ID, 0, 0.7, "only chunk", "b.txt"),
	}}
	d := &fakeDocs{docs: map[uuid.UUID]*domain.Document{docA.ID: docA, docB.ID: docB}}
	svc := newTestService(t, v, d, nil)

	resp, err := svc.Search(context.Background(), SearchRequest{UserID: userID, Query: "damages"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	results := resp.Results
	if len(results) != 2 {
		t.Fatalf("results: want=2 got=%d", len(results))
	}
	if resp.Total != 2 {
		t.Fatalf("total: want=2 got=%d", resp.Total)
	}
	if results[0].DocumentID != docB.ID {
		t.Fatalf("first result: want docB, got %s", results[0].FileName)
	}
	if results[0].Score != 0.7 {
		t.Fatalf("docB score: want=0.7 got=%v", results[0].Score)
	}
	if got := results[1].Score; got < 0.549 || got > 0.551 {
		t.Fatalf("docA average score: want=0.55 got=%v", got)
	}
	if results[1].ChunkHits != 2 {
		t.Fatalf("docA chunk hits: want=2 got=%d", results[1].ChunkHits)
	}
	// Preview comes from the best-scoring chunk.
	if results[1].Preview != "strong chunk" {
		t.Fatalf("docA preview: want strong chunk, got %q", results[1].Preview)
	}
	if v.gotTopK != searchChunkTopK {
		t.Fatalf("topK: want=%d got=%d", searchChunkTopK, v.gotTopK)
	}
}

func TestSearchExcludesForeignDocuments(t *testing.T) {
	owner, stranger := uuid.New(), uuid.New()
	mine := ownedDoc(owner, "mine.txt")
	theirs := ownedDoc(stranger, "theirs.txt")

	v := &fakeVectors{matches: []pinecone.QueryMatch{
		chunkMatch(theirs.ID, 0, 0.99, "secret content", "theirs.txt"),
		chunkMatch(mine.ID, 0, 0.4, "my content", "mine.txt"),
	}}
	d := &fakeDocs{docs: map[uuid.UUID]*domain.Document{mine.ID: mine, theirs.ID: theirs}}
	svc := newTestService(t, v, d, nil)

	resp, err := svc.Search(context.Background(), SearchRequest{UserID: owner, Query: "secret"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].DocumentID != mine.ID {
		t.Fatalf("foreign document leaked into results: %+v", resp.Results)
	}
}

func TestSearchUnknownNamespaceIsEmpty(t *testing.T) {
	v := &fakeVectors{err: pinecone.ErrNamespaceNotFound}
	svc := newTestService(t, v, nil, nil)

	resp, err := svc.Search(context.Background(), SearchRequest{UserID: uuid.New(), Query: "anything", CaseName: "unknown case"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Fatalf("want empty results, got %d", len(resp.Results))
	}
	if resp.Namespace != "unknown-case" {
		t.Fatalf("namespace: want=unknown-case got=%s", resp.Namespace)
	}
}

func TestSearchLongPreviewIsTruncated(t *testing.T) {
	userID := uuid.New()
	doc := ownedDoc(userID, "long.txt")
	long := strings.Repeat("x", 500)

	v := &fakeVectors{matches: []pinecone.QueryMatch{chunkMatch(doc.ID, 0, 0.8, long, "long.txt")}}
	d := &fakeDocs{docs: map[uuid.UUID]*domain.Document{doc.ID: doc}}
	svc := newTestService(t, v, d, nil)

	resp, err := svc.Search(context.Background(), SearchRequest{UserID: userID, Query: "x"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := strings.Repeat("x", 300) + "..."
	if resp.Results[0].Preview != want {
		t.Fatalf("preview length: want=%d got=%d", len(want), len(resp.Results[0].Preview))
	}
}

func TestAskWithNoMatchesSkipsLLM(t *testing.T) {
	v := &fakeVectors{}
	llm := &spyLLM{answer: "should never be used"}
	svc := newTestService(t, v, nil, llm)

	ans, err := svc.Ask(context.Background(), AskRequest{UserID: uuid.New(), Question: "what does clause 9 say?"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Answer != InsufficientInfoAnswer {
		t.Fatalf("answer: want fixed insufficient-info text, got %q", ans.Answer)
	}
	if llm.calls != 0 {
		t.Fatalf("LLM must not be called with no matches, calls=%d", llm.calls)
	}
	if len(ans.Sources) != 0 {
		t.Fatalf("sources: want none, got %d", len(ans.Sources))
	}
}

func TestAskFiltersByUser(t *testing.T) {
	userID := uuid.New()
	doc := ownedDoc(userID, "lease.txt")
	v := &fakeVectors{matches: []pinecone.QueryMatch{chunkMatch(doc.ID, 2, 0.8, "tenant must pay rent monthly", "lease.txt")}}
	llm := &spyLLM{answer: "The tenant pays rent monthly."}
	svc := newTestService(t, v, nil, llm)

	ans, err := svc.Ask(context.Background(), AskRequest{UserID: userID, Question: "when is rent due?", CaseName: "Lease Case"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if v.gotNS != "lease-case" {
		t.Fatalf("namespace: want=lease-case got=%s", v.gotNS)
	}
	eq, ok := v.gotFilter["user_id"].(map[string]any)
	if !ok || eq["$eq"] != userID.String() {
		t.Fatalf("query filter missing user scope: %+v", v.gotFilter)
	}
	if ans.Answer != "The tenant pays rent monthly." {
		t.Fatalf("unexpected answer: %q", ans.Answer)
	}
	if len(ans.Sources) != 1 || ans.Sources[0].ChunkIndex != 2 {
		t.Fatalf("unexpected sources: %+v", ans.Sources)
	}
	if !strings.Contains(llm.lastUser, "tenant must pay rent monthly") {
		t.Fatal("chunk content missing from LLM prompt")
	}
}

func TestAskDegradesOnLLMFailure(t *testing.T) {
	doc := ownedDoc(uuid.New(), "brief.txt")
	v := &fakeVectors{matches: []pinecone.QueryMatch{chunkMatch(doc.ID, 0, 0.9, "relevant text", "brief.txt")}}
	llm := &spyLLM{err: errors.New("model unavailable")}
	svc := newTestService(t, v, nil, llm)

	ans, err := svc.Ask(context.Background(), AskRequest{UserID: doc.UserID, Question: "summarize"})
	if err != nil {
		t.Fatalf("Ask should not escalate LLM failure: %v", err)
	}
	if ans.Answer != DegradedAnswer {
		t.Fatalf("want degraded answer, got %q", ans.Answer)
	}
	if len(ans.Sources) != 1 {
		t.Fatalf("sources must survive a failed generation, got %d", len(ans.Sources))
	}
}

func TestAskLimitsContextChunks(t *testing.T) {
	userID := uuid.New()
	var matches []pinecone.QueryMatch
	for i := 0; i < askChunkTopK; i++ {
		matches = append(matches, chunkMatch(uuid.New(), i, 0.9-float64(i)*0.01, "content", "f.txt"))
	}
	v := &fakeVectors{matches: matches}
	llm := &spyLLM{answer: "ok"}
	svc := newTestService(t, v, nil, llm)

	ans, err := svc.Ask(context.Background(), AskRequest{UserID: userID, Question: "q"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(ans.Sources) != askContextChunks {
		t.Fatalf("context chunks: want=%d got=%d", askContextChunks, len(ans.Sources))
	}
	if v.gotTopK != askChunkTopK {
		t.Fatalf("topK: want=%d got=%d", askChunkTopK, v.gotTopK)
	}
}

func TestSearchPagination(t *testing.T) {
	userID := uuid.New()
	docsMap := map[uuid.UUID]*domain.Document{}
	var matches []pinecone.QueryMatch
	for i := 0; i < 5; i++ {
		d := ownedDoc(userID, fmt.Sprintf("doc-%d.txt", i))
		docsMap[d.ID] = d
		matches = append(matches, chunkMatch(d.ID, 0, 0.9-float64(i)*0.1, "content", d.FileName))
	}
	v := &fakeVectors{matches: matches}
	svc := newTestService(t, v, &fakeDocs{docs: docsMap}, nil)

	resp, err := svc.Search(context.Background(), SearchRequest{UserID: userID, Query: "q", Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Total != 5 {
		t.Fatalf("total: want=5 got=%d", resp.Total)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("page 2 size: want=2 got=%d", len(resp.Results))
	}
	if resp.Results[0].FileName != "doc-2.txt" {
		t.Fatalf("page 2 first result: want=doc-2.txt got=%s", resp.Results[0].FileName)
	}
}
