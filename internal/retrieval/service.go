// Package retrieval answers the two read paths over the vector index:
// document-level similarity search and grounded question answering.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lexfind/lexfind-backend/internal/clients/pinecone"
	"github.com/lexfind/lexfind-backend/internal/index"
	"github.com/lexfind/lexfind-backend/internal/platform/logger"
	"github.com/lexfind/lexfind-backend/internal/repos"
)

const (
	// searchChunkTopK is how many chunk matches feed document aggregation.
	searchChunkTopK = 20
	// searchMaxResults caps the aggregated per-document result list.
	searchMaxResults = 10

	// askChunkTopK is how many chunk matches are considered for an answer.
	askChunkTopK = 15
	// askContextChunks is how many of those become LLM context.
	askContextChunks = 10

	previewLength = 300
)

// InsufficientInfoAnswer is returned verbatim when the index holds nothing
// relevant; no model call is made, so nothing can be hallucinated.
const InsufficientInfoAnswer = "I could not find relevant information in the uploaded documents to answer this question."

// DegradedAnswer is returned when retrieval succeeded but answer generation
// failed; sources are still reported.
const DegradedAnswer = "I encountered an error while generating the answer. Please try asking again."

const answerSystemPrompt = "You are a legal research assistant. Answer strictly from the provided document excerpts. " +
	"Cite the source file names you rely on. If the excerpts do not contain the answer, say that the documents " +
	"do not contain enough information. Never invent facts, citations, or clauses."

// QueryEmbedder embeds one search query; failure is fatal for the request.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Answerer generates the final grounded answer text.
type Answerer interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type SearchRequest struct {
	UserID   uuid.UUID
	Query    string
	CaseName string
	Page     int
	PageSize int
}

type SearchResult struct {
	DocumentID uuid.UUID `json:"document_id"`
	FileName   string    `json:"file_name"`
	FileType   string    `json:"file_type"`
	Score      float64   `json:"score"`
	ChunkHits  int       `json:"chunk_hits"`
	Preview    string    `json:"preview"`
	Labels     []string  `json:"labels"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type SearchResponse struct {
	Results   []SearchResult `json:"results"`
	Namespace string         `json:"namespace"`
	Page      int            `json:"page"`
	PageSize  int            `json:"page_size"`
	Total     int            `json:"total"`
	ElapsedMS int64          `json:"elapsed_ms"`
}

type AskRequest struct {
	UserID   uuid.UUID
	Question string
	CaseName string
}

type Source struct {
	DocumentID string  `json:"document_id"`
	FileName   string  `json:"file_name"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Preview    string  `json:"preview"`
}

type Answer struct {
	Answer    string   `json:"answer"`
	Sources   []Source `json:"sources"`
	Namespace string   `json:"namespace"`
	ElapsedMS int64    `json:"elapsed_ms"`
}

type Service struct {
	log      *logger.Logger
	embedder QueryEmbedder
	vectors  pinecone.VectorStore
	docs     repos.DocumentRepo
	llm      Answerer
}

func NewService(log *logger.Logger, embedder QueryEmbedder, vectors pinecone.VectorStore, docs repos.DocumentRepo, llm Answerer) (*Service, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if embedder == nil || vectors == nil || docs == nil || llm == nil {
		return nil, fmt.Errorf("all retrieval dependencies required")
	}
	return &Service{
		log:      log.With("component", "RetrievalService"),
		embedder: embedder,
		vectors:  vectors,
		docs:     docs,
		llm:      llm,
	}, nil
}

// docScore accumulates chunk scores for one document during aggregation.
type docScore struct {
	id        uuid.UUID
	sum       float64
	count     int
	bestChunk string
	bestScore float64
	order     int
}

// Search embeds the query, aggregates chunk matches to document level by
// average score, and returns owned documents best-first. An empty or
// unknown namespace yields an empty result, not an error.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	started := time.Now()

	namespace := index.NormalizeNamespace(req.CaseName)
	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize <= 0 || pageSize > searchMaxResults {
		pageSize = searchMaxResults
	}
	empty := func() *SearchResponse {
		return &SearchResponse{
			Results:   []SearchResult{},
			Namespace: namespace,
			Page:      page,
			PageSize:  pageSize,
			ElapsedMS: time.Since(started).Milliseconds(),
		}
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return empty(), nil
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := s.vectors.Query(ctx, namespace, vector, searchChunkTopK, nil)
	if err != nil {
		if errors.Is(err, pinecone.ErrNamespaceNotFound) {
			return empty(), nil
		}
		return nil, err
	}

	scores := aggregateByDocument(matches)
	if len(scores) == 0 {
		return empty(), nil
	}

	ids := make([]uuid.UUID, 0, len(scores))
	for _, ds := range scores {
		ids = append(ids, ds.id)
	}
	// The ownership check happens here: documents the user does not own are
	// dropped even if their vectors matched.
	docs, err := s.docs.GetByIDs(ctx, nil, ids, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	byID := make(map[uuid.UUID]int, len(docs))
	for i, d := range docs {
		byID[d.ID] = i
	}

	all := make([]SearchResult, 0, len(scores))
	for _, ds := range scores {
		i, ok := byID[ds.id]
		if !ok {
			continue
		}
		d := docs[i]
		all = append(all, SearchResult{
			DocumentID: d.ID,
			FileName:   d.FileName,
			FileType:   d.FileType,
			Score:      ds.sum / float64(ds.count),
			ChunkHits:  ds.count,
			Preview:    makePreview(ds.bestChunk),
			Labels:     d.LabelSet(),
			UploadedAt: d.UploadedAt,
		})
		if len(all) == searchMaxResults {
			break
		}
	}

	start := (page - 1) * pageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return &SearchResponse{
		Results:   all[start:end],
		Namespace: namespace,
		Page:      page,
		PageSize:  pageSize,
		Total:     len(all),
		ElapsedMS: time.Since(started).Milliseconds(),
	}, nil
}

// Ask answers a question from indexed chunk content only. Chunk matches are
// filtered to the asking user inside the vector query itself.
func (s *Service) Ask(ctx context.Context, req AskRequest) (*Answer, error) {
	started := time.Now()
	namespace := index.NormalizeNamespace(req.CaseName)
	insufficient := func() *Answer {
		return &Answer{
			Answer:    InsufficientInfoAnswer,
			Sources:   []Source{},
			Namespace: namespace,
			ElapsedMS: time.Since(started).Milliseconds(),
		}
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return insufficient(), nil
	}

	vector, err := s.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}

	filter := map[string]any{"user_id": map[string]any{"$eq": req.UserID.String()}}
	matches, err := s.vectors.Query(ctx, namespace, vector, askChunkTopK, filter)
	if err != nil && !errors.Is(err, pinecone.ErrNamespaceNotFound) {
		return nil, err
	}
	if len(matches) == 0 {
		return insufficient(), nil
	}

	if len(matches) > askContextChunks {
		matches = matches[:askContextChunks]
	}

	var contextBlock strings.Builder
	sources := make([]Source, 0, len(matches))
	for i, m := range matches {
		content, _ := m.Metadata["content"].(string)
		fileName, _ := m.Metadata["file_name"].(string)
		docID, _ := m.Metadata["document_id"].(string)
		chunkIndex := 0
		if ci, ok := m.Metadata["chunk_index"].(float64); ok {
			chunkIndex = int(ci)
		}
		if content == "" {
			continue
		}
		fmt.Fprintf(&contextBlock, "[Source %d: %s]\n%s\n\n", i+1, fileName, content)
		sources = append(sources, Source{
			DocumentID: docID,
			FileName:   fileName,
			ChunkIndex: chunkIndex,
			Score:      m.Score,
			Preview:    makePreview(content),
		})
	}
	if contextBlock.Len() == 0 {
		return insufficient(), nil
	}

	userPrompt := fmt.Sprintf("Document excerpts:\n\n%sQuestion: %s", contextBlock.String(), question)
	text, err := s.llm.GenerateText(ctx, answerSystemPrompt, userPrompt)
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			s.log.Error("answer generation failed", "error", err)
		}
		text = DegradedAnswer
	}
	return &Answer{
		Answer:    text,
		Sources:   sources,
		Namespace: namespace,
		ElapsedMS: time.Since(started).Milliseconds(),
	}, nil
}

// aggregateByDocument averages chunk scores per document and sorts best
// first. Ties keep first-seen order, which follows the match ranking.
func aggregateByDocument(matches []pinecone.QueryMatch) []*docScore {
	byDoc := map[uuid.UUID]*docScore{}
	var order []*docScore
	for _, m := range matches {
		rawID, _ := m.Metadata["document_id"].(string)
		id, err := uuid.Parse(rawID)
		if err != nil {
			continue
		}
		ds, ok := byDoc[id]
		if !ok {
			ds = &docScore{id: id, order: len(order)}
			byDoc[id] = ds
			order = append(order, ds)
		}
		ds.sum += m.Score
		ds.count++
		if content, ok := m.Metadata["content"].(string); ok && (ds.count == 1 || m.Score > ds.bestScore) {
			ds.bestScore = m.Score
			ds.bestChunk = content
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		avgA := a.sum / float64(a.count)
		avgB := b.sum / float64(b.count)
		if avgA != avgB {
			return avgA > avgB
		}
		return a.order < b.order
	})
	return order
}

func makePreview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLength {
		return content
	}
	return string(runes[:previewLength]) + "..."
}
