package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lexfind/lexfind-backend/internal/domain"
	"github.com/lexfind/lexfind-backend/internal/middleware"
	"github.com/lexfind/lexfind-backend/internal/platform/logger"
	"github.com/lexfind/lexfind-backend/internal/repos"
	"github.com/lexfind/lexfind-backend/internal/services"
)

// stubVerifier maps one fixed bearer token to one user id.
type stubVerifier struct {
	token  string
	userID uuid.UUID
}

func (s *stubVerifier) SignUp(ctx context.Context, email, password string) (*domain.User, string, error) {
	return nil, "", services.ErrInvalidCredentials
}

func (s *stubVerifier) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	return nil, "", services.ErrInvalidCredentials
}

func (s *stubVerifier) Verify(token string) (uuid.UUID, error) {
	if token == s.token {
		return s.userID, nil
	}
	return uuid.Nil, services.ErrInvalidToken
}

func newDocumentTestRouter(t *testing.T, userID uuid.UUID) (*gin.Engine, repos.DocumentRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(&domain.User{}, &domain.Document{}, &domain.DocumentChunk{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := logger.NewNop()
	docRepo := repos.NewDocumentRepo(gdb, log)
	chunkRepo := repos.NewChunkRepo(gdb, log)
	dh := NewDocumentHandler(log, nil, nil, docRepo, chunkRepo)

	authMW := middleware.NewAuthMiddleware(log, &stubVerifier{token: "good-token", userID: userID})
	router := gin.New()
	protected := router.Group("/api")
	protected.Use(authMW.RequireAuth())
	protected.GET("/documents/:id", dh.Get)
	return router, docRepo
}

func seedDocumentWithChunks(t *testing.T, docRepo repos.DocumentRepo, userID uuid.UUID, contents []string) *domain.Document {
	t.Helper()
	doc := &domain.Document{
		UserID:     userID,
		FileName:   "lease.txt",
		FileType:   "text/plain",
		StorageURL: "https://storage.googleapis.com/bucket/lease.txt",
		Namespace:  "default-case",
		ChunkCount: len(contents),
		UploadedAt: time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	var rows []*domain.DocumentChunk
	for i, content := range contents {
		rows = append(rows, &domain.DocumentChunk{
			ChunkIndex: i,
			Content:    content,
			CreatedAt:  time.Now().UTC(),
		})
	}
	created, err := docRepo.CreateWithChunks(context.Background(), nil, doc, rows)
	if err != nil {
		t.Fatalf("CreateWithChunks: %v", err)
	}
	return created
}

func getDocument(router *gin.Engine, id string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/documents/"+id, nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGetDocumentReturnsChunksInOrder(t *testing.T) {
	userID := uuid.New()
	router, docRepo := newDocumentTestRouter(t, userID)
	doc := seedDocumentWithChunks(t, docRepo, userID, []string{"first clause", "second clause"})

	w := getDocument(router, doc.ID.String())
	if w.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d body=%s", w.Code, w.Body.String())
	}
	var body struct {
		Document struct {
			ID       string `json:"id"`
			FileName string `json:"file_name"`
		} `json:"document"`
		Chunks []struct {
			ChunkIndex int    `json:"chunk_index"`
			Content    string `json:"content"`
		} `json:"chunks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Document.ID != doc.ID.String() {
		t.Fatalf("document id: want=%s got=%s", doc.ID, body.Document.ID)
	}
	if len(body.Chunks) != 2 {
		t.Fatalf("chunks: want=2 got=%d", len(body.Chunks))
	}
	for i, c := range body.Chunks {
		if c.ChunkIndex != i {
			t.Fatalf("chunk %d: index want=%d got=%d", i, i, c.ChunkIndex)
		}
	}
	if body.Chunks[1].Content != "second clause" {
		t.Fatalf("chunk content: want=%q got=%q", "second clause", body.Chunks[1].Content)
	}
}

func TestGetDocumentHidesForeignDocument(t *testing.T) {
	userID := uuid.New()
	router, docRepo := newDocumentTestRouter(t, userID)
	foreign := seedDocumentWithChunks(t, docRepo, uuid.New(), []string{"not yours"})

	w := getDocument(router, foreign.ID.String())
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: want=404 got=%d body=%s", w.Code, w.Body.String())
	}
}

func TestGetDocumentRejectsMalformedID(t *testing.T) {
	userID := uuid.New()
	router, _ := newDocumentTestRouter(t, userID)

	w := getDocument(router, "not-a-uuid")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: want=400 got=%d body=%s", w.Code, w.Body.String())
	}
}
