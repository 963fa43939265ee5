package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lexfind/lexfind-backend/internal/http/response"
	"github.com/lexfind/lexfind-backend/internal/ingestion/pipeline"
	"github.com/lexfind/lexfind-backend/internal/middleware"
	"github.com/lexfind/lexfind-backend/internal/platform/logger"
	"github.com/lexfind/lexfind-backend/internal/repos"
	"github.com/lexfind/lexfind-backend/internal/retrieval"
)

type DocumentHandler struct {
	log       *logger.Logger
	pipeline  *pipeline.Pipeline
	retrieval *retrieval.Service
	docs      repos.DocumentRepo
	chunks    repos.ChunkRepo
}

func NewDocumentHandler(log *logger.Logger, p *pipeline.Pipeline, r *retrieval.Service, docs repos.DocumentRepo, chunks repos.ChunkRepo) *DocumentHandler {
	return &DocumentHandler{
		log:       log.With("handler", "DocumentHandler"),
		pipeline:  p,
		retrieval: r,
		docs:      docs,
		chunks:    chunks,
	}
}

// Upload ingests one multipart file plus an optional `metadata` JSON part.
// Inside it, `caseName` (string) and `labels` (string array) are recognized;
// remaining values are stored as chunk metadata.
func (dh *DocumentHandler) Upload(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_auth", errors.New("authentication required"))
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", errors.New("multipart field 'file' is required"))
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}

	caseName, labels, metadata, err := parseUploadMetadata(c.PostForm("metadata"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_metadata", err)
		return
	}

	res, err := dh.pipeline.Ingest(c.Request.Context(), pipeline.Request{
		UserID:   userID,
		FileName: fileHeader.Filename,
		MIMEType: fileHeader.Header.Get("Content-Type"),
		Data:     data,
		CaseName: caseName,
		Metadata: metadata,
		Labels:   labels,
	})
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrFileTooLarge),
			errors.Is(err, pipeline.ErrUnsupportedType),
			errors.Is(err, pipeline.ErrNoExtractableText):
			response.RespondError(c, http.StatusBadRequest, "ingestion_rejected", err)
		default:
			dh.log.Error("ingestion failed", "file", fileHeader.Filename, "error", err)
			response.RespondError(c, http.StatusInternalServerError, "ingestion_failed", errors.New("failed to process document"))
		}
		return
	}

	response.RespondCreated(c, gin.H{
		"document_id": res.DocumentID,
		"chunk_count": res.ChunkCount,
		"char_count":  res.CharCount,
		"storage_url": res.StorageURL,
		"namespace":   res.Namespace,
		"used_ocr":    res.UsedOCR,
		"elapsed_ms":  res.Elapsed.Milliseconds(),
	})
}

func (dh *DocumentHandler) Search(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_auth", errors.New("authentication required"))
		return
	}
	var req struct {
		Query    string `json:"query"`
		CaseName string `json:"caseName"`
		Page     int    `json:"page"`
		PageSize int    `json:"pageSize"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", errors.New("invalid request body"))
		return
	}
	if req.Query == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_query", errors.New("query is required"))
		return
	}

	resp, err := dh.retrieval.Search(c.Request.Context(), retrieval.SearchRequest{
		UserID:   userID,
		Query:    req.Query,
		CaseName: req.CaseName,
		Page:     req.Page,
		PageSize: req.PageSize,
	})
	if err != nil {
		dh.log.Error("search failed", "error", err)
		response.RespondError(c, http.StatusInternalServerError, "search_failed", errors.New("search failed"))
		return
	}
	response.RespondOK(c, resp)
}

func (dh *DocumentHandler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_auth", errors.New("authentication required"))
		return
	}
	docs, err := dh.docs.ListByUser(c.Request.Context(), nil, userID)
	if err != nil {
		dh.log.Error("list documents failed", "error", err)
		response.RespondError(c, http.StatusInternalServerError, "list_failed", errors.New("failed to list documents"))
		return
	}
	response.RespondOK(c, gin.H{"documents": docs, "count": len(docs)})
}

// Get returns one owned document with its stored chunks in index order.
func (dh *DocumentHandler) Get(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_auth", errors.New("authentication required"))
		return
	}
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", errors.New("invalid document id"))
		return
	}

	doc, err := dh.docs.GetByID(c.Request.Context(), nil, docID, userID)
	if err != nil {
		if errors.Is(err, repos.ErrNotFound) {
			response.RespondError(c, http.StatusNotFound, "not_found", errors.New("document not found"))
			return
		}
		dh.log.Error("get document failed", "document_id", docID, "error", err)
		response.RespondError(c, http.StatusInternalServerError, "get_failed", errors.New("failed to load document"))
		return
	}
	chunks, err := dh.chunks.GetByDocumentID(c.Request.Context(), nil, doc.ID)
	if err != nil {
		dh.log.Error("get chunks failed", "document_id", docID, "error", err)
		response.RespondError(c, http.StatusInternalServerError, "get_failed", errors.New("failed to load document"))
		return
	}
	response.RespondOK(c, gin.H{"document": doc, "chunks": chunks})
}

func (dh *DocumentHandler) ListLabels(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_auth", errors.New("authentication required"))
		return
	}
	labels, err := dh.docs.DistinctLabels(c.Request.Context(), nil, userID)
	if err != nil {
		dh.log.Error("list labels failed", "error", err)
		response.RespondError(c, http.StatusInternalServerError, "labels_failed", errors.New("failed to list labels"))
		return
	}
	if labels == nil {
		labels = []string{}
	}
	response.RespondOK(c, gin.H{"labels": labels})
}

func (dh *DocumentHandler) UpdateLabels(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_auth", errors.New("authentication required"))
		return
	}
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", errors.New("invalid document id"))
		return
	}
	var req struct {
		Op     string   `json:"op"`
		Labels []string `json:"labels"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", errors.New("invalid request body"))
		return
	}

	doc, err := dh.docs.UpdateLabels(c.Request.Context(), nil, docID, userID, repos.LabelOp(req.Op), req.Labels)
	if err != nil {
		switch {
		case errors.Is(err, repos.ErrInvalidLabelOp):
			response.RespondError(c, http.StatusBadRequest, "invalid_op", err)
		case errors.Is(err, repos.ErrNotFound):
			response.RespondError(c, http.StatusNotFound, "not_found", errors.New("document not found"))
		default:
			dh.log.Error("update labels failed", "document_id", docID, "error", err)
			response.RespondError(c, http.StatusInternalServerError, "labels_failed", errors.New("failed to update labels"))
		}
		return
	}
	response.RespondOK(c, gin.H{"document_id": doc.ID, "labels": doc.LabelSet()})
}

// parseUploadMetadata decodes the optional multipart metadata part. The
// caseName and labels keys are lifted out; everything else rides along as
// free-form string metadata on the document's chunks.
func parseUploadMetadata(raw string) (caseName string, labels []string, metadata map[string]string, err error) {
	if raw == "" {
		return "", nil, nil, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return "", nil, nil, errors.New("metadata must be a JSON object")
	}
	metadata = map[string]string{}
	for k, v := range decoded {
		switch k {
		case "caseName":
			s, ok := v.(string)
			if !ok {
				return "", nil, nil, errors.New("caseName must be a string")
			}
			caseName = s
		case "labels":
			items, ok := v.([]any)
			if !ok {
				return "", nil, nil, errors.New("labels must be an array of strings")
			}
			for _, it := range items {
				s, ok := it.(string)
				if !ok {
					return "", nil, nil, errors.New("labels must be an array of strings")
				}
				labels = append(labels, s)
			}
		default:
			if s, ok := v.(string); ok {
				metadata[k] = s
			} else {
				metadata[k] = fmt.Sprintf("%v", v)
			}
		}
	}
	return caseName, labels, metadata, nil
}
