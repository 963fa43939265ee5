package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lexfind/lexfind-backend/internal/http/response"
	"github.com/lexfind/lexfind-backend/internal/middleware"
	"github.com/lexfind/lexfind-backend/internal/platform/logger"
	"github.com/lexfind/lexfind-backend/internal/retrieval"
)

type ChatHandler struct {
	log       *logger.Logger
	retrieval *retrieval.Service
}

func NewChatHandler(log *logger.Logger, r *retrieval.Service) *ChatHandler {
	return &ChatHandler{log: log.With("handler", "ChatHandler"), retrieval: r}
}

func (ch *ChatHandler) Ask(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_auth", errors.New("authentication required"))
		return
	}
	var req struct {
		Query    string `json:"query"`
		CaseName string `json:"caseName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", errors.New("invalid request body"))
		return
	}
	if req.Query == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_query", errors.New("query is required"))
		return
	}

	answer, err := ch.retrieval.Ask(c.Request.Context(), retrieval.AskRequest{
		UserID:   userID,
		Question: req.Query,
		CaseName: req.CaseName,
	})
	if err != nil {
		ch.log.Error("ask failed", "error", err)
		response.RespondError(c, http.StatusInternalServerError, "ask_failed", errors.New("failed to answer question"))
		return
	}
	response.RespondOK(c, answer)
}
