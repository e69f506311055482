package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/minirag-backend/internal/platform/apierr"
	"github.com/yungbote/minirag-backend/internal/platform/logger"
	"github.com/yungbote/minirag-backend/internal/services"
)

// NLPHandler covers the retrieval half of the API: pushing chunks into the
// vector index, collection stats, raw similarity search and full RAG
// answering.
type NLPHandler struct {
	log              *logger.Logger
	retrievalService services.RetrievalService
	ingestionService services.IngestionService
}

func NewNLPHandler(
	log *logger.Logger,
	retrievalService services.RetrievalService,
	ingestionService services.IngestionService,
) *NLPHandler {
	return &NLPHandler{
		log:              log.With("handler", "NLPHandler"),
		retrievalService: retrievalService,
		ingestionService: ingestionService,
	}
}

type indexPushRequest struct {
	DoReset bool `json:"do_reset"`
}

// POST /api/v1/nlp/index/push/:project_code
func (h *NLPHandler) IndexPush(c *gin.Context) {
	projectCode, err := paramInt(c, "project_code")
	if err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, err)
		return
	}
	var req indexPushRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}
	result, err := h.ingestionService.IndexPush(c.Request.Context(), currentUserID(c), projectCode, req.DoReset)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, result)
}

// GET /api/v1/nlp/index/info/:project_code
func (h *NLPHandler) IndexInfo(c *gin.Context) {
	projectCode, err := paramInt(c, "project_code")
	if err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, err)
		return
	}
	info, err := h.retrievalService.IndexInfo(c.Request.Context(), currentUserID(c), projectCode)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, info)
}

type searchRequest struct {
	Text  string `json:"text"`
	Limit int    `json:"limit"`
}

// POST /api/v1/nlp/index/search/:project_code
func (h *NLPHandler) Search(c *gin.Context) {
	projectCode, err := paramInt(c, "project_code")
	if err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, err)
		return
	}
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, fmt.Errorf("invalid request body: %w", err))
		return
	}
	hits, err := h.retrievalService.Search(c.Request.Context(), currentUserID(c), projectCode, req.Text, req.Limit)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, gin.H{"results": hits, "count": len(hits)})
}

// POST /api/v1/nlp/index/answer/:project_code
func (h *NLPHandler) Answer(c *gin.Context) {
	projectCode, err := paramInt(c, "project_code")
	if err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, err)
		return
	}
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeInvalidInput, fmt.Errorf("invalid request body: %w", err))
		return
	}
	result, err := h.retrievalService.Answer(c.Request.Context(), currentUserID(c), projectCode, req.Text, req.Limit)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, result)
}

// GET /api/v1/nlp/answers
func (h *NLPHandler) History(c *gin.Context) {
	page := queryIntDefault(c, "page", 1)
	pageSize := queryIntDefault(c, "page_size", 10)

	logs, total, err := h.retrievalService.History(c.Request.Context(), currentUserID(c), page, pageSize)
	if err != nil {
		RespondAPIError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"answers":   logs,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}
