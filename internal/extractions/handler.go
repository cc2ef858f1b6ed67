package extractions

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cim-backend/internal/documents"
	"cim-backend/internal/shared/server/middleware"
	"cim-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the extractions service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches extraction routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/extractions", h.extractSync)
	rg.POST("/documents/:id/extract", h.startExtraction)
	rg.GET("/extractions", h.listExtractions)
	rg.GET("/extractions/:id", h.getExtraction)
}

type extractRequest struct {
	Images    []string `json:"images"`
	FileBytes string   `json:"fileBytes"`
	Text      string   `json:"text"`
	FileName  string   `json:"fileName"`
}

// extractSync orchestrates one request inline and returns either the
// canonical data with hybridAnalysis metadata or the failed attempt history.
func (h *Handler) extractSync(c *gin.Context) {
	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	if req.FileName == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "fileName is required", nil)
		return
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	result, err := h.Svc.RunSync(ctx, Request{
		Images:    req.Images,
		FileBytes: req.FileBytes,
		Text:      req.Text,
		FileName:  req.FileName,
	})
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			respond.Error(c, http.StatusBadRequest, "validation_error", verr.Message, nil)
			return
		}
		var agg *AggregateFailure
		if errors.As(err, &agg) {
			respond.JSON(c, http.StatusBadGateway, gin.H{
				"success": false,
				"error": gin.H{
					"message":  "all extraction attempts failed",
					"attempts": agg.Attempts,
				},
			})
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "extraction failed", nil)
		return
	}

	payload, err := resultPayload(result)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "result encode failed", nil)
		return
	}
	respond.JSON(c, http.StatusOK, payload)
}

func (h *Handler) startExtraction(c *gin.Context) {
	documentID := c.Param("id")
	if documentID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "document id is required", nil)
		return
	}
	c.Set("documentId", documentID)
	allowRetry := c.Query("retry") == "true"

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	extraction, created, err := h.Svc.StartOrReuse(ctx, documentID, middleware.OwnerFromContext(c), allowRetry)
	if err == nil {
		c.Set("extractionId", extraction.ID)
	}
	if err != nil {
		switch {
		case errors.Is(err, documents.ErrNotFound), errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start extraction", nil)
		}
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusAccepted
		c.Set("statusTransition", "->queued")
	}
	respond.JSON(c, status, gin.H{
		"extractionId": extraction.ID,
		"status":       extraction.Status,
	})
}

func (h *Handler) getExtraction(c *gin.Context) {
	extractionID := c.Param("id")
	if extractionID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "extraction id is required", nil)
		return
	}
	c.Set("extractionId", extractionID)

	extraction, err := h.Svc.Get(c.Request.Context(), extractionID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "extraction not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch extraction", nil)
		}
		return
	}

	resp := gin.H{
		"id":         extraction.ID,
		"documentId": extraction.DocumentID,
		"status":     extraction.Status,
		"createdAt":  extraction.CreatedAt,
	}
	switch extraction.Status {
	case StatusCompleted:
		if extraction.Result != nil {
			resp["result"] = extraction.Result
		}
	case StatusFailed:
		resp["error"] = gin.H{
			"code":      extraction.ErrorCode,
			"message":   extraction.ErrorMessage,
			"retryable": extraction.Retryable,
		}
		if extraction.Result != nil {
			resp["result"] = extraction.Result
		}
	}

	respond.JSON(c, http.StatusOK, resp)
}

func (h *Handler) listExtractions(c *gin.Context) {
	limit := 20
	offset := 0

	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit < 0 {
		limit = 0
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}

	extractions, err := h.Svc.List(c.Request.Context(), middleware.OwnerFromContext(c), limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list extractions", nil)
		return
	}

	resp := make([]gin.H, 0, len(extractions))
	for _, e := range extractions {
		item := gin.H{
			"extractionId": e.ID,
			"documentId":   e.DocumentID,
			"fileName":     e.FileName,
			"status":       e.Status,
			"createdAt":    e.CreatedAt,
		}
		if e.Status == StatusCompleted && e.Result != nil {
			if data, ok := e.Result["data"].(map[string]any); ok {
				if hybrid, ok := data["hybridAnalysis"].(map[string]any); ok {
					item["selectedMethod"] = hybrid["selectedMethod"]
					item["confidence"] = hybrid["confidence"]
				}
			}
		}
		resp = append(resp, item)
	}

	respond.JSON(c, http.StatusOK, resp)
}
