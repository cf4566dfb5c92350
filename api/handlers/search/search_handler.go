package search

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	response "github.com/aswinpradeepc/llmsearch/api/handlers/common"
	"github.com/aswinpradeepc/llmsearch/internal/rag"
)

// Handler serves the retrieval-augmented query endpoint.
type Handler struct {
	queryService *rag.QueryService
}

// NewHandler creates the search handler.
func NewHandler(queryService *rag.QueryService) *Handler {
	return &Handler{queryService: queryService}
}

// Query answers a natural-language query over the indexed documents.
// POST /api/rag
func (h *Handler) Query(c *gin.Context) {
	var req rag.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Success: false,
			Code:    "invalid_request",
			Message: "invalid request body: " + err.Error(),
		})
		return
	}

	resp, err := h.queryService.Query(c.Request.Context(), &req)
	if err != nil {
		status, code := classifyError(err)
		c.JSON(status, response.ErrorResponse{
			Success: false,
			Code:    code,
			Message: "unable to process query: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// classifyError maps pipeline failures to HTTP status codes. Stage failures
// are upstream problems, bad input is the caller's.
func classifyError(err error) (int, string) {
	if errors.Is(err, rag.ErrInvalidArgument) {
		return http.StatusBadRequest, "invalid_argument"
	}

	var stage *rag.StageError
	if errors.As(err, &stage) {
		return http.StatusBadGateway, stage.Stage + "_failed"
	}

	return http.StatusInternalServerError, "internal"
}
