package documents

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	response "github.com/aswinpradeepc/llmsearch/api/handlers/common"
	"github.com/aswinpradeepc/llmsearch/internal/queue"
	"github.com/aswinpradeepc/llmsearch/internal/rag"
)

// Handler accepts extracted documents for ingestion and reports their
// catalog status.
type Handler struct {
	queueClient queue.Client // nil when the ingestion queue is disabled
	db          *gorm.DB     // nil when the catalog is disabled
}

// NewHandler creates the documents handler.
func NewHandler(queueClient queue.Client, db *gorm.DB) *Handler {
	return &Handler{queueClient: queueClient, db: db}
}

// IngestRequest is the extracted document as delivered by the upstream
// extraction step. ID defaults to the filename without extension, matching
// how the original batch scripts derived document ids.
type IngestRequest struct {
	ID       string `json:"id"`
	Filename string `json:"filename" binding:"required"`
	Text     string `json:"text"`
	Tables   []any  `json:"tables"`
}

// Ingest enqueues a document for ingestion.
// POST /api/documents
func (h *Handler) Ingest(c *gin.Context) {
	if h.queueClient == nil {
		c.JSON(http.StatusServiceUnavailable, response.ErrorResponse{
			Success: false,
			Code:    "queue_disabled",
			Message: "ingestion queue is not configured",
		})
		return
	}

	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Success: false,
			Code:    "invalid_request",
			Message: "invalid request body: " + err.Error(),
		})
		return
	}

	docID := req.ID
	if docID == "" {
		docID = strings.TrimSuffix(req.Filename, filepath.Ext(req.Filename))
	}

	doc := &rag.Document{
		ID:       docID,
		Filename: req.Filename,
		RawText:  req.Text,
		Tables:   req.Tables,
	}

	if h.db != nil {
		record := &rag.DocumentRecord{
			ID:       doc.ID,
			Filename: doc.Filename,
			Status:   rag.StatusPending,
		}
		if err := h.db.WithContext(c.Request.Context()).Save(record).Error; err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorResponse{
				Success: false,
				Code:    "catalog",
				Message: "record document: " + err.Error(),
			})
			return
		}
	}

	if err := h.queueClient.EnqueueIngestDocument(doc); err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Success: false,
			Code:    "enqueue",
			Message: "enqueue ingestion: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, response.APIResponse{
		Success: true,
		Message: "document accepted for ingestion",
		Data:    gin.H{"document_id": doc.ID},
	})
}

// Get returns a document's catalog record.
// GET /api/documents/:id
func (h *Handler) Get(c *gin.Context) {
	if h.db == nil {
		c.JSON(http.StatusNotImplemented, response.ErrorResponse{
			Success: false,
			Code:    "catalog_disabled",
			Message: "document catalog is not configured",
		})
		return
	}

	var record rag.DocumentRecord
	err := h.db.WithContext(c.Request.Context()).
		Where("id = ?", c.Param("id")).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, response.ErrorResponse{
				Success: false,
				Code:    "not_found",
				Message: "document not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Success: false,
			Code:    "catalog",
			Message: "load document: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, response.APIResponse{
		Success: true,
		Data:    record,
	})
}
