package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/pkg/errcode"
	"github.com/xxxsen/docchat/internal/pkg/response"
	"github.com/xxxsen/docchat/internal/service"
)

type DocumentService interface {
	Upload(ctx context.Context, userID, name string, r io.Reader, size int64) (*model.Document, error)
	List(ctx context.Context, userID string, limit, offset uint) ([]model.Document, error)
	Get(ctx context.Context, userID, documentID string) (*model.Document, error)
	Delete(ctx context.Context, userID, documentID string) error
	SignedURL(ctx context.Context, userID, documentID string) (string, error)
	RepairForUser(ctx context.Context, userID, documentID string) (*service.IndexResult, error)
}

type DocumentHandler struct {
	docs     DocumentService
	maxBytes int64
}

func NewDocumentHandler(docs DocumentService, maxBytes int64) *DocumentHandler {
	return &DocumentHandler{docs: docs, maxBytes: maxBytes}
}

type documentResponse struct {
	*model.Document
	State string `json:"state"`
}

func toDocumentResponse(doc *model.Document) documentResponse {
	return documentResponse{Document: doc, State: doc.IndexState.String()}
}

func (h *DocumentHandler) Upload(c *gin.Context) {
	if limit := requestBodyLimit(h.maxBytes); limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, errcode.ErrInvalidFile, "file exceeds "+formatUploadLimit(h.maxBytes))
			return
		}
		response.Error(c, errcode.ErrInvalidFile, "file is required")
		return
	}
	opened, err := file.Open()
	if err != nil {
		response.Error(c, errcode.ErrUploadFailed, "failed to open file")
		return
	}
	defer opened.Close()

	doc, err := h.docs.Upload(c.Request.Context(), getUserID(c), file.Filename, opened, file.Size)
	if err != nil && (doc == nil || service.IsExtractionError(err)) {
		handleError(c, err)
		return
	}
	// indexing failures are recorded on the stored document
	response.Success(c, toDocumentResponse(doc))
}

func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.docs.List(c.Request.Context(), getUserID(c), queryUint(c, "limit", 100), queryUint(c, "offset", 0))
	if err != nil {
		handleError(c, err)
		return
	}
	out := make([]documentResponse, 0, len(docs))
	for i := range docs {
		out = append(out, toDocumentResponse(&docs[i]))
	}
	response.Success(c, out)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.docs.Get(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, toDocumentResponse(doc))
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.docs.Delete(c.Request.Context(), getUserID(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"id": c.Param("id")})
}

func (h *DocumentHandler) URL(c *gin.Context) {
	url, err := h.docs.SignedURL(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"url": url})
}

func (h *DocumentHandler) Repair(c *gin.Context) {
	res, err := h.docs.RepairForUser(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{
		"state":    res.State().String(),
		"total":    res.Total,
		"inserted": res.Inserted,
		"skipped":  res.Skipped,
		"failed":   res.Failed,
	})
}
