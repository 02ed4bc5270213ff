package handler

import (
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docchat/internal/filestore"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
)

// FileHandler serves blobs of the local store behind signed URLs.
type FileHandler struct {
	store filestore.Store
}

func NewFileHandler(store filestore.Store) *FileHandler {
	return &FileHandler{store: store}
}

func (h *FileHandler) Get(c *gin.Context) {
	verifier, ok := h.store.(filestore.Verifier)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	key := strings.TrimPrefix(c.Param("key"), "/")
	if err := verifier.Verify(key, c.Query("expires"), c.Query("sig")); err != nil {
		logutil.GetLogger(c.Request.Context()).Warn("reject file link", zap.String("key", key), zap.Error(err))
		c.Status(http.StatusForbidden)
		return
	}
	file, err := h.store.Open(c.Request.Context(), key)
	if err != nil {
		if appErr.IsNotFound(err) {
			c.Status(http.StatusNotFound)
			return
		}
		logutil.GetLogger(c.Request.Context()).Error("open file failed", zap.String("key", key), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer file.Close()
	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Cache-Control", "private, no-store")
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, file)
}
