package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docchat/internal/pkg/errcode"
	"github.com/xxxsen/docchat/internal/pkg/response"
	"github.com/xxxsen/docchat/internal/pkg/sse"
	"github.com/xxxsen/docchat/internal/service"
)

type ChatHandler struct {
	chat ChatService
}

func NewChatHandler(chat ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type askRequest struct {
	SessionID  string `json:"session_id"`
	DocumentID string `json:"document_id"`
	Question   string `json:"question"`
}

func (h *ChatHandler) bind(c *gin.Context) (*service.AskRequest, bool) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return nil, false
	}
	return &service.AskRequest{
		UserID:     getUserID(c),
		SessionID:  req.SessionID,
		DocumentID: req.DocumentID,
		Question:   req.Question,
	}, true
}

func (h *ChatHandler) Ask(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	res, err := h.chat.Ask(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

type contentFrame struct {
	Content string `json:"content"`
}

type errorFrame struct {
	Error string `json:"error"`
}

// Stream writes the answer as SSE frames. Errors before the first byte are
// reported as a normal JSON error; afterwards a failed stream ends with an
// error frame and no [DONE].
func (h *ChatHandler) Stream(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	reply, err := h.chat.AskStream(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	logger := logutil.GetLogger(c.Request.Context()).With(zap.String("session_id", reply.SessionID))

	sse.SetHeaders(c.Writer.Header())
	c.Writer.Header().Set("X-Session-Id", reply.SessionID)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()

	writeFailed := false
	for fragment := range reply.Stream.Fragments() {
		if writeFailed {
			continue
		}
		if err := sse.WriteJSON(c.Writer, contentFrame{Content: fragment}); err != nil {
			logger.Warn("write stream frame failed", zap.Error(err))
			writeFailed = true
		}
	}
	res := reply.Stream.Wait()
	if writeFailed {
		return
	}
	switch res.State {
	case service.StreamClosed:
		_ = sse.WriteDone(c.Writer)
	case service.StreamErrored:
		_ = sse.WriteJSON(c.Writer, errorFrame{Error: "answer stream interrupted"})
	}
}
