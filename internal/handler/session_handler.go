package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/pkg/errcode"
	"github.com/xxxsen/docchat/internal/pkg/response"
	"github.com/xxxsen/docchat/internal/service"
)

type ChatService interface {
	OpenSession(ctx context.Context, userID, documentID string) (*model.ChatSession, error)
	ListSessions(ctx context.Context, userID string) ([]model.ChatSession, error)
	Messages(ctx context.Context, userID, sessionID string, limit int) ([]model.Message, error)
	Ask(ctx context.Context, in *service.AskRequest) (*service.AskResult, error)
	AskStream(ctx context.Context, in *service.AskRequest) (*service.StreamReply, error)
}

type SessionHandler struct {
	chat ChatService
}

func NewSessionHandler(chat ChatService) *SessionHandler {
	return &SessionHandler{chat: chat}
}

type openSessionRequest struct {
	DocumentID string `json:"document_id"`
}

func (h *SessionHandler) Open(c *gin.Context) {
	var req openSessionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, errcode.ErrInvalid, "invalid request")
			return
		}
	}
	session, err := h.chat.OpenSession(c.Request.Context(), getUserID(c), req.DocumentID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, session)
}

func (h *SessionHandler) List(c *gin.Context) {
	sessions, err := h.chat.ListSessions(c.Request.Context(), getUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, sessions)
}

func (h *SessionHandler) Messages(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			response.Error(c, errcode.ErrInvalid, "invalid limit")
			return
		}
		limit = v
	}
	msgs, err := h.chat.Messages(c.Request.Context(), getUserID(c), c.Param("id"), limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, msgs)
}
