package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docchat/internal/model"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
	"github.com/xxxsen/docchat/internal/service"
)

const (
	ErrorCodeInvalidParams = -32602
	ErrorCodeInternalError = -32603
	ErrorCodeNotFound      = -32001
)

// ToolError is returned to the client as a JSON-RPC error.
type ToolError struct {
	Code    int
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

type toolArgs struct {
	Question   string
	UserID     string
	DocumentID string
}

func parseArgs(request mcp.CallToolRequest) (*toolArgs, error) {
	raw, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, &ToolError{Code: ErrorCodeInvalidParams, Message: "invalid arguments"}
	}
	args := &toolArgs{}
	args.Question, _ = raw["question"].(string)
	args.UserID, _ = raw["user_id"].(string)
	args.DocumentID, _ = raw["document_id"].(string)
	args.Question = strings.TrimSpace(args.Question)
	if args.Question == "" {
		return nil, &ToolError{Code: ErrorCodeInvalidParams, Message: "question is required"}
	}
	if args.UserID == "" {
		return nil, &ToolError{Code: ErrorCodeInvalidParams, Message: "user_id is required"}
	}
	return args, nil
}

func (s *Server) retrieve(ctx context.Context, args *toolArgs) ([]model.ScoredChunk, error) {
	if args.DocumentID != "" {
		if _, err := s.docs.GetForUser(ctx, args.UserID, args.DocumentID); err != nil {
			if appErr.IsNotFound(err) {
				return nil, &ToolError{Code: ErrorCodeNotFound, Message: "document not found"}
			}
			return nil, toolFailure("lookup document", err)
		}
	}
	chunks, err := s.retriever.Retrieve(ctx, args.UserID, args.Question, args.DocumentID)
	if err != nil {
		return nil, toolFailure("retrieve", err)
	}
	return chunks, nil
}

func toolFailure(stage string, err error) error {
	return &ToolError{Code: ErrorCodeInternalError, Message: stage + " failed: " + err.Error()}
}

func (s *Server) handleSearchDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(request)
	if err != nil {
		return nil, err
	}
	chunks, err := s.retrieve(ctx, args)
	if err != nil {
		return nil, err
	}
	return textResult(map[string]interface{}{
		"count":  len(chunks),
		"chunks": chunks,
	})
}

func (s *Server) handleAskDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(request)
	if err != nil {
		return nil, err
	}
	chunks, err := s.retrieve(ctx, args)
	if err != nil {
		return nil, err
	}
	answer, err := s.answerer.Answer(ctx, &service.AnswerRequest{
		Question: args.Question,
		Chunks:   chunks,
		Scoped:   args.DocumentID != "",
	})
	if err != nil {
		logutil.GetLogger(ctx).Error("mcp answer failed", zap.String("user_id", args.UserID), zap.Error(err))
		return nil, toolFailure("answer", err)
	}
	return textResult(map[string]interface{}{
		"answer":  answer,
		"sources": chunks,
	})
}

func textResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, toolFailure("encode result", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
