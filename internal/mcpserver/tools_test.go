package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docchat/internal/model"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
	"github.com/xxxsen/docchat/internal/service"
)

type stubRetriever struct {
	hits []model.ScoredChunk
	err  error
}

func (s *stubRetriever) Retrieve(ctx context.Context, userID, question, documentID string) ([]model.ScoredChunk, error) {
	return s.hits, s.err
}

type stubAnswerer struct {
	got *service.AnswerRequest
}

func (s *stubAnswerer) Answer(ctx context.Context, req *service.AnswerRequest) (string, error) {
	s.got = req
	return "forty-two", nil
}

type stubDocs struct{}

func (stubDocs) GetForUser(ctx context.Context, userID, docID string) (*model.Document, error) {
	if docID != "d1" {
		return nil, appErr.ErrNotFound
	}
	return &model.Document{ID: "d1", UserID: userID}, nil
}

func call(args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Name: "x", Arguments: args}}
}

func resultText(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	out := map[string]interface{}{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func TestSearchDocuments(t *testing.T) {
	hits := []model.ScoredChunk{{DocumentID: "d1", Ordinal: 2, Content: "text", Similarity: 0.4}}
	s := New("test", &stubRetriever{hits: hits}, &stubAnswerer{}, stubDocs{})
	res, err := s.handleSearchDocuments(context.Background(), call(map[string]interface{}{
		"question": "what?", "user_id": "u1", "document_id": "d1",
	}))
	require.NoError(t, err)
	out := resultText(t, res)
	require.Equal(t, float64(1), out["count"])
}

func TestAskDocument(t *testing.T) {
	answerer := &stubAnswerer{}
	hits := []model.ScoredChunk{{DocumentID: "d1", Content: "text", Similarity: 0.4}}
	s := New("test", &stubRetriever{hits: hits}, answerer, stubDocs{})
	res, err := s.handleAskDocument(context.Background(), call(map[string]interface{}{
		"question": " what? ", "user_id": "u1",
	}))
	require.NoError(t, err)
	require.Equal(t, "forty-two", resultText(t, res)["answer"])
	require.Equal(t, "what?", answerer.got.Question)
	require.False(t, answerer.got.Scoped)
	require.Len(t, answerer.got.Chunks, 1)
}

func TestToolErrors(t *testing.T) {
	s := New("test", &stubRetriever{err: errors.New("embed down")}, &stubAnswerer{}, stubDocs{})
	ctx := context.Background()

	_, err := s.handleAskDocument(ctx, call(map[string]interface{}{"user_id": "u1"}))
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	require.Equal(t, ErrorCodeInvalidParams, toolErr.Code)

	_, err = s.handleSearchDocuments(ctx, call(map[string]interface{}{"question": "q", "user_id": "u1", "document_id": "zzz"}))
	require.ErrorAs(t, err, &toolErr)
	require.Equal(t, ErrorCodeNotFound, toolErr.Code)

	_, err = s.handleSearchDocuments(ctx, call(map[string]interface{}{"question": "q", "user_id": "u1"}))
	require.ErrorAs(t, err, &toolErr)
	require.Equal(t, ErrorCodeInternalError, toolErr.Code)
}
