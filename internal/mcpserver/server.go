// Package mcpserver exposes document search and question answering as MCP
// tools over stdio.
package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/service"
)

const ServerName = "docchat"

type ChunkRetriever interface {
	Retrieve(ctx context.Context, userID, question, documentID string) ([]model.ScoredChunk, error)
}

type Answerer interface {
	Answer(ctx context.Context, req *service.AnswerRequest) (string, error)
}

type DocumentLookup interface {
	GetForUser(ctx context.Context, userID, docID string) (*model.Document, error)
}

type Server struct {
	mcp       *server.MCPServer
	retriever ChunkRetriever
	answerer  Answerer
	docs      DocumentLookup
}

// New builds the tool server. answerer should not persist anything; tool
// calls are not part of a stored conversation.
func New(version string, retriever ChunkRetriever, answerer Answerer, docs DocumentLookup) *Server {
	s := &Server{
		mcp:       server.NewMCPServer(ServerName, version),
		retriever: retriever,
		answerer:  answerer,
		docs:      docs,
	}
	s.mcp.AddTool(searchDocumentsTool(), s.handleSearchDocuments)
	s.mcp.AddTool(askDocumentTool(), s.handleAskDocument)
	return s
}

// Serve blocks on stdio until the client disconnects.
func (s *Server) Serve(ctx context.Context) error {
	return server.ServeStdio(s.mcp)
}
