package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

func commonProperties() map[string]interface{} {
	return map[string]interface{}{
		"question": map[string]interface{}{
			"type":        "string",
			"description": "Natural language question",
		},
		"user_id": map[string]interface{}{
			"type":        "string",
			"description": "Owner whose documents are searched",
		},
		"document_id": map[string]interface{}{
			"type":        "string",
			"description": "Restrict the search to one document",
		},
	}
}

func searchDocumentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_documents",
		Description: "Return the document passages most similar to a question",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: commonProperties(),
			Required:   []string{"question", "user_id"},
		},
	}
}

func askDocumentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ask_document",
		Description: "Answer a question using only the user's uploaded documents",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: commonProperties(),
			Required:   []string{"question", "user_id"},
		},
	}
}
