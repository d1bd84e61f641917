package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kseverin/medrag/internal/pipeline"
	"github.com/kseverin/medrag/internal/retrieval"
	"github.com/kseverin/medrag/internal/storage"
)

// MCPRetriever abstracts corpus search for the MCP layer.
type MCPRetriever interface {
	Retrieve(ctx context.Context, question string) ([]retrieval.Chunk, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Pipeline  *pipeline.Service
	Retriever MCPRetriever
	Store     *storage.Store
}

// NewMCPServer creates an MCP server exposing the medical corpus to
// agent hosts.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"medrag",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("medrag answers medical questions strictly from an ingested document corpus, with source citations."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_medical",
			mcp.WithDescription("Answer a medical question using only the ingested document corpus. Returns the answer and its source citations."),
			mcp.WithString("question", mcp.Description("The medical question"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Optional session for conversation history")),
		),
		mcpAskMedical(deps),
	)

	s.AddTool(
		mcp.NewTool("search_corpus",
			mcp.WithDescription("Semantically search the medical corpus and return raw chunks with scores, without answer generation."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
		),
		mcpSearchCorpus(deps),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List the documents currently in the corpus."),
		),
		mcpListDocuments(deps),
	)

	return s
}

func mcpAskMedical(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		sessionID := req.GetString("session_id", "")

		resp, _, err := deps.Pipeline.Answer(ctx, pipeline.Query{
			Question:  question,
			SessionID: sessionID,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("query failed: %v", err)), nil
		}

		b, err := json.Marshal(resp)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal response: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearchCorpus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		chunks, err := deps.Retriever.Retrieve(ctx, query)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(chunks) == 0 {
			return mcpText("[]"), nil
		}

		type chunkResult struct {
			Source string  `json:"source"`
			Page   int     `json:"page,omitempty"`
			Text   string  `json:"text"`
			Score  float32 `json:"score"`
		}
		results := make([]chunkResult, len(chunks))
		for i, c := range chunks {
			results[i] = chunkResult{Source: c.Source, Page: c.Page, Text: c.Text, Score: c.Score}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		docs, err := deps.Store.ListDocuments(100)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list documents: %v", err)), nil
		}
		if docs == nil {
			docs = []storage.Document{}
		}

		b, err := json.Marshal(docs)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal documents: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
