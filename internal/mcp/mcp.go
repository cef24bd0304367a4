// Package mcp implements the Model Context Protocol server for soudan.
//
// The MCP server exposes question search and retrieval as tools so
// MCP-compatible AI agents can consult the Q&A knowledge base.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/soudan-ai/soudan/internal/search"
	"github.com/soudan-ai/soudan/internal/service/embedding"
	"github.com/soudan-ai/soudan/internal/storage"
)

// Server wraps the MCP server with soudan's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	db        *storage.DB
	searcher  search.Searcher
	embedder  embedding.Provider
	logger    *slog.Logger
}

// New creates and configures a new MCP server. searcher may be nil; search
// then falls back to Postgres full-text.
func New(db *storage.DB, searcher search.Searcher, embedder embedding.Provider, logger *slog.Logger) *Server {
	s := &Server{
		db:       db,
		searcher: searcher,
		embedder: embedder,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"soudan",
		"0.1.0",
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// soudan://questions/recent — latest questions on the platform.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"soudan://questions/recent",
			"Recent Questions",
			mcplib.WithResourceDescription("The most recently posted questions"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleQuestionsRecent,
	)
}

func (s *Server) registerTools() {
	// soudan_search — semantic search over questions.
	s.mcpServer.AddTool(
		mcplib.NewTool("soudan_search",
			mcplib.WithDescription("Search questions by semantic similarity. Use to find prior questions related to a problem before answering or posting a duplicate."),
			mcplib.WithString("query", mcplib.Description("Natural language search query"), mcplib.Required()),
			mcplib.WithString("tag", mcplib.Description("Restrict results to a tag")),
			mcplib.WithNumber("limit", mcplib.Description("Maximum results to return")),
		),
		s.handleSearch,
	)

	// soudan_get_question — fetch a full question with its answers.
	s.mcpServer.AddTool(
		mcplib.NewTool("soudan_get_question",
			mcplib.WithDescription("Fetch a question by ID together with all of its answers, sorted accepted first then by votes."),
			mcplib.WithString("question_id", mcplib.Description("Question UUID"), mcplib.Required()),
		),
		s.handleGetQuestion,
	)
}

func (s *Server) handleQuestionsRecent(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	summaries, _, err := s.db.ListQuestions(ctx, "", 20, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent questions: %w", err)
	}

	data, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal questions: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "soudan://questions/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleSearch(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}
	tag := request.GetString("tag", "")
	limit := request.GetInt("limit", 5)
	if limit <= 0 || limit > 50 {
		limit = 5
	}

	// Vector path first, full-text fallback mirroring the HTTP API.
	aiPowered := false
	if s.searcher != nil && s.searcher.Healthy(ctx) == nil {
		emb, err := s.embedder.Embed(ctx, query)
		if err == nil {
			hits, err := s.searcher.Search(ctx, emb.Slice(), tag, limit)
			if err == nil {
				ids := make([]uuid.UUID, len(hits))
				for i, h := range hits {
					ids[i] = h.QuestionID
				}
				questions, err := s.db.GetQuestionsForSearch(ctx, ids)
				if err == nil {
					results := search.ReScore(hits, questions, limit)
					aiPowered = true
					return searchResult(results, aiPowered), nil
				}
			}
		}
		s.logger.Warn("mcp: vector search failed, falling back to full-text")
	}

	results, err := s.db.SearchQuestionsFTS(ctx, query, limit)
	if err != nil {
		return errorResult(fmt.Sprintf("search failed: %v", err)), nil
	}
	return searchResult(results, aiPowered), nil
}

func (s *Server) handleGetQuestion(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	idStr := request.GetString("question_id", "")
	id, err := uuid.Parse(idStr)
	if err != nil {
		return errorResult("question_id must be a valid UUID"), nil
	}

	question, err := s.db.GetQuestion(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return errorResult("question not found"), nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("get question failed: %v", err)), nil
	}

	answers, err := s.db.ListAnswers(ctx, id)
	if err != nil {
		return errorResult(fmt.Sprintf("list answers failed: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"question": question,
		"answers":  answers,
	}, "", "  ")

	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func searchResult(results any, aiPowered bool) *mcplib.CallToolResult {
	resultData, _ := json.MarshalIndent(map[string]any{
		"results":    results,
		"ai_powered": aiPowered,
	}, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
