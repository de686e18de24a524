// Package mcpserver exposes the AI reviewer's tools over the Model Context
// Protocol. Every edit proposed here is recorded as a tracked suggestion by
// the configured AI author.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"redline/api/internal/app"
	"redline/api/internal/gitrepo"
	"redline/api/internal/rbac"
	"redline/api/internal/search"
	"redline/api/internal/store"
	"redline/api/internal/trackchanges"
)

// Documents is the part of app.Service the tools need.
type Documents interface {
	ListDocuments(ctx context.Context) ([]store.Document, error)
	Paragraphs(ctx context.Context, documentID string) ([]trackchanges.Paragraph, error)
	Changes(ctx context.Context, documentID string) ([]trackchanges.Marker, error)
	ApplyParagraphEdits(ctx context.Context, actor app.Actor, documentID string, edits []trackchanges.ParagraphEdit) ([]trackchanges.ParagraphEditResult, error)
	Search(q search.Query) search.Response
}

type Server struct {
	mcp   *server.MCPServer
	docs  Documents
	actor app.Actor
}

// New registers the review tools. aiAuthor is the name stamped on every
// suggestion made through propose_paragraph_edits.
func New(docs Documents, aiAuthor string, version string) *Server {
	s := &Server{
		docs:  docs,
		actor: app.Actor{Name: aiAuthor, Role: rbac.RoleSuggester},
	}

	s.mcp = server.NewMCPServer(
		"Redline",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List every document with its id, title and last editor."),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("list_paragraphs",
		mcp.WithDescription("List the paragraphs of a document with their stable ids and current text. "+
			"Pending insertions appear in the text; pending deletions are still shown until resolved."),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Document id")),
	), s.listParagraphs)

	s.mcp.AddTool(mcp.NewTool("propose_paragraph_edits",
		mcp.WithDescription("Propose whole-paragraph rewrites. Each edit is diffed word by word against the "+
			"paragraph and recorded as tracked insertions and deletions for a human to accept or reject. "+
			"Read the contract via the redline://paragraph-edits resource first."),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Document id")),
		mcp.WithArray("edits", mcp.Required(),
			mcp.Description("Paragraph rewrites"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"paragraphId": map[string]any{"type": "string", "description": "Paragraph id from list_paragraphs"},
					"newText":     map[string]any{"type": "string", "description": "Full replacement text of the paragraph"},
				},
				"required": []string{"paragraphId", "newText"},
			}),
		),
	), s.proposeParagraphEdits)

	s.mcp.AddTool(mcp.NewTool("list_changes",
		mcp.WithDescription("List pending tracked changes of a document in document order."),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Document id")),
	), s.listChanges)

	s.mcp.AddTool(mcp.NewTool("search_paragraphs",
		mcp.WithDescription("Full-text search over paragraph text."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search terms")),
		mcp.WithString("document_id", mcp.Description("Restrict results to one document")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of hits (default 20)")),
	), s.searchParagraphs)

	s.mcp.AddResource(
		mcp.NewResource("redline://paragraph-edits", "Paragraph Edit Contract",
			mcp.WithResourceDescription("How proposed paragraph edits are turned into tracked changes."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listDocuments(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := s.docs.ListDocuments(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(items)
}

func (s *Server) listParagraphs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	items, err := s.docs.Paragraphs(ctx, id)
	if err != nil {
		return toolError(id, err), nil
	}
	return jsonResult(items)
}

func (s *Server) proposeParagraphEdits(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var args struct {
		Edits []trackchanges.ParagraphEdit `json:"edits"`
	}
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid edits: %v", err)), nil
	}
	if len(args.Edits) == 0 {
		return mcp.NewToolResultError("edits must contain at least one paragraph rewrite"), nil
	}
	results, err := s.docs.ApplyParagraphEdits(ctx, s.actor, id, args.Edits)
	if err != nil {
		return toolError(id, err), nil
	}
	return jsonResult(results)
}

func (s *Server) listChanges(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	items, err := s.docs.Changes(ctx, id)
	if err != nil {
		return toolError(id, err), nil
	}
	return jsonResult(items)
}

func (s *Server) searchParagraphs(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.docs.Search(search.Query{
		Text:       query,
		DocumentID: req.GetString("document_id", ""),
		Limit:      req.GetInt("limit", 20),
	}))
}

func (s *Server) readContractResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "redline://paragraph-edits",
			MIMEType: "text/markdown",
			Text:     ParagraphEditContract,
		},
	}, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func toolError(documentID string, err error) *mcp.CallToolResult {
	var domainErr *app.DomainError
	if errors.As(err, &domainErr) {
		return mcp.NewToolResultError(domainErr.Message)
	}
	switch {
	case errors.Is(err, gitrepo.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("document not found: %s", documentID))
	}
	return mcp.NewToolResultError(err.Error())
}
