// Package mcp exposes the linkd API to agents over the Model Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rmax-ai/linkd/pkg/client"
)

// Server adapts linkd to the Model Context Protocol.
type Server struct {
	mcpServer *server.MCPServer
	apiClient *client.Client
}

// NewServer creates a new MCP server instance.
func NewServer(apiURL string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"linkd",
			"1.0.0",
		),
		apiClient: client.NewClient(apiURL),
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	// linkd://health
	s.mcpServer.AddResource(mcp.NewResource(
		"linkd://health",
		"Linkd Health",
		mcp.WithResourceDescription("Hosted services and relay leadership of the daemon"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadHealth)
}

// --- Tools ---

func actorArg() mcp.ToolOption {
	return mcp.WithNumber("actor_id", mcp.Required(), mcp.Description("The user acting on the graph"))
}

func (s *Server) registerTools() {
	lifecycle := []struct {
		name, desc, target string
	}{
		{"send_connection_request", "Send a connection request from the actor to a user.", "The user to invite"},
		{"accept_connection_request", "Accept a pending connection request sent to the actor.", "The user who sent the request"},
		{"reject_connection_request", "Reject a pending connection request sent to the actor.", "The user who sent the request"},
		{"remove_connection", "Remove an existing connection of the actor.", "The connected user"},
	}
	for _, t := range lifecycle {
		s.mcpServer.AddTool(mcp.NewTool(
			t.name,
			mcp.WithDescription(t.desc),
			actorArg(),
			mcp.WithNumber("user_id", mcp.Required(), mcp.Description(t.target)),
		), s.handleLifecycle)
	}

	s.mcpServer.AddTool(mcp.NewTool(
		"list_connections",
		mcp.WithDescription("List users related to the actor."),
		actorArg(),
		mcp.WithString("kind", mcp.Description("first-degree (default), received, sent or suggestions")),
	), s.handleListConnections)

	s.mcpServer.AddTool(mcp.NewTool(
		"get_relation",
		mcp.WithDescription("Show whether the actor and a user are unrelated, requested or connected."),
		actorArg(),
		mcp.WithNumber("user_id", mcp.Required(), mcp.Description("The other user")),
	), s.handleGetRelation)

	s.mcpServer.AddTool(mcp.NewTool(
		"list_notifications",
		mcp.WithDescription("List the most recent notifications of the actor."),
		actorArg(),
	), s.handleListNotifications)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"linkd-aware",
		mcp.WithPromptDescription("Provides context about linkd concepts (Persons, Requests, Connections)"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func (s *Server) handleReadHealth(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	status, err := s.apiClient.Ping(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch health: %w", err)
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal health: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func ids(request mcp.CallToolRequest) (actorID, userID int64) {
	return int64(mcp.ParseFloat64(request, "actor_id", 0)), int64(mcp.ParseFloat64(request, "user_id", 0))
}

func (s *Server) handleLifecycle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actorID, userID := ids(request)
	if actorID <= 0 || userID <= 0 {
		return mcp.NewToolResultError("actor_id and user_id must be positive"), nil
	}

	var (
		res client.Result
		err error
	)
	switch request.Params.Name {
	case "send_connection_request":
		res, err = s.apiClient.SendRequest(ctx, actorID, userID)
	case "accept_connection_request":
		res, err = s.apiClient.AcceptRequest(ctx, actorID, userID)
	case "reject_connection_request":
		res, err = s.apiClient.RejectRequest(ctx, actorID, userID)
	case "remove_connection":
		res, err = s.apiClient.RemoveConnection(ctx, actorID, userID)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown tool: %s", request.Params.Name)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}

	msg := fmt.Sprintf("%s: done", request.Params.Name)
	if res.EventsPending {
		msg += " (notification delivery pending)"
	}
	return mcp.NewToolResultText(msg), nil
}

func (s *Server) handleListConnections(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actorID, _ := ids(request)
	kind := mcp.ParseString(request, "kind", "first-degree")

	var (
		persons []client.Person
		err     error
	)
	switch kind {
	case "first-degree":
		persons, err = s.apiClient.FirstDegreeConnections(ctx, actorID)
	case "received":
		persons, err = s.apiClient.PendingReceived(ctx, actorID)
	case "sent":
		persons, err = s.apiClient.PendingSent(ctx, actorID)
	case "suggestions":
		persons, err = s.apiClient.Suggestions(ctx, actorID, 20)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown kind %q", kind)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	if len(persons) == 0 {
		return mcp.NewToolResultText("No users."), nil
	}

	var b strings.Builder
	for _, p := range persons {
		fmt.Fprintf(&b, "%d\t%s\n", p.UserID, p.Name)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleGetRelation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actorID, userID := ids(request)
	rel, err := s.apiClient.Relation(ctx, actorID, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	msg := fmt.Sprintf("Relation: %s", rel.State)
	if rel.SenderID != 0 {
		msg += fmt.Sprintf("\nRequested by: %d", rel.SenderID)
	}
	return mcp.NewToolResultText(msg), nil
}

func (s *Server) handleListNotifications(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actorID, _ := ids(request)
	notes, err := s.apiClient.Notifications(ctx, actorID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	if len(notes) == 0 {
		return mcp.NewToolResultText("No notifications."), nil
	}

	var b strings.Builder
	for _, n := range notes {
		fmt.Fprintf(&b, "%s\t%s\n", n.CreatedAt.Format("2006-01-02 15:04"), n.Message)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != "linkd-aware" {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are interacting with linkd, the connections service of a professional network.

Concepts:
- Person: a user known to the graph, identified by a numeric user id.
- Request: a pending invitation from one user to another. Only the receiver may accept or reject it.
- Connection: an accepted, symmetric relation. Either side may remove it.
- Actor: the user on whose behalf you act. Every tool takes an actor_id.

Before sending a request, use 'get_relation' to check that the users are not already related.
`

	return mcp.NewGetPromptResult(
		"linkd-aware",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}
