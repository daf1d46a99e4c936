// Package mcp provides MCP (Model Context Protocol) tool adapters for
// fieldsync, so agent frameworks can inspect and drive the offline
// sync engine over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hyperengineering/fieldsync"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server wraps the MCP server with fieldsync tools.
type Server struct {
	client    *fieldsync.Client
	mcpServer *server.MCPServer
}

// ToolResult represents the result of a tool call.
type ToolResult struct {
	Content string
	IsError bool
}

// NewServer creates a new MCP server with fieldsync tools registered.
func NewServer(client *fieldsync.Client) *Server {
	s := &Server{client: client}

	s.mcpServer = server.NewMCPServer(
		"fieldsync",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// Run starts the MCP server, reading from stdin and writing to stdout.
func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

// HandleMessage processes a raw JSON-RPC message and returns a response.
// This is primarily for testing the MCP protocol layer.
func (s *Server) HandleMessage(ctx context.Context, message json.RawMessage) mcp.JSONRPCMessage {
	return s.mcpServer.HandleMessage(ctx, message)
}

// CallTool executes a tool by name with the given arguments.
// This is used for testing and direct invocation.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	switch name {
	case "fieldsync_status":
		return s.handleStatus(ctx, args)
	case "fieldsync_sync":
		return s.handleSync(ctx, args)
	case "fieldsync_queue":
		return s.handleQueue(ctx, args)
	case "fieldsync_save":
		return s.handleSave(ctx, args)
	default:
		return &ToolResult{Content: fmt.Sprintf("unknown tool: %s", name), IsError: true}, nil
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("fieldsync_status",
		mcp.WithDescription("Show aggregate sync status: pending mutation count, last sync time, connectivity, and local store availability."),
	), s.mcpHandleStatus)

	s.mcpServer.AddTool(mcp.NewTool("fieldsync_sync",
		mcp.WithDescription("Run one pass over the pending mutation queue against the central service. Returns processed/failed/remaining counts."),
	), s.mcpHandleSync)

	s.mcpServer.AddTool(mcp.NewTool("fieldsync_queue",
		mcp.WithDescription("List pending sync queue items in delivery order."),
	), s.mcpHandleQueue)

	s.mcpServer.AddTool(mcp.NewTool("fieldsync_save",
		mcp.WithDescription("Save a record into the local cache and queue it for sync."),
		mcp.WithString("entity",
			mcp.Description("Target collection"),
			mcp.Required(),
			mcp.Enum("projects", "tasks", "timeEntries", "documents", "clients"),
		),
		mcp.WithString("record",
			mcp.Description("Record payload as a JSON object; an 'id' field updates an existing record"),
			mcp.Required(),
		),
	), s.mcpHandleSave)
}

func (s *Server) mcpHandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.handleStatus(ctx, req.GetArguments())
	if err != nil {
		return nil, err
	}
	return toMCPResult(result), nil
}

func (s *Server) mcpHandleSync(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.handleSync(ctx, req.GetArguments())
	if err != nil {
		return nil, err
	}
	return toMCPResult(result), nil
}

func (s *Server) mcpHandleQueue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.handleQueue(ctx, req.GetArguments())
	if err != nil {
		return nil, err
	}
	return toMCPResult(result), nil
}

func (s *Server) mcpHandleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.handleSave(ctx, req.GetArguments())
	if err != nil {
		return nil, err
	}
	return toMCPResult(result), nil
}

func toMCPResult(r *ToolResult) *mcp.CallToolResult {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: r.Content,
			},
		},
	}
	if r.IsError {
		result.IsError = true
	}
	return result
}

// Internal handlers

func (s *Server) handleStatus(_ context.Context, _ map[string]any) (*ToolResult, error) {
	status := s.client.Status()

	lastSync := "never"
	if status.LastSync != nil {
		lastSync = status.LastSync.UTC().Format(time.RFC3339)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "pending: %d\n", status.Pending)
	fmt.Fprintf(&b, "last sync: %s\n", lastSync)
	fmt.Fprintf(&b, "online: %v\n", status.IsOnline)
	fmt.Fprintf(&b, "syncing: %v\n", status.IsSyncing)
	fmt.Fprintf(&b, "offline ready: %v", status.OfflineReady)

	return &ToolResult{Content: b.String()}, nil
}

func (s *Server) handleSync(ctx context.Context, _ map[string]any) (*ToolResult, error) {
	result, err := s.client.SyncNow(ctx)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("sync failed: %v", err), IsError: true}, nil
	}

	return &ToolResult{Content: fmt.Sprintf(
		"sync complete: processed=%d failed=%d remaining=%d",
		result.Processed, result.Failed, result.Remaining)}, nil
}

func (s *Server) handleQueue(_ context.Context, _ map[string]any) (*ToolResult, error) {
	store := s.client.Store()
	if store == nil {
		return &ToolResult{Content: "local store unavailable", IsError: true}, nil
	}

	items, err := store.ListQueue()
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("list queue: %v", err), IsError: true}, nil
	}

	if len(items) == 0 {
		return &ToolResult{Content: "queue is empty"}, nil
	}

	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "#%d %s %s/%s retries=%d", item.ID, item.Operation, item.Entity, item.EntityID, item.Retries)
		if item.Error != "" {
			fmt.Fprintf(&b, " error=%q", item.Error)
		}
	}
	return &ToolResult{Content: b.String()}, nil
}

func (s *Server) handleSave(_ context.Context, args map[string]any) (*ToolResult, error) {
	entityStr, ok := args["entity"].(string)
	if !ok || entityStr == "" {
		return &ToolResult{Content: "entity is required", IsError: true}, nil
	}
	entity := fieldsync.Entity(entityStr)
	if !entity.IsValid() {
		return &ToolResult{Content: fmt.Sprintf("unknown entity: %s", entityStr), IsError: true}, nil
	}

	recordStr, ok := args["record"].(string)
	if !ok || recordStr == "" {
		return &ToolResult{Content: "record is required", IsError: true}, nil
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(recordStr), &payload); err != nil {
		return &ToolResult{Content: fmt.Sprintf("invalid record JSON: %v", err), IsError: true}, nil
	}

	rec, err := s.client.Save(entity, fieldsync.Record{
		ID:   payload.ID,
		Data: json.RawMessage(recordStr),
	})
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("save failed: %v", err), IsError: true}, nil
	}

	return &ToolResult{Content: fmt.Sprintf("saved %s/%s (queued for sync)", entity, rec.ID)}, nil
}
