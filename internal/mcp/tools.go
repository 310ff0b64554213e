package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/devmemory/internal/memory"
	"github.com/dshills/devmemory/internal/storage"
	"github.com/dshills/devmemory/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams   = -32602 // Invalid method parameters
	ErrorCodeInternalError   = -32603 // Internal JSON-RPC error
	ErrorCodeNotFound        = -32001 // Record does not exist
	ErrorCodeEmbeddingFailed = -32002 // Embedding provider failed
	ErrorCodeStorageFailed   = -32003 // Store operation failed
)

// MaxLimit bounds search and list limits accepted from clients
const MaxLimit = 50

// handleSearch handles the memory_search tool invocation
func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query := getStringDefault(args, "query", "")
	if query == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "query parameter is required", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", s.defaultLimit)
	if limit < 1 || limit > MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", MaxLimit), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	records, err := s.memory.Search(ctx, memory.SearchRequest{
		Query: query,
		Kind:  types.Kind(getStringDefault(args, "kind", "")),
		Limit: limit,
	})
	if err != nil {
		return nil, toolError("search failed", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"results": records,
		"count":   len(records),
	})), nil
}

// handleSave handles the memory_save tool invocation
func (s *Server) handleSave(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	id := int64(getIntDefault(args, "id", 0))
	if id < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "id must be positive", map[string]interface{}{
			"param": "id",
			"value": id,
		})
	}

	rec, err := s.memory.Save(ctx, memory.SaveRequest{
		ID:     id,
		Kind:   types.Kind(getStringDefault(args, "kind", "")),
		Title:  getStringDefault(args, "title", ""),
		Body:   getStringDefault(args, "body", ""),
		Status: types.Status(getStringDefault(args, "status", "")),
	})
	if err != nil {
		return nil, toolError("save failed", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"record": rec,
	})), nil
}

// handleGet handles the memory_get tool invocation
func (s *Server) handleGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(request)
	if err != nil {
		return nil, err
	}

	rec, err := s.memory.Get(ctx, id)
	if err != nil {
		return nil, toolError("get failed", err)
	}
	if rec == nil {
		return nil, newMCPError(ErrorCodeNotFound, "record not found", map[string]interface{}{
			"id": id,
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"record": rec,
	})), nil
}

// handleList handles the memory_list tool invocation
func (s *Server) handleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		// Every argument is optional
		args = map[string]interface{}{}
	}

	limit := getIntDefault(args, "limit", 0)
	if limit < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must not be negative", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	records, err := s.memory.List(ctx, storage.ListFilter{
		Kind:    types.Kind(getStringDefault(args, "kind", "")),
		Status:  types.Status(getStringDefault(args, "status", "")),
		Project: getStringDefault(args, "project", storage.ProjectCurrent),
		Limit:   limit,
	})
	if err != nil {
		return nil, toolError("list failed", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"records": records,
		"count":   len(records),
	})), nil
}

// handleDelete handles the memory_delete tool invocation
func (s *Server) handleDelete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(request)
	if err != nil {
		return nil, err
	}

	deleted, err := s.memory.Delete(ctx, id)
	if err != nil {
		return nil, toolError("delete failed", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"id":      id,
		"deleted": deleted,
	})), nil
}

// handleProjects handles the memory_projects tool invocation
func (s *Server) handleProjects(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := s.memory.Projects(ctx)
	if err != nil {
		return nil, toolError("listing projects failed", err)
	}
	current, err := s.memory.CurrentProject(ctx)
	if err != nil {
		return nil, toolError("listing projects failed", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"projects": projects,
		"current":  current.Name,
	})), nil
}

// handleRecent handles the memory_recent tool invocation
func (s *Server) handleRecent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		args = map[string]interface{}{}
	}

	hours := getIntDefault(args, "hours", 0)
	if hours < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "hours must be positive", map[string]interface{}{
			"param": "hours",
			"value": hours,
		})
	}

	records, err := s.memory.Recent(ctx, hours)
	if err != nil {
		return nil, toolError("recent failed", err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"records": records,
		"count":   len(records),
	})), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// toolError maps a service error onto an MCP error code
func toolError(message string, err error) error {
	data := map[string]interface{}{
		"error": err.Error(),
	}
	switch {
	case errors.Is(err, types.ErrInvalidKind),
		errors.Is(err, types.ErrInvalidStatus),
		errors.Is(err, types.ErrEmptyTitle),
		errors.Is(err, types.ErrInvalidID),
		errors.Is(err, memory.ErrEmptyQuery):
		return newMCPError(ErrorCodeInvalidParams, message, data)
	case errors.Is(err, storage.ErrNotFound):
		return newMCPError(ErrorCodeNotFound, message, data)
	case errors.Is(err, memory.ErrEmbedding):
		return newMCPError(ErrorCodeEmbeddingFailed, message, data)
	default:
		return newMCPError(ErrorCodeStorageFailed, message, data)
	}
}

// requireID extracts a positive record id
func requireID(request mcp.CallToolRequest) (int64, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return 0, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	id := getIntDefault(args, "id", 0)
	if id < 1 {
		return 0, newMCPError(ErrorCodeInvalidParams, "id parameter is required", map[string]interface{}{
			"param":  "id",
			"reason": "missing or not positive",
		})
	}
	return int64(id), nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
