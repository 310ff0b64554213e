package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var (
	kindEnum   = []string{"issue", "spec", "arch", "update"}
	statusEnum = []string{"open", "resolved", "archived"}
)

// searchTool returns the tool definition for memory_search
func searchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "memory_search",
		Description: "Search project memory semantically. Records from the current project rank higher.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language description of what to find",
				},
				"kind": map[string]interface{}{
					"type":        "string",
					"description": "Only return records of this kind",
					"enum":        kindEnum,
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-50)",
					"default":     5,
					"minimum":     1,
					"maximum":     MaxLimit,
				},
			},
			Required: []string{"query"},
		},
	}
}

// saveTool returns the tool definition for memory_save
func saveTool() mcp.Tool {
	return mcp.Tool{
		Name:        "memory_save",
		Description: "Save a record to the current project. Near-identical records of the same kind are updated instead of duplicated.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"kind": map[string]interface{}{
					"type":        "string",
					"description": "Record kind",
					"enum":        kindEnum,
				},
				"title": map[string]interface{}{
					"type":        "string",
					"description": "Short summary",
				},
				"body": map[string]interface{}{
					"type":        "string",
					"description": "Details",
				},
				"status": map[string]interface{}{
					"type":        "string",
					"description": "Record status",
					"enum":        statusEnum,
					"default":     "open",
				},
				"id": map[string]interface{}{
					"type":        "integer",
					"description": "Update this record instead of inserting",
					"minimum":     1,
				},
			},
			Required: []string{"kind", "title"},
		},
	}
}

// getTool returns the tool definition for memory_get
func getTool() mcp.Tool {
	return mcp.Tool{
		Name:        "memory_get",
		Description: "Fetch one record by id",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "integer",
					"description": "Record id",
					"minimum":     1,
				},
			},
			Required: []string{"id"},
		},
	}
}

// listTool returns the tool definition for memory_list
func listTool() mcp.Tool {
	return mcp.Tool{
		Name:        "memory_list",
		Description: "List records, most recently updated first",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"kind": map[string]interface{}{
					"type":        "string",
					"description": "Only list records of this kind",
					"enum":        kindEnum,
				},
				"status": map[string]interface{}{
					"type":        "string",
					"description": "Only list records with this status",
					"enum":        statusEnum,
				},
				"project": map[string]interface{}{
					"type":        "string",
					"description": "Project name, \"current\" or \"*\" for all projects",
					"default":     "current",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of records to return; 0 for no limit",
					"default":     0,
					"minimum":     0,
				},
			},
		},
	}
}

// deleteTool returns the tool definition for memory_delete
func deleteTool() mcp.Tool {
	return mcp.Tool{
		Name:        "memory_delete",
		Description: "Delete one record by id",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "integer",
					"description": "Record id",
					"minimum":     1,
				},
			},
			Required: []string{"id"},
		},
	}
}

// projectsTool returns the tool definition for memory_projects
func projectsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "memory_projects",
		Description: "List known projects with their record counts",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// recentTool returns the tool definition for memory_recent
func recentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "memory_recent",
		Description: "Records of the current project updated recently (at most 10)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"hours": map[string]interface{}{
					"type":        "integer",
					"description": "Lookback window in hours",
					"minimum":     1,
				},
			},
		},
	}
}
