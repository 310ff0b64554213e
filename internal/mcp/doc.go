// Package mcp implements the Model Context Protocol (MCP) server for devmemory.
//
// The server exposes project memory to AI coding assistants over stdio:
//   - memory_search: semantic search, current project boosted
//   - memory_save: insert, update by id, or merge into a near-duplicate
//   - memory_get: fetch one record
//   - memory_list: list by kind, status and project
//   - memory_delete: delete one record
//   - memory_projects: known projects with record counts
//   - memory_recent: records of the current project updated recently
//
// # Basic Usage
//
//	devmemory serve
//
// The server reads MCP messages on stdin and writes responses to stdout;
// logs go to stderr.
//
// # Tool: memory_save
//
//	Request:
//	{
//	  "name": "memory_save",
//	  "arguments": {
//	    "kind": "issue",
//	    "title": "Replica sync stalls",
//	    "body": "Sync never completes when the interval is zero"
//	  }
//	}
//
//	Response:
//	{
//	  "record": {
//	    "id": 12,
//	    "project": "acme/api",
//	    "kind": "issue",
//	    "title": "Replica sync stalls",
//	    "body": "Sync never completes when the interval is zero",
//	    "status": "open",
//	    "created_at": "2025-01-10T09:30:00Z",
//	    "updated_at": "2025-01-10T09:30:00Z"
//	  }
//	}
//
// # Tool: memory_search
//
//	Request:
//	{
//	  "name": "memory_search",
//	  "arguments": {"query": "sync hangs", "kind": "issue", "limit": 5}
//	}
//
// Each result carries a similarity in [0, 1].
//
// # Error Handling
//
// Error codes:
//   - -32602: Invalid params (bad kind or status, empty title or query)
//   - -32603: Internal error
//   - -32001: Record not found
//   - -32002: Embedding provider failed
//   - -32003: Store operation failed
package mcp
