package tool

import (
	"fmt"
	"strings"

	"github.com/hupe1980/taskmesh/core"
)

// MemoryTool lets the model recall and store memories through the agent's
// memory gateway.
//
// Operations:
//   - recall: query memories relevant to "query" (optional "limit")
//   - remember: store "content" with an optional "memory_type"
type MemoryTool struct {
	name        string
	description string
}

// NewMemoryTool creates the memory tool.
func NewMemoryTool() *MemoryTool {
	return &MemoryTool{
		name: "memory",
		description: "Recalls or stores long-term memories. " +
			"Supports operations: recall (requires query), remember (requires content).",
	}
}

// Name returns the tool identifier.
func (t *MemoryTool) Name() string { return t.name }

// Description returns the tool description.
func (t *MemoryTool) Description() string { return t.description }

// Parameters returns the JSON schema for tool parameters.
func (t *MemoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type":        "string",
				"enum":        []string{"recall", "remember"},
				"description": "The memory operation to perform",
			},
			"query": map[string]any{
				"type":        "string",
				"description": "Search text for recall",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum memories to return for recall",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Text to remember",
			},
			"memory_type": map[string]any{
				"type":        "string",
				"enum":        []string{"working", "semantic", "episodic", "procedural"},
				"description": "Kind of memory to store (default semantic)",
			},
		},
		"required": []string{"operation"},
	}
}

// Call executes the requested operation.
func (t *MemoryTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	op, _ := args["operation"].(string)

	switch op {
	case "recall":
		query, _ := args["query"].(string)
		if strings.TrimSpace(query) == "" {
			return nil, NewToolError(t.name, "recall requires a query", CodeValidation)
		}

		limit := 5
		if l, ok := args["limit"].(float64); ok && l > 0 {
			limit = int(l)
		}

		items, err := toolCtx.RecallMemory(query, limit)
		if err != nil {
			return nil, NewToolError(t.name, err.Error(), CodeExecution)
		}

		results := make([]map[string]any, len(items))
		for i, it := range items {
			results[i] = map[string]any{
				"content": it.Content,
				"type":    string(it.Type),
				"score":   it.Score,
			}
		}

		return map[string]any{"memories": results, "count": len(results)}, nil
	case "remember":
		content, _ := args["content"].(string)
		if strings.TrimSpace(content) == "" {
			return nil, NewToolError(t.name, "remember requires content", CodeValidation)
		}

		typ := core.MemorySemantic
		if s, ok := args["memory_type"].(string); ok && s != "" {
			typ = core.MemoryType(s)
		}

		if err := toolCtx.StoreMemory(content, typ, nil); err != nil {
			return nil, NewToolError(t.name, err.Error(), CodeExecution)
		}

		return map[string]any{"stored": true, "memory_type": string(typ)}, nil
	default:
		return nil, NewToolError(t.name, fmt.Sprintf("unknown operation %q", op), CodeValidation)
	}
}
