package tools

import "github.com/openbridge/openbridge/internal/protocol"

func applyPatchTool() protocol.ChatToolDefinition {
	return protocol.ChatToolDefinition{
		Type: "function",
		Function: protocol.ChatToolFunction{
			Name: "apply_patch",
			Description: "Use the `apply_patch` tool to edit files. " +
				"Return the entire apply_patch patch as a string in `input`.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"input": map[string]any{
						"type":        "string",
						"description": "The entire contents of the apply_patch command.",
					},
				},
				"required":             []any{"input"},
				"additionalProperties": false,
			},
		},
	}
}

func shellTool(name string) protocol.ChatToolDefinition {
	return protocol.ChatToolDefinition{
		Type: "function",
		Function: protocol.ChatToolFunction{
			Name:        name,
			Description: "Return a shell command to run locally.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command":    map[string]any{"type": "string"},
					"timeout_ms": map[string]any{"type": "integer", "minimum": 0},
					"cwd":        map[string]any{"type": "string"},
				},
				"required":             []any{"command"},
				"additionalProperties": false,
			},
		},
	}
}

func defaultBuiltins() map[string]protocol.ChatToolDefinition {
	return map[string]protocol.ChatToolDefinition{
		"apply_patch": applyPatchTool(),
		"shell":       shellTool("shell"),
		"local_shell": shellTool("local_shell"),
	}
}
