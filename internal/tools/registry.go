// Package tools implements tool virtualization: Responses built-in tools are
// projected onto plain chat functions for the upstream, and the per-request
// name maps let responses and stream events be translated back.
package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openbridge/openbridge/internal/protocol"
)

// DefaultPrefix namespaces synthetic function names so they can never collide
// with user-declared tools.
const DefaultPrefix = "ob_"

// Virtualization is the outcome of projecting one request's tool list: the
// chat-side definitions plus the bidirectional name maps.
type Virtualization struct {
	ChatTools       []protocol.ChatToolDefinition
	FunctionNameMap map[string]string // upstream function name -> external type
	ExternalNameMap map[string]string // external type -> upstream function name
}

// ReservedPrefixError reports a user function tool squatting on the internal
// prefix.
type ReservedPrefixError struct {
	Prefix string
	Name   string
}

func (e *ReservedPrefixError) Error() string {
	return fmt.Sprintf("function tool name must not start with reserved prefix %q: %q", e.Prefix, e.Name)
}

// DuplicateNameError reports two tools resolving to the same upstream
// function name. ExternalType is set when the collision involved a built-in.
type DuplicateNameError struct {
	Name         string
	ExternalType string
}

func (e *DuplicateNameError) Error() string {
	if e.ExternalType != "" {
		return fmt.Sprintf("tool name collision for external type %q: %q", e.ExternalType, e.Name)
	}
	return fmt.Sprintf("duplicate tool name: %q", e.Name)
}

// Registry resolves built-in tool types to chat function definitions.
// Registries are immutable after construction and safe for concurrent use.
type Registry struct {
	prefix   string
	builtins map[string]protocol.ChatToolDefinition
}

// NewRegistry returns a registry with the default prefix and built-ins
// (apply_patch, shell, local_shell).
func NewRegistry() *Registry {
	return &Registry{prefix: DefaultPrefix, builtins: defaultBuiltins()}
}

// Prefix returns the reserved function-name prefix.
func (r *Registry) Prefix() string { return r.prefix }

// RegisterBuiltin adds or replaces a built-in definition. Only meant to be
// called during setup, before the registry is shared.
func (r *Registry) RegisterBuiltin(externalType string, def protocol.ChatToolDefinition) {
	r.builtins[externalType] = def
}

// FunctionNameForExternal returns the upstream function name for a built-in
// type: its canonical name when registered, otherwise the prefixed type.
func (r *Registry) FunctionNameForExternal(externalType string) string {
	if def, ok := r.builtins[externalType]; ok {
		return def.Function.Name
	}
	return r.prefix + externalType
}

// DefinitionForExternal returns the chat tool definition for a built-in type.
// Unknown types get a permissive single-string schema so round-trips keep
// working even for tools the proxy has never heard of.
func (r *Registry) DefinitionForExternal(externalType string) protocol.ChatToolDefinition {
	if def, ok := r.builtins[externalType]; ok {
		return def
	}
	return protocol.ChatToolDefinition{
		Type: "function",
		Function: protocol.ChatToolFunction{
			Name:        r.FunctionNameForExternal(externalType),
			Description: fmt.Sprintf("Return a JSON payload for %s.", externalType),
			Parameters: map[string]any{
				"type":                 "object",
				"properties":           map[string]any{"payload": map[string]any{"type": "string"}},
				"required":             []any{"payload"},
				"additionalProperties": false,
			},
		},
	}
}

// VirtualizeTools converts a Responses tool list to chat definitions.
// Function tools pass through verbatim; every other type is mapped to its
// virtualized definition and recorded in the name maps.
func (r *Registry) VirtualizeTools(toolList []protocol.Tool) (*Virtualization, error) {
	result := &Virtualization{
		FunctionNameMap: make(map[string]string),
		ExternalNameMap: make(map[string]string),
	}
	if len(toolList) == 0 {
		return result, nil
	}

	seen := make(map[string]bool)
	for _, tool := range toolList {
		if tool.Type == "function" {
			var function protocol.ChatToolFunction
			if tool.Function != nil {
				function = protocol.ChatToolFunction{
					Name:        tool.Function.Name,
					Description: tool.Function.Description,
					Parameters:  tool.Function.Parameters,
				}
			} else {
				function = protocol.ChatToolFunction{
					Name:        tool.Name,
					Description: tool.Description,
					Parameters:  tool.Parameters,
				}
			}
			if function.Name == "" {
				continue
			}
			if strings.HasPrefix(function.Name, r.prefix) {
				return nil, &ReservedPrefixError{Prefix: r.prefix, Name: function.Name}
			}
			if seen[function.Name] {
				return nil, &DuplicateNameError{Name: function.Name}
			}
			seen[function.Name] = true
			result.ChatTools = append(result.ChatTools, protocol.ChatToolDefinition{
				Type:     "function",
				Function: function,
			})
			continue
		}

		externalType := tool.Type
		def := r.DefinitionForExternal(externalType)
		name := def.Function.Name
		if seen[name] {
			return nil, &DuplicateNameError{Name: name, ExternalType: externalType}
		}
		seen[name] = true
		result.ChatTools = append(result.ChatTools, protocol.ChatToolDefinition{
			Type:     "function",
			Function: def.Function,
		})
		result.FunctionNameMap[name] = externalType
		result.ExternalNameMap[externalType] = name
	}

	return result, nil
}

// CallArgumentsFromItem packages a built-in call input item into the function
// arguments string. When the item already carries valid JSON arguments they
// pass through verbatim; otherwise every non-framing field is serialized.
func (r *Registry) CallArgumentsFromItem(externalType string, item protocol.InputItem) string {
	payload := item.Fields()
	delete(payload, "type")
	delete(payload, "id")
	delete(payload, "call_id")

	if args, ok := payload["arguments"].(string); ok && json.Valid([]byte(args)) {
		return args
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(data)
}
