// Package translate converts between the Responses API surface and the
// upstream Chat Completions dialect, in both directions.
package translate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openbridge/openbridge/internal/protocol"
	"github.com/openbridge/openbridge/internal/tools"
)

// Options carries the translator knobs that come from configuration.
type Options struct {
	ModelMapPath    string
	VendorPrefix    string
	MaxTokensBuffer int
}

// Result is the outcome of translating one Responses request: the upstream
// chat request, the per-request tool virtualization, and the message prefix a
// stored transcript records. MessagesForState deliberately excludes the
// system message so instructions are re-applied per request.
type Result struct {
	ChatRequest      protocol.ChatRequest
	ToolMap          *tools.Virtualization
	MessagesForState []protocol.ChatMessage
}

// Request translates a Responses request into an upstream chat request.
// History, when supplied, is the stored transcript of the previous response
// and is replayed ahead of the new input.
func Request(req protocol.ResponsesRequest, registry *tools.Registry, history []protocol.ChatMessage, opts Options) (*Result, error) {
	modelMap, err := LoadModelMap(opts.ModelMapPath)
	if err != nil {
		return nil, err
	}

	inputMessages := inputItemsToMessages(req.Input, registry)

	messages := make([]protocol.ChatMessage, 0, len(history)+len(inputMessages)+1)
	if req.Instructions != "" {
		messages = append(messages, protocol.ChatMessage{Role: "system", Content: req.Instructions})
	}
	messages = append(messages, history...)
	messages = append(messages, inputMessages...)

	inferred := inferToolsFromInput(req.Input, registry)
	merged := mergeTools(req.Tools, inferred)
	choice := req.ToolChoice
	if len(req.Tools) == 0 && len(inferred) > 0 && choice == nil {
		// Tools were only inferred from call items; keep the model from
		// actually calling them on this turn.
		choice = &protocol.ToolChoice{Mode: "none"}
	}

	virtualization, chatChoice, err := normalizeToolsAndChoice(merged, choice, registry)
	if err != nil {
		return nil, err
	}

	reasoning, err := reasoningObject(req.Reasoning)
	if err != nil {
		return nil, err
	}

	chatRequest := protocol.ChatRequest{
		Model:             ResolveModel(req.Model, modelMap, opts.VendorPrefix),
		Messages:          messages,
		ToolChoice:        chatChoice,
		ParallelToolCalls: req.ParallelToolCalls,
		MaxTokens:         upstreamMaxTokens(req.MaxOutputTokens, opts.MaxTokensBuffer),
		Temperature:       req.Temperature,
		TopP:              req.TopP,
		Verbosity:         req.Verbosity,
		Reasoning:         reasoning,
		ResponseFormat:    buildResponseFormat(req),
		Stream:            req.Stream,
	}
	if len(virtualization.ChatTools) > 0 {
		chatRequest.Tools = virtualization.ChatTools
	}

	state := make([]protocol.ChatMessage, 0, len(history)+len(inputMessages))
	state = append(state, history...)
	state = append(state, inputMessages...)

	return &Result{
		ChatRequest:      chatRequest,
		ToolMap:          virtualization,
		MessagesForState: state,
	}, nil
}

func inputItemsToMessages(input protocol.Input, registry *tools.Registry) []protocol.ChatMessage {
	if input.IsText() {
		return []protocol.ChatMessage{{Role: "user", Content: input.Text()}}
	}

	var messages []protocol.ChatMessage
	var pendingReasoning []map[string]any

	for _, item := range input.Items() {
		if item.Role != "" && item.Content != nil {
			msg := protocol.ChatMessage{Role: item.Role, Content: canonicalContent(item.Content)}
			if msg.Role == "assistant" && len(pendingReasoning) > 0 {
				msg.ReasoningDetails = pendingReasoning
				pendingReasoning = nil
			}
			messages = append(messages, msg)
			continue
		}

		switch {
		case item.Type == "reasoning":
			pendingReasoning = append(pendingReasoning, reasoningDetailsOf(item)...)

		case item.Type == "function_call":
			args := item.Arguments
			if args == "" {
				args = "{}"
			}
			appendToolCall(&messages, protocol.ChatToolCall{
				ID:   item.CallID,
				Type: "function",
				Function: protocol.ChatToolCallFunction{
					Name:      item.Name,
					Arguments: args,
				},
			})
			pendingReasoning = attachReasoning(messages, pendingReasoning)

		case item.Type == "function_call_output":
			messages = append(messages, protocol.ChatMessage{
				Role:       "tool",
				ToolCallID: item.CallID,
				Content:    stringifyOutput(item.Output),
			})

		case strings.HasSuffix(item.Type, "_call"):
			externalType := strings.TrimSuffix(item.Type, "_call")
			appendToolCall(&messages, protocol.ChatToolCall{
				ID:   item.CallID,
				Type: "function",
				Function: protocol.ChatToolCallFunction{
					Name:      registry.FunctionNameForExternal(externalType),
					Arguments: registry.CallArgumentsFromItem(externalType, item),
				},
			})
			pendingReasoning = attachReasoning(messages, pendingReasoning)

		case strings.HasSuffix(item.Type, "_call_output"):
			messages = append(messages, protocol.ChatMessage{
				Role:       "tool",
				ToolCallID: item.CallID,
				Content:    stringifyOutput(item.Output),
			})
		}
	}

	return messages
}

// canonicalContent passes strings and structured parts through and renders
// anything else (numbers, booleans) as JSON text.
func canonicalContent(content any) any {
	switch content.(type) {
	case string, []any, map[string]any:
		return content
	}
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Sprintf("%v", content)
	}
	return string(data)
}

func reasoningDetailsOf(item protocol.InputItem) []map[string]any {
	raw, ok := item.Extra["openrouter_reasoning_details"].([]any)
	if !ok {
		return nil
	}
	var details []map[string]any
	for _, entry := range raw {
		if detail, ok := entry.(map[string]any); ok {
			details = append(details, detail)
		}
	}
	return details
}

// appendToolCall extends the trailing assistant tool-call message, or opens a
// new one so consecutive call items group into a single assistant turn.
func appendToolCall(messages *[]protocol.ChatMessage, call protocol.ChatToolCall) {
	msgs := *messages
	if len(msgs) > 0 {
		last := &msgs[len(msgs)-1]
		if last.Role == "assistant" && len(last.ToolCalls) > 0 {
			last.ToolCalls = append(last.ToolCalls, call)
			return
		}
	}
	*messages = append(msgs, protocol.ChatMessage{
		Role:      "assistant",
		ToolCalls: []protocol.ChatToolCall{call},
	})
}

// attachReasoning moves pending reasoning details onto the trailing assistant
// message. Returns the remaining pending details (nil once attached).
func attachReasoning(messages []protocol.ChatMessage, pending []map[string]any) []map[string]any {
	if len(pending) == 0 || len(messages) == 0 {
		return pending
	}
	last := &messages[len(messages)-1]
	if last.Role != "assistant" {
		return pending
	}
	last.ReasoningDetails = pending
	return nil
}

func stringifyOutput(output any) string {
	if output == nil {
		return ""
	}
	if text, ok := output.(string); ok {
		return text
	}
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Sprintf("%v", output)
	}
	return string(data)
}

// inferToolsFromInput derives minimal tool declarations from call items so
// follow-up requests that omit tools[] still replay cleanly upstream.
func inferToolsFromInput(input protocol.Input, registry *tools.Registry) []protocol.Tool {
	if input.IsText() {
		return nil
	}

	var inferred []protocol.Tool
	seen := make(map[string]bool)

	addBuiltin := func(externalType string) {
		if externalType == "" {
			return
		}
		key := "builtin:" + externalType
		if seen[key] {
			return
		}
		seen[key] = true
		inferred = append(inferred, protocol.Tool{Type: externalType})
	}

	for _, item := range input.Items() {
		switch {
		case item.Type == "function_call":
			name := strings.TrimSpace(item.Name)
			if name == "" || strings.HasPrefix(name, registry.Prefix()) {
				continue
			}
			key := "function:" + name
			if seen[key] {
				continue
			}
			seen[key] = true
			inferred = append(inferred, protocol.Tool{
				Type: "function",
				Function: &protocol.ToolFunction{
					Name:        name,
					Description: "Inferred tool definition (client did not provide schema).",
					Parameters: map[string]any{
						"type":                 "object",
						"properties":           map[string]any{},
						"additionalProperties": true,
					},
				},
			})

		case strings.HasSuffix(item.Type, "_call") && item.Type != "function_call":
			addBuiltin(strings.TrimSuffix(item.Type, "_call"))

		case strings.HasSuffix(item.Type, "_call_output") && item.Type != "function_call_output":
			addBuiltin(strings.TrimSuffix(item.Type, "_call_output"))
		}
	}

	return inferred
}

func mergeTools(declared, inferred []protocol.Tool) []protocol.Tool {
	if len(declared) == 0 && len(inferred) == 0 {
		return nil
	}

	var merged []protocol.Tool
	seen := make(map[string]bool)
	for _, tool := range append(append([]protocol.Tool{}, declared...), inferred...) {
		key, ok := toolKey(tool)
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, tool)
	}
	return merged
}

func toolKey(tool protocol.Tool) (string, bool) {
	if tool.Type == "function" {
		name := strings.TrimSpace(tool.FunctionName())
		if name == "" {
			return "", false
		}
		return "function:" + name, true
	}
	return "builtin:" + tool.Type, true
}

func normalizeToolsAndChoice(toolList []protocol.Tool, choice *protocol.ToolChoice, registry *tools.Registry) (*tools.Virtualization, any, error) {
	filtered := toolList
	var chatChoice any

	switch {
	case choice == nil:
	case choice.Allowed != nil:
		filtered = filterToolsByAllowed(toolList, choice.Allowed.Tools)
		chatChoice = choice.Allowed.Mode
	case choice.Function != nil:
		chatChoice = map[string]any{
			"type":     "function",
			"function": map[string]any{"name": choice.Function.Name},
		}
	default:
		chatChoice = choice.Mode
	}

	virtualization, err := registry.VirtualizeTools(filtered)
	if err != nil {
		return nil, nil, err
	}
	return virtualization, chatChoice, nil
}

func filterToolsByAllowed(toolList, allowed []protocol.Tool) []protocol.Tool {
	allowedNames := make(map[string]bool)
	for _, tool := range allowed {
		if tool.Type == "function" {
			if name := tool.FunctionName(); name != "" {
				allowedNames[name] = true
			}
		} else {
			allowedNames[tool.Type] = true
		}
	}

	var filtered []protocol.Tool
	for _, tool := range toolList {
		if tool.Type == "function" {
			if name := tool.FunctionName(); name != "" && allowedNames[name] {
				filtered = append(filtered, tool)
			}
		} else if allowedNames[tool.Type] {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}

func buildResponseFormat(req protocol.ResponsesRequest) map[string]any {
	if req.Text == nil || req.Text.Format == nil {
		return nil
	}
	format := req.Text.Format
	switch format.Type {
	case "json_schema":
		schema := make(map[string]any)
		if format.Name != "" {
			schema["name"] = format.Name
		}
		if format.Strict != nil {
			schema["strict"] = *format.Strict
		}
		if format.Schema != nil {
			schema["schema"] = format.Schema
		}
		return map[string]any{"type": "json_schema", "json_schema": schema}
	case "json_object":
		return map[string]any{"type": "json_object"}
	}
	return nil
}

func reasoningObject(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, errors.New("reasoning must be an object")
	}
	return obj, nil
}

// upstreamMaxTokens derives the chat max_tokens budget. Some upstreams count
// hidden reasoning tokens inside max_tokens, which can starve short visible
// outputs; the buffer widens the budget to compensate.
func upstreamMaxTokens(maxOutputTokens *int, buffer int) *int {
	if maxOutputTokens == nil {
		return nil
	}
	value := *maxOutputTokens
	if value > 0 && buffer > 0 {
		value += buffer
	}
	return &value
}
