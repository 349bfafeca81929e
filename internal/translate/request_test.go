package translate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbridge/openbridge/internal/protocol"
	"github.com/openbridge/openbridge/internal/tools"
)

func translateForTest(t *testing.T, req protocol.ResponsesRequest) *Result {
	t.Helper()
	result, err := Request(req, tools.NewRegistry(), nil, Options{VendorPrefix: "openai/"})
	require.NoError(t, err)
	return result
}

func intPtr(v int) *int { return &v }

func TestRequestStringInput(t *testing.T) {
	result := translateForTest(t, protocol.ResponsesRequest{
		Model: "gpt-5",
		Input: protocol.TextInput("hello"),
	})

	assert.Equal(t, "openai/gpt-5", result.ChatRequest.Model)
	require.Len(t, result.ChatRequest.Messages, 1)
	assert.Equal(t, "user", result.ChatRequest.Messages[0].Role)
	assert.Equal(t, "hello", result.ChatRequest.Messages[0].Content)
	assert.Nil(t, result.ChatRequest.Tools)
	assert.Equal(t, result.ChatRequest.Messages, result.MessagesForState)
}

func TestRequestInstructionsBecomeSystemMessage(t *testing.T) {
	result := translateForTest(t, protocol.ResponsesRequest{
		Model:        "gpt-5",
		Instructions: "be terse",
		Input:        protocol.TextInput("hi"),
	})

	require.Len(t, result.ChatRequest.Messages, 2)
	assert.Equal(t, "system", result.ChatRequest.Messages[0].Role)
	assert.Equal(t, "be terse", result.ChatRequest.Messages[0].Content)

	// The stored transcript excludes the system message; instructions are
	// re-applied on every request.
	require.Len(t, result.MessagesForState, 1)
	assert.Equal(t, "user", result.MessagesForState[0].Role)
}

func TestRequestHistoryPrecedesInput(t *testing.T) {
	history := []protocol.ChatMessage{
		{Role: "user", Content: "earlier"},
		{Role: "assistant", Content: "sure"},
	}
	req := protocol.ResponsesRequest{
		Model:        "gpt-5",
		Instructions: "be nice",
		Input:        protocol.TextInput("next"),
	}
	result, err := Request(req, tools.NewRegistry(), history, Options{VendorPrefix: "openai/"})
	require.NoError(t, err)

	roles := make([]string, 0, len(result.ChatRequest.Messages))
	for _, msg := range result.ChatRequest.Messages {
		roles = append(roles, msg.Role)
	}
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles)

	require.Len(t, result.MessagesForState, 3)
	assert.Equal(t, "earlier", result.MessagesForState[0].Content)
	assert.Equal(t, "next", result.MessagesForState[2].Content)
}

func TestRequestGroupsConsecutiveFunctionCalls(t *testing.T) {
	result := translateForTest(t, protocol.ResponsesRequest{
		Model: "gpt-5",
		Input: protocol.ItemsInput(
			protocol.InputItem{Type: "function_call", CallID: "call_1", Name: "lookup", Arguments: `{"q":"a"}`},
			protocol.InputItem{Type: "function_call", CallID: "call_2", Name: "lookup", Arguments: `{"q":"b"}`},
			protocol.InputItem{Type: "function_call_output", CallID: "call_1", Output: "first"},
			protocol.InputItem{Type: "function_call_output", CallID: "call_2", Output: map[string]any{"ok": true}},
		),
		Tools: []protocol.Tool{
			{Type: "function", Function: &protocol.ToolFunction{Name: "lookup"}},
		},
	})

	msgs := result.ChatRequest.Messages
	require.Len(t, msgs, 3)

	assert.Equal(t, "assistant", msgs[0].Role)
	assert.Nil(t, msgs[0].Content)
	require.Len(t, msgs[0].ToolCalls, 2)
	assert.Equal(t, "call_1", msgs[0].ToolCalls[0].ID)
	assert.Equal(t, "call_2", msgs[0].ToolCalls[1].ID)

	assert.Equal(t, "tool", msgs[1].Role)
	assert.Equal(t, "call_1", msgs[1].ToolCallID)
	assert.Equal(t, "first", msgs[1].Content)

	assert.Equal(t, "tool", msgs[2].Role)
	assert.Equal(t, `{"ok":true}`, msgs[2].Content)
}

func TestRequestFunctionCallDefaults(t *testing.T) {
	result := translateForTest(t, protocol.ResponsesRequest{
		Model: "gpt-5",
		Input: protocol.ItemsInput(
			protocol.InputItem{Type: "function_call", CallID: "call_1", Name: "lookup"},
		),
	})

	msgs := result.ChatRequest.Messages
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].ToolCalls, 1)
	assert.Equal(t, "{}", msgs[0].ToolCalls[0].Function.Arguments)
}

func TestRequestBuiltinCallItems(t *testing.T) {
	result := translateForTest(t, protocol.ResponsesRequest{
		Model: "gpt-5",
		Input: protocol.ItemsInput(
			protocol.InputItem{
				Type:   "apply_patch_call",
				CallID: "call_9",
				Extra:  map[string]any{"input": "*** Begin Patch"},
			},
			protocol.InputItem{Type: "apply_patch_call_output", CallID: "call_9", Output: "done"},
		),
		Tools: []protocol.Tool{{Type: "apply_patch"}},
	})

	msgs := result.ChatRequest.Messages
	require.Len(t, msgs, 2)
	require.Len(t, msgs[0].ToolCalls, 1)
	call := msgs[0].ToolCalls[0]
	assert.Equal(t, "apply_patch", call.Function.Name)

	var args map[string]any
	require.NoError(t, json.Unmarshal([]byte(call.Function.Arguments), &args))
	assert.Equal(t, "*** Begin Patch", args["input"])

	assert.Equal(t, "tool", msgs[1].Role)
	assert.Equal(t, "done", msgs[1].Content)
}

func TestRequestReasoningItemsAttachToNextAssistantTurn(t *testing.T) {
	details := []any{
		map[string]any{"type": "reasoning.text", "text": "thinking"},
	}
	result := translateForTest(t, protocol.ResponsesRequest{
		Model: "gpt-5",
		Input: protocol.ItemsInput(
			protocol.InputItem{Type: "reasoning", Extra: map[string]any{"openrouter_reasoning_details": details}},
			protocol.InputItem{Type: "function_call", CallID: "call_1", Name: "lookup", Arguments: "{}"},
		),
		Tools: []protocol.Tool{
			{Type: "function", Function: &protocol.ToolFunction{Name: "lookup"}},
		},
	})

	msgs := result.ChatRequest.Messages
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].ReasoningDetails, 1)
	assert.Equal(t, "thinking", msgs[0].ReasoningDetails[0]["text"])
}

func TestRequestInfersToolsAndForcesChoiceNone(t *testing.T) {
	result := translateForTest(t, protocol.ResponsesRequest{
		Model: "gpt-5",
		Input: protocol.ItemsInput(
			protocol.InputItem{Type: "function_call", CallID: "call_1", Name: "lookup", Arguments: "{}"},
			protocol.InputItem{Type: "shell_call", CallID: "call_2", Extra: map[string]any{"command": "ls"}},
		),
	})

	names := make([]string, 0, len(result.ChatRequest.Tools))
	for _, tool := range result.ChatRequest.Tools {
		names = append(names, tool.Function.Name)
	}
	assert.ElementsMatch(t, []string{"lookup", "shell"}, names)
	assert.Equal(t, "none", result.ChatRequest.ToolChoice)
}

func TestRequestDeclaredToolsKeepClientChoice(t *testing.T) {
	result := translateForTest(t, protocol.ResponsesRequest{
		Model: "gpt-5",
		Input: protocol.ItemsInput(
			protocol.InputItem{Type: "function_call", CallID: "call_1", Name: "lookup", Arguments: "{}"},
		),
		Tools: []protocol.Tool{
			{Type: "function", Function: &protocol.ToolFunction{Name: "lookup"}},
		},
	})

	// With tools declared by the client, no synthetic "none" choice.
	assert.Nil(t, result.ChatRequest.ToolChoice)
}

func TestRequestInferenceSkipsReservedPrefix(t *testing.T) {
	result := translateForTest(t, protocol.ResponsesRequest{
		Model: "gpt-5",
		Input: protocol.ItemsInput(
			protocol.InputItem{Type: "function_call", CallID: "call_1", Name: "ob_internal", Arguments: "{}"},
		),
	})

	assert.Nil(t, result.ChatRequest.Tools)
	assert.Nil(t, result.ChatRequest.ToolChoice)
}

func TestRequestToolChoiceFunction(t *testing.T) {
	result := translateForTest(t, protocol.ResponsesRequest{
		Model:      "gpt-5",
		Input:      protocol.TextInput("hi"),
		Tools:      []protocol.Tool{{Type: "function", Function: &protocol.ToolFunction{Name: "lookup"}}},
		ToolChoice: &protocol.ToolChoice{Function: &protocol.FunctionChoice{Type: "function", Name: "lookup"}},
	})

	assert.Equal(t, map[string]any{
		"type":     "function",
		"function": map[string]any{"name": "lookup"},
	}, result.ChatRequest.ToolChoice)
}

func TestRequestAllowedToolsFilter(t *testing.T) {
	result := translateForTest(t, protocol.ResponsesRequest{
		Model: "gpt-5",
		Input: protocol.TextInput("hi"),
		Tools: []protocol.Tool{
			{Type: "function", Function: &protocol.ToolFunction{Name: "keep"}},
			{Type: "function", Function: &protocol.ToolFunction{Name: "drop"}},
			{Type: "shell"},
		},
		ToolChoice: &protocol.ToolChoice{Allowed: &protocol.AllowedToolsChoice{
			Type: "allowed_tools",
			Mode: "auto",
			Tools: []protocol.Tool{
				{Type: "function", Name: "keep"},
				{Type: "shell"},
			},
		}},
	})

	names := make([]string, 0, len(result.ChatRequest.Tools))
	for _, tool := range result.ChatRequest.Tools {
		names = append(names, tool.Function.Name)
	}
	assert.Equal(t, []string{"keep", "shell"}, names)
	assert.Equal(t, "auto", result.ChatRequest.ToolChoice)
	assert.Equal(t, "shell", result.ToolMap.ExternalNameMap["shell"])
}

func TestRequestResponseFormatJSONSchema(t *testing.T) {
	strict := true
	result := translateForTest(t, protocol.ResponsesRequest{
		Model: "gpt-5",
		Input: protocol.TextInput("hi"),
		Text: &protocol.TextConfig{Format: &protocol.TextFormat{
			Type:   "json_schema",
			Name:   "answer",
			Strict: &strict,
			Schema: map[string]any{"type": "object"},
		}},
	})

	assert.Equal(t, map[string]any{
		"type": "json_schema",
		"json_schema": map[string]any{
			"name":   "answer",
			"strict": true,
			"schema": map[string]any{"type": "object"},
		},
	}, result.ChatRequest.ResponseFormat)
}

func TestRequestResponseFormatJSONObject(t *testing.T) {
	result := translateForTest(t, protocol.ResponsesRequest{
		Model: "gpt-5",
		Input: protocol.TextInput("hi"),
		Text:  &protocol.TextConfig{Format: &protocol.TextFormat{Type: "json_object"}},
	})

	assert.Equal(t, map[string]any{"type": "json_object"}, result.ChatRequest.ResponseFormat)
}

func TestRequestMaxTokensBuffer(t *testing.T) {
	req := protocol.ResponsesRequest{
		Model:           "gpt-5",
		Input:           protocol.TextInput("hi"),
		MaxOutputTokens: intPtr(100),
	}
	result, err := Request(req, tools.NewRegistry(), nil, Options{VendorPrefix: "openai/", MaxTokensBuffer: 64})
	require.NoError(t, err)
	require.NotNil(t, result.ChatRequest.MaxTokens)
	assert.Equal(t, 164, *result.ChatRequest.MaxTokens)

	req.MaxOutputTokens = intPtr(0)
	result, err = Request(req, tools.NewRegistry(), nil, Options{VendorPrefix: "openai/", MaxTokensBuffer: 64})
	require.NoError(t, err)
	require.NotNil(t, result.ChatRequest.MaxTokens)
	assert.Equal(t, 0, *result.ChatRequest.MaxTokens)

	req.MaxOutputTokens = nil
	result, err = Request(req, tools.NewRegistry(), nil, Options{VendorPrefix: "openai/", MaxTokensBuffer: 64})
	require.NoError(t, err)
	assert.Nil(t, result.ChatRequest.MaxTokens)
}

func TestRequestReasoningPassThrough(t *testing.T) {
	result := translateForTest(t, protocol.ResponsesRequest{
		Model:     "gpt-5",
		Input:     protocol.TextInput("hi"),
		Reasoning: json.RawMessage(`{"effort": "high"}`),
	})

	assert.Equal(t, map[string]any{"effort": "high"}, result.ChatRequest.Reasoning)
}

func TestRequestReasoningMustBeObject(t *testing.T) {
	req := protocol.ResponsesRequest{
		Model:     "gpt-5",
		Input:     protocol.TextInput("hi"),
		Reasoning: json.RawMessage(`"high"`),
	}
	_, err := Request(req, tools.NewRegistry(), nil, Options{VendorPrefix: "openai/"})
	require.Error(t, err)
	assert.Equal(t, "reasoning must be an object", err.Error())
}

func TestRequestDuplicateToolNamesRejected(t *testing.T) {
	req := protocol.ResponsesRequest{
		Model: "gpt-5",
		Input: protocol.TextInput("hi"),
		Tools: []protocol.Tool{
			{Type: "function", Function: &protocol.ToolFunction{Name: "x"}},
			{Type: "function", Function: &protocol.ToolFunction{Name: "x"}},
		},
	}
	_, err := Request(req, tools.NewRegistry(), nil, Options{VendorPrefix: "openai/"})

	var duplicate *tools.DuplicateNameError
	require.ErrorAs(t, err, &duplicate)
}

func TestRequestStreamFlagForwarded(t *testing.T) {
	result := translateForTest(t, protocol.ResponsesRequest{
		Model:  "gpt-5",
		Input:  protocol.TextInput("hi"),
		Stream: true,
	})
	assert.True(t, result.ChatRequest.Stream)
}

func TestRequestConversationalItemWithScalarContent(t *testing.T) {
	result := translateForTest(t, protocol.ResponsesRequest{
		Model: "gpt-5",
		Input: protocol.ItemsInput(
			protocol.InputItem{Role: "user", Content: float64(42)},
		),
	})

	require.Len(t, result.ChatRequest.Messages, 1)
	assert.Equal(t, "42", result.ChatRequest.Messages[0].Content)
}
