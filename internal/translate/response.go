package translate

import (
	"encoding/json"

	"github.com/openbridge/openbridge/internal/ids"
	"github.com/openbridge/openbridge/internal/protocol"
	"github.com/openbridge/openbridge/internal/tools"
)

// Response converts a non-streaming upstream chat response into a Responses
// response. Output order: the reasoning item when the upstream produced one,
// then tool calls in upstream order, then the assistant message text.
func Response(chatResponse protocol.ChatResponse, model string, toolMap *tools.Virtualization, responseID string, createdAt int64) protocol.ResponsesResponse {
	output := make([]protocol.OutputItem, 0, 4)

	var message *protocol.ChatMessage
	if len(chatResponse.Choices) > 0 {
		message = chatResponse.Choices[0].Message
	}

	if message != nil {
		if item, ok := reasoningOutputItem(message); ok {
			output = append(output, item)
		}
		for _, call := range message.ToolCalls {
			output = append(output, toolCallOutputItem(call, toolMap))
		}
		if text, ok := messageText(message.Content); ok {
			output = append(output, textOutputItem(text))
		}
	}

	return protocol.ResponsesResponse{
		ID:        responseID,
		Object:    "response",
		CreatedAt: createdAt,
		Model:     model,
		Output:    output,
		Usage:     chatResponse.Usage,
	}
}

// reasoningOutputItem carries upstream reasoning blocks through verbatim and
// mirrors any summary blocks into the standardized summary array.
func reasoningOutputItem(message *protocol.ChatMessage) (protocol.OutputItem, bool) {
	if message.Reasoning == "" && len(message.ReasoningDetails) == 0 {
		return protocol.OutputItem{}, false
	}

	item := protocol.OutputItem{
		ID:               ids.New("item"),
		Type:             "reasoning",
		ReasoningText:    message.Reasoning,
		ReasoningDetails: message.ReasoningDetails,
	}
	for _, detail := range message.ReasoningDetails {
		if detail["type"] != "reasoning.summary" {
			continue
		}
		if summary, ok := detail["summary"].(string); ok && summary != "" {
			item.Summary = append(item.Summary, protocol.SummaryText{Type: "summary_text", Text: summary})
		}
	}
	return item, true
}

func toolCallOutputItem(call protocol.ChatToolCall, toolMap *tools.Virtualization) protocol.OutputItem {
	itemType := "function_call"
	name := call.Function.Name
	if externalType, ok := toolMap.FunctionNameMap[call.Function.Name]; ok {
		itemType = externalType + "_call"
		name = externalType
	}
	arguments := call.Function.Arguments
	return protocol.OutputItem{
		ID:        ids.New("item"),
		Type:      itemType,
		CallID:    call.ID,
		Name:      name,
		Arguments: &arguments,
	}
}

func textOutputItem(text string) protocol.OutputItem {
	return protocol.OutputItem{
		ID:   ids.New("item"),
		Type: "message",
		Role: "assistant",
		Content: []protocol.OutputText{
			{Type: "output_text", Text: text},
		},
	}
}

// messageText renders assistant content for the message output item. Empty
// strings and empty collections produce no item at all.
func messageText(content any) (string, bool) {
	switch v := content.(type) {
	case nil:
		return "", false
	case string:
		return v, v != ""
	case []any:
		if len(v) == 0 {
			return "", false
		}
	case map[string]any:
		if len(v) == 0 {
			return "", false
		}
	}
	data, err := json.Marshal(content)
	if err != nil {
		return "", false
	}
	return string(data), true
}
