// Package streaming turns an upstream Chat Completions SSE stream into the
// ordered Responses event sequence: response.created first, per-item
// added/delta/done lifecycles, response.completed last.
package streaming

import (
	"sort"

	"github.com/openbridge/openbridge/internal/ids"
	"github.com/openbridge/openbridge/internal/protocol"
	"github.com/openbridge/openbridge/internal/tools"
)

// Bridge accumulates upstream chunks into output items and emits the typed
// event sequence. It is a pure state machine: no I/O, single-goroutine use.
type Bridge struct {
	responseID string
	model      string
	createdAt  int64
	toolMap    *tools.Virtualization

	output      []protocol.OutputItem
	textIndex   int // index of the open text item, -1 when none
	textContent string
	toolCalls   map[int]*toolCallState // keyed by upstream slot index
}

// toolCallState tracks one upstream tool-call slot. A call's item is not
// emitted until both the call id and the function name are known; argument
// text arriving before that buffers in pending.
type toolCallState struct {
	callID       string
	name         string
	arguments    string
	outputIndex  int // -1 until the item is emitted
	externalType string
	pending      []string
}

// complete reports whether the call's identity is fully known.
func (s *toolCallState) complete() bool {
	return s.callID != "" && s.name != ""
}

// NewBridge builds a bridge for one streamed response. Model is the resolved
// upstream model name echoed in snapshots.
func NewBridge(responseID, model string, createdAt int64, toolMap *tools.Virtualization) *Bridge {
	return &Bridge{
		responseID: responseID,
		model:      model,
		createdAt:  createdAt,
		toolMap:    toolMap,
		textIndex:  -1,
		toolCalls:  make(map[int]*toolCallState),
	}
}

// StartEvents returns the opening response.created event with an empty-output
// snapshot.
func (b *Bridge) StartEvents() []protocol.StreamEvent {
	return []protocol.StreamEvent{{
		Name: protocol.EventResponseCreated,
		Data: protocol.ResponseCreatedEvent{
			Type:     protocol.EventResponseCreated,
			Response: b.snapshot(),
		},
	}}
}

// ProcessChunk folds one upstream chunk into the state and returns the events
// it produces, in order.
func (b *Bridge) ProcessChunk(chunk protocol.ChatStreamChunk) []protocol.StreamEvent {
	var events []protocol.StreamEvent
	for _, choice := range chunk.Choices {
		if choice.Delta == nil {
			continue
		}
		if choice.Delta.Content != nil {
			events = append(events, b.textDelta(*choice.Delta.Content)...)
		}
		for _, fragment := range choice.Delta.ToolCalls {
			events = append(events, b.toolCallDelta(fragment)...)
		}
	}
	return events
}

func (b *Bridge) textDelta(delta string) []protocol.StreamEvent {
	var events []protocol.StreamEvent

	if b.textIndex < 0 {
		item := protocol.OutputItem{
			ID:      ids.New("item"),
			Type:    "message",
			Role:    "assistant",
			Content: []protocol.OutputText{{Type: "output_text", Text: ""}},
		}
		b.textIndex = len(b.output)
		b.output = append(b.output, item)
		events = append(events, protocol.StreamEvent{
			Name: protocol.EventOutputItemAdded,
			Data: protocol.OutputItemAddedEvent{
				Type:        protocol.EventOutputItemAdded,
				OutputIndex: b.textIndex,
				Item:        item.Clone(),
			},
		})
	}

	b.textContent += delta
	b.output[b.textIndex].Content[0].Text = b.textContent
	events = append(events, protocol.StreamEvent{
		Name: protocol.EventOutputTextDelta,
		Data: protocol.OutputTextDeltaEvent{
			Type:         protocol.EventOutputTextDelta,
			OutputIndex:  b.textIndex,
			ContentIndex: 0,
			Delta:        delta,
		},
	})
	return events
}

func (b *Bridge) toolCallDelta(fragment protocol.ChatToolCallDelta) []protocol.StreamEvent {
	state, ok := b.toolCalls[fragment.Index]
	if !ok {
		state = &toolCallState{outputIndex: -1}
		b.toolCalls[fragment.Index] = state
	}

	if fragment.ID != "" && state.callID == "" {
		state.callID = fragment.ID
	}
	if fragment.Function != nil && fragment.Function.Name != "" && state.outputIndex < 0 {
		state.name = fragment.Function.Name
	}

	var events []protocol.StreamEvent
	if fragment.Function != nil && fragment.Function.Arguments != "" {
		delta := fragment.Function.Arguments
		state.arguments += delta
		if state.outputIndex >= 0 {
			b.output[state.outputIndex].Arguments = stringPtr(state.arguments)
			events = append(events, b.argumentsDeltaEvent(state.outputIndex, delta))
		} else {
			state.pending = append(state.pending, delta)
		}
	}

	if state.outputIndex < 0 && state.complete() {
		events = append(events, b.emitToolCallItem(state)...)
	}
	return events
}

// emitToolCallItem appends the item for a call whose identity just became
// known, then replays any buffered argument deltas in arrival order.
func (b *Bridge) emitToolCallItem(state *toolCallState) []protocol.StreamEvent {
	itemType, itemName := "function_call", state.name
	if b.toolMap != nil {
		if externalType, ok := b.toolMap.FunctionNameMap[state.name]; ok && externalType != "" {
			state.externalType = externalType
			itemType = externalType + "_call"
			itemName = externalType
		}
	}

	item := protocol.OutputItem{
		ID:        ids.New("item"),
		Type:      itemType,
		CallID:    state.callID,
		Name:      itemName,
		Arguments: stringPtr(""),
	}
	state.outputIndex = len(b.output)
	b.output = append(b.output, item)

	events := []protocol.StreamEvent{{
		Name: protocol.EventOutputItemAdded,
		Data: protocol.OutputItemAddedEvent{
			Type:        protocol.EventOutputItemAdded,
			OutputIndex: state.outputIndex,
			Item:        item.Clone(),
		},
	}}
	for _, delta := range state.pending {
		events = append(events, b.argumentsDeltaEvent(state.outputIndex, delta))
	}
	state.pending = nil
	b.output[state.outputIndex].Arguments = stringPtr(state.arguments)
	return events
}

func (b *Bridge) argumentsDeltaEvent(outputIndex int, delta string) protocol.StreamEvent {
	return protocol.StreamEvent{
		Name: protocol.EventFunctionCallArgumentsDelta,
		Data: protocol.FunctionCallArgumentsDeltaEvent{
			Type:        protocol.EventFunctionCallArgumentsDelta,
			OutputIndex: outputIndex,
			Delta:       delta,
		},
	}
}

// FinishEvents closes the open items and returns the terminal
// response.completed event: text done first, then tool calls by ascending
// output index.
func (b *Bridge) FinishEvents() []protocol.StreamEvent {
	var events []protocol.StreamEvent

	if b.textIndex >= 0 {
		events = append(events,
			protocol.StreamEvent{
				Name: protocol.EventOutputTextDone,
				Data: protocol.OutputTextDoneEvent{
					Type:         protocol.EventOutputTextDone,
					OutputIndex:  b.textIndex,
					ContentIndex: 0,
					Text:         b.textContent,
				},
			},
			protocol.StreamEvent{
				Name: protocol.EventOutputItemDone,
				Data: protocol.OutputItemDoneEvent{
					Type:        protocol.EventOutputItemDone,
					OutputIndex: b.textIndex,
					Item:        b.output[b.textIndex].Clone(),
				},
			},
		)
	}

	for _, state := range b.emittedCalls() {
		events = append(events,
			protocol.StreamEvent{
				Name: protocol.EventFunctionCallArgumentsDone,
				Data: protocol.FunctionCallArgumentsDoneEvent{
					Type:        protocol.EventFunctionCallArgumentsDone,
					OutputIndex: state.outputIndex,
					Arguments:   state.arguments,
				},
			},
			protocol.StreamEvent{
				Name: protocol.EventOutputItemDone,
				Data: protocol.OutputItemDoneEvent{
					Type:        protocol.EventOutputItemDone,
					OutputIndex: state.outputIndex,
					Item:        b.output[state.outputIndex].Clone(),
				},
			},
		)
	}

	events = append(events, protocol.StreamEvent{
		Name: protocol.EventResponseCompleted,
		Data: protocol.ResponseCompletedEvent{
			Type:     protocol.EventResponseCompleted,
			Response: b.snapshot(),
		},
	})
	return events
}

// FailureEvent returns the terminal response.failed event with whatever
// output was already assembled.
func (b *Bridge) FailureEvent(message string) protocol.StreamEvent {
	return protocol.StreamEvent{
		Name: protocol.EventResponseFailed,
		Data: protocol.ResponseFailedEvent{
			Type:     protocol.EventResponseFailed,
			Response: b.snapshot(),
			Error:    protocol.StreamError{Message: message, Type: "upstream_error"},
		},
	}
}

// AssistantMessage reconstructs the assistant turn for the stored transcript.
// Calls whose identity never completed are dropped; they were never emitted
// to the client either. Returns nil when the turn is empty.
func (b *Bridge) AssistantMessage() *protocol.ChatMessage {
	var calls []protocol.ChatToolCall
	for _, state := range b.emittedCalls() {
		calls = append(calls, protocol.ChatToolCall{
			ID:   state.callID,
			Type: "function",
			Function: protocol.ChatToolCallFunction{
				Name:      state.name,
				Arguments: state.arguments,
			},
		})
	}
	if len(calls) == 0 && b.textContent == "" {
		return nil
	}

	message := &protocol.ChatMessage{Role: "assistant", ToolCalls: calls}
	if b.textContent != "" {
		message.Content = b.textContent
	}
	return message
}

// FinalResponse returns the fully materialized response, equal to the
// response.completed snapshot.
func (b *Bridge) FinalResponse() protocol.ResponsesResponse {
	return b.snapshot()
}

// emittedCalls returns the completed tool-call states in output order.
func (b *Bridge) emittedCalls() []*toolCallState {
	states := make([]*toolCallState, 0, len(b.toolCalls))
	for _, state := range b.toolCalls {
		if state.outputIndex >= 0 {
			states = append(states, state)
		}
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].outputIndex < states[j].outputIndex
	})
	return states
}

func (b *Bridge) snapshot() protocol.ResponsesResponse {
	output := make([]protocol.OutputItem, len(b.output))
	for i, item := range b.output {
		output[i] = item.Clone()
	}
	return protocol.ResponsesResponse{
		ID:        b.responseID,
		Object:    "response",
		CreatedAt: b.createdAt,
		Model:     b.model,
		Output:    output,
	}
}

func stringPtr(s string) *string { return &s }
