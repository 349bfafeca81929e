package protocol

// ChatMessage is one message of the upstream Chat Completions conversation.
// Content is left untyped because the proxy forwards whatever shape the
// client supplied (string or structured parts); omitempty keeps tool-call
// turns free of a null content key.
type ChatMessage struct {
	Role             string           `json:"role"`
	Content          any              `json:"content,omitempty"`
	ToolCalls        []ChatToolCall   `json:"tool_calls,omitempty"`
	ToolCallID       string           `json:"tool_call_id,omitempty"`
	Name             string           `json:"name,omitempty"`
	Reasoning        string           `json:"reasoning,omitempty"`
	ReasoningDetails []map[string]any `json:"reasoning_details,omitempty"`
}

// ChatToolCall is a completed tool call on an assistant message.
type ChatToolCall struct {
	ID       string               `json:"id"`
	Type     string               `json:"type"`
	Function ChatToolCallFunction `json:"function"`
}

// ChatToolCallFunction carries the function name and raw JSON arguments.
type ChatToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatToolDefinition declares a callable function to the upstream.
type ChatToolDefinition struct {
	Type     string           `json:"type"`
	Function ChatToolFunction `json:"function"`
}

// ChatToolFunction is the function payload of a tool definition.
type ChatToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ChatRequest is the upstream Chat Completions request body.
type ChatRequest struct {
	Model             string               `json:"model"`
	Messages          []ChatMessage        `json:"messages"`
	Tools             []ChatToolDefinition `json:"tools,omitempty"`
	ToolChoice        any                  `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool                `json:"parallel_tool_calls,omitempty"`
	MaxTokens         *int                 `json:"max_tokens,omitempty"`
	Temperature       *float64             `json:"temperature,omitempty"`
	TopP              *float64             `json:"top_p,omitempty"`
	Verbosity         string               `json:"verbosity,omitempty"`
	Reasoning         map[string]any       `json:"reasoning,omitempty"`
	ResponseFormat    map[string]any       `json:"response_format,omitempty"`
	Stream            bool                 `json:"stream,omitempty"`
}

// ChatResponse is a non-streaming upstream response.
type ChatResponse struct {
	ID      string         `json:"id,omitempty"`
	Object  string         `json:"object,omitempty"`
	Created int64          `json:"created,omitempty"`
	Model   string         `json:"model,omitempty"`
	Choices []ChatChoice   `json:"choices,omitempty"`
	Usage   map[string]any `json:"usage,omitempty"`
}

// ChatChoice is one completion choice; the proxy only consumes the first.
type ChatChoice struct {
	Index        int          `json:"index"`
	Message      *ChatMessage `json:"message,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

// ChatStreamChunk is one decoded SSE data payload of a streaming upstream
// response.
type ChatStreamChunk struct {
	ID      string             `json:"id,omitempty"`
	Object  string             `json:"object,omitempty"`
	Model   string             `json:"model,omitempty"`
	Choices []ChatStreamChoice `json:"choices,omitempty"`
	Usage   map[string]any     `json:"usage,omitempty"`
}

// ChatStreamChoice is one choice slot of a stream chunk.
type ChatStreamChoice struct {
	Index        int        `json:"index"`
	Delta        *ChatDelta `json:"delta,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// ChatDelta is the incremental payload of a stream chunk. Content is a
// pointer so an explicit empty string is distinguishable from an absent
// field: an empty delta still opens the text output item.
type ChatDelta struct {
	Role      string              `json:"role,omitempty"`
	Content   *string             `json:"content,omitempty"`
	ToolCalls []ChatToolCallDelta `json:"tool_calls,omitempty"`
}

// ChatToolCallDelta is an incremental tool-call fragment, keyed by the
// upstream slot index. The id and name may arrive in any chunk.
type ChatToolCallDelta struct {
	Index    int                `json:"index"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function *ChatFunctionDelta `json:"function,omitempty"`
}

// ChatFunctionDelta carries a name fragment and/or an arguments fragment.
type ChatFunctionDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}
