package protocol

// Stream event names, in the order a successful stream emits them.
const (
	EventResponseCreated            = "response.created"
	EventOutputItemAdded            = "response.output_item.added"
	EventOutputTextDelta            = "response.output_text.delta"
	EventOutputTextDone             = "response.output_text.done"
	EventFunctionCallArgumentsDelta = "response.function_call_arguments.delta"
	EventFunctionCallArgumentsDone  = "response.function_call_arguments.done"
	EventOutputItemDone             = "response.output_item.done"
	EventResponseCompleted          = "response.completed"
	EventResponseFailed             = "response.failed"
)

// StreamEvent is one SSE frame: the event name and its payload. The payload
// is already a frozen snapshot; writers only need to marshal it.
type StreamEvent struct {
	Name string
	Data any
}

// ResponseCreatedEvent opens every stream.
type ResponseCreatedEvent struct {
	Type     string            `json:"type"`
	Response ResponsesResponse `json:"response"`
}

// OutputItemAddedEvent announces a new output item at its final index.
type OutputItemAddedEvent struct {
	Type        string     `json:"type"`
	OutputIndex int        `json:"output_index"`
	Item        OutputItem `json:"item"`
}

// OutputTextDeltaEvent appends text to the message item.
type OutputTextDeltaEvent struct {
	Type         string `json:"type"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
}

// OutputTextDoneEvent closes the message item's text with the full string.
type OutputTextDoneEvent struct {
	Type         string `json:"type"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Text         string `json:"text"`
}

// FunctionCallArgumentsDeltaEvent appends argument text to a tool-call item.
type FunctionCallArgumentsDeltaEvent struct {
	Type        string `json:"type"`
	OutputIndex int    `json:"output_index"`
	Delta       string `json:"delta"`
}

// FunctionCallArgumentsDoneEvent closes a tool call with its full arguments.
type FunctionCallArgumentsDoneEvent struct {
	Type        string `json:"type"`
	OutputIndex int    `json:"output_index"`
	Arguments   string `json:"arguments"`
}

// OutputItemDoneEvent finalizes one output item.
type OutputItemDoneEvent struct {
	Type        string     `json:"type"`
	OutputIndex int        `json:"output_index"`
	Item        OutputItem `json:"item"`
}

// ResponseCompletedEvent carries the full assembled response.
type ResponseCompletedEvent struct {
	Type     string            `json:"type"`
	Response ResponsesResponse `json:"response"`
}

// StreamError is the error payload of a response.failed event.
type StreamError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ResponseFailedEvent terminates a stream that cannot complete; the response
// snapshot keeps whatever output was already assembled.
type ResponseFailedEvent struct {
	Type     string            `json:"type"`
	Response ResponsesResponse `json:"response"`
	Error    StreamError       `json:"error"`
}
