// Package protocol defines the wire types for both sides of the proxy: the
// Responses API surface served to clients and the Chat Completions API spoken
// to the upstream provider, plus the streaming event payloads that connect
// them.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ResponsesRequest is the body of POST /v1/responses.
type ResponsesRequest struct {
	Model              string          `json:"model"`
	Input              Input           `json:"input"`
	Instructions       string          `json:"instructions,omitempty"`
	Tools              []Tool          `json:"tools,omitempty"`
	ToolChoice         *ToolChoice     `json:"tool_choice,omitempty"`
	ParallelToolCalls  *bool           `json:"parallel_tool_calls,omitempty"`
	MaxOutputTokens    *int            `json:"max_output_tokens,omitempty"`
	Temperature        *float64        `json:"temperature,omitempty"`
	TopP               *float64        `json:"top_p,omitempty"`
	Verbosity          string          `json:"verbosity,omitempty"`
	Text               *TextConfig     `json:"text,omitempty"`
	Stream             bool            `json:"stream,omitempty"`
	PreviousResponseID string          `json:"previous_response_id,omitempty"`
	Store              *bool           `json:"store,omitempty"`
	Metadata           map[string]any  `json:"metadata,omitempty"`
	Reasoning          json.RawMessage `json:"reasoning,omitempty"`
}

// TextConfig selects the output text format.
type TextConfig struct {
	Format *TextFormat `json:"format,omitempty"`
}

// TextFormat describes a structured-output request: "json_schema" with an
// attached schema, or the looser "json_object".
type TextFormat struct {
	Type   string         `json:"type"`
	Name   string         `json:"name,omitempty"`
	Strict *bool          `json:"strict,omitempty"`
	Schema map[string]any `json:"schema,omitempty"`
}

// Tool is a Responses-side tool declaration: a user function tool or a
// built-in referenced by its bare type. Some clients place the function fields
// at the top level instead of under "function"; both spellings are accepted.
type Tool struct {
	Type        string         `json:"type"`
	Function    *ToolFunction  `json:"function,omitempty"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolFunction is the nested function declaration of a function tool.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// FunctionName returns the declared function name, honoring the flat fallback
// spelling.
func (t Tool) FunctionName() string {
	if t.Function != nil && t.Function.Name != "" {
		return t.Function.Name
	}
	return t.Name
}

// ToolChoice is the polymorphic tool_choice field: a bare mode string, an
// explicit function selection, or an allowed_tools filter. Exactly one branch
// is populated.
type ToolChoice struct {
	Mode     string
	Function *FunctionChoice
	Allowed  *AllowedToolsChoice
}

// FunctionChoice forces the model to call one named function.
type FunctionChoice struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// AllowedToolsChoice restricts the callable tools to a subset.
type AllowedToolsChoice struct {
	Type  string `json:"type"`
	Mode  string `json:"mode,omitempty"`
	Tools []Tool `json:"tools,omitempty"`
}

func (c *ToolChoice) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = ToolChoice{}
		return nil
	}
	switch trimmed[0] {
	case '"':
		var mode string
		if err := json.Unmarshal(trimmed, &mode); err != nil {
			return err
		}
		*c = ToolChoice{Mode: mode}
		return nil
	case '{':
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(trimmed, &head); err != nil {
			return err
		}
		switch head.Type {
		case "function":
			var choice FunctionChoice
			if err := json.Unmarshal(trimmed, &choice); err != nil {
				return err
			}
			*c = ToolChoice{Function: &choice}
			return nil
		case "allowed_tools":
			var choice AllowedToolsChoice
			if err := json.Unmarshal(trimmed, &choice); err != nil {
				return err
			}
			*c = ToolChoice{Allowed: &choice}
			return nil
		}
		return fmt.Errorf("unsupported tool_choice type %q", head.Type)
	}
	return errors.New("tool_choice must be a string or an object")
}

func (c ToolChoice) MarshalJSON() ([]byte, error) {
	switch {
	case c.Function != nil:
		return json.Marshal(c.Function)
	case c.Allowed != nil:
		return json.Marshal(c.Allowed)
	default:
		return json.Marshal(c.Mode)
	}
}

// Input is the polymorphic input field: a bare user string or an ordered list
// of input items.
type Input struct {
	text    string
	items   []InputItem
	isText  bool
	present bool
}

// TextInput builds a plain-string input.
func TextInput(text string) Input {
	return Input{text: text, isText: true, present: true}
}

// ItemsInput builds a structured input list.
func ItemsInput(items ...InputItem) Input {
	return Input{items: items, present: true}
}

// Present reports whether the request carried an input field at all.
func (in Input) Present() bool { return in.present }

// IsText reports whether the input was a bare string.
func (in Input) IsText() bool { return in.isText }

// Text returns the bare-string form.
func (in Input) Text() string { return in.text }

// Items returns the structured form.
func (in Input) Items() []InputItem { return in.items }

func (in *Input) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*in = Input{}
		return nil
	}
	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*in = Input{text: text, isText: true, present: true}
		return nil
	case '[':
		var items []InputItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		*in = Input{items: items, present: true}
		return nil
	}
	return errors.New("input must be a string or an array of items")
}

func (in Input) MarshalJSON() ([]byte, error) {
	if !in.present {
		return []byte("null"), nil
	}
	if in.isText {
		return json.Marshal(in.text)
	}
	if in.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(in.items)
}

var inputItemRoles = map[string]bool{
	"system":    true,
	"developer": true,
	"user":      true,
	"assistant": true,
	"tool":      true,
}

// InputItem is one element of a structured input list. Items are loosely
// shaped on the wire; the typed fields cover every variant the translator
// dispatches on, and Extra retains everything else for pass-through, such as
// built-in call arguments or provider reasoning details.
type InputItem struct {
	Type      string
	Role      string
	Content   any
	ID        string
	CallID    string
	Name      string
	Arguments string
	Output    any
	Extra     map[string]any
}

func (it *InputItem) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("input item must be an object: %w", err)
	}

	*it = InputItem{}
	for key, value := range raw {
		var err error
		switch key {
		case "type":
			err = unmarshalNullableString(value, &it.Type)
		case "role":
			err = unmarshalNullableString(value, &it.Role)
			if err == nil && it.Role != "" && !inputItemRoles[it.Role] {
				err = fmt.Errorf("invalid input item role %q", it.Role)
			}
		case "content":
			err = json.Unmarshal(value, &it.Content)
		case "id":
			err = unmarshalNullableString(value, &it.ID)
		case "call_id":
			err = unmarshalNullableString(value, &it.CallID)
		case "name":
			err = unmarshalNullableString(value, &it.Name)
		case "arguments":
			err = unmarshalNullableString(value, &it.Arguments)
		case "output":
			err = json.Unmarshal(value, &it.Output)
		default:
			var extra any
			if err = json.Unmarshal(value, &extra); err == nil {
				if it.Extra == nil {
					it.Extra = make(map[string]any)
				}
				it.Extra[key] = extra
			}
		}
		if err != nil {
			return fmt.Errorf("input item field %q: %w", key, err)
		}
	}
	return nil
}

func (it InputItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(it.Fields())
}

// Fields renders the item back into a generic JSON object, omitting unset
// fields. Used for serialization and for packaging built-in call arguments.
func (it InputItem) Fields() map[string]any {
	out := make(map[string]any, len(it.Extra)+8)
	for k, v := range it.Extra {
		out[k] = v
	}
	if it.Type != "" {
		out["type"] = it.Type
	}
	if it.Role != "" {
		out["role"] = it.Role
	}
	if it.Content != nil {
		out["content"] = it.Content
	}
	if it.ID != "" {
		out["id"] = it.ID
	}
	if it.CallID != "" {
		out["call_id"] = it.CallID
	}
	if it.Name != "" {
		out["name"] = it.Name
	}
	if it.Arguments != "" {
		out["arguments"] = it.Arguments
	}
	if it.Output != nil {
		out["output"] = it.Output
	}
	return out
}

func unmarshalNullableString(data json.RawMessage, dst *string) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*dst = ""
		return nil
	}
	return json.Unmarshal(data, dst)
}

// OutputText is one text block of a message output item.
type OutputText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SummaryText is one standardized reasoning-summary block.
type SummaryText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// OutputItem is one element of a response's output list: an assistant
// message, a tool call (plain function or virtualized built-in), or a
// reasoning block.
type OutputItem struct {
	ID      string       `json:"id"`
	Type    string       `json:"type"`
	Role    string       `json:"role,omitempty"`
	Content []OutputText `json:"content,omitempty"`
	CallID  string       `json:"call_id,omitempty"`
	Name    string       `json:"name,omitempty"`
	// Arguments is a pointer so tool-call items keep an explicit empty
	// string while streaming, while other item kinds omit the field.
	Arguments *string `json:"arguments,omitempty"`
	// Reasoning pass-through. ReasoningDetails round-trips: follow-up input
	// items carrying the same field are forwarded to the upstream verbatim.
	ReasoningText    string           `json:"openrouter_reasoning,omitempty"`
	ReasoningDetails []map[string]any `json:"openrouter_reasoning_details,omitempty"`
	Summary          []SummaryText    `json:"summary,omitempty"`
}

// Clone returns a deep copy; stream event snapshots must not alias the
// bridge's mutable items.
func (it OutputItem) Clone() OutputItem {
	out := it
	if it.Content != nil {
		out.Content = append([]OutputText(nil), it.Content...)
	}
	if it.Arguments != nil {
		args := *it.Arguments
		out.Arguments = &args
	}
	if it.Summary != nil {
		out.Summary = append([]SummaryText(nil), it.Summary...)
	}
	if it.ReasoningDetails != nil {
		out.ReasoningDetails = append([]map[string]any(nil), it.ReasoningDetails...)
	}
	return out
}

// ResponsesResponse is the translated response returned to clients and echoed
// inside stream events.
type ResponsesResponse struct {
	ID        string         `json:"id"`
	Object    string         `json:"object"`
	CreatedAt int64          `json:"created_at"`
	Model     string         `json:"model"`
	Output    []OutputItem   `json:"output"`
	Usage     map[string]any `json:"usage,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
