package upstream

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

// StatusError reports a non-2xx upstream HTTP response. It is returned when
// opening a stream fails before any data arrives.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d", e.StatusCode)
}

// ExtractErrorMessage pulls a human-readable message out of an upstream error
// body: error.message first, then a top-level message, then the raw text.
func ExtractErrorMessage(body []byte) string {
	var data map[string]any
	if err := jsonFast.Unmarshal(body, &data); err != nil {
		return string(body)
	}
	if errObj, ok := data["error"].(map[string]any); ok {
		if message, ok := errObj["message"].(string); ok && message != "" {
			return message
		}
	}
	if message, ok := data["message"]; ok && message != nil {
		if text, ok := message.(string); ok {
			return text
		}
		return fmt.Sprintf("%v", message)
	}
	return string(body)
}

// ApplyDegradeFields strips the first configured field that both exists in
// the payload and is named in the upstream error message. Returns nil when no
// field matches; the caller then passes the error through unchanged.
func ApplyDegradeFields(payload map[string]any, fields []string, errorMessage string) map[string]any {
	for _, field := range fields {
		if _, ok := payload[field]; !ok {
			continue
		}
		if !strings.Contains(errorMessage, field) {
			continue
		}
		degraded := make(map[string]any, len(payload))
		for key, value := range payload {
			degraded[key] = value
		}
		delete(degraded, field)
		return degraded
	}
	return nil
}
