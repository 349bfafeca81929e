// Package api is the HTTP surface of the bridge: routing, middleware, the
// request orchestrator and the error envelope clients see.
package api

import (
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/openbridge/openbridge/internal/upstream"
)

var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

// Error is a request failure with the HTTP status and OpenAI-style
// classification that go on the wire.
type Error struct {
	Status  int
	Type    string
	Message string
	Param   any
	Code    any
}

func (e *Error) Error() string { return e.Message }

// TypeForStatus maps an HTTP status onto its error family.
func TypeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "authentication_error"
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status >= 500:
		return "server_error"
	default:
		return "invalid_request_error"
	}
}

// apiError builds an Error classified by its status.
func apiError(status int, message string) *Error {
	return &Error{Status: status, Type: TypeForStatus(status), Message: message}
}

// upstreamError converts a non-2xx upstream response into a pass-through
// Error: upstream's status and error object survive, its headers and our
// bearer never do.
func upstreamError(resp *upstream.Response) *Error {
	apiErr := &Error{Status: resp.StatusCode}

	var parsed struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Param   any    `json:"param"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	if err := jsonFast.Unmarshal(resp.Body, &parsed); err == nil {
		apiErr.Message = parsed.Error.Message
		apiErr.Type = parsed.Error.Type
		apiErr.Param = parsed.Error.Param
		apiErr.Code = parsed.Error.Code
	}
	if apiErr.Message == "" {
		apiErr.Message = string(resp.Body)
	}
	if apiErr.Type == "" {
		apiErr.Type = TypeForStatus(resp.StatusCode)
	}
	return apiErr
}

// errorEnvelope is the error wire shape: the OpenAI error object plus a flat
// detail string for clients that only look there.
type errorEnvelope struct {
	Error  errorBody `json:"error"`
	Detail string    `json:"detail"`
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   any    `json:"param"`
	Code    any    `json:"code"`
}

// respondError writes the envelope for err. Errors that are not *Error render
// as opaque 500s so internals never leak to clients.
func respondError(w http.ResponseWriter, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = apiError(http.StatusInternalServerError, "internal server error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	_ = jsonFast.NewEncoder(w).Encode(errorEnvelope{
		Error: errorBody{
			Message: apiErr.Message,
			Type:    apiErr.Type,
			Param:   apiErr.Param,
			Code:    apiErr.Code,
		},
		Detail: apiErr.Message,
	})
}
