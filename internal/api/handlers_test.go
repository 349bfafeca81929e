package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openbridge/openbridge/internal/config"
	"github.com/openbridge/openbridge/internal/state"
	"github.com/openbridge/openbridge/internal/tools"
	"github.com/openbridge/openbridge/internal/trace"
	"github.com/openbridge/openbridge/internal/upstream"
	"github.com/openbridge/openbridge/internal/version"
)

func testConfig(upstreamURL string) *config.Config {
	return &config.Config{
		UpstreamAPIKey:      "sk-upstream-secret",
		UpstreamBaseURL:     upstreamURL,
		Host:                "127.0.0.1",
		Port:                0,
		LogLevel:            "info",
		StateBackend:        "memory",
		StateKeyPrefix:      "openbridge:responses",
		MemoryTTLSeconds:    3600,
		RequestTimeoutS:     5,
		RetryMaxAttempts:    2,
		RetryMaxSeconds:     0.01,
		RetryBackoff:        0.001,
		DegradeFields:       []string{"verbosity"},
		DefaultVendorPrefix: "openai/",
		TraceTTLSeconds:     900,
		TraceMaxEntries:     50,
		TraceContentMode:    "truncate",
		TraceMaxChars:       4000,
	}
}

// newTestServer stands up the full routed surface over cfg.
func newTestServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	store, err := state.New(cfg)
	require.NoError(t, err)
	traceStore, err := trace.New(cfg)
	require.NoError(t, err)
	tracer := trace.NewRecorder(traceStore, trace.SanitizeConfig{
		ContentMode: cfg.TraceContentMode,
		MaxChars:    cfg.TraceMaxChars,
	}, cfg.TraceTTLSeconds, zap.NewNop())
	client := upstream.NewClient(cfg.UpstreamBaseURL, cfg.UpstreamAPIKey, cfg.RequestTimeout())
	handler := NewHandler(cfg, zap.NewNop(), tools.NewRegistry(), client, store, tracer)

	router := mux.NewRouter()
	SetupRoutes(router, handler)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

// upstreamCapture records the JSON bodies the fake upstream received.
type upstreamCapture struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (c *upstreamCapture) add(body map[string]any) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies = append(c.bodies, body)
	return len(c.bodies)
}

func (c *upstreamCapture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func (c *upstreamCapture) body(t *testing.T, i int) map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Greater(t, len(c.bodies), i)
	return c.bodies[i]
}

// fakeUpstream serves /chat/completions with respond, capturing each payload.
// respond receives the 1-based call number.
func fakeUpstream(t *testing.T, capture *upstreamCapture, respond func(n int, w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		n := capture.add(payload)
		respond(n, w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func writeChatCompletion(t *testing.T, w http.ResponseWriter, message map[string]any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"model":   "openai/gpt-5",
		"choices": []map[string]any{{"index": 0, "message": message, "finish_reason": "stop"}},
		"usage":   map[string]any{"prompt_tokens": 7, "completion_tokens": 3},
	})
	require.NoError(t, err)
}

func doRequest(t *testing.T, method, url string, payload any, headers map[string]string) (int, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decodeJSON(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	return decoded
}

// errorEnvelopeOf asserts the §wire error shape and returns the error object.
func errorEnvelopeOf(t *testing.T, data []byte) map[string]any {
	t.Helper()
	decoded := decodeJSON(t, data)
	require.Contains(t, decoded, "error")
	require.Contains(t, decoded, "detail")
	errObj, ok := decoded["error"].(map[string]any)
	require.True(t, ok, "error must be an object")
	require.Contains(t, errObj, "message")
	require.Contains(t, errObj, "type")
	require.Contains(t, errObj, "param")
	require.Contains(t, errObj, "code")
	assert.Equal(t, errObj["message"], decoded["detail"])
	return errObj
}

func TestHealthz(t *testing.T) {
	capture := &upstreamCapture{}
	up := fakeUpstream(t, capture, func(n int, w http.ResponseWriter, r *http.Request) {})
	server := newTestServer(t, testConfig(up.URL))

	status, body := doRequest(t, http.MethodGet, server.URL+"/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"status": "ok"}, decodeJSON(t, body))
}

func TestVersionEndpoint(t *testing.T) {
	capture := &upstreamCapture{}
	up := fakeUpstream(t, capture, func(n int, w http.ResponseWriter, r *http.Request) {})
	server := newTestServer(t, testConfig(up.URL))

	status, body := doRequest(t, http.MethodGet, server.URL+"/version", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"version": version.Version}, decodeJSON(t, body))
}

func TestMetricsEndpoint(t *testing.T) {
	capture := &upstreamCapture{}
	up := fakeUpstream(t, capture, func(n int, w http.ResponseWriter, r *http.Request) {})
	server := newTestServer(t, testConfig(up.URL))

	// One observed request guarantees the counter series exists.
	doRequest(t, http.MethodGet, server.URL+"/healthz", nil, nil)

	status, body := doRequest(t, http.MethodGet, server.URL+"/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "openbridge_requests_total")
}

func TestRequestIDEchoAndMint(t *testing.T) {
	capture := &upstreamCapture{}
	up := fakeUpstream(t, capture, func(n int, w http.ResponseWriter, r *http.Request) {})
	server := newTestServer(t, testConfig(up.URL))

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	minted := resp.Header.Get("X-Request-Id")
	assert.True(t, strings.HasPrefix(minted, "req_"), "minted id %q", minted)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "req_client_chosen")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req_client_chosen", resp.Header.Get("X-Request-Id"))
}

func TestClientAuth(t *testing.T) {
	capture := &upstreamCapture{}
	up := fakeUpstream(t, capture, func(n int, w http.ResponseWriter, r *http.Request) {})
	cfg := testConfig(up.URL)
	cfg.ClientAPIKey = "k-client"
	server := newTestServer(t, cfg)

	// Open endpoints need no key.
	status, _ := doRequest(t, http.MethodGet, server.URL+"/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, status)

	status, body := doRequest(t, http.MethodGet, server.URL+"/v1/responses/resp_x", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	errObj := errorEnvelopeOf(t, body)
	assert.Equal(t, "authentication_error", errObj["type"])
	assert.Equal(t, "Missing client API key", errObj["message"])

	status, body = doRequest(t, http.MethodGet, server.URL+"/v1/responses/resp_x", nil,
		map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid client API key", errorEnvelopeOf(t, body)["message"])

	// A valid key reaches the handler; the id is simply unknown.
	status, _ = doRequest(t, http.MethodGet, server.URL+"/v1/responses/resp_x", nil,
		map[string]string{"Authorization": "Bearer k-client"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doRequest(t, http.MethodGet, server.URL+"/v1/responses/resp_x", nil,
		map[string]string{"X-API-Key": "k-client"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestResponseLifecycle(t *testing.T) {
	capture := &upstreamCapture{}
	up := fakeUpstream(t, capture, func(n int, w http.ResponseWriter, r *http.Request) {
		writeChatCompletion(t, w, map[string]any{"role": "assistant", "content": "PONG"})
	})
	server := newTestServer(t, testConfig(up.URL))

	status, body := doRequest(t, http.MethodPost, server.URL+"/v1/responses",
		map[string]any{"model": "gpt-5", "input": "PING"}, nil)
	require.Equal(t, http.StatusOK, status)
	created := decodeJSON(t, body)
	id, _ := created["id"].(string)
	require.True(t, strings.HasPrefix(id, "resp_"), "id %q", id)

	status, body = doRequest(t, http.MethodGet, server.URL+"/v1/responses/"+id, nil, nil)
	require.Equal(t, http.StatusOK, status)
	fetched := decodeJSON(t, body)
	assert.Equal(t, created["output"], fetched["output"])

	status, body = doRequest(t, http.MethodDelete, server.URL+"/v1/responses/"+id, nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"id": id, "deleted": true}, decodeJSON(t, body))

	status, _ = doRequest(t, http.MethodGet, server.URL+"/v1/responses/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = doRequest(t, http.MethodDelete, server.URL+"/v1/responses/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "invalid_request_error", errorEnvelopeOf(t, body)["type"])
}

func TestStateDisabledEndpoints(t *testing.T) {
	capture := &upstreamCapture{}
	up := fakeUpstream(t, capture, func(n int, w http.ResponseWriter, r *http.Request) {})
	cfg := testConfig(up.URL)
	cfg.StateBackend = "disabled"
	server := newTestServer(t, cfg)

	status, body := doRequest(t, http.MethodGet, server.URL+"/v1/responses/resp_x", nil, nil)
	assert.Equal(t, http.StatusNotImplemented, status)
	assert.Equal(t, "State store is disabled", errorEnvelopeOf(t, body)["message"])

	status, _ = doRequest(t, http.MethodDelete, server.URL+"/v1/responses/resp_x", nil, nil)
	assert.Equal(t, http.StatusNotImplemented, status)

	status, body = doRequest(t, http.MethodPost, server.URL+"/v1/responses",
		map[string]any{"model": "gpt-5", "input": "hi", "previous_response_id": "resp_1"}, nil)
	assert.Equal(t, http.StatusNotImplemented, status)
	assert.Equal(t, "State store is disabled", errorEnvelopeOf(t, body)["message"])
	assert.Equal(t, 0, capture.count())
}

func TestDebugEndpointDisabled(t *testing.T) {
	capture := &upstreamCapture{}
	up := fakeUpstream(t, capture, func(n int, w http.ResponseWriter, r *http.Request) {})
	server := newTestServer(t, testConfig(up.URL))

	status, body := doRequest(t, http.MethodGet, server.URL+"/v1/debug/responses/resp_x", nil, nil)
	assert.Equal(t, http.StatusNotImplemented, status)
	assert.Equal(t, "Tracing is disabled", errorEnvelopeOf(t, body)["message"])
}

func TestDebugEndpointReturnsTrace(t *testing.T) {
	capture := &upstreamCapture{}
	up := fakeUpstream(t, capture, func(n int, w http.ResponseWriter, r *http.Request) {
		writeChatCompletion(t, w, map[string]any{"role": "assistant", "content": "PONG"})
	})
	cfg := testConfig(up.URL)
	cfg.TraceEnabled = true
	server := newTestServer(t, cfg)

	status, body := doRequest(t, http.MethodPost, server.URL+"/v1/responses",
		map[string]any{"model": "gpt-5", "input": "PING"},
		map[string]string{"X-Request-Id": "req_trace_probe"})
	require.Equal(t, http.StatusOK, status)
	id := decodeJSON(t, body)["id"].(string)

	status, body = doRequest(t, http.MethodGet, server.URL+"/v1/debug/responses/"+id, nil, nil)
	require.Equal(t, http.StatusOK, status)
	record := decodeJSON(t, body)
	assert.Equal(t, "req_trace_probe", record["request_id"])
	assert.Equal(t, id, record["response_id"])
	assert.Equal(t, "POST", record["method"])
	require.Contains(t, record, "responses_request")
	require.Contains(t, record, "chat_request")
	require.Contains(t, record, "responses_response")

	// The same record is reachable through the request id.
	status, body = doRequest(t, http.MethodGet, server.URL+"/v1/debug/responses/req_trace_probe", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, decodeJSON(t, body)["response_id"])

	status, _ = doRequest(t, http.MethodGet, server.URL+"/v1/debug/responses/resp_unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}
