// Package upstream is the HTTP client for the Chat Completions provider:
// request execution, SSE stream reading, retry with backoff, and the
// compatibility degradation ladder.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openbridge/openbridge/internal/protocol"
)

const chatCompletionsPath = "/chat/completions"

// Client calls the upstream Chat Completions API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds a client for the given base URL (for example
// "https://openrouter.ai/api/v1"). The timeout bounds non-streaming requests;
// streaming requests are bounded by their context instead.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Response is one completed upstream HTTP exchange, body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RequestID returns the upstream's own request id header, when present.
func (r *Response) RequestID() string {
	return r.Header.Get("X-Request-Id")
}

// BuildPayload renders a chat request into the mutable form the degradation
// ladder works on.
func BuildPayload(req protocol.ChatRequest) (map[string]any, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}
	return payload, nil
}

// ChatCompletions posts one non-streaming chat request and reads the full
// response. Non-2xx statuses are returned as data, not errors; callers decide
// between retry, degradation and pass-through.
func (c *Client) ChatCompletions(ctx context.Context, payload map[string]any) (*Response, error) {
	resp, err := c.post(ctx, payload, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// StreamChatCompletions opens one streaming chat request. A non-2xx status is
// returned as a *StatusError so the caller can apply the same retry
// classification as for buffered calls.
func (c *Client) StreamChatCompletions(ctx context.Context, payload map[string]any) (*Stream, error) {
	resp, err := c.post(ctx, payload, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	return &Stream{body: resp.Body, scanner: newSSEScanner(resp.Body)}, nil
}

func (c *Client) post(ctx context.Context, payload map[string]any, stream bool) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatCompletionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	return resp, nil
}

// Stream iterates the data payloads of an upstream SSE response.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newSSEScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	// Argument deltas can pack a whole completion into one data line.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return scanner
}

// Next returns the next "data:" payload, skipping comments and other SSE
// fields. io.EOF signals a cleanly closed stream.
func (s *Stream) Next() (string, error) {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			return strings.TrimSpace(data), nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("read upstream stream: %w", err)
	}
	return "", io.EOF
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.body.Close()
}
