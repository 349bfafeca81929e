package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openbridge/openbridge/internal/config"
)

const defaultServerURL = "http://127.0.0.1:8000"

func newDebugCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug <response-id>",
		Short: "Fetch the stored trace for a response or request id",
		Long: `Fetch the sanitized trace a running openbridge server recorded for a
response. Accepts a response id (resp_...) or a request id (req_...).
Tracing must be enabled on the server (TRACE_ENABLED=true).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDebug(cmd.Context(), args[0])
		},
	}
	cmd.Flags().StringVar(&a.server, "server", defaultServerURL, "base URL of the running openbridge server")
	cmd.Flags().BoolVar(&a.raw, "raw", false, "print the trace JSON exactly as returned")
	cmd.Flags().StringVarP(&a.output, "output", "o", "", "write the trace to this file instead of stdout")
	return cmd
}

func (a *app) runDebug(ctx context.Context, id string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	url := strings.TrimRight(a.server, "/") + "/v1/debug/responses/" + id
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if cfg.ClientAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.ClientAPIKey)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch trace: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read trace: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, errorDetail(body))
	}

	rendered := bytes.TrimSpace(body)
	if !a.raw {
		var buf bytes.Buffer
		if err := json.Indent(&buf, rendered, "", "  "); err == nil {
			rendered = buf.Bytes()
		}
	}

	if a.output != "" {
		if err := os.WriteFile(a.output, append(rendered, '\n'), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", a.output, err)
		}
		fmt.Fprintf(a.stdout, "trace written to %s\n", a.output)
		return nil
	}
	fmt.Fprintln(a.stdout, string(rendered))
	return nil
}

// errorDetail pulls the detail string out of an error envelope, falling back
// to the raw body.
func errorDetail(body []byte) string {
	var envelope struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Detail != "" {
		return envelope.Detail
	}
	return strings.TrimSpace(string(body))
}
