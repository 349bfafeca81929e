package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbridge/openbridge/internal/version"
)

func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommandWithIO(strings.NewReader(""), &out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, _, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "openbridge "+version.Version+"\n", out)
}

func TestVersionFlag(t *testing.T) {
	out, _, err := executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, "openbridge "+version.Version+"\n", out)
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	t.Setenv("UPSTREAM_API_KEY", "")

	_, errOut, err := executeCommand(t, "serve")
	require.EqualError(t, err, "invalid configuration")
	assert.Contains(t, errOut, "openbridge configuration error")
	assert.Contains(t, errOut, "UPSTREAM_API_KEY")
}

func TestDebugRequiresID(t *testing.T) {
	_, _, err := executeCommand(t, "debug")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

const traceBody = `{"request_id":"req_1","response_id":"resp_1","created_at":1}`

func traceServer(t *testing.T, gotAuth *string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotAuth != nil {
			*gotAuth = r.Header.Get("Authorization")
		}
		if r.URL.Path != "/v1/debug/responses/resp_1" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":{"message":"trace not found","type":"invalid_request_error","param":null,"code":null},"detail":"trace not found"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(traceBody))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestDebugCommandPrettyPrint(t *testing.T) {
	t.Setenv("CLIENT_API_KEY", "")
	var gotAuth string
	server := traceServer(t, &gotAuth)

	out, _, err := executeCommand(t, "debug", "resp_1", "--server", server.URL)
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
	assert.Contains(t, out, "\n  \"request_id\": \"req_1\"")
	assert.Contains(t, out, "\"response_id\": \"resp_1\"")
}

func TestDebugCommandRaw(t *testing.T) {
	t.Setenv("CLIENT_API_KEY", "")
	server := traceServer(t, nil)

	out, _, err := executeCommand(t, "debug", "resp_1", "--server", server.URL, "--raw")
	require.NoError(t, err)
	assert.Equal(t, traceBody+"\n", out)
}

func TestDebugCommandWritesFile(t *testing.T) {
	t.Setenv("CLIENT_API_KEY", "")
	server := traceServer(t, nil)
	path := filepath.Join(t.TempDir(), "trace.json")

	out, _, err := executeCommand(t, "debug", "resp_1", "--server", server.URL, "--output", path)
	require.NoError(t, err)
	assert.Equal(t, "trace written to "+path+"\n", out)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\"request_id\": \"req_1\"")
	assert.True(t, strings.HasSuffix(string(data), "\n"))
}

func TestDebugCommandSendsClientKey(t *testing.T) {
	t.Setenv("CLIENT_API_KEY", "k-client")
	var gotAuth string
	server := traceServer(t, &gotAuth)

	_, _, err := executeCommand(t, "debug", "resp_1", "--server", server.URL)
	require.NoError(t, err)
	assert.Equal(t, "Bearer k-client", gotAuth)
}

func TestDebugCommandServerError(t *testing.T) {
	t.Setenv("CLIENT_API_KEY", "")
	server := traceServer(t, nil)

	_, _, err := executeCommand(t, "debug", "resp_missing", "--server", server.URL)
	require.EqualError(t, err, "server returned 404: trace not found")
}
