// Package cli wires the cobra command tree: serve (also the default
// command), version and debug.
package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openbridge/openbridge/internal/version"
)

type app struct {
	host   string
	port   int
	server string
	raw    bool
	output string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// NewRootCommand builds the command tree on the process's standard streams.
func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdin, os.Stdout, os.Stderr)
}

// NewRootCommandWithIO builds the command tree on explicit streams, which
// tests use to capture output.
func NewRootCommandWithIO(in io.Reader, out, errOut io.Writer) *cobra.Command {
	return newRootCommand(in, out, errOut)
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{stdin: in, stdout: out, stderr: errOut}

	cmd := &cobra.Command{
		Use:           "openbridge",
		Short:         "OpenAI Responses API bridge over Chat Completions upstreams",
		Long:          "openbridge serves the OpenAI Responses API and translates every request onto an upstream Chat Completions endpoint, buffered or streamed.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd.Context())
		},
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.Flags().StringVar(&a.host, "host", "", "bind host, overrides HOST")
	cmd.Flags().IntVar(&a.port, "port", 0, "bind port, overrides PORT")

	cmd.AddCommand(
		newServeCmd(a),
		newVersionCmd(),
		newDebugCmd(a),
	)
	cmd.SetVersionTemplate("openbridge {{.Version}}\n")
	return cmd
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCommand().Execute()
}
