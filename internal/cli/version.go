package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openbridge/openbridge/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the openbridge version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "openbridge %s\n", version.Version)
			return nil
		},
	}
}
