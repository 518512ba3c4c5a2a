package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/velkorra/whisper/internal/version"
)

func newVersionCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Current()
			fmt.Fprintf(cmd.OutOrStdout(), "transcribe v%s\n", info.Version)
			if verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "commit: %s\nbuilt: %s\ngo: %s\n", info.Commit, info.Date, info.GoVersion)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "long", "l", false, "Also print commit, build date and Go version")
	return cmd
}
