package cli

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

const defaultHistoryLimit = 20

func newHistoryCmd(app *appState) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent transcription runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := app.openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No transcription runs recorded yet.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tSTATUS\tAUDIO\tMODEL\tENGINE\tLANG\tDURATION\tTOOK\tSEGMENTS\tOUTPUT")
			for _, run := range runs {
				status := run.Status
				if run.Error != "" {
					status += ": " + truncateError(run.Error, 60)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%.1fm\t%s\t%d/%d\t%s\n",
					run.CreatedAt.Local().Format(time.DateTime),
					status,
					filepath.Base(run.AudioPath),
					run.Model,
					run.Engine,
					dash(run.Language),
					run.Duration/60,
					run.ProcessingTime.Round(time.Second),
					run.AcceptedSegments, run.TotalSegments,
					dash(run.OutputPath),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", defaultHistoryLimit, "Number of runs to show")
	return cmd
}

func dash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

func truncateError(message string, n int) string {
	runes := []rune(message)
	if len(runes) <= n {
		return message
	}
	return string(runes[:n]) + "..."
}
