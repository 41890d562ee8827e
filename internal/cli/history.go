package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrenwl2001/playwright1/internal/ansi"
	"github.com/mrenwl2001/playwright1/internal/results"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past runs",
	Long:  "Lists recent runs from the local history database, newest first.",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 10, "maximum runs to show")
	historyCmd.Flags().Int64("run", 0, "show per-test outcomes for one run ID")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := results.Open(cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	if runID, _ := cmd.Flags().GetInt64("run"); runID > 0 {
		outcomes, err := store.Outcomes(ctx, runID)
		if err != nil {
			return err
		}
		for _, o := range outcomes {
			status := o.Status
			switch o.Status {
			case "passed":
				status = ansi.Paint(ansi.Green, o.Status)
			case "failed", "timedOut":
				status = ansi.Paint(ansi.Red, o.Status)
			case "skipped":
				status = ansi.Paint(ansi.Yellow, o.Status)
			}
			fmt.Fprintf(out, "%-8s %s [%s] (%dms)\n", status, o.Title, o.Project, o.DurationMs)
			if o.Error != "" {
				fmt.Fprintf(out, "         %s\n", o.Error)
			}
		}
		return nil
	}

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := store.RecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return nil
	}
	for _, r := range runs {
		line := fmt.Sprintf("#%d  %s  %d passed, %d failed, %d skipped (%s)",
			r.ID, r.StartedAt.Local().Format(time.RFC3339),
			r.Passed, r.Failed, r.Skipped,
			(time.Duration(r.DurationMs) * time.Millisecond).Round(time.Millisecond))
		if r.Failed > 0 || r.Fatal > 0 {
			line = ansi.Paint(ansi.Red, line)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
