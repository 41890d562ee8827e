package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mrenwl2001/playwright1/internal/ansi"
	"github.com/mrenwl2001/playwright1/internal/dispatch"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tests without running them",
	Long: `Lists every test the suite registers, per project, together with the
worker hash each would run under. Tests sharing a hash run in the same
worker process.`,
	RunE: runList,
}

func init() {
	listCmd.Flags().String("project", "", "list only the named project")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if project, _ := cmd.Flags().GetString("project"); project != "" {
		cfg.Projects = selectProject(cfg.Projects, project)
		if len(cfg.Projects) == 0 {
			return fmt.Errorf("unknown project %q", project)
		}
	}

	out := cmd.OutOrStdout()
	total := 0
	for _, p := range cfg.Projects {
		entries, err := dispatch.EntriesFor(currentSuite, p.ID, p.Options, 0, 0)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s (%d tests)\n", ansi.Paint(ansi.Bold, p.ID), len(entries))
		for _, e := range entries {
			fmt.Fprintf(out, "  [%s] %s › %s\n",
				ansi.Paint(ansi.Dim, e.WorkerHash), e.Test.Location, e.Test.Title)
			total++
		}
	}
	fmt.Fprintf(out, "%d total\n", total)
	return nil
}
