package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mrenwl2001/playwright1/internal/config"
	"github.com/mrenwl2001/playwright1/internal/watch"
)

var (
	runProject string
	runWatch   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the suite",
	Long:  "Resolves fixtures for every test, groups them by worker requirements, and runs the groups across worker processes.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveRunConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if runWatch {
			return watchLoop(ctx)
		}

		code, err := runSuite(ctx, currentSuite, cfg, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		exitCode = code
		return nil
	},
	SilenceUsage: true,
}

func init() {
	runCmd.Flags().Int("workers", 0, "maximum concurrent worker processes")
	runCmd.Flags().Int64("timeout", 0, "per-test timeout in milliseconds")
	runCmd.Flags().Int("retries", 0, "retry failed tests up to this many times")
	runCmd.Flags().Int("repeat-each", 0, "run every test this many times")
	runCmd.Flags().StringVar(&runProject, "project", "", "run only the named project")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "re-run on file changes")

	_ = viper.BindPFlag("workers", runCmd.Flags().Lookup("workers"))
	_ = viper.BindPFlag("timeout_ms", runCmd.Flags().Lookup("timeout"))
	_ = viper.BindPFlag("retries", runCmd.Flags().Lookup("retries"))
	_ = viper.BindPFlag("repeat_each", runCmd.Flags().Lookup("repeat-each"))

	rootCmd.AddCommand(runCmd)
}

// loadConfig resolves viper settings and folds the suite manifest on top.
func loadConfig() (config.Config, error) {
	cfg := config.Load()
	m, err := config.LoadManifest("harness.toml")
	if err != nil {
		return cfg, err
	}
	return m.Apply(cfg), nil
}

// resolveRunConfig loads the config and applies the --project filter. The
// watch loop calls it before every run so manifest edits take effect on the
// next trigger.
func resolveRunConfig() (config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, err
	}
	if runProject != "" {
		cfg.Projects = selectProject(cfg.Projects, runProject)
		if len(cfg.Projects) == 0 {
			return cfg, fmt.Errorf("unknown project %q", runProject)
		}
	}
	return cfg, nil
}

func selectProject(projects []config.Project, id string) []config.Project {
	for _, p := range projects {
		if p.ID == id {
			return []config.Project{p}
		}
	}
	return nil
}

// watchLoop runs the suite, then re-runs it whenever watched files change,
// until the context is cancelled. harness.toml is itself a watched file, so
// config is resolved fresh for every run.
func watchLoop(ctx context.Context) error {
	w, err := watch.New([]string{"."})
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	out := os.Stdout
	for {
		if cfg, err := resolveRunConfig(); err != nil {
			fmt.Fprintln(out, err)
		} else if _, err := runSuite(ctx, currentSuite, cfg, out); err != nil {
			fmt.Fprintln(out, err)
		}
		fmt.Fprintln(out, "watching for changes, ^C to quit")
		select {
		case <-ctx.Done():
			return nil
		case trig, ok := <-w.Triggers:
			if !ok {
				return nil
			}
			fmt.Fprintf(out, "changed: %d file(s), re-running\n", len(trig.Files))
		}
	}
}
