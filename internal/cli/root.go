// Package cli wires the runner's command tree. User test binaries reach it
// through harness.Main, so every suite gets run/list/history/version plus
// the hidden worker re-invocation path for free.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mrenwl2001/playwright1/internal/ipc"
	"github.com/mrenwl2001/playwright1/internal/suite"
	"github.com/mrenwl2001/playwright1/internal/worker"
)

var rootCmd = &cobra.Command{
	Use:   "harness",
	Short: "Fixture-driven parallel test runner",
	Long:  "Runs declared tests against a resolved fixture graph, fanning groups out to persistent worker processes.",
}

// currentSuite is set by Execute before any command runs.
var currentSuite *suite.Suite

// exitCode is set by commands that finish cleanly but want a non-zero exit,
// a failed run for instance. Exiting from inside RunE would skip deferred
// cleanup, so Execute applies it last.
var exitCode int

// Execute runs the CLI for the given suite. When the process carries the
// worker environment marker it serves the worker protocol instead of
// parsing flags: the host spawned us, stdin and stdout are the IPC channel.
func Execute(s *suite.Suite) {
	if os.Getenv(ipc.WorkerEnv) != "" {
		if err := worker.Serve(s, os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	currentSuite = s
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default .harness.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfgFile, _ := rootCmd.Flags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".harness")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix("HARNESS")
	viper.AutomaticEnv()

	// It's fine if no config file is found; we use defaults.
	_ = viper.ReadInConfig()
}
