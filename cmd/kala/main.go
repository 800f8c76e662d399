// Command kala runs saver / non-saver games on networks.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/talgya/kala/internal/config"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kala",
		Short: "Saver dynamics on networks",
		Long: `kala plays repeated pairwise games between savers and non-savers placed on
a network. Agents adapt their saver trait from a bounded memory of match
outcomes; shocks perturb the network and the game along the way.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "Experiment file (YAML)")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newSurvivalCmd(),
		newServeCmd(),
		newFetchCmd(),
		newStatusCmd(),
		newShockCmd(),
	)
	return rootCmd
}

// loadExperiment reads the --config file, or the defaults when none is given, and
// installs the configured logger.
func loadExperiment(cmd *cobra.Command) (*config.Experiment, error) {
	path, _ := cmd.Flags().GetString("config")
	var (
		exp *config.Experiment
		err error
	)
	if path == "" {
		exp, err = config.Parse(nil)
	} else {
		exp, err = config.Load(path)
	}
	if err != nil {
		return nil, err
	}

	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		exp.Logging.Level = lvl
	}
	logger, err := newLogger(exp.Logging, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return exp, nil
}

// newLogger builds the slog handler described by cfg. Logs go to w so stdout stays
// free for command output.
func newLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// applyRunFlags overrides experiment fields with flags the user set explicitly.
func applyRunFlags(cmd *cobra.Command, exp *config.Experiment) error {
	flags := cmd.Flags()
	if flags.Changed("seed") {
		exp.Seed, _ = flags.GetInt64("seed")
	}
	if flags.Changed("steps") {
		exp.Steps, _ = flags.GetInt("steps")
	}
	if flags.Changed("runs") {
		exp.Runs, _ = flags.GetInt("runs")
	}
	if flags.Changed("workers") {
		exp.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("db") {
		exp.Store.Path, _ = flags.GetString("db")
	}
	return exp.Validate()
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Int64("seed", 0, "Override the experiment seed")
	cmd.Flags().Int("steps", 0, "Override the number of steps per run")
	cmd.Flags().Int("runs", 0, "Override the number of runs")
	cmd.Flags().Int("workers", 0, "Override the worker count (0 = one per CPU)")
	cmd.Flags().String("db", "", "Run store path (SQLite)")
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
