package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/kala/internal/config"
	"github.com/talgya/kala/internal/engine"
	"github.com/talgya/kala/internal/lab"
	"github.com/talgya/kala/internal/persistence"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Play every run of an experiment and print the outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := loadExperiment(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, exp); err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			results, elapsed, err := runExperiment(ctx, exp)
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			series, _ := cmd.Flags().GetBool("series")
			if jsonOut {
				if !series {
					for i := range results {
						results[i].Series = []engine.Summary{results[i].Final()}
					}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s runs of %s steps in %s\n",
				exp.Name, humanize.Comma(int64(len(results))), humanize.Comma(int64(exp.Steps)), elapsed.Round(time.Millisecond))
			for _, r := range results {
				absorbed := "no"
				if r.Absorbed {
					absorbed = fmt.Sprintf("at t=%d", r.AbsorbedAt)
				}
				fmt.Fprintf(out, "  run %d (seed %d): %s | min savers %d at t=%d | absorbed %s\n",
					r.Run, r.Seed, r.Final(), r.MinSavers, r.MinTime, absorbed)
			}
			return nil
		},
	}
	addRunFlags(cmd)
	cmd.Flags().Bool("series", false, "Include the full per-step series in JSON output")
	return cmd
}

// runExperiment loads the network and plays all runs, persisting them when a store
// path is configured.
func runExperiment(ctx context.Context, exp *config.Experiment) ([]lab.RunResult, time.Duration, error) {
	start := time.Now()

	net, err := lab.LoadNetwork(ctx, exp.Network, exp.Seed)
	if err != nil {
		return nil, 0, err
	}
	slog.Info("network ready", "kind", exp.Network.Kind,
		"nodes", humanize.Comma(int64(net.Topo.NumNodes())), "edges", humanize.Comma(int64(net.Topo.NumEdges())))

	db, err := openStore(exp.Store)
	if err != nil {
		return nil, 0, err
	}
	if db != nil {
		defer db.Close()
	}

	runner := &lab.Runner{
		Workers:    exp.Workers,
		Store:      db,
		SaveAgents: exp.Store.SaveAgents,
		OnResult: func(r lab.RunResult) {
			slog.Info("run finished", "run", r.Run, "savers", r.Final().Savers, "absorbed", r.Absorbed)
		},
	}
	results, err := runner.Run(ctx, exp, net)
	if err != nil {
		return nil, 0, err
	}
	return results, time.Since(start), nil
}

// openStore opens the run store, or returns nil when no path is configured.
func openStore(cfg config.StoreConfig) (*persistence.DB, error) {
	if cfg.Path == "" {
		return nil, nil
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := persistence.Open(cfg.Path)
	if err != nil {
		return nil, err
	}
	slog.Info("database opened", "path", cfg.Path)
	return db, nil
}
