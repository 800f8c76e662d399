package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/kala/internal/api"
	"github.com/talgya/kala/internal/engine"
	"github.com/talgya/kala/internal/lab"
	"github.com/talgya/kala/internal/persistence"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Play one run at a paced rate behind the observation API",
		Long: `serve plays run 0 of the experiment step by step, pacing steps by the
configured interval, and exposes the game over HTTP: status, agents, events,
summary history, a websocket step stream and an admin endpoint that queues
shocks for the next step. The API stays up after the plan completes until the
process is interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := loadExperiment(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, exp); err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				exp.Serve.Port, _ = cmd.Flags().GetInt("port")
			}
			if cmd.Flags().Changed("interval") {
				exp.Serve.Interval, _ = cmd.Flags().GetDuration("interval")
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			net, err := lab.LoadNetwork(ctx, exp.Network, exp.Seed)
			if err != nil {
				return err
			}
			seed := lab.RunSeed(exp.Seed, 0)
			state, plan, err := lab.Build(exp, net, seed)
			if err != nil {
				return err
			}

			db, err := openStore(exp.Store)
			if err != nil {
				return err
			}
			if db != nil {
				defer db.Close()
			}

			eng := engine.NewEngine(state, plan)
			eng.Interval = exp.Serve.Interval

			var series []engine.Summary
			series = append(series, state.Summary())
			eng.OnStep = func(_ engine.StepReport, st *engine.GameState) {
				series = append(series, st.Summary())
			}

			srv := api.NewServer(eng, exp.Serve.Port, exp.Serve.AdminKey)
			srv.DB = db
			srv.ShockSeed = seed + 1_000_000
			srv.Attach()
			srv.Start()

			if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			if ctx.Err() == nil {
				var final engine.Summary
				eng.View(func(st *engine.GameState) { final = st.Summary() })
				slog.Info("plan complete, API still serving", "summary", final.String())
			}

			if db != nil {
				if err := saveServedRun(db, exp.Name, seed, eng, series); err != nil {
					slog.Error("saving run failed", "error", err)
				}
			}

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	addRunFlags(cmd)
	cmd.Flags().Int("port", 8080, "HTTP port")
	cmd.Flags().Duration("interval", 100*time.Millisecond, "Minimum wall time per step")
	return cmd
}

func saveServedRun(db *persistence.DB, name string, seed int64, eng *engine.Engine, series []engine.Summary) error {
	run := &persistence.Run{Experiment: name, Seed: seed, Steps: eng.Tick(), AbsorbedAt: -1}
	for _, s := range series {
		if s.Absorbed() {
			run.Absorbed, run.AbsorbedAt = true, s.Time
			break
		}
	}
	var err error
	eng.View(func(st *engine.GameState) {
		err = db.SaveRun(run, nil, series, st, true)
	})
	return err
}
