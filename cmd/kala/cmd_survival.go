package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/kala/internal/lab"
)

func newSurvivalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "survival",
		Short: "Play many runs to absorption and summarize how often savers survive",
		Long: `survival plays every run until the population holds only savers or only
non-savers, or the step budget is spent, and reports the minimum saver count
reached per run along with aggregate survival counts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := loadExperiment(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, exp); err != nil {
				return err
			}
			exp.StopOnAbsorption = true

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			results, elapsed, err := runExperiment(ctx, exp)
			if err != nil {
				return err
			}
			sv := lab.Summarize(results)

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				type row struct {
					Run       int   `json:"run"`
					Seed      int64 `json:"seed"`
					MinSavers int   `json:"min_savers"`
					MinTime   int   `json:"min_time"`
				}
				rows := make([]row, len(results))
				for i, r := range results {
					rows[i] = row{Run: r.Run, Seed: r.Seed, MinSavers: r.MinSavers, MinTime: r.MinTime}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"summary": sv, "runs": rows})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s runs in %s\n", exp.Name, humanize.Comma(int64(sv.Runs)), elapsed.Round(time.Millisecond))
			fmt.Fprintf(out, "  surviving %d | extinct %d | takeover %d\n", sv.Surviving, sv.Extinct, sv.Takeover)
			fmt.Fprintf(out, "  mean min savers %.2f at t=%.1f | mean final gini %.3f\n", sv.MeanMinSavers, sv.MeanMinTime, sv.MeanFinalGini)
			return nil
		},
	}
	addRunFlags(cmd)
	return cmd
}
