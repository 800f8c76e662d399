package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/talgya/kala/internal/api"
	"github.com/talgya/kala/internal/engine"
)

func addRemoteFlags(cmd *cobra.Command) {
	cmd.Flags().String("url", "http://localhost:8080", "Base URL of a running kala serve")
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running kala serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, _ := cmd.Flags().GetString("url")
			st, err := api.NewClient(base, "").Status(cmd.Context())
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(st)
			}
			state := "idle"
			if st.Running {
				state = "running"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "step %d/%d (%s, %d shocks pending)\n", st.Tick, st.Steps, state, st.Pending)
			fmt.Fprintf(out, "  %s\n", st.Summary)
			if st.Differentials != nil {
				fmt.Fprintf(out, "  differentials efficient=%.3f inefficient=%.3f\n", st.Differentials.Efficient, st.Differentials.Inefficient)
			}
			return nil
		},
	}
	addRemoteFlags(cmd)
	return cmd
}

func newShockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shock TYPE [KEY=VALUE...]",
		Short: "Queue a shock on a running kala serve",
		Long: `shock queues a shock for the next step of a running game. Parameters are
given as KEY=VALUE pairs, e.g.

  kala shock swap_edge pivot=0 v=1 w=3
  kala shock change_differentials efficient=0.3 inefficient=0.2

Known types: ` + strings.Join(engine.ShockKinds(), ", "),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}
			base, _ := cmd.Flags().GetString("url")
			key, _ := cmd.Flags().GetString("key")
			if key == "" {
				key = os.Getenv("KALA_ADMIN_KEY")
			}
			count, _ := cmd.Flags().GetInt("count")

			res, err := api.NewClient(base, key).Shock(cmd.Context(), api.ShockRequest{
				Type:   args[0],
				Params: params,
				Count:  count,
			})
			if err != nil {
				return err
			}

			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d x %s (%d pending)\n", res.Queued, res.Type, res.Pending)
			return nil
		},
	}
	addRemoteFlags(cmd)
	cmd.Flags().String("key", "", "Admin key (default: $KALA_ADMIN_KEY)")
	cmd.Flags().Int("count", 1, "Number of copies to queue")
	return cmd
}

// parseParams turns KEY=VALUE pairs into shock parameters. Numbers and booleans
// are typed; anything else stays a string.
func parseParams(pairs []string) (engine.ShockParams, error) {
	params := engine.ShockParams{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("parameter %q: want KEY=VALUE", p)
		}
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			params[k] = n
		} else if b, err := strconv.ParseBool(v); err == nil {
			params[k] = b
		} else {
			params[k] = v
		}
	}
	return params, nil
}
