package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/kala/internal/lab"
	"github.com/talgya/kala/internal/netz"
)

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch NAME [NET]",
		Short: "Download a Netzschleuder network into the local cache",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, net := args[0], ""
			if len(args) == 2 {
				net = args[1]
			}
			cacheDir, _ := cmd.Flags().GetString("cache-dir")
			if cacheDir == "" {
				cacheDir = os.Getenv("KALA_CACHE_DIR")
			}
			force, _ := cmd.Flags().GetBool("force")

			db := netz.NewDatabase(lab.CacheDir(cacheDir))
			if base, _ := cmd.Flags().GetString("base-url"); base != "" {
				db.BaseURL = base
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			path, err := db.Fetch(ctx, name, net, force)
			cached := errors.Is(err, netz.ErrCached)
			if err != nil && !cached {
				return err
			}
			if cached {
				path = db.FileName(name, net)
			}
			return reportFetch(ctx, cmd, db, name, net, path, cached)
		},
	}
	cmd.Flags().String("cache-dir", "", "Cache directory (default: $KALA_CACHE_DIR or the user cache dir)")
	cmd.Flags().Bool("force", false, "Download even when the network is cached")
	cmd.Flags().String("base-url", "", "Netzschleuder base URL")
	return cmd
}

func reportFetch(ctx context.Context, cmd *cobra.Command, db *netz.Database, name, net, path string, cached bool) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	topo, err := db.Read(ctx, name, net)
	if err != nil {
		return err
	}

	jsonOut, _ := cmd.Flags().GetBool("json")
	if jsonOut {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
			"path":   path,
			"bytes":  info.Size(),
			"cached": cached,
			"nodes":  topo.NumNodes(),
			"edges":  topo.NumEdges(),
		})
	}
	state := "downloaded"
	if cached {
		state = "already cached"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s (%s), %s nodes, %s edges\n",
		name, state, path, humanize.Bytes(uint64(info.Size())),
		humanize.Comma(int64(topo.NumNodes())), humanize.Comma(int64(topo.NumEdges())))
	return nil
}
