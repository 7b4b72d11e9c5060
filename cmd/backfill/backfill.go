// Package backfill implements the topology backfill subcommand.
package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/paularlott/cli"

	"linkmapd/internal/config"
	"linkmapd/internal/logger"
	"linkmapd/internal/storage"
	"linkmapd/internal/topology"
)

// Command returns the backfill command.
func Command() *cli.Command {
	return &cli.Command{
		Name:        "backfill",
		Usage:       "Resolve topology links with unknown destinations",
		Description: "Match unresolved LLDP neighbor labels against the managed inventory using hostname, IP and MAC heuristics",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:         "dry-run",
				Usage:        "Report matches without modifying anything",
				DefaultValue: false,
			},
			&cli.IntFlag{
				Name:         "limit",
				Usage:        "Maximum number of links to process (0 = all)",
				DefaultValue: 0,
			},
			&cli.BoolFlag{
				Name:         "json",
				Usage:        "Print the full report as JSON",
				DefaultValue: false,
			},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.Load()
			if v := cmd.GetString("data-dir"); v != "" {
				cfg.DataDir = v
			}
			cfg.Validate()
			log := logger.New(cfg.LogLevel, cfg.LogFormat)

			store, err := storage.NewSQLiteStorage(cfg.DataDir, cfg.SecretKey, log)
			if err != nil {
				return fmt.Errorf("initializing storage: %w", err)
			}
			defer store.Close()

			report, err := topology.NewBackfill(store, log).Run(cmd.GetBool("dry-run"), cmd.GetInt("limit"))
			if err != nil {
				return err
			}

			if cmd.GetBool("json") {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			for _, s := range report.Suggestions {
				fmt.Printf("%q -> %s (%s)\n", s.DstHostname, s.MatchedHostname, s.Reason)
			}
			fmt.Printf("processed %d, matched %d, updated %d\n", report.Processed, len(report.Suggestions), report.Updated)
			return nil
		},
	}
}
