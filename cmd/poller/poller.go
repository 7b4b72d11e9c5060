// Package poller implements the standalone polling command.
package poller

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/paularlott/cli"
	"github.com/rs/zerolog"

	"linkmapd/internal/config"
	"linkmapd/internal/logger"
	"linkmapd/internal/poll"
	"linkmapd/internal/probe"
	"linkmapd/internal/snmp"
	"linkmapd/internal/storage"
)

// Command returns the poll command.
func Command() *cli.Command {
	return &cli.Command{
		Name:        "poll",
		Usage:       "Run the polling engine without the MCP server",
		Description: "Sweep the device inventory: probe reachability, collect interface and LLDP data over SNMP and reconcile it into storage",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:         "once",
				Usage:        "Run a single sweep and exit",
				DefaultValue: false,
			},
			&cli.StringFlag{
				Name:  "interval",
				Usage: "Sleep between sweeps (e.g. 30s, 5m)",
			},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log := loadConfig(cmd)

			store, err := storage.NewSQLiteStorage(cfg.DataDir, cfg.SecretKey, log)
			if err != nil {
				return fmt.Errorf("initializing storage: %w", err)
			}
			defer store.Close()

			fleet := BuildFleet(cfg, store, log)

			if cmd.GetBool("once") {
				return fleet.RunCycle(ctx)
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info().
				Dur("interval", cfg.PollInterval).
				Int("probe_concurrency", cfg.ProbeConcurrency).
				Int("poll_concurrency", cfg.PollConcurrency).
				Msg("poller started")

			return fleet.Run(ctx)
		},
	}
}

// BuildFleet wires the probe, SNMP client, worker and scheduler from
// configuration. The server command reuses this composition.
func BuildFleet(cfg *config.Config, store *storage.SQLiteStorage, log zerolog.Logger) *poll.Fleet {
	client := snmp.NewClient(cfg.SNMPPort, cfg.SNMPTimeout, cfg.SNMPRetries, log)
	worker := poll.NewWorker(store, client, cfg.PollInterval, log)
	prober := probe.New(cfg.ProbeTimeout)

	return poll.NewFleet(store, worker, prober, poll.FleetConfig{
		Interval:         cfg.PollInterval,
		ProbeConcurrency: cfg.ProbeConcurrency,
		PollConcurrency:  cfg.PollConcurrency,
	}, log)
}

func loadConfig(cmd *cli.Command) (*config.Config, zerolog.Logger) {
	cfg := config.Load()
	if v := cmd.GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v := cmd.GetString("interval"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PollInterval = d
		}
	}
	if v := cmd.GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v := cmd.GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}
	cfg.Validate()
	return cfg, logger.New(cfg.LogLevel, cfg.LogFormat)
}
