// Package server implements the combined poller + MCP server command.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/paularlott/cli"
	"github.com/rs/zerolog"

	"linkmapd/cmd/poller"
	"linkmapd/internal/config"
	"linkmapd/internal/logger"
	"linkmapd/internal/mcp"
	"linkmapd/internal/storage"
	"linkmapd/internal/topology"
)

// Command returns the server command.
func Command() *cli.Command {
	return &cli.Command{
		Name:        "server",
		Usage:       "Start the linkmapd server",
		Description: "Run the polling engine and expose inventory, topology and backfill over MCP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen-addr",
				Usage: "HTTP listen address (default :8080)",
			},
			&cli.StringFlag{
				Name:  "bearer-token",
				Usage: "Bearer token required on MCP requests (default none)",
			},
			&cli.BoolFlag{
				Name:         "no-poller",
				Usage:        "Serve MCP only, without the polling engine",
				DefaultValue: false,
			},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log := loadConfig(cmd)

			log.Info().
				Str("data_dir", cfg.DataDir).
				Str("listen_addr", cfg.ListenAddr).
				Str("source", cfg.String()).
				Msg("configuration loaded")

			store, err := storage.NewSQLiteStorage(cfg.DataDir, cfg.SecretKey, log)
			if err != nil {
				return fmt.Errorf("initializing storage: %w", err)
			}
			defer store.Close()

			backfill := topology.NewBackfill(store, log)
			mcpServer := mcp.NewServer(store, backfill, cfg.BearerToken, log)

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fleetDone := make(chan struct{})
			if cmd.GetBool("no-poller") {
				close(fleetDone)
				log.Info().Msg("polling disabled")
			} else {
				fleet := poller.BuildFleet(cfg, store, log)
				go func() {
					defer close(fleetDone)
					if err := fleet.Run(ctx); err != nil {
						log.Error().Err(err).Msg("fleet stopped with error")
					}
				}()
			}

			mux := http.NewServeMux()
			mux.HandleFunc("/mcp", mcpServer.GetHTTPHandler())

			srv := &http.Server{
				Addr:    cfg.ListenAddr,
				Handler: mux,
			}

			go func() {
				<-ctx.Done()
				log.Info().Msg("shutting down server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("server shutdown failed")
				}
			}()

			log.Info().Str("addr", cfg.ListenAddr).Msg("starting server")
			log.Info().Str("url", "http://localhost"+cfg.ListenAddr+"/mcp").Msg("MCP available")
			mcpServer.LogStartup()

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}

			<-fleetDone
			log.Info().Msg("server stopped")
			return nil
		},
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, zerolog.Logger) {
	cfg := config.Load()
	if v := cmd.GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v := cmd.GetString("listen-addr"); v != "" {
		cfg.ListenAddr = v
	}
	if v := cmd.GetString("bearer-token"); v != "" {
		cfg.BearerToken = v
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
