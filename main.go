package main

import (
	"context"
	"fmt"
	"os"

	"github.com/paularlott/cli"
	"github.com/paularlott/cli/env"

	"linkmapd/cmd/backfill"
	"linkmapd/cmd/device"
	"linkmapd/cmd/diag"
	"linkmapd/cmd/poller"
	"linkmapd/cmd/server"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Load .env file if it exists
	env.Load()

	rootCmd := &cli.Command{
		Name:        "linkmapd",
		Version:     version,
		Usage:       "Network device polling and topology mapping daemon",
		Description: "Polls SNMP devices for interface health and LLDP adjacencies, maintains a topology map and exposes it over MCP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:   "data-dir",
				Usage:  "Directory for the SQLite database (default ./data)",
				Global: true,
			},
			&cli.StringFlag{
				Name:   "log-level",
				Usage:  "Log level (trace, debug, info, warn, error)",
				Global: true,
			},
			&cli.StringFlag{
				Name:   "log-format",
				Usage:  "Log format (console, json)",
				Global: true,
			},
		},
		Commands: []*cli.Command{
			server.Command(),
			poller.Command(),
			backfill.Command(),
			{
				Name:        "device",
				Usage:       "Device management commands",
				Description: "Manage devices in the inventory",
				Commands:    device.Commands(),
			},
			{
				Name:        "diag",
				Usage:       "Diagnostic commands",
				Description: "Standalone reachability and SNMP diagnostics",
				Commands:    diag.Commands(),
			},
		},
	}

	if err := rootCmd.Execute(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
