// Package diag implements standalone connectivity diagnostics.
package diag

import (
	"context"
	"fmt"
	"time"

	"github.com/paularlott/cli"

	"linkmapd/internal/config"
	"linkmapd/internal/logger"
	"linkmapd/internal/probe"
	"linkmapd/internal/snmp"
)

// Commands returns the diagnostic subcommands.
func Commands() []*cli.Command {
	return []*cli.Command{
		probeCommand(),
		walkCommand(),
	}
}

func probeCommand() *cli.Command {
	return &cli.Command{
		Name:        "probe",
		Usage:       "Test TCP reachability of a host",
		Description: "Run the same reachability check the poller uses, against one host",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "host",
				Usage:    "Host to probe",
				Required: true,
			},
			&cli.IntFlag{
				Name:         "timeout",
				Usage:        "Per-connect timeout in seconds",
				DefaultValue: 1,
			},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			host := cmd.GetString("host")
			timeout := time.Duration(cmd.GetInt("timeout")) * time.Second

			start := time.Now()
			reachable := probe.New(timeout)(host)
			took := time.Since(start)

			if !reachable {
				return fmt.Errorf("%s is unreachable (after %v)", host, took)
			}
			fmt.Printf("%s is reachable (%v)\n", host, took)
			return nil
		},
	}
}

func walkCommand() *cli.Command {
	return &cli.Command{
		Name:        "walk",
		Usage:       "Walk an SNMP subtree on a device",
		Description: "Bulk-walk one OID subtree and print the rows, for checking device SNMP configuration",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "host",
				Usage:    "Device address",
				Required: true,
			},
			&cli.StringFlag{
				Name:         "community",
				Usage:        "SNMP community string",
				DefaultValue: "public",
			},
			&cli.StringFlag{
				Name:         "oid",
				Usage:        "Subtree OID to walk",
				DefaultValue: snmp.OIDIfDescr,
			},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.Load()
			log := logger.New(cfg.LogLevel, cfg.LogFormat)

			client := snmp.NewClient(cfg.SNMPPort, cfg.SNMPTimeout, cfg.SNMPRetries, log)

			oid := cmd.GetString("oid")
			table, err := client.Walk(ctx, cmd.GetString("host"), cmd.GetString("community"), oid)
			if err != nil {
				return err
			}
			if table.Len() == 0 {
				fmt.Println("Walk succeeded but returned no rows")
				return nil
			}

			table.Each(func(index string, value any) {
				if b, ok := value.([]byte); ok {
					value = string(b)
				}
				fmt.Printf("%s.%s = %v\n", oid, index, value)
			})
			fmt.Printf("%d rows\n", table.Len())
			return nil
		},
	}
}
