// Package device implements the inventory management subcommands.
package device

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/paularlott/cli"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"linkmapd/internal/config"
	"linkmapd/internal/logger"
	"linkmapd/internal/model"
	"linkmapd/internal/storage"
)

// Commands returns the device management subcommands.
func Commands() []*cli.Command {
	return []*cli.Command{
		addCommand(),
		listCommand(),
		deleteCommand(),
	}
}

func addCommand() *cli.Command {
	return &cli.Command{
		Name:        "add",
		Usage:       "Add a device to the inventory",
		Description: "Register a device for polling. The SNMP community is prompted for when not given on the command line.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "hostname",
				Usage:    "Device hostname",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "ip",
				Usage:    "Management IP address",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "community",
				Usage: "SNMP community string (prompted when omitted)",
			},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log := loadConfig(cmd)

			community := cmd.GetString("community")
			if community == "" {
				var err error
				community, err = promptSecret("SNMP community (empty for 'public'): ")
				if err != nil {
					return fmt.Errorf("reading community: %w", err)
				}
			}
			if community == "" {
				community = "public"
			}

			store, err := storage.NewSQLiteStorage(cfg.DataDir, cfg.SecretKey, log)
			if err != nil {
				return fmt.Errorf("initializing storage: %w", err)
			}
			defer store.Close()

			device := &model.Device{
				Hostname:  cmd.GetString("hostname"),
				IP:        cmd.GetString("ip"),
				Community: community,
			}
			if err := store.CreateDevice(device); err != nil {
				return err
			}

			fmt.Printf("Device added: %s (%s), ID %s\n", device.Hostname, device.IP, device.ID)
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:        "list",
		Usage:       "List devices in the inventory",
		Description: "Show all managed devices with their polling status",
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log := loadConfig(cmd)

			store, err := storage.NewSQLiteStorage(cfg.DataDir, cfg.SecretKey, log)
			if err != nil {
				return fmt.Errorf("initializing storage: %w", err)
			}
			defer store.Close()

			devices, err := store.ListDevices()
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("No devices in inventory")
				return nil
			}

			for _, d := range devices {
				lastSeen := "never"
				if d.LastSeen != nil {
					lastSeen = d.LastSeen.Format("2006-01-02 15:04:05")
				}
				fmt.Printf("%-36s  %-24s  %-15s  %-7s  last seen %s\n", d.ID, d.Hostname, d.IP, d.Status, lastSeen)
			}
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:        "delete",
		Usage:       "Delete a device from the inventory",
		Description: "Remove a device; its interfaces, stats and topology links go with it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "id",
				Usage:    "Device ID, hostname or IP",
				Required: true,
			},
		},
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log := loadConfig(cmd)

			store, err := storage.NewSQLiteStorage(cfg.DataDir, cfg.SecretKey, log)
			if err != nil {
				return fmt.Errorf("initializing storage: %w", err)
			}
			defer store.Close()

			device, err := store.GetDevice(cmd.GetString("id"))
			if err != nil {
				return err
			}
			if err := store.DeleteDevice(device.ID); err != nil {
				return err
			}

			fmt.Printf("Device deleted: %s (%s)\n", device.Label(), device.IP)
			return nil
		},
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, zerolog.Logger) {
	cfg := config.Load()
	if v := cmd.GetString("data-dir"); v != "" {
		cfg.DataDir = v
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

// promptSecret reads a secret without echoing when stdin is a terminal.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(syscall.Stdin)) {
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}

	var line string
	if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
