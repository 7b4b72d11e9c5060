package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	DataDir          string
	ListenAddr       string
	BearerToken      string
	SecretKey        string // key for SNMP community encryption at rest ("" = plaintext)
	PollInterval     time.Duration
	ProbeTimeout     time.Duration
	ProbeConcurrency int // ceiling for phase-A reachability probes
	PollConcurrency  int // ceiling for phase-B SNMP sweeps
	SNMPPort         int
	SNMPTimeout      time.Duration
	SNMPRetries      int
	LogLevel         string
	LogFormat        string
	ConfigFile       string // path to .env file (if loaded)
}

// Load loads configuration with the following priority (highest to lowest):
// 1. .env file (if exists)
// 2. Environment variables
// 3. Default values
//
// Command-line flags are applied by the individual commands on top of the
// returned config.
func Load() *Config {
	cfg := &Config{
		DataDir:          "./data",
		ListenAddr:       ":8080",
		PollInterval:     30 * time.Second,
		ProbeTimeout:     time.Second,
		ProbeConcurrency: 50,
		PollConcurrency:  20,
		SNMPPort:         161,
		SNMPTimeout:      2 * time.Second,
		SNMPRetries:      1,
		LogLevel:         "info",
		LogFormat:        "console",
	}

	env := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	// A .env file overrides the process environment.
	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := loadEnvFile(env, envFile); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		} else {
			cfg.ConfigFile = envFile
		}
	}

	setString(env, "LINKMAPD_DATA_DIR", &cfg.DataDir)
	setString(env, "LINKMAPD_LISTEN_ADDR", &cfg.ListenAddr)
	setString(env, "LINKMAPD_BEARER_TOKEN", &cfg.BearerToken)
	setString(env, "LINKMAPD_SECRET_KEY", &cfg.SecretKey)
	setDuration(env, "LINKMAPD_POLL_INTERVAL", &cfg.PollInterval)
	setDuration(env, "LINKMAPD_PROBE_TIMEOUT", &cfg.ProbeTimeout)
	setInt(env, "LINKMAPD_PROBE_CONCURRENCY", &cfg.ProbeConcurrency)
	setInt(env, "LINKMAPD_POLL_CONCURRENCY", &cfg.PollConcurrency)
	setInt(env, "LINKMAPD_SNMP_PORT", &cfg.SNMPPort)
	setDuration(env, "LINKMAPD_SNMP_TIMEOUT", &cfg.SNMPTimeout)
	setInt(env, "LINKMAPD_SNMP_RETRIES", &cfg.SNMPRetries)
	setString(env, "LINKMAPD_LOG_LEVEL", &cfg.LogLevel)
	setString(env, "LINKMAPD_LOG_FORMAT", &cfg.LogFormat)

	cfg.Validate()
	return cfg
}

// Validate clamps nonsensical values back to their defaults.
func (c *Config) Validate() {
	if c.PollInterval < time.Second {
		c.PollInterval = 30 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = time.Second
	}
	if c.ProbeConcurrency < 1 {
		c.ProbeConcurrency = 50
	}
	if c.PollConcurrency < 1 {
		c.PollConcurrency = 20
	}
	if c.SNMPPort < 1 || c.SNMPPort > 65535 {
		c.SNMPPort = 161
	}
	if c.SNMPTimeout <= 0 {
		c.SNMPTimeout = 2 * time.Second
	}
	if c.SNMPRetries < 0 {
		c.SNMPRetries = 1
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		c.LogFormat = "console"
	}
}

// IsMCPAuthEnabled checks if MCP authentication is configured.
func (c *Config) IsMCPAuthEnabled() bool {
	return c.BearerToken != ""
}

// String returns a string representation of the config source.
func (c *Config) String() string {
	if c.ConfigFile != "" {
		return fmt.Sprintf(".env file (%s)", c.ConfigFile)
	}
	return "environment variables"
}

// loadEnvFile merges KEY=VALUE pairs from a .env file into env.
func loadEnvFile(env map[string]string, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), "\"")
		env[key] = value
	}

	return scanner.Err()
}

func setString(env map[string]string, key string, dst *string) {
	if v, ok := env[key]; ok && v != "" {
		*dst = v
	}
}

func setInt(env map[string]string, key string, dst *int) {
	if v, ok := env[key]; ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(env map[string]string, key string, dst *time.Duration) {
	if v, ok := env[key]; ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
