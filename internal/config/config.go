// Package config parses server configuration from flags and environment
// variables, flags taking precedence. The client binary parses its own
// command line (it is argument-shaped, not option-shaped).
package config

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// ServerConfig holds configuration for the tftpd binary.
type ServerConfig struct {
	Addr           string        // UDP listen address for requests
	Root           string        // directory served to peers
	AllowOverwrite bool          // whether WRQ may replace an existing file
	Timeout        time.Duration // per-block wait before a retransmission
	Retries        int           // sends of one block before giving up
	LogLevel       string
}

// ParseServerConfig parses server configuration from flags and environment
// variables. Flags take precedence over environment variables.
// Defaults: addr=":69", root=".", timeout=5s, retries=5, logLevel="info".
func ParseServerConfig() ServerConfig {
	return parseServerConfigWithFlagSet(flag.CommandLine, os.Args[1:])
}

// parseServerConfigWithFlagSet is an internal helper for testing with
// isolated flag sets.
func parseServerConfigWithFlagSet(fs *flag.FlagSet, args []string) ServerConfig {
	cfg := ServerConfig{
		Addr:     ":69",
		Root:     ".",
		Timeout:  5 * time.Second,
		Retries:  5,
		LogLevel: "info",
	}

	// Read from environment first
	if addr := os.Getenv("TFTPD_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if root := os.Getenv("TFTPD_ROOT"); root != "" {
		cfg.Root = root
	}
	if overwrite := os.Getenv("TFTPD_ALLOW_OVERWRITE"); overwrite != "" {
		if v, err := strconv.ParseBool(overwrite); err == nil {
			cfg.AllowOverwrite = v
		}
	}
	if logLevel := os.Getenv("TFTPD_LOG_LEVEL"); logLevel != "" {
		cfg.LogLevel = logLevel
	}

	// Flags override environment
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "UDP listen address")
	fs.StringVar(&cfg.Root, "root", cfg.Root, "directory to serve")
	fs.BoolVar(&cfg.AllowOverwrite, "allow-overwrite", cfg.AllowOverwrite, "let write requests replace existing files")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-block retransmission timeout")
	fs.IntVar(&cfg.Retries, "retries", cfg.Retries, "sends of one block before giving up")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.Parse(args)

	return cfg
}
