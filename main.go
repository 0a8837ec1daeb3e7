// Package main provides the RFID reader agent: it keeps a UHF reader
// connected over USB or Bluetooth, runs inventory sessions and bridges
// commands and events to local clients over WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dotside-studios/rfid-reader-agent/buildinfo"
	"github.com/dotside-studios/rfid-reader-agent/config"
)

// options are the settings that only exist as flags.
type options struct {
	cli     bool
	version bool
	envFile string
}

// parseFlags builds the final configuration: flags override the values
// loaded from the environment.
func parseFlags(args []string, cfg config.Config) (config.Config, options, error) {
	var opts options
	fs := flag.NewFlagSet(buildinfo.Name, flag.ContinueOnError)

	fs.IntVar(&cfg.Port, "port", cfg.Port, "Port to listen on for the bridge")
	fs.BoolVar(&opts.cli, "cli", false, "Run in CLI mode (default: system tray mode)")
	fs.BoolVar(&opts.version, "version", false, "Print build information and exit")
	fs.StringVar(&opts.envFile, "env-file", config.DefaultEnvFile, "Optional .env file with RFID_AGENT_* settings")
	fs.StringVar(&cfg.APISecret, "api-secret", cfg.APISecret, "API secret required from bridge clients (optional)")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "USB discovery poll interval")
	fs.IntVar(&cfg.BaudRate, "baud", cfg.BaudRate, "Serial baud rate")
	fs.BoolVar(&cfg.Bluetooth, "bluetooth", cfg.Bluetooth, "Discover Bluetooth readers through BlueZ")
	fs.Func("rfcomm", "Bind a Bluetooth reader to a serial node, MAC=/dev/rfcommN (repeatable)", cfg.AddRFCOMM)
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Mirror state and events to this Redis server (optional)")
	fs.StringVar(&cfg.RedisKey, "redis-key", cfg.RedisKey, "Key prefix for the Redis mirror")
	fs.BoolVar(&cfg.TLS, "tls", cfg.TLS, "Serve the bridge over TLS with a locally trusted certificate")
	fs.StringVar(&cfg.ConfigDir, "config-dir", cfg.ConfigDir, "Directory for certificates (default: user config dir)")
	fs.BoolVar(&cfg.MDNS, "mdns", cfg.MDNS, "Advertise the bridge over mDNS")

	if err := fs.Parse(args); err != nil {
		return cfg, opts, err
	}

	if cfg.ConfigDir == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = "."
		}
		cfg.ConfigDir = filepath.Join(dir, buildinfo.DirName)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, opts, err
	}
	return cfg, opts, nil
}

// envFileArg returns the -env-file value ahead of full parsing, since the
// file has to be loaded before the environment is read.
func envFileArg(args []string) string {
	for i, arg := range args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !strings.HasPrefix(arg, "-") || name != "env-file" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return config.DefaultEnvFile
}

func main() {
	args := os.Args[1:]

	if err := config.LoadDotEnv(envFileArg(args)); err != nil {
		log.Printf("Warning: failed to load env file: %v", err)
	}

	envCfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	cfg, opts, err := parseFlags(args, envCfg)
	if err != nil {
		if err == flag.ErrHelp {
			return
		}
		log.Fatalf("Invalid arguments: %v", err)
	}

	if opts.version {
		fmt.Println(buildinfo.BuildInfo())
		return
	}

	log.Printf("%s %s", buildinfo.DisplayName, buildinfo.FullVersion())

	agent := NewAgent(cfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Run in CLI mode only if explicitly requested
	if opts.cli {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := agent.Start(ctx); err != nil {
			log.Fatalf("Failed to start agent: %v", err)
		}
		defer agent.Stop()

		for _, host := range displayHosts() {
			log.Printf("Bridge: %s", agent.BridgeURL(host))
		}

		<-sigChan
		log.Println("Shutdown signal received, stopping agent...")
		return
	}

	app := NewSystrayApp(agent)
	go func() {
		<-sigChan
		app.Quit()
	}()
	app.Run()
}
