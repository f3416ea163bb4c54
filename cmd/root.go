// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix is prepended to flag names to form environment variables,
// e.g. DPSCTL_PORT or DPSCTL_NO_SSL_VERIFY
const envPrefix = "DPSCTL"

var (
	// Serial connection flags
	portName string
	baudRate int
	initBaud int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Session flags
	readTimeout  time.Duration
	pollInterval time.Duration

	// Logging flags
	verbose   bool
	logFormat string

	env = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "dpsctl",
	Short: "DPS5315 power supply control",
	Long: `dpsctl - Remote control for ELV DPS5315 dual-channel bench power supplies.

Connects to the supply over its serial link, puts it in remote mode and
exposes status, mode, output and limit control as commands, an interactive
monitor and an HTTP API.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200] [--init-baud 9600]
  WebSocket: --url ws://host/path [--username user]

Every flag can also be set from the environment as DPSCTL_<FLAG>, with
dashes replaced by underscores (e.g. DPSCTL_PORT=/dev/ttyUSB0).

For WebSocket authentication, the password is read from the DPSCTL_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")
	rootCmd.PersistentFlags().IntVar(&initBaud, "init-baud", 9600, "Baud rate of the adapter reset open, 0 to skip (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Session flags
	rootCmd.PersistentFlags().DurationVar(&readTimeout, "timeout", time.Second, "Response timeout per request")
	rootCmd.PersistentFlags().DurationVar(&pollInterval, "poll-interval", 200*time.Millisecond, "Status polling interval, 0 to disable")

	// Logging flags
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Log every frame sent and received")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text or json)")

	env.SetEnvPrefix(envPrefix)
	env.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}

// setup applies environment overrides and configures logging
func setup(cmd *cobra.Command, args []string) error {
	if err := applyEnv(cmd.Flags()); err != nil {
		return err
	}

	if verbose {
		log.SetLevel(log.DebugLevel)
	}

	switch logFormat {
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q (use text or json)", logFormat)
	}
	log.SetOutput(os.Stderr)
	return nil
}

// applyEnv sets every flag not given on the command line from its
// environment variable, if present
func applyEnv(flags *pflag.FlagSet) error {
	var firstErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed || firstErr != nil {
			return
		}
		if err := env.BindEnv(f.Name); err != nil {
			firstErr = err
			return
		}
		if !env.IsSet(f.Name) {
			return
		}
		if err := flags.Set(f.Name, env.GetString(f.Name)); err != nil {
			firstErr = fmt.Errorf("%s_%s: %w", envPrefix, strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_")), err)
		}
	})
	return firstErr
}

// Execute runs the root command, canceling its context on SIGINT or SIGTERM
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
