// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/dpsctl/pkg/dps"
	"github.com/spf13/cobra"
)

var (
	pingCount    int
	pingInterval time.Duration
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test the link by sending version requests",
	Long: `Connect to the supply and send GET_VERSION requests, reporting the round
trip time of each response.

This is useful for verifying:
  - The serial adapter (or WebSocket bridge) is reachable
  - The supply answers the init sequence
  - Frames arrive with valid CRCs

The response timeout is set with --timeout.

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVarP(&pingCount, "count", "c", 3, "Number of pings to send")
	pingCmd.Flags().DurationVar(&pingInterval, "interval", 100*time.Millisecond, "Delay between pings")
}

func runPing(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg := sessionConfig()
	cfg.PollInterval = 0

	s, connInfo, err := openSession(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("dpsctl - Link Ping Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %s per ping\n", readTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount && ctx.Err() == nil; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		start := time.Now()
		master, slave, err := s.GetVersion(ctx)
		rtt := time.Since(start)

		switch {
		case err == nil:
			fmt.Printf("VERSION master=%s slave=%s, rtt=%v\n", master, slave, rtt.Round(time.Millisecond))
			successCount++
		case dps.IsDropped(err):
			fmt.Printf("DROPPED (%v)\n", err)
			failCount++
		default:
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		}

		if i < pingCount {
			time.Sleep(pingInterval)
		}
	}

	sent := successCount + failCount
	fmt.Printf("\n--- Ping statistics ---\n")
	if sent > 0 {
		fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
			sent, successCount, float64(failCount)/float64(sent)*100)
	}
	fmt.Print(s.Statistics().String())

	s.Disconnect()
	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
