// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/Thermoquad/dpsctl/pkg/dps"
	"github.com/spf13/cobra"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the supply state",
	Long: `Connect to the supply, read its state and print it.

With --watch the state is reprinted after every status poll until Ctrl+C.
Anomalies such as current limiting or over temperature are listed below the
state.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Keep printing the state after every poll")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg := sessionConfig()
	if !statusWatch {
		cfg.PollInterval = 0
	}

	s, connInfo, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Disconnect()

	fmt.Fprintf(os.Stderr, "Connection: %s\n", connInfo)

	st, err := s.GetStatus(ctx)
	if err != nil {
		return err
	}
	printState(os.Stdout, st)

	if !statusWatch {
		return nil
	}
	return watchState(ctx, s, os.Stdout)
}

// watchState prints every state update until ctx is canceled
func watchState(ctx context.Context, s *dps.Session, w io.Writer) error {
	updates := make(chan dps.State, 1)
	s.Subscribe(func(st dps.State) {
		// Keep only the newest snapshot if the printer falls behind
		for {
			select {
			case updates <- st:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})

	for {
		select {
		case <-ctx.Done():
			fmt.Fprint(w, "\n"+s.Statistics().String())
			return nil
		case st := <-updates:
			fmt.Fprint(w, "\033[H\033[2J")
			printState(w, st)
		}
	}
}

func printState(w io.Writer, st dps.State) {
	fmt.Fprint(w, dps.FormatState(st))
	for _, anomaly := range dps.ValidateState(st) {
		fmt.Fprintf(w, "! %s\n", anomaly.Message)
	}
}
