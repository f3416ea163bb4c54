// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"

	"github.com/Thermoquad/dpsctl/pkg/dps"
	tea "github.com/charmbracelet/bubbletea"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for monitoring and controlling the supply",
	Long: `Monitor and control the supply via an interactive terminal UI.

Features:
  - Live readings, limits, temperatures and mode (status poller)
  - Output topology selection (m)
  - Output on/standby toggles (1 = master, 2 = slave)
  - Limit editing (l)
  - Link statistics
  - Event log with anomalies such as current limiting or over temperature

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Log lines would corrupt the alternate screen; they go to the event log
	log.SetOutput(io.Discard)
	hook := &tuiLogHook{}
	log.AddHook(hook)

	s, connInfo, err := openSession(ctx, sessionConfig())
	if err != nil {
		return err
	}
	defer s.Disconnect()

	m := initialMonitorModel(ctx, s, connInfo)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	hook.setProgram(p)

	s.Subscribe(func(st dps.State) {
		p.Send(stateMsg(st))
	})

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
