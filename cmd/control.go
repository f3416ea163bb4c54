// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/Thermoquad/dpsctl/pkg/dps"
	"github.com/spf13/cobra"
)

var modeCmd = &cobra.Command{
	Use:   "mode series|dual|master-slave",
	Short: "Set the output topology",
	Long: `Switch the supply between series, dual and master/slave outputs.

Both outputs are put in standby when the topology changes; nothing is sent
when the supply already has the requested topology.`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"series", "dual", "master-slave"},
	RunE:      runMode,
}

var outputCmd = &cobra.Command{
	Use:   "output master|slave on|off",
	Short: "Switch an output on or to standby",
	Args:  cobra.ExactArgs(2),
	RunE:  runOutput,
}

var (
	limitMasterVoltage float64
	limitMasterCurrent float64
	limitSlaveVoltage  float64
	limitSlaveCurrent  float64
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Show or set the voltage and current limits",
	Long: `Without flags, print the configured limits of both channels.

Flags set the given limits in volts and amperes. Limits not given keep their
current value, which is read from the supply first. Values are truncated to
10 mV and 1 mA.`,
	RunE: runLimits,
}

func init() {
	rootCmd.AddCommand(modeCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(limitsCmd)

	limitsCmd.Flags().Float64Var(&limitMasterVoltage, "mv", 0, "Master voltage limit (V)")
	limitsCmd.Flags().Float64Var(&limitMasterCurrent, "mi", 0, "Master current limit (A)")
	limitsCmd.Flags().Float64Var(&limitSlaveVoltage, "sv", 0, "Slave voltage limit (V)")
	limitsCmd.Flags().Float64Var(&limitSlaveCurrent, "si", 0, "Slave current limit (A)")
}

// controlSession connects without the poller for one-shot commands
func controlSession(cmd *cobra.Command) (*dps.Session, error) {
	cfg := sessionConfig()
	cfg.PollInterval = 0

	s, connInfo, err := openSession(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "Connection: %s\n", connInfo)
	return s, nil
}

func runMode(cmd *cobra.Command, args []string) error {
	s, err := controlSession(cmd)
	if err != nil {
		return err
	}
	defer s.Disconnect()

	if err := applyMode(cmd.Context(), s, args[0]); err != nil {
		return err
	}
	fmt.Printf("Mode: %s\n", s.Snapshot().Mode)
	return nil
}

func runOutput(cmd *cobra.Command, args []string) error {
	on, err := parseSwitch(args[1])
	if err != nil {
		return err
	}

	s, err := controlSession(cmd)
	if err != nil {
		return err
	}
	defer s.Disconnect()

	if err := applyOutput(cmd.Context(), s, args[0], on); err != nil {
		return err
	}
	fmt.Printf("Mode: %s\n", s.Snapshot().Mode)
	return nil
}

func runLimits(cmd *cobra.Command, args []string) error {
	s, err := controlSession(cmd)
	if err != nil {
		return err
	}
	defer s.Disconnect()

	ctx := cmd.Context()
	limits, err := s.GetControlValues(ctx)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	o := limitOverrides{
		MasterVoltage: changed(flags.Changed("mv"), limitMasterVoltage),
		MasterCurrent: changed(flags.Changed("mi"), limitMasterCurrent),
		SlaveVoltage:  changed(flags.Changed("sv"), limitSlaveVoltage),
		SlaveCurrent:  changed(flags.Changed("si"), limitSlaveCurrent),
	}
	if !o.empty() {
		if err := s.SetControlValues(ctx, mergeLimits(limits, o)); err != nil {
			return err
		}
	}

	l := s.Snapshot().Limits
	fmt.Printf("Master: %6.2f V  %6.3f A\n", l.MasterVoltage, l.MasterCurrent)
	fmt.Printf("Slave:  %6.2f V  %6.3f A\n", l.SlaveVoltage, l.SlaveCurrent)
	return nil
}

// applyMode switches the output topology by name
func applyMode(ctx context.Context, s *dps.Session, name string) error {
	switch name {
	case "series":
		return s.SetSeriesMode(ctx)
	case "dual":
		return s.SetDualMode(ctx)
	case "master-slave", "master_slave":
		return s.SetMasterSlaveMode(ctx)
	default:
		return badRequest{fmt.Errorf("unknown mode %q (use series, dual or master-slave)", name)}
	}
}

// applyOutput switches one channel on or to standby
func applyOutput(ctx context.Context, s *dps.Session, channel string, on bool) error {
	switch {
	case channel == "master" && on:
		return s.EnableMaster(ctx)
	case channel == "master":
		return s.DisableMaster(ctx)
	case channel == "slave" && on:
		return s.EnableSlave(ctx)
	case channel == "slave":
		return s.DisableSlave(ctx)
	default:
		return badRequest{fmt.Errorf("unknown channel %q (use master or slave)", channel)}
	}
}

func parseSwitch(v string) (bool, error) {
	switch v {
	case "on":
		return true, nil
	case "off", "standby":
		return false, nil
	default:
		return false, badRequest{fmt.Errorf("unknown output state %q (use on or off)", v)}
	}
}

// limitOverrides holds the limits to change; nil fields keep their value
type limitOverrides struct {
	MasterVoltage *float64 `json:"mv_limit,omitempty"`
	MasterCurrent *float64 `json:"mi_limit,omitempty"`
	SlaveVoltage  *float64 `json:"sv_limit,omitempty"`
	SlaveCurrent  *float64 `json:"si_limit,omitempty"`
}

func (o limitOverrides) empty() bool {
	return o.MasterVoltage == nil && o.MasterCurrent == nil && o.SlaveVoltage == nil && o.SlaveCurrent == nil
}

func changed(set bool, v float64) *float64 {
	if !set {
		return nil
	}
	return &v
}

// mergeLimits applies overrides to the current limits
func mergeLimits(current dps.Limits, o limitOverrides) dps.Limits {
	if o.MasterVoltage != nil {
		current.MasterVoltage = *o.MasterVoltage
	}
	if o.MasterCurrent != nil {
		current.MasterCurrent = *o.MasterCurrent
	}
	if o.SlaveVoltage != nil {
		current.SlaveVoltage = *o.SlaveVoltage
	}
	if o.SlaveCurrent != nil {
		current.SlaveCurrent = *o.SlaveCurrent
	}
	return current
}
