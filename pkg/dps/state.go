// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps

import (
	"fmt"
	"strings"
	"time"
)

// Has reports whether every bit of flag is set
func (m Mode) Has(flag Mode) bool {
	return m&flag == flag
}

// Output returns the output topology bits of the mode
func (m Mode) Output() Mode {
	return m & ModeOutputMask
}

// String returns a compact flag list such as "MASTER_SLAVE|REMOTE"
func (m Mode) String() string {
	var parts []string
	switch m.Output() {
	case ModeSeries:
		parts = append(parts, "SERIES")
	case ModeDual:
		parts = append(parts, "DUAL")
	case ModeMasterSlave:
		parts = append(parts, "MASTER_SLAVE")
	default:
		parts = append(parts, fmt.Sprintf("OUTPUT_%d", m.Output()))
	}

	flags := []struct {
		bit  Mode
		name string
	}{
		{ModeSlaveStandby, "SLAVE_STANDBY"},
		{ModeMasterStandby, "MASTER_STANDBY"},
		{ModeRemote, "REMOTE"},
		{ModeLock, "LOCK"},
		{ModeCalibration, "CALIBRATION"},
		{ModeError, "ERROR"},
	}
	for _, f := range flags {
		if m.Has(f.bit) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// Has reports whether every bit of flag is set
func (c ControlMode) Has(flag ControlMode) bool {
	return c&flag == flag
}

// String returns the regulation state of both channels
func (c ControlMode) String() string {
	master := "CV"
	if c.Has(ControlMasterCurrent) {
		master = "CC"
	}
	slave := "CV"
	if c.Has(ControlSlaveCurrent) {
		slave = "CC"
	}
	s := fmt.Sprintf("master=%s slave=%s", master, slave)
	if c.Has(ControlOvertempAmp) {
		s += " OVERTEMP_AMP"
	}
	if c.Has(ControlOvertempTrafo) {
		s += " OVERTEMP_TRAFO"
	}
	return s
}

// Version is a firmware version byte as reported by the supply
type Version uint8

// String formats the version byte
func (v Version) String() string {
	if v == 0 {
		return "unknown"
	}
	return fmt.Sprintf("%d", uint8(v))
}

// Limits holds the configured voltage (V) and current (A) limits of both
// channels
type Limits struct {
	MasterVoltage float64 `json:"mv_limit"`
	MasterCurrent float64 `json:"mi_limit"`
	SlaveVoltage  float64 `json:"sv_limit"`
	SlaveCurrent  float64 `json:"si_limit"`
}

// State is a snapshot of the device as last reported.
// Voltages are in volts, currents in amperes, temperatures in °C.
type State struct {
	Mode        Mode        `json:"mode"`
	ControlMode ControlMode `json:"control_mode"`

	MasterVoltage float64 `json:"mv"`
	MasterCurrent float64 `json:"mi"`
	SlaveVoltage  float64 `json:"sv"`
	SlaveCurrent  float64 `json:"si"`

	Limits Limits `json:"limits"`

	TempAmplifier   uint8 `json:"temp_endstufe"`
	TempTransformer uint8 `json:"temp_trafo"`

	MasterVersion Version `json:"master_version"`
	SlaveVersion  Version `json:"slave_version"`

	// LastUpdate is the time of the last response applied to the state
	LastUpdate time.Time `json:"last_update"`
}

// MasterEnabled reports whether the master output is out of standby
func (s State) MasterEnabled() bool {
	return !s.Mode.Has(ModeMasterStandby)
}

// SlaveEnabled reports whether the slave output is out of standby
func (s State) SlaveEnabled() bool {
	return !s.Mode.Has(ModeSlaveStandby)
}
