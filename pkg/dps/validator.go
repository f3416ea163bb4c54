// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps

import "fmt"

// AnomalyType represents different kinds of state anomalies
type AnomalyType int

const (
	AnomalyDeviceError AnomalyType = iota
	AnomalyOvertemp
	AnomalyCurrentLimit
	AnomalyOverLimit
	AnomalyLocked
)

// Maximum plausible heat sink / transformer temperature in °C
const maxTemperature = 100

// ValidationError represents a state anomaly
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateState inspects a snapshot for conditions worth reporting.
// Returns a slice of anomalies (empty if none).
func ValidateState(s State) []ValidationError {
	errors := []ValidationError{}

	if s.Mode.Has(ModeError) {
		errors = append(errors, ValidationError{
			Type:    AnomalyDeviceError,
			Message: fmt.Sprintf("Device reports error (mode=0x%02X)", uint8(s.Mode)),
			Details: map[string]interface{}{"mode": uint8(s.Mode)},
		})
	}

	if s.Mode.Has(ModeLock) {
		errors = append(errors, ValidationError{
			Type:    AnomalyLocked,
			Message: "Front panel locked",
			Details: map[string]interface{}{"mode": uint8(s.Mode)},
		})
	}

	errors = append(errors, validateTemperatures(s)...)
	errors = append(errors, validateChannel("master", s.MasterVoltage, s.MasterCurrent,
		s.Limits.MasterVoltage, s.Limits.MasterCurrent, s.ControlMode.Has(ControlMasterCurrent))...)
	errors = append(errors, validateChannel("slave", s.SlaveVoltage, s.SlaveCurrent,
		s.Limits.SlaveVoltage, s.Limits.SlaveCurrent, s.ControlMode.Has(ControlSlaveCurrent))...)

	return errors
}

// validateTemperatures checks over-temperature flags and readings
func validateTemperatures(s State) []ValidationError {
	errors := []ValidationError{}

	if s.ControlMode.Has(ControlOvertempAmp) || s.TempAmplifier > maxTemperature {
		errors = append(errors, ValidationError{
			Type:    AnomalyOvertemp,
			Message: fmt.Sprintf("Amplifier over temperature (%d°C)", s.TempAmplifier),
			Details: map[string]interface{}{"temp": s.TempAmplifier, "max": maxTemperature},
		})
	}
	if s.ControlMode.Has(ControlOvertempTrafo) || s.TempTransformer > maxTemperature {
		errors = append(errors, ValidationError{
			Type:    AnomalyOvertemp,
			Message: fmt.Sprintf("Transformer over temperature (%d°C)", s.TempTransformer),
			Details: map[string]interface{}{"temp": s.TempTransformer, "max": maxTemperature},
		})
	}

	return errors
}

// validateChannel checks one output against its limits
func validateChannel(name string, v, i, vLimit, iLimit float64, cc bool) []ValidationError {
	errors := []ValidationError{}

	if cc {
		errors = append(errors, ValidationError{
			Type:    AnomalyCurrentLimit,
			Message: fmt.Sprintf("%s in current limiting (%.3f A)", name, i),
			Details: map[string]interface{}{"channel": name, "current": i, "limit": iLimit},
		})
	}

	// Readings are allowed one raw unit of slack over the limit
	if vLimit > 0 && v > vLimit+1.0/voltageRaw {
		errors = append(errors, ValidationError{
			Type:    AnomalyOverLimit,
			Message: fmt.Sprintf("%s voltage %.2f V exceeds limit %.2f V", name, v, vLimit),
			Details: map[string]interface{}{"channel": name, "voltage": v, "limit": vLimit},
		})
	}
	if iLimit > 0 && i > iLimit+1.0/currentRaw {
		errors = append(errors, ValidationError{
			Type:    AnomalyOverLimit,
			Message: fmt.Sprintf("%s current %.3f A exceeds limit %.3f A", name, i, iLimit),
			Details: map[string]interface{}{"channel": name, "current": i, "limit": iLimit},
		})
	}

	return errors
}
