// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps

import (
	"fmt"
	"strings"
	"time"
)

// FormatMessageType returns the human-readable name for a request or
// response tag
func FormatMessageType(tag byte) string {
	switch tag {
	// Requests
	case CmdInit:
		return "INIT"
	case CmdGetControlValues:
		return "GET_CONTROL_VALUES"
	case CmdSetControlValues:
		return "SET_CONTROL_VALUES"
	case CmdGetVersion:
		return "GET_VERSION"
	case CmdGetStatus:
		return "GET_STATUS"
	case CmdGetMode:
		return "GET_MODE"
	case CmdSetMode:
		return "SET_MODE"

	// Responses
	case RspInit:
		return "INIT_ACK"
	case RspAck:
		return "ACK"
	case RspControlValues:
		return "CONTROL_VALUES"
	case RspStatus:
		return "STATUS"
	case RspVersion:
		return "VERSION"
	case RspMode:
		return "MODE"

	default:
		return "UNKNOWN"
	}
}

// FormatHex formats bytes as uppercase hex separated by sep
func FormatHex(b []byte, sep string) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%02X", c)
	}
	return strings.Join(parts, sep)
}

// FormatPayload formats a decoded payload (request or response) into a
// human-readable string
func FormatPayload(t time.Time, payload []byte) string {
	if len(payload) == 0 {
		return fmt.Sprintf("[%s] (empty)\n", t.Format("15:04:05.000"))
	}

	tag := payload[0]
	result := fmt.Sprintf("[%s] %s (0x%02X) len=%d\n", t.Format("15:04:05.000"), FormatMessageType(tag), tag, len(payload))
	return result + formatFields(payload)
}

// formatFields formats the body of a payload based on its tag
func formatFields(p []byte) string {
	switch p[0] {
	case CmdInit, CmdGetControlValues, CmdGetVersion, CmdGetStatus, CmdGetMode, RspInit, RspAck:
		return "  (no payload)\n"

	case CmdSetMode, RspMode:
		if len(p) < 2 {
			break
		}
		return fmt.Sprintf("  Mode: %s (0x%02X)\n", Mode(p[1]), p[1])

	case CmdSetControlValues:
		if len(p) < 9 {
			break
		}
		return fmt.Sprintf("  Limits: %s\n", formatLimits(limitsFromRaw(p[1:9])))

	case RspControlValues, RspStatus, RspVersion:
		var s State
		if _, err := s.Apply(p); err != nil {
			break
		}
		switch p[0] {
		case RspControlValues:
			return fmt.Sprintf("  Mode: %s (0x%02X), Limits: %s\n", s.Mode, uint8(s.Mode), formatLimits(s.Limits))
		case RspStatus:
			return fmt.Sprintf("  Mode: %s (0x%02X), Control: %s\n  %s\n  Temp: amp %d°C, trafo %d°C\n",
				s.Mode, uint8(s.Mode), s.ControlMode, formatOutputs(s), s.TempAmplifier, s.TempTransformer)
		default:
			return fmt.Sprintf("  Master: %s, Slave: %s\n", s.MasterVersion, s.SlaveVersion)
		}
	}

	return fmt.Sprintf("  Raw: %s\n", FormatHex(p[1:], " "))
}

func formatLimits(l Limits) string {
	return fmt.Sprintf("master %.2f V / %.3f A, slave %.2f V / %.3f A",
		l.MasterVoltage, l.MasterCurrent, l.SlaveVoltage, l.SlaveCurrent)
}

func formatOutputs(s State) string {
	return fmt.Sprintf("Master: %.2f V %.3f A, Slave: %.2f V %.3f A",
		s.MasterVoltage, s.MasterCurrent, s.SlaveVoltage, s.SlaveCurrent)
}

// FormatState formats a full state snapshot on multiple lines
func FormatState(s State) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Mode:         %s (0x%02X)\n", s.Mode, uint8(s.Mode))
	fmt.Fprintf(&b, "Control:      %s (0x%02X)\n", s.ControlMode, uint8(s.ControlMode))
	fmt.Fprintf(&b, "Master:       %6.2f V  %6.3f A  [limit %6.2f V  %6.3f A]  %s\n",
		s.MasterVoltage, s.MasterCurrent, s.Limits.MasterVoltage, s.Limits.MasterCurrent, formatEnabled(s.MasterEnabled()))
	fmt.Fprintf(&b, "Slave:        %6.2f V  %6.3f A  [limit %6.2f V  %6.3f A]  %s\n",
		s.SlaveVoltage, s.SlaveCurrent, s.Limits.SlaveVoltage, s.Limits.SlaveCurrent, formatEnabled(s.SlaveEnabled()))
	fmt.Fprintf(&b, "Temperature:  amplifier %d°C, transformer %d°C\n", s.TempAmplifier, s.TempTransformer)
	fmt.Fprintf(&b, "Firmware:     master %s, slave %s\n", s.MasterVersion, s.SlaveVersion)
	if !s.LastUpdate.IsZero() {
		fmt.Fprintf(&b, "Updated:      %s\n", s.LastUpdate.Format("15:04:05.000"))
	}

	return b.String()
}

func formatEnabled(on bool) string {
	if on {
		return "ON"
	}
	return "standby"
}
