// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Command builder functions create request payloads ready for EncodeFrame.

// NewInitCommand creates an INIT request ('X').
// The supply answers with 'x' and enters remote operation.
func NewInitCommand() []byte {
	return []byte{CmdInit}
}

// NewGetControlValuesCommand creates a request for the mode and configured
// limits ('C'). The supply answers with 'c'.
func NewGetControlValuesCommand() []byte {
	return []byte{CmdGetControlValues}
}

// rawEpsilon is far below one raw unit and far above float64 error at 0xFFFF
const rawEpsilon = 1e-6

// NewSetControlValuesCommand creates a request setting the voltage and
// current limits of both channels ('T').
// Voltages are converted to 10 mV units and currents to 1 mA units,
// truncating any remainder.
func NewSetControlValuesCommand(l Limits) ([]byte, error) {
	fields := []struct {
		name  string
		value float64
		scale float64
	}{
		{"mv_limit", l.MasterVoltage, voltageRaw},
		{"mi_limit", l.MasterCurrent, currentRaw},
		{"sv_limit", l.SlaveVoltage, voltageRaw},
		{"si_limit", l.SlaveCurrent, currentRaw},
	}

	payload := make([]byte, 1, 1+len(fields)*2)
	payload[0] = CmdSetControlValues
	for _, f := range fields {
		// The epsilon absorbs float error so scaled raw values map back
		// exactly, e.g. 0.29 V * 100 = 28.999...
		raw := int64(math.Floor(f.value*f.scale + rawEpsilon))
		if raw < 0 || raw > maxRaw {
			return nil, fmt.Errorf("%w: %s=%g", ErrOutOfRange, f.name, f.value)
		}
		payload = binary.BigEndian.AppendUint16(payload, uint16(raw))
	}
	return payload, nil
}

// NewGetVersionCommand creates a firmware version request ('V')
func NewGetVersionCommand() []byte {
	return []byte{CmdGetVersion}
}

// NewGetStatusCommand creates a status request ('I').
// The supply answers with 'i' carrying mode, regulation state, output
// readings and temperatures.
func NewGetStatusCommand() []byte {
	return []byte{CmdGetStatus}
}

// NewGetModeCommand creates a mode request ('M')
func NewGetModeCommand() []byte {
	return []byte{CmdGetMode}
}

// NewSetModeCommand creates a mode change request ('N')
func NewSetModeCommand(m Mode) []byte {
	return []byte{CmdSetMode, byte(m)}
}
