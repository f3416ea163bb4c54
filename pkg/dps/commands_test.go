// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleCommands(t *testing.T) {
	assert.Equal(t, []byte{'X'}, NewInitCommand())
	assert.Equal(t, []byte{'C'}, NewGetControlValuesCommand())
	assert.Equal(t, []byte{'V'}, NewGetVersionCommand())
	assert.Equal(t, []byte{'I'}, NewGetStatusCommand())
	assert.Equal(t, []byte{'M'}, NewGetModeCommand())
}

func TestNewSetModeCommand(t *testing.T) {
	tests := []struct {
		mode Mode
		want []byte
	}{
		{mode: DefaultMode, want: []byte{'N', 0x1F}},
		{mode: ModeSeries, want: []byte{'N', 0x00}},
		{mode: ModeRemote | ModeDual, want: []byte{'N', 0x11}},
		{mode: ModeError | ModeRemote, want: []byte{'N', 0x90}},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, NewSetModeCommand(tt.mode))
		})
	}
}

func TestNewSetControlValuesCommand(t *testing.T) {
	tests := []struct {
		name    string
		limits  Limits
		want    []byte
		wantErr bool
	}{
		{
			name:   "typical limits",
			limits: Limits{MasterVoltage: 12.34, MasterCurrent: 0.5, SlaveVoltage: 8.0, SlaveCurrent: 0.25},
			want:   []byte{'T', 0x04, 0xD2, 0x01, 0xF4, 0x03, 0x20, 0x00, 0xFA},
		},
		{
			name:   "zero limits",
			limits: Limits{},
			want:   []byte{'T', 0, 0, 0, 0, 0, 0, 0, 0},
		},
		{
			name:   "remainder is truncated",
			limits: Limits{MasterVoltage: 1.239, MasterCurrent: 0.0019},
			want:   []byte{'T', 0x00, 0x7B, 0x00, 0x01, 0, 0, 0, 0},
		},
		{
			name:   "maximum raw values",
			limits: Limits{MasterVoltage: 655.35, MasterCurrent: 65.535, SlaveVoltage: 655.35, SlaveCurrent: 65.535},
			want:   []byte{'T', 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		},
		{
			name:    "negative voltage",
			limits:  Limits{MasterVoltage: -1},
			wantErr: true,
		},
		{
			name:    "current above range",
			limits:  Limits{SlaveCurrent: 70},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewSetControlValuesCommand(tt.limits)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrOutOfRange)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetControlValuesFrame(t *testing.T) {
	payload, err := NewSetControlValuesCommand(Limits{
		MasterVoltage: 12.34,
		MasterCurrent: 0.5,
		SlaveVoltage:  8.0,
		SlaveCurrent:  0.25,
	})
	require.NoError(t, err)

	want := []byte{0x02, 'T', 0x04, 0xD2, 0x01, 0xF4, 0x10, 0x83, 0x20, 0x00, 0xFA, 0xF7, 0x66, 0x03}
	assert.Equal(t, want, EncodeFrame(payload))
}

func TestSetControlValues_RawRoundTrip(t *testing.T) {
	var failed []int
	for raw := 0; raw <= 0xFFFF; raw++ {
		fields := make([]byte, 0, 8)
		for i := 0; i < 4; i++ {
			fields = binary.BigEndian.AppendUint16(fields, uint16(raw))
		}

		payload, err := NewSetControlValuesCommand(limitsFromRaw(fields))
		require.NoError(t, err, "raw %d", raw)
		if !bytes.Equal(fields, payload[1:]) && len(failed) < 10 {
			failed = append(failed, raw)
		}
	}
	assert.Empty(t, failed, "scaled limits must map back to the same raw values")
}
