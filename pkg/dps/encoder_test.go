// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    []byte
	}{
		{
			name:    "status request",
			payload: NewGetStatusCommand(),
			want:    []byte{0x02, 'I', 0x0F, 0xB6, 0x03},
		},
		{
			name:    "init request",
			payload: NewInitCommand(),
			want:    []byte{0x02, 'X', 0x0F, 0xD0, 0x03},
		},
		{
			name:    "set mode request",
			payload: NewSetModeCommand(DefaultMode),
			want:    []byte{0x02, 'N', 0x1F, 0xA4, 0x60, 0x03},
		},
		{
			name:    "framing bytes are escaped, escape prefix is not",
			payload: []byte{StartByte, EndByte, EscByte},
			want:    []byte{0x02, 0x10, 0x82, 0x10, 0x83, 0x10, 0x2E, 0x48, 0x03},
		},
		{
			name:    "status response with END byte in fields",
			payload: []byte{'i', 0x01, 0x00, 0x03, 0xE8, 0x01, 0xF4, 0x03, 0x20, 0x00, 0xFA, 0x1E, 0x23},
			want: []byte{0x02, 'i', 0x01, 0x00, 0x10, 0x83, 0xE8, 0x01, 0xF4, 0x10, 0x83, 0x20, 0x00,
				0xFA, 0x1E, 0x23, 0x82, 0x9E, 0x03},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodeFrame(tt.payload))
		})
	}
}

func TestEncodeFrame_NoFramingBytesInside(t *testing.T) {
	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}

	frame := EncodeFrame(payload)
	require.Equal(t, byte(StartByte), frame[0])
	require.Equal(t, byte(EndByte), frame[len(frame)-1])

	for i, b := range frame[1 : len(frame)-1] {
		assert.NotEqual(t, byte(StartByte), b, "START at offset %d", i+1)
		assert.NotEqual(t, byte(EndByte), b, "END at offset %d", i+1)
	}
}

func TestUnescapeBytes(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{name: "no escapes", in: []byte{0x41, 0x42}, want: []byte{0x41, 0x42}},
		{name: "escaped start", in: []byte{0x10, 0x82}, want: []byte{StartByte}},
		{name: "escaped end", in: []byte{0x10, 0x83}, want: []byte{EndByte}},
		{name: "lone escape prefix is kept", in: []byte{0x10, 0x41}, want: []byte{0x10, 0x41}},
		{name: "escape prefix before escape sequence", in: []byte{0x10, 0x10, 0x82}, want: []byte{0x10, StartByte}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UnescapeBytes(tt.in))
		})
	}
}
