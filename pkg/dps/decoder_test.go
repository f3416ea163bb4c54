// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		raw     []byte
		want    []byte
		wantErr error
	}{
		{
			name: "status request",
			raw:  []byte{0x02, 'I', 0x0F, 0xB6, 0x03},
			want: []byte{'I'},
		},
		{
			name: "escaped framing bytes",
			raw:  []byte{0x02, 0x10, 0x82, 0x10, 0x83, 0x10, 0x2E, 0x48, 0x03},
			want: []byte{StartByte, EndByte, EscByte},
		},
		{
			name: "ack without CRC",
			raw:  []byte{0x02, 0x06, 0x03},
			want: []byte{AckByte},
		},
		{
			name: "noise before START is dropped",
			raw:  []byte{0xAA, 0x55, 0x02, 'I', 0x0F, 0xB6, 0x03},
			want: []byte{'I'},
		},
		{
			name: "last START wins",
			raw:  []byte{0x02, 'Q', 0x02, 'X', 0x0F, 0xD0, 0x03},
			want: []byte{'X'},
		},
		{
			name:    "CRC mismatch",
			raw:     []byte{0x02, 'I', 0x0F, 0xB7, 0x03},
			wantErr: ErrCRCMismatch,
		},
		{
			name:    "missing START",
			raw:     []byte{'I', 0x0F, 0xB6, 0x03},
			wantErr: ErrMalformed,
		},
		{
			name:    "missing END",
			raw:     []byte{0x02, 'I', 0x0F, 0xB6},
			wantErr: ErrMalformed,
		},
		{
			name:    "empty frame",
			raw:     []byte{0x02, 0x03},
			wantErr: ErrMalformed,
		},
		{
			name:    "CRC only",
			raw:     []byte{0x02, 0x80, 0x0D, 0x03},
			wantErr: ErrMalformed,
		},
		{
			name:    "empty input",
			raw:     []byte{},
			wantErr: ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFrame(tt.raw)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeFrame_CRCErrorValues(t *testing.T) {
	_, err := DecodeFrame([]byte{0x02, 'I', 0x12, 0x34, 0x03})

	var crcErr *CRCError
	require.True(t, errors.As(err, &crcErr))
	assert.Equal(t, uint16(0x0FB6), crcErr.Expected)
	assert.Equal(t, uint16(0x1234), crcErr.Received)
	assert.True(t, IsDropped(err))
}

func TestDecodeFrame_RejectsSingleBitFlips(t *testing.T) {
	frames := map[string][]byte{
		"status": {0x02, 0x69, 0x01, 0x00, 0x10, 0x83, 0xE8, 0x01, 0xF4, 0x10, 0x83, 0x20, 0x00,
			0xFA, 0x1E, 0x23, 0x82, 0x9E, 0x03},
		"control values": {0x02, 0x63, 0x1F, 0x05, 0xDC, 0x10, 0x83, 0xE8, 0x05, 0xDC, 0x10, 0x83,
			0xE8, 0x22, 0x79, 0x03},
		"version":         {0x02, 0x76, 0x0C, 0x0B, 0x0A, 0x82, 0x03},
		"escaped payload": {0x02, 0x10, 0x82, 0x10, 0x83, 0x10, 0x42, 0x49, 0x68, 0x03},
	}

	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeFrame(frame)
			require.NoError(t, err, "unmodified frame must decode")

			for i := 1; i < len(frame)-1; i++ {
				for bit := 0; bit < 8; bit++ {
					corrupted := append([]byte(nil), frame...)
					corrupted[i] ^= 1 << bit

					_, err := DecodeFrame(corrupted)
					assert.True(t, IsDropped(err), "flip byte %d bit %d: got %v", i, bit, err)
				}
			}
		})
	}
}

// feed runs data through the decoder and collects payloads and errors
func feed(d *Decoder, data []byte) (payloads [][]byte, errs []error) {
	for _, b := range data {
		payload, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
		}
		if payload != nil {
			payloads = append(payloads, payload)
		}
	}
	return payloads, errs
}

func TestDecoder_Stream(t *testing.T) {
	status := EncodeFrame([]byte{'i', 0x01, 0x00, 0x03, 0xE8, 0x01, 0xF4, 0x03, 0x20, 0x00, 0xFA, 0x1E, 0x23})
	version := EncodeFrame([]byte{'v', 12, 11})

	tests := []struct {
		name      string
		stream    []byte
		want      [][]byte
		wantErrs  int
		wantFrame bool
	}{
		{
			name:   "two frames back to back",
			stream: append(append([]byte{}, status...), version...),
			want: [][]byte{
				{'i', 0x01, 0x00, 0x03, 0xE8, 0x01, 0xF4, 0x03, 0x20, 0x00, 0xFA, 0x1E, 0x23},
				{'v', 12, 11},
			},
		},
		{
			name:   "noise between frames",
			stream: append(append([]byte{0xFF, 0x03, 0x10}, version...), 0x55, 0x03),
			want:   [][]byte{{'v', 12, 11}},
		},
		{
			name:   "resync on START inside frame",
			stream: append([]byte{0x02, 'v', 0x01}, version...),
			want:   [][]byte{{'v', 12, 11}},
		},
		{
			name:   "ack",
			stream: []byte{0x02, 0x06, 0x03},
			want:   [][]byte{{AckByte}},
		},
		{
			name:     "empty frame reports an error and recovers",
			stream:   append([]byte{0x02, 0x03}, version...),
			want:     [][]byte{{'v', 12, 11}},
			wantErrs: 1,
		},
		{
			name:      "incomplete frame",
			stream:    version[:len(version)-1],
			wantFrame: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder()
			got, errs := feed(d, tt.stream)
			assert.Equal(t, tt.want, got)
			assert.Len(t, errs, tt.wantErrs)
			assert.Equal(t, tt.wantFrame, d.InFrame())
		})
	}
}

func TestDecoder_Reset(t *testing.T) {
	d := NewDecoder()
	_, _ = feed(d, []byte{0x02, 'v', 12})
	require.True(t, d.InFrame())
	require.Len(t, d.RawBytes(), 3)

	d.Reset()
	assert.False(t, d.InFrame())
	assert.Empty(t, d.RawBytes())

	got, errs := feed(d, EncodeFrame([]byte{'m', 0x13}))
	assert.Empty(t, errs)
	assert.Equal(t, [][]byte{{'m', 0x13}}, got)
}
