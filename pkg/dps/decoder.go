// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps

import (
	"bytes"
	"fmt"
)

// DecodeFrame validates a raw wire frame and returns its payload.
//
// Bytes preceding the last START are treated as line noise. Acknowledgment
// frames carry no CRC and are returned unchecked; every other frame must end
// with a valid CRC, which is stripped from the returned payload.
func DecodeFrame(raw []byte) ([]byte, error) {
	start := bytes.LastIndexByte(raw, StartByte)
	if start < 0 {
		return nil, fmt.Errorf("%w: missing START byte", ErrMalformed)
	}
	if raw[len(raw)-1] != EndByte {
		return nil, fmt.Errorf("%w: missing END byte", ErrMalformed)
	}
	if start == len(raw)-1 {
		return nil, fmt.Errorf("%w: START after END", ErrMalformed)
	}

	msg := UnescapeBytes(raw[start+1 : len(raw)-1])
	if len(msg) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformed)
	}

	// TODO: confirm against hardware whether ACK frames may carry a trailing CRC
	if msg[0] == AckByte {
		return msg, nil
	}

	if len(msg) <= crcSize {
		return nil, fmt.Errorf("%w: %d bytes is too short for tag and CRC", ErrMalformed, len(msg))
	}

	body := msg[:len(msg)-crcSize]
	received := uint16(msg[len(msg)-2])<<8 | uint16(msg[len(msg)-1])
	calculated := CalculateCRC(body)
	if received != calculated {
		return nil, &CRCError{Expected: calculated, Received: received}
	}

	return body, nil
}

// Decoder reassembles frames from a byte stream that may deliver partial
// frames across reads
type Decoder struct {
	state     int
	rawBuffer []byte // Accumulated raw bytes including framing
}

// NewDecoder creates a new frame decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		rawBuffer: make([]byte, 0, 64),
	}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.rawBuffer = d.rawBuffer[:0]
}

// RawBytes returns the raw bytes of the frame in progress
func (d *Decoder) RawBytes() []byte {
	return d.rawBuffer
}

// InFrame reports whether a START byte has been seen and the frame is not yet
// complete
func (d *Decoder) InFrame() bool {
	return d.state == stateFrame
}

// DecodeByte processes a single byte.
// Returns the validated payload once END completes a frame, or nil while the
// frame is incomplete. Decode errors are returned for completed frames that
// fail validation; the decoder is ready for the next frame either way.
func (d *Decoder) DecodeByte(b byte) ([]byte, error) {
	switch d.state {
	case stateIdle:
		// Waiting for START byte
		if b == StartByte {
			d.rawBuffer = append(d.rawBuffer[:0], b)
			d.state = stateFrame
		}
		return nil, nil

	case stateFrame:
		if b == StartByte {
			// Resynchronize on a new frame
			d.rawBuffer = append(d.rawBuffer[:0], b)
			return nil, nil
		}
		d.rawBuffer = append(d.rawBuffer, b)
		if b != EndByte {
			return nil, nil
		}
		payload, err := DecodeFrame(d.rawBuffer)
		d.Reset()
		return payload, err

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid decoder state: %d", d.state)
	}
}
