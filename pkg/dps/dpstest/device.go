// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package dpstest provides a simulated power supply speaking the link
// protocol over an in-memory port, for tests of code built on package dps.
package dpstest

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/Thermoquad/dpsctl/pkg/dps"
)

// ErrClosed is returned by I/O on a closed simulated port
var ErrClosed = errors.New("dpstest: port closed")

// Handler may replace the simulated response to a request. Returning nil
// falls back to the built-in behavior; returning an empty non-nil slice
// sends nothing.
type Handler func(request []byte) []byte

// Device is a simulated supply implementing dps.Port.
// Raw register values use wire units (10 mV, 1 mA).
type Device struct {
	mu sync.Mutex

	Mode        dps.Mode
	ControlMode dps.ControlMode

	MasterVoltage, MasterCurrent uint16
	SlaveVoltage, SlaveCurrent   uint16

	MasterVoltageLimit, MasterCurrentLimit uint16
	SlaveVoltageLimit, SlaveCurrentLimit   uint16

	TempAmplifier, TempTransformer uint8

	MasterVersion, SlaveVersion uint8

	// OpenErr makes Open fail when set
	OpenErr error

	// ChunkSize limits the bytes returned per Read; 0 returns all pending
	ChunkSize int

	handler     Handler
	decoder     *dps.Decoder
	pending     []byte
	notify      chan struct{}
	closed      bool
	readTimeout time.Duration

	requests [][]byte
	opens    []int
	corrupt  int
	drop     int
}

// NewDevice creates a simulated supply with plausible power-on values
func NewDevice() *Device {
	return &Device{
		Mode:               dps.ModeSeries,
		MasterVoltageLimit: 1500,
		MasterCurrentLimit: 1000,
		SlaveVoltageLimit:  1500,
		SlaveCurrentLimit:  1000,
		TempAmplifier:      25,
		TempTransformer:    27,
		MasterVersion:      12,
		SlaveVersion:       11,
		decoder:            dps.NewDecoder(),
		notify:             make(chan struct{}, 1),
		readTimeout:        100 * time.Millisecond,
		closed:             true,
	}
}

// Open implements dps.OpenFunc, reopening the simulated port
func (d *Device) Open(name string, baud int) (dps.Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.opens = append(d.opens, baud)
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	d.closed = false
	d.pending = nil
	d.decoder.Reset()
	return d, nil
}

// Opens returns the baud rates of every Open call
func (d *Device) Opens() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.opens...)
}

// IsOpen reports whether the port is open
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed
}

// SetHandler installs a response override
func (d *Device) SetHandler(h Handler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

// CorruptNext makes the next n responses carry a wrong CRC
func (d *Device) CorruptNext(n int) {
	d.mu.Lock()
	d.corrupt = n
	d.mu.Unlock()
}

// DropNext makes the device ignore the next n requests
func (d *Device) DropNext(n int) {
	d.mu.Lock()
	d.drop = n
	d.mu.Unlock()
}

// Requests returns copies of all decoded request payloads
func (d *Device) Requests() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([][]byte, len(d.requests))
	for i, r := range d.requests {
		out[i] = append([]byte(nil), r...)
	}
	return out
}

// Count returns the number of requests received with the given tag
func (d *Device) Count(tag byte) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, r := range d.requests {
		if len(r) > 0 && r[0] == tag {
			n++
		}
	}
	return n
}

// Read returns pending response bytes, waiting up to the read timeout.
// It returns 0, nil on timeout like a serial port does.
func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	timeout := d.readTimeout
	d.mu.Unlock()

	deadline := time.After(timeout)
	for {
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return 0, ErrClosed
		}
		if len(d.pending) > 0 {
			n := len(d.pending)
			if d.ChunkSize > 0 && n > d.ChunkSize {
				n = d.ChunkSize
			}
			n = copy(p, d.pending[:n])
			d.pending = d.pending[n:]
			d.mu.Unlock()
			return n, nil
		}
		d.mu.Unlock()

		select {
		case <-d.notify:
		case <-deadline:
			return 0, nil
		}
	}
}

// Write feeds request bytes to the simulated firmware
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, ErrClosed
	}

	for _, b := range p {
		payload, err := d.decoder.DecodeByte(b)
		if err != nil || payload == nil {
			// The firmware silently drops bad requests
			continue
		}
		d.requests = append(d.requests, append([]byte(nil), payload...))
		d.respond(payload)
	}
	return len(p), nil
}

// Close closes the simulated port
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	d.pending = nil
	d.wake()
	return nil
}

// SetReadTimeout sets the maximum time Read waits for data
func (d *Device) SetReadTimeout(t time.Duration) error {
	d.mu.Lock()
	d.readTimeout = t
	d.mu.Unlock()
	return nil
}

// ResetInputBuffer discards unread response bytes
func (d *Device) ResetInputBuffer() error {
	d.mu.Lock()
	d.pending = nil
	d.mu.Unlock()
	return nil
}

// Inject queues raw bytes for the host to read
func (d *Device) Inject(raw []byte) {
	d.mu.Lock()
	d.pending = append(d.pending, raw...)
	d.wake()
	d.mu.Unlock()
}

// respond queues the response to a request. Caller must hold d.mu.
func (d *Device) respond(req []byte) {
	if d.drop > 0 {
		d.drop--
		return
	}

	if d.handler != nil {
		if raw := d.handler(req); raw != nil {
			d.pending = append(d.pending, raw...)
			d.wake()
			return
		}
	}

	rsp := d.execute(req)
	if rsp == nil {
		return
	}

	var frame []byte
	switch {
	case rsp[0] == dps.AckByte:
		frame = AckFrame()
	case d.corrupt > 0:
		d.corrupt--
		frame = CorruptFrame(rsp)
	default:
		frame = dps.EncodeFrame(rsp)
	}
	d.pending = append(d.pending, frame...)
	d.wake()
}

// execute applies a request to the model and builds the response payload.
// Caller must hold d.mu.
func (d *Device) execute(req []byte) []byte {
	switch req[0] {
	case dps.CmdInit:
		d.Mode |= dps.ModeRemote
		return []byte{dps.RspInit}

	case dps.CmdGetControlValues:
		rsp := []byte{dps.RspControlValues, byte(d.Mode)}
		rsp = binary.BigEndian.AppendUint16(rsp, d.MasterVoltageLimit)
		rsp = binary.BigEndian.AppendUint16(rsp, d.MasterCurrentLimit)
		rsp = binary.BigEndian.AppendUint16(rsp, d.SlaveVoltageLimit)
		return binary.BigEndian.AppendUint16(rsp, d.SlaveCurrentLimit)

	case dps.CmdSetControlValues:
		if len(req) != 9 {
			return nil
		}
		d.MasterVoltageLimit = binary.BigEndian.Uint16(req[1:3])
		d.MasterCurrentLimit = binary.BigEndian.Uint16(req[3:5])
		d.SlaveVoltageLimit = binary.BigEndian.Uint16(req[5:7])
		d.SlaveCurrentLimit = binary.BigEndian.Uint16(req[7:9])
		return []byte{dps.AckByte}

	case dps.CmdGetVersion:
		return []byte{dps.RspVersion, d.MasterVersion, d.SlaveVersion}

	case dps.CmdGetStatus:
		return StatusPayload(d.Mode, d.ControlMode,
			d.MasterVoltage, d.MasterCurrent, d.SlaveVoltage, d.SlaveCurrent,
			d.TempAmplifier, d.TempTransformer)

	case dps.CmdGetMode:
		return []byte{dps.RspMode, byte(d.Mode)}

	case dps.CmdSetMode:
		if len(req) != 2 {
			return nil
		}
		d.Mode = dps.Mode(req[1])
		return []byte{dps.AckByte}

	default:
		return nil
	}
}

// wake signals a blocked Read. Caller must hold d.mu.
func (d *Device) wake() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// StatusPayload builds an 'i' response payload from raw values
func StatusPayload(mode dps.Mode, control dps.ControlMode, mv, mi, sv, si uint16, tempAmp, tempTrafo uint8) []byte {
	p := []byte{dps.RspStatus, byte(mode), byte(control)}
	p = binary.BigEndian.AppendUint16(p, mv)
	p = binary.BigEndian.AppendUint16(p, mi)
	p = binary.BigEndian.AppendUint16(p, sv)
	p = binary.BigEndian.AppendUint16(p, si)
	return append(p, tempAmp, tempTrafo)
}

// AckFrame returns an acknowledgment frame, which carries no CRC
func AckFrame() []byte {
	return []byte{dps.StartByte, dps.AckByte, dps.EndByte}
}

// CorruptFrame frames payload with a CRC that does not match it
func CorruptFrame(payload []byte) []byte {
	crc := dps.CalculateCRC(payload) ^ 0x0100
	data := append(append([]byte(nil), payload...), byte(crc>>8), byte(crc))

	frame := []byte{dps.StartByte}
	frame = append(frame, dps.EscapeBytes(data)...)
	return append(frame, dps.EndByte)
}
