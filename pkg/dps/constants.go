// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package dps implements the host side of the serial link protocol spoken by
// ELV DPS5315 dual-channel bench power supplies.
//
// The package provides frame encoding/decoding with CRC validation, response
// parsing into a device state snapshot, request builders, and a Session that
// serializes request/response round trips over a shared port while a
// background Poller keeps the snapshot fresh.
package dps

// Protocol framing bytes
const (
	StartByte = 0x02
	EndByte   = 0x03
	AckByte   = 0x06
	EscByte   = 0x10
)

// Escape sequences substituted for framing bytes inside a frame
var (
	escapedStart = []byte{EscByte, 0x82}
	escapedEnd   = []byte{EscByte, 0x83}
)

// CRC-16 configuration (poly 0x18005 with the implicit top bit dropped)
const (
	crcPolynomial = 0x8005
	crcInitial    = 0x800D
	crcSize       = 2
)

// Request tags (host → supply)
const (
	CmdInit             = 'X'
	CmdGetControlValues = 'C'
	CmdSetControlValues = 'T'
	CmdGetVersion       = 'V'
	CmdGetStatus        = 'I'
	CmdGetMode          = 'M'
	CmdSetMode          = 'N'
)

// Response tags (supply → host)
const (
	RspInit          = 'x'
	RspControlValues = 'c'
	RspStatus        = 'i'
	RspVersion       = 'v'
	RspMode          = 'm'
	RspAck           = AckByte
)

// Response payload lengths, tag included
const (
	controlValuesLen = 10
	statusLen        = 13
	versionLen       = 3
	modeLen          = 2
)

// Mode is the device operating mode bitmask
type Mode uint8

// Mode bit values. ModeSeries is the absence of both output-mode bits.
const (
	ModeSeries        Mode = 0
	ModeDual          Mode = 1
	ModeMasterSlave   Mode = 3
	ModeSlaveStandby  Mode = 4
	ModeMasterStandby Mode = 8
	ModeRemote        Mode = 16
	ModeLock          Mode = 32
	ModeCalibration   Mode = 64 // meaning unconfirmed, kept opaque
	ModeError         Mode = 128

	// ModeOutputMask selects the output topology bits (series/dual/master-slave)
	ModeOutputMask Mode = 0x03
)

// ControlMode reports which quantity is regulating each channel
type ControlMode uint8

// Control mode bit values
const (
	ControlMasterVoltage ControlMode = 1
	ControlMasterCurrent ControlMode = 2
	ControlSlaveVoltage  ControlMode = 4
	ControlSlaveCurrent  ControlMode = 8
	ControlOvertempAmp   ControlMode = 16
	ControlOvertempTrafo ControlMode = 32
)

// Raw wire units per volt and per ampere
const (
	voltageRaw = 100
	currentRaw = 1000
	maxRaw     = 0xFFFF
)

// Decoder states (internal)
const (
	stateIdle = iota
	stateFrame
)
