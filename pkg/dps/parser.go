// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Kind identifies the type of a response payload
type Kind int

// Response kinds
const (
	KindUnknown Kind = iota
	KindInit
	KindAck
	KindControlValues
	KindStatus
	KindVersion
	KindMode
)

// String returns the response kind name
func (k Kind) String() string {
	switch k {
	case KindInit:
		return "INIT"
	case KindAck:
		return "ACK"
	case KindControlValues:
		return "CONTROL_VALUES"
	case KindStatus:
		return "STATUS"
	case KindVersion:
		return "VERSION"
	case KindMode:
		return "MODE"
	default:
		return "UNKNOWN"
	}
}

// Response is a validated, classified response payload
type Response struct {
	Kind    Kind
	Payload []byte
}

// KindOf classifies a payload by its first byte
func KindOf(payload []byte) Kind {
	if len(payload) == 0 {
		return KindUnknown
	}
	switch payload[0] {
	case RspInit:
		return KindInit
	case RspAck:
		return KindAck
	case RspControlValues:
		return KindControlValues
	case RspStatus:
		return KindStatus
	case RspVersion:
		return KindVersion
	case RspMode:
		return KindMode
	default:
		return KindUnknown
	}
}

// ParseResponse classifies a payload and checks it is long enough for its kind
func ParseResponse(payload []byte) (Response, error) {
	if len(payload) == 0 {
		return Response{}, ErrEmptyPayload
	}

	kind := KindOf(payload)
	if kind == KindUnknown {
		return Response{Kind: kind, Payload: payload}, fmt.Errorf("%w: 0x%02X", ErrUnknownTag, payload[0])
	}

	if want := minLength(kind); len(payload) < want {
		return Response{Kind: kind, Payload: payload}, fmt.Errorf("%w: %s has %d bytes, want %d",
			ErrShortPayload, kind, len(payload), want)
	}

	return Response{Kind: kind, Payload: payload}, nil
}

func minLength(k Kind) int {
	switch k {
	case KindControlValues:
		return controlValuesLen
	case KindStatus:
		return statusLen
	case KindVersion:
		return versionLen
	case KindMode:
		return modeLen
	default:
		return 1
	}
}

// Apply parses a payload and updates the fields it carries.
// Fields not present in the response are left untouched. On error the
// state is not modified.
func (s *State) Apply(payload []byte) (Kind, error) {
	rsp, err := ParseResponse(payload)
	if err != nil {
		return rsp.Kind, err
	}

	p := rsp.Payload
	switch rsp.Kind {
	case KindInit, KindAck:
		return rsp.Kind, nil

	case KindControlValues:
		s.Mode = Mode(p[1])
		s.Limits = limitsFromRaw(p[2:10])

	case KindStatus:
		s.Mode = Mode(p[1])
		s.ControlMode = ControlMode(p[2])
		s.MasterVoltage = scaleVoltage(p[3:5])
		s.MasterCurrent = scaleCurrent(p[5:7])
		s.SlaveVoltage = scaleVoltage(p[7:9])
		s.SlaveCurrent = scaleCurrent(p[9:11])
		s.TempAmplifier = p[11]
		s.TempTransformer = p[12]

	case KindVersion:
		s.MasterVersion = Version(p[1])
		s.SlaveVersion = Version(p[2])

	case KindMode:
		s.Mode = Mode(p[1])
	}

	s.LastUpdate = time.Now()
	return rsp.Kind, nil
}

func scaleVoltage(b []byte) float64 {
	return float64(binary.BigEndian.Uint16(b)) / voltageRaw
}

func scaleCurrent(b []byte) float64 {
	return float64(binary.BigEndian.Uint16(b)) / currentRaw
}

// limitsFromRaw decodes four big-endian limit fields (mv, mi, sv, si)
func limitsFromRaw(b []byte) Limits {
	return Limits{
		MasterVoltage: scaleVoltage(b[0:2]),
		MasterCurrent: scaleCurrent(b[2:4]),
		SlaveVoltage:  scaleVoltage(b[4:6]),
		SlaveCurrent:  scaleCurrent(b[6:8]),
	}
}
