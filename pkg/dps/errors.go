// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps

import (
	"errors"
	"fmt"
)

// Frame errors
var (
	// ErrCRCMismatch is reported for frames whose CRC does not match their
	// content. The frame is dropped and device state is left untouched.
	ErrCRCMismatch = errors.New("CRC mismatch")

	// ErrMalformed is reported for frames missing their delimiters or too
	// short to carry a tag and CRC.
	ErrMalformed = errors.New("malformed frame")

	// ErrTimeout is reported when no complete frame arrived within the
	// read timeout.
	ErrTimeout = errors.New("timed out waiting for response frame")
)

// Parse errors
var (
	ErrUnknownTag   = errors.New("unknown response tag")
	ErrShortPayload = errors.New("response payload too short")
	ErrEmptyPayload = errors.New("empty payload")
)

// Session errors
var (
	ErrNotConnected = errors.New("session not connected")
	ErrOutOfRange   = errors.New("value out of range")
)

// CRCError carries the checksum values of a rejected frame
type CRCError struct {
	Expected uint16
	Received uint16
}

// Error implements the error interface
func (e *CRCError) Error() string {
	return fmt.Sprintf("CRC mismatch: expected 0x%04X, got 0x%04X", e.Expected, e.Received)
}

// Is reports ErrCRCMismatch equivalence for errors.Is
func (e *CRCError) Is(target error) bool {
	return target == ErrCRCMismatch
}

// TransportError wraps failures of the underlying port
type TransportError struct {
	Op   string
	Port string
	Err  error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
}

// Unwrap returns the underlying error
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsDropped reports whether err means the response frame was discarded
// (CRC mismatch or timeout) rather than a failure of the session itself.
// Callers may reissue the request.
func IsDropped(err error) bool {
	return errors.Is(err, ErrCRCMismatch) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrMalformed)
}

// ErrUnexpectedResponse is returned when a valid response of the wrong kind
// answers a request. The state is still updated from it.
var ErrUnexpectedResponse = errors.New("unexpected response")
