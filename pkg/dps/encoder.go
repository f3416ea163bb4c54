// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps

import "bytes"

// EncodeFrame creates a complete wire frame for a request payload.
// The CRC is computed over the payload and appended big-endian, then the
// framing bytes are escaped and the result is wrapped in START/END.
func EncodeFrame(payload []byte) []byte {
	crc := CalculateCRC(payload)

	data := make([]byte, 0, len(payload)+crcSize)
	data = append(data, payload...)
	data = append(data, byte(crc>>8), byte(crc&0xFF))

	stuffed := EscapeBytes(data)

	frame := make([]byte, 0, len(stuffed)+2)
	frame = append(frame, StartByte)
	frame = append(frame, stuffed...)
	frame = append(frame, EndByte)

	return frame
}

// EscapeBytes replaces START and END with their two-byte escape sequences.
// The escape prefix itself is not escaped.
func EscapeBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)*2)

	for _, b := range data {
		switch b {
		case StartByte:
			result = append(result, escapedStart...)
		case EndByte:
			result = append(result, escapedEnd...)
		default:
			result = append(result, b)
		}
	}

	return result
}

// UnescapeBytes reverses EscapeBytes. The substitutions are applied as fixed
// sequence replacements, START first, matching the device firmware.
func UnescapeBytes(data []byte) []byte {
	result := bytes.ReplaceAll(data, escapedStart, []byte{StartByte})
	return bytes.ReplaceAll(result, escapedEnd, []byte{EndByte})
}
