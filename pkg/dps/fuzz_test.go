// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomPayload returns a non-ACK payload of 1-40 bytes
func randomPayload(rng *rand.Rand) []byte {
	p := make([]byte, rng.Intn(40)+1)
	rng.Read(p)
	if p[0] == AckByte {
		p[0] = RspStatus
	}
	return p
}

// ambiguous reports whether the framed bytes contain a literal escape
// sequence, which the receiver cannot tell apart from an escaped framing byte
func ambiguous(payload []byte) bool {
	crc := CalculateCRC(payload)
	data := append(append([]byte(nil), payload...), byte(crc>>8), byte(crc))
	return bytes.Contains(data, escapedStart) || bytes.Contains(data, escapedEnd)
}

func TestFuzzDecoder_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		d := NewDecoder()
		data := make([]byte, rng.Intn(512)+1)
		rng.Read(data)

		// Must not panic
		for _, b := range data {
			_, _ = d.DecodeByte(b)
		}
		_, _ = DecodeFrame(data)
	}
}

func TestFuzzRoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	skipped := 0
	for i := 0; i < rounds; i++ {
		payload := randomPayload(rng)
		if ambiguous(payload) {
			skipped++
			continue
		}

		got, err := DecodeFrame(EncodeFrame(payload))
		require.NoError(t, err, "round %d payload % X", i, payload)
		require.Equal(t, payload, got, "round %d", i)
	}
	t.Logf("Skipped %d ambiguous payloads", skipped)
}

func TestFuzzDecoder_StreamWithNoise(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		var stream []byte
		var want [][]byte

		for n := rng.Intn(5) + 1; n > 0; n-- {
			// Noise without START cannot open a frame
			noise := make([]byte, rng.Intn(8))
			for j := range noise {
				noise[j] = byte(rng.Intn(256))
				if noise[j] == StartByte {
					noise[j] = EndByte
				}
			}
			stream = append(stream, noise...)

			payload := randomPayload(rng)
			if ambiguous(payload) {
				continue
			}
			want = append(want, payload)
			stream = append(stream, EncodeFrame(payload)...)
		}

		d := NewDecoder()
		got, errs := feed(d, stream)
		assert.Empty(t, errs, "round %d", i)
		assert.Equal(t, want, got, "round %d", i)
	}
}

func TestFuzzCorruptedFrames(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		payload := randomPayload(rng)
		frame := EncodeFrame(payload)

		// Corrupt one byte inside the delimiters
		pos := rng.Intn(len(frame)-2) + 1
		frame[pos] ^= byte(rng.Intn(255) + 1)

		got, err := DecodeFrame(frame)
		if err != nil {
			assert.True(t, IsDropped(err), "round %d: unexpected error %v", i, err)
			continue
		}
		// A corruption may land on a frame that still validates, either by
		// CRC collision or by turning into an ACK; it must never panic
		assert.NotNil(t, got)
	}
}
