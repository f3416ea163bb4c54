// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Statistics tracks link round trips and error rates.
// It is safe for concurrent use.
type Statistics struct {
	mu sync.Mutex
	s  StatisticsSnapshot
}

// StatisticsSnapshot is a point-in-time copy of the link counters
type StatisticsSnapshot struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	Requests        uint64
	ValidFrames     uint64
	Acks            uint64
	CRCErrors       uint64
	MalformedFrames uint64
	Timeouts        uint64
	UnknownTags     uint64
	ShortPayloads   uint64
	TransportErrors uint64

	// Round trip time of the last valid exchange
	LastRoundTrip time.Duration

	// Rates (calculated)
	RequestRate float64 // requests/sec
	ErrorRate   float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{s: StatisticsSnapshot{
		StartTime:      now,
		LastUpdateTime: now,
	}}
}

// Update records the outcome of one round trip
func (st *Statistics) Update(kind Kind, err error, rtt time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.s.Requests++
	st.s.LastUpdateTime = time.Now()

	switch {
	case err == nil:
		st.s.ValidFrames++
		st.s.LastRoundTrip = rtt
		if kind == KindAck {
			st.s.Acks++
		}
	case errors.Is(err, ErrCRCMismatch):
		st.s.CRCErrors++
	case errors.Is(err, ErrTimeout):
		st.s.Timeouts++
	case errors.Is(err, ErrMalformed):
		st.s.MalformedFrames++
	case errors.Is(err, ErrUnknownTag):
		// The frame itself was valid
		st.s.ValidFrames++
		st.s.UnknownTags++
	case errors.Is(err, ErrShortPayload), errors.Is(err, ErrEmptyPayload):
		st.s.ShortPayloads++
	default:
		st.s.TransportErrors++
	}
}

// Snapshot returns a copy of the counters with rates calculated
func (st *Statistics) Snapshot() StatisticsSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.s
	s.calculateRates()
	return s
}

// Errors returns the total number of failed round trips
func (s StatisticsSnapshot) Errors() uint64 {
	return s.CRCErrors + s.MalformedFrames + s.Timeouts + s.ShortPayloads + s.TransportErrors
}

func (s *StatisticsSnapshot) calculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.RequestRate = float64(s.Requests) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s StatisticsSnapshot) String() string {
	var validPercent, crcErrorPercent, timeoutPercent float64
	if s.Requests > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.Requests)
		crcErrorPercent = float64(s.CRCErrors) * 100.0 / float64(s.Requests)
		timeoutPercent = float64(s.Timeouts) * 100.0 / float64(s.Requests)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Link Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Requests:        %8d\n", s.Requests)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)

	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d (%.1f%%)\n", s.CRCErrors, crcErrorPercent)
	}
	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d (%.1f%%)\n", s.Timeouts, timeoutPercent)
	}
	if s.MalformedFrames > 0 {
		result += fmt.Sprintf("Malformed:       %8d\n", s.MalformedFrames)
	}
	if s.UnknownTags > 0 {
		result += fmt.Sprintf("Unknown Tags:    %8d\n", s.UnknownTags)
	}
	if s.ShortPayloads > 0 {
		result += fmt.Sprintf("Short Payloads:  %8d\n", s.ShortPayloads)
	}
	if s.TransportErrors > 0 {
		result += fmt.Sprintf("Transport Errors:%8d\n", s.TransportErrors)
	}

	result += fmt.Sprintf("Request Rate:    %8.1f req/sec\n", s.RequestRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += fmt.Sprintf("Last Round Trip: %8s\n", s.LastRoundTrip.Round(time.Microsecond))
	result += "====================================\n"

	return result
}

// Reset resets all statistics counters
func (st *Statistics) Reset() {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	st.s = StatisticsSnapshot{
		StartTime:      now,
		LastUpdateTime: now,
	}
}
