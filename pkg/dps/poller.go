// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps

import (
	"context"
	"sync"
	"time"
)

// Poller periodically requests status through a Session, keeping its
// snapshot fresh. Requests share the session's port lock with foreground
// calls.
type Poller struct {
	session  *Session
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewPoller creates a stopped poller
func NewPoller(s *Session, interval time.Duration) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		session:  s,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start launches the polling goroutine. Subsequent calls do nothing.
func (p *Poller) Start() {
	p.startOnce.Do(func() {
		go p.run()
	})
}

func (p *Poller) run() {
	defer close(p.done)

	for {
		if _, err := p.session.GetStatus(p.ctx); err != nil && p.ctx.Err() == nil {
			p.session.log.WithError(err).Debug("Status poll failed")
		}

		select {
		case <-p.ctx.Done():
			return
		case <-time.After(p.interval):
		}
	}
}

// Stop signals the loop to exit and waits up to timeout for it to finish.
// A round trip already in flight is not interrupted. Returns false if the
// loop was still running when the timeout elapsed.
func (p *Poller) Stop(timeout time.Duration) bool {
	p.stopOnce.Do(p.cancel)
	// Never started: there is no loop to wait for
	started := true
	p.startOnce.Do(func() {
		started = false
		close(p.done)
	})
	if !started {
		return true
	}

	select {
	case <-p.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Done is closed when the polling loop has exited
func (p *Poller) Done() <-chan struct{} {
	return p.done
}
