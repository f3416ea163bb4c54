// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Port is an open byte link to the supply.
// Read must return after at most the configured read timeout, with n == 0
// when nothing arrived. go.bug.st/serial ports satisfy this interface.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// OpenFunc opens a port at the given baud rate
type OpenFunc func(name string, baud int) (Port, error)

// inputResetter is implemented by ports able to discard unread input
type inputResetter interface {
	ResetInputBuffer() error
}

// Phase is the connection lifecycle state of a Session
type Phase int

// Session phases
const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseReady
)

// String returns the phase name
func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseReady:
		return "ready"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// DefaultMode is the mode set by the connect sequence: remote control,
// master/slave topology, both outputs in standby
const DefaultMode = ModeRemote | ModeMasterSlave | ModeMasterStandby | ModeSlaveStandby

// Config holds session parameters
type Config struct {
	// Serial device path (e.g., "/dev/ttyUSB0")
	PortName string

	// The port is opened and closed once at InitBaud before being opened at
	// Baud. This resets CH340 adapters that otherwise come up unusable.
	// 0 skips the reset open.
	InitBaud int
	Baud     int

	// Maximum time to wait for a complete response frame
	ReadTimeout time.Duration

	// Status polling interval; 0 disables the poller
	PollInterval time.Duration

	// Time Disconnect waits for the poller to finish its iteration
	StopTimeout time.Duration

	Logger log.FieldLogger
}

// DefaultConfig returns the configuration used by the reference driver
func DefaultConfig(portName string) Config {
	return Config{
		PortName:     portName,
		InitBaud:     9600,
		Baud:         115200,
		ReadTimeout:  time.Second,
		PollInterval: 200 * time.Millisecond,
		StopTimeout:  250 * time.Millisecond,
	}
}

// Session owns the link to one supply and its state snapshot.
// All request/response round trips are serialized: the protocol has no
// request IDs, so a response belongs to the request written just before it.
type Session struct {
	cfg  Config
	open OpenFunc
	log  log.FieldLogger

	// lifecycle serializes Connect and Disconnect
	lifecycle sync.Mutex

	// mu guards the port for the duration of a round trip
	mu      sync.Mutex
	port    Port
	decoder *Decoder
	buf     []byte

	// modeMu makes read-modify-write mode changes atomic
	modeMu sync.Mutex

	stateMu     sync.RWMutex
	state       State
	phase       Phase
	subscribers []func(State)

	stats  *Statistics
	poller *Poller
}

// NewSession creates a disconnected session
func NewSession(open OpenFunc, cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Session{
		cfg:     cfg,
		open:    open,
		log:     logger.WithField("port", cfg.PortName),
		decoder: NewDecoder(),
		buf:     make([]byte, 64),
		stats:   NewStatistics(),
	}
}

// Connect opens the port, runs the init sequence and starts the poller
func (s *Session) Connect(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if p := s.Phase(); p != PhaseDisconnected {
		return fmt.Errorf("connect: session is %s", p)
	}
	s.setPhase(PhaseConnecting)

	port, err := s.openPort()
	if err != nil {
		s.setPhase(PhaseDisconnected)
		return err
	}

	s.mu.Lock()
	s.port = port
	s.decoder.Reset()
	s.mu.Unlock()

	if err := s.initialize(ctx); err != nil {
		s.closePort()
		s.setPhase(PhaseDisconnected)
		return fmt.Errorf("initialize: %w", err)
	}

	s.setPhase(PhaseReady)
	s.log.Infof("Connected at %d baud", s.cfg.Baud)

	if s.cfg.PollInterval > 0 {
		s.poller = NewPoller(s, s.cfg.PollInterval)
		s.poller.Start()
	}
	return nil
}

// openPort performs the open-close-reopen sequence
func (s *Session) openPort() (Port, error) {
	if s.cfg.InitBaud > 0 {
		first, err := s.open(s.cfg.PortName, s.cfg.InitBaud)
		if err != nil {
			return nil, &TransportError{Op: "open", Port: s.cfg.PortName, Err: err}
		}
		if err := first.Close(); err != nil {
			s.log.WithError(err).Debug("Closing port after reset open failed")
		}
	}

	port, err := s.open(s.cfg.PortName, s.cfg.Baud)
	if err != nil {
		return nil, &TransportError{Op: "open", Port: s.cfg.PortName, Err: err}
	}
	if err := port.SetReadTimeout(s.cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, &TransportError{Op: "set read timeout", Port: s.cfg.PortName, Err: err}
	}
	return port, nil
}

func (s *Session) initialize(ctx context.Context) error {
	if err := s.Init(ctx); err != nil {
		return err
	}
	if _, err := s.GetControlValues(ctx); err != nil {
		return err
	}
	if _, _, err := s.GetVersion(ctx); err != nil {
		return err
	}
	return s.SetMode(ctx, DefaultMode)
}

// Disconnect stops the poller and closes the port. The state snapshot is
// discarded.
func (s *Session) Disconnect() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.Phase() == PhaseDisconnected {
		return nil
	}

	if s.poller != nil {
		if !s.poller.Stop(s.cfg.StopTimeout) {
			s.log.Warn("Poller did not stop in time, closing port after in-flight request")
		}
		s.poller = nil
	}

	err := s.closePort()

	s.stateMu.Lock()
	s.state = State{}
	s.phase = PhaseDisconnected
	s.stateMu.Unlock()

	s.log.Info("Disconnected")
	return err
}

// closePort waits for any in-flight round trip, which the read timeout
// bounds, and closes the port
func (s *Session) closePort() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	if err != nil {
		return &TransportError{Op: "close", Port: s.cfg.PortName, Err: err}
	}
	return nil
}

// Phase returns the current lifecycle phase
func (s *Session) Phase() Phase {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.phase
}

func (s *Session) setPhase(p Phase) {
	s.stateMu.Lock()
	s.phase = p
	s.stateMu.Unlock()
}

// Snapshot returns a copy of the current device state
func (s *Session) Snapshot() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Statistics returns the link statistics
func (s *Session) Statistics() StatisticsSnapshot {
	return s.stats.Snapshot()
}

// Subscribe registers fn to be called with the new snapshot after every
// response that updated the state. fn runs on the requesting goroutine after
// the port lock is released.
func (s *Session) Subscribe(fn func(State)) {
	s.stateMu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.stateMu.Unlock()
}

// Exchange sends one request payload and applies the response to the state.
//
// A response dropped for a bad CRC yields an error matching ErrCRCMismatch
// and leaves the state untouched; IsDropped reports such errors. Responses
// with an unknown tag are logged and returned with KindUnknown and no error.
func (s *Session) Exchange(ctx context.Context, payload []byte) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	s.mu.Lock()
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return Response{}, err
	}
	if s.port == nil {
		s.mu.Unlock()
		return Response{}, ErrNotConnected
	}
	start := time.Now()
	rsp, err := s.roundTrip(payload)
	rtt := time.Since(start)
	s.stats.Update(rsp.Kind, err, rtt)

	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownTag):
		s.mu.Unlock()
		s.log.Warnf("Unknown message: % X", rsp.Payload)
		return rsp, nil
	case errors.Is(err, ErrCRCMismatch):
		s.mu.Unlock()
		s.log.WithError(err).Warn("Dropping response frame")
		return Response{}, err
	default:
		s.mu.Unlock()
		return rsp, err
	}

	// Applied under the port lock so a concurrent Disconnect cannot be
	// overwritten by a late response
	snapshot, subscribers := s.applyResponse(payload, rsp)
	s.mu.Unlock()

	for _, fn := range subscribers {
		fn(snapshot)
	}
	return rsp, nil
}

// roundTrip writes a request and reads one complete response frame.
// Caller must hold s.mu.
func (s *Session) roundTrip(payload []byte) (Response, error) {
	if r, ok := s.port.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			s.log.WithError(err).Debug("Resetting input buffer failed")
		}
	}
	s.decoder.Reset()

	s.log.Debugf("TX: % X", payload)
	if _, err := s.port.Write(EncodeFrame(payload)); err != nil {
		return Response{}, &TransportError{Op: "write", Port: s.cfg.PortName, Err: err}
	}

	rspPayload, err := s.readFrame()
	if err != nil {
		return Response{}, err
	}
	s.log.Debugf("RX: % X", rspPayload)

	return ParseResponse(rspPayload)
}

// readFrame accumulates bytes until a complete frame is decoded or the read
// timeout elapses. Caller must hold s.mu.
func (s *Session) readFrame() ([]byte, error) {
	deadline := time.Now().Add(s.cfg.ReadTimeout)
	for {
		n, err := s.port.Read(s.buf)
		if err != nil {
			return nil, &TransportError{Op: "read", Port: s.cfg.PortName, Err: err}
		}
		for i := 0; i < n; i++ {
			payload, err := s.decoder.DecodeByte(s.buf[i])
			if err != nil {
				return nil, err
			}
			if payload != nil {
				return payload, nil
			}
		}
		if !time.Now().Before(deadline) {
			pending := len(s.decoder.RawBytes())
			s.decoder.Reset()
			return nil, fmt.Errorf("%w after %s (%d bytes pending)", ErrTimeout, s.cfg.ReadTimeout, pending)
		}
	}
}

// applyResponse updates the state from a parsed response. Acknowledged mode
// and limit changes are written back to the cache so that mode operations
// stay idempotent without an extra status request.
func (s *Session) applyResponse(request []byte, rsp Response) (State, []func(State)) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	kind, err := s.state.Apply(rsp.Payload)
	if err != nil {
		// ParseResponse already accepted this payload
		s.log.WithError(err).Error("Applying response failed")
	}

	if kind == KindAck && len(request) > 0 {
		switch {
		case request[0] == CmdSetMode && len(request) == 2:
			s.state.Mode = Mode(request[1])
			s.state.LastUpdate = time.Now()
		case request[0] == CmdSetControlValues && len(request) == 9:
			s.state.Limits = limitsFromRaw(request[1:9])
			s.state.LastUpdate = time.Now()
		}
	}

	subscribers := make([]func(State), len(s.subscribers))
	copy(subscribers, s.subscribers)
	return s.state, subscribers
}

// expect runs a request and checks the response kind
func (s *Session) expect(ctx context.Context, payload []byte, want Kind) error {
	rsp, err := s.Exchange(ctx, payload)
	if err != nil {
		return err
	}
	if rsp.Kind != want {
		return fmt.Errorf("%w to %q: got %s, want %s", ErrUnexpectedResponse, payload[0], rsp.Kind, want)
	}
	return nil
}

// Init requests remote operation
func (s *Session) Init(ctx context.Context) error {
	return s.expect(ctx, NewInitCommand(), KindInit)
}

// GetControlValues fetches the mode and configured limits
func (s *Session) GetControlValues(ctx context.Context) (Limits, error) {
	if err := s.expect(ctx, NewGetControlValuesCommand(), KindControlValues); err != nil {
		return Limits{}, err
	}
	return s.Snapshot().Limits, nil
}

// SetControlValues sets the limits of both channels. There are no implicit
// defaults: to change one limit, start from Snapshot().Limits.
func (s *Session) SetControlValues(ctx context.Context, l Limits) error {
	payload, err := NewSetControlValuesCommand(l)
	if err != nil {
		return err
	}
	return s.expect(ctx, payload, KindAck)
}

// GetVersion fetches the master and slave firmware versions
func (s *Session) GetVersion(ctx context.Context) (master, slave Version, err error) {
	if err := s.expect(ctx, NewGetVersionCommand(), KindVersion); err != nil {
		return 0, 0, err
	}
	st := s.Snapshot()
	return st.MasterVersion, st.SlaveVersion, nil
}

// GetStatus fetches mode, regulation state, readings and temperatures
func (s *Session) GetStatus(ctx context.Context) (State, error) {
	if err := s.expect(ctx, NewGetStatusCommand(), KindStatus); err != nil {
		return State{}, err
	}
	return s.Snapshot(), nil
}

// GetMode fetches the mode bitmask
func (s *Session) GetMode(ctx context.Context) (Mode, error) {
	if err := s.expect(ctx, NewGetModeCommand(), KindMode); err != nil {
		return 0, err
	}
	return s.Snapshot().Mode, nil
}

// SetMode sets the mode bitmask unconditionally
func (s *Session) SetMode(ctx context.Context, m Mode) error {
	return s.expect(ctx, NewSetModeCommand(m), KindAck)
}

// SetMasterSlaveMode switches to master/slave topology
func (s *Session) SetMasterSlaveMode(ctx context.Context) error {
	return s.setOutputMode(ctx, ModeMasterSlave)
}

// SetDualMode switches to independent dual outputs
func (s *Session) SetDualMode(ctx context.Context) error {
	return s.setOutputMode(ctx, ModeDual)
}

// SetSeriesMode switches to series topology
func (s *Session) SetSeriesMode(ctx context.Context) error {
	return s.setOutputMode(ctx, ModeSeries)
}

// setOutputMode changes the topology. Both outputs are put in standby on a
// change; nothing is sent when the cached mode already has the topology.
func (s *Session) setOutputMode(ctx context.Context, target Mode) error {
	s.modeMu.Lock()
	defer s.modeMu.Unlock()

	current := s.Snapshot().Mode
	if current.Output() == target.Output() {
		s.log.Debugf("Output mode already %s", current)
		return nil
	}
	return s.SetMode(ctx, ModeRemote|target.Output()|ModeMasterStandby|ModeSlaveStandby)
}

// EnableMaster takes the master output out of standby
func (s *Session) EnableMaster(ctx context.Context) error {
	return s.setStandby(ctx, ModeMasterStandby, false)
}

// DisableMaster puts the master output in standby
func (s *Session) DisableMaster(ctx context.Context) error {
	return s.setStandby(ctx, ModeMasterStandby, true)
}

// EnableSlave takes the slave output out of standby
func (s *Session) EnableSlave(ctx context.Context) error {
	return s.setStandby(ctx, ModeSlaveStandby, false)
}

// DisableSlave puts the slave output in standby
func (s *Session) DisableSlave(ctx context.Context) error {
	return s.setStandby(ctx, ModeSlaveStandby, true)
}

func (s *Session) setStandby(ctx context.Context, bit Mode, standby bool) error {
	s.modeMu.Lock()
	defer s.modeMu.Unlock()

	current := s.Snapshot().Mode
	target := current &^ bit
	if standby {
		target = current | bit
	}
	if target == current {
		return nil
	}
	return s.SetMode(ctx, target)
}
