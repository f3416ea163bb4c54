// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Thermoquad/dpsctl/pkg/dps"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"golang.org/x/term"
)

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketPort carries the serial byte stream over a WebSocket bridge.
// Binary messages are queued by a reader goroutine so that Read can honor
// the read timeout like a serial port does.
type WebSocketPort struct {
	conn     *websocket.Conn
	messages chan []byte
	done     chan struct{}

	mu        sync.Mutex
	buf       []byte
	timeout   time.Duration
	readErr   error
	closeOnce sync.Once
}

func newWebSocketPort(conn *websocket.Conn) *WebSocketPort {
	w := &WebSocketPort{
		conn:     conn,
		messages: make(chan []byte, 64),
		done:     make(chan struct{}),
		timeout:  time.Second,
	}
	go w.readLoop()
	return w
}

func (w *WebSocketPort) readLoop() {
	defer close(w.messages)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			w.readErr = err
			w.mu.Unlock()
			return
		}

		// Only binary messages carry link bytes
		if messageType != websocket.BinaryMessage {
			continue
		}

		select {
		case w.messages <- data:
		case <-w.done:
			return
		}
	}
}

// Read returns buffered bytes, waiting up to the read timeout for the next
// message. It returns 0, nil on timeout.
func (w *WebSocketPort) Read(p []byte) (int, error) {
	w.mu.Lock()
	if len(w.buf) > 0 {
		n := copy(p, w.buf)
		w.buf = w.buf[n:]
		w.mu.Unlock()
		return n, nil
	}
	timeout := w.timeout
	w.mu.Unlock()

	select {
	case data, ok := <-w.messages:
		if !ok {
			w.mu.Lock()
			defer w.mu.Unlock()
			if w.readErr != nil && !websocket.IsCloseError(w.readErr, websocket.CloseNormalClosure) {
				return 0, fmt.Errorf("%w: %v", ErrConnectionClosed, w.readErr)
			}
			return 0, ErrConnectionClosed
		}
		n := copy(p, data)
		if n < len(data) {
			w.mu.Lock()
			w.buf = append(w.buf, data[n:]...)
			w.mu.Unlock()
		}
		return n, nil
	case <-time.After(timeout):
		return 0, nil
	}
}

func (w *WebSocketPort) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetReadTimeout sets the maximum time Read waits for a message
func (w *WebSocketPort) SetReadTimeout(t time.Duration) error {
	w.mu.Lock()
	w.timeout = t
	w.mu.Unlock()
	return nil
}

// ResetInputBuffer discards bytes received but not yet read
func (w *WebSocketPort) ResetInputBuffer() error {
	w.mu.Lock()
	w.buf = nil
	w.mu.Unlock()
	for {
		select {
		case _, ok := <-w.messages:
			if !ok {
				return nil
			}
		default:
			return nil
		}
	}
}

func (w *WebSocketPort) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.conn.Close()
	})
	return err
}

// OpenSerialPort opens a serial port at 8N1. go.bug.st/serial ports satisfy
// dps.Port as they are.
func OpenSerialPort(portName string, baud int) (dps.Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	return port, nil
}

// OpenWebSocketPort opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketPort(wsURL, username, password string, skipSSLVerify bool) (*WebSocketPort, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return newWebSocketPort(conn), nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if err := env.BindEnv("password"); err != nil {
		return "", err
	}
	if pw := env.GetString("password"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// openFunc returns the port opener selected by the connection flags along
// with a description of the connection
func openFunc() (dps.OpenFunc, string, error) {
	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		// The bridge owns the serial line; baud rates do not apply
		open := func(string, int) (dps.Port, error) {
			return OpenWebSocketPort(wsURL, wsUsername, password, wsNoSSLVerify)
		}
		return open, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		return OpenSerialPort, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}

// sessionConfig builds the session configuration from flags
func sessionConfig() dps.Config {
	cfg := dps.DefaultConfig(portName)
	cfg.Baud = baudRate
	cfg.InitBaud = initBaud
	cfg.ReadTimeout = readTimeout
	cfg.PollInterval = pollInterval
	cfg.Logger = log.StandardLogger()

	if wsURL != "" {
		cfg.PortName = wsURL
		cfg.InitBaud = 0
	}
	return cfg
}

// openSession connects a session using the connection flags.
// The caller must Disconnect it.
func openSession(ctx context.Context, cfg dps.Config) (*dps.Session, string, error) {
	open, connInfo, err := openFunc()
	if err != nil {
		return nil, "", err
	}

	s := dps.NewSession(open, cfg)
	if err := s.Connect(ctx); err != nil {
		return nil, "", err
	}
	return s, connInfo, nil
}

// openRawPort opens the configured port for passive reading
func openRawPort() (dps.Port, string, error) {
	open, connInfo, err := openFunc()
	if err != nil {
		return nil, "", err
	}

	port, err := open(portName, baudRate)
	if err != nil {
		return nil, "", err
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, "", err
	}
	return port, connInfo, nil
}
