// Package transport owns the live Socket.IO channel: one connection per
// session, an explicit reconnection state machine, and topic subscription
// multiplexing on top of it.
package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vule/chatsync/internal/wire"
	"github.com/vule/chatsync/pkg/logger"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

var (
	// ErrNotConnected is returned by Send while the channel is down. There is
	// no offline queue; callers fall back to the HTTP path or surface the
	// failure.
	ErrNotConnected = errors.New("not connected")
	// ErrHandshakeFailed wraps a rejected connection handshake. Handshake
	// failures are fatal and never retried automatically.
	ErrHandshakeFailed = errors.New("handshake failed")

	// errDropPending marks a dial whose transport dropped before the handle
	// could be declared live. The handshake itself succeeded, so callers retry
	// it like any post-handshake loss.
	errDropPending = errors.New("connection dropped during setup")
)

// Conn is one live connection handle. A new handle is established per connect
// attempt and never reused across identities.
type Conn interface {
	// Emit sends a fire-and-forget frame to a destination.
	Emit(destination string, payload any) error
	// Close tears the connection down.
	Close()
}

// DialFunc establishes a new connection handle, blocking until the handshake
// completes or is rejected.
type DialFunc func(opts DialOptions) (Conn, error)

// DialOptions carries everything one dial attempt needs.
type DialOptions struct {
	ServerURL string
	Path      string
	// Auth is the handshake payload (credential, session id, username).
	Auth map[string]any
	// OnFrame receives every server "publish" event for this handle.
	OnFrame func(v any)
	// OnDrop is invoked once when the established connection is lost.
	OnDrop func(reason string)
}

// CredentialFunc supplies the current bearer credential. It is re-read on
// every connect attempt so refreshed credentials apply to reconnects.
type CredentialFunc func() (string, error)

// Options configures a Manager.
type Options struct {
	ServerURL  string
	SocketPath string
	SessionID  string
	Username   string
	Credential CredentialFunc

	// Dial defaults to the Socket.IO dialer; tests inject fakes.
	Dial DialFunc

	ReconnectBase    time.Duration
	ReconnectCap     time.Duration
	ReconnectRetries int
}

// Manager owns the live channel for exactly one session.
//
// State machine: disconnected -> connecting -> connected; a post-handshake
// drop moves to reconnecting with bounded exponential backoff, ending either
// back at connected or at disconnected (degraded mode) once retries are
// exhausted.
type Manager struct {
	opts Options

	mu     sync.Mutex
	state  State
	conn   Conn
	gen    int
	ready  bool
	closed bool
	// dropPending records a drop for the current gen that arrived before
	// establish published the handle; establish checks it before declaring
	// the handle live.
	dropPending bool
	stop        chan struct{}

	frameFn     func(v any)
	connectedFn func()
	degradedFn  func()
}

// NewManager creates a Manager bound to one session identity. Instances are
// never shared across identities; the engine constructs a fresh one per
// Start.
func NewManager(opts Options) *Manager {
	if opts.Dial == nil {
		opts.Dial = dialSocketIO
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = 2 * time.Second
	}
	if opts.ReconnectCap <= 0 {
		opts.ReconnectCap = 30 * time.Second
	}
	if opts.ReconnectRetries <= 0 {
		opts.ReconnectRetries = 5
	}
	return &Manager{
		opts:  opts,
		state: StateDisconnected,
		stop:  make(chan struct{}),
	}
}

// OnFrame registers the inbound frame callback (the multiplexer).
func (m *Manager) OnFrame(fn func(v any)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frameFn = fn
}

// OnConnected registers a callback invoked after every successful connect or
// reconnect, before any inbound traffic is delivered. Subscription restoration
// and the self-presence announcement hang off this.
func (m *Manager) OnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectedFn = fn
}

// OnDegraded registers a callback invoked when reconnection retries are
// exhausted and the channel settles in disconnected (degraded) mode.
func (m *Manager) OnDegraded(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.degradedFn = fn
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the channel is usable for sends.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Connect establishes the initial connection. A rejected handshake is fatal
// and surfaced to the caller; no retry is attempted.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("manager closed")
	}
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.mu.Unlock()

	if err := m.establish(); err != nil {
		if errors.Is(err, errDropPending) {
			// The handshake succeeded but the transport died before the
			// handle went live; that is a post-handshake loss, so it is
			// retried instead of surfaced as fatal.
			m.mu.Lock()
			m.state = StateReconnecting
			m.mu.Unlock()
			logger.Warnf("transport: connection lost during setup, reconnecting")
			go m.reconnectLoop()
			return nil
		}
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	return nil
}

// establish performs one dial attempt and, on success, swaps in the new
// handle, runs the connected callback, then opens frame delivery.
func (m *Manager) establish() error {
	credential, err := m.opts.Credential()
	if err != nil {
		return fmt.Errorf("read credential: %w", err)
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.dropPending = false
	m.mu.Unlock()

	conn, err := m.opts.Dial(DialOptions{
		ServerURL: m.opts.ServerURL,
		Path:      m.opts.SocketPath,
		Auth: map[string]any{
			"token":      credential,
			"sessionId":  m.opts.SessionID,
			"username":   m.opts.Username,
			"clientType": "user-scoped",
		},
		OnFrame: func(v any) { m.deliver(gen, v) },
		OnDrop:  func(reason string) { m.dropped(gen, reason) },
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return fmt.Errorf("manager closed")
	}
	if m.dropPending {
		m.dropPending = false
		m.mu.Unlock()
		conn.Close()
		return errDropPending
	}
	old := m.conn
	m.conn = conn
	m.state = StateConnected
	m.ready = false
	connectedFn := m.connectedFn
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if connectedFn != nil {
		connectedFn()
	}

	m.mu.Lock()
	m.ready = true
	m.mu.Unlock()

	logger.Infof("transport: connected (session %s)", m.opts.SessionID)
	return nil
}

// deliver forwards a frame to the registered callback, dropping frames from
// stale handles and frames that race the post-connect setup.
func (m *Manager) deliver(gen int, v any) {
	m.mu.Lock()
	if gen != m.gen || !m.ready || m.frameFn == nil {
		m.mu.Unlock()
		logger.Tracef("transport: dropping frame from stale or unready handle")
		return
	}
	frameFn := m.frameFn
	m.mu.Unlock()
	frameFn(v)
}

// dropped handles a post-handshake transport loss. A drop on a live handle
// enters the bounded reconnect loop; a drop that races establish's publish
// window is recorded so the handle is never declared live.
func (m *Manager) dropped(gen int, reason string) {
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	switch m.state {
	case StateConnected:
		m.state = StateReconnecting
		m.ready = false
		m.mu.Unlock()
		logger.Warnf("transport: connection lost (%s), reconnecting", reason)
		go m.reconnectLoop()
	case StateConnecting, StateReconnecting:
		m.dropPending = true
		m.mu.Unlock()
		logger.Warnf("transport: connection lost during setup (%s)", reason)
	default:
		m.mu.Unlock()
	}
}

func (m *Manager) reconnectLoop() {
	delay := m.opts.ReconnectBase
	for attempt := 1; attempt <= m.opts.ReconnectRetries; attempt++ {
		select {
		case <-m.stop:
			return
		case <-time.After(delay):
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		logger.Infof("transport: reconnect attempt %d/%d", attempt, m.opts.ReconnectRetries)
		err := m.establish()
		if err == nil {
			return
		}
		logger.Warnf("transport: reconnect attempt %d failed: %v", attempt, err)

		delay *= 2
		if delay > m.opts.ReconnectCap {
			delay = m.opts.ReconnectCap
		}
	}

	m.mu.Lock()
	m.state = StateDisconnected
	degradedFn := m.degradedFn
	m.mu.Unlock()

	logger.Errorf("transport: reconnect retries exhausted, entering degraded mode")
	if degradedFn != nil {
		degradedFn()
	}
}

// Send publishes a fire-and-forget frame to a destination. It fails fast with
// ErrNotConnected while the channel is down; nothing is queued.
func (m *Manager) Send(destination string, payload any) error {
	m.mu.Lock()
	if m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := m.conn
	m.mu.Unlock()
	return conn.Emit(destination, payload)
}

// Disconnect announces "going offline" best-effort, then tears the connection
// down. The manager cannot be reused afterwards.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	conn := m.conn
	connected := m.state == StateConnected
	m.conn = nil
	m.state = StateDisconnected
	m.ready = false
	close(m.stop)
	m.mu.Unlock()

	if conn != nil {
		if connected {
			if err := conn.Emit(wire.EventPresenceOffline, map[string]any{}); err != nil {
				logger.Debugf("transport: offline announce failed: %v", err)
			}
		}
		conn.Close()
	}
}
