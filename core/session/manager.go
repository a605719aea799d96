// Package session owns the duplex websocket connection of a voice session:
// its lifecycle state machine, reconnection with capped exponential backoff
// and the single event loop every inbound frame is processed on.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var ErrAlreadyStarted = errors.New("session already started")

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// AfterFunc schedules f after d and returns a function cancelling it.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func timeAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Frame is one inbound websocket message.
type Frame struct {
	Binary bool
	Data   []byte
}

// Handlers are invoked on the manager's event loop, one at a time, in the
// order the underlying events happened.
type Handlers struct {
	OnOpen    func()
	OnMessage func(Frame)
	// OnClose reports an unexpected close or a failed dial. Stop does not
	// report through it.
	OnClose func(code int, reason string)
}

type ManagerOption func(*Manager)

func WithDialer(dialer Dialer) ManagerOption {
	return func(m *Manager) { m.dialer = dialer }
}

func WithAfterFunc(afterFunc AfterFunc) ManagerOption {
	return func(m *Manager) { m.afterFunc = afterFunc }
}

func WithHeader(header http.Header) ManagerOption {
	return func(m *Manager) { m.header = header.Clone() }
}

// WithName labels the manager in logs and metrics, e.g. "conversation" or
// "relay".
func WithName(name string) ManagerOption {
	return func(m *Manager) { m.name = name }
}

const (
	queueSize         = 64
	closeWriteTimeout = time.Second
	// closeDialFailed is reported when no connection could be established.
	closeDialFailed = websocket.CloseAbnormalClosure
)

type Manager struct {
	endpoint  Endpoint
	handlers  Handlers
	dialer    Dialer
	afterFunc AfterFunc
	header    http.Header
	name      string

	reconnects metric.Int64Counter

	mu              sync.Mutex
	state           State
	sessionID       string
	url             string
	shouldReconnect bool
	attempt         int
	// generation invalidates callbacks of superseded connections, dials and
	// timers.
	generation  uint64
	conn        *websocket.Conn
	cancelTimer func() bool
	run         *run

	writeMu sync.Mutex
}

// run is one Start..Stop lifetime of the event loop.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	queue  chan func()
	done   chan struct{}
	once   sync.Once
}

func (r *run) stop() {
	r.once.Do(func() {
		r.cancel()
		close(r.done)
	})
}

func NewManager(endpoint Endpoint, handlers Handlers, opts ...ManagerOption) *Manager {
	m := &Manager{
		endpoint:  endpoint,
		handlers:  handlers,
		dialer:    websocket.DefaultDialer,
		afterFunc: timeAfterFunc,
		name:      "conversation",
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.handlers.OnOpen == nil {
		m.handlers.OnOpen = func() {}
	}
	if m.handlers.OnMessage == nil {
		m.handlers.OnMessage = func(Frame) {}
	}
	if m.handlers.OnClose == nil {
		m.handlers.OnClose = func(int, string) {}
	}

	var err error
	m.reconnects, err = meter.Int64Counter("ema_live.session.reconnects",
		metric.WithDescription("Reconnect attempts scheduled after an unexpected close."),
	)
	if err != nil {
		logger.Error("failed to create reconnect counter", "error", err)
	}
	return m
}

// Start connects the session. Dialing happens in the background; the
// outcome is reported through the handlers. The context bounds the whole
// session: cancelling it stops the manager.
func (m *Manager) Start(ctx context.Context, sessionID string) error {
	url, err := m.endpoint.URL(sessionID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateConnecting, StateOpen, StateReconnecting, StateClosing:
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, m.state)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		ctx:    runCtx,
		cancel: cancel,
		queue:  make(chan func(), queueSize),
		done:   make(chan struct{}),
	}
	m.run = r
	m.sessionID = sessionID
	m.url = url
	m.shouldReconnect = true
	m.attempt = 0

	go m.loop(r)
	m.connectLocked()
	return nil
}

func (m *Manager) loop(r *run) {
	for {
		select {
		case fn := <-r.queue:
			fn()
		case <-r.done:
			return
		case <-r.ctx.Done():
			m.mu.Lock()
			current := m.run == r
			m.mu.Unlock()
			if current {
				m.Stop()
			}
			return
		}
	}
}

// post hands fn to the event loop of r. It reports false once r stopped.
func (m *Manager) post(r *run, fn func()) bool {
	select {
	case r.queue <- fn:
		return true
	case <-r.done:
		return false
	}
}

func (m *Manager) connectLocked() {
	if !m.setStateLocked(StateConnecting) {
		return
	}
	m.generation++
	gen, r, url := m.generation, m.run, m.url

	logger.Info("connecting", "session", m.name, "url", url, "attempt", m.attempt)
	go func() {
		conn, _, err := m.dialer.DialContext(r.ctx, url, m.header)
		if !m.post(r, func() { m.dialed(gen, conn, err) }) && conn != nil {
			conn.Close()
		}
	}()
}

func (m *Manager) dialed(gen uint64, conn *websocket.Conn, err error) {
	m.mu.Lock()
	if gen != m.generation || m.state != StateConnecting {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		logger.Warn("failed to connect", "session", m.name, "error", err)
		m.closedLocked()
		m.mu.Unlock()
		m.handlers.OnClose(closeDialFailed, err.Error())
		return
	}

	m.conn = conn
	m.attempt = 0
	m.setStateLocked(StateOpen)
	r := m.run
	m.mu.Unlock()

	logger.Info("connected", "session", m.name)
	go m.read(r, gen, conn)
	m.handlers.OnOpen()
}

func (m *Manager) read(r *run, gen uint64, conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := closeStatus(err)
			m.post(r, func() { m.closed(gen, code, reason) })
			return
		}

		frame := Frame{Binary: messageType == websocket.BinaryMessage, Data: data}
		if !m.post(r, func() { m.deliver(gen, frame) }) {
			return
		}
	}
}

func (m *Manager) deliver(gen uint64, frame Frame) {
	m.mu.Lock()
	current := gen == m.generation && m.state == StateOpen
	m.mu.Unlock()

	if current {
		m.handlers.OnMessage(frame)
	}
}

func (m *Manager) closed(gen uint64, code int, reason string) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	logger.Info("connection closed", "session", m.name, "code", code, "reason", reason)
	m.closedLocked()
	m.mu.Unlock()

	m.handlers.OnClose(code, reason)
}

// closedLocked decides what follows a lost connection: a reconnect timer, or
// the end of the session.
func (m *Manager) closedLocked() {
	if !m.shouldReconnect {
		m.setStateLocked(StateClosed)
		if m.run != nil {
			m.run.stop()
			m.run = nil
		}
		return
	}

	m.attempt++
	delay := ReconnectDelay(m.attempt)
	m.setStateLocked(StateReconnecting)
	m.stopTimerLocked()

	gen, r := m.generation, m.run
	m.cancelTimer = m.afterFunc(delay, func() {
		m.post(r, func() { m.reconnect(gen) })
	})

	if m.reconnects != nil {
		m.reconnects.Add(r.ctx, 1, metric.WithAttributes(attribute.String("session", m.name)))
	}
	logger.Info("scheduling reconnect", "session", m.name, "attempt", m.attempt, "delay", delay)
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation || m.state != StateReconnecting {
		return
	}
	m.cancelTimer = nil
	m.connectLocked()
}

// Stop ends the session: no further reconnects, the pending timer is
// cancelled and an open connection is closed with a normal closure. It is
// safe to call from any state, repeatedly, and from inside a handler.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.shouldReconnect = false
	m.stopTimerLocked()
	m.generation++

	conn := m.conn
	m.conn = nil
	if m.state == StateOpen && conn != nil {
		m.setStateLocked(StateClosing)
	}
	if m.state != StateIdle && m.state != StateClosed {
		m.setStateLocked(StateClosed)
	}
	r := m.run
	m.run = nil
	m.mu.Unlock()

	if conn != nil {
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeWriteTimeout)); err != nil {
			logger.Debug("failed to send close frame", "session", m.name, "error", err)
		}
		conn.Close()
		logger.Info("connection stopped", "session", m.name)
	}
	if r != nil {
		r.stop()
	}
}

// DisableReconnect keeps the current connection but lets the session end
// when it closes. Used when the server signals a terminal end.
func (m *Manager) DisableReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shouldReconnect = false
	if m.state == StateReconnecting {
		m.stopTimerLocked()
		m.setStateLocked(StateClosed)
		if m.run != nil {
			m.run.stop()
			m.run = nil
		}
	}
}

// Send writes one binary frame. Frames are dropped unless the connection is
// open; nothing is buffered across reconnects. Safe for concurrent use.
func (m *Manager) Send(data []byte) bool {
	return m.write(websocket.BinaryMessage, data)
}

// SendText writes one text frame with the same semantics as Send.
func (m *Manager) SendText(data []byte) bool {
	return m.write(websocket.TextMessage, data)
}

func (m *Manager) write(messageType int, data []byte) bool {
	m.mu.Lock()
	conn := m.conn
	open := m.state == StateOpen
	m.mu.Unlock()
	if !open || conn == nil {
		return false
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteMessage(messageType, data); err != nil {
		logger.Debug("failed to send frame", "session", m.name, "error", err)
		return false
	}
	return true
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) ReconnectAttempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

func (m *Manager) setStateLocked(next State) bool {
	if m.state == next {
		return true
	}
	if !CanTransition(m.state, next) {
		logger.Warn("rejected session state transition",
			"session", m.name,
			"from", m.state.String(),
			"to", next.String(),
		)
		return false
	}
	m.state = next
	return true
}

func (m *Manager) stopTimerLocked() {
	if m.cancelTimer != nil {
		m.cancelTimer()
		m.cancelTimer = nil
	}
}

func closeStatus(err error) (int, string) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code, closeErr.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}
