package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"merechat/internal/metrics"
	"merechat/internal/models"

	"github.com/gorilla/websocket"
)

var (
	ErrNotConnected = errors.New("not connected")
)

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateBackoff    State = "backoff"
)

type wsConnection interface {
	Close() error
	WriteJSON(v any) error
	ReadMessage() (messageType int, p []byte, err error)
}

type timer interface {
	Stop() bool
}

// TokenSource returns the current session token or an empty string.
type TokenSource interface {
	Token() string
}

type Config struct {
	BaseURL   string
	Service   string
	Tokens    TokenSource
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Metrics   *metrics.Metrics
}

// Manager owns the live connection: at most one socket at a time,
// reconnected with exponential backoff until Close is called.
type Manager struct {
	cfg       Config
	log       *slog.Logger
	dial      func(ctx context.Context, url string) (wsConnection, error)
	afterFunc func(d time.Duration, f func()) timer
	onFrame   func(data []byte)

	mu       sync.Mutex
	state    State
	conn     wsConnection
	gen      uint64
	backoff  backoff
	timer    timer
	timerSeq uint64
	active   string

	writeMu sync.Mutex
}

func NewManager(cfg Config) *Manager {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}
	return &Manager{
		cfg:       cfg,
		log:       slog.Default().With("component", "ws"),
		dial:      dialWebsocket,
		afterFunc: afterFunc,
		onFrame:   func([]byte) {},
		state:     StateIdle,
		backoff:   newBackoff(cfg.BaseDelay, cfg.MaxDelay),
	}
}

func afterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

func dialWebsocket(ctx context.Context, url string) (wsConnection, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// OnFrame sets the handler for inbound frames. Frames are delivered
// one at a time from the read goroutine.
func (m *Manager) OnFrame(fn func(data []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFrame = fn
}

// Connect opens the connection in the background.
// It does nothing while a connection is open or being opened.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateOpen {
		m.mu.Unlock()
		return
	}
	m.stopTimer()
	m.state = StateConnecting
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	go m.open(ctx, gen)
}

func (m *Manager) open(ctx context.Context, gen uint64) {
	token := m.token()
	url, err := BuildURL(m.cfg.BaseURL, m.cfg.Service, token)
	var conn wsConnection
	if err == nil {
		conn, err = m.dial(ctx, url)
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.log.Warn("connection failed", "error", err)
		m.scheduleReconnect(ctx)
		m.mu.Unlock()
		return
	}
	m.conn = conn
	m.state = StateOpen
	m.backoff.reset()
	active := m.active
	m.mu.Unlock()

	m.log.Info("connected", "service", m.cfg.Service)

	if token != "" {
		if err := m.write(conn, models.PresenceFrame{Type: models.FrameTypePresence, Online: true}); err != nil {
			m.log.Warn("failed to announce presence", "error", err)
		}
	}
	if active != "" {
		if err := m.write(conn, models.JoinFrame{Type: models.FrameTypeJoin, ConversationID: active}); err != nil {
			m.log.Warn("failed to join conversation", "conversation", active, "error", err)
		}
	}

	m.pumpMessages(ctx, conn, gen)
}

func (m *Manager) pumpMessages(ctx context.Context, conn wsConnection, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(ctx, conn, gen, err)
			return
		}

		m.mu.Lock()
		onFrame := m.onFrame
		m.mu.Unlock()
		onFrame(data)
	}
}

func (m *Manager) handleClose(ctx context.Context, conn wsConnection, gen uint64, cause error) {
	_ = conn.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	// A deliberate Close or a newer connection already took over.
	if gen != m.gen || m.conn != conn {
		return
	}
	m.conn = nil
	m.log.Warn("connection lost", "error", cause)
	m.scheduleReconnect(ctx)
}

// scheduleReconnect must be called with m.mu held.
func (m *Manager) scheduleReconnect(ctx context.Context) {
	if ctx.Err() != nil {
		m.state = StateIdle
		return
	}

	delay := m.backoff.next()
	m.state = StateBackoff
	m.stopTimer()
	m.timerSeq++
	seq := m.timerSeq
	m.timer = m.afterFunc(delay, func() {
		m.reconnect(ctx, seq)
	})
	m.cfg.Metrics.Reconnects.Inc()
	m.log.Info("reconnect scheduled", "delay", delay, "attempt", m.backoff.attempts)
}

func (m *Manager) reconnect(ctx context.Context, seq uint64) {
	m.mu.Lock()
	if seq != m.timerSeq || m.state != StateBackoff {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	m.Connect(ctx)
}

// stopTimer must be called with m.mu held.
func (m *Manager) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerSeq++
}

// Close tears the connection down without scheduling a reconnect
// and forgets the backoff state.
func (m *Manager) Close(reason string) {
	m.mu.Lock()
	m.stopTimer()
	conn := m.conn
	m.conn = nil
	m.gen++
	m.state = StateIdle
	m.backoff.reset()
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
		m.log.Info("connection closed", "reason", reason)
	}
}

// SetActiveConversation marks the conversation whose broadcasts the user
// is looking at. It is re-joined on every open.
func (m *Manager) SetActiveConversation(id string) {
	m.mu.Lock()
	changed := m.active != id
	m.active = id
	conn := m.conn
	open := m.state == StateOpen
	m.mu.Unlock()

	if changed && id != "" && open && conn != nil {
		if err := m.write(conn, models.JoinFrame{Type: models.FrameTypeJoin, ConversationID: id}); err != nil {
			m.log.Warn("failed to join conversation", "conversation", id, "error", err)
		}
	}
}

// Send writes one frame to the open connection.
func (m *Manager) Send(v any) error {
	m.mu.Lock()
	conn := m.conn
	open := m.state == StateOpen
	m.mu.Unlock()

	if !open || conn == nil {
		return ErrNotConnected
	}
	return m.write(conn, v)
}

func (m *Manager) write(conn wsConnection, v any) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteJSON(v); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

func (m *Manager) IsOpen() bool {
	return m.State() == StateOpen
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the number of reconnects scheduled since the last open.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backoff.attempts
}

func (m *Manager) token() string {
	if m.cfg.Tokens == nil {
		return ""
	}
	return m.cfg.Tokens.Token()
}
