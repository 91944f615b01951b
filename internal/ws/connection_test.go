package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"merechat/internal/models"

	"github.com/stretchr/testify/require"
)

type mockWS struct {
	readCh  chan []byte
	writeCh chan any
	closeCh chan struct{}

	mu       sync.Mutex
	closed   bool
	writeErr error
}

func newMockWS() *mockWS {
	return &mockWS{
		readCh:  make(chan []byte, 10),
		writeCh: make(chan any, 10),
		closeCh: make(chan struct{}),
	}
}

func (m *mockWS) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.closeCh)
	return nil
}

func (m *mockWS) WriteJSON(v any) error {
	m.mu.Lock()
	err := m.writeErr
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.writeCh <- v
	return nil
}

func (m *mockWS) ReadMessage() (int, []byte, error) {
	select {
	case data := <-m.readCh:
		return 1, data, nil
	case <-m.closeCh:
		return 0, nil, errors.New("connection closed")
	}
}

// drop simulates the server going away.
func (m *mockWS) drop() {
	_ = m.Close()
}

type dialResult struct {
	conn *mockWS
	err  error
}

type mockDialer struct {
	urls    chan string
	results chan dialResult
}

func newMockDialer() *mockDialer {
	return &mockDialer{
		urls:    make(chan string, 10),
		results: make(chan dialResult, 10),
	}
}

func (d *mockDialer) dial(ctx context.Context, url string) (wsConnection, error) {
	d.urls <- url
	select {
	case r := <-d.results:
		if r.err != nil {
			return nil, r.err
		}
		return r.conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
	s       *fakeScheduler
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) afterFunc(d time.Duration, f func()) timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f, s: s}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) active() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

func (s *fakeScheduler) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, 0, len(s.timers))
	for _, t := range s.timers {
		out = append(out, t.delay)
	}
	return out
}

// fire runs the only pending timer.
func (s *fakeScheduler) fire(t *testing.T) {
	t.Helper()
	active := s.active()
	require.Len(t, active, 1)
	s.mu.Lock()
	active[0].fired = true
	s.mu.Unlock()
	active[0].fn()
}

type staticTokens string

func (s staticTokens) Token() string { return string(s) }

func newTestManager(token string) (*Manager, *mockDialer, *fakeScheduler) {
	d := newMockDialer()
	s := &fakeScheduler{}
	m := NewManager(Config{
		BaseURL: "https://chat.example.com",
		Service: "merechat",
		Tokens:  staticTokens(token),
	})
	m.dial = d.dial
	m.afterFunc = s.afterFunc
	return m, d, s
}

func waitURL(t *testing.T, d *mockDialer) string {
	t.Helper()
	select {
	case url := <-d.urls:
		return url
	case <-time.After(time.Second):
		t.Fatal("dial was not called")
		return ""
	}
}

func waitWrite(t *testing.T, conn *mockWS) map[string]any {
	t.Helper()
	select {
	case v := <-conn.writeCh:
		data, err := json.Marshal(v)
		require.NoError(t, err)
		var out map[string]any
		require.NoError(t, json.Unmarshal(data, &out))
		return out
	case <-time.After(time.Second):
		t.Fatal("nothing was written")
		return nil
	}
}

func waitState(t *testing.T, m *Manager, state State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == state }, time.Second, 5*time.Millisecond)
}

func TestManager_OpenAnnouncesPresenceAndJoin(t *testing.T) {
	m, d, _ := newTestManager("tok")
	m.SetActiveConversation("chat1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Connect(ctx)
	require.Equal(t, "wss://chat.example.com/ws/merechat?token=tok", waitURL(t, d))

	conn := newMockWS()
	d.results <- dialResult{conn: conn}
	waitState(t, m, StateOpen)

	require.Equal(t, map[string]any{"type": "presence", "online": true}, waitWrite(t, conn))
	require.Equal(t, map[string]any{"type": "join", "conversationId": "chat1"}, waitWrite(t, conn))

	// Switching conversations while open joins right away.
	m.SetActiveConversation("chat2")
	require.Equal(t, map[string]any{"type": "join", "conversationId": "chat2"}, waitWrite(t, conn))

	m.Close("test")
}

func TestManager_NoTokenSkipsPresence(t *testing.T) {
	m, d, _ := newTestManager("")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Connect(ctx)
	require.Equal(t, "wss://chat.example.com/ws/merechat", waitURL(t, d))
	conn := newMockWS()
	d.results <- dialResult{conn: conn}
	waitState(t, m, StateOpen)

	require.NoError(t, m.Send(models.TypingFrame{Type: models.FrameTypeTyping, ConversationID: "chat1"}))
	require.Equal(t, map[string]any{"type": "typing", "conversationId": "chat1"}, waitWrite(t, conn))

	m.Close("test")
}

func TestManager_ConnectIsIdempotent(t *testing.T) {
	m, d, _ := newTestManager("tok")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Connect(ctx)
	m.Connect(ctx)
	waitURL(t, d)
	require.Equal(t, StateConnecting, m.State())

	conn := newMockWS()
	d.results <- dialResult{conn: conn}
	waitState(t, m, StateOpen)
	m.Connect(ctx)

	select {
	case url := <-d.urls:
		t.Fatalf("unexpected second dial to %s", url)
	case <-time.After(50 * time.Millisecond):
	}

	m.Close("test")
}

func TestManager_ReconnectBackoff(t *testing.T) {
	m, d, s := newTestManager("tok")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Connect(ctx)
	for i := range 7 {
		waitURL(t, d)
		d.results <- dialResult{err: errors.New("refused")}
		waitState(t, m, StateBackoff)
		require.Equal(t, i+1, m.Attempts())
		s.fire(t)
	}

	require.Equal(t, []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
	}, s.delays())

	// A successful open resets the next delay.
	waitURL(t, d)
	conn := newMockWS()
	d.results <- dialResult{conn: conn}
	waitState(t, m, StateOpen)
	require.Zero(t, m.Attempts())

	conn.drop()
	waitState(t, m, StateBackoff)
	delays := s.delays()
	require.Equal(t, 1000*time.Millisecond, delays[len(delays)-1])

	m.Close("test")
}

func TestManager_DropAfterThreeAttempts(t *testing.T) {
	m, d, s := newTestManager("tok")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Connect(ctx)
	waitURL(t, d)
	conn := newMockWS()
	d.results <- dialResult{conn: conn}
	waitState(t, m, StateOpen)

	m.mu.Lock()
	m.backoff.attempts = 3
	m.mu.Unlock()

	conn.drop()
	waitState(t, m, StateBackoff)

	active := s.active()
	require.Len(t, active, 1)
	require.Equal(t, 8000*time.Millisecond, active[0].delay)
	require.Equal(t, 4, m.Attempts())

	m.Close("test")
}

func TestManager_SingleReconnectTimer(t *testing.T) {
	m, _, s := newTestManager("tok")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.mu.Lock()
	m.scheduleReconnect(ctx)
	m.scheduleReconnect(ctx)
	m.mu.Unlock()

	require.Len(t, s.timers, 2)
	require.Len(t, s.active(), 1)
	require.True(t, s.timers[0].stopped)

	m.Close("test")
	require.Empty(t, s.active())
	require.Zero(t, m.Attempts())
	require.Equal(t, StateIdle, m.State())
}

func TestManager_CloseDoesNotReconnect(t *testing.T) {
	m, d, s := newTestManager("tok")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Connect(ctx)
	waitURL(t, d)
	conn := newMockWS()
	d.results <- dialResult{conn: conn}
	waitState(t, m, StateOpen)

	m.Close("navigation")
	require.Equal(t, StateIdle, m.State())

	select {
	case <-conn.closeCh:
	case <-time.After(time.Second):
		t.Fatal("socket was not closed")
	}

	// Give the read goroutine time to observe the close.
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, s.timers)
	require.Equal(t, StateIdle, m.State())
	require.ErrorIs(t, m.Send(models.JoinFrame{}), ErrNotConnected)
}

func TestManager_StaleTimerIgnoredAfterClose(t *testing.T) {
	m, d, s := newTestManager("tok")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Connect(ctx)
	waitURL(t, d)
	d.results <- dialResult{err: errors.New("refused")}
	waitState(t, m, StateBackoff)

	timers := s.active()
	require.Len(t, timers, 1)
	m.Close("test")

	// The callback may still run if it raced with Stop.
	timers[0].fn()

	select {
	case url := <-d.urls:
		t.Fatalf("unexpected dial to %s", url)
	case <-time.After(50 * time.Millisecond):
	}
	require.Equal(t, StateIdle, m.State())
}

func TestManager_DeliversFrames(t *testing.T) {
	m, d, _ := newTestManager("")

	frames := make(chan string, 10)
	m.OnFrame(func(data []byte) { frames <- string(data) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Connect(ctx)
	waitURL(t, d)
	conn := newMockWS()
	d.results <- dialResult{conn: conn}
	waitState(t, m, StateOpen)

	conn.readCh <- []byte(`{"type":"typing","conversationId":"a"}`)
	conn.readCh <- []byte(`not json`)

	for _, want := range []string{`{"type":"typing","conversationId":"a"}`, `not json`} {
		select {
		case got := <-frames:
			require.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatal("frame was not delivered")
		}
	}
	require.Equal(t, StateOpen, m.State())

	m.Close("test")
}

func TestManager_CancelledContextStopsReconnecting(t *testing.T) {
	m, d, s := newTestManager("tok")

	ctx, cancel := context.WithCancel(context.Background())
	m.Connect(ctx)
	waitURL(t, d)
	cancel()

	waitState(t, m, StateIdle)
	require.Empty(t, s.timers)
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		token   string
		want    string
		wantErr bool
	}{
		{"HTTPS", "https://chat.example.com", "t", "wss://chat.example.com/ws/merechat?token=t", false},
		{"HTTP with path", "http://localhost:8080/api/", "", "ws://localhost:8080/api/ws/merechat", false},
		{"Token is escaped", "https://x.io", "a b&c", "wss://x.io/ws/merechat?token=a+b%26c", false},
		{"Bad scheme", "ftp://x.io", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildURL(tt.base, "merechat", tt.token)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
