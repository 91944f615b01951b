package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"merechat/internal/content"
	"merechat/internal/metrics"
	"merechat/internal/models"
	"merechat/internal/render"
	"merechat/internal/store"

	"golang.org/x/time/rate"
)

const DefaultTypingInterval = 1500 * time.Millisecond

var (
	ErrEmptyContent    = errors.New("message is empty")
	ErrEmptyAttachment = errors.New("attachment is empty")
)

type transport interface {
	Connect(ctx context.Context)
	Close(reason string)
	Send(v any) error
	IsOpen() bool
	SetActiveConversation(id string)
	OnFrame(fn func(data []byte))
}

type backend interface {
	SendMessage(ctx context.Context, conversationID, content, clientID string) (models.Message, error)
	History(ctx context.Context, conversationID string) ([]models.Message, error)
	UploadFile(ctx context.Context, name string, r io.Reader) (models.StoredFile, error)
	CreateAttachmentMessage(ctx context.Context, conversationID, savedName, contentType string) (models.Message, error)
}

// Notifier receives typing and presence notifications.
type Notifier interface {
	Typing(conversationID, sender string)
	Presence(sender string, online bool)
}

type Config struct {
	// Sender is the identity of the local user.
	Sender         string
	TypingInterval time.Duration
	Metrics        *metrics.Metrics
	Notifier       Notifier
}

// Session keeps the view of the open conversation consistent with
// messages arriving from the optimistic echo, the live connection and
// the request/response fallback.
type Session struct {
	cfg     Config
	conn    transport
	backend backend
	sink    render.Sink
	typing  *rate.Limiter
	log     *slog.Logger
	now     func() time.Time

	// mu guards store, active, opening, held and every sink call.
	mu     sync.Mutex
	store  *store.Store
	active string
	// opening is the conversation whose backlog is being loaded. Its
	// messages are held until the backlog is mounted.
	opening string
	held    []models.Message

	inflight sync.WaitGroup
}

func NewSession(cfg Config, conn transport, backend backend, sink render.Sink) *Session {
	if cfg.TypingInterval <= 0 {
		cfg.TypingInterval = DefaultTypingInterval
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(nil)
	}

	s := &Session{
		cfg:     cfg,
		conn:    conn,
		backend: backend,
		sink:    sink,
		typing:  rate.NewLimiter(rate.Every(cfg.TypingInterval), 1),
		log:     slog.Default().With("component", "chat"),
		now:     time.Now,
		store:   store.New(),
	}
	conn.OnFrame(s.HandleFrame)
	return s
}

// Open shows a conversation: the backlog is loaded and recorded first,
// only then is the conversation marked active for live delivery.
func (s *Session) Open(ctx context.Context, conversationID string) error {
	if err := content.ValidateConversationID(conversationID); err != nil {
		return err
	}

	s.mu.Lock()
	s.active = ""
	s.opening = conversationID
	s.held = nil
	s.mu.Unlock()
	s.conn.SetActiveConversation("")

	err := s.LoadHistory(ctx, conversationID)

	s.mu.Lock()
	s.active = conversationID
	s.opening = ""
	held := s.held
	s.held = nil
	for _, msg := range held {
		s.accept(msg)
	}
	s.mu.Unlock()
	s.conn.SetActiveConversation(conversationID)
	s.conn.Connect(ctx)

	return err
}

// Close drops the live connection. In-flight fallback sends keep running,
// use Wait to drain them.
func (s *Session) Close() {
	s.mu.Lock()
	s.active = ""
	s.opening = ""
	s.held = nil
	s.mu.Unlock()
	s.conn.Close("session closed")
}

// Wait blocks until every in-flight fallback send has completed.
func (s *Session) Wait() {
	s.inflight.Wait()
}

// Active returns the open conversation id.
func (s *Session) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// State returns the delivery state of a message sent from this session.
func (s *Session) State(clientID string) models.DeliveryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.State(clientID)
}

// IsRendered reports whether the confirmed id was recorded for the conversation.
func (s *Session) IsRendered(conversationID, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.IsRendered(conversationID, id)
}

// NotifyTyping tells other participants the user is typing.
// Calls within the typing interval of the previous one are dropped.
func (s *Session) NotifyTyping(conversationID string) error {
	if !s.conn.IsOpen() || !s.typing.Allow() {
		return nil
	}
	return s.conn.Send(models.TypingFrame{Type: models.FrameTypeTyping, ConversationID: conversationID})
}

// updatePending must be called with s.mu held.
func (s *Session) updatePending() {
	s.cfg.Metrics.Pending.Set(float64(s.store.PendingCount()))
}
