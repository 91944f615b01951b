package render

import (
	"fmt"
	"io"
	"sync"
	"time"

	"merechat/internal/models"
)

type line struct {
	id string
}

func (l *line) MessageID() string {
	return l.id
}

// TerminalSink prints messages as lines. Lines cannot be changed once printed,
// so updates print a delivery notice for the pending line instead.
type TerminalSink struct {
	w      io.Writer
	self   string
	known  map[string]*line
	typing map[string]time.Time
	now    func() time.Time
	mu     sync.Mutex
}

func NewTerminalSink(w io.Writer, self string) *TerminalSink {
	return &TerminalSink{
		w:      w,
		self:   self,
		known:  make(map[string]*line),
		typing: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (s *TerminalSink) Mount(msg models.Message) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := &line{id: msg.ID.String()}
	s.known[l.id] = l
	delete(s.typing, msg.Sender)
	s.print(msg)
	return l
}

func (s *TerminalSink) Update(h Handle, msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := h.(*line)
	if !ok {
		return
	}
	wasPending := models.ID(l.id).IsTemporary()
	if s.known[l.id] != l {
		// The line belongs to a view that was cleared since.
		l.id = msg.ID.String()
		return
	}
	delete(s.known, l.id)
	l.id = msg.ID.String()
	s.known[l.id] = l

	if wasPending && !msg.Pending {
		_, _ = fmt.Fprintf(s.w, "  delivered #%s\n", msg.ID)
	}
}

func (s *TerminalSink) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.known[id]
	return ok
}

func (s *TerminalSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known = make(map[string]*line)
}

func (s *TerminalSink) ShowError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known = make(map[string]*line)
	_, _ = fmt.Fprintf(s.w, "! could not load messages: %v\n", err)
}

// Typing prints a typing notice at most once per burst from the same sender.
func (s *TerminalSink) Typing(conversationID, sender string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if last, ok := s.typing[sender]; ok && now.Sub(last) < 2*time.Second {
		return
	}
	s.typing[sender] = now
	_, _ = fmt.Fprintf(s.w, "  %s is typing...\n", sender)
}

// Presence prints presence changes of other users.
func (s *TerminalSink) Presence(sender string, online bool) {
	if sender == "" || sender == s.self {
		return
	}
	state := "offline"
	if online {
		state = "online"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintf(s.w, "  %s is %s\n", sender, state)
}

func (s *TerminalSink) print(msg models.Message) {
	ts := msg.CreatedAt
	if ts.IsZero() {
		ts = s.now()
	}

	marker := ""
	if msg.Pending {
		marker = " (sending)"
	}

	text := msg.Content
	switch {
	case msg.Deleted:
		text = "[deleted]"
	case msg.Media != nil && text == "":
		text = fmt.Sprintf("[%s] %s", msg.Media.Type, msg.Media.URL)
	case msg.Media != nil:
		text = fmt.Sprintf("%s [%s] %s", text, msg.Media.Type, msg.Media.URL)
	}
	if msg.Edited {
		text += " (edited)"
	}

	_, _ = fmt.Fprintf(s.w, "[%s] %s: %s%s\n", ts.Local().Format("15:04"), msg.Sender, text, marker)
}
