package render

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"merechat/internal/content"
	"merechat/internal/models"
)

// Node is a rendered message in an HTMLSink.
type Node struct {
	msg      models.Message
	body     string
	attached bool
}

func (n *Node) MessageID() string {
	return n.msg.ID.String()
}

// ElementID is the DOM id of the node.
func (n *Node) ElementID() string {
	return "msg-" + n.msg.ID.String()
}

func (n *Node) Pending() bool {
	return n.msg.Pending
}

// HTMLSink keeps an ordered list of message nodes and renders them as HTML.
type HTMLSink struct {
	self  string
	nodes []*Node
	byID  map[string]*Node
	err   error
	mu    sync.RWMutex
}

func NewHTMLSink(self string) *HTMLSink {
	return &HTMLSink{
		self: self,
		byID: make(map[string]*Node),
	}
}

func (s *HTMLSink) Mount(msg models.Message) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := &Node{attached: true}
	s.fill(n, msg)
	s.err = nil
	s.nodes = append(s.nodes, n)
	s.byID[n.MessageID()] = n
	return n
}

func (s *HTMLSink) Update(h Handle, msg models.Message) {
	n, ok := h.(*Node)
	if !ok {
		slog.Warn("html sink: foreign handle", "id", h.MessageID())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !n.attached {
		s.fill(n, msg)
		return
	}
	if s.byID[n.MessageID()] == n {
		delete(s.byID, n.MessageID())
	}
	s.fill(n, msg)
	s.byID[n.MessageID()] = n
}

func (s *HTMLSink) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok
}

func (s *HTMLSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detach()
	s.nodes = nil
	s.byID = make(map[string]*Node)
	s.err = nil
}

func (s *HTMLSink) ShowError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detach()
	s.nodes = nil
	s.byID = make(map[string]*Node)
	s.err = err
}

func (s *HTMLSink) detach() {
	for _, n := range s.nodes {
		n.attached = false
	}
}

// Nodes returns the mounted nodes in display order.
func (s *HTMLSink) Nodes() []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Node, len(s.nodes))
	copy(out, s.nodes)
	return out
}

// HTML renders the whole view.
func (s *HTMLSink) HTML() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b strings.Builder
	if s.err != nil {
		fmt.Fprintf(&b, `<div class="chat-error">Could not load messages: %s</div>`, content.Escape(s.err.Error()))
		return b.String()
	}

	b.WriteString(`<div class="messages">`)
	for _, n := range s.nodes {
		b.WriteString(n.body)
	}
	b.WriteString(`</div>`)
	return b.String()
}

func (s *HTMLSink) fill(n *Node, msg models.Message) {
	n.msg = msg

	classes := []string{"message"}
	if msg.Sender == s.self {
		classes = append(classes, "mine")
	}
	if msg.Pending {
		classes = append(classes, "pending")
	}
	if msg.Edited {
		classes = append(classes, "edited")
	}

	var body string
	switch {
	case msg.Deleted:
		body = `<em>message deleted</em>`
	default:
		html, err := content.Markdown(msg.Content)
		if err != nil {
			slog.Warn("html sink: markdown failed", "id", msg.ID, "error", err)
			html = content.Escape(msg.Content)
		}
		body = html + mediaHTML(msg.Media)
	}

	n.body = fmt.Sprintf(`<div id="%s" class="%s" data-sender="%s">%s</div>`,
		content.Escape(n.ElementID()),
		strings.Join(classes, " "),
		content.Escape(msg.Sender),
		body,
	)
}

func mediaHTML(m *models.Media) string {
	if m == nil || m.URL == "" {
		return ""
	}
	url := content.Escape(m.URL)
	switch {
	case strings.HasPrefix(m.Type, "image/"):
		return fmt.Sprintf(`<img src="%s" alt="attachment">`, url)
	case strings.HasPrefix(m.Type, "video/"):
		return fmt.Sprintf(`<video src="%s" controls></video>`, url)
	default:
		return fmt.Sprintf(`<a href="%s" download>attachment</a>`, url)
	}
}
