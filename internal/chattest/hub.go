package chattest

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"merechat/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// record is a message as the backend stores and sends it. Ids are numeric
// on the wire.
type record struct {
	ConversationID string        `json:"conversationId"`
	MessageID      int64         `json:"messageId"`
	ClientID       string        `json:"clientId,omitempty"`
	Sender         string        `json:"sender"`
	Content        string        `json:"content,omitempty"`
	Media          *models.Media `json:"media,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}

type broadcast struct {
	Type models.FrameType `json:"type"`
	record
}

type client struct {
	id     string
	user   string
	conn   *websocket.Conn
	send   chan []byte
	joined map[string]struct{}
}

type hub struct {
	// Map of conversationID -> ordered records
	conversations map[string][]record
	// Map of clientID -> record, for idempotent sends
	byClientID map[string]record
	clients    map[string]*client
	nextID     int64
	maxRecords int

	mu sync.Mutex
}

func newHub(maxRecords int) *hub {
	return &hub{
		conversations: make(map[string][]record),
		byClientID:    make(map[string]record),
		clients:       make(map[string]*client),
		nextID:        1,
		maxRecords:    maxRecords,
	}
}

func (h *hub) join(user string, conn *websocket.Conn) *client {
	c := &client{
		id:     uuid.NewString(),
		user:   user,
		conn:   conn,
		send:   make(chan []byte, 100),
		joined: make(map[string]struct{}),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	return c
}

func (h *hub) leave(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	h.fanout(c.id, models.PresenceFrame{Type: models.FrameTypePresence, Online: false, Sender: c.user})
}

func (h *hub) subscribe(c *client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.joined[conversationID] = struct{}{}
}

// addMessage stores the message and broadcasts it to every connection.
// A repeated client id returns the stored record without a new broadcast.
func (h *hub) addMessage(conversationID, sender, content, clientID string, media *models.Media) record {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clientID != "" {
		if rec, ok := h.byClientID[clientID]; ok {
			return rec
		}
	}

	rec := record{
		ConversationID: conversationID,
		MessageID:      h.nextID,
		ClientID:       clientID,
		Sender:         sender,
		Content:        content,
		Media:          media,
		CreatedAt:      time.Now().UTC(),
	}
	h.nextID++

	records := append(h.conversations[conversationID], rec)
	if h.maxRecords > 0 && len(records) > h.maxRecords {
		records = records[len(records)-h.maxRecords:]
	}
	h.conversations[conversationID] = records
	if clientID != "" {
		h.byClientID[clientID] = rec
	}

	h.fanout("", broadcast{Type: models.FrameTypeMessage, record: rec})
	return rec
}

func (h *hub) history(conversationID string) []record {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]record, len(h.conversations[conversationID]))
	copy(out, h.conversations[conversationID])
	return out
}

// relay forwards a notification frame from one client to all the others.
func (h *hub) relay(from *client, frame any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fanout(from.id, frame)
}

// fanout must be called with h.mu held.
func (h *hub) fanout(exceptID string, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("chattest: failed to marshal frame", "error", err)
		return
	}
	for id, c := range h.clients {
		if id == exceptID {
			continue
		}
		select {
		case c.send <- data:
		default:
			slog.Warn("chattest: dropping frame for slow client", "client", id)
		}
	}
}

func (h *hub) dropAll() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for _, c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (h *hub) connected() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) joinedCount(conversationID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.clients {
		if _, ok := c.joined[conversationID]; ok {
			n++
		}
	}
	return n
}
