package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
)

// ClientIDPrefix marks ids generated locally for messages the server has not confirmed yet.
const ClientIDPrefix = "c_"

// ID is a message identifier. The server sends numeric or string ids,
// both are kept as strings so they are stable map keys.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid message id %s: %w", data, err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// IsTemporary reports whether the id was generated by NewClientID.
func (id ID) IsTemporary() bool {
	return strings.HasPrefix(string(id), ClientIDPrefix)
}

// NewClientID returns a temporary id in the form c_<unix millis>_<base36 random>.
func NewClientID(now time.Time) string {
	u := uuid.New()
	var n uint64
	for _, b := range u[:8] {
		n = n<<8 | uint64(b)
	}
	random := strconv.FormatUint(n, 36)
	if len(random) > 8 {
		random = random[:8]
	}
	return ClientIDPrefix + strconv.FormatInt(now.UnixMilli(), 10) + "_" + random
}

// Media describes an attachment rendered with a message.
type Media struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// Message represents a chat message as seen by the client.
type Message struct {
	ConversationID string    `json:"conversationId"`
	ID             ID        `json:"messageId"`
	ClientID       string    `json:"clientId,omitempty"`
	Sender         string    `json:"sender"`
	Content        string    `json:"content,omitempty"`
	Media          *Media    `json:"media,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	Pending        bool      `json:"pending,omitempty"`
	Edited         bool      `json:"edited,omitempty"`
	Deleted        bool      `json:"deleted,omitempty"`
}

// DeliveryState tracks an outbound message from composition to confirmation.
type DeliveryState string

const (
	DeliveryStateComposing     DeliveryState = "composing"
	DeliveryStatePendingSent   DeliveryState = "pending-sent"
	DeliveryStatePendingUnsent DeliveryState = "pending-unsent"
	DeliveryStateConfirmed     DeliveryState = "confirmed"
	DeliveryStateSuperseded    DeliveryState = "superseded"
)

func (s DeliveryState) IsPending() bool {
	return s == DeliveryStatePendingSent || s == DeliveryStatePendingUnsent
}

type FrameType string

const (
	FrameTypeMessage  FrameType = "message"
	FrameTypeTyping   FrameType = "typing"
	FrameTypePresence FrameType = "presence"
	FrameTypeJoin     FrameType = "join"
)

// OutboundMessage is sent over the live connection.
type OutboundMessage struct {
	Type           FrameType `json:"type"`
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"content"`
	ClientID       string    `json:"clientId"`
}

// InboundMessage is a message broadcast received over the live connection.
type InboundMessage struct {
	Type FrameType `json:"type"`
	Message
}

type TypingFrame struct {
	Type           FrameType `json:"type"`
	ConversationID string    `json:"conversationId"`
	Sender         string    `json:"sender,omitempty"`
}

type PresenceFrame struct {
	Type   FrameType `json:"type"`
	Online bool      `json:"online"`
	Sender string    `json:"sender,omitempty"`
}

type JoinFrame struct {
	Type           FrameType `json:"type"`
	ConversationID string    `json:"conversationId"`
}

// SendRequest is the body of the REST fallback send call.
type SendRequest struct {
	Content  string `json:"content"`
	ClientID string `json:"clientId"`
}

// StoredFile is returned by the binary upload service.
type StoredFile struct {
	Filename  string `json:"filename"`
	Extension string `json:"extn"`
}
