package chat

import (
	"encoding/json"

	"merechat/internal/models"

	"github.com/tidwall/gjson"
)

// HandleFrame routes one inbound frame from the live connection.
// Frames that are not JSON are dropped.
func (s *Session) HandleFrame(data []byte) {
	if !gjson.ValidBytes(data) {
		s.cfg.Metrics.Frames.WithLabelValues("malformed").Inc()
		s.log.Debug("dropping malformed frame", "size", len(data))
		return
	}

	frameType := models.FrameType(gjson.GetBytes(data, "type").String())
	switch frameType {
	case models.FrameTypeMessage:
		var frame models.InboundMessage
		if err := json.Unmarshal(data, &frame); err != nil {
			s.cfg.Metrics.Frames.WithLabelValues("malformed").Inc()
			s.log.Debug("dropping undecodable message frame", "error", err)
			return
		}
		s.routeMessage(frame.Message)

	case models.FrameTypeTyping:
		var frame models.TypingFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		if s.cfg.Notifier != nil && frame.Sender != s.cfg.Sender && frame.ConversationID == s.Active() {
			s.cfg.Notifier.Typing(frame.ConversationID, frame.Sender)
		}

	case models.FrameTypePresence:
		var frame models.PresenceFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return
		}
		if s.cfg.Notifier != nil {
			s.cfg.Notifier.Presence(frame.Sender, frame.Online)
		}

	default:
		s.log.Debug("ignoring frame", "type", frameType)
		frameType = "unknown"
	}

	s.cfg.Metrics.Frames.WithLabelValues(string(frameType)).Inc()
}

func (s *Session) routeMessage(msg models.Message) {
	if msg.ID == "" || msg.ConversationID == "" {
		s.log.Debug("dropping message frame without ids", "client_id", msg.ClientID)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ClientID != "" {
		if entry, ok := s.store.Pending(msg.ClientID); ok {
			if entry.ConversationID == msg.ConversationID {
				s.store.ResolvePending(msg.ClientID)
				s.promote(entry, msg)
				return
			}
			s.store.Discard(msg.ClientID)
			s.updatePending()
			s.log.Warn("discarded pending message echoed for another conversation",
				"client_id", msg.ClientID,
				"pending_conversation", entry.ConversationID,
				"frame_conversation", msg.ConversationID,
			)
			return
		}
		// Marks a second confirmation of our own message as superseded.
		s.store.ResolvePending(msg.ClientID)
	}

	s.accept(msg)
}
