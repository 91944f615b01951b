package chat

import (
	"context"
	"strings"

	"merechat/internal/content"
	"merechat/internal/models"
	"merechat/internal/store"
)

// Send shows the message right away as pending and delivers it over the
// live connection, or through the request/response fallback when the
// connection is down or the write fails. It returns the client id.
func (s *Session) Send(ctx context.Context, conversationID, text string) (string, error) {
	if content.IsBlank(text) {
		return "", ErrEmptyContent
	}
	text = strings.TrimSpace(text)

	now := s.now()
	clientID := models.NewClientID(now)
	msg := models.Message{
		ConversationID: conversationID,
		ID:             models.ID(clientID),
		ClientID:       clientID,
		Sender:         s.cfg.Sender,
		Content:        text,
		CreatedAt:      now,
		Pending:        true,
	}

	s.mu.Lock()
	h := s.sink.Mount(msg)
	s.store.RegisterPending(clientID, h, conversationID)
	s.updatePending()
	s.mu.Unlock()

	if s.conn.IsOpen() {
		s.mu.Lock()
		s.store.MarkSent(clientID, true)
		s.mu.Unlock()

		err := s.conn.Send(models.OutboundMessage{
			Type:           models.FrameTypeMessage,
			ConversationID: conversationID,
			Content:        text,
			ClientID:       clientID,
		})
		if err == nil {
			return clientID, nil
		}

		s.log.Warn("live send failed, using fallback", "client_id", clientID, "error", err)
		s.mu.Lock()
		s.store.MarkSent(clientID, false)
		s.mu.Unlock()
	}

	s.inflight.Go(func() {
		s.sendFallback(ctx, conversationID, text, clientID)
	})
	return clientID, nil
}

func (s *Session) sendFallback(ctx context.Context, conversationID, text, clientID string) {
	s.mu.Lock()
	entry, ok := s.store.Pending(clientID)
	sent := ok && entry.Sent
	s.mu.Unlock()
	if sent {
		return
	}

	msg, err := s.backend.SendMessage(ctx, conversationID, text, clientID)
	if err != nil {
		// No retry: the message stays pending.
		s.cfg.Metrics.FallbackSends.WithLabelValues("error").Inc()
		s.log.Error("fallback send failed", "conversation", conversationID, "client_id", clientID, "error", err)
		return
	}
	s.cfg.Metrics.FallbackSends.WithLabelValues("ok").Inc()
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.store.ResolvePending(clientID); ok {
		s.promote(entry, msg)
		return
	}
	// The broadcast got here first.
	s.accept(msg)
}

// promote turns the optimistic node into the confirmed message.
// It must be called with s.mu held, after the entry was resolved.
func (s *Session) promote(entry *store.PendingEntry, msg models.Message) {
	msg.Pending = false
	msg.ConversationID = entry.ConversationID
	if msg.ClientID == "" {
		msg.ClientID = entry.ClientID
	}
	if s.opening != "" && entry.ConversationID == s.opening {
		// The optimistic node is gone with the old view.
		s.held = append(s.held, msg)
	} else {
		s.sink.Update(entry.Handle, msg)
		s.store.MarkRendered(entry.ConversationID, msg.ID.String())
	}
	s.updatePending()
}

// accept mounts a confirmed message unless it was already shown.
// Messages for conversations other than the open one are only recorded,
// messages for the conversation being opened are held until its backlog
// is in place. It must be called with s.mu held.
func (s *Session) accept(msg models.Message) bool {
	if s.opening != "" && msg.ConversationID == s.opening {
		s.held = append(s.held, msg)
		return false
	}

	id := msg.ID.String()
	if s.store.IsRendered(msg.ConversationID, id) || (msg.ConversationID == s.active && s.sink.Has(id)) {
		s.cfg.Metrics.DedupDrops.Inc()
		return false
	}

	s.store.MarkRendered(msg.ConversationID, id)
	if msg.ConversationID != s.active {
		return false
	}
	msg.Pending = false
	s.sink.Mount(msg)
	return true
}
