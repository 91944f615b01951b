package chat

import (
	"context"
	"fmt"
)

// LoadHistory replaces the view with the conversation backlog and records
// every backlog id as rendered, so later live or fallback deliveries of the
// same messages are dropped. On failure the view shows the error instead.
func (s *Session) LoadHistory(ctx context.Context, conversationID string) error {
	msgs, err := s.backend.History(ctx, conversationID)
	if err != nil {
		s.log.Error("failed to load history", "conversation", conversationID, "error", err)
		s.mu.Lock()
		s.sink.ShowError(err)
		s.mu.Unlock()
		return fmt.Errorf("failed to load history for %q: %w", conversationID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sink.Clear()
	seen := make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		id := msg.ID.String()
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			s.cfg.Metrics.DedupDrops.Inc()
			continue
		}
		seen[id] = struct{}{}

		msg.ConversationID = conversationID
		msg.Pending = false
		s.sink.Mount(msg)
		s.store.MarkRendered(conversationID, id)
	}

	s.log.Debug("history loaded", "conversation", conversationID, "messages", len(seen))
	return nil
}
