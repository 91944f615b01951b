package store

import (
	"merechat/internal/models"
	"merechat/internal/render"
)

// PendingEntry links a client generated id to its optimistic node.
type PendingEntry struct {
	ClientID       string
	ConversationID string
	Handle         render.Handle
	// Sent is set while a live send is in flight or succeeded,
	// so the fallback path does not send the same message twice.
	Sent  bool
	State models.DeliveryState
}

// Store is the single source of truth for which messages are shown.
// It is not safe for concurrent use: callers serialize access so that
// every check and the mutation that follows it happen together.
type Store struct {
	pending  map[string]*PendingEntry
	settled  map[string]models.DeliveryState
	rendered map[string]map[string]struct{}
}

func New() *Store {
	return &Store{
		pending:  make(map[string]*PendingEntry),
		settled:  make(map[string]models.DeliveryState),
		rendered: make(map[string]map[string]struct{}),
	}
}

func (s *Store) RegisterPending(clientID string, h render.Handle, conversationID string) *PendingEntry {
	entry := &PendingEntry{
		ClientID:       clientID,
		ConversationID: conversationID,
		Handle:         h,
		State:          models.DeliveryStatePendingUnsent,
	}
	s.pending[clientID] = entry
	return entry
}

// MarkSent records whether a live send is considered delivered to the socket.
func (s *Store) MarkSent(clientID string, sent bool) bool {
	entry, ok := s.pending[clientID]
	if !ok {
		return false
	}
	entry.Sent = sent
	if sent {
		entry.State = models.DeliveryStatePendingSent
	} else {
		entry.State = models.DeliveryStatePendingUnsent
	}
	return true
}

// Pending returns the entry without resolving it.
func (s *Store) Pending(clientID string) (*PendingEntry, bool) {
	entry, ok := s.pending[clientID]
	return entry, ok
}

// ResolvePending removes the entry and marks the message confirmed.
// Only the first call for a client id gets the entry; a later call for an
// already confirmed id marks it superseded and returns false.
func (s *Store) ResolvePending(clientID string) (*PendingEntry, bool) {
	entry, ok := s.pending[clientID]
	if !ok {
		if s.settled[clientID] == models.DeliveryStateConfirmed {
			s.settled[clientID] = models.DeliveryStateSuperseded
		}
		return nil, false
	}
	delete(s.pending, clientID)
	entry.State = models.DeliveryStateConfirmed
	s.settled[clientID] = models.DeliveryStateConfirmed
	return entry, true
}

// Discard drops the entry without confirming it.
func (s *Store) Discard(clientID string) bool {
	entry, ok := s.pending[clientID]
	if !ok {
		return false
	}
	delete(s.pending, clientID)
	entry.State = models.DeliveryStateSuperseded
	s.settled[clientID] = models.DeliveryStateSuperseded
	return true
}

// State returns the delivery state of an outbound message.
// Unknown ids are reported as composing.
func (s *Store) State(clientID string) models.DeliveryState {
	if entry, ok := s.pending[clientID]; ok {
		return entry.State
	}
	if state, ok := s.settled[clientID]; ok {
		return state
	}
	return models.DeliveryStateComposing
}

func (s *Store) PendingCount() int {
	return len(s.pending)
}

func (s *Store) MarkRendered(conversationID, id string) {
	s.set(conversationID)[id] = struct{}{}
}

func (s *Store) IsRendered(conversationID, id string) bool {
	_, ok := s.rendered[conversationID][id]
	return ok
}

// Rendered returns the number of confirmed ids recorded for the conversation.
func (s *Store) Rendered(conversationID string) int {
	return len(s.rendered[conversationID])
}

func (s *Store) set(conversationID string) map[string]struct{} {
	ids, ok := s.rendered[conversationID]
	if !ok {
		ids = make(map[string]struct{})
		s.rendered[conversationID] = ids
	}
	return ids
}
