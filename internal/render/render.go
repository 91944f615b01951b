package render

import "merechat/internal/models"

// Handle identifies a node previously produced by a Sink.
type Handle interface {
	MessageID() string
}

// Sink displays messages for the open conversation.
// Mount creates a node, Update mutates an existing node in place.
type Sink interface {
	Mount(msg models.Message) Handle
	Update(h Handle, msg models.Message)
	// Has reports whether a node with the given message id is in the view.
	Has(id string) bool
	// Clear removes every node from the view.
	Clear()
	// ShowError replaces the view with an error notice.
	ShowError(err error)
}
