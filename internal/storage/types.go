package storage

import (
	"encoding"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// DBToken is the durable copy of a session token.
type DBToken struct {
	Account   string `msgpack:"account"`
	Token     string `msgpack:"token"`
	ExpiresAt int64  `msgpack:"expiresAt"`
	SavedAt   int64  `msgpack:"savedAt"`
}

func (t *DBToken) Key() []byte {
	return []byte(t.Account)
}

func (t *DBToken) MarshalBinary() (data []byte, err error) {
	type alias DBToken
	return msgpack.Marshal((*alias)(t))
}

func (t *DBToken) UnmarshalBinary(data []byte) error {
	type alias DBToken
	return msgpack.Unmarshal(data, (*alias)(t))
}

// DBConversation remembers the last conversation an account had open.
type DBConversation struct {
	Account        string `msgpack:"account"`
	ConversationID string `msgpack:"conversationId"`
	OpenedAt       int64  `msgpack:"openedAt"`
}

func (c *DBConversation) Key() []byte {
	return []byte(c.Account)
}

func (c *DBConversation) MarshalBinary() (data []byte, err error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}
