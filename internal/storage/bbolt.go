package storage

import (
	"fmt"
	"time"

	"merechat/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketTokens        = []byte("tokens")
	bucketConversations = []byte("conversations")
)

// BboltStorage keeps client state that survives restarts.
type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketTokens); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketConversations); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

func (s *BboltStorage) put(bucket []byte, item Storeable) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := item.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put(item.Key(), data)
	})
}

func (s *BboltStorage) get(bucket []byte, item Storeable) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucket).Get(item.Key())
		if data == nil {
			return models.ErrNotFound
		}
		return item.UnmarshalBinary(data)
	})
}

func (s *BboltStorage) del(bucket []byte, key []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Delete(key)
	})
}

// UpsertToken stores the durable session token of an account.
func (s *BboltStorage) UpsertToken(token DBToken) error {
	return s.put(bucketTokens, &token)
}

// GetToken returns models.ErrNotFound when the account has no token.
func (s *BboltStorage) GetToken(account string) (DBToken, error) {
	token := DBToken{Account: account}
	if err := s.get(bucketTokens, &token); err != nil {
		return DBToken{}, err
	}
	return token, nil
}

func (s *BboltStorage) DeleteToken(account string) error {
	return s.del(bucketTokens, []byte(account))
}

// SetLastConversation records the conversation the account opened last.
func (s *BboltStorage) SetLastConversation(account, conversationID string) error {
	return s.put(bucketConversations, &DBConversation{
		Account:        account,
		ConversationID: conversationID,
		OpenedAt:       time.Now().Unix(),
	})
}

// LastConversation returns models.ErrNotFound when nothing was opened yet.
func (s *BboltStorage) LastConversation(account string) (string, error) {
	c := DBConversation{Account: account}
	if err := s.get(bucketConversations, &c); err != nil {
		return "", err
	}
	return c.ConversationID, nil
}
