package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"merechat/internal/models"
	"merechat/internal/storage"

	"github.com/stretchr/testify/require"
)

type mockDurable struct {
	tokens map[string]storage.DBToken
	err    error
}

func newMockDurable() *mockDurable {
	return &mockDurable{tokens: make(map[string]storage.DBToken)}
}

func (m *mockDurable) UpsertToken(token storage.DBToken) error {
	if m.err != nil {
		return m.err
	}
	m.tokens[token.Account] = token
	return nil
}

func (m *mockDurable) GetToken(account string) (storage.DBToken, error) {
	if m.err != nil {
		return storage.DBToken{}, m.err
	}
	token, ok := m.tokens[account]
	if !ok {
		return storage.DBToken{}, models.ErrNotFound
	}
	return token, nil
}

func (m *mockDurable) DeleteToken(account string) error {
	delete(m.tokens, account)
	return nil
}

func jwt(exp int64) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"sub":"1","exp":%d}`, exp)))
	return header + "." + payload + ".sig"
}

func TestStore(t *testing.T) {
	const t0Unix = 1700000000

	createStore := func(t *testing.T, durable durableStore) *Store {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		s := NewStore(ctx, Config{TTL: time.Hour}, durable)
		s.now = func() time.Time { return time.Unix(t0Unix, 0) }
		return s
	}

	t.Run("EphemeralPreferred", func(t *testing.T) {
		durable := newMockDurable()
		durable.tokens[DefaultAccount] = storage.DBToken{Account: DefaultAccount, Token: "durable"}
		s := createStore(t, durable)

		require.Equal(t, "durable", s.Token())
		require.NoError(t, s.Login("ephemeral", false))
		require.Equal(t, "ephemeral", s.Token())
		require.Equal(t, "durable", durable.tokens[DefaultAccount].Token)
	})

	t.Run("Remember", func(t *testing.T) {
		durable := newMockDurable()
		s := createStore(t, durable)
		token := jwt(t0Unix + 3600)

		require.NoError(t, s.Login(token, true))
		stored := durable.tokens[DefaultAccount]
		require.Equal(t, token, stored.Token)
		require.Equal(t, int64(t0Unix+3600), stored.ExpiresAt)
		require.Equal(t, int64(t0Unix), stored.SavedAt)

		// A fresh process only has the durable tier.
		fresh := createStore(t, durable)
		require.Equal(t, token, fresh.Token())
	})

	t.Run("Logout", func(t *testing.T) {
		durable := newMockDurable()
		s := createStore(t, durable)
		require.NoError(t, s.Login("tok", true))
		require.NoError(t, s.Logout())
		require.Empty(t, s.Token())
		require.Empty(t, durable.tokens)
	})

	t.Run("Expired", func(t *testing.T) {
		durable := newMockDurable()
		durable.tokens[DefaultAccount] = storage.DBToken{Account: DefaultAccount, Token: jwt(t0Unix - 1)}
		s := createStore(t, durable)

		require.Empty(t, s.Token())
		require.ErrorIs(t, s.Login(jwt(t0Unix), false), ErrTokenExpired)
		require.ErrorIs(t, s.Login("   ", false), ErrNoToken)
	})

	t.Run("DurableFailure", func(t *testing.T) {
		durable := newMockDurable()
		durable.err = errors.New("disk full")
		s := createStore(t, durable)

		require.Empty(t, s.Token())
		require.ErrorContains(t, s.Login("tok", true), "disk full")
		require.Equal(t, "tok", s.Token())
	})

	t.Run("NoDurable", func(t *testing.T) {
		s := createStore(t, nil)
		require.Empty(t, s.Token())
		require.NoError(t, s.Login("tok", false))
		require.Error(t, s.Login("tok", true))
		require.NoError(t, s.Logout())
	})

	t.Run("Bbolt", func(t *testing.T) {
		db, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "session.db"))
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		s := createStore(t, db)
		require.NoError(t, s.Login("tok", true))
		require.Equal(t, "tok", createStore(t, db).Token())
	})
}

func TestExpiresAt(t *testing.T) {
	exp, ok := ExpiresAt(jwt(1700000000))
	require.True(t, ok)
	require.Equal(t, int64(1700000000), exp.Unix())

	for _, token := range []string{"opaque", "a.b", "a.!!!.c", "a." + base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"1"}`)) + ".c"} {
		_, ok := ExpiresAt(token)
		require.False(t, ok, token)
	}
}
