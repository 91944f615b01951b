package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"merechat/internal/models"
	"merechat/internal/storage"

	"github.com/c-pro/geche"
)

const (
	DefaultAccount = "default"
	DefaultTTL     = 24 * time.Hour
)

var (
	ErrNoToken      = errors.New("no session token")
	ErrTokenExpired = errors.New("session token expired")
)

type durableStore interface {
	UpsertToken(token storage.DBToken) error
	GetToken(account string) (storage.DBToken, error)
	DeleteToken(account string) error
}

type Config struct {
	Account string
	TTL     time.Duration
}

// Store resolves the session token from two tiers: the ephemeral tier
// lives as long as the process (bounded by TTL), the durable tier
// survives restarts. The ephemeral tier wins.
type Store struct {
	Config
	ephemeral geche.Geche[string, string]
	durable   durableStore
	now       func() time.Time
}

func NewStore(ctx context.Context, config Config, durable durableStore) *Store {
	if config.Account == "" {
		config.Account = DefaultAccount
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	return &Store{
		Config:    config,
		ephemeral: geche.NewMapTTLCache[string, string](ctx, config.TTL, time.Minute),
		durable:   durable,
		now:       time.Now,
	}
}

// Token returns the current token or an empty string when there is no
// usable session.
func (s *Store) Token() string {
	if token, err := s.ephemeral.Get(s.Account); err == nil {
		if !s.expired(token) {
			return token
		}
		_ = s.ephemeral.Del(s.Account)
	}

	if s.durable == nil {
		return ""
	}
	stored, err := s.durable.GetToken(s.Account)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			slog.Error("failed to read durable token", "account", s.Account, "error", err)
		}
		return ""
	}
	if s.expired(stored.Token) {
		return ""
	}
	return stored.Token
}

// Login stores the token in the ephemeral tier, and also in the durable
// tier when remember is set.
func (s *Store) Login(token string, remember bool) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrNoToken
	}
	if s.expired(token) {
		return ErrTokenExpired
	}

	s.ephemeral.Set(s.Account, token)
	if !remember {
		return nil
	}
	if s.durable == nil {
		return fmt.Errorf("failed to remember token: no durable storage")
	}

	var expiresAt int64
	if exp, ok := ExpiresAt(token); ok {
		expiresAt = exp.Unix()
	}
	err := s.durable.UpsertToken(storage.DBToken{
		Account:   s.Account,
		Token:     token,
		ExpiresAt: expiresAt,
		SavedAt:   s.now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to remember token: %w", err)
	}
	return nil
}

// Logout clears both tiers.
func (s *Store) Logout() error {
	_ = s.ephemeral.Del(s.Account)
	if s.durable == nil {
		return nil
	}
	if err := s.durable.DeleteToken(s.Account); err != nil {
		return fmt.Errorf("failed to forget token: %w", err)
	}
	return nil
}

func (s *Store) expired(token string) bool {
	exp, ok := ExpiresAt(token)
	return ok && !s.now().Before(exp)
}

// ExpiresAt reads the exp claim of a JWT without verifying it.
// Tokens that are not JWTs have no known expiry.
func ExpiresAt(token string) (time.Time, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return time.Time{}, false
	}
	var claims struct {
		Exp float64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Exp <= 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(claims.Exp), 0), true
}
