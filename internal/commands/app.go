package commands

import (
	"context"
	"fmt"
	"strings"

	"merechat/internal/api"
	"merechat/internal/chat"
	"merechat/internal/config"
	"merechat/internal/metrics"
	"merechat/internal/render"
	"merechat/internal/session"
	"merechat/internal/storage"
	"merechat/internal/ws"

	"github.com/prometheus/client_golang/prometheus"
)

// App holds the long lived pieces shared by every command.
type App struct {
	Config   *config.Config
	Storage  *storage.BboltStorage
	Sessions *session.Store
	API      *api.Client
	Conn     *ws.Manager
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	sessions := session.NewStore(ctx, session.Config{
		Account: cfg.Account,
		TTL:     cfg.SessionTTL.Duration,
	}, bbStorage)

	uploadURL := cfg.UploadURL
	if uploadURL == "" {
		uploadURL = strings.TrimSuffix(cfg.BaseURL, "/") + "/upload"
	}

	client := api.NewClient(api.Config{
		BaseURL:        cfg.BaseURL,
		Service:        cfg.Service,
		UploadURL:      uploadURL,
		UploadEntity:   cfg.UploadEntity,
		UploadPostType: cfg.UploadPostType,
		Timeout:        cfg.RequestTimeout.Duration,
		Tokens:         sessions,
	})

	conn := ws.NewManager(ws.Config{
		BaseURL:   cfg.BaseURL,
		Service:   cfg.WSService,
		Tokens:    sessions,
		BaseDelay: cfg.ReconnectBase.Duration,
		MaxDelay:  cfg.ReconnectMax.Duration,
		Metrics:   m,
	})

	return &App{
		Config:   cfg,
		Storage:  bbStorage,
		Sessions: sessions,
		API:      client,
		Conn:     conn,
		Registry: registry,
		Metrics:  m,
	}, nil
}

// NewSession creates a chat session rendering into sink.
// notifier may be nil.
func (a *App) NewSession(sink render.Sink, notifier chat.Notifier) *chat.Session {
	return chat.NewSession(chat.Config{
		Sender:         a.Config.Sender,
		TypingInterval: a.Config.TypingInterval.Duration,
		Metrics:        a.Metrics,
		Notifier:       notifier,
	}, a.Conn, a.API, sink)
}

// Conversation returns id, or the last opened conversation when id is empty.
func (a *App) Conversation(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	last, err := a.Storage.LastConversation(a.Config.Account)
	if err != nil {
		return "", fmt.Errorf("no conversation given and none opened before: %w", err)
	}
	return last, nil
}

func (a *App) Close() error {
	a.Conn.Close("shutdown")
	return a.Storage.Close()
}
