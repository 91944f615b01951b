package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"merechat/internal/models"
)

const DefaultTimeout = 15 * time.Second

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// TokenSource returns the current session token or an empty string.
type TokenSource interface {
	Token() string
}

type Config struct {
	BaseURL        string
	Service        string
	UploadURL      string
	UploadEntity   string
	UploadPostType string
	Timeout        time.Duration
	Tokens         TokenSource
	HTTPClient     *http.Client
}

// Client talks to the chat backend request/response endpoints.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UploadEntity == "" {
		cfg.UploadEntity = "chat"
	}
	if cfg.UploadPostType == "" {
		cfg.UploadPostType = "photo"
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		cfg:  cfg,
		http: httpClient,
		log:  slog.Default().With("component", "api"),
	}
}

func (c *Client) chatPath(conversationID, suffix string) string {
	return fmt.Sprintf("/%s/chat/%s/%s", c.cfg.Service, url.PathEscape(conversationID), suffix)
}

// SendMessage posts a message through the request/response path.
func (c *Client) SendMessage(ctx context.Context, conversationID, content, clientID string) (models.Message, error) {
	body, err := json.Marshal(models.SendRequest{Content: content, ClientID: clientID})
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+c.chatPath(conversationID, "message"), bytes.NewReader(body), "application/json")
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to send message: %w", err)
	}

	msg, err := decodeMessage(data, conversationID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.ClientID == "" {
		msg.ClientID = clientID
	}
	return msg, nil
}

// History fetches the backlog of a conversation, oldest first.
// Every call goes to the server.
func (c *Client) History(ctx context.Context, conversationID string) ([]models.Message, error) {
	data, err := c.do(ctx, http.MethodGet, c.cfg.BaseURL+c.chatPath(conversationID, "messages"), nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	var msgs []models.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	for i := range msgs {
		if msgs[i].ConversationID == "" {
			msgs[i].ConversationID = conversationID
		}
	}
	return msgs, nil
}

func (c *Client) do(ctx context.Context, method, u string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

func (c *Client) token() string {
	if c.cfg.Tokens == nil {
		return ""
	}
	return c.cfg.Tokens.Token()
}

func decodeMessage(data []byte, conversationID string) (models.Message, error) {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	if msg.ID == "" {
		return models.Message{}, fmt.Errorf("failed to decode message: missing messageId")
	}
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	return msg, nil
}
