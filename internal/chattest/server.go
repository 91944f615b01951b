// Package chattest runs an in-process chat backend for tests: the REST
// endpoints, the live websocket endpoint and a file upload service.
package chattest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"merechat/internal/content"
	"merechat/internal/filestore"
	"merechat/internal/models"

	"github.com/gorilla/websocket"
)

const (
	DefaultService    = "merechats"
	DefaultWSService  = "merechat"
	DefaultMaxRecords = 100

	maxUploadSize = 10 << 20
)

type Config struct {
	Service   string
	WSService string
	// Users maps tokens to user names. When empty every request is
	// accepted and attributed to Anonymous.
	Users      map[string]string
	Anonymous  string
	MaxRecords int
	Files      filestore.FileStore
}

type Server struct {
	cfg      Config
	hub      *hub
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	failSends atomic.Int32
	sends     atomic.Int32

	wg sync.WaitGroup
}

func New(cfg Config) *Server {
	if cfg.Service == "" {
		cfg.Service = DefaultService
	}
	if cfg.WSService == "" {
		cfg.WSService = DefaultWSService
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = DefaultMaxRecords
	}
	if cfg.Anonymous == "" {
		cfg.Anonymous = "me"
	}

	s := &Server{
		cfg: cfg,
		hub: newHub(cfg.MaxRecords),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		mux: http.NewServeMux(),
	}

	chat := "/" + cfg.Service + "/chat/{id}/"
	s.mux.HandleFunc("GET /ws/"+cfg.WSService, s.handleConnections)
	s.mux.HandleFunc("POST "+chat+"message", s.requireAuth(s.handleSend))
	s.mux.HandleFunc("GET "+chat+"messages", s.requireAuth(s.handleHistory))
	s.mux.HandleFunc("POST "+chat+"upload", s.requireAuth(s.handleAttachment))
	s.mux.HandleFunc("POST /upload", s.requireAuth(s.handleUpload))
	s.mux.HandleFunc("GET /files/{name}", s.handleFile)
	return s
}

// Start serves the backend on a local listener until the test ends.
// When cfg.Files is nil uploads go to a temporary directory.
func Start(t testing.TB, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	if cfg.Files == nil {
		files, err := filestore.NewLocalFileStore(filepath.Join(t.TempDir(), "files"))
		if err != nil {
			t.Fatalf("chattest: %v", err)
		}
		cfg.Files = files
	}

	s := New(cfg)
	ts := httptest.NewServer(s)
	t.Cleanup(func() {
		s.DropConnections()
		ts.Close()
		s.wg.Wait()
	})
	return s, ts
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// FailSends makes the next n message sends over REST fail with 503.
func (s *Server) FailSends(n int) {
	s.failSends.Store(int32(n))
}

// Sends returns the number of message sends received over REST.
func (s *Server) Sends() int {
	return int(s.sends.Load())
}

// DropConnections closes every live connection without a close handshake.
func (s *Server) DropConnections() {
	s.hub.dropAll()
}

// Connected returns the number of live connections.
func (s *Server) Connected() int {
	return s.hub.connected()
}

// Joined returns the number of live connections that joined the conversation.
func (s *Server) Joined(conversationID string) int {
	return s.hub.joinedCount(conversationID)
}

// Post adds a message from another participant and broadcasts it.
func (s *Server) Post(conversationID, sender, text string) models.Message {
	return s.hub.addMessage(conversationID, sender, text, "", nil).message()
}

// Messages returns the stored messages of a conversation.
func (s *Server) Messages(conversationID string) []models.Message {
	records := s.hub.history(conversationID)
	out := make([]models.Message, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.message())
	}
	return out
}

func (r record) message() models.Message {
	return models.Message{
		ConversationID: r.ConversationID,
		ID:             models.ID(fmt.Sprint(r.MessageID)),
		ClientID:       r.ClientID,
		Sender:         r.Sender,
		Content:        r.Content,
		Media:          r.Media,
		CreatedAt:      r.CreatedAt,
	}
}

func (s *Server) user(token string) (string, bool) {
	if len(s.cfg.Users) == 0 {
		return s.cfg.Anonymous, true
	}
	user, ok := s.cfg.Users[token]
	return user, ok
}

func (s *Server) requireAuth(next func(w http.ResponseWriter, r *http.Request, user string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		user, ok := s.user(token)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, user)
	}
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, user string) {
	s.sends.Add(1)
	if s.failSends.Load() > 0 {
		s.failSends.Add(-1)
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	id := r.PathValue("id")
	if err := content.ValidateConversationID(id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req models.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if content.IsBlank(req.Content) {
		http.Error(w, "Content is required", http.StatusBadRequest)
		return
	}

	rec := s.hub.addMessage(id, user, strings.TrimSpace(req.Content), req.ClientID, nil)
	writeJSON(w, rec)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, user string) {
	id := r.PathValue("id")
	if err := content.ValidateConversationID(id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, s.hub.history(id))
}

func (s *Server) handleAttachment(w http.ResponseWriter, r *http.Request, user string) {
	id := r.PathValue("id")
	if err := content.ValidateConversationID(id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	savedName := r.FormValue("savedname")
	if savedName == "" {
		http.Error(w, "savedname is required", http.StatusBadRequest)
		return
	}
	rc, err := s.cfg.Files.Open(savedName)
	if err != nil {
		http.Error(w, "Unknown file", http.StatusNotFound)
		return
	}
	_ = rc.Close()

	media := &models.Media{URL: "/files/" + savedName, Type: r.FormValue("contenttype")}
	rec := s.hub.addMessage(id, user, "", "", media)
	writeJSON(w, rec)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, "File too large", http.StatusBadRequest)
		return
	}

	// The form field is named after the uploading entity.
	var header *multipart.FileHeader
	for _, headers := range r.MultipartForm.File {
		if len(headers) > 0 {
			header = headers[0]
			break
		}
	}
	if header == nil {
		http.Error(w, "Invalid file", http.StatusBadRequest)
		return
	}
	file, err := header.Open()
	if err != nil {
		http.Error(w, "Invalid file", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	obj, err := s.cfg.Files.Put(file, filepath.Ext(header.Filename))
	if err != nil {
		slog.Error("chattest: failed to store upload", "error", err)
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}

	// The upload service answers with a list.
	writeJSON(w, []models.StoredFile{{Filename: obj.Name, Extension: obj.Ext}})
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	rc, err := s.cfg.Files.Open(r.PathValue("name"))
	if err != nil {
		if errors.Is(err, filestore.ErrInvalidName) {
			http.Error(w, "Invalid file name", http.StatusBadRequest)
			return
		}
		http.NotFound(w, r)
		return
	}
	defer func() { _ = rc.Close() }()
	_, _ = io.Copy(w, rc)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	user, ok := s.user(r.URL.Query().Get("token"))
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("chattest: error upgrading to websocket", "error", err)
		return
	}

	c := s.hub.join(user, conn)
	s.wg.Go(func() { s.writePump(c) })
	s.readPump(c)
}

func (s *Server) writePump(c *client) {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			break
		}
	}
	_ = c.conn.Close()
}

func (s *Server) readPump(c *client) {
	defer s.hub.leave(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame struct {
			Type           models.FrameType `json:"type"`
			ConversationID string           `json:"conversationId"`
			Content        string           `json:"content"`
			ClientID       string           `json:"clientId"`
			Online         bool             `json:"online"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("chattest: bad frame", "error", err)
			continue
		}

		switch frame.Type {
		case models.FrameTypeJoin:
			s.hub.subscribe(c, frame.ConversationID)
		case models.FrameTypeMessage:
			if content.IsBlank(frame.Content) || content.ValidateConversationID(frame.ConversationID) != nil {
				continue
			}
			s.hub.addMessage(frame.ConversationID, c.user, strings.TrimSpace(frame.Content), frame.ClientID, nil)
		case models.FrameTypeTyping:
			s.hub.relay(c, models.TypingFrame{Type: models.FrameTypeTyping, ConversationID: frame.ConversationID, Sender: c.user})
		case models.FrameTypePresence:
			s.hub.relay(c, models.PresenceFrame{Type: models.FrameTypePresence, Online: frame.Online, Sender: c.user})
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("chattest: failed to write response", "error", err)
	}
}
