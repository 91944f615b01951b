package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"merechat/internal/models"

	"github.com/h2non/filetype"
)

// sniffLen is enough bytes for filetype to recognize every type it knows.
const sniffLen = 261

const defaultContentType = "application/octet-stream"

// mediaTypes takes precedence over filetype's table for the formats the
// chat renders inline.
var mediaTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"mp4":  "video/mp4",
	"mov":  "video/quicktime",
	"webm": "video/webm",
}

// SendAttachment uploads a file and then creates the message that
// references it. Nothing is created when the upload fails.
func (s *Session) SendAttachment(ctx context.Context, conversationID, name string, r io.Reader) (models.Message, error) {
	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return models.Message{}, fmt.Errorf("failed to read attachment: %w", err)
	}
	if len(head) == 0 {
		return models.Message{}, ErrEmptyAttachment
	}

	sniffed := ""
	if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown {
		sniffed = kind.MIME.Value
	}

	stored, err := s.backend.UploadFile(ctx, name, br)
	if err != nil {
		s.cfg.Metrics.Uploads.WithLabelValues("upload_error").Inc()
		return models.Message{}, fmt.Errorf("failed to upload %q: %w", name, err)
	}

	ext := stored.Extension
	if ext == "" {
		ext = filepath.Ext(name)
	}
	contentType := ContentType(ext)
	if contentType == "" {
		contentType = sniffed
	}
	if contentType == "" {
		contentType = defaultContentType
	}

	msg, err := s.backend.CreateAttachmentMessage(ctx, conversationID, stored.Filename, contentType)
	if err != nil {
		s.cfg.Metrics.Uploads.WithLabelValues("message_error").Inc()
		return models.Message{}, fmt.Errorf("failed to create attachment message: %w", err)
	}
	s.cfg.Metrics.Uploads.WithLabelValues("ok").Inc()
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}

	s.mu.Lock()
	s.accept(msg)
	s.mu.Unlock()

	s.log.Info("attachment sent", "conversation", conversationID, "file", stored.Filename, "content_type", contentType)
	return msg, nil
}

// ContentType maps a file extension to the media type announced with the
// attachment message. Unknown extensions map to "".
func ContentType(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		return ""
	}
	if mime, ok := mediaTypes[ext]; ok {
		return mime
	}
	kind := filetype.GetType(ext)
	if kind == filetype.Unknown {
		return ""
	}
	return kind.MIME.Value
}
