package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"merechat/internal/models"

	"github.com/dustin/go-humanize"
)

// UploadFile stores the binary in the upload service and returns the stored name.
func (c *Client) UploadFile(ctx context.Context, name string, r io.Reader) (models.StoredFile, error) {
	if c.cfg.UploadURL == "" {
		return models.StoredFile{}, fmt.Errorf("failed to upload file: upload url is not configured")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(c.cfg.UploadEntity, filepath.Base(name))
	if err != nil {
		return models.StoredFile{}, fmt.Errorf("failed to create form file: %w", err)
	}
	size, err := io.Copy(part, r)
	if err != nil {
		return models.StoredFile{}, fmt.Errorf("failed to read file: %w", err)
	}
	if err := w.WriteField("postType", c.cfg.UploadPostType); err != nil {
		return models.StoredFile{}, fmt.Errorf("failed to write form field: %w", err)
	}
	if err := w.Close(); err != nil {
		return models.StoredFile{}, fmt.Errorf("failed to close form: %w", err)
	}

	c.log.Debug("uploading file", "name", name, "size", humanize.Bytes(uint64(size)))

	data, err := c.do(ctx, http.MethodPost, c.cfg.UploadURL, &buf, w.FormDataContentType())
	if err != nil {
		return models.StoredFile{}, fmt.Errorf("failed to upload file: %w", err)
	}

	stored, err := decodeStoredFile(data)
	if err != nil {
		return models.StoredFile{}, err
	}
	return stored, nil
}

// CreateAttachmentMessage creates a message for a file already in the upload service.
func (c *Client) CreateAttachmentMessage(ctx context.Context, conversationID, savedName, contentType string) (models.Message, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("contenttype", contentType); err != nil {
		return models.Message{}, fmt.Errorf("failed to write form field: %w", err)
	}
	if err := w.WriteField("savedname", savedName); err != nil {
		return models.Message{}, fmt.Errorf("failed to write form field: %w", err)
	}
	if err := w.Close(); err != nil {
		return models.Message{}, fmt.Errorf("failed to close form: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+c.chatPath(conversationID, "upload"), &buf, w.FormDataContentType())
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to create attachment message: %w", err)
	}
	return decodeMessage(data, conversationID)
}

// decodeStoredFile accepts a single object or a list holding one.
func decodeStoredFile(data []byte) (models.StoredFile, error) {
	data = bytes.TrimSpace(data)
	var stored models.StoredFile
	if len(data) > 0 && data[0] == '[' {
		var list []models.StoredFile
		if err := json.Unmarshal(data, &list); err != nil {
			return stored, fmt.Errorf("failed to decode upload response: %w", err)
		}
		if len(list) == 0 {
			return stored, fmt.Errorf("failed to decode upload response: empty list")
		}
		stored = list[0]
	} else if err := json.Unmarshal(data, &stored); err != nil {
		return stored, fmt.Errorf("failed to decode upload response: %w", err)
	}

	if stored.Filename == "" {
		return stored, fmt.Errorf("failed to decode upload response: missing filename")
	}
	return stored, nil
}
