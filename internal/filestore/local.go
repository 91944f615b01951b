package filestore

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
)

const (
	sniffLen = 261
	hashLen  = 32
)

// LocalFileStore implements FileStore using the local filesystem.
type LocalFileStore struct {
	root string
}

func NewLocalFileStore(root string) (*LocalFileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &LocalFileStore{root: root}, nil
}

func (s *LocalFileStore) getPath(name string) string {
	return filepath.Join(s.root, name[:2], name)
}

func (s *LocalFileStore) Put(r io.Reader, ext string) (Object, error) {
	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return Object{}, fmt.Errorf("failed to read data: %w", err)
	}

	obj := Object{Ext: strings.ToLower(strings.TrimPrefix(ext, "."))}
	if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown {
		obj.MIME = kind.MIME.Value
		if obj.Ext == "" {
			obj.Ext = kind.Extension
		}
	} else if obj.Ext != "" {
		if kind := filetype.GetType(obj.Ext); kind != filetype.Unknown {
			obj.MIME = kind.MIME.Value
		}
	}
	if obj.Ext == "" {
		obj.Ext = "bin"
	}
	if obj.MIME == "" {
		obj.MIME = "application/octet-stream"
	}

	if err := os.MkdirAll(s.root, 0755); err != nil {
		return Object{}, fmt.Errorf("failed to create root directory: %w", err)
	}

	// Write to temporary file first, hashing on the way
	tmp, err := os.CreateTemp(s.root, "upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	h := sha256.New()
	obj.Size, err = io.Copy(io.MultiWriter(tmp, h), br)
	if err != nil {
		return Object{}, fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Object{}, fmt.Errorf("failed to close temp file: %w", err)
	}

	obj.Name = hex.EncodeToString(h.Sum(nil))[:hashLen] + "." + obj.Ext
	path := s.getPath(obj.Name)

	// Idempotency check
	if _, err := os.Stat(path); err == nil {
		return obj, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Object{}, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Object{}, fmt.Errorf("failed to rename file: %w", err)
	}

	return obj, nil
}

func (s *LocalFileStore) Open(name string) (io.ReadCloser, error) {
	if !validName(name) {
		return nil, ErrInvalidName
	}
	f, err := os.Open(s.getPath(name))
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", name, err)
	}
	return f, nil
}

func validName(name string) bool {
	hash, ext, ok := strings.Cut(name, ".")
	if !ok || len(hash) != hashLen || ext == "" || strings.ContainsAny(ext, `/\.`) {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}
