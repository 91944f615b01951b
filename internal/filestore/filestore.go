package filestore

import (
	"errors"
	"io"
)

var ErrInvalidName = errors.New("invalid file name")

// Object describes a stored file.
type Object struct {
	// Name is the content hash followed by the extension, e.g. "3f2a...9c.png".
	Name string
	Ext  string
	MIME string
	Size int64
}

// FileStore is an interface for storing attachments by content.
type FileStore interface {
	// Put stores the content and returns its object.
	// It is idempotent: storing the same bytes twice returns the same name.
	// When ext is empty the extension is detected from the content.
	Put(r io.Reader, ext string) (Object, error)

	// Open returns the content of a stored object.
	Open(name string) (io.ReadCloser, error)
}
