package filestore

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestLocalFileStore(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	require.NoError(t, err)

	obj, err := store.Put(bytes.NewReader(pngHeader), "")
	require.NoError(t, err)
	require.Equal(t, "png", obj.Ext)
	require.Equal(t, "image/png", obj.MIME)
	require.Equal(t, int64(len(pngHeader)), obj.Size)
	require.True(t, strings.HasSuffix(obj.Name, ".png"))

	again, err := store.Put(bytes.NewReader(pngHeader), "")
	require.NoError(t, err)
	require.Equal(t, obj, again)

	rc, err := store.Open(obj.Name)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, pngHeader, data)
}

func TestLocalFileStore_ExtensionHint(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	require.NoError(t, err)

	obj, err := store.Put(strings.NewReader("just text"), ".TXT")
	require.NoError(t, err)
	require.Equal(t, "txt", obj.Ext)
	require.Equal(t, "application/octet-stream", obj.MIME)

	obj, err = store.Put(strings.NewReader("more text"), "")
	require.NoError(t, err)
	require.Equal(t, "bin", obj.Ext)
}

func TestLocalFileStore_OpenRejectsBadNames(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "x", "../../etc/passwd", "0123456789abcdef0123456789abcdef", "0123456789abcdef0123456789abcdef.a/b"} {
		_, err := store.Open(name)
		require.ErrorIs(t, err, ErrInvalidName, name)
	}

	_, err = store.Open("0123456789abcdef0123456789abcdef.png")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalidName)
}
