package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"merechat/internal/render"

	"github.com/dustin/go-humanize"
)

var ErrNotDelivered = errors.New("message was not delivered")

// Send delivers one message through the request/response path and waits
// for the confirmation.
func Send(ctx context.Context, app *App, conversationID, text string, out io.Writer) error {
	conversationID, err := app.Conversation(conversationID)
	if err != nil {
		return err
	}

	s := app.NewSession(render.NewTerminalSink(out, app.Config.Sender), nil)
	clientID, err := s.Send(ctx, conversationID, text)
	if err != nil {
		return err
	}
	s.Wait()

	if state := s.State(clientID); state.IsPending() {
		return fmt.Errorf("%w: %s", ErrNotDelivered, state)
	}
	return nil
}

// Upload sends a file as an attachment message.
func Upload(ctx context.Context, app *App, conversationID, path string, out io.Writer) error {
	conversationID, err := app.Conversation(conversationID)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open attachment: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat attachment: %w", err)
	}

	s := app.NewSession(render.NewTerminalSink(out, app.Config.Sender), nil)
	msg, err := s.SendAttachment(ctx, conversationID, filepath.Base(path), f)
	if err != nil {
		return err
	}

	mediaType := ""
	if msg.Media != nil {
		mediaType = msg.Media.Type
	}
	_, _ = fmt.Fprintf(out, "Uploaded %s (%s, %s) as #%s.\n",
		filepath.Base(path), humanize.Bytes(uint64(info.Size())), mediaType, msg.ID)
	return nil
}
