package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"merechat/internal/chat"
	"merechat/internal/render"
)

const chatHelp = `Commands:
  /open <conversation>  switch conversation
  /upload <path>        send a file
  /quit                 leave
A line ending with \ continues the message on the next line.`

// Chat runs an interactive session reading lines from in until /quit,
// end of input or ctx is done.
func Chat(ctx context.Context, app *App, conversationID string, in io.Reader, out io.Writer) error {
	conversationID, err := app.Conversation(conversationID)
	if err != nil {
		return err
	}

	sink := render.NewTerminalSink(out, app.Config.Sender)
	s := app.NewSession(sink, sink)
	defer func() {
		s.Close()
		s.Wait()
	}()

	open := func(id string) {
		if err := s.Open(ctx, id); err != nil {
			// The sink already shows the error, the conversation stays open for live messages.
			slog.Warn("opened conversation without history", "conversation", id, "error", err)
		} else {
			_, _ = fmt.Fprintf(out, "-- %s --\n", id)
		}
		if err := app.Storage.SetLastConversation(app.Config.Account, id); err != nil {
			slog.Error("failed to remember conversation", "conversation", id, "error", err)
		}
	}
	open(conversationID)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	var draft []string
	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		}

		active := s.Active()
		if strings.HasSuffix(line, `\`) {
			draft = append(draft, strings.TrimSuffix(line, `\`))
			if err := s.NotifyTyping(active); err != nil {
				slog.Debug("failed to send typing notification", "error", err)
			}
			continue
		}
		if len(draft) > 0 {
			line = strings.Join(append(draft, line), "\n")
			draft = nil
		}

		cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		arg = strings.TrimSpace(arg)
		switch cmd {
		case "/quit":
			return nil
		case "/help":
			_, _ = fmt.Fprintln(out, chatHelp)
		case "/open":
			if arg == "" {
				_, _ = fmt.Fprintln(out, "usage: /open <conversation>")
				continue
			}
			open(arg)
		case "/upload":
			if err := uploadFile(ctx, s, active, arg); err != nil {
				_, _ = fmt.Fprintf(out, "! %v\n", err)
			}
		default:
			if _, err := s.Send(ctx, active, line); err != nil && !errors.Is(err, chat.ErrEmptyContent) {
				_, _ = fmt.Fprintf(out, "! %v\n", err)
			}
		}
	}
}

func uploadFile(ctx context.Context, s *chat.Session, conversationID, path string) error {
	if path == "" {
		return fmt.Errorf("usage: /upload <path>")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = s.SendAttachment(ctx, conversationID, filepath.Base(path), f)
	return err
}
