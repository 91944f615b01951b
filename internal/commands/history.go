package commands

import (
	"context"
	"fmt"
	"io"

	"merechat/internal/render"
)

// History prints the backlog of a conversation, as terminal lines or as HTML.
func History(ctx context.Context, app *App, conversationID string, html bool, out io.Writer) error {
	conversationID, err := app.Conversation(conversationID)
	if err != nil {
		return err
	}

	if !html {
		s := app.NewSession(render.NewTerminalSink(out, app.Config.Sender), nil)
		return s.LoadHistory(ctx, conversationID)
	}

	sink := render.NewHTMLSink(app.Config.Sender)
	s := app.NewSession(sink, nil)
	err = s.LoadHistory(ctx, conversationID)
	// The view shows the error, so it is printed either way.
	_, _ = fmt.Fprintln(out, sink.HTML())
	return err
}
