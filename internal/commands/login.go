package commands

import (
	"fmt"
	"io"

	"merechat/internal/session"

	"github.com/dustin/go-humanize"
)

func Login(app *App, token string, remember bool, out io.Writer) error {
	if err := app.Sessions.Login(token, remember); err != nil {
		return err
	}

	where := "for this process only"
	if remember {
		where = "in " + app.Config.DBFile
	}
	_, _ = fmt.Fprintf(out, "Logged in as %q, token stored %s.\n", app.Sessions.Account, where)

	if exp, ok := session.ExpiresAt(token); ok {
		_, _ = fmt.Fprintf(out, "Token expires %s.\n", humanize.Time(exp))
	}
	return nil
}

func Logout(app *App, out io.Writer) error {
	if err := app.Sessions.Logout(); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Logged out %q.\n", app.Sessions.Account)
	return nil
}
