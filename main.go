package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"merechat/internal/commands"
	"merechat/internal/config"
	"merechat/internal/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type options struct {
	configPath string
	token      string
	cfg        *config.Config
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "merechat",
		Short:         "Terminal client for merechat conversations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			level, err := cfg.Level()
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			opts.cfg = cfg
			return nil
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to the TOML config file (default "+config.DefaultFile+")")
	root.PersistentFlags().StringVar(&opts.token, "token", "", "session token for this invocation only")

	root.AddCommand(
		newChatCmd(opts),
		newHistoryCmd(opts),
		newSendCmd(opts),
		newUploadCmd(opts),
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// withApp runs fn with a fully wired application and tears it down after.
func withApp(cmd *cobra.Command, opts *options, fn func(ctx context.Context, app *commands.App) error) error {
	ctx := cmd.Context()
	app, err := commands.NewApp(ctx, opts.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Error("failed to close application", "error", err)
		}
	}()

	if opts.token != "" {
		if err := app.Sessions.Login(opts.token, false); err != nil {
			return err
		}
	}
	return fn(ctx, app)
}

func optionalArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func newChatCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat [conversation]",
		Short: "Open a conversation and chat interactively",
		Long:  "Open a conversation, print its history and keep receiving messages.\nWithout an argument the last opened conversation is used.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *commands.App) error {
				g, gCtx := errgroup.WithContext(ctx)
				chatCtx, stop := context.WithCancel(gCtx)

				var metricsServer *http.MetricsServer
				if app.Config.MetricsAddr != "" {
					metricsServer = http.NewMetricsServer(app.Registry, app.Config.MetricsAddr)
					g.Go(func() error {
						return metricsServer.Start()
					})
				}

				g.Go(func() error {
					defer stop()
					return commands.Chat(chatCtx, app, optionalArg(args), cmd.InOrStdin(), cmd.OutOrStdout())
				})

				g.Go(func() error {
					<-chatCtx.Done()
					if metricsServer == nil {
						return nil
					}
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := metricsServer.Shutdown(shutdownCtx); err != nil {
						slog.Error("metrics server shutdown error", "error", err)
					}
					return nil
				})

				return g.Wait()
			})
		},
	}
}

func newHistoryCmd(opts *options) *cobra.Command {
	var html bool
	cmd := &cobra.Command{
		Use:   "history [conversation]",
		Short: "Print the messages of a conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *commands.App) error {
				return commands.History(ctx, app, optionalArg(args), html, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().BoolVar(&html, "html", false, "render the conversation as HTML")
	return cmd
}

func newSendCmd(opts *options) *cobra.Command {
	var conversation string
	cmd := &cobra.Command{
		Use:   "send <text>...",
		Short: "Send a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *commands.App) error {
				return commands.Send(ctx, app, conversation, strings.Join(args, " "), cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "conversation id (default: last opened)")
	return cmd
}

func newUploadCmd(opts *options) *cobra.Command {
	var conversation string
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Send a file as an attachment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *commands.App) error {
				return commands.Upload(ctx, app, conversation, args[0], cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "conversation id (default: last opened)")
	return cmd
}

func newLoginCmd(opts *options) *cobra.Command {
	var remember bool
	cmd := &cobra.Command{
		Use:   "login <token>",
		Short: "Store a session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *commands.App) error {
				return commands.Login(app, args[0], remember, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().BoolVar(&remember, "remember", true, "keep the token across runs")
	return cmd
}

func newLogoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, app *commands.App) error {
				return commands.Logout(app, cmd.OutOrStdout())
			})
		},
	}
}

func newConfigCmd(opts *options) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.cfg.TOML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})
	return configCmd
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	root := newRootCmd(in, out)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "merechat: %v\n", err)
		os.Exit(1)
	}
}
