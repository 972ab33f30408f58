package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sista/internal/config"
	"sista/internal/contextmgr"
	"sista/internal/decompose"
	"sista/internal/render"
	"sista/internal/server"
	"sista/internal/storage"
)

func newChatCommand(a *app) *cobra.Command {
	var (
		userID    string
		sessionID string
		tone      string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.NewSQLiteStore(a.cfg.DBPath())
			if err != nil {
				return fmt.Errorf("init storage: %w", err)
			}
			defer store.Close()
			a.logger.Debug("store opened", zap.String("path", store.Path()))

			out := render.New(cmd.OutOrStdout())
			in, inputErr := newLineInput(a.cfg.HistoryFile())
			if inputErr != nil {
				a.logger.Warn("line editor unavailable, falling back to plain input", zap.Error(inputErr))
			}
			defer in.Close()

			gw := a.gateway()
			if !gw.Configured() {
				out.Warn("no backend configured: set LMSTUDIO_URL or OPENAI_API_KEY; /todo will fall back to local heuristics")
			}
			s := &chatSession{
				store:      store,
				asker:      gw,
				decomposer: a.service(gw),
				window:     contextmgr.NewWindow(contextmgr.NewTokenizerForModel(a.cfg.Backend.Model), a.cfg.History.TokenLimit),
				out:        out,
				in:         in,
				logger:     a.logger.Named("chat"),
				userID:     userID,
				meta:       storage.SessionMeta{Tone: tone},
			}
			if sessionID != "" {
				meta, err := store.LoadSession(sessionID)
				if err != nil {
					return err
				}
				s.meta = meta
			} else if err := s.start(); err != nil {
				return err
			}

			out.Title("sista")
			out.Muted("session: " + s.meta.ID + "  (/help for commands)")
			return runREPL(cmd.Context(), s)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id sent to the backend")
	cmd.Flags().StringVar(&sessionID, "session", "", "Resume an existing session")
	cmd.Flags().StringVar(&tone, "tone", "", "Assistant tone for a new session")
	return cmd
}

func runREPL(ctx context.Context, s *chatSession) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		line, err := s.in.ReadLine(s.out.Prompt())
		if err != nil {
			switch {
			case isInterrupt(err):
				continue
			case errors.Is(err, io.EOF):
				return nil
			default:
				return fmt.Errorf("read input: %w", err)
			}
		}

		turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		exit, err := s.handleLine(turnCtx, line)
		stop()
		if err != nil {
			s.out.Error(err)
		}
		if exit {
			return nil
		}
	}
}

func newAskCommand(a *app) *cobra.Command {
	var (
		debug  bool
		raw    bool
		userID string
		tone   string
	)
	cmd := &cobra.Command{
		Use:   "ask <text>",
		Short: "Send one message to the backend and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			req := askRequest(strings.Join(args, " "), userID, tone)
			req.OverHallucination = raw
			res, err := a.gateway().Ask(ctx, req)
			if err != nil {
				return err
			}
			out := render.New(cmd.OutOrStdout())
			out.Reply(res.Response)
			if debug {
				enc := json.NewEncoder(cmd.ErrOrStderr())
				enc.SetIndent("", "  ")
				enc.SetEscapeHTML(false)
				return enc.Encode(res.DebugInfo)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "Print debug_info as JSON to stderr")
	cmd.Flags().BoolVar(&raw, "raw", false, "Skip reply sanitizing (over_hallucination)")
	cmd.Flags().StringVar(&userID, "user", "", "User id sent to the backend")
	cmd.Flags().StringVar(&tone, "tone", "", "Assistant tone")
	return cmd
}

func newTodosCommand(a *app) *cobra.Command {
	var (
		force  bool
		asJSON bool
		userID string
	)
	cmd := &cobra.Command{
		Use:   "todos <text>",
		Short: "Break a request into a todo list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc := a.service(a.gateway())
			outcome, err := svc.Decompose(ctx, strings.Join(args, " "), decompose.CallerContext{UserID: userID})
			if err != nil {
				return err
			}
			return printOutcome(cmd.OutOrStdout(), outcome, force, asJSON)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Accept todos derived locally when the backend failed")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the outcome as JSON")
	cmd.Flags().StringVar(&userID, "user", "", "User id sent to the backend")
	return cmd
}

// errDegradedRejected is returned when degraded todos are not forced.
var errDegradedRejected = errors.New("backend failed; todos were derived from the prompt only (use --force to accept)")

func printOutcome(w io.Writer, outcome decompose.Outcome, force, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(outcome); err != nil {
			return err
		}
		if outcome.Degraded() && !force {
			return errDegradedRejected
		}
		return nil
	}

	out := render.New(w)
	if force {
		outcome = outcome.Acknowledge()
	}
	items, err := outcome.Todos()
	if errors.Is(err, decompose.ErrUnacknowledged) {
		out.Outcome(outcome)
		return errDegradedRejected
	}
	if err != nil {
		return err
	}
	if outcome.Degraded() {
		out.Warn("backend failed, todos derived from the prompt: " + outcome.Reason())
	}
	out.Todos(items)
	return nil
}

func newServeCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat and todo HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gw := a.gateway()
			if !gw.Configured() {
				a.logger.Warn("no backend configured, /chat will answer 503 and /ai/todos will degrade")
			}
			srv := server.New(gw, a.service(gw), a.logger.Named("http"))
			return server.Run(ctx, addr, srv.Handler(), a.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a project config scaffold to .sista/config.yaml",
		Args:  cobra.MaximumNArgs(1),
		// init must work before any config exists.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			path, err := config.InitProjectConfigScaffold(dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
}
