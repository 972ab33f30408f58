package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"sista/internal/chat"
	"sista/internal/contextmgr"
	"sista/internal/decompose"
	"sista/internal/gateway"
	"sista/internal/render"
	"sista/internal/storage"
)

const titleMaxRunes = 40

type asker interface {
	Ask(ctx context.Context, req gateway.Request) (gateway.Result, error)
}

type decomposer interface {
	Decompose(ctx context.Context, prompt string, cc decompose.CallerContext) (decompose.Outcome, error)
}

type replCommand struct {
	name  string
	usage string
}

var replCommands = []replCommand{
	{"/todo", "/todo <text>   break a request into todos"},
	{"/todos", "/todos         list todos of this session"},
	{"/done", "/done <id>     mark a todo as done"},
	{"/tone", "/tone [text]   set or clear the assistant tone"},
	{"/new", "/new           start a new session"},
	{"/sessions", "/sessions      list sessions"},
	{"/use", "/use <id>      switch to a session"},
	{"/help", "/help          show commands"},
	{"/exit", "/exit          quit"},
}

// chatSession is one REPL conversation bound to a stored session.
type chatSession struct {
	store      storage.Store
	asker      asker
	decomposer decomposer
	window     *contextmgr.Window
	out        *render.Renderer
	in         lineInput
	logger     *zap.Logger
	userID     string

	meta storage.SessionMeta
}

func (s *chatSession) start() error {
	meta := storage.SessionMeta{ID: storage.NewSessionID(), UserID: s.userID}
	if s.meta.Tone != "" {
		meta.Tone = s.meta.Tone
	}
	if err := s.store.CreateSession(meta); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	s.meta = meta
	return nil
}

// handleLine runs one line of input. It reports whether the REPL should exit.
func (s *chatSession) handleLine(ctx context.Context, line string) (bool, error) {
	input := strings.TrimSpace(line)
	if input == "" {
		return false, nil
	}
	if !strings.HasPrefix(input, "/") {
		return false, s.ask(ctx, input)
	}

	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/exit", "/quit":
		return true, nil
	case "/help":
		s.printHelp()
		return false, nil
	case "/todo":
		if arg == "" {
			return false, errors.New("usage: /todo <text>")
		}
		return false, s.todo(ctx, arg)
	case "/todos":
		items, err := s.store.ListTodos(s.meta.ID)
		if err != nil {
			return false, err
		}
		s.out.Todos(items)
		return false, nil
	case "/done":
		id, err := strconv.Atoi(arg)
		if err != nil {
			return false, fmt.Errorf("usage: /done <id>")
		}
		if err := s.store.SetTodoStatus(s.meta.ID, id, decompose.TodoDone); err != nil {
			return false, err
		}
		s.out.Success(fmt.Sprintf("todo %d done", id))
		return false, nil
	case "/tone":
		s.meta.Tone = arg
		if err := s.store.SaveSession(s.meta); err != nil {
			return false, err
		}
		if arg == "" {
			s.out.Muted("tone cleared")
		} else {
			s.out.Muted("tone: " + arg)
		}
		return false, nil
	case "/new":
		s.meta.Tone = ""
		if err := s.start(); err != nil {
			return false, err
		}
		s.out.Muted("session: " + s.meta.ID)
		return false, nil
	case "/sessions":
		return false, s.listSessions()
	case "/use":
		if arg == "" {
			return false, errors.New("usage: /use <id>")
		}
		meta, err := s.store.LoadSession(arg)
		if err != nil {
			return false, err
		}
		s.meta = meta
		s.out.Muted("session: " + meta.ID)
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %s, try /help", name)
	}
}

func (s *chatSession) printHelp() {
	s.out.Title("commands:")
	for _, c := range replCommands {
		s.out.Info("  " + c.usage)
	}
}

func (s *chatSession) listSessions() error {
	metas, err := s.store.ListSessions()
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		s.out.Muted("(no sessions)")
		return nil
	}
	for _, m := range metas {
		marker := " "
		if m.ID == s.meta.ID {
			marker = "*"
		}
		title := m.Title
		if title == "" {
			title = "(untitled)"
		}
		s.out.Info(fmt.Sprintf("%s %s  %s  %s", marker, m.ID, m.UpdatedAt, title))
	}
	return nil
}

// history returns the stored turns trimmed to fit next to the new user text.
func (s *chatSession) history(text string) ([]chat.Turn, error) {
	turns, err := s.store.LoadTurns(s.meta.ID)
	if err != nil {
		return nil, err
	}
	if s.window.Limit() <= 0 {
		return turns, nil
	}
	reserve := s.window.Tokenizer().CountTurn(chat.Turn{Role: chat.RoleUser, Content: text})
	fitted := s.window.Fit(turns, reserve)
	if dropped := len(turns) - len(fitted); dropped > 0 {
		s.logger.Debug("history trimmed", zap.Int("dropped", dropped), zap.Int("kept", len(fitted)))
	}
	return fitted, nil
}

func (s *chatSession) ask(ctx context.Context, text string) error {
	history, err := s.history(text)
	if err != nil {
		return err
	}
	res, err := s.asker.Ask(ctx, gateway.Request{
		Text:             text,
		History:          history,
		RoleSheet:        s.meta.RoleSheet(),
		UserID:           s.meta.UserID,
		CompressedMemory: s.meta.CompressedMemory,
	})
	if err != nil {
		return err
	}
	s.out.Reply(res.Response)

	if err := s.store.AppendTurns(s.meta.ID, []chat.Turn{
		{Role: chat.RoleUser, Content: text},
		{Role: chat.RoleAssistant, Content: res.Response},
	}); err != nil {
		return err
	}
	if len(res.CompressedMemory) > 0 {
		s.meta.CompressedMemory = res.CompressedMemory
	}
	if s.meta.Title == "" {
		s.meta.Title = sessionTitle(text)
	}
	return s.store.SaveSession(s.meta)
}

func (s *chatSession) todo(ctx context.Context, text string) error {
	history, err := s.history(text)
	if err != nil {
		return err
	}
	outcome, err := s.decomposer.Decompose(ctx, text, decompose.CallerContext{
		UserID:           s.meta.UserID,
		History:          history,
		RoleSheet:        s.meta.RoleSheet(),
		CompressedMemory: s.meta.CompressedMemory,
	})
	if err != nil {
		return err
	}
	s.out.Outcome(outcome)
	if outcome.Degraded() && confirm(s.in, "keep these todos?") {
		outcome = outcome.Acknowledge()
	}

	items, err := outcome.Todos()
	if errors.Is(err, decompose.ErrUnacknowledged) {
		s.out.Muted("todos discarded")
		return nil
	}
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	existing, err := s.store.ListTodos(s.meta.ID)
	if err != nil {
		return err
	}
	if err := s.store.ReplaceTodos(s.meta.ID, append(existing, items...)); err != nil {
		return err
	}
	s.out.Success(fmt.Sprintf("saved %d todos", len(items)))
	return nil
}

// sessionTitle is the first line of text, cut to titleMaxRunes.
func sessionTitle(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	line = strings.TrimSpace(line)
	if utf8.RuneCountInString(line) <= titleMaxRunes {
		return line
	}
	runes := []rune(line)
	return string(runes[:titleMaxRunes]) + "…"
}

func askRequest(text, userID, tone string) gateway.Request {
	req := gateway.Request{Text: text, UserID: userID}
	if sheet := (&chat.RoleSheet{Tone: tone}); !sheet.IsZero() {
		req.RoleSheet = sheet
	}
	return req
}
