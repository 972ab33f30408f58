package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
)

// lineInput reads one line of user input after showing prompt.
type lineInput interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

// plainInput reads lines from any reader; used for pipes and tests.
type plainInput struct {
	scanner *bufio.Scanner
	prompt  io.Writer
}

func newPlainInput(in io.Reader, prompt io.Writer) *plainInput {
	return &plainInput{scanner: bufio.NewScanner(in), prompt: prompt}
}

func (p *plainInput) ReadLine(prompt string) (string, error) {
	if p.prompt != nil {
		fmt.Fprint(p.prompt, prompt)
	}
	if p.scanner.Scan() {
		return strings.TrimRight(p.scanner.Text(), "\r"), nil
	}
	if err := p.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (p *plainInput) Close() error { return nil }

// editorInput is a readline line editor with persistent history and slash
// command completion.
type editorInput struct {
	rl *readline.Instance
}

func (e *editorInput) ReadLine(prompt string) (string, error) {
	e.rl.SetPrompt(prompt)
	return e.rl.Readline()
}

func (e *editorInput) Close() error {
	return e.rl.Close()
}

// newLineInput returns a line editor on stdin. When readline cannot start it
// returns plain stdin input together with the reason.
func newLineInput(historyFile string) (lineInput, error) {
	if historyFile != "" {
		if err := os.MkdirAll(filepath.Dir(historyFile), 0o755); err != nil {
			return newPlainInput(os.Stdin, os.Stdout), fmt.Errorf("create history dir: %w", err)
		}
	}
	rl, err := readline.NewEx(&readline.Config{
		HistoryFile:       historyFile,
		HistorySearchFold: true,
		AutoComplete:      replCompleter(),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
	})
	if err != nil {
		return newPlainInput(os.Stdin, os.Stdout), err
	}
	return &editorInput{rl: rl}, nil
}

func replCompleter() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(replCommands))
	for _, c := range replCommands {
		items = append(items, readline.PcItem(c.name))
	}
	return readline.NewPrefixCompleter(items...)
}

// confirm asks a y/N question; anything but y or yes is a no.
func confirm(in lineInput, question string) bool {
	answer, err := in.ReadLine(question + " [y/N] ")
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// isInterrupt reports whether err is Ctrl-C at the prompt.
func isInterrupt(err error) bool {
	return errors.Is(err, readline.ErrInterrupt)
}
