// Package render formats assistant replies and todo lists for the terminal.
// Styling is applied only when the output is a terminal.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"sista/internal/decompose"
)

const defaultWidth = 80

// Renderer writes styled or plain text to one writer.
type Renderer struct {
	out    io.Writer
	styled bool
	width  int
	theme  Theme
}

// New returns a renderer for out. Styling is enabled when out is a terminal
// and NO_COLOR is unset.
func New(out io.Writer) *Renderer {
	return &Renderer{
		out:    out,
		styled: IsTerminal(out) && os.Getenv("NO_COLOR") == "",
		width:  defaultWidth,
		theme:  DarkTheme(),
	}
}

// NewPlain returns a renderer that never styles its output.
func NewPlain(out io.Writer) *Renderer {
	return &Renderer{out: out, width: defaultWidth, theme: DarkTheme()}
}

// IsTerminal reports whether w is a terminal file.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Styled reports whether output is styled.
func (r *Renderer) Styled() bool {
	return r.styled
}

func (r *Renderer) style(s lipgloss.Style, text string) string {
	if !r.styled {
		return text
	}
	return s.Render(text)
}

// Prompt returns the REPL prompt string.
func (r *Renderer) Prompt() string {
	return r.style(r.theme.PromptStyle, "sista> ")
}

// Reply writes an assistant reply, rendered as markdown on a terminal.
func (r *Renderer) Reply(content string) {
	if strings.TrimSpace(content) == "" {
		r.Muted("(empty reply)")
		return
	}
	if r.styled {
		content = RenderMarkdown(content, r.width)
	}
	fmt.Fprintln(r.out, content)
}

func (r *Renderer) Title(text string) {
	fmt.Fprintln(r.out, r.style(r.theme.TitleStyle, text))
}

func (r *Renderer) Info(text string) {
	fmt.Fprintln(r.out, text)
}

func (r *Renderer) Success(text string) {
	fmt.Fprintln(r.out, r.style(r.theme.SuccessStyle, text))
}

func (r *Renderer) Muted(text string) {
	fmt.Fprintln(r.out, r.style(r.theme.MutedStyle, text))
}

func (r *Renderer) Warn(text string) {
	fmt.Fprintln(r.out, r.style(r.theme.WarningStyle, text))
}

func (r *Renderer) Error(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(r.out, r.style(r.theme.ErrorStyle, "error: "+err.Error()))
}

// Todos writes one line per todo: "[ ] 1. title" or "[x] 2. title".
func (r *Renderer) Todos(items []decompose.TodoItem) {
	if len(items) == 0 {
		r.Muted("(no todos)")
		return
	}
	for _, item := range items {
		fmt.Fprintln(r.out, r.todoLine(item))
	}
}

func (r *Renderer) todoLine(item decompose.TodoItem) string {
	if item.Status == decompose.TodoDone {
		return "[x] " + r.style(r.theme.TodoDoneStyle, fmt.Sprintf("%d. %s", item.ID, item.Title))
	}
	return fmt.Sprintf("[ ] %d. %s", item.ID, item.Title)
}

// Outcome writes a decomposition result. Degraded outcomes are flagged with
// the backend error so the user can decide whether to keep them.
func (r *Renderer) Outcome(o decompose.Outcome) {
	if o.Degraded() {
		fmt.Fprintln(r.out, r.style(r.theme.DegradedBadge, "DEGRADED")+" "+
			r.style(r.theme.WarningStyle, "backend unavailable, todos derived from the prompt: "+o.Reason()))
	}
	r.Todos(o.Preview())
}

// RenderMarkdown 使用 Glamour 渲染 markdown 文本
// RenderMarkdown renders markdown text using Glamour
func RenderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = defaultWidth
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimRight(rendered, "\n")
}
