package render

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"sista/internal/decompose"
)

func TestRenderMarkdown(t *testing.T) {
	result := RenderMarkdown("# Hello\n\nThis is **bold** text.", 80)
	if !strings.Contains(result, "Hello") {
		t.Fatalf("result should contain 'Hello': %q", result)
	}
	if RenderMarkdown("  ", 80) != "" {
		t.Fatal("whitespace input should return empty")
	}
}

func TestNewIsPlainForBuffers(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf)
	if r.Styled() {
		t.Fatal("a bytes.Buffer is not a terminal")
	}
	r.Reply("**hi**")
	if buf.String() != "**hi**\n" {
		t.Fatalf("plain reply=%q", buf.String())
	}
}

func TestTodosPlain(t *testing.T) {
	var buf bytes.Buffer
	items := decompose.NewTodos([]string{"買う", "洗う"})
	items[1].Status = decompose.TodoDone
	NewPlain(&buf).Todos(items)
	want := "[ ] 1. 買う\n[x] 2. 洗う\n"
	if buf.String() != want {
		t.Fatalf("got %q want %q", buf.String(), want)
	}

	buf.Reset()
	NewPlain(&buf).Todos(nil)
	if buf.String() != "(no todos)\n" {
		t.Fatalf("empty=%q", buf.String())
	}
}

func TestOutcomeFlagsDegraded(t *testing.T) {
	var buf bytes.Buffer
	NewPlain(&buf).Outcome(decompose.Degraded(decompose.NewTodos([]string{"掃除 を小さく試す"}), "no backend configured"))
	out := buf.String()
	if !strings.HasPrefix(out, "DEGRADED ") || !strings.Contains(out, "no backend configured") {
		t.Fatalf("degraded banner missing: %q", out)
	}
	if !strings.Contains(out, "[ ] 1. 掃除 を小さく試す") {
		t.Fatalf("todo line missing: %q", out)
	}
}

func TestErrorAndPrompt(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlain(&buf)
	r.Error(errors.New("boom"))
	r.Error(nil)
	if buf.String() != "error: boom\n" {
		t.Fatalf("error=%q", buf.String())
	}
	if r.Prompt() != "sista> " {
		t.Fatalf("prompt=%q", r.Prompt())
	}
}
