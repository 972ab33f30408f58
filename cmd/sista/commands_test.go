package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"sista/internal/decompose"
)

func nopLogger() *zap.Logger { return zap.NewNop() }

func TestPrintOutcome(t *testing.T) {
	degraded := decompose.Degraded(decompose.NewTodos([]string{"掃除 を小さく試す"}), "no backend configured")
	ok := decompose.OK(decompose.NewTodos([]string{"a", "b"}))

	t.Run("ok", func(t *testing.T) {
		var buf bytes.Buffer
		if err := printOutcome(&buf, ok, false, false); err != nil {
			t.Fatalf("printOutcome: %v", err)
		}
		if buf.String() != "[ ] 1. a\n[ ] 2. b\n" {
			t.Fatalf("output=%q", buf.String())
		}
	})

	t.Run("degraded rejected", func(t *testing.T) {
		var buf bytes.Buffer
		err := printOutcome(&buf, degraded, false, false)
		if !errors.Is(err, errDegradedRejected) {
			t.Fatalf("err=%v, want errDegradedRejected", err)
		}
		if !strings.Contains(buf.String(), "DEGRADED") {
			t.Fatalf("output=%q", buf.String())
		}
	})

	t.Run("degraded forced", func(t *testing.T) {
		var buf bytes.Buffer
		if err := printOutcome(&buf, degraded, true, false); err != nil {
			t.Fatalf("printOutcome: %v", err)
		}
		if !strings.Contains(buf.String(), "no backend configured") || !strings.Contains(buf.String(), "[ ] 1. 掃除 を小さく試す") {
			t.Fatalf("output=%q", buf.String())
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		err := printOutcome(&buf, degraded, false, true)
		if !errors.Is(err, errDegradedRejected) {
			t.Fatalf("err=%v, want errDegradedRejected", err)
		}
		var got struct {
			Todos          []decompose.TodoItem `json:"todos"`
			Degraded       bool                 `json:"degraded"`
			DegradedReason string               `json:"degraded_reason"`
		}
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("decode: %v (%q)", err, buf.String())
		}
		if !got.Degraded || got.DegradedReason != "no backend configured" || len(got.Todos) != 1 {
			t.Fatalf("json=%+v", got)
		}
	})
}

func TestInitCommandWritesScaffold(t *testing.T) {
	dir := t.TempDir()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"init", dir})
	if err := root.Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}
	path := filepath.Join(dir, ".sista", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("scaffold missing: %v", err)
	}
	if !strings.Contains(out.String(), path) {
		t.Fatalf("output=%q", out.String())
	}
}

func TestRootRejectsBadLogLevel(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SISTA_CONFIG_PATH", "")
	t.Chdir(t.TempDir())

	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--log-level", "loud", "todos", "x"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error for bad log level")
	}
}

func TestPlainInputAndConfirm(t *testing.T) {
	var prompts bytes.Buffer
	in := newPlainInput(strings.NewReader("first\r\nYes\nnope\n"), &prompts)

	line, err := in.ReadLine("> ")
	if err != nil || line != "first" {
		t.Fatalf("ReadLine=%q, %v", line, err)
	}
	if !confirm(in, "keep?") {
		t.Fatal("Yes should confirm")
	}
	if confirm(in, "keep?") {
		t.Fatal("nope should not confirm")
	}
	if confirm(in, "keep?") {
		t.Fatal("EOF should not confirm")
	}
	if prompts.String() != "> keep? [y/N] keep? [y/N] keep? [y/N] " {
		t.Fatalf("prompts=%q", prompts.String())
	}
}
