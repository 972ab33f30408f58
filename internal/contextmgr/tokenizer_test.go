package contextmgr

import (
	"testing"

	"sista/internal/chat"
)

func heuristicTokenizer() *Tokenizer {
	return NewHeuristicTokenizer()
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{text: "a", want: 1},
		{text: "abcd", want: 1},
		{text: "Hello world", want: 3},
		{text: "牛乳", want: 3},
		{text: "牛乳を買う", want: 8},
		{text: "買う ok", want: 4},
	}
	for _, tt := range tests {
		if got := estimateTokens(tt.text); got != tt.want {
			t.Fatalf("estimateTokens(%q)=%d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestHeuristicTokenizer(t *testing.T) {
	tok := heuristicTokenizer()
	if tok.IsPrecise() {
		t.Fatal("heuristic tokenizer reports precise counts")
	}
	if tok.EncodingName() != "cl100k_base" {
		t.Fatalf("encoding=%q", tok.EncodingName())
	}
	if tok.CountText("") != 0 {
		t.Fatal("empty text should count 0")
	}
}

func TestCountTurns(t *testing.T) {
	tok := heuristicTokenizer()
	turns := []chat.Turn{
		{Role: chat.RoleUser, Content: "hello"},
		{Role: chat.RoleAssistant, Content: "hi there"},
	}
	total := tok.Count(turns)
	if total != tok.CountTurn(turns[0])+tok.CountTurn(turns[1]) {
		t.Fatalf("Count should sum CountTurn, got %d", total)
	}
	if tok.CountTurn(chat.Turn{}) != messageOverhead {
		t.Fatalf("empty turn should cost only the overhead, got %d", tok.CountTurn(chat.Turn{}))
	}
}

func TestModelToEncoding(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4", "cl100k_base"},
		{"gpt-3.5-turbo", "cl100k_base"},
		{"GPT-4o-mini", "o200k_base"},
		{"o1-preview", "o200k_base"},
		{"o3-mini", "o200k_base"},
		{"qwen2.5-7b-instruct", "cl100k_base"},
		{"", "cl100k_base"},
	}
	for _, tt := range tests {
		if got := modelToEncoding(tt.model); got != tt.want {
			t.Fatalf("modelToEncoding(%q)=%q, want %q", tt.model, got, tt.want)
		}
	}
}
