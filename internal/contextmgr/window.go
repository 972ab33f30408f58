package contextmgr

import (
	"sista/internal/chat"
)

// Window 按 token 预算裁剪调用方历史：丢弃最旧的轮次，不改变顺序
// Window trims caller history to a token budget by dropping the oldest turns.
// Order is never changed and the input slice is never modified.
type Window struct {
	tokenizer *Tokenizer
	limit     int
}

// NewWindow returns a window of limit tokens counted with tok. A nil tok uses
// DefaultTokenizer; limit <= 0 disables trimming.
func NewWindow(tok *Tokenizer, limit int) *Window {
	if tok == nil {
		tok = DefaultTokenizer()
	}
	return &Window{tokenizer: tok, limit: limit}
}

// Tokenizer returns the tokenizer used for counting.
func (w *Window) Tokenizer() *Tokenizer {
	return w.tokenizer
}

// Limit returns the configured budget.
func (w *Window) Limit() int {
	return w.limit
}

// Fit returns the longest suffix of history whose token count, plus reserve
// tokens for the upcoming user turn, stays within the budget. The result is a
// copy. A leading system turn is kept when it fits on its own.
func (w *Window) Fit(history []chat.Turn, reserve int) []chat.Turn {
	if len(history) == 0 {
		return nil
	}
	if w.limit <= 0 {
		return chat.CloneHistory(history)
	}

	budget := w.limit - reserve
	var pinned *chat.Turn
	rest := history
	if history[0].Role == chat.RoleSystem {
		if cost := w.tokenizer.CountTurn(history[0]); cost <= budget {
			pinned = &history[0]
			budget -= cost
		}
		rest = history[1:]
	}

	start := len(rest)
	for start > 0 {
		cost := w.tokenizer.CountTurn(rest[start-1])
		if cost > budget {
			break
		}
		budget -= cost
		start--
	}

	out := make([]chat.Turn, 0, len(rest)-start+1)
	if pinned != nil {
		out = append(out, *pinned)
	}
	out = append(out, rest[start:]...)
	if len(out) == 0 {
		return nil
	}
	return out
}
