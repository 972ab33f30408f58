package contextmgr

import (
	"strings"
	"sync"
	"unicode"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"sista/internal/chat"
)

const (
	defaultEncoding = "cl100k_base"
	// messageOverhead is the framing a chat API adds around each message.
	messageOverhead = 4
)

// encodingPrefixes maps model name prefixes to tiktoken encodings. First match wins.
var encodingPrefixes = []struct {
	prefix   string
	encoding string
}{
	{"gpt-4o", "o200k_base"},
	{"chatgpt-4o", "o200k_base"},
	{"o1", "o200k_base"},
	{"o3", "o200k_base"},
	{"gpt-4", defaultEncoding},
	{"gpt-3.5", defaultEncoding},
}

// encoders caches loaded BPE tables by encoding name; a failed load is cached as nil.
var encoders sync.Map

// Tokenizer 计算对话 token 数；BPE 数据不可用时用启发式估算
// Tokenizer counts tokens with tiktoken, or estimates them when the BPE data
// cannot be loaded (offline machines).
type Tokenizer struct {
	encoder  *tiktoken.Tiktoken
	encoding string
}

var (
	defaultTokenizer     *Tokenizer
	defaultTokenizerOnce sync.Once
)

// DefaultTokenizer returns a shared cl100k_base tokenizer.
func DefaultTokenizer() *Tokenizer {
	defaultTokenizerOnce.Do(func() {
		defaultTokenizer = NewTokenizer(defaultEncoding)
	})
	return defaultTokenizer
}

// NewTokenizer returns a tokenizer for encoding. It never fails: when the
// encoding cannot be loaded the tokenizer estimates.
func NewTokenizer(encoding string) *Tokenizer {
	return &Tokenizer{encoder: loadEncoder(encoding), encoding: encoding}
}

// NewHeuristicTokenizer returns a tokenizer that never loads BPE data.
func NewHeuristicTokenizer() *Tokenizer {
	return &Tokenizer{encoding: defaultEncoding}
}

// NewTokenizerForModel 根据模型名选择编码；本地模型按 cl100k_base 估算
// NewTokenizerForModel picks the encoding for model. Local models publish no
// encoding and are counted as cl100k_base.
func NewTokenizerForModel(model string) *Tokenizer {
	return NewTokenizer(modelToEncoding(model))
}

func loadEncoder(encoding string) *tiktoken.Tiktoken {
	if cached, ok := encoders.Load(encoding); ok {
		return cached.(*tiktoken.Tiktoken)
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		enc = nil
	}
	actual, _ := encoders.LoadOrStore(encoding, enc)
	return actual.(*tiktoken.Tiktoken)
}

func modelToEncoding(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	for _, p := range encodingPrefixes {
		if strings.HasPrefix(m, p.prefix) {
			return p.encoding
		}
	}
	return defaultEncoding
}

// IsPrecise reports whether counts come from tiktoken rather than the estimate.
func (t *Tokenizer) IsPrecise() bool {
	return t.encoder != nil
}

func (t *Tokenizer) EncodingName() string {
	return t.encoding
}

// CountText counts the tokens of text.
func (t *Tokenizer) CountText(text string) int {
	if text == "" {
		return 0
	}
	if t.encoder == nil {
		return estimateTokens(text)
	}
	return len(t.encoder.Encode(text, nil, nil))
}

// CountTurn counts one turn including the per-message framing overhead.
func (t *Tokenizer) CountTurn(turn chat.Turn) int {
	return messageOverhead + t.CountText(turn.Role) + t.CountText(turn.Content)
}

// Count sums CountTurn over turns.
func (t *Tokenizer) Count(turns []chat.Turn) int {
	total := 0
	for _, turn := range turns {
		total += t.CountTurn(turn)
	}
	return total
}

// estimateTokens 启发式估算：CJK 字符约 1.5 token，其余约 4 字符 1 token
// estimateTokens assumes ~1.5 tokens per CJK character (kana and hangul
// included) and ~4 characters per token otherwise. Non-empty text costs at
// least one token.
func estimateTokens(text string) int {
	wide, narrow := 0, 0
	for _, r := range text {
		if isWide(r) {
			wide++
		} else {
			narrow++
		}
	}
	estimate := (wide*3 + 1) / 2
	estimate += (narrow + 3) / 4
	if estimate < 1 {
		return 1
	}
	return estimate
}

func isWide(r rune) bool {
	switch {
	case unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul):
		return true
	case r >= 0x3000 && r <= 0x303F: // CJK punctuation
		return true
	case r >= 0xFF00 && r <= 0xFFEF: // full-width forms
		return true
	default:
		return false
	}
}
