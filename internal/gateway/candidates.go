package gateway

import (
	"strconv"
	"strings"

	"sista/internal/chat"
)

// ChatCompletionsSuffix is appended to the base endpoint to form the second
// candidate endpoint.
const ChatCompletionsSuffix = "/v1/chat/completions"

// Shape 候选请求体的形状
// Shape names a request payload layout tried against a backend.
type Shape string

const (
	ShapeOpenAI   Shape = "openai"
	ShapeGeneric  Shape = "generic"
	ShapePrompt   Shape = "prompt"
	ShapeInput    Shape = "input"
	ShapeText     Shape = "text"
	ShapeMessages Shape = "messages"
)

// fallbackShapes are tried per endpoint after the OpenAI shape failed everywhere.
var fallbackShapes = []Shape{ShapeGeneric, ShapePrompt, ShapeInput, ShapeText, ShapeMessages}

// Request 一次对话请求；History 只读，不会被修改
// Request is one chat exchange. History is read only.
type Request struct {
	Text              string                `json:"text"`
	History           []chat.Turn           `json:"history"`
	RoleSheet         *chat.RoleSheet       `json:"role_sheet,omitempty"`
	UserID            string                `json:"user_id,omitempty"`
	OverHallucination bool                  `json:"over_hallucination"`
	CompressedMemory  chat.CompressedMemory `json:"compressed_memory,omitempty"`
}

// Messages 构造 OpenAI 形状的消息列表：system(若有语气) → 历史 → 本次用户输入
// Messages builds the chat-completions message list: an optional system turn
// from the role sheet, the history verbatim, then the user text.
func (r Request) Messages() []chat.Turn {
	out := make([]chat.Turn, 0, len(r.History)+2)
	if prompt := r.RoleSheet.SystemPrompt(); prompt != "" {
		out = append(out, chat.Turn{Role: chat.RoleSystem, Content: prompt})
	}
	out = append(out, r.History...)
	out = append(out, chat.Turn{Role: chat.RoleUser, Content: r.Text})
	return out
}

// PayloadOptions carries the model parameters of the OpenAI shape.
type PayloadOptions struct {
	Model       string
	Temperature float64
}

// Candidate is one (endpoint, shape) attempt.
type Candidate struct {
	Endpoint string
	Shape    Shape
	Payload  map[string]any
}

// Endpoints returns the candidate endpoints for base: base itself, then base
// with ChatCompletionsSuffix unless base already ends with it. Trailing
// slashes are ignored for the suffix check.
func Endpoints(base string) []string {
	base = strings.TrimSpace(base)
	if base == "" {
		return nil
	}
	out := []string{base}
	if trimmed := strings.TrimRight(base, "/"); !strings.HasSuffix(trimmed, ChatCompletionsSuffix) {
		out = append(out, trimmed+ChatCompletionsSuffix)
	}
	return out
}

// Candidates 生成有序候选列表：先在每个端点上尝试 OpenAI 形状，再逐端点尝试其余形状
// Candidates returns the ordered attempt list for base: the OpenAI shape on
// every endpoint, then every fallback shape per endpoint.
func Candidates(base string, req Request, opts PayloadOptions) []Candidate {
	endpoints := Endpoints(base)
	out := make([]Candidate, 0, len(endpoints)*(1+len(fallbackShapes)))
	for _, endpoint := range endpoints {
		out = append(out, Candidate{Endpoint: endpoint, Shape: ShapeOpenAI, Payload: buildPayload(ShapeOpenAI, req, opts)})
	}
	for _, endpoint := range endpoints {
		for _, shape := range fallbackShapes {
			out = append(out, Candidate{Endpoint: endpoint, Shape: shape, Payload: buildPayload(shape, req, opts)})
		}
	}
	return out
}

func buildPayload(shape Shape, req Request, opts PayloadOptions) map[string]any {
	switch shape {
	case ShapeOpenAI:
		return map[string]any{
			"model":       opts.Model,
			"messages":    req.Messages(),
			"temperature": opts.Temperature,
		}
	case ShapeGeneric:
		payload := map[string]any{
			"input":              req.Text,
			"history":            chat.CloneHistory(req.History),
			"role_sheet":         req.RoleSheet,
			"over_hallucination": req.OverHallucination,
			"compressed_memory":  req.CompressedMemory,
		}
		if id, ok := integerUserID(req.UserID); ok {
			payload["user_id"] = id
		}
		return payload
	case ShapePrompt:
		return map[string]any{"prompt": req.Text}
	case ShapeInput:
		return map[string]any{"input": req.Text}
	case ShapeText:
		return map[string]any{"text": req.Text}
	case ShapeMessages:
		return map[string]any{"messages": []chat.Turn{{Role: chat.RoleUser, Content: req.Text}}}
	}
	return nil
}

// integerUserID reports whether id is an integer; non-integer ids are never sent.
func integerUserID(id string) (int64, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
