package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// textFields are the generic single-field reply shapes, in priority order.
var textFields = []string{"response", "text", "output", "result", "generated_text", "generation"}

// extractor pulls assistant text out of a decoded JSON object. ok=false means
// the shape is not present and the next extractor should be tried.
type extractor func(obj map[string]any) (text string, ok bool)

// extractors is consulted in order; the chat-completions shape comes first
// because some backends also send decoy generic fields next to choices.
var extractors = []extractor{
	chatCompletionContent,
	firstTextField,
	firstResult,
}

// Extract returns the best assistant text found in payload. payload is either a
// plain string or a value decoded from JSON. It never fails; "" means nothing
// recognizable was found.
func Extract(payload any) string {
	switch v := payload.(type) {
	case string:
		return v
	case map[string]any:
		for _, fn := range extractors {
			if text, ok := fn(v); ok {
				return text
			}
		}
	}
	return ""
}

func chatCompletionContent(obj map[string]any) (string, bool) {
	choices, ok := obj["choices"].([]any)
	if !ok || len(choices) == 0 {
		return "", false
	}
	first, ok := choices[0].(map[string]any)
	if !ok {
		return "", false
	}
	message, ok := first["message"].(map[string]any)
	if !ok {
		return "", false
	}
	content := message["content"]
	if parts, ok := content.([]any); ok {
		if text := flattenParts(parts); text != "" {
			return text, true
		}
		return "", false
	}
	if !truthy(content) {
		return "", false
	}
	return stringify(content), true
}

func firstTextField(obj map[string]any) (string, bool) {
	for _, key := range textFields {
		if v, ok := obj[key]; ok && truthy(v) {
			return stringify(v), true
		}
	}
	return "", false
}

func firstResult(obj map[string]any) (string, bool) {
	results, ok := obj["results"].([]any)
	if !ok || len(results) == 0 {
		return "", false
	}
	first := results[0]
	if m, ok := first.(map[string]any); ok {
		for _, key := range []string{"content", "text"} {
			if v := m[key]; truthy(v) {
				return stringify(v), true
			}
		}
	}
	return stringify(first), true
}

// flattenParts joins OpenAI-style typed content parts, skipping non-text parts
// such as reasoning.
func flattenParts(parts []any) string {
	var builder strings.Builder
	for _, item := range parts {
		switch part := item.(type) {
		case string:
			builder.WriteString(part)
		case map[string]any:
			if kind, ok := part["type"].(string); ok {
				normalized := strings.ToLower(strings.TrimSpace(kind))
				if normalized != "" && normalized != "text" && normalized != "output_text" {
					continue
				}
			}
			if text, ok := part["text"].(string); ok && text != "" {
				builder.WriteString(text)
				continue
			}
			if text, ok := part["output_text"].(string); ok {
				builder.WriteString(text)
			}
		}
	}
	return builder.String()
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case bool:
		return val
	case json.Number:
		f, err := val.Float64()
		return err != nil || f != 0
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// decodeBody decodes a response body as JSON, falling back to the raw text when
// the body is not a single well-formed JSON value.
func decodeBody(data []byte) any {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return ""
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return string(data)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return string(data)
	}
	return v
}

// replyText extracts the assistant text from a decoded body. Objects and
// strings go through Extract; any other JSON value (array, number) is handed
// back as its raw text.
func replyText(data []byte, payload any) string {
	switch payload.(type) {
	case nil, string, map[string]any:
		return Extract(payload)
	default:
		return strings.TrimSpace(string(data))
	}
}
