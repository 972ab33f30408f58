package decompose

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// fallbackClosingTitle closes the word-based fallback plan ("report back").
const fallbackClosingTitle = "報告する"

// smallStepSuffix turns a short prompt into a first-step title ("try it small").
const smallStepSuffix = " を小さく試す"

var (
	// listMarker matches a leading enumeration or bullet: "1.", "２)", "3：", "4 ",
	// "①", "・", "-", "*", "•".
	listMarker = regexp.MustCompile(`^\s*(?:[0-9０-９]+(?:[.)）．:：]|\s)|[①②③④⑤⑥⑦⑧⑨]|[・\-*•])\s*`)
	codeFence  = regexp.MustCompile("(?s)^\\s*```[a-zA-Z]*\\s*\n?(.*?)\\s*```\\s*$")

	commaReplacer    = strings.NewReplacer("、", ",", "，", ",")
	sentenceReplacer = strings.NewReplacer("。", ".")
)

// wrapperKeys are object keys whose array value is treated as the task list.
var wrapperKeys = []string{"todos", "tasks", "steps"}

// Parse 级联解析：模型输出(JSON → 行 → 逗号)，失败后退回基于提示词的启发式
// Parse turns model output into ordered task titles. When the output yields
// nothing usable it falls back to FromPrompt(originalPrompt).
func Parse(modelOutput, originalPrompt string) []string {
	if titles := ParseModelOutput(modelOutput); len(titles) > 0 {
		return titles
	}
	return FromPrompt(originalPrompt)
}

// ParseModelOutput tries the structured JSON, line-based and comma-split
// strategies in order; the first one yielding a title wins. It returns nil
// when none does.
func ParseModelOutput(modelOutput string) []string {
	if titles := parseJSON(modelOutput); len(titles) > 0 {
		return titles
	}
	if titles := parseLines(modelOutput); len(titles) > 0 {
		return titles
	}
	return splitCommas(modelOutput)
}

// parseJSON reads a JSON task array, bare or under a wrapper key, optionally
// inside a code fence.
func parseJSON(text string) []string {
	text = strings.TrimSpace(text)
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	if text == "" {
		return nil
	}

	var items []any
	switch text[0] {
	case '[':
		if err := json.Unmarshal([]byte(text), &items); err != nil {
			return nil
		}
	case '{':
		var obj map[string]any
		if err := json.Unmarshal([]byte(text), &obj); err != nil {
			return nil
		}
		found := false
		for _, key := range wrapperKeys {
			if arr, ok := obj[key].([]any); ok {
				items, found = arr, true
				break
			}
		}
		if !found {
			return nil
		}
	default:
		return nil
	}

	var out []string
	for _, item := range items {
		if title := strings.TrimSpace(itemTitle(item)); title != "" {
			out = append(out, title)
		}
	}
	return out
}

func itemTitle(item any) string {
	switch v := item.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any:
		for _, key := range []string{"title", "task"} {
			if field, ok := v[key]; ok && field != nil {
				if s, ok := field.(string); ok {
					if s != "" {
						return s
					}
					continue
				}
				return render(field)
			}
		}
		return render(v)
	default:
		return render(v)
	}
}

func render(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func parseLines(text string) []string {
	text = strings.ReplaceAll(commaReplacer.Replace(text), "\r", "")
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if title := strings.TrimSpace(listMarker.ReplaceAllString(line, "")); title != "" {
			out = append(out, title)
		}
	}
	return out
}

func splitCommas(text string) []string {
	return nonEmpty(strings.Split(commaReplacer.Replace(text), ","))
}

// FromPrompt 在模型不可用时从原始提示词推导任务
// FromPrompt derives titles from the user's own prompt: comma parts, then
// sentences, then a single small first step for short prompts, then a
// three-step plan built from the first words.
func FromPrompt(prompt string) []string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil
	}
	if parts := nonEmpty(strings.Split(commaReplacer.Replace(prompt), ",")); len(parts) >= 2 {
		return parts
	}
	if sentences := nonEmpty(strings.Split(sentenceReplacer.Replace(prompt), ".")); len(sentences) >= 2 {
		return sentences
	}
	words := strings.Fields(prompt)
	if len(words) <= 3 {
		return []string{prompt + smallStepSuffix}
	}
	second := words[0]
	if len(words) > 1 {
		second = words[1]
	}
	return []string{words[0], second, fallbackClosingTitle}
}

func nonEmpty(parts []string) []string {
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
