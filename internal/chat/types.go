package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role names accepted in a conversation turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn is one entry of a conversation history. Histories are ordered oldest first.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RoleSheet carries persona directives for the assistant.
type RoleSheet struct {
	Tone string `json:"tone,omitempty" yaml:"tone"`
}

// IsZero reports whether the sheet carries no directive.
func (r *RoleSheet) IsZero() bool {
	return r == nil || strings.TrimSpace(r.Tone) == ""
}

// SystemPrompt renders the sheet as a single system instruction.
// It returns "" when the sheet has no tone.
func (r *RoleSheet) SystemPrompt() string {
	if r.IsZero() {
		return ""
	}
	return "You are an assistant. Tone: " + r.Tone
}

// CompressedMemory is an opaque continuation blob handed out by a backend and
// replayed on the next call. It is never interpreted here.
type CompressedMemory = json.RawMessage

// ValidRole reports whether role is one of the known turn roles.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// ValidateHistory checks that every turn carries a known role.
func ValidateHistory(history []Turn) error {
	for i, turn := range history {
		if !ValidRole(turn.Role) {
			return fmt.Errorf("history[%d]: unknown role %q", i, turn.Role)
		}
	}
	return nil
}

// CloneHistory returns a copy of history so callers can append without
// touching the slice they were given.
func CloneHistory(history []Turn) []Turn {
	if len(history) == 0 {
		return nil
	}
	out := make([]Turn, len(history))
	copy(out, history)
	return out
}
