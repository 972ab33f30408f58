package storage

import (
	"errors"

	"sista/internal/chat"
)

var (
	// ErrSessionNotFound 会话不存在
	// ErrSessionNotFound is returned when a session id is unknown.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTodoNotFound is returned when a todo id is unknown within its session.
	ErrTodoNotFound = errors.New("todo not found")
)

// SessionMeta 会话元数据；CompressedMemory 为后端返回的不透明数据，原样回放
// SessionMeta holds session metadata. CompressedMemory is the opaque blob the
// backend handed out last and is replayed verbatim on the next call.
type SessionMeta struct {
	ID               string                `json:"id"`
	Title            string                `json:"title"`
	UserID           string                `json:"user_id"`
	Tone             string                `json:"tone"`
	CompressedMemory chat.CompressedMemory `json:"compressed_memory,omitempty"`
	CreatedAt        string                `json:"created_at"`
	UpdatedAt        string                `json:"updated_at"`
}

// RoleSheet returns the session persona, or nil when no tone is set.
func (m SessionMeta) RoleSheet() *chat.RoleSheet {
	sheet := &chat.RoleSheet{Tone: m.Tone}
	if sheet.IsZero() {
		return nil
	}
	return sheet
}
