package storage

import (
	"sista/internal/chat"
	"sista/internal/decompose"
)

// Store 会话、对话轮次与待办的持久化接口
// Store persists sessions, their turns and their todos.
type Store interface {
	// Session 操作 / Session operations
	CreateSession(meta SessionMeta) error
	SaveSession(meta SessionMeta) error
	LoadSession(id string) (SessionMeta, error)
	ListSessions() ([]SessionMeta, error)

	// Turn 操作 / Turn operations
	AppendTurns(sessionID string, turns []chat.Turn) error
	LoadTurns(sessionID string) ([]chat.Turn, error)

	// Todo 操作 / Todo operations
	ListTodos(sessionID string) ([]decompose.TodoItem, error)
	ReplaceTodos(sessionID string, items []decompose.TodoItem) error
	SetTodoStatus(sessionID string, id int, status decompose.TodoStatus) error

	// 生命周期 / Lifecycle
	Close() error
}

var _ Store = (*SQLiteStore)(nil)
