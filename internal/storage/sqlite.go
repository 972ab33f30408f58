package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sista/internal/chat"
	"sista/internal/decompose"

	_ "modernc.org/sqlite"
)

// SQLiteStore 基于 SQLite (WAL 模式) 的持久化实现
// SQLiteStore implements Store using SQLite with WAL mode
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore 创建并初始化 SQLite 数据库
// NewSQLiteStore creates and initializes a SQLite database
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// PRAGMA 按连接生效，单连接保证 foreign_keys 始终开启
	// PRAGMAs are per connection; a single connection keeps foreign_keys on
	db.SetMaxOpenConns(1)

	// 启用 WAL 模式和优化 PRAGMA / Enable WAL and performance PRAGMAs
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	store := &SQLiteStore{db: db, path: dbPath}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id                TEXT PRIMARY KEY,
		title             TEXT NOT NULL DEFAULT '',
		user_id           TEXT NOT NULL DEFAULT '',
		tone              TEXT NOT NULL DEFAULT '',
		compressed_memory TEXT NOT NULL DEFAULT '',
		created_at        TEXT NOT NULL,
		updated_at        TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turns (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq         INTEGER NOT NULL,
		role        TEXT NOT NULL,
		content     TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL,
		UNIQUE(session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS todos (
		id         INTEGER NOT NULL,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		title      TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'pending',
		ord        INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY(session_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, seq);
	CREATE INDEX IF NOT EXISTS idx_todos_session ON todos(session_id, ord);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close 关闭数据库连接 / Close the database connection
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- Session Operations ---

func (s *SQLiteStore) CreateSession(meta SessionMeta) error {
	if strings.TrimSpace(meta.ID) == "" {
		return fmt.Errorf("session id is empty")
	}
	now := nowUTC()
	if strings.TrimSpace(meta.CreatedAt) == "" {
		meta.CreatedAt = now
	}
	if strings.TrimSpace(meta.UpdatedAt) == "" {
		meta.UpdatedAt = now
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, title, user_id, tone, compressed_memory, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		meta.ID, meta.Title, meta.UserID, meta.Tone, string(meta.CompressedMemory),
		meta.CreatedAt, meta.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveSession(meta SessionMeta) error {
	meta.UpdatedAt = nowUTC()
	res, err := s.db.Exec(`
		UPDATE sessions SET title=?, user_id=?, tone=?, compressed_memory=?, updated_at=?
		WHERE id=?`,
		meta.Title, meta.UserID, meta.Tone, string(meta.CompressedMemory),
		meta.UpdatedAt, meta.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, meta.ID)
	}
	return nil
}

func (s *SQLiteStore) LoadSession(id string) (SessionMeta, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return SessionMeta{}, fmt.Errorf("session id is empty")
	}
	row := s.db.QueryRow(`
		SELECT id, title, user_id, tone, compressed_memory, created_at, updated_at
		FROM sessions WHERE id=?`, id)

	meta, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SessionMeta{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return SessionMeta{}, fmt.Errorf("load session: %w", err)
	}
	return meta, nil
}

func (s *SQLiteStore) ListSessions() ([]SessionMeta, error) {
	rows, err := s.db.Query(`
		SELECT id, title, user_id, tone, compressed_memory, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var metas []SessionMeta
	for rows.Next() {
		meta, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (SessionMeta, error) {
	var meta SessionMeta
	var memory string
	if err := row.Scan(&meta.ID, &meta.Title, &meta.UserID, &meta.Tone, &memory,
		&meta.CreatedAt, &meta.UpdatedAt); err != nil {
		return SessionMeta{}, err
	}
	if memory != "" {
		meta.CompressedMemory = chat.CompressedMemory(memory)
	}
	return meta, nil
}

// --- Turn Operations ---

// AppendTurns 追加对话轮次，seq 接续已有最大值
// AppendTurns appends turns after the session's last stored turn.
func (s *SQLiteStore) AppendTurns(sessionID string, turns []chat.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	if err := tx.QueryRow("SELECT COALESCE(MAX(seq)+1, 0) FROM turns WHERE session_id=?", sessionID).Scan(&next); err != nil {
		return fmt.Errorf("query last seq: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO turns (session_id, seq, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := nowUTC()
	for i, turn := range turns {
		if !chat.ValidRole(turn.Role) {
			return fmt.Errorf("insert turn %d: unknown role %q", i, turn.Role)
		}
		if _, err := stmt.Exec(sessionID, next+i, turn.Role, turn.Content, now); err != nil {
			return fmt.Errorf("insert turn %d: %w", i, err)
		}
	}

	// 更新 session 时间戳 / Update session timestamp
	if _, err := tx.Exec("UPDATE sessions SET updated_at=? WHERE id=?", now, sessionID); err != nil {
		return fmt.Errorf("update session timestamp: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) LoadTurns(sessionID string) ([]chat.Turn, error) {
	rows, err := s.db.Query(`
		SELECT role, content FROM turns WHERE session_id=? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []chat.Turn
	for rows.Next() {
		var turn chat.Turn
		if err := rows.Scan(&turn.Role, &turn.Content); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// --- Todo Operations ---

func (s *SQLiteStore) ListTodos(sessionID string) ([]decompose.TodoItem, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session id is empty")
	}
	rows, err := s.db.Query(`
		SELECT id, title, status, ord FROM todos WHERE session_id=? ORDER BY ord, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query todos: %w", err)
	}
	defer rows.Close()

	var items []decompose.TodoItem
	for rows.Next() {
		var item decompose.TodoItem
		var status string
		if err := rows.Scan(&item.ID, &item.Title, &status, &item.Order); err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		item.Status = normalizeStatus(status)
		items = append(items, item)
	}
	return items, rows.Err()
}

// ReplaceTodos 用新列表整体替换会话待办；空标题跳过，ID 按保留顺序从 1 重新编号
// ReplaceTodos swaps the session's todo list. Blank titles are skipped and the
// kept items are renumbered 1..n in order.
func (s *SQLiteStore) ReplaceTodos(sessionID string, items []decompose.TodoItem) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is empty")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM todos WHERE session_id=?", sessionID); err != nil {
		return fmt.Errorf("delete old todos: %w", err)
	}

	now := nowUTC()
	stmt, err := tx.Prepare(`
		INSERT INTO todos (id, session_id, title, status, ord, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	n := 0
	for i, item := range items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		n++
		status := normalizeStatus(string(item.Status))
		if _, err := stmt.Exec(n, sessionID, title, string(status), n, now, now); err != nil {
			return fmt.Errorf("insert todo %d: %w", i, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) SetTodoStatus(sessionID string, id int, status decompose.TodoStatus) error {
	res, err := s.db.Exec(`
		UPDATE todos SET status=?, updated_at=? WHERE session_id=? AND id=?`,
		string(normalizeStatus(string(status))), nowUTC(), sessionID, id)
	if err != nil {
		return fmt.Errorf("update todo: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %d", ErrTodoNotFound, id)
	}
	return nil
}

// --- Helpers ---

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func normalizeStatus(s string) decompose.TodoStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(decompose.TodoDone), "completed":
		return decompose.TodoDone
	default:
		return decompose.TodoPending
	}
}
