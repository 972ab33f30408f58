package decompose

import (
	"encoding/json"
	"errors"
)

// TodoStatus is the lifecycle state of a todo.
type TodoStatus string

const (
	TodoPending TodoStatus = "pending"
	TodoDone    TodoStatus = "done"
)

// TodoItem 分解出的单个任务；ID 与 Order 为 1 起始的连续位置
// TodoItem is one decomposed task. ID and Order are its 1-based position.
type TodoItem struct {
	ID     int        `json:"id"`
	Title  string     `json:"title"`
	Status TodoStatus `json:"status"`
	Order  int        `json:"order"`
}

// NewTodos numbers titles 1..n in order, skipping titles that are empty after
// trimming without consuming an id.
func NewTodos(titles []string) []TodoItem {
	kept := nonEmpty(titles)
	out := make([]TodoItem, 0, len(kept))
	for i, title := range kept {
		out = append(out, TodoItem{ID: i + 1, Title: title, Status: TodoPending, Order: i + 1})
	}
	return out
}

// Status tells whether an outcome came from the model or from local heuristics.
type Status int

const (
	// StatusOK means the backend answered; the todos are authoritative.
	StatusOK Status = iota
	// StatusDegraded means the backend failed and the todos were derived from
	// the prompt alone.
	StatusDegraded
)

func (s Status) String() string {
	if s == StatusDegraded {
		return "degraded"
	}
	return "ok"
}

// ErrUnacknowledged is returned by Outcome.Todos for degraded output that the
// caller has not acknowledged.
var ErrUnacknowledged = errors.New("degraded todos require acknowledgement")

// Outcome is the result of a decomposition. Degraded todos are only handed out
// after Acknowledge, so a caller cannot treat them as authoritative by accident.
type Outcome struct {
	status       Status
	todos        []TodoItem
	reason       string
	acknowledged bool
}

// OK returns an authoritative outcome.
func OK(todos []TodoItem) Outcome {
	return Outcome{status: StatusOK, todos: todos}
}

// Degraded returns a heuristic outcome carrying the reason the backend failed.
func Degraded(todos []TodoItem, reason string) Outcome {
	return Outcome{status: StatusDegraded, todos: todos, reason: reason}
}

func (o Outcome) Status() Status { return o.status }

func (o Outcome) Degraded() bool { return o.status == StatusDegraded }

// Reason is the backend error text of a degraded outcome, "" otherwise.
func (o Outcome) Reason() string { return o.reason }

// Acknowledge returns a copy of o whose degraded todos may be taken.
func (o Outcome) Acknowledge() Outcome {
	o.acknowledged = true
	return o
}

// Todos returns the todos. Degraded outcomes return ErrUnacknowledged unless
// they were acknowledged.
func (o Outcome) Todos() ([]TodoItem, error) {
	if o.status == StatusDegraded && !o.acknowledged {
		return nil, ErrUnacknowledged
	}
	return o.Preview(), nil
}

// Preview returns a copy of the todos for display, whatever the status.
func (o Outcome) Preview() []TodoItem {
	out := make([]TodoItem, len(o.todos))
	copy(out, o.todos)
	return out
}

func (o Outcome) Len() int { return len(o.todos) }

type outcomeJSON struct {
	Todos          []TodoItem `json:"todos"`
	Degraded       bool       `json:"degraded"`
	DegradedReason string     `json:"degraded_reason,omitempty"`
}

// MarshalJSON renders {todos, degraded, degraded_reason?}.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(outcomeJSON{
		Todos:          o.Preview(),
		Degraded:       o.Degraded(),
		DegradedReason: o.reason,
	})
}
