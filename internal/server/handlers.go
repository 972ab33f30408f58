package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"sista/internal/chat"
	"sista/internal/decompose"
	"sista/internal/gateway"
)

// userID accepts both numeric and string ids from clients.
type userID string

func (u *userID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*u = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*u = userID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("user_id must be a string or a number")
	}
	*u = userID(n.String())
	return nil
}

type chatRequest struct {
	UserID            userID                `json:"user_id"`
	Text              string                `json:"text"`
	History           []chat.Turn           `json:"history"`
	RoleSheet         *chat.RoleSheet       `json:"role_sheet"`
	OverHallucination bool                  `json:"over_hallucination"`
	CompressedMemory  chat.CompressedMemory `json:"compressed_memory"`
}

type todosRequest struct {
	Prompt           string                `json:"prompt"`
	UserID           userID                `json:"user_id"`
	History          []chat.Turn           `json:"history"`
	RoleSheet        *chat.RoleSheet       `json:"role_sheet"`
	CompressedMemory chat.CompressedMemory `json:"compressed_memory"`
}

type todosDebug struct {
	LLMError string `json:"llm_error,omitempty"`
}

type todosResponse struct {
	Todos          []decompose.TodoItem `json:"todos"`
	Degraded       bool                 `json:"degraded"`
	DegradedReason string               `json:"degraded_reason,omitempty"`
	Debug          todosDebug           `json:"debug"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := chat.ValidateHistory(req.History); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	res, err := s.chat.Ask(r.Context(), gateway.Request{
		Text:              req.Text,
		History:           req.History,
		RoleSheet:         req.RoleSheet,
		UserID:            string(req.UserID),
		OverHallucination: req.OverHallucination,
		CompressedMemory:  req.CompressedMemory,
	})
	if err != nil {
		status := statusForError(r.Context(), err)
		s.logger.Warn("chat failed", zap.Int("status", status), zap.Error(err), zap.String("request_id", RequestID(r.Context())))
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTodos(w http.ResponseWriter, r *http.Request) {
	var req todosRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := chat.ValidateHistory(req.History); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	outcome, err := s.decomposer.Decompose(r.Context(), req.Prompt, decompose.CallerContext{
		UserID:           string(req.UserID),
		History:          req.History,
		RoleSheet:        req.RoleSheet,
		CompressedMemory: req.CompressedMemory,
	})
	if err != nil {
		writeJSON(w, statusForError(r.Context(), err), errorResponse{Error: err.Error()})
		return
	}

	// 客户端负责在 degraded 时要求用户确认
	resp := todosResponse{
		Todos:          outcome.Preview(),
		Degraded:       outcome.Degraded(),
		DegradedReason: outcome.Reason(),
	}
	if outcome.Degraded() {
		resp.Debug.LLMError = outcome.Reason()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json: " + err.Error()})
		return false
	}
	return true
}

// statusClientClosedRequest is the de facto status for a request the client
// abandoned.
const statusClientClosedRequest = 499

// statusForError maps a failure onto an HTTP status. Configuration problems
// are 503; an expired or abandoned request is 504 or 499; any other upstream
// failure is 502.
func statusForError(ctx context.Context, err error) int {
	switch {
	case gateway.IsConfigError(err):
		return http.StatusServiceUnavailable
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case ctx.Err() != nil:
		return statusClientClosedRequest
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
