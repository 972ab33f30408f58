package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"sista/internal/config"
	"sista/internal/decompose"
	"sista/internal/gateway"
)

type fakeChatter struct {
	res gateway.Result
	err error
	got []gateway.Request
}

func (f *fakeChatter) Ask(ctx context.Context, req gateway.Request) (gateway.Result, error) {
	f.got = append(f.got, req)
	return f.res, f.err
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode json: %v; body=%s", err, rr.Body.String())
	}
	return m
}

func noBackendService() *decompose.Service {
	return decompose.NewService(gateway.New(config.BackendConfig{}, nil), "", nil)
}

func TestHealth(t *testing.T) {
	h := New(&fakeChatter{}, noBackendService(), nil).Handler()
	rr := do(t, h, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Fatalf("code=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestChatSuccess(t *testing.T) {
	chatter := &fakeChatter{res: gateway.Result{
		Response:         "Hello",
		DebugInfo:        gateway.DebugInfo{Endpoint: "http://h/v1/chat/completions", Shape: gateway.ShapeOpenAI},
		CompressedMemory: json.RawMessage(`{"k":1}`),
	}}
	h := New(chatter, noBackendService(), nil).Handler()

	body := `{"user_id": 42, "text": "hi", "history": [{"role":"user","content":"q"}], "role_sheet": {"tone":"calm"}, "compressed_memory": {"k":0}}`
	rr := do(t, h, http.MethodPost, "/chat", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", rr.Code, rr.Body.String())
	}
	m := decodeBody(t, rr)
	if m["response"] != "Hello" {
		t.Fatalf("response=%v", m["response"])
	}
	debug, ok := m["debug_info"].(map[string]any)
	if !ok || debug["endpoint"] != "http://h/v1/chat/completions" {
		t.Fatalf("debug_info=%v", m["debug_info"])
	}
	if cm, ok := m["compressed_memory"].(map[string]any); !ok || cm["k"] != float64(1) {
		t.Fatalf("compressed_memory=%v", m["compressed_memory"])
	}

	if len(chatter.got) != 1 {
		t.Fatalf("calls=%d", len(chatter.got))
	}
	got := chatter.got[0]
	if got.UserID != "42" || got.Text != "hi" || len(got.History) != 1 || got.RoleSheet.Tone != "calm" {
		t.Fatalf("forwarded request=%+v", got)
	}
	if string(got.CompressedMemory) != `{"k":0}` {
		t.Fatalf("compressed memory forwarded=%s", got.CompressedMemory)
	}
}

func TestChatErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"no backend", gateway.ErrNoBackend, http.StatusServiceUnavailable},
		{"exhausted", &gateway.ExhaustedError{Attempts: 12, Last: errors.New("status=500")}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := New(&fakeChatter{err: tc.err}, noBackendService(), nil).Handler()
			rr := do(t, h, http.MethodPost, "/chat", `{"text":"hi"}`)
			if rr.Code != tc.want {
				t.Fatalf("code=%d want %d", rr.Code, tc.want)
			}
			if decodeBody(t, rr)["error"] != tc.err.Error() {
				t.Fatalf("body=%s", rr.Body.String())
			}
		})
	}
}

func TestChatBadRequests(t *testing.T) {
	h := New(&fakeChatter{}, noBackendService(), nil).Handler()
	for name, body := range map[string]string{
		"not json":      `{"text":`,
		"bad role":      `{"text":"hi","history":[{"role":"tool","content":"x"}]}`,
		"bad user id":   `{"text":"hi","user_id":[1]}`,
		"wrong history": `{"text":"hi","history":"nope"}`,
	} {
		if rr := do(t, h, http.MethodPost, "/chat", body); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: code=%d body=%s", name, rr.Code, rr.Body.String())
		}
	}
	if rr := do(t, h, http.MethodGet, "/chat", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /chat code=%d", rr.Code)
	}
}

func TestTodosDegradedWithoutBackend(t *testing.T) {
	h := New(&fakeChatter{}, noBackendService(), nil).Handler()
	rr := do(t, h, http.MethodPost, "/ai/todos", `{"prompt":"牛乳を買う、部屋を片付ける"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", rr.Code, rr.Body.String())
	}

	var resp todosResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Degraded || resp.DegradedReason != "no backend configured" {
		t.Fatalf("resp=%+v", resp)
	}
	if resp.Debug.LLMError != "no backend configured" {
		t.Fatalf("debug.llm_error=%q", resp.Debug.LLMError)
	}
	if len(resp.Todos) != 2 || resp.Todos[0].Title != "牛乳を買う" || resp.Todos[1].ID != 2 {
		t.Fatalf("todos=%+v", resp.Todos)
	}
}

func TestTodosFromModel(t *testing.T) {
	chatter := &fakeChatter{res: gateway.Result{Response: `["電話する","メールする"]`}}
	svc := decompose.NewService(chatter, "", nil)
	h := New(chatter, svc, nil).Handler()

	rr := do(t, h, http.MethodPost, "/ai/todos", `{"prompt":"連絡する","user_id":"7"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", rr.Code, rr.Body.String())
	}
	m := decodeBody(t, rr)
	if m["degraded"] != false {
		t.Fatalf("degraded=%v", m["degraded"])
	}
	if _, ok := m["degraded_reason"]; ok {
		t.Fatalf("degraded_reason must be omitted: %s", rr.Body.String())
	}
	if debug := m["debug"].(map[string]any); len(debug) != 0 {
		t.Fatalf("debug should be empty: %v", debug)
	}
	if todos := m["todos"].([]any); len(todos) != 2 {
		t.Fatalf("todos=%v", todos)
	}
	if chatter.got[0].UserID != "7" {
		t.Fatalf("user id=%q", chatter.got[0].UserID)
	}
}

func TestRequestIDAndAccessLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := New(&fakeChatter{}, noBackendService(), zap.New(core)).Handler()

	rr := do(t, h, http.MethodGet, "/health", "")
	generated := rr.Header().Get(RequestIDHeader)
	if len(generated) != 36 {
		t.Fatalf("expected uuid request id, got %q", generated)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get(RequestIDHeader) != "abc-123" {
		t.Fatalf("incoming request id not reused: %q", rr.Header().Get(RequestIDHeader))
	}

	entries := logs.FilterMessage("http request").All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 access log lines, got %d", len(entries))
	}
	fields := entries[1].ContextMap()
	if fields["request_id"] != "abc-123" || fields["status"] != int64(200) || fields["path"] != "/health" {
		t.Fatalf("access log fields=%v", fields)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, ln, New(&fakeChatter{}, noBackendService(), nil).Handler(), nil)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		cancel()
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop after cancel")
	}
}
