package decompose

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"sista/internal/config"
	"sista/internal/gateway"
)

type fakeAsker struct {
	reply string
	err   error
	got   []gateway.Request
}

func (f *fakeAsker) Ask(ctx context.Context, req gateway.Request) (gateway.Result, error) {
	f.got = append(f.got, req)
	if f.err != nil {
		return gateway.Result{}, f.err
	}
	return gateway.Result{Response: f.reply}, nil
}

func titlesOf(items []TodoItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Title)
	}
	return out
}

func TestDecomposeNoBackendIsDegraded(t *testing.T) {
	svc := NewService(gateway.New(config.BackendConfig{}, nil), "", nil)
	outcome, err := svc.Decompose(context.Background(), "牛乳を買う、部屋を片付ける", CallerContext{})
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Degraded() || outcome.Status() != StatusDegraded {
		t.Fatalf("expected degraded outcome, got %v", outcome.Status())
	}
	if outcome.Reason() != gateway.ErrNoBackend.Error() {
		t.Fatalf("reason=%q", outcome.Reason())
	}
	want := []TodoItem{
		{ID: 1, Title: "牛乳を買う", Status: TodoPending, Order: 1},
		{ID: 2, Title: "部屋を片付ける", Status: TodoPending, Order: 2},
	}
	if diff := cmp.Diff(want, outcome.Preview()); diff != "" {
		t.Fatalf("todos mismatch (-want +got):\n%s", diff)
	}
}

func TestDecomposeJSONReply(t *testing.T) {
	asker := &fakeAsker{reply: `["電話する","メールする"]`}
	outcome, err := NewService(asker, "", nil).Decompose(context.Background(), "連絡する", CallerContext{})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Degraded() {
		t.Fatalf("unexpected degraded: %s", outcome.Reason())
	}
	todos, err := outcome.Todos()
	if err != nil {
		t.Fatal(err)
	}
	want := []TodoItem{
		{ID: 1, Title: "電話する", Status: TodoPending, Order: 1},
		{ID: 2, Title: "メールする", Status: TodoPending, Order: 2},
	}
	if diff := cmp.Diff(want, todos); diff != "" {
		t.Fatalf("todos mismatch (-want +got):\n%s", diff)
	}
}

func TestDecomposeUnreachableBackend(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	gw := gateway.New(config.BackendConfig{BaseURL: base, Model: "m", TimeoutMS: 1000}, nil)
	outcome, err := NewService(gw, "", nil).Decompose(context.Background(), "掃除", CallerContext{})
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Degraded() {
		t.Fatal("expected degraded outcome")
	}
	if diff := cmp.Diff([]string{"掃除 を小さく試す"}, titlesOf(outcome.Preview())); diff != "" {
		t.Fatalf("titles mismatch (-want +got):\n%s", diff)
	}
	if outcome.Preview()[0].ID != 1 {
		t.Fatalf("id=%d", outcome.Preview()[0].ID)
	}
}

func TestDecomposeReasonIsGatewayErrorText(t *testing.T) {
	gwErr := &gateway.ExhaustedError{Attempts: 12, Last: errors.New("status=500")}
	outcome, err := NewService(&fakeAsker{err: gwErr}, "", nil).Decompose(context.Background(), "a、b", CallerContext{})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Reason() != gwErr.Error() {
		t.Fatalf("reason=%q want %q", outcome.Reason(), gwErr.Error())
	}
}

func TestDecomposeUnusableReplyIsNotDegraded(t *testing.T) {
	outcome, err := NewService(&fakeAsker{reply: " \n "}, "", nil).Decompose(context.Background(), "掃除", CallerContext{})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Degraded() {
		t.Fatal("a reachable backend must not produce a degraded outcome")
	}
	if diff := cmp.Diff([]string{"掃除 を小さく試す"}, titlesOf(outcome.Preview())); diff != "" {
		t.Fatalf("titles mismatch (-want +got):\n%s", diff)
	}
}

func TestDecomposeEmptyPrompt(t *testing.T) {
	asker := &fakeAsker{reply: `["x"]`}
	outcome, err := NewService(asker, "", nil).Decompose(context.Background(), "   ", CallerContext{})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Len() != 0 || outcome.Degraded() {
		t.Fatalf("expected empty ok outcome, got %d todos degraded=%v", outcome.Len(), outcome.Degraded())
	}
	if len(asker.got) != 0 {
		t.Fatal("empty prompt must not reach the gateway")
	}
}

func TestDecomposeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewService(&fakeAsker{err: context.Canceled}, "", nil).Decompose(ctx, "a、b", CallerContext{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDecomposeInstructionAndCallerContext(t *testing.T) {
	asker := &fakeAsker{reply: "1. a"}
	cc := CallerContext{UserID: "7"}
	if _, err := NewService(asker, " Split into steps ", nil).Decompose(context.Background(), "do it", cc); err != nil {
		t.Fatal(err)
	}
	if len(asker.got) != 1 {
		t.Fatalf("calls=%d", len(asker.got))
	}
	if asker.got[0].Text != "Split into steps\n\ndo it" || asker.got[0].UserID != "7" {
		t.Fatalf("request=%+v", asker.got[0])
	}
}

func TestOutcomeAcknowledgeGate(t *testing.T) {
	degraded := Degraded(NewTodos([]string{"a", " ", "b"}), "no backend configured")
	if _, err := degraded.Todos(); !errors.Is(err, ErrUnacknowledged) {
		t.Fatalf("expected ErrUnacknowledged, got %v", err)
	}
	todos, err := degraded.Acknowledge().Todos()
	if err != nil {
		t.Fatal(err)
	}
	if len(todos) != 2 || todos[1].ID != 2 || todos[1].Title != "b" {
		t.Fatalf("todos=%+v", todos)
	}
	if _, err := degraded.Todos(); err == nil {
		t.Fatal("Acknowledge must not mutate the original outcome")
	}
}

func TestOutcomeJSON(t *testing.T) {
	data, err := json.Marshal(Degraded(NewTodos([]string{"x"}), "boom"))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"todos":[{"id":1,"title":"x","status":"pending","order":1}],"degraded":true,"degraded_reason":"boom"}`
	if string(data) != want {
		t.Fatalf("json=%s", data)
	}
	data, err = json.Marshal(OK(nil))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"todos":[],"degraded":false}` {
		t.Fatalf("json=%s", data)
	}
}
