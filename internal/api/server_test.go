package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"reminderd/internal/core"
	"reminderd/internal/eventbus"
	"reminderd/internal/store"
)

type stubSender struct {
	err error
}

func (s *stubSender) Send(ctx context.Context, channelRef, content string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "msg-test", nil
}

type testEnv struct {
	server    *Server
	store     *store.Store
	scheduler *core.Scheduler
	sender    *stubSender
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sender := &stubSender{}
	bus := eventbus.NewBus()
	deliverer := core.NewDeliverer(st, sender, logger, bus)
	scheduler := core.NewScheduler(st, deliverer, logger, time.UTC)

	server, err := NewServer("127.0.0.1:0", secret, st, scheduler, deliverer, bus, logger, time.UTC, 30)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &testEnv{server: server, store: st, scheduler: scheduler, sender: sender}
}

func (e *testEnv) do(t *testing.T, method, path, secret string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if secret != "" {
		req.Header.Set(SecretHeader, secret)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestAuthRequiredOnStateChanges(t *testing.T) {
	env := newTestEnv(t, "hunter2")

	payload := map[string]string{
		"content": "standup", "channelRef": "c1", "authorRef": "u1", "time": "09:00",
	}
	rec := env.do(t, http.MethodPost, "/add-task", "", payload)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no secret: status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/add-task", "wrong", payload)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/add-task", "hunter2", payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("correct secret: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Read endpoints stay open.
	rec = env.do(t, http.MethodGet, "/tasks", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("open read: status = %d", rec.Code)
	}
}

func TestAddTaskRegistersSchedule(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodPost, "/add-task", "", map[string]string{
		"content": "standup", "channelRef": "c1", "authorRef": "u1",
		"time": "09:00", "days": "1,2,3,4,5",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created map[string]int64
	decodeBody(t, rec, &created)
	if created["id"] == 0 {
		t.Fatal("no id returned")
	}
	if !env.scheduler.Registered(core.ItemKindTask, created["id"]) {
		t.Fatal("task not registered with the scheduler")
	}

	rec = env.do(t, http.MethodGet, "/tasks", "", nil)
	var tasks []map[string]any
	decodeBody(t, rec, &tasks)
	if len(tasks) != 1 || tasks[0]["days"] != "1,2,3,4,5" {
		t.Fatalf("tasks = %v", tasks)
	}
}

func TestAddTaskValidation(t *testing.T) {
	env := newTestEnv(t, "")
	cases := []map[string]string{
		{"channelRef": "c1", "authorRef": "u1", "time": "09:00"},           // no content
		{"content": " ", "channelRef": "c1", "authorRef": "u1", "time": "09:00"}, // blank content
		{"content": "x", "channelRef": "c1", "authorRef": "u1", "time": "25:00"}, // bad time
		{"content": "x", "channelRef": "c1", "authorRef": "u1", "time": "09:00", "days": "8"}, // bad day
	}
	for i, payload := range cases {
		rec := env.do(t, http.MethodPost, "/add-task", "", payload)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("case %d: status = %d, want 400", i, rec.Code)
		}
	}
}

func TestDeleteTaskOwnerScoped(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodPost, "/add-task", "", map[string]string{
		"content": "standup", "channelRef": "c1", "authorRef": "owner", "time": "09:00",
	})
	var created map[string]int64
	decodeBody(t, rec, &created)
	id := created["id"]

	rec = env.do(t, http.MethodDelete, "/tasks/1?author=intruder", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign delete: status = %d", rec.Code)
	}
	if !env.scheduler.Registered(core.ItemKindTask, id) {
		t.Fatal("schedule dropped by a rejected delete")
	}

	rec = env.do(t, http.MethodDelete, "/tasks/1", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing author: status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/tasks/1?author=owner", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("owner delete: status = %d", rec.Code)
	}
	if env.scheduler.Registered(core.ItemKindTask, id) {
		t.Fatal("schedule survived the delete")
	}
}

func TestDeleteTaskStoreFailureIsNot404(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodPost, "/add-task", "", map[string]string{
		"content": "standup", "channelRef": "c1", "authorRef": "owner", "time": "09:00",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add: status = %d", rec.Code)
	}

	// A broken store is a 500, not a not-found that would tell the caller the
	// row is gone.
	env.store.Close()
	rec = env.do(t, http.MethodDelete, "/tasks/1?author=owner", "", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestSendOnceOutcomes(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodPost, "/send-once", "", map[string]string{
		"content": "hello", "channelRef": "c1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("success send: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var ok map[string]string
	decodeBody(t, rec, &ok)
	if ok["messageRef"] != "msg-test" {
		t.Fatalf("messageRef = %q", ok["messageRef"])
	}

	env.sender.err = errors.New("discord down")
	rec = env.do(t, http.MethodPost, "/send-once", "", map[string]string{
		"content": "hello", "channelRef": "c1",
	})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("failed send: status = %d", rec.Code)
	}

	// Both attempts left a log row behind.
	rec = env.do(t, http.MethodGet, "/api/logs", "", nil)
	var page map[string]any
	decodeBody(t, rec, &page)
	logs := page["logs"].([]any)
	if len(logs) != 2 {
		t.Fatalf("log rows = %d, want 2", len(logs))
	}
}

func TestQueryLogsEndpoint(t *testing.T) {
	env := newTestEnv(t, "")

	for i := 0; i < 3; i++ {
		env.do(t, http.MethodPost, "/send-once", "", map[string]string{
			"content": "ping", "channelRef": "c1",
		})
	}

	rec := env.do(t, http.MethodGet, "/api/logs?limit=2", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var page map[string]any
	decodeBody(t, rec, &page)
	if len(page["logs"].([]any)) != 2 {
		t.Fatalf("page size = %d", len(page["logs"].([]any)))
	}
	if page["hasMore"] != true {
		t.Fatal("expected hasMore on first page")
	}
	cursor, _ := page["nextCursor"].(string)
	if cursor == "" {
		t.Fatal("missing nextCursor")
	}

	rec = env.do(t, http.MethodGet, "/api/logs?limit=2&cursor="+cursor, "", nil)
	decodeBody(t, rec, &page)
	if len(page["logs"].([]any)) != 1 || page["hasMore"] != false {
		t.Fatalf("second page = %v", page)
	}

	rec = env.do(t, http.MethodGet, "/api/logs?cursor=not-a-valid-cursor-token", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad cursor: status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/logs?status=weird", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status: status = %d", rec.Code)
	}
}

func TestRetryEndpointRejectsUnsupported(t *testing.T) {
	env := newTestEnv(t, "")
	env.sender.err = errors.New("boom")

	env.do(t, http.MethodPost, "/send-once", "", map[string]string{
		"content": "hello", "channelRef": "c1",
	})

	// The only log row is a failed send_once, which has no source to replay.
	rec := env.do(t, http.MethodPost, "/api/logs/1/retry", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/logs/999/retry", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing log: status = %d", rec.Code)
	}
}

func TestCompleteTask(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodPost, "/add-task", "", map[string]string{
		"content": "report", "channelRef": "c1", "authorRef": "u1", "time": "10:00",
	})
	var created map[string]int64
	decodeBody(t, rec, &created)

	rec = env.do(t, http.MethodPost, "/complete-task", "", map[string]any{
		"taskId": created["id"], "userRef": "u2", "messageRef": "m1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/complete-task", "", map[string]any{
		"taskId": 999, "userRef": "u2",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing task: status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/stats", "", nil)
	var stats map[string]float64
	decodeBody(t, rec, &stats)
	if stats["completions"] != 1 {
		t.Fatalf("completions = %v", stats["completions"])
	}
}

func TestRotateEndpoint(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodPost, "/rotate-logs", "", map[string]int{"maxAgeDays": -1})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("negative age: status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/rotate-logs", "", map[string]int{"maxAgeDays": 10})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["archivedRecords"] != float64(0) || body["maxAgeDays"] != float64(10) {
		t.Fatalf("body = %v", body)
	}
}

func TestClearLogsEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	env.do(t, http.MethodPost, "/send-once", "", map[string]string{
		"content": "hello", "channelRef": "c1",
	})

	rec := env.do(t, http.MethodDelete, "/api/logs/clear", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/logs", "", nil)
	var page map[string]any
	decodeBody(t, rec, &page)
	if len(page["logs"].([]any)) != 0 {
		t.Fatalf("logs after clear = %v", page["logs"])
	}
}
