package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/taskmind/taskmind/internal/capture"
	"github.com/taskmind/taskmind/internal/conversation"
	"github.com/taskmind/taskmind/internal/events"
	"github.com/taskmind/taskmind/internal/inference"
	"github.com/taskmind/taskmind/internal/scheduler"
	"github.com/taskmind/taskmind/internal/storage"
)

const testToken = "test-token"

type stubGateway struct {
	reply  string
	chunks []string
	err    error
}

func (g *stubGateway) Generate(ctx context.Context, req inference.Request) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *stubGateway) GenerateStream(ctx context.Context, req inference.Request) (<-chan inference.Delta, error) {
	if g.err != nil {
		return nil, g.err
	}
	ch := make(chan inference.Delta, len(g.chunks)+1)
	var full strings.Builder
	for _, c := range g.chunks {
		full.WriteString(c)
		ch <- inference.Delta{Content: c, ConversationID: req.ConversationID}
	}
	ch <- inference.Delta{IsFinished: true, FullResponse: full.String(), ConversationID: req.ConversationID}
	close(ch)
	return ch, nil
}

func (g *stubGateway) Status() inference.Status {
	return inference.Status{Initialized: true}
}

func (g *stubGateway) Model() string { return "qwen3" }

type stubSource struct{}

func (stubSource) Capture(ctx context.Context) (capture.Event, error) {
	return capture.Event{ID: "ev", Text: "screen text", Timestamp: time.Now().UTC()}, nil
}

type stubEvaluator struct{}

func (stubEvaluator) Evaluate(ctx context.Context, ev capture.Event, tasks []storage.TaskWithSteps) (storage.CommitResult, error) {
	return storage.CommitResult{}, nil
}

func newTestServer(t *testing.T, gw *stubGateway) (*httptest.Server, *storage.Store, *events.Bus) {
	t.Helper()

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	log := slog.New(slog.DiscardHandler)
	conv := conversation.NewManager(store, gw, log)
	sched := scheduler.New(stubSource{}, store, stubEvaluator{}, log, time.Second)
	bus := events.NewBus(log)

	h := NewHandler(Deps{
		Store:     store,
		Conv:      conv,
		Gateway:   gw,
		Scheduler: sched,
		Bus:       bus,
		Token:     testToken,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, store, bus
}

func doRequest(t *testing.T, srv *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthUnauthenticated(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubGateway{})

	resp, err := srv.Client().Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubGateway{})

	resp, err := srv.Client().Get(srv.URL + "/tasks")
	if err != nil {
		t.Fatalf("GET /tasks: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/tasks", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /tasks: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", resp.StatusCode)
	}
}

func TestTaskLifecycle(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubGateway{})

	created := decodeBody[taskResponse](t, doRequest(t, srv, http.MethodPost, "/tasks", map[string]any{
		"name":      "Write weekly report",
		"frequency": "weekly",
		"priority":  2,
		"steps": []map[string]string{
			{"title": "Collect metrics"},
			{"title": "Draft summary"},
		},
	}))
	if created.ID == 0 || created.Name != "Write weekly report" {
		t.Fatalf("created = %+v", created)
	}
	if created.Frequency != "weekly" || len(created.Steps) != 2 {
		t.Errorf("frequency = %q, steps = %d", created.Frequency, len(created.Steps))
	}
	if created.DueStatus == "" {
		t.Error("due_status missing")
	}

	list := decodeBody[[]taskResponse](t, doRequest(t, srv, http.MethodGet, "/tasks", nil))
	if len(list) != 1 {
		t.Fatalf("list = %d tasks, want 1", len(list))
	}

	got := decodeBody[taskResponse](t, doRequest(t, srv, http.MethodGet, fmt.Sprintf("/tasks/%d", created.ID), nil))
	if got.ID != created.ID {
		t.Errorf("get id = %d, want %d", got.ID, created.ID)
	}

	patched := decodeBody[taskResponse](t, doRequest(t, srv, http.MethodPatch, fmt.Sprintf("/tasks/%d", created.ID), map[string]any{
		"name":     "Write monthly report",
		"priority": 5,
	}))
	if patched.Name != "Write monthly report" || patched.Priority != 5 {
		t.Errorf("patched = %+v", patched)
	}

	completed := decodeBody[taskResponse](t, doRequest(t, srv, http.MethodPost, fmt.Sprintf("/tasks/%d/complete", created.ID), nil))
	if completed.LastCompletedAt == nil {
		t.Error("last_completed_at not set after completion")
	}
	// Weekly tasks stay active after completion.
	if completed.Status != string(storage.TaskActive) {
		t.Errorf("status = %q, want active", completed.Status)
	}

	resp := doRequest(t, srv, http.MethodDelete, fmt.Sprintf("/tasks/%d", created.ID), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	resp = doRequest(t, srv, http.MethodGet, fmt.Sprintf("/tasks/%d", created.ID), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", resp.StatusCode)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubGateway{})

	resp := doRequest(t, srv, http.MethodPost, "/tasks", map[string]any{"frequency": "daily"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing name: status = %d, want 400", resp.StatusCode)
	}

	resp = doRequest(t, srv, http.MethodPost, "/tasks", map[string]any{"name": "x", "frequency": "fortnightly"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad frequency: status = %d, want 400", resp.StatusCode)
	}
}

func TestTaskProgressEmpty(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubGateway{})

	created := decodeBody[taskResponse](t, doRequest(t, srv, http.MethodPost, "/tasks", map[string]any{"name": "t"}))

	out := decodeBody[map[string]any](t, doRequest(t, srv, http.MethodGet, fmt.Sprintf("/tasks/%d/progress", created.ID), nil))
	if total := out["total"].(float64); total != 0 {
		t.Errorf("total = %v, want 0", total)
	}
}

func TestConversationEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubGateway{reply: "hi there"})

	created := decodeBody[conversationResponse](t, doRequest(t, srv, http.MethodPost, "/conversations", map[string]string{"name": "Planning"}))
	if created.ID == "" || created.Name != "Planning" {
		t.Fatalf("created = %+v", created)
	}

	current := decodeBody[conversationResponse](t, doRequest(t, srv, http.MethodGet, "/conversations/current", nil))
	if current.ID != created.ID {
		t.Errorf("current = %s, want %s", current.ID, created.ID)
	}

	resp := doRequest(t, srv, http.MethodPatch, "/conversations/"+created.ID, map[string]string{"name": "Renamed"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rename status = %d", resp.StatusCode)
	}

	resp = doRequest(t, srv, http.MethodGet, "/conversations/missing/history", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("history of unknown conversation = %d, want 404", resp.StatusCode)
	}

	resp = doRequest(t, srv, http.MethodDelete, "/conversations/"+created.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
}

func TestGenerate(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubGateway{reply: "the answer"})

	out := decodeBody[map[string]string](t, doRequest(t, srv, http.MethodPost, "/generate", map[string]any{
		"prompt": "question",
	}))
	if out["response"] != "the answer" {
		t.Errorf("response = %q", out["response"])
	}

	resp := doRequest(t, srv, http.MethodPost, "/generate", map[string]any{"prompt": ""})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty prompt: status = %d, want 400", resp.StatusCode)
	}
}

func TestGenerateStream(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubGateway{chunks: []string{"Hel", "lo"}})

	resp := doRequest(t, srv, http.MethodPost, "/generate", map[string]any{
		"prompt": "question",
		"stream": true,
	})
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	var chunks []streamChunk
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var c streamChunk
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &c); err != nil {
			t.Fatalf("bad SSE chunk %q: %v", line, err)
		}
		chunks = append(chunks, c)
	}

	if len(chunks) < 3 {
		t.Fatalf("got %d chunks, want at least 3", len(chunks))
	}
	last := chunks[len(chunks)-1]
	if !last.Done || last.FullResponse != "Hello" {
		t.Errorf("terminal chunk = %+v", last)
	}
	var got string
	for _, c := range chunks[:len(chunks)-1] {
		got += c.Content
	}
	if got != "Hello" {
		t.Errorf("streamed content = %q, want Hello", got)
	}
}

func TestGenerateStreamPublishesEvents(t *testing.T) {
	srv, _, bus := newTestServer(t, &stubGateway{chunks: []string{"Hel", "lo"}})

	sub, cancel := bus.Subscribe()
	defer cancel()

	conv := decodeBody[conversationResponse](t, doRequest(t, srv, http.MethodPost, "/conversations", nil))

	resp := doRequest(t, srv, http.MethodPost, "/generate", map[string]any{
		"prompt":          "question",
		"stream":          true,
		"conversation_id": conv.ID,
	})
	resp.Body.Close()

	deadline := time.After(2 * time.Second)
	var got []streamChunk
	for len(got) == 0 || !got[len(got)-1].Done {
		select {
		case ev := <-sub:
			if ev.Type != events.TypeChatStream {
				continue
			}
			chunk, ok := ev.Payload.(streamChunk)
			if !ok {
				t.Fatalf("payload type = %T", ev.Payload)
			}
			got = append(got, chunk)
		case <-deadline:
			t.Fatalf("timed out after %d chat_stream events", len(got))
		}
	}

	last := got[len(got)-1]
	if last.FullResponse != "Hello" {
		t.Errorf("terminal event = %+v", last)
	}
	for i, c := range got {
		if c.ConversationID != conv.ID {
			t.Errorf("event %d conversation_id = %q, want %q", i, c.ConversationID, conv.ID)
		}
	}
}

func TestSchedulerEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubGateway{})

	stats := decodeBody[scheduler.Stats](t, doRequest(t, srv, http.MethodPost, "/scheduler/start", map[string]int{"interval_seconds": 60}))
	if !stats.Running {
		t.Error("scheduler not running after start")
	}

	stats = decodeBody[scheduler.Stats](t, doRequest(t, srv, http.MethodPut, "/scheduler/interval", map[string]int{"interval_seconds": 120}))
	if stats.Interval != 120*time.Second {
		t.Errorf("interval = %v, want 2m", stats.Interval)
	}

	resp := doRequest(t, srv, http.MethodPut, "/scheduler/interval", map[string]int{"interval_seconds": 0})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("zero interval: status = %d, want 400", resp.StatusCode)
	}

	stats = decodeBody[scheduler.Stats](t, doRequest(t, srv, http.MethodPost, "/scheduler/stop", nil))
	if stats.Running {
		t.Error("scheduler still running after stop")
	}
}

func TestCaptureRun(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubGateway{})

	resp := doRequest(t, srv, http.MethodPost, "/capture/run", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	stats := decodeBody[scheduler.Stats](t, resp)
	if stats.Ticks != 0 {
		t.Errorf("ticks = %d, want 0 for a manual run", stats.Ticks)
	}
}

func TestCaptureSelection(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubGateway{})

	data := base64.StdEncoding.EncodeToString([]byte("selected words"))
	out := decodeBody[map[string]any](t, doRequest(t, srv, http.MethodPost, "/capture/selection", map[string]any{
		"bounds": map[string]int{"x": 0, "y": 0, "width": 100, "height": 50},
		"data":   data,
	}))
	if out["text_content"] != "selected words" {
		t.Errorf("text_content = %q", out["text_content"])
	}

	resp := doRequest(t, srv, http.MethodPost, "/capture/selection", map[string]any{
		"bounds": map[string]int{"width": 0, "height": 0},
		"data":   data,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("invalid bounds: status = %d, want 422", resp.StatusCode)
	}
}

func TestModelStatus(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubGateway{})

	out := decodeBody[map[string]any](t, doRequest(t, srv, http.MethodGet, "/model/status", nil))
	if out["model"] != "qwen3" {
		t.Errorf("model = %v", out["model"])
	}
	status := out["status"].(map[string]any)
	if status["initialized"] != true {
		t.Errorf("status = %v", status)
	}
}
