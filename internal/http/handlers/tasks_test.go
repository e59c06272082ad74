package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/svjack/Pixelle-Video/internal/assemble"
	"github.com/svjack/Pixelle-Video/internal/compose"
	"github.com/svjack/Pixelle-Video/internal/domain"
	"github.com/svjack/Pixelle-Video/internal/http/handlers"
	"github.com/svjack/Pixelle-Video/internal/http/httpapi"
	"github.com/svjack/Pixelle-Video/internal/orchestrator"
	"github.com/svjack/Pixelle-Video/internal/providers/media"
	"github.com/svjack/Pixelle-Video/internal/providers/narration"
	"github.com/svjack/Pixelle-Video/internal/providers/tts"
	"github.com/svjack/Pixelle-Video/internal/store"
)

type stubNarrator struct{}

func (stubNarrator) Narration(context.Context, narration.NarrationRequest) (string, error) {
	return "a short narration", nil
}

func (stubNarrator) ImagePrompt(context.Context, narration.PromptRequest) (string, error) {
	return "a detailed prompt", nil
}

type stubSynth struct{}

func (stubSynth) Synthesize(_ context.Context, req tts.Request) (*tts.Result, error) {
	return &tts.Result{AudioPath: req.OutputPath, Duration: 2}, nil
}

type stubGenerator struct{}

func (stubGenerator) Generate(_ context.Context, req media.GenerateRequest) (string, error) {
	return req.OutputPath, nil
}

type stubComposer struct{}

func (stubComposer) Compose(_ context.Context, req compose.Request) (string, error) {
	return req.OutputPath, nil
}

type stubAssembler struct{}

func (stubAssembler) Assemble(_ context.Context, req assemble.Request) (*assemble.Result, error) {
	var total float64
	for i := range req.Storyboard.Frames {
		total += req.Storyboard.Frames[i].Duration
	}
	return &assemble.Result{FinalVideoPath: req.OutputPath, TotalDuration: total}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *store.TaskStore) {
	t.Helper()
	ts, err := store.NewTaskStore(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewTaskStore: %v", err)
	}
	orch := orchestrator.New(orchestrator.Options{
		Store:              ts,
		Narrator:           stubNarrator{},
		Synthesizer:        stubSynth{},
		Generator:          stubGenerator{},
		Composer:           stubComposer{},
		Assembler:          stubAssembler{},
		Logger:             zerolog.Nop(),
		MaxConcurrentTasks: 2,
	})
	app := handlers.NewApp(ts, orch, zerolog.Nop())
	srv := httptest.NewServer(httpapi.NewRouter(app, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return srv, ts
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func createPendingTask(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, out := doJSON(t, http.MethodPost, srv.URL+"/v1/tasks",
		`{"title":"the silk road","start":false,"config":{"n_storyboard":2}}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body %v", resp.StatusCode, out)
	}
	id, _ := out["task_id"].(string)
	if id == "" {
		t.Fatalf("no task_id in %v", out)
	}
	return id
}

func waitForStatus(t *testing.T, ts *store.TaskStore, taskID string, want domain.TaskStatus) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		meta, err := ts.LoadTaskMetadata(context.Background(), taskID)
		if err == nil && meta.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	meta, _ := ts.LoadTaskMetadata(context.Background(), taskID)
	t.Fatalf("task never reached %s, last state %+v", want, meta)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, out := doJSON(t, http.MethodGet, srv.URL+"/v1/healthz", "")
	if resp.StatusCode != http.StatusOK || out["status"] != "ok" {
		t.Fatalf("healthz = %d %v", resp.StatusCode, out)
	}
}

func TestCreateTaskPendingAndFetch(t *testing.T) {
	srv, ts := newTestServer(t)
	id := createPendingTask(t, srv)

	resp, out := doJSON(t, http.MethodGet, srv.URL+"/v1/tasks/"+id, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	if out["status"] != string(domain.StatusPending) {
		t.Fatalf("status = %v, want pending", out["status"])
	}

	// The original request body round-trips as the task's input.
	meta, err := ts.LoadTaskMetadata(context.Background(), id)
	if err != nil {
		t.Fatalf("LoadTaskMetadata: %v", err)
	}
	if !strings.Contains(string(meta.Input), "the silk road") {
		t.Fatalf("input not preserved: %s", meta.Input)
	}

	resp, out = doJSON(t, http.MethodGet, srv.URL+"/v1/tasks/"+id+"/storyboard", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("storyboard status = %d", resp.StatusCode)
	}
	frames, _ := out["frames"].([]any)
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
}

func TestCreateTaskValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	cases := []struct {
		name string
		body string
	}{
		{"empty title", `{"title":"  ","start":false}`},
		{"bad config bounds", `{"title":"x","start":false,"config":{"min_narration_words":30,"max_narration_words":5}}`},
		{"malformed json", `{"title":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/tasks", tc.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestRunTaskToCompletion(t *testing.T) {
	srv, ts := newTestServer(t)
	id := createPendingTask(t, srv)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/tasks/"+id+"/run", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("run status = %d", resp.StatusCode)
	}
	waitForStatus(t, ts, id, domain.StatusCompleted)

	resp, out := doJSON(t, http.MethodGet, srv.URL+"/v1/tasks/"+id, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	result, _ := out["result"].(map[string]any)
	if result == nil || result["frame_count"] != float64(2) {
		t.Fatalf("result = %v", out["result"])
	}

	// Running a finished task is a conflict.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/tasks/"+id+"/run", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("re-run status = %d, want 409", resp.StatusCode)
	}
}

func TestListTasksFilterAndPaginate(t *testing.T) {
	srv, ts := newTestServer(t)
	a := createPendingTask(t, srv)
	b := createPendingTask(t, srv)
	_ = b

	// Flip one task to a terminal state directly through the store.
	if err := ts.UpdateTaskStatus(context.Background(), a, domain.StatusRunning, ""); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}
	if err := ts.UpdateTaskStatus(context.Background(), a, domain.StatusFailed, "boom"); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}

	resp, out := doJSON(t, http.MethodGet, srv.URL+"/v1/tasks?status=failed", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	if out["count"] != float64(1) {
		t.Fatalf("count = %v, want 1", out["count"])
	}

	resp, out = doJSON(t, http.MethodGet, srv.URL+"/v1/tasks?limit=1", "")
	if resp.StatusCode != http.StatusOK || out["count"] != float64(1) {
		t.Fatalf("paginated list = %d %v", resp.StatusCode, out)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/tasks?status=bogus", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad status filter = %d, want 400", resp.StatusCode)
	}
}

func TestCancelPendingTaskOverHTTP(t *testing.T) {
	srv, ts := newTestServer(t)
	id := createPendingTask(t, srv)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/tasks/"+id+"/cancel", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}
	waitForStatus(t, ts, id, domain.StatusCancelled)

	// A second cancel hits a terminal task.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/tasks/"+id+"/cancel", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second cancel = %d, want 409", resp.StatusCode)
	}
}

func TestDeleteTask(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createPendingTask(t, srv)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/tasks/"+id, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	getResp, _ := doJSON(t, http.MethodGet, srv.URL+"/v1/tasks/"+id, "")
	if getResp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete = %d, want 404", getResp.StatusCode)
	}
}

func TestUnknownTaskIsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/v1/tasks/no-such-task", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
