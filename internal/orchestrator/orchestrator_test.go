package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/svjack/Pixelle-Video/internal/assemble"
	"github.com/svjack/Pixelle-Video/internal/compose"
	"github.com/svjack/Pixelle-Video/internal/domain"
	"github.com/svjack/Pixelle-Video/internal/providers/media"
	"github.com/svjack/Pixelle-Video/internal/providers/narration"
	"github.com/svjack/Pixelle-Video/internal/providers/tts"
	"github.com/svjack/Pixelle-Video/internal/store"
	"github.com/svjack/Pixelle-Video/internal/storyboard"
)

type stubNarrator struct{}

func (stubNarrator) Narration(_ context.Context, req narration.NarrationRequest) (string, error) {
	return fmt.Sprintf("scene %d of %d", req.Index+1, req.Total), nil
}

func (stubNarrator) ImagePrompt(_ context.Context, req narration.PromptRequest) (string, error) {
	return "illustration of " + req.Narration, nil
}

type failingNarrator struct{}

func (failingNarrator) Narration(context.Context, narration.NarrationRequest) (string, error) {
	return "", errors.New("model unavailable")
}

func (failingNarrator) ImagePrompt(context.Context, narration.PromptRequest) (string, error) {
	return "", errors.New("model unavailable")
}

// blockingNarrator parks the first narration call until released or the
// context dies, so tests can observe a task mid-run.
type blockingNarrator struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingNarrator) Narration(ctx context.Context, req narration.NarrationRequest) (string, error) {
	if req.Index == 0 {
		select {
		case b.started <- struct{}{}:
		default:
		}
		select {
		case <-b.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "narration", nil
}

func (b *blockingNarrator) ImagePrompt(context.Context, narration.PromptRequest) (string, error) {
	return "prompt", nil
}

type stubSynth struct{ duration float64 }

func (s stubSynth) Synthesize(_ context.Context, req tts.Request) (*tts.Result, error) {
	return &tts.Result{AudioPath: req.OutputPath, Duration: s.duration}, nil
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

// wreckingAssembler reports success but first replaces the storyboard file
// with a directory, so the finalize write that follows cannot land.
type wreckingAssembler struct{}

func (wreckingAssembler) Assemble(_ context.Context, req assemble.Request) (*assemble.Result, error) {
	sbPath := filepath.Join(filepath.Dir(req.WorkDir), "storyboard.json")
	if err := os.Remove(sbPath); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(sbPath, "x"), 0o755); err != nil {
		return nil, err
	}
	return &assemble.Result{FinalVideoPath: req.OutputPath, TotalDuration: 1}, nil
}

func newTestOrchestrator(t *testing.T, n narration.Narrator, onProgress ProgressFunc) (*Orchestrator, *store.TaskStore) {
	t.Helper()
	ts, err := store.NewTaskStore(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewTaskStore: %v", err)
	}
	o := New(Options{
		Store:              ts,
		Narrator:           n,
		Synthesizer:        stubSynth{duration: 2},
		Generator:          stubGenerator{},
		Composer:           stubComposer{},
		Assembler:          stubAssembler{},
		Logger:             zerolog.Nop(),
		StageAttempts:      2,
		StageTimeout:       5 * time.Second,
		MaxConcurrentTasks: 2,
		OnProgress:         onProgress,
	})
	return o, ts
}

func createTask(t *testing.T, o *Orchestrator, frames int) string {
	t.Helper()
	cfg := storyboard.DefaultConfig()
	cfg.NStoryboard = frames
	meta, err := o.CreateTask(context.Background(), CreateRequest{Title: "the silk road", Config: &cfg})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return meta.TaskID
}

func TestCreateTaskPersistsPendingState(t *testing.T) {
	o, ts := newTestOrchestrator(t, stubNarrator{}, nil)
	taskID := createTask(t, o, 3)

	meta, err := ts.LoadTaskMetadata(context.Background(), taskID)
	if err != nil {
		t.Fatalf("LoadTaskMetadata: %v", err)
	}
	if meta.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending", meta.Status)
	}
	sb, err := ts.LoadStoryboard(context.Background(), taskID)
	if err != nil {
		t.Fatalf("LoadStoryboard: %v", err)
	}
	if len(sb.Frames) != 3 {
		t.Fatalf("frames = %d, want 3", len(sb.Frames))
	}
	if sb.Config.TaskID != taskID {
		t.Fatalf("config task_id = %q, want %q", sb.Config.TaskID, taskID)
	}
}

func TestCreateTaskRejectsInvalidConfig(t *testing.T) {
	o, _ := newTestOrchestrator(t, stubNarrator{}, nil)

	cfg := storyboard.DefaultConfig()
	cfg.MinNarrationWords = 30
	cfg.MaxNarrationWords = 10
	if _, err := o.CreateTask(context.Background(), CreateRequest{Title: "x", Config: &cfg}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
	if _, err := o.CreateTask(context.Background(), CreateRequest{Title: "  "}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("empty title err = %v, want ErrInvalidConfig", err)
	}
}

func TestRunCompletesTask(t *testing.T) {
	var events []Progress
	o, ts := newTestOrchestrator(t, stubNarrator{}, func(p Progress) {
		events = append(events, p)
	})
	taskID := createTask(t, o, 3)

	if err := o.Run(context.Background(), taskID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	meta, err := ts.LoadTaskMetadata(context.Background(), taskID)
	if err != nil {
		t.Fatalf("LoadTaskMetadata: %v", err)
	}
	if meta.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", meta.Status)
	}
	if meta.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
	if meta.Result == nil {
		t.Fatal("result not set")
	}
	if meta.Result.FrameCount != 3 {
		t.Fatalf("frame count = %d, want 3", meta.Result.FrameCount)
	}
	if meta.Result.TotalDuration != 6 {
		t.Fatalf("total duration = %v, want 6", meta.Result.TotalDuration)
	}
	if meta.Result.FinalVideoPath != ts.FinalVideoPath(taskID) {
		t.Fatalf("final video path = %q", meta.Result.FinalVideoPath)
	}

	sb, err := ts.LoadStoryboard(context.Background(), taskID)
	if err != nil {
		t.Fatalf("LoadStoryboard: %v", err)
	}
	if sb.FinalVideoPath == "" || sb.CompletedAt == nil {
		t.Fatal("storyboard not finalized")
	}

	if len(events) == 0 {
		t.Fatal("no progress events")
	}
	last := 0.0
	for _, e := range events {
		if e.Fraction < last {
			t.Fatalf("fraction went backwards: %v after %v", e.Fraction, last)
		}
		last = e.Fraction
	}
	if events[len(events)-1].Fraction != 1 {
		t.Fatalf("final fraction = %v, want 1", last)
	}
}

func TestRunRejectsSecondWriter(t *testing.T) {
	n := &blockingNarrator{started: make(chan struct{}, 1), release: make(chan struct{})}
	o, _ := newTestOrchestrator(t, n, nil)
	taskID := createTask(t, o, 1)

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background(), taskID) }()
	<-n.started

	if err := o.Run(context.Background(), taskID); !errors.Is(err, domain.ErrTaskAlreadyRunning) {
		t.Fatalf("second Run err = %v, want ErrTaskAlreadyRunning", err)
	}
	if !o.IsRunning(taskID) {
		t.Fatal("task should report running")
	}

	close(n.release)
	if err := <-done; err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if o.IsRunning(taskID) {
		t.Fatal("task should be unregistered after Run")
	}
}

func TestCancelRunningTask(t *testing.T) {
	n := &blockingNarrator{started: make(chan struct{}, 1), release: make(chan struct{})}
	o, ts := newTestOrchestrator(t, n, nil)
	taskID := createTask(t, o, 2)

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background(), taskID) }()
	<-n.started

	ok, err := o.Cancel(context.Background(), taskID)
	if err != nil || !ok {
		t.Fatalf("Cancel = %v, %v", ok, err)
	}
	if err := <-done; err != nil {
		t.Fatalf("cancelled Run returned %v, want nil", err)
	}
	meta, err := ts.LoadTaskMetadata(context.Background(), taskID)
	if err != nil {
		t.Fatalf("LoadTaskMetadata: %v", err)
	}
	if meta.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", meta.Status)
	}
}

func TestCancelPendingTask(t *testing.T) {
	o, ts := newTestOrchestrator(t, stubNarrator{}, nil)
	taskID := createTask(t, o, 1)

	ok, err := o.Cancel(context.Background(), taskID)
	if err != nil || !ok {
		t.Fatalf("Cancel = %v, %v", ok, err)
	}
	meta, _ := ts.LoadTaskMetadata(context.Background(), taskID)
	if meta.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", meta.Status)
	}

	// A terminal task cannot be cancelled again.
	ok, err = o.Cancel(context.Background(), taskID)
	if err != nil || ok {
		t.Fatalf("second Cancel = %v, %v, want false", ok, err)
	}
}

func TestCancelUnknownTask(t *testing.T) {
	o, _ := newTestOrchestrator(t, stubNarrator{}, nil)
	if _, err := o.Cancel(context.Background(), "no-such-task"); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestRunRecordsFailure(t *testing.T) {
	o, ts := newTestOrchestrator(t, failingNarrator{}, nil)
	taskID := createTask(t, o, 1)

	err := o.Run(context.Background(), taskID)
	if !errors.Is(err, domain.ErrStageFailed) {
		t.Fatalf("Run err = %v, want ErrStageFailed", err)
	}
	meta, lerr := ts.LoadTaskMetadata(context.Background(), taskID)
	if lerr != nil {
		t.Fatalf("LoadTaskMetadata: %v", lerr)
	}
	if meta.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", meta.Status)
	}
	if meta.Error == "" {
		t.Fatal("failure reason not recorded")
	}
	if meta.CompletedAt == nil {
		t.Fatal("completed_at not set on failure")
	}
}

func TestRunMarksFailedWhenFinalizeCannotPersist(t *testing.T) {
	o, ts := newTestOrchestrator(t, stubNarrator{}, nil)
	o.opts.Assembler = wreckingAssembler{}
	taskID := createTask(t, o, 1)

	if err := o.Run(context.Background(), taskID); err == nil {
		t.Fatal("Run should surface the finalize error")
	}
	meta, err := ts.LoadTaskMetadata(context.Background(), taskID)
	if err != nil {
		t.Fatalf("LoadTaskMetadata: %v", err)
	}
	if meta.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", meta.Status)
	}
	if meta.Error == "" {
		t.Fatal("failure reason not recorded")
	}
}

func TestRunTerminalTaskFails(t *testing.T) {
	o, _ := newTestOrchestrator(t, stubNarrator{}, nil)
	taskID := createTask(t, o, 1)
	if err := o.Run(context.Background(), taskID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := o.Run(context.Background(), taskID); err == nil {
		t.Fatal("re-running a completed task should fail")
	}
}
