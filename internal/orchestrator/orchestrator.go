// Package orchestrator owns the task lifecycle: it creates tasks, runs their
// frame pipelines under a concurrency limit, assembles the final video and
// records the terminal state. At most one writer ever works on a task.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/svjack/Pixelle-Video/internal/assemble"
	"github.com/svjack/Pixelle-Video/internal/compose"
	"github.com/svjack/Pixelle-Video/internal/domain"
	"github.com/svjack/Pixelle-Video/internal/infra"
	"github.com/svjack/Pixelle-Video/internal/pipeline"
	"github.com/svjack/Pixelle-Video/internal/providers/media"
	"github.com/svjack/Pixelle-Video/internal/providers/narration"
	"github.com/svjack/Pixelle-Video/internal/providers/tts"
	"github.com/svjack/Pixelle-Video/internal/store"
	"github.com/svjack/Pixelle-Video/internal/storyboard"
)

// Progress is one observable step of a running task. Fraction grows
// monotonically from 0 to 1 over the task's lifetime.
type Progress struct {
	TaskID      string         `json:"task_id"`
	FrameIndex  int            `json:"frame_index"`
	TotalFrames int            `json:"total_frames"`
	Stage       pipeline.Stage `json:"stage"`
	Fraction    float64        `json:"fraction"`
}

// ProgressFunc receives progress events. It must not block.
type ProgressFunc func(Progress)

// Options wires the orchestrator's collaborators and policies.
type Options struct {
	Store              *store.TaskStore
	Narrator           narration.Narrator
	Synthesizer        tts.Synthesizer
	Generator          media.Generator
	Composer           compose.Composer
	Assembler          assemble.Assembler
	Logger             infra.Logger
	StageTimeout       time.Duration
	StageAttempts      int
	MaxConcurrentTasks int
	BGMPath            string
	OnProgress         ProgressFunc
}

// Orchestrator runs tasks. Tasks run concurrently up to MaxConcurrentTasks;
// frames within one task run sequentially.
type Orchestrator struct {
	opts Options
	sem  *semaphore.Weighted

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func New(opts Options) *Orchestrator {
	if opts.MaxConcurrentTasks <= 0 {
		opts.MaxConcurrentTasks = 1
	}
	return &Orchestrator{
		opts:    opts,
		sem:     semaphore.NewWeighted(int64(opts.MaxConcurrentTasks)),
		running: make(map[string]context.CancelFunc),
	}
}

// CreateRequest describes a new task.
type CreateRequest struct {
	Title           string
	Config          *storyboard.Config
	Input           json.RawMessage
	ContentMetadata *storyboard.ContentMetadata
}

// CreateTask validates the configuration, persists a pending metadata record
// and the initial storyboard, and returns the new task's metadata.
func (o *Orchestrator) CreateTask(ctx context.Context, req CreateRequest) (*domain.TaskMetadata, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", domain.ErrInvalidConfig)
	}
	cfg := storyboard.DefaultConfig()
	if req.Config != nil {
		cfg = *req.Config
	}
	if cfg.TaskID == "" {
		cfg.TaskID = uuid.NewString()
	}
	sb, err := storyboard.New(title, cfg)
	if err != nil {
		return nil, err
	}
	sb.ContentMetadata = req.ContentMetadata

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: encode config: %w", err)
	}
	meta := &domain.TaskMetadata{
		TaskID:    cfg.TaskID,
		CreatedAt: time.Now(),
		Status:    domain.StatusPending,
		Input:     req.Input,
		Config:    cfgJSON,
	}
	if err := o.opts.Store.SaveTaskMetadata(ctx, cfg.TaskID, meta); err != nil {
		return nil, err
	}
	if err := o.opts.Store.SaveStoryboard(ctx, cfg.TaskID, sb); err != nil {
		return nil, err
	}
	o.opts.Logger.Info().Str("task_id", cfg.TaskID).Str("title", title).Int("frames", len(sb.Frames)).Msg("orchestrator: task created")
	return meta, nil
}

// Run executes the task to a terminal state. It blocks until the task
// finishes, fails, or is cancelled. A second Run for the same task returns
// domain.ErrTaskAlreadyRunning. Cancellation is not an error: the task is
// marked cancelled and Run returns nil.
func (o *Orchestrator) Run(ctx context.Context, taskID string) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !o.register(taskID, cancel) {
		return fmt.Errorf("task %s: %w", taskID, domain.ErrTaskAlreadyRunning)
	}
	defer o.unregister(taskID)

	if err := o.sem.Acquire(runCtx, 1); err != nil {
		return o.finishCancelled(taskID)
	}
	defer o.sem.Release(1)

	meta, err := o.opts.Store.LoadTaskMetadata(runCtx, taskID)
	if err != nil {
		return err
	}
	if meta.Status.IsTerminal() {
		return fmt.Errorf("orchestrator: task %s already %s", taskID, meta.Status)
	}
	sb, err := o.opts.Store.LoadStoryboard(runCtx, taskID)
	if err != nil {
		return err
	}
	if err := o.opts.Store.UpdateTaskStatus(runCtx, taskID, domain.StatusRunning, ""); err != nil {
		return err
	}

	pl := pipeline.New(pipeline.Deps{
		Narrator:      o.opts.Narrator,
		Synthesizer:   o.opts.Synthesizer,
		Generator:     o.opts.Generator,
		Composer:      o.opts.Composer,
		Store:         o.opts.Store,
		Logger:        o.opts.Logger,
		StageTimeout:  o.opts.StageTimeout,
		StageAttempts: o.opts.StageAttempts,
		OnStage: func(frameIndex int, stage pipeline.Stage) {
			o.emit(taskID, frameIndex, len(sb.Frames), stage)
		},
	})
	if err := pl.Run(runCtx, taskID, sb); err != nil {
		if runCtx.Err() != nil {
			return o.finishCancelled(taskID)
		}
		o.opts.Logger.Error().Str("task_id", taskID).Err(err).Msg("orchestrator: pipeline failed")
		o.failTask(runCtx, taskID, err)
		return err
	}

	o.emit(taskID, len(sb.Frames)-1, len(sb.Frames), pipeline.StageAssemble)
	res, err := o.opts.Assembler.Assemble(runCtx, assemble.Request{
		Storyboard: sb,
		WorkDir:    o.opts.Store.FramesDir(taskID),
		OutputPath: o.opts.Store.FinalVideoPath(taskID),
		BGMPath:    o.opts.BGMPath,
	})
	if err != nil {
		if runCtx.Err() != nil {
			return o.finishCancelled(taskID)
		}
		o.opts.Logger.Error().Str("task_id", taskID).Err(err).Msg("orchestrator: assembly failed")
		o.failTask(runCtx, taskID, err)
		return err
	}

	now := time.Now().UTC().Truncate(time.Second)
	sb.FinalVideoPath = res.FinalVideoPath
	sb.TotalDuration = res.TotalDuration
	sb.CompletedAt = &now
	// A finalize write that cannot land still records the failed state, so
	// the task never stays running on disk.
	if err := o.opts.Store.SaveStoryboard(runCtx, taskID, sb); err != nil {
		o.failTask(runCtx, taskID, err)
		return err
	}
	if err := o.recordResult(runCtx, taskID, &domain.TaskResult{
		FinalVideoPath: res.FinalVideoPath,
		TotalDuration:  res.TotalDuration,
		FrameCount:     len(sb.Frames),
	}); err != nil {
		o.failTask(runCtx, taskID, err)
		return err
	}
	if err := o.opts.Store.UpdateTaskStatus(runCtx, taskID, domain.StatusCompleted, ""); err != nil {
		o.failTask(runCtx, taskID, err)
		return err
	}
	o.emit(taskID, len(sb.Frames)-1, len(sb.Frames), pipeline.StageDone)
	o.opts.Logger.Info().Str("task_id", taskID).Float64("duration", res.TotalDuration).Msg("orchestrator: task completed")
	return nil
}

// Cancel requests cancellation. A running task is interrupted and will be
// marked cancelled by its Run call; a pending task is marked cancelled
// directly. Cancelling a terminal or unknown task reports false.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) (bool, error) {
	o.mu.Lock()
	cancel, ok := o.running[taskID]
	o.mu.Unlock()
	if ok {
		cancel()
		return true, nil
	}
	meta, err := o.opts.Store.LoadTaskMetadata(ctx, taskID)
	if err != nil {
		return false, err
	}
	if meta.Status != domain.StatusPending {
		return false, nil
	}
	if err := o.opts.Store.UpdateTaskStatus(ctx, taskID, domain.StatusCancelled, ""); err != nil {
		return false, err
	}
	return true, nil
}

// IsRunning reports whether this process currently executes the task.
func (o *Orchestrator) IsRunning(taskID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[taskID]
	return ok
}

func (o *Orchestrator) register(taskID string, cancel context.CancelFunc) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.running[taskID]; ok {
		return false
	}
	o.running[taskID] = cancel
	return true
}

func (o *Orchestrator) unregister(taskID string) {
	o.mu.Lock()
	delete(o.running, taskID)
	o.mu.Unlock()
}

// finishCancelled records the cancelled state on a fresh context since the
// run context is already dead.
func (o *Orchestrator) finishCancelled(taskID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.opts.Store.UpdateTaskStatus(ctx, taskID, domain.StatusCancelled, ""); err != nil {
		o.opts.Logger.Error().Str("task_id", taskID).Err(err).Msg("orchestrator: cannot record cancellation")
		return err
	}
	o.opts.Logger.Info().Str("task_id", taskID).Msg("orchestrator: task cancelled")
	return nil
}

// failTask records the failed state on a non-cancellable context so the
// record lands even when the caller's context is already dead.
func (o *Orchestrator) failTask(ctx context.Context, taskID string, cause error) {
	if uerr := o.opts.Store.UpdateTaskStatus(context.WithoutCancel(ctx), taskID, domain.StatusFailed, cause.Error()); uerr != nil {
		o.opts.Logger.Error().Str("task_id", taskID).Err(uerr).Msg("orchestrator: cannot record failure")
	}
}

func (o *Orchestrator) recordResult(ctx context.Context, taskID string, result *domain.TaskResult) error {
	meta, err := o.opts.Store.LoadTaskMetadata(ctx, taskID)
	if err != nil {
		return err
	}
	meta.Result = result
	return o.opts.Store.SaveTaskMetadata(ctx, taskID, meta)
}

// emit translates a stage notification into a monotone progress fraction.
// Each frame contributes five pipeline stages; assembly and done close out
// the final span.
func (o *Orchestrator) emit(taskID string, frameIndex, totalFrames int, stage pipeline.Stage) {
	if o.opts.OnProgress == nil || totalFrames <= 0 {
		return
	}
	steps := float64(totalFrames*5 + 1)
	var done float64
	switch stage {
	case pipeline.StageAssemble:
		done = float64(totalFrames * 5)
	case pipeline.StageDone:
		done = steps
	default:
		done = float64(frameIndex*5 + stageOrdinal(stage))
	}
	o.opts.OnProgress(Progress{
		TaskID:      taskID,
		FrameIndex:  frameIndex,
		TotalFrames: totalFrames,
		Stage:       stage,
		Fraction:    done / steps,
	})
}

func stageOrdinal(stage pipeline.Stage) int {
	switch stage {
	case pipeline.StageNarration:
		return 0
	case pipeline.StagePrompt:
		return 1
	case pipeline.StageAudio:
		return 2
	case pipeline.StageMedia:
		return 3
	case pipeline.StageCompose:
		return 4
	}
	return 0
}
