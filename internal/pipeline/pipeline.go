package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/svjack/Pixelle-Video/internal/compose"
	"github.com/svjack/Pixelle-Video/internal/domain"
	"github.com/svjack/Pixelle-Video/internal/infra"
	"github.com/svjack/Pixelle-Video/internal/providers/media"
	"github.com/svjack/Pixelle-Video/internal/providers/narration"
	"github.com/svjack/Pixelle-Video/internal/providers/tts"
	"github.com/svjack/Pixelle-Video/internal/store"
	"github.com/svjack/Pixelle-Video/internal/storyboard"
)

const (
	defaultStageTimeout  = 300 * time.Second
	defaultStageAttempts = 2
)

// StageFunc is notified before each stage runs. Used for progress reporting.
type StageFunc func(frameIndex int, stage Stage)

// Deps wires the pipeline's collaborators.
type Deps struct {
	Narrator      narration.Narrator
	Synthesizer   tts.Synthesizer
	Generator     media.Generator
	Composer      compose.Composer
	Store         *store.TaskStore
	Logger        infra.Logger
	StageTimeout  time.Duration
	StageAttempts int
	OnStage       StageFunc
}

// FramePipeline runs frames sequentially through narration, prompt, audio,
// media and compose. The storyboard is persisted after every completed stage
// so a crash loses at most one stage of work.
type FramePipeline struct {
	deps Deps
}

func New(deps Deps) *FramePipeline {
	if deps.StageTimeout <= 0 {
		deps.StageTimeout = defaultStageTimeout
	}
	if deps.StageAttempts <= 0 {
		deps.StageAttempts = defaultStageAttempts
	}
	return &FramePipeline{deps: deps}
}

// Run advances every frame to done, in index order. The first frame that
// exhausts its retries fails the whole run.
func (p *FramePipeline) Run(ctx context.Context, taskID string, sb *storyboard.Storyboard) error {
	for i := range sb.Frames {
		if err := p.runFrame(ctx, taskID, sb, i); err != nil {
			return err
		}
	}
	return nil
}

func (p *FramePipeline) runFrame(ctx context.Context, taskID string, sb *storyboard.Storyboard, idx int) error {
	frame := &sb.Frames[idx]
	clampPending(frame, sb.Config)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		stage := StageOf(frame)
		if stage == StageDone {
			return nil
		}
		if p.deps.OnStage != nil {
			p.deps.OnStage(idx, stage)
		}
		if err := p.runStageWithRetry(ctx, taskID, sb, frame, stage); err != nil {
			return fmt.Errorf("frame %d stage %s: %w", idx, stage, err)
		}
		if err := p.deps.Store.SaveStoryboard(ctx, taskID, sb); err != nil {
			return err
		}
	}
}

func (p *FramePipeline) runStageWithRetry(ctx context.Context, taskID string, sb *storyboard.Storyboard, frame *storyboard.Frame, stage Stage) error {
	var lastErr error
	for attempt := 1; attempt <= p.deps.StageAttempts; attempt++ {
		stageCtx, cancel := context.WithTimeout(ctx, p.deps.StageTimeout)
		err := p.runStage(stageCtx, taskID, sb, frame, stage)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		p.deps.Logger.Warn().
			Str("task_id", taskID).
			Int("frame", frame.Index).
			Str("stage", string(stage)).
			Int("attempt", attempt).
			Err(err).
			Msg("pipeline: stage attempt failed")
	}
	return fmt.Errorf("%w: %d attempts exhausted: %v", domain.ErrStageFailed, p.deps.StageAttempts, lastErr)
}

func (p *FramePipeline) runStage(ctx context.Context, taskID string, sb *storyboard.Storyboard, frame *storyboard.Frame, stage Stage) error {
	cfg := sb.Config
	switch stage {
	case StageNarration:
		text, err := p.deps.Narrator.Narration(ctx, narration.NarrationRequest{
			Topic:    sb.Title,
			Title:    contentTitle(sb),
			Index:    frame.Index,
			Total:    len(sb.Frames),
			MinWords: cfg.MinNarrationWords,
			MaxWords: cfg.MaxNarrationWords,
		})
		if err != nil {
			return err
		}
		frame.Narration = narration.ClampWords(text, cfg.MaxNarrationWords)

	case StagePrompt:
		prompt, err := p.deps.Narrator.ImagePrompt(ctx, narration.PromptRequest{
			Narration: frame.Narration,
			MinWords:  cfg.MinImagePromptWords,
			MaxWords:  cfg.MaxImagePromptWords,
		})
		if err != nil {
			return err
		}
		frame.ImagePrompt = narration.ClampWords(prompt, cfg.MaxImagePromptWords)

	case StageAudio:
		res, err := p.deps.Synthesizer.Synthesize(ctx, tts.Request{
			Text:          frame.Narration,
			VoiceID:       cfg.VoiceID,
			Speed:         cfg.TTSSpeed,
			RefAudio:      cfg.RefAudio,
			Workflow:      cfg.TTSWorkflow,
			InferenceMode: cfg.TTSInferenceMode,
			OutputPath:    p.artifactPath(taskID, frame.Index, "audio.mp3"),
		})
		if err != nil {
			return err
		}
		frame.AudioPath = res.AudioPath
		frame.Duration = res.Duration

	case StageMedia:
		if frame.MediaType == "" {
			frame.MediaType = storyboard.MediaTypeImage
		}
		name := "image.png"
		if frame.MediaType == storyboard.MediaTypeVideo {
			name = "video.mp4"
		}
		out, err := p.deps.Generator.Generate(ctx, media.GenerateRequest{
			Prompt:     frame.ImagePrompt,
			MediaType:  frame.MediaType,
			Width:      cfg.ImageWidth,
			Height:     cfg.ImageHeight,
			Workflow:   cfg.ImageWorkflow,
			OutputPath: p.artifactPath(taskID, frame.Index, name),
		})
		if err != nil {
			return err
		}
		if frame.MediaType == storyboard.MediaTypeVideo {
			frame.VideoPath = out
		} else {
			frame.ImagePath = out
		}

	case StageCompose:
		name := "composed.png"
		if frame.MediaType == storyboard.MediaTypeVideo {
			name = "segment.mp4"
		}
		out, err := p.deps.Composer.Compose(ctx, compose.Request{
			Template:   cfg.FrameTemplate,
			Title:      sb.Title,
			Text:       frame.Narration,
			MediaPath:  frame.MediaPath(),
			MediaType:  frame.MediaType,
			Duration:   frame.Duration,
			FPS:        cfg.VideoFPS,
			Params:     cfg.TemplateParams,
			OutputPath: p.artifactPath(taskID, frame.Index, name),
		})
		if err != nil {
			return err
		}
		if frame.MediaType == storyboard.MediaTypeVideo {
			frame.VideoSegmentPath = out
		} else {
			frame.ComposedImagePath = out
		}

	default:
		return fmt.Errorf("%w: unknown stage %q", domain.ErrStageFailed, stage)
	}
	return nil
}

// clampPending enforces the word bounds on caller-supplied text, so a frame
// with pre-filled narration or prompt obeys the same limits as a generated
// one. Narration is only adjusted while no audio depends on it, and a prompt
// only while no media was generated from it.
func clampPending(frame *storyboard.Frame, cfg storyboard.Config) {
	if frame.AudioPath == "" {
		frame.Narration = narration.ClampWords(frame.Narration, cfg.MaxNarrationWords)
	}
	if frame.MediaPath() == "" {
		frame.ImagePrompt = narration.ClampWords(frame.ImagePrompt, cfg.MaxImagePromptWords)
	}
}

// artifactPath names frame artifacts with a one-based, zero-padded ordinal so
// a directory listing shows them in playback order.
func (p *FramePipeline) artifactPath(taskID string, frameIndex int, suffix string) string {
	return filepath.Join(p.deps.Store.FramesDir(taskID), fmt.Sprintf("%02d_%s", frameIndex+1, suffix))
}

func contentTitle(sb *storyboard.Storyboard) string {
	if sb.ContentMetadata != nil && sb.ContentMetadata.Title != "" {
		return sb.ContentMetadata.Title
	}
	return sb.Title
}
