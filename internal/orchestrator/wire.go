package orchestrator

import (
	"fmt"

	"github.com/svjack/Pixelle-Video/internal/assemble"
	"github.com/svjack/Pixelle-Video/internal/compose"
	"github.com/svjack/Pixelle-Video/internal/infra"
	"github.com/svjack/Pixelle-Video/internal/providers/media"
	"github.com/svjack/Pixelle-Video/internal/providers/narration"
	"github.com/svjack/Pixelle-Video/internal/providers/tts"
	"github.com/svjack/Pixelle-Video/internal/store"
)

// FromConfig builds an orchestrator with providers selected by the service
// configuration. Both the API server and the CLI wire themselves through it.
func FromConfig(cfg *infra.Config, ts *store.TaskStore, logger infra.Logger, onProgress ProgressFunc) (*Orchestrator, error) {
	var narrator narration.Narrator
	switch cfg.NarrationProvider {
	case "gemini":
		n, err := narration.NewGeminiNarrator(narration.GeminiOptions{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			BaseURL: cfg.GeminiBaseURL,
			OnFallback: func(reason string, err error) {
				logger.Warn().Str("reason", reason).Err(err).Msg("narration: falling back to static provider")
			},
		})
		if err != nil {
			return nil, fmt.Errorf("wire narrator: %w", err)
		}
		narrator = n
	case "static":
		narrator = narration.NewStaticNarrator()
	default:
		return nil, fmt.Errorf("unknown narration provider %q", cfg.NarrationProvider)
	}

	synth, err := tts.NewWorkflowSynthesizer(tts.WorkflowOptions{
		BaseURL:    cfg.TTSBaseURL,
		FFprobeBin: cfg.FFprobeBin,
		Logger:     &logger,
	})
	if err != nil {
		return nil, fmt.Errorf("wire synthesizer: %w", err)
	}
	generator, err := media.NewWorkflowGenerator(media.WorkflowOptions{
		BaseURL: cfg.MediaBaseURL,
		Logger:  &logger,
	})
	if err != nil {
		return nil, fmt.Errorf("wire media generator: %w", err)
	}
	manifest, err := compose.LoadManifest(cfg.TemplateManifest)
	if err != nil {
		return nil, fmt.Errorf("wire composer: %w", err)
	}

	return New(Options{
		Store:              ts,
		Narrator:           narrator,
		Synthesizer:        synth,
		Generator:          generator,
		Composer:           compose.NewFFmpegComposer(manifest, cfg.FFmpegBin, logger),
		Assembler:          assemble.NewFFmpegAssembler(cfg.FFmpegBin, logger),
		Logger:             logger,
		StageTimeout:       cfg.StageTimeout,
		StageAttempts:      cfg.StageAttempts,
		MaxConcurrentTasks: cfg.MaxConcurrentTasks,
		BGMPath:            cfg.BGMPath,
		OnProgress:         onProgress,
	}), nil
}
