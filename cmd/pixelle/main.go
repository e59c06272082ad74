// Command pixelle runs one video generation task end to end from the
// terminal. Interrupting it with Ctrl-C cancels the task; the partial
// storyboard stays on disk and a later run of the same task resumes it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/svjack/Pixelle-Video/internal/infra"
	"github.com/svjack/Pixelle-Video/internal/orchestrator"
	"github.com/svjack/Pixelle-Video/internal/store"
	"github.com/svjack/Pixelle-Video/internal/storyboard"
)

func main() {
	_ = godotenv.Load()

	title := flag.String("title", "", "topic to generate a video for")
	taskID := flag.String("task", "", "resume an existing task instead of creating one")
	frames := flag.Int("frames", 0, "number of storyboard frames (0 keeps the default)")
	flag.Parse()

	if *title == "" && *taskID == "" {
		fmt.Fprintln(os.Stderr, "usage: pixelle -title <topic> [-frames n] | pixelle -task <task_id>")
		os.Exit(2)
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ts, err := store.NewTaskStore(cfg.OutputDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open task store")
	}

	orch, err := orchestrator.FromConfig(cfg, ts, logger, func(p orchestrator.Progress) {
		logger.Info().
			Int("frame", p.FrameIndex+1).
			Int("total", p.TotalFrames).
			Str("stage", string(p.Stage)).
			Msgf("progress %3.0f%%", p.Fraction*100)
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire orchestrator")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	id := *taskID
	if id == "" {
		sbCfg := storyboard.DefaultConfig()
		if *frames > 0 {
			sbCfg.NStoryboard = *frames
		}
		meta, err := orch.CreateTask(ctx, orchestrator.CreateRequest{Title: *title, Config: &sbCfg})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create task")
		}
		id = meta.TaskID
		logger.Info().Str("task_id", id).Msg("task created")
	}

	if err := orch.Run(ctx, id); err != nil {
		logger.Fatal().Str("task_id", id).Err(err).Msg("task failed")
	}

	meta, err := ts.LoadTaskMetadata(context.Background(), id)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read final task state")
	}
	logger.Info().Str("task_id", id).Str("status", string(meta.Status)).Msg("task finished")
	if meta.Result != nil {
		fmt.Println(meta.Result.FinalVideoPath)
	}
}
