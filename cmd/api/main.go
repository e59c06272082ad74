package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/svjack/Pixelle-Video/internal/http/handlers"
	"github.com/svjack/Pixelle-Video/internal/http/httpapi"
	"github.com/svjack/Pixelle-Video/internal/infra"
	"github.com/svjack/Pixelle-Video/internal/orchestrator"
	"github.com/svjack/Pixelle-Video/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ts, err := store.NewTaskStore(cfg.OutputDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open task store")
	}

	orch, err := orchestrator.FromConfig(cfg, ts, logger, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire orchestrator")
	}

	app := handlers.NewApp(ts, orch, logger)
	router := httpapi.NewRouter(app, logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
