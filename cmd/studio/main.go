package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"veostudio/internal/artifact"
	"veostudio/internal/http/handlers"
	httpapi "veostudio/internal/http/httpapi"
	"veostudio/internal/infra"
	"veostudio/internal/providers/genai"
	"veostudio/internal/providers/video"
	"veostudio/internal/shell"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	client, err := genai.NewClient(genai.Options{
		BaseURL:    cfg.VeoBaseURL,
		Model:      cfg.VeoModel,
		HTTPClient: &http.Client{Timeout: cfg.UpstreamTimeout},
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build veo client")
	}

	registry := artifact.NewRegistry(cfg.PublicBaseURL, cfg.ArtifactTTL)
	workflow, err := video.NewWorkflow(video.Options{
		Remote:       client,
		Publisher:    registry,
		PollInterval: cfg.PollInterval,
		Logger:       &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build video workflow")
	}

	// Runs outlive the request that started them; this context ends them on shutdown.
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	session, err := shell.NewSession(shell.Options{
		Generator: workflow,
		Releaser:  registry,
		Logger:    &logger,
		Context:   runCtx,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build studio session")
	}

	app := handlers.NewApp(session, registry, &logger)
	router := httpapi.NewRouter(app, cfg)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("addr", server.Addr()).Str("model", client.Model()).Msg("studio listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	// Closing the session first ends open event streams so Shutdown can drain.
	session.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	cancelRuns()
	if err := session.Wait(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("generation still running at exit")
	}
	logger.Info().Msg("server stopped")
}
