package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/dmakarov/persona-chat/internal/adapters/http"
	"github.com/dmakarov/persona-chat/internal/bootstrap"
	"github.com/dmakarov/persona-chat/internal/config"
	"github.com/dmakarov/persona-chat/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("persona-chat", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	var publisher interface {
		PublishCorpusReindexed(ctx context.Context, personaID string) error
	}
	if app.Queue != nil {
		publisher = app.Queue
	}
	router := httpadapter.NewRouter(app.ChatUC, app.Personas, app.Lexical, publisher, app.Metrics, logger).Handler()
	server := &http.Server{
		Addr:        ":" + cfg.APIPort,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: chat streams stay open for as long as generation runs.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_error", "error", err)
	}
}
