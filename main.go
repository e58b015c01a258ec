package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lehigh-university-libraries/cxr-annotate/internal/config"
	"github.com/lehigh-university-libraries/cxr-annotate/internal/handlers"
	"github.com/lehigh-university-libraries/cxr-annotate/internal/models"
	"github.com/lehigh-university-libraries/cxr-annotate/internal/utils"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		slog.Warn("Error loading .env file", "err", err)
	}

	cfg, err := config.Load()
	if err != nil {
		utils.ExitOnError("Invalid configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		utils.ExitOnError("Invalid configuration", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	handler := handlers.New(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/sessions", handler.HandleSessions)
	mux.HandleFunc("/api/sessions/", handler.HandleSessionDetail)
	mux.HandleFunc("/api/default_metadata", handler.HandleDefaultMetadata)
	mux.HandleFunc("/api/schema/annotations", handler.HandleSchema)
	mux.HandleFunc("/api/markers/", handler.HandleMarkers)
	for _, size := range models.ImageSizes {
		mux.HandleFunc("/api/images-"+string(size)+"/", handler.HandleImages)
	}
	mux.HandleFunc("/", handler.HandleStatic)
	mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		_, err := w.Write([]byte("OK"))
		if err != nil {
			slog.Error("Unable to write healthcheck", "err", err)
		}
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("CXR annotation interface available", "addr", cfg.ListenAddress, "vision", cfg.VisionEnabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.ExitOnError("Server failed to start", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "err", err)
	}
	if err := handler.Sessions().CloseAll(); err != nil {
		slog.Error("Unable to close sessions", "err", err)
	}
}
