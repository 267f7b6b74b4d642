package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumeon-ai/converse/internal/api"
	"github.com/lumeon-ai/converse/internal/config"
	"github.com/lumeon-ai/converse/internal/logger"
	"github.com/lumeon-ai/converse/internal/store"
)

const version = "0.1.0"

func main() {
	cfg := config.Load()

	logg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logg.Sync()

	if cfg.SecretKey == "" {
		logg.Fatal("SECRET_KEY environment variable is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	dbStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.EmbeddingDim, logg)
	cancel()
	if err != nil {
		logg.Fatal("Failed to initialize database", "error", err)
	}
	defer dbStore.Close()

	handler := api.NewBackendHandler(dbStore, cfg.SecretKey, cfg.AccessTokenExpiry, version, logg)
	router := api.NewBackendRouter(handler)

	serverAddr := fmt.Sprintf(":%s", cfg.BackendHTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logg.Info("Starting backend API", "addr", serverAddr, "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logg.Fatal("Could not listen", "addr", serverAddr, "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logg.Info("Shutting down backend API...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Fatal("Server forced to shutdown", "error", err)
	}

	logg.Info("Backend API exiting gracefully")
}
