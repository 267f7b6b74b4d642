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

	"github.com/redis/go-redis/v9"

	"github.com/lumeon-ai/converse/internal/api"
	"github.com/lumeon-ai/converse/internal/cache"
	"github.com/lumeon-ai/converse/internal/config"
	"github.com/lumeon-ai/converse/internal/core"
	"github.com/lumeon-ai/converse/internal/llm"
	"github.com/lumeon-ai/converse/internal/logger"
	"github.com/lumeon-ai/converse/internal/store"
)

const version = "0.1.2"

func main() {
	cfg := config.Load()

	logg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logg.Sync()

	// Shares the relational instance with the backend service; schema and
	// pgvector bootstrap happen here so the agent can run on its own.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	dbStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.EmbeddingDim, logg)
	cancel()
	if err != nil {
		logg.Fatal("Failed to initialize database", "error", err)
	}
	defer dbStore.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
	})
	defer rdb.Close()

	history := cache.NewHistoryStore(rdb, cfg.MaxChatTurnsHistory, cfg.RedisHistoryTTL, logg)
	if err := history.Ping(context.Background()); err != nil {
		logg.Warn("Redis unreachable at startup, chat history will be impaired", "addr", cfg.RedisAddr(), "error", err)
	}

	llmClient := llm.NewClient(cfg.OpenAIAPIKey, logg)
	chatService := core.NewChatService(history, dbStore, llmClient, llmClient, logg)

	handler := api.NewAgentHandler(chatService, dbStore, history, llmClient.Configured(), version, logg)
	router := api.NewAgentRouter(handler)

	serverAddr := fmt.Sprintf(":%s", cfg.AgentHTTPPort)
	srv := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No write timeout: completion streams are open-ended.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logg.Info("Starting AI agent service", "addr", serverAddr, "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logg.Fatal("Could not listen", "addr", serverAddr, "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logg.Info("Shutting down AI agent service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Fatal("Server forced to shutdown", "error", err)
	}

	logg.Info("AI agent service exiting gracefully")
}
