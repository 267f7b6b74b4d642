package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lumeon-ai/converse/internal/core"
	"github.com/lumeon-ai/converse/internal/logger"
)

const (
	agentServiceName = "AI Agent Service"
	defaultChatModel = "gpt-4o-mini"
)

// Pinger reports reachability of an external collaborator.
type Pinger interface {
	Ping(ctx context.Context) error
}

type AgentHandler struct {
	chat          *core.ChatService
	db            Pinger
	cache         Pinger
	llmConfigured bool
	version       string
	log           *logger.Logger
}

func NewAgentHandler(chat *core.ChatService, db, cache Pinger, llmConfigured bool, version string, log *logger.Logger) *AgentHandler {
	return &AgentHandler{
		chat:          chat,
		db:            db,
		cache:         cache,
		llmConfigured: llmConfigured,
		version:       version,
		log:           log.With("component", "agent_api"),
	}
}

func NewAgentRouter(h *AgentHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Post("/chat", h.ChatHandler)
	r.Get("/health", h.HealthHandler)

	return r
}

type ChatRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Model     string `json:"model"`
}

// ChatHandler streams the assistant's reply as a plain-text body, one write
// per fragment, flushed as fragments arrive.
func (h *AgentHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || req.Message == "" {
		http.Error(w, "session_id and message are required", http.StatusBadRequest)
		return
	}
	if req.Model == "" {
		req.Model = defaultChatModel
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	for fragment := range h.chat.StreamReply(r.Context(), req.SessionID, req.Message, req.Model) {
		if _, err := w.Write([]byte(fragment)); err != nil {
			// Client went away; keep draining so finalization still runs.
			h.log.Warn("client disconnected mid-stream", "session_id", req.SessionID, "error", err)
			continue
		}
		flusher.Flush()
	}
}

type AgentHealthResponse struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	Status            string `json:"status"`
	OpenAIConfigured  bool   `json:"openai_configured"`
	DatabaseConnected bool   `json:"database_connected"`
	RedisConnected    bool   `json:"redis_connected"`
}

func (h *AgentHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	dbOK := h.db.Ping(r.Context()) == nil
	redisOK := h.cache.Ping(r.Context()) == nil

	status := "OK"
	if !dbOK || !redisOK {
		status = "DEGRADED"
	}

	writeJSON(w, http.StatusOK, AgentHealthResponse{
		Name:              agentServiceName,
		Version:           h.version,
		Status:            status,
		OpenAIConfigured:  h.llmConfigured,
		DatabaseConnected: dbOK,
		RedisConnected:    redisOK,
	})
}
