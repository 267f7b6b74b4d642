package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumeon-ai/converse/internal/auth"
	"github.com/lumeon-ai/converse/internal/logger"
	"github.com/lumeon-ai/converse/internal/store"
)

const backendServiceName = "AI Agent Backend API"

// BackendStore is the slice of the relational store the backend API needs.
type BackendStore interface {
	CreateUser(ctx context.Context, username, email, fullName, hashedPassword string) (*store.User, error)
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	CreateConversation(ctx context.Context, userID int64, title string) (*store.Conversation, error)
	GetConversationsByUser(ctx context.Context, userID int64, skip, limit int) ([]store.Conversation, error)
	GetConversation(ctx context.Context, conversationID string, userID int64) (*store.Conversation, error)
	CreateMessage(ctx context.Context, conversationID, sender, content string) (*store.Message, error)
	GetMessagesByConversation(ctx context.Context, conversationID string, skip, limit int) ([]store.Message, error)
	Ping(ctx context.Context) error
}

type BackendHandler struct {
	store       BackendStore
	secret      string
	tokenExpiry time.Duration
	version     string
	log         *logger.Logger
}

func NewBackendHandler(st BackendStore, secret string, tokenExpiry time.Duration, version string, log *logger.Logger) *BackendHandler {
	return &BackendHandler{
		store:       st,
		secret:      secret,
		tokenExpiry: tokenExpiry,
		version:     version,
		log:         log.With("component", "backend_api"),
	}
}

type contextKey string

const currentUserKey contextKey = "currentUser"

func currentUser(r *http.Request) *store.User {
	user, _ := r.Context().Value(currentUserKey).(*store.User)
	return user
}

// AuthMiddleware resolves the bearer token to an active user.
func (h *BackendHandler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		username, err := auth.ValidateToken(tokenString, h.secret)
		if err != nil {
			http.Error(w, "Could not validate credentials", http.StatusUnauthorized)
			return
		}

		user, err := h.store.GetUserByUsername(r.Context(), username)
		if err != nil {
			h.log.Error("failed to resolve user from token", "username", username, "error", err)
			http.Error(w, "Failed to process user identity", http.StatusInternalServerError)
			return
		}
		if user == nil {
			http.Error(w, "Could not validate credentials", http.StatusUnauthorized)
			return
		}
		if user.Disabled {
			http.Error(w, "Inactive user", http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), currentUserKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type TokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (h *BackendHandler) TokenHandler(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	user, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		h.log.Error("failed to look up user for login", "username", req.Username, "error", err)
		http.Error(w, "Failed to process login", http.StatusInternalServerError)
		return
	}
	if user == nil || !auth.CheckPasswordHash(req.Password, user.HashedPassword) {
		http.Error(w, "Incorrect username or password", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateToken(user.Username, h.secret, h.tokenExpiry)
	if err != nil {
		h.log.Error("failed to sign token", "username", req.Username, "error", err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{AccessToken: token, TokenType: "bearer"})
}

type CreateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

func (h *BackendHandler) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		http.Error(w, "Username, email and password are required", http.StatusBadRequest)
		return
	}

	existing, err := h.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		h.log.Error("failed to check username", "username", req.Username, "error", err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, "Username already registered", http.StatusBadRequest)
		return
	}

	existing, err = h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		h.log.Error("failed to check email", "email", req.Email, "error", err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, "Email already registered", http.StatusBadRequest)
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		h.log.Error("failed to hash password", "username", req.Username, "error", err)
		http.Error(w, "Failed to process password", http.StatusInternalServerError)
		return
	}

	user, err := h.store.CreateUser(r.Context(), req.Username, req.Email, req.FullName, hashedPassword)
	if err != nil {
		h.log.Error("failed to create user", "username", req.Username, "error", err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

func (h *BackendHandler) MeHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r))
}

type CreateConversationRequest struct {
	Title string `json:"title"`
}

func (h *BackendHandler) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req CreateConversationRequest
	if r.Body != http.NoBody {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	conv, err := h.store.CreateConversation(r.Context(), user.ID, req.Title)
	if err != nil {
		h.log.Error("failed to create conversation", "user_id", user.ID, "error", err)
		http.Error(w, "Failed to create conversation", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, conv)
}

func (h *BackendHandler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	skip := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", 10)

	conversations, err := h.store.GetConversationsByUser(r.Context(), user.ID, skip, limit)
	if err != nil {
		h.log.Error("failed to list conversations", "user_id", user.ID, "error", err)
		http.Error(w, "Failed to list conversations", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, conversations)
}

type ConversationDetailResponse struct {
	*store.Conversation
	Messages []store.Message `json:"messages"`
}

func (h *BackendHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	conversationID := chi.URLParam(r, "conversationID")

	conv, err := h.store.GetConversation(r.Context(), conversationID, user.ID)
	if err != nil {
		h.log.Error("failed to get conversation", "conversation_id", conversationID, "error", err)
		http.Error(w, "Failed to get conversation", http.StatusInternalServerError)
		return
	}
	if conv == nil {
		http.Error(w, "Conversation not found or access denied", http.StatusNotFound)
		return
	}

	messages, err := h.store.GetMessagesByConversation(r.Context(), conversationID, 0, 100)
	if err != nil {
		h.log.Error("failed to get messages", "conversation_id", conversationID, "error", err)
		http.Error(w, "Failed to get conversation messages", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ConversationDetailResponse{Conversation: conv, Messages: messages})
}

type CreateMessageRequest struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

func (h *BackendHandler) CreateMessageHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	conversationID := chi.URLParam(r, "conversationID")

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, "Message content cannot be empty", http.StatusBadRequest)
		return
	}
	if req.Sender != "user" && req.Sender != "ai" {
		http.Error(w, "Sender must be 'user' or 'ai'", http.StatusBadRequest)
		return
	}

	conv, err := h.store.GetConversation(r.Context(), conversationID, user.ID)
	if err != nil {
		h.log.Error("failed to verify conversation", "conversation_id", conversationID, "error", err)
		http.Error(w, "Failed to post message", http.StatusInternalServerError)
		return
	}
	if conv == nil {
		http.Error(w, "Conversation not found or access denied", http.StatusNotFound)
		return
	}

	msg, err := h.store.CreateMessage(r.Context(), conversationID, req.Sender, req.Content)
	if err != nil {
		h.log.Error("failed to store message", "conversation_id", conversationID, "error", err)
		http.Error(w, "Failed to post message", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

type BackendHealthResponse struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	Status            string `json:"status"`
	DatabaseConnected bool   `json:"database_connected"`
}

func (h *BackendHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	dbOK := h.store.Ping(r.Context()) == nil
	status := "OK"
	if !dbOK {
		status = "DEGRADED"
	}
	writeJSON(w, http.StatusOK, BackendHealthResponse{
		Name:              backendServiceName,
		Version:           h.version,
		Status:            status,
		DatabaseConnected: dbOK,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return defaultValue
	}
	return value
}
