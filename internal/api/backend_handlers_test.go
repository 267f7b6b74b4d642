package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumeon-ai/converse/internal/auth"
	"github.com/lumeon-ai/converse/internal/logger"
	"github.com/lumeon-ai/converse/internal/store"
)

const testSecret = "test-secret"

type fakeStore struct {
	users         map[string]*store.User
	conversations map[string]*store.Conversation
	messages      map[string][]store.Message
	created       int
	lastSkip      int
	lastLimit     int
	pingErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         map[string]*store.User{},
		conversations: map[string]*store.Conversation{},
		messages:      map[string][]store.Message{},
	}
}

func (f *fakeStore) CreateUser(_ context.Context, username, email, fullName, hashedPassword string) (*store.User, error) {
	f.created++
	user := &store.User{
		ID:             int64(len(f.users) + 1),
		Username:       username,
		Email:          email,
		FullName:       fullName,
		HashedPassword: hashedPassword,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	f.users[username] = user
	return user, nil
}

func (f *fakeStore) GetUserByUsername(_ context.Context, username string) (*store.User, error) {
	return f.users[username], nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (*store.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateConversation(_ context.Context, userID int64, title string) (*store.Conversation, error) {
	conv := &store.Conversation{
		ID:     fmt.Sprintf("conv-%d", len(f.conversations)+1),
		UserID: userID,
		Title:  title,
	}
	f.conversations[conv.ID] = conv
	return conv, nil
}

func (f *fakeStore) GetConversationsByUser(_ context.Context, userID int64, skip, limit int) ([]store.Conversation, error) {
	f.lastSkip, f.lastLimit = skip, limit
	var out []store.Conversation
	for _, c := range f.conversations {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeStore) GetConversation(_ context.Context, conversationID string, userID int64) (*store.Conversation, error) {
	conv := f.conversations[conversationID]
	if conv == nil || conv.UserID != userID {
		return nil, nil
	}
	return conv, nil
}

func (f *fakeStore) CreateMessage(_ context.Context, conversationID, sender, content string) (*store.Message, error) {
	msg := store.Message{
		ID:             fmt.Sprintf("msg-%d", len(f.messages[conversationID])+1),
		ConversationID: conversationID,
		Sender:         sender,
		Content:        content,
		Timestamp:      time.Now(),
	}
	f.messages[conversationID] = append(f.messages[conversationID], msg)
	return &msg, nil
}

func (f *fakeStore) GetMessagesByConversation(_ context.Context, conversationID string, _, _ int) ([]store.Message, error) {
	return f.messages[conversationID], nil
}

func (f *fakeStore) Ping(_ context.Context) error {
	return f.pingErr
}

func newTestRouter(st *fakeStore) http.Handler {
	h := NewBackendHandler(st, testSecret, 30*time.Minute, "0.1.0", logger.NewNop())
	return NewBackendRouter(h)
}

func registerUser(t *testing.T, st *fakeStore, username string) *store.User {
	t.Helper()
	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)
	user, err := st.CreateUser(context.Background(), username, username+"@example.com", "", hash)
	require.NoError(t, err)
	st.created-- // not created through the API
	return user
}

func bearerFor(t *testing.T, username string) string {
	t.Helper()
	token, err := auth.GenerateToken(username, testSecret, time.Minute)
	require.NoError(t, err)
	return "Bearer " + token
}

func doJSON(router http.Handler, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateUser(t *testing.T) {
	st := newFakeStore()
	router := newTestRouter(st)

	rec := doJSON(router, http.MethodPost, "/users", "", CreateUserRequest{
		Username: "alice", Email: "alice@example.com", Password: "password123",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var user store.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, "alice", user.Username)
	assert.Empty(t, user.HashedPassword) // never serialized
	assert.Equal(t, 1, st.created)
}

func TestCreateUserDuplicateUsername(t *testing.T) {
	st := newFakeStore()
	registerUser(t, st, "alice")
	router := newTestRouter(st)

	rec := doJSON(router, http.MethodPost, "/users", "", CreateUserRequest{
		Username: "alice", Email: "other@example.com", Password: "password123",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Username already registered")
	assert.Zero(t, st.created) // no new row
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	st := newFakeStore()
	registerUser(t, st, "alice")
	router := newTestRouter(st)

	rec := doJSON(router, http.MethodPost, "/users", "", CreateUserRequest{
		Username: "bob", Email: "alice@example.com", Password: "password123",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Email already registered")
	assert.Zero(t, st.created)
}

func TestTokenIssuance(t *testing.T) {
	st := newFakeStore()
	registerUser(t, st, "alice")
	router := newTestRouter(st)

	rec := doJSON(router, http.MethodPost, "/token", "", TokenRequest{Username: "alice", Password: "password123"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "bearer", resp.TokenType)

	sub, err := auth.ValidateToken(resp.AccessToken, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)
}

func TestTokenRejectsBadPassword(t *testing.T) {
	st := newFakeStore()
	registerUser(t, st, "alice")
	router := newTestRouter(st)

	rec := doJSON(router, http.MethodPost, "/token", "", TokenRequest{Username: "alice", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(router, http.MethodPost, "/token", "", TokenRequest{Username: "nobody", Password: "password123"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeRequiresAuth(t *testing.T) {
	st := newFakeStore()
	registerUser(t, st, "alice")
	router := newTestRouter(st)

	rec := doJSON(router, http.MethodGet, "/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(router, http.MethodGet, "/users/me", bearerFor(t, "alice"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var user store.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, "alice", user.Username)
}

func TestDisabledUserRejected(t *testing.T) {
	st := newFakeStore()
	user := registerUser(t, st, "alice")
	user.Disabled = true
	router := newTestRouter(st)

	rec := doJSON(router, http.MethodGet, "/users/me", bearerFor(t, "alice"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Inactive user")
}

func TestConversationOwnershipScoped(t *testing.T) {
	st := newFakeStore()
	alice := registerUser(t, st, "alice")
	registerUser(t, st, "bob")
	conv, err := st.CreateConversation(context.Background(), alice.ID, "Alice's chat")
	require.NoError(t, err)
	router := newTestRouter(st)

	// Owner sees it.
	rec := doJSON(router, http.MethodGet, "/conversations/"+conv.ID, bearerFor(t, "alice"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Someone else gets a 404, not a 403, to avoid leaking existence.
	rec = doJSON(router, http.MethodGet, "/conversations/"+conv.ID, bearerFor(t, "bob"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(router, http.MethodGet, "/conversations/does-not-exist", bearerFor(t, "alice"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListConversationsPaginationDefaults(t *testing.T) {
	st := newFakeStore()
	registerUser(t, st, "alice")
	router := newTestRouter(st)

	rec := doJSON(router, http.MethodGet, "/conversations", bearerFor(t, "alice"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, st.lastSkip)
	assert.Equal(t, 10, st.lastLimit)

	rec = doJSON(router, http.MethodGet, "/conversations?skip=5&limit=2", bearerFor(t, "alice"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, st.lastSkip)
	assert.Equal(t, 2, st.lastLimit)
}

func TestCreateMessageOwnershipChecked(t *testing.T) {
	st := newFakeStore()
	alice := registerUser(t, st, "alice")
	registerUser(t, st, "bob")
	conv, err := st.CreateConversation(context.Background(), alice.ID, "chat")
	require.NoError(t, err)
	router := newTestRouter(st)

	rec := doJSON(router, http.MethodPost, "/conversations/"+conv.ID+"/messages", bearerFor(t, "bob"),
		CreateMessageRequest{Sender: "user", Content: "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, st.messages[conv.ID])

	rec = doJSON(router, http.MethodPost, "/conversations/"+conv.ID+"/messages", bearerFor(t, "alice"),
		CreateMessageRequest{Sender: "user", Content: "hi"})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, st.messages[conv.ID], 1)
	assert.Equal(t, "hi", st.messages[conv.ID][0].Content)
}

func TestBackendHealth(t *testing.T) {
	st := newFakeStore()
	router := newTestRouter(st)

	rec := doJSON(router, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp BackendHealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "OK", resp.Status)
	assert.True(t, resp.DatabaseConnected)

	st.pingErr = errors.New("db down")
	rec = doJSON(router, http.MethodGet, "/health", "", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "DEGRADED", resp.Status)
	assert.False(t, resp.DatabaseConnected)
}
