package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lumeon-ai/converse/internal/logger"
)

// Message is one entry in the short-term history window.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// HistoryStore keeps a capped per-conversation list of recent messages in
// Redis. It is a best-effort context cache: reads degrade to an empty window
// when Redis is unreachable, and concurrent writers to the same conversation
// may interleave.
type HistoryStore struct {
	rdb      *redis.Client
	log      *logger.Logger
	maxTurns int
	ttl      time.Duration
}

func NewHistoryStore(rdb *redis.Client, maxTurns int, ttl time.Duration, log *logger.Logger) *HistoryStore {
	return &HistoryStore{
		rdb:      rdb,
		log:      log.With("component", "history"),
		maxTurns: maxTurns,
		ttl:      ttl,
	}
}

func historyKey(conversationID string) string {
	return "chat_history:" + conversationID
}

// Append adds one message, trims the list to the newest 2*maxTurns entries
// (one user and one assistant message per turn) and refreshes the key's TTL.
// The three commands are pipelined so a single writer cannot observe a
// half-applied append.
func (h *HistoryStore) Append(ctx context.Context, conversationID, role, content string) error {
	payload, err := json.Marshal(Message{Role: role, Content: content})
	if err != nil {
		return err
	}

	key := historyKey(conversationID)
	pipe := h.rdb.Pipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, int64(-2*h.maxTurns), -1)
	pipe.Expire(ctx, key, h.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Window returns up to the newest 2*maxTurns messages in chronological
// order. A missing key, an unreachable Redis or an undecodable entry never
// surface as errors; the window just shrinks.
func (h *HistoryStore) Window(ctx context.Context, conversationID string) []Message {
	raw, err := h.rdb.LRange(ctx, historyKey(conversationID), int64(-2*h.maxTurns), -1).Result()
	if err != nil {
		h.log.Warn("failed to read chat history, proceeding without it", "conversation_id", conversationID, "error", err)
		return nil
	}

	window := make([]Message, 0, len(raw))
	for _, entry := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			h.log.Warn("skipping undecodable history entry", "conversation_id", conversationID, "error", err)
			continue
		}
		window = append(window, msg)
	}
	return window
}

// Ping reports whether the backing Redis is reachable.
func (h *HistoryStore) Ping(ctx context.Context) error {
	return h.rdb.Ping(ctx).Err()
}
