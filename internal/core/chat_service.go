package core

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/lumeon-ai/converse/internal/cache"
	"github.com/lumeon-ai/converse/internal/llm"
	"github.com/lumeon-ai/converse/internal/logger"
)

const (
	// Retrieval parameters for the semantic store.
	retrievedTopK       = 3
	similarityThreshold = 0.70

	baseSystemPrompt = "You are a helpful AI assistant. "
	ragSystemPrompt  = "Use the following relevant past context if helpful to answer the current user query."
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CompletionStreamer relays a streaming chat completion. The channel must
// always close, after at most one terminal error fragment.
type CompletionStreamer interface {
	StreamChat(ctx context.Context, model string, messages []llm.ChatMessage) <-chan llm.Fragment
}

// SemanticStore is the append-only embedding store with similarity lookup.
type SemanticStore interface {
	StoreMessageEmbedding(ctx context.Context, sessionID, sender, content string, embedding []float32, contentHash string) error
	FindSimilarContents(ctx context.Context, sessionID string, queryEmbedding []float32, topK int, simThreshold float64) ([]string, error)
}

// HistoryStore is the capped short-term window. Reads never fail; they
// degrade to an empty window.
type HistoryStore interface {
	Append(ctx context.Context, conversationID, role, content string) error
	Window(ctx context.Context, conversationID string) []cache.Message
}

// ChatService composes the RAG pipeline: embed the inbound message, retrieve
// related past content, build a prompt from the recency window and stream the
// model's reply while persisting both sides of the exchange.
type ChatService struct {
	history  HistoryStore
	semantic SemanticStore
	embedder Embedder
	streamer CompletionStreamer
	log      *logger.Logger
}

func NewChatService(history HistoryStore, semantic SemanticStore, embedder Embedder, streamer CompletionStreamer, log *logger.Logger) *ChatService {
	return &ChatService{
		history:  history,
		semantic: semantic,
		embedder: embedder,
		streamer: streamer,
		log:      log.With("component", "chat"),
	}
}

// StreamReply runs the chat pipeline for one inbound message and returns a
// channel of reply fragments. The channel closes once the reply (and its
// finalization, see finalize) is complete. Every failure before the
// completion call is soft: the pipeline degrades rather than aborts.
func (s *ChatService) StreamReply(ctx context.Context, sessionID, userMessage, model string) <-chan string {
	// 1. Embed the inbound text; without a vector the retrieval step is
	// skipped and the turn proceeds with recency context only.
	var queryEmbedding []float32
	embedding, err := s.embedder.Embed(ctx, userMessage)
	if err != nil {
		s.log.Error("failed to embed user message, skipping retrieval", "session_id", sessionID, "error", err)
	} else {
		queryEmbedding = embedding
		// 2. Persist the inbound embedding, best effort.
		if err := s.semantic.StoreMessageEmbedding(ctx, sessionID, "user", userMessage, embedding, contentHash(userMessage)); err != nil {
			s.log.Error("failed to store user message embedding", "session_id", sessionID, "error", err)
		}
	}

	// 3. Retrieve related past content scoped to this session.
	retrievedContext := ""
	if queryEmbedding != nil {
		contents, err := s.semantic.FindSimilarContents(ctx, sessionID, queryEmbedding, retrievedTopK, similarityThreshold)
		if err != nil {
			s.log.Error("failed to retrieve similar content", "session_id", sessionID, "error", err)
		} else if len(contents) > 0 {
			retrievedContext = "\n\nRelevant past context:\n" + strings.Join(contents, "\n---\n")
			s.log.Info("retrieved similar messages for context", "session_id", sessionID, "count", len(contents))
		}
	}

	// 4. Append the inbound message to the short-term window.
	if err := s.history.Append(ctx, sessionID, "user", userMessage); err != nil {
		s.log.Error("failed to append user message to history", "session_id", sessionID, "error", err)
	}

	// 5. Compose the prompt: system instruction first, then the window.
	window := s.history.Window(ctx, sessionID)
	systemPrompt := baseSystemPrompt
	if retrievedContext != "" {
		systemPrompt += ragSystemPrompt + retrievedContext
	}

	messages := make([]llm.ChatMessage, 0, len(window)+1)
	messages = append(messages, llm.ChatMessage{Role: "system", Content: systemPrompt})
	for _, m := range window {
		messages = append(messages, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}

	// 6. Stream the completion. Delivery to the consumer and persistence of
	// the accumulated reply are decoupled: a consumer that goes away stops
	// receiving fragments but does not stop accumulation or finalization.
	out := make(chan string)
	go func() {
		defer close(out)

		var reply strings.Builder
		delivering := true
		for frag := range s.streamer.StreamChat(ctx, model, messages) {
			if frag.Err == nil {
				reply.WriteString(frag.Text)
			}
			if !delivering {
				continue
			}
			select {
			case out <- frag.Text:
			case <-ctx.Done():
				delivering = false
			}
		}

		s.finalize(context.WithoutCancel(ctx), sessionID, reply.String())
	}()
	return out
}

// finalize runs exactly once per stream, after the fragment sequence is
// exhausted, whether it ended normally, with an error fragment or because the
// consumer disconnected. Nothing here surfaces to the stream consumer.
func (s *ChatService) finalize(ctx context.Context, sessionID, reply string) {
	if reply == "" {
		return
	}

	if err := s.history.Append(ctx, sessionID, "assistant", reply); err != nil {
		s.log.Error("failed to append assistant reply to history", "session_id", sessionID, "error", err)
	}

	embedding, err := s.embedder.Embed(ctx, reply)
	if err != nil {
		s.log.Error("failed to embed assistant reply", "session_id", sessionID, "error", err)
		return
	}
	if err := s.semantic.StoreMessageEmbedding(ctx, sessionID, "ai", reply, embedding, contentHash(reply)); err != nil {
		s.log.Error("failed to store assistant reply embedding", "session_id", sessionID, "error", err)
	}
}

func contentHash(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
