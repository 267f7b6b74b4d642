package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lumeon-ai/converse/internal/logger"
)

const defaultEmbeddingModel = openai.AdaEmbeddingV2 // text-embedding-ada-002

// ErrNotConfigured is returned when no API credential was supplied; callers
// must treat it as recoverable and skip embedding-dependent steps.
var ErrNotConfigured = errors.New("openai api key not configured")

// ChatMessage is one prompt entry sent to the completion API.
type ChatMessage struct {
	Role    string
	Content string
}

// Fragment is one streamed slice of the assistant's reply. When Err is set
// the fragment carries a human-readable error notice instead of reply text;
// it is always the last fragment of its stream and must not be accumulated
// into the reply.
type Fragment struct {
	Text string
	Err  error
}

type Client struct {
	api        *openai.Client
	embedModel openai.EmbeddingModel
	log        *logger.Logger
}

func NewClient(apiKey string, log *logger.Logger) *Client {
	c := &Client{
		embedModel: defaultEmbeddingModel,
		log:        log.With("component", "llm"),
	}
	if apiKey == "" {
		c.log.Warn("OPENAI_API_KEY not set, embedding and completion calls will fail")
		return c
	}
	c.api = openai.NewClient(apiKey)
	return c
}

// Configured reports whether an API credential was supplied.
func (c *Client) Configured() bool {
	return c.api != nil
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.api == nil {
		return nil, ErrNotConfigured
	}

	text = strings.ReplaceAll(text, "\n", " ")
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: c.embedModel,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no data")
	}
	return resp.Data[0].Embedding, nil
}

// StreamChat opens a streaming chat completion and relays content deltas in
// generation order. The returned channel always closes: normally when the
// upstream signals completion, or after a single terminal error fragment.
func (c *Client) StreamChat(ctx context.Context, model string, messages []ChatMessage) <-chan Fragment {
	out := make(chan Fragment)

	go func() {
		defer close(out)

		if c.api == nil {
			emit(ctx, out, Fragment{Text: "Error from AI: the language model is not configured.", Err: ErrNotConfigured})
			return
		}

		req := openai.ChatCompletionRequest{
			Model:    model,
			Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
			Stream:   true,
		}
		for _, m := range messages {
			req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
		}

		stream, err := c.api.CreateChatCompletionStream(ctx, req)
		if err != nil {
			c.log.Error("failed to open completion stream", "model", model, "error", err)
			emit(ctx, out, Fragment{Text: fmt.Sprintf("Error from AI: %v", err), Err: err})
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				c.log.Error("completion stream failed mid-flight", "model", model, "error", err)
				emit(ctx, out, Fragment{Text: fmt.Sprintf("Error from AI: %v", err), Err: err})
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !emit(ctx, out, Fragment{Text: delta}) {
				return
			}
		}
	}()

	return out
}

func emit(ctx context.Context, out chan<- Fragment, frag Fragment) bool {
	select {
	case out <- frag:
		return true
	case <-ctx.Done():
		return false
	}
}
