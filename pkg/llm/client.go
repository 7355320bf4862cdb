// Package llm provides OpenAI-compatible chat and embedding clients plus
// structured-output parsing for agent replies.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/leadgate-ai/leadgate-engine/pkg/retry"
)

// Roles for chat history messages.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// ChatMessage is one turn of conversation history. ImageURL, when set,
// attaches an image to the turn for vision-capable models.
type ChatMessage struct {
	Role     string
	Content  string
	ImageURL string
}

// CompletionResult is a chat completion with usage stats.
type CompletionResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client abstracts the model provider for chat and embeddings.
type Client interface {
	// Complete generates a reply given a system prompt and conversation
	// history, oldest turn first.
	Complete(ctx context.Context, systemPrompt string, history []ChatMessage) (*CompletionResult, error)
	// Embed generates an embedding vector for the input text.
	Embed(ctx context.Context, input string) ([]float32, error)
	// EmbedBatch generates embeddings for multiple inputs in one call.
	EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error)
	// Model returns the configured chat model name.
	Model() string
}

// Config holds configuration for creating an LLM client.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	Temperature    float64
}

type client struct {
	api            *openai.Client
	model          string
	embeddingModel string
	temperature    float64
	retryCfg       *retry.Config
	logger         *zap.Logger
}

var _ Client = (*client)(nil)

// NewClient creates a client against any OpenAI-compatible endpoint.
func NewClient(cfg *Config, logger *zap.Logger) (Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &client{
		api:            openai.NewClientWithConfig(clientConfig),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		temperature:    cfg.Temperature,
		retryCfg:       retry.DefaultConfig(),
		logger:         logger.Named("llm"),
	}, nil
}

func (c *client) Complete(ctx context.Context, systemPrompt string, history []ChatMessage) (*CompletionResult, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    RoleSystem,
		Content: systemPrompt,
	})
	for _, m := range history {
		messages = append(messages, toOpenAIMessage(m))
	}

	c.logger.Debug("chat request",
		zap.String("model", c.model),
		zap.Int("history_len", len(history)))

	start := time.Now()

	var resp openai.ChatCompletionResponse
	err := retry.DoIfRetryable(ctx, c.retryCfg, func() error {
		var callErr error
		resp, callErr = c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: float32(c.temperature),
		})
		if callErr != nil {
			return ClassifyError(callErr)
		}
		return nil
	})
	if err != nil {
		c.logger.Error("chat request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, NewError(ErrorTypeUnknown, "no choices in response", false, nil)
	}

	c.logger.Info("chat request completed",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &CompletionResult{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

func (c *client) Embed(ctx context.Context, input string) ([]float32, error) {
	embeddings, err := c.EmbedBatch(ctx, []string{input})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (c *client) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	var resp openai.EmbeddingResponse
	err := retry.DoIfRetryable(ctx, c.retryCfg, func() error {
		var callErr error
		resp, callErr = c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(c.embeddingModel),
			Input: inputs,
		})
		if callErr != nil {
			return classifyEmbeddingError(callErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(inputs) {
		return nil, NewError(ErrorTypeEmbedding,
			fmt.Sprintf("expected %d embeddings, got %d", len(inputs), len(resp.Data)), false, nil)
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if len(d.Embedding) == 0 {
			return nil, NewError(ErrorTypeEmbedding, "empty embedding in response", false, nil)
		}
		embeddings[i] = d.Embedding
	}

	return embeddings, nil
}

func (c *client) Model() string {
	return c.model
}

func toOpenAIMessage(m ChatMessage) openai.ChatCompletionMessage {
	if m.ImageURL == "" {
		return openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	return openai.ChatCompletionMessage{
		Role: m.Role,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: m.Content},
			{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: m.ImageURL},
			},
		},
	}
}
