package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/hamedsk/corpusqa/config"
	openai_provider "github.com/hamedsk/corpusqa/provider/openai"
)

// ErrUnavailable indicates the provider is not configured (e.g. no API key).
// Composition roots check this once at startup instead of failing deep inside
// request handling.
var ErrUnavailable = errors.New("llm provider unavailable")

// CompletionStream is a pull-based sequence of answer increments. Recv returns
// io.EOF when the generation completed normally and any other error when it
// failed mid-stream; increments already returned are considered delivered.
type CompletionStream interface {
	Recv() (string, error)
	Close() error
}

// Provider is the contract for the embedding and generation capabilities.
type Provider interface {
	// CreateEmbedding returns one fixed-length vector per input text.
	// Fails on empty input text.
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)

	// StreamCompletion starts generating a completion for the prompt and
	// returns the increment stream.
	StreamCompletion(ctx context.Context, prompt string) (CompletionStream, error)
}

// New builds the configured provider. Returns ErrUnavailable when no API key
// is configured.
func New(cfg config.LLMConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: llm.api_key not configured", ErrUnavailable)
	}
	client := openai_provider.NewClient(openai_provider.Options{
		APIKey:          cfg.APIKey,
		BaseURL:         cfg.BaseURL,
		CompletionModel: cfg.CompletionModel,
		EmbeddingModel:  cfg.EmbeddingModel,
		Temperature:     cfg.Temperature,
		MaxTokens:       cfg.MaxTokens,
		Timeout:         cfg.Timeout,
	})
	return openaiAdapter{client: client}, nil
}

type openaiAdapter struct {
	client *openai_provider.Client
}

func (a openaiAdapter) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	return a.client.CreateEmbedding(ctx, texts)
}

func (a openaiAdapter) StreamCompletion(ctx context.Context, prompt string) (CompletionStream, error) {
	stream, err := a.client.StreamCompletion(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
