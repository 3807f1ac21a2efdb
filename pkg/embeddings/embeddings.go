// Package embeddings provides the embedding provider used for schema and
// few-shot vector search.
package embeddings

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/easysql-ai/easysql-engine/pkg/config"
	"github.com/easysql-ai/easysql-engine/pkg/retry"
)

// Provider generates embedding vectors for text.
type Provider interface {
	// Embed generates an embedding vector for the input text.
	Embed(ctx context.Context, input string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple inputs in one request.
	EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error)
}

var _ Provider = (*Client)(nil)

// Client calls an OpenAI-compatible embeddings endpoint.
type Client struct {
	client *openai.Client
	model  string
}

// NewClient creates an embedding client from configuration.
func NewClient(cfg *config.EmbeddingsConfig) *Client {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "none"
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}

	return &Client{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

// Embed generates an embedding vector for the input text. Transient
// endpoint failures are retried with backoff.
func (c *Client) Embed(ctx context.Context, input string) ([]float32, error) {
	resp, err := retry.DoWithResult(ctx, nil, func() (openai.EmbeddingResponse, error) {
		return c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(c.model),
			Input: []string{input},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("no embedding in response")
	}

	return resp.Data[0].Embedding, nil
}

// EmbedBatch generates embeddings for multiple inputs.
func (c *Client) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	resp, err := retry.DoWithResult(ctx, nil, func() (openai.EmbeddingResponse, error) {
		return c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(c.model),
			Input: inputs,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Data), len(inputs))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		embeddings[i] = d.Embedding
	}

	return embeddings, nil
}

// Model returns the configured embedding model name.
func (c *Client) Model() string {
	return c.model
}
