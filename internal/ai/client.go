package ai

import (
	"context"
	"errors"
	"strings"
)

// CompletionRequest carries one chat-completion call's parameters.
type CompletionRequest struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// Client provides embedding and chat-completion capabilities.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Dim() int
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	APIKey     string
	EmbedModel string
	ChatModel  string
	Dim        int
	ProjectID  string
	Provider   Provider
	Location   string
}

// NewClient creates a new AI client based on configuration
func NewClient(config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	ctx := context.Background()
	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// StubClient is a stub implementation of the Client interface for testing
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	return &StubClient{dim: dim}
}

// Embed returns a zero vector of the configured dimension.
func (s *StubClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, s.dim), nil
}

// Complete echoes a short canned answer derived from the user message.
func (s *StubClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	u := strings.TrimSpace(req.User)
	if len(u) > 120 {
		u = u[:120]
	}
	if u == "" {
		return "No input provided.", nil
	}
	return "Stub response for: " + u, nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}
