package llm

import (
	"context"
)

// MockClient is a configurable mock implementation of ChatClient for tests.
// Set the function fields to control behavior; unset fields return a
// canned empty response.
type MockClient struct {
	ChatFunc       func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	ChatStreamFunc func(ctx context.Context, req *ChatRequest, onChunk StreamFunc) (*ChatResponse, error)
	ProviderName   string
	ModelName      string

	// ChatCalls records every request passed to Chat or ChatStream.
	ChatCalls []*ChatRequest
}

// NewMockClient creates a mock that returns the given content from every call.
func NewMockClient(content string) *MockClient {
	return &MockClient{
		ChatFunc: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			return &ChatResponse{Content: content}, nil
		},
		ProviderName: "mock",
		ModelName:    "mock-model",
	}
}

// Chat implements ChatClient.
func (m *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	m.ChatCalls = append(m.ChatCalls, req)
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	return &ChatResponse{}, nil
}

// ChatStream implements ChatClient. Without a ChatStreamFunc it falls back
// to Chat and forwards the full content as a single chunk.
func (m *MockClient) ChatStream(ctx context.Context, req *ChatRequest, onChunk StreamFunc) (*ChatResponse, error) {
	if m.ChatStreamFunc != nil {
		m.ChatCalls = append(m.ChatCalls, req)
		return m.ChatStreamFunc(ctx, req, onChunk)
	}

	resp, err := m.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if onChunk != nil && resp.Content != "" {
		if cbErr := onChunk(StreamChunk{Content: resp.Content}); cbErr != nil {
			return nil, cbErr
		}
	}
	return resp, nil
}

// Provider implements ChatClient.
func (m *MockClient) Provider() string {
	if m.ProviderName != "" {
		return m.ProviderName
	}
	return "mock"
}

// Model implements ChatClient.
func (m *MockClient) Model() string {
	if m.ModelName != "" {
		return m.ModelName
	}
	return "mock-model"
}
