package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
// It backs both the hosted OpenAI provider and local Ollama servers.
type OpenAIClient struct {
	client   *openai.Client
	model    string
	provider string
	endpoint string
	logger   *zap.Logger
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
// provider names the configured provider slot (openai or ollama).
func NewOpenAIClient(apiKey, baseURL, model, provider string, logger *zap.Logger) *OpenAIClient {
	if apiKey == "" {
		// Local servers ignore the key but the SDK requires a non-empty header.
		apiKey = "none"
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}

	return &OpenAIClient{
		client:   openai.NewClientWithConfig(cfg),
		model:    model,
		provider: provider,
		endpoint: cfg.BaseURL,
		logger:   logger.Named("llm_" + provider),
	}
}

// Provider returns the provider slot name.
func (c *OpenAIClient) Provider() string { return c.provider }

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.model }

// Chat performs a single non-streaming completion.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    buildOpenAIMessages(req.Messages, req.System),
		Tools:       buildOpenAITools(req.Tools),
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, ClassifyError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, NewError(ErrorTypeParse, "no choices in response", false, nil)
	}

	choice := resp.Choices[0]
	content := choice.Message.Content

	var toolCalls []ToolCall
	if len(choice.Message.ToolCalls) == 0 && content != "" {
		// Some models emit tool calls as text markup instead of the native field.
		toolCalls = parseTextToolCalls(content, c.logger)
		if len(toolCalls) > 0 {
			content = cleanModelOutput(content)
		}
	} else {
		for _, tc := range choice.Message.ToolCalls {
			toolCalls = append(toolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}

	return &ChatResponse{Content: content, ToolCalls: toolCalls}, nil
}

// ChatStream performs a streaming completion. Text deltas are forwarded to
// onChunk as they arrive; tool call fragments are accumulated across chunks
// and returned with the assembled response.
func (c *OpenAIClient) ChatStream(ctx context.Context, req *ChatRequest, onChunk StreamFunc) (*ChatResponse, error) {
	start := time.Now()

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    buildOpenAIMessages(req.Messages, req.System),
		Tools:       buildOpenAITools(req.Tools),
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		c.logger.Error("Failed to create stream", zap.Error(err))
		return nil, ClassifyError(err)
	}
	defer stream.Close()

	var contentBuilder strings.Builder
	toolCallsMap := make(map[int]*ToolCall)

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			c.logger.Error("Stream receive error", zap.Error(err))
			return nil, ClassifyError(err)
		}

		if len(response.Choices) == 0 {
			continue
		}

		delta := response.Choices[0].Delta

		if delta.Content != "" {
			contentBuilder.WriteString(delta.Content)
			if onChunk != nil {
				if cbErr := onChunk(StreamChunk{Content: delta.Content}); cbErr != nil {
					return nil, cbErr
				}
			}
		}

		// Tool calls arrive fragmented; the index ties fragments together
		// and arguments accumulate across chunks.
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}

			if existing, exists := toolCallsMap[idx]; !exists {
				toolCallsMap[idx] = &ToolCall{
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				}
			} else {
				existing.Arguments += tc.Function.Arguments
			}
		}
	}

	content := contentBuilder.String()

	if len(toolCallsMap) == 0 && content != "" {
		parsed := parseTextToolCalls(content, c.logger)
		if len(parsed) > 0 {
			content = cleanModelOutput(content)
			for i := range parsed {
				toolCallsMap[i] = &parsed[i]
			}
		}
	}

	var toolCalls []ToolCall
	for i := 0; i < len(toolCallsMap); i++ {
		if tc, ok := toolCallsMap[i]; ok {
			toolCalls = append(toolCalls, *tc)
		}
	}

	c.logger.Debug("Stream completed",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("content_length", len(content)),
		zap.Int("tool_calls", len(toolCalls)))

	return &ChatResponse{Content: content, ToolCalls: toolCalls}, nil
}

// buildOpenAIMessages converts our message format to OpenAI format.
func buildOpenAIMessages(messages []Message, systemPrompt string) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage

	if systemPrompt != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}

		for _, tc := range msg.ToolCalls {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}

		result = append(result, oaiMsg)
	}

	return result
}

// buildOpenAITools converts our tool definitions to OpenAI format.
func buildOpenAITools(tools []ToolDefinition) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}

	result := make([]openai.Tool, len(tools))
	for i, def := range tools {
		paramsJSON, _ := json.Marshal(def.Parameters)
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(paramsJSON),
			},
		}
	}

	return result
}

var (
	textToolCallRegex  = regexp.MustCompile(`<tool_call>\s*(\{[\s\S]*?\})\s*</tool_call>`)
	textToolCallStrip  = regexp.MustCompile(`<tool_call>[\s\S]*?</tool_call>`)
	thinkBlockStrip    = regexp.MustCompile(`<think>[\s\S]*?</think>`)
	multiNewlineSquash = regexp.MustCompile(`\n{3,}`)
)

// parseTextToolCalls parses tool calls from text output (for non-native tool calling models).
// Expected format: <tool_call>{"name": "...", "arguments": {...}}</tool_call>
func parseTextToolCalls(content string, logger *zap.Logger) []ToolCall {
	var toolCalls []ToolCall

	matches := textToolCallRegex.FindAllStringSubmatch(content, -1)
	for i, match := range matches {
		if len(match) < 2 {
			continue
		}

		var toolCallJSON struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}

		if err := json.Unmarshal([]byte(match[1]), &toolCallJSON); err != nil {
			if logger != nil {
				logger.Debug("Failed to parse text tool call", zap.Error(err))
			}
			continue
		}

		argsJSON, err := json.Marshal(toolCallJSON.Arguments)
		if err != nil {
			continue
		}

		toolCalls = append(toolCalls, ToolCall{
			ID:        fmt.Sprintf("text_tool_%d", i),
			Name:      toolCallJSON.Name,
			Arguments: string(argsJSON),
		})
	}

	return toolCalls
}

// cleanModelOutput removes tool call markup and thinking blocks from model output.
func cleanModelOutput(content string) string {
	content = thinkBlockStrip.ReplaceAllString(content, "")
	content = textToolCallStrip.ReplaceAllString(content, "")
	content = multiNewlineSquash.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}
