package llm

import (
	"context"
	"encoding/json"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicClient implements ChatClient over the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
	logger *zap.Logger
}

// NewAnthropicClient creates an Anthropic-backed chat client.
func NewAnthropicClient(apiKey, baseURL, model string, logger *zap.Logger) *AnthropicClient {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}

	return &AnthropicClient{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
		logger: logger.Named("llm_anthropic"),
	}
}

// Provider returns the provider slot name.
func (c *AnthropicClient) Provider() string { return "anthropic" }

// Model returns the configured model name.
func (c *AnthropicClient) Model() string { return c.model }

// Chat performs a single non-streaming completion.
func (c *AnthropicClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	resp, err := c.client.CreateMessages(ctx, c.buildRequest(req))
	if err != nil {
		return nil, ClassifyError(err)
	}
	return parseAnthropicResponse(resp), nil
}

// ChatStream performs a streaming completion. The SDK assembles the full
// response while deltas stream, so tool calls come from the final message.
func (c *AnthropicClient) ChatStream(ctx context.Context, req *ChatRequest, onChunk StreamFunc) (*ChatResponse, error) {
	var cbErr error

	resp, err := c.client.CreateMessagesStream(ctx, anthropic.MessagesStreamRequest{
		MessagesRequest: c.buildRequest(req),
		OnContentBlockDelta: func(data anthropic.MessagesEventContentBlockDeltaData) {
			if cbErr != nil || onChunk == nil {
				return
			}
			if data.Delta.Text != nil && *data.Delta.Text != "" {
				cbErr = onChunk(StreamChunk{Content: *data.Delta.Text})
			}
		},
	})
	if cbErr != nil {
		return nil, cbErr
	}
	if err != nil {
		c.logger.Error("Stream failed", zap.Error(err))
		return nil, ClassifyError(err)
	}

	return parseAnthropicResponse(resp), nil
}

func (c *AnthropicClient) buildRequest(req *ChatRequest) anthropic.MessagesRequest {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	mreq := anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		System:    req.System,
		MaxTokens: maxTokens,
		Messages:  buildAnthropicMessages(req.Messages),
	}

	if req.Temperature > 0 {
		t := float32(req.Temperature)
		mreq.Temperature = &t
	}

	for _, def := range req.Tools {
		mreq.Tools = append(mreq.Tools, anthropic.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.Parameters,
		})
	}

	return mreq
}

// buildAnthropicMessages converts our message format to Anthropic content
// blocks. Tool results travel as user-role tool_result blocks; assistant
// tool calls become tool_use blocks.
func buildAnthropicMessages(messages []Message) []anthropic.Message {
	var result []anthropic.Message

	for _, msg := range messages {
		switch msg.Role {
		case RoleTool:
			result = append(result, anthropic.Message{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewToolResultMessageContent(msg.ToolCallID, msg.Content, false),
				},
			})
		case RoleAssistant:
			var content []anthropic.MessageContent
			if msg.Content != "" {
				content = append(content, anthropic.NewTextMessageContent(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				content = append(content, anthropic.MessageContent{
					Type: anthropic.MessagesContentTypeToolUse,
					MessageContentToolUse: &anthropic.MessageContentToolUse{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: json.RawMessage(tc.Arguments),
					},
				})
			}
			result = append(result, anthropic.Message{Role: anthropic.RoleAssistant, Content: content})
		default:
			result = append(result, anthropic.NewUserTextMessage(msg.Content))
		}
	}

	return result
}

func parseAnthropicResponse(resp anthropic.MessagesResponse) *ChatResponse {
	out := &ChatResponse{}

	for _, block := range resp.Content {
		if block.Text != nil {
			out.Content += *block.Text
		}
		if block.MessageContentToolUse != nil {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        block.MessageContentToolUse.ID,
				Name:      block.MessageContentToolUse.Name,
				Arguments: string(block.MessageContentToolUse.Input),
			})
		}
	}

	return out
}
