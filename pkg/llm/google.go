package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GoogleClient implements ChatClient over the Gemini API.
type GoogleClient struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGoogleClient creates a Gemini-backed chat client.
func NewGoogleClient(apiKey, model string, logger *zap.Logger) (*GoogleClient, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GoogleClient{
		client: client,
		model:  model,
		logger: logger.Named("llm_google"),
	}, nil
}

// Provider returns the provider slot name.
func (c *GoogleClient) Provider() string { return "google" }

// Model returns the configured model name.
func (c *GoogleClient) Model() string { return c.model }

// Chat performs a single non-streaming completion.
func (c *GoogleClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	contents := buildGeminiContents(req.Messages)
	config := c.buildConfig(req)

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return nil, ClassifyError(err)
	}

	return parseGeminiResponse(resp)
}

// ChatStream performs a streaming completion. Gemini delivers function
// calls as whole parts, so only text needs forwarding chunk by chunk.
func (c *GoogleClient) ChatStream(ctx context.Context, req *ChatRequest, onChunk StreamFunc) (*ChatResponse, error) {
	contents := buildGeminiContents(req.Messages)
	config := c.buildConfig(req)

	out := &ChatResponse{}
	var contentBuilder strings.Builder

	for chunk, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, config) {
		if err != nil {
			c.logger.Error("Stream receive error", zap.Error(err))
			return nil, ClassifyError(err)
		}
		if len(chunk.Candidates) == 0 || chunk.Candidates[0].Content == nil {
			continue
		}

		for _, part := range chunk.Candidates[0].Content.Parts {
			if part.Text != "" {
				contentBuilder.WriteString(part.Text)
				if onChunk != nil {
					if cbErr := onChunk(StreamChunk{Content: part.Text}); cbErr != nil {
						return nil, cbErr
					}
				}
			}
			if part.FunctionCall != nil {
				out.ToolCalls = append(out.ToolCalls, geminiToolCall(part.FunctionCall))
			}
		}
	}

	out.Content = contentBuilder.String()
	return out, nil
}

func (c *GoogleClient) buildConfig(req *ChatRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	for _, def := range req.Tools {
		config.Tools = append(config.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{
				{
					Name:        def.Name,
					Description: def.Description,
					Parameters:  toGeminiSchema(def.Parameters),
				},
			},
		})
	}

	return config
}

// buildGeminiContents converts our message format to Gemini contents.
// Tool results become FunctionResponse parts; the tool name is recovered
// from the assistant tool call the result answers.
func buildGeminiContents(messages []Message) []*genai.Content {
	var contents []*genai.Content
	toolNames := make(map[string]string)

	for _, msg := range messages {
		switch msg.Role {
		case RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				toolNames[tc.ID] = tc.Name
				var args map[string]any
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
					args = map[string]any{}
				}
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Name,
						Args: args,
					},
				})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "model", Parts: parts})
			}
		case RoleTool:
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       msg.ToolCallID,
						Name:     toolNames[msg.ToolCallID],
						Response: map[string]any{"result": msg.Content},
					},
				}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}

	return contents
}

func parseGeminiResponse(resp *genai.GenerateContentResponse) (*ChatResponse, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, NewError(ErrorTypeParse, "empty gemini response", false, nil)
	}

	out := &ChatResponse{}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			out.Content += part.Text
		}
		if part.FunctionCall != nil {
			out.ToolCalls = append(out.ToolCalls, geminiToolCall(part.FunctionCall))
		}
	}

	return out, nil
}

func geminiToolCall(fc *genai.FunctionCall) ToolCall {
	argsJSON, _ := json.Marshal(fc.Args)
	id := fc.ID
	if id == "" {
		id = fc.Name
	}
	return ToolCall{ID: id, Name: fc.Name, Arguments: string(argsJSON)}
}

// toGeminiSchema converts a JSON Schema parameter map to the Gemini schema type.
func toGeminiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}

	s := &genai.Schema{}

	if t, ok := schema["type"].(string); ok {
		switch strings.ToLower(t) {
		case "object":
			s.Type = genai.TypeObject
		case "string":
			s.Type = genai.TypeString
		case "number":
			s.Type = genai.TypeNumber
		case "integer":
			s.Type = genai.TypeInteger
		case "boolean":
			s.Type = genai.TypeBoolean
		case "array":
			s.Type = genai.TypeArray
		}
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				s.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	switch required := schema["required"].(type) {
	case []string:
		s.Required = append(s.Required, required...)
	case []any:
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = toGeminiSchema(items)
	}
	switch enum := schema["enum"].(type) {
	case []string:
		s.Enum = append(s.Enum, enum...)
	case []any:
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}

	return s
}
