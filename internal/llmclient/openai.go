package llmclient

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider adapts the shared Provider contract onto an
// OpenAI-compatible chat completions endpoint using
// github.com/sashabaranov/go-openai.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAIProvider constructs a provider against apiKey, optionally
// pointed at a compatible endpoint (baseURL empty uses the OpenAI
// default).
func NewOpenAIProvider(apiKey, baseURL, defaultModel string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(cfg),
		defaultModel: defaultModel,
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Complete implements Provider by translating the normalized request
// into openai.ChatCompletionRequest and back.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, toOpenAIMessage(m))
	}

	creq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature != nil {
		creq.Temperature = float32(*req.Temperature)
	}
	if req.MaxTokens != nil {
		creq.MaxTokens = *req.MaxTokens
	}
	for _, t := range req.Tools {
		creq.Tools = append(creq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("llmclient: openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return CompletionResult{}, fmt.Errorf("llmclient: openai completion: empty choices")
	}

	raw := resp.Choices[0].Message.Content
	body, think, hasThink := ExtractThink(raw)
	return CompletionResult{
		Text:         body,
		ThinkText:    think,
		HasThink:     hasThink,
		FinishReason: string(resp.Choices[0].FinishReason),
	}, nil
}

func toOpenAIMessage(m Message) openai.ChatCompletionMessage {
	if len(m.Parts) == 0 {
		return openai.ChatCompletionMessage{Role: m.Role, Content: m.Text}
	}
	parts := make([]openai.ChatMessagePart, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch p.Type {
		case PartText:
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: p.Text})
		case PartImageURL:
			url := p.URL
			if p.Base64 != "" {
				url = "data:" + p.MimeType + ";base64," + p.Base64
			}
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: url},
			})
		case PartVideoURL:
			// No first-class video part in the OpenAI chat schema;
			// surface it as a text reference. Parts of any other
			// type are left out of the message.
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: fmt.Sprintf("[video: %s]", p.URL),
			})
		}
	}
	return openai.ChatCompletionMessage{Role: m.Role, MultiContent: parts}
}
