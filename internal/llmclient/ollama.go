package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaProvider adapts the shared Provider contract onto an Ollama-style
// /api/chat endpoint (request shape `{model, messages, stream:false}`,
// response `{message:{content}}`), hand-rolled over net/http since Ollama
// has no official Go SDK.
type OllamaProvider struct {
	baseURL      string
	defaultModel string
	httpClient   *http.Client
}

// NewOllamaProvider constructs a provider against baseURL (e.g.
// "http://localhost:11434").
func NewOllamaProvider(baseURL, defaultModel string) *OllamaProvider {
	return &OllamaProvider{
		baseURL:      baseURL,
		defaultModel: defaultModel,
		httpClient:   &http.Client{Timeout: 2 * time.Minute},
	}
}

// Name implements Provider.
func (p *OllamaProvider) Name() string { return "ollama" }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message ollamaMessage `json:"message"`
	Error   string        `json:"error"`
	Done    bool          `json:"done"`
}

// Complete implements Provider.
func (p *OllamaProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]ollamaMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		content := m.Text
		if content == "" && len(m.Parts) > 0 {
			for _, part := range m.Parts {
				if part.Type == PartText {
					content += part.Text
				}
			}
		}
		messages = append(messages, ollamaMessage{Role: m.Role, Content: content})
	}

	options := map[string]any{}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		options["num_predict"] = *req.MaxTokens
	}

	body, err := json.Marshal(ollamaRequest{Model: model, Messages: messages, Stream: false, Options: options})
	if err != nil {
		return CompletionResult{}, fmt.Errorf("llmclient: marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return CompletionResult{}, fmt.Errorf("llmclient: build ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("llmclient: ollama request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("llmclient: read ollama response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return CompletionResult{}, fmt.Errorf("llmclient: ollama status %d: %s", resp.StatusCode, string(raw))
	}

	var decoded ollamaResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return CompletionResult{}, fmt.Errorf("llmclient: decode ollama response: %w", err)
	}
	if decoded.Error != "" {
		return CompletionResult{}, fmt.Errorf("llmclient: ollama error: %s", decoded.Error)
	}

	body2, think, hasThink := ExtractThink(decoded.Message.Content)
	return CompletionResult{Text: body2, ThinkText: think, HasThink: hasThink}, nil
}
