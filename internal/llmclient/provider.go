// Package llmclient defines the shared LLM provider contract and ships
// two concrete adapters: an OpenAI-compatible JSON chat endpoint
// (openai.go) and an Ollama-style message.content endpoint (ollama.go).
// Both are interchangeable under the Provider interface.
package llmclient

import "context"

// PartType identifies a multimodal content part.
type PartType string

const (
	PartText     PartType = "text"
	PartImageURL PartType = "image_url"
	PartVideoURL PartType = "video_url"
)

// Part is one element of a multimodal message content list.
type Part struct {
	Type PartType
	Text string
	URL  string
	// Base64 holds the fetched-and-encoded resource when normalization
	// (ConvertURLToBase64) has run; empty until then.
	Base64   string
	MimeType string
}

// Message is one entry of arguments.messages: content is either
// a plain string (Text != "" and Parts == nil) or a list of typed parts.
type Message struct {
	Role  string
	Text  string
	Parts []Part
}

// CompletionRequest is the normalized request every adapter accepts.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   *int
	Tools       []ToolSpec
	Extra       map[string]any // merged component defaults + MAS global config.
}

// ToolSpec describes a callable tool surfaced to the model, derived from
// a kernel.Descriptor.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// CompletionResult is the normalized response: assistant text, plus
// whether a <think>...</think> span (stripped from Text) or a JSON
// "think" field (left in Text) was detected, per the post-send
// think-event rule.
type CompletionResult struct {
	Text          string
	ThinkText     string
	HasThink      bool
	FinishReason  string
}

// Provider is the shared LLM client contract.
type Provider interface {
	// Name identifies the provider for logging/telemetry.
	Name() string

	// Complete sends req and returns the assistant's textual content.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
}
