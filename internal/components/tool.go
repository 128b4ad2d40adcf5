package components

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/haasonsaas/mas/internal/kernel"
)

// Func is a local-function tool: the
// simplest Tool kind, a direct in-process Go function over the request's
// arguments.
type Func struct {
	Fn func(ctx context.Context, arguments map[string]any) (any, error)
}

var _ kernel.Behaviour = (*Func)(nil)

func (f *Func) Init(ctx context.Context, reg *kernel.Registry) error { return nil }
func (f *Func) Cleanup(ctx context.Context) error                    { return nil }

func (f *Func) Execute(ctx context.Context, req *kernel.Request) (*kernel.Response, error) {
	out, err := f.Fn(ctx, req.Arguments)
	if err != nil {
		return nil, err
	}
	return &kernel.Response{State: kernel.StateCompleted, Output: out}, nil
}

// HTTPTool forwards its arguments as a JSON POST body to a fixed external
// endpoint, decoding the JSON response body
// as the response output.
type HTTPTool struct {
	Client *http.Client
	URL    string
	// Header is applied to every outbound request (e.g. auth headers).
	Header http.Header
}

var _ kernel.Behaviour = (*HTTPTool)(nil)

func (h *HTTPTool) Init(ctx context.Context, reg *kernel.Registry) error { return nil }
func (h *HTTPTool) Cleanup(ctx context.Context) error                    { return nil }

func (h *HTTPTool) Execute(ctx context.Context, req *kernel.Request) (*kernel.Response, error) {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	body, err := json.Marshal(req.Arguments)
	if err != nil {
		return nil, fmt.Errorf("components: marshal http tool arguments: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("components: build http tool request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, vs := range h.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("components: http tool call: %w", err)
	}
	defer resp.Body.Close()

	var decoded any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("components: decode http tool response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("components: http tool %s returned status %d", h.URL, resp.StatusCode)
	}

	return &kernel.Response{State: kernel.StateCompleted, Output: decoded}, nil
}
