// Package remoteagent implements the SSE-forwarding remote agent: a local proxy for a peer MAS reachable over SSE. It fetches the
// peer's organization tree on init, and on execute posts the envelope
// (minus MAS-local fields) to the peer's chat endpoint, streams events
// back over SSE, filters out user-boundary tool_call/observation events,
// re-emits the rest on the local bus, and treats the last answer event as
// the final output.
package remoteagent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/mas/internal/kernel"
)

// Transport selects how a RemoteAgent streams events back from its peer.
type Transport string

const (
	// TransportSSE streams the peer's chat response as Server-Sent
	// Events over the same HTTP connection that posted the envelope
	//.
	TransportSSE Transport = "sse"
	// TransportWebSocket streams over a dedicated WebSocket connection,
	// for peers fronted by infrastructure that does not forward
	// long-lived SSE responses cleanly (e.g. some load balancers).
	TransportWebSocket Transport = "websocket"
)

// Config configures one peer MAS connection.
type Config struct {
	PeerBaseURL      string
	Transport        Transport // defaults to TransportSSE.
	AuthToken        string // pre-signed JWT, sent as Bearer.
	ShareCallStack   bool   // is_share_call_stack.
	Timeout          time.Duration
	HTTPClient       *http.Client
}

// peerEvent mirrors the SSE payload shape emitted by a peer MAS's chat
// endpoint: one JSON object per "data: " line.
type peerEvent struct {
	Kind      string `json:"kind"`
	Component string `json:"component"`
	Payload   any    `json:"payload"`
}

// RemoteAgent is a kernel.Behaviour fronting a peer MAS instance.
type RemoteAgent struct {
	Cfg    Config
	Bus    kernel.Publisher
	logger *slog.Logger

	organizationTree any
}

var _ kernel.Behaviour = (*RemoteAgent)(nil)

// New constructs a RemoteAgent with default timeout/client when unset.
func New(cfg Config, bus kernel.Publisher) *RemoteAgent {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &RemoteAgent{Cfg: cfg, Bus: bus, logger: slog.Default().With("component", "remoteagent")}
}

// Init fetches the peer's organization tree and keeps it on the agent.
// Nothing else reads the kept tree: Registry.BuildOrganizationTree shows
// this component as one node marked IsRemote and does not include the
// peer's own nodes.
func (a *RemoteAgent) Init(ctx context.Context, reg *kernel.Registry) error {
	tree, err := a.fetchOrganization(ctx)
	if err != nil {
		a.logger.Warn("remote organization fetch failed", "peer", a.Cfg.PeerBaseURL, "error", err)
		return nil
	}
	a.organizationTree = tree
	return nil
}

func (a *RemoteAgent) Cleanup(ctx context.Context) error { return nil }

func (a *RemoteAgent) fetchOrganization(ctx context.Context) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(a.Cfg.PeerBaseURL, "/")+"/get_organization", nil)
	if err != nil {
		return nil, err
	}
	a.applyAuth(req)
	resp, err := a.Cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remoteagent: get_organization returned %d", resp.StatusCode)
	}
	var tree any
	if err := json.NewDecoder(resp.Body).Decode(&tree); err != nil {
		return nil, fmt.Errorf("remoteagent: decode organization tree: %w", err)
	}
	return tree, nil
}

// chatPayload is the envelope posted to the peer, stripped of every
// MAS-local field.
type chatPayload struct {
	Query            string         `json:"query"`
	FromTraceID      string         `json:"from_trace_id,omitempty"`
	Callee           string         `json:"callee,omitempty"`
	SharedData       map[string]any `json:"shared_data,omitempty"`
	CallStack        []string       `json:"call_stack,omitempty"`
	ReferenceTraceID string         `json:"reference_trace_id,omitempty"`
}

// Execute posts the stripped envelope to the peer's chat endpoint and
// streams the response back (SSE, or a WebSocket connection when
// Cfg.Transport is TransportWebSocket), re-emitting filtered events on
// the local bus.
func (a *RemoteAgent) Execute(ctx context.Context, req *kernel.Request) (*kernel.Response, error) {
	payload := chatPayload{
		FromTraceID:      req.CurrentTraceID,
		ReferenceTraceID: req.ReferenceTraceID,
	}
	if q, ok := req.Arguments["query"].(string); ok {
		payload.Query = q
	}
	payload.SharedData = req.SharedData

	// is_share_call_stack: true exposes the local stack minus the
	// current frame, so the peer continues the same logical call;
	// false means the peer sees this as a fresh user-originated call.
	if a.Cfg.ShareCallStack && len(req.CallStack) > 0 {
		payload.CallStack = req.CallStack[:len(req.CallStack)-1]
	}

	if a.Cfg.Transport == TransportWebSocket {
		return a.executeWebSocket(ctx, req, payload)
	}
	return a.executeSSE(ctx, req, payload)
}

func (a *RemoteAgent) executeSSE(ctx context.Context, req *kernel.Request, payload chatPayload) (*kernel.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("remoteagent: marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(a.Cfg.PeerBaseURL, "/")+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remoteagent: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	a.applyAuth(httpReq)

	resp, err := a.Cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return kernel.NewFailedResponse(req, fmt.Sprintf("remoteagent: peer request failed: %v", err), ""), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return kernel.NewFailedResponse(req, fmt.Sprintf("remoteagent: peer returned %d", resp.StatusCode), ""), nil
	}

	events := make(chan peerEvent, 16)
	errc := make(chan error, 1)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var evt peerEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
				continue
			}
			events <- evt
		}
		errc <- scanner.Err()
	}()

	return a.consumeEvents(ctx, req, events, errc)
}

// consumeEvents drains a peer event stream (fed by either the SSE or
// WebSocket transport), filtering out user-boundary tool_call/observation
// events, re-emitting the rest on the local bus, and treating the last
// answer event as the final output.
func (a *RemoteAgent) consumeEvents(ctx context.Context, req *kernel.Request, events <-chan peerEvent, errc <-chan error) (*kernel.Response, error) {
	var lastAnswer string
	var sawAnswer bool

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case evt, ok := <-events:
			if !ok {
				if err := <-errc; err != nil {
					return kernel.NewFailedResponse(req, fmt.Sprintf("remoteagent: stream read failed: %v", err), ""), nil
				}
				if !sawAnswer {
					return kernel.NewFailedResponse(req, "remoteagent: peer stream closed without an answer event", ""), nil
				}
				return &kernel.Response{State: kernel.StateCompleted, Output: lastAnswer}, nil
			}

			kind := kernel.BusEventKind(evt.Kind)
			// Filter out user-boundary tool_call/observation events:
			// the peer's own tool activity is not this trace's
			// concern, only its think/answer/msg progress is.
			if kind == kernel.EventToolCall || kind == kernel.EventObservation {
				continue
			}

			if a.Bus != nil {
				a.Bus.Publish(ctx, kernel.BusEvent{
					Kind:      kind,
					TraceID:   req.CurrentTraceID,
					Component: req.Callee,
					Payload:   evt.Payload,
				})
			}

			if kind == kernel.EventAnswer {
				if s, ok := evt.Payload.(string); ok {
					lastAnswer = s
				} else {
					lastAnswer = fmt.Sprintf("%v", evt.Payload)
				}
				sawAnswer = true
			}
			if kind == kernel.EventClose {
				if !sawAnswer {
					return kernel.NewFailedResponse(req, "remoteagent: peer stream closed without an answer event", ""), nil
				}
				return &kernel.Response{State: kernel.StateCompleted, Output: lastAnswer}, nil
			}
		}
	}
}

// executeWebSocket streams the peer's response over a WebSocket
// connection instead of SSE, for peers behind infrastructure that buffers
// or terminates long-lived HTTP responses.
func (a *RemoteAgent) executeWebSocket(ctx context.Context, req *kernel.Request, payload chatPayload) (*kernel.Response, error) {
	wsURL, err := wsURLFor(a.Cfg.PeerBaseURL)
	if err != nil {
		return nil, fmt.Errorf("remoteagent: %w", err)
	}

	header := http.Header{}
	if a.Cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+a.Cfg.AuthToken)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return kernel.NewFailedResponse(req, fmt.Sprintf("remoteagent: websocket dial failed: %v", err), ""), nil
	}
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	if err := conn.WriteJSON(payload); err != nil {
		return kernel.NewFailedResponse(req, fmt.Sprintf("remoteagent: websocket write failed: %v", err), ""), nil
	}

	events := make(chan peerEvent, 16)
	errc := make(chan error, 1)
	go func() {
		defer close(events)
		for {
			var evt peerEvent
			if err := conn.ReadJSON(&evt); err != nil {
				errc <- nil
				return
			}
			events <- evt
		}
	}()

	return a.consumeEvents(ctx, req, events, errc)
}

// wsURLFor rewrites an http(s) peer base URL into its ws(s) chat
// endpoint.
func wsURLFor(baseURL string) (string, error) {
	trimmed := strings.TrimSuffix(baseURL, "/")
	switch {
	case strings.HasPrefix(trimmed, "https://"):
		return "wss://" + strings.TrimPrefix(trimmed, "https://") + "/chat", nil
	case strings.HasPrefix(trimmed, "http://"):
		return "ws://" + strings.TrimPrefix(trimmed, "http://") + "/chat", nil
	default:
		return "", fmt.Errorf("invalid peer base url: %s", baseURL)
	}
}

func (a *RemoteAgent) applyAuth(req *http.Request) {
	if a.Cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.Cfg.AuthToken)
	}
}

// SignPeerToken mints a short-lived HS256 JWT identifying this MAS to a
// peer, used when Config.AuthToken is refreshed on a schedule rather than
// supplied as a static secret.
func SignPeerToken(secret []byte, issuer string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
