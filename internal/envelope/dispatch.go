package envelope

import (
	"context"
	"fmt"

	"github.com/haasonsaas/mas/internal/kernel"
)

// ChatPayload is the inbound dispatch surface: the shape the thin
// HTTP/SSE veneer (out of scope) would decode into before calling
// Dispatch.
type ChatPayload struct {
	Query               string
	FromTraceID         string
	Callee              string
	SharedData          map[string]any
	ReferenceTraceID    string
	RestartNodeID       string
	RestartNodeOutput   any
}

// Dispatch normalizes payload into a fresh root Request and executes it
// against masterAgentName when payload.Callee is empty, implementing
// MAS.chat_with_agent.
func Dispatch(ctx context.Context, reg Caller, history HistoryLookup, payload ChatPayload, masterAgentName string) (*kernel.Response, error) {
	callee := payload.Callee
	if callee == "" {
		callee = masterAgentName
	}

	rootTraceIDs, err := ResolveRootTraceIDs(ctx, history, payload.FromTraceID)
	if err != nil {
		return nil, fmt.Errorf("envelope: resolve root trace ids: %w", err)
	}

	sharedData := make(map[string]any, len(payload.SharedData)+1)
	for k, v := range payload.SharedData {
		sharedData[k] = v
	}
	sharedData["query"] = payload.Query

	req := &kernel.Request{
		CurrentTraceID:       kernel.NewNodeID(),
		FromTraceID:          payload.FromTraceID,
		RootTraceIDs:         rootTraceIDs,
		CallerCategory:       "user",
		Arguments:            map[string]any{"query": payload.Query},
		SharedData:           sharedData,
		IsSaveHistory:        true,
		ReferenceTraceID:     payload.ReferenceTraceID,
		RestartNodeID:        payload.RestartNodeID,
		RestartNodeOutput:    payload.RestartNodeOutput,
		IsLoadDataForRestart: payload.ReferenceTraceID != "",
	}

	resp, err := reg.Execute(ctx, callee, req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}
