package kernel

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
)

// NewNodeID returns a 16-character short-UUID: the first 16 hex
// characters of a v4 UUID with dashes stripped, matching the original
// runtime's node/trace id format.
func NewNodeID() string {
	id := uuid.New().String()
	hex := make([]byte, 0, 32)
	for _, r := range id {
		if r != '-' {
			hex = append(hex, byte(r))
		}
	}
	return string(hex[:16])
}

// inputMD5 computes the MD5 of the canonical-JSON projection of
// arguments: object keys sorted, values restricted to scalar, sequence
// and mapping types (top-level values of any other kind, such as
// functions, channels, structs or pointers, are left out of the hash).
// Go's encoding/json already sorts
// map[string]any keys when marshaling; this function additionally
// round-trips through an explicitly key-sorted structure so the hash
// stays stable even if that implicit guarantee were ever to change.
func inputMD5(arguments map[string]any) (string, error) {
	filtered := make(map[string]any, len(arguments))
	for k, v := range arguments {
		switch reflect.ValueOf(v).Kind() {
		case reflect.Invalid, reflect.Bool, reflect.String, reflect.Slice, reflect.Array, reflect.Map,
			reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			filtered[k] = v
		}
	}
	canon, err := canonicalize(filtered)
	if err != nil {
		return "", fmt.Errorf("kernel: canonicalize arguments: %w", err)
	}
	buf, err := json.Marshal(canon)
	if err != nil {
		return "", fmt.Errorf("kernel: marshal canonical arguments: %w", err)
	}
	sum := md5.Sum(buf)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize recursively rewrites v into ordered maps (via
// sortedMap) so repeated marshaling of equal values always produces byte
// identical JSON, regardless of Go map iteration order.
func canonicalize(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(sortedMap, 0, len(val))
		for _, k := range keys {
			cv, err := canonicalize(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, sortedEntry{Key: k, Value: cv})
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			cv, err := canonicalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	default:
		// Scalars (string, float64, bool, nil) pass through unchanged.
		return val, nil
	}
}

type sortedEntry struct {
	Key   string
	Value any
}

type sortedMap []sortedEntry

// MarshalJSON renders a sortedMap as a JSON object with keys in the
// order they were appended (already sorted by canonicalize).
func (m sortedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, e := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// dispatch runs req through the 13-stage pipeline against component c.
// This is the sole dispatcher for every component kind; kind-specific
// behavior is confined to c.Behaviour.Execute (stage 10).
func dispatch(ctx context.Context, reg *Registry, c *Component, req *Request) (*Response, error) {
	desc := c.Descriptor

	// Stage 1: semaphore acquisition.
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if reg.deps.Metrics != nil {
		reg.deps.Metrics.SetActiveExecutions(desc.Name, len(c.sem))
	}
	defer func() {
		<-c.sem
		if reg.deps.Metrics != nil {
			reg.deps.Metrics.SetActiveExecutions(desc.Name, len(c.sem))
		}
	}()

	// Stage 2: pre-process.
	if req.NodeID == "" {
		req.NodeID = NewNodeID()
	}
	req.Callee = desc.Name
	req.CallStack = append(req.CallStack, desc.Name)
	req.NodeIDStack = append(req.NodeIDStack, req.NodeID)
	if err := c.Hooks.ProcessInput(ctx, req); err != nil {
		return nil, fmt.Errorf("kernel: process_input hook for %s: %w", desc.Name, err)
	}

	if reg.deps.Tracer != nil {
		var end func()
		ctx, end = reg.deps.Tracer.StartSpan(ctx, desc.Name, desc.Kind, req.CurrentTraceID, req.NodeID)
		defer end()
	}

	// Stage 3: pre-log.
	reg.logger.Debug("component entry",
		"component", desc.Name,
		"trace_id", req.CurrentTraceID,
		"node_id", req.NodeID,
		"call_stack", req.CallStack)

	// Stage 4: input hashing.
	hash, err := inputMD5(req.Arguments)
	if err != nil {
		return nil, err
	}
	req.InputMD5 = hash

	// Input validation against desc.InputSchema, when a Validator is
	// configured; arguments that do not conform fail this node.
	if reg.deps.Validator != nil && len(desc.InputSchema) > 0 {
		if verr := reg.deps.Validator.Validate(desc.InputSchema, req.Arguments); verr != nil {
			resp := NewFailedResponse(req, verr.Error(), desc.FriendlyErrorText)
			reg.saveNode(ctx, req, resp, time.Now())
			return resp, nil
		}
	}

	// Stage 5: restart interception.
	if req.ReferenceTraceID != "" && req.IsLoadDataForRestart &&
		(desc.Kind == KindLLM || desc.Kind == KindTool) && reg.deps.Replay != nil {
		if resp, ok, rerr := reg.deps.Replay.Intercept(ctx, req); rerr == nil && ok {
			resp.OxyRequest = req
			reg.saveNode(ctx, req, resp, time.Now())
			return resp, nil
		}
	}

	// Stage 6: pre-save (fire concurrently, awaited before stage 12).
	saveDone := reg.preSaveAsync(ctx, req)

	// Stage 7: format input.
	if err := c.Hooks.FormatInput(ctx, req); err != nil {
		return nil, fmt.Errorf("kernel: format_input hook for %s: %w", desc.Name, err)
	}

	// Stage 8: pre-send message.
	if desc.IsSendToolCall && reg.deps.Bus != nil {
		reg.deps.Bus.Publish(ctx, BusEvent{
			Kind:      EventToolCall,
			TraceID:   req.CurrentTraceID,
			Component: desc.Name,
			Payload:   req.Arguments,
		})
	}

	// Stage 9: before-execute is folded into Behaviour.Execute's own
	// preparation (kind-specific, e.g. ReAct's tools_description build);
	// the pipeline itself has no generic work here.

	// Stage 10: execute with retry/timeout.
	resp := reg.executeWithRetry(ctx, c, req)

	// Stage 11: after-execute / post-process.
	if err := c.Hooks.ProcessOutput(ctx, req, resp); err != nil {
		reg.logger.Warn("process_output hook failed", "component", desc.Name, "error", err)
	}

	// Stage 12: post-save (wait for stage 6's write first).
	<-saveDone
	reg.saveNode(ctx, req, resp, time.Now())
	if resp.State == StateCanceled {
		resp.OxyRequest = req
		return resp, nil
	}

	// Stage 13: format output + post-send.
	if err := c.Hooks.FormatOutput(ctx, req, resp); err != nil {
		reg.logger.Warn("format_output hook failed", "component", desc.Name, "error", err)
	}
	if resp.State == StateFailed && desc.FriendlyErrorText != "" {
		resp.Output = desc.FriendlyErrorText
	}
	if reg.deps.Bus != nil {
		reg.deps.Bus.Publish(ctx, BusEvent{
			Kind:      EventObservation,
			TraceID:   req.CurrentTraceID,
			Component: desc.Name,
			Payload:   resp.Output,
		})
		if req.CallerCategory == "user" {
			reg.deps.Bus.Publish(ctx, BusEvent{
				Kind:      EventAnswer,
				TraceID:   req.CurrentTraceID,
				Component: desc.Name,
				Payload:   resp.Output,
			})
		}
	}

	resp.OxyRequest = req
	return resp, nil
}

// executeWithRetry wraps Behaviour.Execute with a cancellation-aware
// timeout and retries up to desc.Retries times, sleeping desc.RetryDelay
// between attempts. It never returns a nil Response: retry exhaustion
// yields an explicit FAILED response, never a silent nil.
func (r *Registry) executeWithRetry(ctx context.Context, c *Component, req *Request) *Response {
	desc := c.Descriptor
	attempts := desc.Retries + 1
	var lastErr error
	start := time.Now()

	record := func(resp *Response) *Response {
		if r.deps.Metrics != nil {
			r.deps.Metrics.ObserveExecution(desc.Name, desc.Kind, resp.State, time.Since(start))
		}
		return resp
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && r.deps.Metrics != nil {
			r.deps.Metrics.IncRetry(desc.Name)
		}

		execCtx := ctx
		var cancel context.CancelFunc
		if desc.Timeout > 0 {
			execCtx, cancel = context.WithTimeout(ctx, desc.Timeout)
		}

		resp, err := runOnce(execCtx, c, req)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			return record(resp)
		}
		lastErr = err

		if ctx.Err() != nil {
			// Outer context cancelled (not just the per-attempt
			// timeout): no hooks beyond stage 12 run for a cancelled
			// task, and no further retries happen.
			return record(&Response{State: StateCanceled, Output: ErrCancelled.Error()})
		}
		if execCtx.Err() != nil && execCtx.Err() != ctx.Err() {
			lastErr = fmt.Errorf("executing %s timed out", desc.Name)
		}

		if attempt < attempts-1 && desc.RetryDelay > 0 {
			select {
			case <-time.After(desc.RetryDelay):
			case <-ctx.Done():
				return record(&Response{State: StateCanceled, Output: ErrCancelled.Error()})
			}
		}
	}

	if lastErr == nil {
		lastErr = ErrRetriesExhausted
	}
	return record(NewFailedResponse(req, lastErr.Error(), desc.FriendlyErrorText))
}

// runOnce invokes Behaviour.Execute once and normalizes panics/timeouts
// into (nil, error) so executeWithRetry has a single failure path.
func runOnce(ctx context.Context, c *Component, req *Request) (resp *Response, err error) {
	type result struct {
		resp *Response
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- result{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		rr, rerr := c.Behaviour.Execute(ctx, req)
		ch <- result{resp: rr, err: rerr}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.resp, res.err
	}
}

func (r *Registry) preSaveAsync(ctx context.Context, req *Request) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if r.deps.Nodes == nil {
			return
		}
		now := time.Now()
		if err := r.deps.Nodes.Save(ctx, NodeRecord{
			NodeID:     req.NodeID,
			TraceID:    req.CurrentTraceID,
			InputMD5:   req.InputMD5,
			CallStack:  append([]string(nil), req.CallStack...),
			PreNodeIDs: append([]string(nil), req.PreNodeIDs...),
			State:      StateRunning,
			CreateTime: now,
			UpdateTime: now,
		}); err != nil {
			r.logger.Warn("pre-save node record failed", "node_id", req.NodeID, "error", err)
		}
	}()
	return done
}

func (r *Registry) saveNode(ctx context.Context, req *Request, resp *Response, when time.Time) {
	if r.deps.Nodes == nil {
		return
	}
	if err := r.deps.Nodes.Save(ctx, NodeRecord{
		NodeID:     req.NodeID,
		TraceID:    req.CurrentTraceID,
		InputMD5:   req.InputMD5,
		CallStack:  append([]string(nil), req.CallStack...),
		PreNodeIDs: append([]string(nil), req.PreNodeIDs...),
		State:      resp.State,
		Output:     resp.Output,
		Extra:      resp.Extra,
		UpdateTime: when,
	}); err != nil {
		r.logger.Warn("post-save node record failed", "node_id", req.NodeID, "error", err)
	}
}
