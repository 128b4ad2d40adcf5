// Package kernel implements the MAS execution core: the Component
// interface, the arena/handle registry, the 13-stage execution pipeline,
// and the memory types shared by every component kind.
package kernel

import "time"

// Kind identifies which of the five component categories a Component
// belongs to. Every component, regardless of kind, flows through the same
// execution pipeline; only the kind-specific execute hook differs.
type Kind string

const (
	KindLLM         Kind = "llm"
	KindTool        Kind = "tool"
	KindAgent       Kind = "agent"
	KindFlow        Kind = "flow"
	KindRemoteAgent Kind = "remote_agent"
)

// State is the lifecycle state of a Response.
type State string

const (
	StateCreated   State = "created"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StatePaused    State = "paused"
	StateSkipped   State = "skipped"
	StateCanceled  State = "canceled"
)

// Descriptor carries the static attributes of a Component. It is set at
// registration time and treated as immutable thereafter, except for
// ExtraPermittedCallees which the registry may append to post hoc (MCP
// discovery, team-mode clones).
type Descriptor struct {
	// Name uniquely identifies the component within the registry.
	Name string `json:"name" yaml:"name"`

	// Kind classifies the component for organization-tree rendering and
	// for the kind-specific execute hook (stage 9).
	Kind Kind `json:"kind" yaml:"kind"`

	// ClassName is the concrete Go type backing this component,
	// surfaced for diagnostics and the organization tree.
	ClassName string `json:"class_name,omitempty" yaml:"class_name,omitempty"`

	// Desc is a short human-facing description.
	Desc string `json:"desc,omitempty" yaml:"desc,omitempty"`

	// DescForLLM is injected into tool-catalogue prompts; falls back to
	// Desc when empty.
	DescForLLM string `json:"desc_for_llm,omitempty" yaml:"desc_for_llm,omitempty"`

	// InputSchema is a JSON-Schema document describing accepted
	// arguments, validated by internal/schema before stage 5.
	InputSchema map[string]any `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`

	// IsPermissionRequired gates whether non-user callers must appear
	// in the caller's permitted set to invoke this component.
	IsPermissionRequired bool `json:"is_permission_required" yaml:"is_permission_required"`

	// PermittedCallees is the static set of component names (or
	// wildcard patterns like "mcp:*") this component may invoke.
	PermittedCallees []string `json:"permitted_callees,omitempty" yaml:"permitted_callees,omitempty"`

	// ExtraPermittedCallees augments PermittedCallees at runtime.
	ExtraPermittedCallees []string `json:"extra_permitted_callees,omitempty" yaml:"extra_permitted_callees,omitempty"`

	// SemaphoreLimit bounds concurrent executions of this component.
	// Must be >= 1; registry rejects zero by defaulting to 1.
	SemaphoreLimit int `json:"semaphore_limit" yaml:"semaphore_limit"`

	// Timeout bounds a single execution attempt.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Retries is the number of additional attempts after the first
	// failure.
	Retries int `json:"retries" yaml:"retries"`

	// RetryDelay is slept between retry attempts.
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`

	// IsSaveData controls whether a node record is persisted for this
	// component's executions.
	IsSaveData bool `json:"is_save_data" yaml:"is_save_data"`

	// IsSendToolCall controls whether a tool_call event is published
	// to the message bus.
	IsSendToolCall bool `json:"is_send_tool_call" yaml:"is_send_tool_call"`

	// FriendlyErrorText, when set, replaces a raw error message before
	// the response reaches the caller.
	FriendlyErrorText string `json:"friendly_error_text,omitempty" yaml:"friendly_error_text,omitempty"`
}

// EffectiveDescForLLM returns DescForLLM, falling back to Desc.
func (d Descriptor) EffectiveDescForLLM() string {
	if d.DescForLLM != "" {
		return d.DescForLLM
	}
	return d.Desc
}

// Clone returns a deep copy, used when a component is duplicated for
// team-mode expansion so mutating one clone's callee list never leaks to
// its siblings.
func (d Descriptor) Clone() Descriptor {
	out := d
	out.PermittedCallees = append([]string(nil), d.PermittedCallees...)
	out.ExtraPermittedCallees = append([]string(nil), d.ExtraPermittedCallees...)
	if d.InputSchema != nil {
		out.InputSchema = make(map[string]any, len(d.InputSchema))
		for k, v := range d.InputSchema {
			out.InputSchema[k] = v
		}
	}
	return out
}

// AllPermittedCallees returns the union of PermittedCallees and
// ExtraPermittedCallees.
func (d Descriptor) AllPermittedCallees() []string {
	if len(d.ExtraPermittedCallees) == 0 {
		return d.PermittedCallees
	}
	out := make([]string, 0, len(d.PermittedCallees)+len(d.ExtraPermittedCallees))
	out = append(out, d.PermittedCallees...)
	out = append(out, d.ExtraPermittedCallees...)
	return out
}
