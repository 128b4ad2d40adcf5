package envelope

import (
	"context"
	"strings"
)

// RetrievalCalleeName is the well-known name of the retrieval meta-tool.
// Calls to it receive special argument augmentation before
// dispatch and special response expansion after.
const RetrievalCalleeName = "retrieve_tools"

// RetrievalService is the optional tool-recall collaborator. It is
// treated as an opaque external dependency; only this narrow contract is
// specified.
type RetrievalService interface {
	Retrieve(ctx context.Context, query, appName, agentName string, topK int) ([]string, error)
}

// AugmentRetrievalArguments adds app_name/agent_name/top_k to arguments
// before a call to the retrieval tool, per the call protocol's "special
// tool handling". It returns a new map; the caller's original map is left
// untouched.
func AugmentRetrievalArguments(arguments map[string]any, appName, agentName string, topK int) map[string]any {
	out := make(map[string]any, len(arguments)+3)
	for k, v := range arguments {
		out[k] = v
	}
	out["app_name"] = appName
	out["agent_name"] = agentName
	out["top_k"] = topK
	return out
}

// ExpandRetrievalOutput turns a retrieval response (a list of tool names)
// into the concatenated desc_for_llm text the ReAct tool catalogue
// expects.
func ExpandRetrievalOutput(names []string, descForLLM func(name string) string) string {
	parts := make([]string, 0, len(names))
	for _, n := range names {
		if d := descForLLM(n); d != "" {
			parts = append(parts, d)
		}
	}
	return strings.Join(parts, "\n")
}
