// Package policy resolves component call permissions: whether a caller
// may invoke a callee given the callee's is_permission_required flag and
// the caller's permitted_callees/extra_permitted_callees sets.
//
// This supplements the call protocol with policy-resolution idiom from
// internal/agent/runtime.go (matchToolPattern/matchesToolPatterns/
// normalizeToolName) instead of a bespoke set-membership check, so the
// same mechanism can later carry approval policies without changing the
// call-protocol contract.
package policy

import (
	"strings"

	"github.com/haasonsaas/mas/internal/kernel"
)

// NormalizeName trims whitespace and lowercases the kind prefix of a
// kind-prefixed name (e.g. "MCP:Foo" -> "mcp:Foo"), or the whole name when
// it has no prefix, mirroring tool-name normalization. The part after the
// prefix keeps its case.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.Index(name, ":"); i >= 0 {
		return strings.ToLower(name[:i]) + name[i:]
	}
	return strings.ToLower(name)
}

// matchPattern reports whether name matches pattern, where pattern may
// end in "*" for a prefix match (e.g. "mcp:*" matches any MCP-sourced
// tool) or be an exact name.
func matchPattern(pattern, name string) bool {
	pattern = NormalizeName(pattern)
	name = NormalizeName(name)
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == name
}

// matchesAny reports whether name matches any of patterns.
func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if matchPattern(p, name) {
			return true
		}
	}
	return false
}

// IsPermitted reports whether a caller described by callerCategory and
// callerDescriptor may invoke a component described by callee.
// B4: caller_category=="user" is always permitted. Otherwise the callee
// must either not require permission, or appear (by name or wildcard
// pattern) in the caller's permitted_callees ∪ extra_permitted_callees.
func IsPermitted(callerCategory string, callerDescriptor *kernel.Descriptor, callee kernel.Descriptor) bool {
	if callerCategory == "user" {
		return true
	}
	if !callee.IsPermissionRequired {
		return true
	}
	if callerDescriptor == nil {
		return false
	}
	return matchesAny(callerDescriptor.AllPermittedCallees(), callee.Name)
}
