package memory

import "sort"

// FragmentKind distinguishes a short-memory query/answer pair from a
// react-memory reasoning fragment for weighting purposes.
type FragmentKind string

const (
	KindShort FragmentKind = "short"
	KindReact FragmentKind = "react"
)

// Fragment is one candidate unit of prior context: either a short-memory
// query/answer pair or a react-memory turn, each pre-rendered to its
// final text with an estimated token cost and its original
// conversational position (lower Order = older).
type Fragment struct {
	Kind   FragmentKind
	Text   string
	Tokens int
	Order  int
}

// Weights configures the weighted memory assembly scoring function
// f(order) x w_kind, with w_short/w_react independently configurable.
type Weights struct {
	Short float64
	React float64
}

// DefaultWeights favors react-memory slightly, since it carries the
// immediately relevant tool-call trace for the current run.
var DefaultWeights = Weights{Short: 1.0, React: 1.2}

func (w Weights) forKind(k FragmentKind) float64 {
	if k == KindReact {
		return w.React
	}
	return w.Short
}

// score implements f(order) x w_kind: more recent fragments (higher
// Order) score higher, scaled by the fragment-kind weight.
func score(f Fragment, w Weights) float64 {
	return float64(f.Order+1) * w.forKind(f.Kind)
}

// Assemble implements the weighted memory assembly algorithm: each fragment is scored f(order) x w_kind; highest
// scorers are selected greedily until tokenBudget is exhausted, then the
// selection is re-sorted into original conversational order. This is the
// only place a token budget is enforced; everywhere else sizes are
// bounded by counts.
func Assemble(fragments []Fragment, weights Weights, tokenBudget int) []Fragment {
	if tokenBudget <= 0 {
		out := append([]Fragment(nil), fragments...)
		sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
		return out
	}

	ranked := append([]Fragment(nil), fragments...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return score(ranked[i], weights) > score(ranked[j], weights)
	})

	selected := make([]Fragment, 0, len(ranked))
	used := 0
	for _, f := range ranked {
		if used+f.Tokens > tokenBudget {
			continue
		}
		selected = append(selected, f)
		used += f.Tokens
	}

	sort.Slice(selected, func(i, j int) bool { return selected[i].Order < selected[j].Order })
	return selected
}
