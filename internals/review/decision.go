package review

import (
	"fmt"
	"sort"
	"strings"
)

type Outcome int

const (
	OutcomeDefer Outcome = iota
	OutcomeMerge
	OutcomeRequestChanges
	OutcomeClose
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMerge:
		return "merge"
	case OutcomeRequestChanges:
		return "request_changes"
	case OutcomeClose:
		return "close"
	default:
		return "defer"
	}
}

// Decision is what the engine produces per proposal per run. It is ephemeral:
// the only persistence is the side effects the executor applies.
type Decision struct {
	Outcome Outcome
	Scores  Scores
	Reason  string
	// Strike marks a change request that counts toward the three-strikes
	// counter; CI-failure rejections do not.
	Strike bool
}

// ScoreThreshold is the minimum every quality dimension must reach for a
// proposal to merge.
const ScoreThreshold = 7

// Dimensions the substantive scoring pass rates, each 1–10.
var Dimensions = []string{
	"correctness",
	"redundancy",
	"integration",
	"interfaces",
	"tests",
	"security",
	"performance",
	"complexity",
	"dependencies",
}

type Scores map[string]int

// Failing returns the dimensions under the threshold, sorted for stable output.
func (s Scores) Failing(threshold int) []string {
	var out []string
	for dim, v := range s {
		if v < threshold {
			out = append(out, dim)
		}
	}
	sort.Strings(out)
	return out
}

func (s Scores) String() string {
	parts := make([]string, 0, len(Dimensions))
	for _, dim := range Dimensions {
		if v, ok := s[dim]; ok {
			parts = append(parts, fmt.Sprintf("%s=%d", dim, v))
		}
	}
	return strings.Join(parts, " ")
}
