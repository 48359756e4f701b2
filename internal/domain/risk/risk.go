// Package risk maps committed trust scores to risk labels.
package risk

// Label is the binary risk classification callers gate sensitive actions on.
type Label string

// Risk labels.
const (
	Normal Label = "NORMAL"
	High   Label = "HIGH"
)

// HighRiskThreshold is the first score that is no longer high risk.
const HighRiskThreshold = 40

func (l Label) String() string { return string(l) }

// Classify returns High for scores below HighRiskThreshold and Normal otherwise.
func Classify(score int) Label {
	if score < HighRiskThreshold {
		return High
	}
	return Normal
}

// Transition classifies both scores and reports whether the label changed.
func Transition(prev, next int) (from, to Label, changed bool) {
	from, to = Classify(prev), Classify(next)
	return from, to, from != to
}
