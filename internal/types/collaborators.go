package types

import "context"

// Assessor scores a document for one category. Re-running it on an
// unchanged document must return the same score within a run.
type Assessor interface {
	Assess(ctx context.Context, doc *Document, category Category) (*WeaknessAssessment, error)
}

// AssessorFunc adapts a function to Assessor.
type AssessorFunc func(ctx context.Context, doc *Document, category Category) (*WeaknessAssessment, error)

// Assess implements Assessor
func (f AssessorFunc) Assess(ctx context.Context, doc *Document, category Category) (*WeaknessAssessment, error) {
	return f(ctx, doc, category)
}

// ConfidenceTier is the self-reported confidence of a secondary judgment.
type ConfidenceTier string

const (
	ConfidenceLow    ConfidenceTier = "low"
	ConfidenceMedium ConfidenceTier = "medium"
	ConfidenceHigh   ConfidenceTier = "high"
)

// Judgement is a holistic before/after comparison.
type Judgement struct {
	Score      float64        `json:"score"`
	Confidence ConfidenceTier `json:"confidence"`
	Summary    string         `json:"summary"`
}

// Judge is the optional, more expensive secondary assessment used when the
// primary score fails to move despite real content change.
type Judge interface {
	Judge(ctx context.Context, previous, current *Document, category Category) (*Judgement, error)
}
