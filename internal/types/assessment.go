package types

import (
	"fmt"
	"strings"
	"time"
)

// Severity ranks how badly a weakness hurts the category score.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Rank orders severities; higher is worse. Unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// ParseSeverity accepts the canonical names case-insensitively.
func ParseSeverity(v string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(v)))
	if !s.IsValid() {
		return "", fmt.Errorf("invalid severity: %q", v)
	}
	return s, nil
}

// WeaknessAssessment is the scored diagnostic for one category. Produced
// fresh by every Assess call.
type WeaknessAssessment struct {
	Category     Category   `json:"category"`
	OverallScore float64    `json:"overall_score"`
	TargetScore  float64    `json:"target_score"`
	Weaknesses   []Weakness `json:"weaknesses"`
	Summary      string     `json:"summary,omitempty"`
	AssessedAt   time.Time  `json:"assessed_at"`
}

// Weakness is one diagnosed problem. AffectedSections holds section
// numbers; empty means the problem is not attributable to a section.
type Weakness struct {
	ID               string   `json:"id,omitempty"`
	Kind             string   `json:"kind"`
	Description      string   `json:"description"`
	Severity         Severity `json:"severity"`
	CurrentScore     float64  `json:"current_score"`
	TargetScore      float64  `json:"target_score"`
	AffectedSections []int    `json:"affected_sections,omitempty"`
	Suggestion       string   `json:"suggestion,omitempty"`
}

// Gap is how far the weakness sub-score is below its target.
func (w Weakness) Gap() float64 {
	if w.TargetScore <= w.CurrentScore {
		return 0
	}
	return w.TargetScore - w.CurrentScore
}

// CountBySeverity tallies weaknesses per tier.
func (a *WeaknessAssessment) CountBySeverity() map[Severity]int {
	out := make(map[Severity]int)
	if a == nil {
		return out
	}
	for _, w := range a.Weaknesses {
		out[w.Severity]++
	}
	return out
}

// ClampScore bounds a score to 0-100.
func ClampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
