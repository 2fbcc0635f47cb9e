// Package contextbudget keeps document views inside the input-size limits of
// size-constrained collaborators. It estimates the token cost of a view and
// degrades it in stages (full, reduced, minimal) until it fits.
package contextbudget

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/steveyegge/quill/internal/types"
)

// Estimator converts text to an approximate token count.
type Estimator interface {
	Estimate(text string) int
}

// CharEstimator approximates tokens from rune count.
type CharEstimator struct {
	// CharsPerToken defaults to 4 when zero
	CharsPerToken float64
}

// Estimate implements Estimator
func (e CharEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	cpt := e.CharsPerToken
	if cpt <= 0 {
		cpt = 4
	}
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / cpt))
}

// Options controls what EstimateSize counts.
type Options struct {
	// RecentFullSections is how many trailing sections are counted at full
	// text. Zero uses the manager default.
	RecentFullSections int

	// ExtraConstraints is injected constraint text counted with world entries.
	ExtraConstraints []string
}

// Breakdown splits an estimate by source.
type Breakdown struct {
	World    int `json:"world"`
	Sections int `json:"sections"`
	Entities int `json:"entities"`
	Overhead int `json:"overhead"`
}

// Estimate is the token estimate of one document view.
type Estimate struct {
	Total     int       `json:"total"`
	Breakdown Breakdown `json:"breakdown"`
}

// EstimateSize sums the independently estimated sizes of world entries
// (plus constraint text), sections, character notes and the fixed
// instruction overhead.
func (m *Manager) EstimateSize(doc *types.Document, opts Options) Estimate {
	window := opts.RecentFullSections
	if window <= 0 {
		window = m.cfg.RecentFullSections
	}

	var b Breakdown
	b.Overhead = m.cfg.InstructionOverhead
	if doc == nil {
		return Estimate{Total: b.Overhead, Breakdown: b}
	}

	for _, w := range doc.World {
		b.World += m.worldCost(w)
	}
	constraints := append(append([]string(nil), doc.Constraints...), opts.ExtraConstraints...)
	if len(constraints) > 0 {
		b.World += m.est.Estimate(strings.Join(constraints, "\n"))
	}

	firstFull := len(doc.Sections) - window
	for i, s := range doc.Sections {
		b.Sections += m.sectionCost(s, i >= firstFull)
	}

	for _, c := range doc.Characters {
		b.Entities += m.characterCost(c)
	}

	return Estimate{
		Total:     b.World + b.Sections + b.Entities + b.Overhead,
		Breakdown: b,
	}
}

func (m *Manager) sectionCost(s types.Section, full bool) int {
	if full {
		return m.est.Estimate(s.Title) + m.est.Estimate(s.Content)
	}
	return m.est.Estimate(s.Title) + m.est.Estimate(s.Summary)
}

func (m *Manager) characterCost(c types.Character) int {
	n := m.est.Estimate(c.Name) + m.est.Estimate(c.Notes)
	for k, v := range c.Attributes {
		n += m.est.Estimate(k + ": " + v)
	}
	return n
}

func (m *Manager) worldCost(w types.WorldEntry) int {
	return m.est.Estimate(w.Category) + m.est.Estimate(w.Title) + m.est.Estimate(w.Content)
}
