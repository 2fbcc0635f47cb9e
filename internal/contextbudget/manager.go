package contextbudget

import (
	"strings"

	"github.com/steveyegge/quill/internal/types"
)

// Tier is a reduction stage. Tiers only ever degrade in order.
type Tier string

const (
	TierFull    Tier = "full"
	TierReduced Tier = "reduced"
	TierMinimal Tier = "minimal"
)

// essentialWorldCategories survive reduction.
var essentialWorldCategories = map[string]bool{
	"magic_system": true,
	"rules":        true,
	"power_system": true,
	"geography":    true,
	"history":      true,
	"politics":     true,
	"technology":   true,
	"culture":      true,
	"religion":     true,
	"setting":      true,
}

// IsEssentialWorldCategory reports whether entries of this category are kept
// in reduced views.
func IsEssentialWorldCategory(category string) bool {
	key := strings.ToLower(strings.TrimSpace(category))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	return essentialWorldCategories[key]
}

// Config holds the staged-reduction limits.
type Config struct {
	// Estimator defaults to CharEstimator{CharsPerToken: 4}
	Estimator Estimator

	// InstructionOverhead is the fixed token cost of instructional text.
	// Default: 1500
	InstructionOverhead int

	// RecentFullSections is the full-text window at the full tier. Default: 5
	RecentFullSections int

	// ReducedRecentSections caps the window at the reduced tier. Default: 3
	ReducedRecentSections int

	// MinimalRecentSections caps the window at the minimal tier. Default: 2
	MinimalRecentSections int

	// ReducedWorldCap limits essential world entries at the reduced tier. Default: 20
	ReducedWorldCap int

	// WorldFallback is how many leading entries to keep when none is essential. Default: 10
	WorldFallback int

	// MinimalWorldCap limits world entries at the minimal tier. Default: 10
	MinimalWorldCap int

	// MinimalEntityCap limits referenced characters (besides the primary) at
	// the minimal tier. Default: 5
	MinimalEntityCap int

	// EditTailChars / EditHeadChars size the neighbour excerpts used by
	// MinimalContextForEdit. Defaults: 600 / 400
	EditTailChars int
	EditHeadChars int
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		Estimator:             CharEstimator{CharsPerToken: 4},
		InstructionOverhead:   1500,
		RecentFullSections:    5,
		ReducedRecentSections: 3,
		MinimalRecentSections: 2,
		ReducedWorldCap:       20,
		WorldFallback:         10,
		MinimalWorldCap:       10,
		MinimalEntityCap:      5,
		EditTailChars:         600,
		EditHeadChars:         400,
	}
}

// Manager estimates and reduces document views. It holds no per-document
// state and is safe for concurrent use.
type Manager struct {
	cfg Config
	est Estimator
}

// NewManager fills zero fields of cfg from DefaultConfig.
func NewManager(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.Estimator == nil {
		cfg.Estimator = def.Estimator
	}
	if cfg.InstructionOverhead <= 0 {
		cfg.InstructionOverhead = def.InstructionOverhead
	}
	if cfg.RecentFullSections <= 0 {
		cfg.RecentFullSections = def.RecentFullSections
	}
	if cfg.ReducedRecentSections <= 0 {
		cfg.ReducedRecentSections = def.ReducedRecentSections
	}
	if cfg.MinimalRecentSections <= 0 {
		cfg.MinimalRecentSections = def.MinimalRecentSections
	}
	if cfg.ReducedWorldCap <= 0 {
		cfg.ReducedWorldCap = def.ReducedWorldCap
	}
	if cfg.WorldFallback <= 0 {
		cfg.WorldFallback = def.WorldFallback
	}
	if cfg.MinimalWorldCap <= 0 {
		cfg.MinimalWorldCap = def.MinimalWorldCap
	}
	if cfg.MinimalEntityCap <= 0 {
		cfg.MinimalEntityCap = def.MinimalEntityCap
	}
	if cfg.EditTailChars <= 0 {
		cfg.EditTailChars = def.EditTailChars
	}
	if cfg.EditHeadChars <= 0 {
		cfg.EditHeadChars = def.EditHeadChars
	}
	// Smaller tiers must never widen the window.
	if cfg.ReducedRecentSections > cfg.RecentFullSections {
		cfg.ReducedRecentSections = cfg.RecentFullSections
	}
	if cfg.MinimalRecentSections > cfg.ReducedRecentSections {
		cfg.MinimalRecentSections = cfg.ReducedRecentSections
	}
	return &Manager{cfg: cfg, est: cfg.Estimator}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Reduction is a document view sized for a budget.
type Reduction struct {
	Document         *types.Document
	Tier             Tier
	SectionsIncluded int // sections carried at full text
	EntitiesIncluded int
	WorldIncluded    int
	Estimate         Estimate

	// Sufficient is false when even the minimal tier exceeds the budget.
	Sufficient bool
}

// Reduce returns the least-degraded view whose estimate fits targetBudget.
// It never fails: when nothing fits, the minimal view is returned with
// Sufficient=false.
func (m *Manager) Reduce(doc *types.Document, targetBudget int) Reduction {
	var r Reduction
	for _, tier := range []Tier{TierFull, TierReduced, TierMinimal} {
		r = m.ReduceTo(doc, tier)
		if r.Estimate.Total <= targetBudget {
			r.Sufficient = true
			return r
		}
	}
	return r
}

// ReduceTo builds the view for a specific tier regardless of budget.
// Sufficient is left false; callers comparing against a budget set it.
// The estimate is of the returned view exactly as it will be rendered.
func (m *Manager) ReduceTo(doc *types.Document, tier Tier) Reduction {
	if doc == nil {
		return Reduction{Tier: tier, Estimate: m.EstimateSize(nil, Options{})}
	}

	window := m.cfg.RecentFullSections
	switch tier {
	case TierReduced:
		window = m.cfg.ReducedRecentSections
	case TierMinimal:
		window = m.cfg.MinimalRecentSections
	default:
		tier = TierFull
	}

	view := &types.Document{
		ID:                 doc.ID,
		Title:              doc.Title,
		Genre:              doc.Genre,
		PrimaryCharacterID: doc.PrimaryCharacterID,
		Constraints:        append([]string(nil), doc.Constraints...),
		Sections:           make([]types.Section, len(doc.Sections)),
	}

	firstFull := len(doc.Sections) - window
	var recentText strings.Builder
	included := 0
	for i, s := range doc.Sections {
		s = s.Clone()
		if i >= firstFull {
			included++
			recentText.WriteString(s.Title)
			recentText.WriteString("\n")
			recentText.WriteString(s.Content)
			recentText.WriteString("\n")
		} else {
			s.Content = condensed(s)
		}
		view.Sections[i] = s
	}

	if tier == TierFull {
		view.Characters = make([]types.Character, len(doc.Characters))
		for i, c := range doc.Characters {
			c.Attributes = cloneAttrs(c.Attributes)
			view.Characters[i] = c
		}
		view.World = append([]types.WorldEntry(nil), doc.World...)
	} else {
		view.Characters = m.selectCharacters(doc, recentText.String(), tier)
		view.World = m.selectWorld(doc.World, tier)
	}

	return Reduction{
		Document:         view,
		Tier:             tier,
		SectionsIncluded: included,
		EntitiesIncluded: len(view.Characters),
		WorldIncluded:    len(view.World),
		Estimate:         m.viewEstimate(view),
	}
}

// viewEstimate sizes a built view. Its sections are already condensed, so
// every one is counted as rendered: title plus content.
func (m *Manager) viewEstimate(view *types.Document) Estimate {
	return m.EstimateSize(view, Options{RecentFullSections: max(len(view.Sections), 1)})
}

// condensed is what an out-of-window section is reduced to.
func condensed(s types.Section) string {
	if strings.TrimSpace(s.Summary) != "" {
		return s.Summary
	}
	return s.Title
}

func (m *Manager) selectCharacters(doc *types.Document, text string, tier Tier) []types.Character {
	primary := doc.PrimaryCharacter()
	lower := strings.ToLower(text)

	var out []types.Character
	referenced := 0
	for _, c := range doc.Characters {
		isPrimary := primary != nil && c.ID == primary.ID
		if !isPrimary && !mentions(lower, c.Name) {
			continue
		}
		if !isPrimary {
			if tier == TierMinimal && referenced >= m.cfg.MinimalEntityCap {
				continue
			}
			referenced++
		}
		c.Attributes = cloneAttrs(c.Attributes)
		out = append(out, c)
	}
	return out
}

func (m *Manager) selectWorld(entries []types.WorldEntry, tier Tier) []types.WorldEntry {
	var out []types.WorldEntry
	for _, w := range entries {
		if IsEssentialWorldCategory(w.Category) {
			out = append(out, w)
			if len(out) == m.cfg.ReducedWorldCap {
				break
			}
		}
	}
	if len(out) == 0 {
		n := min(m.cfg.WorldFallback, len(entries))
		out = append(out, entries[:n]...)
	}
	if tier == TierMinimal && len(out) > m.cfg.MinimalWorldCap {
		out = out[:m.cfg.MinimalWorldCap]
	}
	return out
}

// mentions reports whether lowerText refers to name, by full name or by a
// first name of at least three letters.
func mentions(lowerText, name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false
	}
	if strings.Contains(lowerText, name) {
		return true
	}
	if first := strings.Fields(name)[0]; len(first) >= 3 && first != name {
		return strings.Contains(lowerText, first)
	}
	return false
}

func cloneAttrs(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
