package iterative

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/steveyegge/quill/internal/gates"
	"github.com/steveyegge/quill/internal/types"
)

// ScoreValidator re-scores a document after an iteration. Implementations
// never fail: on internal error they return prevScore with zero change and
// set Validation.Err.
type ScoreValidator interface {
	Validate(ctx context.Context, prev, cur *types.Document, category types.Category, prevScore float64) Validation
}

// Validation is the outcome of re-scoring.
type Validation struct {
	NewScore    float64
	ScoreChange float64
	Diff        StructuralDiff
	// Assessment is the primary assessment of cur, nil on error.
	Assessment   *types.WeaknessAssessment
	PrimaryScore float64
	Blended      bool
	JudgeScore   float64
	Confidence   types.ConfidenceTier
	BonusApplied float64
	Err          error
}

// Validator defaults.
const (
	DefaultBonusPerSection = 5.0
	DefaultBonusCap        = 15.0
	DefaultMediumWeight    = 0.35
	DefaultHighWeight      = 0.6
)

// ValidatorConfig configures a Validator.
type ValidatorConfig struct {
	Assessor types.Assessor
	Judge    types.Judge // Optional: blended in when the primary score stalls
	// BonusPerSection and BonusCap bound the content-changed bonus.
	BonusPerSection float64
	BonusCap        float64
	// RegressionThreshold is the drop the quality gate rolls back on. No
	// bonus is given once the primary score fell further than this.
	// Default: gates.DefaultRegressionThreshold
	RegressionThreshold float64
	// MediumWeight and HighWeight are the judge's share of the blend at
	// those confidence tiers. Low confidence judgments are ignored.
	MediumWeight float64
	HighWeight   float64
	Logger       *slog.Logger
}

// Validator scores the new document with the primary assessor and, when
// the text really changed but the score did not rise, consults the judge
// and finally applies a bounded bonus. The bonus only lifts a stalled
// score; a primary drop past the regression threshold is reported as is.
type Validator struct {
	cfg    ValidatorConfig
	logger *slog.Logger
}

// NewValidator creates a validator.
func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	if cfg.Assessor == nil {
		return nil, fmt.Errorf("assessor is required")
	}
	if cfg.BonusPerSection == 0 {
		cfg.BonusPerSection = DefaultBonusPerSection
	}
	if cfg.BonusCap == 0 {
		cfg.BonusCap = DefaultBonusCap
	}
	if cfg.RegressionThreshold == 0 {
		cfg.RegressionThreshold = gates.DefaultRegressionThreshold
	}
	if cfg.RegressionThreshold < 0 {
		return nil, fmt.Errorf("regression threshold must be non-negative, got %.2f", cfg.RegressionThreshold)
	}
	if cfg.MediumWeight == 0 {
		cfg.MediumWeight = DefaultMediumWeight
	}
	if cfg.HighWeight == 0 {
		cfg.HighWeight = DefaultHighWeight
	}
	if cfg.MediumWeight < 0 || cfg.MediumWeight > 1 || cfg.HighWeight < 0 || cfg.HighWeight > 1 {
		return nil, fmt.Errorf("judge weights must be within [0,1], got %.2f/%.2f", cfg.MediumWeight, cfg.HighWeight)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{cfg: cfg, logger: logger.With("component", "validator")}, nil
}

// Validate implements ScoreValidator.
func (v *Validator) Validate(ctx context.Context, prev, cur *types.Document, category types.Category, prevScore float64) Validation {
	diff := Diff(prev, cur)
	out := Validation{NewScore: prevScore, Diff: diff}

	a, err := v.cfg.Assessor.Assess(ctx, cur, category)
	if err == nil && a == nil {
		err = fmt.Errorf("assessor returned no assessment")
	}
	if err != nil {
		v.logger.Warn("validation assessment failed, treating as no progress",
			"category", category, "error", err)
		out.Err = err
		return out
	}

	score := types.ClampScore(a.OverallScore)
	out.Assessment = a
	out.PrimaryScore = score

	if diff.RealChange() && score <= prevScore {
		if v.cfg.Judge != nil {
			score = v.blend(ctx, prev, cur, category, score, &out)
		}
		// a real regression stays visible to the gate
		if score <= prevScore && out.PrimaryScore >= prevScore-v.cfg.RegressionThreshold {
			changed := float64(diff.Changed + diff.Added)
			bonus := math.Min(v.cfg.BonusCap, v.cfg.BonusPerSection*changed)
			boosted := types.ClampScore(score + bonus)
			out.BonusApplied = boosted - score
			score = boosted
		}
	}

	out.NewScore = score
	out.ScoreChange = score - prevScore
	return out
}

func (v *Validator) blend(ctx context.Context, prev, cur *types.Document, category types.Category, primary float64, out *Validation) float64 {
	j, err := v.cfg.Judge.Judge(ctx, prev, cur, category)
	if err != nil || j == nil {
		v.logger.Warn("secondary judgment unavailable", "category", category, "error", err)
		return primary
	}
	out.Confidence = j.Confidence
	out.JudgeScore = types.ClampScore(j.Score)

	var w float64
	switch j.Confidence {
	case types.ConfidenceMedium:
		w = v.cfg.MediumWeight
	case types.ConfidenceHigh:
		w = v.cfg.HighWeight
	default:
		return primary
	}
	out.Blended = true
	return types.ClampScore((1-w)*primary + w*out.JudgeScore)
}

// StructuralDiff is a cheap section-level comparison keyed by section id.
type StructuralDiff struct {
	Changed           int
	Unchanged         int
	Added             int
	Removed           int
	NetLengthDelta    int // in runes of section content
	DiffLines         int
	ChangedSectionIDs []string
	AddedSectionIDs   []string
}

// RealChange reports whether at least one section changed or was added and
// the total length moved.
func (d StructuralDiff) RealChange() bool {
	return d.Changed+d.Added > 0 && d.NetLengthDelta != 0
}

// Diff compares prev and cur section by section.
func Diff(prev, cur *types.Document) StructuralDiff {
	var d StructuralDiff
	before := make(map[string]*types.Section)
	if prev != nil {
		for i := range prev.Sections {
			s := &prev.Sections[i]
			before[s.ID] = s
			d.NetLengthDelta -= utf8.RuneCountInString(s.Content)
		}
	}
	seen := make(map[string]bool)
	if cur != nil {
		for _, s := range cur.Sections {
			seen[s.ID] = true
			d.NetLengthDelta += utf8.RuneCountInString(s.Content)
			old, ok := before[s.ID]
			switch {
			case !ok:
				d.Added++
				d.AddedSectionIDs = append(d.AddedSectionIDs, s.ID)
				d.DiffLines += countLines(s.Content)
			case old.Content != s.Content || old.Title != s.Title:
				d.Changed++
				d.ChangedSectionIDs = append(d.ChangedSectionIDs, s.ID)
				d.DiffLines += countDiffLines(old.Content, s.Content)
			default:
				d.Unchanged++
			}
		}
	}
	for id := range before {
		if !seen[id] {
			d.Removed++
		}
	}
	return d
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	return strings.Count(text, "\n") + 1
}

func countDiffLines(prev, current string) int {
	// line-by-line positional comparison; good enough for metrics
	prevLines := strings.Split(prev, "\n")
	currentLines := strings.Split(current, "\n")

	maxLines := max(len(prevLines), len(currentLines))
	diffCount := 0

	for i := 0; i < maxLines; i++ {
		prevLine := ""
		currentLine := ""
		if i < len(prevLines) {
			prevLine = strings.TrimSpace(prevLines[i])
		}
		if i < len(currentLines) {
			currentLine = strings.TrimSpace(currentLines[i])
		}
		if prevLine != currentLine {
			diffCount++
		}
	}

	return diffCount
}
