package strategy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/steveyegge/quill/internal/types"
)

// PlanRequest is the input to a planner.
type PlanRequest struct {
	Document    *types.Document
	Category    types.Category
	TargetScore float64
	// Filter restricts actions to an allow-list of sections (nil = all).
	Filter *SectionFilter
	// Assessment, when set for the same category, is reused instead of
	// assessing again.
	Assessment *types.WeaknessAssessment
}

// Planner turns a document and category into an improvement strategy.
// A nil strategy means nothing crossed the planner's threshold.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (*ImprovementStrategy, error)
}

// PlannerFunc adapts a function to the Planner interface.
type PlannerFunc func(ctx context.Context, req PlanRequest) (*ImprovementStrategy, error)

// Plan calls f(ctx, req).
func (f PlannerFunc) Plan(ctx context.Context, req PlanRequest) (*ImprovementStrategy, error) {
	return f(ctx, req)
}

// WeaknessPlanner maps assessed weaknesses onto actions using a Profile.
// Every category planner in the registry is one of these.
type WeaknessPlanner struct {
	profile  Profile
	assessor types.Assessor
	newID    func() string
}

// NewWeaknessPlanner creates a planner for profile backed by assessor.
func NewWeaknessPlanner(profile Profile, assessor types.Assessor) (*WeaknessPlanner, error) {
	if assessor == nil {
		return nil, fmt.Errorf("assessor is required")
	}
	if !profile.Category.IsValid() {
		return nil, fmt.Errorf("profile: %w: %q", types.ErrUnknownCategory, profile.Category)
	}
	if !profile.SeverityThreshold.IsValid() {
		profile.SeverityThreshold = types.SeverityMedium
	}
	if !profile.DefaultRegion.IsValid() {
		profile.DefaultRegion = RegionThroughout
	}
	if profile.DefaultPlacement == "" {
		profile.DefaultPlacement = PlacementEstablishing
	}
	if profile.DefaultImprovementType == "" {
		profile.DefaultImprovementType = string(profile.Category)
	}
	return &WeaknessPlanner{
		profile:  profile,
		assessor: assessor,
		newID:    func() string { return uuid.New().String() },
	}, nil
}

// Profile returns the planner's effective profile.
func (p *WeaknessPlanner) Profile() Profile {
	return p.profile
}

// Plan implements Planner.
func (p *WeaknessPlanner) Plan(ctx context.Context, req PlanRequest) (*ImprovementStrategy, error) {
	if req.Document == nil || len(req.Document.Sections) == 0 {
		return nil, types.ErrEmptyDocument
	}
	category := req.Category
	if category == "" {
		category = p.profile.Category
	}

	assessment := req.Assessment
	if assessment == nil || assessment.Category != category {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		assessment, err = p.assessor.Assess(ctx, req.Document, category)
		if err != nil {
			return nil, fmt.Errorf("assess %s: %w", category, err)
		}
	}

	target := req.TargetScore
	if target <= 0 {
		target = assessment.TargetScore
	}
	if assessment.OverallScore >= target {
		return nil, nil
	}

	s := p.build(req.Document, category, assessment, target)
	if req.Filter != nil {
		s = Filter(s, req.Filter)
	}
	if s.IsEmpty() {
		return nil, nil
	}
	return s, nil
}

// build applies the weakness-to-action mapping.
func (p *WeaknessPlanner) build(doc *types.Document, category types.Category, a *types.WeaknessAssessment, target float64) *ImprovementStrategy {
	s := &ImprovementStrategy{
		ID:           p.newID(),
		Category:     category,
		Priority:     types.SeverityLow,
		CurrentScore: a.OverallScore,
		GoalScore:    target,
	}

	type editKey struct {
		section string
		kind    string
	}
	type insertKey struct {
		after int
		kind  string
	}
	edits := make(map[editKey]bool)
	inserts := make(map[insertKey]bool)
	regenerated := make(map[string]bool)
	var rationale []string

	for _, w := range a.Weaknesses {
		if !w.Severity.AtLeast(p.profile.SeverityThreshold) {
			continue
		}
		if w.Severity.Rank() > s.Priority.Rank() {
			s.Priority = w.Severity
		}
		improvement := p.profile.improvementType(w.Kind)
		rationale = append(rationale, fmt.Sprintf("[%s] %s", w.Severity, w.Description))

		if len(w.AffectedSections) == 0 {
			after := p.profile.insertPosition(w.Kind, doc)
			key := insertKey{after: after, kind: improvement}
			if inserts[key] {
				continue
			}
			inserts[key] = true
			s.InsertActions = append(s.InsertActions, InsertAction{
				AfterSection: after,
				Count:        p.profile.insertCount(),
				Purpose:      describe(w),
			})
			continue
		}

		for _, n := range w.AffectedSections {
			sec := doc.SectionByNumber(n)
			if sec == nil {
				continue
			}
			if p.profile.shouldRegenerate(w) {
				if regenerated[sec.ID] {
					continue
				}
				regenerated[sec.ID] = true
				s.RegenerateActions = append(s.RegenerateActions, RegenerateAction{
					SectionID:     sec.ID,
					SectionNumber: sec.Number,
					Reason:        w.Description,
					Guidance:      w.Suggestion,
				})
				continue
			}
			key := editKey{section: sec.ID, kind: improvement}
			if edits[key] {
				continue
			}
			edits[key] = true
			s.EditActions = append(s.EditActions, EditAction{
				SectionID:       sec.ID,
				SectionNumber:   sec.Number,
				Region:          p.profile.region(w.Kind),
				ImprovementType: improvement,
				Description:     describe(w),
				Severity:        w.Severity,
			})
		}
	}

	// a regenerated section is rewritten whole; edits to it are moot
	kept := s.EditActions[:0]
	for _, e := range s.EditActions {
		if !regenerated[e.SectionID] {
			kept = append(kept, e)
		}
	}
	s.EditActions = kept

	sort.SliceStable(s.EditActions, func(i, j int) bool {
		return s.EditActions[i].SectionNumber < s.EditActions[j].SectionNumber
	})
	sort.SliceStable(s.RegenerateActions, func(i, j int) bool {
		return s.RegenerateActions[i].SectionNumber < s.RegenerateActions[j].SectionNumber
	})
	sort.SliceStable(s.InsertActions, func(i, j int) bool {
		return s.InsertActions[i].AfterSection < s.InsertActions[j].AfterSection
	})

	s.RecomputeAffected()
	s.Type = s.DeriveType()
	s.ExpectedImprovement = ExpectedImprovement(s.CurrentScore, s.GoalScore, s.ActionCount())
	s.Rationale = strings.Join(rationale, "\n")
	return s
}

func describe(w types.Weakness) string {
	if w.Suggestion == "" {
		return w.Description
	}
	return w.Description + ": " + w.Suggestion
}

// Placement names a structural position for inserted content.
type Placement string

const (
	PlacementEstablishing Placement = "establishing"
	PlacementMidpoint     Placement = "midpoint"
	PlacementClimax       Placement = "climax"
	PlacementResolution   Placement = "resolution"
)

// placementRatios are the [low, high] fractions through the document where
// each kind of beat belongs.
var placementRatios = map[Placement][2]float64{
	PlacementEstablishing: {0.20, 0.30},
	PlacementMidpoint:     {0.45, 0.55},
	PlacementClimax:       {0.85, 0.95},
	PlacementResolution:   {0.95, 1.00},
}

// Ratio returns the placement's [low, high] position ratio.
func (p Placement) Ratio() (low, high float64) {
	r, ok := placementRatios[p]
	if !ok {
		r = placementRatios[PlacementEstablishing]
	}
	return r[0], r[1]
}

// InsertAfter picks the section number new content should follow for
// placement p in doc: the section at the middle of the placement window.
func InsertAfter(p Placement, doc *types.Document) int {
	n := len(doc.Sections)
	if n == 0 {
		return 0
	}
	low, high := p.Ratio()
	idx := int(math.Round((low + high) / 2 * float64(n)))
	if idx < 1 {
		idx = 1
	}
	if idx > n {
		idx = n
	}
	return doc.Sections[idx-1].Number
}
