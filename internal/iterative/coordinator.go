package iterative

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/steveyegge/quill/internal/events"
	"github.com/steveyegge/quill/internal/types"
	"golang.org/x/sync/errgroup"
)

// Order selects how the coordinator schedules categories.
type Order string

const (
	// OrderSequential runs categories in the given order, threading documents
	OrderSequential Order = "sequential"
	// OrderByScore runs the weakest categories first
	OrderByScore Order = "by-score"
	// OrderParallel runs categories concurrently on copies and merges
	OrderParallel Order = "parallel"
)

// ParseOrder maps user input onto an Order. Empty input is sequential.
func ParseOrder(s string) (Order, error) {
	switch Order(strings.ToLower(strings.TrimSpace(s))) {
	case "", OrderSequential:
		return OrderSequential, nil
	case OrderByScore, "by_score", "score":
		return OrderByScore, nil
	case OrderParallel:
		return OrderParallel, nil
	}
	return "", fmt.Errorf("unknown order %q (want sequential, by-score or parallel)", s)
}

// Coordinator defaults.
const (
	DefaultStrongSuccessThreshold = 10.0
	DefaultMaxParallel            = 4
)

// CoordinatorOptions configures one multi-category run.
type CoordinatorOptions struct {
	Order Order

	// StopOnStrongSuccess skips the remaining categories once one improves
	// by more than StrongSuccessThreshold. Ignored in parallel order.
	StopOnStrongSuccess    bool
	StrongSuccessThreshold float64

	// TargetScore overrides the controller's target when positive.
	TargetScore float64

	// MaxParallel bounds concurrent runs in parallel order.
	MaxParallel int

	Observer events.Observer
}

// MultiResult is the outcome of a multi-category run.
type MultiResult struct {
	// PerCategory holds one result per category that ran, in run order.
	PerCategory []*Result
	// Order is the category order actually used.
	Order []types.Category
	// Document is the combined output document.
	Document         *types.Document
	TotalImprovement float64
	Skipped          []types.Category
	// Success is true when every category that ran succeeded.
	Success  bool
	Duration time.Duration
}

// Result returns the run for category, or nil.
func (m *MultiResult) Result(category types.Category) *Result {
	for _, r := range m.PerCategory {
		if r.Category == category {
			return r
		}
	}
	return nil
}

// Coordinator runs a Controller across several categories.
type Coordinator struct {
	controller *Controller
	logger     *slog.Logger
}

// NewCoordinator creates a coordinator over controller.
func NewCoordinator(controller *Controller) (*Coordinator, error) {
	if controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	return &Coordinator{
		controller: controller,
		logger:     controller.logger.With("component", "coordinator"),
	}, nil
}

// Run optimizes doc for each category. doc is never modified.
func (c *Coordinator) Run(ctx context.Context, doc *types.Document, categories []types.Category, opts CoordinatorOptions) (*MultiResult, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	if len(categories) == 0 {
		return nil, fmt.Errorf("no categories given")
	}
	seen := make(map[types.Category]bool, len(categories))
	for _, cat := range categories {
		if !cat.IsValid() {
			return nil, fmt.Errorf("%w: %q", types.ErrUnknownCategory, cat)
		}
		if seen[cat] {
			return nil, fmt.Errorf("category %s given more than once", cat)
		}
		seen[cat] = true
	}
	if opts.Order == "" {
		opts.Order = OrderSequential
	}
	if opts.StrongSuccessThreshold <= 0 {
		opts.StrongSuccessThreshold = DefaultStrongSuccessThreshold
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultMaxParallel
	}

	start := time.Now()
	var out *MultiResult
	switch opts.Order {
	case OrderSequential:
		out = c.sequential(ctx, doc, append([]types.Category(nil), categories...), opts)
	case OrderByScore:
		out = c.sequential(ctx, doc, c.byScore(ctx, doc, categories), opts)
	case OrderParallel:
		if opts.StopOnStrongSuccess {
			c.logger.Warn("early stop is ignored in parallel order")
		}
		out = c.parallel(ctx, doc, categories, opts)
	default:
		return nil, fmt.Errorf("unknown order %q", opts.Order)
	}
	out.Duration = time.Since(start)

	c.logger.Info("multi-category optimization finished", "order", opts.Order,
		"categories", len(out.PerCategory), "skipped", len(out.Skipped),
		"total_improvement", out.TotalImprovement, "success", out.Success)
	return out, nil
}

func (c *Coordinator) runOptions(opts CoordinatorOptions) []RunOption {
	var ro []RunOption
	if opts.TargetScore > 0 {
		ro = append(ro, WithTargetScore(opts.TargetScore))
	}
	if opts.Observer != nil {
		ro = append(ro, WithObserver(opts.Observer))
	}
	return ro
}

func (c *Coordinator) sequential(ctx context.Context, doc *types.Document, order []types.Category, opts CoordinatorOptions) *MultiResult {
	out := &MultiResult{Order: order, Document: doc, Success: true}
	current := doc

	for i, cat := range order {
		if ctx.Err() != nil {
			out.Skipped = append(out.Skipped, order[i:]...)
			out.Success = false
			break
		}
		c.emit(opts.Observer, events.EventTypeCategoryStarted, cat,
			fmt.Sprintf("optimizing %s (%d/%d)", cat, i+1, len(order)))

		r := c.controller.Optimize(ctx, current, cat, c.runOptions(opts)...)
		out.PerCategory = append(out.PerCategory, r)
		if !r.Success {
			out.Success = false
			c.logger.Warn("category failed, continuing with previous document", "category", cat, "error", r.Err)
			continue
		}
		current = r.Document
		out.TotalImprovement += r.ScoreImprovement

		if opts.StopOnStrongSuccess && r.ScoreImprovement > opts.StrongSuccessThreshold {
			for _, skipped := range order[i+1:] {
				out.Skipped = append(out.Skipped, skipped)
				c.emit(opts.Observer, events.EventTypeCategorySkipped, skipped,
					fmt.Sprintf("skipped %s: %s improved by %.1f", skipped, cat, r.ScoreImprovement))
			}
			c.logger.Info("strong success, stopping early", "category", cat,
				"improvement", r.ScoreImprovement, "skipped", len(out.Skipped))
			break
		}
	}
	out.Document = current
	return out
}

// byScore assesses each category once and sorts ascending by score.
// Categories that could not be assessed go last, in input order.
func (c *Coordinator) byScore(ctx context.Context, doc *types.Document, categories []types.Category) []types.Category {
	scores := make(map[types.Category]float64, len(categories))
	for _, cat := range categories {
		scores[cat] = math.Inf(1)
		if ctx.Err() != nil {
			continue
		}
		a, err := c.controller.Assessor().Assess(ctx, doc, cat)
		if err != nil || a == nil {
			c.logger.Warn("could not assess category for ordering", "category", cat, "error", err)
			continue
		}
		scores[cat] = a.OverallScore
	}

	order := append([]types.Category(nil), categories...)
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] < scores[order[j]]
	})
	c.logger.Debug("category order by score", "order", order)
	return order
}

func (c *Coordinator) parallel(ctx context.Context, doc *types.Document, categories []types.Category, opts CoordinatorOptions) *MultiResult {
	results := make([]*Result, len(categories))

	var g errgroup.Group
	g.SetLimit(opts.MaxParallel)
	for i, cat := range categories {
		i, cat := i, cat
		g.Go(func() error {
			c.emit(opts.Observer, events.EventTypeCategoryStarted, cat, fmt.Sprintf("optimizing %s in parallel", cat))
			results[i] = c.controller.Optimize(ctx, doc.Clone(), cat, c.runOptions(opts)...)
			return nil
		})
	}
	_ = g.Wait()

	out := &MultiResult{
		PerCategory: results,
		Order:       append([]types.Category(nil), categories...),
		Success:     true,
	}
	for _, r := range results {
		if !r.Success {
			out.Success = false
			continue
		}
		out.TotalImprovement += r.ScoreImprovement
	}
	out.Document = Merge(doc, results)
	return out
}

// Merge combines independently optimized copies of base. Successful
// results are ranked by score improvement (descending, ties by position).
// For each base section the first-ranked result that changed it wins.
// Sections a result added are placed after the nearest preceding base
// section in that result, and the document is then renumbered. Characters
// and world entries come from base.
func Merge(base *types.Document, results []*Result) *types.Document {
	merged := base.Clone()

	var ranked []*Result
	for _, r := range results {
		if r != nil && r.Success && r.Document != nil {
			ranked = append(ranked, r)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].ScoreImprovement > ranked[j].ScoreImprovement
	})

	baseIDs := make(map[string]bool, len(base.Sections))
	for _, s := range base.Sections {
		baseIDs[s.ID] = true
	}

	// first changer wins
	for i := range merged.Sections {
		orig := base.Sections[i]
		for _, r := range ranked {
			s := r.Document.SectionByID(orig.ID)
			if s != nil && (s.Content != orig.Content || s.Title != orig.Title) {
				merged.Sections[i] = s.Clone()
				break
			}
		}
	}

	// additions keyed by the base section they follow; "" is the front
	added := make(map[string][]types.Section)
	taken := make(map[string]bool, len(baseIDs))
	for id := range baseIDs {
		taken[id] = true
	}
	for _, r := range ranked {
		anchor := ""
		for _, s := range r.Document.Sections {
			if baseIDs[s.ID] {
				anchor = s.ID
				continue
			}
			if taken[s.ID] {
				continue
			}
			taken[s.ID] = true
			added[anchor] = append(added[anchor], s.Clone())
		}
	}

	if len(added) > 0 {
		sections := make([]types.Section, 0, len(merged.Sections)+len(taken)-len(baseIDs))
		sections = append(sections, added[""]...)
		for _, s := range merged.Sections {
			sections = append(sections, s)
			sections = append(sections, added[s.ID]...)
		}
		merged.Sections = sections
		merged.Renumber()
	}
	return merged
}

func (c *Coordinator) emit(obs events.Observer, t events.EventType, category types.Category, message string) {
	if obs == nil {
		return
	}
	obs.OnProgress(*events.NewSimpleEvent(t, "", string(category), 0, events.SeverityInfo, message, 0, 0))
}
