package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/steveyegge/quill/internal/types"
)

// Registry dispatches planning to one Planner per category.
type Registry struct {
	mu       sync.RWMutex
	planners map[types.Category]Planner
}

// NewRegistry builds a registry with a WeaknessPlanner for every category,
// all backed by assessor.
func NewRegistry(assessor types.Assessor) (*Registry, error) {
	r := &Registry{planners: make(map[types.Category]Planner)}
	profiles := DefaultProfiles()
	for _, c := range types.AllCategories() {
		profile, ok := profiles[c]
		if !ok {
			profile = Profile{Category: c}
		}
		p, err := NewWeaknessPlanner(profile, assessor)
		if err != nil {
			return nil, fmt.Errorf("planner for %s: %w", c, err)
		}
		r.planners[c] = p
	}
	return r, nil
}

// Register replaces the planner for c.
func (r *Registry) Register(c types.Category, p Planner) error {
	if !c.IsValid() {
		return fmt.Errorf("%w: %q", types.ErrUnknownCategory, c)
	}
	if p == nil {
		return fmt.Errorf("planner for %s is nil", c)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.planners[c] = p
	return nil
}

// Planner returns the planner registered for c.
func (r *Registry) Planner(c types.Category) (Planner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.planners[c]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownCategory, c)
	}
	return p, nil
}

// Plan implements Planner by dispatching on req.Category.
func (r *Registry) Plan(ctx context.Context, req PlanRequest) (*ImprovementStrategy, error) {
	p, err := r.Planner(req.Category)
	if err != nil {
		return nil, err
	}
	return p.Plan(ctx, req)
}
