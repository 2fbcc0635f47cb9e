package strategy

import (
	"github.com/steveyegge/quill/internal/types"
)

// Profile is the category-specific data a WeaknessPlanner maps with.
type Profile struct {
	Category types.Category
	// SeverityThreshold is the lowest severity that produces actions.
	SeverityThreshold types.Severity
	// ImprovementTypes maps a weakness kind to the edit tag sent to the
	// executor.
	ImprovementTypes       map[string]string
	DefaultImprovementType string
	// Placements decides where unattributed weaknesses insert content.
	Placements       map[string]Placement
	DefaultPlacement Placement
	// Regions decides which part of a section an edit targets.
	Regions       map[string]Region
	DefaultRegion Region
	// RegenerateGap: a critical weakness whose sub-score gap is at least this
	// rewrites its sections instead of editing them. Zero disables.
	RegenerateGap float64
	// InsertCount is the number of sections per insert action (default 1).
	InsertCount int
}

func (p Profile) improvementType(kind string) string {
	if t, ok := p.ImprovementTypes[kind]; ok {
		return t
	}
	if kind != "" {
		return kind
	}
	return p.DefaultImprovementType
}

func (p Profile) region(kind string) Region {
	if r, ok := p.Regions[kind]; ok {
		return r
	}
	return p.DefaultRegion
}

func (p Profile) insertPosition(kind string, doc *types.Document) int {
	placement, ok := p.Placements[kind]
	if !ok {
		placement = p.DefaultPlacement
	}
	return InsertAfter(placement, doc)
}

func (p Profile) insertCount() int {
	if p.InsertCount <= 0 {
		return 1
	}
	return p.InsertCount
}

func (p Profile) shouldRegenerate(w types.Weakness) bool {
	return p.RegenerateGap > 0 &&
		w.Severity == types.SeverityCritical &&
		w.Gap() >= p.RegenerateGap
}

// DefaultProfiles returns one profile per category.
func DefaultProfiles() map[types.Category]Profile {
	return map[types.Category]Profile{
		types.CategoryStructure: {
			Category:          types.CategoryStructure,
			SeverityThreshold: types.SeverityMedium,
			ImprovementTypes: map[string]string{
				"missing_inciting_incident": "inciting_incident",
				"sagging_middle":            "midpoint_reversal",
				"weak_climax":               "climax_payoff",
				"unresolved_arc":            "arc_resolution",
			},
			Placements: map[string]Placement{
				"missing_inciting_incident": PlacementEstablishing,
				"sagging_middle":            PlacementMidpoint,
				"weak_climax":               PlacementClimax,
				"unresolved_arc":            PlacementResolution,
			},
			DefaultPlacement: PlacementMidpoint,
			DefaultRegion:    RegionThroughout,
			RegenerateGap:    40,
		},
		types.CategoryTension: {
			Category:          types.CategoryTension,
			SeverityThreshold: types.SeverityMedium,
			ImprovementTypes: map[string]string{
				"flat_tension":        "escalation",
				"low_stakes":          "raise_stakes",
				"missing_cliffhanger": "cliffhanger",
				"premature_release":   "delay_release",
			},
			Placements: map[string]Placement{
				"flat_tension": PlacementMidpoint,
				"low_stakes":   PlacementEstablishing,
				"weak_climax":  PlacementClimax,
			},
			Regions: map[string]Region{
				"missing_cliffhanger": RegionEnd,
				"premature_release":   RegionMiddle,
			},
			DefaultPlacement: PlacementMidpoint,
			DefaultRegion:    RegionThroughout,
			RegenerateGap:    40,
		},
		types.CategoryTheme: {
			Category:          types.CategoryTheme,
			SeverityThreshold: types.SeverityMedium,
			ImprovementTypes: map[string]string{
				"no_primary_theme": "theme_establishment",
				"theme_drift":      "theme_reinforcement",
				"unresolved_theme": "theme_resolution",
			},
			Placements: map[string]Placement{
				"no_primary_theme": PlacementEstablishing,
				"unresolved_theme": PlacementResolution,
			},
			DefaultPlacement: PlacementEstablishing,
			DefaultRegion:    RegionThroughout,
		},
		types.CategoryHook: {
			Category:          types.CategoryHook,
			SeverityThreshold: types.SeverityMedium,
			ImprovementTypes: map[string]string{
				"weak_opening_line": "opening_line",
				"slow_start":        "cold_open",
				"no_question":       "story_question",
				"weak_chapter_end":  "chapter_hook",
			},
			Regions: map[string]Region{
				"weak_opening_line": RegionBeginning,
				"slow_start":        RegionBeginning,
				"no_question":       RegionBeginning,
				"weak_chapter_end":  RegionEnd,
			},
			DefaultPlacement: PlacementEstablishing,
			DefaultRegion:    RegionBeginning,
			RegenerateGap:    50,
		},
		types.CategoryPacing: {
			Category:          types.CategoryPacing,
			SeverityThreshold: types.SeverityMedium,
			ImprovementTypes: map[string]string{
				"info_dump":    "compress_exposition",
				"rushed_scene": "expand_beat",
				"repetitive":   "trim_repetition",
				"no_breathing": "add_reflection",
			},
			Placements: map[string]Placement{
				"no_breathing": PlacementMidpoint,
			},
			Regions: map[string]Region{
				"info_dump": RegionBeginning,
			},
			DefaultPlacement: PlacementMidpoint,
			DefaultRegion:    RegionThroughout,
		},
		types.CategoryCharacter: {
			Category:          types.CategoryCharacter,
			SeverityThreshold: types.SeverityMedium,
			ImprovementTypes: map[string]string{
				"flat_protagonist":   "interiority",
				"unclear_motivation": "motivation",
				"missing_arc_beat":   "arc_beat",
				"inconsistent_voice": "voice_consistency",
			},
			Placements: map[string]Placement{
				"missing_arc_beat":   PlacementMidpoint,
				"unclear_motivation": PlacementEstablishing,
			},
			DefaultPlacement: PlacementEstablishing,
			DefaultRegion:    RegionThroughout,
		},
		types.CategoryDialogue: {
			Category:          types.CategoryDialogue,
			SeverityThreshold: types.SeverityMedium,
			ImprovementTypes: map[string]string{
				"on_the_nose":       "subtext",
				"same_voice":        "voice_differentiation",
				"exposition_speech": "dialogue_exposition",
			},
			DefaultPlacement: PlacementMidpoint,
			DefaultRegion:    RegionThroughout,
		},
		types.CategoryWorldbuilding: {
			Category:          types.CategoryWorldbuilding,
			SeverityThreshold: types.SeverityMedium,
			ImprovementTypes: map[string]string{
				"rules_unclear":      "establish_rules",
				"inconsistent_rules": "rule_consistency",
				"thin_setting":       "sensory_setting",
			},
			Placements: map[string]Placement{
				"rules_unclear": PlacementEstablishing,
			},
			Regions: map[string]Region{
				"thin_setting": RegionBeginning,
			},
			DefaultPlacement: PlacementEstablishing,
			DefaultRegion:    RegionThroughout,
		},
		types.CategoryForeshadowing: {
			Category:          types.CategoryForeshadowing,
			SeverityThreshold: types.SeverityMedium,
			ImprovementTypes: map[string]string{
				"unplanted_payoff": "plant_setup",
				"dangling_setup":   "pay_off_setup",
				"too_obvious":      "subtle_hint",
			},
			Placements: map[string]Placement{
				"unplanted_payoff": PlacementEstablishing,
				"dangling_setup":   PlacementClimax,
			},
			DefaultPlacement: PlacementEstablishing,
			DefaultRegion:    RegionThroughout,
		},
		types.CategoryStyle: {
			Category:          types.CategoryStyle,
			SeverityThreshold: types.SeverityHigh,
			ImprovementTypes: map[string]string{
				"purple_prose":  "tighten_prose",
				"filter_words":  "remove_filters",
				"passive_voice": "active_voice",
			},
			DefaultPlacement: PlacementMidpoint,
			DefaultRegion:    RegionThroughout,
		},
	}
}
