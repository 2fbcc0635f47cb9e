package types

import (
	"fmt"
	"strings"
)

// Category is a quality dimension the optimizer can improve. The set is
// closed; use NormalizeCategory to map user input onto it.
type Category string

const (
	CategoryStructure     Category = "structure"
	CategoryTension       Category = "tension"
	CategoryTheme         Category = "theme"
	CategoryHook          Category = "hook"
	CategoryPacing        Category = "pacing"
	CategoryCharacter     Category = "character"
	CategoryDialogue      Category = "dialogue"
	CategoryWorldbuilding Category = "worldbuilding"
	CategoryForeshadowing Category = "foreshadowing"
	CategoryStyle         Category = "style"
)

// AllCategories returns every category in a fixed order.
func AllCategories() []Category {
	return []Category{
		CategoryStructure,
		CategoryTension,
		CategoryTheme,
		CategoryHook,
		CategoryPacing,
		CategoryCharacter,
		CategoryDialogue,
		CategoryWorldbuilding,
		CategoryForeshadowing,
		CategoryStyle,
	}
}

// IsValid checks if the category is one of the known categories
func (c Category) IsValid() bool {
	switch c {
	case CategoryStructure, CategoryTension, CategoryTheme, CategoryHook, CategoryPacing,
		CategoryCharacter, CategoryDialogue, CategoryWorldbuilding, CategoryForeshadowing,
		CategoryStyle:
		return true
	}
	return false
}

func (c Category) String() string {
	return string(c)
}

// NormalizeCategory resolves a user-supplied name or alias.
func NormalizeCategory(name string) (Category, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer("-", "", "_", "", " ", "").Replace(key)

	switch key {
	case "structure", "plot", "arc", "plotstructure", "storyarc":
		return CategoryStructure, nil
	case "tension", "suspense", "conflict", "tensioncurve", "stakes":
		return CategoryTension, nil
	case "theme", "themes", "thematic", "thematicconsistency":
		return CategoryTheme, nil
	case "hook", "hooks", "opening", "openinghook", "hookstrength":
		return CategoryHook, nil
	case "pacing", "pace", "rhythm":
		return CategoryPacing, nil
	case "character", "characters", "characterization", "characterarc":
		return CategoryCharacter, nil
	case "dialogue", "dialog", "voice":
		return CategoryDialogue, nil
	case "worldbuilding", "world", "setting", "lore":
		return CategoryWorldbuilding, nil
	case "foreshadowing", "foreshadow", "setup", "payoff", "setuppayoff":
		return CategoryForeshadowing, nil
	case "style", "prose", "writing", "readability":
		return CategoryStyle, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, name)
}

// ParseCategories normalizes a comma-separated list, dropping duplicates
// while preserving order.
func ParseCategories(list string) ([]Category, error) {
	var out []Category
	seen := make(map[Category]bool)
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		c, err := NormalizeCategory(part)
		if err != nil {
			return nil, err
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no categories given")
	}
	return out, nil
}
