package types

import (
	"fmt"
	"sort"
	"strings"
)

// Document is the long-form work under optimization: an ordered run of
// sections (chapters) plus the character and world records they draw on.
type Document struct {
	ID                 string       `json:"id" yaml:"id"`
	Title              string       `json:"title" yaml:"title"`
	Genre              string       `json:"genre,omitempty" yaml:"genre,omitempty"`
	Sections           []Section    `json:"sections" yaml:"sections"`
	Characters         []Character  `json:"characters,omitempty" yaml:"characters,omitempty"`
	World              []WorldEntry `json:"world,omitempty" yaml:"world,omitempty"`
	PrimaryCharacterID string       `json:"primary_character_id,omitempty" yaml:"primary_character_id,omitempty"`
	Constraints        []string     `json:"constraints,omitempty" yaml:"constraints,omitempty"` // injected into every view (style rules, canon)
}

// Section is one addressable unit of a document. ID is stable across
// optimization iterations; Number is the reading-order position.
type Section struct {
	ID      string            `json:"id" yaml:"id"`
	Number  int               `json:"number" yaml:"number"`
	Title   string            `json:"title" yaml:"title"`
	Content string            `json:"content" yaml:"content"`
	Summary string            `json:"summary,omitempty" yaml:"summary,omitempty"`
	Audit   map[string]string `json:"audit,omitempty" yaml:"audit,omitempty"`
}

// Character is a cast record.
type Character struct {
	ID         string            `json:"id" yaml:"id"`
	Name       string            `json:"name" yaml:"name"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Notes      string            `json:"notes,omitempty" yaml:"notes,omitempty"`
	Primary    bool              `json:"primary,omitempty" yaml:"primary,omitempty"`
}

// WorldEntry is a world-building record (magic system, geography, ...).
type WorldEntry struct {
	ID       string `json:"id" yaml:"id"`
	Category string `json:"category" yaml:"category"`
	Title    string `json:"title" yaml:"title"`
	Content  string `json:"content" yaml:"content"`
}

// Validate checks the section invariants: every section has a unique ID
// and, in reading order, section numbers strictly increase. The slice
// itself may be out of order; see Sorted.
func (d *Document) Validate() error {
	if d == nil {
		return ErrEmptyDocument
	}
	if len(d.Sections) == 0 {
		return ErrEmptyDocument
	}
	seen := make(map[string]bool, len(d.Sections))
	numbers := make([]int, len(d.Sections))
	for i, s := range d.Sections {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("section at index %d has no id", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate section id %q", s.ID)
		}
		seen[s.ID] = true
		numbers[i] = s.Number
	}
	sort.Ints(numbers)
	for i := 1; i < len(numbers); i++ {
		if numbers[i] == numbers[i-1] {
			return fmt.Errorf("duplicate section number %d", numbers[i])
		}
	}
	return nil
}

// Sorted reports whether sections are already in reading order.
func (d *Document) Sorted() bool {
	return sort.SliceIsSorted(d.Sections, func(i, j int) bool {
		return d.Sections[i].Number < d.Sections[j].Number
	})
}

// Clone returns an independent deep copy. Strings are immutable and are
// shared; every slice and map is copied.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	if d.Sections != nil {
		out.Sections = make([]Section, len(d.Sections))
		for i, s := range d.Sections {
			out.Sections[i] = s.Clone()
		}
	}
	if d.Characters != nil {
		out.Characters = make([]Character, len(d.Characters))
		for i, c := range d.Characters {
			c.Attributes = cloneMap(c.Attributes)
			out.Characters[i] = c
		}
	}
	if d.World != nil {
		out.World = append([]WorldEntry(nil), d.World...)
	}
	if d.Constraints != nil {
		out.Constraints = append([]string(nil), d.Constraints...)
	}
	return &out
}

// Clone returns a copy of the section with its own audit map.
func (s Section) Clone() Section {
	s.Audit = cloneMap(s.Audit)
	return s
}

// SortSections orders sections by number.
func (d *Document) SortSections() {
	sort.SliceStable(d.Sections, func(i, j int) bool {
		return d.Sections[i].Number < d.Sections[j].Number
	})
}

// Renumber assigns 1..N in slice order. IDs are untouched.
func (d *Document) Renumber() {
	for i := range d.Sections {
		d.Sections[i].Number = i + 1
	}
}

// SectionByNumber returns the section with the given number, or nil.
func (d *Document) SectionByNumber(n int) *Section {
	for i := range d.Sections {
		if d.Sections[i].Number == n {
			return &d.Sections[i]
		}
	}
	return nil
}

// SectionByID returns the section with the given id, or nil.
func (d *Document) SectionByID(id string) *Section {
	if i := d.IndexOfSection(id); i >= 0 {
		return &d.Sections[i]
	}
	return nil
}

// IndexOfSection returns the slice index of the section id, or -1.
func (d *Document) IndexOfSection(id string) int {
	for i := range d.Sections {
		if d.Sections[i].ID == id {
			return i
		}
	}
	return -1
}

// PrimaryCharacter resolves the protagonist: explicit id, then the Primary
// flag, then the first character listed.
func (d *Document) PrimaryCharacter() *Character {
	if len(d.Characters) == 0 {
		return nil
	}
	if d.PrimaryCharacterID != "" {
		for i := range d.Characters {
			if d.Characters[i].ID == d.PrimaryCharacterID {
				return &d.Characters[i]
			}
		}
	}
	for i := range d.Characters {
		if d.Characters[i].Primary {
			return &d.Characters[i]
		}
	}
	return &d.Characters[0]
}

// WordCount counts whitespace-separated words across all section content.
func (d *Document) WordCount() int {
	total := 0
	for _, s := range d.Sections {
		total += len(strings.Fields(s.Content))
	}
	return total
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
