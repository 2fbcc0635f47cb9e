package strategy

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/steveyegge/quill/internal/types"
)

// ErrInvalidSelector is returned when a selector cannot be resolved.
var ErrInvalidSelector = errors.New("invalid section selector")

// SectionFilter is an allow-list of section numbers.
type SectionFilter struct {
	numbers map[int]bool
}

// NewSectionFilter builds a filter from section numbers.
func NewSectionFilter(numbers ...int) *SectionFilter {
	f := &SectionFilter{numbers: make(map[int]bool, len(numbers))}
	for _, n := range numbers {
		f.numbers[n] = true
	}
	return f
}

// Allows reports whether section n passes. A nil filter allows everything.
func (f *SectionFilter) Allows(n int) bool {
	if f == nil {
		return true
	}
	return f.numbers[n]
}

// Numbers returns the allowed numbers in ascending order.
func (f *SectionFilter) Numbers() []int {
	if f == nil {
		return nil
	}
	out := make([]int, 0, len(f.numbers))
	for n := range f.numbers {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Len is the number of allowed sections.
func (f *SectionFilter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.numbers)
}

// SectionRange is an inclusive range of section numbers.
type SectionRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// SectionSelector picks sections by id, by number, or by contiguous range.
// Exactly one of the fields should be set; when several are, their
// resolved sets are unioned.
type SectionSelector struct {
	IDs     []string      `json:"ids,omitempty"`
	Numbers []int         `json:"numbers,omitempty"`
	Range   *SectionRange `json:"range,omitempty"`
}

// IsZero reports whether nothing is selected.
func (s SectionSelector) IsZero() bool {
	return len(s.IDs) == 0 && len(s.Numbers) == 0 && s.Range == nil
}

// Resolve maps the selector onto doc's section numbers. Unknown ids or
// numbers, inverted ranges and empty results are errors.
func (s SectionSelector) Resolve(doc *types.Document) (*SectionFilter, error) {
	if s.IsZero() {
		return nil, fmt.Errorf("%w: nothing selected", ErrInvalidSelector)
	}
	var numbers []int
	for _, id := range s.IDs {
		sec := doc.SectionByID(id)
		if sec == nil {
			return nil, fmt.Errorf("%w: no section with id %q", ErrInvalidSelector, id)
		}
		numbers = append(numbers, sec.Number)
	}
	for _, n := range s.Numbers {
		if doc.SectionByNumber(n) == nil {
			return nil, fmt.Errorf("%w: no section number %d", ErrInvalidSelector, n)
		}
		numbers = append(numbers, n)
	}
	if s.Range != nil {
		if s.Range.From > s.Range.To {
			return nil, fmt.Errorf("%w: range %d-%d is inverted", ErrInvalidSelector, s.Range.From, s.Range.To)
		}
		matched := false
		for _, sec := range doc.Sections {
			if sec.Number >= s.Range.From && sec.Number <= s.Range.To {
				numbers = append(numbers, sec.Number)
				matched = true
			}
		}
		if !matched {
			return nil, fmt.Errorf("%w: range %d-%d matches no sections", ErrInvalidSelector, s.Range.From, s.Range.To)
		}
	}
	return NewSectionFilter(numbers...), nil
}

// ParseSelector parses "3-7" (range), "1,4,9" (numbers) or "ids:a,b" (ids).
func ParseSelector(v string) (SectionSelector, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return SectionSelector{}, fmt.Errorf("%w: empty", ErrInvalidSelector)
	}

	if rest, ok := strings.CutPrefix(v, "ids:"); ok {
		var ids []string
		for _, id := range strings.Split(rest, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return SectionSelector{}, fmt.Errorf("%w: no ids in %q", ErrInvalidSelector, v)
		}
		return SectionSelector{IDs: ids}, nil
	}

	if from, to, ok := strings.Cut(v, "-"); ok && !strings.Contains(v, ",") {
		f, err1 := strconv.Atoi(strings.TrimSpace(from))
		t, err2 := strconv.Atoi(strings.TrimSpace(to))
		if err1 != nil || err2 != nil {
			return SectionSelector{}, fmt.Errorf("%w: bad range %q", ErrInvalidSelector, v)
		}
		return SectionSelector{Range: &SectionRange{From: f, To: t}}, nil
	}

	var numbers []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return SectionSelector{}, fmt.Errorf("%w: bad section number %q", ErrInvalidSelector, part)
		}
		numbers = append(numbers, n)
	}
	if len(numbers) == 0 {
		return SectionSelector{}, fmt.Errorf("%w: no numbers in %q", ErrInvalidSelector, v)
	}
	return SectionSelector{Numbers: numbers}, nil
}

// Filter returns a copy of s restricted to the allowed sections. Edit and
// regenerate actions must target an allowed section; insert actions must be
// adjacent to one. AffectedSections is recomputed and intersected with the
// allow-list. A nil filter returns an unrestricted copy.
func Filter(s *ImprovementStrategy, allow *SectionFilter) *ImprovementStrategy {
	if s == nil {
		return nil
	}
	out := s.Clone()
	if allow == nil {
		return out
	}

	out.EditActions = nil
	for _, a := range s.EditActions {
		if allow.Allows(a.SectionNumber) {
			out.EditActions = append(out.EditActions, a)
		}
	}
	out.RegenerateActions = nil
	for _, a := range s.RegenerateActions {
		if allow.Allows(a.SectionNumber) {
			out.RegenerateActions = append(out.RegenerateActions, a)
		}
	}
	out.InsertActions = nil
	for _, a := range s.InsertActions {
		if allow.Allows(a.AfterSection) || allow.Allows(a.AfterSection+1) {
			out.InsertActions = append(out.InsertActions, a)
		}
	}

	out.AffectedSections = affectedOf(out, allow)
	out.Type = out.DeriveType()
	out.ExpectedImprovement = ExpectedImprovement(out.CurrentScore, out.GoalScore, out.ActionCount())
	if s.ExpectedImprovement < out.ExpectedImprovement {
		out.ExpectedImprovement = s.ExpectedImprovement
	}
	return out
}
