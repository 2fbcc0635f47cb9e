package contextbudget

import (
	"strings"

	"github.com/steveyegge/quill/internal/types"
)

// EditContext is the smallest useful view for rewriting one section.
type EditContext struct {
	Target       types.Section
	PreviousTail string // end of the preceding section, empty for the first
	NextHead     string // start of the following section, empty for the last
	Characters   []types.Character
	World        []types.WorldEntry
	Constraints  []string
	Estimate     int
}

// MinimalContextForEdit builds the edit view for section within doc. The
// section is looked up by id; if it is not part of doc only the section
// itself and the entity selection are returned.
func (m *Manager) MinimalContextForEdit(section types.Section, doc *types.Document) EditContext {
	ec := EditContext{Target: section.Clone()}
	if doc == nil {
		ec.Estimate = m.editCost(ec)
		return ec
	}
	ec.Constraints = append([]string(nil), doc.Constraints...)

	if idx := doc.IndexOfSection(section.ID); idx >= 0 {
		if idx > 0 {
			ec.PreviousTail = lastRunes(doc.Sections[idx-1].Content, m.cfg.EditTailChars)
		}
		if idx < len(doc.Sections)-1 {
			ec.NextHead = firstRunes(doc.Sections[idx+1].Content, m.cfg.EditHeadChars)
		}
	}

	combined := strings.ToLower(strings.Join([]string{
		section.Title, section.Content, ec.PreviousTail, ec.NextHead,
	}, "\n"))

	for _, c := range doc.Characters {
		if mentions(combined, c.Name) {
			c.Attributes = cloneAttrs(c.Attributes)
			ec.Characters = append(ec.Characters, c)
		}
	}
	if len(ec.Characters) == 0 {
		ec.Characters = fallbackCharacters(doc, m.cfg.MinimalEntityCap)
	}

	for _, w := range doc.World {
		if len(ec.World) == m.cfg.MinimalWorldCap {
			break
		}
		if IsEssentialWorldCategory(w.Category) {
			ec.World = append(ec.World, w)
		}
	}

	ec.Estimate = m.editCost(ec)
	return ec
}

// fallbackCharacters is the primary character plus the first n others.
func fallbackCharacters(doc *types.Document, n int) []types.Character {
	var out []types.Character
	primary := doc.PrimaryCharacter()
	if primary != nil {
		p := *primary
		p.Attributes = cloneAttrs(p.Attributes)
		out = append(out, p)
	}
	added := 0
	for _, c := range doc.Characters {
		if added == n {
			break
		}
		if primary != nil && c.ID == primary.ID {
			continue
		}
		c.Attributes = cloneAttrs(c.Attributes)
		out = append(out, c)
		added++
	}
	return out
}

func (m *Manager) editCost(ec EditContext) int {
	n := m.cfg.InstructionOverhead
	n += m.sectionCost(ec.Target, true)
	n += m.est.Estimate(ec.PreviousTail) + m.est.Estimate(ec.NextHead)
	for _, c := range ec.Characters {
		n += m.characterCost(c)
	}
	for _, w := range ec.World {
		n += m.worldCost(w)
	}
	if len(ec.Constraints) > 0 {
		n += m.est.Estimate(strings.Join(ec.Constraints, "\n"))
	}
	return n
}

func lastRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

func firstRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
