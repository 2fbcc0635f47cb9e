package ai

import (
	"fmt"
	"strings"

	"github.com/steveyegge/quill/internal/contextbudget"
	"github.com/steveyegge/quill/internal/types"
)

// rubrics describe what each category is scored on. Every assessment and
// judgement prompt embeds the one for its category.
var rubrics = map[types.Category]string{
	types.CategoryStructure: "Act structure and escalation: clear setup, rising complications, a midpoint turn, " +
		"a crisis, and a climax that resolves the central question. Penalize sagging middles and missing turns.",
	types.CategoryTension: "Scene-level tension: stakes are explicit, obstacles are concrete, outcomes stay in doubt, " +
		"and chapters end on unresolved pressure rather than release.",
	types.CategoryTheme: "Thematic coherence: a central idea is dramatized through choices and consequences, " +
		"recurring motifs reinforce it, and the ending answers it.",
	types.CategoryHook: "Opening and chapter hooks: the first page raises a question worth answering, and each " +
		"chapter opening and ending pulls the reader forward.",
	types.CategoryPacing: "Pacing: scene length matches importance, summary and scene alternate deliberately, " +
		"and no stretch stalls on repetition or exposition.",
	types.CategoryCharacter: "Character: the protagonist wants something specific, changes under pressure, and " +
		"secondary characters have distinct motives and voices.",
	types.CategoryDialogue: "Dialogue: lines carry subtext and conflict, speakers are distinguishable without tags, " +
		"and exposition is not delivered as conversation.",
	types.CategoryWorldbuilding: "Worldbuilding: rules are consistent, setting details are specific and sensory, " +
		"and the world constrains what characters can do.",
	types.CategoryForeshadowing: "Foreshadowing: major reveals and reversals are planted earlier, setups are paid " +
		"off, and nothing important arrives unprepared.",
	types.CategoryStyle: "Prose style: precise word choice, varied sentence rhythm, controlled point of view, " +
		"and no clichés or filler.",
}

// Rubric returns the scoring guidance for c.
func Rubric(c types.Category) string {
	if r, ok := rubrics[c]; ok {
		return r
	}
	return "General craft quality for " + string(c) + "."
}

func writeDocument(b *strings.Builder, doc *types.Document) {
	fmt.Fprintf(b, "TITLE: %s\n", doc.Title)
	if doc.Genre != "" {
		fmt.Fprintf(b, "GENRE: %s\n", doc.Genre)
	}
	writeConstraints(b, doc.Constraints)
	writeEntities(b, doc.Characters, doc.World)
	b.WriteString("\nSECTIONS:\n")
	for _, s := range doc.Sections {
		fmt.Fprintf(b, "\n### Section %d: %s\n%s\n", s.Number, s.Title, s.Content)
	}
}

func writeConstraints(b *strings.Builder, constraints []string) {
	if len(constraints) == 0 {
		return
	}
	b.WriteString("\nCONSTRAINTS (must be respected):\n")
	for _, c := range constraints {
		fmt.Fprintf(b, "- %s\n", c)
	}
}

func writeEntities(b *strings.Builder, chars []types.Character, world []types.WorldEntry) {
	if len(chars) > 0 {
		b.WriteString("\nCHARACTERS:\n")
		for _, c := range chars {
			fmt.Fprintf(b, "- %s", c.Name)
			if c.Primary {
				b.WriteString(" (protagonist)")
			}
			if c.Notes != "" {
				fmt.Fprintf(b, ": %s", c.Notes)
			}
			b.WriteString("\n")
		}
	}
	if len(world) > 0 {
		b.WriteString("\nWORLD:\n")
		for _, w := range world {
			fmt.Fprintf(b, "- [%s] %s: %s\n", w.Category, w.Title, w.Content)
		}
	}
}

func buildAssessmentPrompt(doc *types.Document, category types.Category, targetScore float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a developmental editor scoring a manuscript for %s.\n\n", category)
	fmt.Fprintf(&b, "RUBRIC:\n%s\n\n", Rubric(category))
	writeDocument(&b, doc)
	fmt.Fprintf(&b, `
Score the manuscript from 0 to 100 for %s only (target: %.0f). Identify the weaknesses
holding the score down. Attribute each weakness to the section numbers it affects when
possible; leave affected_sections empty for whole-book problems.

Respond with ONLY a JSON object:
{
  "overall_score": 0-100,
  "summary": "one paragraph",
  "weaknesses": [
    {
      "kind": "short snake_case label",
      "description": "what is wrong",
      "severity": "critical|high|medium|low",
      "current_score": 0-100,
      "target_score": 0-100,
      "affected_sections": [1, 2],
      "suggestion": "how to fix it"
    }
  ]
}
`, category, targetScore)
	return b.String()
}

type rewriteMode int

const (
	modeEdit rewriteMode = iota
	modeRegenerate
)

func buildRewritePrompt(ec contextbudget.EditContext, category types.Category, mode rewriteMode, instruction string) string {
	var b strings.Builder
	switch mode {
	case modeRegenerate:
		fmt.Fprintf(&b, "You are rewriting one section of a novel from scratch to improve its %s.\n\n", category)
	default:
		fmt.Fprintf(&b, "You are revising one section of a novel to improve its %s.\n\n", category)
	}
	fmt.Fprintf(&b, "RUBRIC:\n%s\n\nINSTRUCTION:\n%s\n", Rubric(category), instruction)
	writeConstraints(&b, ec.Constraints)
	writeEntities(&b, ec.Characters, ec.World)
	if ec.PreviousTail != "" {
		fmt.Fprintf(&b, "\nEND OF PREVIOUS SECTION:\n...%s\n", ec.PreviousTail)
	}
	fmt.Fprintf(&b, "\nSECTION %d: %s\n%s\n", ec.Target.Number, ec.Target.Title, ec.Target.Content)
	if ec.NextHead != "" {
		fmt.Fprintf(&b, "\nSTART OF NEXT SECTION:\n%s...\n", ec.NextHead)
	}
	b.WriteString(`
Keep continuity with the surrounding sections. Respond with ONLY a JSON object:
{"title": "section title", "content": "the full revised section text", "summary": "one sentence"}
`)
	return b.String()
}

func buildInsertPrompt(doc *types.Document, after, count int, purpose string, category types.Category) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are adding %d new section(s) to a novel to improve its %s.\n\n", count, category)
	fmt.Fprintf(&b, "RUBRIC:\n%s\n\nPURPOSE:\n%s\n", Rubric(category), purpose)
	writeConstraints(&b, doc.Constraints)
	writeEntities(&b, doc.Characters, doc.World)

	if prev := doc.SectionByNumber(after); prev != nil {
		fmt.Fprintf(&b, "\nTHE NEW SECTIONS FOLLOW SECTION %d: %s\n%s\n", prev.Number, prev.Title, lastChars(prev.Content, 1500))
	} else {
		b.WriteString("\nTHE NEW SECTIONS OPEN THE BOOK.\n")
	}
	if next := doc.SectionByNumber(after + 1); next != nil {
		fmt.Fprintf(&b, "\nTHEY PRECEDE SECTION %d: %s\n%s\n", next.Number, next.Title, firstChars(next.Content, 1500))
	}
	fmt.Fprintf(&b, `
Write exactly %d section(s). Respond with ONLY a JSON object:
{"sections": [{"title": "section title", "content": "full section text", "summary": "one sentence"}]}
`, count)
	return b.String()
}

func buildJudgePrompt(previous, current *types.Document, category types.Category, changed []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are comparing two drafts of a novel for %s.\n\n", category)
	fmt.Fprintf(&b, "RUBRIC:\n%s\n", Rubric(category))

	changedSet := make(map[string]bool, len(changed))
	for _, id := range changed {
		changedSet[id] = true
	}
	b.WriteString("\nCHANGED SECTIONS (before / after):\n")
	for _, s := range current.Sections {
		if !changedSet[s.ID] {
			continue
		}
		before := "(new section)"
		if p := previous.SectionByID(s.ID); p != nil {
			before = p.Content
		}
		fmt.Fprintf(&b, "\n### Section %d: %s\nBEFORE:\n%s\nAFTER:\n%s\n", s.Number, s.Title, before, s.Content)
	}
	b.WriteString(`
Score the AFTER draft from 0 to 100 for this category as a whole, and say how confident
you are in that score. Respond with ONLY a JSON object:
{"score": 0-100, "confidence": "low|medium|high", "summary": "one paragraph"}
`)
	return b.String()
}

func lastChars(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return "..." + string(r[len(r)-n:])
}

func firstChars(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
