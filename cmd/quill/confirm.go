package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/steveyegge/quill/internal/gates"
	"github.com/steveyegge/quill/internal/iterative"
	"github.com/steveyegge/quill/internal/types"
)

// readlinePrompter implements gates.Prompter on a terminal line editor
type readlinePrompter struct{}

// Prompt reads one line. Ctrl+C and Ctrl+D answer "no".
func (readlinePrompter) Prompt(prompt string) (string, error) {
	cyan := color.New(color.FgCyan).SprintFunc()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          cyan(strings.TrimLeft(prompt, "\n")),
		InterruptPrompt: "^C",
		EOFPrompt:       "n",
	})
	if err != nil {
		return "", fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	line, err := rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
		return "n", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// confirmWrite asks whether the optimized document may be written to path.
// With autoApprove the question is skipped.
func confirmWrite(out io.Writer, prompter gates.Prompter, before, after *types.Document, path, summary string, autoApprove bool) (bool, error) {
	gate, err := gates.NewApprovalGate(&gates.ApprovalConfig{
		Summary:     fmt.Sprintf("%s\nOutput: %s", summary, path),
		Diff:        func(w io.Writer) error { return renderChanges(w, before, after) },
		Prompter:    prompter,
		Out:         out,
		AutoApprove: autoApprove,
	})
	if err != nil {
		return false, err
	}
	result := gate.Run()
	if result.Error != nil {
		return false, result.Error
	}
	return result.Passed, nil
}

// renderChanges lists the sections that changed or were added, with a
// short excerpt of the new text
func renderChanges(w io.Writer, before, after *types.Document) error {
	diff := iterative.Diff(before, after)
	if diff.Changed+diff.Added == 0 {
		fmt.Fprintln(w, "No sections changed.")
		return nil
	}
	yellow := color.New(color.FgYellow).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	fmt.Fprintf(w, "%d changed, %d added, %d unchanged (%d diff lines, %+d chars)\n",
		diff.Changed, diff.Added, diff.Unchanged, diff.DiffLines, diff.NetLengthDelta)

	show := func(label func(a ...interface{}) string, tag, id string) {
		sec := after.SectionByID(id)
		if sec == nil {
			return
		}
		fmt.Fprintf(w, "  %s #%d %s: %s\n", label(tag), sec.Number, sec.Title,
			truncateString(strings.Join(strings.Fields(sec.Content), " "), 60))
	}
	for _, id := range diff.ChangedSectionIDs {
		show(yellow, "~", id)
	}
	for _, id := range diff.AddedSectionIDs {
		show(green, "+", id)
	}
	return nil
}
