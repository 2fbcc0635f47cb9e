package gates

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Prompter reads one answer from the user.
type Prompter interface {
	Prompt(prompt string) (string, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(prompt string) (string, error)

// Prompt calls f(prompt).
func (f PrompterFunc) Prompt(prompt string) (string, error) {
	return f(prompt)
}

// ApprovalGate shows the outcome of a run to a human and asks whether the
// optimized document may be written.
type ApprovalGate struct {
	summary     string
	diff        func(w io.Writer) error
	prompter    Prompter
	out         io.Writer
	autoApprove bool
}

// ApprovalConfig holds configuration for the approval gate
type ApprovalConfig struct {
	Summary     string                // Text shown before the prompt
	Diff        func(io.Writer) error // Optional: renders section changes on "d"
	Prompter    Prompter              // Optional: defaults to reading stdin
	Out         io.Writer             // Optional: defaults to stdout
	AutoApprove bool                  // Skip the prompt (also QUILL_AUTO_APPROVE=true)
}

// NewApprovalGate creates a new approval gate
func NewApprovalGate(cfg *ApprovalConfig) (*ApprovalGate, error) {
	if cfg == nil {
		return nil, fmt.Errorf("approval config is required")
	}
	if strings.TrimSpace(cfg.Summary) == "" {
		return nil, fmt.Errorf("summary is required")
	}
	g := &ApprovalGate{
		summary:     cfg.Summary,
		diff:        cfg.Diff,
		prompter:    cfg.Prompter,
		out:         cfg.Out,
		autoApprove: cfg.AutoApprove,
	}
	if g.out == nil {
		g.out = os.Stdout
	}
	if g.prompter == nil {
		g.prompter = &stdinPrompter{out: g.out, in: bufio.NewReader(os.Stdin)}
	}
	return g, nil
}

// Run presents the approval prompt and returns the result
func (g *ApprovalGate) Run() *Result {
	result := &Result{
		Gate:   GateApproval,
		Passed: false,
	}

	if g.autoApprove || os.Getenv("QUILL_AUTO_APPROVE") == "true" {
		result.Passed = true
		result.Output = "Auto-approved"
		return result
	}

	fmt.Fprintln(g.out, "\n"+strings.Repeat("=", 80))
	fmt.Fprintln(g.out, g.summary)
	fmt.Fprintln(g.out, strings.Repeat("=", 80))

	question := "\nWrite optimized document? [y/n]: "
	if g.diff != nil {
		question = "\nWrite optimized document? [y/n/d=show changes]: "
	}

	for {
		decision, err := g.prompter.Prompt(question)
		if err != nil {
			result.Error = fmt.Errorf("failed to get user input: %w", err)
			result.Output = "Error reading user input"
			return result
		}

		decision = strings.TrimSpace(strings.ToLower(decision))

		switch decision {
		case "y", "yes":
			result.Passed = true
			result.Output = "Approved by user"
			return result

		case "n", "no":
			result.Output = "Rejected by user"
			return result

		case "d", "diff":
			if g.diff == nil {
				fmt.Fprintln(g.out, "No change view available.")
				continue
			}
			if err := g.diff(g.out); err != nil {
				fmt.Fprintf(g.out, "Error showing changes: %v\n", err)
			}

		default:
			fmt.Fprintf(g.out, "Invalid input '%s'. Please enter y or n.\n", decision)
		}
	}
}

type stdinPrompter struct {
	out io.Writer
	in  *bufio.Reader
}

func (p *stdinPrompter) Prompt(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	response, err := p.in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response), nil
}
