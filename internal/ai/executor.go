package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/steveyegge/quill/internal/contextbudget"
	"github.com/steveyegge/quill/internal/iterative"
	"github.com/steveyegge/quill/internal/strategy"
	"github.com/steveyegge/quill/internal/types"
)

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Caller Caller
	// Budget builds the per-section edit context. Nil uses defaults.
	Budget    *contextbudget.Manager
	MaxTokens int
	Logger    *slog.Logger
	// NewID names inserted sections (default: uuid).
	NewID func() string
}

// Executor applies an improvement strategy by asking the model to rewrite
// or add sections one action at a time.
type Executor struct {
	cfg    ExecutorConfig
	budget *contextbudget.Manager
	logger *slog.Logger
}

var _ iterative.Executor = (*Executor)(nil)

// NewExecutor creates an Executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if cfg.Caller == nil {
		return nil, errors.New("caller is required")
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.New().String() }
	}
	budget := cfg.Budget
	if budget == nil {
		budget = contextbudget.NewManager(contextbudget.DefaultConfig())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{cfg: cfg, budget: budget, logger: logger.With("component", "executor")}, nil
}

type sectionResponse struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Summary string `json:"summary"`
}

type insertResponse struct {
	Sections []sectionResponse `json:"sections"`
}

// Execute implements iterative.Executor. doc is modified in place and
// returned. Failed actions are recorded in the result; only cancellation
// and size-limit failures are returned as errors.
func (e *Executor) Execute(ctx context.Context, doc *types.Document, s *strategy.ImprovementStrategy) (*iterative.ExecutionResult, error) {
	if doc == nil {
		return nil, types.ErrEmptyDocument
	}
	result := &iterative.ExecutionResult{Document: doc}
	if s.IsEmpty() {
		return result, nil
	}

	for _, a := range s.RegenerateActions {
		instruction := a.Reason
		if a.Guidance != "" {
			instruction += "\n" + a.Guidance
		}
		if err := e.rewrite(ctx, doc, result, s.Category, iterative.ActionRegenerate, a.SectionID, a.SectionNumber, modeRegenerate, instruction); err != nil {
			return nil, err
		}
	}

	for _, a := range s.EditActions {
		instruction := fmt.Sprintf("Improve the %s of the section (%s). %s", a.Region, a.ImprovementType, a.Description)
		if err := e.rewrite(ctx, doc, result, s.Category, iterative.ActionEdit, a.SectionID, a.SectionNumber, modeEdit, instruction); err != nil {
			return nil, err
		}
	}

	if len(s.InsertActions) > 0 {
		if err := e.insertAll(ctx, doc, result, s); err != nil {
			return nil, err
		}
	}

	e.logger.Info("strategy executed", "category", s.Category, "strategy", s.ID,
		"applied", result.Applied(), "failed", len(result.Failures))
	return result, nil
}

// abortErr reports whether err must stop the whole execution.
func abortErr(ctx context.Context, err error) bool {
	return types.IsResourceExceeded(err) || ctx.Err() != nil
}

func (e *Executor) rewrite(ctx context.Context, doc *types.Document, result *iterative.ExecutionResult,
	category types.Category, kind iterative.ActionKind, id string, number int, mode rewriteMode, instruction string) error {

	sec := doc.SectionByID(id)
	if sec == nil {
		sec = doc.SectionByNumber(number)
	}
	if sec == nil {
		result.Failures = append(result.Failures, iterative.ActionFailure{
			Kind: kind, SectionID: id, SectionNumber: number,
			Error: "section not found",
		})
		return nil
	}

	ec := e.budget.MinimalContextForEdit(*sec, doc)
	prompt := buildRewritePrompt(ec, category, mode, instruction)
	text, usage, err := e.cfg.Caller.CallAI(ctx, prompt, fmt.Sprintf("%s-%s", kind, category), e.cfg.MaxTokens)
	result.InputTokens += int(usage.InputTokens)
	result.OutputTokens += int(usage.OutputTokens)
	if err != nil {
		if abortErr(ctx, err) {
			return err
		}
		e.fail(result, kind, sec, err.Error())
		return nil
	}

	parsed := Parse[sectionResponse](text, string(kind))
	if !parsed.Success {
		e.fail(result, kind, sec, parsed.Error)
		return nil
	}
	if strings.TrimSpace(parsed.Data.Content) == "" {
		e.fail(result, kind, sec, "model returned empty content")
		return nil
	}

	sec.Content = parsed.Data.Content
	if t := strings.TrimSpace(parsed.Data.Title); t != "" {
		sec.Title = t
	}
	if parsed.Data.Summary != "" {
		sec.Summary = parsed.Data.Summary
	}
	markRevised(sec, category, kind)

	switch kind {
	case iterative.ActionRegenerate:
		result.RegenerationsApplied++
	default:
		result.EditsApplied++
	}
	result.ActionResults = append(result.ActionResults, iterative.ActionResult{
		Kind: kind, SectionID: sec.ID, SectionNumber: sec.Number, Success: true,
		InputTokens: int(usage.InputTokens), OutputTokens: int(usage.OutputTokens),
	})
	return nil
}

func (e *Executor) fail(result *iterative.ExecutionResult, kind iterative.ActionKind, sec *types.Section, msg string) {
	e.logger.Warn("action failed", "kind", kind, "section", sec.Number, "error", msg)
	result.Failures = append(result.Failures, iterative.ActionFailure{
		Kind: kind, SectionID: sec.ID, SectionNumber: sec.Number, Error: msg,
	})
}

// insertAll resolves every insert position against the numbering the
// strategy was planned on, then inserts and renumbers once.
func (e *Executor) insertAll(ctx context.Context, doc *types.Document, result *iterative.ExecutionResult, s *strategy.ImprovementStrategy) error {
	type pending struct {
		anchor   string // section ID to insert after, "" for the front
		sections []types.Section
	}
	var batches []pending

	for _, a := range s.InsertActions {
		anchor := ""
		if a.AfterSection > 0 {
			prev := doc.SectionByNumber(a.AfterSection)
			if prev == nil {
				result.Failures = append(result.Failures, iterative.ActionFailure{
					Kind: iterative.ActionInsert, SectionNumber: a.AfterSection,
					Error: "anchor section not found",
				})
				continue
			}
			anchor = prev.ID
		}
		count := max(a.Count, 1)

		prompt := buildInsertPrompt(doc, a.AfterSection, count, a.Purpose, s.Category)
		text, usage, err := e.cfg.Caller.CallAI(ctx, prompt, "insert-"+string(s.Category), e.cfg.MaxTokens*count)
		result.InputTokens += int(usage.InputTokens)
		result.OutputTokens += int(usage.OutputTokens)
		if err != nil {
			if abortErr(ctx, err) {
				return err
			}
			result.Failures = append(result.Failures, iterative.ActionFailure{
				Kind: iterative.ActionInsert, SectionNumber: a.AfterSection, Error: err.Error(),
			})
			continue
		}

		parsed := Parse[insertResponse](text, "insert")
		if !parsed.Success || len(parsed.Data.Sections) == 0 {
			msg := parsed.Error
			if msg == "" {
				msg = "model returned no sections"
			}
			result.Failures = append(result.Failures, iterative.ActionFailure{
				Kind: iterative.ActionInsert, SectionNumber: a.AfterSection, Error: msg,
			})
			continue
		}

		b := pending{anchor: anchor}
		for _, ns := range parsed.Data.Sections {
			if len(b.sections) == count {
				break
			}
			if strings.TrimSpace(ns.Content) == "" {
				continue
			}
			sec := types.Section{ID: e.cfg.NewID(), Title: ns.Title, Content: ns.Content, Summary: ns.Summary}
			markRevised(&sec, s.Category, iterative.ActionInsert)
			b.sections = append(b.sections, sec)
		}
		if len(b.sections) == 0 {
			result.Failures = append(result.Failures, iterative.ActionFailure{
				Kind: iterative.ActionInsert, SectionNumber: a.AfterSection, Error: "model returned empty sections",
			})
			continue
		}
		batches = append(batches, b)
		result.InsertionsApplied++
		result.ActionResults = append(result.ActionResults, iterative.ActionResult{
			Kind: iterative.ActionInsert, SectionNumber: a.AfterSection, Success: true,
			Message:     fmt.Sprintf("inserted %d section(s)", len(b.sections)),
			InputTokens: int(usage.InputTokens), OutputTokens: int(usage.OutputTokens),
		})
	}

	if len(batches) == 0 {
		return nil
	}

	// later batches at the same anchor go after earlier ones
	placed := make(map[string]int)
	for _, b := range batches {
		idx := 0
		if b.anchor != "" {
			idx = doc.IndexOfSection(b.anchor) + 1
		}
		idx += placed[b.anchor]
		doc.Sections = slices.Insert(doc.Sections, idx, b.sections...)
		placed[b.anchor] += len(b.sections)
	}
	doc.Renumber()
	return nil
}

func markRevised(sec *types.Section, category types.Category, kind iterative.ActionKind) {
	if sec.Audit == nil {
		sec.Audit = make(map[string]string)
	}
	sec.Audit["last_category"] = string(category)
	sec.Audit["last_action"] = string(kind)
}
