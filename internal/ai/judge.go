package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/steveyegge/quill/internal/types"
)

// Judge compares two drafts holistically. The validator consults it when
// the assessor's score does not move despite real content change.
type Judge struct {
	caller    Caller
	maxTokens int
	logger    *slog.Logger
}

var _ types.Judge = (*Judge)(nil)

// NewJudge creates a Judge. maxTokens 0 uses 2048.
func NewJudge(caller Caller, maxTokens int, logger *slog.Logger) (*Judge, error) {
	if caller == nil {
		return nil, errors.New("caller is required")
	}
	if maxTokens == 0 {
		maxTokens = 2048
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Judge{caller: caller, maxTokens: maxTokens, logger: logger.With("component", "judge")}, nil
}

type judgeResponse struct {
	Score      float64 `json:"score"`
	Confidence string  `json:"confidence"`
	Summary    string  `json:"summary"`
}

// Judge implements types.Judge. Only changed and added sections are sent.
func (j *Judge) Judge(ctx context.Context, previous, current *types.Document, category types.Category) (*types.Judgement, error) {
	if previous == nil || current == nil {
		return nil, types.ErrEmptyDocument
	}

	var changed []string
	for _, s := range current.Sections {
		p := previous.SectionByID(s.ID)
		if p == nil || p.Content != s.Content {
			changed = append(changed, s.ID)
		}
	}
	if len(changed) == 0 {
		return nil, errors.New("judge: no changed sections to compare")
	}

	prompt := buildJudgePrompt(previous, current, category, changed)
	text, _, err := j.caller.CallAI(ctx, prompt, "judge-"+string(category), j.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("judge %s: %w", category, err)
	}

	parsed := Parse[judgeResponse](text, "judgement")
	if !parsed.Success {
		return nil, fmt.Errorf("judge %s: failed to parse response: %s", category, parsed.Error)
	}

	conf := types.ConfidenceTier(strings.ToLower(strings.TrimSpace(parsed.Data.Confidence)))
	switch conf {
	case types.ConfidenceHigh, types.ConfidenceMedium, types.ConfidenceLow:
	default:
		conf = types.ConfidenceLow
	}

	out := &types.Judgement{
		Score:      types.ClampScore(parsed.Data.Score),
		Confidence: conf,
		Summary:    parsed.Data.Summary,
	}
	j.logger.Debug("judgement", "category", category, "score", out.Score, "confidence", out.Confidence,
		"changed_sections", len(changed))
	return out, nil
}
