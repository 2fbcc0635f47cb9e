package iterative

import (
	"context"
	"errors"
	"testing"

	"github.com/steveyegge/quill/internal/gates"
	"github.com/steveyegge/quill/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockJudge struct {
	judgeFunc func(ctx context.Context, previous, current *types.Document, category types.Category) (*types.Judgement, error)
	calls     int
}

func (m *mockJudge) Judge(ctx context.Context, previous, current *types.Document, category types.Category) (*types.Judgement, error) {
	m.calls++
	return m.judgeFunc(ctx, previous, current, category)
}

func fixedJudge(score float64, tier types.ConfidenceTier) *mockJudge {
	return &mockJudge{judgeFunc: func(ctx context.Context, previous, current *types.Document, category types.Category) (*types.Judgement, error) {
		return &types.Judgement{Score: score, Confidence: tier}, nil
	}}
}

func scoreAssessor(score float64) *mockAssessor {
	return &mockAssessor{assessFunc: func(ctx context.Context, doc *types.Document, c types.Category) (*types.WeaknessAssessment, error) {
		return &types.WeaknessAssessment{Category: c, OverallScore: score}, nil
	}}
}

// rewrite returns a copy of doc with the given sections replaced by longer text.
func rewrite(doc *types.Document, numbers ...int) *types.Document {
	out := doc.Clone()
	for _, n := range numbers {
		out.SectionByNumber(n).Content += " with a sharper ending"
	}
	return out
}

func TestNewValidator(t *testing.T) {
	_, err := NewValidator(ValidatorConfig{})
	require.Error(t, err)

	_, err = NewValidator(ValidatorConfig{Assessor: scoreAssessor(50), HighWeight: 1.5})
	require.Error(t, err)

	_, err = NewValidator(ValidatorConfig{Assessor: scoreAssessor(50), RegressionThreshold: -1})
	require.Error(t, err)

	v, err := NewValidator(ValidatorConfig{Assessor: scoreAssessor(50)})
	require.NoError(t, err)
	assert.Equal(t, gates.DefaultRegressionThreshold, v.cfg.RegressionThreshold)
	assert.Equal(t, DefaultBonusCap, v.cfg.BonusCap)
	assert.Equal(t, DefaultBonusPerSection, v.cfg.BonusPerSection)
}

func TestValidate_ScoreRises(t *testing.T) {
	judge := fixedJudge(90, types.ConfidenceHigh)
	v, err := NewValidator(ValidatorConfig{Assessor: scoreAssessor(62), Judge: judge, Logger: quietLogger()})
	require.NoError(t, err)

	prev := testDocument(3)
	got := v.Validate(context.Background(), prev, rewrite(prev, 2), types.CategoryTension, 50)

	assert.NoError(t, got.Err)
	assert.Equal(t, 62.0, got.NewScore)
	assert.Equal(t, 12.0, got.ScoreChange)
	assert.Equal(t, 0.0, got.BonusApplied)
	assert.False(t, got.Blended)
	assert.Equal(t, 0, judge.calls, "judge is only consulted when the score stalls")
	require.NotNil(t, got.Assessment)
	assert.Equal(t, 62.0, got.Assessment.OverallScore)
}

func TestValidate_ContentChangedBonus(t *testing.T) {
	v, err := NewValidator(ValidatorConfig{Assessor: scoreAssessor(50), Logger: quietLogger()})
	require.NoError(t, err)
	prev := testDocument(5)

	t.Run("one section", func(t *testing.T) {
		got := v.Validate(context.Background(), prev, rewrite(prev, 1), types.CategoryTension, 50)
		assert.Equal(t, 55.0, got.NewScore)
		assert.Equal(t, 5.0, got.ScoreChange)
		assert.Equal(t, 5.0, got.BonusApplied)
	})

	t.Run("capped", func(t *testing.T) {
		got := v.Validate(context.Background(), prev, rewrite(prev, 1, 2, 3, 4, 5), types.CategoryTension, 50)
		assert.Equal(t, 65.0, got.NewScore)
		assert.Equal(t, DefaultBonusCap, got.BonusApplied)
	})

	t.Run("no real change", func(t *testing.T) {
		got := v.Validate(context.Background(), prev, prev.Clone(), types.CategoryTension, 50)
		assert.Equal(t, 50.0, got.NewScore)
		assert.Equal(t, 0.0, got.ScoreChange)
		assert.Equal(t, 0.0, got.BonusApplied)
	})

	t.Run("bonus never exceeds 100", func(t *testing.T) {
		hi, err := NewValidator(ValidatorConfig{Assessor: scoreAssessor(98), Logger: quietLogger()})
		require.NoError(t, err)
		got := hi.Validate(context.Background(), prev, rewrite(prev, 1, 2), types.CategoryTension, 99)
		assert.Equal(t, 100.0, got.NewScore)
		assert.Equal(t, 2.0, got.BonusApplied)
	})
}

func TestValidate_BonusDoesNotMaskRegression(t *testing.T) {
	prev := testDocument(3)
	tests := []struct {
		name      string
		primary   float64
		threshold float64
		wantScore float64
		wantBonus float64
	}{
		{name: "drop past the threshold", primary: 52, wantScore: 52, wantBonus: 0},
		{name: "drop within the threshold", primary: 58, wantScore: 63, wantBonus: 5},
		{name: "drop exactly at the threshold", primary: 55, wantScore: 60, wantBonus: 5},
		{name: "tighter threshold", primary: 58, threshold: 1, wantScore: 58, wantBonus: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewValidator(ValidatorConfig{
				Assessor:            scoreAssessor(tt.primary),
				RegressionThreshold: tt.threshold,
				Logger:              quietLogger(),
			})
			require.NoError(t, err)

			got := v.Validate(context.Background(), prev, rewrite(prev, 2), types.CategoryTension, 60)
			assert.Equal(t, tt.primary, got.PrimaryScore)
			assert.Equal(t, tt.wantScore, got.NewScore)
			assert.Equal(t, tt.wantScore-60, got.ScoreChange)
			assert.Equal(t, tt.wantBonus, got.BonusApplied)
		})
	}
}

func TestValidate_JudgeBlending(t *testing.T) {
	prev := testDocument(3)
	cur := rewrite(prev, 1)

	tests := []struct {
		name        string
		judge       *mockJudge
		wantScore   float64
		wantBlended bool
		wantBonus   float64
	}{
		{"high confidence", fixedJudge(80, types.ConfidenceHigh), 0.4*50 + 0.6*80, true, 0},
		{"medium confidence", fixedJudge(80, types.ConfidenceMedium), 0.65*50 + 0.35*80, true, 0},
		{"low confidence ignored", fixedJudge(80, types.ConfidenceLow), 55, false, 5},
		{"judge lower still gets bonus", fixedJudge(30, types.ConfidenceHigh), 0.4*50 + 0.6*30 + 5, true, 5},
		{"judge error", &mockJudge{judgeFunc: func(ctx context.Context, p, c *types.Document, cat types.Category) (*types.Judgement, error) {
			return nil, errors.New("rate limited")
		}}, 55, false, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewValidator(ValidatorConfig{Assessor: scoreAssessor(50), Judge: tt.judge, Logger: quietLogger()})
			require.NoError(t, err)

			got := v.Validate(context.Background(), prev, cur, types.CategoryTheme, 50)
			assert.InDelta(t, tt.wantScore, got.NewScore, 1e-9)
			assert.Equal(t, tt.wantBlended, got.Blended)
			assert.InDelta(t, tt.wantBonus, got.BonusApplied, 1e-9)
			assert.Equal(t, 1, tt.judge.calls)
		})
	}
}

func TestValidate_AssessorFailure(t *testing.T) {
	v, err := NewValidator(ValidatorConfig{
		Assessor: &mockAssessor{assessFunc: func(ctx context.Context, doc *types.Document, c types.Category) (*types.WeaknessAssessment, error) {
			return nil, errors.New("upstream 500")
		}},
		Logger: quietLogger(),
	})
	require.NoError(t, err)

	prev := testDocument(2)
	got := v.Validate(context.Background(), prev, rewrite(prev, 1), types.CategoryHook, 47)
	assert.Error(t, got.Err)
	assert.Equal(t, 47.0, got.NewScore)
	assert.Equal(t, 0.0, got.ScoreChange)
	assert.Nil(t, got.Assessment)
	assert.Equal(t, 1, got.Diff.Changed)
}

func TestDiff(t *testing.T) {
	prev := testDocument(3)
	cur := prev.Clone()
	cur.Sections[0].Content = "chapter 1 text\nwith a new line"
	cur.Sections[2].Title = "Renamed"
	cur.Sections = append(cur.Sections, types.Section{ID: "new", Number: 4, Content: "fresh\nscene"})

	d := Diff(prev, cur)
	assert.Equal(t, 2, d.Changed)
	assert.Equal(t, 1, d.Unchanged)
	assert.Equal(t, 1, d.Added)
	assert.Equal(t, 0, d.Removed)
	assert.Equal(t, []string{"s1", "s3"}, d.ChangedSectionIDs)
	assert.Equal(t, []string{"new"}, d.AddedSectionIDs)
	assert.Equal(t, len("\nwith a new line")+len("fresh\nscene"), d.NetLengthDelta)
	assert.Equal(t, 1+2, d.DiffLines)
	assert.True(t, d.RealChange())

	same := Diff(prev, prev.Clone())
	assert.False(t, same.RealChange())
	assert.Equal(t, 3, same.Unchanged)

	removed := Diff(prev, &types.Document{Sections: prev.Sections[:1]})
	assert.Equal(t, 2, removed.Removed)
}

func TestDiff_TitleOnlyChangeIsNotRealChange(t *testing.T) {
	prev := testDocument(2)
	cur := prev.Clone()
	cur.Sections[1].Title = "Other"

	d := Diff(prev, cur)
	assert.Equal(t, 1, d.Changed)
	assert.Equal(t, 0, d.NetLengthDelta)
	assert.False(t, d.RealChange())
}

func TestCountDiffLines(t *testing.T) {
	tests := []struct {
		name string
		prev string
		cur  string
		want int
	}{
		{"identical", "a\nb", "a\nb", 0},
		{"one changed", "a\nb", "a\nc", 1},
		{"appended", "a", "a\nb\nc", 2},
		{"whitespace ignored", "a  \nb", "a\nb", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := countDiffLines(tt.prev, tt.cur); got != tt.want {
				t.Errorf("countDiffLines() = %d, want %d", got, tt.want)
			}
		})
	}
}
