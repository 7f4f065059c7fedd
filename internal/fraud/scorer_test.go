package fraud

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScorer_SumsAllDetectors(t *testing.T) {
	a, b, c := scoring("a", 10), scoring("b", 20), &stubDetector{name: "c"}
	scorer := NewScorer(DefaultPolicy(), a, b, c)

	assessment, err := scorer.Score(context.Background(), &EvaluationRequest{UserID: 1}, testNow)
	require.NoError(t, err)

	assert.Equal(t, 30, assessment.Score)
	assert.Equal(t, []string{"a fired", "b fired"}, assessment.Messages())
	assert.Empty(t, assessment.Degraded)
	for _, d := range []*stubDetector{a, b, c} {
		assert.Equal(t, int32(1), d.calls, d.name)
	}
}

func TestScorer_Clamp(t *testing.T) {
	tests := []struct {
		name     string
		scores   []int
		expected int
	}{
		{"empty", nil, 0},
		{"exact max", []int{50, 50}, 100},
		{"over max", []int{50, 40, 25, 15, 10}, 100},
		{"under max", []int{25, 15}, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var detectors []Detector
			for i, s := range tt.scores {
				detectors = append(detectors, scoring(string(rune('a'+i)), s))
			}
			assessment, err := NewScorer(DefaultPolicy(), detectors...).Score(context.Background(), &EvaluationRequest{}, testNow)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, assessment.Score)
		})
	}
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0, clampScore(-5))
	assert.Equal(t, 0, clampScore(0))
	assert.Equal(t, 73, clampScore(73))
	assert.Equal(t, 100, clampScore(100))
	assert.Equal(t, 100, clampScore(240))
}

func TestScorer_FailClosed(t *testing.T) {
	failing := &stubDetector{name: "location", err: errors.New("db down")}
	scorer := NewScorer(DefaultPolicy(), scoring("a", 10), failing)

	assessment, err := scorer.Score(context.Background(), &EvaluationRequest{}, testNow)
	require.Error(t, err)
	assert.Nil(t, assessment)
	assert.Contains(t, err.Error(), "location detector")
}

func TestScorer_FailOpen(t *testing.T) {
	failing := &stubDetector{name: "location", err: errors.New("db down")}
	scorer := NewScorer(DefaultPolicy().WithFailureMode(FailOpen), scoring("a", 10), failing, scoring("b", 5))

	assessment, err := scorer.Score(context.Background(), &EvaluationRequest{}, testNow)
	require.NoError(t, err)
	assert.Equal(t, 15, assessment.Score)
	assert.Equal(t, []string{"location"}, assessment.Degraded)
}

func TestPolicy_Decisions(t *testing.T) {
	p := DefaultPolicy()

	assert.False(t, p.IsRisky(59))
	assert.True(t, p.IsRisky(60))
	assert.False(t, p.ShouldBlock(94))
	assert.True(t, p.ShouldBlock(95))
}
