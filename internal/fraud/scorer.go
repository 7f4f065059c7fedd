package fraud

import (
	"context"
	"fmt"
	"time"

	"github.com/richxcame/risk-engine/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Assessment is the combined output of all detectors for one request
type Assessment struct {
	Score    int
	Signals  []Signal
	Degraded []string
}

// Messages returns the human-readable reason of every signal, in order
func (a *Assessment) Messages() []string {
	messages := make([]string, 0, len(a.Signals))
	for _, s := range a.Signals {
		messages = append(messages, s.Message)
	}
	return messages
}

// Scorer runs detectors concurrently and folds their signals into one score
type Scorer struct {
	policy    *Policy
	detectors []Detector
}

// NewScorer creates a scorer over detectors
func NewScorer(policy *Policy, detectors ...Detector) *Scorer {
	return &Scorer{policy: policy, detectors: detectors}
}

// Score evaluates req with every detector and waits for all of them.
// Under FailClosed the first detector error fails the call; under FailOpen
// the failing detector contributes nothing and is listed in Degraded.
func (s *Scorer) Score(ctx context.Context, req *EvaluationRequest, now time.Time) (*Assessment, error) {
	results := make([][]Signal, len(s.detectors))
	failures := make([]error, len(s.detectors))

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range s.detectors {
		i, d := i, d
		g.Go(func() error {
			signals, err := d.Detect(gctx, req, now)
			if err != nil {
				detectorErrorsTotal.WithLabelValues(d.Name()).Inc()
				if s.policy.FailureMode == FailOpen {
					failures[i] = err
					return nil
				}
				return fmt.Errorf("%s detector: %w", d.Name(), err)
			}
			results[i] = signals
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	assessment := &Assessment{}
	total := 0
	for i, signals := range results {
		if failures[i] != nil {
			name := s.detectors[i].Name()
			assessment.Degraded = append(assessment.Degraded, name)
			logger.WithContext(ctx).Warn("detector failed, continuing without it",
				zap.String("detector", name),
				zap.Int64("user_id", req.UserID),
				zap.Error(failures[i]))
			continue
		}
		for _, sig := range signals {
			total += sig.Score
			assessment.Signals = append(assessment.Signals, sig)
		}
	}
	assessment.Score = clampScore(total)

	return assessment, nil
}

func clampScore(total int) int {
	if total < 0 {
		return 0
	}
	if total > MaxRiskScore {
		return MaxRiskScore
	}
	return total
}

// IsRisky reports whether score reaches the MEDIUM threshold
func (p *Policy) IsRisky(score int) bool {
	return score >= p.Thresholds.Medium
}

// ShouldBlock reports whether score reaches the CRITICAL threshold
func (p *Policy) ShouldBlock(score int) bool {
	return score >= p.Thresholds.Critical
}
