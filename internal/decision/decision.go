// Package decision fuses the classifier output with the rule engine's
// critical violations into the final credit decision.
package decision

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultOverrideThreshold is the number of triggered rules that forces HighRisk.
const DefaultOverrideThreshold = 2

// EngineVersion is stamped into assessment metadata.
const EngineVersion = "kestrel-1.0"

// Processor applies the override policy and assembles assessment records.
type Processor struct {
	// OverrideThreshold is the violation count at or above which the
	// model's prediction is overridden to HighRisk.
	OverrideThreshold int
}

// NewProcessor creates a processor with the given threshold. Non-positive
// values fall back to DefaultOverrideThreshold.
func NewProcessor(threshold int) *Processor {
	if threshold <= 0 {
		threshold = DefaultOverrideThreshold
	}
	return &Processor{OverrideThreshold: threshold}
}

// Fuse reconciles the raw prediction with the violation count.
// At or above the threshold the result is HighRisk with overridden=true,
// even when the model already predicted default.
func (p *Processor) Fuse(rawPrediction, criticalViolations int) (domain.Decision, bool) {
	if criticalViolations >= p.OverrideThreshold {
		return domain.DecisionHighRisk, true
	}
	return domain.DecisionFromPrediction(rawPrediction), false
}

// DecisionInput contains all data needed for a decision.
type DecisionInput struct {
	TenantID        string
	TraceID         string
	ModelVersion    string
	ApplicantName   string
	OfficerUsername string
	Profile         domain.ApplicantProfile
	Score           *domain.ScoredProfile
	ScoreMs         int64
	RulesMs         int64
	CacheHit        bool
	StartTime       time.Time
}

// Process fuses a scored profile and produces the assessment record.
// The default probability is carried through unchanged.
func (p *Processor) Process(ctx context.Context, input *DecisionInput) *domain.Assessment {
	start := time.Now()

	score := input.Score
	finalDecision, overridden := p.Fuse(score.RawPrediction, score.CriticalViolations)

	flags := score.Flags
	if flags == nil {
		flags = []domain.RiskFlag{}
	}

	a := &domain.Assessment{
		ID:              uuid.New().String(),
		TenantID:        input.TenantID,
		ApplicantName:   input.ApplicantName,
		OfficerUsername: input.OfficerUsername,
		Timestamp:       time.Now().UTC(),
		AssessmentResult: domain.AssessmentResult{
			FinalDecision:      finalDecision,
			DefaultProbability: score.DefaultProbability,
			Flags:              flags,
			Overridden:         overridden,
		},
		RawPrediction:      score.RawPrediction,
		CriticalViolations: score.CriticalViolations,
		Profile:            input.Profile,
	}

	a.Metadata = domain.AssessmentMetadata{
		TraceID:        input.TraceID,
		ModelVersion:   input.ModelVersion,
		ScoreMs:        input.ScoreMs,
		RulesMs:        input.RulesMs,
		DecisionMs:     time.Since(start).Milliseconds(),
		TotalMs:        time.Since(input.StartTime).Milliseconds(),
		RulesEvaluated: score.RulesEvaluated,
		CacheHit:       input.CacheHit,
		EngineVersion:  EngineVersion,
	}

	return a
}

// IsHighRisk returns true if the assessment should be escalated.
func IsHighRisk(a *domain.Assessment) bool {
	return a.FinalDecision == domain.DecisionHighRisk
}

// Reasons extracts the human-readable flag messages of an assessment.
func Reasons(a *domain.Assessment) []string {
	reasons := make([]string, 0, len(a.Flags))
	for _, f := range a.Flags {
		if f.Message != "" {
			reasons = append(reasons, f.Message)
		}
	}
	return reasons
}
