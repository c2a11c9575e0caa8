// Package assessment runs the credit risk pipeline: validation, the model
// path and the rule path in parallel, then the decision fuser.
package assessment

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/rules"
)

var tracer = otel.Tracer("kestrel-assessment")

// Assessor is safe for concurrent use. The bundle and engine are shared
// read-only across requests.
type Assessor struct {
	bundle    *model.Bundle
	engine    *rules.Engine
	processor *decision.Processor
	cache     domain.Cache
	scoreTTL  time.Duration
}

// NewAssessor wires the pipeline. cache may be nil.
func NewAssessor(bundle *model.Bundle, engine *rules.Engine, processor *decision.Processor, cache domain.Cache, scoreTTL time.Duration) *Assessor {
	if scoreTTL <= 0 {
		scoreTTL = time.Hour
	}
	return &Assessor{
		bundle:    bundle,
		engine:    engine,
		processor: processor,
		cache:     cache,
		scoreTTL:  scoreTTL,
	}
}

// Application is an assessment request with its audit context.
type Application struct {
	TenantID        string
	TraceID         string
	ApplicantName   string
	OfficerUsername string
	Profile         domain.ApplicantProfile
}

// Assess evaluates a single profile.
func (a *Assessor) Assess(ctx context.Context, tenantID string, profile *domain.ApplicantProfile) (*domain.Assessment, error) {
	if profile == nil {
		return nil, fmt.Errorf("%w: profile is required", domain.ErrMalformedProfile)
	}
	return a.AssessApplication(ctx, &Application{TenantID: tenantID, Profile: *profile})
}

// AssessApplication evaluates an application and returns the full record.
// Errors wrap domain.ErrMalformedProfile or domain.ErrUnknownCategory for
// bad input; anything else is an internal failure.
func (a *Assessor) AssessApplication(ctx context.Context, app *Application) (*domain.Assessment, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "assessment.assess",
		trace.WithAttributes(
			attribute.String("tenant.id", app.TenantID),
			attribute.String("model.version", a.bundle.Version()),
		),
	)
	defer span.End()

	profile := app.Profile
	if err := profile.Validate(); err != nil {
		span.SetStatus(codes.Error, "malformed profile")
		return nil, err
	}

	fingerprint := Fingerprint(a.bundle.Version(), a.engine.Version(), &profile)

	var (
		score    *domain.ScoredProfile
		scoreMs  int64
		rulesMs  int64
		cacheHit bool
	)

	if a.cache != nil {
		cached, err := a.cache.GetScore(ctx, app.TenantID, fingerprint)
		if err != nil {
			slog.Warn("score cache lookup failed", "tenant_id", app.TenantID, "error", err)
		} else if cached != nil {
			score = cached
			cacheHit = true
		}
	}

	if score == nil {
		var err error
		score, scoreMs, rulesMs, err = a.score(ctx, &profile)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "assessment failed")
			return nil, err
		}

		if a.cache != nil {
			if err := a.cache.SetScore(ctx, app.TenantID, fingerprint, score, a.scoreTTL); err != nil {
				slog.Warn("score cache store failed", "tenant_id", app.TenantID, "error", err)
			}
		}
	}

	result := a.processor.Process(ctx, &decision.DecisionInput{
		TenantID:        app.TenantID,
		TraceID:         app.TraceID,
		ModelVersion:    a.bundle.Version(),
		ApplicantName:   app.ApplicantName,
		OfficerUsername: app.OfficerUsername,
		Profile:         profile,
		Score:           score,
		ScoreMs:         scoreMs,
		RulesMs:         rulesMs,
		CacheHit:        cacheHit,
		StartTime:       start,
	})

	span.SetAttributes(
		attribute.String("assessment.id", result.ID),
		attribute.String("assessment.decision", string(result.FinalDecision)),
		attribute.Bool("assessment.overridden", result.Overridden),
		attribute.Int("assessment.violations", result.CriticalViolations),
		attribute.Bool("assessment.cache_hit", cacheHit),
	)

	slog.Debug("assessment completed",
		"assessment_id", result.ID,
		"tenant_id", app.TenantID,
		"decision", result.FinalDecision,
		"overridden", result.Overridden,
		"critical_violations", result.CriticalViolations,
		"cache_hit", cacheHit,
		"duration_ms", result.Metadata.TotalMs,
	)

	return result, nil
}

// score runs the model path and the rule path concurrently. The model
// path's error wins when both fail so that an unknown category is always
// reported as such.
func (a *Assessor) score(ctx context.Context, p *domain.ApplicantProfile) (*domain.ScoredProfile, int64, int64, error) {
	var (
		raw      int
		prob     float64
		results  []domain.RuleResult
		scoreErr error
		rulesErr error
		scoreMs  int64
		rulesMs  int64
	)

	var g errgroup.Group

	g.Go(func() error {
		_, span := tracer.Start(ctx, "assessment.score")
		defer span.End()

		t := time.Now()
		raw, prob, scoreErr = a.bundle.Score(p)
		scoreMs = time.Since(t).Milliseconds()
		if scoreErr != nil {
			span.RecordError(scoreErr)
		}
		return scoreErr
	})

	g.Go(func() error {
		rctx, span := tracer.Start(ctx, "assessment.rules")
		defer span.End()

		t := time.Now()
		results, rulesErr = a.engine.Evaluate(rctx, p)
		rulesMs = time.Since(t).Milliseconds()
		if rulesErr != nil {
			span.RecordError(rulesErr)
		}
		return rulesErr
	})

	if err := g.Wait(); err != nil {
		if scoreErr != nil {
			return nil, 0, 0, scoreErr
		}
		return nil, 0, 0, fmt.Errorf("rule evaluation failed: %w", rulesErr)
	}

	return &domain.ScoredProfile{
		RawPrediction:      raw,
		DefaultProbability: prob,
		Flags:              rules.Flags(results),
		CriticalViolations: rules.CriticalViolations(results),
		RulesEvaluated:     len(results),
	}, scoreMs, rulesMs, nil
}

// Bundle returns the loaded model bundle.
func (a *Assessor) Bundle() *model.Bundle { return a.bundle }

// Engine returns the rule engine.
func (a *Assessor) Engine() *rules.Engine { return a.engine }

// OverrideThreshold is the violation count that forces HighRisk.
func (a *Assessor) OverrideThreshold() int { return a.processor.OverrideThreshold }

// Fingerprint identifies a profile under a model version and rule set. Two
// profiles with the same fingerprint produce the same scored result.
func Fingerprint(modelVersion, ruleSetVersion string, p *domain.ApplicantProfile) string {
	h := xxhash.New()
	fields := []string{
		modelVersion,
		ruleSetVersion,
		strconv.Itoa(p.Age),
		p.Gender,
		p.MaritalStatus,
		p.EmploymentType,
		strconv.FormatFloat(p.MonthlyIncome, 'g', -1, 64),
		strconv.Itoa(p.NumberOfDependents),
		p.EducationLevel,
		strconv.FormatFloat(p.LoanAmount, 'g', -1, 64),
		p.LoanType,
		strconv.Itoa(p.RepaymentPeriodMonths),
		strconv.FormatFloat(p.InterestRatePercent, 'g', -1, 64),
		p.Purpose,
		p.ResidentialAreaType,
		p.SectorOfActivity,
	}
	for _, f := range fields {
		_, _ = h.WriteString(f)
		_, _ = h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
