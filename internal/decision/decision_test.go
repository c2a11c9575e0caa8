package decision

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestFuse(t *testing.T) {
	proc := NewProcessor(DefaultOverrideThreshold)

	tests := []struct {
		name       string
		raw        int
		violations int
		decision   domain.Decision
		overridden bool
	}{
		{"NoViolationsLowRisk", 0, 0, domain.DecisionLowRisk, false},
		{"NoViolationsHighRisk", 1, 0, domain.DecisionHighRisk, false},
		{"OneViolationKeepsModel", 0, 1, domain.DecisionLowRisk, false},
		{"OneViolationKeepsHighRisk", 1, 1, domain.DecisionHighRisk, false},
		{"TwoViolationsOverride", 0, 2, domain.DecisionHighRisk, true},
		{"FiveViolationsOverride", 0, 5, domain.DecisionHighRisk, true},
		{"OverrideWhenAlreadyHighRisk", 1, 2, domain.DecisionHighRisk, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, overridden := proc.Fuse(tt.raw, tt.violations)
			if decision != tt.decision {
				t.Errorf("expected %s, got %s", tt.decision, decision)
			}
			if overridden != tt.overridden {
				t.Errorf("expected overridden=%v, got %v", tt.overridden, overridden)
			}
		})
	}
}

func TestNewProcessorDefaults(t *testing.T) {
	if p := NewProcessor(0); p.OverrideThreshold != DefaultOverrideThreshold {
		t.Errorf("expected default threshold, got %d", p.OverrideThreshold)
	}

	p := NewProcessor(3)
	if d, o := p.Fuse(0, 2); d != domain.DecisionLowRisk || o {
		t.Errorf("threshold 3 should not override at 2 violations, got %s/%v", d, o)
	}
	if d, o := p.Fuse(0, 3); d != domain.DecisionHighRisk || !o {
		t.Errorf("threshold 3 should override at 3 violations, got %s/%v", d, o)
	}
}

func TestProcessor(t *testing.T) {
	proc := NewProcessor(DefaultOverrideThreshold)
	ctx := context.Background()

	t.Run("ModelDecisionStands", func(t *testing.T) {
		input := &DecisionInput{
			TenantID:     "tenant-001",
			TraceID:      "trace-001",
			ModelVersion: "v1",
			StartTime:    time.Now(),
			Score: &domain.ScoredProfile{
				RawPrediction:      1,
				DefaultProbability: 0.73,
				Flags:              []domain.RiskFlag{{RuleID: "loan-burden", Message: "burden"}},
				CriticalViolations: 1,
				RulesEvaluated:     5,
			},
		}

		a := proc.Process(ctx, input)

		if a.FinalDecision != domain.DecisionHighRisk || a.Overridden {
			t.Errorf("expected HighRisk without override, got %s/%v", a.FinalDecision, a.Overridden)
		}
		if a.DefaultProbability != 0.73 {
			t.Errorf("probability must pass through unchanged, got %v", a.DefaultProbability)
		}
		if a.ID == "" {
			t.Error("expected assessment ID")
		}
		if a.TenantID != "tenant-001" {
			t.Errorf("expected tenantID 'tenant-001', got '%s'", a.TenantID)
		}
		if a.Metadata.TraceID != "trace-001" || a.Metadata.ModelVersion != "v1" {
			t.Errorf("unexpected metadata: %+v", a.Metadata)
		}
		if a.Metadata.RulesEvaluated != 5 || a.Metadata.EngineVersion != EngineVersion {
			t.Errorf("unexpected metadata: %+v", a.Metadata)
		}
	})

	t.Run("Override", func(t *testing.T) {
		input := &DecisionInput{
			TenantID:  "tenant-001",
			StartTime: time.Now(),
			Score: &domain.ScoredProfile{
				RawPrediction:      0,
				DefaultProbability: 0.12,
				Flags: []domain.RiskFlag{
					{RuleID: "loan-burden", Message: "burden"},
					{RuleID: "income-floor", Message: "income"},
				},
				CriticalViolations: 2,
			},
		}

		a := proc.Process(ctx, input)

		if a.FinalDecision != domain.DecisionHighRisk || !a.Overridden {
			t.Errorf("expected overridden HighRisk, got %s/%v", a.FinalDecision, a.Overridden)
		}
		if a.RawPrediction != 0 || a.CriticalViolations != 2 {
			t.Errorf("audit fields not kept: raw=%d violations=%d", a.RawPrediction, a.CriticalViolations)
		}
		if a.DefaultProbability != 0.12 {
			t.Errorf("probability must not be adjusted by override, got %v", a.DefaultProbability)
		}
		if !IsHighRisk(a) {
			t.Error("expected IsHighRisk")
		}

		reasons := Reasons(a)
		if len(reasons) != 2 || reasons[0] != "burden" || reasons[1] != "income" {
			t.Errorf("unexpected reasons %v", reasons)
		}
	})

	t.Run("NilFlagsBecomeEmpty", func(t *testing.T) {
		a := proc.Process(ctx, &DecisionInput{
			StartTime: time.Now(),
			Score:     &domain.ScoredProfile{},
		})
		if a.Flags == nil {
			t.Error("expected empty flags, got nil")
		}
		if a.FinalDecision != domain.DecisionLowRisk || IsHighRisk(a) {
			t.Errorf("expected LowRisk, got %s", a.FinalDecision)
		}
	})

	t.Run("UniqueIDs", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			a := proc.Process(ctx, &DecisionInput{StartTime: time.Now(), Score: &domain.ScoredProfile{}})
			if seen[a.ID] {
				t.Fatalf("duplicate assessment ID %s", a.ID)
			}
			seen[a.ID] = true
		}
	})
}
