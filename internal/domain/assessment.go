package domain

import (
	"time"
)

// Decision is the final risk verdict for an application.
type Decision string

const (
	DecisionLowRisk  Decision = "LowRisk"
	DecisionHighRisk Decision = "HighRisk"
)

// Raw classifier classes.
const (
	PredictionNoDefault = 0
	PredictionDefault   = 1
)

// DecisionFromPrediction maps a raw classifier class to a Decision.
func DecisionFromPrediction(prediction int) Decision {
	if prediction == PredictionDefault {
		return DecisionHighRisk
	}
	return DecisionLowRisk
}

// RiskFlag is a human-readable explanation emitted by a triggered rule.
type RiskFlag struct {
	RuleID  string `json:"ruleId"`
	Message string `json:"message"`
}

// AssessmentResult is the outcome of one pass through the pipeline.
type AssessmentResult struct {
	FinalDecision      Decision   `json:"finalDecision"`
	DefaultProbability float64    `json:"defaultProbability"`
	Flags              []RiskFlag `json:"flags"`
	Overridden         bool       `json:"overridden"`
}

// Assessment is the auditable record of an assessment request.
type Assessment struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenantId"`
	ApplicantName   string    `json:"applicantName,omitempty"`
	OfficerUsername string    `json:"officerUsername,omitempty"`
	Timestamp       time.Time `json:"timestamp"`

	AssessmentResult

	// Inputs to the fuser, kept for the audit trail.
	RawPrediction      int `json:"rawPrediction"`
	CriticalViolations int `json:"criticalViolations"`

	Profile  ApplicantProfile   `json:"profile"`
	Metadata AssessmentMetadata `json:"metadata"`
}

// AssessmentMetadata contains processing information.
type AssessmentMetadata struct {
	TraceID        string `json:"traceId"`
	ModelVersion   string `json:"modelVersion"`
	ScoreMs        int64  `json:"scoreMs"`
	RulesMs        int64  `json:"rulesMs"`
	DecisionMs     int64  `json:"decisionMs"`
	TotalMs        int64  `json:"totalMs"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	CacheHit       bool   `json:"cacheHit"`
	EngineVersion  string `json:"engineVersion"`
}

// ScoredProfile is the deterministic part of an assessment: everything the
// classifier and rule engine produce for a given profile and bundle.
type ScoredProfile struct {
	RawPrediction      int        `json:"rawPrediction"`
	DefaultProbability float64    `json:"defaultProbability"`
	Flags              []RiskFlag `json:"flags"`
	CriticalViolations int        `json:"criticalViolations"`
	RulesEvaluated     int        `json:"rulesEvaluated"`
}

// AssessmentResponse is the API response for an assessment.
type AssessmentResponse struct {
	AssessmentID       string             `json:"assessmentId"`
	TenantID           string             `json:"tenantId"`
	FinalDecision      Decision           `json:"finalDecision"`
	DefaultProbability float64            `json:"defaultProbability"`
	Flags              []RiskFlag         `json:"flags"`
	Overridden         bool               `json:"overridden"`
	RawPrediction      int                `json:"rawPrediction"`
	CriticalViolations int                `json:"criticalViolations"`
	Metadata           AssessmentMetadata `json:"metadata"`
}

// ToResponse converts an Assessment to an API response.
func (a *Assessment) ToResponse() *AssessmentResponse {
	flags := a.Flags
	if flags == nil {
		flags = []RiskFlag{}
	}
	return &AssessmentResponse{
		AssessmentID:       a.ID,
		TenantID:           a.TenantID,
		FinalDecision:      a.FinalDecision,
		DefaultProbability: a.DefaultProbability,
		Flags:              flags,
		Overridden:         a.Overridden,
		RawPrediction:      a.RawPrediction,
		CriticalViolations: a.CriticalViolations,
		Metadata:           a.Metadata,
	}
}

// AssessmentFilter narrows ListAssessments.
type AssessmentFilter struct {
	Decision Decision
	Officer  string
	Limit    int
}

// PortfolioSummary aggregates stored assessments for the dashboard.
type PortfolioSummary struct {
	TotalApplications int            `json:"totalApplications"`
	LowRisk           int            `json:"lowRisk"`
	HighRisk          int            `json:"highRisk"`
	Overridden        int            `json:"overridden"`
	ApprovalRate      float64        `json:"approvalRate"`
	AvgLoanAmount     float64        `json:"avgLoanAmount"`
	PurposeCounts     map[string]int `json:"purposeCounts"`
}
