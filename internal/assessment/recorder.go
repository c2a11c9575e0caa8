package assessment

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/telemetry"
)

// Recorder persists completed assessments and announces them on the bus.
// Both steps are best effort: the caller already has its decision.
type Recorder struct {
	repo    domain.Repository
	bus     domain.EventBus
	metrics *telemetry.Metrics
}

// NewRecorder creates a Recorder. repo and eventBus may be nil.
func NewRecorder(repo domain.Repository, eventBus domain.EventBus) *Recorder {
	return &Recorder{repo: repo, bus: eventBus}
}

// WithMetrics makes the recorder count what it records.
func (r *Recorder) WithMetrics(m *telemetry.Metrics) *Recorder {
	r.metrics = m
	return r
}

// Record saves a and publishes the completed event, plus the high-risk
// event for HighRisk decisions. It reports whether the record was saved.
func (r *Recorder) Record(ctx context.Context, a *domain.Assessment) bool {
	r.metrics.ObserveAssessment(a)

	saved := false
	if r.repo != nil {
		if err := r.repo.SaveAssessment(ctx, a.TenantID, a); err != nil {
			slog.Error("failed to save assessment",
				"assessment_id", a.ID,
				"tenant_id", a.TenantID,
				"error", err,
			)
		} else {
			saved = true
		}
	}

	if r.bus == nil {
		return saved
	}

	event := a.ToResponse()
	if err := bus.PublishJSON(ctx, r.bus, a.TenantID, domain.TopicAssessmentCompleted, event); err != nil {
		slog.Error("failed to publish assessment",
			"assessment_id", a.ID,
			"error", err,
		)
	}

	if decision.IsHighRisk(a) {
		if err := bus.PublishJSON(ctx, r.bus, a.TenantID, domain.TopicAssessmentHighRisk, event); err != nil {
			slog.Error("failed to publish high risk alert",
				"assessment_id", a.ID,
				"error", err,
			)
		}
	}

	return saved
}

// Rejection is published when a queued application cannot be assessed.
type Rejection struct {
	ApplicationID string `json:"applicationId"`
	TenantID      string `json:"tenantId"`
	TraceID       string `json:"traceId,omitempty"`
	Error         string `json:"error"`
}

// Reject publishes a rejection event.
func (r *Recorder) Reject(ctx context.Context, rej *Rejection) {
	r.metrics.ObserveRejection()
	if r.bus == nil {
		return
	}
	if err := bus.PublishJSON(ctx, r.bus, rej.TenantID, domain.TopicAssessmentRejected, rej); err != nil {
		slog.Error("failed to publish rejection",
			"application_id", rej.ApplicationID,
			"error", err,
		)
	}
}
