// Package worker assesses queued loan applications from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/assessment"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// GlobalTenant is the bus tenant used when no tenants are configured.
// Messages published there must name their tenant in the payload.
const GlobalTenant = "_global"

// Worker consumes submitted applications and records their assessments.
type Worker struct {
	bus      domain.EventBus
	assessor *assessment.Assessor
	recorder *assessment.Recorder

	mu            sync.Mutex
	subscriptions []domain.Subscription
	stopping      bool
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = GlobalTenant)
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, assessor *assessment.Assessor, recorder *assessment.Recorder) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		assessor: assessor,
		recorder: recorder,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ApplicationMessage is the payload of kestrel.application.submitted.
type ApplicationMessage struct {
	ApplicationID   string                  `json:"applicationId"`
	TenantID        string                  `json:"tenantId,omitempty"`
	TraceID         string                  `json:"traceId,omitempty"`
	ApplicantName   string                  `json:"applicantName,omitempty"`
	OfficerUsername string                  `json:"officerUsername,omitempty"`
	Profile         domain.ApplicantProfile `json:"profile"`
}

// Start subscribes to submitted applications for the given tenants.
func (w *Worker) Start(cfg Config) error {
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{GlobalTenant}
	}

	started := 0
	for _, tenantID := range tenants {
		if err := w.subscribe(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		started++
	}

	if started == 0 {
		return fmt.Errorf("no worker subscriptions could be started")
	}

	slog.Info("workers started", "tenant_count", started)
	return nil
}

func (w *Worker) subscribe(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicApplicationSubmitted, func(ctx context.Context, msg *domain.Message) error {
		w.mu.Lock()
		if w.stopping {
			w.mu.Unlock()
			return nil
		}
		w.wg.Add(1)
		w.mu.Unlock()
		defer w.wg.Done()

		// Unsubscribing cancels ctx; an accepted application still finishes.
		return w.process(context.WithoutCancel(ctx), tenantID, msg)
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicApplicationSubmitted,
	)
	return nil
}

// process assesses one application. Bad input is published as a rejection.
// Any other failure is logged and the application is neither saved nor
// rejected.
func (w *Worker) process(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var app ApplicationMessage
	if err := json.Unmarshal(msg.Payload, &app); err != nil {
		slog.Warn("failed to parse application message",
			"message_id", msg.ID,
			"error", err,
		)
		w.recorder.Reject(ctx, &assessment.Rejection{
			ApplicationID: msg.ID,
			TenantID:      tenantID,
			Error:         "invalid payload: " + err.Error(),
		})
		return nil
	}

	if tenantID == GlobalTenant && app.TenantID != "" {
		tenantID = app.TenantID
	}
	if app.ApplicationID == "" {
		app.ApplicationID = msg.ID
	}
	traceID := app.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	result, err := w.assessor.AssessApplication(ctx, &assessment.Application{
		TenantID:        tenantID,
		TraceID:         traceID,
		ApplicantName:   app.ApplicantName,
		OfficerUsername: app.OfficerUsername,
		Profile:         app.Profile,
	})
	if err != nil && !isInputError(err) {
		slog.Error("failed to assess application",
			"application_id", app.ApplicationID,
			"tenant_id", tenantID,
			"error", err,
		)
		return nil
	}
	if err != nil {
		slog.Warn("application rejected",
			"application_id", app.ApplicationID,
			"tenant_id", tenantID,
			"error", err,
		)
		w.recorder.Reject(ctx, &assessment.Rejection{
			ApplicationID: app.ApplicationID,
			TenantID:      tenantID,
			TraceID:       traceID,
			Error:         err.Error(),
		})
		return nil
	}

	w.recorder.Record(ctx, result)

	slog.Info("application assessed",
		"application_id", app.ApplicationID,
		"assessment_id", result.ID,
		"tenant_id", tenantID,
		"decision", result.FinalDecision,
		"overridden", result.Overridden,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

func isInputError(err error) bool {
	return errors.Is(err, domain.ErrMalformedProfile) || errors.Is(err, domain.ErrUnknownCategory)
}

// Stop unsubscribes and waits for in-flight applications to be recorded.
func (w *Worker) Stop() error {
	w.mu.Lock()
	w.stopping = true
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()
	w.cancel()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
