package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/assessment"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

type harness struct {
	bus      *bus.ChannelBus
	repo     domain.Repository
	assessor *assessment.Assessor
	recorder *assessment.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: repository.MemoryPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	bundle, err := model.LoadFile(filepath.Join("..", "model", "testdata", "logistic.json"))
	if err != nil {
		t.Fatalf("failed to load bundle: %v", err)
	}
	engine, err := rules.NewEngine(rules.BuiltinRules(), 5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	return &harness{
		bus:      eventBus,
		repo:     repo,
		assessor: assessment.NewAssessor(bundle, engine, decision.NewProcessor(decision.DefaultOverrideThreshold), nil, 0),
		recorder: assessment.NewRecorder(repo, eventBus),
	}
}

// collect subscribes to topic and returns a channel of received payloads.
func (h *harness) collect(t *testing.T, tenantID, topic string) <-chan []byte {
	t.Helper()
	ch := make(chan []byte, 10)
	_, err := h.bus.Subscribe(context.Background(), tenantID, topic, func(ctx context.Context, msg *domain.Message) error {
		ch <- msg.Payload
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	return ch
}

func (h *harness) submit(t *testing.T, tenantID string, app ApplicationMessage) {
	t.Helper()
	if err := bus.PublishJSON(context.Background(), h.bus, tenantID, domain.TopicApplicationSubmitted, app); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
}

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func riskyProfile() domain.ApplicantProfile {
	return domain.ApplicantProfile{
		Age:                   19,
		Gender:                domain.GenderMale,
		MaritalStatus:         domain.MaritalSingle,
		EmploymentType:        domain.EmploymentUnemployed,
		MonthlyIncome:         60,
		NumberOfDependents:    5,
		EducationLevel:        domain.EducationPrimary,
		LoanAmount:            100,
		LoanType:              domain.LoanTypeIndividual,
		RepaymentPeriodMonths: 3,
		InterestRatePercent:   10,
		Purpose:               domain.PurposeFood,
		ResidentialAreaType:   domain.AreaRural,
		SectorOfActivity:      domain.SectorAgriculture,
	}
}

func TestWorkerStartAndStop(t *testing.T) {
	h := newHarness(t)
	w := NewWorker(h.bus, h.assessor, h.recorder)

	if err := w.Start(Config{TenantIDs: []string{"tenant-a", "tenant-b"}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stats := w.GetStats()
	if stats.SubscriptionCount != 2 {
		t.Errorf("expected 2 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
	}
	for _, topic := range stats.Topics {
		if topic != domain.TopicApplicationSubmitted {
			t.Errorf("unexpected topic %s", topic)
		}
	}

	if err := w.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if w.GetStats().SubscriptionCount != 0 {
		t.Error("expected no subscriptions after stop")
	}
}

func TestWorkerStartFailsWhenBusClosed(t *testing.T) {
	h := newHarness(t)
	h.bus.Close()

	w := NewWorker(h.bus, h.assessor, h.recorder)
	if err := w.Start(Config{TenantIDs: []string{"tenant-a"}}); err == nil {
		t.Error("expected error when no subscription can start")
	}
}

func TestWorkerProcessesApplication(t *testing.T) {
	h := newHarness(t)
	tenantID := "tenant-001"

	w := NewWorker(h.bus, h.assessor, h.recorder)
	if err := w.Start(Config{TenantIDs: []string{tenantID}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	completed := h.collect(t, tenantID, domain.TopicAssessmentCompleted)
	highRisk := h.collect(t, tenantID, domain.TopicAssessmentHighRisk)

	h.submit(t, tenantID, ApplicationMessage{
		ApplicationID:   "app-001",
		TraceID:         "trace-001",
		ApplicantName:   "Rudo Banda",
		OfficerUsername: "officer1",
		Profile:         riskyProfile(),
	})

	var resp domain.AssessmentResponse
	if err := json.Unmarshal(receive(t, completed), &resp); err != nil {
		t.Fatalf("failed to parse completed event: %v", err)
	}

	if resp.FinalDecision != domain.DecisionHighRisk || !resp.Overridden {
		t.Errorf("expected overridden HighRisk, got %s/%v", resp.FinalDecision, resp.Overridden)
	}
	if resp.CriticalViolations != 5 {
		t.Errorf("expected 5 violations, got %d", resp.CriticalViolations)
	}
	if resp.Metadata.TraceID != "trace-001" {
		t.Errorf("expected trace id to be carried, got %s", resp.Metadata.TraceID)
	}

	receive(t, highRisk)

	stored, err := h.repo.GetAssessment(context.Background(), tenantID, resp.AssessmentID)
	if err != nil {
		t.Fatalf("expected assessment to be stored: %v", err)
	}
	if stored.ApplicantName != "Rudo Banda" || stored.OfficerUsername != "officer1" {
		t.Errorf("unexpected stored record %+v", stored)
	}
}

func TestWorkerRejectsBadApplications(t *testing.T) {
	h := newHarness(t)
	tenantID := "tenant-001"

	w := NewWorker(h.bus, h.assessor, h.recorder)
	if err := w.Start(Config{TenantIDs: []string{tenantID}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	rejected := h.collect(t, tenantID, domain.TopicAssessmentRejected)

	t.Run("UnknownCategory", func(t *testing.T) {
		p := riskyProfile()
		p.Purpose = "Wedding"
		h.submit(t, tenantID, ApplicationMessage{ApplicationID: "app-bad", Profile: p})

		var rej assessment.Rejection
		if err := json.Unmarshal(receive(t, rejected), &rej); err != nil {
			t.Fatalf("failed to parse rejection: %v", err)
		}
		if rej.ApplicationID != "app-bad" || rej.TenantID != tenantID || rej.Error == "" {
			t.Errorf("unexpected rejection %+v", rej)
		}
	})

	t.Run("InvalidPayload", func(t *testing.T) {
		h.bus.Publish(context.Background(), tenantID, domain.TopicApplicationSubmitted, []byte("not json"))

		var rej assessment.Rejection
		if err := json.Unmarshal(receive(t, rejected), &rej); err != nil {
			t.Fatalf("failed to parse rejection: %v", err)
		}
		if rej.ApplicationID == "" {
			t.Error("expected the message id to identify the rejected payload")
		}
	})

	summary, _ := h.repo.PortfolioSummary(context.Background(), tenantID)
	if summary.TotalApplications != 0 {
		t.Errorf("rejected applications must not be stored, got %d", summary.TotalApplications)
	}
}

func TestWorkerGlobalTenant(t *testing.T) {
	h := newHarness(t)

	w := NewWorker(h.bus, h.assessor, h.recorder)
	if err := w.Start(Config{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	completed := h.collect(t, "tenant-xyz", domain.TopicAssessmentCompleted)

	h.submit(t, GlobalTenant, ApplicationMessage{
		ApplicationID: "app-global",
		TenantID:      "tenant-xyz",
		Profile:       riskyProfile(),
	})

	var resp domain.AssessmentResponse
	json.Unmarshal(receive(t, completed), &resp)
	if resp.TenantID != "tenant-xyz" {
		t.Errorf("expected payload tenant to be used, got %s", resp.TenantID)
	}
}

func TestWorkerConcurrentTenants(t *testing.T) {
	h := newHarness(t)
	tenants := []string{"tenant-a", "tenant-b", "tenant-c"}

	w := NewWorker(h.bus, h.assessor, h.recorder)
	if err := w.Start(Config{TenantIDs: tenants}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	completed := make(map[string]<-chan []byte)
	for _, tenantID := range tenants {
		completed[tenantID] = h.collect(t, tenantID, domain.TopicAssessmentCompleted)
	}

	for i := 0; i < 3; i++ {
		for _, tenantID := range tenants {
			h.submit(t, tenantID, ApplicationMessage{Profile: riskyProfile()})
		}
	}

	for _, tenantID := range tenants {
		for i := 0; i < 3; i++ {
			receive(t, completed[tenantID])
		}
	}

	for _, tenantID := range tenants {
		list, err := h.repo.ListAssessments(context.Background(), tenantID, domain.AssessmentFilter{})
		if err != nil {
			t.Fatalf("ListAssessments failed: %v", err)
		}
		if len(list) != 3 {
			t.Errorf("%s: expected 3 stored assessments, got %d", tenantID, len(list))
		}
	}
}

func expectNothing(t *testing.T, ch <-chan []byte) {
	t.Helper()
	select {
	case p := <-ch:
		t.Errorf("expected no event, got %s", p)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWorkerInternalFailureIsNotRejection(t *testing.T) {
	h := newHarness(t)
	tenantID := "tenant-001"
	rejected := h.collect(t, tenantID, domain.TopicAssessmentRejected)

	w := NewWorker(h.bus, h.assessor, h.recorder)
	payload, _ := json.Marshal(ApplicationMessage{ApplicationID: "app-1", Profile: riskyProfile()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.process(ctx, tenantID, &domain.Message{ID: "msg-1", Payload: payload}); err != nil {
		t.Fatalf("process returned error: %v", err)
	}

	expectNothing(t, rejected)
}

func TestWorkerStopDuringDelivery(t *testing.T) {
	h := newHarness(t)
	tenantID := "tenant-001"
	rejected := h.collect(t, tenantID, domain.TopicAssessmentRejected)

	w := NewWorker(h.bus, h.assessor, h.recorder)
	if err := w.Start(Config{TenantIDs: []string{tenantID}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		h.submit(t, tenantID, ApplicationMessage{Profile: riskyProfile()})
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	expectNothing(t, rejected)

	// Whatever was picked up before Stop returned must be saved in full.
	list, err := h.repo.ListAssessments(context.Background(), tenantID, domain.AssessmentFilter{})
	if err != nil {
		t.Fatalf("ListAssessments failed: %v", err)
	}
	for _, a := range list {
		if a.CriticalViolations != 5 {
			t.Errorf("expected a complete assessment, got %+v", a)
		}
	}

	// Deliveries after Stop are ignored.
	h.submit(t, tenantID, ApplicationMessage{Profile: riskyProfile()})
	expectNothing(t, rejected)
}
