package assessment

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/telemetry"
)

func subscribe(t *testing.T, b domain.EventBus, tenantID, topic string) <-chan *domain.Message {
	t.Helper()
	ch := make(chan *domain.Message, 4)
	_, err := b.Subscribe(context.Background(), tenantID, topic, func(ctx context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	return ch
}

func waitFor(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	assessor := newTestAssessor(t, nil)

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: repository.MemoryPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	metrics := telemetry.NewMetrics()
	recorder := NewRecorder(repo, eventBus).WithMetrics(metrics)

	t.Run("HighRiskIsSavedAndAnnounced", func(t *testing.T) {
		completed := subscribe(t, eventBus, "tenant-001", domain.TopicAssessmentCompleted)
		alerts := subscribe(t, eventBus, "tenant-001", domain.TopicAssessmentHighRisk)

		// loan 300 against income 250 scores above one half
		a, err := assessor.Assess(ctx, "tenant-001", baseProfile())
		if err != nil {
			t.Fatalf("Assess failed: %v", err)
		}
		if a.FinalDecision != domain.DecisionHighRisk {
			t.Fatalf("expected HighRisk, got %s", a.FinalDecision)
		}

		if !recorder.Record(ctx, a) {
			t.Fatal("expected record to be saved")
		}
		if _, err := repo.GetAssessment(ctx, "tenant-001", a.ID); err != nil {
			t.Errorf("expected stored assessment: %v", err)
		}

		var event domain.AssessmentResponse
		if err := json.Unmarshal(waitFor(t, completed).Payload, &event); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if event.AssessmentID != a.ID {
			t.Errorf("expected event for %s, got %s", a.ID, event.AssessmentID)
		}
		waitFor(t, alerts)
	})

	t.Run("NothingConfigured", func(t *testing.T) {
		a, _ := assessor.Assess(ctx, "tenant-001", baseProfile())
		if NewRecorder(nil, nil).Record(ctx, a) {
			t.Error("expected saved=false without repository")
		}
	})

	t.Run("SaveFailureIsNotFatal", func(t *testing.T) {
		a, _ := assessor.Assess(ctx, "", baseProfile())
		if recorder.Record(ctx, a) {
			t.Error("expected saved=false for an empty tenant")
		}
	})

	t.Run("Reject", func(t *testing.T) {
		rejected := subscribe(t, eventBus, "tenant-001", domain.TopicAssessmentRejected)

		recorder.Reject(ctx, &Rejection{ApplicationID: "app-1", TenantID: "tenant-001", Error: "bad profile"})

		var rej Rejection
		if err := json.Unmarshal(waitFor(t, rejected).Payload, &rej); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if rej.ApplicationID != "app-1" || rej.Error != "bad profile" {
			t.Errorf("unexpected rejection %+v", rej)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		n, err := testutil.GatherAndCount(metrics.Registry(), "kestrel_assessments_total", "kestrel_applications_rejected_total")
		if err != nil {
			t.Fatalf("gather failed: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 metric series, got %d", n)
		}
	})
}
