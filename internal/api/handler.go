package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/opensource-finance/kestrel/internal/assessment"
	"github.com/opensource-finance/kestrel/internal/auth"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// maxBodyBytes bounds request bodies; a profile is a few hundred bytes.
const maxBodyBytes = 1 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	assessor *assessment.Assessor
	recorder *assessment.Recorder
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	users    *auth.Service
	version  string
	validate *validator.Validate
}

// NewHandler creates a new API handler. repo, cache, bus and users may be nil.
func NewHandler(assessor *assessment.Assessor, repo domain.Repository, cache domain.Cache, bus domain.EventBus, users *auth.Service, version string) *Handler {
	return &Handler{
		assessor: assessor,
		recorder: assessment.NewRecorder(repo, bus),
		repo:     repo,
		cache:    cache,
		bus:      bus,
		users:    users,
		version:  version,
		validate: validator.New(),
	}
}

// AssessRequest is the request body for POST /assessments.
type AssessRequest struct {
	ApplicantName   string                  `json:"applicantName,omitempty"`
	OfficerUsername string                  `json:"officerUsername,omitempty"`
	Profile         domain.ApplicantProfile `json:"profile"`
}

// AssessResponse is the response for POST /assessments.
type AssessResponse struct {
	*domain.AssessmentResponse
	Reasons   []string `json:"reasons"`
	Persisted bool     `json:"persisted"`
}

// Assess handles POST /assessments.
func (h *Handler) Assess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AssessRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	officer := req.OfficerUsername
	if user := GetUser(ctx); user != nil {
		officer = user.Username
	}

	result, err := h.assessor.AssessApplication(ctx, &assessment.Application{
		TenantID:        GetTenantID(ctx),
		TraceID:         GetTraceID(ctx),
		ApplicantName:   strings.TrimSpace(req.ApplicantName),
		OfficerUsername: officer,
		Profile:         req.Profile,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownCategory):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, domain.ErrMalformedProfile):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			slog.Error("assessment failed", "tenant_id", GetTenantID(ctx), "error", err)
			writeError(w, http.StatusInternalServerError, "assessment failed")
		}
		return
	}

	persisted := h.recorder.Record(ctx, result)

	writeJSON(w, http.StatusOK, AssessResponse{
		AssessmentResponse: result.ToResponse(),
		Reasons:            decision.Reasons(result),
		Persisted:          persisted,
	})
}

// ListAssessments handles GET /assessments?decision=&officer=&limit=.
func (h *Handler) ListAssessments(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	q := r.URL.Query()
	filter := domain.AssessmentFilter{
		Decision: domain.Decision(q.Get("decision")),
		Officer:  q.Get("officer"),
	}
	if filter.Decision != "" && filter.Decision != domain.DecisionLowRisk && filter.Decision != domain.DecisionHighRisk {
		writeError(w, http.StatusBadRequest, "decision must be LowRisk or HighRisk")
		return
	}
	limit, ok := parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}
	filter.Limit = limit

	list, err := h.repo.ListAssessments(r.Context(), GetTenantID(r.Context()), filter)
	if err != nil {
		slog.Error("failed to list assessments", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list assessments")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"assessments": list,
		"count":       len(list),
	})
}

// GetAssessment handles GET /assessments/{id}.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	id := chi.URLParam(r, "id")
	a, err := h.repo.GetAssessment(r.Context(), GetTenantID(r.Context()), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "assessment not found")
			return
		}
		slog.Error("failed to get assessment", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get assessment")
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// ListRules returns the rules loaded in the engine, in evaluation order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.assessor.Engine().Rules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules":             loaded,
		"count":             len(loaded),
		"version":           h.assessor.Engine().Version(),
		"overrideThreshold": h.assessor.OverrideThreshold(),
	})
}

// ModelInfo describes the loaded model bundle.
func (h *Handler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.assessor.Bundle().Info())
}

// PortfolioSummary handles GET /portfolio/summary.
func (h *Handler) PortfolioSummary(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	s, err := h.repo.PortfolioSummary(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		slog.Error("failed to build portfolio summary", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build portfolio summary")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// BorrowerRequest is the request body for POST /borrowers.
type BorrowerRequest struct {
	BorrowerID            string  `json:"borrowerId" validate:"required,max=64"`
	Name                  string  `json:"name" validate:"required,max=128"`
	CurrentRiskLevel      string  `json:"currentRiskLevel" validate:"required,oneof=Low Medium High"`
	RepaymentHistoryScore float64 `json:"repaymentHistoryScore" validate:"gte=0,lte=100"`
}

// SaveBorrower handles POST /borrowers. Existing borrowers are updated.
func (h *Handler) SaveBorrower(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	var req BorrowerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	b := &domain.Borrower{
		BorrowerID:            req.BorrowerID,
		Name:                  req.Name,
		CurrentRiskLevel:      req.CurrentRiskLevel,
		RepaymentHistoryScore: req.RepaymentHistoryScore,
	}
	if user := GetUser(r.Context()); user != nil {
		b.OfficerUsername = user.Username
	}

	if err := h.repo.SaveBorrower(r.Context(), GetTenantID(r.Context()), b); err != nil {
		slog.Error("failed to save borrower", "borrower_id", req.BorrowerID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save borrower")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// ListBorrowers handles GET /borrowers?risk=High&limit=10.
func (h *Handler) ListBorrowers(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	q := r.URL.Query()
	risk := q.Get("risk")
	switch risk {
	case "", domain.RiskLevelLow, domain.RiskLevelMedium, domain.RiskLevelHigh:
	default:
		writeError(w, http.StatusBadRequest, "risk must be Low, Medium or High")
		return
	}
	limit, ok := parseLimit(w, q.Get("limit"))
	if !ok {
		return
	}

	list, err := h.repo.ListBorrowers(r.Context(), GetTenantID(r.Context()), risk, limit)
	if err != nil {
		slog.Error("failed to list borrowers", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list borrowers")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"borrowers": list,
		"count":     len(list),
	})
}

// BorrowerSummary handles GET /borrowers/summary.
func (h *Handler) BorrowerSummary(w http.ResponseWriter, r *http.Request) {
	if !h.requireRepo(w) {
		return
	}

	s, err := h.repo.BorrowerSummary(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		slog.Error("failed to build borrower summary", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build borrower summary")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Register handles POST /users.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if h.users == nil {
		writeError(w, http.StatusServiceUnavailable, "user store not available")
		return
	}

	var req auth.Registration
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.users.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidRegistration):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrUserExists):
			writeError(w, http.StatusConflict, err.Error())
		default:
			slog.Error("failed to register user", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to register user")
		}
		return
	}

	slog.Info("user registered", "username", user.Username)
	writeJSON(w, http.StatusCreated, user)
}

// UserExists handles GET /users/{username}.
func (h *Handler) UserExists(w http.ResponseWriter, r *http.Request) {
	if h.users == nil {
		writeError(w, http.StatusServiceUnavailable, "user store not available")
		return
	}

	username := chi.URLParam(r, "username")
	exists, err := h.users.Exists(r.Context(), username)
	if err != nil {
		slog.Error("failed to look up user", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to look up user")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"username": username,
		"exists":   true,
	})
}

// VerifyRequest is the request body for POST /auth/verify.
type VerifyRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Verify handles POST /auth/verify.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	if h.users == nil {
		writeError(w, http.StatusServiceUnavailable, "user store not available")
		return
	}

	var req VerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.users.Verify(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		slog.Error("failed to verify user", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to verify user")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid": true,
		"user":  user,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{}

	if h.repo != nil {
		checks["repository"] = "ok"
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
			checks["repository"] = err.Error()
		}
	}
	if h.cache != nil {
		checks["cache"] = "ok"
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
			checks["cache"] = err.Error()
		}
	}
	if h.bus != nil {
		checks["eventBus"] = "ok"
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
			checks["eventBus"] = err.Error()
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"version":      h.version,
		"modelVersion": h.assessor.Bundle().Version(),
		"checks":       checks,
	})
}

// Ready reports whether the model is loaded and the repository reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
				"error": err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return false
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	return true
}

func parseLimit(w http.ResponseWriter, raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" failed "+fe.Tag())
	}
	return "invalid request: " + strings.Join(fields, "; ")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
