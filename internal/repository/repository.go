// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("record already exists")
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 && cfg.SQLitePath != MemoryPath {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveAssessment stores an assessment record with tenant isolation.
func (r *SQLRepository) SaveAssessment(ctx context.Context, tenantID string, a *domain.Assessment) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if a == nil || a.ID == "" {
		return fmt.Errorf("%w: assessment id is required", ErrInvalidInput)
	}

	flags, err := json.Marshal(a.Flags)
	if err != nil {
		return fmt.Errorf("failed to encode flags: %w", err)
	}
	profile, err := json.Marshal(a.Profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		INSERT INTO assessments (
			id, tenant_id, applicant_name, officer_username, timestamp,
			age, gender, employment_type, monthly_income, loan_amount, purpose,
			final_decision, default_probability, raw_prediction, critical_violations, overridden,
			flags, profile, model_version, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	p := a.Profile
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		a.ID, tenantID, a.ApplicantName, a.OfficerUsername, a.Timestamp,
		p.Age, p.Gender, p.EmploymentType, p.MonthlyIncome, p.LoanAmount, p.Purpose,
		string(a.FinalDecision), a.DefaultProbability, a.RawPrediction, a.CriticalViolations, boolToInt(a.Overridden),
		string(flags), string(profile), a.Metadata.ModelVersion, string(metadata),
	)
	return err
}

const assessmentColumns = `
	id, tenant_id, applicant_name, officer_username, timestamp,
	final_decision, default_probability, raw_prediction, critical_violations, overridden,
	flags, profile, metadata
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row rowScanner) (*domain.Assessment, error) {
	var a domain.Assessment
	var applicantName, officer sql.NullString
	var decision, flags, profile, metadata string
	var overridden int

	if err := row.Scan(
		&a.ID, &a.TenantID, &applicantName, &officer, &a.Timestamp,
		&decision, &a.DefaultProbability, &a.RawPrediction, &a.CriticalViolations, &overridden,
		&flags, &profile, &metadata,
	); err != nil {
		return nil, err
	}

	a.ApplicantName = applicantName.String
	a.OfficerUsername = officer.String
	a.FinalDecision = domain.Decision(decision)
	a.Overridden = overridden == 1

	if err := json.Unmarshal([]byte(flags), &a.Flags); err != nil {
		return nil, fmt.Errorf("failed to parse flags for %s: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(profile), &a.Profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile for %s: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata for %s: %w", a.ID, err)
	}
	if a.Flags == nil {
		a.Flags = []domain.RiskFlag{}
	}

	return &a, nil
}

// GetAssessment retrieves an assessment by ID with tenant isolation.
func (r *SQLRepository) GetAssessment(ctx context.Context, tenantID string, assessmentID string) (*domain.Assessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + assessmentColumns + ` FROM assessments WHERE tenant_id = ? AND id = ?`

	a, err := scanAssessment(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, assessmentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAssessments returns the most recent assessments for a tenant.
func (r *SQLRepository) ListAssessments(ctx context.Context, tenantID string, filter domain.AssessmentFilter) ([]*domain.Assessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + assessmentColumns + ` FROM assessments WHERE tenant_id = ?`)
	args := []any{tenantID}

	if filter.Decision != "" {
		sb.WriteString(` AND final_decision = ?`)
		args = append(args, string(filter.Decision))
	}
	if filter.Officer != "" {
		sb.WriteString(` AND officer_username = ?`)
		args = append(args, filter.Officer)
	}
	sb.WriteString(` ORDER BY timestamp DESC LIMIT ?`)
	args = append(args, clampLimit(filter.Limit))

	rows, err := r.db.QueryContext(ctx, r.rebind(sb.String()), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PortfolioSummary aggregates a tenant's assessments for the dashboard.
func (r *SQLRepository) PortfolioSummary(ctx context.Context, tenantID string) (*domain.PortfolioSummary, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN final_decision = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN final_decision = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(overridden), 0),
			COALESCE(AVG(loan_amount), 0)
		FROM assessments
		WHERE tenant_id = ?
	`

	s := &domain.PortfolioSummary{PurposeCounts: make(map[string]int)}
	var avgLoan float64

	err := r.db.QueryRowContext(ctx, r.rebind(query),
		string(domain.DecisionLowRisk), string(domain.DecisionHighRisk), tenantID,
	).Scan(&s.TotalApplications, &s.LowRisk, &s.HighRisk, &s.Overridden, &avgLoan)
	if err != nil {
		return nil, err
	}

	if s.TotalApplications > 0 {
		s.ApprovalRate = round(float64(s.LowRisk)/float64(s.TotalApplications)*100, 1)
		s.AvgLoanAmount = round(avgLoan, 2)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT purpose, COUNT(*) FROM assessments
		WHERE tenant_id = ?
		GROUP BY purpose
	`), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var purpose string
		var n int
		if err := rows.Scan(&purpose, &n); err != nil {
			return nil, err
		}
		s.PurposeCounts[purpose] = n
	}

	return s, rows.Err()
}

// SaveUser stores a new credit officer. Returns ErrConflict if the username
// is taken.
func (r *SQLRepository) SaveUser(ctx context.Context, user *domain.User) error {
	if user == nil || user.Username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if user.PasswordHash == "" {
		return fmt.Errorf("%w: password hash is required", ErrInvalidInput)
	}

	role := user.Role
	if role == "" {
		role = domain.RoleCreditOfficer
	}
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO users (username, password_hash, email, full_name, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(username) DO NOTHING
	`

	res, err := r.db.ExecContext(ctx, r.rebind(query),
		user.Username, user.PasswordHash, user.Email, user.FullName, role, createdAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// GetUser retrieves a credit officer by username.
func (r *SQLRepository) GetUser(ctx context.Context, username string) (*domain.User, error) {
	query := `
		SELECT username, password_hash, email, full_name, role, created_at
		FROM users
		WHERE username = ?
	`

	var u domain.User
	var email, fullName sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), username).Scan(
		&u.Username, &u.PasswordHash, &email, &fullName, &u.Role, &u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	u.Email = email.String
	u.FullName = fullName.String
	return &u, nil
}

// UserExists reports whether a username is registered.
func (r *SQLRepository) UserExists(ctx context.Context, username string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT COUNT(*) FROM users WHERE username = ?`), username).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountUsers returns the number of registered users.
func (r *SQLRepository) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// SaveBorrower inserts or updates a tracked borrower, keyed by the
// tenant's borrower ID.
func (r *SQLRepository) SaveBorrower(ctx context.Context, tenantID string, b *domain.Borrower) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if b == nil || b.BorrowerID == "" {
		return fmt.Errorf("%w: borrower id is required", ErrInvalidInput)
	}

	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.LastUpdated.IsZero() {
		b.LastUpdated = time.Now().UTC()
	}
	b.TenantID = tenantID

	query := `
		INSERT INTO borrowers (
			id, tenant_id, borrower_id, name, current_risk_level,
			repayment_history_score, officer_username, last_updated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, borrower_id) DO UPDATE SET
			name = excluded.name,
			current_risk_level = excluded.current_risk_level,
			repayment_history_score = excluded.repayment_history_score,
			officer_username = excluded.officer_username,
			last_updated = excluded.last_updated
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		b.ID, tenantID, b.BorrowerID, b.Name, b.CurrentRiskLevel,
		b.RepaymentHistoryScore, b.OfficerUsername, b.LastUpdated,
	)
	return err
}

// ListBorrowers returns a tenant's borrowers, worst repayment score first.
// An empty riskLevel returns every level.
func (r *SQLRepository) ListBorrowers(ctx context.Context, tenantID string, riskLevel string, limit int) ([]*domain.Borrower, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, borrower_id, name, current_risk_level,
			   repayment_history_score, officer_username, last_updated
		FROM borrowers
		WHERE tenant_id = ?`
	args := []any{tenantID}
	if riskLevel != "" {
		query += ` AND current_risk_level = ?`
		args = append(args, riskLevel)
	}
	query += ` ORDER BY repayment_history_score ASC, borrower_id ASC LIMIT ?`
	args = append(args, clampLimit(limit))

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Borrower
	for rows.Next() {
		var b domain.Borrower
		var officer sql.NullString
		if err := rows.Scan(
			&b.ID, &b.TenantID, &b.BorrowerID, &b.Name, &b.CurrentRiskLevel,
			&b.RepaymentHistoryScore, &officer, &b.LastUpdated,
		); err != nil {
			return nil, err
		}
		b.OfficerUsername = officer.String
		out = append(out, &b)
	}
	return out, rows.Err()
}

// BorrowerSummary aggregates a tenant's tracked borrowers.
func (r *SQLRepository) BorrowerSummary(ctx context.Context, tenantID string) (*domain.BorrowerSummary, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	s := &domain.BorrowerSummary{RiskLevelDistribution: make(map[string]int)}

	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT current_risk_level, COUNT(*), COALESCE(SUM(repayment_history_score), 0)
		FROM borrowers
		WHERE tenant_id = ?
		GROUP BY current_risk_level
	`), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scoreSum float64
	for rows.Next() {
		var level string
		var n int
		var sum float64
		if err := rows.Scan(&level, &n, &sum); err != nil {
			return nil, err
		}
		s.RiskLevelDistribution[level] = n
		s.BorrowersTracked += n
		scoreSum += sum
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.HighRiskBorrowers = s.RiskLevelDistribution[domain.RiskLevelHigh]
	if s.BorrowersTracked > 0 {
		s.AvgRepaymentScore = round(scoreSum/float64(s.BorrowersTracked), 1)
	}
	return s, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
