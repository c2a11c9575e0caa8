package domain

import "time"

// RoleCreditOfficer is the default role for registered users.
const RoleCreditOfficer = "credit_officer"

// User is a credit officer account.
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Email        string    `json:"email"`
	FullName     string    `json:"fullName"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Borrower risk levels used by portfolio monitoring.
const (
	RiskLevelLow    = "Low"
	RiskLevelMedium = "Medium"
	RiskLevelHigh   = "High"
)

// Borrower is an active borrower tracked after disbursement.
type Borrower struct {
	ID                    string    `json:"id"`
	TenantID              string    `json:"tenantId"`
	BorrowerID            string    `json:"borrowerId"`
	Name                  string    `json:"name"`
	CurrentRiskLevel      string    `json:"currentRiskLevel"`
	RepaymentHistoryScore float64   `json:"repaymentHistoryScore"`
	OfficerUsername       string    `json:"officerUsername,omitempty"`
	LastUpdated           time.Time `json:"lastUpdated"`
}

// BorrowerSummary aggregates tracked borrowers.
type BorrowerSummary struct {
	BorrowersTracked      int            `json:"borrowersTracked"`
	AvgRepaymentScore     float64        `json:"avgRepaymentScore"`
	HighRiskBorrowers     int            `json:"highRiskBorrowers"`
	RiskLevelDistribution map[string]int `json:"riskLevelDistribution"`
}
