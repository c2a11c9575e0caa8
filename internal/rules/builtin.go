package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// Rule IDs of the built-in credit risk rules.
const (
	RuleAgeBracket       = "age-bracket"
	RuleDependents       = "dependents"
	RuleLoanBurden       = "loan-burden"
	RuleIncomeFloor      = "income-floor"
	RuleEmploymentStatus = "employment-status"
)

const builtinVersion = "1.0.0"

// BuiltinRules returns the five credit risk rules in display order.
// A monthly income of zero always trips the loan burden rule, since loan
// amounts are strictly positive.
func BuiltinRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          RuleAgeBracket,
			Name:        "Age Bracket",
			Description: "Applicant age outside 21 to 60",
			Version:     builtinVersion,
			Expression:  "age < 21 || age > 60",
			Message:     "Age is outside the preferred lending bracket (21–60)",
			Enabled:     true,
		},
		{
			ID:          RuleDependents,
			Name:        "Dependents",
			Description: "More than three dependents",
			Version:     builtinVersion,
			Expression:  "number_of_dependents > 3",
			Message:     "More than 3 dependents may strain income",
			Enabled:     true,
		},
		{
			ID:          RuleLoanBurden,
			Name:        "Loan Burden",
			Description: "Monthly instalment above 40% of monthly income",
			Version:     builtinVersion,
			Expression:  "instalment > 0.4 * monthly_income",
			Message:     "Loan burden (%.2f) exceeds 40%% of monthly income (%.2f)",
			MessageArgs: []string{VarInstalment, VarMonthlyIncome},
			Enabled:     true,
		},
		{
			ID:          RuleIncomeFloor,
			Name:        "Income Floor",
			Description: "Monthly income below $80",
			Version:     builtinVersion,
			Expression:  "monthly_income < 80.0",
			Message:     "Monthly income is below sustainable threshold ($80)",
			Enabled:     true,
		},
		{
			ID:          RuleEmploymentStatus,
			Name:        "Employment Status",
			Description: "Applicant is unemployed",
			Version:     builtinVersion,
			Expression:  `employment_type == "Unemployed"`,
			Message:     "Unemployment increases risk of default",
			Enabled:     true,
		},
	}
}
