// Package rules provides the CEL-Go based credit risk rule engine.
package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Activation variable names available to rule expressions.
const (
	VarAge                   = "age"
	VarGender                = "gender"
	VarMaritalStatus         = "marital_status"
	VarEmploymentType        = "employment_type"
	VarMonthlyIncome         = "monthly_income"
	VarNumberOfDependents    = "number_of_dependents"
	VarEducationLevel        = "education_level"
	VarLoanAmount            = "loan_amount"
	VarLoanType              = "loan_type"
	VarRepaymentPeriodMonths = "repayment_period_months"
	VarInterestRatePercent   = "interest_rate_percent"
	VarPurpose               = "purpose"
	VarResidentialAreaType   = "residential_area_type"
	VarSectorOfActivity      = "sector_of_activity"
	VarInstalment            = "instalment"
)

var variableTypes = map[string]*cel.Type{
	VarAge:                   cel.IntType,
	VarGender:                cel.StringType,
	VarMaritalStatus:         cel.StringType,
	VarEmploymentType:        cel.StringType,
	VarMonthlyIncome:         cel.DoubleType,
	VarNumberOfDependents:    cel.IntType,
	VarEducationLevel:        cel.StringType,
	VarLoanAmount:            cel.DoubleType,
	VarLoanType:              cel.StringType,
	VarRepaymentPeriodMonths: cel.IntType,
	VarInterestRatePercent:   cel.DoubleType,
	VarPurpose:               cel.StringType,
	VarResidentialAreaType:   cel.StringType,
	VarSectorOfActivity:      cel.StringType,
	VarInstalment:            cel.DoubleType,
}

// Engine evaluates a fixed, ordered set of compiled rules. The rule set is
// immutable after NewEngine, so evaluation takes no locks.
type Engine struct {
	env        *cel.Env
	rules      []*CompiledRule
	maxWorkers int
	version    string
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine compiles every enabled rule, keeping the given order.
func NewEngine(configs []*domain.RuleConfig, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 5
	}

	opts := make([]cel.EnvOption, 0, len(variableTypes))
	for name, typ := range variableTypes {
		opts = append(opts, cel.Variable(name, typ))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{
		env:        env,
		maxWorkers: maxWorkers,
	}

	seen := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		if cfg == nil || !cfg.Enabled {
			continue
		}
		if seen[cfg.ID] {
			return nil, fmt.Errorf("duplicate rule id %s", cfg.ID)
		}
		seen[cfg.ID] = true

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return nil, err
		}
		e.rules = append(e.rules, compiled)
	}

	e.version = ruleSetVersion(e.rules)
	return e, nil
}

// ruleSetVersion hashes everything that shapes a rule result, so editing a
// rule without bumping its version still yields a new rule set version.
func ruleSetVersion(rules []*CompiledRule) string {
	h := xxhash.New()
	for _, r := range rules {
		c := r.Config
		for _, f := range []string{c.ID, c.Version, c.Expression, c.Message, strings.Join(c.MessageArgs, ",")} {
			_, _ = h.WriteString(f)
			_, _ = h.Write([]byte{0})
		}
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// Version identifies the compiled rule set.
func (e *Engine) Version() string { return e.version }

// Activation builds the CEL variables for a profile. The instalment is
// derived here so every rule sees the same value.
func Activation(p *domain.ApplicantProfile) map[string]any {
	return map[string]any{
		VarAge:                   int64(p.Age),
		VarGender:                p.Gender,
		VarMaritalStatus:         p.MaritalStatus,
		VarEmploymentType:        p.EmploymentType,
		VarMonthlyIncome:         p.MonthlyIncome,
		VarNumberOfDependents:    int64(p.NumberOfDependents),
		VarEducationLevel:        p.EducationLevel,
		VarLoanAmount:            p.LoanAmount,
		VarLoanType:              p.LoanType,
		VarRepaymentPeriodMonths: int64(p.RepaymentPeriodMonths),
		VarInterestRatePercent:   p.InterestRatePercent,
		VarPurpose:               p.Purpose,
		VarResidentialAreaType:   p.ResidentialAreaType,
		VarSectorOfActivity:      p.SectorOfActivity,
		VarInstalment:            p.MonthlyInstalment(),
	}
}

// Evaluate runs every rule against the raw profile in parallel. Results come
// back in rule order regardless of completion order; no rule short-circuits
// another.
func (e *Engine) Evaluate(ctx context.Context, p *domain.ApplicantProfile) ([]domain.RuleResult, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: profile is required", domain.ErrMalformedProfile)
	}
	if p.RepaymentPeriodMonths <= 0 {
		return nil, fmt.Errorf("%w: repayment period must be positive", domain.ErrMalformedProfile)
	}
	if len(e.rules) == 0 {
		return nil, nil
	}

	activation := Activation(p)
	results := make([]domain.RuleResult, len(e.rules))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxWorkers)

	for i, rule := range e.rules {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := evaluateRule(rule, activation)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func evaluateRule(rule *CompiledRule, activation map[string]any) (domain.RuleResult, error) {
	start := time.Now()

	result := domain.RuleResult{RuleID: rule.Config.ID}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		return result, fmt.Errorf("rule %s: evaluation error: %w", rule.Config.ID, err)
	}
	triggered, ok := out.(types.Bool)
	if !ok {
		return result, fmt.Errorf("rule %s: expected bool result, got %s", rule.Config.ID, out.Type().TypeName())
	}

	result.Triggered = bool(triggered)
	if result.Triggered {
		result.Message = renderMessage(rule.Config, activation)
	}
	result.ProcessUs = time.Since(start).Microseconds()
	return result, nil
}

func renderMessage(cfg *domain.RuleConfig, activation map[string]any) string {
	if len(cfg.MessageArgs) == 0 {
		return cfg.Message
	}
	args := make([]any, len(cfg.MessageArgs))
	for i, name := range cfg.MessageArgs {
		args[i] = activation[name]
	}
	return fmt.Sprintf(cfg.Message, args...)
}

// Flags returns the risk flags of triggered rules, in rule order.
func Flags(results []domain.RuleResult) []domain.RiskFlag {
	flags := make([]domain.RiskFlag, 0, len(results))
	for _, r := range results {
		if r.Triggered {
			flags = append(flags, domain.RiskFlag{RuleID: r.RuleID, Message: r.Message})
		}
	}
	return flags
}

// CriticalViolations counts triggered rules. Each counts once.
func CriticalViolations(results []domain.RuleResult) int {
	n := 0
	for _, r := range results {
		if r.Triggered {
			n++
		}
	}
	return n
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	return len(e.rules)
}

// Rules returns the loaded rule configurations in evaluation order.
func (e *Engine) Rules() []domain.RuleConfig {
	out := make([]domain.RuleConfig, len(e.rules))
	for i, r := range e.rules {
		out[i] = *r.Config
	}
	return out
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	for _, name := range cfg.MessageArgs {
		typ, ok := variableTypes[name]
		if !ok {
			return nil, fmt.Errorf("rule %s: unknown message argument %q", cfg.ID, name)
		}
		if typ != cel.DoubleType {
			return nil, fmt.Errorf("rule %s: message argument %q must be a double", cfg.ID, name)
		}
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
