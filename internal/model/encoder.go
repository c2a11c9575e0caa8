// Package model holds the frozen credit risk model: the categorical encoder,
// the feature scaler and the classifier, loaded together from one bundle.
package model

import (
	"fmt"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// FeatureOrder is the column order the scaler and classifier were fit on.
var FeatureOrder = []string{
	"age",
	domain.FieldGender,
	domain.FieldMaritalStatus,
	domain.FieldEmploymentType,
	"monthly_income",
	"number_of_dependents",
	domain.FieldEducationLevel,
	"loan_amount",
	domain.FieldLoanType,
	"repayment_period_months",
	"interest_rate_percent",
	domain.FieldPurpose,
	domain.FieldResidentialArea,
	domain.FieldSector,
}

// FeatureCount is the length of every feature vector.
const FeatureCount = 14

// FeatureVector is an ordered numeric vector in FeatureOrder.
type FeatureVector [FeatureCount]float64

// CategoryMapping maps the values of one categorical field to integer codes.
type CategoryMapping map[string]int

// Code returns the code for value.
func (m CategoryMapping) Code(value string) (int, bool) {
	code, ok := m[value]
	return code, ok
}

// Encoder turns an ApplicantProfile into the classifier's numeric layout.
// It is immutable after construction.
type Encoder struct {
	mappings map[string]CategoryMapping
}

// NewEncoder builds an encoder after checking every mapping against the
// categorical domains: each allowed value present, nothing else, codes distinct.
func NewEncoder(mappings map[string]CategoryMapping) (*Encoder, error) {
	if len(mappings) != len(domain.CategoricalDomains) {
		return nil, fmt.Errorf("expected %d encoders, got %d", len(domain.CategoricalDomains), len(mappings))
	}

	copied := make(map[string]CategoryMapping, len(mappings))
	for field, allowed := range domain.CategoricalDomains {
		mapping, ok := mappings[field]
		if !ok {
			return nil, fmt.Errorf("encoder for %s is missing", field)
		}
		if err := checkMapping(field, mapping, allowed); err != nil {
			return nil, err
		}

		m := make(CategoryMapping, len(mapping))
		for k, v := range mapping {
			m[k] = v
		}
		copied[field] = m
	}

	return &Encoder{mappings: copied}, nil
}

func checkMapping(field string, mapping CategoryMapping, allowed []string) error {
	allowedSet := make(map[string]bool, len(allowed))
	for _, v := range allowed {
		allowedSet[v] = true
		if _, ok := mapping[v]; !ok {
			return fmt.Errorf("encoder %s has no code for %q", field, v)
		}
	}

	seen := make(map[int]string, len(mapping))
	for _, value := range sortedKeys(mapping) {
		if !allowedSet[value] {
			return fmt.Errorf("encoder %s maps unexpected value %q", field, value)
		}
		code := mapping[value]
		if other, dup := seen[code]; dup {
			return fmt.Errorf("encoder %s assigns code %d to both %q and %q", field, code, other, value)
		}
		seen[code] = value
	}
	return nil
}

func sortedKeys(m CategoryMapping) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Encode maps the profile onto FeatureOrder. Categorical fields are looked up
// in order and the first unmapped value is returned as *domain.UnknownCategoryError.
func (e *Encoder) Encode(p *domain.ApplicantProfile) (FeatureVector, error) {
	var v FeatureVector

	codes := make(map[string]float64, len(e.mappings))
	values := p.Categorical()
	for _, field := range FeatureOrder {
		value, categorical := values[field]
		if !categorical {
			continue
		}
		code, ok := e.mappings[field].Code(value)
		if !ok {
			return v, &domain.UnknownCategoryError{Field: field, Value: value}
		}
		codes[field] = float64(code)
	}

	v[0] = float64(p.Age)
	v[1] = codes[domain.FieldGender]
	v[2] = codes[domain.FieldMaritalStatus]
	v[3] = codes[domain.FieldEmploymentType]
	v[4] = p.MonthlyIncome
	v[5] = float64(p.NumberOfDependents)
	v[6] = codes[domain.FieldEducationLevel]
	v[7] = p.LoanAmount
	v[8] = codes[domain.FieldLoanType]
	v[9] = float64(p.RepaymentPeriodMonths)
	v[10] = p.InterestRatePercent
	v[11] = codes[domain.FieldPurpose]
	v[12] = codes[domain.FieldResidentialArea]
	v[13] = codes[domain.FieldSector]

	return v, nil
}

// Mappings returns a copy of the encoder tables.
func (e *Encoder) Mappings() map[string]CategoryMapping {
	out := make(map[string]CategoryMapping, len(e.mappings))
	for field, m := range e.mappings {
		c := make(CategoryMapping, len(m))
		for k, v := range m {
			c[k] = v
		}
		out[field] = c
	}
	return out
}
