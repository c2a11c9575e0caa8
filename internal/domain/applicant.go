package domain

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Categorical values accepted by the application form.
const (
	GenderMale   = "Male"
	GenderFemale = "Female"

	MaritalSingle   = "Single"
	MaritalMarried  = "Married"
	MaritalDivorced = "Divorced"
	MaritalWidowed  = "Widowed"

	EmploymentFormal       = "Formal"
	EmploymentSelfEmployed = "Self-Employed"
	EmploymentInformal     = "Informal"
	EmploymentUnemployed   = "Unemployed"

	EducationNone      = "None"
	EducationPrimary   = "Primary"
	EducationSecondary = "Secondary"
	EducationTertiary  = "Tertiary"

	LoanTypeIndividual = "Individual"
	LoanTypeGroup      = "Group"

	PurposeBusiness   = "Business"
	PurposeSchoolFees = "School Fees"
	PurposeMedical    = "Medical"
	PurposeFood       = "Food"
	PurposeHousehold  = "Household Improvements"

	AreaUrban     = "Urban"
	AreaPeriUrban = "Peri-Urban"
	AreaRural     = "Rural"

	SectorTrading     = "Trading"
	SectorAgriculture = "Agriculture"
	SectorServices    = "Services"
)

// Names of the categorical fields as they appear in the model bundle.
const (
	FieldGender          = "gender"
	FieldMaritalStatus   = "marital_status"
	FieldEmploymentType  = "employment_type"
	FieldEducationLevel  = "education_level"
	FieldLoanType        = "loan_type"
	FieldPurpose         = "purpose_of_loan"
	FieldResidentialArea = "residential_area_type"
	FieldSector          = "sector_of_activity"
)

// CategoricalDomains lists every allowed value per categorical field.
// Bundle encoders are validated against this table at load time.
var CategoricalDomains = map[string][]string{
	FieldGender:          {GenderMale, GenderFemale},
	FieldMaritalStatus:   {MaritalSingle, MaritalMarried, MaritalDivorced, MaritalWidowed},
	FieldEmploymentType:  {EmploymentFormal, EmploymentSelfEmployed, EmploymentInformal, EmploymentUnemployed},
	FieldEducationLevel:  {EducationNone, EducationPrimary, EducationSecondary, EducationTertiary},
	FieldLoanType:        {LoanTypeIndividual, LoanTypeGroup},
	FieldPurpose:         {PurposeBusiness, PurposeSchoolFees, PurposeMedical, PurposeFood, PurposeHousehold},
	FieldResidentialArea: {AreaUrban, AreaPeriUrban, AreaRural},
	FieldSector:          {SectorTrading, SectorAgriculture, SectorServices},
}

// ApplicantProfile holds the attributes of a single loan application.
// It is built per request and never persisted by the assessment core.
type ApplicantProfile struct {
	Age                   int     `json:"age" validate:"gte=18,lte=70"`
	Gender                string  `json:"gender" validate:"required"`
	MaritalStatus         string  `json:"maritalStatus" validate:"required"`
	EmploymentType        string  `json:"employmentType" validate:"required"`
	MonthlyIncome         float64 `json:"monthlyIncome" validate:"gte=0"`
	NumberOfDependents    int     `json:"numberOfDependents" validate:"gte=0"`
	EducationLevel        string  `json:"educationLevel" validate:"required"`
	LoanAmount            float64 `json:"loanAmount" validate:"gt=0"`
	LoanType              string  `json:"loanType" validate:"required"`
	RepaymentPeriodMonths int     `json:"repaymentPeriodMonths" validate:"oneof=1 3 6"`
	InterestRatePercent   float64 `json:"interestRatePercent" validate:"gte=5,lte=20"`
	Purpose               string  `json:"purpose" validate:"required"`
	ResidentialAreaType   string  `json:"residentialAreaType" validate:"required"`
	SectorOfActivity      string  `json:"sectorOfActivity" validate:"required"`
}

var (
	profileValidateOnce sync.Once
	profileValidate     *validator.Validate
)

func profileValidator() *validator.Validate {
	profileValidateOnce.Do(func() {
		profileValidate = validator.New(validator.WithRequiredStructEnabled())
	})
	return profileValidate
}

// Validate checks that every numeric field is inside its declared domain and
// that no categorical field is empty. Category membership is the encoder's
// concern and is not checked here.
func (p *ApplicantProfile) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: profile is required", ErrMalformedProfile)
	}

	err := profileValidator().Struct(p)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrMalformedProfile, err)
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), describeTag(fe)))
	}
	return fmt.Errorf("%w: %s", ErrMalformedProfile, strings.Join(fields, "; "))
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// MonthlyInstalment estimates the flat monthly repayment for the requested loan.
func (p *ApplicantProfile) MonthlyInstalment() float64 {
	return p.LoanAmount * (1 + p.InterestRatePercent/100) / float64(p.RepaymentPeriodMonths)
}

// Categorical returns the categorical values keyed by bundle field name.
func (p *ApplicantProfile) Categorical() map[string]string {
	return map[string]string{
		FieldGender:          p.Gender,
		FieldMaritalStatus:   p.MaritalStatus,
		FieldEmploymentType:  p.EmploymentType,
		FieldEducationLevel:  p.EducationLevel,
		FieldLoanType:        p.LoanType,
		FieldPurpose:         p.Purpose,
		FieldResidentialArea: p.ResidentialAreaType,
		FieldSector:          p.SectorOfActivity,
	}
}
