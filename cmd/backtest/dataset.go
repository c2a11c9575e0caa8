package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Columns of the Loan_Screening_Model export.
const (
	colAge             = "age"
	colGender          = "gender"
	colMaritalStatus   = "marital_status"
	colEmploymentType  = "employment_type"
	colMonthlyIncome   = "monthly_income_usd"
	colDependents      = "number_of_dependents"
	colEducationLevel  = "education_level"
	colLoanAmount      = "loan_amount_usd"
	colLoanType        = "loan_type"
	colRepaymentPeriod = "repayment_period_months"
	colInterestRate    = "interest_rate_percent"
	colPurpose         = "purpose_of_loan"
	colResidentialArea = "residential_area_type"
	colSector          = "sector_of_activity"
	colDefaultStatus   = "default_status"
	colApplicantName   = "applicant_name"
)

var requiredColumns = []string{
	colAge, colGender, colMaritalStatus, colEmploymentType, colMonthlyIncome,
	colDependents, colEducationLevel, colLoanAmount, colLoanType,
	colRepaymentPeriod, colInterestRate, colPurpose, colResidentialArea,
	colSector, colDefaultStatus,
}

// Application is one labelled historical loan.
type Application struct {
	Row           int
	ApplicantName string
	Profile       domain.ApplicantProfile
	Defaulted     bool
}

func readApplicationsFile(path string, limit int) ([]Application, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()
	return readApplications(file, limit)
}

// readApplications parses labelled applications. Malformed rows are skipped
// and counted.
func readApplications(r io.Reader, limit int) ([]Application, int, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := colIndex[col]; !ok {
			return nil, 0, fmt.Errorf("missing column %q", col)
		}
	}

	var apps []Application
	skipped := 0
	row := 1

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			skipped++
			continue
		}

		app, err := parseRecord(record, colIndex)
		if err != nil {
			skipped++
			continue
		}
		app.Row = row
		apps = append(apps, app)

		if limit > 0 && len(apps) >= limit {
			break
		}
	}

	return apps, skipped, nil
}

func parseRecord(record []string, colIndex map[string]int) (Application, error) {
	field := func(col string) string {
		i, ok := colIndex[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var perr error
	num := func(col string) float64 {
		v, err := strconv.ParseFloat(field(col), 64)
		if err != nil && perr == nil {
			perr = fmt.Errorf("column %s: %w", col, err)
		}
		return v
	}

	p := domain.ApplicantProfile{
		Age:                   int(num(colAge)),
		Gender:                field(colGender),
		MaritalStatus:         field(colMaritalStatus),
		EmploymentType:        field(colEmploymentType),
		MonthlyIncome:         num(colMonthlyIncome),
		NumberOfDependents:    int(num(colDependents)),
		EducationLevel:        field(colEducationLevel),
		LoanAmount:            num(colLoanAmount),
		LoanType:              field(colLoanType),
		RepaymentPeriodMonths: int(num(colRepaymentPeriod)),
		InterestRatePercent:   num(colInterestRate),
		Purpose:               field(colPurpose),
		ResidentialAreaType:   field(colResidentialArea),
		SectorOfActivity:      field(colSector),
	}

	var defaulted bool
	switch field(colDefaultStatus) {
	case "1", "1.0", "true", "True":
		defaulted = true
	case "0", "0.0", "false", "False":
	default:
		return Application{}, fmt.Errorf("invalid default_status %q", field(colDefaultStatus))
	}

	if perr != nil {
		return Application{}, perr
	}

	return Application{
		ApplicantName: field(colApplicantName),
		Profile:       p,
		Defaulted:     defaulted,
	}, nil
}
