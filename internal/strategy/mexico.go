package strategy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

// Mexican lending limits.
var (
	mexicoMinIncome       = dec("5000.00")
	mexicoMaxLoan         = dec("200000.00")
	mexicoMaxLTIMultiple  = dec("3.0")
	mexicoMaxPaymentRatio = dec("30.0")
	mexicoLowPaymentRatio = dec("15.0")
	mexicoMaxTotalDTI     = dec("45.0")
)

const mexicoMinCreditScore = 550

var curpPattern = regexp.MustCompile(`^[A-Z]{4}\d{6}[HM][A-Z]{5}\d{2}$`)

// curpStates is the RENAPO two-letter state catalog, including NE for
// Mexicans born abroad. Unknown codes warn rather than reject.
var curpStates = map[string]bool{
	"AS": true, "BC": true, "BS": true, "CC": true, "CL": true,
	"CM": true, "CS": true, "CH": true, "DF": true, "DG": true,
	"GT": true, "GR": true, "HG": true, "JC": true, "MC": true,
	"MN": true, "MS": true, "NT": true, "NL": true, "OC": true,
	"PL": true, "QT": true, "QR": true, "SP": true, "SL": true,
	"SR": true, "TC": true, "TS": true, "TL": true, "VZ": true,
	"YN": true, "ZS": true, "NE": true,
}

// Mexico validates CURP documents and applies the Mexican MXN lending
// rules.
type Mexico struct{ base }

// NewMexico builds the Mexican strategy around the given provider.
func NewMexico(p domain.BankingProvider) Mexico {
	return Mexico{base{code: domain.CountryMexico, docType: "CURP", provider: p}}
}

// RequiredFields adds the applicant's state on top of the common fields.
func (s Mexico) RequiredFields() []string {
	return append(baseFields(), "state")
}

// ValidateIdentityDocument checks a Mexican CURP: 18 characters encoding
// name initials, birth date, gender and state. The birth date must be real
// and put the applicant at 18 or older.
func (s Mexico) ValidateIdentityDocument(document string) domain.ValidationResult {
	doc := strings.ToUpper(cleanDocument(document))

	if len(doc) != 18 {
		return invalid(fmt.Sprintf("CURP must be exactly 18 characters long (received %d)", len(doc)))
	}
	if !curpPattern.MatchString(doc) {
		return invalid("CURP format invalid. Expected format: AAAA######HBBCCCDD (e.g., HERM850101MDFRRR01)")
	}

	var errs, warnings []string

	datePart := doc[4:10]
	yy, _ := strconv.Atoi(datePart[0:2])
	mm, _ := strconv.Atoi(datePart[2:4])
	dd, _ := strconv.Atoi(datePart[4:6])

	// Two-digit years at or below the current one belong to this century.
	fullYear := 1900 + yy
	if yy <= time.Now().Year()%100 {
		fullYear = 2000 + yy
	}

	birth := time.Date(fullYear, time.Month(mm), dd, 0, 0, 0, 0, time.UTC)
	if birth.Year() != fullYear || birth.Month() != time.Month(mm) || birth.Day() != dd {
		errs = append(errs, fmt.Sprintf("Invalid date of birth in CURP: %s", datePart))
	} else if age := ageAt(birth, time.Now()); age < 18 {
		errs = append(errs, fmt.Sprintf("Applicant must be at least 18 years old (age: %d)", age))
	}

	stateCode := doc[11:13]
	if !curpStates[stateCode] {
		warnings = append(warnings, fmt.Sprintf("State code '%s' not recognized in standard catalog", stateCode))
	}

	if len(errs) > 0 {
		return domain.ValidationResult{IsValid: false, Errors: errs, Warnings: warnings}
	}

	gender := "Female"
	if doc[10] == 'H' {
		gender = "Male"
	}
	return domain.ValidationResult{
		IsValid:  true,
		Warnings: warnings,
		Metadata: map[string]any{
			"document_type": "CURP",
			"birth_date":    datePart,
			"gender":        gender,
			"state_code":    stateCode,
		},
	}
}

// ApplyBusinessRules scores a Mexican application. Amounts past the hard
// cap reject immediately; everything else accumulates risk points.
func (s Mexico) ApplyBusinessRules(requestedAmount, monthlyIncome decimal.Decimal, banking domain.BankingData, countryData map[string]any) domain.RiskAssessment {
	var reasons []string
	requiresReview := false
	points := 0

	if requestedAmount.GreaterThan(mexicoMaxLoan) {
		return hardReject(fmt.Sprintf("Requested amount ($%s MXN) exceeds maximum allowed ($%s MXN)",
			money(requestedAmount, 2), money(mexicoMaxLoan, 2)))
	}

	if monthlyIncome.LessThan(mexicoMinIncome) {
		reasons = append(reasons, fmt.Sprintf("Monthly income below minimum: $%s MXN (min $%s MXN)",
			money(monthlyIncome, 2), money(mexicoMinIncome, 2)))
		points += 40
	}

	maxAllowedLoan := annualIncome(monthlyIncome).Mul(mexicoMaxLTIMultiple)
	if requestedAmount.GreaterThan(maxAllowedLoan) {
		reasons = append(reasons, fmt.Sprintf("Requested amount $%s exceeds maximum allowed ($%s = 3x annual income)",
			money(requestedAmount, 2), money(maxAllowedLoan, 2)))
		points += 35
		requiresReview = true
	}

	paymentRatio := domain.PaymentToIncomeRatio(requestedAmount, monthlyIncome, 36)
	switch {
	case paymentRatio.GreaterThan(mexicoMaxPaymentRatio):
		reasons = append(reasons, fmt.Sprintf("Monthly payment would be %s%% of income (max %s%%)",
			paymentRatio.StringFixed(1), mexicoMaxPaymentRatio))
		points += 25
	case paymentRatio.LessThanOrEqual(mexicoLowPaymentRatio):
		reasons = append(reasons, "Monthly payment is comfortably within income")
		points -= 5
	}

	if banking.MonthlyObligations != nil {
		newPayment := requestedAmount.Div(decimal.NewFromInt(36))
		totalDebt := banking.MonthlyObligations.Add(newPayment)
		totalDTI := domain.DebtToIncomeRatio(monthlyIncome, totalDebt)
		if totalDTI.GreaterThan(mexicoMaxTotalDTI) {
			reasons = append(reasons, fmt.Sprintf("Total debt-to-income ratio would be %s%% (concerning if >%s%%)",
				totalDTI.StringFixed(1), mexicoMaxTotalDTI))
			points += 30
		}
	}

	if banking.CreditScore != nil {
		switch {
		case *banking.CreditScore < mexicoMinCreditScore:
			reasons = append(reasons, fmt.Sprintf("Credit score low: %d (min recommended %d)",
				*banking.CreditScore, mexicoMinCreditScore))
			points += 30
		case *banking.CreditScore >= goodCreditScore:
			reasons = append(reasons, "Good credit score")
			points -= 10
		}
	}

	if banking.HasDefaults {
		reasons = append(reasons, "Has active defaults or late payments in Buró de Crédito")
		points += 35
		requiresReview = true
	}

	return assess(points, reasons, requiresReview)
}

// ageAt is the applicant's age in whole years at the reference time.
func ageAt(birth, now time.Time) int {
	age := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		age--
	}
	return age
}
