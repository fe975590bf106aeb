package strategy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

// Italian lending limits.
var (
	italyMinIncome       = dec("1200.00")
	italyMaxLoan         = dec("40000.00")
	italyMaxDTI          = dec("35.0")
	italyMaxPaymentRatio = dec("30.0")
	italyStabilityYears  = decimal.NewFromInt(2)
)

const italyMinCreditScore = 550

// cfMonthCodes are the letters the Codice Fiscale uses for birth months.
const cfMonthCodes = "ABCDEHLMPRST"

var cfPattern = regexp.MustCompile(`^[A-Z0-9]{16}$`)

// Italy validates Codice Fiscale documents and applies the Italian EUR
// lending rules.
type Italy struct{ base }

// NewItaly builds the Italian strategy around the given provider.
func NewItaly(p domain.BankingProvider) Italy {
	return Italy{base{code: domain.CountryItaly, docType: "Codice Fiscale", provider: p}}
}

// ValidateIdentityDocument checks an Italian Codice Fiscale. Length and
// character set are hard requirements; the positional structure
// (SSSNNN YY M DD CCC X) only produces warnings because omocodia
// substitutions can legally replace digits with letters.
func (s Italy) ValidateIdentityDocument(document string) domain.ValidationResult {
	doc := strings.ToUpper(cleanDocument(document))

	if len(doc) != 16 {
		return invalid(fmt.Sprintf("Codice Fiscale must be exactly 16 characters long (received %d)", len(doc)))
	}
	if !cfPattern.MatchString(doc) {
		return invalid("Codice Fiscale must contain only uppercase letters and numbers")
	}

	var warnings []string
	if !lettersOnly(doc[:6]) {
		warnings = append(warnings, "First 6 characters should typically be letters")
	}
	if !digitsOnly(doc[6:8]) {
		warnings = append(warnings, "Year part (characters 7-8) should be digits")
	}
	if !strings.ContainsRune(cfMonthCodes, rune(doc[8])) {
		warnings = append(warnings, fmt.Sprintf("Month character '%c' may be invalid", doc[8]))
	}
	if !digitsOnly(doc[9:11]) {
		warnings = append(warnings, "Day part (characters 10-11) should be digits")
	}
	if !lettersOnly(doc[15:]) {
		warnings = append(warnings, "Check character (last) should be a letter")
	}

	return domain.ValidationResult{
		IsValid:  true,
		Warnings: warnings,
		Metadata: map[string]any{
			"document_type":   "Codice Fiscale",
			"document_number": doc,
		},
	}
}

// ApplyBusinessRules scores an Italian application. The income check runs
// before the hard cap, so a capped request keeps its low-income reason.
func (s Italy) ApplyBusinessRules(requestedAmount, monthlyIncome decimal.Decimal, banking domain.BankingData, countryData map[string]any) domain.RiskAssessment {
	var reasons []string
	requiresReview := false
	points := 0

	if monthlyIncome.LessThan(italyMinIncome) {
		reasons = append(reasons, fmt.Sprintf("Monthly income (€%s) below minimum (€%s)",
			money(monthlyIncome, 2), money(italyMinIncome, 2)))
		points += 30
	}

	if requestedAmount.GreaterThan(italyMaxLoan) {
		reasons = append(reasons, fmt.Sprintf("Requested amount (€%s) exceeds maximum allowed (€%s)",
			money(requestedAmount, 2), money(italyMaxLoan, 2)))
		return hardReject(reasons...)
	}

	if banking.MonthlyObligations != nil {
		dti := domain.DebtToIncomeRatio(monthlyIncome, *banking.MonthlyObligations)
		if dti.GreaterThan(italyMaxDTI) {
			reasons = append(reasons, fmt.Sprintf("Debt-to-income ratio too high: %s%% (max %s%%)",
				dti.StringFixed(1), italyMaxDTI))
			points += 30
		}
	}

	if banking.CreditScore != nil {
		switch {
		case *banking.CreditScore < italyMinCreditScore:
			reasons = append(reasons, fmt.Sprintf("Credit score below minimum: %d (min %d)",
				*banking.CreditScore, italyMinCreditScore))
			points += 25
		case *banking.CreditScore >= excellentCreditScore:
			reasons = append(reasons, "Excellent credit score")
			points -= 10
		}
	}

	if banking.HasDefaults {
		reasons = append(reasons, "Has active defaults in credit bureau")
		points += 35
		requiresReview = true
	}

	paymentRatio := domain.PaymentToIncomeRatio(requestedAmount, monthlyIncome, 36)
	if paymentRatio.GreaterThan(italyMaxPaymentRatio) {
		reasons = append(reasons, fmt.Sprintf("New loan payment would be %s%% of income (concerning if >%s%%)",
			paymentRatio.StringFixed(1), italyMaxPaymentRatio))
		points += 20
	}

	if requestedAmount.GreaterThan(annualIncome(monthlyIncome).Mul(italyStabilityYears)) {
		reasons = append(reasons, "Requested amount exceeds 2 years of annual income - financial stability review required")
		points += 15
		requiresReview = true
	}

	return assess(points, reasons, requiresReview)
}
