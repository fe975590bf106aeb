package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

// Portuguese lending limits.
var (
	portugalMinIncome      = dec("800.00")
	portugalMaxLoan        = dec("30000.00")
	portugalMaxLTI         = dec("4.0")
	portugalMaxDTI         = dec("35.0")
	portugalMaxPaymentRate = dec("35.0")
)

const portugalMinCreditScore = 550

// nifWeights multiply the first eight NIF digits for the checksum.
var nifWeights = [8]int{9, 8, 7, 6, 5, 4, 3, 2}

// Portugal validates NIF documents and applies the Portuguese EUR lending
// rules.
type Portugal struct{ base }

// NewPortugal builds the Portuguese strategy around the given provider.
func NewPortugal(p domain.BankingProvider) Portugal {
	return Portugal{base{code: domain.CountryPortugal, docType: "NIF", provider: p}}
}

// ValidateIdentityDocument checks a Portuguese NIF: nine digits whose last
// digit is a weighted mod-11 checksum (11 minus the remainder, folding 10
// and 11 to zero).
func (s Portugal) ValidateIdentityDocument(document string) domain.ValidationResult {
	doc := cleanDocument(document)

	if len(doc) != 9 {
		return invalid(fmt.Sprintf("NIF must be exactly 9 digits long (received %d)", len(doc)))
	}
	if !digitsOnly(doc) {
		return invalid("NIF must contain only digits")
	}

	sum := 0
	for i, w := range nifWeights {
		sum += int(doc[i]-'0') * w
	}
	checksum := 11 - sum%11
	if checksum >= 10 {
		checksum = 0
	}
	got := int(doc[8] - '0')
	if got != checksum {
		return invalid(fmt.Sprintf("NIF checksum invalid. Expected %d, got %d", checksum, got))
	}

	return domain.ValidationResult{
		IsValid: true,
		Metadata: map[string]any{
			"document_type":   "NIF",
			"document_number": doc[:8],
			"checksum_digit":  got,
		},
	}
}

// ApplyBusinessRules scores a Portuguese application. Amounts past the hard
// cap reject immediately; everything else accumulates risk points.
func (s Portugal) ApplyBusinessRules(requestedAmount, monthlyIncome decimal.Decimal, banking domain.BankingData, countryData map[string]any) domain.RiskAssessment {
	var reasons []string
	requiresReview := false
	points := 0

	if requestedAmount.GreaterThan(portugalMaxLoan) {
		return hardReject(fmt.Sprintf("Requested amount (€%s) exceeds maximum allowed (€%s)",
			money(requestedAmount, 2), money(portugalMaxLoan, 2)))
	}

	if monthlyIncome.LessThan(portugalMinIncome) {
		reasons = append(reasons, fmt.Sprintf("Monthly income (€%s) below minimum (€%s)",
			money(monthlyIncome, 2), money(portugalMinIncome, 2)))
		points += 30
	}

	lti := loanToIncomeRatio(requestedAmount, monthlyIncome)
	if lti.GreaterThan(portugalMaxLTI) {
		reasons = append(reasons, fmt.Sprintf("Loan amount (%sx) exceeds maximum (%sx annual income)",
			lti.StringFixed(2), portugalMaxLTI))
		points += 25
		requiresReview = true
	}

	if banking.MonthlyObligations != nil {
		dti := domain.DebtToIncomeRatio(monthlyIncome, *banking.MonthlyObligations)
		if dti.GreaterThan(portugalMaxDTI) {
			reasons = append(reasons, fmt.Sprintf("Debt-to-income ratio too high: %s%% (max %s%%)",
				dti.StringFixed(1), portugalMaxDTI))
			points += 30
		}
	}

	if banking.CreditScore != nil {
		switch {
		case *banking.CreditScore < portugalMinCreditScore:
			reasons = append(reasons, fmt.Sprintf("Credit score below minimum: %d (min %d)",
				*banking.CreditScore, portugalMinCreditScore))
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
	if paymentRatio.GreaterThan(portugalMaxPaymentRate) {
		reasons = append(reasons, fmt.Sprintf("New loan payment would be %s%% of income (concerning if >%s%%)",
			paymentRatio.StringFixed(1), portugalMaxPaymentRate))
		points += 20
	}

	return assess(points, reasons, requiresReview)
}
