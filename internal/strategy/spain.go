package strategy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

// Spanish lending limits.
var (
	spainMinIncome       = dec("1500.00")
	spainMaxLoan         = dec("50000.00")
	spainReviewThreshold = dec("20000.00")
	spainMaxDTI          = dec("40.0")
	spainMaxPaymentRatio = dec("35.0")
)

const spainMinCreditScore = 600

// dniLetters maps a DNI number mod 23 to its control letter.
const dniLetters = "TRWAGMYFPDXBNJZSQVHLCKE"

var dniPattern = regexp.MustCompile(`^\d{8}[A-Z]$`)

// Spain validates DNI documents and applies the Spanish EUR lending rules.
type Spain struct{ base }

// NewSpain builds the Spanish strategy around the given provider.
func NewSpain(p domain.BankingProvider) Spain {
	return Spain{base{code: domain.CountrySpain, docType: "DNI", provider: p}}
}

// ValidateIdentityDocument checks a Spanish DNI: eight digits plus a
// control letter derived from the number mod 23. Embedded separators are
// not tolerated here; a DNI is typed as one block.
func (s Spain) ValidateIdentityDocument(document string) domain.ValidationResult {
	doc := strings.ToUpper(strings.TrimSpace(document))

	if len(doc) != 9 {
		return invalid(fmt.Sprintf("DNI must be exactly 9 characters long (received %d)", len(doc)))
	}
	if !dniPattern.MatchString(doc) {
		return invalid("DNI format invalid. Expected 8 digits followed by a control letter (e.g., 12345678Z)")
	}

	number, err := strconv.Atoi(doc[:8])
	if err != nil {
		return invalid(fmt.Sprintf("DNI number part is not numeric: %v", err))
	}
	want := dniLetters[number%len(dniLetters)]
	if doc[8] != want {
		return invalid(fmt.Sprintf("DNI checksum invalid. Expected %c, got %c", want, doc[8]))
	}

	return domain.ValidationResult{
		IsValid: true,
		Metadata: map[string]any{
			"document_type":   "DNI",
			"document_number": doc[:8],
			"control_letter":  string(doc[8]),
		},
	}
}

// ApplyBusinessRules scores a Spanish application. Amounts past the hard
// cap reject immediately; everything else accumulates risk points.
func (s Spain) ApplyBusinessRules(requestedAmount, monthlyIncome decimal.Decimal, banking domain.BankingData, countryData map[string]any) domain.RiskAssessment {
	var reasons []string
	requiresReview := false
	points := 0

	if requestedAmount.GreaterThan(spainMaxLoan) {
		return hardReject(fmt.Sprintf("Requested amount (€%s) exceeds maximum allowed (€%s)",
			money(requestedAmount, 2), money(spainMaxLoan, 2)))
	}

	if monthlyIncome.LessThan(spainMinIncome) {
		reasons = append(reasons, fmt.Sprintf("Monthly income (€%s) below minimum (€%s)",
			money(monthlyIncome, 2), money(spainMinIncome, 2)))
		points += 30
	}

	if requestedAmount.GreaterThan(spainReviewThreshold) {
		reasons = append(reasons, fmt.Sprintf("Requested amount (€%s) above review threshold (€%s)",
			money(requestedAmount, 2), money(spainReviewThreshold, 2)))
		points += 15
		requiresReview = true
	}

	if banking.MonthlyObligations != nil {
		dti := domain.DebtToIncomeRatio(monthlyIncome, *banking.MonthlyObligations)
		if dti.GreaterThan(spainMaxDTI) {
			reasons = append(reasons, fmt.Sprintf("Debt-to-income ratio too high: %s%% (max %s%%)",
				dti.StringFixed(1), spainMaxDTI))
			points += 30
		}
	}

	if banking.CreditScore != nil {
		switch {
		case *banking.CreditScore < spainMinCreditScore:
			reasons = append(reasons, fmt.Sprintf("Credit score below minimum: %d (min %d)",
				*banking.CreditScore, spainMinCreditScore))
			points += 25
		case *banking.CreditScore >= excellentCreditScore:
			reasons = append(reasons, "Excellent credit score")
			points -= 10
		}
	}

	if banking.HasDefaults {
		reasons = append(reasons, "Has active defaults in credit bureau")
		points += 40
		requiresReview = true
	}

	paymentRatio := domain.PaymentToIncomeRatio(requestedAmount, monthlyIncome, 36)
	if paymentRatio.GreaterThan(spainMaxPaymentRatio) {
		reasons = append(reasons, fmt.Sprintf("New loan payment would be %s%% of income (concerning if >%s%%)",
			paymentRatio.StringFixed(1), spainMaxPaymentRatio))
		points += 20
	}

	return assess(points, reasons, requiresReview)
}
