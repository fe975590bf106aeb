package strategy

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

// Colombian lending limits. Amounts are COP, which is why the figures run
// seven digits deep.
var (
	colombiaMinIncome       = dec("1500000.00")
	colombiaMaxLoan         = dec("50000000.00")
	colombiaMaxPaymentRatio = dec("40.0")
)

const (
	colombiaMinCreditScore  = 600
	colombiaLoanTermMonths  = 12
	colombiaDebtMonthsLimit = 6
	colombiaMinAccountAge   = 36
)

var cedulaDigits = regexp.MustCompile(`\D`)

// Colombia validates Cédula de Ciudadanía documents and applies the
// Colombian COP lending rules. Unlike the European engines it carries an
// approval decision through the rules and only derives the level at the
// end.
type Colombia struct{ base }

// NewColombia builds the Colombian strategy around the given provider.
func NewColombia(p domain.BankingProvider) Colombia {
	return Colombia{base{code: domain.CountryColombia, docType: "Cédula", provider: p}}
}

// ValidateIdentityDocument checks a Colombian cédula: 6 to 10 digits once
// every non-digit is stripped. There is no national checksum to verify.
func (s Colombia) ValidateIdentityDocument(document string) domain.ValidationResult {
	ced := cedulaDigits.ReplaceAllString(document, "")

	if len(ced) < 6 || len(ced) > 10 {
		return invalid(fmt.Sprintf("Cédula must have 6-10 digits, got %d", len(ced)))
	}

	return domain.ValidationResult{IsValid: true}
}

// ApplyBusinessRules evaluates a Colombian application. Any hard finding
// flips the decision to REJECT; soft findings downgrade an APPROVE to
// REVIEW. A clean run approves at the floor score.
func (s Colombia) ApplyBusinessRules(requestedAmount, monthlyIncome decimal.Decimal, banking domain.BankingData, countryData map[string]any) domain.RiskAssessment {
	var reasons []string
	points := 0
	decision := domain.RecommendApprove

	if monthlyIncome.LessThan(colombiaMinIncome) {
		reasons = append(reasons, fmt.Sprintf("Monthly income (COP $%s) below minimum (COP $%s)",
			money(monthlyIncome, 0), money(colombiaMinIncome, 0)))
		points += 30
		decision = domain.RecommendReject
	}

	if requestedAmount.GreaterThan(colombiaMaxLoan) {
		reasons = append(reasons, fmt.Sprintf("Requested amount (COP $%s) exceeds maximum (COP $%s)",
			money(requestedAmount, 0), money(colombiaMaxLoan, 0)))
		points += 25
		decision = domain.RecommendReject
	}

	monthlyPayment := requestedAmount.Div(decimal.NewFromInt(colombiaLoanTermMonths))
	totalObligations := monthlyPayment
	if banking.MonthlyObligations != nil {
		totalObligations = banking.MonthlyObligations.Add(monthlyPayment)
	}
	paymentToIncome := domain.DebtToIncomeRatio(monthlyIncome, totalObligations)
	if paymentToIncome.GreaterThan(colombiaMaxPaymentRatio) {
		reasons = append(reasons, fmt.Sprintf("Payment-to-income ratio (%s%%) exceeds maximum (%s%%)",
			paymentToIncome.StringFixed(1), colombiaMaxPaymentRatio))
		points += 25
		decision = domain.RecommendReject
	}

	if banking.CreditScore != nil && *banking.CreditScore < colombiaMinCreditScore {
		reasons = append(reasons, fmt.Sprintf("Credit score (%d) below minimum (%d)",
			*banking.CreditScore, colombiaMinCreditScore))
		points += 30
		decision = domain.RecommendReject
	}

	if banking.HasDefaults {
		reasons = append(reasons, "Applicant has active defaults in DataCrédito")
		points += 35
		decision = domain.RecommendReject
	}

	debtCeiling := monthlyIncome.Mul(decimal.NewFromInt(colombiaDebtMonthsLimit))
	if banking.TotalDebt != nil && banking.TotalDebt.GreaterThan(debtCeiling) {
		reasons = append(reasons, fmt.Sprintf("Total debt (COP $%s) exceeds %d months of income",
			money(*banking.TotalDebt, 0), colombiaDebtMonthsLimit))
		points += 15
		if decision == domain.RecommendApprove {
			decision = domain.RecommendReview
		}
	}

	if banking.CreditScore != nil && *banking.CreditScore >= excellentCreditScore {
		points = max(0, points-15)
	}
	if age, ok := accountAgeMonths(banking); ok && age >= colombiaMinAccountAge {
		points = max(0, points-10)
	}

	return assessDecision(points, reasons, decision)
}
