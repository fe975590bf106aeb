package strategy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

// Brazilian lending limits. Reason strings here print plain BRL amounts
// without thousand separators.
var (
	brazilMinIncome = dec("2000.00")
	brazilMaxLoan   = dec("100000.00")
	brazilMaxLTI    = dec("5.0")
	brazilMaxDTI    = dec("35.0")
)

const (
	brazilMinCreditScore = 550
	brazilLoanTermMonths = 12
	brazilMinAccountAge  = 24
)

var cpfSeparators = regexp.MustCompile(`[.\-]`)

// Brazil validates CPF documents and applies the Brazilian BRL lending
// rules. Like Colombia it carries an approval decision through the rules.
type Brazil struct{ base }

// NewBrazil builds the Brazilian strategy around the given provider.
func NewBrazil(p domain.BankingProvider) Brazil {
	return Brazil{base{code: domain.CountryBrazil, docType: "CPF", provider: p}}
}

// ValidateIdentityDocument checks a Brazilian CPF: 11 digits with two
// trailing check digits, each a mod-11 over the weighted prefix. Repdigit
// numbers pass the arithmetic but are reserved, so they reject outright.
func (s Brazil) ValidateIdentityDocument(document string) domain.ValidationResult {
	cpf := cpfSeparators.ReplaceAllString(document, "")

	if len(cpf) != 11 {
		return invalid(fmt.Sprintf("CPF must have 11 digits, got %d", len(cpf)))
	}
	if cpf == strings.Repeat(string(cpf[0]), 11) {
		return invalid("CPF cannot have all equal digits")
	}
	if !digitsOnly(cpf) {
		return invalid("CPF must contain only digits")
	}

	sumFirst := 0
	for i := 0; i < 9; i++ {
		sumFirst += int(cpf[i]-'0') * (10 - i)
	}
	first := sumFirst * 10 % 11
	if first == 10 {
		first = 0
	}
	if int(cpf[9]-'0') != first {
		return invalid("Invalid CPF checksum (first digit)")
	}

	sumSecond := 0
	for i := 0; i < 10; i++ {
		sumSecond += int(cpf[i]-'0') * (11 - i)
	}
	second := sumSecond * 10 % 11
	if second == 10 {
		second = 0
	}
	if int(cpf[10]-'0') != second {
		return invalid("Invalid CPF checksum (second digit)")
	}

	return domain.ValidationResult{IsValid: true}
}

// ApplyBusinessRules evaluates a Brazilian application. Hard findings flip
// the decision to REJECT; a high debt ratio only downgrades an APPROVE to
// REVIEW. A clean run approves at the floor score.
func (s Brazil) ApplyBusinessRules(requestedAmount, monthlyIncome decimal.Decimal, banking domain.BankingData, countryData map[string]any) domain.RiskAssessment {
	var reasons []string
	points := 0
	decision := domain.RecommendApprove

	if monthlyIncome.LessThan(brazilMinIncome) {
		reasons = append(reasons, fmt.Sprintf("Monthly income (R$ %s) below minimum (R$ %s)",
			monthlyIncome.StringFixed(2), brazilMinIncome.StringFixed(2)))
		points += 30
		decision = domain.RecommendReject
	}

	if requestedAmount.GreaterThan(brazilMaxLoan) {
		reasons = append(reasons, fmt.Sprintf("Requested amount (R$ %s) exceeds maximum (R$ %s)",
			requestedAmount.StringFixed(2), brazilMaxLoan.StringFixed(2)))
		points += 20
		decision = domain.RecommendReject
	}

	lti := loanToIncomeRatio(requestedAmount, monthlyIncome)
	if lti.GreaterThan(brazilMaxLTI) {
		reasons = append(reasons, fmt.Sprintf("Loan-to-income ratio (%sx) exceeds maximum (%sx annual income)",
			lti.StringFixed(2), brazilMaxLTI))
		points += 25
		decision = domain.RecommendReject
	}

	if banking.MonthlyObligations != nil {
		newPayment := requestedAmount.Div(decimal.NewFromInt(brazilLoanTermMonths))
		dti := domain.DebtToIncomeRatio(monthlyIncome, banking.MonthlyObligations.Add(newPayment))
		if dti.GreaterThan(brazilMaxDTI) {
			reasons = append(reasons, fmt.Sprintf("Debt-to-income ratio (%s%%) exceeds maximum (%s%%)",
				dti.StringFixed(1), brazilMaxDTI))
			points += 20
			if decision == domain.RecommendApprove {
				decision = domain.RecommendReview
			}
		}
	}

	if banking.CreditScore != nil && *banking.CreditScore < brazilMinCreditScore {
		reasons = append(reasons, fmt.Sprintf("Credit score (%d) below minimum (%d)",
			*banking.CreditScore, brazilMinCreditScore))
		points += 25
		decision = domain.RecommendReject
	}

	if banking.HasDefaults {
		reasons = append(reasons, "Applicant has active defaults")
		points += 30
		decision = domain.RecommendReject
	}

	if banking.CreditScore != nil && *banking.CreditScore >= goodCreditScore {
		points = max(0, points-10)
	}
	if age, ok := accountAgeMonths(banking); ok && age >= brazilMinAccountAge {
		points = max(0, points-5)
	}

	return assessDecision(points, reasons, decision)
}
