package domain

import "github.com/shopspring/decimal"

// Risk levels produced by the country rule engines.
const (
	RiskLow      = "LOW"
	RiskMedium   = "MEDIUM"
	RiskHigh     = "HIGH"
	RiskCritical = "CRITICAL"
)

// Approval recommendations produced by the country rule engines.
const (
	RecommendApprove = "APPROVE"
	RecommendReject  = "REJECT"
	RecommendReview  = "REVIEW"
)

// ValidationResult is the outcome of an identity-document check.
type ValidationResult struct {
	IsValid  bool           `json:"is_valid"`
	Errors   []string       `json:"errors"`
	Warnings []string       `json:"warnings"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// BankingData is what a banking provider reports for an applicant.
type BankingData struct {
	ProviderName       string           `json:"provider_name"`
	AccountStatus      string           `json:"account_status"`
	CreditScore        *int             `json:"credit_score"`
	TotalDebt          *decimal.Decimal `json:"total_debt"`
	MonthlyObligations *decimal.Decimal `json:"monthly_obligations"`
	HasDefaults        bool             `json:"has_defaults"`
	AdditionalData     map[string]any   `json:"additional_data,omitempty"`
}

// Map serializes the banking result for the banking_data JSONB column.
// Monetary values become strings at scale 2 so no float ever touches them.
func (b BankingData) Map() map[string]any {
	out := map[string]any{
		"provider_name":       b.ProviderName,
		"account_status":      b.AccountStatus,
		"credit_score":        nil,
		"total_debt":          nil,
		"monthly_obligations": nil,
		"has_defaults":        b.HasDefaults,
	}
	if b.CreditScore != nil {
		out["credit_score"] = *b.CreditScore
	}
	if b.TotalDebt != nil {
		out["total_debt"] = b.TotalDebt.StringFixed(2)
	}
	if b.MonthlyObligations != nil {
		out["monthly_obligations"] = b.MonthlyObligations.StringFixed(2)
	}
	if len(b.AdditionalData) > 0 {
		add := make(map[string]any, len(b.AdditionalData))
		for k, v := range b.AdditionalData {
			if d, ok := v.(decimal.Decimal); ok {
				add[k] = d.StringFixed(2)
				continue
			}
			add[k] = v
		}
		out["additional_data"] = add
	}
	return out
}

// RiskAssessment is the outcome of a country's business rules.
type RiskAssessment struct {
	RiskScore      decimal.Decimal `json:"risk_score"`
	RiskLevel      string          `json:"risk_level"`
	Recommendation string          `json:"approval_recommendation"`
	Reasons        []string        `json:"reasons"`
	RequiresReview bool            `json:"requires_review"`
}

// StatusForRecommendation maps a rule-engine recommendation to the status
// the application lands in. Anything unrecognized goes to manual review.
func StatusForRecommendation(rec string) ApplicationStatus {
	switch rec {
	case RecommendApprove:
		return StatusApproved
	case RecommendReject:
		return StatusRejected
	case RecommendReview:
		return StatusUnderReview
	default:
		return StatusUnderReview
	}
}

var hundred = decimal.NewFromInt(100)

// nearZero guards ratio denominators. Income at or below zero, or smaller
// than a cent in magnitude, is treated as no income at all.
func nearZero(income decimal.Decimal) bool {
	return income.LessThanOrEqual(decimal.Zero) ||
		income.Abs().LessThan(decimal.NewFromFloat(0.01))
}

// DebtToIncomeRatio returns monthly debt over monthly income as a
// percentage. Near-zero income pins the ratio at 100.
func DebtToIncomeRatio(monthlyIncome, monthlyDebt decimal.Decimal) decimal.Decimal {
	if nearZero(monthlyIncome) {
		return hundred
	}
	return monthlyDebt.Div(monthlyIncome).Mul(hundred)
}

// PaymentToIncomeRatio estimates the monthly payment for requestedAmount
// over loanTermMonths and returns it over monthly income as a percentage.
// Near-zero income pins the ratio at 100.
func PaymentToIncomeRatio(requestedAmount, monthlyIncome decimal.Decimal, loanTermMonths int) decimal.Decimal {
	if loanTermMonths <= 0 {
		loanTermMonths = 36
	}
	if nearZero(monthlyIncome) {
		return hundred
	}
	payment := requestedAmount.Div(decimal.NewFromInt(int64(loanTermMonths)))
	return payment.Div(monthlyIncome).Mul(hundred)
}
