// Package strategy holds the per-country rule engines: identity document
// validation and credit risk scoring. A strategy binds the banking provider
// for its country; rule application itself is pure and works on fixed-point
// decimals only.
package strategy

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

// Risk score bounds and the level thresholds every engine shares.
const (
	scoreMax          = 100
	scoreFloor        = 10
	criticalThreshold = 70
	highThreshold     = 50
	mediumThreshold   = 30
)

// Credit score tiers shared across bureaus.
const (
	goodCreditScore      = 700
	excellentCreditScore = 750
)

const defaultReason = "Standard credit profile"

// base carries what every strategy has in common: its country code, the
// local document label, and the bound banking provider.
type base struct {
	code     string
	docType  string
	provider domain.BankingProvider
}

func (b base) CountryCode() string              { return b.code }
func (b base) DocumentTypeName() string         { return b.docType }
func (b base) Provider() domain.BankingProvider { return b.provider }

// RequiredFields lists the request fields every country demands. Countries
// with extra fields shadow this.
func (b base) RequiredFields() []string { return baseFields() }

func baseFields() []string {
	return []string{"country", "full_name", "identity_document", "requested_amount", "monthly_income"}
}

// assess converts accumulated risk points into the final assessment for
// engines that score first and decide after. HIGH always lands in review; a
// review flag blocks auto-approval at MEDIUM.
func assess(points int, reasons []string, requiresReview bool) domain.RiskAssessment {
	score := clamp(points)
	var level, rec string
	switch {
	case score >= criticalThreshold:
		level, rec = domain.RiskCritical, domain.RecommendReject
	case score >= highThreshold:
		level, rec = domain.RiskHigh, domain.RecommendReview
		requiresReview = true
	case score >= mediumThreshold:
		level = domain.RiskMedium
		if requiresReview {
			rec = domain.RecommendReview
		} else {
			rec = domain.RecommendApprove
		}
	default:
		level, rec = domain.RiskLow, domain.RecommendApprove
	}
	return domain.RiskAssessment{
		RiskScore:      decimal.NewFromInt(int64(score)),
		RiskLevel:      level,
		Recommendation: rec,
		Reasons:        orDefault(reasons),
		RequiresReview: requiresReview,
	}
}

// assessDecision finalizes engines that carry the decision through each
// rule. A run with no findings approves at the floor score.
func assessDecision(points int, reasons []string, decision string) domain.RiskAssessment {
	score := points
	if score > scoreMax {
		score = scoreMax
	}
	if len(reasons) == 0 {
		decision = domain.RecommendApprove
		if score < scoreFloor {
			score = scoreFloor
		}
	}
	return domain.RiskAssessment{
		RiskScore:      decimal.NewFromInt(int64(score)),
		RiskLevel:      riskLevel(score),
		Recommendation: decision,
		Reasons:        orDefault(reasons),
		RequiresReview: decision == domain.RecommendReview,
	}
}

// hardReject is the immediate exit for amounts past a country's hard cap.
// Reasons gathered before the cap check ride along.
func hardReject(reasons ...string) domain.RiskAssessment {
	return domain.RiskAssessment{
		RiskScore:      decimal.NewFromInt(scoreMax),
		RiskLevel:      domain.RiskCritical,
		Recommendation: domain.RecommendReject,
		Reasons:        reasons,
		RequiresReview: false,
	}
}

func riskLevel(score int) string {
	switch {
	case score >= criticalThreshold:
		return domain.RiskCritical
	case score >= highThreshold:
		return domain.RiskHigh
	case score >= mediumThreshold:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

func clamp(points int) int {
	if points < 0 {
		return 0
	}
	if points > scoreMax {
		return scoreMax
	}
	return points
}

func orDefault(reasons []string) []string {
	if len(reasons) == 0 {
		return []string{defaultReason}
	}
	return reasons
}

// accountAgeMonths reads the provider-reported account age out of the
// additional data map, tolerating the numeric types JSON decoding and the
// mock providers produce.
func accountAgeMonths(banking domain.BankingData) (int, bool) {
	v, ok := banking.AdditionalData["account_age_months"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

var twelve = decimal.NewFromInt(12)

func annualIncome(monthlyIncome decimal.Decimal) decimal.Decimal {
	return monthlyIncome.Mul(twelve)
}

// loanToIncomeRatio is the requested amount as a multiple of annual income.
// Near-zero income pins the ratio at the score ceiling, same as the other
// ratio guards.
func loanToIncomeRatio(requestedAmount, monthlyIncome decimal.Decimal) decimal.Decimal {
	annual := annualIncome(monthlyIncome)
	if annual.LessThanOrEqual(decimal.Zero) || annual.Abs().LessThan(decimal.NewFromFloat(0.01)) {
		return decimal.NewFromInt(scoreMax)
	}
	return requestedAmount.Div(annual)
}

// dec parses a decimal literal. Only compile-time constants go through it.
func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// money renders a decimal at the given scale with thousand separators, the
// format the reason strings use for amounts.
func money(d decimal.Decimal, places int32) string {
	s := d.StringFixed(places)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = strings.TrimPrefix(s, "-")
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")
	if len(intPart) > 3 {
		var b strings.Builder
		lead := len(intPart) % 3
		if lead > 0 {
			b.WriteString(intPart[:lead])
		}
		for i := lead; i < len(intPart); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(intPart[i : i+3])
		}
		intPart = b.String()
	}
	out := intPart
	if hasFrac {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// cleanDocument strips spaces and hyphens, the separators applicants
// habitually type into document numbers.
func cleanDocument(document string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(document)
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

func lettersOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return len(s) > 0
}

func invalid(errs ...string) domain.ValidationResult {
	return domain.ValidationResult{IsValid: false, Errors: errs}
}
