package strategy_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
	"github.com/fairyhunter13/global-credit-core/internal/strategy"
)

func intPtr(n int) *int { return &n }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func mustDec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSpain_ValidDNI(t *testing.T) {
	s := strategy.NewSpain(nil)

	for _, dni := range []string{"12345678Z", "87654321X", "00000000T", "99999999R"} {
		res := s.ValidateIdentityDocument(dni)
		assert.True(t, res.IsValid, "DNI %s should be valid", dni)
		assert.Empty(t, res.Errors)
	}
}

func TestSpain_InvalidDNIFormat(t *testing.T) {
	s := strategy.NewSpain(nil)

	for _, dni := range []string{
		"1234567",    // too short
		"123456789",  // no letter
		"ABCDEFGHI",  // all letters
		"1234567AA",  // two letters
		"12345-678Z", // embedded separator
	} {
		res := s.ValidateIdentityDocument(dni)
		assert.False(t, res.IsValid, "DNI %s should be invalid", dni)
		assert.NotEmpty(t, res.Errors)
	}
}

func TestSpain_InvalidDNIChecksum(t *testing.T) {
	s := strategy.NewSpain(nil)

	res := s.ValidateIdentityDocument("12345678A")
	require.False(t, res.IsValid)
	assert.Contains(t, res.Errors[0], "checksum invalid")
	assert.Contains(t, res.Errors[0], "Expected Z, got A")
}

func TestSpain_DNIMetadata(t *testing.T) {
	s := strategy.NewSpain(nil)

	res := s.ValidateIdentityDocument("12345678z")
	require.True(t, res.IsValid, "lowercase input is normalized")
	assert.Equal(t, "DNI", res.Metadata["document_type"])
	assert.Equal(t, "12345678", res.Metadata["document_number"])
	assert.Equal(t, "Z", res.Metadata["control_letter"])
}

func TestSpain_AmountAboveReviewThreshold(t *testing.T) {
	s := strategy.NewSpain(nil)
	banking := domain.BankingData{
		ProviderName:  "Test",
		AccountStatus: "active",
		CreditScore:   intPtr(700),
	}

	a := s.ApplyBusinessRules(mustDec("25000.00"), mustDec("5000.00"), banking, nil)

	assert.True(t, a.RequiresReview)
	assert.Contains(t, a.Reasons, "Requested amount (€25,000.00) above review threshold (€20,000.00)")
	assert.Equal(t, domain.RecommendApprove, a.Recommendation, "15 points stays LOW")
}

func TestSpain_HardCapRejectsImmediately(t *testing.T) {
	s := strategy.NewSpain(nil)
	banking := domain.BankingData{ProviderName: "Test", AccountStatus: "active", CreditScore: intPtr(800)}

	a := s.ApplyBusinessRules(mustDec("100000.00"), mustDec("3000.00"), banking, nil)

	assert.True(t, a.RiskScore.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, domain.RiskCritical, a.RiskLevel)
	assert.Equal(t, domain.RecommendReject, a.Recommendation)
	assert.False(t, a.RequiresReview)
	require.Len(t, a.Reasons, 1)
	assert.Equal(t, "Requested amount (€100,000.00) exceeds maximum allowed (€50,000.00)", a.Reasons[0])
}

func TestSpain_HighDebtToIncome(t *testing.T) {
	s := strategy.NewSpain(nil)
	banking := domain.BankingData{
		ProviderName:       "Test",
		AccountStatus:      "active",
		CreditScore:        intPtr(700),
		MonthlyObligations: decPtr("2500.00"), // 50% of income
	}

	a := s.ApplyBusinessRules(mustDec("15000.00"), mustDec("5000.00"), banking, nil)

	assert.True(t, a.RiskScore.GreaterThanOrEqual(mustDec("30")))
	assert.Contains(t, a.Reasons, "Debt-to-income ratio too high: 50.0% (max 40.0%)")
}

func TestSpain_LowCreditScore(t *testing.T) {
	s := strategy.NewSpain(nil)
	banking := domain.BankingData{
		ProviderName:  "Test",
		AccountStatus: "active",
		CreditScore:   intPtr(550), // below 600
	}

	a := s.ApplyBusinessRules(mustDec("10000.00"), mustDec("3000.00"), banking, nil)

	assert.True(t, a.RiskScore.GreaterThan(mustDec("20")))
	assert.Contains(t, a.Reasons, "Credit score below minimum: 550 (min 600)")
}

func TestSpain_DefaultsRequireReview(t *testing.T) {
	s := strategy.NewSpain(nil)
	banking := domain.BankingData{
		ProviderName:  "Test",
		AccountStatus: "active",
		CreditScore:   intPtr(700),
		HasDefaults:   true,
	}

	a := s.ApplyBusinessRules(mustDec("10000.00"), mustDec("3000.00"), banking, nil)

	assert.True(t, a.RequiresReview)
	assert.Contains(t, a.Reasons, "Has active defaults in credit bureau")
	assert.Equal(t, domain.RiskMedium, a.RiskLevel, "40 points is MEDIUM")
	assert.Equal(t, domain.RecommendReview, a.Recommendation)
}

func TestSpain_LowIncomeAddsPoints(t *testing.T) {
	s := strategy.NewSpain(nil)
	banking := domain.BankingData{ProviderName: "Test", AccountStatus: "active", CreditScore: intPtr(700)}

	a := s.ApplyBusinessRules(mustDec("5000.00"), mustDec("1000.00"), banking, nil)

	assert.Contains(t, a.Reasons, "Monthly income (€1,000.00) below minimum (€1,500.00)")
	assert.True(t, a.RiskScore.GreaterThanOrEqual(mustDec("30")))
}

func TestSpain_ExcellentProfile(t *testing.T) {
	s := strategy.NewSpain(nil)
	banking := domain.BankingData{
		ProviderName:       "Test",
		AccountStatus:      "active",
		CreditScore:        intPtr(800),
		MonthlyObligations: decPtr("500.00"),
	}

	a := s.ApplyBusinessRules(mustDec("10000.00"), mustDec("5000.00"), banking, nil)

	assert.True(t, a.RiskScore.LessThan(mustDec("30")))
	assert.Contains(t, []string{domain.RiskLow, domain.RiskMedium}, a.RiskLevel)
	assert.Contains(t, a.Reasons, "Excellent credit score")
	assert.True(t, a.RiskScore.Equal(decimal.Zero), "negative points clamp to zero")
}

func TestSpain_NoFindingsUsesDefaultReason(t *testing.T) {
	s := strategy.NewSpain(nil)
	banking := domain.BankingData{ProviderName: "Test", AccountStatus: "active", CreditScore: intPtr(700)}

	a := s.ApplyBusinessRules(mustDec("10000.00"), mustDec("5000.00"), banking, nil)

	assert.Equal(t, []string{"Standard credit profile"}, a.Reasons)
	assert.Equal(t, domain.RiskLow, a.RiskLevel)
	assert.Equal(t, domain.RecommendApprove, a.Recommendation)
	assert.False(t, a.RequiresReview)
}

func TestSpain_Descriptors(t *testing.T) {
	s := strategy.NewSpain(nil)

	assert.Equal(t, domain.CountrySpain, s.CountryCode())
	assert.Equal(t, "DNI", s.DocumentTypeName())
	assert.Equal(t,
		[]string{"country", "full_name", "identity_document", "requested_amount", "monthly_income"},
		s.RequiredFields())
}
