package strategy_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
	"github.com/fairyhunter13/global-credit-core/internal/strategy"
)

func TestItaly_ValidCodiceFiscale(t *testing.T) {
	s := strategy.NewItaly(nil)

	res := s.ValidateIdentityDocument("RSSMRA80A01H501Z")
	require.True(t, res.IsValid)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "Codice Fiscale", res.Metadata["document_type"])
	assert.Equal(t, "RSSMRA80A01H501Z", res.Metadata["document_number"])
}

func TestItaly_CodiceFiscaleWrongLength(t *testing.T) {
	s := strategy.NewItaly(nil)

	res := s.ValidateIdentityDocument("RSSMRA80A01H501")
	require.False(t, res.IsValid)
	assert.Contains(t, res.Errors[0], "16 characters long")
	assert.Contains(t, res.Errors[0], "(received 15)")
}

func TestItaly_CodiceFiscaleInvalidCharacters(t *testing.T) {
	s := strategy.NewItaly(nil)

	res := s.ValidateIdentityDocument("RSSMRA80A01H50!Z")
	require.False(t, res.IsValid)
	assert.Contains(t, res.Errors[0], "uppercase letters and numbers")
}

func TestItaly_CodiceFiscaleStructuralWarnings(t *testing.T) {
	s := strategy.NewItaly(nil)

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"digits in name part", "12345680A01H501Z", "First 6 characters should typically be letters"},
		{"letters in year part", "RSSMRAAB01H501ZX", "Year part (characters 7-8) should be digits"},
		{"unknown month letter", "RSSMRA80Z01H501Z", "Month character 'Z' may be invalid"},
		{"letters in day part", "RSSMRA80AABH501Z", "Day part (characters 10-11) should be digits"},
		{"digit check character", "RSSMRA80A01H5011", "Check character (last) should be a letter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.ValidateIdentityDocument(tt.doc)
			assert.True(t, res.IsValid, "structural oddities warn, they do not reject")
			assert.Contains(t, res.Warnings, tt.want)
		})
	}
}

func TestItaly_CodiceFiscaleNormalization(t *testing.T) {
	s := strategy.NewItaly(nil)

	res := s.ValidateIdentityDocument("rssmra80a01h501z")
	assert.True(t, res.IsValid)

	res = s.ValidateIdentityDocument("RSSMRA 80A01 H501Z")
	assert.True(t, res.IsValid)
}

func TestItaly_LowIncomeSurvivesHardCapReject(t *testing.T) {
	s := strategy.NewItaly(nil)
	banking := domain.BankingData{ProviderName: "Test", AccountStatus: "active", CreditScore: intPtr(700)}

	a := s.ApplyBusinessRules(mustDec("45000.00"), mustDec("1000.00"), banking, nil)

	assert.True(t, a.RiskScore.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, domain.RiskCritical, a.RiskLevel)
	assert.Equal(t, domain.RecommendReject, a.Recommendation)
	assert.False(t, a.RequiresReview)
	require.Len(t, a.Reasons, 2, "the income finding rides along with the cap reason")
	assert.Equal(t, "Monthly income (€1,000.00) below minimum (€1,200.00)", a.Reasons[0])
	assert.Equal(t, "Requested amount (€45,000.00) exceeds maximum allowed (€40,000.00)", a.Reasons[1])
}

func TestItaly_HighDebtToIncome(t *testing.T) {
	s := strategy.NewItaly(nil)
	banking := domain.BankingData{
		ProviderName:       "Test",
		AccountStatus:      "active",
		CreditScore:        intPtr(700),
		MonthlyObligations: decPtr("1000.00"), // 40% of income
	}

	a := s.ApplyBusinessRules(mustDec("5000.00"), mustDec("2500.00"), banking, nil)

	assert.Contains(t, a.Reasons, "Debt-to-income ratio too high: 40.0% (max 35.0%)")
	assert.Equal(t, domain.RiskMedium, a.RiskLevel)
}

func TestItaly_PaymentRatioThreshold(t *testing.T) {
	s := strategy.NewItaly(nil)
	banking := domain.BankingData{ProviderName: "Test", AccountStatus: "active", CreditScore: intPtr(700)}

	// 36000/36 = 1000 per month; 1000/3000 = 33.3% which clears Italy's
	// 30% bar but not Spain's 35%.
	a := s.ApplyBusinessRules(mustDec("36000.00"), mustDec("3000.00"), banking, nil)

	assert.Contains(t, a.Reasons, "New loan payment would be 33.3% of income (concerning if >30.0%)")
}

func TestItaly_StabilityCheckTwoYearsIncome(t *testing.T) {
	s := strategy.NewItaly(nil)
	banking := domain.BankingData{ProviderName: "Test", AccountStatus: "active", CreditScore: intPtr(700)}

	// Annual income 14400, two years 28800, request 30000.
	a := s.ApplyBusinessRules(mustDec("30000.00"), mustDec("1200.00"), banking, nil)

	assert.True(t, a.RequiresReview)
	assert.Contains(t, a.Reasons, "Requested amount exceeds 2 years of annual income - financial stability review required")
}

func TestItaly_DefaultsRequireReview(t *testing.T) {
	s := strategy.NewItaly(nil)
	banking := domain.BankingData{
		ProviderName:  "Test",
		AccountStatus: "active",
		CreditScore:   intPtr(700),
		HasDefaults:   true,
	}

	a := s.ApplyBusinessRules(mustDec("5000.00"), mustDec("2000.00"), banking, nil)

	assert.True(t, a.RequiresReview)
	assert.Contains(t, a.Reasons, "Has active defaults in credit bureau")
}

func TestItaly_ExcellentCreditLowersScore(t *testing.T) {
	s := strategy.NewItaly(nil)
	banking := domain.BankingData{
		ProviderName:  "Test",
		AccountStatus: "active",
		CreditScore:   intPtr(780),
	}

	a := s.ApplyBusinessRules(mustDec("5000.00"), mustDec("2500.00"), banking, nil)

	assert.Contains(t, a.Reasons, "Excellent credit score")
	assert.True(t, a.RiskScore.Equal(decimal.Zero))
	assert.Equal(t, domain.RecommendApprove, a.Recommendation)
}

func TestItaly_Descriptors(t *testing.T) {
	s := strategy.NewItaly(nil)

	assert.Equal(t, domain.CountryItaly, s.CountryCode())
	assert.Equal(t, "Codice Fiscale", s.DocumentTypeName())
}
