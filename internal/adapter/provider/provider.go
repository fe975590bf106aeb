// Package provider implements banking data providers and the resilience
// layer in front of them. The only concrete provider is a deterministic
// mock per country; real bureau integrations plug in behind the same
// domain.BankingProvider port and inherit the circuit breaker for free.
package provider

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

// Display names reported by the per-country providers.
const (
	NameSpain    = "Spanish Banking Provider"
	NamePortugal = "Portuguese Banking Provider"
	NameItaly    = "Italian Banking Provider"
	NameMexico   = "Mexican Banking Provider (Buró de Crédito)"
	NameColombia = "Colombian Banking Provider (DataCrédito)"
	NameBrazil   = "Brazilian Banking Provider (Serasa)"
)

const defaultAccountStatus = "active"

// mockLatency approximates one bureau round trip.
const mockLatency = 100 * time.Millisecond

// Mock is a deterministic stand-in for a country's credit bureau. All
// reported figures derive from a byte-sum hash of the document, so the same
// applicant always gets the same banking profile.
type Mock struct {
	country string
	name    string
}

// NewMock returns the mock provider for a country code.
func NewMock(country string) *Mock {
	name, ok := map[string]string{
		domain.CountrySpain:    NameSpain,
		domain.CountryPortugal: NamePortugal,
		domain.CountryItaly:    NameItaly,
		domain.CountryMexico:   NameMexico,
		domain.CountryColombia: NameColombia,
		domain.CountryBrazil:   NameBrazil,
	}[country]
	if !ok {
		name = "Mock Provider (" + country + ")"
	}
	return &Mock{country: country, name: name}
}

// Name reports the provider's display name.
func (m *Mock) Name() string { return m.name }

// FetchBankingData simulates one bureau lookup. It honors ctx so the
// resilience layer's deadline still applies to the simulated latency.
func (m *Mock) FetchBankingData(ctx domain.Context, document, fullName string) (domain.BankingData, error) {
	select {
	case <-time.After(mockLatency):
	case <-ctx.Done():
		return domain.BankingData{}, ctx.Err()
	}

	h := documentHash(document)
	switch m.country {
	case domain.CountrySpain:
		return m.spainData(h), nil
	case domain.CountryPortugal:
		return m.portugalData(h), nil
	case domain.CountryItaly:
		return m.italyData(h), nil
	case domain.CountryMexico:
		return m.mexicoData(h), nil
	case domain.CountryColombia:
		return m.colombiaData(h), nil
	case domain.CountryBrazil:
		return m.brazilData(h), nil
	default:
		return m.defaultData(h), nil
	}
}

// documentHash sums the byte values of the document with spaces and hyphens
// stripped. Crude, but stable across formattings of the same number.
func documentHash(document string) int {
	clean := strings.NewReplacer(" ", "", "-", "").Replace(document)
	h := 0
	for i := 0; i < len(clean); i++ {
		h += int(clean[i])
	}
	return h
}

// International credit score bounds used to derive mock scores.
const (
	scoreCeiling    = 850
	scoreFloorIntl  = 300
	scoreFloorWEU   = 500
	monthlyTermSpan = 36
)

func intDecimal(n int) decimal.Decimal { return decimal.NewFromInt(int64(n)) }

func (m *Mock) spainData(h int) domain.BankingData {
	score := scoreFloorWEU + h%(scoreCeiling-scoreFloorWEU)
	debt := intDecimal(h % 30000)
	obligations := debt.Div(intDecimal(monthlyTermSpan))
	return domain.BankingData{
		ProviderName:       m.name,
		AccountStatus:      defaultAccountStatus,
		CreditScore:        &score,
		TotalDebt:          &debt,
		MonthlyObligations: &obligations,
		HasDefaults:        h%10 == 0,
		AdditionalData: map[string]any{
			"consulted_at": "mock_timestamp",
			"data_source":  "spanish_banking_provider_mock",
		},
	}
}

func (m *Mock) portugalData(h int) domain.BankingData {
	score := scoreFloorWEU + h%(scoreCeiling-scoreFloorWEU)
	debt := intDecimal(h % 50000)
	obligations := debt.Div(intDecimal(monthlyTermSpan))
	return domain.BankingData{
		ProviderName:       m.name,
		AccountStatus:      defaultAccountStatus,
		CreditScore:        &score,
		TotalDebt:          &debt,
		MonthlyObligations: &obligations,
		HasDefaults:        h%10 == 0,
		AdditionalData: map[string]any{
			"consulted_at": "mock_timestamp",
			"data_source":  "portuguese_banking_provider_mock",
		},
	}
}

func (m *Mock) italyData(h int) domain.BankingData {
	score := scoreFloorWEU + h%(scoreCeiling-scoreFloorWEU)
	debt := intDecimal(h % 40000)
	obligations := debt.Div(intDecimal(monthlyTermSpan))
	return domain.BankingData{
		ProviderName:       m.name,
		AccountStatus:      defaultAccountStatus,
		CreditScore:        &score,
		TotalDebt:          &debt,
		MonthlyObligations: &obligations,
		HasDefaults:        h%10 == 0,
		AdditionalData: map[string]any{
			"consulted_at": "mock_timestamp",
			"data_source":  "italian_banking_provider_mock",
			"crif_score":   score,
		},
	}
}

func (m *Mock) mexicoData(h int) domain.BankingData {
	score := scoreFloorIntl + h%(scoreCeiling-scoreFloorIntl)
	debt := intDecimal(h % 100000)
	obligations := debt.Div(intDecimal(24))
	return domain.BankingData{
		ProviderName:       m.name,
		AccountStatus:      defaultAccountStatus,
		CreditScore:        &score,
		TotalDebt:          &debt,
		MonthlyObligations: &obligations,
		HasDefaults:        h%8 == 0,
		AdditionalData: map[string]any{
			"consulted_at": "mock_timestamp",
			"data_source":  "mexican_banking_provider_mock",
			"currency":     "MXN",
		},
	}
}

func (m *Mock) colombiaData(h int) domain.BankingData {
	scores := []int{580, 620, 680, 740, 820}
	score := scores[h%len(scores)]
	debt := intDecimal(2_000_000 + h%18_000_000)
	obligations := intDecimal(300_000 + h%2_700_000)
	return domain.BankingData{
		ProviderName:       m.name,
		AccountStatus:      defaultAccountStatus,
		CreditScore:        &score,
		TotalDebt:          &debt,
		MonthlyObligations: &obligations,
		HasDefaults:        h%10 == 0,
		AdditionalData: map[string]any{
			"datacredito_score":          150 + h%801,
			"active_loans":               h % 4,
			"banking_relationship_years": 1 + h%15,
			"account_age_months":         6 + h%115,
		},
	}
}

func (m *Mock) brazilData(h int) domain.BankingData {
	scores := []int{520, 580, 650, 720, 800}
	score := scores[h%len(scores)]
	debt := intDecimal(1000 + h%14000)
	obligations := intDecimal(200 + h%1800)
	return domain.BankingData{
		ProviderName:       m.name,
		AccountStatus:      defaultAccountStatus,
		CreditScore:        &score,
		TotalDebt:          &debt,
		MonthlyObligations: &obligations,
		HasDefaults:        h%10 == 0,
		AdditionalData: map[string]any{
			"serasa_score":               h % 1001,
			"active_credit_cards":        1 + h%5,
			"banco_central_registration": "Active",
			"account_age_months":         6 + h%115,
		},
	}
}

func (m *Mock) defaultData(h int) domain.BankingData {
	score := scoreFloorWEU + h%(scoreCeiling-scoreFloorWEU)
	debt := intDecimal(h % 20000)
	obligations := debt.Div(intDecimal(monthlyTermSpan))
	return domain.BankingData{
		ProviderName:       m.name,
		AccountStatus:      defaultAccountStatus,
		CreditScore:        &score,
		TotalDebt:          &debt,
		MonthlyObligations: &obligations,
		HasDefaults:        h%10 == 0,
		AdditionalData: map[string]any{
			"consulted_at": "mock_timestamp",
			"data_source":  "default_mock_provider",
		},
	}
}
