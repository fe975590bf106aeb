package strategy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fairyhunter13/global-credit-core/internal/adapter/provider"
	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

// builders maps a country code to its strategy constructor. Register adds
// entries during startup wiring; the map is not guarded for concurrent
// mutation after that.
var builders = map[string]func(domain.BankingProvider) domain.CountryStrategy{
	domain.CountrySpain:    func(p domain.BankingProvider) domain.CountryStrategy { return NewSpain(p) },
	domain.CountryPortugal: func(p domain.BankingProvider) domain.CountryStrategy { return NewPortugal(p) },
	domain.CountryItaly:    func(p domain.BankingProvider) domain.CountryStrategy { return NewItaly(p) },
	domain.CountryMexico:   func(p domain.BankingProvider) domain.CountryStrategy { return NewMexico(p) },
	domain.CountryColombia: func(p domain.BankingProvider) domain.CountryStrategy { return NewColombia(p) },
	domain.CountryBrazil:   func(p domain.BankingProvider) domain.CountryStrategy { return NewBrazil(p) },
}

// New resolves the strategy for a country code, case-insensitively. A nil
// provider gets the country's deterministic mock.
func New(country string, p domain.BankingProvider) (domain.CountryStrategy, error) {
	code := strings.ToUpper(strings.TrimSpace(country))
	build, ok := builders[code]
	if !ok {
		return nil, fmt.Errorf("Country '%s' is not supported. Supported countries: %s",
			code, strings.Join(Supported(), ", "))
	}
	if p == nil {
		p = provider.NewMock(code)
	}
	return build(p), nil
}

// Register adds or replaces the constructor for a country code. Meant for
// startup wiring, before New is ever called.
func Register(country string, build func(domain.BankingProvider) domain.CountryStrategy) {
	builders[strings.ToUpper(strings.TrimSpace(country))] = build
}

// IsSupported reports whether a country code has a registered strategy.
func IsSupported(country string) bool {
	_, ok := builders[strings.ToUpper(strings.TrimSpace(country))]
	return ok
}

// Supported returns the registered country codes, sorted.
func Supported() []string {
	codes := make([]string, 0, len(builders))
	for code := range builders {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
