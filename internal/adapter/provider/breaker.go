package provider

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/fairyhunter13/global-credit-core/internal/observability"
	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

// Breakers fronts every banking provider call with a per-(country,
// provider) circuit breaker, a hard deadline, and error classification.
// threshold consecutive transient failures open a circuit; after the
// recovery window one probe is let through and a success closes it again.
type Breakers struct {
	timeout   time.Duration
	recovery  time.Duration
	threshold uint32

	mu  sync.Mutex
	cbs map[string]*gobreaker.CircuitBreaker
}

const defaultFailureThreshold = 5

// NewBreakers builds the registry. timeout bounds a single provider call;
// recovery is how long an open circuit waits before probing; threshold is
// the consecutive-failure count that trips the circuit (0 uses the
// default of 5).
func NewBreakers(timeout, recovery time.Duration, threshold uint32) *Breakers {
	if threshold == 0 {
		threshold = defaultFailureThreshold
	}
	return &Breakers{
		timeout:   timeout,
		recovery:  recovery,
		threshold: threshold,
		cbs:       make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (b *Breakers) breaker(country, providerName string) *gobreaker.CircuitBreaker {
	key := country + "_" + providerName
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.cbs[key]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    key,
		Timeout: b.recovery,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= b.threshold
		},
		// Permanent errors are the caller's fault, not the provider's:
		// they pass through without moving the breaker.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			_, permanent, _ := domain.ClassifyTaskError(err)
			return permanent
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("banking provider circuit state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			observability.SetCircuitBreakerState(country, providerName, gaugeState(to))
		},
	})
	b.cbs[key] = cb
	observability.SetCircuitBreakerState(country, providerName, gaugeState(cb.State()))
	return cb
}

// Fetch calls the provider through its circuit breaker. Timeouts come back
// as NetworkTimeout and an open circuit as ProviderUnavailable, both
// retryable, so the queue schedules further attempts.
func (b *Breakers) Fetch(ctx context.Context, country string, p domain.BankingProvider, document, fullName string) (domain.BankingData, error) {
	cb := b.breaker(country, p.Name())
	start := time.Now()

	res, err := cb.Execute(func() (any, error) {
		cctx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		data, ferr := fetchGuarded(cctx, p, document, fullName)
		if ferr != nil {
			if errors.Is(ferr, context.DeadlineExceeded) {
				return nil, domain.Recoverablef(domain.ErrTypeNetworkTimeout,
					"Timeout fetching banking data: %s did not answer within %s", p.Name(), b.timeout)
			}
			return nil, ferr
		}
		return data, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			observability.RecordProviderRequest(country, p.Name(), "open", time.Since(start))
			return domain.BankingData{}, domain.Recoverablef(domain.ErrTypeProviderUnavailable,
				"Banking provider %s unavailable: circuit open", p.Name())
		}
		observability.RecordProviderRequest(country, p.Name(), requestStatus(err), time.Since(start))
		return domain.BankingData{}, err
	}

	observability.RecordProviderRequest(country, p.Name(), "success", time.Since(start))
	return res.(domain.BankingData), nil
}

// State reports the circuit state for a (country, provider) pair as the
// gauge value: 0 closed, 1 open, 2 half-open.
func (b *Breakers) State(country, providerName string) float64 {
	return gaugeState(b.breaker(country, providerName).State())
}

// fetchGuarded shields the breaker from provider panics. A panic is a
// programming error, so it surfaces as permanent and leaves the circuit
// untouched.
func fetchGuarded(ctx context.Context, p domain.BankingProvider, document, fullName string) (data domain.BankingData, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.Permanentf(domain.ErrTypeUnknown, "banking provider panic: %v", r)
		}
	}()
	return p.FetchBankingData(ctx, document, fullName)
}

func requestStatus(err error) string {
	if errType, _, _ := domain.ClassifyTaskError(err); errType == domain.ErrTypeNetworkTimeout {
		return "timeout"
	}
	return "failure"
}

func gaugeState(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
