// Package httpserver contains the HTTP handlers and middleware of the
// credit-application API: intake and queries, admin mutations, the signed
// bank-confirmation webhook, and the readiness surface. Handlers translate
// between the JSON edge and the usecase services; business rules never live
// here.
package httpserver

import (
	"context"

	"github.com/fairyhunter13/global-credit-core/internal/config"
	"github.com/fairyhunter13/global-credit-core/internal/usecase"
)

// Server aggregates the handlers' dependencies.
type Server struct {
	Cfg      config.Config
	Apps     usecase.ApplicationService
	Webhooks usecase.WebhookService

	// Readiness probes, nil checks report not-configured.
	DBReady    func(ctx context.Context) error
	RedisReady func(ctx context.Context) error
}

// NewServer constructs a Server.
func NewServer(cfg config.Config, apps usecase.ApplicationService, webhooks usecase.WebhookService) *Server {
	return &Server{Cfg: cfg, Apps: apps, Webhooks: webhooks}
}
