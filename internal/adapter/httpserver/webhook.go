package httpserver

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

const signatureHeader = "X-Webhook-Signature"

type bankConfirmationRequest struct {
	ApplicationID      string       `json:"application_id"`
	DocumentVerified   *bool        `json:"document_verified"`
	CreditScore        *int         `json:"credit_score"`
	TotalDebt          *json.Number `json:"total_debt"`
	MonthlyObligations *json.Number `json:"monthly_obligations"`
	HasDefaults        bool         `json:"has_defaults"`
	ProviderReference  string       `json:"provider_reference"`
	VerifiedAt         string       `json:"verified_at"`
}

// BankConfirmationHandler handles POST /v1/webhooks/bank-confirmation.
//
// The checks run cheapest first: the size limit rejects before the body is
// read, the HMAC rejects before any parsing, and parsing rejects before any
// store work. Idempotency itself lives in the usecase, keyed by the
// provider's reference.
func (s *Server) BankConfirmationHandler() http.HandlerFunc {
	limit := s.Cfg.WebhookMaxPayloadBytes()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > limit {
			writeError(w, r, fmt.Errorf("%w: request body exceeds %d bytes", domain.ErrTooLarge, limit), nil)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, r, fmt.Errorf("%w: request body exceeds %d bytes", domain.ErrTooLarge, limit), nil)
				return
			}
			writeError(w, r, fmt.Errorf("%w: unreadable request body", domain.ErrInvalidArgument), nil)
			return
		}

		if err := verifySignature(body, r.Header.Get(signatureHeader), s.Cfg.WebhookSecret); err != nil {
			writeError(w, r, err, nil)
			return
		}

		conf, payload, err := parseConfirmation(body)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		result, err := s.Webhooks.HandleConfirmation(r.Context(), conf, payload)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// verifySignature checks the hex HMAC-SHA256 of the raw body in constant
// time. An unconfigured secret rejects everything rather than accepting
// everything.
func verifySignature(body []byte, signature, secret string) error {
	if secret == "" {
		return fmt.Errorf("%w: webhook secret not configured", domain.ErrUnauthorized)
	}
	if signature == "" {
		return fmt.Errorf("%w: missing %s header", domain.ErrUnauthorized, signatureHeader)
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", domain.ErrUnauthorized)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return fmt.Errorf("%w: signature mismatch", domain.ErrUnauthorized)
	}
	return nil
}

func parseConfirmation(body []byte) (domain.WebhookConfirmation, map[string]any, error) {
	var req bankConfirmationRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return domain.WebhookConfirmation{}, nil, fmt.Errorf("%w: invalid JSON body: %v", domain.ErrInvalidArgument, err)
	}

	if req.ProviderReference == "" {
		return domain.WebhookConfirmation{}, nil, fmt.Errorf("%w: provider_reference is required", domain.ErrInvalidArgument)
	}
	if req.DocumentVerified == nil {
		return domain.WebhookConfirmation{}, nil, fmt.Errorf("%w: document_verified is required", domain.ErrInvalidArgument)
	}
	appID, err := uuid.Parse(req.ApplicationID)
	if err != nil {
		return domain.WebhookConfirmation{}, nil, fmt.Errorf("%w: invalid application_id", domain.ErrInvalidArgument)
	}

	conf := domain.WebhookConfirmation{
		ApplicationID:     appID,
		DocumentVerified:  *req.DocumentVerified,
		HasDefaults:       req.HasDefaults,
		ProviderReference: req.ProviderReference,
	}

	if req.CreditScore != nil {
		if *req.CreditScore < 300 || *req.CreditScore > 850 {
			return domain.WebhookConfirmation{}, nil, fmt.Errorf("%w: credit_score must be between 300 and 850", domain.ErrInvalidArgument)
		}
		conf.CreditScore = req.CreditScore
	}
	if conf.TotalDebt, err = optionalMoney("total_debt", req.TotalDebt); err != nil {
		return domain.WebhookConfirmation{}, nil, err
	}
	if conf.MonthlyObligations, err = optionalMoney("monthly_obligations", req.MonthlyObligations); err != nil {
		return domain.WebhookConfirmation{}, nil, err
	}

	conf.VerifiedAt = time.Now().UTC()
	if req.VerifiedAt != "" {
		ts, err := time.Parse(time.RFC3339, req.VerifiedAt)
		if err != nil {
			return domain.WebhookConfirmation{}, nil, fmt.Errorf("%w: verified_at must be RFC 3339", domain.ErrInvalidArgument)
		}
		conf.VerifiedAt = ts
	}

	// The raw payload is stored on the webhook event for replay diagnosis.
	payload := map[string]any{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.WebhookConfirmation{}, nil, fmt.Errorf("%w: invalid JSON body: %v", domain.ErrInvalidArgument, err)
	}
	return conf, payload, nil
}

func optionalMoney(field string, raw *json.Number) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := parseAmount(field, *raw)
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: %s cannot be negative", domain.ErrInvalidArgument, field)
	}
	return &d, nil
}
