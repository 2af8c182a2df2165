package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/fixparts/api/internal/domain"
	"github.com/fixparts/api/internal/payments"
	"github.com/fixparts/api/internal/platform/httpx"
	"github.com/fixparts/api/internal/platform/requestctx"
	"github.com/fixparts/api/internal/services"
)

const (
	maxWebhookBodySize    = 256 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

// WebhookVerifier authenticates a raw gateway callback.
type WebhookVerifier interface {
	Parse(payload []byte, signature string) (payments.Event, error)
}

// PaymentWebhookHandlers receives payment gateway callbacks and hands them to reconciliation.
type PaymentWebhookHandlers struct {
	verifier WebhookVerifier
	payments services.PaymentService
}

// NewPaymentWebhookHandlers constructs webhook handlers.
func NewPaymentWebhookHandlers(verifier WebhookVerifier, reconciler services.PaymentService) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{verifier: verifier, payments: reconciler}
}

// Routes wires the gateway callbacks onto the /webhooks group.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/stripe", h.stripe)
}

type webhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

func (h *PaymentWebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verifier == nil || h.payments == nil {
		serviceUnavailable(ctx, w, "payment")
		return
	}
	logger := requestctx.Logger(ctx)

	body, err := httpx.ReadBody(r, maxWebhookBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}

	event, err := h.verifier.Parse(body, r.Header.Get(stripeSignatureHeader))
	switch {
	case errors.Is(err, payments.ErrIgnoredEvent):
		httpx.WriteJSON(w, http.StatusOK, webhookResponse{Received: true, Outcome: services.ReconcileIgnored})
		return
	case errors.Is(err, payments.ErrInvalidSignature):
		logger.Warn("payment webhook signature rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	case err != nil:
		logger.Warn("payment webhook payload rejected", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "webhook payload could not be decoded", http.StatusBadRequest))
		return
	}

	result, err := h.payments.OnGatewayEvent(ctx, services.GatewayEvent{
		EventID:  event.ID,
		IntentID: event.IntentID,
		Status:   event.Status,
		Amount:   domain.FromMinorUnits(event.Amount, event.Currency),
		Currency: event.Currency,
	})
	if err != nil {
		// Retrying cannot change the outcome for these kinds, so the gateway is told to stop.
		switch services.ErrorKind(err) {
		case services.KindValidation, services.KindNotFound, services.KindInvalidTransition:
			httpx.WriteJSON(w, http.StatusOK, webhookResponse{Received: true, Outcome: services.ReconcileRejected})
		default:
			writeServiceError(ctx, w, err)
		}
		return
	}
	httpx.WriteJSON(w, http.StatusOK, webhookResponse{Received: true, Outcome: result.Outcome})
}
