package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	domain "github.com/fixparts/api/internal/domain"
	"github.com/fixparts/api/internal/payments"
	"github.com/fixparts/api/internal/services"
)

func newWebhookRouter(verifier WebhookVerifier, reconciler services.PaymentService) http.Handler {
	return NewRouter(WithRoutes(GroupWebhooks, NewPaymentWebhookHandlers(verifier, reconciler).Routes))
}

func stripeCallback(body string) *http.Request {
	req := newRequest(http.MethodPost, "/api/v1/webhooks/payments/stripe", body)
	req.Header.Set(stripeSignatureHeader, "t=1,v1=abc")
	return req
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	verifier := &stubVerifier{err: fmt.Errorf("%w: no signatures found", payments.ErrInvalidSignature)}
	reconciler := &stubPaymentService{}

	rr := serve(t, newWebhookRouter(verifier, reconciler), stripeCallback(`{"id":"evt_1"}`))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid_signature", decodeJSON(t, rr)["error"])
	require.Empty(t, reconciler.events)
}

func TestStripeWebhookAcknowledgesIgnoredEvents(t *testing.T) {
	verifier := &stubVerifier{err: fmt.Errorf("%w: customer.created", payments.ErrIgnoredEvent)}
	reconciler := &stubPaymentService{}

	rr := serve(t, newWebhookRouter(verifier, reconciler), stripeCallback(`{"id":"evt_2"}`))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, services.ReconcileIgnored, decodeJSON(t, rr)["outcome"])
	require.Empty(t, reconciler.events)
}

func TestStripeWebhookReconcilesSucceededIntent(t *testing.T) {
	verifier := &stubVerifier{event: payments.Event{
		ID:       "evt_3",
		Type:     "payment_intent.succeeded",
		IntentID: "pi_123",
		Status:   domain.IntentStatusSucceeded,
		Amount:   17998,
		Currency: "USD",
	}}
	reconciler := &stubPaymentService{result: services.ReconcileResult{Outcome: services.ReconcileApplied}}

	rr := serve(t, newWebhookRouter(verifier, reconciler), stripeCallback(`{"id":"evt_3"}`))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "t=1,v1=abc", verifier.signature)
	require.Len(t, reconciler.events, 1)
	event := reconciler.events[0]
	require.Equal(t, "evt_3", event.EventID)
	require.Equal(t, "pi_123", event.IntentID)
	require.Equal(t, domain.IntentStatusSucceeded, event.Status)
	require.True(t, event.Amount.Equal(decimal.RequireFromString("179.98")))
	require.Equal(t, services.ReconcileApplied, decodeJSON(t, rr)["outcome"])
}

func TestStripeWebhookUnknownIntentIsAcknowledged(t *testing.T) {
	verifier := &stubVerifier{event: payments.Event{ID: "evt_4", IntentID: "pi_unknown", Status: domain.IntentStatusFailed}}
	reconciler := &stubPaymentService{result: services.ReconcileResult{Outcome: services.ReconcileRejected}, err: services.ErrPaymentUnknownIntent}

	rr := serve(t, newWebhookRouter(verifier, reconciler), stripeCallback(`{"id":"evt_4"}`))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, services.ReconcileRejected, decodeJSON(t, rr)["outcome"])
}

func TestStripeWebhookTransientFailureAsksForRetry(t *testing.T) {
	verifier := &stubVerifier{event: payments.Event{ID: "evt_5", IntentID: "pi_123", Status: domain.IntentStatusSucceeded, Amount: 100}}
	reconciler := &stubPaymentService{err: fmt.Errorf("mark paid: %w", context.DeadlineExceeded)}

	rr := serve(t, newWebhookRouter(verifier, reconciler), stripeCallback(`{"id":"evt_5"}`))

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestStripeWebhookInternalErrorIsServerError(t *testing.T) {
	verifier := &stubVerifier{event: payments.Event{ID: "evt_6", IntentID: "pi_123", Status: domain.IntentStatusSucceeded, Amount: 100}}
	reconciler := &stubPaymentService{err: errors.New("boom")}

	rr := serve(t, newWebhookRouter(verifier, reconciler), stripeCallback(`{"id":"evt_6"}`))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestStripeWebhookRequiresBody(t *testing.T) {
	rr := serve(t, newWebhookRouter(&stubVerifier{}, &stubPaymentService{}), stripeCallback(""))

	require.Equal(t, http.StatusBadRequest, rr.Code)
}
