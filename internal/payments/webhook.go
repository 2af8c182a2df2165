package payments

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	domain "github.com/fixparts/api/internal/domain"
)

// StripeWebhookVerifier authenticates Stripe callbacks and extracts payment intent state.
type StripeWebhookVerifier struct {
	secret string
}

// NewStripeWebhookVerifier builds a verifier for the endpoint signing secret.
func NewStripeWebhookVerifier(secret string) (*StripeWebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("stripe webhook: signing secret is required")
	}
	return &StripeWebhookVerifier{secret: secret}, nil
}

// Parse verifies the Stripe-Signature header and maps the event. Events that do not change
// intent state return ErrIgnoredEvent.
func (v *StripeWebhookVerifier) Parse(payload []byte, signature string) (Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := Event{ID: evt.ID, Type: string(evt.Type)}
	switch out.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
			return Event{}, fmt.Errorf("stripe webhook: decode payment intent: %w", err)
		}
		out.IntentID = intent.ID
		out.Amount = intent.Amount
		if out.Type == "payment_intent.succeeded" {
			out.Status = domain.IntentStatusSucceeded
			if intent.AmountReceived > 0 {
				out.Amount = intent.AmountReceived
			}
		} else {
			out.Status = domain.IntentStatusFailed
		}
		out.Currency = strings.ToUpper(string(intent.Currency))
	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(evt.Data.Raw, &charge); err != nil {
			return Event{}, fmt.Errorf("stripe webhook: decode charge: %w", err)
		}
		if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
			return Event{}, fmt.Errorf("%w: refund without payment intent", ErrIgnoredEvent)
		}
		out.IntentID = charge.PaymentIntent.ID
		out.Amount = charge.AmountRefunded
		out.Currency = strings.ToUpper(string(charge.Currency))
		out.Status = domain.IntentStatusRefunded
	default:
		return Event{}, fmt.Errorf("%w: %s", ErrIgnoredEvent, out.Type)
	}
	if out.IntentID == "" {
		return Event{}, fmt.Errorf("stripe webhook: event %s has no payment intent id", evt.ID)
	}
	return out, nil
}
