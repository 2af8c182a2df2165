package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	domain "github.com/fixparts/api/internal/domain"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
	refunds stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clients   *stripeClients
}

// StripeProvider implements Provider on Stripe PaymentIntents.
type StripeProvider struct {
	api     stripeClients
	account string
	logger  StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents: sc.PaymentIntents,
			refunds: sc.Refunds,
		}
	}
	if clients.intents == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger,
	}, nil
}

// CreateIntent creates a PaymentIntent. The idempotency key makes retries for the same
// order return the original intent.
func (p *StripeProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("stripe: provider is nil")
	}
	if req.Amount <= 0 {
		return Intent{}, fmt.Errorf("stripe: amount must be positive, got %d", req.Amount)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if email := strings.TrimSpace(req.ReceiptEmail); email != "" {
		params.ReceiptEmail = stripe.String(email)
	}
	if req.OrderNumber != "" {
		params.Description = stripe.String("Order " + req.OrderNumber)
	}
	params.Metadata = map[string]string{"order_id": req.OrderID}
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"orderId":       req.OrderID,
		"amount":        intent.Amount,
	})
	return stripeIntent(intent), nil
}

// RetrieveIntent fetches the current state of a PaymentIntent.
func (p *StripeProvider) RetrieveIntent(ctx context.Context, req LookupRequest) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	params.AddExpand("latest_charge")
	intent, err := p.api.intents.Get(req.IntentID, params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: retrieve payment intent: %w", err)
	}
	return stripeIntent(intent), nil
}

// CancelIntent cancels a PaymentIntent that is still waiting on the customer. Stripe rejects the
// call once the intent is processing or has succeeded.
func (p *StripeProvider) CancelIntent(ctx context.Context, req CancelRequest) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if reason := mapStripeCancellationReason(req.Reason); reason != "" {
		params.CancellationReason = stripe.String(reason)
	}
	intent, err := p.api.intents.Cancel(req.IntentID, params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: cancel payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.intent.cancelled", map[string]any{
		"paymentIntent": intent.ID,
		"reason":        req.Reason,
	})
	return stripeIntent(intent), nil
}

// Refund creates a refund against the PaymentIntent.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (Refund, error) {
	if p == nil {
		return Refund{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.IntentID),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Amount != nil {
		params.Amount = stripe.Int64(*req.Amount)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}

	refund, err := p.api.refunds.New(params)
	if err != nil {
		return Refund{}, fmt.Errorf("stripe: refund payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.intent.refunded", map[string]any{
		"paymentIntent": req.IntentID,
		"refund":        refund.ID,
		"amount":        refund.Amount,
	})
	return Refund{
		ID:       refund.ID,
		IntentID: req.IntentID,
		Amount:   refund.Amount,
		Currency: strings.ToUpper(string(refund.Currency)),
		Status:   string(refund.Status),
	}, nil
}

func stripeIntent(intent *stripe.PaymentIntent) Intent {
	if intent == nil {
		return Intent{}
	}
	return Intent{
		ID:           intent.ID,
		Provider:     "stripe",
		ClientSecret: intent.ClientSecret,
		Status:       stripeIntentStatus(intent),
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(string(intent.Currency)),
	}
}

func stripeIntentStatus(intent *stripe.PaymentIntent) domain.IntentStatus {
	if charge := intent.LatestCharge; charge != nil && charge.Amount > 0 && charge.AmountRefunded >= charge.Amount {
		return domain.IntentStatusRefunded
	}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return domain.IntentStatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return domain.IntentStatusFailed
	case stripe.PaymentIntentStatusProcessing:
		return domain.IntentStatusProcessing
	default:
		return domain.IntentStatusRequiresPayment
	}
}

func mapStripeCancellationReason(reason string) string {
	switch r := stripe.PaymentIntentCancellationReason(strings.ToLower(strings.TrimSpace(reason))); r {
	case stripe.PaymentIntentCancellationReasonAbandoned,
		stripe.PaymentIntentCancellationReasonDuplicate,
		stripe.PaymentIntentCancellationReasonFraudulent,
		stripe.PaymentIntentCancellationReasonRequestedByCustomer:
		return string(r)
	default:
		return ""
	}
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
