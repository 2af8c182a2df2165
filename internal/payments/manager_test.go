package payments

import (
	"context"
	"errors"
	"testing"

	domain "github.com/fixparts/api/internal/domain"
)

type fakeProvider struct {
	lastOp string
	intent Intent
	refund Refund
	err    error
}

func (f *fakeProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	f.lastOp = "create"
	return f.intent, f.err
}

func (f *fakeProvider) RetrieveIntent(ctx context.Context, req LookupRequest) (Intent, error) {
	f.lastOp = "retrieve"
	return f.intent, f.err
}

func (f *fakeProvider) CancelIntent(ctx context.Context, req CancelRequest) (Intent, error) {
	f.lastOp = "cancel"
	return f.intent, f.err
}

func (f *fakeProvider) Refund(ctx context.Context, req RefundRequest) (Refund, error) {
	f.lastOp = "refund"
	return f.refund, f.err
}

func TestManagerDefaultsToStripe(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{intent: Intent{ID: "pi_stripe", Status: domain.IntentStatusRequiresPayment}}
	other := &fakeProvider{intent: Intent{ID: "pi_other"}}

	mgr, err := NewManager(map[string]Provider{
		"stripe": stripe,
		"other":  other,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	intent, err := mgr.CreateIntent(ctx, IntentRequest{Currency: "USD", Amount: 100})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.Provider != "stripe" || intent.ID != "pi_stripe" {
		t.Fatalf("expected stripe intent, got %+v", intent)
	}
	if other.lastOp != "" {
		t.Fatalf("expected other provider to remain unused")
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	ctx := context.Background()
	stripe := &fakeProvider{intent: Intent{ID: "pi_stripe"}}
	eur := &fakeProvider{intent: Intent{ID: "pi_eur"}}

	mgr, err := NewManager(
		map[string]Provider{
			"stripe": stripe,
			"eu":     eur,
		},
		WithCurrencyRoutes(map[string]string{"eur": "EU"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	intent, err := mgr.RetrieveIntent(ctx, LookupRequest{IntentID: "pi_eur", Currency: "eur"})
	if err != nil {
		t.Fatalf("retrieve intent: %v", err)
	}
	if intent.Provider != "eu" {
		t.Fatalf("expected eu provider, got %q", intent.Provider)
	}
	if eur.lastOp != "retrieve" || stripe.lastOp != "" {
		t.Fatalf("unexpected routing: eu=%q stripe=%q", eur.lastOp, stripe.lastOp)
	}

	cancelled, err := mgr.CancelIntent(ctx, CancelRequest{IntentID: "pi_stripe", Currency: "USD"})
	if err != nil {
		t.Fatalf("cancel intent: %v", err)
	}
	if cancelled.Provider != "stripe" || stripe.lastOp != "cancel" {
		t.Fatalf("expected cancel routed to stripe, got %q op=%q", cancelled.Provider, stripe.lastOp)
	}
}

func TestManagerRefundPropagatesError(t *testing.T) {
	ctx := context.Background()
	wantErr := errors.New("declined")
	mgr, err := NewManager(map[string]Provider{"stripe": &fakeProvider{err: wantErr}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if _, err := mgr.Refund(ctx, RefundRequest{IntentID: "pi_1", Currency: "USD"}); !errors.Is(err, wantErr) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	_, err := NewManager(
		map[string]Provider{"a": &fakeProvider{}, "b": &fakeProvider{}},
		WithDefaultProvider("missing"),
	)
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider for unknown default, got %v", err)
	}

	mgr, err := NewManager(
		map[string]Provider{"a": &fakeProvider{}, "b": &fakeProvider{}},
		WithCurrencyRoutes(map[string]string{"usd": "a"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.CreateIntent(context.Background(), IntentRequest{Currency: "GBP"}); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider for unrouted currency, got %v", err)
	}
	if intent, err := mgr.CreateIntent(context.Background(), IntentRequest{Currency: "usd"}); err != nil || intent.Provider != "a" {
		t.Fatalf("expected routed provider a, got %+v %v", intent, err)
	}
}

func TestManagerSoleProviderServesEveryCurrency(t *testing.T) {
	mgr, err := NewManager(map[string]Provider{"adyen": &fakeProvider{intent: Intent{ID: "pi_1"}}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	intent, err := mgr.RetrieveIntent(context.Background(), LookupRequest{IntentID: "pi_1", Currency: "JPY"})
	if err != nil || intent.Provider != "adyen" {
		t.Fatalf("expected sole provider, got %+v %v", intent, err)
	}
}

func TestNewManagerRejectsNilProvider(t *testing.T) {
	if _, err := NewManager(map[string]Provider{"stripe": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error for empty providers")
	}
}
