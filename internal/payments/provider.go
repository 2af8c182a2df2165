package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/fixparts/api/internal/domain"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrIgnoredEvent marks webhook events that carry no payment intent state change.
	ErrIgnoredEvent = errors.New("payments: event ignored")
	// ErrInvalidSignature marks webhook payloads whose signature could not be verified.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
)

// IntentRequest describes a payment intent to create for an order. Amount is in minor units.
type IntentRequest struct {
	OrderID        string
	OrderNumber    string
	Amount         int64
	Currency       string
	ReceiptEmail   string
	IdempotencyKey string
	Metadata       map[string]string
}

// LookupRequest identifies an existing intent. Currency routes the call to the right provider.
type LookupRequest struct {
	IntentID string
	Currency string
}

// CancelRequest asks the gateway to cancel an intent that has not been paid.
type CancelRequest struct {
	IntentID string
	Currency string
	Reason   string
}

// Intent is the normalised gateway view of a payment intent.
type Intent struct {
	ID           string
	Provider     string
	ClientSecret string
	Status       domain.IntentStatus
	Amount       int64
	Currency     string
}

// RefundRequest defines a refund attempt. A nil Amount refunds the remaining balance.
type RefundRequest struct {
	IntentID       string
	Amount         *int64
	Currency       string
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// Refund is the gateway's acknowledgement of a refund.
type Refund struct {
	ID       string
	IntentID string
	Amount   int64
	Currency string
	Status   string
}

// Event is a verified gateway callback reduced to the fields reconciliation needs.
type Event struct {
	ID       string
	Type     string
	IntentID string
	Status   domain.IntentStatus
	Amount   int64
	Currency string
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	RetrieveIntent(ctx context.Context, req LookupRequest) (Intent, error)
	CancelIntent(ctx context.Context, req CancelRequest) (Intent, error)
	Refund(ctx context.Context, req RefundRequest) (Refund, error)
}

// Manager routes gateway calls to a provider by currency, falling back to the default provider.
// It satisfies the order and refund services' gateway dependency.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func providerKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

func currencyKey(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }

// WithDefaultProvider names the provider used for currencies without a route.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = providerKey(provider)
	}
}

// WithCurrencyRoutes maps ISO currency codes to provider names.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		for currency, provider := range routes {
			m.currencyRoutes[currencyKey(currency)] = providerKey(provider)
		}
	}
}

// NewManager registers providers by name. "stripe" is the default when registered.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	m := &Manager{
		providers:      make(map[string]Provider, len(providers)),
		currencyRoutes: map[string]string{},
	}
	for name, provider := range providers {
		key := providerKey(name)
		if key == "" || provider == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", name)
		}
		m.providers[key] = provider
	}
	if _, ok := m.providers["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.defaultProvider != "" {
		if _, ok := m.providers[m.defaultProvider]; !ok {
			return nil, fmt.Errorf("%w: default %q", ErrUnsupportedProvider, m.defaultProvider)
		}
	}
	return m, nil
}

// route picks the provider for currency: explicit route, then default, then the sole provider.
func (m *Manager) route(currency string) (string, Provider, error) {
	candidates := []string{m.currencyRoutes[currencyKey(currency)], m.defaultProvider}
	if len(m.providers) == 1 {
		for key := range m.providers {
			candidates = append(candidates, key)
		}
	}
	for _, key := range candidates {
		if provider, ok := m.providers[key]; ok && key != "" {
			return key, provider, nil
		}
	}
	return "", nil, fmt.Errorf("%w for currency %q", ErrUnsupportedProvider, currency)
}

// CreateIntent creates an intent with the provider routed for req.Currency.
func (m *Manager) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	key, provider, err := m.route(req.Currency)
	if err != nil {
		return Intent{}, err
	}
	intent, err := provider.CreateIntent(ctx, req)
	if err != nil {
		return Intent{}, err
	}
	intent.Provider = key
	return intent, nil
}

// RetrieveIntent loads an intent from the provider routed for req.Currency.
func (m *Manager) RetrieveIntent(ctx context.Context, req LookupRequest) (Intent, error) {
	key, provider, err := m.route(req.Currency)
	if err != nil {
		return Intent{}, err
	}
	intent, err := provider.RetrieveIntent(ctx, req)
	if err != nil {
		return Intent{}, err
	}
	intent.Provider = key
	return intent, nil
}

// CancelIntent cancels an intent with the provider routed for req.Currency.
func (m *Manager) CancelIntent(ctx context.Context, req CancelRequest) (Intent, error) {
	key, provider, err := m.route(req.Currency)
	if err != nil {
		return Intent{}, err
	}
	intent, err := provider.CancelIntent(ctx, req)
	if err != nil {
		return Intent{}, err
	}
	intent.Provider = key
	return intent, nil
}

// Refund refunds through the provider routed for req.Currency.
func (m *Manager) Refund(ctx context.Context, req RefundRequest) (Refund, error) {
	_, provider, err := m.route(req.Currency)
	if err != nil {
		return Refund{}, err
	}
	return provider.Refund(ctx, req)
}
