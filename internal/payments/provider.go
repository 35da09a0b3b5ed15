package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// CheckoutLineItem describes a single order line to include in a checkout session.
type CheckoutLineItem struct {
	Name     string
	SKU      string
	Quantity int64
	Amount   int64
	Currency string
}

// CheckoutRequest captures the payload required to initialise a payment for an order.
type CheckoutRequest struct {
	OrderID        string
	OrderNumber    string
	Amount         int64
	Currency       string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
	Items          []CheckoutLineItem
	Metadata       map[string]string
}

// CheckoutIntent is the PSP session handed back to the client. Reference is
// the token the client later presents for verification.
type CheckoutIntent struct {
	Reference   string
	Provider    string
	RedirectURL string
	ExpiresAt   time.Time
	Raw         map[string]any
}

// VerificationResult normalises the PSP view of a payment for reconciliation.
type VerificationResult struct {
	Reference  string
	Provider   string
	Status     Status
	Amount     int64
	Currency   string
	PayerEmail string
	Raw        map[string]any
}

// Provider is the contract PSP adapters implement.
type Provider interface {
	InitializeCheckout(ctx context.Context, req CheckoutRequest) (CheckoutIntent, error)
	VerifyPayment(ctx context.Context, reference string) (VerificationResult, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used when no method is named.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.TrimSpace(strings.ToLower(provider))
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{providers: copyMap}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Supports reports whether a provider is registered for the given payment method.
func (m *Manager) Supports(method string) bool {
	if m == nil {
		return false
	}
	_, ok := m.providers[strings.TrimSpace(strings.ToLower(method))]
	return ok
}

func (m *Manager) resolveProvider(method string) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if key := strings.TrimSpace(strings.ToLower(method)); key != "" {
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, key)
	}
	if def := m.defaultProvider; def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// InitializeCheckout delegates to the provider registered for the payment method.
func (m *Manager) InitializeCheckout(ctx context.Context, method string, req CheckoutRequest) (CheckoutIntent, error) {
	key, provider, err := m.resolveProvider(method)
	if err != nil {
		return CheckoutIntent{}, err
	}
	intent, err := provider.InitializeCheckout(ctx, req)
	if err != nil {
		return CheckoutIntent{}, err
	}
	intent.Provider = key
	return intent, nil
}

// VerifyPayment delegates to the provider registered for the payment method.
func (m *Manager) VerifyPayment(ctx context.Context, method, reference string) (VerificationResult, error) {
	key, provider, err := m.resolveProvider(method)
	if err != nil {
		return VerificationResult{}, err
	}
	result, err := provider.VerifyPayment(ctx, reference)
	if err != nil {
		return VerificationResult{}, err
	}
	if result.Provider == "" {
		result.Provider = key
	}
	return result, nil
}
