package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fixparts/api/internal/platform/auth"
	"github.com/fixparts/api/internal/platform/httpx"
	"github.com/fixparts/api/internal/platform/idempotency"
	"github.com/fixparts/api/internal/services"
)

const (
	maxCheckoutBodySize = 32 * 1024
	maxGuestLines       = 100

	defaultGuestCheckoutLimit  = 20
	defaultGuestCheckoutWindow = time.Minute
)

// CheckoutHandlers turns carts and guest line lists into orders awaiting payment.
type CheckoutHandlers struct {
	checkouts  services.CheckoutService
	idempotent func(http.Handler) http.Handler
	keyHeader  string
	guestLimit rateLimiter
	guestRetry time.Duration
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutIdempotency wraps the submit routes with the idempotency middleware. header must
// match the header the middleware reads.
func WithCheckoutIdempotency(mw func(http.Handler) http.Handler, header string) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.idempotent = mw
		if header = strings.TrimSpace(header); header != "" {
			h.keyHeader = header
		}
	}
}

// WithGuestCheckoutRateLimit bounds guest submissions per client address. A non-positive limit
// disables the check.
func WithGuestCheckoutRateLimit(limit int, window time.Duration, clock func() time.Time) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.guestLimit = newClientBuckets(limit, window, clock)
		h.guestRetry = 0
		if limit > 0 {
			h.guestRetry = window / time.Duration(limit)
		}
	}
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(checkouts services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		checkouts:  checkouts,
		keyHeader:  idempotency.DefaultHeaderName,
		guestLimit: newClientBuckets(defaultGuestCheckoutLimit, defaultGuestCheckoutWindow, nil),
		guestRetry: defaultGuestCheckoutWindow / defaultGuestCheckoutLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	idempotent := h.idempotent
	if idempotent == nil {
		idempotent = passthrough
	}
	r.With(auth.RequireRole(), idempotent).Post("/", h.submit)
	r.With(limitByClientIP(h.guestLimit, h.guestRetry), idempotent).Post("/guest", h.submitGuest)
}

func passthrough(next http.Handler) http.Handler { return next }

type checkoutRequest struct {
	Email         string `json:"email"`
	Currency      string `json:"currency"`
	AcceptChanges bool   `json:"acceptChanges"`
}

type guestLineRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type guestCheckoutRequest struct {
	Email         string             `json:"email"`
	Currency      string             `json:"currency"`
	Lines         []guestLineRequest `json:"lines"`
	AcceptChanges bool               `json:"acceptChanges"`
}

type checkoutResponse struct {
	Order        orderPayload          `json:"order"`
	ClientSecret string                `json:"clientSecret,omitempty"`
	Excluded     []excludedLinePayload `json:"excluded"`
	Replayed     bool                  `json:"replayed"`
}

func (h *CheckoutHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkouts == nil {
		serviceUnavailable(ctx, w, "checkout")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	key, ok := h.idempotencyKey(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := httpx.DecodeJSON(r, maxCheckoutBodySize, &req, true); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = identity.Email
	}

	result, err := h.checkouts.Submit(ctx, services.CheckoutCommand{
		CustomerID:     identity.CustomerID,
		Email:          email,
		IdempotencyKey: key,
		Currency:       strings.ToUpper(strings.TrimSpace(req.Currency)),
		AcceptChanges:  req.AcceptChanges,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCheckoutResult(w, result)
}

func (h *CheckoutHandlers) submitGuest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkouts == nil {
		serviceUnavailable(ctx, w, "checkout")
		return
	}
	key, ok := h.idempotencyKey(w, r)
	if !ok {
		return
	}

	var req guestCheckoutRequest
	if err := httpx.DecodeJSON(r, maxCheckoutBodySize, &req, false); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	if len(req.Lines) > maxGuestLines {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "too many lines", http.StatusBadRequest))
		return
	}
	lines := make([]services.LineRequest, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.LineRequest{ProductID: strings.TrimSpace(line.ProductID), Quantity: line.Quantity})
	}

	email := strings.TrimSpace(req.Email)
	result, err := h.checkouts.SubmitGuest(ctx, services.GuestCheckoutCommand{
		Email:          email,
		IdempotencyKey: guestOrderKey(email, key),
		Currency:       strings.ToUpper(strings.TrimSpace(req.Currency)),
		Lines:          lines,
		AcceptChanges:  req.AcceptChanges,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCheckoutResult(w, result)
}

func (h *CheckoutHandlers) idempotencyKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := strings.TrimSpace(r.Header.Get(h.keyHeader))
	if key == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("idempotency_key_required", "missing "+h.keyHeader+" header", http.StatusBadRequest))
		return "", false
	}
	return key, true
}

// guestOrderKey namespaces a guest's key by email so two guests reusing a key never share an order.
func guestOrderKey(email, key string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return "guest:" + hex.EncodeToString(sum[:8]) + ":" + key
}

func writeCheckoutResult(w http.ResponseWriter, result services.CheckoutResult) {
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, checkoutResponse{
		Order:        buildOrderPayload(result.Order, false),
		ClientSecret: result.ClientSecret,
		Excluded:     buildExcludedPayload(result.Excluded),
		Replayed:     result.Replayed,
	})
}
