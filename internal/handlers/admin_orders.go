package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/fixparts/api/internal/domain"
	"github.com/fixparts/api/internal/platform/auth"
	"github.com/fixparts/api/internal/platform/httpx"
	"github.com/fixparts/api/internal/services"
)

const maxAdminBodySize = 8 * 1024

// AdminOrderHandlers exposes back-office order operations.
type AdminOrderHandlers struct {
	orders     services.OrderService
	refunds    services.RefundService
	idempotent func(http.Handler) http.Handler
}

// AdminOrderOption customises AdminOrderHandlers.
type AdminOrderOption func(*AdminOrderHandlers)

// WithRefundIdempotency wraps the refund route with the idempotency middleware.
func WithRefundIdempotency(mw func(http.Handler) http.Handler) AdminOrderOption {
	return func(h *AdminOrderHandlers) {
		h.idempotent = mw
	}
}

// NewAdminOrderHandlers constructs admin order handlers.
func NewAdminOrderHandlers(orders services.OrderService, refunds services.RefundService, opts ...AdminOrderOption) *AdminOrderHandlers {
	h := &AdminOrderHandlers{orders: orders, refunds: refunds}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the admin order endpoints onto the /admin group.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	idempotent := h.idempotent
	if idempotent == nil {
		idempotent = passthrough
	}
	r.Group(func(admin chi.Router) {
		admin.Use(auth.RequireRole(domain.RoleAdmin))
		admin.Get("/orders/{orderId}", h.getOrder)
		admin.Post("/orders/{orderId}/status", h.advanceStatus)
		admin.Post("/orders/{orderId}/cancel", h.cancelOrder)
		admin.With(idempotent).Post("/orders/{orderId}/refund", h.refundOrder)
		admin.Post("/reservations/sweep", h.sweepReservations)
	})
}

type advanceStatusRequest struct {
	Status string `json:"status"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type refundOrderRequest struct {
	Amount *string `json:"amount"`
	Reason string  `json:"reason"`
}

type transitionResponse struct {
	Order          orderPayload `json:"order"`
	PreviousStatus string       `json:"previousStatus"`
	AlreadyApplied bool         `json:"alreadyApplied"`
	Notified       bool         `json:"notified"`
}

type sweepResponse struct {
	Scanned   int `json:"scanned"`
	Cancelled int `json:"cancelled"`
	Paid      int `json:"paid"`
	Skipped   int `json:"skipped"`
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	order, err := h.orders.GetOrder(ctx, orderIDParam(r))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, true)})
}

func (h *AdminOrderHandlers) advanceStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req advanceStatusRequest
	if err := httpx.DecodeJSON(r, maxAdminBodySize, &req, false); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	target, err := domain.ParseOrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown order status", http.StatusBadRequest))
		return
	}

	result, err := h.orders.AdvanceStatus(ctx, services.AdvanceStatusCommand{
		OrderID:      orderIDParam(r),
		TargetStatus: target,
		ActorID:      identity.CustomerID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeTransition(w, result)
}

func (h *AdminOrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req cancelOrderRequest
	if err := httpx.DecodeJSON(r, maxAdminBodySize, &req, true); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}

	result, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderIDParam(r),
		Cause:   services.CancelCauseRequested,
		Reason:  req.Reason,
		ActorID: identity.CustomerID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeTransition(w, result)
}

func (h *AdminOrderHandlers) refundOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.refunds == nil {
		serviceUnavailable(ctx, w, "refund")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req refundOrderRequest
	if err := httpx.DecodeJSON(r, maxAdminBodySize, &req, true); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	var amount *decimal.Decimal
	if req.Amount != nil {
		parsed, err := decimal.NewFromString(strings.TrimSpace(*req.Amount))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "amount must be a decimal string", http.StatusBadRequest))
			return
		}
		amount = &parsed
	}

	result, err := h.refunds.Refund(ctx, services.RefundCommand{
		OrderID: orderIDParam(r),
		Amount:  amount,
		Reason:  req.Reason,
		Actor:   services.Actor{ID: identity.CustomerID, Role: identity.Role},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeTransition(w, result)
}

func (h *AdminOrderHandlers) sweepReservations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	result, err := h.orders.SweepExpired(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sweepResponse{
		Scanned:   result.Scanned,
		Cancelled: result.Cancelled,
		Paid:      result.Paid,
		Skipped:   result.Skipped,
	})
}

func orderIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "orderId"))
}

func writeTransition(w http.ResponseWriter, result services.TransitionResult) {
	httpx.WriteJSON(w, http.StatusOK, transitionResponse{
		Order:          buildOrderPayload(result.Order, true),
		PreviousStatus: string(result.PreviousStatus),
		AlreadyApplied: result.AlreadyApplied,
		Notified:       result.Notification.Delivered(),
	})
}
