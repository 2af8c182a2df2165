package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fixparts/api/internal/platform/auth"
	"github.com/fixparts/api/internal/platform/httpx"
	"github.com/fixparts/api/internal/services"
)

// OrderHandlers lets a customer read their own orders.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs customer order handlers.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(auth.RequireRole())
	r.Get("/{orderId}", h.getOrder)
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, strings.TrimSpace(chi.URLParam(r, "orderId")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	// Orders of other customers are reported as missing.
	if !identity.CanView(deref(order.CustomerID)) {
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "order not found", http.StatusNotFound))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, identity.IsAdmin())})
}
