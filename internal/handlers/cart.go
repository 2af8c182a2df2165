package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fixparts/api/internal/platform/auth"
	"github.com/fixparts/api/internal/platform/httpx"
	"github.com/fixparts/api/internal/services"
)

const maxCartBodySize = 4 * 1024

// CartHandlers exposes the signed-in customer's cart.
type CartHandlers struct {
	carts services.CartService
}

// NewCartHandlers constructs cart handlers backed by the cart service.
func NewCartHandlers(carts services.CartService) *CartHandlers {
	return &CartHandlers{carts: carts}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(auth.RequireRole())
	r.Get("/", h.getCart)
	r.Put("/lines/{productId}", h.putLine)
	r.Delete("/lines/{productId}", h.deleteLine)
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type putCartLineRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(ctx, identity.CustomerID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) putLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req putCartLineRequest
	if err := httpx.DecodeJSON(r, maxCartBodySize, &req, false); err != nil {
		httpx.WriteError(ctx, w, httpx.BodyError(err))
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productId"))
	if _, err := h.carts.AddOrUpdate(ctx, services.UpsertCartLineCommand{
		CustomerID: identity.CustomerID,
		ProductID:  productID,
		Quantity:   *req.Quantity,
	}); err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	cart, err := h.carts.GetCart(ctx, identity.CustomerID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) deleteLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productId"))
	if err := h.carts.Remove(ctx, identity.CustomerID, productID); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
