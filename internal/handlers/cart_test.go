package handlers

import (
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	domain "github.com/fixparts/api/internal/domain"
	"github.com/fixparts/api/internal/services"
)

func newCartRouter(carts services.CartService) http.Handler {
	return NewRouter(WithRoutes(GroupCart, NewCartHandlers(carts).Routes))
}

func tierTwoCart() services.CartSnapshot {
	return services.CartSnapshot{
		Tier: domain.WholesaleTierTwo,
		Lines: []services.PricedLine{{
			ProductID: "bat-s21",
			SKU:       "BAT-S21",
			Name:      "Galaxy S21 battery",
			Quantity:  10,
			Pricing: services.UnitPricing{
				BasePrice:       decimal.RequireFromString("24.00"),
				UnitPrice:       decimal.RequireFromString("20.40"),
				DiscountPercent: 15,
				DiscountAmount:  decimal.RequireFromString("3.60"),
			},
			LineTotal: decimal.RequireFromString("204.00"),
		}},
		Excluded: []services.ExcludedLine{{ProductID: "cam-px7", Requested: 3, Available: 1, Reason: services.ExclusionInsufficientStock}},
		Totals: services.OrderTotals{
			Subtotal: decimal.RequireFromString("240.00"),
			Discount: decimal.RequireFromString("36.00"),
			Total:    decimal.RequireFromString("204.00"),
		},
	}
}

func TestCartRequiresIdentity(t *testing.T) {
	rr := serve(t, newCartRouter(&stubCartService{}), newRequest(http.MethodGet, "/api/v1/cart", ""))

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCartGetReturnsPricedSnapshot(t *testing.T) {
	carts := &stubCartService{cart: tierTwoCart()}

	rr := serve(t, newCartRouter(carts), asCustomer(newRequest(http.MethodGet, "/api/v1/cart", ""), "c-42"))

	require.Equal(t, http.StatusOK, rr.Code)
	cart := decodeJSON(t, rr)["cart"].(map[string]any)
	require.Equal(t, "c-42", cart["customerId"])
	require.Equal(t, "tier2", cart["tier"])
	line := cart["lines"].([]any)[0].(map[string]any)
	require.Equal(t, "20.40", line["unitPrice"])
	require.Equal(t, float64(15), line["discountPercent"])
	require.Equal(t, "204.00", cart["totals"].(map[string]any)["total"])
	excluded := cart["excluded"].([]any)[0].(map[string]any)
	require.Equal(t, services.ExclusionInsufficientStock, excluded["reason"])
}

func TestCartPutLineUpsertsQuantity(t *testing.T) {
	carts := &stubCartService{cart: tierTwoCart()}
	req := asCustomer(newRequest(http.MethodPut, "/api/v1/cart/lines/bat-s21", `{"quantity":10}`), "c-42")

	rr := serve(t, newCartRouter(carts), req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, []services.UpsertCartLineCommand{{CustomerID: "c-42", ProductID: "bat-s21", Quantity: 10}}, carts.upserts)
}

func TestCartPutLineRequiresQuantity(t *testing.T) {
	carts := &stubCartService{}
	req := asCustomer(newRequest(http.MethodPut, "/api/v1/cart/lines/bat-s21", `{}`), "c-42")

	rr := serve(t, newCartRouter(carts), req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Empty(t, carts.upserts)
}

func TestCartPutLineRejectsUnknownFields(t *testing.T) {
	req := asCustomer(newRequest(http.MethodPut, "/api/v1/cart/lines/bat-s21", `{"quantity":1,"price":"0.01"}`), "c-42")

	rr := serve(t, newCartRouter(&stubCartService{}), req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCartPutLineInsufficientStock(t *testing.T) {
	carts := &stubCartService{err: &services.InsufficientStockError{Lines: []services.StockShortage{{ProductID: "bat-s21", Requested: 50, Available: 12}}}}
	req := asCustomer(newRequest(http.MethodPut, "/api/v1/cart/lines/bat-s21", `{"quantity":50}`), "c-42")

	rr := serve(t, newCartRouter(carts), req)

	require.Equal(t, http.StatusConflict, rr.Code)
	body := decodeJSON(t, rr)
	require.Equal(t, "insufficient_stock", body["error"])
	line := body["lines"].([]any)[0].(map[string]any)
	require.Equal(t, float64(12), line["available"])
}

func TestCartDeleteLine(t *testing.T) {
	carts := &stubCartService{}
	req := asCustomer(newRequest(http.MethodDelete, "/api/v1/cart/lines/bat-s21", ""), "c-42")

	rr := serve(t, newCartRouter(carts), req)

	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, []string{"c-42/bat-s21"}, carts.removed)
}

func TestCartDeleteMissingLine(t *testing.T) {
	carts := &stubCartService{err: services.ErrCartLineNotFound}
	req := asCustomer(newRequest(http.MethodDelete, "/api/v1/cart/lines/bat-s21", ""), "c-42")

	rr := serve(t, newCartRouter(carts), req)

	require.Equal(t, http.StatusNotFound, rr.Code)
}
