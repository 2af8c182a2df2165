package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/fixparts/api/internal/platform/auth"
	"github.com/fixparts/api/internal/platform/httpx"
	"github.com/fixparts/api/internal/platform/requestctx"
	"github.com/fixparts/api/internal/services"
)

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.CustomerID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "caller identity required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service is unavailable", http.StatusServiceUnavailable))
}

// writeServiceError maps the service error taxonomy onto HTTP responses.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	kind := services.ErrorKind(err)
	switch kind {
	case services.KindValidation:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case services.KindInsufficientStock:
		apiErr := httpx.NewError("insufficient_stock", "one or more lines exceed available stock", http.StatusConflict)
		var stockErr *services.InsufficientStockError
		if errors.As(err, &stockErr) {
			lines := make([]map[string]any, 0, len(stockErr.Lines))
			for _, line := range stockErr.Lines {
				lines = append(lines, map[string]any{
					"productId": line.ProductID,
					"requested": line.Requested,
					"available": line.Available,
				})
			}
			apiErr = apiErr.WithDetails(map[string]any{"lines": lines})
		}
		httpx.WriteError(ctx, w, apiErr)
	case services.KindCartChanged:
		apiErr := httpx.NewError("cart_changed", "cart changed since it was last reviewed", http.StatusConflict)
		var changed *services.CartChangedError
		if errors.As(err, &changed) {
			apiErr = apiErr.WithDetails(map[string]any{"excluded": buildExcludedPayload(changed.Excluded)})
		}
		httpx.WriteError(ctx, w, apiErr)
	case services.KindInvalidTransition:
		apiErr := httpx.NewError("invalid_transition", err.Error(), http.StatusConflict)
		var transitionErr *services.InvalidTransitionError
		if errors.As(err, &transitionErr) {
			apiErr = apiErr.WithDetails(map[string]any{
				"from": string(transitionErr.From),
				"to":   string(transitionErr.To),
			})
		}
		httpx.WriteError(ctx, w, apiErr)
	case services.KindGateway:
		requestctx.Logger(ctx).Warn("payment gateway failure", zap.Error(err))
		apiErr := httpx.NewError("payment_gateway_error", "payment provider request failed", http.StatusBadGateway)
		var gatewayErr *services.GatewayError
		if errors.As(err, &gatewayErr) && gatewayErr.OrderID != "" {
			apiErr = apiErr.WithDetails(map[string]any{"orderId": gatewayErr.OrderID})
		}
		httpx.WriteError(ctx, w, apiErr)
	case services.KindNotFound:
		httpx.WriteError(ctx, w, httpx.NewError("not_found", err.Error(), http.StatusNotFound))
	case services.KindConflict:
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
	case services.KindForbidden:
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", err.Error(), http.StatusForbidden))
	case services.KindUnavailable:
		requestctx.Logger(ctx).Warn("dependency unavailable", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "service temporarily unavailable", http.StatusServiceUnavailable))
	default:
		requestctx.Logger(ctx).Error("unhandled service error", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}
