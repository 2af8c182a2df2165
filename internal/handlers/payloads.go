package handlers

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fixparts/api/internal/services"
)

type orderItemPayload struct {
	ProductID       string `json:"productId"`
	SKU             string `json:"sku,omitempty"`
	Name            string `json:"name,omitempty"`
	Quantity        int    `json:"quantity"`
	BasePrice       string `json:"basePrice"`
	UnitPrice       string `json:"unitPrice"`
	DiscountPercent int64  `json:"discountPercent"`
	LineTotal       string `json:"lineTotal"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	OrderNumber     string             `json:"orderNumber"`
	CustomerID      string             `json:"customerId,omitempty"`
	Email           string             `json:"email"`
	Status          string             `json:"status"`
	PaymentStatus   string             `json:"paymentStatus"`
	PaymentIntentID string             `json:"paymentIntentId,omitempty"`
	Currency        string             `json:"currency"`
	Subtotal        string             `json:"subtotal"`
	Discount        string             `json:"discount"`
	Total           string             `json:"total"`
	Refunded        string             `json:"refunded"`
	Items           []orderItemPayload `json:"items"`
	CancelReason    string             `json:"cancelReason,omitempty"`
	AdminNotes      string             `json:"adminNotes,omitempty"`
	CreatedAt       string             `json:"createdAt"`
	UpdatedAt       string             `json:"updatedAt"`
	PaidAt          string             `json:"paidAt,omitempty"`
	ProcessingAt    string             `json:"processingAt,omitempty"`
	ShippedAt       string             `json:"shippedAt,omitempty"`
	DeliveredAt     string             `json:"deliveredAt,omitempty"`
	CancelledAt     string             `json:"cancelledAt,omitempty"`
	RefundedAt      string             `json:"refundedAt,omitempty"`
}

type excludedLinePayload struct {
	ProductID string `json:"productId"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	Reason    string `json:"reason"`
}

type cartLinePayload struct {
	ProductID       string `json:"productId"`
	SKU             string `json:"sku"`
	Name            string `json:"name"`
	Quantity        int    `json:"quantity"`
	BasePrice       string `json:"basePrice"`
	UnitPrice       string `json:"unitPrice"`
	DiscountPercent int64  `json:"discountPercent"`
	LineTotal       string `json:"lineTotal"`
}

type totalsPayload struct {
	Subtotal string `json:"subtotal"`
	Discount string `json:"discount"`
	Total    string `json:"total"`
}

type cartPayload struct {
	CustomerID string                `json:"customerId"`
	Tier       string                `json:"tier"`
	Lines      []cartLinePayload     `json:"lines"`
	Excluded   []excludedLinePayload `json:"excluded"`
	Totals     totalsPayload         `json:"totals"`
}

// buildOrderPayload renders an order. Admin notes are only included for back-office callers.
func buildOrderPayload(order services.Order, includeNotes bool) orderPayload {
	payload := orderPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerID:    deref(order.CustomerID),
		Email:         order.Email,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Currency:      order.Currency,
		Subtotal:      money(order.Subtotal),
		Discount:      money(order.DiscountTotal),
		Total:         money(order.TotalAmount),
		Refunded:      money(order.RefundedAmount),
		Items:         make([]orderItemPayload, 0, len(order.Items)),
		CancelReason:  deref(order.CancelReason),
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
		PaidAt:        formatTimePtr(order.PaidAt),
		ProcessingAt:  formatTimePtr(order.ProcessingAt),
		ShippedAt:     formatTimePtr(order.ShippedAt),
		DeliveredAt:   formatTimePtr(order.DeliveredAt),
		CancelledAt:   formatTimePtr(order.CancelledAt),
		RefundedAt:    formatTimePtr(order.RefundedAt),
	}
	if includeNotes {
		payload.PaymentIntentID = deref(order.PaymentIntentID)
		payload.AdminNotes = order.AdminNotes
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:       item.ProductID,
			SKU:             item.SKU,
			Name:            item.Name,
			Quantity:        item.Quantity,
			BasePrice:       money(item.BasePrice),
			UnitPrice:       money(item.UnitPrice),
			DiscountPercent: item.DiscountPercent,
			LineTotal:       money(item.LineTotal),
		})
	}
	return payload
}

func buildCartPayload(cart services.CartSnapshot) cartPayload {
	payload := cartPayload{
		CustomerID: cart.CustomerID,
		Tier:       string(cart.Tier),
		Lines:      make([]cartLinePayload, 0, len(cart.Lines)),
		Excluded:   buildExcludedPayload(cart.Excluded),
		Totals: totalsPayload{
			Subtotal: money(cart.Totals.Subtotal),
			Discount: money(cart.Totals.Discount),
			Total:    money(cart.Totals.Total),
		},
	}
	for _, line := range cart.Lines {
		payload.Lines = append(payload.Lines, cartLinePayload{
			ProductID:       line.ProductID,
			SKU:             line.SKU,
			Name:            line.Name,
			Quantity:        line.Quantity,
			BasePrice:       money(line.Pricing.BasePrice),
			UnitPrice:       money(line.Pricing.UnitPrice),
			DiscountPercent: line.Pricing.DiscountPercent,
			LineTotal:       money(line.LineTotal),
		})
	}
	return payload
}

func buildExcludedPayload(lines []services.ExcludedLine) []excludedLinePayload {
	out := make([]excludedLinePayload, 0, len(lines))
	for _, line := range lines {
		out = append(out, excludedLinePayload{
			ProductID: line.ProductID,
			Requested: line.Requested,
			Available: line.Available,
			Reason:    line.Reason,
		})
	}
	return out
}

func money(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
