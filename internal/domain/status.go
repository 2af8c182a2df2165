package domain

import "fmt"

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusCreated indicates stock is committed and the order awaits payment.
	OrderStatusCreated OrderStatus = "created"
	// OrderStatusPaid indicates the gateway confirmed the payment intent.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusProcessing indicates the order is being picked and packed.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to a carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled and its stock released.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates the full amount was returned to the customer.
	OrderStatusRefunded OrderStatus = "refunded"
)

var orderStatuses = map[OrderStatus]struct{}{
	OrderStatusCreated:    {},
	OrderStatusPaid:       {},
	OrderStatusProcessing: {},
	OrderStatusShipped:    {},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
	OrderStatusRefunded:   {},
}

// ParseOrderStatus converts a wire value into an OrderStatus, rejecting unknown values.
func ParseOrderStatus(value string) (OrderStatus, error) {
	status := OrderStatus(value)
	if _, ok := orderStatuses[status]; !ok {
		return "", fmt.Errorf("domain: unknown order status %q", value)
	}
	return status, nil
}

// Terminal reports whether no further lifecycle transitions are possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

// PaymentStatus enumerates the payment side of an order.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

var paymentStatuses = map[PaymentStatus]struct{}{
	PaymentStatusPending:  {},
	PaymentStatusPaid:     {},
	PaymentStatusFailed:   {},
	PaymentStatusRefunded: {},
}

// ParsePaymentStatus converts a wire value into a PaymentStatus, rejecting unknown values.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	status := PaymentStatus(value)
	if _, ok := paymentStatuses[status]; !ok {
		return "", fmt.Errorf("domain: unknown payment status %q", value)
	}
	return status, nil
}

// IntentStatus is the gateway-observed state of a payment intent.
type IntentStatus string

const (
	// IntentStatusRequiresPayment covers intents still waiting on the customer, including an
	// unfinished authentication step. They can be cancelled at the gateway.
	IntentStatusRequiresPayment IntentStatus = "requires_payment"
	// IntentStatusProcessing means the gateway is settling the payment and the outcome is pending.
	IntentStatusProcessing IntentStatus = "processing"
	IntentStatusSucceeded  IntentStatus = "succeeded"
	IntentStatusFailed     IntentStatus = "failed"
	IntentStatusRefunded   IntentStatus = "refunded"
)

// ParseIntentStatus converts a gateway status into an IntentStatus, rejecting unknown values.
func ParseIntentStatus(value string) (IntentStatus, error) {
	switch status := IntentStatus(value); status {
	case IntentStatusRequiresPayment, IntentStatusProcessing, IntentStatusSucceeded, IntentStatusFailed, IntentStatusRefunded:
		return status, nil
	default:
		return "", fmt.Errorf("domain: unknown intent status %q", value)
	}
}

// Role is the caller classification supplied by the upstream identity layer.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// ParseRole converts a header or claim value into a Role, rejecting unknown values.
func ParseRole(value string) (Role, error) {
	switch role := Role(value); role {
	case RoleCustomer, RoleAdmin:
		return role, nil
	default:
		return "", fmt.Errorf("domain: unknown role %q", value)
	}
}
