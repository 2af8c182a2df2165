package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// WholesaleTier identifies the discount band a customer buys at.
type WholesaleTier string

const (
	WholesaleTierNone  WholesaleTier = "none"
	WholesaleTierOne   WholesaleTier = "tier1"
	WholesaleTierTwo   WholesaleTier = "tier2"
	WholesaleTierThree WholesaleTier = "tier3"
)

var tierDiscountPercent = map[WholesaleTier]int64{
	WholesaleTierNone:  0,
	WholesaleTierOne:   8,
	WholesaleTierTwo:   17,
	WholesaleTierThree: 25,
}

// ParseWholesaleTier converts a stored or wire value into a tier. Empty input maps to none.
func ParseWholesaleTier(value string) (WholesaleTier, error) {
	if value == "" {
		return WholesaleTierNone, nil
	}
	tier := WholesaleTier(value)
	if _, ok := tierDiscountPercent[tier]; !ok {
		return "", fmt.Errorf("domain: unknown wholesale tier %q", value)
	}
	return tier, nil
}

// DiscountPercent returns the whole-number discount for the tier. Unknown tiers price as none.
func (t WholesaleTier) DiscountPercent() int64 {
	return tierDiscountPercent[t]
}

// UnitPricing is the per-unit result of applying a tier to a base price.
type UnitPricing struct {
	BasePrice       decimal.Decimal
	UnitPrice       decimal.Decimal
	DiscountPercent int64
	DiscountAmount  decimal.Decimal
}

// PricedLine is a cart or order line with its tier pricing resolved.
type PricedLine struct {
	ProductID string
	SKU       string
	Name      string
	Quantity  int
	Pricing   UnitPricing
	LineTotal decimal.Decimal
}

// OrderTotals aggregates priced lines.
type OrderTotals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}
