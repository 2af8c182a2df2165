package services

import (
	"github.com/shopspring/decimal"

	domain "github.com/fixparts/api/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// PriceInput is the minimum a line needs for tier pricing.
type PriceInput struct {
	BasePrice decimal.Decimal
	Quantity  int
}

// PriceUnit applies the tier discount to a single unit. The discount is rounded to cents once and
// subtracted, so UnitPrice + DiscountAmount always equals BasePrice.
func PriceUnit(base decimal.Decimal, tier WholesaleTier) UnitPricing {
	percent := tier.DiscountPercent()
	discount := domain.RoundMoney(base.Mul(decimal.NewFromInt(percent)).Div(hundred))
	return UnitPricing{
		BasePrice:       base,
		UnitPrice:       base.Sub(discount),
		DiscountPercent: percent,
		DiscountAmount:  discount,
	}
}

// PriceLine prices quantity units of product for the tier.
func PriceLine(product domain.Product, quantity int, tier WholesaleTier) PricedLine {
	pricing := PriceUnit(product.BasePrice, tier)
	return PricedLine{
		ProductID: product.ID,
		SKU:       product.SKU,
		Name:      product.Name,
		Quantity:  quantity,
		Pricing:   pricing,
		LineTotal: pricing.UnitPrice.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

// PriceOrder totals the lines for the tier. Totals are exact sums of per-line amounts.
func PriceOrder(lines []PriceInput, tier WholesaleTier) OrderTotals {
	priced := make([]PricedLine, 0, len(lines))
	for _, line := range lines {
		priced = append(priced, PriceLine(domain.Product{BasePrice: line.BasePrice}, line.Quantity, tier))
	}
	return SumLines(priced)
}

// SumLines aggregates already priced lines without re-rounding.
func SumLines(lines []PricedLine) OrderTotals {
	totals := OrderTotals{
		Subtotal: decimal.Zero,
		Discount: decimal.Zero,
		Total:    decimal.Zero,
	}
	for _, line := range lines {
		qty := decimal.NewFromInt(int64(line.Quantity))
		totals.Subtotal = totals.Subtotal.Add(line.Pricing.BasePrice.Mul(qty))
		totals.Discount = totals.Discount.Add(line.Pricing.DiscountAmount.Mul(qty))
		totals.Total = totals.Total.Add(line.LineTotal)
	}
	return totals
}

func orderItemsFromLines(lines []PricedLine) []OrderItem {
	items := make([]OrderItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, OrderItem{
			ProductID:       line.ProductID,
			SKU:             line.SKU,
			Name:            line.Name,
			Quantity:        line.Quantity,
			BasePrice:       line.Pricing.BasePrice,
			UnitPrice:       line.Pricing.UnitPrice,
			DiscountPercent: line.Pricing.DiscountPercent,
			LineTotal:       line.LineTotal,
		})
	}
	return items
}
