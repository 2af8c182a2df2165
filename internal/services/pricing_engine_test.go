package services

import (
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/fixparts/api/internal/domain"
)

var allTiers = []WholesaleTier{
	domain.WholesaleTierNone,
	domain.WholesaleTierOne,
	domain.WholesaleTierTwo,
	domain.WholesaleTierThree,
}

func TestPriceUnitTierTable(t *testing.T) {
	base := decimal.RequireFromString("100.00")
	want := map[WholesaleTier]string{
		domain.WholesaleTierNone:  "100",
		domain.WholesaleTierOne:   "92",
		domain.WholesaleTierTwo:   "83",
		domain.WholesaleTierThree: "75",
	}
	for tier, expected := range want {
		got := PriceUnit(base, tier)
		if !got.UnitPrice.Equal(decimal.RequireFromString(expected)) {
			t.Fatalf("%s: expected unit price %s, got %s", tier, expected, got.UnitPrice)
		}
	}
}

func TestPriceUnitRoundsHalfUpOnce(t *testing.T) {
	// 17% of 12.50 is 2.125, which rounds to 2.13.
	got := PriceUnit(decimal.RequireFromString("12.50"), domain.WholesaleTierTwo)
	if !got.DiscountAmount.Equal(decimal.RequireFromString("2.13")) {
		t.Fatalf("expected discount 2.13, got %s", got.DiscountAmount)
	}
	if !got.UnitPrice.Equal(decimal.RequireFromString("10.37")) {
		t.Fatalf("expected unit price 10.37, got %s", got.UnitPrice)
	}
	if got.DiscountPercent != 17 {
		t.Fatalf("expected percent 17, got %d", got.DiscountPercent)
	}
}

func TestPriceUnitUnknownTierIsNone(t *testing.T) {
	base := decimal.RequireFromString("19.99")
	got := PriceUnit(base, WholesaleTier("platinum"))
	if !got.UnitPrice.Equal(base) || !got.DiscountAmount.IsZero() {
		t.Fatalf("expected no discount, got %+v", got)
	}
}

func TestPriceUnitMonotonicAndExact(t *testing.T) {
	bases := []string{"0", "0.01", "0.05", "1.99", "12.50", "33.33", "149.95", "999.99", "1234.57"}
	for _, raw := range bases {
		base := decimal.RequireFromString(raw)
		previous := base
		for _, tier := range allTiers {
			got := PriceUnit(base, tier)
			if !got.UnitPrice.Add(got.DiscountAmount).Equal(base) {
				t.Fatalf("%s %s: unit %s + discount %s != base", raw, tier, got.UnitPrice, got.DiscountAmount)
			}
			if got.UnitPrice.GreaterThan(previous) {
				t.Fatalf("%s %s: unit price %s increased over %s", raw, tier, got.UnitPrice, previous)
			}
			if got.UnitPrice.IsNegative() {
				t.Fatalf("%s %s: negative unit price", raw, tier)
			}
			previous = got.UnitPrice
		}
	}
}

func TestPriceOrderMatchesPerLineSum(t *testing.T) {
	lines := []PriceInput{
		{BasePrice: decimal.RequireFromString("12.50"), Quantity: 3},
		{BasePrice: decimal.RequireFromString("0.99"), Quantity: 100},
		{BasePrice: decimal.RequireFromString("249.00"), Quantity: 1},
	}
	for _, tier := range allTiers {
		totals := PriceOrder(lines, tier)
		expected := decimal.Zero
		for _, line := range lines {
			expected = expected.Add(PriceUnit(line.BasePrice, tier).UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}
		if !totals.Total.Equal(expected) {
			t.Fatalf("%s: expected total %s, got %s", tier, expected, totals.Total)
		}
		if !totals.Subtotal.Sub(totals.Discount).Equal(totals.Total) {
			t.Fatalf("%s: subtotal - discount != total (%s - %s != %s)", tier, totals.Subtotal, totals.Discount, totals.Total)
		}
	}
}

func TestPriceLineScenario(t *testing.T) {
	product := domain.Product{ID: "P", BasePrice: decimal.RequireFromString("49.99")}
	line := PriceLine(product, 3, domain.WholesaleTierTwo)
	// 49.99 * 0.17 = 8.4983 -> 8.50
	if !line.Pricing.UnitPrice.Equal(decimal.RequireFromString("41.49")) {
		t.Fatalf("expected unit price 41.49, got %s", line.Pricing.UnitPrice)
	}
	if !line.LineTotal.Equal(decimal.RequireFromString("124.47")) {
		t.Fatalf("expected line total 124.47, got %s", line.LineTotal)
	}
}
