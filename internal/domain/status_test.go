package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseOrderStatusRejectsUnknown(t *testing.T) {
	if _, err := ParseOrderStatus("CREATED"); err == nil {
		t.Fatalf("expected upper-case status to be rejected")
	}
	if _, err := ParseOrderStatus("on_hold"); err == nil {
		t.Fatalf("expected unknown status to be rejected")
	}
	status, err := ParseOrderStatus("shipped")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != OrderStatusShipped {
		t.Fatalf("expected shipped, got %s", status)
	}
}

func TestParseWholesaleTier(t *testing.T) {
	tier, err := ParseWholesaleTier("")
	if err != nil || tier != WholesaleTierNone {
		t.Fatalf("expected empty tier to map to none, got %q %v", tier, err)
	}
	if _, err := ParseWholesaleTier("tier4"); err == nil {
		t.Fatalf("expected tier4 to be rejected")
	}
	if got := WholesaleTier("gold").DiscountPercent(); got != 0 {
		t.Fatalf("expected unknown tier to discount 0, got %d", got)
	}
	if got := WholesaleTierTwo.DiscountPercent(); got != 17 {
		t.Fatalf("expected tier2 discount 17, got %d", got)
	}
}

func TestParsePaymentAndIntentStatus(t *testing.T) {
	if _, err := ParsePaymentStatus("paid"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParsePaymentStatus("captured"); err == nil {
		t.Fatalf("expected captured to be rejected")
	}
	if _, err := ParseIntentStatus("processing"); err != nil {
		t.Fatalf("expected processing intent status to parse: %v", err)
	}
	if _, err := ParseIntentStatus("requires_capture"); err == nil {
		t.Fatalf("expected raw gateway status to be rejected")
	}
}

func TestMoneyHelpers(t *testing.T) {
	code, err := NormalizeCurrency(" usd ")
	if err != nil || code != "USD" {
		t.Fatalf("expected USD, got %q %v", code, err)
	}
	if _, err := NormalizeCurrency("XXZ"); err == nil {
		t.Fatalf("expected invalid currency to be rejected")
	}
	if got := ToMinorUnits(decimal.RequireFromString("12.345"), "USD"); got != 1235 {
		t.Fatalf("expected 1235 cents, got %d", got)
	}
	if got := FromMinorUnits(10050, "USD"); !got.Equal(decimal.RequireFromString("100.50")) {
		t.Fatalf("expected 100.50, got %s", got)
	}
}

func TestMinorUnitsFollowCurrencyScale(t *testing.T) {
	cases := []struct {
		code   string
		amount string
		minor  int64
	}{
		{"USD", "100.00", 10000},
		{"JPY", "100", 100},
		{"JPY", "100.4", 100},
		{"KWD", "1.234", 1234},
		{"", "1.50", 150},
	}
	for _, tc := range cases {
		amount := decimal.RequireFromString(tc.amount)
		if got := ToMinorUnits(amount, tc.code); got != tc.minor {
			t.Fatalf("%s %s: expected %d minor units, got %d", tc.code, tc.amount, tc.minor, got)
		}
		if back := FromMinorUnits(tc.minor, tc.code); !back.Equal(amount.Round(MinorUnitScale(tc.code))) {
			t.Fatalf("%s %d: expected %s back, got %s", tc.code, tc.minor, amount, back)
		}
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	for _, status := range []OrderStatus{OrderStatusCancelled, OrderStatusRefunded} {
		if !status.Terminal() {
			t.Fatalf("expected %s to be terminal", status)
		}
	}
	for _, status := range []OrderStatus{OrderStatusCreated, OrderStatusPaid, OrderStatusShipped, OrderStatusDelivered} {
		if status.Terminal() {
			t.Fatalf("expected %s to allow further transitions", status)
		}
	}
}
