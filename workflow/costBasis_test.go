package workflow

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestResolvePurchaseCostRatchetsUpwardOnly(t *testing.T) {
	cases := []struct {
		name       string
		unitPrice  string
		historical string
		want       string
	}{
		{"first purchase uses submitted price", "10.00", "10.00", "10.00"},
		{"cheaper restock keeps prior basis", "8.00", "10.00", "10.00"},
		{"pricier restock raises basis", "12.50", "10.00", "12.50"},
		{"equal prices are stable", "10.0000", "10.00", "10.0000"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolvePurchaseCost(d(tc.unitPrice), d(tc.historical))
			if !got.Equal(d(tc.want)) {
				t.Fatalf("ResolvePurchaseCost(%s, %s) = %s; want %s", tc.unitPrice, tc.historical, got, tc.want)
			}
		})
	}
}

func TestResolvePurchaseCostIsMonotonicOverSequence(t *testing.T) {
	// Replay a purchase history and assert the recorded basis never drops.
	prices := []string{"5.00", "4.00", "7.25", "6.00", "7.25", "3.10"}
	basis := d(prices[0])
	for _, p := range prices[1:] {
		next := ResolvePurchaseCost(d(p), basis)
		if next.LessThan(basis) {
			t.Fatalf("basis dropped from %s to %s after purchase at %s", basis, next, p)
		}
		basis = next
	}
	if !basis.Equal(d("7.25")) {
		t.Fatalf("final basis = %s; want 7.25", basis)
	}
}

func TestSaleCoversCost(t *testing.T) {
	if !SaleCoversCost(d("10.00"), d("10.00")) {
		t.Fatal("selling exactly at cost must be allowed")
	}
	if !SaleCoversCost(d("11.00"), d("10.00")) {
		t.Fatal("selling above cost must be allowed")
	}
	if SaleCoversCost(d("9.99"), d("10.00")) {
		t.Fatal("selling below cost must be rejected")
	}
}
