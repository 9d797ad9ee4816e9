// Package pricing computes order totals in minor currency units. The engine
// is a pure function of its inputs; persistence and the payment provider
// never leak in here, which keeps it directly property-testable.
package pricing

import (
	"errors"

	"github.com/noah-isme/kasir-api/internal/money"
)

// ErrEmptyOrder is returned when a quote is requested for zero line items.
var ErrEmptyOrder = errors.New("pricing: order has no items")

// Item is a single priced line. Unit prices are minor units and the caller
// guarantees all items of one quote share a currency.
type Item struct {
	Name      string
	UnitPrice money.Amount
}

// TaxRate describes one tax applied to the post-discount base. Percentages
// are basis points (20.00% == 2000) so two-decimal rates stay integral.
type TaxRate struct {
	Name      string
	Bps       int32
	Inclusive bool
}

// TaxLine reports the computed amount for one tax rate.
type TaxLine struct {
	Name      string
	Bps       int32
	Inclusive bool
	Amount    money.Amount
}

// Breakdown aggregates the computed pricing components.
type Breakdown struct {
	Subtotal money.Amount
	Discount money.Amount
	Taxable  money.Amount
	Lines    []TaxLine
	Total    money.Amount
}

// Quote computes subtotal, discount, per-tax amounts and the grand total.
//
// discountPct is a whole percentage in [0,100]; values outside the range are
// clamped. Each tax applies independently to the same post-discount base:
// inclusive amounts are already embedded in that base and are reported
// without adding to the total, exclusive amounts are added on top.
func Quote(items []Item, discountPct int, taxes []TaxRate) (Breakdown, error) {
	if len(items) == 0 {
		return Breakdown{}, ErrEmptyOrder
	}
	var subtotal money.Amount
	for _, it := range items {
		if it.UnitPrice > 0 {
			subtotal += it.UnitPrice
		}
	}
	if discountPct < 0 {
		discountPct = 0
	}
	if discountPct > 100 {
		discountPct = 100
	}
	discount := money.RoundHalfUp(subtotal*int64(discountPct), 100)
	taxable := subtotal - discount

	var exclusive money.Amount
	lines := make([]TaxLine, 0, len(taxes))
	for _, t := range taxes {
		if t.Bps < 0 {
			continue
		}
		var amount money.Amount
		if t.Inclusive {
			amount = money.RoundHalfUp(taxable*int64(t.Bps), 10000+int64(t.Bps))
		} else {
			amount = money.RoundHalfUp(taxable*int64(t.Bps), 10000)
			exclusive += amount
		}
		lines = append(lines, TaxLine{Name: t.Name, Bps: t.Bps, Inclusive: t.Inclusive, Amount: amount})
	}

	return Breakdown{
		Subtotal: subtotal,
		Discount: discount,
		Taxable:  taxable,
		Lines:    lines,
		Total:    taxable + exclusive,
	}, nil
}

// DiscountedSubtotal applies only the discount to the subtotal. The checkout
// minimum pre-check uses this estimate: taxes can only raise the true total,
// so leaving them out never accepts an order that would fail the minimum.
func DiscountedSubtotal(subtotal money.Amount, discountPct int) money.Amount {
	if discountPct <= 0 {
		return subtotal
	}
	if discountPct > 100 {
		discountPct = 100
	}
	return subtotal - money.RoundHalfUp(subtotal*int64(discountPct), 100)
}
