// Package money provides integer minor-unit arithmetic shared by the
// pricing engine and checkout flow. All amounts are carried as int64 cents
// (or the local equivalent) so no floating point ever touches a price.
package money

import (
	"fmt"
	"strings"
)

// Amount is a monetary value in minor units.
type Amount = int64

// RoundHalfUp divides numerator by denominator rounding ties away from
// zero, matching conventional cash rounding. Every percentage computation
// in the service goes through this helper so results stay reproducible.
func RoundHalfUp(numerator, denominator int64) int64 {
	if denominator == 0 {
		return 0
	}
	if denominator < 0 {
		numerator = -numerator
		denominator = -denominator
	}
	if numerator >= 0 {
		return (numerator + denominator/2) / denominator
	}
	return -((-numerator + denominator/2) / denominator)
}

// Format renders a minor-unit amount with exactly two decimal digits, e.g.
// Format(1999, "usd") == "USD 19.99". Supported currencies all use a 100:1
// minor/major ratio.
func Format(cents Amount, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s %s%d.%02d", strings.ToUpper(currency), sign, cents/100, cents%100)
}
