package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundHalfUp(t *testing.T) {
	cases := []struct {
		name        string
		numerator   int64
		denominator int64
		want        int64
	}{
		{"exact division", 1000, 100, 10},
		{"rounds down below half", 1049, 100, 10},
		{"rounds up at half", 1050, 100, 11},
		{"rounds up above half", 1051, 100, 11},
		{"negative ties away from zero", -1050, 100, -11},
		{"negative rounds toward zero below half", -1049, 100, -10},
		{"zero numerator", 0, 100, 0},
		{"zero denominator", 42, 0, 0},
		{"negative denominator", 1050, -100, -11},
		{"percentage of subtotal", 1000 * 10, 100, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RoundHalfUp(tc.numerator, tc.denominator))
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "USD 19.99", Format(1999, "usd"))
	assert.Equal(t, "EUR 0.50", Format(50, "eur"))
	assert.Equal(t, "GBP 0.05", Format(5, "gbp"))
	assert.Equal(t, "USD -1.25", Format(-125, "USD"))
	assert.Equal(t, "IDR 10000.00", Format(1000000, "idr"))
}
