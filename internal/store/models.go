// Package store is the persistence layer: hand-written pgx queries over the
// catalog, order and charge tables. Consumers declare narrow interfaces over
// the methods they use so tests can substitute fakes.
package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Item is a sellable product priced in minor currency units. Rows are
// treated as immutable once a pending charge references them.
type Item struct {
	ID          uuid.UUID
	Name        string
	Description string
	Price       int64
	Currency    string
	CreatedAt   time.Time
}

// Discount is a percentage-off promotion with a cached provider coupon id.
// The cached id is trusted only while Active is true.
type Discount struct {
	ID         uuid.UUID
	Name       string
	PercentOff int32
	Active     bool
	CouponID   string
	CreatedAt  time.Time
}

// Tax is a named tax rate in basis points with a cached provider tax-rate
// id, following the same cache-validity rule as Discount.
type Tax struct {
	ID          uuid.UUID
	DisplayName string
	Bps         int32
	Inclusive   bool
	Active      bool
	RemoteID    string
	CreatedAt   time.Time
}

// Order groups items under at most one discount and a set of taxes. Paid is
// monotonic: false to true, never back.
type Order struct {
	ID         uuid.UUID
	DiscountID *uuid.UUID
	Paid       bool
	CreatedAt  time.Time
}

// Charge is a pending provider session tied to exactly one item or one
// order. SessionID is the reconciliation key and unique across charges.
type Charge struct {
	ID        uuid.UUID
	ItemID    *uuid.UUID
	OrderID   *uuid.UUID
	SessionID string
	Paid      bool
	CreatedAt time.Time
}
