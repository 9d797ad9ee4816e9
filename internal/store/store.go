package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store executes queries against the connection pool.
type Store struct {
	Pool *pgxpool.Pool
}

// New constructs a Store around the provided pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func fromPG(u pgtype.UUID) uuid.UUID {
	return uuid.UUID(u.Bytes)
}

func fromPGPtr(u pgtype.UUID) *uuid.UUID {
	if !u.Valid {
		return nil
	}
	v := uuid.UUID(u.Bytes)
	return &v
}

func pgUUIDPtr(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// CreateItemParams are the caller-supplied fields of a new item.
type CreateItemParams struct {
	Name        string
	Description string
	Price       int64
	Currency    string
}

// CreateItem inserts a new item.
func (s *Store) CreateItem(ctx context.Context, p CreateItemParams) (Item, error) {
	row := s.Pool.QueryRow(ctx,
		`INSERT INTO items (name, description, price, currency)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, name, description, price, currency, created_at`,
		p.Name, p.Description, p.Price, p.Currency)
	return scanItem(row)
}

// GetItem fetches an item by primary key.
func (s *Store) GetItem(ctx context.Context, id uuid.UUID) (Item, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT id, name, description, price, currency, created_at
		 FROM items WHERE id = $1`, pgUUID(id))
	item, err := scanItem(row)
	return item, mapNoRows(err)
}

// ListItems returns items ordered by creation time, newest first.
func (s *Store) ListItems(ctx context.Context, limit, offset int32) ([]Item, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, name, description, price, currency, created_at
		 FROM items ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (Item, error) {
	var (
		id      pgtype.UUID
		item    Item
		created pgtype.Timestamptz
	)
	if err := row.Scan(&id, &item.Name, &item.Description, &item.Price, &item.Currency, &created); err != nil {
		return Item{}, err
	}
	item.ID = fromPG(id)
	item.CreatedAt = created.Time
	return item, nil
}

// CreateDiscountParams are the caller-supplied fields of a new discount.
type CreateDiscountParams struct {
	Name       string
	PercentOff int32
	Active     bool
}

// CreateDiscount inserts a new discount with an empty coupon cache.
func (s *Store) CreateDiscount(ctx context.Context, p CreateDiscountParams) (Discount, error) {
	row := s.Pool.QueryRow(ctx,
		`INSERT INTO discounts (name, percent_off, active)
		 VALUES ($1, $2, $3)
		 RETURNING id, name, percent_off, active, stripe_coupon_id, created_at`,
		p.Name, p.PercentOff, p.Active)
	return scanDiscount(row)
}

// GetDiscount fetches a discount by primary key.
func (s *Store) GetDiscount(ctx context.Context, id uuid.UUID) (Discount, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT id, name, percent_off, active, stripe_coupon_id, created_at
		 FROM discounts WHERE id = $1`, pgUUID(id))
	d, err := scanDiscount(row)
	return d, mapNoRows(err)
}

// SetDiscountCoupon stores the provider coupon id back onto the discount.
func (s *Store) SetDiscountCoupon(ctx context.Context, id uuid.UUID, couponID string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE discounts SET stripe_coupon_id = $2 WHERE id = $1`, pgUUID(id), couponID)
	return err
}

// ListDiscounts returns discounts ordered by creation time, newest first.
func (s *Store) ListDiscounts(ctx context.Context, limit, offset int32) ([]Discount, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, name, percent_off, active, stripe_coupon_id, created_at
		 FROM discounts ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var discounts []Discount
	for rows.Next() {
		d, err := scanDiscount(rows)
		if err != nil {
			return nil, err
		}
		discounts = append(discounts, d)
	}
	return discounts, rows.Err()
}

func scanDiscount(row rowScanner) (Discount, error) {
	var (
		id      pgtype.UUID
		d       Discount
		created pgtype.Timestamptz
	)
	if err := row.Scan(&id, &d.Name, &d.PercentOff, &d.Active, &d.CouponID, &created); err != nil {
		return Discount{}, err
	}
	d.ID = fromPG(id)
	d.CreatedAt = created.Time
	return d, nil
}

// CreateTaxParams are the caller-supplied fields of a new tax rate.
type CreateTaxParams struct {
	DisplayName string
	Bps         int32
	Inclusive   bool
	Active      bool
}

// CreateTax inserts a new tax rate with an empty remote cache.
func (s *Store) CreateTax(ctx context.Context, p CreateTaxParams) (Tax, error) {
	row := s.Pool.QueryRow(ctx,
		`INSERT INTO taxes (display_name, percentage_bps, inclusive, active)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, display_name, percentage_bps, inclusive, active, stripe_tax_rate_id, created_at`,
		p.DisplayName, p.Bps, p.Inclusive, p.Active)
	return scanTax(row)
}

// GetTax fetches a tax rate by primary key.
func (s *Store) GetTax(ctx context.Context, id uuid.UUID) (Tax, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT id, display_name, percentage_bps, inclusive, active, stripe_tax_rate_id, created_at
		 FROM taxes WHERE id = $1`, pgUUID(id))
	t, err := scanTax(row)
	return t, mapNoRows(err)
}

// SetTaxRemote stores the provider tax-rate id and re-activates the tax.
// Creating a remote tax rate always activates it, so the local flag follows.
func (s *Store) SetTaxRemote(ctx context.Context, id uuid.UUID, remoteID string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE taxes SET stripe_tax_rate_id = $2, active = TRUE WHERE id = $1`, pgUUID(id), remoteID)
	return err
}

// ListTaxes returns tax rates ordered by creation time, newest first.
func (s *Store) ListTaxes(ctx context.Context, limit, offset int32) ([]Tax, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, display_name, percentage_bps, inclusive, active, stripe_tax_rate_id, created_at
		 FROM taxes ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var taxes []Tax
	for rows.Next() {
		t, err := scanTax(rows)
		if err != nil {
			return nil, err
		}
		taxes = append(taxes, t)
	}
	return taxes, rows.Err()
}

func scanTax(row rowScanner) (Tax, error) {
	var (
		id      pgtype.UUID
		t       Tax
		created pgtype.Timestamptz
	)
	if err := row.Scan(&id, &t.DisplayName, &t.Bps, &t.Inclusive, &t.Active, &t.RemoteID, &created); err != nil {
		return Tax{}, err
	}
	t.ID = fromPG(id)
	t.CreatedAt = created.Time
	return t, nil
}

// CreateOrderParams reference existing items, an optional discount and a
// set of taxes by id.
type CreateOrderParams struct {
	ItemIDs    []uuid.UUID
	DiscountID *uuid.UUID
	TaxIDs     []uuid.UUID
}

// CreateOrder inserts the order and its item/tax links in one transaction.
func (s *Store) CreateOrder(ctx context.Context, p CreateOrderParams) (Order, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		id       pgtype.UUID
		discount pgtype.UUID
		order    Order
		created  pgtype.Timestamptz
	)
	err = tx.QueryRow(ctx,
		`INSERT INTO orders (discount_id) VALUES ($1)
		 RETURNING id, discount_id, paid, created_at`,
		pgUUIDPtr(p.DiscountID)).Scan(&id, &discount, &order.Paid, &created)
	if err != nil {
		return Order{}, err
	}
	order.ID = fromPG(id)
	order.DiscountID = fromPGPtr(discount)
	order.CreatedAt = created.Time

	for _, itemID := range p.ItemIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO order_items (order_id, item_id) VALUES ($1, $2)`,
			id, pgUUID(itemID)); err != nil {
			return Order{}, fmt.Errorf("link item %s: %w", itemID, err)
		}
	}
	for _, taxID := range p.TaxIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO order_taxes (order_id, tax_id) VALUES ($1, $2)`,
			id, pgUUID(taxID)); err != nil {
			return Order{}, fmt.Errorf("link tax %s: %w", taxID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return order, nil
}

// GetOrder fetches an order by primary key.
func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	var (
		oid      pgtype.UUID
		discount pgtype.UUID
		order    Order
		created  pgtype.Timestamptz
	)
	err := s.Pool.QueryRow(ctx,
		`SELECT id, discount_id, paid, created_at FROM orders WHERE id = $1`,
		pgUUID(id)).Scan(&oid, &discount, &order.Paid, &created)
	if err != nil {
		return Order{}, mapNoRows(err)
	}
	order.ID = fromPG(oid)
	order.DiscountID = fromPGPtr(discount)
	order.CreatedAt = created.Time
	return order, nil
}

// ListOrderItems returns the items linked to an order in insertion order.
func (s *Store) ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]Item, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT i.id, i.name, i.description, i.price, i.currency, i.created_at
		 FROM order_items oi
		 JOIN items i ON i.id = oi.item_id
		 WHERE oi.order_id = $1
		 ORDER BY oi.position`, pgUUID(orderID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListActiveOrderTaxes returns the active taxes linked to an order.
func (s *Store) ListActiveOrderTaxes(ctx context.Context, orderID uuid.UUID) ([]Tax, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT t.id, t.display_name, t.percentage_bps, t.inclusive, t.active, t.stripe_tax_rate_id, t.created_at
		 FROM order_taxes ot
		 JOIN taxes t ON t.id = ot.tax_id
		 WHERE ot.order_id = $1 AND t.active
		 ORDER BY t.created_at`, pgUUID(orderID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var taxes []Tax
	for rows.Next() {
		t, err := scanTax(rows)
		if err != nil {
			return nil, err
		}
		taxes = append(taxes, t)
	}
	return taxes, rows.Err()
}

// CreateItemCharge records a pending charge for a single item.
func (s *Store) CreateItemCharge(ctx context.Context, itemID uuid.UUID, sessionID string) (Charge, error) {
	row := s.Pool.QueryRow(ctx,
		`INSERT INTO charges (item_id, session_id)
		 VALUES ($1, $2)
		 RETURNING id, item_id, order_id, session_id, paid, created_at`,
		pgUUID(itemID), sessionID)
	return scanCharge(row)
}

// CreateOrderCharge records a pending charge for an order.
func (s *Store) CreateOrderCharge(ctx context.Context, orderID uuid.UUID, sessionID string) (Charge, error) {
	row := s.Pool.QueryRow(ctx,
		`INSERT INTO charges (order_id, session_id)
		 VALUES ($1, $2)
		 RETURNING id, item_id, order_id, session_id, paid, created_at`,
		pgUUID(orderID), sessionID)
	return scanCharge(row)
}

// GetChargeBySession fetches a charge by its provider session id.
func (s *Store) GetChargeBySession(ctx context.Context, sessionID string) (Charge, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT id, item_id, order_id, session_id, paid, created_at
		 FROM charges WHERE session_id = $1`, sessionID)
	c, err := scanCharge(row)
	return c, mapNoRows(err)
}

// MarkChargePaid flips the charge to paid iff it is still pending. The
// conditional update makes concurrent webhook deliveries race-safe: at most
// one caller observes updated == true. ErrNotFound means no charge carries
// the session id at all.
func (s *Store) MarkChargePaid(ctx context.Context, sessionID string) (Charge, bool, error) {
	row := s.Pool.QueryRow(ctx,
		`UPDATE charges SET paid = TRUE
		 WHERE session_id = $1 AND paid = FALSE
		 RETURNING id, item_id, order_id, session_id, paid, created_at`,
		sessionID)
	c, err := scanCharge(row)
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Charge{}, false, err
	}
	c, err = s.GetChargeBySession(ctx, sessionID)
	if err != nil {
		return Charge{}, false, err
	}
	return c, false, nil
}

// MarkOrderPaid flips the order to paid iff it is still unpaid, using the
// same conditional-update idiom as MarkChargePaid.
func (s *Store) MarkOrderPaid(ctx context.Context, orderID uuid.UUID) (bool, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE orders SET paid = TRUE WHERE id = $1 AND paid = FALSE`, pgUUID(orderID))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanCharge(row rowScanner) (Charge, error) {
	var (
		id      pgtype.UUID
		itemID  pgtype.UUID
		orderID pgtype.UUID
		c       Charge
		created pgtype.Timestamptz
	)
	if err := row.Scan(&id, &itemID, &orderID, &c.SessionID, &c.Paid, &created); err != nil {
		return Charge{}, err
	}
	c.ID = fromPG(id)
	c.ItemID = fromPGPtr(itemID)
	c.OrderID = fromPGPtr(orderID)
	c.CreatedAt = created.Time
	return c, nil
}
