// Package checkout validates that an item or order is chargeable, prepares
// the provider-side resources it needs (coupons, tax rates) and opens the
// remote checkout session or payment intent.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kasir-api/internal/common"
	"github.com/noah-isme/kasir-api/internal/credential"
	"github.com/noah-isme/kasir-api/internal/money"
	"github.com/noah-isme/kasir-api/internal/obs"
	"github.com/noah-isme/kasir-api/internal/pricing"
	"github.com/noah-isme/kasir-api/internal/store"
	"github.com/noah-isme/kasir-api/internal/stripe"
)

// Gateway is the slice of the provider client the orchestrator depends on.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, secret string, p stripe.CheckoutSessionParams) (stripe.Session, error)
	CreatePaymentIntent(ctx context.Context, secret string, p stripe.PaymentIntentParams) (stripe.Intent, error)
	CreateCoupon(ctx context.Context, secret string, percentOff int, name string) (stripe.Coupon, error)
	CreateTaxRate(ctx context.Context, secret, displayName string, bps int32, inclusive bool) (stripe.TaxRate, error)
}

// Repo is the persistence surface the orchestrator reads and writes.
type Repo interface {
	GetItem(ctx context.Context, id uuid.UUID) (store.Item, error)
	GetOrder(ctx context.Context, id uuid.UUID) (store.Order, error)
	GetDiscount(ctx context.Context, id uuid.UUID) (store.Discount, error)
	ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]store.Item, error)
	ListActiveOrderTaxes(ctx context.Context, orderID uuid.UUID) ([]store.Tax, error)
	SetDiscountCoupon(ctx context.Context, id uuid.UUID, couponID string) error
	SetTaxRemote(ctx context.Context, id uuid.UUID, remoteID string) error
	CreateItemCharge(ctx context.Context, itemID uuid.UUID, sessionID string) (store.Charge, error)
	CreateOrderCharge(ctx context.Context, orderID uuid.UUID, sessionID string) (store.Charge, error)
}

// Service orchestrates charge creation.
type Service struct {
	Repo       Repo
	Gateway    Gateway
	Creds      *credential.Resolver
	SuccessURL string
	CancelURL  string
	// MinCharges is the per-currency minimum in minor units; unlisted
	// currencies fall back to 50.
	MinCharges map[string]int64
	Log        zerolog.Logger
}

// Result carries the provider identifiers the caller needs to continue the
// payment on the client side.
type Result struct {
	SessionID    string `json:"id"`
	URL          string `json:"url,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

// ChargeItem opens a single-item checkout session and records the pending
// charge. No pending row is written when any step before session creation
// fails.
func (s *Service) ChargeItem(ctx context.Context, itemID uuid.UUID) (Result, error) {
	item, err := s.Repo.GetItem(ctx, itemID)
	if err != nil {
		return Result{}, notFoundOr(err, "item not found")
	}
	currency := credential.Canonical(item.Currency)
	secret, err := s.Creds.SecretFor(currency)
	if err != nil {
		return Result{}, common.Validation("NO_CREDENTIAL", fmt.Sprintf("no payment credential configured for currency %q", currency))
	}
	if min := s.minChargeFor(currency); item.Price < min {
		return Result{}, belowMinimum(item.Price, min, currency)
	}

	session, err := s.Gateway.CreateCheckoutSession(ctx, secret, stripe.CheckoutSessionParams{
		LineItems:  []stripe.LineItem{lineItem(item, nil)},
		SuccessURL: s.SuccessURL,
		CancelURL:  s.CancelURL,
	})
	if err != nil {
		obs.CheckoutSessionTotal.WithLabelValues("item", "provider_error").Inc()
		return Result{}, remoteErr(err)
	}
	if _, err := s.Repo.CreateItemCharge(ctx, item.ID, session.ID); err != nil {
		// the remote session exists but we lost the local record: orphaned
		// session, surfaced for operational follow-up rather than retried
		s.Log.Error().Err(err).
			Str("session_id", session.ID).
			Str("item_id", item.ID.String()).
			Msg("orphaned checkout session: pending charge not persisted")
		obs.CheckoutSessionTotal.WithLabelValues("item", "orphaned").Inc()
		return Result{}, common.Unexpected(err)
	}
	obs.CheckoutSessionTotal.WithLabelValues("item", "success").Inc()
	return Result{SessionID: session.ID, URL: session.URL}, nil
}

// ChargeOrder opens a checkout session covering every item of the order,
// with provider tax rates attached per line and the order discount applied
// at the session level.
func (s *Service) ChargeOrder(ctx context.Context, orderID uuid.UUID) (Result, error) {
	order, items, discount, taxes, currency, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	secret, err := s.Creds.SecretFor(currency)
	if err != nil {
		return Result{}, common.Validation("NO_CREDENTIAL", fmt.Sprintf("no payment credential configured for currency %q", currency))
	}
	if err := s.checkMinimum(items, discount, currency); err != nil {
		return Result{}, err
	}

	taxRateIDs := make([]string, 0, len(taxes))
	for _, tax := range taxes {
		id, err := s.EnsureTaxRate(ctx, secret, tax)
		if err != nil {
			return Result{}, err
		}
		taxRateIDs = append(taxRateIDs, id)
	}

	params := stripe.CheckoutSessionParams{
		SuccessURL:        s.SuccessURL,
		CancelURL:         s.CancelURL,
		ClientReferenceID: order.ID.String(),
		Metadata:          map[string]string{"order_id": order.ID.String()},
	}
	for _, item := range items {
		params.LineItems = append(params.LineItems, lineItem(item, taxRateIDs))
	}
	if discount != nil {
		couponID, err := s.EnsureCoupon(ctx, secret, *discount)
		if err != nil {
			return Result{}, err
		}
		params.CouponID = couponID
	}

	session, err := s.Gateway.CreateCheckoutSession(ctx, secret, params)
	if err != nil {
		obs.CheckoutSessionTotal.WithLabelValues("order", "provider_error").Inc()
		return Result{}, remoteErr(err)
	}
	if _, err := s.Repo.CreateOrderCharge(ctx, order.ID, session.ID); err != nil {
		s.Log.Error().Err(err).
			Str("session_id", session.ID).
			Str("order_id", order.ID.String()).
			Msg("orphaned checkout session: pending charge not persisted")
		obs.CheckoutSessionTotal.WithLabelValues("order", "orphaned").Inc()
		return Result{}, common.Unexpected(err)
	}
	obs.CheckoutSessionTotal.WithLabelValues("order", "success").Inc()
	return Result{SessionID: session.ID, URL: session.URL}, nil
}

// PaymentIntentForOrder opens a payment intent for the order's full total
// (discount and exclusive taxes folded into the amount, since intents carry
// no line items) and records the pending charge under the intent id.
func (s *Service) PaymentIntentForOrder(ctx context.Context, orderID uuid.UUID) (Result, error) {
	order, items, discount, taxes, currency, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	secret, err := s.Creds.SecretFor(currency)
	if err != nil {
		return Result{}, common.Validation("NO_CREDENTIAL", fmt.Sprintf("no payment credential configured for currency %q", currency))
	}
	if err := s.checkMinimum(items, discount, currency); err != nil {
		return Result{}, err
	}

	quoteItems := make([]pricing.Item, 0, len(items))
	for _, item := range items {
		quoteItems = append(quoteItems, pricing.Item{Name: item.Name, UnitPrice: item.Price})
	}
	quoteTaxes := make([]pricing.TaxRate, 0, len(taxes))
	for _, tax := range taxes {
		quoteTaxes = append(quoteTaxes, pricing.TaxRate{Name: tax.DisplayName, Bps: tax.Bps, Inclusive: tax.Inclusive})
	}
	pct := 0
	if discount != nil {
		pct = int(discount.PercentOff)
	}
	quote, err := pricing.Quote(quoteItems, pct, quoteTaxes)
	if err != nil {
		return Result{}, common.Validation("EMPTY_ORDER", "order has no items")
	}

	intent, err := s.Gateway.CreatePaymentIntent(ctx, secret, stripe.PaymentIntentParams{
		Amount:   quote.Total,
		Currency: currency,
		Metadata: map[string]string{"order_id": order.ID.String()},
	})
	if err != nil {
		obs.CheckoutSessionTotal.WithLabelValues("intent", "provider_error").Inc()
		return Result{}, remoteErr(err)
	}
	if _, err := s.Repo.CreateOrderCharge(ctx, order.ID, intent.ID); err != nil {
		s.Log.Error().Err(err).
			Str("intent_id", intent.ID).
			Str("order_id", order.ID.String()).
			Msg("orphaned payment intent: pending charge not persisted")
		obs.CheckoutSessionTotal.WithLabelValues("intent", "orphaned").Inc()
		return Result{}, common.Unexpected(err)
	}
	obs.CheckoutSessionTotal.WithLabelValues("intent", "success").Inc()
	return Result{SessionID: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

// loadOrder fetches the order graph and enforces the non-empty and
// single-currency preconditions before any remote call happens.
func (s *Service) loadOrder(ctx context.Context, orderID uuid.UUID) (store.Order, []store.Item, *store.Discount, []store.Tax, string, error) {
	var zero store.Order
	order, err := s.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return zero, nil, nil, nil, "", notFoundOr(err, "order not found")
	}
	items, err := s.Repo.ListOrderItems(ctx, order.ID)
	if err != nil {
		return zero, nil, nil, nil, "", common.Unexpected(err)
	}
	if len(items) == 0 {
		return zero, nil, nil, nil, "", common.Validation("EMPTY_ORDER", "order has no items")
	}
	currency := credential.Canonical(items[0].Currency)
	for _, item := range items[1:] {
		if credential.Canonical(item.Currency) != currency {
			return zero, nil, nil, nil, "", common.Validation("MIXED_CURRENCY", "order items span multiple currencies")
		}
	}
	var discount *store.Discount
	if order.DiscountID != nil {
		d, err := s.Repo.GetDiscount(ctx, *order.DiscountID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return zero, nil, nil, nil, "", common.Unexpected(err)
		}
		if err == nil && d.Active {
			discount = &d
		}
	}
	taxes, err := s.Repo.ListActiveOrderTaxes(ctx, order.ID)
	if err != nil {
		return zero, nil, nil, nil, "", common.Unexpected(err)
	}
	return order, items, discount, taxes, currency, nil
}

// checkMinimum applies the discount-adjusted subtotal against the currency
// minimum. Taxes are deliberately left out of the estimate: they only raise
// the true total, so the pre-check can reject early but never falsely accept.
func (s *Service) checkMinimum(items []store.Item, discount *store.Discount, currency string) error {
	var subtotal money.Amount
	for _, item := range items {
		subtotal += item.Price
	}
	pct := 0
	if discount != nil {
		pct = int(discount.PercentOff)
	}
	estimated := pricing.DiscountedSubtotal(subtotal, pct)
	if min := s.minChargeFor(currency); estimated < min {
		return belowMinimum(estimated, min, currency)
	}
	return nil
}

func (s *Service) minChargeFor(currency string) int64 {
	if min, ok := s.MinCharges[credential.Canonical(currency)]; ok {
		return min
	}
	return 50
}

func lineItem(item store.Item, taxRateIDs []string) stripe.LineItem {
	return stripe.LineItem{
		Name:        item.Name,
		Description: item.Description,
		Currency:    credential.Canonical(item.Currency),
		UnitAmount:  item.Price,
		Quantity:    1,
		TaxRateIDs:  taxRateIDs,
	}
}

func belowMinimum(amount, min int64, currency string) *common.AppError {
	return common.Validation("BELOW_MINIMUM",
		fmt.Sprintf("amount %s is below the minimum charge of %s",
			money.Format(amount, currency), money.Format(min, currency)))
}

func notFoundOr(err error, message string) error {
	if errors.Is(err, store.ErrNotFound) {
		return common.NewAppError("NOT_FOUND", message, http.StatusNotFound, err)
	}
	return common.Unexpected(err)
}

func remoteErr(err error) error {
	var apiErr *stripe.APIError
	if errors.As(err, &apiErr) {
		return common.RemoteService(apiErr.Message, err)
	}
	return common.RemoteService("", err)
}
