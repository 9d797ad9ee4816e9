package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kasir-api/internal/common"
	"github.com/noah-isme/kasir-api/internal/credential"
	"github.com/noah-isme/kasir-api/internal/store"
	"github.com/noah-isme/kasir-api/internal/stripe"
)

type fakeRepo struct {
	items      map[uuid.UUID]store.Item
	orders     map[uuid.UUID]store.Order
	discounts  map[uuid.UUID]store.Discount
	orderItems map[uuid.UUID][]store.Item
	orderTaxes map[uuid.UUID][]store.Tax

	charges      []store.Charge
	chargeErr    error
	couponWrites map[uuid.UUID]string
	taxWrites    map[uuid.UUID]string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		items:        map[uuid.UUID]store.Item{},
		orders:       map[uuid.UUID]store.Order{},
		discounts:    map[uuid.UUID]store.Discount{},
		orderItems:   map[uuid.UUID][]store.Item{},
		orderTaxes:   map[uuid.UUID][]store.Tax{},
		couponWrites: map[uuid.UUID]string{},
		taxWrites:    map[uuid.UUID]string{},
	}
}

func (f *fakeRepo) GetItem(_ context.Context, id uuid.UUID) (store.Item, error) {
	item, ok := f.items[id]
	if !ok {
		return store.Item{}, store.ErrNotFound
	}
	return item, nil
}

func (f *fakeRepo) GetOrder(_ context.Context, id uuid.UUID) (store.Order, error) {
	order, ok := f.orders[id]
	if !ok {
		return store.Order{}, store.ErrNotFound
	}
	return order, nil
}

func (f *fakeRepo) GetDiscount(_ context.Context, id uuid.UUID) (store.Discount, error) {
	d, ok := f.discounts[id]
	if !ok {
		return store.Discount{}, store.ErrNotFound
	}
	return d, nil
}

func (f *fakeRepo) ListOrderItems(_ context.Context, orderID uuid.UUID) ([]store.Item, error) {
	return f.orderItems[orderID], nil
}

func (f *fakeRepo) ListActiveOrderTaxes(_ context.Context, orderID uuid.UUID) ([]store.Tax, error) {
	return f.orderTaxes[orderID], nil
}

func (f *fakeRepo) SetDiscountCoupon(_ context.Context, id uuid.UUID, couponID string) error {
	f.couponWrites[id] = couponID
	return nil
}

func (f *fakeRepo) SetTaxRemote(_ context.Context, id uuid.UUID, remoteID string) error {
	f.taxWrites[id] = remoteID
	return nil
}

func (f *fakeRepo) CreateItemCharge(_ context.Context, itemID uuid.UUID, sessionID string) (store.Charge, error) {
	if f.chargeErr != nil {
		return store.Charge{}, f.chargeErr
	}
	c := store.Charge{ID: uuid.New(), ItemID: &itemID, SessionID: sessionID}
	f.charges = append(f.charges, c)
	return c, nil
}

func (f *fakeRepo) CreateOrderCharge(_ context.Context, orderID uuid.UUID, sessionID string) (store.Charge, error) {
	if f.chargeErr != nil {
		return store.Charge{}, f.chargeErr
	}
	c := store.Charge{ID: uuid.New(), OrderID: &orderID, SessionID: sessionID}
	f.charges = append(f.charges, c)
	return c, nil
}

type fakeGateway struct {
	sessions    int
	intents     int
	coupons     int
	taxRates    int
	lastSession stripe.CheckoutSessionParams
	lastIntent  stripe.PaymentIntentParams
	sessionErr  error
	couponErr   error
}

func (f *fakeGateway) CreateCheckoutSession(_ context.Context, _ string, p stripe.CheckoutSessionParams) (stripe.Session, error) {
	if f.sessionErr != nil {
		return stripe.Session{}, f.sessionErr
	}
	f.sessions++
	f.lastSession = p
	return stripe.Session{ID: "cs_test_1", URL: "https://checkout.test/cs_test_1"}, nil
}

func (f *fakeGateway) CreatePaymentIntent(_ context.Context, _ string, p stripe.PaymentIntentParams) (stripe.Intent, error) {
	f.intents++
	f.lastIntent = p
	return stripe.Intent{ID: "pi_test_1", ClientSecret: "pi_test_1_secret"}, nil
}

func (f *fakeGateway) CreateCoupon(_ context.Context, _ string, _ int, _ string) (stripe.Coupon, error) {
	if f.couponErr != nil {
		return stripe.Coupon{}, f.couponErr
	}
	f.coupons++
	return stripe.Coupon{ID: "co_new"}, nil
}

func (f *fakeGateway) CreateTaxRate(_ context.Context, _ string, _ string, _ int32, _ bool) (stripe.TaxRate, error) {
	f.taxRates++
	return stripe.TaxRate{ID: "txr_new"}, nil
}

func newService(repo *fakeRepo, gw *fakeGateway) *Service {
	return &Service{
		Repo:    repo,
		Gateway: gw,
		Creds: &credential.Resolver{
			Keys:            map[string]credential.KeyPair{"usd": {Secret: "sk_usd"}, "gbp": {Secret: "sk_gbp"}},
			DefaultCurrency: "usd",
		},
		SuccessURL: "https://shop.test/success",
		CancelURL:  "https://shop.test/cancel",
		MinCharges: map[string]int64{"usd": 50, "gbp": 30},
		Log:        zerolog.Nop(),
	}
}

func appCode(t *testing.T, err error) string {
	t.Helper()
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	return appErr.Code
}

func TestChargeItemSuccess(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	item := store.Item{ID: uuid.New(), Name: "Widget", Price: 1999, Currency: "usd"}
	repo.items[item.ID] = item

	result, err := newService(repo, gw).ChargeItem(context.Background(), item.ID)
	require.NoError(t, err)

	assert.Equal(t, "cs_test_1", result.SessionID)
	assert.Equal(t, "https://checkout.test/cs_test_1", result.URL)
	require.Len(t, repo.charges, 1)
	assert.Equal(t, "cs_test_1", repo.charges[0].SessionID)
	assert.False(t, repo.charges[0].Paid)
	require.Len(t, gw.lastSession.LineItems, 1)
	assert.Equal(t, int64(1999), gw.lastSession.LineItems[0].UnitAmount)
	assert.Equal(t, 1, gw.lastSession.LineItems[0].Quantity)
}

func TestChargeItemBelowMinimum(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	item := store.Item{ID: uuid.New(), Name: "Penny", Price: 49, Currency: "usd"}
	repo.items[item.ID] = item

	_, err := newService(repo, gw).ChargeItem(context.Background(), item.ID)
	assert.Equal(t, "BELOW_MINIMUM", appCode(t, err))
	assert.Zero(t, gw.sessions, "no remote call for a rejected amount")
	assert.Empty(t, repo.charges)
}

func TestChargeItemMinimumIsPerCurrency(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	item := store.Item{ID: uuid.New(), Name: "Cheap", Price: 35, Currency: "gbp"}
	repo.items[item.ID] = item

	_, err := newService(repo, gw).ChargeItem(context.Background(), item.ID)
	require.NoError(t, err, "35 minor units clears the 30 gbp minimum")
}

func TestChargeItemUnknownItem(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}

	_, err := newService(repo, gw).ChargeItem(context.Background(), uuid.New())
	assert.Equal(t, "NOT_FOUND", appCode(t, err))
}

func TestChargeItemNoCredential(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	item := store.Item{ID: uuid.New(), Name: "Widget", Price: 1000, Currency: "usd"}
	repo.items[item.ID] = item

	svc := newService(repo, gw)
	svc.Creds = &credential.Resolver{}

	_, err := svc.ChargeItem(context.Background(), item.ID)
	assert.Equal(t, "NO_CREDENTIAL", appCode(t, err))
	assert.Zero(t, gw.sessions)
}

func TestChargeItemProviderRejection(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{sessionErr: &stripe.APIError{Status: 402, Message: "Your card was declined."}}
	item := store.Item{ID: uuid.New(), Name: "Widget", Price: 1000, Currency: "usd"}
	repo.items[item.ID] = item

	_, err := newService(repo, gw).ChargeItem(context.Background(), item.ID)

	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "PAYMENT_PROVIDER", appErr.Code)
	assert.Equal(t, "Your card was declined.", appErr.Message)
	assert.Empty(t, repo.charges, "no pending charge without a session")
}

func TestChargeItemOrphanedSession(t *testing.T) {
	repo := newFakeRepo()
	repo.chargeErr = errors.New("connection reset")
	gw := &fakeGateway{}
	item := store.Item{ID: uuid.New(), Name: "Widget", Price: 1000, Currency: "usd"}
	repo.items[item.ID] = item

	_, err := newService(repo, gw).ChargeItem(context.Background(), item.ID)
	assert.Equal(t, "INTERNAL", appCode(t, err))
	assert.Equal(t, 1, gw.sessions, "session was created before persistence failed")
}

func orderFixture(repo *fakeRepo, items ...store.Item) store.Order {
	order := store.Order{ID: uuid.New()}
	repo.orders[order.ID] = order
	repo.orderItems[order.ID] = items
	return order
}

func TestChargeOrderEmptyOrder(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	order := orderFixture(repo)

	_, err := newService(repo, gw).ChargeOrder(context.Background(), order.ID)
	assert.Equal(t, "EMPTY_ORDER", appCode(t, err))
	assert.Zero(t, gw.sessions)
}

func TestChargeOrderMixedCurrency(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	order := orderFixture(repo,
		store.Item{ID: uuid.New(), Price: 1000, Currency: "usd"},
		store.Item{ID: uuid.New(), Price: 1000, Currency: "eur"},
	)

	_, err := newService(repo, gw).ChargeOrder(context.Background(), order.ID)
	assert.Equal(t, "MIXED_CURRENCY", appCode(t, err))
	assert.Zero(t, gw.sessions, "validation failures never reach the provider")
	assert.Zero(t, gw.coupons)
	assert.Zero(t, gw.taxRates)
}

func TestChargeOrderDiscountBelowMinimum(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	discount := store.Discount{ID: uuid.New(), Name: "ALL_OFF", PercentOff: 99, Active: true}
	repo.discounts[discount.ID] = discount
	order := store.Order{ID: uuid.New(), DiscountID: &discount.ID}
	repo.orders[order.ID] = order
	repo.orderItems[order.ID] = []store.Item{{ID: uuid.New(), Price: 1000, Currency: "usd"}}

	// 1000 - 990 = 10, below the 50 usd minimum
	_, err := newService(repo, gw).ChargeOrder(context.Background(), order.ID)
	assert.Equal(t, "BELOW_MINIMUM", appCode(t, err))
	assert.Zero(t, gw.sessions)
}

func TestChargeOrderFullFlow(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	discount := store.Discount{ID: uuid.New(), Name: "TEN_OFF", PercentOff: 10, Active: true}
	repo.discounts[discount.ID] = discount
	tax := store.Tax{ID: uuid.New(), DisplayName: "VAT", Bps: 2000, Active: true}
	order := store.Order{ID: uuid.New(), DiscountID: &discount.ID}
	repo.orders[order.ID] = order
	repo.orderItems[order.ID] = []store.Item{
		{ID: uuid.New(), Name: "A", Price: 700, Currency: "usd"},
		{ID: uuid.New(), Name: "B", Price: 300, Currency: "usd"},
	}
	repo.orderTaxes[order.ID] = []store.Tax{tax}

	result, err := newService(repo, gw).ChargeOrder(context.Background(), order.ID)
	require.NoError(t, err)

	assert.Equal(t, "cs_test_1", result.SessionID)
	assert.Equal(t, 1, gw.coupons, "coupon created for the uncached discount")
	assert.Equal(t, 1, gw.taxRates, "tax rate created for the uncached tax")
	assert.Equal(t, "co_new", repo.couponWrites[discount.ID])
	assert.Equal(t, "txr_new", repo.taxWrites[tax.ID])
	assert.Equal(t, "co_new", gw.lastSession.CouponID)
	assert.Equal(t, order.ID.String(), gw.lastSession.ClientReferenceID)
	require.Len(t, gw.lastSession.LineItems, 2)
	assert.Equal(t, []string{"txr_new"}, gw.lastSession.LineItems[0].TaxRateIDs)
	require.Len(t, repo.charges, 1)
	assert.Equal(t, order.ID, *repo.charges[0].OrderID)
}

func TestChargeOrderInactiveDiscountIgnored(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	discount := store.Discount{ID: uuid.New(), PercentOff: 10, Active: false, CouponID: "co_stale"}
	repo.discounts[discount.ID] = discount
	order := store.Order{ID: uuid.New(), DiscountID: &discount.ID}
	repo.orders[order.ID] = order
	repo.orderItems[order.ID] = []store.Item{{ID: uuid.New(), Price: 1000, Currency: "usd"}}

	_, err := newService(repo, gw).ChargeOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Zero(t, gw.coupons)
	assert.Empty(t, gw.lastSession.CouponID)
}

func TestPaymentIntentForOrderUsesComputedTotal(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	discount := store.Discount{ID: uuid.New(), PercentOff: 10, Active: true}
	repo.discounts[discount.ID] = discount
	order := store.Order{ID: uuid.New(), DiscountID: &discount.ID}
	repo.orders[order.ID] = order
	repo.orderItems[order.ID] = []store.Item{{ID: uuid.New(), Price: 1000, Currency: "usd"}}
	repo.orderTaxes[order.ID] = []store.Tax{{ID: uuid.New(), DisplayName: "VAT", Bps: 2000, Active: true}}

	result, err := newService(repo, gw).PaymentIntentForOrder(context.Background(), order.ID)
	require.NoError(t, err)

	// 1000 - 100 discount = 900, + 20% exclusive tax = 1080
	assert.Equal(t, int64(1080), gw.lastIntent.Amount)
	assert.Equal(t, "usd", gw.lastIntent.Currency)
	assert.Equal(t, "pi_test_1", result.SessionID)
	assert.Equal(t, "pi_test_1_secret", result.ClientSecret)
	require.Len(t, repo.charges, 1)
	assert.Equal(t, "pi_test_1", repo.charges[0].SessionID)
}
