package checkout

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kasir-api/internal/store"
	"github.com/noah-isme/kasir-api/internal/stripe"
)

func TestEnsureCouponReusesActiveCache(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	svc := newService(repo, gw)

	d := store.Discount{ID: uuid.New(), PercentOff: 10, Active: true, CouponID: "co_cached"}
	id, err := svc.EnsureCoupon(context.Background(), "sk", d)
	require.NoError(t, err)

	assert.Equal(t, "co_cached", id)
	assert.Zero(t, gw.coupons, "cached id is reused without a remote call")
	assert.Empty(t, repo.couponWrites)
}

func TestEnsureCouponRecreatesWhenInactive(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	svc := newService(repo, gw)

	d := store.Discount{ID: uuid.New(), PercentOff: 10, Active: false, CouponID: "co_stale"}
	id, err := svc.EnsureCoupon(context.Background(), "sk", d)
	require.NoError(t, err)

	assert.Equal(t, "co_new", id)
	assert.Equal(t, 1, gw.coupons)
	assert.Equal(t, "co_new", repo.couponWrites[d.ID])
}

func TestEnsureCouponCreatesWhenUncached(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	svc := newService(repo, gw)

	d := store.Discount{ID: uuid.New(), PercentOff: 10, Active: true}
	id, err := svc.EnsureCoupon(context.Background(), "sk", d)
	require.NoError(t, err)
	assert.Equal(t, "co_new", id)
	assert.Equal(t, 1, gw.coupons)
}

func TestEnsureCouponProviderError(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{couponErr: &stripe.APIError{Status: 400, Message: "invalid percent_off"}}
	svc := newService(repo, gw)

	_, err := svc.EnsureCoupon(context.Background(), "sk", store.Discount{ID: uuid.New(), PercentOff: 10, Active: true})
	assert.Equal(t, "PAYMENT_PROVIDER", appCode(t, err))
	assert.Empty(t, repo.couponWrites)
}

func TestEnsureTaxRateReusesActiveCache(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	svc := newService(repo, gw)

	tax := store.Tax{ID: uuid.New(), DisplayName: "VAT", Bps: 2000, Active: true, RemoteID: "txr_cached"}
	id, err := svc.EnsureTaxRate(context.Background(), "sk", tax)
	require.NoError(t, err)

	assert.Equal(t, "txr_cached", id)
	assert.Zero(t, gw.taxRates)
}

func TestEnsureTaxRateRecreatesWhenInactive(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}
	svc := newService(repo, gw)

	tax := store.Tax{ID: uuid.New(), DisplayName: "VAT", Bps: 2000, Active: false, RemoteID: "txr_stale"}
	id, err := svc.EnsureTaxRate(context.Background(), "sk", tax)
	require.NoError(t, err)

	assert.Equal(t, "txr_new", id)
	assert.Equal(t, "txr_new", repo.taxWrites[tax.ID], "new remote id written back, row re-activated by the store")
}
