package checkout

import (
	"context"

	"github.com/noah-isme/kasir-api/internal/obs"
	"github.com/noah-isme/kasir-api/internal/store"
)

// EnsureCoupon returns the provider coupon id for a discount, creating the
// coupon lazily. The cached id is reused only while the discount is active;
// an inactive discount gets a fresh coupon on its next use.
func (s *Service) EnsureCoupon(ctx context.Context, secret string, d store.Discount) (string, error) {
	if d.CouponID != "" && d.Active {
		obs.ResourceEnsureTotal.WithLabelValues("coupon", "cached").Inc()
		return d.CouponID, nil
	}
	coupon, err := s.Gateway.CreateCoupon(ctx, secret, int(d.PercentOff), d.Name)
	if err != nil {
		obs.ResourceEnsureTotal.WithLabelValues("coupon", "error").Inc()
		return "", remoteErr(err)
	}
	if err := s.Repo.SetDiscountCoupon(ctx, d.ID, coupon.ID); err != nil {
		s.Log.Error().Err(err).
			Str("discount_id", d.ID.String()).
			Str("coupon_id", coupon.ID).
			Msg("coupon created but cache write failed")
	}
	obs.ResourceEnsureTotal.WithLabelValues("coupon", "created").Inc()
	return coupon.ID, nil
}

// EnsureTaxRate returns the provider tax-rate id for a tax, creating the
// rate lazily. Recreation also reactivates the local row, so a deactivated
// tax that gets used again comes back active with its new remote id.
func (s *Service) EnsureTaxRate(ctx context.Context, secret string, t store.Tax) (string, error) {
	if t.RemoteID != "" && t.Active {
		obs.ResourceEnsureTotal.WithLabelValues("tax_rate", "cached").Inc()
		return t.RemoteID, nil
	}
	rate, err := s.Gateway.CreateTaxRate(ctx, secret, t.DisplayName, t.Bps, t.Inclusive)
	if err != nil {
		obs.ResourceEnsureTotal.WithLabelValues("tax_rate", "error").Inc()
		return "", remoteErr(err)
	}
	if err := s.Repo.SetTaxRemote(ctx, t.ID, rate.ID); err != nil {
		s.Log.Error().Err(err).
			Str("tax_id", t.ID.String()).
			Str("tax_rate_id", rate.ID).
			Msg("tax rate created but cache write failed")
	}
	obs.ResourceEnsureTotal.WithLabelValues("tax_rate", "created").Inc()
	return rate.ID, nil
}
