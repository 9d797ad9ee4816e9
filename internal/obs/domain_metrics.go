package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Domain counters for the charge lifecycle. Registered on the default
// registry so handlers and services can increment them without plumbing.
var (
	// CheckoutSessionTotal counts charge attempts by kind (item, order,
	// intent) and result (success, provider_error, orphaned).
	CheckoutSessionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kasir",
		Name:      "checkout_sessions_total",
		Help:      "Charge creation attempts by kind and result.",
	}, []string{"kind", "result"})

	// ResourceEnsureTotal counts lazy provider resource resolution by
	// resource (coupon, tax_rate) and result (cached, created, error).
	ResourceEnsureTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kasir",
		Name:      "provider_resource_ensures_total",
		Help:      "Provider coupon and tax-rate resolutions by result.",
	}, []string{"resource", "result"})

	// WebhookEventsTotal counts verified webhook events by type and the
	// reconciliation outcome they produced.
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kasir",
		Name:      "webhook_events_total",
		Help:      "Verified webhook events by type and reconciliation outcome.",
	}, []string{"type", "outcome"})
)
