// Package payment reconciles provider webhook notifications against locally
// recorded charges and exposes the charge status lookup.
package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kasir-api/internal/obs"
	"github.com/noah-isme/kasir-api/internal/store"
	"github.com/noah-isme/kasir-api/internal/stripe"
)

// Repo is the persistence surface the reconciler needs. Paid transitions are
// conditional single-statement updates, so concurrent deliveries of the same
// event settle exactly once.
type Repo interface {
	MarkChargePaid(ctx context.Context, sessionID string) (store.Charge, bool, error)
	MarkOrderPaid(ctx context.Context, orderID uuid.UUID) (bool, error)
	GetChargeBySession(ctx context.Context, sessionID string) (store.Charge, error)
}

// Outcome says what a verified event did to local state.
type Outcome string

const (
	// OutcomeSettled marks a charge that flipped from pending to paid.
	OutcomeSettled Outcome = "settled"
	// OutcomeDuplicate marks a redelivery of an already applied event.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored marks event types this service does not reconcile.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeUnknown marks a session no local charge references.
	OutcomeUnknown Outcome = "unknown_session"
)

// Reconciler applies verified provider events to charges.
type Reconciler struct {
	Repo      Repo
	Redis     *redis.Client
	ReplayTTL time.Duration
	Log       zerolog.Logger
}

// Apply processes a verified event. The contract with the provider is that a
// verified event is always acknowledged, so every path except an unexpected
// storage failure returns a nil error. Storage failures return an error so
// the delivery is retried, and the event id is only recorded in the replay
// guard once the mutation has landed: a retried delivery after a transient
// failure must reach the database again, not short-circuit as a duplicate.
func (r *Reconciler) Apply(ctx context.Context, event stripe.Event) (Outcome, error) {
	if event.Type != stripe.EventCheckoutSessionCompleted && event.Type != stripe.EventPaymentIntentSucceeded {
		obs.WebhookEventsTotal.WithLabelValues(event.Type, string(OutcomeIgnored)).Inc()
		return OutcomeIgnored, nil
	}
	if r.alreadyApplied(ctx, event.ID) {
		obs.WebhookEventsTotal.WithLabelValues(event.Type, string(OutcomeDuplicate)).Inc()
		return OutcomeDuplicate, nil
	}

	sessionID := event.ObjectID()
	if sessionID == "" {
		obs.WebhookEventsTotal.WithLabelValues(event.Type, string(OutcomeUnknown)).Inc()
		return OutcomeUnknown, nil
	}
	charge, settled, err := r.Repo.MarkChargePaid(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		// a session created outside this deployment, or for another
		// environment sharing the endpoint; acknowledged and dropped
		r.Log.Warn().Str("session_id", sessionID).Str("event_id", event.ID).Msg("webhook for unknown session")
		obs.WebhookEventsTotal.WithLabelValues(event.Type, string(OutcomeUnknown)).Inc()
		return OutcomeUnknown, nil
	}
	if err != nil {
		return "", err
	}
	// the order flip runs even when the charge was already paid, so a retry
	// after a partial failure (charge flipped, order update lost) repairs it
	if charge.OrderID != nil {
		if _, err := r.Repo.MarkOrderPaid(ctx, *charge.OrderID); err != nil {
			return "", err
		}
	}
	r.markApplied(ctx, event.ID)
	if !settled {
		obs.WebhookEventsTotal.WithLabelValues(event.Type, string(OutcomeDuplicate)).Inc()
		return OutcomeDuplicate, nil
	}
	r.Log.Info().
		Str("session_id", sessionID).
		Str("event_id", event.ID).
		Str("event_type", event.Type).
		Msg("charge settled")
	obs.WebhookEventsTotal.WithLabelValues(event.Type, string(OutcomeSettled)).Inc()
	return OutcomeSettled, nil
}

// alreadyApplied reports whether the event id is recorded in the replay
// guard. Redis being down fails open: the conditional update on the charge
// row keeps redelivery idempotent regardless.
func (r *Reconciler) alreadyApplied(ctx context.Context, eventID string) bool {
	if r.Redis == nil || eventID == "" {
		return false
	}
	n, err := r.Redis.Exists(ctx, replayKey(eventID)).Result()
	if err != nil {
		r.Log.Warn().Err(err).Str("event_id", eventID).Msg("replay guard unavailable")
		return false
	}
	return n > 0
}

// markApplied records the event id after the mutation has been committed.
// Best effort: a write failure only costs a redundant database round trip
// on redelivery.
func (r *Reconciler) markApplied(ctx context.Context, eventID string) {
	if r.Redis == nil || eventID == "" {
		return
	}
	ttl := r.ReplayTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := r.Redis.Set(ctx, replayKey(eventID), "1", ttl).Err(); err != nil {
		r.Log.Warn().Err(err).Str("event_id", eventID).Msg("replay guard write failed")
	}
}

func replayKey(eventID string) string {
	return "webhook:event:" + eventID
}
