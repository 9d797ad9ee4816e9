package payment

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/kasir-api/internal/common"
	"github.com/noah-isme/kasir-api/internal/store"
	"github.com/noah-isme/kasir-api/internal/stripe"
)

const maxWebhookBody = 1 << 20

// Handler exposes the webhook receiver and the charge status lookup.
type Handler struct {
	Reconciler *Reconciler
	Secret     string
	Tolerance  time.Duration
}

type webhookAck struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}

// Webhook handles POST /webhooks/stripe. Signature failures are rejected with
// a 400 before any state is read; verified events are always acknowledged
// with a 200 so the provider stops redelivering.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "could not read request body", nil)
		return
	}
	event, err := stripe.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.Secret, h.Tolerance)
	if err != nil {
		common.WriteError(w, common.Authentication(err))
		return
	}
	outcome, err := h.Reconciler.Apply(r.Context(), event)
	if err != nil {
		common.WriteError(w, common.Unexpected(err))
		return
	}
	common.JSON(w, http.StatusOK, webhookAck{Received: true, Outcome: string(outcome)})
}

type statusResponse struct {
	SessionID string `json:"sessionId"`
	Paid      bool   `json:"paid"`
	Kind      string `json:"kind"`
}

// Status handles GET /payments/{sessionID}/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	charge, err := h.Reconciler.Repo.GetChargeBySession(r.Context(), sessionID)
	if errors.Is(err, store.ErrNotFound) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "no charge for that session", nil)
		return
	}
	if err != nil {
		common.WriteError(w, common.Unexpected(err))
		return
	}
	kind := "item"
	if charge.OrderID != nil {
		kind = "order"
	}
	common.JSON(w, http.StatusOK, statusResponse{SessionID: charge.SessionID, Paid: charge.Paid, Kind: kind})
}
