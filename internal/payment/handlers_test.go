package payment

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "whsec_test"

func signPayload(payload []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	fmt.Fprintf(mac, "%d.", ts.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func completedPayload(eventID, sessionID string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"type":"checkout.session.completed","data":{"object":{"id":%q}}}`,
		eventID, sessionID))
}

func newHandler(t *testing.T, repo *fakeRepo) *Handler {
	t.Helper()
	return &Handler{
		Reconciler: newReconciler(t, repo),
		Secret:     webhookSecret,
		Tolerance:  5 * time.Minute,
	}
}

func postWebhook(h *Handler, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.Webhook(rec, req)
	return rec
}

func TestWebhookSettlesCharge(t *testing.T) {
	repo := newFakeRepo()
	repo.addItemCharge("cs_1")
	h := newHandler(t, repo)

	payload := completedPayload("evt_1", "cs_1")
	rec := postWebhook(h, payload, signPayload(payload, time.Now()))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, repo.charges["cs_1"].Paid)

	var body webhookAck
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Received)
	assert.Equal(t, string(OutcomeSettled), body.Outcome)
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	repo := newFakeRepo()
	repo.addItemCharge("cs_2")
	h := newHandler(t, repo)

	payload := completedPayload("evt_2", "cs_2")
	rec := postWebhook(h, payload, "t=1,v1=deadbeef")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, repo.charges["cs_2"].Paid, "unverified events never mutate state")
	assert.Contains(t, rec.Body.String(), "INVALID_SIGNATURE")
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	repo := newFakeRepo()
	h := newHandler(t, repo)

	rec := postWebhook(h, completedPayload("evt_3", "cs_3"), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookAcknowledgesUnknownSession(t *testing.T) {
	h := newHandler(t, newFakeRepo())

	payload := completedPayload("evt_4", "cs_unknown")
	rec := postWebhook(h, payload, signPayload(payload, time.Now()))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookRedeliveryIsAcknowledged(t *testing.T) {
	repo := newFakeRepo()
	repo.addItemCharge("cs_5")
	h := newHandler(t, repo)

	payload := completedPayload("evt_5", "cs_5")
	first := postWebhook(h, payload, signPayload(payload, time.Now()))
	require.Equal(t, http.StatusOK, first.Code)

	second := postWebhook(h, payload, signPayload(payload, time.Now()))
	assert.Equal(t, http.StatusOK, second.Code)

	var body webhookAck
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	assert.Equal(t, string(OutcomeDuplicate), body.Outcome)
}

func TestStatusEndpoint(t *testing.T) {
	repo := newFakeRepo()
	repo.addOrderCharge("cs_6")
	h := newHandler(t, repo)

	r := chi.NewRouter()
	r.Get("/payments/{sessionID}/status", h.Status)

	req := httptest.NewRequest(http.MethodGet, "/payments/cs_6/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "cs_6", body.SessionID)
	assert.False(t, body.Paid)
	assert.Equal(t, "order", body.Kind)
}

func TestStatusEndpointNotFound(t *testing.T) {
	h := newHandler(t, newFakeRepo())

	r := chi.NewRouter()
	r.Get("/payments/{sessionID}/status", h.Status)

	req := httptest.NewRequest(http.MethodGet, "/payments/cs_none/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
