package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func sign(t *testing.T, payload []byte, secret string, ts time.Time) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestConstructEventValid(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_123"}}}`)
	header := sign(t, payload, testSecret, time.Now())

	event, err := ConstructEvent(payload, header, testSecret, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, EventCheckoutSessionCompleted, event.Type)
	assert.Equal(t, "cs_123", event.ObjectID())
}

func TestConstructEventWrongSecret(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	header := sign(t, payload, "whsec_other", time.Now())

	_, err := ConstructEvent(payload, header, testSecret, 5*time.Minute)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestConstructEventTamperedPayload(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	header := sign(t, payload, testSecret, time.Now())

	_, err := ConstructEvent([]byte(`{"id":"evt_2"}`), header, testSecret, 5*time.Minute)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestConstructEventStaleTimestamp(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	header := sign(t, payload, testSecret, time.Now().Add(-10*time.Minute))

	_, err := ConstructEvent(payload, header, testSecret, 5*time.Minute)
	assert.ErrorIs(t, err, ErrStaleTimestamp)
}

func TestConstructEventZeroToleranceSkipsAgeCheck(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"x","data":{"object":{"id":"cs_1"}}}`)
	header := sign(t, payload, testSecret, time.Now().Add(-48*time.Hour))

	_, err := ConstructEvent(payload, header, testSecret, 0)
	require.NoError(t, err)
}

func TestConstructEventMalformedHeader(t *testing.T) {
	payload := []byte(`{}`)
	for _, header := range []string{"", "t=abc,v1=00", "v1=00", "t=123"} {
		_, err := ConstructEvent(payload, header, testSecret, time.Minute)
		assert.ErrorIs(t, err, ErrMalformedHeader, "header %q", header)
	}
}

func TestConstructEventMultipleSignatures(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"x","data":{"object":{"id":"cs_1"}}}`)
	header := sign(t, payload, testSecret, time.Now()) + ",v1=deadbeef"

	_, err := ConstructEvent(payload, header, testSecret, 5*time.Minute)
	require.NoError(t, err)
}

func TestObjectIDMalformedObject(t *testing.T) {
	var event Event
	event.Data.Object = []byte(`not json`)
	assert.Equal(t, "", event.ObjectID())
}
