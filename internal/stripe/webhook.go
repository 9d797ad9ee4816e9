package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Event types this service reconciles. Anything else is acknowledged and
// dropped.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
)

var (
	// ErrInvalidSignature is returned when no v1 signature matches the payload.
	ErrInvalidSignature = errors.New("stripe: webhook signature mismatch")
	// ErrStaleTimestamp is returned when the signed timestamp falls outside the tolerance window.
	ErrStaleTimestamp = errors.New("stripe: webhook timestamp outside tolerance")
	// ErrMalformedHeader is returned when the signature header cannot be parsed.
	ErrMalformedHeader = errors.New("stripe: malformed signature header")
)

// Event is an inbound webhook notification.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ObjectID extracts the id of the nested object (session or intent id).
func (e Event) ObjectID() string {
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(e.Data.Object, &obj); err != nil {
		return ""
	}
	return obj.ID
}

// ConstructEvent verifies the Stripe-Signature header against the raw
// payload and decodes the event. The header carries a signed timestamp and
// one or more v1 signatures: v1 = HMAC-SHA256(secret, "<t>.<payload>").
// Verification failure yields an error and the event must be discarded.
func ConstructEvent(payload []byte, sigHeader, secret string, tolerance time.Duration) (Event, error) {
	ts, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return Event{}, err
	}
	if tolerance > 0 {
		age := time.Since(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return Event{}, ErrStaleTimestamp
		}
	}
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	matched := false
	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			matched = true
			break
		}
	}
	if !matched {
		return Event{}, ErrInvalidSignature
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("stripe: decode event: %w", err)
	}
	return event, nil
}

func parseSignatureHeader(header string) (int64, []string, error) {
	var ts int64 = -1
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			parsed, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, nil, ErrMalformedHeader
			}
			ts = parsed
		case "v1":
			if kv[1] != "" {
				signatures = append(signatures, kv[1])
			}
		}
	}
	if ts < 0 || len(signatures) == 0 {
		return 0, nil, ErrMalformedHeader
	}
	return ts, signatures, nil
}
