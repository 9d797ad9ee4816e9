// Package stripe is a minimal client for the slice of the Stripe API this
// service consumes: checkout sessions, payment intents, coupons and tax
// rates, plus webhook signature verification. The provider is treated as an
// opaque remote service; only the documented contract is modelled here.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/noah-isme/kasir-api/internal/resilience"
)

const defaultBaseURL = "https://api.stripe.com"

// Client issues REST calls against the Stripe API. The secret key is passed
// into every call; there is no process-wide credential state.
type Client struct {
	HTTP    resilience.HTTPClient
	BaseURL string
}

// APIError is Stripe's error envelope for rejected requests.
type APIError struct {
	Status  int    `json:"-"`
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("stripe: %s", e.Message)
	}
	return fmt.Sprintf("stripe: request failed with status %d", e.Status)
}

// LineItem is one priced line of a checkout session.
type LineItem struct {
	Name        string
	Description string
	Currency    string
	UnitAmount  int64
	Quantity    int
	TaxRateIDs  []string
}

// CheckoutSessionParams describes a payment-mode checkout session.
type CheckoutSessionParams struct {
	LineItems         []LineItem
	SuccessURL        string
	CancelURL         string
	ClientReferenceID string
	CouponID          string
	Metadata          map[string]string
}

// Session is the subset of a checkout session this service reads back.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// PaymentIntentParams describes a payment intent request.
type PaymentIntentParams struct {
	Amount   int64
	Currency string
	Metadata map[string]string
}

// Intent carries the intent id and the client secret the frontend confirms.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

// Coupon is a provider-side percentage discount.
type Coupon struct {
	ID string `json:"id"`
}

// TaxRate is a provider-side tax rate reference.
type TaxRate struct {
	ID string `json:"id"`
}

// CreateCheckoutSession opens a payment-mode checkout session.
func (c *Client) CreateCheckoutSession(ctx context.Context, secret string, p CheckoutSessionParams) (Session, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	for i, li := range p.LineItems {
		prefix := fmt.Sprintf("line_items[%d]", i)
		form.Set(prefix+"[price_data][currency]", li.Currency)
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(li.UnitAmount, 10))
		form.Set(prefix+"[price_data][product_data][name]", li.Name)
		if li.Description != "" {
			form.Set(prefix+"[price_data][product_data][description]", li.Description)
		}
		qty := li.Quantity
		if qty <= 0 {
			qty = 1
		}
		form.Set(prefix+"[quantity]", strconv.Itoa(qty))
		for j, id := range li.TaxRateIDs {
			form.Set(fmt.Sprintf("%s[tax_rates][%d]", prefix, j), id)
		}
	}
	form.Set("success_url", p.SuccessURL)
	form.Set("cancel_url", p.CancelURL)
	if p.ClientReferenceID != "" {
		form.Set("client_reference_id", p.ClientReferenceID)
	}
	if p.CouponID != "" {
		form.Set("discounts[0][coupon]", p.CouponID)
	}
	for k, v := range p.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}
	var session Session
	if err := c.post(ctx, secret, "/v1/checkout/sessions", form, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// CreatePaymentIntent opens a payment intent and returns its client secret.
func (c *Client) CreatePaymentIntent(ctx context.Context, secret string, p PaymentIntentParams) (Intent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(p.Amount, 10))
	form.Set("currency", p.Currency)
	for k, v := range p.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}
	var intent Intent
	if err := c.post(ctx, secret, "/v1/payment_intents", form, &intent); err != nil {
		return Intent{}, err
	}
	return intent, nil
}

// CreateCoupon creates a one-time percentage coupon.
func (c *Client) CreateCoupon(ctx context.Context, secret string, percentOff int, name string) (Coupon, error) {
	form := url.Values{}
	form.Set("percent_off", strconv.Itoa(percentOff))
	form.Set("duration", "once")
	if name != "" {
		form.Set("name", name)
	}
	var coupon Coupon
	if err := c.post(ctx, secret, "/v1/coupons", form, &coupon); err != nil {
		return Coupon{}, err
	}
	return coupon, nil
}

// CreateTaxRate creates an active tax rate. Percentage arrives as basis
// points and is rendered with two decimals, the precision taxes are stored
// with locally.
func (c *Client) CreateTaxRate(ctx context.Context, secret, displayName string, bps int32, inclusive bool) (TaxRate, error) {
	form := url.Values{}
	form.Set("display_name", displayName)
	form.Set("percentage", FormatBps(bps))
	form.Set("inclusive", strconv.FormatBool(inclusive))
	form.Set("active", "true")
	var rate TaxRate
	if err := c.post(ctx, secret, "/v1/tax_rates", form, &rate); err != nil {
		return TaxRate{}, err
	}
	return rate, nil
}

// FormatBps renders basis points as a decimal percentage string (2000 -> "20.00").
func FormatBps(bps int32) string {
	sign := ""
	if bps < 0 {
		sign = "-"
		bps = -bps
	}
	return fmt.Sprintf("%s%d.%02d", sign, bps/100, bps%100)
}

func (c *Client) post(ctx context.Context, secret, path string, form url.Values, out any) error {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+secret)
	// the resilience client retries 5xx; the idempotency key keeps those
	// retries from creating duplicate provider objects
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope struct {
			Error APIError `json:"error"`
		}
		apiErr := APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(body, &envelope); err == nil {
			apiErr = envelope.Error
			apiErr.Status = resp.StatusCode
		}
		return &apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}
