// Package credential resolves the payment-provider API keys for a given
// currency. Deployments usually start with one global key pair and later
// migrate to per-currency pairs; the precedence chain below lets both
// configurations coexist without breaking existing charges.
package credential

import (
	"errors"
	"strings"
)

// ErrNoCredential is returned when no source yields a key for the currency.
var ErrNoCredential = errors.New("credential: no key configured for currency")

// KeyPair holds the server-side secret and the client-side publishable key.
type KeyPair struct {
	Secret      string
	Publishable string
}

// Source is a pluggable per-deployment resolver consulted before the static
// table and the legacy pair.
type Source interface {
	KeysFor(currency string) (KeyPair, bool)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(currency string) (KeyPair, bool)

// KeysFor implements Source.
func (f SourceFunc) KeysFor(currency string) (KeyPair, bool) { return f(currency) }

// Resolver picks keys in fixed precedence: Source, then the per-currency
// table (falling back to the default-currency entry), then the legacy pair.
type Resolver struct {
	Source          Source
	Keys            map[string]KeyPair
	DefaultCurrency string
	Legacy          KeyPair
}

// SecretFor returns the server-side secret key for the currency.
func (r *Resolver) SecretFor(currency string) (string, error) {
	pair, err := r.resolve(currency)
	if err != nil {
		return "", err
	}
	return pair.Secret, nil
}

// PublishableFor returns the client-side publishable key for the currency.
func (r *Resolver) PublishableFor(currency string) (string, error) {
	pair, err := r.resolve(currency)
	if err != nil {
		return "", err
	}
	return pair.Publishable, nil
}

func (r *Resolver) resolve(currency string) (KeyPair, error) {
	cur := Canonical(currency)
	if cur == "" {
		cur = Canonical(r.DefaultCurrency)
	}
	if r.Source != nil {
		if pair, ok := r.Source.KeysFor(cur); ok && pair.Secret != "" {
			return pair, nil
		}
	}
	if len(r.Keys) > 0 {
		pair, ok := r.Keys[cur]
		if !ok || pair.Secret == "" {
			pair, ok = r.Keys[Canonical(r.DefaultCurrency)]
		}
		if ok && pair.Secret != "" {
			return pair, nil
		}
	}
	if r.Legacy.Secret != "" {
		return r.Legacy, nil
	}
	return KeyPair{}, ErrNoCredential
}

// Canonical lower-cases and trims a currency code to its stored form.
func Canonical(currency string) string {
	return strings.ToLower(strings.TrimSpace(currency))
}
