package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolverPrecedence(t *testing.T) {
	r := &Resolver{
		Source: SourceFunc(func(currency string) (KeyPair, bool) {
			if currency == "eur" {
				return KeyPair{Secret: "sk_source_eur", Publishable: "pk_source_eur"}, true
			}
			return KeyPair{}, false
		}),
		Keys: map[string]KeyPair{
			"usd": {Secret: "sk_table_usd", Publishable: "pk_table_usd"},
			"gbp": {Secret: "sk_table_gbp"},
		},
		DefaultCurrency: "usd",
		Legacy:          KeyPair{Secret: "sk_legacy", Publishable: "pk_legacy"},
	}

	t.Run("source wins", func(t *testing.T) {
		secret, err := r.SecretFor("eur")
		require.NoError(t, err)
		assert.Equal(t, "sk_source_eur", secret)
	})

	t.Run("table when source misses", func(t *testing.T) {
		secret, err := r.SecretFor("gbp")
		require.NoError(t, err)
		assert.Equal(t, "sk_table_gbp", secret)
	})

	t.Run("unknown currency falls back to default entry", func(t *testing.T) {
		secret, err := r.SecretFor("jpy")
		require.NoError(t, err)
		assert.Equal(t, "sk_table_usd", secret)
	})

	t.Run("currency is canonicalised", func(t *testing.T) {
		secret, err := r.SecretFor("  USD ")
		require.NoError(t, err)
		assert.Equal(t, "sk_table_usd", secret)
	})

	t.Run("empty currency means default", func(t *testing.T) {
		secret, err := r.SecretFor("")
		require.NoError(t, err)
		assert.Equal(t, "sk_table_usd", secret)
	})

	t.Run("publishable follows the same chain", func(t *testing.T) {
		pk, err := r.PublishableFor("eur")
		require.NoError(t, err)
		assert.Equal(t, "pk_source_eur", pk)
	})
}

func TestResolverLegacyFallback(t *testing.T) {
	r := &Resolver{Legacy: KeyPair{Secret: "sk_legacy"}}
	secret, err := r.SecretFor("usd")
	require.NoError(t, err)
	assert.Equal(t, "sk_legacy", secret)
}

func TestResolverNoCredential(t *testing.T) {
	r := &Resolver{}
	_, err := r.SecretFor("usd")
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestCanonical(t *testing.T) {
	assert.Equal(t, "usd", Canonical(" USD "))
	assert.Equal(t, "", Canonical("  "))
}
