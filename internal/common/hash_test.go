package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSha256Hex(t *testing.T) {
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		Sha256Hex("abc"))
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Sha256Hex(""))
}

func TestHashKeyUsesDigestNotRawKey(t *testing.T) {
	key := hashKey("some-client-supplied-key")
	assert.Equal(t, "idem:"+Sha256Hex("some-client-supplied-key"), key)
	assert.NotContains(t, key, "client-supplied", "raw header value never reaches the store")
}
