package macaroons

import (
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestHMACCryptoMAC(t *testing.T) {
	c := HMACCrypto{}

	a, err := c.MAC("key", []byte("data"))
	assert.NoError(t, err)
	b, err := c.MAC("key", []byte("data"))
	assert.NoError(t, err)
	assert.Equal(t, a, b)

	other, err := c.MAC("other", []byte("data"))
	assert.NoError(t, err)
	assert.NotEqual(t, a, other)

	// Base64 of a SHA-256 tag.
	assert.Equal(t, 44, len(a))
}

func TestHMACCryptoRoundTrip(t *testing.T) {
	c := HMACCrypto{}

	for _, key := range []string{
		"k",
		"exactly-16-bytes",
		"a key much longer than sixteen bytes of input",
	} {
		for _, plaintext := range []string{"", "p", "some longer plaintext spanning blocks and then some"} {
			ct, err := c.Encrypt(key, []byte(plaintext))
			assert.NoError(t, err)
			assert.Equal(t, len(plaintext), len(ct))

			pt, err := c.Decrypt(key, ct)
			assert.NoError(t, err)
			assert.Equal(t, plaintext, pt)
		}
	}

	_, err := c.Encrypt("", []byte("p"))
	assert.IsError(t, err, ErrCryptoFailure)
}

func TestHMACCryptoDecryptWrongKey(t *testing.T) {
	c := HMACCrypto{}

	ct, err := c.Encrypt("right", []byte("plaintext"))
	assert.NoError(t, err)

	// CTR mode can't detect the wrong key; it yields garbage instead.
	pt, err := c.Decrypt("wrong", ct)
	assert.NoError(t, err)
	assert.NotEqual(t, "plaintext", pt)
}

func TestHMACCryptoBind(t *testing.T) {
	c := HMACCrypto{}

	a, err := c.Bind("signature")
	assert.NoError(t, err)
	b, err := c.Bind("signature")
	assert.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 32, len(a))

	other, err := c.Bind("signature2")
	assert.NoError(t, err)
	assert.NotEqual(t, a, other)
}

func TestSecretBoxCryptoRoundTrip(t *testing.T) {
	c := SecretBoxCrypto{}

	ct, err := c.Encrypt("key", []byte("plaintext"))
	assert.NoError(t, err)

	pt, err := c.Decrypt("key", ct)
	assert.NoError(t, err)
	assert.Equal(t, "plaintext", pt)

	// Random nonces: two seals of the same plaintext differ.
	ct2, err := c.Encrypt("key", []byte("plaintext"))
	assert.NoError(t, err)
	assert.NotEqual(t, string(ct), string(ct2))

	_, err = c.Decrypt("wrong", ct)
	assert.IsError(t, err, ErrCryptoFailure)

	_, err = c.Decrypt("key", []byte("short"))
	assert.IsError(t, err, ErrCryptoFailure)
}
