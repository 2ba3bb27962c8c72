package macaroons

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// Crypto is the cryptographic surface the credential algebra is built on:
// a keyed MAC for the signature chain, a symmetric encrypt/decrypt pair for
// third-party root keys, and a one-way transform applied to discharge
// signatures at bind time. MAC, Decrypt and Bind are pure functions of their
// inputs; Encrypt is too in [HMACCrypto], while [SecretBoxCrypto] draws a
// random nonce per call.
//
// Implementations must be reentrant; a single provider value may serve many
// concurrent verifications.
type Crypto interface {
	// MAC computes a deterministic keyed authenticator over data.
	MAC(key string, data []byte) (string, error)

	// Encrypt and Decrypt form a symmetric pair:
	// Decrypt(k, Encrypt(k, p)) == p for every key k that Encrypt accepts
	// and every plaintext p. [HMACCrypto] rejects the empty key.
	Encrypt(key string, plaintext []byte) ([]byte, error)
	Decrypt(key string, ciphertext []byte) (string, error)

	// Bind applies a one-way function to a discharge credential's
	// signature so the discharge can only be consumed together with the
	// credential it was bound to.
	Bind(signature string) (string, error)
}

// DefaultCrypto is the provider used by [Mint] and by [Decode]. It is the
// [HMACCrypto] realization, which every credential chain is compatible with
// unless minted through [MintWith].
var DefaultCrypto Crypto = HMACCrypto{}

// HMACCrypto is the compatibility realization of [Crypto]:
//
//   - MAC is HMAC-SHA-256 with the tag Base64 (std) encoded.
//   - Encrypt/Decrypt is AES-CTR with a 16-byte key (the key string's bytes
//     repeated and truncated to 16) and a deterministic IV taken from the
//     first 16 bytes of SHA-256(key).
//   - Bind is SHA-256 over the signature's UTF-8 bytes, with the raw digest
//     reinterpreted as a string.
//
// The deterministic IV, the truncated key and the lossy digest-as-string
// bind are all cryptographically weak and preserved only so existing
// signature chains keep verifying. New deployments that don't need chain
// compatibility should use [SecretBoxCrypto].
type HMACCrypto struct{}

var _ Crypto = HMACCrypto{}

func (HMACCrypto) MAC(key string, data []byte) (string, error) {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(data)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

const ctrKeySize = 16

// ctrKey conditions an arbitrary key string into the fixed AES key size:
// short keys repeat, long keys truncate.
func ctrKey(key string) []byte {
	kb := []byte(key)
	buf := make([]byte, 0, ctrKeySize)
	for len(buf) < ctrKeySize {
		buf = append(buf, kb...)
	}
	return buf[:ctrKeySize]
}

func newCTR(key string) (cipher.Stream, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty encryption key", ErrCryptoFailure)
	}

	block, err := aes.NewCipher(ctrKey(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}

	iv := sha256.Sum256([]byte(key))
	return cipher.NewCTR(block, iv[:aes.BlockSize]), nil
}

func (HMACCrypto) Encrypt(key string, plaintext []byte) ([]byte, error) {
	ctr, err := newCTR(key)
	if err != nil {
		return nil, err
	}

	ciphertext := make([]byte, len(plaintext))
	ctr.XORKeyStream(ciphertext, plaintext)
	return ciphertext, nil
}

func (HMACCrypto) Decrypt(key string, ciphertext []byte) (string, error) {
	ctr, err := newCTR(key)
	if err != nil {
		return "", err
	}

	plaintext := make([]byte, len(ciphertext))
	ctr.XORKeyStream(plaintext, ciphertext)
	return string(plaintext), nil
}

func (HMACCrypto) Bind(signature string) (string, error) {
	sum := sha256.Sum256([]byte(signature))
	return string(sum[:]), nil
}

// SecretBoxCrypto is an authenticated realization of [Crypto] using NaCl
// secretbox with a random 24-byte nonce prepended to the sealed box. Its
// MAC and Bind match [HMACCrypto], but ciphertexts are incompatible:
// credentials carrying third-party caveats must be minted and verified with
// the same provider.
//
// Unlike AES-CTR, decryption here authenticates; a wrong key fails
// immediately instead of yielding garbage.
type SecretBoxCrypto struct {
	// Rand is the nonce source. nil means crypto/rand.
	Rand io.Reader
}

var _ Crypto = SecretBoxCrypto{}

const boxNonceLen = 24

func (SecretBoxCrypto) MAC(key string, data []byte) (string, error) {
	return HMACCrypto{}.MAC(key, data)
}

func (SecretBoxCrypto) Bind(signature string) (string, error) {
	return HMACCrypto{}.Bind(signature)
}

func boxKey(key string) *[32]byte {
	sum := sha256.Sum256([]byte(key))
	return &sum
}

func (c SecretBoxCrypto) Encrypt(key string, plaintext []byte) ([]byte, error) {
	r := c.Rand
	if r == nil {
		r = rand.Reader
	}

	var nonce [boxNonceLen]byte
	if _, err := io.ReadFull(r, nonce[:]); err != nil {
		return nil, fmt.Errorf("%w: reading nonce: %v", ErrCryptoFailure, err)
	}

	out := make([]byte, 0, boxNonceLen+secretbox.Overhead+len(plaintext))
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plaintext, &nonce, boxKey(key)), nil
}

func (SecretBoxCrypto) Decrypt(key string, ciphertext []byte) (string, error) {
	if len(ciphertext) < boxNonceLen+secretbox.Overhead {
		return "", fmt.Errorf("%w: ciphertext too short", ErrCryptoFailure)
	}

	var nonce [boxNonceLen]byte
	copy(nonce[:], ciphertext[:boxNonceLen])

	plaintext, ok := secretbox.Open(nil, ciphertext[boxNonceLen:], &nonce, boxKey(key))
	if !ok {
		return "", fmt.Errorf("%w: decryption failed", ErrCryptoFailure)
	}

	return string(plaintext), nil
}
