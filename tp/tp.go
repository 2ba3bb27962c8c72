// Package tp implements a third-party discharge service and its client.
//
// A minter that wants a third-party caveat checked by a service builds the
// caveat with [NewCaveat]: the caveat identifier is a [Ticket] (discharge
// root key + application note) sealed under the key the minter shares with
// the service. The holder later posts that identifier to the service's
// [DischargePath]; the service unseals it, applies its policy, and mints a
// discharge credential under the recovered root key, which the holder binds
// into the primary with [macaroons.Macaroon.BindDischarge].
package tp

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	msgpack "github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/blake2b"

	"github.com/pvriel/macaroons"
)

// DischargePath is the well-known path discharge requests are posted to,
// relative to a service's location URL.
const DischargePath = "/.well-known/macaroons/discharge"

type jsonDischargeRequest struct {
	Ticket []byte `json:"ticket"`
}

type jsonDischargeResponse struct {
	Error     string `json:"error,omitempty"`
	Discharge string `json:"discharge,omitempty"`
}

// Ticket is what a minter shares with the third party through the caveat
// identifier: the discharge root key and an application note the service
// bases its policy on. It travels msgpack-encoded and sealed under the
// shared key.
type Ticket struct {
	RootKey string `msgpack:"root_key"`
	Note    []byte `msgpack:"note"`
}

// EncodeTicket seals a ticket under the key shared between minter and
// service.
func EncodeTicket(c macaroons.Crypto, sharedKey string, t *Ticket) ([]byte, error) {
	buf, err := msgpack.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encoding ticket: %w", err)
	}

	return c.Encrypt(sharedKey, buf)
}

// DecodeTicket unseals a ticket. A ticket sealed under a different key fails
// here, either on decryption (authenticated providers) or on decoding the
// resulting garbage.
func DecodeTicket(c macaroons.Crypto, sharedKey string, sealed []byte) (*Ticket, error) {
	plaintext, err := c.Decrypt(sharedKey, sealed)
	if err != nil {
		return nil, fmt.Errorf("unsealing ticket: %w", err)
	}

	t := &Ticket{}
	if err := msgpack.Unmarshal([]byte(plaintext), t); err != nil {
		return nil, fmt.Errorf("decoding ticket: %w", err)
	}
	if t.RootKey == "" {
		return nil, fmt.Errorf("decoding ticket: blank root key")
	}

	return t, nil
}

// NewCaveat builds a third-party caveat for the service at location. The
// note is carried to the service inside the sealed ticket; the freshly drawn
// discharge root key stays inside the caveat until it is appended.
func NewCaveat(c macaroons.Crypto, sharedKey, location string, note []byte) (*macaroons.ThirdPartyCaveat, error) {
	rootKey, err := newRootKey()
	if err != nil {
		return nil, err
	}

	identifier, err := EncodeTicket(c, sharedKey, &Ticket{RootKey: rootKey, Note: note})
	if err != nil {
		return nil, err
	}

	return macaroons.NewThirdPartyCaveat(rootKey, identifier, location), nil
}

func newRootKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("drawing root key: %w", err)
	}

	return hex.EncodeToString(buf), nil
}

// hashTicket keys store entries by a digest of the sealed ticket rather than
// the ticket itself. The stored discharge token still carries the sealed
// ticket as its identifier.
func hashTicket(sealed []byte) string {
	sum := blake2b.Sum256(sealed)
	return hex.EncodeToString(sum[:])
}
