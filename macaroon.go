// Package macaroons implements macaroons: decentralized, contextual bearer
// credentials built on a chained keyed MAC.
//
// A [Macaroon] starts as an all-access credential for whoever holds it.
// Anybody holding it can append a caveat, narrowing what the credential is
// good for; the chained signature makes the caveat list append-only and
// tamper-evident. A caveat is either first-party, checked locally against a
// [VerificationContext] of accumulated structural constraints, or
// third-party, an obligation discharged by presenting a separate discharge
// credential that has been cryptographically bound to the primary.
//
// The basic laws:
//
//   - Anybody can append a caveat, even without the minting secret.
//   - A caveat can only narrow the credential, never widen it.
//   - Given a credential with caveats (A, B, C), it is cryptographically
//     infeasible to produce one with (A, B) or (B, C).
//
// Verification replays the MAC chain from the minting secret, evaluates
// first-party caveats against clones of the surviving contexts, and for each
// third-party caveat searches the bound discharges for one whose own caveat
// chain also holds. The result is the set of contexts under which the
// credential is valid; an empty set means it is not.
//
// All cryptography is symmetric and pluggable through the [Crypto] surface.
// The default provider uses HMAC-SHA-256 for the chain and AES-CTR for
// third-party root keys; see [HMACCrypto] for its compatibility trade-offs
// and [SecretBoxCrypto] for the authenticated alternative.
//
// Basic usage:
//
//   - Mint a credential with [Mint].
//   - Attenuate it with [Macaroon.AddFirstParty] and
//     [Macaroon.AddThirdParty].
//   - Attach discharge credentials with [Macaroon.BindDischarge].
//   - Check it with [Macaroon.Verify].
//   - Move it around with [Macaroon.Encode], [Decode] and the token helpers
//     in format.go.
package macaroons

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// Macaroon is a credential: a public identifier, an ordered append-only
// caveat list, the chained signature over both, and the discharge
// credentials bound to it so far.
//
// Mutating a Macaroon while a verification of it is running is not
// supported.
type Macaroon struct {
	// Identifier is the public identifier chosen at mint time. It seeds
	// the signature chain.
	Identifier []byte

	// Locations are advisory hints about where the credential is usable.
	// They never enter any cryptographic computation and are excluded from
	// Equal.
	Locations []string

	// Caveats is the ordered caveat list. Append through AddFirstParty and
	// AddThirdParty only; treat as read-only otherwise.
	Caveats []Caveat

	// Signature is the current tail of the MAC chain.
	Signature string

	// bound maps discharge identifiers (by byte value) to the discharge
	// credentials bound under them. Bound discharges have already been
	// transformed by Crypto.Bind exactly once.
	bound map[string][]*Macaroon

	crypto Crypto
}

// Mint creates a credential under [DefaultCrypto]. The secret stays with the
// minter; the identifier is public and typically lets the minter find the
// secret again.
func Mint(secret string, identifier []byte, locations ...string) (*Macaroon, error) {
	return MintWith(DefaultCrypto, secret, identifier, locations...)
}

// MintWith creates a credential under an explicit [Crypto] provider. Every
// later operation on the credential, and on discharges bound into it, uses
// the same provider.
func MintWith(c Crypto, secret string, identifier []byte, locations ...string) (*Macaroon, error) {
	sig, err := c.MAC(secret, identifier)
	if err != nil {
		return nil, fmt.Errorf("mint: %w", err)
	}

	return &Macaroon{
		Identifier: append([]byte(nil), identifier...),
		Locations:  slices.Clone(locations),
		Signature:  sig,
		bound:      map[string][]*Macaroon{},
		crypto:     c,
	}, nil
}

// WithCrypto replaces the credential's crypto provider and returns the
// credential. Decoded credentials start out on [DefaultCrypto]; use this to
// verify chains minted through [MintWith].
func (m *Macaroon) WithCrypto(c Crypto) *Macaroon {
	m.crypto = c
	return m
}

// AddFirstParty appends a first-party caveat, advancing the signature chain
// over the caveat identifier. The caveat is cloned before insertion; the
// inserted clone is returned.
func (m *Macaroon) AddFirstParty(cav FirstPartyCaveat) (FirstPartyCaveat, error) {
	cc, ok := cav.Clone().(FirstPartyCaveat)
	if !ok {
		return nil, fmt.Errorf("%w: clone of %T is not first-party", ErrInvalidArgument, cav)
	}

	sig, err := m.crypto.MAC(m.Signature, cc.ID())
	if err != nil {
		return nil, fmt.Errorf("append first-party caveat: %w", err)
	}

	m.Caveats = append(m.Caveats, cc)
	m.Signature = sig
	return cc, nil
}

// AddThirdParty appends a third-party caveat. The caveat's root key is
// encrypted under the credential's current signature, so only a verifier
// that has replayed the chain up to this point can recover it; the chain
// then advances over the verifier key concatenated with the identifier.
// The caveat is cloned before insertion; the inserted clone is returned.
func (m *Macaroon) AddThirdParty(cav *ThirdPartyCaveat) (*ThirdPartyCaveat, error) {
	if cav.appended() {
		return nil, fmt.Errorf("%w: third-party caveat was already appended to a credential", ErrInvalidArgument)
	}

	cc := cav.Clone().(*ThirdPartyCaveat)

	vk, err := m.crypto.Encrypt(m.Signature, []byte(cc.rootKey))
	if err != nil {
		return nil, fmt.Errorf("append third-party caveat: %w", err)
	}
	cc.verifierKey = vk
	cc.rootKey = ""

	sig, err := m.crypto.MAC(m.Signature, thirdPartyChainData(cc))
	if err != nil {
		return nil, fmt.Errorf("append third-party caveat: %w", err)
	}

	m.Caveats = append(m.Caveats, cc)
	m.Signature = sig
	return cc, nil
}

// thirdPartyChainData is the byte string a third-party caveat contributes to
// the signature chain: verifier key first, then identifier.
func thirdPartyChainData(c *ThirdPartyCaveat) []byte {
	data := make([]byte, 0, len(c.verifierKey)+len(c.identifier))
	data = append(data, c.verifierKey...)
	return append(data, c.identifier...)
}

// BindDischarge binds a discharge credential to this credential: the
// discharge is cloned, its signature is transformed through Crypto.Bind, and
// the clone is filed under its identifier. A discharge that itself carries
// bound discharges is rejected; discharges do not nest at bind time.
//
// The discharge passed in is left untouched and can be bound to other
// credentials.
func (m *Macaroon) BindDischarge(d *Macaroon) error {
	if len(d.bound) != 0 {
		return fmt.Errorf("%w: discharge credential carries bound discharges of its own", ErrInvalidArgument)
	}

	bound, err := m.crypto.Bind(d.Signature)
	if err != nil {
		return fmt.Errorf("bind discharge: %w", err)
	}

	dd := d.Clone()
	dd.Signature = bound

	key := string(dd.Identifier)
	m.bound[key] = append(m.bound[key], dd)
	return nil
}

// BoundDischarges returns the discharges bound under the given identifier.
func (m *Macaroon) BoundDischarges(identifier []byte) []*Macaroon {
	return slices.Clone(m.bound[string(identifier)])
}

// ThirdPartyCaveatsFor returns the third-party caveats whose advisory
// locations intersect the given set and which have no discharge bound yet.
// It is what a caller assembling a discharge request wants to iterate.
func (m *Macaroon) ThirdPartyCaveatsFor(locations ...string) []*ThirdPartyCaveat {
	var ret []*ThirdPartyCaveat
	for _, cav := range m.Caveats {
		c3p, ok := cav.(*ThirdPartyCaveat)
		if !ok || len(m.bound[string(c3p.identifier)]) > 0 {
			continue
		}

		for _, loc := range c3p.locations {
			if slices.Contains(locations, loc) {
				ret = append(ret, c3p)
				break
			}
		}
	}

	return ret
}

// Clone returns an independent deep copy: caveats, bound discharges and the
// crypto provider all carry over.
func (m *Macaroon) Clone() *Macaroon {
	mm := &Macaroon{
		Identifier: append([]byte(nil), m.Identifier...),
		Locations:  slices.Clone(m.Locations),
		Caveats:    make([]Caveat, len(m.Caveats)),
		Signature:  m.Signature,
		bound:      make(map[string][]*Macaroon, len(m.bound)),
		crypto:     m.crypto,
	}

	for i, cav := range m.Caveats {
		mm.Caveats[i] = cav.Clone()
	}
	for key, ds := range m.bound {
		cds := make([]*Macaroon, len(ds))
		for i, d := range ds {
			cds[i] = d.Clone()
		}
		mm.bound[key] = cds
	}

	return mm
}

// Equal reports whether two credentials are interchangeable: same
// identifier, same signature, same caveat chain and the same bound
// discharges (order-insensitively per identifier). Location hints are
// advisory and deliberately excluded.
func (m *Macaroon) Equal(o *Macaroon) bool {
	if o == nil || !bytes.Equal(m.Identifier, o.Identifier) || m.Signature != o.Signature {
		return false
	}

	if len(m.Caveats) != len(o.Caveats) {
		return false
	}
	for i, cav := range m.Caveats {
		if !caveatEqual(cav, o.Caveats[i]) {
			return false
		}
	}

	if len(m.bound) != len(o.bound) {
		return false
	}
	for key, ds := range m.bound {
		ods := o.bound[key]
		if len(ds) != len(ods) {
			return false
		}

		matched := make([]bool, len(ods))
	dsLoop:
		for _, d := range ds {
			for i, od := range ods {
				if !matched[i] && d.Equal(od) {
					matched[i] = true
					continue dsLoop
				}
			}
			return false
		}
	}

	return true
}

func caveatEqual(a, b Caveat) bool {
	if !bytes.Equal(a.ID(), b.ID()) {
		return false
	}

	a3p, aOK := a.(*ThirdPartyCaveat)
	b3p, bOK := b.(*ThirdPartyCaveat)
	if aOK != bOK {
		return false
	}
	if aOK {
		return bytes.Equal(a3p.verifierKey, b3p.verifierKey)
	}

	return true
}

// Fingerprint is a stable string key for the credential, suitable for use
// as a map key. Two credentials with equal fingerprints carry the same
// identifier and signature.
func (m *Macaroon) Fingerprint() string {
	return fmt.Sprintf("%x\x00%s", m.Identifier, m.Signature)
}

var idNamespace = uuid.MustParse("6edd1157-fe63-4a7b-9aab-b5d2bbb46f27")

// UUID returns a stable identifier-derived UUID for the credential, handy as
// a database key or log field.
func (m *Macaroon) UUID() uuid.UUID {
	return uuid.NewSHA1(idNamespace, m.Identifier)
}
