package macaroons

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// MemberDelimiter separates members inside a membership caveat identifier.
// No member may contain it.
const MemberDelimiter = ", "

const constraintInfix = " ∈ ["

// splitConstraintID splits a structural identifier of the canonical form
// "<key> ∈ [<body>]" into its key and bracketed body.
func splitConstraintID(identifier []byte) (key, body string, ok bool) {
	s := string(identifier)
	i := strings.LastIndex(s, constraintInfix)
	if i < 0 || !strings.HasSuffix(s, "]") {
		return "", "", false
	}
	return s[:i], s[i+len(constraintInfix) : len(s)-1], true
}

// PredicateCaveat is an opaque first-party caveat: an identifier plus an
// application-supplied predicate. Only the identifier enters the signature
// chain; the predicate travels alongside and survives cloning.
type PredicateCaveat struct {
	identifier []byte
	predicate  Predicate
}

// NewPredicateCaveat builds an opaque first-party caveat. A nil predicate is
// resolved at verification time through the [RegisterPredicate] registry; if
// no predicate can be resolved the caveat never holds.
func NewPredicateCaveat(identifier []byte, p Predicate) *PredicateCaveat {
	return &PredicateCaveat{
		identifier: append([]byte(nil), identifier...),
		predicate:  p,
	}
}

func (c *PredicateCaveat) ID() []byte { return c.identifier }

func (c *PredicateCaveat) Clone() Caveat {
	return NewPredicateCaveat(c.identifier, c.predicate)
}

func (c *PredicateCaveat) Verify(ctx *VerificationContext) error {
	p := c.predicate
	if p == nil {
		p = predicateFor(c.identifier)
	}
	if p == nil {
		return fmt.Errorf("no predicate for caveat %q", c.identifier)
	}

	return p(ctx)
}

// RangeCaveat requires the context range under its key to intersect
// [lo, hi]. Its identifier has the canonical form "<key> ∈ [<lo>, <hi>]"
// with decimal integers; the identifier is byte-exact because it enters the
// signature chain.
type RangeCaveat struct {
	identifier []byte
	key        string
	lo, hi     int64
}

// NewRangeCaveat builds a range caveat. The bounds are inclusive and lo must
// not exceed hi.
func NewRangeCaveat(key string, lo, hi int64) (*RangeCaveat, error) {
	if lo > hi {
		return nil, fmt.Errorf("%w: range lower bound %d exceeds upper bound %d", ErrInvalidArgument, lo, hi)
	}

	return &RangeCaveat{
		identifier: []byte(fmt.Sprintf("%s ∈ [%d, %d]", key, lo, hi)),
		key:        key,
		lo:         lo,
		hi:         hi,
	}, nil
}

// ParseRangeCaveat reconstructs a range caveat from its canonical
// identifier.
func ParseRangeCaveat(identifier []byte) (*RangeCaveat, error) {
	key, body, ok := splitConstraintID(identifier)
	if ok {
		if los, his, found := strings.Cut(body, MemberDelimiter); found {
			lo, loErr := strconv.ParseInt(los, 10, 64)
			hi, hiErr := strconv.ParseInt(his, 10, 64)
			if loErr == nil && hiErr == nil && lo <= hi {
				c, err := NewRangeCaveat(key, lo, hi)
				// Reject non-canonical renderings (leading zeros, a "+"
				// sign); they would not replay the same signature chain.
				if err == nil && string(c.identifier) == string(identifier) {
					return c, nil
				}
			}
		}
	}

	return nil, fmt.Errorf("%w: malformed range caveat identifier %q", ErrInvalidArgument, identifier)
}

func (c *RangeCaveat) ID() []byte  { return c.identifier }
func (c *RangeCaveat) Key() string { return c.key }

// Bounds returns the inclusive range bounds.
func (c *RangeCaveat) Bounds() (lo, hi int64) { return c.lo, c.hi }

func (c *RangeCaveat) Clone() Caveat {
	cc, err := ParseRangeCaveat(c.identifier)
	if err != nil {
		// The identifier was rendered by NewRangeCaveat, so it parses.
		panic(err)
	}
	return cc
}

func (c *RangeCaveat) Verify(ctx *VerificationContext) error {
	return ctx.AddRange(c.key, c.lo, c.hi)
}

// MembershipCaveat narrows the context membership set under its key to the
// listed members. If a set is already stored, every listed member must be
// in it; if none is stored, the listed members are stored. Its identifier
// has the canonical form
// "<key> ∈ [<m1>, <m2>, …]" with members joined by [MemberDelimiter], in
// the order given at construction.
type MembershipCaveat struct {
	identifier []byte
	key        string
	members    []string
}

// NewMembershipCaveat builds a membership caveat. Members must not contain
// [MemberDelimiter].
func NewMembershipCaveat(key string, members ...string) (*MembershipCaveat, error) {
	for _, m := range members {
		if strings.Contains(m, MemberDelimiter) {
			return nil, fmt.Errorf("%w: member %q contains the member delimiter", ErrInvalidArgument, m)
		}
	}

	return &MembershipCaveat{
		identifier: []byte(fmt.Sprintf("%s ∈ [%s]", key, strings.Join(members, MemberDelimiter))),
		key:        key,
		members:    slices.Clone(members),
	}, nil
}

// ParseMembershipCaveat reconstructs a membership caveat from its canonical
// identifier.
func ParseMembershipCaveat(identifier []byte) (*MembershipCaveat, error) {
	key, body, ok := splitConstraintID(identifier)
	if !ok {
		return nil, fmt.Errorf("%w: malformed membership caveat identifier %q", ErrInvalidArgument, identifier)
	}

	var members []string
	if body != "" {
		members = strings.Split(body, MemberDelimiter)
	}

	return NewMembershipCaveat(key, members...)
}

func (c *MembershipCaveat) ID() []byte  { return c.identifier }
func (c *MembershipCaveat) Key() string { return c.key }

// Members returns a copy of the member list in identifier order.
func (c *MembershipCaveat) Members() []string { return slices.Clone(c.members) }

func (c *MembershipCaveat) Clone() Caveat {
	cc, err := ParseMembershipCaveat(c.identifier)
	if err != nil {
		panic(err)
	}
	return cc
}

func (c *MembershipCaveat) Verify(ctx *VerificationContext) error {
	return ctx.AddMembership(c.key, c.members...)
}

// ThirdPartyCaveat is an obligation discharged by a separate credential
// signed under the caveat's root key. Before the caveat is appended it
// carries the plaintext root key; appending encrypts the key under the
// credential's then-current signature, and from then on the caveat carries
// only the ciphertext verifier key.
type ThirdPartyCaveat struct {
	identifier  []byte
	locations   []string
	rootKey     string
	verifierKey []byte
}

// NewThirdPartyCaveat builds a third-party caveat from the shared root key,
// the caveat identifier (the ticket the third party recognizes) and the
// advisory locations of services able to discharge it.
func NewThirdPartyCaveat(rootKey string, identifier []byte, locations ...string) *ThirdPartyCaveat {
	return &ThirdPartyCaveat{
		identifier: append([]byte(nil), identifier...),
		locations:  slices.Clone(locations),
		rootKey:    rootKey,
	}
}

func (c *ThirdPartyCaveat) ID() []byte { return c.identifier }

// Locations returns a copy of the advisory discharge locations.
func (c *ThirdPartyCaveat) Locations() []string { return slices.Clone(c.locations) }

// VerifierKey returns the encrypted root key. It is nil until the caveat has
// been appended to a credential.
func (c *ThirdPartyCaveat) VerifierKey() []byte {
	return append([]byte(nil), c.verifierKey...)
}

func (c *ThirdPartyCaveat) appended() bool { return c.verifierKey != nil }

func (c *ThirdPartyCaveat) Clone() Caveat {
	return &ThirdPartyCaveat{
		identifier:  append([]byte(nil), c.identifier...),
		locations:   slices.Clone(c.locations),
		rootKey:     c.rootKey,
		verifierKey: append([]byte(nil), c.verifierKey...),
	}
}
