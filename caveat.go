package macaroons

import (
	"strings"
)

// Caveat is the interface implemented by all caveat variants. The variants in
// this package are [PredicateCaveat], [RangeCaveat], [MembershipCaveat] and
// [ThirdPartyCaveat]. The verifier accepts [ThirdPartyCaveat] and any
// [FirstPartyCaveat] implementation, and rejects anything else with
// [ErrUnknownCaveatKind].
type Caveat interface {
	// ID returns the caveat identifier exactly as it enters the signature
	// chain. Treat the returned bytes as read-only.
	ID() []byte

	// Clone returns an independent copy. For the structural variants the
	// identifier is authoritative and the copy is reconstructed by parsing
	// it.
	Clone() Caveat
}

// FirstPartyCaveat is implemented by caveats whose predicate is evaluated
// locally against a [VerificationContext]. A nil error means the predicate
// holds under the (possibly narrowed) context; any error drops the context
// from the branch.
type FirstPartyCaveat interface {
	Caveat
	Verify(ctx *VerificationContext) error
}

// Predicate is an application-defined first-party check. It may narrow the
// context it is handed; the verifier always hands it a private clone.
type Predicate func(ctx *VerificationContext) error

var predicates = map[string]Predicate{}

// RegisterPredicate registers a named predicate for use with this library.
// Decoded opaque first-party caveats resolve their predicate by matching the
// identifier's first space-separated token against registered names, the way
// a condition name selects a checker. Registration is expected at init time;
// duplicate names panic.
func RegisterPredicate(name string, p Predicate) {
	if _, dup := predicates[name]; dup {
		panic("duplicate predicate name: " + name)
	}
	if name == "" || p == nil {
		panic("blank predicate registration")
	}

	predicates[name] = p
}

func predicateFor(identifier []byte) Predicate {
	cond, _, _ := strings.Cut(string(identifier), " ")
	return predicates[cond]
}
