package macaroons

import (
	"crypto/hmac"
	"fmt"

	"golang.org/x/exp/maps"
)

// Verify replays the signature chain from the minting secret and returns the
// set of contexts under which the credential is valid, starting from a
// caller-supplied initial context (nil means empty). An empty result means
// the credential does not verify; no further diagnostic is safe to emit.
//
// First-party caveats are evaluated in insertion order against a private
// clone of each surviving context; contexts the predicate rejects are
// dropped. Third-party caveats are resolved by searching the bound
// discharges: every discharge whose own chain and caveats hold contributes
// its surviving contexts, and the caveat's result is the deduplicated union
// across alternatives, with no ordering guarantee. Discharges are tried in
// bound insertion order; ones that fail are remembered for the rest of the
// branch and not retried. A third-party identifier that was already
// discharged on the current branch is not re-verified.
//
// Crypto errors, signature mismatches, missing discharges and predicate
// failures all fail quietly into a smaller (possibly empty) result set. The
// returned error is reserved for [ErrUnknownCaveatKind], an invariant
// violation.
func (m *Macaroon) Verify(secret string, initial *VerificationContext) ([]*VerificationContext, error) {
	if initial == nil {
		initial = NewVerificationContext()
	}

	sig, err := m.crypto.MAC(secret, m.Identifier)
	if err != nil {
		return nil, nil
	}

	v := &verifier{crypto: m.crypto, primary: m}

	ctxs, err := v.run(m, true, sig, []*VerificationContext{initial.Clone()}, newBranchState())
	if err != nil {
		return nil, err
	}

	return dedupContexts(ctxs), nil
}

// verifier carries the state shared across one whole proof search. Every
// discharge lookup, at any depth, resolves against the primary credential's
// bound map; discharges do not nest.
type verifier struct {
	crypto  Crypto
	primary *Macaroon
}

// branchState is the per-branch search state. verified holds third-party
// identifiers already discharged on this branch; it short-circuits repeats
// and cuts cycles. invalid holds fingerprints of discharges that failed on
// this branch; it only ever grows, which is sound because every context the
// branch will see from here on is a narrowing of the contexts the discharge
// failed under.
type branchState struct {
	verified map[string]bool
	invalid  map[string]bool
}

func newBranchState() *branchState {
	return &branchState{verified: map[string]bool{}, invalid: map[string]bool{}}
}

func (s *branchState) clone() *branchState {
	return &branchState{verified: maps.Clone(s.verified), invalid: maps.Clone(s.invalid)}
}

// run verifies one frame: a credential, the running signature, and the set
// of contexts that survived so far. Returns the surviving contexts, or nil
// if the branch fails.
func (v *verifier) run(cred *Macaroon, primary bool, sig string, ctxs []*VerificationContext, state *branchState) ([]*VerificationContext, error) {
	for _, cav := range cred.Caveats {
		if len(ctxs) == 0 {
			return nil, nil
		}

		switch c := cav.(type) {
		case *ThirdPartyCaveat:
			root, err := v.crypto.Decrypt(sig, c.verifierKey)
			if err != nil {
				return nil, nil
			}

			if sig, err = v.crypto.MAC(sig, thirdPartyChainData(c)); err != nil {
				return nil, nil
			}

			idKey := string(c.identifier)
			if state.verified[idKey] {
				continue
			}

			var candidates []*Macaroon
			for _, d := range v.primary.bound[idKey] {
				if !state.invalid[d.Fingerprint()] {
					candidates = append(candidates, d)
				}
			}
			if len(candidates) == 0 {
				return nil, nil
			}

			var (
				union    []*VerificationContext
				verified map[string]bool
			)
			for _, d := range candidates {
				sub := state.clone()
				sub.verified[idKey] = true

				dsig, err := v.crypto.MAC(root, d.Identifier)
				if err != nil {
					state.invalid[d.Fingerprint()] = true
					continue
				}

				res, err := v.run(d, false, dsig, cloneContexts(ctxs), sub)
				if err != nil {
					return nil, err
				}
				if len(res) == 0 {
					state.invalid[d.Fingerprint()] = true
					continue
				}

				union = append(union, res...)
				if verified == nil {
					verified = sub.verified
				} else {
					maps.Copy(verified, sub.verified)
				}
			}

			if len(union) == 0 {
				return nil, nil
			}
			ctxs = dedupContexts(union)
			state = &branchState{verified: verified, invalid: state.invalid}

		case FirstPartyCaveat:
			var surviving []*VerificationContext
			for _, ctx := range ctxs {
				cc := ctx.Clone()
				if c.Verify(cc) == nil {
					surviving = append(surviving, cc)
				}
			}
			ctxs = surviving

			var err error
			if sig, err = v.crypto.MAC(sig, c.ID()); err != nil {
				return nil, nil
			}

		default:
			return nil, fmt.Errorf("%w: %T", ErrUnknownCaveatKind, cav)
		}
	}

	if len(ctxs) == 0 {
		return nil, nil
	}

	// Signature closure: the primary's signature is compared directly; a
	// discharge's stored signature was transformed by Bind when bound, so
	// the recomputed chain goes through Bind before comparison.
	final := sig
	if !primary {
		var err error
		if final, err = v.crypto.Bind(sig); err != nil {
			return nil, nil
		}
	}

	if !hmac.Equal([]byte(final), []byte(cred.Signature)) {
		return nil, nil
	}

	return ctxs, nil
}

func cloneContexts(ctxs []*VerificationContext) []*VerificationContext {
	ret := make([]*VerificationContext, len(ctxs))
	for i, ctx := range ctxs {
		ret[i] = ctx.Clone()
	}
	return ret
}

func dedupContexts(ctxs []*VerificationContext) []*VerificationContext {
	var ret []*VerificationContext

ctxLoop:
	for _, ctx := range ctxs {
		for _, seen := range ret {
			if seen.Equal(ctx) {
				continue ctxLoop
			}
		}
		ret = append(ret, ctx)
	}

	return ret
}
