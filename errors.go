package macaroons

import (
	"errors"
)

var (
	// ErrInvalidArgument reports that a construction precondition was
	// violated: a range caveat with an upper bound below its lower bound, a
	// membership member containing the member delimiter, or an attempt to
	// bind a discharge credential that itself carries bound discharges.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrContextConflict reports that monotone narrowing of a
	// [VerificationContext] failed: a membership would widen the permitted
	// set, or a range intersection is empty. The verifier treats this as a
	// recoverable branch failure.
	ErrContextConflict = errors.New("verification context conflict")

	// ErrCryptoFailure reports an error from the [Crypto] provider. During
	// verification these are swallowed and fail the branch; during
	// construction they are returned to the caller.
	ErrCryptoFailure = errors.New("crypto failure")

	// ErrUnknownCaveatKind reports that the verifier encountered a caveat
	// that is neither first- nor third-party. This is an invariant
	// violation, not a verification failure.
	ErrUnknownCaveatKind = errors.New("unknown caveat kind")
)
