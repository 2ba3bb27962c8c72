// Package merr folds multiple errors into one wrapped chain.
package merr

import (
	"fmt"
)

// Append folds others into base, skipping nils. Every non-nil error stays
// reachable through errors.Is/errors.As.
func Append(base error, others ...error) error {
	for _, other := range others {
		if other == nil {
			continue
		}
		if base == nil {
			base = other
		} else {
			base = fmt.Errorf("%w; %w", base, other)
		}
	}

	return base
}

// Appendf appends a formatted error to base.
func Appendf(base error, format string, args ...any) error {
	return Append(base, fmt.Errorf(format, args...))
}
