package macaroons

import (
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type span struct {
	lo, hi int64
}

// VerificationContext accumulates the structural constraints observed so far
// in a proof search: per-key membership sets and per-key integer ranges.
// Both only ever narrow; an addition that would widen a membership or empty
// a range fails with [ErrContextConflict].
//
// The verifier clones contexts at every branch point; a failed addition
// never leaves partial state behind in a surviving branch.
type VerificationContext struct {
	memberships map[string]map[string]struct{}
	ranges      map[string]span
}

// NewVerificationContext returns an empty context.
func NewVerificationContext() *VerificationContext {
	return &VerificationContext{
		memberships: map[string]map[string]struct{}{},
		ranges:      map[string]span{},
	}
}

// AddMembership narrows the membership set stored under key. If no set is
// stored yet, a copy of members is stored. Otherwise the stored set is
// replaced with the intersection; if members contains an element that is not
// already permitted the addition fails and the context is unchanged.
func (c *VerificationContext) AddMembership(key string, members ...string) error {
	have, ok := c.memberships[key]
	if !ok {
		set := make(map[string]struct{}, len(members))
		for _, m := range members {
			set[m] = struct{}{}
		}
		c.memberships[key] = set
		return nil
	}

	next := make(map[string]struct{}, len(members))
	for _, m := range members {
		if _, permitted := have[m]; !permitted {
			return fmt.Errorf("%w: %q is not permitted for %s", ErrContextConflict, m, key)
		}
		next[m] = struct{}{}
	}

	c.memberships[key] = next
	return nil
}

// AddRange narrows the range stored under key to its intersection with
// [lo, hi]. An empty intersection fails and leaves the context unchanged.
func (c *VerificationContext) AddRange(key string, lo, hi int64) error {
	if lo > hi {
		return fmt.Errorf("%w: range lower bound %d exceeds upper bound %d", ErrInvalidArgument, lo, hi)
	}

	have, ok := c.ranges[key]
	if !ok {
		c.ranges[key] = span{lo, hi}
		return nil
	}

	if lo < have.lo {
		lo = have.lo
	}
	if hi > have.hi {
		hi = have.hi
	}
	if lo > hi {
		return fmt.Errorf("%w: range for %s is empty", ErrContextConflict, key)
	}

	c.ranges[key] = span{lo, hi}
	return nil
}

// RemoveMembership drops the membership set stored under key, if any.
func (c *VerificationContext) RemoveMembership(key string) {
	delete(c.memberships, key)
}

// RemoveRange drops the range stored under key, if any.
func (c *VerificationContext) RemoveRange(key string) {
	delete(c.ranges, key)
}

// Membership returns a sorted copy of the membership set stored under key.
func (c *VerificationContext) Membership(key string) ([]string, bool) {
	set, ok := c.memberships[key]
	if !ok {
		return nil, false
	}

	members := maps.Keys(set)
	slices.Sort(members)
	return members, true
}

// Range returns the range stored under key.
func (c *VerificationContext) Range(key string) (lo, hi int64, ok bool) {
	s, ok := c.ranges[key]
	return s.lo, s.hi, ok
}

// Memberships returns a deep copy of all membership sets, sorted per key.
func (c *VerificationContext) Memberships() map[string][]string {
	ret := make(map[string][]string, len(c.memberships))
	for key := range c.memberships {
		ret[key], _ = c.Membership(key)
	}
	return ret
}

// Ranges returns a copy of all ranges as [lo, hi] pairs.
func (c *VerificationContext) Ranges() map[string][2]int64 {
	ret := make(map[string][2]int64, len(c.ranges))
	for key, s := range c.ranges {
		ret[key] = [2]int64{s.lo, s.hi}
	}
	return ret
}

// Clone returns an independent deep copy of the context.
func (c *VerificationContext) Clone() *VerificationContext {
	cc := &VerificationContext{
		memberships: make(map[string]map[string]struct{}, len(c.memberships)),
		ranges:      maps.Clone(c.ranges),
	}
	for key, set := range c.memberships {
		cc.memberships[key] = maps.Clone(set)
	}
	return cc
}

// Equal reports whether both contexts hold the same ranges and membership
// sets.
func (c *VerificationContext) Equal(o *VerificationContext) bool {
	if !maps.Equal(c.ranges, o.ranges) || len(c.memberships) != len(o.memberships) {
		return false
	}

	for key, set := range c.memberships {
		oset, ok := o.memberships[key]
		if !ok || !maps.Equal(set, oset) {
			return false
		}
	}

	return true
}

// String renders the context for diagnostics, ranges first, keys sorted.
func (c *VerificationContext) String() string {
	parts := make([]string, 0, len(c.ranges)+len(c.memberships))

	rkeys := maps.Keys(c.ranges)
	slices.Sort(rkeys)
	for _, key := range rkeys {
		s := c.ranges[key]
		parts = append(parts, fmt.Sprintf("%s ∈ [%d, %d]", key, s.lo, s.hi))
	}

	mkeys := maps.Keys(c.memberships)
	slices.Sort(mkeys)
	for _, key := range mkeys {
		members, _ := c.Membership(key)
		parts = append(parts, fmt.Sprintf("%s ∈ [%s]", key, strings.Join(members, ", ")))
	}

	return "VerificationContext{" + strings.Join(parts, ", ") + "}"
}
