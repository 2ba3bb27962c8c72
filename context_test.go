package macaroons

import (
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestContextAddRange(t *testing.T) {
	ctx := NewVerificationContext()

	assert.NoError(t, ctx.AddRange("TIME", 0, 100))
	lo, hi, ok := ctx.Range("TIME")
	assert.True(t, ok)
	assert.Equal(t, int64(0), lo)
	assert.Equal(t, int64(100), hi)

	// Intersect.
	assert.NoError(t, ctx.AddRange("TIME", 50, 200))
	lo, hi, _ = ctx.Range("TIME")
	assert.Equal(t, int64(50), lo)
	assert.Equal(t, int64(100), hi)

	// Disjoint fails and leaves the stored range alone.
	assert.IsError(t, ctx.AddRange("TIME", 101, 200), ErrContextConflict)
	lo, hi, _ = ctx.Range("TIME")
	assert.Equal(t, int64(50), lo)
	assert.Equal(t, int64(100), hi)

	assert.IsError(t, ctx.AddRange("TIME", 10, 5), ErrInvalidArgument)
}

func TestContextAddMembership(t *testing.T) {
	ctx := NewVerificationContext()

	assert.NoError(t, ctx.AddMembership("ACCESS", "r1", "r2"))

	// Narrowing to a subset is fine.
	assert.NoError(t, ctx.AddMembership("ACCESS", "r1"))
	members, ok := ctx.Membership("ACCESS")
	assert.True(t, ok)
	assert.Equal(t, []string{"r1"}, members)

	// Anything not already permitted fails.
	assert.IsError(t, ctx.AddMembership("ACCESS", "r1", "r3"), ErrContextConflict)
	members, _ = ctx.Membership("ACCESS")
	assert.Equal(t, []string{"r1"}, members)
}

func TestContextRemoveAndAccessors(t *testing.T) {
	ctx := NewVerificationContext()
	assert.NoError(t, ctx.AddRange("TIME", 0, 10))
	assert.NoError(t, ctx.AddMembership("ACCESS", "r1"))

	// Accessor copies don't alias internal state.
	ms := ctx.Memberships()
	ms["ACCESS"][0] = "mutated"
	members, _ := ctx.Membership("ACCESS")
	assert.Equal(t, []string{"r1"}, members)

	rs := ctx.Ranges()
	assert.Equal(t, [2]int64{0, 10}, rs["TIME"])

	ctx.RemoveRange("TIME")
	_, _, ok := ctx.Range("TIME")
	assert.False(t, ok)

	ctx.RemoveMembership("ACCESS")
	_, ok = ctx.Membership("ACCESS")
	assert.False(t, ok)
}

func TestContextCloneAndEqual(t *testing.T) {
	ctx := NewVerificationContext()
	assert.NoError(t, ctx.AddRange("TIME", 0, 10))
	assert.NoError(t, ctx.AddMembership("ACCESS", "r1", "r2"))

	cc := ctx.Clone()
	assert.True(t, ctx.Equal(cc))

	assert.NoError(t, cc.AddRange("TIME", 5, 10))
	assert.False(t, ctx.Equal(cc))

	// The original is untouched by changes to the clone.
	lo, _, _ := ctx.Range("TIME")
	assert.Equal(t, int64(0), lo)

	assert.True(t, NewVerificationContext().Equal(NewVerificationContext()))
}

func TestContextString(t *testing.T) {
	ctx := NewVerificationContext()
	assert.NoError(t, ctx.AddRange("TIME", 0, 100))
	assert.NoError(t, ctx.AddMembership("ACCESS", "r2", "r1"))

	assert.Equal(t, "VerificationContext{TIME ∈ [0, 100], ACCESS ∈ [r1, r2]}", ctx.String())
	assert.Equal(t, "VerificationContext{}", NewVerificationContext().String())
}
