package macaroons

import (
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func init() {
	RegisterPredicate("wire-test", func(ctx *VerificationContext) error {
		return ctx.AddMembership("SOURCE", "wire")
	})
}

func buildWireMacaroon(t *testing.T) *Macaroon {
	t.Helper()

	m, err := Mint("s", []byte("x"), "h")
	assert.NoError(t, err)
	_, err = m.AddFirstParty(mustRange(t, "TIME", 0, 100))
	assert.NoError(t, err)
	_, err = m.AddFirstParty(mustMembership(t, "ACCESS", "r1", "r2"))
	assert.NoError(t, err)
	_, err = m.AddFirstParty(NewPredicateCaveat([]byte("wire-test arg"), nil))
	assert.NoError(t, err)
	_, err = m.AddThirdParty(NewThirdPartyCaveat("k", []byte("t"), "d"))
	assert.NoError(t, err)

	d, err := Mint("k", []byte("t"), "d")
	assert.NoError(t, err)
	_, err = d.AddFirstParty(mustRange(t, "TIME", 50, 200))
	assert.NoError(t, err)
	assert.NoError(t, m.BindDischarge(d))

	return m
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := buildWireMacaroon(t)

	buf, err := m.Encode()
	assert.NoError(t, err)

	m2, err := Decode(buf)
	assert.NoError(t, err)
	assert.True(t, m.Equal(m2))

	// The binary encoding is stable across a round trip.
	buf2, err := m2.Encode()
	assert.NoError(t, err)
	assert.Equal(t, buf, buf2)

	// The decoded credential verifies: chain, discharge and registry-backed
	// predicate all survive the wire.
	ctxs, err := m2.Verify("s", nil)
	assert.NoError(t, err)

	want := NewVerificationContext()
	assert.NoError(t, want.AddRange("TIME", 50, 100))
	assert.NoError(t, want.AddMembership("ACCESS", "r1", "r2"))
	assert.NoError(t, want.AddMembership("SOURCE", "wire"))
	assertContexts(t, []*VerificationContext{want}, ctxs)
}

func TestEncodeUnappendedThirdParty(t *testing.T) {
	m, err := Mint("s", []byte("x"))
	assert.NoError(t, err)

	// Smuggle in a caveat that never went through AddThirdParty.
	m.Caveats = append(m.Caveats, NewThirdPartyCaveat("k", []byte("t"), "d"))

	_, err = m.Encode()
	assert.IsError(t, err, ErrInvalidArgument)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte("not msgpack at all"))
	assert.Error(t, err)
}

func TestTokenString(t *testing.T) {
	m := buildWireMacaroon(t)

	tok, err := m.String()
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(tok, "mcr_"))

	m2, err := DecodeToken(tok)
	assert.NoError(t, err)
	assert.True(t, m.Equal(m2))

	_, err = DecodeToken("xyz_AAAA")
	assert.Error(t, err)
	_, err = DecodeToken("mcr_!!!")
	assert.Error(t, err)
	_, err = DecodeToken("mcr_")
	assert.Error(t, err)
}

func TestAuthorizationHeader(t *testing.T) {
	m1 := buildWireMacaroon(t)
	m2, err := Mint("s2", []byte("y"))
	assert.NoError(t, err)

	b1, err := m1.Encode()
	assert.NoError(t, err)
	b2, err := m2.Encode()
	assert.NoError(t, err)

	hdr := ToAuthorizationHeader(b1, b2)
	assert.True(t, strings.HasPrefix(hdr, "Macaroon mcr_"))

	toks, err := ParseTokens(hdr)
	assert.NoError(t, err)
	assert.Equal(t, [][]byte{b1, b2}, toks)

	// Bearer scheme is stripped too.
	toks, err = ParseTokens("Bearer " + encodeTokens(b1))
	assert.NoError(t, err)
	assert.Equal(t, [][]byte{b1}, toks)

	_, err = ParseTokens("Macaroon nonsense")
	assert.Error(t, err)
}
