package macaroons

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	msgpack "github.com/vmihailenco/msgpack/v5"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Credentials travel as MessagePack. The binary encoding is deterministic
// (array-encoded structs, compact ints, sorted bound-discharge keys), so a
// decode/encode round trip is byte-stable. The caveat algebra itself never
// depends on the encoding; only the identifiers and verifier keys it
// carries do.

const (
	// AuthorizationScheme is the Authorization header scheme for token
	// bundles produced by [ToAuthorizationHeader].
	AuthorizationScheme = "Macaroon"

	authorizationSchemeBearer = "Bearer"
	tokenLabel                = "mcr"
)

// Caveat kind tags on the wire.
const (
	wireKindPredicate = iota + 1
	wireKindRange
	wireKindMembership
	wireKindThirdParty
)

func encode(v interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}

	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)

	enc.Reset(buf)
	enc.UseArrayEncodedStructs(true)
	enc.UseCompactInts(true)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode serializes the credential, including its bound discharges.
func (m *Macaroon) Encode() ([]byte, error) {
	return encode(m)
}

// Decode parses a serialized credential. The result uses [DefaultCrypto];
// chains minted through [MintWith] need [Macaroon.WithCrypto] before
// verification.
func Decode(buf []byte) (*Macaroon, error) {
	m := &Macaroon{}
	if err := msgpack.Unmarshal(buf, m); err != nil {
		return nil, fmt.Errorf("macaroon decode: %w", err)
	}

	return m, nil
}

var (
	_ msgpack.CustomEncoder = (*Macaroon)(nil)
	_ msgpack.CustomDecoder = (*Macaroon)(nil)
)

// EncodeMsgpack implements [msgpack.CustomEncoder].
func (m *Macaroon) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(5); err != nil {
		return err
	}

	if err := enc.EncodeBytes(m.Identifier); err != nil {
		return err
	}
	if err := enc.Encode(m.Locations); err != nil {
		return err
	}

	if err := enc.EncodeArrayLen(len(m.Caveats)); err != nil {
		return err
	}
	for _, cav := range m.Caveats {
		if err := encodeCaveat(enc, cav); err != nil {
			return err
		}
	}

	if err := enc.EncodeString(m.Signature); err != nil {
		return err
	}

	if err := enc.EncodeMapLen(len(m.bound)); err != nil {
		return err
	}
	keys := maps.Keys(m.bound)
	slices.Sort(keys)
	for _, key := range keys {
		if err := enc.EncodeBytes([]byte(key)); err != nil {
			return err
		}
		if err := enc.EncodeArrayLen(len(m.bound[key])); err != nil {
			return err
		}
		for _, d := range m.bound[key] {
			if err := d.EncodeMsgpack(enc); err != nil {
				return err
			}
		}
	}

	return nil
}

func encodeCaveat(enc *msgpack.Encoder, cav Caveat) error {
	var kind int
	switch c := cav.(type) {
	case *RangeCaveat:
		kind = wireKindRange
	case *MembershipCaveat:
		kind = wireKindMembership
	case *ThirdPartyCaveat:
		if !c.appended() {
			return fmt.Errorf("%w: cannot encode a third-party caveat before it is appended", ErrInvalidArgument)
		}
		kind = wireKindThirdParty
	case FirstPartyCaveat:
		// Opaque first-party caveats of any concrete type travel as bare
		// identifiers; the predicate registry restores them on decode.
		kind = wireKindPredicate
	default:
		return fmt.Errorf("%w: %T", ErrUnknownCaveatKind, cav)
	}

	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeInt(int64(kind)); err != nil {
		return err
	}

	if c3p, ok := cav.(*ThirdPartyCaveat); ok {
		if err := enc.EncodeArrayLen(3); err != nil {
			return err
		}
		if err := enc.EncodeBytes(c3p.identifier); err != nil {
			return err
		}
		if err := enc.EncodeBytes(c3p.verifierKey); err != nil {
			return err
		}
		return enc.Encode(c3p.locations)
	}

	return enc.EncodeBytes(cav.ID())
}

// DecodeMsgpack implements [msgpack.CustomDecoder].
func (m *Macaroon) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != 5 {
		return fmt.Errorf("bad credential container: %d fields", n)
	}

	if m.Identifier, err = dec.DecodeBytes(); err != nil {
		return err
	}
	if err = dec.Decode(&m.Locations); err != nil {
		return err
	}

	nCavs, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	m.Caveats = make([]Caveat, nCavs)
	for i := range m.Caveats {
		if m.Caveats[i], err = decodeCaveat(dec); err != nil {
			return err
		}
	}

	if m.Signature, err = dec.DecodeString(); err != nil {
		return err
	}

	nBound, err := dec.DecodeMapLen()
	if err != nil {
		return err
	}
	m.bound = make(map[string][]*Macaroon, nBound)
	for i := 0; i < nBound; i++ {
		key, err := dec.DecodeBytes()
		if err != nil {
			return err
		}

		nDs, err := dec.DecodeArrayLen()
		if err != nil {
			return err
		}

		ds := make([]*Macaroon, nDs)
		for j := range ds {
			ds[j] = &Macaroon{}
			if err := ds[j].DecodeMsgpack(dec); err != nil {
				return err
			}
		}
		m.bound[string(key)] = ds
	}

	m.crypto = DefaultCrypto
	return nil
}

func decodeCaveat(dec *msgpack.Decoder) (Caveat, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n != 2 {
		return nil, fmt.Errorf("bad caveat container: %d fields", n)
	}

	kind, err := dec.DecodeInt64()
	if err != nil {
		return nil, err
	}

	switch kind {
	case wireKindPredicate:
		id, err := dec.DecodeBytes()
		if err != nil {
			return nil, err
		}
		return NewPredicateCaveat(id, predicateFor(id)), nil

	case wireKindRange:
		id, err := dec.DecodeBytes()
		if err != nil {
			return nil, err
		}
		return ParseRangeCaveat(id)

	case wireKindMembership:
		id, err := dec.DecodeBytes()
		if err != nil {
			return nil, err
		}
		return ParseMembershipCaveat(id)

	case wireKindThirdParty:
		nf, err := dec.DecodeArrayLen()
		if err != nil {
			return nil, err
		}
		if nf != 3 {
			return nil, fmt.Errorf("bad third-party caveat container: %d fields", nf)
		}

		c := &ThirdPartyCaveat{}
		if c.identifier, err = dec.DecodeBytes(); err != nil {
			return nil, err
		}
		if c.verifierKey, err = dec.DecodeBytes(); err != nil {
			return nil, err
		}
		if err = dec.Decode(&c.locations); err != nil {
			return nil, err
		}
		return c, nil

	default:
		return nil, fmt.Errorf("%w: wire kind %d", ErrUnknownCaveatKind, kind)
	}
}

// String encodes the credential as an "mcr_"-prefixed Base64 token.
func (m *Macaroon) String() (string, error) {
	tok, err := m.Encode()
	if err != nil {
		return "", err
	}

	return encodeTokens(tok), nil
}

// DecodeToken parses a single "mcr_"-prefixed token string.
func DecodeToken(tok string) (*Macaroon, error) {
	raw, err := parseToken(tok)
	if err != nil {
		return nil, err
	}

	return Decode(raw)
}

// ParseTokens parses an Authorization header value holding one or more
// comma-separated tokens, stripping any Macaroon/Bearer scheme prefix.
func ParseTokens(header string) ([][]byte, error) {
	header, _ = stripAuthorizationScheme(header)

	strToks := strings.Split(header, ",")
	toks := make([][]byte, 0, len(strToks))
	for _, tok := range strToks {
		raw, err := parseToken(strings.TrimSpace(tok))
		if err != nil {
			return nil, err
		}
		toks = append(toks, raw)
	}

	return toks, nil
}

func parseToken(tok string) ([]byte, error) {
	pfx, b64, found := strings.Cut(tok, "_")
	if !found || pfx != tokenLabel {
		return nil, fmt.Errorf("parse token: bad prefix %q", pfx)
	}

	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("parse token: blank token")
	}

	return raw, nil
}

// ToAuthorizationHeader formats serialized credentials as an HTTP
// Authorization header value.
func ToAuthorizationHeader(toks ...[]byte) string {
	return AuthorizationScheme + " " + encodeTokens(toks...)
}

func encodeTokens(toks ...[]byte) string {
	ret := ""
	for i, tok := range toks {
		if i > 0 {
			ret += ","
		}
		ret += fmt.Sprintf("%s_%s", tokenLabel, base64.StdEncoding.EncodeToString(tok))
	}

	return ret
}

func stripAuthorizationScheme(hdr string) (string, bool) {
	hdr = strings.TrimSpace(hdr)

	pfx, rest, found := strings.Cut(hdr, " ")
	if !found {
		return hdr, false
	}

	switch pfx = strings.TrimSpace(pfx); {
	case strings.EqualFold(pfx, authorizationSchemeBearer), strings.EqualFold(pfx, AuthorizationScheme):
		hdr, _ = stripAuthorizationScheme(rest)
		return hdr, true
	default:
		return hdr, false
	}
}
