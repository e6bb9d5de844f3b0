package oidc

import (
	"crypto"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/base64"
	"fmt"
)

// Alg represents a JOSE signing algorithm
type Alg string

const (
	RS256 Alg = "RS256"
	RS384 Alg = "RS384"
	RS512 Alg = "RS512"
	ES256 Alg = "ES256"
	ES384 Alg = "ES384"
	ES512 Alg = "ES512"
	PS256 Alg = "PS256"
	PS384 Alg = "PS384"
	PS512 Alg = "PS512"
	HS256 Alg = "HS256"
	HS384 Alg = "HS384"
	HS512 Alg = "HS512"

	// Unsigned is the "none" JOSE alg value. It is only acceptable for
	// responses the client explicitly negotiated as unsigned.
	Unsigned Alg = "none"
)

// keyKind describes the kind of key an Alg signs with
type keyKind int

const (
	keyKindRSA keyKind = iota
	keyKindECDSA
	keyKindHMAC
	keyKindNone
)

// algInfo maps every supported Alg to its digest and key kind. Closed table:
// an alg missing here is unsupported, there is no prefix sniffing.
var algInfo = map[Alg]struct {
	hash crypto.Hash
	kind keyKind
}{
	RS256:    {crypto.SHA256, keyKindRSA},
	RS384:    {crypto.SHA384, keyKindRSA},
	RS512:    {crypto.SHA512, keyKindRSA},
	ES256:    {crypto.SHA256, keyKindECDSA},
	ES384:    {crypto.SHA384, keyKindECDSA},
	ES512:    {crypto.SHA512, keyKindECDSA},
	PS256:    {crypto.SHA256, keyKindRSA},
	PS384:    {crypto.SHA384, keyKindRSA},
	PS512:    {crypto.SHA512, keyKindRSA},
	HS256:    {crypto.SHA256, keyKindHMAC},
	HS384:    {crypto.SHA384, keyKindHMAC},
	HS512:    {crypto.SHA512, keyKindHMAC},
	Unsigned: {0, keyKindNone},
}

// SupportedAlg reports whether a is a supported signing algorithm
func SupportedAlg(a Alg) bool {
	_, ok := algInfo[a]
	return ok
}

// symmetric reports whether the alg signs with an HMAC key
func (a Alg) symmetric() bool {
	info, ok := algInfo[a]
	return ok && info.kind == keyKindHMAC
}

// TokenHash computes the OIDC at_hash/c_hash binding value for a token or
// authorization code: the base64url encoding (no padding) of the left half
// of the value's digest, where the digest is selected by the bit strength of
// the id_token's signing algorithm.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#CodeFlowTokenValidation
func TokenHash(value string, signingAlg Alg) (string, error) {
	const op = "oidc.TokenHash"
	info, ok := algInfo[signingAlg]
	if !ok || info.kind == keyKindNone {
		return "", fmt.Errorf("%s: %q: %w", op, signingAlg, ErrUnsupportedAlg)
	}
	h := info.hash.New()
	_, _ = h.Write([]byte(value))
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2]), nil
}
