package oidc

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// tokenUse selects which configured alg/enc pair and signed-response alg a
// received JWT is validated against.
type tokenUse int

const (
	useIDToken tokenUse = iota
	useUserinfo
)

// idTokenChecks carries the caller-side values an id_token's claims are
// checked against.
type idTokenChecks struct {
	// nonce is the nonce supplied at the authorization request, empty when
	// none was used
	nonce string

	// checkNonce disables the nonce check entirely for grants that carry
	// no nonce, such as refresh_token.
	checkNonce bool

	// accessToken binds the at_hash claim when present
	accessToken string

	// code binds the c_hash claim when present
	code string
}

// nowCeil rounds the current time up to whole seconds, so sub-second clock
// reads never reject a token issued within the same second.
func nowCeil(now time.Time) int64 {
	unix := now.Unix()
	if now.Nanosecond() > 0 {
		unix++
	}
	return unix
}

// validateIdToken runs the decrypt-then-verify pipeline on the token set's
// id_token in place: when an encrypted response is configured the decrypted
// JWS replaces the id_token field, then the signed token is verified.
func (c *Client) validateIdToken(ctx context.Context, t *TokenSet, checks idTokenChecks) error {
	const op = "Client.validateIdToken"
	if t == nil {
		return fmt.Errorf("%s: token set is nil: %w", op, ErrNilParameter)
	}
	raw := string(t.IdToken())
	if raw == "" {
		return fmt.Errorf("%s: %w", op, ErrMissingIdToken)
	}
	if c.metadata.IDTokenEncryptedResponseAlg != "" {
		decrypted, err := c.decryptJWE(raw, c.metadata.IDTokenEncryptedResponseAlg, c.metadata.IDTokenEncryptedResponseEnc)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		raw = decrypted
		t.setIdToken(raw)
	}
	if checks.accessToken == "" {
		checks.accessToken = string(t.AccessToken())
	}
	if _, _, err := c.verifyJWT(ctx, raw, useIDToken, checks); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// decryptJWE decrypts a compact-serialized JWE whose header must declare
// exactly the configured alg and enc. The recovered payload is returned.
func (c *Client) decryptJWE(raw string, expectedAlg, expectedEnc string) (string, error) {
	const op = "Client.decryptJWE"
	segments := strings.Split(raw, ".")
	if len(segments) != 5 {
		return "", fmt.Errorf("%s: expected 5 segments, got %d: %w", op, len(segments), ErrMalformedToken)
	}
	var header struct {
		Alg string `json:"alg"`
		Enc string `json:"enc"`
	}
	if err := decodeSegment(segments[0], &header); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if header.Alg != expectedAlg || header.Enc != expectedEnc {
		return "", fmt.Errorf("%s: header alg=%q enc=%q, expected alg=%q enc=%q: %w",
			op, header.Alg, header.Enc, expectedAlg, expectedEnc, ErrUnexpectedAlgorithm)
	}
	key, err := c.decryptionKey(expectedAlg, expectedEnc)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	jwe, err := jose.ParseEncrypted(raw,
		[]jose.KeyAlgorithm{jose.KeyAlgorithm(expectedAlg)},
		[]jose.ContentEncryption{jose.ContentEncryption(expectedEnc)},
	)
	if err != nil {
		return "", fmt.Errorf("%s: unable to parse encrypted token: %w: %v", op, ErrMalformedToken, err)
	}
	payload, err := jwe.Decrypt(key)
	if err != nil {
		return "", fmt.Errorf("%s: decryption failed: %w: %v", op, ErrNoValidKey, err)
	}
	return string(payload), nil
}

// decryptionKey selects the JWE key for the configured key management
// algorithm: a private key from the client's key store for asymmetric
// algorithms, a secret-derived AES key for symmetric ones.
func (c *Client) decryptionKey(alg, enc string) (interface{}, error) {
	const op = "Client.decryptionKey"
	switch alg {
	case "dir":
		return c.derivedEncryptionKey(encKeyBits(enc))
	case "A128KW", "A128GCMKW":
		return c.derivedEncryptionKey(128)
	case "A192KW", "A192GCMKW":
		return c.derivedEncryptionKey(192)
	case "A256KW", "A256GCMKW":
		return c.derivedEncryptionKey(256)
	case "PBES2-HS256+A128KW", "PBES2-HS384+A192KW", "PBES2-HS512+A256KW":
		if c.metadata.ClientSecret == "" {
			return nil, fmt.Errorf("%s: client secret is empty: %w", op, ErrConfiguration)
		}
		return []byte(c.metadata.ClientSecret), nil
	default:
		if c.keys == nil {
			return nil, fmt.Errorf("%s: %q needs a key store: %w", op, alg, ErrNoValidKey)
		}
		k, ok := c.keys.Get(keystoreAlgOpts(alg)...)
		if !ok {
			return nil, fmt.Errorf("%s: no %q decryption key: %w", op, alg, ErrNoValidKey)
		}
		return k.Key, nil
	}
}

// derivedEncryptionKey derives a symmetric key of the given bit size from
// the client secret: the SHA-2 digest matching the size, left-truncated.
func (c *Client) derivedEncryptionKey(bits int) ([]byte, error) {
	const op = "Client.derivedEncryptionKey"
	if c.metadata.ClientSecret == "" {
		return nil, fmt.Errorf("%s: client secret is empty: %w", op, ErrConfiguration)
	}
	if bits == 0 {
		return nil, fmt.Errorf("%s: unknown key size: %w", op, ErrUnsupportedAlg)
	}
	secret := []byte(c.metadata.ClientSecret)
	var sum []byte
	switch {
	case bits <= 256:
		d := sha256.Sum256(secret)
		sum = d[:]
	case bits <= 384:
		d := sha512.Sum384(secret)
		sum = d[:]
	default:
		d := sha512.Sum512(secret)
		sum = d[:]
	}
	return sum[:bits/8], nil
}

// encKeyBits returns the CEK size of a content encryption algorithm
func encKeyBits(enc string) int {
	switch enc {
	case "A128CBC-HS256":
		return 256
	case "A192CBC-HS384":
		return 384
	case "A256CBC-HS512":
		return 512
	case "A128GCM":
		return 128
	case "A192GCM":
		return 192
	case "A256GCM":
		return 256
	default:
		return 0
	}
}

// verifyJWT verifies a compact-serialized signed JWT per the OIDC ID Token
// validation rules, returning the decoded header and payload. The expected
// signing algorithm is the configured signed-response alg for the given use.
func (c *Client) verifyJWT(ctx context.Context, raw string, use tokenUse, checks idTokenChecks) (map[string]interface{}, map[string]interface{}, error) {
	const op = "Client.verifyJWT"

	expectedAlg := c.metadata.IDTokenSignedResponseAlg
	if use == useUserinfo {
		expectedAlg = c.metadata.UserinfoSignedResponseAlg
	}

	segments := strings.Split(raw, ".")
	if len(segments) != 3 {
		return nil, nil, fmt.Errorf("%s: expected 3 segments, got %d: %w", op, len(segments), ErrMalformedToken)
	}
	var header map[string]interface{}
	if err := decodeSegment(segments[0], &header); err != nil {
		return nil, nil, fmt.Errorf("%s: header: %w", op, err)
	}
	var payload map[string]interface{}
	if err := decodeSegment(segments[1], &payload); err != nil {
		return nil, nil, fmt.Errorf("%s: payload: %w", op, err)
	}

	headerAlg, _ := header["alg"].(string)
	if headerAlg != string(expectedAlg) {
		return nil, nil, fmt.Errorf("%s: header alg %q, expected %q: %w", op, headerAlg, expectedAlg, ErrUnexpectedAlgorithm)
	}

	for _, required := range []string{"iss", "sub", "aud", "exp", "iat"} {
		if _, ok := payload[required]; !ok {
			return nil, nil, fmt.Errorf("%s: %q: %w", op, required, ErrMissingClaim)
		}
	}

	now := nowCeil(c.now())

	if iss, _ := payload["iss"].(string); iss != c.issuer.Metadata().Issuer {
		return nil, nil, fmt.Errorf("%s: iss %q, expected %q: %w", op, payload["iss"], c.issuer.Metadata().Issuer, ErrInvalidIssuer)
	}
	iat, ok := claimNumber(payload, "iat")
	if !ok {
		return nil, nil, fmt.Errorf("%s: iat is not a number: %w", op, ErrMalformedToken)
	}
	if iat > now {
		return nil, nil, fmt.Errorf("%s: iat %d is in the future (now %d): %w", op, iat, now, ErrTokenNotYetValid)
	}
	if _, present := payload["nbf"]; present {
		nbf, ok := claimNumber(payload, "nbf")
		if !ok {
			return nil, nil, fmt.Errorf("%s: nbf is not a number: %w", op, ErrMalformedToken)
		}
		if nbf > now {
			return nil, nil, fmt.Errorf("%s: nbf %d is in the future (now %d): %w", op, nbf, now, ErrTokenNotYetValid)
		}
	}
	if checks.checkNonce {
		claimNonce, _ := payload["nonce"].(string)
		// the nonce is required to match whenever either side supplies one
		if (claimNonce != "" || checks.nonce != "") && claimNonce != checks.nonce {
			return nil, nil, fmt.Errorf("%s: nonce %q, expected %q: %w", op, claimNonce, checks.nonce, ErrInvalidNonce)
		}
	}
	exp, ok := claimNumber(payload, "exp")
	if !ok {
		return nil, nil, fmt.Errorf("%s: exp is not a number: %w", op, ErrMalformedToken)
	}
	if exp <= now {
		return nil, nil, fmt.Errorf("%s: exp %d is in the past (now %d): %w", op, exp, now, ErrTokenExpired)
	}
	if azp, present := payload["azp"]; present {
		if azpStr, _ := azp.(string); azpStr != c.metadata.ClientID {
			return nil, nil, fmt.Errorf("%s: azp %q, expected %q: %w", op, azp, c.metadata.ClientID, ErrInvalidAudience)
		}
	}
	audiences, err := normalizeAudience(payload["aud"])
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(audiences) > 1 {
		if _, present := payload["azp"]; !present {
			return nil, nil, fmt.Errorf("%s: %q required with multiple audiences: %w", op, "azp", ErrMissingClaim)
		}
	}
	if !containsString(audiences, c.metadata.ClientID) {
		return nil, nil, fmt.Errorf("%s: aud %v does not include client %q: %w", op, audiences, c.metadata.ClientID, ErrInvalidAudience)
	}
	if claim, present := payload["at_hash"]; present {
		atHash, ok := claim.(string)
		if !ok {
			return nil, nil, fmt.Errorf("%s: at_hash is not a string: %w", op, ErrMalformedToken)
		}
		if err := c.checkTokenHash("at_hash", atHash, checks.accessToken, Alg(headerAlg)); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if claim, present := payload["c_hash"]; present {
		cHash, ok := claim.(string)
		if !ok {
			return nil, nil, fmt.Errorf("%s: c_hash is not a string: %w", op, ErrMalformedToken)
		}
		if err := c.checkTokenHash("c_hash", cHash, checks.code, Alg(headerAlg)); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	// responses explicitly negotiated as unsigned carry no signature to
	// check; this is the only path that skips verification
	if Alg(headerAlg) == Unsigned {
		return header, payload, nil
	}

	key, err := c.verificationKey(ctx, header, Alg(headerAlg))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	jws, err := jose.ParseSigned(raw, []jose.SignatureAlgorithm{jose.SignatureAlgorithm(headerAlg)})
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w: %v", op, ErrSignatureVerification, err)
	}
	if _, err := jws.Verify(key); err != nil {
		return nil, nil, fmt.Errorf("%s: %w: %v", op, ErrSignatureVerification, err)
	}
	return header, payload, nil
}

// verificationKey selects the signature verification key: the cached
// secret-derived HMAC key for symmetric algorithms, else a key resolved from
// the issuer's published JWK set by the token header.
func (c *Client) verificationKey(ctx context.Context, header map[string]interface{}, alg Alg) (interface{}, error) {
	const op = "Client.verificationKey"
	if alg.symmetric() {
		key, err := c.secretVerificationKey()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return key, nil
	}
	kid, _ := header["kid"].(string)
	key, err := c.issuer.Key(ctx, kid, string(alg))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return key, nil
}

// secretVerificationKey imports the client secret as a symmetric key at most
// once per Client; concurrent first accesses converge on the same key.
func (c *Client) secretVerificationKey() (*jose.JSONWebKey, error) {
	const op = "Client.secretVerificationKey"
	if c.metadata.ClientSecret == "" {
		return nil, fmt.Errorf("%s: client secret is empty: %w", op, ErrNoValidKey)
	}
	c.secretKeyOnce.Do(func() {
		c.secretKey = &jose.JSONWebKey{
			Key: []byte(c.metadata.ClientSecret),
			Use: "sig",
		}
	})
	return c.secretKey, nil
}

func (c *Client) checkTokenHash(name, claimed, value string, alg Alg) error {
	const op = "Client.checkTokenHash"
	expected, err := TokenHash(value, alg)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", op, name, err)
	}
	if claimed != expected {
		return fmt.Errorf("%s: %s %q, expected %q: %w", op, name, claimed, expected, ErrHashMismatch)
	}
	return nil
}

// decodeSegment base64url-decodes one JWT segment into v
func decodeSegment(segment string, v interface{}) error {
	const op = "oidc.decodeSegment"
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return fmt.Errorf("%s: invalid base64url: %w", op, ErrMalformedToken)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%s: invalid JSON: %w", op, ErrMalformedToken)
	}
	return nil
}

// claimNumber reads a numeric claim, tolerating the float64 JSON decoding
// produces. String values are not numeric claims.
func claimNumber(payload map[string]interface{}, name string) (int64, bool) {
	if _, isString := payload[name].(string); isString {
		return 0, false
	}
	return numberField(payload, name)
}

// normalizeAudience coerces the aud claim to a list: a scalar becomes a
// single-element list.
func normalizeAudience(aud interface{}) ([]string, error) {
	const op = "oidc.normalizeAudience"
	switch v := aud.(type) {
	case string:
		return []string{v}, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%s: aud element is not a string: %w", op, ErrMalformedToken)
			}
			out = append(out, s)
		}
		return out, nil
	case []string:
		return v, nil
	default:
		return nil, fmt.Errorf("%s: aud is neither string nor list: %w", op, ErrMalformedToken)
	}
}

func containsString(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}
