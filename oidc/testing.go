package oidc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

// TestGenerateRSAKey will generate a test RSA key pair as a JSON Web Key
func TestGenerateRSAKey(t *testing.T, kid string) jose.JSONWebKey {
	t.Helper()
	require := require.New(t)
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(err)
	return jose.JSONWebKey{
		Key:       priv,
		KeyID:     kid,
		Algorithm: string(RS256),
		Use:       "sig",
	}
}

// TestGenerateECKey will generate a test ECDSA P-256 key pair as a JSON Web Key
func TestGenerateECKey(t *testing.T, kid string) jose.JSONWebKey {
	t.Helper()
	require := require.New(t)
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)
	return jose.JSONWebKey{
		Key:       priv,
		KeyID:     kid,
		Algorithm: string(ES256),
		Use:       "sig",
	}
}

// TestSignJWT will bundle the provided claims into a test signed JWT
func TestSignJWT(t *testing.T, key interface{}, alg Alg, claims interface{}, privateClaims map[string]interface{}) string {
	t.Helper()
	require := require.New(t)

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.SignatureAlgorithm(alg), Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(err)

	builder := jwt.Signed(sig).Claims(claims)
	if privateClaims != nil {
		builder = builder.Claims(privateClaims)
	}
	raw, err := builder.Serialize()
	require.NoError(err)

	return raw
}

// TestUnsignedJWT bundles the provided claims into a JWT with alg "none"
// and an empty signature segment.
func TestUnsignedJWT(t *testing.T, claims interface{}) string {
	t.Helper()
	require := require.New(t)

	header, err := json.Marshal(map[string]string{"alg": "none", "typ": "JWT"})
	require.NoError(err)
	payload, err := json.Marshal(claims)
	require.NoError(err)

	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "."
}

// TestEncryptJWT encrypts a compact serialization (typically a signed JWT)
// to the given key, producing a compact JWE.
func TestEncryptJWT(t *testing.T, key interface{}, keyAlg jose.KeyAlgorithm, enc jose.ContentEncryption, inner string) string {
	t.Helper()
	require := require.New(t)

	encrypter, err := jose.NewEncrypter(enc,
		jose.Recipient{Algorithm: keyAlg, Key: key},
		(&jose.EncrypterOptions{}).WithContentType("JWT"),
	)
	require.NoError(err)
	obj, err := encrypter.Encrypt([]byte(inner))
	require.NoError(err)
	raw, err := obj.CompactSerialize()
	require.NoError(err)
	return raw
}

// testDefaultClaims builds a claim set that passes validation for the
// given issuer/client at the current time.
func testDefaultClaims(issuer, clientID, nonce string) map[string]interface{} {
	now := time.Now().Unix()
	claims := map[string]interface{}{
		"iss": issuer,
		"sub": "alice@example.com",
		"aud": clientID,
		"exp": now + 300,
		"iat": now - 1,
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	return claims
}
