package oidc

import (
	"errors"
	"testing"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/openid/keystore"
)

func TestClient_grantAuth_None(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c := testClient(t, testIssuer(t, IssuerMetadata{}), ClientMetadata{
		TokenEndpointAuthMethod: AuthMethodNone,
	})
	_, err := c.grantAuth()
	require.Error(err)
	assert.Truef(errors.Is(err, ErrConfiguration), "wanted \"%s\" but got \"%s\"", ErrConfiguration, err)
}

func TestClient_grantAuth_Basic(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c := testClient(t, testIssuer(t, IssuerMetadata{}), ClientMetadata{
		ClientID:     "c",
		ClientSecret: "s",
	})
	auth, err := c.grantAuth()
	require.NoError(err)
	assert.Equal("Basic Yzpz", auth.header.Get("Authorization"))
	assert.Empty(auth.form)
}

func TestClient_grantAuth_Post(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	c := testClient(t, testIssuer(t, IssuerMetadata{}), ClientMetadata{
		ClientID:                "c",
		ClientSecret:            "s",
		TokenEndpointAuthMethod: AuthMethodClientSecretPost,
	})
	auth, err := c.grantAuth()
	require.NoError(err)
	assert.Nil(auth.header)
	assert.Equal("c", auth.form.Get("client_id"))
	assert.Equal("s", auth.form.Get("client_secret"))
}

func TestClient_grantAuth_ClientSecretJWT(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	issuer := testIssuer(t, IssuerMetadata{
		TokenEndpointAuthSigningAlgValuesSupported: []string{"RS256", "HS256"},
	})
	c := testClient(t, issuer, ClientMetadata{
		ClientID:                "c",
		ClientSecret:            testClientSecret,
		TokenEndpointAuthMethod: AuthMethodClientSecretJWT,
	})
	auth, err := c.grantAuth()
	require.NoError(err)
	assert.Equal(
		"urn:ietf:params:oauth:client-assertion-type:jwt-bearer",
		auth.form.Get("client_assertion_type"),
	)
	assertion := auth.form.Get("client_assertion")
	require.NotEmpty(assertion)

	// round trip: verifying with the same HMAC key reproduces the claims
	parsed, err := josejwt.ParseSigned(assertion, []jose.SignatureAlgorithm{jose.HS256})
	require.NoError(err)
	var claims josejwt.Claims
	require.NoError(parsed.Claims([]byte(testClientSecret), &claims))
	assert.Equal("c", claims.Issuer)
	assert.Equal("c", claims.Subject)
	assert.Contains(claims.Audience, testTokenEndpoint)
	assert.NotEmpty(claims.ID)
	require.NotNil(claims.Expiry)
	require.NotNil(claims.IssuedAt)
	assert.Equal(int64(60), int64(claims.Expiry.Time().Sub(claims.IssuedAt.Time()).Seconds()))
}

func TestClient_grantAuth_ClientSecretJWT_FreshPerCall(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	issuer := testIssuer(t, IssuerMetadata{
		TokenEndpointAuthSigningAlgValuesSupported: []string{"HS256"},
	})
	c := testClient(t, issuer, ClientMetadata{
		ClientID:                "c",
		ClientSecret:            testClientSecret,
		TokenEndpointAuthMethod: AuthMethodClientSecretJWT,
	})
	first, err := c.grantAuth()
	require.NoError(err)
	second, err := c.grantAuth()
	require.NoError(err)
	assert.NotEqual(first.form.Get("client_assertion"), second.form.Get("client_assertion"))
}

func TestClient_grantAuth_PrivateKeyJWT(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	key := TestGenerateRSAKey(t, "kid-1")
	ks, err := keystore.New(key)
	require.NoError(err)
	issuer := testIssuer(t, IssuerMetadata{
		TokenEndpointAuthSigningAlgValuesSupported: []string{"HS256", "RS256"},
	})
	c := testClient(t, issuer, ClientMetadata{
		ClientID:                "c",
		TokenEndpointAuthMethod: AuthMethodPrivateKeyJWT,
	}, WithKeyStore(ks))

	auth, err := c.grantAuth()
	require.NoError(err)
	assertion := auth.form.Get("client_assertion")
	require.NotEmpty(assertion)

	parsed, err := josejwt.ParseSigned(assertion, []jose.SignatureAlgorithm{jose.RS256})
	require.NoError(err)
	var claims josejwt.Claims
	require.NoError(parsed.Claims(key.Public().Key, &claims))
	assert.Equal("c", claims.Issuer)
	assert.Contains(claims.Audience, testTokenEndpoint)

	// the signing key's kid travels in the header
	require.Len(parsed.Headers, 1)
	assert.Equal("kid-1", parsed.Headers[0].KeyID)
}

func TestClient_grantAuth_PrivateKeyJWT_SkipsHMACAlgs(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	// an untagged symmetric key could satisfy HS256, but private_key_jwt
	// must only ever pick an asymmetric algorithm
	rsaKey := TestGenerateRSAKey(t, "rsa-1")
	hmacKey := jose.JSONWebKey{Key: []byte(testClientSecret), KeyID: "hmac-1"}
	ks, err := keystore.New(hmacKey, rsaKey)
	require.NoError(err)
	issuer := testIssuer(t, IssuerMetadata{
		TokenEndpointAuthSigningAlgValuesSupported: []string{"HS256", "RS256"},
	})
	c := testClient(t, issuer, ClientMetadata{
		ClientID:                "c",
		TokenEndpointAuthMethod: AuthMethodPrivateKeyJWT,
	}, WithKeyStore(ks))

	auth, err := c.grantAuth()
	require.NoError(err)
	parsed, err := josejwt.ParseSigned(auth.form.Get("client_assertion"), []jose.SignatureAlgorithm{jose.RS256})
	require.NoError(err)
	require.Len(parsed.Headers, 1)
	assert.Equal("RS256", parsed.Headers[0].Algorithm)
	assert.Equal("rsa-1", parsed.Headers[0].KeyID)
}

func TestClient_grantAuth_PrivateKeyJWT_NoValidKey(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	key := TestGenerateECKey(t, "ec-1")
	ks, err := keystore.New(key)
	require.NoError(err)
	issuer := testIssuer(t, IssuerMetadata{
		TokenEndpointAuthSigningAlgValuesSupported: []string{"RS256"},
	})
	c := testClient(t, issuer, ClientMetadata{
		ClientID:                "c",
		TokenEndpointAuthMethod: AuthMethodPrivateKeyJWT,
	}, WithKeyStore(ks))
	_, err = c.grantAuth()
	require.Error(err)
	assert.Truef(errors.Is(err, ErrNoValidKey), "wanted \"%s\" but got \"%s\"", ErrNoValidKey, err)
}

func TestNewClient_JWTAuthRequiresIssuerAlgs(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	issuer := testIssuer(t, IssuerMetadata{}) // no signing algs advertised
	_, err := NewClient(issuer, ClientMetadata{
		ClientID:                "c",
		ClientSecret:            testClientSecret,
		TokenEndpointAuthMethod: AuthMethodClientSecretJWT,
	})
	require.Error(err)
	assert.Truef(errors.Is(err, ErrConfiguration), "wanted \"%s\" but got \"%s\"", ErrConfiguration, err)
}
