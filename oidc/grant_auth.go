package oidc

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-jose/go-jose/v4"

	"github.com/hashicorp/openid/keystore"
	"github.com/hashicorp/openid/oidc/clientassertion"
)

// grantAuthMaterial is the client authentication material for one endpoint
// call: header fields, body fields, or a freshly minted signed assertion.
// It is produced per call and never persisted.
type grantAuthMaterial struct {
	header http.Header
	form   url.Values
}

// grantAuth builds the authentication material for the client's configured
// token endpoint auth method.
func (c *Client) grantAuth() (*grantAuthMaterial, error) {
	const op = "Client.grantAuth"
	switch c.metadata.TokenEndpointAuthMethod {
	case AuthMethodNone:
		return nil, fmt.Errorf("%s: a public client cannot call authenticated endpoints: %w", op, ErrConfiguration)

	case AuthMethodClientSecretBasic:
		credentials := fmt.Sprintf("%s:%s", c.metadata.ClientID, string(c.metadata.ClientSecret))
		header := http.Header{}
		header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(credentials)))
		return &grantAuthMaterial{header: header}, nil

	case AuthMethodClientSecretPost:
		return &grantAuthMaterial{
			form: url.Values{
				"client_id":     []string{c.metadata.ClientID},
				"client_secret": []string{string(c.metadata.ClientSecret)},
			},
		}, nil

	case AuthMethodClientSecretJWT, AuthMethodPrivateKeyJWT:
		assertion, err := c.mintAssertion()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return &grantAuthMaterial{
			form: url.Values{
				"client_assertion":      []string{assertion},
				"client_assertion_type": []string{clientassertion.JWTTypeParam},
			},
		}, nil

	default:
		return nil, fmt.Errorf("%s: unknown auth method %q: %w", op, c.metadata.TokenEndpointAuthMethod, ErrConfiguration)
	}
}

// mintAssertion signs a fresh single-use client assertion addressed to the
// issuer's token endpoint.
func (c *Client) mintAssertion() (string, error) {
	const op = "Client.mintAssertion"
	audience := []string{c.issuer.Metadata().TokenEndpoint}

	var opt clientassertion.Option
	switch c.metadata.TokenEndpointAuthMethod {
	case AuthMethodClientSecretJWT:
		alg, err := c.assertionHMACAlg()
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		opt = clientassertion.WithClientSecret(string(c.metadata.ClientSecret), string(alg))
	case AuthMethodPrivateKeyJWT:
		key, alg, err := c.assertionSigningKey()
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		opt = clientassertion.WithSigningKey(key, string(alg))
	default:
		return "", fmt.Errorf("%s: %q is not assertion based: %w", op, c.metadata.TokenEndpointAuthMethod, ErrConfiguration)
	}

	j, err := clientassertion.NewJWT(c.metadata.ClientID, audience, opt)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	assertion, err := j.Serialize()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return assertion, nil
}

// assertionHMACAlg selects the HMAC algorithm for client_secret_jwt: the
// configured token_endpoint_auth_signing_alg, or the first issuer-supported
// algorithm an HMAC key can sign.
func (c *Client) assertionHMACAlg() (Alg, error) {
	const op = "Client.assertionHMACAlg"
	if alg := c.metadata.TokenEndpointAuthSigningAlg; alg != "" {
		if !alg.symmetric() {
			return "", fmt.Errorf("%s: %q cannot sign with a client secret: %w", op, alg, ErrConfiguration)
		}
		return alg, nil
	}
	for _, supported := range c.issuer.Metadata().TokenEndpointAuthSigningAlgValuesSupported {
		if Alg(supported).symmetric() {
			return Alg(supported), nil
		}
	}
	return "", fmt.Errorf("%s: issuer supports no HMAC signing algorithm: %w", op, ErrNoValidKey)
}

// assertionSigningKey selects a private key and algorithm for
// private_key_jwt from the client's key store.
func (c *Client) assertionSigningKey() (key jose.JSONWebKey, alg Alg, err error) {
	const op = "Client.assertionSigningKey"
	if c.keys == nil {
		return key, "", fmt.Errorf("%s: no key store: %w", op, ErrNoValidKey)
	}
	candidates := c.issuer.Metadata().TokenEndpointAuthSigningAlgValuesSupported
	if configured := c.metadata.TokenEndpointAuthSigningAlg; configured != "" {
		candidates = []string{string(configured)}
	}
	for _, candidate := range candidates {
		if Alg(candidate).symmetric() {
			continue
		}
		if k, ok := c.keys.Get(keystore.WithAlg(candidate), keystore.WithUse("sig")); ok {
			return k, Alg(candidate), nil
		}
	}
	return key, "", fmt.Errorf("%s: no key matches the supported signing algorithms: %w", op, ErrNoValidKey)
}
