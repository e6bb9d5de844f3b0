// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import (
	"github.com/go-jose/go-jose/v4"
)

// Option configures the JWT
type Option func(*JWT)

// WithClientSecret sets a secret and HMAC algorithm to sign the JWT with
func WithClientSecret(secret string, alg string) Option {
	return func(j *JWT) {
		j.secret = secret
		j.alg = jose.SignatureAlgorithm(alg)
	}
}

// WithSigningKey sets a private JSON Web Key and algorithm to sign the JWT
// with. The key's kid, if any, is carried into the assertion header.
func WithSigningKey(key jose.JSONWebKey, alg string) Option {
	return func(j *JWT) {
		j.key = key.Key
		j.alg = jose.SignatureAlgorithm(alg)
		if key.KeyID != "" {
			j.headers["kid"] = key.KeyID
		}
	}
}

// WithKeyID sets the "kid" header that OIDC providers use to look up the
// public key to check the signed JWT
func WithKeyID(keyID string) Option {
	return func(j *JWT) {
		j.headers["kid"] = keyID
	}
}

// WithHeaders sets extra JWT headers
func WithHeaders(h map[string]string) Option {
	return func(j *JWT) {
		for k, v := range h {
			j.headers[k] = v
		}
	}
}
