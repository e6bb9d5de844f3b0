// Package oidc implements an OpenID Connect relying party client as
// specified in OpenID Connect Core 1.0: building authorization requests,
// processing authorization responses, exchanging codes and refresh tokens
// for token sets, validating and decrypting ID Tokens, fetching userinfo
// claims (including distributed claims), and authenticating the client to
// the issuer's token, introspection, revocation and registration endpoints.
package oidc
