package oidc

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// AuthMethod is a token endpoint client authentication method
type AuthMethod string

const (
	// AuthMethodNone marks a public client. Public clients can never call
	// authenticated endpoints.
	AuthMethodNone AuthMethod = "none"

	// AuthMethodClientSecretBasic authenticates with an HTTP Basic
	// Authorization header. This is the default.
	AuthMethodClientSecretBasic AuthMethod = "client_secret_basic"

	// AuthMethodClientSecretPost authenticates with client_id and
	// client_secret form body fields.
	AuthMethodClientSecretPost AuthMethod = "client_secret_post"

	// AuthMethodClientSecretJWT authenticates with a JWT assertion HMAC
	// signed with the client secret.
	AuthMethodClientSecretJWT AuthMethod = "client_secret_jwt"

	// AuthMethodPrivateKeyJWT authenticates with a JWT assertion signed
	// with a private key from the client's key store.
	AuthMethodPrivateKeyJWT AuthMethod = "private_key_jwt"
)

// valid reports whether m is a recognized auth method
func (m AuthMethod) valid() bool {
	switch m {
	case AuthMethodNone, AuthMethodClientSecretBasic, AuthMethodClientSecretPost,
		AuthMethodClientSecretJWT, AuthMethodPrivateKeyJWT:
		return true
	}
	return false
}

// assertionBased reports whether m authenticates with a signed JWT assertion
func (m AuthMethod) assertionBased() bool {
	return m == AuthMethodClientSecretJWT || m == AuthMethodPrivateKeyJWT
}

// secretBased reports whether m needs the client secret
func (m AuthMethod) secretBased() bool {
	switch m {
	case AuthMethodClientSecretBasic, AuthMethodClientSecretPost, AuthMethodClientSecretJWT:
		return true
	}
	return false
}

// ClientMetadata is the set of recognized client registration properties.
// It is immutable after the owning Client is constructed.
type ClientMetadata struct {
	ClientID     string       `json:"client_id"`
	ClientSecret ClientSecret `json:"client_secret,omitempty"`

	RedirectURIs  []string `json:"redirect_uris,omitempty"`
	ResponseTypes []string `json:"response_types,omitempty"`
	GrantTypes    []string `json:"grant_types,omitempty"`

	TokenEndpointAuthMethod     AuthMethod `json:"token_endpoint_auth_method,omitempty"`
	TokenEndpointAuthSigningAlg Alg        `json:"token_endpoint_auth_signing_alg,omitempty"`

	IDTokenSignedResponseAlg    Alg    `json:"id_token_signed_response_alg,omitempty"`
	IDTokenEncryptedResponseAlg string `json:"id_token_encrypted_response_alg,omitempty"`
	IDTokenEncryptedResponseEnc string `json:"id_token_encrypted_response_enc,omitempty"`

	UserinfoSignedResponseAlg    Alg    `json:"userinfo_signed_response_alg,omitempty"`
	UserinfoEncryptedResponseAlg string `json:"userinfo_encrypted_response_alg,omitempty"`
	UserinfoEncryptedResponseEnc string `json:"userinfo_encrypted_response_enc,omitempty"`

	ClientName string   `json:"client_name,omitempty"`
	ClientURI  string   `json:"client_uri,omitempty"`
	LogoURI    string   `json:"logo_uri,omitempty"`
	PolicyURI  string   `json:"policy_uri,omitempty"`
	TOSURI     string   `json:"tos_uri,omitempty"`
	Contacts   []string `json:"contacts,omitempty"`
	Scope      string   `json:"scope,omitempty"`
	JWKSURI    string   `json:"jwks_uri,omitempty"`

	// set by the provider during dynamic registration
	RegistrationAccessToken string `json:"registration_access_token,omitempty"`
	RegistrationClientURI   string `json:"registration_client_uri,omitempty"`
	ClientIDIssuedAt        int64  `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt   int64  `json:"client_secret_expires_at,omitempty"`
}

// withDefaults returns a copy with the registration defaults applied for
// absent properties.
func (m ClientMetadata) withDefaults() ClientMetadata {
	if m.TokenEndpointAuthMethod == "" {
		m.TokenEndpointAuthMethod = AuthMethodClientSecretBasic
	}
	if m.IDTokenSignedResponseAlg == "" {
		m.IDTokenSignedResponseAlg = RS256
	}
	if len(m.ResponseTypes) == 0 {
		m.ResponseTypes = []string{"code"}
	}
	if len(m.GrantTypes) == 0 {
		m.GrantTypes = []string{"authorization_code"}
	}
	if m.IDTokenEncryptedResponseAlg != "" && m.IDTokenEncryptedResponseEnc == "" {
		m.IDTokenEncryptedResponseEnc = "A128CBC-HS256"
	}
	if m.UserinfoEncryptedResponseAlg != "" && m.UserinfoEncryptedResponseEnc == "" {
		m.UserinfoEncryptedResponseEnc = "A128CBC-HS256"
	}
	return m
}

// validate checks the metadata against the issuer it will be used with.
// Every violation is reported, not only the first.
func (m *ClientMetadata) validate(issuer *Issuer) error {
	const op = "ClientMetadata.validate"
	var result *multierror.Error
	if m.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("%s: client_id is empty: %w", op, ErrInvalidParameter))
	}
	if !m.TokenEndpointAuthMethod.valid() {
		result = multierror.Append(result, fmt.Errorf("%s: unknown token_endpoint_auth_method %q: %w", op, m.TokenEndpointAuthMethod, ErrConfiguration))
	}
	if m.TokenEndpointAuthMethod.secretBased() && m.ClientSecret == "" {
		result = multierror.Append(result, fmt.Errorf("%s: %s requires a client_secret: %w", op, m.TokenEndpointAuthMethod, ErrConfiguration))
	}
	if m.TokenEndpointAuthMethod.assertionBased() &&
		len(issuer.Metadata().TokenEndpointAuthSigningAlgValuesSupported) == 0 {
		result = multierror.Append(result, fmt.Errorf("%s: %s requires issuer token_endpoint_auth_signing_alg_values_supported: %w", op, m.TokenEndpointAuthMethod, ErrConfiguration))
	}
	if m.IDTokenSignedResponseAlg != "" && !SupportedAlg(m.IDTokenSignedResponseAlg) {
		result = multierror.Append(result, fmt.Errorf("%s: unsupported id_token_signed_response_alg %q: %w", op, m.IDTokenSignedResponseAlg, ErrUnsupportedAlg))
	}
	if m.UserinfoSignedResponseAlg != "" && !SupportedAlg(m.UserinfoSignedResponseAlg) {
		result = multierror.Append(result, fmt.Errorf("%s: unsupported userinfo_signed_response_alg %q: %w", op, m.UserinfoSignedResponseAlg, ErrUnsupportedAlg))
	}
	if m.IDTokenEncryptedResponseAlg == "" && m.IDTokenEncryptedResponseEnc != "" {
		result = multierror.Append(result, fmt.Errorf("%s: id_token_encrypted_response_enc without alg: %w", op, ErrConfiguration))
	}
	if m.UserinfoEncryptedResponseAlg == "" && m.UserinfoEncryptedResponseEnc != "" {
		result = multierror.Append(result, fmt.Errorf("%s: userinfo_encrypted_response_enc without alg: %w", op, ErrConfiguration))
	}
	return result.ErrorOrNil()
}
