package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	coreosoidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
)

// IssuerMetadata is the authorization server metadata of an issuer, either
// hand-configured or read from its discovery document.
type IssuerMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint,omitempty"`
	JWKSURI               string `json:"jwks_uri,omitempty"`
	RegistrationEndpoint  string `json:"registration_endpoint,omitempty"`
	RevocationEndpoint    string `json:"revocation_endpoint,omitempty"`
	IntrospectionEndpoint string `json:"introspection_endpoint,omitempty"`
	EndSessionEndpoint    string `json:"end_session_endpoint,omitempty"`

	ScopesSupported                            []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported                     []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported                        []string `json:"grant_types_supported,omitempty"`
	IDTokenSigningAlgValuesSupported           []string `json:"id_token_signing_alg_values_supported,omitempty"`
	TokenEndpointAuthMethodsSupported          []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	TokenEndpointAuthSigningAlgValuesSupported []string `json:"token_endpoint_auth_signing_alg_values_supported,omitempty"`
	CodeChallengeMethodsSupported              []string `json:"code_challenge_methods_supported,omitempty"`
	ClaimsSupported                            []string `json:"claims_supported,omitempty"`
}

// Issuer represents one OpenID Provider. A Client holds a non-owning
// reference to exactly one Issuer for its lifetime and treats its metadata
// as read-only; the only mutable state is the cached JWK set.
type Issuer struct {
	metadata IssuerMetadata

	providerCA string

	mu   sync.Mutex
	jwks *jose.JSONWebKeySet
}

// NewIssuer creates an Issuer from hand-configured metadata.
//
// Supported options: WithProviderCA
func NewIssuer(metadata IssuerMetadata, opt ...Option) (*Issuer, error) {
	const op = "oidc.NewIssuer"
	opts := getIssuerOpts(opt...)
	if metadata.Issuer == "" {
		return nil, fmt.Errorf("%s: issuer identifier is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(metadata.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: issuer %s is invalid: %w", op, metadata.Issuer, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("%s: issuer %s scheme is not http or https: %w", op, metadata.Issuer, ErrInvalidIssuer)
	}
	return &Issuer{
		metadata:   metadata,
		providerCA: opts.withProviderCA,
	}, nil
}

// DiscoverIssuer creates an Issuer from the provider's discovery document.
// This is a constructor convenience only; a manually configured
// IssuerMetadata with NewIssuer works identically.
//
// Supported options: WithProviderCA
func DiscoverIssuer(ctx context.Context, issuerURL string, opt ...Option) (*Issuer, error) {
	const op = "oidc.DiscoverIssuer"
	opts := getIssuerOpts(opt...)
	client, err := newHTTPClient(opts.withProviderCA)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	provider, err := coreosoidc.NewProvider(HTTPClientContext(ctx, client), issuerURL)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to discover issuer: %w", op, err)
	}
	var metadata IssuerMetadata
	if err := provider.Claims(&metadata); err != nil {
		return nil, fmt.Errorf("%s: unable to read issuer metadata: %w", op, err)
	}
	return NewIssuer(metadata, opt...)
}

// Metadata returns a copy of the issuer's metadata
func (i *Issuer) Metadata() IssuerMetadata {
	return i.metadata
}

// HTTPClient returns an http client for requests to the issuer, honoring the
// issuer's CA configuration.
func (i *Issuer) HTTPClient() (*http.Client, error) {
	const op = "Issuer.HTTPClient"
	client, err := newHTTPClient(i.providerCA)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return client, nil
}

// Key resolves a verification key from the issuer's published JWK set by the
// kid and alg of a JOSE header. The set is fetched lazily and cached; an
// unknown kid triggers one refetch before failing, so key rotation at the
// provider is picked up.
func (i *Issuer) Key(ctx context.Context, kid string, alg string) (jose.JSONWebKey, error) {
	const op = "Issuer.Key"
	set, err := i.keySet(ctx, false)
	if err != nil {
		return jose.JSONWebKey{}, fmt.Errorf("%s: %w", op, err)
	}
	if k, ok := selectKey(set, kid, alg); ok {
		return k, nil
	}
	set, err = i.keySet(ctx, true)
	if err != nil {
		return jose.JSONWebKey{}, fmt.Errorf("%s: %w", op, err)
	}
	if k, ok := selectKey(set, kid, alg); ok {
		return k, nil
	}
	return jose.JSONWebKey{}, fmt.Errorf("%s: no key for kid=%q alg=%q: %w", op, kid, alg, ErrNoValidKey)
}

func (i *Issuer) keySet(ctx context.Context, refetch bool) (*jose.JSONWebKeySet, error) {
	const op = "Issuer.keySet"
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.jwks != nil && !refetch {
		return i.jwks, nil
	}
	if i.metadata.JWKSURI == "" {
		return nil, fmt.Errorf("%s: issuer has no jwks_uri: %w", op, ErrEndpointNotSupported)
	}
	client, err := newHTTPClient(i.providerCA)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.metadata.JWKSURI, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: jwks request failed: %w: %v", op, ErrTransport, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read jwks response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s: jwks request returned %d: %w", op, resp.StatusCode, ErrTransport)
	}
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("%s: unable to unmarshal jwks: %w: %v", op, ErrDecode, err)
	}
	i.jwks = &set
	return i.jwks, nil
}

// selectKey picks a signature key from a JWK set: by kid when the header
// carries one, else by alg, else the sole signature key of the set.
func selectKey(set *jose.JSONWebKeySet, kid string, alg string) (jose.JSONWebKey, bool) {
	if kid != "" {
		for _, k := range set.Key(kid) {
			if k.Use == "" || k.Use == "sig" {
				return k, true
			}
		}
		return jose.JSONWebKey{}, false
	}
	var candidates []jose.JSONWebKey
	for _, k := range set.Keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		if alg != "" && k.Algorithm != "" && k.Algorithm != alg {
			continue
		}
		candidates = append(candidates, k)
	}
	if len(candidates) == 1 {
		return candidates[0], true
	}
	// with several candidates and no kid, prefer one pinning the alg
	for _, k := range candidates {
		if k.Algorithm == alg {
			return k, true
		}
	}
	return jose.JSONWebKey{}, false
}

// issuerOptions is the set of available options
type issuerOptions struct {
	withProviderCA string
}

// issuerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func issuerDefaults() issuerOptions {
	return issuerOptions{}
}

// getIssuerOpts gets the defaults and applies the opt overrides passed in
func getIssuerOpts(opt ...Option) issuerOptions {
	opts := issuerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithProviderCA provides an optional CA cert to use when sending requests
// to the provider.
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*issuerOptions); ok {
			o.withProviderCA = cert
		}
	}
}
