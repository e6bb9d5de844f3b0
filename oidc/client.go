package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"

	"github.com/hashicorp/openid/keystore"
)

// Client is an OpenID Connect relying party bound to one Issuer for its
// lifetime. It builds authorization requests, exchanges codes and refresh
// tokens for token sets, validates and decrypts ID Tokens, fetches user
// claims, and authenticates itself to the issuer's protected endpoints.
//
// A Client is safe for concurrent use; its only mutable state is the cached
// secret-derived verification key, computed at most once.
type Client struct {
	issuer   *Issuer
	metadata ClientMetadata
	keys     *keystore.KeyStore
	logger   hclog.Logger

	secretKeyOnce sync.Once
	secretKey     *jose.JSONWebKey

	// overwritten for testing
	now func() time.Time
}

// NewClient creates a Client for the given issuer. The metadata is validated
// eagerly: a configuration the issuer cannot serve (for example a _jwt auth
// method without issuer-advertised signing algorithms) fails here, not at
// first call. On failure no Client is constructed.
//
// Supported options: WithKeyStore, WithLogger
func NewClient(issuer *Issuer, metadata ClientMetadata, opt ...Option) (*Client, error) {
	const op = "oidc.NewClient"
	if issuer == nil {
		return nil, fmt.Errorf("%s: issuer is nil: %w", op, ErrNilParameter)
	}
	opts := getClientOpts(opt...)
	metadata = metadata.withDefaults()
	if err := metadata.validate(issuer); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if metadata.TokenEndpointAuthMethod == AuthMethodPrivateKeyJWT && opts.withKeyStore == nil {
		return nil, fmt.Errorf("%s: private_key_jwt requires a key store: %w", op, ErrConfiguration)
	}
	return &Client{
		issuer:   issuer,
		metadata: metadata,
		keys:     opts.withKeyStore,
		logger:   opts.withLogger,
		now:      time.Now,
	}, nil
}

// Metadata returns a copy of the client's registration metadata
func (c *Client) Metadata() ClientMetadata {
	return c.metadata
}

// AuthorizationURL builds the issuer's authorization endpoint URL for the
// given request parameters. Caller parameters are merged over the defaults
// client_id, scope=openid and response_type=code; an object-valued "claims"
// parameter must be pre-marshaled by the caller via MarshalClaimsParameter.
func (c *Client) AuthorizationURL(params url.Values) (string, error) {
	const op = "Client.AuthorizationURL"
	endpoint := c.issuer.Metadata().AuthorizationEndpoint
	if endpoint == "" {
		return "", fmt.Errorf("%s: issuer has no authorization endpoint: %w", op, ErrEndpointNotSupported)
	}
	cfg := oauth2.Config{
		ClientID: c.metadata.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:  endpoint,
			TokenURL: c.issuer.Metadata().TokenEndpoint,
		},
	}
	merged := url.Values{
		"scope":         []string{"openid"},
		"response_type": []string{"code"},
	}
	for k, vs := range params {
		merged[k] = vs
	}
	var authOpts []oauth2.AuthCodeOption
	state := merged.Get("state")
	for k := range merged {
		switch k {
		case "state", "client_id":
			continue
		}
		authOpts = append(authOpts, oauth2.SetAuthURLParam(k, merged.Get(k)))
	}
	return cfg.AuthCodeURL(state, authOpts...), nil
}

// MarshalClaimsParameter JSON-stringifies an object-valued claims request
// parameter for use with AuthorizationURL.
func MarshalClaimsParameter(claims map[string]interface{}) (string, error) {
	const op = "oidc.MarshalClaimsParameter"
	raw, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return string(raw), nil
}

// CallbackChecks carries the values a Callback response is checked against
type CallbackChecks struct {
	// State must equal the state parameter of the response exactly,
	// including the case where both are absent.
	State string

	// Nonce is the nonce sent on the authorization request, if any
	Nonce string
}

// Callback processes an authorization response. An OP error response fails
// with *OpError; a state mismatch fails with ErrStateMismatch. Depending on
// which of id_token and code the response carries, the id_token is
// decrypted and validated directly, the code is exchanged via the
// authorization_code grant, or both: the direct validation first, and the
// exchanged token set is the result.
func (c *Client) Callback(ctx context.Context, redirectURI string, params url.Values, checks CallbackChecks) (*TokenSet, error) {
	const op = "Client.Callback"
	if errCode := params.Get("error"); errCode != "" {
		return nil, &OpError{
			Code:        errCode,
			Description: params.Get("error_description"),
			URI:         params.Get("error_uri"),
		}
	}
	if params.Get("state") != checks.State {
		return nil, fmt.Errorf("%s: state %q, expected %q: %w", op, params.Get("state"), checks.State, ErrStateMismatch)
	}

	idToken := params.Get("id_token")
	code := params.Get("code")
	tokenChecks := idTokenChecks{
		nonce:       checks.Nonce,
		checkNonce:  true,
		code:        code,
		accessToken: params.Get("access_token"),
	}

	if idToken != "" {
		direct, err := NewTokenSet(callbackResponse(params))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := c.validateIdToken(ctx, direct, tokenChecks); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if code == "" {
			return direct, nil
		}
	}
	if code == "" {
		return nil, fmt.Errorf("%s: response carries neither code nor id_token: %w", op, ErrInvalidParameter)
	}

	form := url.Values{
		"grant_type":   []string{"authorization_code"},
		"code":         []string{code},
		"redirect_uri": []string{redirectURI},
	}
	t, err := c.Grant(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	exchangeChecks := idTokenChecks{
		nonce:      checks.Nonce,
		checkNonce: true,
		code:       code,
	}
	if string(t.IdToken()) != "" {
		if err := c.validateIdToken(ctx, t, exchangeChecks); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return t, nil
}

// callbackResponse converts the single-valued callback parameters into a
// token response mapping.
func callbackResponse(params url.Values) map[string]interface{} {
	resp := make(map[string]interface{}, len(params))
	for k := range params {
		resp[k] = params.Get(k)
	}
	return resp
}

// Refresh exchanges the token set's refresh token for a new token set. The
// returned id_token, if any, is decrypted and validated without a nonce
// check.
func (c *Client) Refresh(ctx context.Context, t *TokenSet) (*TokenSet, error) {
	const op = "Client.Refresh"
	if t == nil {
		return nil, fmt.Errorf("%s: token set is nil: %w", op, ErrNilParameter)
	}
	refreshToken := string(t.RefreshToken())
	if refreshToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingRefreshToken)
	}
	return c.RefreshWithToken(ctx, refreshToken)
}

// RefreshWithToken exchanges a raw refresh token for a new token set
func (c *Client) RefreshWithToken(ctx context.Context, refreshToken string) (*TokenSet, error) {
	const op = "Client.RefreshWithToken"
	if refreshToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingRefreshToken)
	}
	form := url.Values{
		"grant_type":    []string{"refresh_token"},
		"refresh_token": []string{refreshToken},
	}
	t, err := c.Grant(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if string(t.IdToken()) != "" {
		if err := c.validateIdToken(ctx, t, idTokenChecks{checkNonce: false}); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return t, nil
}

// Grant performs an authenticated POST of the given form to the issuer's
// token endpoint and wraps the JSON response in a TokenSet. OAuth error
// bodies surface as *OpError.
func (c *Client) Grant(ctx context.Context, form url.Values) (*TokenSet, error) {
	const op = "Client.Grant"
	endpoint := c.issuer.Metadata().TokenEndpoint
	if endpoint == "" {
		return nil, fmt.Errorf("%s: issuer has no token endpoint: %w", op, ErrEndpointNotSupported)
	}
	body, err := c.authenticatedPost(ctx, endpoint, form)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var response map[string]interface{}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("%s: unable to unmarshal token response: %w: %v", op, ErrDecode, err)
	}
	t, err := NewTokenSet(response)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

// Introspect posts the token to the issuer's introspection endpoint,
// failing fast when the issuer has none.
//
// Supported options: WithTokenTypeHint
func (c *Client) Introspect(ctx context.Context, token string, opt ...Option) (map[string]interface{}, error) {
	const op = "Client.Introspect"
	endpoint := c.issuer.Metadata().IntrospectionEndpoint
	if endpoint == "" {
		return nil, fmt.Errorf("%s: issuer has no introspection endpoint: %w", op, ErrEndpointNotSupported)
	}
	opts := getEndpointOpts(opt...)
	form := url.Values{"token": []string{token}}
	if opts.withTokenTypeHint != "" {
		form.Set("token_type_hint", opts.withTokenTypeHint)
	}
	body, err := c.authenticatedPost(ctx, endpoint, form)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var response map[string]interface{}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("%s: unable to unmarshal introspection response: %w: %v", op, ErrDecode, err)
	}
	return response, nil
}

// Revoke posts the token to the issuer's revocation endpoint, failing fast
// when the issuer has none. A 200 with an empty or non-JSON body is a
// successful revocation.
//
// Supported options: WithTokenTypeHint
func (c *Client) Revoke(ctx context.Context, token string, opt ...Option) error {
	const op = "Client.Revoke"
	endpoint := c.issuer.Metadata().RevocationEndpoint
	if endpoint == "" {
		return fmt.Errorf("%s: issuer has no revocation endpoint: %w", op, ErrEndpointNotSupported)
	}
	opts := getEndpointOpts(opt...)
	form := url.Values{"token": []string{token}}
	if opts.withTokenTypeHint != "" {
		form.Set("token_type_hint", opts.withTokenTypeHint)
	}
	if _, err := c.authenticatedPost(ctx, endpoint, form); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// authenticatedPost merges the client authentication material with the call
// form and posts it to the endpoint.
func (c *Client) authenticatedPost(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	const op = "Client.authenticatedPost"
	auth, err := c.grantAuth()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	merged := url.Values{}
	for k, vs := range form {
		merged[k] = vs
	}
	for k, vs := range auth.form {
		merged[k] = vs
	}
	resp, body, err := c.doRequest(ctx, httpRequest{
		method: http.MethodPost,
		url:    endpoint,
		header: auth.header,
		form:   merged,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := checkResponse(resp, body); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return body, nil
}

// clientOptions is the set of available options
type clientOptions struct {
	withKeyStore *keystore.KeyStore
	withLogger   hclog.Logger
}

// clientDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func clientDefaults() clientOptions {
	return clientOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

// getClientOpts gets the defaults and applies the opt overrides passed in
func getClientOpts(opt ...Option) clientOptions {
	opts := clientDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithKeyStore provides the client's own key store, required for
// private_key_jwt authentication and for decrypting responses encrypted to
// an asymmetric key.
func WithKeyStore(ks *keystore.KeyStore) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withKeyStore = ks
		}
	}
}

// WithLogger provides an optional hclog.Logger; without it the client is
// silent.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*clientOptions); ok {
			o.withLogger = l
		}
	}
}

// endpointOptions is the set of available options for the introspection and
// revocation endpoints.
type endpointOptions struct {
	withTokenTypeHint string
}

func endpointDefaults() endpointOptions {
	return endpointOptions{}
}

func getEndpointOpts(opt ...Option) endpointOptions {
	opts := endpointDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithTokenTypeHint provides an optional token_type_hint body parameter for
// introspection and revocation.
func WithTokenTypeHint(hint string) Option {
	return func(o interface{}) {
		if o, ok := o.(*endpointOptions); ok {
			o.withTokenTypeHint = hint
		}
	}
}

// keystoreAlgOpts builds the lookup options for an encryption key by alg
func keystoreAlgOpts(alg string) []keystore.Option {
	return []keystore.Option{keystore.WithAlg(alg), keystore.WithUse("enc")}
}
