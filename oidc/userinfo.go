package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// UserinfoVia selects how the access token is presented to the userinfo
// endpoint.
type UserinfoVia string

const (
	// ViaHeader sends the token as a Bearer Authorization header (default)
	ViaHeader UserinfoVia = "header"
	// ViaQuery appends the token as an access_token query parameter.
	// Only valid with GET.
	ViaQuery UserinfoVia = "query"
	// ViaBody sends the token as an access_token form field. Only valid
	// with POST.
	ViaBody UserinfoVia = "body"
)

// Userinfo fetches the end user's claims with the given access token. A
// signed and/or encrypted JWT response is decrypted and verified per the
// client's userinfo response configuration before its claims are returned.
//
// Supported options: WithVia, WithVerb, WithDistributedClaims
func (c *Client) Userinfo(ctx context.Context, accessToken string, opt ...Option) (map[string]interface{}, error) {
	const op = "Client.Userinfo"
	endpoint := c.issuer.Metadata().UserinfoEndpoint
	if endpoint == "" {
		return nil, fmt.Errorf("%s: issuer has no userinfo endpoint: %w", op, ErrEndpointNotSupported)
	}
	if accessToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingAccessToken)
	}
	opts := getUserinfoOpts(opt...)

	// verb/via combinations are checked before any network call
	switch opts.withVia {
	case ViaHeader:
	case ViaQuery:
		if opts.withVerb != http.MethodGet {
			return nil, fmt.Errorf("%s: via=query requires GET, got %s: %w", op, opts.withVerb, ErrInvalidParameter)
		}
	case ViaBody:
		if opts.withVerb != http.MethodPost {
			return nil, fmt.Errorf("%s: via=body requires POST, got %s: %w", op, opts.withVerb, ErrInvalidParameter)
		}
	default:
		return nil, fmt.Errorf("%s: unknown via %q: %w", op, opts.withVia, ErrInvalidParameter)
	}

	req := httpRequest{
		method: opts.withVerb,
		url:    endpoint,
		header: http.Header{},
	}
	switch opts.withVia {
	case ViaHeader:
		req.header.Set("Authorization", "Bearer "+accessToken)
	case ViaQuery:
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid userinfo endpoint: %w", op, err)
		}
		q := u.Query()
		q.Set("access_token", accessToken)
		u.RawQuery = q.Encode()
		req.url = u.String()
	case ViaBody:
		req.form = url.Values{"access_token": []string{accessToken}}
	}

	resp, body, err := c.doRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := checkResponse(resp, body); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	claims, err := c.parseUserinfoResponse(ctx, resp, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if opts.withDistributedClaims {
		claims, err = c.ResolveDistributedClaims(ctx, claims)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return claims, nil
}

// parseUserinfoResponse decodes a userinfo response body: plain JSON, or a
// JWT when the content type says so. An encrypted JWT is decrypted first;
// the recovered JWS is verified when a userinfo_signed_response_alg is
// configured, else its payload is decoded directly.
func (c *Client) parseUserinfoResponse(ctx context.Context, resp *http.Response, body []byte) (map[string]interface{}, error) {
	const op = "Client.parseUserinfoResponse"
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/jwt") {
		var claims map[string]interface{}
		if err := json.Unmarshal(body, &claims); err != nil {
			return nil, fmt.Errorf("%s: unable to unmarshal userinfo response: %w: %v", op, ErrDecode, err)
		}
		return claims, nil
	}

	raw := strings.TrimSpace(string(body))
	if c.metadata.UserinfoEncryptedResponseAlg != "" {
		decrypted, err := c.decryptJWE(raw, c.metadata.UserinfoEncryptedResponseAlg, c.metadata.UserinfoEncryptedResponseEnc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		raw = decrypted
	}

	if c.metadata.UserinfoSignedResponseAlg == "" {
		var claims map[string]interface{}
		if err := UnmarshalClaims(raw, &claims); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return claims, nil
	}

	_, payload, err := c.verifyJWT(ctx, raw, useUserinfo, idTokenChecks{})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return payload, nil
}

// ResolveDistributedClaims fetches every distributed claim source of a
// claims mapping and folds the fetched values in, removing the resolved
// bookkeeping entries. Aggregated sources (an embedded JWT instead of an
// endpoint) are left untouched; resolving them is a declared extension
// point. Fetch failures are tagged with the source name.
func (c *Client) ResolveDistributedClaims(ctx context.Context, claims map[string]interface{}) (map[string]interface{}, error) {
	const op = "Client.ResolveDistributedClaims"
	sources, _ := claims["_claim_sources"].(map[string]interface{})
	names, _ := claims["_claim_names"].(map[string]interface{})
	if len(sources) == 0 || len(names) == 0 {
		return claims, nil
	}

	for sourceName, rawSource := range sources {
		source, _ := rawSource.(map[string]interface{})
		endpoint, _ := source["endpoint"].(string)
		if endpoint == "" {
			// aggregated source
			continue
		}
		bearer, _ := source["access_token"].(string)
		fetched, err := c.fetchClaimSource(ctx, endpoint, bearer)
		if err != nil {
			return nil, fmt.Errorf("%s: source %q: %w", op, sourceName, err)
		}
		for claimName, src := range names {
			if src != sourceName {
				continue
			}
			if v, ok := fetched[claimName]; ok {
				claims[claimName] = v
			}
			delete(names, claimName)
		}
		delete(sources, sourceName)
	}

	if len(sources) == 0 {
		delete(claims, "_claim_sources")
	}
	if len(names) == 0 {
		delete(claims, "_claim_names")
	}
	return claims, nil
}

// fetchClaimSource GETs one distributed claim endpoint, with its own bearer
// token when the source provides one.
func (c *Client) fetchClaimSource(ctx context.Context, endpoint, bearer string) (map[string]interface{}, error) {
	const op = "Client.fetchClaimSource"
	req := httpRequest{
		method: http.MethodGet,
		url:    endpoint,
		header: http.Header{},
	}
	if bearer != "" {
		req.header.Set("Authorization", "Bearer "+bearer)
	}
	resp, body, err := c.doRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := checkResponse(resp, body); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var fetched map[string]interface{}
	if err := json.Unmarshal(body, &fetched); err != nil {
		return nil, fmt.Errorf("%s: unable to unmarshal claim source response: %w: %v", op, ErrDecode, err)
	}
	return fetched, nil
}

// userinfoOptions is the set of available options
type userinfoOptions struct {
	withVia               UserinfoVia
	withVerb              string
	withDistributedClaims bool
}

// userinfoDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func userinfoDefaults() userinfoOptions {
	return userinfoOptions{
		withVia:  ViaHeader,
		withVerb: http.MethodGet,
	}
}

// getUserinfoOpts gets the defaults and applies the opt overrides passed in
func getUserinfoOpts(opt ...Option) userinfoOptions {
	opts := userinfoDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithVia selects how the access token is sent to the userinfo endpoint
func WithVia(via UserinfoVia) Option {
	return func(o interface{}) {
		if o, ok := o.(*userinfoOptions); ok {
			o.withVia = via
		}
	}
}

// WithVerb selects the userinfo HTTP method, GET (default) or POST
func WithVerb(verb string) Option {
	return func(o interface{}) {
		if o, ok := o.(*userinfoOptions); ok {
			o.withVerb = strings.ToUpper(verb)
		}
	}
}

// WithDistributedClaims resolves distributed claim sources before the
// userinfo claims are returned.
func WithDistributedClaims() Option {
	return func(o interface{}) {
		if o, ok := o.(*userinfoOptions); ok {
			o.withDistributedClaims = true
		}
	}
}
