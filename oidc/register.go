package oidc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// RegisterClient dynamically registers a new client with the issuer and
// returns a Client built from the registration response. When a key store
// is provided its public JWK set is submitted as the jwks property; the
// store must hold only private, exportable EC or RSA keys.
//
// Supported options: WithInitialAccessToken, WithKeyStore, WithLogger
func RegisterClient(ctx context.Context, issuer *Issuer, metadata ClientMetadata, opt ...Option) (*Client, error) {
	const op = "oidc.RegisterClient"
	if issuer == nil {
		return nil, fmt.Errorf("%s: issuer is nil: %w", op, ErrNilParameter)
	}
	endpoint := issuer.Metadata().RegistrationEndpoint
	if endpoint == "" {
		return nil, fmt.Errorf("%s: issuer has no registration endpoint: %w", op, ErrEndpointNotSupported)
	}
	opts := getRegisterOpts(opt...)

	request := map[string]interface{}{}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to marshal metadata: %w", op, err)
	}
	if err := json.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("%s: unable to build registration request: %w", op, err)
	}
	delete(request, "client_secret")

	if opts.withKeyStore != nil {
		if err := opts.withKeyStore.ValidateForRegistration(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		request["jwks"] = opts.withKeyStore.ToPublicJWKS()
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to marshal registration request: %w", op, err)
	}
	registered, err := registrationRequest(ctx, issuer, http.MethodPost, endpoint, body, opts.withInitialAccessToken)
	if err != nil {
		return nil, fmt.Errorf("%s: registration endpoint %s: %w", op, endpoint, err)
	}

	clientOpt := []Option{}
	if opts.withKeyStore != nil {
		clientOpt = append(clientOpt, WithKeyStore(opts.withKeyStore))
	}
	if opts.withLogger != nil {
		clientOpt = append(clientOpt, WithLogger(opts.withLogger))
	}
	return NewClient(issuer, registered, clientOpt...)
}

// ClientFromURI fetches registered client metadata from a
// registration_client_uri and returns a Client built from it.
//
// Supported options: WithKeyStore, WithLogger
func ClientFromURI(ctx context.Context, issuer *Issuer, registrationClientURI, registrationAccessToken string, opt ...Option) (*Client, error) {
	const op = "oidc.ClientFromURI"
	if issuer == nil {
		return nil, fmt.Errorf("%s: issuer is nil: %w", op, ErrNilParameter)
	}
	if registrationClientURI == "" {
		return nil, fmt.Errorf("%s: registration client URI is empty: %w", op, ErrInvalidParameter)
	}
	opts := getRegisterOpts(opt...)
	registered, err := registrationRequest(ctx, issuer, http.MethodGet, registrationClientURI, nil, registrationAccessToken)
	if err != nil {
		return nil, fmt.Errorf("%s: registration client URI %s: %w", op, registrationClientURI, err)
	}
	clientOpt := []Option{}
	if opts.withKeyStore != nil {
		clientOpt = append(clientOpt, WithKeyStore(opts.withKeyStore))
	}
	if opts.withLogger != nil {
		clientOpt = append(clientOpt, WithLogger(opts.withLogger))
	}
	return NewClient(issuer, registered, clientOpt...)
}

// registrationRequest performs one registration endpoint call and decodes
// the returned client metadata.
func registrationRequest(ctx context.Context, issuer *Issuer, method, endpoint string, body []byte, bearer string) (ClientMetadata, error) {
	const op = "oidc.registrationRequest"
	var metadata ClientMetadata
	client, err := issuer.HTTPClient()
	if err != nil {
		return metadata, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return metadata, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := client.Do(req)
	if err != nil {
		return metadata, fmt.Errorf("%s: request failed: %w: %v", op, ErrTransport, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return metadata, fmt.Errorf("%s: unable to read response: %w", op, err)
	}
	if err := checkResponse(resp, respBody); err != nil {
		return metadata, err
	}
	if err := json.Unmarshal(respBody, &metadata); err != nil {
		return metadata, fmt.Errorf("%s: unable to unmarshal registration response: %w: %v", op, ErrDecode, err)
	}
	return metadata, nil
}

// registerOptions is the set of available options
type registerOptions struct {
	clientOptions
	withInitialAccessToken string
}

// registerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func registerDefaults() registerOptions {
	return registerOptions{}
}

// getRegisterOpts gets the defaults and applies the opt overrides passed in
func getRegisterOpts(opt ...Option) registerOptions {
	opts := registerDefaults()
	ApplyOpts(&opts, opt...)
	// the shared client options also apply here
	ApplyOpts(&opts.clientOptions, opt...)
	return opts
}

// WithInitialAccessToken provides the bearer token for a protected
// registration endpoint.
func WithInitialAccessToken(token string) Option {
	return func(o interface{}) {
		if o, ok := o.(*registerOptions); ok {
			o.withInitialAccessToken = token
		}
	}
}
