package oidc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	coreosoidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
)

// newHTTPClient creates an http client which will use the optional CA
// certificate PEM if provided, otherwise the installed system CA chain.
func newHTTPClient(caPEM string) (*http.Client, error) {
	const op = "oidc.newHTTPClient"
	tr := cleanhttp.DefaultPooledTransport()
	if caPEM != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(caPEM)); !ok {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs: certPool,
		}
	}
	return &http.Client{
		Transport: tr,
	}, nil
}

// HTTPClientContext returns a new Context that carries the provided HTTP
// client. It sets the same context key used by the coreos/go-oidc and
// golang.org/x/oauth2 packages, so the returned context works for those
// packages as well.
func HTTPClientContext(ctx context.Context, client *http.Client) context.Context {
	return coreosoidc.ClientContext(ctx, client)
}

// httpRequest describes one call to a provider endpoint
type httpRequest struct {
	method  string
	url     string
	header  http.Header
	form    url.Values
	body    []byte
	timeout time.Duration
}

// doRequest sends the request with the client's transport configuration and
// returns the raw response. A client carried in ctx via HTTPClientContext
// takes precedence over the issuer-configured one.
func (c *Client) doRequest(ctx context.Context, r httpRequest) (*http.Response, []byte, error) {
	const op = "Client.doRequest"
	client, err := c.issuer.HTTPClient()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	if v, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok && v != nil {
		client = v
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	var bodyReader io.Reader
	if r.form != nil {
		bodyReader = strings.NewReader(r.form.Encode())
	} else if r.body != nil {
		bodyReader = strings.NewReader(string(r.body))
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, bodyReader)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	if r.form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	c.logger.Debug("sending provider request", "method", r.method, "url", r.url)
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: request failed: %w: %v", op, ErrTransport, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: unable to read response: %w", op, err)
	}
	c.logger.Debug("provider response", "status", resp.StatusCode)
	return resp, respBody, nil
}

// checkResponse maps a non-2xx endpoint response to an *OpError when the
// body is an OAuth error JSON, or a wrapped ErrTransport otherwise.
func checkResponse(resp *http.Response, body []byte) error {
	const op = "oidc.checkResponse"
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	var oauthErr struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		ErrorURI         string `json:"error_uri"`
	}
	if err := json.Unmarshal(body, &oauthErr); err == nil && oauthErr.Error != "" {
		return &OpError{
			Code:        oauthErr.Error,
			Description: oauthErr.ErrorDescription,
			URI:         oauthErr.ErrorURI,
			StatusCode:  resp.StatusCode,
		}
	}
	return fmt.Errorf("%s: endpoint returned %d: %w", op, resp.StatusCode, ErrTransport)
}
