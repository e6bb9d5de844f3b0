package oidc

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter      = errors.New("invalid parameter")
	ErrNilParameter          = errors.New("nil parameter")
	ErrInvalidCACert         = errors.New("invalid CA certificate")
	ErrConfiguration         = errors.New("invalid configuration")
	ErrStateMismatch         = errors.New("state mismatch")
	ErrMissingClaim          = errors.New("missing required claim")
	ErrUnexpectedAlgorithm   = errors.New("unexpected algorithm")
	ErrUnsupportedAlg        = errors.New("unsupported algorithm")
	ErrMalformedToken        = errors.New("malformed token")
	ErrSignatureVerification = errors.New("signature verification failed")
	ErrNoValidKey            = errors.New("no valid key")
	ErrHashMismatch          = errors.New("token hash mismatch")
	ErrMissingIdToken        = errors.New("id_token is missing")
	ErrMissingAccessToken    = errors.New("access_token is missing")
	ErrMissingRefreshToken   = errors.New("refresh_token is missing")
	ErrInvalidNonce          = errors.New("invalid nonce")
	ErrInvalidAudience       = errors.New("invalid audience")
	ErrInvalidIssuer         = errors.New("invalid issuer")
	ErrTokenExpired          = errors.New("token is expired")
	ErrTokenNotYetValid      = errors.New("token is not yet valid")
	ErrEndpointNotSupported  = errors.New("endpoint not supported by the issuer")
	ErrIdGeneratorFailed     = errors.New("id generation failed")
	ErrTransport             = errors.New("transport failure")
	ErrDecode                = errors.New("decoding failed")
)

// OpError represents an OAuth 2.0 error response returned by the provider,
// either as a callback "error" parameter or as a JSON error body from one of
// its endpoints.
type OpError struct {
	// Code is the OAuth 2.0 "error" code, for example "invalid_grant"
	Code string

	// Description is the optional "error_description"
	Description string

	// URI is the optional "error_uri"
	URI string

	// StatusCode is the HTTP status of the response, when the error came
	// from an endpoint response body. Zero for callback errors.
	StatusCode int
}

// Error implements the error interface
func (e *OpError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s (%s)", e.Code, e.Description)
	}
	return e.Code
}
