package oidc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testIssuerID      = "https://op.example"
	testTokenEndpoint = "https://op.example/token"

	// 40 bytes, long enough for HS256
	testClientSecret = "terrific-secret-at-least-32-bytes-long!!"
)

func testIssuer(t *testing.T, metadata IssuerMetadata) *Issuer {
	t.Helper()
	require := require.New(t)
	if metadata.Issuer == "" {
		metadata.Issuer = testIssuerID
	}
	if metadata.TokenEndpoint == "" {
		metadata.TokenEndpoint = testTokenEndpoint
	}
	issuer, err := NewIssuer(metadata)
	require.NoError(err)
	return issuer
}

func testClient(t *testing.T, issuer *Issuer, metadata ClientMetadata, opt ...Option) *Client {
	t.Helper()
	require := require.New(t)
	if metadata.ClientID == "" {
		metadata.ClientID = "test-rp"
	}
	c, err := NewClient(issuer, metadata, opt...)
	require.NoError(err)
	return c
}
