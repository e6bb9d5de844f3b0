package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/openid/keystore"
)

func TestRegisterClient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("no-registration-endpoint", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		issuer := testIssuer(t, IssuerMetadata{})
		_, err := RegisterClient(ctx, issuer, ClientMetadata{ClientName: "my app"})
		require.Error(err)
		assert.Truef(errors.Is(err, ErrEndpointNotSupported), "wanted \"%s\" but got \"%s\"", ErrEndpointNotSupported, err)
	})
	t.Run("nil-issuer", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := RegisterClient(ctx, nil, ClientMetadata{})
		require.Error(err)
		assert.Truef(errors.Is(err, ErrNilParameter), "wanted \"%s\" but got \"%s\"", ErrNilParameter, err)
	})
	t.Run("register", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(http.MethodPost, r.Method)
			assert.Equal("Bearer initial", r.Header.Get("Authorization"))
			var request map[string]interface{}
			require.NoError(json.NewDecoder(r.Body).Decode(&request))
			assert.Equal("my app", request["client_name"])
			// a locally held secret never travels in a registration request
			assert.NotContains(request, "client_secret")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{
				"client_id": "issued-id",
				"client_secret": "issued-secret",
				"client_name": "my app",
				"registration_access_token": "rat",
				"registration_client_uri": "https://op.example/register/issued-id",
				"client_id_issued_at": 1700000000
			}`))
		}))
		defer srv.Close()
		issuer := testIssuer(t, IssuerMetadata{RegistrationEndpoint: srv.URL + "/register"})

		c, err := RegisterClient(ctx, issuer, ClientMetadata{
			ClientName:   "my app",
			ClientSecret: "local-secret",
		}, WithInitialAccessToken("initial"))
		require.NoError(err)
		assert.Equal("issued-id", c.Metadata().ClientID)
		assert.Equal(ClientSecret("issued-secret"), c.Metadata().ClientSecret)
		assert.Equal("rat", c.Metadata().RegistrationAccessToken)
		assert.Equal(int64(1700000000), c.Metadata().ClientIDIssuedAt)
	})
	t.Run("register-with-key-store", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		key := TestGenerateRSAKey(t, "sig-1")
		ks, err := keystore.New(key)
		require.NoError(err)

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var request map[string]interface{}
			require.NoError(json.NewDecoder(r.Body).Decode(&request))
			jwks, ok := request["jwks"].(map[string]interface{})
			require.True(ok, "request carries a jwks")
			keys, _ := jwks["keys"].([]interface{})
			require.Len(keys, 1)
			submitted, _ := keys[0].(map[string]interface{})
			assert.Equal("sig-1", submitted["kid"])
			// public parameters only
			assert.NotContains(submitted, "d")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{
				"client_id": "issued-id",
				"token_endpoint_auth_method": "private_key_jwt"
			}`))
		}))
		defer srv.Close()
		issuer := testIssuer(t, IssuerMetadata{
			RegistrationEndpoint: srv.URL + "/register",
			TokenEndpointAuthSigningAlgValuesSupported: []string{"RS256"},
		})

		c, err := RegisterClient(ctx, issuer, ClientMetadata{
			ClientName:              "my app",
			TokenEndpointAuthMethod: AuthMethodPrivateKeyJWT,
		}, WithKeyStore(ks))
		require.NoError(err)
		assert.Equal(AuthMethodPrivateKeyJWT, c.Metadata().TokenEndpointAuthMethod)
	})
	t.Run("op-error", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_client_metadata","error_description":"redirect_uris required"}`))
		}))
		defer srv.Close()
		issuer := testIssuer(t, IssuerMetadata{RegistrationEndpoint: srv.URL + "/register"})
		_, err := RegisterClient(ctx, issuer, ClientMetadata{ClientName: "my app"})
		require.Error(err)
		var opErr *OpError
		require.True(errors.As(err, &opErr))
		assert.Equal("invalid_client_metadata", opErr.Code)
	})
}

func TestClientFromURI(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("empty-uri", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		issuer := testIssuer(t, IssuerMetadata{})
		_, err := ClientFromURI(ctx, issuer, "", "rat")
		require.Error(err)
		assert.Truef(errors.Is(err, ErrInvalidParameter), "wanted \"%s\" but got \"%s\"", ErrInvalidParameter, err)
	})
	t.Run("fetch", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(http.MethodGet, r.Method)
			assert.Equal("Bearer rat", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"client_id":"issued-id","client_secret":"issued-secret"}`))
		}))
		defer srv.Close()
		issuer := testIssuer(t, IssuerMetadata{})
		c, err := ClientFromURI(ctx, issuer, srv.URL+"/register/issued-id", "rat")
		require.NoError(err)
		assert.Equal("issued-id", c.Metadata().ClientID)
	})
}
