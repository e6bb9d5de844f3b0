package oidc

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenSet(t *testing.T) {
	t.Parallel()
	t.Run("expires-in", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		before := time.Now().Unix()
		ts, err := NewTokenSet(map[string]interface{}{
			"access_token": "at",
			"token_type":   "Bearer",
			"expires_in":   float64(300),
		})
		require.NoError(err)
		after := time.Now().Unix()
		assert.GreaterOrEqual(ts.ExpiresAt(), before+300)
		assert.LessOrEqual(ts.ExpiresAt(), after+300)
		assert.False(ts.Expired())
		assert.Equal(AccessToken("at"), ts.AccessToken())
		assert.Equal("Bearer", ts.TokenType())
	})
	t.Run("expires-at", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		at := time.Now().Unix() + 120
		ts, err := NewTokenSet(map[string]interface{}{
			"expires_at": float64(at),
		})
		require.NoError(err)
		assert.Equal(at, ts.ExpiresAt())
		assert.LessOrEqual(ts.ExpiresIn(), int64(120))
		assert.Greater(ts.ExpiresIn(), int64(115))
	})
	t.Run("already-expired", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ts, err := NewTokenSet(map[string]interface{}{
			"expires_in": float64(0),
		})
		require.NoError(err)
		assert.True(ts.Expired())
		assert.Equal(int64(0), ts.ExpiresIn())
	})
	t.Run("no-expiry", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ts, err := NewTokenSet(map[string]interface{}{"access_token": "at"})
		require.NoError(err)
		assert.False(ts.Expired())
		assert.Equal(int64(0), ts.ExpiresAt())
	})
	t.Run("nil-response", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, err := NewTokenSet(nil)
		require.Error(err)
		assert.Truef(errors.Is(err, ErrNilParameter), "wanted \"%s\" but got \"%s\"", ErrNilParameter, err)
	})
}

func TestTokenSet_Expired(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ts, err := NewTokenSet(map[string]interface{}{"expires_in": float64(2)})
	require.NoError(err)
	assert.False(ts.Expired())

	// expiry is recomputed against the current time on every call
	ts.now = func() time.Time { return time.Now().Add(5 * time.Second) }
	assert.True(ts.Expired())
	ts.now = time.Now
	assert.False(ts.Expired())
}

func TestTokenSet_Claims(t *testing.T) {
	t.Parallel()
	t.Run("missing-id-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		ts, err := NewTokenSet(map[string]interface{}{"access_token": "at"})
		require.NoError(err)
		_, err = ts.Claims()
		require.Error(err)
		assert.Truef(errors.Is(err, ErrMissingIdToken), "wanted \"%s\" but got \"%s\"", ErrMissingIdToken, err)
	})
	t.Run("decodes-payload", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		idToken := TestUnsignedJWT(t, map[string]interface{}{"sub": "alice", "iss": "https://op.example"})
		ts, err := NewTokenSet(map[string]interface{}{"id_token": idToken})
		require.NoError(err)
		claims, err := ts.Claims()
		require.NoError(err)
		assert.Equal("alice", claims["sub"])
		assert.Equal("https://op.example", claims["iss"])
	})
	t.Run("memoized", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		idToken := TestUnsignedJWT(t, map[string]interface{}{"sub": "alice"})
		ts, err := NewTokenSet(map[string]interface{}{"id_token": idToken})
		require.NoError(err)
		first, err := ts.Claims()
		require.NoError(err)
		// a second call returns the same decoded map, not a fresh decode
		first["marker"] = true
		second, err := ts.Claims()
		require.NoError(err)
		assert.Contains(second, "marker")
	})
}

func TestTokenSet_MarshalJSON(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	idToken := TestUnsignedJWT(t, map[string]interface{}{"sub": "alice"})
	ts, err := NewTokenSet(map[string]interface{}{
		"id_token":   idToken,
		"token_type": "Bearer",
	})
	require.NoError(err)
	_, err = ts.Claims()
	require.NoError(err)

	raw, err := json.Marshal(ts)
	require.NoError(err)
	var out map[string]interface{}
	require.NoError(json.Unmarshal(raw, &out))
	// only the original response fields; the memoized claims never leak
	assert.Equal(map[string]interface{}{
		"id_token":   idToken,
		"token_type": "Bearer",
	}, out)
	assert.NotContains(out, "claims")
}
