package oidc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// TokenSet wraps the JSON response of a token grant. It keeps the original
// response fields for serialization, derives an absolute expiry at
// construction time, and lazily decodes the id_token claims.
type TokenSet struct {
	response map[string]interface{}

	// expiresAt is the absolute unix expiry derived once at construction
	// from expires_in (or taken from expires_at when the response carries
	// that instead).
	expiresAt int64
	hasExpiry bool

	// claims memoization; never serialized
	claimsOnce sync.Once
	claims     map[string]interface{}
	claimsErr  error

	// overwritten for testing
	now func() time.Time
}

// NewTokenSet creates a TokenSet from a raw token response. If the response
// carries expires_in, the absolute expires_at is computed from the current
// time; if it carries expires_at instead, that value is used directly.
func NewTokenSet(response map[string]interface{}) (*TokenSet, error) {
	const op = "oidc.NewTokenSet"
	if response == nil {
		return nil, fmt.Errorf("%s: token response is nil: %w", op, ErrNilParameter)
	}
	t := &TokenSet{
		response: make(map[string]interface{}, len(response)),
		now:      time.Now,
	}
	for k, v := range response {
		t.response[k] = v
	}
	if expiresIn, ok := numberField(t.response, "expires_in"); ok {
		t.expiresAt = time.Now().Unix() + expiresIn
		t.hasExpiry = true
	} else if expiresAt, ok := numberField(t.response, "expires_at"); ok {
		t.expiresAt = expiresAt
		t.hasExpiry = true
	}
	return t, nil
}

// AccessToken returns the access_token field, if any
func (t *TokenSet) AccessToken() AccessToken {
	return AccessToken(t.stringField("access_token"))
}

// RefreshToken returns the refresh_token field, if any
func (t *TokenSet) RefreshToken() RefreshToken {
	return RefreshToken(t.stringField("refresh_token"))
}

// IdToken returns the id_token field, if any
func (t *TokenSet) IdToken() IdToken {
	return IdToken(t.stringField("id_token"))
}

// TokenType returns the token_type field, if any
func (t *TokenSet) TokenType() string {
	return t.stringField("token_type")
}

// Scope returns the scope field, if any
func (t *TokenSet) Scope() string {
	return t.stringField("scope")
}

// ExpiresAt returns the absolute unix expiry, or zero when the response had
// no expiry.
func (t *TokenSet) ExpiresAt() int64 {
	if !t.hasExpiry {
		return 0
	}
	return t.expiresAt
}

// ExpiresIn returns the seconds until expiry, recomputed against the current
// time and never negative. Zero when the response had no expiry.
func (t *TokenSet) ExpiresIn() int64 {
	if !t.hasExpiry {
		return 0
	}
	remaining := t.expiresAt - t.now().Unix()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Expired recomputes expiry against the current time on every call
func (t *TokenSet) Expired() bool {
	return t.hasExpiry && t.now().Unix() >= t.expiresAt
}

// Claims returns the decoded id_token payload. The decode happens at most
// once per TokenSet and the result is cached for the TokenSet's lifetime.
// The cache is never part of the TokenSet's JSON serialization.
func (t *TokenSet) Claims() (map[string]interface{}, error) {
	const op = "TokenSet.Claims"
	t.claimsOnce.Do(func() {
		idToken := t.stringField("id_token")
		if idToken == "" {
			t.claimsErr = fmt.Errorf("%s: id_token not present: %w", op, ErrMissingIdToken)
			return
		}
		var claims map[string]interface{}
		if err := UnmarshalClaims(idToken, &claims); err != nil {
			t.claimsErr = fmt.Errorf("%s: %w", op, err)
			return
		}
		t.claims = claims
	})
	return t.claims, t.claimsErr
}

// MarshalJSON serializes the original token response fields only; derived
// and memoized state is excluded.
func (t *TokenSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.response)
}

// setIdToken replaces the id_token in place after a decrypt phase recovers
// the nested token.
func (t *TokenSet) setIdToken(raw string) {
	t.response["id_token"] = raw
}

func (t *TokenSet) stringField(name string) string {
	if v, ok := t.response[name].(string); ok {
		return v
	}
	return ""
}

// numberField reads a numeric response field, tolerating the types JSON
// decoding and manual construction produce.
func numberField(m map[string]interface{}, name string) (int64, bool) {
	switch v := m[name].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	case string:
		// callback parameters arrive as strings
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
