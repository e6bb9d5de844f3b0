// Package keystore manages the relying party's own JSON Web Keys: the
// private keys used for private_key_jwt client authentication and for
// decrypting encrypted ID Token or userinfo responses, and the public JWK
// set submitted during dynamic client registration.
package keystore

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/go-multierror"
)

var (
	ErrNoKeys             = errors.New("key store is empty")
	ErrDuplicateKeyID     = errors.New("duplicate key id")
	ErrInvalidJWKS        = errors.New("invalid JWK set")
	ErrNotPrivateKey      = errors.New("key is not a private key")
	ErrUnsupportedKeyType = errors.New("unsupported key type")
)

// KeyStore is an immutable collection of JSON Web Keys, looked up by
// algorithm, key id, or use.
type KeyStore struct {
	keys []jose.JSONWebKey
}

// New creates a KeyStore from the given keys
func New(keys ...jose.JSONWebKey) (*KeyStore, error) {
	const op = "keystore.New"
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrNoKeys)
	}
	seen := map[string]bool{}
	for _, k := range keys {
		if k.KeyID != "" {
			if seen[k.KeyID] {
				return nil, fmt.Errorf("%s: %q: %w", op, k.KeyID, ErrDuplicateKeyID)
			}
			seen[k.KeyID] = true
		}
	}
	cp := make([]jose.JSONWebKey, len(keys))
	copy(cp, keys)
	return &KeyStore{keys: cp}, nil
}

// ParseJWKS creates a KeyStore from a serialized JWK set
func ParseJWKS(raw []byte) (*KeyStore, error) {
	const op = "keystore.ParseJWKS"
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalidJWKS, err)
	}
	return New(set.Keys...)
}

// All returns every key in the store
func (s *KeyStore) All() []jose.JSONWebKey {
	cp := make([]jose.JSONWebKey, len(s.keys))
	copy(cp, s.keys)
	return cp
}

// Get returns the first key matching every given criterion, or false when
// none matches.
//
// Supported options: WithKID, WithAlg, WithUse
func (s *KeyStore) Get(opt ...Option) (jose.JSONWebKey, bool) {
	opts := getOpts(opt...)
	for _, k := range s.keys {
		if opts.withKID != "" && k.KeyID != opts.withKID {
			continue
		}
		if opts.withUse != "" && k.Use != "" && k.Use != opts.withUse {
			continue
		}
		if opts.withAlg != "" && !matchesAlg(k, opts.withAlg) {
			continue
		}
		return k, true
	}
	return jose.JSONWebKey{}, false
}

// ToPublicJWKS returns the public halves of every key as a JWK set, suitable
// for publication or registration. Symmetric keys are never included.
func (s *KeyStore) ToPublicJWKS() jose.JSONWebKeySet {
	var set jose.JSONWebKeySet
	for _, k := range s.keys {
		switch k.Key.(type) {
		case []byte:
			continue
		}
		pub := k.Public()
		if pub.Key != nil {
			set.Keys = append(set.Keys, pub)
		}
	}
	return set
}

// MarshalJSON serializes the public JWK set only; private key material never
// leaves the store through serialization.
func (s *KeyStore) MarshalJSON() ([]byte, error) {
	set := s.ToPublicJWKS()
	return json.Marshal(set)
}

// ValidateForRegistration verifies every key in the store is a private EC or
// RSA key whose material can be exported, the precondition for submitting a
// jwks during dynamic client registration.
func (s *KeyStore) ValidateForRegistration() error {
	const op = "KeyStore.ValidateForRegistration"
	var result *multierror.Error
	for i, k := range s.keys {
		switch key := k.Key.(type) {
		case *rsa.PrivateKey, *ecdsa.PrivateKey:
			if _, err := x509.MarshalPKCS8PrivateKey(key); err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: key %d is not exportable: %w", op, i, err))
			}
		case *rsa.PublicKey, *ecdsa.PublicKey:
			result = multierror.Append(result, fmt.Errorf("%s: key %d: %w", op, i, ErrNotPrivateKey))
		default:
			result = multierror.Append(result, fmt.Errorf("%s: key %d (%T): %w", op, i, k.Key, ErrUnsupportedKeyType))
		}
	}
	return result.ErrorOrNil()
}

// matchesAlg reports whether the key can sign or decrypt for alg: either the
// key pins the same algorithm, or it pins none and its material is of the
// kind the algorithm needs.
func matchesAlg(k jose.JSONWebKey, alg string) bool {
	if k.Algorithm != "" {
		return k.Algorithm == alg
	}
	switch alg {
	case "RS256", "RS384", "RS512", "PS256", "PS384", "PS512",
		"RSA1_5", "RSA-OAEP", "RSA-OAEP-256":
		_, ok := k.Key.(*rsa.PrivateKey)
		return ok
	case "ES256", "ES384", "ES512",
		"ECDH-ES", "ECDH-ES+A128KW", "ECDH-ES+A192KW", "ECDH-ES+A256KW":
		_, ok := k.Key.(*ecdsa.PrivateKey)
		return ok
	case "HS256", "HS384", "HS512":
		_, ok := k.Key.([]byte)
		return ok
	default:
		return false
	}
}
