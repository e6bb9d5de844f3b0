// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/go-uuid"
)

const (
	// JWTTypeParam is the proper value for client_assertion_type.
	// https://www.rfc-editor.org/rfc/rfc7523.html#section-2.2
	JWTTypeParam = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

	// Lifetime is the validity window of each minted assertion. Assertions
	// are single-use: a fresh one is minted per request.
	Lifetime = 60 * time.Second
)

// NewJWT creates a new JWT which will be signed with either a private key or
// client secret.
//
// Supported Options:
// * WithClientSecret
// * WithSigningKey
// * WithKeyID
// * WithHeaders
//
// Either WithSigningKey or WithClientSecret must be used, but not both.
func NewJWT(clientID string, audience []string, opts ...Option) (*JWT, error) {
	const op = "NewJWT"
	j := &JWT{
		clientID: clientID,
		audience: audience,
		headers:  make(map[string]string),
		genID:    uuid.GenerateUUID,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(j)
	}

	if err := j.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return j, nil
}

// JWT is used to create a client assertion JWT, a special JWT used by an
// OAuth 2.0 or OIDC client to authenticate themselves to an authorization
// server
type JWT struct {
	// for JWT claims
	clientID string
	audience []string
	headers  map[string]string

	// for signer
	alg jose.SignatureAlgorithm
	// key may be any key type that jose.SigningKey accepts for its Key
	key any
	// secret may be used instead of key
	secret string

	// these are overwritten for testing
	genID func() (string, error)
	now   func() time.Time
}

// Serialize mints and returns a compact-serialized client assertion JWT.
// Each call produces a fresh assertion with a unique jti and a Lifetime
// validity window.
func (j *JWT) Serialize() (string, error) {
	const op = "JWT.Serialize"
	builder, err := j.builder()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	token, err := builder.Serialize()
	if err != nil {
		return "", fmt.Errorf("%s: failed to serialize token: %w", op, err)
	}
	return token, nil
}

func (j *JWT) validate() error {
	const op = "JWT.validate"
	var errs []error
	if j.genID == nil {
		errs = append(errs, ErrMissingFuncIDGenerator)
	}
	if j.now == nil {
		errs = append(errs, ErrMissingFuncNow)
	}
	// bail early if any internal func errors
	if len(errs) > 0 {
		return fmt.Errorf("%s: %w", op, errors.Join(errs...))
	}

	if j.clientID == "" {
		errs = append(errs, ErrMissingClientID)
	}
	if len(j.audience) == 0 {
		errs = append(errs, ErrMissingAudience)
	}
	if j.alg == "" {
		errs = append(errs, ErrMissingAlgorithm)
	}
	if j.key == nil && j.secret == "" {
		errs = append(errs, ErrMissingKeyOrSecret)
	}
	if j.key != nil && j.secret != "" {
		errs = append(errs, ErrBothKeyAndSecret)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s: %w", op, errors.Join(errs...))
	}

	return nil
}

func (j *JWT) builder() (jwt.Builder, error) {
	const op = "builder"
	signer, err := j.signer()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	id, err := j.genID()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to generate token id: %w", op, err)
	}
	claims := j.claims(id)
	return jwt.Signed(signer).Claims(claims), nil
}

func (j *JWT) signer() (jose.Signer, error) {
	const op = "signer"
	sKey := jose.SigningKey{
		Algorithm: j.alg,
	}

	// validate() ensures these are mutually exclusive
	if j.secret != "" {
		sKey.Key = []byte(j.secret)
	}
	if j.key != nil {
		sKey.Key = j.key
	}

	sOpts := &jose.SignerOptions{
		ExtraHeaders: make(map[jose.HeaderKey]interface{}, len(j.headers)),
	}
	for k, v := range j.headers {
		sOpts.ExtraHeaders[jose.HeaderKey(k)] = v
	}

	signer, err := jose.NewSigner(sKey, sOpts.WithType("JWT"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrCreatingSigner, err)
	}
	return signer, nil
}

func (j *JWT) claims(id string) *jwt.Claims {
	now := j.now().UTC()
	return &jwt.Claims{
		Issuer:   j.clientID,
		Subject:  j.clientID,
		Audience: j.audience,
		Expiry:   jwt.NewNumericDate(now.Add(Lifetime)),
		IssuedAt: jwt.NewNumericDate(now),
		ID:       id,
	}
}

// serializer is the primary interface implemented by JWT.
type serializer interface {
	Serialize() (string, error)
}

var _ serializer = &JWT{}
