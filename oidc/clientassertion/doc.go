// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package clientassertion signs JWTs with a private key or client secret
// for use in OIDC client_assertion requests, A.K.A. private_key_jwt and
// client_secret_jwt. reference: https://oauth.net/private-key-jwt/
package clientassertion
