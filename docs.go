// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// openid provides packages for building OpenID Connect relying parties:
// constructing authorization requests, exchanging codes and refresh tokens
// for token sets, validating and decrypting ID Tokens, fetching user claims,
// and authenticating the client to protected provider endpoints.
//
// See README.md
package openid
