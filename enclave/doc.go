// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

// Package enclave is the client for the remote encryption/decryption
// enclave: an external HTTP service performing the cryptographic transform
// and authorizing every item against the bearer token's roles.
//
// Requests are ordered batches of tagged items.  The enclave requires the
// token to carry every _tide_<tag>.selfencrypt (or .selfdecrypt) role named
// by an item's tag set; the client forwards the token unconditionally and
// never duplicates that authorization decision locally.  Responses preserve
// input order position by position, so callers can zip input and output
// without auxiliary keying.
package enclave
