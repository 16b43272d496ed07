// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

// Package dpop implements client-side DPoP (RFC 9449, OAuth 2.0
// Demonstrating Proof of Possession) support: durable key pair and nonce
// state per (issuer, client id) pair, algorithm negotiation against the
// authorization server's advertised support, and proof JWT construction.
//
// A proof binds an HTTP request to a private key held by the client. The key
// pair is generated once per session and persisted by a StoreManager; it is
// never rotated until Flush is called (typically on logout).
package dpop
