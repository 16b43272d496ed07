// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"time"
)

// Callbacks are the lifecycle hooks a Provider invokes as the session
// changes.  Nil fields are skipped.  Callbacks are invoked synchronously on
// the calling goroutine.
type Callbacks struct {
	// OnReady fires once initialization completes, with the resulting
	// authenticated state.
	OnReady func(authenticated bool)

	// OnAuthSuccess fires after a successful code exchange.
	OnAuthSuccess func()

	// OnAuthError fires when authentication fails.
	OnAuthError func(err error)

	// OnAuthRefreshSuccess fires after a successful token refresh.
	OnAuthRefreshSuccess func()

	// OnAuthRefreshError fires when a token refresh fails.
	OnAuthRefreshError func(err error)

	// OnAuthLogout fires when the session ends.
	OnAuthLogout func()

	// OnTokenExpired fires when the access token is found expired and no
	// refresh is possible.
	OnTokenExpired func()
}

// Client is the protocol-client contract the IAM orchestrator drives.
// Provider is the production implementation.
type Client interface {
	// Init performs discovery and an optional silent session check,
	// returning the resulting authenticated state.  It is idempotent:
	// repeated calls return the current state without re-running the
	// flow.
	Init(ctx context.Context, opt ...Option) (bool, error)

	// AuthURL generates the authorization endpoint URL that starts a
	// login, carrying the given state and PKCE challenge.
	AuthURL(state string, verifier CodeVerifier, opt ...Option) (string, error)

	// Exchange redeems an authorization code at the token endpoint and
	// establishes the session.
	Exchange(ctx context.Context, code string, verifier CodeVerifier) (*Token, error)

	// UpdateToken refreshes the token when it expires within minValidity.
	// A negative minValidity forces the refresh.  It reports whether a
	// refresh happened.
	UpdateToken(ctx context.Context, minValidity time.Duration) (bool, error)

	// Token returns the current token, or nil when unauthenticated.
	Token() *Token

	// Authenticated reports whether a valid session exists.
	Authenticated() bool

	// Logout ends the session.
	Logout(ctx context.Context) error

	// SetCallbacks registers the lifecycle hooks.  Must be called before
	// Init.
	SetCallbacks(cb Callbacks)
}
