// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package iam

import "errors"

var (
	// ErrInvalidParameter (used for invalid parameters to functions)
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNilParameter (used for nil parameters to functions)
	ErrNilParameter = errors.New("nil parameter")

	// ErrInvalidConfig indicates the service configuration failed
	// validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrHybridModeUnavailable is returned by token accessors and the
	// encryption gateway while the service runs in hybrid mode.  Tokens
	// never reach this side of the exchange in hybrid deployments, so a
	// call indicates a programming error rather than a runtime condition.
	ErrHybridModeUnavailable = errors.New("operation unavailable in hybrid mode")

	// ErrStateMismatch indicates a front-channel callback carried a
	// state parameter that does not match the one stored at login.  The
	// response cannot be tied to a login this client started.
	ErrStateMismatch = errors.New("callback state does not match login state")

	// ErrMissingVerifier indicates a callback carried an authorization
	// code but the one-time PKCE verifier was no longer in session
	// storage.  The condition is terminal for that callback: the code
	// cannot be exchanged without the verifier.
	ErrMissingVerifier = errors.New("pkce verifier missing from session storage")

	// ErrExchangeFailed indicates the backend token-exchange request
	// failed.
	ErrExchangeFailed = errors.New("token exchange failed")

	// ErrNoSession is returned when no authenticated session exists.
	ErrNoSession = errors.New("no current session")
)
