// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
)

var (
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrNilParameter               = errors.New("nil parameter")
	ErrInvalidCACert              = errors.New("invalid CA certificate")
	ErrInvalidIssuer              = errors.New("invalid issuer")
	ErrIdGeneratorFailed          = errors.New("id generation failed")
	ErrMissingIdToken             = errors.New("id_token is missing")
	ErrIdTokenVerificationFailed  = errors.New("id_token verification failed")
	ErrNotInitialized             = errors.New("not initialized")
	ErrNoSession                  = errors.New("no authenticated session")
	ErrMissingRefreshToken        = errors.New("refresh token is missing")
	ErrTokenRefreshFailed         = errors.New("token refresh failed")
	ErrUnsupportedChallengeMethod = errors.New("unsupported challenge method")
)
