// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package enclave

import (
	"errors"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrMissingToken     = errors.New("bearer token is missing")
	ErrRequestFailed    = errors.New("enclave request failed")
	ErrOrderViolation   = errors.New("enclave response length does not match request")
)
