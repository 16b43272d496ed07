// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package dpop

import (
	"errors"
)

var (
	ErrInvalidParameter      = errors.New("invalid parameter")
	ErrNilParameter          = errors.New("nil parameter")
	ErrNotInitialized        = errors.New("not initialized")
	ErrUnsupportedAlgorithm  = errors.New("unsupported algorithm")
	ErrKeyGenerationFailed   = errors.New("key generation failed")
	ErrStorageUnavailable    = errors.New("storage unavailable")
	ErrInvalidNonce          = errors.New("invalid nonce")
	ErrStoreClosed           = errors.New("store is closed")
	ErrProofGenerationFailed = errors.New("proof generation failed")
)
