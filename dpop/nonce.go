// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package dpop

import (
	"fmt"
)

// maxNonceLen bounds the accepted length of a server-issued nonce.  Nonce
// values arrive in response headers from remote parties and must be treated
// as untrusted input.
const maxNonceLen = 512

// validateNonce checks that nonce is a non-empty printable-ASCII string no
// longer than maxNonceLen.
func validateNonce(nonce string) error {
	const op = "dpop.validateNonce"
	if nonce == "" {
		return fmt.Errorf("%s: nonce is empty: %w", op, ErrInvalidNonce)
	}
	if len(nonce) > maxNonceLen {
		return fmt.Errorf("%s: nonce exceeds %d characters: %w", op, maxNonceLen, ErrInvalidNonce)
	}
	for i := 0; i < len(nonce); i++ {
		if nonce[i] < 0x20 || nonce[i] > 0x7e {
			return fmt.Errorf("%s: nonce contains non-printable character at index %d: %w", op, i, ErrInvalidNonce)
		}
	}
	return nil
}
