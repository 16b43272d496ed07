// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package dpop

import (
	"fmt"

	"github.com/tidecloak/tidecloak-go/sdk/strutils"
)

// Alg represents an asymmetric signing algorithm usable for DPoP proofs.
type Alg string

const (
	ES256 Alg = "ES256"
	ES384 Alg = "ES384"
	ES512 Alg = "ES512"
	EdDSA Alg = "EdDSA"
)

// DefaultAlg is the algorithm requested when the caller doesn't specify one.
const DefaultAlg = ES256

// supportedAlgorithms are the proof algorithms this package can sign with.
var supportedAlgorithms = map[Alg]bool{
	ES256: true,
	ES384: true,
	ES512: true,
	EdDSA: true,
}

// ecdsaFallbackOrder is the order in which ECDSA algorithms are tried when
// the signing engine rejects EdDSA.  ECDSA algorithms themselves never fall
// back: they are assumed universally available, so a failure there
// propagates.
var ecdsaFallbackOrder = []Alg{ES256, ES384, ES512}

// NegotiateAlgorithm selects the active proof algorithm before any stateful
// provider is constructed.  The requested algorithm (DefaultAlg when empty)
// is accepted only if the authorization server advertises it in
// serverSupported; otherwise negotiation fails with
// ErrUnsupportedAlgorithm.
func NegotiateAlgorithm(requested Alg, serverSupported []string) (Alg, error) {
	const op = "dpop.NegotiateAlgorithm"
	if requested == "" {
		requested = DefaultAlg
	}
	if !supportedAlgorithms[requested] {
		return "", fmt.Errorf("%s: %q is not a known proof algorithm: %w", op, requested, ErrUnsupportedAlgorithm)
	}
	if len(serverSupported) == 0 {
		return "", fmt.Errorf("%s: server advertised no signing algorithms: %w", op, ErrUnsupportedAlgorithm)
	}
	if !strutils.StrListContains(serverSupported, string(requested)) {
		return "", fmt.Errorf("%s: server does not support %q: %w", op, requested, ErrUnsupportedAlgorithm)
	}
	return requested, nil
}

// fallbackFor returns the ordered ECDSA candidates usable when key
// generation for alg was rejected by the signing engine.  Only EdDSA falls
// back; every candidate must also be server-supported.
func fallbackFor(alg Alg, serverSupported []string) []Alg {
	if alg != EdDSA {
		return nil
	}
	var out []Alg
	for _, a := range ecdsaFallbackOrder {
		if strutils.StrListContains(serverSupported, string(a)) {
			out = append(out, a)
		}
	}
	return out
}
