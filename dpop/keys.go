// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package dpop

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// keyGenerator produces a signing key for the given algorithm.  The default
// implementation uses the standard library; tests substitute one to simulate
// an engine that rejects EdDSA.
type keyGenerator func(alg Alg) (crypto.Signer, error)

// generateKey is the default keyGenerator.
func generateKey(alg Alg) (crypto.Signer, error) {
	const op = "dpop.generateKey"
	switch alg {
	case ES256:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case ES384:
		return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case ES512:
		return ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	case EdDSA:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return priv, nil
	default:
		return nil, fmt.Errorf("%s: %q: %w", op, alg, ErrUnsupportedAlgorithm)
	}
}

// marshalKey serializes a private key to PKCS#8 DER for persistence.
func marshalKey(key crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("dpop.marshalKey: %w", err)
	}
	return der, nil
}

// unmarshalKey parses a PKCS#8 DER private key previously produced by
// marshalKey.  Only ECDSA and Ed25519 keys are accepted.
func unmarshalKey(der []byte) (crypto.Signer, error) {
	const op = "dpop.unmarshalKey"
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	switch k := parsed.(type) {
	case *ecdsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("%s: unexpected key type %T: %w", op, parsed, ErrInvalidParameter)
	}
}

// publicJWK returns the public half of key as a go-jose JWK suitable for
// embedding in a proof header: EC keys carry crv/x/y, Ed25519 keys carry
// OKP crv/x.
func publicJWK(key crypto.Signer, alg Alg) jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       key.Public(),
		Algorithm: string(alg),
		Use:       "sig",
	}
}
