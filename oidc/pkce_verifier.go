// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/vault/sdk/helper/base62"
)

// ChallengeMethod represents PKCE code challenge methods as defined by RFC
// 7636.
type ChallengeMethod string

const (
	// S256 is the SHA-256 based PKCE challenge method, the only method
	// supported.  The plain method is deliberately not implemented.
	S256 ChallengeMethod = "S256"

	// verifierLen is the length of a generated code verifier, within the
	// RFC 7636 43..128 character bounds.
	verifierLen = 43
)

// CodeVerifier represents an oauth PKCE code verifier and its derived
// challenge.
type CodeVerifier interface {
	// Verifier returns the code verifier generated for a flow.
	Verifier() string

	// Challenge returns the code challenge derived from the verifier.
	Challenge() string

	// Method returns the challenge method used to derive the challenge.
	Method() ChallengeMethod
}

// S256Verifier is a PKCE verifier using the S256 challenge method.
type S256Verifier struct {
	verifier  string
	challenge string
	method    ChallengeMethod
}

// ensure that S256Verifier implements the CodeVerifier interface
var _ CodeVerifier = (*S256Verifier)(nil)

// NewCodeVerifier creates a new S256Verifier with a cryptographically random
// verifier and its derived challenge.
func NewCodeVerifier() (*S256Verifier, error) {
	const op = "oidc.NewCodeVerifier"
	data, err := base62.Random(verifierLen)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create verifier data: %w", op, err)
	}
	v := &S256Verifier{
		verifier: data,
		method:   S256,
	}
	if v.challenge, err = CreateCodeChallenge(v.method, v); err != nil {
		return nil, fmt.Errorf("%s: unable to create code challenge: %w", op, err)
	}
	return v, nil
}

// RestoreCodeVerifier reconstructs an S256Verifier from a previously stored
// verifier string, re-deriving its challenge.  Used when the verifier was
// persisted between the login redirect and the callback.
func RestoreCodeVerifier(verifier string) (*S256Verifier, error) {
	const op = "oidc.RestoreCodeVerifier"
	if verifier == "" {
		return nil, fmt.Errorf("%s: verifier is empty: %w", op, ErrInvalidParameter)
	}
	v := &S256Verifier{
		verifier: verifier,
		method:   S256,
	}
	var err error
	if v.challenge, err = CreateCodeChallenge(v.method, v); err != nil {
		return nil, fmt.Errorf("%s: unable to create code challenge: %w", op, err)
	}
	return v, nil
}

func (v *S256Verifier) Verifier() string        { return v.verifier }  // Verifier implements CodeVerifier.Verifier()
func (v *S256Verifier) Challenge() string       { return v.challenge } // Challenge implements CodeVerifier.Challenge()
func (v *S256Verifier) Method() ChallengeMethod { return v.method }    // Method implements CodeVerifier.Method()

// CreateCodeChallenge creates a code challenge from the verifier.  Only the
// S256 method is supported.
func CreateCodeChallenge(method ChallengeMethod, verifier CodeVerifier) (string, error) {
	// not an exhaustive check of the verifier's data, but the method is
	// the only input that can make the derivation itself invalid
	if method != S256 {
		return "", fmt.Errorf("CreateCodeChallenge: %s: %w", method, ErrUnsupportedChallengeMethod)
	}
	h := sha256.New()
	_, _ = h.Write([]byte(verifier.Verifier()))
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum), nil
}
