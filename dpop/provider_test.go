// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package dpop

import (
	"context"
	"crypto"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProvider(t *testing.T, opt ...Option) *SignatureProvider {
	t.Helper()
	require := require.New(t)
	m := testStoreManager(t)
	p, err := NewSignatureProvider(m, []string{"ES256", "ES384", "ES512", "EdDSA"}, opt...)
	require.NoError(err)
	return p
}

// parseProof splits a compact JWT and decodes its header and payload.
func parseProof(t *testing.T, proof string) (header, payload map[string]any) {
	t.Helper()
	require := require.New(t)
	parts := strings.Split(proof, ".")
	require.Len(parts, 3)

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	require.NoError(err)
	require.NoError(json.Unmarshal(headerBytes, &header))

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(err)
	require.NoError(json.Unmarshal(payloadBytes, &payload))
	return header, payload
}

func TestNewSignatureProvider(t *testing.T) {
	t.Parallel()
	t.Run("nil-store", func(t *testing.T) {
		assert := assert.New(t)
		_, err := NewSignatureProvider(nil, []string{"ES256"})
		assert.True(errors.Is(err, ErrNilParameter))
	})
	t.Run("server-rejects-alg", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		m := testStoreManager(t)
		_, err := NewSignatureProvider(m, []string{"RS256"})
		require.Error(err)
		assert.True(errors.Is(err, ErrUnsupportedAlgorithm))
	})
}

func TestSignatureProvider_KeyStability(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	p := testProvider(t)

	require.NoError(p.Init(ctx))
	first, err := p.store.Get(ctx)
	require.NoError(err)
	require.NotNil(first)

	// repeated Init never generates a second key pair
	require.NoError(p.Init(ctx))
	again, err := p.store.Get(ctx)
	require.NoError(err)
	assert.Equal(first.PrivateKeyDER, again.PrivateKeyDER)

	// flush then init rotates the key
	require.NoError(p.Flush(ctx))
	require.NoError(p.Init(ctx))
	rotated, err := p.store.Get(ctx)
	require.NoError(err)
	require.NotNil(rotated)
	assert.NotEqual(first.PrivateKeyDER, rotated.PrivateKeyDER)
}

func TestSignatureProvider_InitLoadsPersistedKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	m := testStoreManager(t)

	p1, err := NewSignatureProvider(m, []string{"ES256"})
	require.NoError(err)
	require.NoError(p1.Init(ctx))
	persisted, err := m.Get(ctx)
	require.NoError(err)

	p2, err := NewSignatureProvider(m, []string{"ES256"})
	require.NoError(err)
	require.NoError(p2.Init(ctx))
	loaded, err := m.Get(ctx)
	require.NoError(err)
	assert.Equal(persisted.PrivateKeyDER, loaded.PrivateKeyDER)
}

func TestSignatureProvider_EdDSAFallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("falls-back-to-es256", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := testProvider(t, WithAlg(EdDSA))
		p.genKey = func(alg Alg) (crypto.Signer, error) {
			if alg == EdDSA {
				return nil, fmt.Errorf("engine does not support EdDSA")
			}
			return generateKey(alg)
		}
		require.NoError(p.Init(ctx))
		assert.Equal(ES256, p.Alg())

		// fallback algorithm is persisted as the new active algorithm
		state, err := p.store.Get(ctx)
		require.NoError(err)
		assert.Equal(ES256, state.Alg)
	})
	t.Run("ecdsa-never-falls-back", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := testProvider(t, WithAlg(ES256))
		p.genKey = func(alg Alg) (crypto.Signer, error) {
			return nil, fmt.Errorf("engine broken")
		}
		err := p.Init(ctx)
		require.Error(err)
		assert.True(errors.Is(err, ErrKeyGenerationFailed))
	})
	t.Run("fallback-candidate-failure-propagates", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := testProvider(t, WithAlg(EdDSA))
		p.genKey = func(alg Alg) (crypto.Signer, error) {
			return nil, fmt.Errorf("engine broken")
		}
		err := p.Init(ctx)
		require.Error(err)
		assert.True(errors.Is(err, ErrKeyGenerationFailed))
	})
}

func TestSignatureProvider_GenerateProof(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("not-initialized", func(t *testing.T) {
		assert := assert.New(t)
		p := testProvider(t)
		_, err := p.GenerateProof("https://api.example.com/resource", "GET")
		assert.True(errors.Is(err, ErrNotInitialized))
	})

	t.Run("basics", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := testProvider(t)
		testNow := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		p.now = func() time.Time { return testNow }
		require.NoError(p.Init(ctx))

		proof, err := p.GenerateProof("https://api.example.com:443/resource?q=1#frag", "POST")
		require.NoError(err)

		header, payload := parseProof(t, proof)
		assert.Equal("dpop+jwt", header["typ"])
		assert.Equal("ES256", header["alg"])
		jwk, ok := header["jwk"].(map[string]any)
		require.True(ok)
		assert.Equal("EC", jwk["kty"])
		assert.Equal("P-256", jwk["crv"])
		assert.NotEmpty(jwk["x"])
		assert.NotEmpty(jwk["y"])

		assert.NotEmpty(payload["jti"])
		assert.Equal("POST", payload["htm"])
		// query, fragment and default port are stripped
		assert.Equal("https://api.example.com/resource", payload["htu"])
		assert.EqualValues(testNow.Unix(), payload["iat"])
		assert.NotContains(payload, "ath")
		assert.NotContains(payload, "nonce")
	})

	t.Run("with-access-token-and-nonce", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := testProvider(t)
		require.NoError(p.Init(ctx))

		const token = "eyJ.access.token"
		proof, err := p.GenerateProof("https://api.example.com/r", "GET",
			WithAccessToken(token), WithProofNonce("srv-nonce-1"))
		require.NoError(err)

		_, payload := parseProof(t, proof)
		sum := sha256.Sum256([]byte(token))
		assert.Equal(base64.RawURLEncoding.EncodeToString(sum[:]), payload["ath"])
		assert.Equal("srv-nonce-1", payload["nonce"])
	})

	t.Run("eddsa-okp-jwk", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := testProvider(t, WithAlg(EdDSA))
		require.NoError(p.Init(ctx))

		proof, err := p.GenerateProof("https://api.example.com/r", "GET")
		require.NoError(err)
		header, _ := parseProof(t, proof)
		assert.Equal("EdDSA", header["alg"])
		jwk, ok := header["jwk"].(map[string]any)
		require.True(ok)
		assert.Equal("OKP", jwk["kty"])
		assert.Equal("Ed25519", jwk["crv"])
		assert.NotEmpty(jwk["x"])
		assert.NotContains(jwk, "y")
	})

	t.Run("jti-unique-per-proof", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := testProvider(t)
		require.NoError(p.Init(ctx))
		p1, err := p.GenerateProof("https://api.example.com/r", "GET")
		require.NoError(err)
		p2, err := p.GenerateProof("https://api.example.com/r", "GET")
		require.NoError(err)
		_, payload1 := parseProof(t, p1)
		_, payload2 := parseProof(t, p2)
		assert.NotEqual(payload1["jti"], payload2["jti"])
	})

	t.Run("invalid-url", func(t *testing.T) {
		assert := assert.New(t)
		ctx := context.Background()
		p := testProvider(t)
		require.NoError(t, p.Init(ctx))
		_, err := p.GenerateProof("not-a-url", "GET")
		assert.True(errors.Is(err, ErrInvalidParameter))
		_, err = p.GenerateProof("https://api.example.com/r", "")
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
}

func TestSignatureProvider_Nonces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("auth-server-strict", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := testProvider(t)
		require.NoError(p.Init(ctx))

		require.NoError(p.UpdateAuthServerNonce(ctx, "nonce-1"))
		got, err := p.AuthServerNonce(ctx)
		require.NoError(err)
		assert.Equal("nonce-1", got)

		err = p.UpdateAuthServerNonce(ctx, "")
		require.Error(err)
		assert.True(errors.Is(err, ErrInvalidNonce))
	})

	t.Run("resource-server-lenient", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p := testProvider(t)
		require.NoError(p.Init(ctx))

		p.UpdateResourceServerNonce("https://api.example.com", "rs-nonce-1")
		assert.Equal("rs-nonce-1", p.ResourceServerNonce("https://api.example.com"))

		// invalid values are dropped without error, previous value kept
		p.UpdateResourceServerNonce("https://api.example.com", "")
		p.UpdateResourceServerNonce("https://api.example.com", strings.Repeat("a", 513))
		p.UpdateResourceServerNonce("https://api.example.com", "bad\x00nonce")
		assert.Equal("rs-nonce-1", p.ResourceServerNonce("https://api.example.com"))

		// one nonce per origin
		p.UpdateResourceServerNonce("https://other.example.com", "rs-nonce-2")
		assert.Equal("rs-nonce-1", p.ResourceServerNonce("https://api.example.com"))
		assert.Equal("rs-nonce-2", p.ResourceServerNonce("https://other.example.com"))
	})

	t.Run("auth-server-nonce-survives-key-generation", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		m := testStoreManager(t)
		require.NoError(m.Init(ctx))
		require.NoError(m.UpdateAuthServerNonce(ctx, "pre-existing"))

		p, err := NewSignatureProvider(m, []string{"ES256"})
		require.NoError(err)
		require.NoError(p.Init(ctx))
		got, err := p.AuthServerNonce(ctx)
		require.NoError(err)
		assert.Equal("pre-existing", got)
	})
}
