// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

// TestProvider is a local httptest OIDC provider supporting discovery,
// JWKS, authorization-code exchange with PKCE, and refresh grants.  It
// signs tokens with an ephemeral ES256 key.
//
// It's intended to be used within tests and requires no external
// provider.
type TestProvider struct {
	t          *testing.T
	httpServer *httptest.Server

	signingKey *ecdsa.PrivateKey
	keyID      string

	mu               sync.Mutex
	clientID         string
	expectedCode     string
	expectedVerifier string
	refreshToken     string
	accessTokenTTL   time.Duration
	customClaims     map[string]interface{}
	refreshCount     int
	disableRefresh   bool
}

// StartTestProvider starts a test provider; it is stopped automatically via
// t.Cleanup.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)

	p := &TestProvider{
		t:              t,
		signingKey:     key,
		keyID:          "test-key-1",
		clientID:       "test-client",
		refreshToken:   "test-refresh-token",
		accessTokenTTL: 5 * time.Minute,
	}
	p.httpServer = httptest.NewServer(http.HandlerFunc(p.handle))
	t.Cleanup(p.httpServer.Close)
	return p
}

// Addr returns the provider's issuer URL.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// SetClientID sets the client id used as the token audience.
func (p *TestProvider) SetClientID(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
}

// SetExpectedAuthCode sets the only authorization code the token endpoint
// will accept.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedCode = code
}

// SetExpectedCodeVerifier sets the PKCE verifier the token endpoint
// requires with the authorization code.
func (p *TestProvider) SetExpectedCodeVerifier(verifier string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedVerifier = verifier
}

// SetCustomClaims sets additional claims added to issued access tokens.
func (p *TestProvider) SetCustomClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = claims
}

// SetAccessTokenTTL overrides the lifetime of issued access tokens.
func (p *TestProvider) SetAccessTokenTTL(ttl time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessTokenTTL = ttl
}

// SetDisableRefresh makes the refresh grant fail with an invalid_grant
// error.
func (p *TestProvider) SetDisableRefresh(disable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableRefresh = disable
}

// RefreshCount reports how many refresh grants the token endpoint served.
func (p *TestProvider) RefreshCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCount
}

func (p *TestProvider) handle(w http.ResponseWriter, req *http.Request) {
	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		p.handleDiscovery(w)
	case "/jwks":
		p.handleJWKS(w)
	case "/token":
		p.handleToken(w, req)
	default:
		http.NotFound(w, req)
	}
}

func (p *TestProvider) handleDiscovery(w http.ResponseWriter) {
	base := p.httpServer.URL
	writeJSON(p.t, w, map[string]interface{}{
		"issuer":                                base,
		"authorization_endpoint":                base + "/auth",
		"token_endpoint":                        base + "/token",
		"jwks_uri":                              base + "/jwks",
		"id_token_signing_alg_values_supported": []string{"ES256"},
		"dpop_signing_alg_values_supported":     []string{"ES256", "ES384", "ES512", "EdDSA"},
	})
}

func (p *TestProvider) handleJWKS(w http.ResponseWriter) {
	writeJSON(p.t, w, jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       p.signingKey.Public(),
			KeyID:     p.keyID,
			Algorithm: "ES256",
			Use:       "sig",
		}},
	})
}

func (p *TestProvider) handleToken(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		tokenError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	switch req.Form.Get("grant_type") {
	case "authorization_code":
		if p.expectedCode == "" || req.Form.Get("code") != p.expectedCode {
			tokenError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		if p.expectedVerifier != "" && req.Form.Get("code_verifier") != p.expectedVerifier {
			tokenError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
	case "refresh_token":
		if p.disableRefresh || req.Form.Get("refresh_token") != p.refreshToken {
			tokenError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		p.refreshCount++
	default:
		tokenError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}

	now := time.Now()
	idToken := p.signJWT(jwt.Claims{
		Issuer:   p.httpServer.URL,
		Subject:  "test-subject",
		Audience: jwt.Audience{p.clientID},
		Expiry:   jwt.NewNumericDate(now.Add(p.accessTokenTTL)),
		IssuedAt: jwt.NewNumericDate(now),
	}, nil)
	accessToken := p.signJWT(jwt.Claims{
		Issuer:   p.httpServer.URL,
		Subject:  "test-subject",
		Audience: jwt.Audience{p.clientID},
		Expiry:   jwt.NewNumericDate(now.Add(p.accessTokenTTL)),
		IssuedAt: jwt.NewNumericDate(now),
	}, p.customClaims)

	writeJSON(p.t, w, map[string]interface{}{
		"access_token":  accessToken,
		"token_type":    "Bearer",
		"expires_in":    int(p.accessTokenTTL.Seconds()),
		"refresh_token": p.refreshToken,
		"id_token":      idToken,
	})
}

func (p *TestProvider) signJWT(claims jwt.Claims, privateClaims map[string]interface{}) string {
	p.t.Helper()
	require := require.New(p.t)
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.ES256, Key: p.signingKey},
		(&jose.SignerOptions{ExtraHeaders: map[jose.HeaderKey]interface{}{"kid": p.keyID}}).WithType("JWT"),
	)
	require.NoError(err)
	builder := jwt.Signed(signer).Claims(claims)
	if privateClaims != nil {
		builder = builder.Claims(privateClaims)
	}
	raw, err := builder.Serialize()
	require.NoError(err)
	return raw
}

func tokenError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, code)
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}
