// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	tassert "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProviderAndIdP(t *testing.T) (*Provider, *TestProvider) {
	t.Helper()
	require := require.New(t)
	idp := StartTestProvider(t)
	idp.SetClientID("app1")
	c, err := NewConfig(idp.Addr(), "app1", "", []Alg{ES256}, "https://app.example.com/cb")
	require.NoError(err)
	p, err := NewProvider(c)
	require.NoError(err)
	t.Cleanup(p.Done)
	return p, idp
}

func TestNewProvider(t *testing.T) {
	t.Parallel()
	t.Run("nil-config", func(t *testing.T) {
		assert := assert.New(t)
		_, err := NewProvider(nil)
		assert.True(errors.Is(err, ErrNilParameter))
	})
	t.Run("invalid-config", func(t *testing.T) {
		assert := assert.New(t)
		_, err := NewProvider(&Config{})
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
}

func TestProvider_Init(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("unauthenticated", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p, _ := testProviderAndIdP(t)

		var readyCalls []bool
		p.SetCallbacks(Callbacks{OnReady: func(authed bool) { readyCalls = append(readyCalls, authed) }})

		authed, err := p.Init(ctx)
		require.NoError(err)
		assert.False(authed)
		assert.Equal([]bool{false}, readyCalls)

		// idempotent: a second call doesn't fire OnReady again
		authed, err = p.Init(ctx)
		require.NoError(err)
		assert.False(authed)
		assert.Equal([]bool{false}, readyCalls)
	})

	t.Run("silent-check-with-valid-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p, _ := testProviderAndIdP(t)

		existing := &Token{AccessToken: "at", Expiry: time.Now().Add(1 * time.Hour)}
		authed, err := p.Init(ctx, WithExistingToken(existing))
		require.NoError(err)
		assert.True(authed)
		assert.Equal("at", p.Token().AccessToken)
	})

	t.Run("silent-check-refreshes-expired-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p, idp := testProviderAndIdP(t)

		existing := &Token{
			AccessToken:  "stale",
			RefreshToken: "test-refresh-token",
			Expiry:       time.Now().Add(-1 * time.Minute),
		}
		authed, err := p.Init(ctx, WithExistingToken(existing))
		require.NoError(err)
		assert.True(authed)
		assert.Equal(1, idp.RefreshCount())
		assert.NotEqual("stale", p.Token().AccessToken)
	})

	t.Run("discovery-failure", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewConfig("http://127.0.0.1:1", "app1", "", []Alg{ES256}, "https://app.example.com/cb")
		require.NoError(err)
		p, err := NewProvider(c)
		require.NoError(err)
		defer p.Done()
		_, err = p.Init(ctx)
		assert.Error(err)
	})
}

func TestProvider_AuthURL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	p, _ := testProviderAndIdP(t)
	_, err := p.Init(ctx)
	require.NoError(err)

	v, err := NewCodeVerifier()
	require.NoError(err)

	got, err := p.AuthURL("st_123", v, WithPrompt("login"))
	require.NoError(err)

	u, err := url.Parse(got)
	require.NoError(err)
	q := u.Query()
	assert.Equal("code", q.Get("response_type"))
	assert.Equal("app1", q.Get("client_id"))
	assert.Equal("https://app.example.com/cb", q.Get("redirect_uri"))
	assert.Equal("st_123", q.Get("state"))
	assert.Equal(v.Challenge(), q.Get("code_challenge"))
	assert.Equal("S256", q.Get("code_challenge_method"))
	assert.Equal("login", q.Get("prompt"))
	assert.Contains(q.Get("scope"), "openid")

	t.Run("requires-state-and-verifier", func(t *testing.T) {
		assert := tassert.New(t)
		_, err := p.AuthURL("", v)
		assert.True(errors.Is(err, ErrInvalidParameter))
		_, err = p.AuthURL("st_123", nil)
		assert.True(errors.Is(err, ErrNilParameter))
	})
}

func TestProvider_Exchange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p, idp := testProviderAndIdP(t)
		_, err := p.Init(ctx)
		require.NoError(err)

		v, err := NewCodeVerifier()
		require.NoError(err)
		idp.SetExpectedAuthCode("code-abc")
		idp.SetExpectedCodeVerifier(v.Verifier())

		var successCalls int
		p.SetCallbacks(Callbacks{OnAuthSuccess: func() { successCalls++ }})

		tk, err := p.Exchange(ctx, "code-abc", v)
		require.NoError(err)
		require.NotNil(tk)
		assert.NotEmpty(tk.AccessToken)
		assert.NotEmpty(tk.IdToken)
		assert.True(p.Authenticated())
		assert.Equal(1, successCalls)
	})

	t.Run("wrong-code", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p, idp := testProviderAndIdP(t)
		_, err := p.Init(ctx)
		require.NoError(err)

		v, err := NewCodeVerifier()
		require.NoError(err)
		idp.SetExpectedAuthCode("code-abc")

		var authErr error
		p.SetCallbacks(Callbacks{OnAuthError: func(err error) { authErr = err }})

		_, err = p.Exchange(ctx, "wrong", v)
		require.Error(err)
		assert.Error(authErr)
		assert.False(p.Authenticated())
	})
}

func TestProvider_UpdateToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	setupAuthed := func(t *testing.T) (*Provider, *TestProvider) {
		t.Helper()
		require := require.New(t)
		p, idp := testProviderAndIdP(t)
		_, err := p.Init(ctx)
		require.NoError(err)
		v, err := NewCodeVerifier()
		require.NoError(err)
		idp.SetExpectedAuthCode("code-abc")
		_, err = p.Exchange(ctx, "code-abc", v)
		require.NoError(err)
		return p, idp
	}

	t.Run("no-refresh-needed", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p, idp := setupAuthed(t)
		refreshed, err := p.UpdateToken(ctx, 3*time.Second)
		require.NoError(err)
		assert.False(refreshed)
		assert.Equal(0, idp.RefreshCount())
	})

	t.Run("forced", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p, idp := setupAuthed(t)
		var refreshSuccess int
		p.SetCallbacks(Callbacks{OnAuthRefreshSuccess: func() { refreshSuccess++ }})

		refreshed, err := p.UpdateToken(ctx, -1)
		require.NoError(err)
		assert.True(refreshed)
		assert.Equal(1, idp.RefreshCount())
		assert.Equal(1, refreshSuccess)
	})

	t.Run("refresh-failure", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p, idp := setupAuthed(t)
		idp.SetDisableRefresh(true)
		var refreshErr error
		p.SetCallbacks(Callbacks{OnAuthRefreshError: func(err error) { refreshErr = err }})

		_, err := p.UpdateToken(ctx, -1)
		require.Error(err)
		assert.True(errors.Is(err, ErrTokenRefreshFailed))
		assert.Error(refreshErr)
	})

	t.Run("no-session", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p, _ := testProviderAndIdP(t)
		_, err := p.Init(ctx)
		require.NoError(err)
		_, err = p.UpdateToken(ctx, -1)
		assert.True(errors.Is(err, ErrNoSession))
	})
}

func TestProvider_Logout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	p, idp := testProviderAndIdP(t)
	_, err := p.Init(ctx)
	require.NoError(err)
	v, err := NewCodeVerifier()
	require.NoError(err)
	idp.SetExpectedAuthCode("code-abc")
	_, err = p.Exchange(ctx, "code-abc", v)
	require.NoError(err)

	var logoutCalls int
	p.SetCallbacks(Callbacks{OnAuthLogout: func() { logoutCalls++ }})
	require.NoError(p.Logout(ctx))
	assert.Nil(p.Token())
	assert.False(p.Authenticated())
	assert.Equal(1, logoutCalls)
}
