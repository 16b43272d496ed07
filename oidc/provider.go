// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	strutil "github.com/tidecloak/tidecloak-go/sdk/strutils"
)

// Provider implements Client using the typical 3-legged OIDC authorization
// code flow with PKCE.  Discovery happens on the first Init call; repeated
// calls are no-ops returning the current authenticated state.
//
// See Provider.Done() which must be called to release provider resources.
type Provider struct {
	config   *Config
	provider *oidc.Provider

	mu          sync.Mutex
	initialized bool
	token       *Token
	callbacks   Callbacks

	// backgroundCtx is the context used by the provider for background
	// activities like refreshing JWKs key sets
	backgroundCtx context.Context

	// backgroundCtxCancel is used to cancel any background activities
	// running in spawned go routines.
	backgroundCtxCancel context.CancelFunc
}

// ensure that Provider implements the Client interface
var _ Client = (*Provider)(nil)

// NewProvider creates a Provider for the OIDC authorization code flow.  No
// network request is made until Init.
func NewProvider(c *Config) (*Provider, error) {
	const op = "oidc.NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Provider{
		config:              c,
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}, nil
}

// Done with the provider's background resources and must be called for
// every Provider created.
func (p *Provider) Done() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backgroundCtxCancel != nil {
		p.backgroundCtxCancel()
		p.backgroundCtxCancel = nil
	}
}

// SetCallbacks registers lifecycle hooks.  Must be called before Init.
func (p *Provider) SetCallbacks(cb Callbacks) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = cb
}

// Init performs issuer discovery and a silent session check.  When
// WithExistingToken supplies a restored token, a still-valid token
// authenticates immediately and an expired one with a refresh token is
// refreshed without user interaction.  Fires OnReady with the result.
//
// Repeated calls after the provider reports it already initialized
// short-circuit and return the current authenticated state.
func (p *Provider) Init(ctx context.Context, opt ...Option) (bool, error) {
	const op = "Provider.Init"
	p.mu.Lock()
	if p.initialized {
		authed := p.token.Valid()
		p.mu.Unlock()
		return authed, nil
	}
	p.mu.Unlock()

	client, err := p.config.HttpClient()
	if err != nil {
		return false, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	provider, err := oidc.NewProvider(HttpClientContext(p.backgroundCtx, client), p.config.Issuer) // makes http req to issuer for discovery
	if err != nil {
		return false, fmt.Errorf("%s: unable to create provider: %w", op, err)
	}

	opts := getInitOpts(opt...)
	var token *Token
	if t := opts.withExistingToken; t != nil {
		switch {
		case t.Valid():
			token = t
		case t.RefreshToken != "":
			// silent renewal; failure just means unauthenticated
			refreshed, err := p.refresh(ctx, provider, t)
			if err == nil {
				token = refreshed
			}
		}
	}

	p.mu.Lock()
	p.provider = provider
	p.token = token
	p.initialized = true
	cb := p.callbacks
	authed := token.Valid()
	p.mu.Unlock()

	if cb.OnReady != nil {
		cb.OnReady(authed)
	}
	return authed, nil
}

// AuthURL generates a URL the caller can use to kick off the authorization
// code flow with the IdP, with response_type=code and an S256 PKCE
// challenge.  The optional WithPrompt option sets the OAuth prompt
// parameter.
func (p *Provider) AuthURL(state string, verifier CodeVerifier, opt ...Option) (string, error) {
	const op = "Provider.AuthURL"
	if state == "" {
		return "", fmt.Errorf("%s: state is empty: %w", op, ErrInvalidParameter)
	}
	if verifier == nil {
		return "", fmt.Errorf("%s: code verifier is nil: %w", op, ErrNilParameter)
	}
	oauthConfig, err := p.oauthConfig()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	opts := getAuthURLOpts(opt...)
	authCodeOpts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", verifier.Challenge()),
		oauth2.SetAuthURLParam("code_challenge_method", string(verifier.Method())),
	}
	if opts.withPrompt != "" {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("prompt", opts.withPrompt))
	}
	return oauthConfig.AuthCodeURL(state, authCodeOpts...), nil
}

// Exchange redeems an authorization code at the token endpoint, sending the
// PKCE verifier, verifies the returned id_token, and establishes the
// session.  Fires OnAuthSuccess or OnAuthError.
func (p *Provider) Exchange(ctx context.Context, code string, verifier CodeVerifier) (*Token, error) {
	const op = "Provider.Exchange"
	token, err := p.exchange(ctx, code, verifier)

	p.mu.Lock()
	cb := p.callbacks
	if err == nil {
		p.token = token
	}
	p.mu.Unlock()

	if err != nil {
		if cb.OnAuthError != nil {
			cb.OnAuthError(err)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cb.OnAuthSuccess != nil {
		cb.OnAuthSuccess()
	}
	return token, nil
}

func (p *Provider) exchange(ctx context.Context, code string, verifier CodeVerifier) (*Token, error) {
	const op = "Provider.exchange"
	if code == "" {
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	}
	if verifier == nil {
		return nil, fmt.Errorf("%s: code verifier is nil: %w", op, ErrNilParameter)
	}
	oauthConfig, err := p.oauthConfig()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	client, err := p.config.HttpClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	oidcCtx := HttpClientContext(ctx, client)

	oauth2Token, err := oauthConfig.Exchange(oidcCtx, code,
		oauth2.SetAuthURLParam("code_verifier", verifier.Verifier()))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to exchange auth code with provider: %w", op, err)
	}

	idToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("%s: id_token is missing from auth code exchange: %w", op, ErrMissingIdToken)
	}
	if err := p.VerifyIdToken(ctx, IdToken(idToken)); err != nil {
		return nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
	}
	return &Token{
		AccessToken:  oauth2Token.AccessToken,
		RefreshToken: RefreshToken(oauth2Token.RefreshToken),
		IdToken:      IdToken(idToken),
		Expiry:       oauth2Token.Expiry,
	}, nil
}

// VerifyIdToken will verify the inbound IdToken: it verifies it's been
// signed by the provider and performs any additional checks depending on
// the provider's config (audiences, etc).
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
func (p *Provider) VerifyIdToken(ctx context.Context, t IdToken) error {
	const op = "Provider.VerifyIdToken"
	if t == "" {
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	p.mu.Lock()
	provider := p.provider
	p.mu.Unlock()
	if provider == nil {
		return fmt.Errorf("%s: %w", op, ErrNotInitialized)
	}
	algs := make([]string, 0, len(p.config.SupportedSigningAlgs))
	for _, a := range p.config.SupportedSigningAlgs {
		algs = append(algs, string(a))
	}
	verifier := provider.Verifier(&oidc.Config{
		SupportedSigningAlgs: algs,
		ClientID:             p.config.ClientId,
	})
	oidcIdToken, err := verifier.Verify(ctx, string(t))
	if err != nil {
		return fmt.Errorf("%s: invalid id_token signature: %w", op, ErrIdTokenVerificationFailed)
	}
	if len(p.config.Audiences) > 0 {
		found := false
		for _, v := range p.config.Audiences {
			if strutil.StrListContains(oidcIdToken.Audience, v) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%s: invalid id_token audiences: %w", op, ErrIdTokenVerificationFailed)
		}
	}
	return nil
}

// UpdateToken refreshes the session token when it expires within
// minValidity.  A negative minValidity forces the refresh.  It reports
// whether a refresh happened.  Fires OnAuthRefreshSuccess or
// OnAuthRefreshError; fires OnTokenExpired when the token has expired and
// no refresh token is available.
func (p *Provider) UpdateToken(ctx context.Context, minValidity time.Duration) (bool, error) {
	const op = "Provider.UpdateToken"
	p.mu.Lock()
	token := p.token
	provider := p.provider
	cb := p.callbacks
	p.mu.Unlock()

	if provider == nil {
		return false, fmt.Errorf("%s: %w", op, ErrNotInitialized)
	}
	if token == nil {
		return false, fmt.Errorf("%s: %w", op, ErrNoSession)
	}

	force := minValidity < 0
	if !force && !token.ExpiresWithin(minValidity) {
		return false, nil
	}
	if token.RefreshToken == "" {
		if token.Expired() && cb.OnTokenExpired != nil {
			cb.OnTokenExpired()
		}
		return false, fmt.Errorf("%s: %w", op, ErrMissingRefreshToken)
	}

	refreshed, err := p.refresh(ctx, provider, token)
	if err != nil {
		if cb.OnAuthRefreshError != nil {
			cb.OnAuthRefreshError(err)
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}

	p.mu.Lock()
	p.token = refreshed
	p.mu.Unlock()
	if cb.OnAuthRefreshSuccess != nil {
		cb.OnAuthRefreshSuccess()
	}
	return true, nil
}

// refresh redeems the refresh token at the token endpoint.
func (p *Provider) refresh(ctx context.Context, provider *oidc.Provider, token *Token) (*Token, error) {
	const op = "Provider.refresh"
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingRefreshToken)
	}
	oauthConfig := p.oauthConfigFor(provider)
	client, err := p.config.HttpClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	oidcCtx := HttpClientContext(ctx, client)

	src := oauthConfig.TokenSource(oidcCtx, &oauth2.Token{RefreshToken: string(token.RefreshToken)})
	oauth2Token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", op, err, ErrTokenRefreshFailed)
	}

	next := &Token{
		AccessToken:  oauth2Token.AccessToken,
		RefreshToken: token.RefreshToken,
		IdToken:      token.IdToken,
		Expiry:       oauth2Token.Expiry,
	}
	if rt := oauth2Token.RefreshToken; rt != "" {
		next.RefreshToken = RefreshToken(rt)
	}
	if idt, ok := oauth2Token.Extra("id_token").(string); ok && idt != "" {
		next.IdToken = IdToken(idt)
	}
	return next, nil
}

// Token returns the current token, or nil when unauthenticated.
func (p *Provider) Token() *Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

// Authenticated reports whether a valid session exists.
func (p *Provider) Authenticated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token.Valid()
}

// Logout ends the local session and fires OnAuthLogout.  Remote session
// termination at the IdP is the caller's concern.
func (p *Provider) Logout(_ context.Context) error {
	p.mu.Lock()
	p.token = nil
	cb := p.callbacks
	p.mu.Unlock()
	if cb.OnAuthLogout != nil {
		cb.OnAuthLogout()
	}
	return nil
}

// oauthConfig builds the oauth2 config from the discovered endpoints.
func (p *Provider) oauthConfig() (*oauth2.Config, error) {
	p.mu.Lock()
	provider := p.provider
	p.mu.Unlock()
	if provider == nil {
		return nil, ErrNotInitialized
	}
	return p.oauthConfigFor(provider), nil
}

func (p *Provider) oauthConfigFor(provider *oidc.Provider) *oauth2.Config {
	// the "openid" scope is required for oidc flows
	scopes := append([]string{oidc.ScopeOpenID}, p.config.Scopes...)
	return &oauth2.Config{
		ClientID:     p.config.ClientId,
		ClientSecret: string(p.config.ClientSecret),
		RedirectURL:  p.config.RedirectUrl,
		Endpoint:     provider.Endpoint(),
		Scopes:       scopes,
	}
}
