// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

// Package iam orchestrates authentication across two mutually exclusive
// delivery modes.  In front-channel (and native) mode the Service drives an
// oidc.Client directly and owns token lifecycle, event emission and the
// session cookie mirror.  In hybrid mode the browser side only ever sees
// the authorization code: the Service runs the PKCE login redirect and
// hands the code to a trusted backend for exchange, and every token
// accessor fails fast with ErrHybridModeUnavailable.
//
// A Service is an explicit instance constructed once per application root;
// tests construct as many isolated instances as they need.
package iam

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	"github.com/tidecloak/tidecloak-go/dpop"
	"github.com/tidecloak/tidecloak-go/enclave"
	"github.com/tidecloak/tidecloak-go/oidc"
	"github.com/tidecloak/tidecloak-go/sdk/strutils"
)

// tokenRefreshMargin is the remaining-lifetime threshold under which
// Token() forces a refresh before returning.
const tokenRefreshMargin = 3 * time.Second

// Service is the authentication orchestrator.  Construct with NewService
// and initialize with Init before use.  Safe for concurrent use.
type Service struct {
	cfg        Config
	oidcClient oidc.Client
	enclave    *enclave.Client
	sig        *dpop.SignatureProvider
	session    SessionStore
	cookies    CookieSink
	httpClient *http.Client
	logger     hclog.Logger
	events     *dispatcher

	mu          sync.Mutex
	initialized bool

	// callback state, see login.go and hybrid.go
	hybridAuthenticated bool
	hybridReturnURL     string
	lastCallbackData    *CallbackData
	callbackResults     map[string]*callbackOutcome
	exchangeGroup       singleflight.Group
}

// NewService creates a Service for the given configuration.  The
// configuration's type selects the mode.  For front-channel and native
// configurations an oidc.Provider is constructed unless WithOIDCClient
// injects one; for hybrid configurations no protocol client exists at all.
//
// Supported options: WithOIDCClient, WithEnclaveClient,
// WithSignatureProvider, WithSessionStore, WithCookieSink, WithHTTPClient,
// WithLogger.
func NewService(cfg Config, opt ...Option) (*Service, error) {
	const op = "iam.NewService"
	if cfg == nil {
		return nil, fmt.Errorf("%s: configuration is nil: %w", op, ErrNilParameter)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getServiceOpts(opt...)

	s := &Service{
		cfg:             cfg,
		oidcClient:      opts.withOIDCClient,
		enclave:         opts.withEnclaveClient,
		sig:             opts.withSignatureProvider,
		session:         opts.withSessionStore,
		cookies:         opts.withCookieSink,
		httpClient:      opts.withHTTPClient,
		logger:          opts.withLogger.Named("iam"),
		events:          newDispatcher(),
		callbackResults: map[string]*callbackOutcome{},
	}
	if s.session == nil {
		s.session = NewMemorySessionStore()
	}
	if s.httpClient == nil {
		s.httpClient = http.DefaultClient
	}

	if cfg.Mode() != ModeHybrid && s.oidcClient == nil {
		client, err := newProtocolClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s.oidcClient = client
	}
	if s.enclave == nil {
		if endpoint := enclaveEndpoint(cfg); endpoint != "" {
			enclaveOpts := []enclave.Option{enclave.WithLogger(s.logger)}
			if s.sig != nil {
				enclaveOpts = append(enclaveOpts, enclave.WithSignatureProvider(s.sig))
			}
			client, err := enclave.NewClient(endpoint, enclaveOpts...)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			s.enclave = client
		}
	}
	return s, nil
}

func newProtocolClient(cfg Config) (oidc.Client, error) {
	var issuer, clientId, secret, redirect, ca string
	var scopes []string
	switch c := cfg.(type) {
	case *FrontChannelConfig:
		issuer, clientId, secret, redirect, ca = c.Issuer, c.ClientId, c.ClientSecret, c.RedirectURL, c.ProviderCA
		scopes = c.Scopes
	case *NativeConfig:
		issuer, clientId, secret, redirect, ca = c.Issuer, c.ClientId, c.ClientSecret, c.RedirectURL, c.ProviderCA
		scopes = c.Scopes
	default:
		return nil, fmt.Errorf("unsupported configuration type %T: %w", cfg, ErrInvalidConfig)
	}
	var oidcOpts []oidc.Option
	if len(scopes) > 0 {
		oidcOpts = append(oidcOpts, oidc.WithScopes(scopes...))
	}
	if ca != "" {
		oidcOpts = append(oidcOpts, oidc.WithProviderCA(ca))
	}
	oc, err := oidc.NewConfig(issuer, clientId, oidc.ClientSecret(secret), []oidc.Alg{oidc.RS256, oidc.ES256}, redirect, oidcOpts...)
	if err != nil {
		return nil, err
	}
	return oidc.NewProvider(oc)
}

func enclaveEndpoint(cfg Config) string {
	switch c := cfg.(type) {
	case *FrontChannelConfig:
		return c.EnclaveEndpoint
	case *NativeConfig:
		return c.EnclaveEndpoint
	}
	return ""
}

// On subscribes a handler to one event type, returning a Subscription for
// Off.
func (s *Service) On(t EventType, h Handler) Subscription {
	return s.events.on(t, h)
}

// Off removes a previously registered handler.
func (s *Service) Off(t EventType, sub Subscription) {
	s.events.off(t, sub)
}

// Init initializes the service.  In front-channel and native modes it wires
// the protocol client's callbacks to the event dispatcher, runs discovery
// plus the silent session check, mirrors the session cookie and emits
// Ready; any oidc.Option given (such as oidc.WithExistingToken to restore a
// persisted session) is passed through to the protocol client.  In every
// mode a currentURL carrying OAuth callback parameters is handled via the
// callback state machine; anything else emits Ready with the resulting
// authenticated state.
//
// Init is idempotent: repeat calls short-circuit and report the current
// authenticated state without re-running the flow.
func (s *Service) Init(ctx context.Context, currentURL string, opt ...oidc.Option) (bool, error) {
	const op = "Service.Init"

	if s.cfg.Mode() == ModeHybrid {
		return s.initHybrid(ctx, currentURL)
	}

	s.mu.Lock()
	alreadyInitialized := s.initialized
	s.mu.Unlock()
	if alreadyInitialized {
		return s.oidcClient.Authenticated(), nil
	}

	s.oidcClient.SetCallbacks(oidc.Callbacks{
		OnAuthSuccess: func() {
			s.mirrorCookie()
			s.events.emit(AuthSuccess{})
		},
		OnAuthError: func(err error) {
			s.events.emit(AuthError{Err: err})
		},
		OnAuthRefreshSuccess: func() {
			s.mirrorCookie()
			s.events.emit(AuthRefreshSuccess{})
		},
		OnAuthRefreshError: func(err error) {
			s.events.emit(AuthRefreshError{Err: err})
		},
		OnAuthLogout: func() {
			s.clearCookie()
			s.events.emit(Logout{})
		},
		OnTokenExpired: func() {
			s.events.emit(TokenExpired{})
		},
	})

	authenticated, err := s.oidcClient.Init(ctx, opt...)
	if err != nil {
		s.events.emit(InitError{Err: err})
		return false, fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()

	if isCallbackURL(currentURL) {
		result, cbErr := s.HandleCallback(ctx, currentURL)
		if cbErr != nil {
			return false, fmt.Errorf("%s: %w", op, cbErr)
		}
		if result.Handled {
			return result.Authenticated, nil
		}
	}

	if authenticated {
		s.mirrorCookie()
	}
	s.events.emit(Ready{Authenticated: authenticated})
	return authenticated, nil
}

// Token returns the current access token.  When fewer than 3 seconds of
// lifetime remain it first forces a refresh, so a call may suspend on a
// network round trip.  Unavailable in hybrid mode.
func (s *Service) Token(ctx context.Context) (string, error) {
	const op = "Service.Token"
	if err := s.requireTokenAccess(op); err != nil {
		return "", err
	}
	t := s.oidcClient.Token()
	if t == nil {
		return "", fmt.Errorf("%s: %w", op, ErrNoSession)
	}
	if t.ExpiresWithin(tokenRefreshMargin) {
		if _, err := s.ForceUpdateToken(ctx); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		t = s.oidcClient.Token()
		if t == nil {
			return "", fmt.Errorf("%s: %w", op, ErrNoSession)
		}
	}
	return t.AccessToken, nil
}

// UpdateToken refreshes the access token if it expires within minValidity,
// re-mirroring the session cookie afterward.  It reports whether a refresh
// happened.  Unavailable in hybrid mode.
func (s *Service) UpdateToken(ctx context.Context, minValidity time.Duration) (bool, error) {
	const op = "Service.UpdateToken"
	if err := s.requireTokenAccess(op); err != nil {
		return false, err
	}
	refreshed, err := s.oidcClient.UpdateToken(ctx, minValidity)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if refreshed {
		s.mirrorCookie()
	}
	return refreshed, nil
}

// ForceUpdateToken refreshes the access token unconditionally.  The stale
// cookie is cleared before the round trip so middleware never observes a
// token the refresh is about to replace.
func (s *Service) ForceUpdateToken(ctx context.Context) (bool, error) {
	const op = "Service.ForceUpdateToken"
	if err := s.requireTokenAccess(op); err != nil {
		return false, err
	}
	s.clearCookie()
	refreshed, err := s.oidcClient.UpdateToken(ctx, -1)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	s.mirrorCookie()
	return refreshed, nil
}

// IDToken returns the raw ID token.  Unavailable in hybrid mode.
func (s *Service) IDToken() (string, error) {
	const op = "Service.IDToken"
	if err := s.requireTokenAccess(op); err != nil {
		return "", err
	}
	t := s.oidcClient.Token()
	if t == nil || t.IdToken == "" {
		return "", fmt.Errorf("%s: %w", op, ErrNoSession)
	}
	return string(t.IdToken), nil
}

// Name returns the end user's preferred_username claim, falling back to
// name.  Unavailable in hybrid mode.
func (s *Service) Name() (string, error) {
	const op = "Service.Name"
	if err := s.requireTokenAccess(op); err != nil {
		return "", err
	}
	t := s.oidcClient.Token()
	if t == nil {
		return "", fmt.Errorf("%s: %w", op, ErrNoSession)
	}
	var claims struct {
		PreferredUsername string `json:"preferred_username"`
		Name              string `json:"name"`
	}
	if err := t.AccessClaims(&claims); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if claims.PreferredUsername != "" {
		return claims.PreferredUsername, nil
	}
	return claims.Name, nil
}

// HasRealmRole reports whether the current access token carries the given
// realm role.  Unavailable in hybrid mode.
func (s *Service) HasRealmRole(role string) (bool, error) {
	const op = "Service.HasRealmRole"
	if err := s.requireTokenAccess(op); err != nil {
		return false, err
	}
	t := s.oidcClient.Token()
	if t == nil {
		return false, fmt.Errorf("%s: %w", op, ErrNoSession)
	}
	roles, err := t.RealmRoles()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return strutils.StrListContains(roles, role), nil
}

// HasClientRole reports whether the current access token carries the given
// role for the given client.  Unavailable in hybrid mode.
func (s *Service) HasClientRole(clientId, role string) (bool, error) {
	const op = "Service.HasClientRole"
	if err := s.requireTokenAccess(op); err != nil {
		return false, err
	}
	t := s.oidcClient.Token()
	if t == nil {
		return false, fmt.Errorf("%s: %w", op, ErrNoSession)
	}
	roles, err := t.ClientRoles(clientId)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return strutils.StrListContains(roles, role), nil
}

// ClaimValue unmarshals the access token's claims into out.  Unavailable
// in hybrid mode.
func (s *Service) ClaimValue(out interface{}) error {
	const op = "Service.ClaimValue"
	if err := s.requireTokenAccess(op); err != nil {
		return err
	}
	t := s.oidcClient.Token()
	if t == nil {
		return fmt.Errorf("%s: %w", op, ErrNoSession)
	}
	if err := t.AccessClaims(out); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// IDClaimValue unmarshals the ID token's claims into out.  Unavailable in
// hybrid mode.
func (s *Service) IDClaimValue(out interface{}) error {
	const op = "Service.IDClaimValue"
	if err := s.requireTokenAccess(op); err != nil {
		return err
	}
	t := s.oidcClient.Token()
	if t == nil || t.IdToken == "" {
		return fmt.Errorf("%s: %w", op, ErrNoSession)
	}
	if err := t.IdToken.Claims(out); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Encrypt forwards the ordered batch to the encryption gateway under the
// current access token.  Unavailable in hybrid mode; the mode check runs
// before any network access.
func (s *Service) Encrypt(ctx context.Context, items []enclave.EncryptItem) ([]enclave.Result, error) {
	const op = "Service.Encrypt"
	if err := s.requireTokenAccess(op); err != nil {
		return nil, err
	}
	if s.enclave == nil {
		return nil, fmt.Errorf("%s: no enclave endpoint configured: %w", op, ErrInvalidConfig)
	}
	token, err := s.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	results, err := s.enclave.Encrypt(ctx, token, items)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return results, nil
}

// Decrypt is the inverse of Encrypt, with the same availability rules.
func (s *Service) Decrypt(ctx context.Context, items []enclave.DecryptItem) ([]enclave.Result, error) {
	const op = "Service.Decrypt"
	if err := s.requireTokenAccess(op); err != nil {
		return nil, err
	}
	if s.enclave == nil {
		return nil, fmt.Errorf("%s: no enclave endpoint configured: %w", op, ErrInvalidConfig)
	}
	token, err := s.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	results, err := s.enclave.Decrypt(ctx, token, items)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return results, nil
}

// Authenticated reports the current authenticated state in either mode.
func (s *Service) Authenticated() bool {
	if s.cfg.Mode() == ModeHybrid {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.hybridAuthenticated
	}
	return s.oidcClient.Authenticated()
}

// Logout ends the session.  In hybrid mode this is purely a local state
// reset; there is no browser-held token to revoke.  In front-channel and
// native modes the protocol client's session is ended, the session cookie
// cleared and any DPoP key state flushed so the next login starts with a
// fresh key pair.
func (s *Service) Logout(ctx context.Context) error {
	const op = "Service.Logout"
	if s.cfg.Mode() == ModeHybrid {
		s.mu.Lock()
		s.hybridAuthenticated = false
		s.hybridReturnURL = ""
		s.mu.Unlock()
		s.events.emit(Logout{})
		return nil
	}
	if err := s.oidcClient.Logout(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if s.sig != nil {
		if err := s.sig.Flush(ctx); err != nil {
			s.logger.Warn("unable to flush dpop state on logout", "err", err)
		}
	}
	return nil
}

// requireTokenAccess enforces the hybrid-mode fail-fast contract for
// token-bearing operations.
func (s *Service) requireTokenAccess(op string) error {
	if s.cfg.Mode() == ModeHybrid {
		return fmt.Errorf("%s: %w", op, ErrHybridModeUnavailable)
	}
	return nil
}

// mirrorCookie copies the current access token into the session cookie.
// Native mode and cookie-less hosts skip it.
func (s *Service) mirrorCookie() {
	if s.cookies == nil || s.cfg.Mode() != ModeFrontChannel {
		return
	}
	t := s.oidcClient.Token()
	if t == nil || t.AccessToken == "" {
		return
	}
	s.cookies.SetCookie(sessionTokenCookie(t.AccessToken))
}

func (s *Service) clearCookie() {
	if s.cookies == nil || s.cfg.Mode() != ModeFrontChannel {
		return
	}
	s.cookies.SetCookie(expiredSessionTokenCookie())
}
