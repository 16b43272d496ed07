// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package iam

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tidecloak/tidecloak-go/oidc"
)

// session storage keys for the one-time login state
const (
	verifierStorageKey  = "tidecloak.pkce_verifier"
	stateStorageKey     = "tidecloak.login_state"
	returnURLStorageKey = "tidecloak.return_url"
)

// CallbackResult reports the outcome of handling one callback URL.
type CallbackResult struct {
	// Handled reports whether the URL was a callback at all.  When
	// false the caller proceeds with normal page rendering.
	Handled bool

	// Authenticated reports whether the exchange succeeded.
	Authenticated bool

	// ReturnURL is the application URL captured at login time, set on
	// success.
	ReturnURL string

	// RedirectURL, when set, is where the caller should navigate:
	// the configured fallback for the terminal missing-verifier case.
	RedirectURL string

	// CleanURL is the callback URL with the OAuth query parameters
	// stripped; the caller replaces the visible URL with it (history
	// replace, not reload).
	CleanURL string
}

// callbackOutcome records a handled callback so replayed invocations of the
// same callback observe the original result and error without a second
// exchange or a second round of events.
type callbackOutcome struct {
	result *CallbackResult
	err    error
}

// StartLogin begins a login: it generates a PKCE verifier/challenge pair,
// persists the one-time login state in session storage, and returns the full
// authorization URL the caller should navigate to.
//
// In front-channel and native modes the URL comes from the protocol client,
// so Init must have run discovery first; an opaque state value ties the
// callback back to this login.  In hybrid mode the URL is assembled from the
// configured authorization endpoint and the return URL is additionally
// encoded into the OAuth state parameter so it survives brokers that drop
// session context.
func (s *Service) StartLogin(returnURL string) (string, error) {
	if cfg, ok := s.cfg.(*HybridConfig); ok {
		return s.startHybridLogin(cfg, returnURL)
	}
	return s.startFrontChannelLogin(returnURL)
}

func (s *Service) startFrontChannelLogin(returnURL string) (string, error) {
	const op = "Service.StartLogin"
	v, err := oidc.NewCodeVerifier()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	state, err := oidc.NewId(oidc.WithPrefix("st"))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	authURL, err := s.oidcClient.AuthURL(state, v)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	s.session.Set(verifierStorageKey, v.Verifier())
	s.session.Set(stateStorageKey, state)
	s.session.Set(returnURLStorageKey, returnURL)
	return authURL, nil
}

// HandleCallback processes a callback URL in any mode.
//
// An error query parameter emits AuthError then Ready(false) and counts as
// handled.  A URL with no code parameter is not a callback and is reported
// unhandled.  A code with no stored verifier is terminal for the page load:
// the verifier existed exactly once and is gone (typically the user
// refreshed the callback page), so no exchange is attempted and AuthError
// fires.  Otherwise the code is exchanged: directly against the token
// endpoint in front-channel and native modes, via the backend exchange
// endpoint in hybrid mode.
//
// Concurrent calls with the same code are coalesced into a single exchange:
// authorization codes are single-use, and a racing duplicate submission
// would fail confusingly downstream.  Later calls with an already-handled
// code (or an already-handled error URL) return the recorded result and
// error without touching the network or re-emitting events.
func (s *Service) HandleCallback(ctx context.Context, rawURL string) (*CallbackResult, error) {
	const op = "Service.HandleCallback"
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse callback URL: %w", op, ErrInvalidParameter)
	}
	q := u.Query()

	if errParam := q.Get("error"); errParam != "" {
		key := "url\x00" + rawURL
		s.mu.Lock()
		if cached, ok := s.callbackResults[key]; ok {
			s.mu.Unlock()
			return cached.result, cached.err
		}
		s.mu.Unlock()

		authErr := fmt.Errorf("%s: authorization server returned %q: %w", op, errParam, ErrExchangeFailed)
		if s.cfg.Mode() == ModeHybrid {
			s.setHybridAuthenticated(false, "")
		}
		s.events.emit(AuthError{Err: authErr})
		s.events.emit(Ready{Authenticated: false})
		result := &CallbackResult{Handled: true, CleanURL: stripOAuthParams(u)}
		s.mu.Lock()
		s.callbackResults[key] = &callbackOutcome{result: result}
		s.mu.Unlock()
		return result, nil
	}

	code := q.Get("code")
	if code == "" {
		return &CallbackResult{}, nil
	}

	key := "code\x00" + code
	s.mu.Lock()
	if cached, ok := s.callbackResults[key]; ok {
		s.mu.Unlock()
		return cached.result, wrapCallbackErr(op, cached.err)
	}
	s.mu.Unlock()

	v, _, _ := s.exchangeGroup.Do(code, func() (interface{}, error) {
		// re-check: the flight for this code may have completed between
		// the cache miss above and entering the group
		s.mu.Lock()
		if cached, ok := s.callbackResults[key]; ok {
			s.mu.Unlock()
			return cached, nil
		}
		s.mu.Unlock()

		var result *CallbackResult
		var exchangeErr error
		if cfg, ok := s.cfg.(*HybridConfig); ok {
			result, exchangeErr = s.runHybridExchange(ctx, cfg, u, code)
		} else {
			result, exchangeErr = s.runFrontChannelExchange(ctx, u, code)
		}
		outcome := &callbackOutcome{result: result, err: exchangeErr}
		s.mu.Lock()
		s.callbackResults[key] = outcome
		s.mu.Unlock()
		return outcome, nil
	})
	outcome := v.(*callbackOutcome)
	return outcome.result, wrapCallbackErr(op, outcome.err)
}

func wrapCallbackErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// runFrontChannelExchange is the front-channel/native single-flight body: it
// consumes the one-time login state and exchanges the code through the
// protocol client.  The client's wired callbacks emit AuthSuccess or
// AuthError; Ready is emitted here exactly once.
func (s *Service) runFrontChannelExchange(ctx context.Context, u *url.URL, code string) (*CallbackResult, error) {
	cleanURL := stripOAuthParams(u)

	verifier, haveVerifier := s.session.Get(verifierStorageKey)
	if !haveVerifier || verifier == "" {
		s.events.emit(AuthError{Err: ErrMissingVerifier})
		s.events.emit(Ready{Authenticated: false})
		return &CallbackResult{Handled: true, CleanURL: cleanURL}, ErrMissingVerifier
	}
	storedState, _ := s.session.Get(stateStorageKey)
	if state := u.Query().Get("state"); storedState == "" || state != storedState {
		s.events.emit(AuthError{Err: ErrStateMismatch})
		s.events.emit(Ready{Authenticated: false})
		return &CallbackResult{Handled: true, CleanURL: cleanURL}, ErrStateMismatch
	}
	returnURL, _ := s.session.Get(returnURLStorageKey)
	s.session.Delete(verifierStorageKey)
	s.session.Delete(stateStorageKey)
	s.session.Delete(returnURLStorageKey)

	v, err := oidc.RestoreCodeVerifier(verifier)
	if err != nil {
		s.events.emit(AuthError{Err: err})
		s.events.emit(Ready{Authenticated: false})
		return &CallbackResult{Handled: true, CleanURL: cleanURL}, err
	}
	if _, err := s.oidcClient.Exchange(ctx, code, v); err != nil {
		// the OnAuthError callback already emitted AuthError
		s.events.emit(Ready{Authenticated: false})
		return &CallbackResult{Handled: true, CleanURL: cleanURL}, err
	}

	s.events.emit(Ready{Authenticated: true})
	return &CallbackResult{
		Handled:       true,
		Authenticated: true,
		ReturnURL:     returnURL,
		CleanURL:      cleanURL,
	}, nil
}

// isCallbackURL reports whether the URL carries OAuth response parameters.
func isCallbackURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	q := u.Query()
	return q.Get("code") != "" || q.Get("error") != ""
}

// stripOAuthParams removes the OAuth response parameters from a callback
// URL, leaving the rest of the query intact.
func stripOAuthParams(u *url.URL) string {
	clean := *u
	q := clean.Query()
	for _, param := range []string{"code", "state", "error", "error_description", "session_state", "iss"} {
		q.Del(param)
	}
	clean.RawQuery = q.Encode()
	return clean.String()
}
