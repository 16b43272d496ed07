// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package iam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidecloak/tidecloak-go/oidc"
)

// stateURLPrefix marks the return URL carried inside the OAuth state
// parameter.  Some brokers rewrite opaque state values; the prefix lets the
// callback recognize and recover the URL regardless.
const stateURLPrefix = "__url_"

// CallbackData is the parsed callback payload for callers who run their
// own exchange instead of the built-in one.
type CallbackData struct {
	Code        string
	State       string
	ReturnURL   string
	Verifier    string
	RedirectURI string
	Provider    string
}

// startHybridLogin assembles the authorization URL from the configured
// endpoint.  The return URL is encoded into the OAuth state parameter in
// addition to session storage so it survives brokers that drop session
// context.
func (s *Service) startHybridLogin(cfg *HybridConfig, returnURL string) (string, error) {
	const op = "Service.StartLogin"
	v, err := oidc.NewCodeVerifier()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	s.session.Set(verifierStorageKey, v.Verifier())
	s.session.Set(returnURLStorageKey, returnURL)

	q := url.Values{}
	q.Set("client_id", cfg.ClientId)
	q.Set("redirect_uri", cfg.RedirectURI)
	q.Set("response_type", "code")
	q.Set("code_challenge", v.Challenge())
	q.Set("code_challenge_method", string(v.Method()))
	q.Set("state", stateURLPrefix+returnURL)
	if len(cfg.Scopes) > 0 {
		q.Set("scope", strings.Join(cfg.Scopes, " "))
	}
	if cfg.Prompt != "" {
		q.Set("prompt", cfg.Prompt)
	}
	return cfg.AuthorizationEndpoint + "?" + q.Encode(), nil
}

// initHybrid is the hybrid arm of Init.  A URL carrying OAuth callback
// parameters runs the callback state machine; anything else just reports
// the current state.
func (s *Service) initHybrid(ctx context.Context, currentURL string) (bool, error) {
	const op = "Service.initHybrid"
	result, err := s.HandleCallback(ctx, currentURL)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if result.Handled {
		return result.Authenticated, nil
	}
	s.mu.Lock()
	authenticated := s.hybridAuthenticated
	s.mu.Unlock()
	s.events.emit(Ready{Authenticated: authenticated})
	return authenticated, nil
}

// runHybridExchange is the hybrid single-flight body: it consumes the
// one-time login state and performs the backend exchange, emitting the
// outcome events exactly once.
func (s *Service) runHybridExchange(ctx context.Context, cfg *HybridConfig, u *url.URL, code string) (*CallbackResult, error) {
	cleanURL := stripOAuthParams(u)

	verifier, haveVerifier := s.session.Get(verifierStorageKey)
	if !haveVerifier || verifier == "" {
		s.setHybridAuthenticated(false, "")
		s.events.emit(AuthError{Err: ErrMissingVerifier})
		s.events.emit(Ready{Authenticated: false})
		return &CallbackResult{
			Handled:     true,
			RedirectURL: cfg.FallbackURL,
			CleanURL:    cleanURL,
		}, ErrMissingVerifier
	}
	returnURL := s.callbackReturnURL(u.Query().Get("state"))
	s.session.Delete(verifierStorageKey)
	s.session.Delete(returnURLStorageKey)

	if err := s.postExchange(ctx, cfg, code, verifier); err != nil {
		s.setHybridAuthenticated(false, "")
		s.events.emit(AuthError{Err: err})
		s.events.emit(Ready{Authenticated: false})
		return &CallbackResult{Handled: true, CleanURL: cleanURL}, err
	}

	s.setHybridAuthenticated(true, returnURL)
	s.events.emit(AuthSuccess{})
	s.events.emit(Ready{Authenticated: true})
	return &CallbackResult{
		Handled:       true,
		Authenticated: true,
		ReturnURL:     returnURL,
		CleanURL:      cleanURL,
	}, nil
}

// callbackReturnURL recovers the return URL, preferring the state
// parameter over session storage.
func (s *Service) callbackReturnURL(state string) string {
	if strings.HasPrefix(state, stateURLPrefix) {
		return strings.TrimPrefix(state, stateURLPrefix)
	}
	stored, _ := s.session.Get(returnURLStorageKey)
	return stored
}

// exchangeRequest is the fixed backend contract: the code, verifier and
// redirect URI travel as a JSON string nested under accessToken.  The
// shape is backward compatibility with an existing integration point; do
// not normalize it.
type exchangeRequest struct {
	AccessToken string `json:"accessToken"`
	Provider    string `json:"provider"`
}

type exchangeCode struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
	RedirectURI  string `json:"redirect_uri"`
}

func (s *Service) postExchange(ctx context.Context, cfg *HybridConfig, code, verifier string) error {
	inner, err := json.Marshal(exchangeCode{
		Code:         code,
		CodeVerifier: verifier,
		RedirectURI:  cfg.RedirectURI,
	})
	if err != nil {
		return fmt.Errorf("unable to marshal exchange payload: %w", err)
	}
	body, err := json.Marshal(exchangeRequest{
		AccessToken: string(inner),
		Provider:    cfg.exchangeProvider(),
	})
	if err != nil {
		return fmt.Errorf("unable to marshal exchange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenExchange.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("unable to create exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, val := range cfg.TokenExchange.Headers {
		req.Header.Set(k, val)
	}
	if cfg.TokenExchange.HeaderFunc != nil {
		dynamic, err := cfg.TokenExchange.HeaderFunc()
		if err != nil {
			return fmt.Errorf("header func failed: %w", err)
		}
		for k, val := range dynamic {
			req.Header.Set(k, val)
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrExchangeFailed)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("exchange endpoint returned status %d: %w", resp.StatusCode, ErrExchangeFailed)
	}
	return nil
}

// HybridCallbackData parses the callback URL and returns the fields needed
// to run a custom exchange instead of the built-in one.  Reading consumes
// the one-time session state unless WithKeepStorage is given; the parsed
// payload is cached so a duplicate invocation (double-mounted UI) still
// observes the same data after the storage was cleared.
func (s *Service) HybridCallbackData(rawURL string, opt ...Option) (*CallbackData, error) {
	const op = "Service.HybridCallbackData"
	cfg, ok := s.cfg.(*HybridConfig)
	if !ok {
		return nil, fmt.Errorf("%s: not in hybrid mode: %w", op, ErrInvalidConfig)
	}
	opts := getCallbackDataOpts(opt...)

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse callback URL: %w", op, ErrInvalidParameter)
	}
	q := u.Query()
	code := q.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%s: URL carries no authorization code: %w", op, ErrInvalidParameter)
	}

	s.mu.Lock()
	cached := s.lastCallbackData
	s.mu.Unlock()
	if cached != nil && cached.Code == code {
		return cached, nil
	}

	verifier, ok := s.session.Get(verifierStorageKey)
	if !ok || verifier == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingVerifier)
	}
	data := &CallbackData{
		Code:        code,
		State:       q.Get("state"),
		ReturnURL:   s.callbackReturnURL(q.Get("state")),
		Verifier:    verifier,
		RedirectURI: cfg.RedirectURI,
		Provider:    cfg.exchangeProvider(),
	}
	if !opts.withKeepStorage {
		s.session.Delete(verifierStorageKey)
		s.session.Delete(returnURLStorageKey)
	}
	s.mu.Lock()
	s.lastCallbackData = data
	s.mu.Unlock()
	return data, nil
}

// ReturnURL returns the application URL captured by the last successful
// hybrid login, or "".
func (s *Service) ReturnURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hybridReturnURL
}

func (s *Service) setHybridAuthenticated(authenticated bool, returnURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hybridAuthenticated = authenticated
	s.hybridReturnURL = returnURL
}
