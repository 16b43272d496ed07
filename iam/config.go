// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package iam

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// AuthMode selects how tokens are delivered to the application.
type AuthMode string

const (
	// ModeFrontChannel keeps tokens in the browser process, driven by
	// the OIDC protocol client.
	ModeFrontChannel AuthMode = "front-channel"

	// ModeHybrid delivers only the authorization code to the browser; a
	// trusted backend performs the token exchange and holds tokens.
	ModeHybrid AuthMode = "hybrid"

	// ModeNative is front-channel token handling without a browser
	// session cookie.
	ModeNative AuthMode = "native"
)

// DefaultExchangeProvider is the provider tag sent with hybrid
// token-exchange requests when none is configured.
const DefaultExchangeProvider = "tidecloak-auth"

// Config is the discriminated service configuration.  Exactly one of
// FrontChannelConfig, HybridConfig or NativeConfig is supplied to
// NewService; the mode is carried by the type, not by a string field
// callers must keep consistent.
type Config interface {
	// Mode reports which authentication mode this configuration selects.
	Mode() AuthMode

	// Validate checks that all required fields are present and well
	// formed, aggregating every problem found.
	Validate() error
}

// FrontChannelConfig configures front-channel mode: the service drives an
// OIDC protocol client directly and mirrors the access token into a session
// cookie for server-side middleware.
type FrontChannelConfig struct {
	// Issuer is the authorization server's issuer URL.
	Issuer string

	// ClientId is the relying party's registered client identifier.
	ClientId string

	// ClientSecret is optional; public clients leave it empty and rely
	// on PKCE.
	ClientSecret string

	// RedirectURL receives the authorization response.
	RedirectURL string

	// Scopes to request.  "openid" is added if absent.
	Scopes []string

	// EnclaveEndpoint is the base URL of the encryption gateway.
	// Optional; Encrypt/Decrypt fail when unset.
	EnclaveEndpoint string

	// ProviderCA is an optional PEM certificate to trust when talking to
	// the issuer.
	ProviderCA string
}

func (c *FrontChannelConfig) Mode() AuthMode { return ModeFrontChannel }

func (c *FrontChannelConfig) Validate() error {
	const op = "FrontChannelConfig.Validate"
	var result *multierror.Error
	if c.Issuer == "" {
		result = multierror.Append(result, fmt.Errorf("issuer is empty: %w", ErrInvalidParameter))
	}
	if c.ClientId == "" {
		result = multierror.Append(result, fmt.Errorf("client id is empty: %w", ErrInvalidParameter))
	}
	if c.RedirectURL == "" {
		result = multierror.Append(result, fmt.Errorf("redirect URL is empty: %w", ErrInvalidParameter))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// NativeConfig configures native mode: front-channel token handling with no
// session cookie mirroring.
type NativeConfig struct {
	Issuer          string
	ClientId        string
	ClientSecret    string
	RedirectURL     string
	Scopes          []string
	EnclaveEndpoint string
	ProviderCA      string
}

func (c *NativeConfig) Mode() AuthMode { return ModeNative }

func (c *NativeConfig) Validate() error {
	const op = "NativeConfig.Validate"
	fc := FrontChannelConfig{Issuer: c.Issuer, ClientId: c.ClientId, RedirectURL: c.RedirectURL}
	if err := fc.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, ErrInvalidConfig)
	}
	return nil
}

// TokenExchangeConfig describes the backend endpoint that redeems the
// authorization code in hybrid mode.
type TokenExchangeConfig struct {
	// Endpoint is the URL the code/verifier pair is posted to.
	Endpoint string

	// Provider is the provider tag included in the exchange body.
	// Defaults to DefaultExchangeProvider.
	Provider string

	// Headers are static headers added to every exchange request.
	Headers map[string]string

	// HeaderFunc computes per-request headers (CSRF tokens and the
	// like).  Called once per exchange; an error aborts the exchange.
	HeaderFunc func() (map[string]string, error)
}

// HybridConfig configures hybrid mode: the authorization code is handed to
// a backend for exchange and no token ever reaches this side.
type HybridConfig struct {
	// AuthorizationEndpoint is the authorization server's authorize URL.
	AuthorizationEndpoint string

	// ClientId is the relying party's registered client identifier.
	ClientId string

	// RedirectURI receives the authorization response.
	RedirectURI string

	// Scopes to request on login.
	Scopes []string

	// Prompt is an optional OIDC prompt parameter (for example "login").
	Prompt string

	// TokenExchange describes the backend exchange endpoint.
	TokenExchange TokenExchangeConfig

	// FallbackURL, when set, is returned as the redirect target for the
	// terminal missing-verifier callback condition (typically the login
	// page).
	FallbackURL string
}

func (c *HybridConfig) Mode() AuthMode { return ModeHybrid }

func (c *HybridConfig) Validate() error {
	const op = "HybridConfig.Validate"
	var result *multierror.Error
	if c.AuthorizationEndpoint == "" {
		result = multierror.Append(result, fmt.Errorf("authorization endpoint is empty: %w", ErrInvalidParameter))
	} else if u, err := url.Parse(c.AuthorizationEndpoint); err != nil || !strings.HasPrefix(u.Scheme, "http") {
		result = multierror.Append(result, fmt.Errorf("authorization endpoint %q is not an http(s) URL: %w", c.AuthorizationEndpoint, ErrInvalidParameter))
	}
	if c.ClientId == "" {
		result = multierror.Append(result, fmt.Errorf("client id is empty: %w", ErrInvalidParameter))
	}
	if c.RedirectURI == "" {
		result = multierror.Append(result, fmt.Errorf("redirect URI is empty: %w", ErrInvalidParameter))
	}
	if c.TokenExchange.Endpoint == "" {
		result = multierror.Append(result, fmt.Errorf("token exchange endpoint is empty: %w", ErrInvalidParameter))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *HybridConfig) exchangeProvider() string {
	if c.TokenExchange.Provider != "" {
		return c.TokenExchange.Provider
	}
	return DefaultExchangeProvider
}
