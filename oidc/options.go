// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"time"
)

// Option defines a common functional options type.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		o(opts)
	}
}

// WithExpirySkew provides an optional expiry skew duration for Token expiry
// checks.
func WithExpirySkew(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*tokenOptions); ok {
			v.withExpirySkew = d
		}
	}
}

// WithPrefix provides an optional prefix for a generated ID.
func WithPrefix(prefix string) Option {
	return func(o interface{}) {
		if v, ok := o.(*idOptions); ok {
			v.withPrefix = prefix
		}
	}
}

// WithScopes provides optional scopes in addition to the required "openid"
// scope.
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withScopes = scopes
		}
	}
}

// WithProviderCA provides an optional CA cert PEM to use when sending
// requests to the provider.
func WithProviderCA(caPEM string) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withProviderCA = caPEM
		}
	}
}

// WithExistingToken seeds Init with a token restored from a previous
// session, enabling a silent session check: a valid token authenticates
// immediately and an expired one is refreshed without user interaction.
func WithExistingToken(t *Token) Option {
	return func(o interface{}) {
		if v, ok := o.(*initOptions); ok {
			v.withExistingToken = t
		}
	}
}

// WithPrompt sets the OAuth prompt parameter on an authorization URL.
func WithPrompt(prompt string) Option {
	return func(o interface{}) {
		if v, ok := o.(*authURLOptions); ok {
			v.withPrompt = prompt
		}
	}
}

type tokenOptions struct {
	withExpirySkew time.Duration
}

func tokenDefaults() tokenOptions {
	return tokenOptions{
		withExpirySkew: DefaultExpirySkew,
	}
}

func getTokenOpts(opt ...Option) tokenOptions {
	opts := tokenDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

type idOptions struct {
	withPrefix string
}

func getIdOpts(opt ...Option) idOptions {
	opts := idOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

type configOptions struct {
	withScopes     []string
	withProviderCA string
}

func getConfigOpts(opt ...Option) configOptions {
	opts := configOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

type initOptions struct {
	withExistingToken *Token
}

func getInitOpts(opt ...Option) initOptions {
	opts := initOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

type authURLOptions struct {
	withPrompt string
}

func getAuthURLOpts(opt ...Option) authURLOptions {
	opts := authURLOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}
