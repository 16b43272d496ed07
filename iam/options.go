// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package iam

import (
	"net/http"

	"github.com/hashicorp/go-hclog"

	"github.com/tidecloak/tidecloak-go/dpop"
	"github.com/tidecloak/tidecloak-go/enclave"
	"github.com/tidecloak/tidecloak-go/oidc"
)

// Option defines a common functional options type.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default
// options and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		o(opts)
	}
}

// WithOIDCClient injects the protocol client used in front-channel and
// native modes.  When omitted, NewService constructs an oidc.Provider from
// the configuration.
func WithOIDCClient(c oidc.Client) Option {
	return func(o interface{}) {
		if v, ok := o.(*serviceOptions); ok {
			v.withOIDCClient = c
		}
	}
}

// WithEnclaveClient injects the encryption gateway client.  When omitted
// and the configuration carries an enclave endpoint, NewService constructs
// one.
func WithEnclaveClient(c *enclave.Client) Option {
	return func(o interface{}) {
		if v, ok := o.(*serviceOptions); ok {
			v.withEnclaveClient = c
		}
	}
}

// WithSignatureProvider injects the DPoP signature provider.  When set, the
// service flushes its key state on logout and the enclave client built by
// NewService attaches proofs.
func WithSignatureProvider(p *dpop.SignatureProvider) Option {
	return func(o interface{}) {
		if v, ok := o.(*serviceOptions); ok {
			v.withSignatureProvider = p
		}
	}
}

// WithSessionStore overrides the session-scoped storage holding the PKCE
// verifier and return URL between login and callback.
func WithSessionStore(s SessionStore) Option {
	return func(o interface{}) {
		if v, ok := o.(*serviceOptions); ok {
			v.withSessionStore = s
		}
	}
}

// WithCookieSink provides the destination for the mirrored session token
// cookie in front-channel mode.
func WithCookieSink(s CookieSink) Option {
	return func(o interface{}) {
		if v, ok := o.(*serviceOptions); ok {
			v.withCookieSink = s
		}
	}
}

// WithHTTPClient overrides the HTTP client used for the hybrid token
// exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if v, ok := o.(*serviceOptions); ok {
			v.withHTTPClient = c
		}
	}
}

// WithLogger provides an optional hclog.Logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*serviceOptions); ok {
			v.withLogger = l
		}
	}
}

// WithKeepStorage makes HybridCallbackData leave the one-time verifier and
// return URL in session storage, for callers who need to read them more
// than once before committing.
func WithKeepStorage() Option {
	return func(o interface{}) {
		if v, ok := o.(*callbackDataOptions); ok {
			v.withKeepStorage = true
		}
	}
}

type serviceOptions struct {
	withOIDCClient        oidc.Client
	withEnclaveClient     *enclave.Client
	withSignatureProvider *dpop.SignatureProvider
	withSessionStore      SessionStore
	withCookieSink        CookieSink
	withHTTPClient        *http.Client
	withLogger            hclog.Logger
}

func serviceDefaults() serviceOptions {
	return serviceOptions{
		withLogger: hclog.Default(),
	}
}

func getServiceOpts(opt ...Option) serviceOptions {
	opts := serviceDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

type callbackDataOptions struct {
	withKeepStorage bool
}

func getCallbackDataOpts(opt ...Option) callbackDataOptions {
	opts := callbackDataOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}
