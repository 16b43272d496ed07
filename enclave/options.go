// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package enclave

import (
	"net/http"

	"github.com/hashicorp/go-hclog"

	"github.com/tidecloak/tidecloak-go/dpop"
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

// WithHTTPClient overrides the default http client.
func WithHTTPClient(client *http.Client) Option {
	return func(o interface{}) {
		if v, ok := o.(*clientOptions); ok {
			v.withHTTPClient = client
		}
	}
}

// WithSignatureProvider attaches a DPoP proof, bound to the bearer token,
// to every enclave request.
func WithSignatureProvider(p *dpop.SignatureProvider) Option {
	return func(o interface{}) {
		if v, ok := o.(*clientOptions); ok {
			v.withSignatureProvider = p
		}
	}
}

// WithLogger provides an optional hclog.Logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*clientOptions); ok {
			v.withLogger = l
		}
	}
}

type clientOptions struct {
	withHTTPClient        *http.Client
	withSignatureProvider *dpop.SignatureProvider
	withLogger            hclog.Logger
}

func clientDefaults() clientOptions {
	return clientOptions{
		withLogger: hclog.Default(),
	}
}

func getClientOpts(opt ...Option) clientOptions {
	opts := clientDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
