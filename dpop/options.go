// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package dpop

import (
	"github.com/hashicorp/go-hclog"
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

// WithStrictStorage makes StoreManager.Init fail with ErrStorageUnavailable
// when the durable storage engine cannot be opened, instead of silently
// degrading to the in-memory fallback.
func WithStrictStorage() Option {
	return func(o interface{}) {
		if v, ok := o.(*storeOptions); ok {
			v.withStrictStorage = true
		}
	}
}

// WithDataDir overrides the directory holding the durable store.
func WithDataDir(dir string) Option {
	return func(o interface{}) {
		if v, ok := o.(*storeOptions); ok {
			v.withDataDir = dir
		}
	}
}

// WithLogger provides an optional hclog.Logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *storeOptions:
			v.withLogger = l
		case *providerOptions:
			v.withLogger = l
		}
	}
}

// WithAccessToken binds a proof to an access token: the proof's ath claim
// carries the base64url-encoded SHA-256 hash of the token.
func WithAccessToken(token string) Option {
	return func(o interface{}) {
		if v, ok := o.(*proofOptions); ok {
			v.withAccessToken = token
		}
	}
}

// WithProofNonce includes a server-issued nonce in the proof payload.
func WithProofNonce(nonce string) Option {
	return func(o interface{}) {
		if v, ok := o.(*proofOptions); ok {
			v.withProofNonce = nonce
		}
	}
}

// WithAlg requests a specific proof algorithm during provider construction.
// The default is DefaultAlg.
func WithAlg(alg Alg) Option {
	return func(o interface{}) {
		if v, ok := o.(*providerOptions); ok {
			v.withAlg = alg
		}
	}
}

type storeOptions struct {
	withStrictStorage bool
	withDataDir       string
	withLogger        hclog.Logger
}

func storeDefaults() storeOptions {
	return storeOptions{
		withLogger: hclog.Default(),
	}
}

func getStoreOpts(opt ...Option) storeOptions {
	opts := storeDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

type providerOptions struct {
	withAlg    Alg
	withLogger hclog.Logger
}

func providerDefaults() providerOptions {
	return providerOptions{
		withAlg:    DefaultAlg,
		withLogger: hclog.Default(),
	}
}

func getProviderOpts(opt ...Option) providerOptions {
	opts := providerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

type proofOptions struct {
	withAccessToken string
	withProofNonce  string
}

func proofDefaults() proofOptions {
	return proofOptions{}
}

func getProofOpts(opt ...Option) proofOptions {
	opts := proofDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
