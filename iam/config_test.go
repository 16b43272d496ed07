// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package iam

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrontChannelConfig_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		config  FrontChannelConfig
		wantErr bool
	}{
		{
			name: "valid",
			config: FrontChannelConfig{
				Issuer:      "https://idp.example.com",
				ClientId:    "app1",
				RedirectURL: "https://app.example.com/cb",
			},
		},
		{
			name: "missing-issuer",
			config: FrontChannelConfig{
				ClientId:    "app1",
				RedirectURL: "https://app.example.com/cb",
			},
			wantErr: true,
		},
		{
			name: "missing-client-id",
			config: FrontChannelConfig{
				Issuer:      "https://idp.example.com",
				RedirectURL: "https://app.example.com/cb",
			},
			wantErr: true,
		},
		{
			name:    "all-missing",
			config:  FrontChannelConfig{},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(err)
				assert.True(errors.Is(err, ErrInvalidParameter))
				return
			}
			assert.NoError(err)
		})
	}
}

func TestHybridConfig_Validate(t *testing.T) {
	t.Parallel()
	valid := func() HybridConfig {
		return HybridConfig{
			AuthorizationEndpoint: "https://idp.example.com/auth",
			ClientId:              "app1",
			RedirectURI:           "https://app.example.com/cb",
			TokenExchange:         TokenExchangeConfig{Endpoint: "https://app.example.com/api/auth"},
		}
	}
	tests := []struct {
		name    string
		mutate  func(*HybridConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(*HybridConfig) {}},
		{name: "missing-endpoint", mutate: func(c *HybridConfig) { c.AuthorizationEndpoint = "" }, wantErr: true},
		{name: "non-http-endpoint", mutate: func(c *HybridConfig) { c.AuthorizationEndpoint = "ftp://idp/auth" }, wantErr: true},
		{name: "missing-client-id", mutate: func(c *HybridConfig) { c.ClientId = "" }, wantErr: true},
		{name: "missing-redirect", mutate: func(c *HybridConfig) { c.RedirectURI = "" }, wantErr: true},
		{name: "missing-exchange", mutate: func(c *HybridConfig) { c.TokenExchange.Endpoint = "" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(err)
				return
			}
			assert.NoError(err)
		})
	}
}

func TestHybridConfig_ExchangeProvider(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	c := HybridConfig{}
	assert.Equal("tidecloak-auth", c.exchangeProvider())
	c.TokenExchange.Provider = "custom"
	assert.Equal("custom", c.exchangeProvider())
}

func TestConfig_Modes(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.Equal(ModeFrontChannel, (&FrontChannelConfig{}).Mode())
	assert.Equal(ModeHybrid, (&HybridConfig{}).Mode())
	assert.Equal(ModeNative, (&NativeConfig{}).Mode())
}
