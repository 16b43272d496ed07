// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package dpop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStoreManager(t *testing.T, opt ...Option) *StoreManager {
	t.Helper()
	require := require.New(t)
	opt = append([]Option{WithDataDir(t.TempDir())}, opt...)
	m, err := NewStoreManager("https://idp.example.com/realms/test", "app1", opt...)
	require.NoError(err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestNewStoreManager(t *testing.T) {
	t.Parallel()
	t.Run("missing-issuer", func(t *testing.T) {
		assert := assert.New(t)
		_, err := NewStoreManager("", "app1")
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
	t.Run("missing-client-id", func(t *testing.T) {
		assert := assert.New(t)
		_, err := NewStoreManager("https://idp.example.com", "")
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
}

func TestDeriveStoreName(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	name := deriveStoreName("https://idp.example.com", "app1")
	assert.NotContains(name, "idp.example.com")
	assert.NotContains(name, "app1")

	// deterministic per pair, distinct across pairs even when the
	// concatenation of issuer and client id collides
	assert.Equal(name, deriveStoreName("https://idp.example.com", "app1"))
	assert.NotEqual(deriveStoreName("ab", "c"), deriveStoreName("a", "bc"))
}

func TestStoreManager_InitIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	require := require.New(t)
	m := testStoreManager(t)
	require.NoError(m.Init(ctx))
	require.NoError(m.Init(ctx))
}

func TestStoreManager_GetSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	m := testStoreManager(t)
	require.NoError(m.Init(ctx))

	got, err := m.Get(ctx)
	require.NoError(err)
	assert.Nil(got)

	want := &State{Alg: ES256, PrivateKeyDER: []byte{0x30, 0x01}, AuthServerNonce: "n-1"}
	require.NoError(m.Set(ctx, want))

	got, err = m.Get(ctx)
	require.NoError(err)
	require.NotNil(got)
	assert.Equal(want.Alg, got.Alg)
	assert.Equal(want.PrivateKeyDER, got.PrivateKeyDER)
	assert.Equal(want.AuthServerNonce, got.AuthServerNonce)

	// full overwrite, never merged
	require.NoError(m.Set(ctx, &State{Alg: ES384, PrivateKeyDER: []byte{0x30, 0x02}}))
	got, err = m.Get(ctx)
	require.NoError(err)
	assert.Equal(ES384, got.Alg)
	assert.Empty(got.AuthServerNonce)
}

func TestStoreManager_Persistence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	dir := t.TempDir()

	m1, err := NewStoreManager("https://idp.example.com", "app1", WithDataDir(dir))
	require.NoError(err)
	require.NoError(m1.Init(ctx))
	require.NoError(m1.Set(ctx, &State{Alg: ES256, PrivateKeyDER: []byte{0x01}}))
	require.NoError(m1.Close())

	m2, err := NewStoreManager("https://idp.example.com", "app1", WithDataDir(dir))
	require.NoError(err)
	defer func() { _ = m2.Close() }()
	require.NoError(m2.Init(ctx))
	got, err := m2.Get(ctx)
	require.NoError(err)
	require.NotNil(got)
	assert.Equal(ES256, got.Alg)
}

func TestStoreManager_Flush(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	m := testStoreManager(t)
	require.NoError(m.Init(ctx))
	require.NoError(m.Set(ctx, &State{Alg: ES256, PrivateKeyDER: []byte{0x01}}))

	require.NoError(m.Flush(ctx))
	got, err := m.Get(ctx)
	require.NoError(err)
	assert.Nil(got)
}

func TestStoreManager_UpdateAuthServerNonce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tests := []struct {
		name    string
		nonce   string
		wantErr bool
	}{
		{name: "valid", nonce: "eyJ7S_zG.eyJH0-Z"},
		{name: "empty", nonce: "", wantErr: true},
		{name: "too-long", nonce: strings.Repeat("a", 513), wantErr: true},
		{name: "non-printable", nonce: "abc\x01def", wantErr: true},
		{name: "non-ascii", nonce: "abcé", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			m := testStoreManager(t)
			require.NoError(m.Init(ctx))
			err := m.UpdateAuthServerNonce(ctx, tt.nonce)
			if tt.wantErr {
				require.Error(err)
				assert.True(errors.Is(err, ErrInvalidNonce))
				return
			}
			require.NoError(err)
			got, err := m.Get(ctx)
			require.NoError(err)
			require.NotNil(got)
			assert.Equal(tt.nonce, got.AuthServerNonce)
		})
	}
}

func TestStoreManager_StorageFallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// a regular file where the data dir should be makes the sqlite
	// backend unopenable
	badDir := func(t *testing.T) string {
		t.Helper()
		f := filepath.Join(t.TempDir(), "not-a-dir")
		require.NoError(t, os.WriteFile(f, []byte("x"), 0o600))
		return filepath.Join(f, "sub")
	}

	t.Run("falls-back-to-memory", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		m, err := NewStoreManager("https://idp.example.com", "app1", WithDataDir(badDir(t)))
		require.NoError(err)
		defer func() { _ = m.Close() }()
		require.NoError(m.Init(ctx))
		require.NoError(m.Set(ctx, &State{Alg: ES256}))
		got, err := m.Get(ctx)
		require.NoError(err)
		assert.Equal(ES256, got.Alg)
	})
	t.Run("strict-storage-fails", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		m, err := NewStoreManager("https://idp.example.com", "app1", WithDataDir(badDir(t)), WithStrictStorage())
		require.NoError(err)
		defer func() { _ = m.Close() }()
		err = m.Init(ctx)
		require.Error(err)
		assert.True(errors.Is(err, ErrStorageUnavailable))
	})
}

func TestStoreManager_Closed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	m := testStoreManager(t)
	require.NoError(m.Init(ctx))
	require.NoError(m.Close())

	_, err := m.Get(ctx)
	assert.True(errors.Is(err, ErrStoreClosed))
	assert.True(errors.Is(m.Init(ctx), ErrStoreClosed))
	require.NoError(m.Close())
}
