// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package dpop

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// State is the persisted DPoP state for one (issuer, clientId) pair: the
// active algorithm, the private key in PKCS#8 DER, and the authorization
// server's current nonce.  Resource-server nonces are deliberately absent:
// they are held only in memory by the SignatureProvider.
type State struct {
	Alg             Alg    `json:"alg"`
	PrivateKeyDER   []byte `json:"private_key_der"`
	AuthServerNonce string `json:"auth_server_nonce,omitempty"`
}

// backend is the storage engine behind a StoreManager.  Implementations must
// apply each operation atomically from the caller's perspective.
type backend interface {
	get(ctx context.Context, name string) ([]byte, error)
	put(ctx context.Context, name string, data []byte) error
	delete(ctx context.Context, name string) error
	close() error
}

// StoreManager persists one DPoP State per (issuer, clientId) pair.  The
// record is addressed by a name derived from a one-way hash of the issuer
// and client id, so no raw identifier leaks into storage naming and records
// for different tenants cannot collide.
//
// A StoreManager assumes a single logical writer.  Multi-process or
// multi-tab coherency is not provided.
type StoreManager struct {
	issuer   string
	clientID string
	name     string

	mu      sync.Mutex
	backend backend
	closed  bool

	strictStorage bool
	dataDir       string
	logger        hclog.Logger
}

// NewStoreManager creates a StoreManager for the given issuer and client id.
// Init must be called before any other operation.
//
// Supported options: WithStrictStorage, WithDataDir, WithLogger.
func NewStoreManager(issuer, clientID string, opt ...Option) (*StoreManager, error) {
	const op = "dpop.NewStoreManager"
	if issuer == "" {
		return nil, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	if clientID == "" {
		return nil, fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	opts := getStoreOpts(opt...)
	return &StoreManager{
		issuer:        issuer,
		clientID:      clientID,
		name:          deriveStoreName(issuer, clientID),
		strictStorage: opts.withStrictStorage,
		dataDir:       opts.withDataDir,
		logger:        opts.withLogger.Named("dpop-store"),
	}, nil
}

// deriveStoreName hashes the issuer and client id into an opaque record
// name.  The separator prevents ambiguity between ("ab","c") and ("a","bc").
func deriveStoreName(issuer, clientID string) string {
	sum := sha256.Sum256([]byte(issuer + "\x00" + clientID))
	return "dpop-" + hex.EncodeToString(sum[:])
}

// Init opens the persistent store, creating it if absent.  It is idempotent.
// If the durable engine cannot be opened the manager falls back to an
// in-memory store, unless WithStrictStorage was set, in which case Init
// fails with ErrStorageUnavailable.
func (m *StoreManager) Init(ctx context.Context) error {
	const op = "StoreManager.Init"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%s: %w", op, ErrStoreClosed)
	}
	if m.backend != nil {
		return nil
	}
	var b backend
	b, err := newSqliteBackend(ctx, m.dataDir)
	if err != nil {
		if m.strictStorage {
			return fmt.Errorf("%s: unable to open durable store: %v: %w", op, err, ErrStorageUnavailable)
		}
		m.logger.Warn("durable store unavailable, falling back to in-memory state", "error", err)
		b = newMemoryBackend()
	}
	m.backend = b
	return nil
}

// Get returns the current state, or nil if none has been stored.
func (m *StoreManager) Get(ctx context.Context) (*State, error) {
	const op = "StoreManager.Get"
	b, err := m.activeBackend(op)
	if err != nil {
		return nil, err
	}
	data, err := b.get(ctx, m.name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if data == nil {
		return nil, nil
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%s: corrupt state record: %w", op, err)
	}
	return &s, nil
}

// Set overwrites the stored state.  The record is replaced wholesale; there
// is no merging.
func (m *StoreManager) Set(ctx context.Context, s *State) error {
	const op = "StoreManager.Set"
	if s == nil {
		return fmt.Errorf("%s: state is nil: %w", op, ErrNilParameter)
	}
	b, err := m.activeBackend(op)
	if err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := b.put(ctx, m.name, data); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UpdateAuthServerNonce validates and stores the authorization server's
// nonce.  This is the strict path: the value comes from a party the client
// has an established relationship with, and the caller can surface the
// error, so invalid nonces fail loudly.
func (m *StoreManager) UpdateAuthServerNonce(ctx context.Context, nonce string) error {
	const op = "StoreManager.UpdateAuthServerNonce"
	if err := validateNonce(nonce); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s, err := m.Get(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if s == nil {
		s = &State{}
	}
	s.AuthServerNonce = nonce
	if err := m.Set(ctx, s); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Flush deletes all persisted state for this (issuer, clientId).  Called on
// logout so the next session generates a fresh key pair.
func (m *StoreManager) Flush(ctx context.Context) error {
	const op = "StoreManager.Flush"
	b, err := m.activeBackend(op)
	if err != nil {
		return err
	}
	if err := b.delete(ctx, m.name); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close releases the underlying storage engine.  The manager cannot be
// reused after Close.
func (m *StoreManager) Close() error {
	const op = "StoreManager.Close"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.backend == nil {
		return nil
	}
	if err := m.backend.close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.backend = nil
	return nil
}

func (m *StoreManager) activeBackend(op string) (backend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("%s: %w", op, ErrStoreClosed)
	}
	if m.backend == nil {
		return nil, fmt.Errorf("%s: Init not called: %w", op, ErrNotInitialized)
	}
	return m.backend, nil
}
