// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package dpop

import (
	"context"
	"sync"
)

// memoryBackend is the fallback storage engine used when the durable store
// cannot be opened.  State held here does not survive the process.
type memoryBackend struct {
	mu      sync.Mutex
	records map[string][]byte
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{records: make(map[string][]byte)}
}

func (b *memoryBackend) get(_ context.Context, name string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.records[name]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (b *memoryBackend) put(_ context.Context, name string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	b.records[name] = cp
	return nil
}

func (b *memoryBackend) delete(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, name)
	return nil
}

func (b *memoryBackend) close() error {
	return nil
}
