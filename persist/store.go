// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package persist

import (
	"context"
	"sync"
)

// Store keeps the wallet change set.
type Store interface {
	// Read returns everything written so far. A fresh store returns an
	// empty change set.
	Read(ctx context.Context) (*ChangeSet, error)

	// Write merges the change set into the stored one. Either all of it
	// is written or nothing is. Writing a change set for a different
	// network than the stored one fails with ErrNetworkMismatch.
	Write(ctx context.Context, cs *ChangeSet) error
}

// MemoryStore is a Store that keeps the change set in memory.
type MemoryStore struct {
	mu sync.Mutex
	cs ChangeSet
}

// A compile-time check to ensure that MemoryStore satisfies the Store
// interface.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Read returns a copy of the stored change set.
func (m *MemoryStore) Read(ctx context.Context) (*ChangeSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.cs.Clone(), nil
}

// Write merges cs into the stored change set.
func (m *MemoryStore) Write(ctx context.Context, cs *ChangeSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := CheckNetwork(&m.cs, cs); err != nil {
		return err
	}

	m.cs.Merge(cs)

	log.Tracef("Wrote change set to memory store: %d txs, tip %v",
		len(cs.Txs), cs.Tip)

	return nil
}
