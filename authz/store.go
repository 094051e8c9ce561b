// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Key identifies a persisted authorization: one signing address and one set
// of target contracts. Contracts are kept sorted and de-duplicated so equal
// sets yield equal keys.
type Key struct {
	User      common.Address
	Contracts []common.Address
}

// NewKey normalises contracts into a Key.
func NewKey(user common.Address, contracts []common.Address) Key {
	sorted := append([]common.Address(nil), contracts...)
	slices.SortFunc(sorted, func(a, b common.Address) int { return bytes.Compare(a[:], b[:]) })
	return Key{User: user, Contracts: slices.Compact(sorted)}
}

// String returns a stable storage identifier for the key.
func (k Key) String() string {
	buf := make([]byte, 0, len(k.Contracts)*common.AddressLength)
	for _, addr := range k.Contracts {
		buf = append(buf, addr.Bytes()...)
	}
	return k.User.Hex() + "-" + crypto.Keccak256Hash(buf).Hex()[2:18]
}

// Store persists authorizations across calls. Load returns ErrNotFound when
// no authorization exists for the key.
type Store interface {
	Load(ctx context.Context, key Key) (*Authorization, error)
	Save(ctx context.Context, key Key, auth *Authorization) error
	Delete(ctx context.Context, key Key) error
}

// MemoryStore keeps authorizations in process memory. Entries are stored
// encoded so callers can never alias the stored copy.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, key Key) (*Authorization, error) {
	s.mu.RLock()
	data, ok := s.entries[key.String()]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return decodeAuthorization(data)
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, key Key, auth *Authorization) error {
	data, err := json.Marshal(auth)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key.String()] = data
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key.String())
	return nil
}

// Len returns the number of stored authorizations.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func decodeAuthorization(data []byte) (*Authorization, error) {
	var auth Authorization
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, err
	}
	return &auth, nil
}
