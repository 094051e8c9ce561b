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

package fhe

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mccoysc/fhesync/authz"
)

type mockInput struct {
	value    uint32
	contract common.Address
	user     common.Address
}

type mockValue struct {
	value    any
	contract common.Address
	allowed  mapset.Set[common.Address]
}

// MockBackend is an in-process stand-in for the FHE coprocessor and relayer.
// It keeps clear values next to the handles it issues, so encryption and
// decryption are bookkeeping rather than cryptography. Use it for local
// development networks and tests only.
type MockBackend struct {
	mu     sync.Mutex
	domain authz.Domain
	now    func() time.Time
	seq    uint64
	inputs map[Handle]mockInput
	values map[Handle]*mockValue
}

// NewMockBackend creates a mock that accepts authorizations signed under domain.
func NewMockBackend(domain authz.Domain) *MockBackend {
	return &MockBackend{
		domain: domain,
		now:    time.Now,
		inputs: make(map[Handle]mockInput),
		values: make(map[Handle]*mockValue),
	}
}

// SetClock overrides the time source used to check authorization validity.
func (m *MockBackend) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// EncryptUint32 implements Encryptor.
func (m *MockBackend) EncryptUint32(ctx context.Context, contract, user common.Address, value uint32) (EncryptedInput, error) {
	if err := ctx.Err(); err != nil {
		return EncryptedInput{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	handle := m.nextHandle(contract, user)
	m.inputs[handle] = mockInput{value: value, contract: contract, user: user}
	return EncryptedInput{Handle: handle, Proof: inputProof(handle, contract, user)}, nil
}

// OpenInput checks an encrypted input the way a contract's input verifier
// would, returning the clear value it carries. Each input is single use.
func (m *MockBackend) OpenInput(in EncryptedInput, contract, user common.Address) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.inputs[in.Handle]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownHandle, in.Handle.Hex())
	}
	if entry.contract != contract || entry.user != user || !bytes.Equal(in.Proof, inputProof(in.Handle, contract, user)) {
		return 0, ErrInvalidProof
	}
	delete(m.inputs, in.Handle)
	return entry.value, nil
}

// Store records a computed value owned by contract and returns its new
// handle. The listed accounts may decrypt it.
func (m *MockBackend) Store(contract common.Address, value any, allowed ...common.Address) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	handle := m.nextHandle(contract, common.Address{})
	m.values[handle] = &mockValue{
		value:    value,
		contract: contract,
		allowed:  mapset.NewThreadUnsafeSet(allowed...),
	}
	return handle
}

// UserDecrypt implements Decryptor.
func (m *MockBackend) UserDecrypt(ctx context.Context, handles []HandleRef, auth *authz.Authorization) (Results, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if auth == nil {
		return nil, ErrUnauthorized
	}
	if err := m.domain.Verify(auth); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if !auth.ValidAt(m.now()) {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, authz.ErrExpired)
	}
	results := make(Results, len(handles))
	for _, ref := range handles {
		entry, ok := m.values[ref.Handle]
		if !ok || entry.contract != ref.Contract {
			return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, ref.Handle.Hex())
		}
		if !auth.Covers([]common.Address{ref.Contract}) {
			return nil, fmt.Errorf("%w: contract %s not covered", ErrUnauthorized, ref.Contract.Hex())
		}
		if !entry.allowed.Contains(auth.UserAddress) {
			return nil, fmt.Errorf("%w: %s", ErrNotAllowed, ref.Handle.Hex())
		}
		results[ref.Handle] = cloneValue(entry.value)
	}
	return results, nil
}

func (m *MockBackend) nextHandle(contract, user common.Address) Handle {
	m.seq++
	var salt [16]byte
	binary.BigEndian.PutUint64(salt[:8], m.seq)
	rand.Read(salt[8:])
	return crypto.Keccak256Hash(contract.Bytes(), user.Bytes(), salt[:])
}

func inputProof(handle Handle, contract, user common.Address) []byte {
	return crypto.Keccak256(handle.Bytes(), contract.Bytes(), user.Bytes())
}

func cloneValue(v any) any {
	if x, ok := v.(*big.Int); ok {
		return new(big.Int).Set(x)
	}
	return v
}
