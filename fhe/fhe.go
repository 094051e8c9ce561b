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

// Package fhe defines the encrypted handle types and the external encryption
// and decryption capabilities the engine consumes.
package fhe

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mccoysc/fhesync/authz"
)

// Handle is an opaque 32-byte reference to a value held in encrypted form by
// a contract. It reveals nothing about the value.
type Handle = common.Hash

// EmptyHandle is the handle of a value that has never been set.
var EmptyHandle Handle

// IsEmpty reports whether h is the distinguished not-yet-set handle.
func IsEmpty(h Handle) bool {
	return h == EmptyHandle
}

// EncryptedInput is a freshly encrypted value ready for submission, bound to
// one contract and one user by its validity proof.
type EncryptedInput struct {
	Handle Handle
	Proof  []byte
}

// HandleRef names a handle together with the contract that owns it.
type HandleRef struct {
	Handle   Handle
	Contract common.Address
}

// Results maps decrypted handles to their clear values. Integers are
// *big.Int and booleans are bool.
type Results map[Handle]any

// Encryptor produces encrypted inputs for a contract on behalf of a user.
type Encryptor interface {
	EncryptUint32(ctx context.Context, contract, user common.Address, value uint32) (EncryptedInput, error)
}

// Decryptor turns handles into clear values under a valid user authorization.
type Decryptor interface {
	UserDecrypt(ctx context.Context, handles []HandleRef, auth *authz.Authorization) (Results, error)
}

// AsUint64 converts a clear value to an unsigned integer.
func AsUint64(v any) (uint64, bool) {
	switch x := v.(type) {
	case *big.Int:
		if x == nil || x.Sign() < 0 || !x.IsUint64() {
			return 0, false
		}
		return x.Uint64(), true
	case uint64:
		return x, true
	case uint32:
		return uint64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// AsBool converts a clear value to a boolean. Integers other than 0 and 1 are rejected.
func AsBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case *big.Int:
		if x == nil {
			return false, false
		}
		switch {
		case x.Sign() == 0:
			return false, true
		case x.Cmp(common.Big1) == 0:
			return true, true
		}
	}
	return false, false
}
