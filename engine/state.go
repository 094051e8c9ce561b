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

package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/mccoysc/fhesync/contract"
	"github.com/mccoysc/fhesync/fhe"
)

type Field = contract.Field

const (
	FieldTemperature = contract.FieldTemperature
	FieldFeverResult = contract.FieldFeverResult
)

// EncryptedHandle is a handle read from the state holder.
type EncryptedHandle struct {
	Field    Field
	Handle   fhe.Handle
	Contract common.Address
}

// ClearedValue is the result of decrypting Handle. It describes the field
// only while Handle is still the field's current handle.
type ClearedValue struct {
	Field  Field
	Handle fhe.Handle
	Value  any
}

// State is a copy of the published engine state.
type State struct {
	ChainID   uint64
	Contract  common.Address
	Deployed  bool
	HasSigner bool

	Handles map[Field]EncryptedHandle
	Cleared map[Field]ClearedValue

	Refreshing bool
	Submitting bool
	Decrypting bool

	Message string
}

// Handle returns the current handle of f for the current deployment.
func (s State) Handle(f Field) fhe.Handle {
	h, ok := s.Handles[f]
	if !ok || h.Contract != s.Contract {
		return fhe.EmptyHandle
	}
	return h.Handle
}

// Clear returns the cleared value of f if it matches the current handle.
func (s State) Clear(f Field) (ClearedValue, bool) {
	h := s.Handle(f)
	c, ok := s.Cleared[f]
	if !ok || fhe.IsEmpty(h) || c.Handle != h {
		return ClearedValue{}, false
	}
	return c, true
}

// IsDecrypted reports whether the current handle of f has been cleared.
func (s State) IsDecrypted(f Field) bool {
	_, ok := s.Clear(f)
	return ok
}

func (s State) IsTemperatureDecrypted() bool { return s.IsDecrypted(FieldTemperature) }
func (s State) IsFeverResultDecrypted() bool { return s.IsDecrypted(FieldFeverResult) }
func (s State) IsDeployed() bool { return s.Deployed }

// Temperature returns the cleared temperature in tenths.
func (s State) Temperature() (uint64, bool) {
	c, ok := s.Clear(FieldTemperature)
	if !ok {
		return 0, false
	}
	return fhe.AsUint64(c.Value)
}

// FeverResult returns the cleared comparison result.
func (s State) FeverResult() (bool, bool) {
	c, ok := s.Clear(FieldFeverResult)
	if !ok {
		return false, false
	}
	return fhe.AsBool(c.Value)
}

// pending returns the handles that are set and not yet cleared.
func (s State) pending() []EncryptedHandle {
	var out []EncryptedHandle
	for _, f := range contract.Fields {
		h := s.Handle(f)
		if fhe.IsEmpty(h) || s.IsDecrypted(f) {
			continue
		}
		out = append(out, EncryptedHandle{Field: f, Handle: h, Contract: s.Contract})
	}
	return out
}

func (s State) CanRefresh() bool {
	return s.Deployed && !s.Refreshing
}

func (s State) CanSubmit() bool {
	return s.Deployed && s.HasSigner && !s.Submitting
}

func (s State) CanDecrypt() bool {
	return s.Deployed && s.HasSigner && !s.Refreshing && !s.Decrypting && len(s.pending()) > 0
}
