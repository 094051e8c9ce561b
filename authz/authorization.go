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

// Package authz implements the time-bounded, identity-scoped decryption
// authorization and the cache that obtains, persists and reuses it.
package authz

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// MaxDurationDays is the longest validity window a decryption authorization may request.
const MaxDurationDays = 365

// Authorization permits the holder of PrivateKey to decrypt handles owned by
// ContractAddresses on behalf of UserAddress. It is never modified after
// creation; expiry forces a new one.
type Authorization struct {
	PublicKey         hexutil.Bytes    `json:"publicKey"`
	PrivateKey        hexutil.Bytes    `json:"privateKey"`
	Signature         hexutil.Bytes    `json:"signature"`
	UserAddress       common.Address   `json:"userAddress"`
	ContractAddresses []common.Address `json:"contractAddresses"`
	StartTimestamp    int64            `json:"startTimestamp"`
	DurationDays      uint64           `json:"durationDays"`
}

// Targets returns the set of contract addresses this authorization covers.
func (a *Authorization) Targets() mapset.Set[common.Address] {
	return mapset.NewThreadUnsafeSet(a.ContractAddresses...)
}

// Covers reports whether every address in contracts is a target.
func (a *Authorization) Covers(contracts []common.Address) bool {
	return a.Targets().IsSuperset(mapset.NewThreadUnsafeSet(contracts...))
}

// ValidFrom returns the start of the validity window.
func (a *Authorization) ValidFrom() time.Time {
	return time.Unix(a.StartTimestamp, 0)
}

// ExpiresAt returns the first instant at which the authorization is no longer valid.
func (a *Authorization) ExpiresAt() time.Time {
	return a.ValidFrom().Add(time.Duration(a.DurationDays) * 24 * time.Hour)
}

// ValidAt reports whether now falls within [ValidFrom, ExpiresAt).
func (a *Authorization) ValidAt(now time.Time) bool {
	return !now.Before(a.ValidFrom()) && now.Before(a.ExpiresAt())
}

// IsValidFor reports whether the authorization can be used by user to decrypt
// handles of contracts at time now.
func (a *Authorization) IsValidFor(user common.Address, contracts []common.Address, now time.Time) bool {
	return a.UserAddress == user && a.Covers(contracts) && a.ValidAt(now)
}

func (a *Authorization) copy() *Authorization {
	cpy := *a
	cpy.PublicKey = common.CopyBytes(a.PublicKey)
	cpy.PrivateKey = common.CopyBytes(a.PrivateKey)
	cpy.Signature = common.CopyBytes(a.Signature)
	cpy.ContractAddresses = append([]common.Address(nil), a.ContractAddresses...)
	return &cpy
}
