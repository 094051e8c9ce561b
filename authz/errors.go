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

import "errors"

var (
	ErrNotFound          = errors.New("authorization not found")
	ErrExpired           = errors.New("authorization expired")
	ErrSignatureRejected = errors.New("decryption authorization signature rejected")
	ErrInvalidSignature  = errors.New("invalid authorization signature")
	ErrNoTargets         = errors.New("no target contract addresses")
	ErrInvalidDuration   = errors.New("invalid authorization duration")
	ErrUnknownStoreKind  = errors.New("unknown authorization store kind")
)
