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

package chaincontext

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ErrSignerUnavailable is returned by signers that cannot currently sign,
// for example a disconnected wallet.
var ErrSignerUnavailable = errors.New("signer unavailable")

// Signer is a signing identity supplied by the wallet provider. Implementations
// must be pointer types: the tracker compares signers by identity.
type Signer interface {
	// Address returns the account address of the signer.
	Address() common.Address

	// SignTypedData produces an EIP-712 signature. This may prompt the user
	// and may fail or be rejected.
	SignTypedData(ctx context.Context, typedData apitypes.TypedData) ([]byte, error)

	// SignTx signs a transaction for the given chain.
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// KeySigner signs with an in-process secp256k1 key.
type KeySigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewKeySigner wraps a private key.
func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

// HexToKeySigner parses a hex encoded private key, with or without 0x prefix.
func HexToKeySigner(hexkey string) (*KeySigner, error) {
	if len(hexkey) >= 2 && hexkey[:2] == "0x" {
		hexkey = hexkey[2:]
	}
	key, err := crypto.HexToECDSA(hexkey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewKeySigner(key), nil
}

// Address implements Signer.
func (s *KeySigner) Address() common.Address {
	return s.addr
}

// SignTypedData implements Signer. The returned signature uses the 27/28
// recovery id convention of wallet providers.
func (s *KeySigner) SignTypedData(ctx context.Context, typedData apitypes.TypedData) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignTx implements Signer.
func (s *KeySigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}
