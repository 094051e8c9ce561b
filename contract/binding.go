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

package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/mccoysc/fhesync/chaincontext"
	"github.com/mccoysc/fhesync/fhe"
)

// temperatureCheckABI is the subset of EncryptedTemperatureCheck used here.
// externalEuint32 and ebool/euint32 handles travel as bytes32.
const temperatureCheckABI = `[
	{
		"name": "getTemperature",
		"type": "function",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"internalType": "euint32", "type": "bytes32"}]
	},
	{
		"name": "getFeverResult",
		"type": "function",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"internalType": "ebool", "type": "bytes32"}]
	},
	{
		"name": "protocolId",
		"type": "function",
		"stateMutability": "pure",
		"inputs": [],
		"outputs": [{"type": "uint256"}]
	},
	{
		"name": "submitAndCheck",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"internalType": "externalEuint32", "name": "encryptedTemperature", "type": "bytes32"},
			{"internalType": "externalEuint32", "name": "encryptedThreshold", "type": "bytes32"},
			{"name": "inputProof", "type": "bytes"},
			{"name": "thresholdProof", "type": "bytes"}
		],
		"outputs": []
	}
]`

var parsedABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(temperatureCheckABI))
	if err != nil {
		panic(fmt.Sprintf("invalid TemperatureCheck ABI: %v", err))
	}
	return parsed
}

var (
	ErrNoSigner        = errors.New("no signer for transaction")
	ErrUnexpectedValue = errors.New("unexpected contract return value")
)

// Backend is the RPC surface the binding needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// TemperatureCheck calls EncryptedTemperatureCheck deployments through a
// JSON-RPC backend. The deployment address is passed per call since it
// depends on the chain the caller is currently on.
type TemperatureCheck struct {
	backend Backend
}

func NewTemperatureCheck(backend Backend) *TemperatureCheck {
	return &TemperatureCheck{backend: backend}
}

// ReadHandle returns the handle currently stored for field. The call is made
// from the snapshot's signer when there is one, since the getters are
// scoped to msg.sender on some deployments.
func (c *TemperatureCheck) ReadHandle(ctx context.Context, snap *chaincontext.Context, address common.Address, field Field) (fhe.Handle, error) {
	method, err := field.getter()
	if err != nil {
		return fhe.EmptyHandle, err
	}
	data, err := parsedABI.Pack(method)
	if err != nil {
		return fhe.EmptyHandle, fmt.Errorf("failed to pack function call: %w", err)
	}
	msg := ethereum.CallMsg{
		From: snap.SignerAddress(),
		To:   &address,
		Data: data,
	}
	result, err := c.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return fhe.EmptyHandle, fmt.Errorf("TemperatureCheck.%s() call failed: %w", method, err)
	}
	out, err := parsedABI.Unpack(method, result)
	if err != nil {
		return fhe.EmptyHandle, fmt.Errorf("failed to unpack result: %w", err)
	}
	handle, ok := out[0].([32]byte)
	if !ok {
		return fhe.EmptyHandle, fmt.Errorf("%w: %T", ErrUnexpectedValue, out[0])
	}
	return fhe.Handle(handle), nil
}

// ProtocolID returns the FHEVM protocol id the deployment was compiled for.
func (c *TemperatureCheck) ProtocolID(ctx context.Context, address common.Address) (*big.Int, error) {
	data, err := parsedABI.Pack("protocolId")
	if err != nil {
		return nil, err
	}
	result, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}
	out, err := parsedABI.Unpack("protocolId", result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}
	id, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedValue, out[0])
	}
	return id, nil
}

// SubmitAndCheck sends submitAndCheck with independently encrypted
// temperature and threshold inputs, signed by the snapshot's signer.
func (c *TemperatureCheck) SubmitAndCheck(ctx context.Context, snap *chaincontext.Context, address common.Address, value, threshold fhe.EncryptedInput) (*types.Transaction, error) {
	if !snap.HasSigner() {
		return nil, ErrNoSigner
	}
	signer := snap.Signer
	chainID := new(big.Int).SetUint64(snap.ChainID)

	bound := bind.NewBoundContract(address, parsedABI, c.backend, c.backend, c.backend)
	opts := &bind.TransactOpts{
		From:    signer.Address(),
		Context: ctx,
		Signer: func(from common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if from != signer.Address() {
				return nil, bind.ErrNotAuthorized
			}
			return signer.SignTx(ctx, tx, chainID)
		},
	}
	tx, err := bound.Transact(opts, "submitAndCheck",
		[32]byte(value.Handle), [32]byte(threshold.Handle), value.Proof, threshold.Proof)
	if err != nil {
		return nil, err
	}
	log.Debug("Sent submitAndCheck", "tx", tx.Hash(), "contract", address, "nonce", tx.Nonce())
	return tx, nil
}

// WaitConfirmed blocks until tx is mined or ctx is done.
func (c *TemperatureCheck) WaitConfirmed(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return bind.WaitMined(ctx, c.backend, tx)
}
