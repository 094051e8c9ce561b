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
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/mccoysc/fhesync/chaincontext"
	"github.com/mccoysc/fhesync/fhe"
)

const simulatedGasLimit = 500_000

type slot struct {
	contract common.Address
	user     common.Address
}

type slotState struct {
	temperature fhe.Handle
	feverResult fhe.Handle
}

// Simulated is an in-process EncryptedTemperatureCheck, backed by a
// MockBackend holding the plaintexts. It behaves like the hardhat mock
// network: inputs are verified against their proofs, the comparison runs on
// plaintexts and results are stored as fresh handles readable only by the
// submitter.
type Simulated struct {
	mu       sync.Mutex
	fhe      *fhe.MockBackend
	deployed map[common.Address]bool
	state    map[slot]*slotState
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
	block    uint64
}

// NewSimulated creates a simulated chain with the given deployments.
func NewSimulated(backend *fhe.MockBackend, deployments ...common.Address) *Simulated {
	s := &Simulated{
		fhe:      backend,
		deployed: make(map[common.Address]bool),
		state:    make(map[slot]*slotState),
		nonces:   make(map[common.Address]uint64),
		receipts: make(map[common.Hash]*types.Receipt),
	}
	for _, addr := range deployments {
		s.deployed[addr] = true
	}
	return s
}

func (s *Simulated) ReadHandle(ctx context.Context, snap *chaincontext.Context, address common.Address, field Field) (fhe.Handle, error) {
	if err := ctx.Err(); err != nil {
		return fhe.EmptyHandle, err
	}
	method, err := field.getter()
	if err != nil {
		return fhe.EmptyHandle, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.deployed[address] {
		return fhe.EmptyHandle, fmt.Errorf("TemperatureCheck.%s() call failed: no contract code at %s", method, address.Hex())
	}
	st := s.state[slot{address, snap.SignerAddress()}]
	if st == nil {
		return fhe.EmptyHandle, nil
	}
	if field == FieldTemperature {
		return st.temperature, nil
	}
	return st.feverResult, nil
}

func (s *Simulated) SubmitAndCheck(ctx context.Context, snap *chaincontext.Context, address common.Address, value, threshold fhe.EncryptedInput) (*types.Transaction, error) {
	if !snap.HasSigner() {
		return nil, ErrNoSigner
	}
	data, err := parsedABI.Pack("submitAndCheck", [32]byte(value.Handle), [32]byte(threshold.Handle), value.Proof, threshold.Proof)
	if err != nil {
		return nil, err
	}
	user := snap.SignerAddress()

	s.mu.Lock()
	nonce := s.nonces[user]
	s.mu.Unlock()

	unsigned := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &address,
		Gas:      simulatedGasLimit,
		GasPrice: big.NewInt(1),
		Data:     data,
	})
	// Signing may prompt, so the lock is not held here.
	tx, err := snap.Signer.SignTx(ctx, unsigned, new(big.Int).SetUint64(snap.ChainID))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.deployed[address] {
		return nil, fmt.Errorf("no contract code at %s", address.Hex())
	}
	if s.nonces[user] != nonce {
		return nil, fmt.Errorf("nonce too low: have %d, want %d", nonce, s.nonces[user])
	}
	temp, err := s.fhe.OpenInput(value, address, user)
	if err != nil {
		return nil, fmt.Errorf("execution reverted: %w", err)
	}
	limit, err := s.fhe.OpenInput(threshold, address, user)
	if err != nil {
		return nil, fmt.Errorf("execution reverted: %w", err)
	}
	s.state[slot{address, user}] = &slotState{
		temperature: s.fhe.Store(address, new(big.Int).SetUint64(uint64(temp)), user),
		feverResult: s.fhe.Store(address, temp >= limit, user),
	}
	s.nonces[user]++
	s.block++
	s.receipts[tx.Hash()] = &types.Receipt{
		Type:              tx.Type(),
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: simulatedGasLimit,
		TxHash:            tx.Hash(),
		GasUsed:           simulatedGasLimit,
		BlockNumber:       new(big.Int).SetUint64(s.block),
	}
	log.Debug("Simulated submitAndCheck", "tx", tx.Hash(), "user", user, "block", s.block)
	return tx, nil
}

func (s *Simulated) WaitConfirmed(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, ok := s.receipts[tx.Hash()]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}
