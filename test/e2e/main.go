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

// e2e runs refresh, submit and decrypt against a live network and relayer.
//
//	go run ./test/e2e <RPC_URL> <CONTRACT> <RELAYER_URL> <VERIFYING_CONTRACT> <HEX_KEY>
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/mccoysc/fhesync/authz"
	"github.com/mccoysc/fhesync/chaincontext"
	"github.com/mccoysc/fhesync/contract"
	"github.com/mccoysc/fhesync/engine"
	"github.com/mccoysc/fhesync/fhe"
)

func main() {
	fmt.Println("=== TemperatureCheck end-to-end test ===")

	if len(os.Args) < 6 {
		fmt.Println("usage: e2e <RPC_URL> <CONTRACT> <RELAYER_URL> <VERIFYING_CONTRACT> <HEX_KEY>")
		os.Exit(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client, err := ethclient.DialContext(ctx, os.Args[1])
	if err != nil {
		fail("connect", err)
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		fail("chain id", err)
	}
	fmt.Printf("✓ chain id: %s\n", chainID)

	signer, err := chaincontext.HexToKeySigner(os.Args[5])
	if err != nil {
		fail("key", err)
	}
	fmt.Printf("✓ signer: %s\n", signer.Address())

	address := common.HexToAddress(os.Args[2])
	binding := contract.NewTemperatureCheck(client)
	id, err := binding.ProtocolID(ctx, address)
	if err != nil {
		fail("protocolId", err)
	}
	fmt.Printf("✓ protocol id: %s\n", id)

	domain := authz.Domain{ChainID: chainID.Uint64(), VerifyingContract: common.HexToAddress(os.Args[4])}
	cache, err := authz.NewCache(authz.NewMemoryStore(), domain, 1)
	if err != nil {
		fail("authorization cache", err)
	}
	gateway := fhe.NewGatewayClient(os.Args[3], chainID.Uint64(), 2)
	e := engine.New(&engine.Config{Deployments: map[uint64]common.Address{chainID.Uint64(): address}},
		chaincontext.NewTracker(chainID.Uint64(), signer), binding, gateway, gateway, cache)

	step(ctx, "refresh", e.Refresh)
	for _, tenths := range []uint32{365, 380} {
		step(ctx, fmt.Sprintf("submit %d", tenths), func(ctx context.Context) error { return e.Submit(ctx, tenths) })
		step(ctx, "decrypt", e.Decrypt)

		st := e.Snapshot()
		temp, _ := st.Temperature()
		fever, _ := st.FeverResult()
		if temp != uint64(tenths) || fever != (tenths >= engine.FeverThreshold) {
			fmt.Printf("  ❌ got temperature=%d fever=%v\n", temp, fever)
			os.Exit(1)
		}
		fmt.Printf("  ✓ temperature=%d fever=%v\n", temp, fever)
	}
	fmt.Println("\n✓ test completed")
}

func step(ctx context.Context, name string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		fail(name, err)
	}
	fmt.Printf("✓ %s\n", name)
}

func fail(name string, err error) {
	fmt.Printf("❌ %s: %v\n", name, err)
	os.Exit(1)
}
