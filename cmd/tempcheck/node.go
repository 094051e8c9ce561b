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

package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/mccoysc/fhesync/authz"
	"github.com/mccoysc/fhesync/chaincontext"
	"github.com/mccoysc/fhesync/contract"
	"github.com/mccoysc/fhesync/engine"
	"github.com/mccoysc/fhesync/fhe"
	"github.com/mccoysc/fhesync/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
)

// node is the assembled engine with everything it depends on.
type node struct {
	cfg      *config.Config
	tracker  *chaincontext.Tracker
	store    authz.Store
	cache    *authz.Cache
	engine   *engine.Engine
	binding  *contract.TemperatureCheck // nil with the mock backend
	registry *prometheus.Registry

	closers []func() error
}

// loadConfig merges the config file, environment and command line flags.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx.String(configFlag.Name))
	if err != nil {
		return nil, err
	}
	if ctx.IsSet(rpcFlag.Name) {
		cfg.Network.RPC = ctx.String(rpcFlag.Name)
	}
	if ctx.IsSet(chainIDFlag.Name) {
		cfg.Network.ChainID = ctx.Uint64(chainIDFlag.Name)
	}
	if ctx.IsSet(keyFlag.Name) {
		cfg.Network.PrivateKey = ctx.String(keyFlag.Name)
	}
	if ctx.IsSet(mockFlag.Name) {
		cfg.Relayer.Mock = ctx.Bool(mockFlag.Name)
	}
	if ctx.IsSet(relayerFlag.Name) {
		cfg.Relayer.URL = ctx.String(relayerFlag.Name)
	}
	if ctx.IsSet(authzStoreFlag.Name) {
		cfg.Authorization.Store = ctx.String(authzStoreFlag.Name)
	}
	if ctx.IsSet(addressFlag.Name) {
		if cfg.Deployments == nil {
			cfg.Deployments = make(map[string]string)
		}
		cfg.Deployments[strconv.FormatUint(cfg.Network.ChainID, 10)] = ctx.String(addressFlag.Name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newNode(ctx *cli.Context) (*node, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	return assemble(ctx.Context, cfg)
}

func assemble(ctx context.Context, cfg *config.Config) (_ *node, err error) {
	n := &node{cfg: cfg, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			n.close()
		}
	}()

	var signer chaincontext.Signer
	if cfg.Network.PrivateKey != "" {
		key, err := chaincontext.HexToKeySigner(cfg.Network.PrivateKey)
		if err != nil {
			return nil, err
		}
		signer = key
	}
	n.tracker = chaincontext.NewTracker(cfg.Network.ChainID, signer)

	deployments, err := cfg.DeploymentMap()
	if err != nil {
		return nil, err
	}
	domain := authz.Domain{ChainID: cfg.Network.ChainID, VerifyingContract: cfg.VerifyingContractAddress()}

	var (
		holder engine.StateHolder
		enc    fhe.Encryptor
		dec    fhe.Decryptor
	)
	if cfg.Relayer.Mock {
		if _, ok := deployments[cfg.Network.ChainID]; !ok {
			deployments[cfg.Network.ChainID] = mockDeployment(n.tracker.Current().SignerAddress())
		}
		addrs := make([]common.Address, 0, len(deployments))
		for _, addr := range deployments {
			addrs = append(addrs, addr)
		}
		backend := fhe.NewMockBackend(domain)
		holder, enc, dec = contract.NewSimulated(backend, addrs...), backend, backend
		log.Info("Using mock FHEVM backend", "chainid", cfg.Network.ChainID, "contract", deployments[cfg.Network.ChainID])
	} else {
		client, err := ethclient.DialContext(ctx, cfg.Network.RPC)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Network.RPC, err)
		}
		n.closers = append(n.closers, func() error { client.Close(); return nil })

		remote, err := client.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read chain id: %w", err)
		}
		if remote.Cmp(new(big.Int).SetUint64(cfg.Network.ChainID)) != 0 {
			return nil, fmt.Errorf("chain id mismatch: configured %d, endpoint reports %v", cfg.Network.ChainID, remote)
		}
		n.binding = contract.NewTemperatureCheck(client)
		gateway := fhe.NewGatewayClient(cfg.Relayer.URL, cfg.Network.ChainID, cfg.Relayer.RPS)
		holder, enc, dec = n.binding, gateway, gateway
		log.Info("Connected to network", "rpc", cfg.Network.RPC, "chainid", cfg.Network.ChainID, "relayer", cfg.Relayer.URL)
	}

	store, closeStore, err := authz.OpenStore(cfg.StoreConfig())
	n.closers = append(n.closers, closeStore)
	if err != nil {
		return nil, fmt.Errorf("failed to open authorization store: %w", err)
	}
	n.store = store
	if n.cache, err = authz.NewCache(store, domain, cfg.Authorization.DurationDays); err != nil {
		return nil, err
	}

	conf := engine.DefaultConfig
	conf.Deployments = deployments
	conf.Registerer = n.registry
	n.engine = engine.New(&conf, n.tracker, holder, enc, dec, n.cache)
	return n, nil
}

// mockDeployment is where the first contract deployed by deployer lands.
func mockDeployment(deployer common.Address) common.Address {
	return crypto.CreateAddress(deployer, 0)
}

func (n *node) signer() (chaincontext.Signer, error) {
	snap := n.tracker.Current()
	if !snap.HasSigner() {
		return nil, errors.New("no signing account, set --key or FHESYNC_PRIVATE_KEY")
	}
	return snap.Signer, nil
}

func (n *node) protocolID(ctx context.Context, st engine.State) *big.Int {
	if n.binding == nil || !st.Deployed {
		return nil
	}
	id, err := n.binding.ProtocolID(ctx, st.Contract)
	if err != nil {
		log.Debug("Failed to read protocol id", "err", err)
		return nil
	}
	return id
}

func (n *node) registerRuntimeMetrics() {
	n.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

func (n *node) close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](); err != nil {
			log.Warn("Failed to release resource", "err", err)
		}
	}
	n.closers = nil
}
