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
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/fatih/color"
	"github.com/mccoysc/fhesync/authz"
	"github.com/mccoysc/fhesync/internal/api"
	"github.com/urfave/cli/v2"
)

func statusCmd(ctx *cli.Context) error {
	n, err := newNode(ctx)
	if err != nil {
		return err
	}
	defer n.close()

	err = n.engine.Refresh(ctx.Context)
	st := n.engine.Snapshot()
	renderState(color.Output, st, n.tracker.Current().SignerAddress(), n.protocolID(ctx.Context, st))
	return err
}

func submitCmd(ctx *cli.Context) error {
	n, err := newNode(ctx)
	if err != nil {
		return err
	}
	defer n.close()

	tenths := ctx.Uint(tempFlag.Name)
	if tenths > uint(^uint32(0)) {
		return fmt.Errorf("temperature %d out of range", tenths)
	}
	err = n.engine.Submit(ctx.Context, uint32(tenths))
	if err == nil && ctx.Bool(thenDecryptFlag.Name) {
		err = n.engine.Decrypt(ctx.Context)
	}
	renderState(color.Output, n.engine.Snapshot(), n.tracker.Current().SignerAddress(), nil)
	return err
}

func decryptCmd(ctx *cli.Context) error {
	n, err := newNode(ctx)
	if err != nil {
		return err
	}
	defer n.close()

	if err = n.engine.Refresh(ctx.Context); err == nil {
		err = n.engine.Decrypt(ctx.Context)
	}
	renderState(color.Output, n.engine.Snapshot(), n.tracker.Current().SignerAddress(), nil)
	return err
}

func authCmd(ctx *cli.Context) error {
	n, err := newNode(ctx)
	if err != nil {
		return err
	}
	defer n.close()

	st := n.engine.Snapshot()
	if !st.Deployed {
		return fmt.Errorf("no TemperatureCheck deployment for chain %d", st.ChainID)
	}
	signer, err := n.signer()
	if err != nil {
		return err
	}
	contracts := []common.Address{st.Contract}

	if ctx.Bool(clearFlag.Name) {
		if err := n.store.Delete(ctx.Context, authz.NewKey(signer.Address(), contracts)); err != nil {
			return err
		}
		fmt.Fprintf(color.Output, "Cleared authorization of %s for %s\n", signer.Address(), st.Contract)
		return nil
	}
	auth, err := n.cache.LoadOrSign(ctx.Context, signer, contracts)
	if err != nil {
		return err
	}
	renderAuthorization(color.Output, auth)
	return nil
}

func serveCmd(ctx *cli.Context) error {
	n, err := newNode(ctx)
	if err != nil {
		return err
	}
	defer n.close()
	n.registerRuntimeMetrics()

	addr := n.cfg.API.Listen
	if ctx.IsSet(listenFlag.Name) {
		addr = ctx.String(listenFlag.Name)
	}
	sigctx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	n.engine.Start()
	defer n.engine.Stop()

	start := time.Now()
	err = api.NewServer(n.engine, n.registry, n.cfg.API.CORSOrigins).ListenAndServe(sigctx, addr)
	log.Info("HTTP API stopped", "uptime", time.Since(start).Round(time.Second))
	return err
}
