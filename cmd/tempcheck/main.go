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

// tempcheck drives the encrypted temperature check from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

const networkCategory = "NETWORK"

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	rpcFlag = &cli.StringFlag{
		Name:     "rpc",
		Usage:    "JSON-RPC endpoint of the chain",
		Category: networkCategory,
	}
	chainIDFlag = &cli.Uint64Flag{
		Name:     "chainid",
		Usage:    "Chain id the deployment is looked up for",
		Category: networkCategory,
	}
	keyFlag = &cli.StringFlag{
		Name:     "key",
		Usage:    "Hex private key of the signing account",
		Category: networkCategory,
	}
	addressFlag = &cli.StringFlag{
		Name:     "address",
		Usage:    "TemperatureCheck address, overrides the configured deployment for the chain",
		Category: networkCategory,
	}
	mockFlag = &cli.BoolFlag{
		Name:     "mock",
		Usage:    "Use the in-process FHEVM backend and contract",
		Category: networkCategory,
	}
	relayerFlag = &cli.StringFlag{
		Name:     "relayer.url",
		Usage:    "Base URL of the FHEVM relayer",
		Category: networkCategory,
	}
	authzStoreFlag = &cli.StringFlag{
		Name:  "authz.store",
		Usage: "Decryption authorization store: memory, file, leveldb or redis",
	}

	tempFlag = &cli.UintFlag{
		Name:     "temp",
		Usage:    "Temperature in tenths of a degree Celsius (375 = 37.5°C)",
		Required: true,
	}
	thenDecryptFlag = &cli.BoolFlag{
		Name:  "decrypt",
		Usage: "Decrypt the new handles after the submission completes",
	}
	listenFlag = &cli.StringFlag{
		Name:  "listen",
		Usage: "HTTP listen address",
	}
	clearFlag = &cli.BoolFlag{
		Name:  "clear",
		Usage: "Delete the stored authorization instead of creating one",
	}
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "tempcheck",
		Usage: "submit and decrypt encrypted temperature checks",
		Flags: append([]cli.Flag{
			configFlag,
			rpcFlag,
			chainIDFlag,
			keyFlag,
			addressFlag,
			mockFlag,
			relayerFlag,
			authzStoreFlag,
		}, logFlags...),
		Before: setupLogging,
		After:  closeLogging,
		Commands: []*cli.Command{
			{
				Name:    "status",
				Aliases: []string{"refresh"},
				Usage:   "Read the current handles",
				Action:  statusCmd,
			},
			{
				Name:   "submit",
				Usage:  "Encrypt and submit a temperature",
				Flags:  []cli.Flag{tempFlag, thenDecryptFlag},
				Action: submitCmd,
			},
			{
				Name:   "decrypt",
				Usage:  "Decrypt the current handles",
				Action: decryptCmd,
			},
			{
				Name:   "auth",
				Usage:  "Create or clear the decryption authorization",
				Flags:  []cli.Flag{clearFlag},
				Action: authCmd,
			},
			{
				Name:   "serve",
				Usage:  "Serve the engine over HTTP",
				Flags:  []cli.Flag{listenFlag},
				Action: serveCmd,
			},
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
