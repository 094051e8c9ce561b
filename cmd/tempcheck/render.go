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
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/mccoysc/fhesync/authz"
	"github.com/mccoysc/fhesync/engine"
	"github.com/mccoysc/fhesync/fhe"
)

var (
	labelColor  = color.New(color.Bold)
	feverColor  = color.New(color.FgRed, color.Bold)
	normalColor = color.New(color.FgGreen)
	faintColor  = color.New(color.Faint)
)

func renderState(w io.Writer, st engine.State, signer common.Address, protocolID *big.Int) {
	row := func(label, value string) {
		fmt.Fprintf(w, "%s %s\n", labelColor.Sprintf("%-13s", label+":"), value)
	}
	row("Chain", fmt.Sprint(st.ChainID))
	if st.Deployed {
		row("Contract", st.Contract.Hex())
	} else {
		row("Contract", faintColor.Sprint("not deployed"))
	}
	if protocolID != nil {
		row("Protocol", protocolID.String())
	}
	if signer != (common.Address{}) {
		row("Signer", signer.Hex())
	}

	temp := describeHandle(st.Handle(engine.FieldTemperature))
	if v, ok := st.Temperature(); ok {
		temp += "  " + formatTemperature(v)
	}
	row("Temperature", temp)

	fever := describeHandle(st.Handle(engine.FieldFeverResult))
	if v, ok := st.FeverResult(); ok {
		if v {
			fever += "  " + feverColor.Sprint("FEVER")
		} else {
			fever += "  " + normalColor.Sprint("NORMAL")
		}
	}
	row("Fever result", fever)

	if st.Message != "" {
		row("Status", st.Message)
	}
}

func describeHandle(h fhe.Handle) string {
	if fhe.IsEmpty(h) {
		return faintColor.Sprint("none")
	}
	return h.Hex()
}

// formatTemperature renders tenths of a degree, e.g. 375 as "37.5°C (375)".
func formatTemperature(tenths uint64) string {
	return fmt.Sprintf("%d.%d°C (%d)", tenths/10, tenths%10, tenths)
}

func renderAuthorization(w io.Writer, auth *authz.Authorization) {
	contracts := make([]string, len(auth.ContractAddresses))
	for i, addr := range auth.ContractAddresses {
		contracts[i] = addr.Hex()
	}
	fmt.Fprintf(w, "%s %s\n", labelColor.Sprintf("%-13s", "User:"), auth.UserAddress.Hex())
	fmt.Fprintf(w, "%s %s\n", labelColor.Sprintf("%-13s", "Contracts:"), strings.Join(contracts, ", "))
	fmt.Fprintf(w, "%s %s\n", labelColor.Sprintf("%-13s", "Valid from:"), auth.ValidFrom().UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "%s %s\n", labelColor.Sprintf("%-13s", "Expires:"), auth.ExpiresAt().UTC().Format(time.RFC3339))
}
