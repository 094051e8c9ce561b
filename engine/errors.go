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

package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mccoysc/fhesync/fhe"
)

var (
	// ErrBusy is returned when an operation of the same kind is already in
	// flight. The call was a no-op.
	ErrBusy = errors.New("operation already in progress")

	// ErrStale is returned when the chain context or deployment moved while
	// the operation was running. Its result was discarded.
	ErrStale = errors.New("context changed, result ignored")

	// ErrRefreshInFlight is returned by Decrypt while a refresh is running.
	ErrRefreshInFlight = errors.New("refresh in progress")

	// ErrNothingToDecrypt is returned by Decrypt when every current handle is
	// empty or already cleared.
	ErrNothingToDecrypt = errors.New("no handles to decrypt")

	ErrNotReady           = errors.New("engine not ready")
	ErrServiceUnavailable = errors.New("relayer service unavailable")
	ErrTxReverted         = errors.New("transaction reverted")
)

// ValidationError reports a temperature outside the accepted range.
type ValidationError struct {
	Tenths   uint32
	Min, Max uint32
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Temperature %s°C is out of range [%s°C, %s°C]",
		formatTenths(e.Tenths), formatTenths(e.Min), formatTenths(e.Max))
}

// IsDiscard reports whether err means the call did nothing or its result was
// dropped, as opposed to a failure the caller should report.
func IsDiscard(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, ErrStale) ||
		errors.Is(err, ErrRefreshInFlight) || errors.Is(err, ErrNothingToDecrypt)
}

const unavailableMessage = "⚠️ FHEVM Relayer service is temporarily unavailable. " +
	"This may be due to Sepolia testnet maintenance. " +
	"Please try again later or use local Hardhat network for testing."

// serviceUnavailable reports whether err comes from the relayer or the
// backend behind it being down rather than from the request itself. A
// relayer status error is decided by its status code alone; the message
// heuristics only apply to errors from other collaborators.
func serviceUnavailable(err error) bool {
	if fhe.IsUnavailable(err) {
		return true
	}
	var statusErr *fhe.StatusError
	if errors.As(err, &statusErr) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Relayer") ||
		strings.Contains(msg, "backend connection") ||
		strings.Contains(msg, "Bad status")
}

// classify turns a collaborator failure into the status message shown to
// the user and the error returned to the caller.
func classify(prefix string, err error) (string, error) {
	if serviceUnavailable(err) {
		return unavailableMessage, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}
	return prefix + err.Error(), err
}

func formatTenths(t uint32) string {
	return fmt.Sprintf("%d.%d", t/10, t%10)
}
