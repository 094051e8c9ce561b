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

package fhe

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrBackendConnection wraps transport failures reaching the relayer.
	ErrBackendConnection = errors.New("relayer backend connection failed")

	ErrInvalidProof     = errors.New("invalid input proof")
	ErrUnknownHandle    = errors.New("unknown handle")
	ErrNotAllowed       = errors.New("user not allowed to decrypt handle")
	ErrUnauthorized     = errors.New("decryption authorization invalid")
	ErrMalformedResults = errors.New("malformed decryption results")
)

// StatusError is returned when the relayer answers with a non-success status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Relayer returned Bad status %d: %s", e.StatusCode, e.Body)
}

// Unavailable reports whether the status indicates a temporary outage.
func (e *StatusError) Unavailable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// IsUnavailable reports whether err means the relayer service is temporarily
// unreachable, as opposed to rejecting the request.
func IsUnavailable(err error) bool {
	if errors.Is(err, ErrBackendConnection) {
		return true
	}
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Unavailable()
}
