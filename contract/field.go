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

// Package contract binds the EncryptedTemperatureCheck contract: the remote
// state holder storing an encrypted temperature and the encrypted result of
// comparing it against a threshold.
package contract

import "fmt"

// Field identifies one encrypted value tracked by the contract.
type Field int

const (
	FieldTemperature Field = iota // euint32, tenths of a degree Celsius
	FieldFeverResult              // ebool, temperature >= threshold
)

// Fields lists every tracked field in read order.
var Fields = []Field{FieldTemperature, FieldFeverResult}

func (f Field) String() string {
	switch f {
	case FieldTemperature:
		return "temperature"
	case FieldFeverResult:
		return "feverResult"
	}
	return fmt.Sprintf("field(%d)", int(f))
}

// getter returns the view method reading the field's handle.
func (f Field) getter() (string, error) {
	switch f {
	case FieldTemperature:
		return "getTemperature", nil
	case FieldFeverResult:
		return "getFeverResult", nil
	}
	return "", fmt.Errorf("unknown field %d", int(f))
}
