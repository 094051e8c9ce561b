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
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/mccoysc/fhesync/authz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayEncrypt(t *testing.T) {
	user := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	handle := common.HexToHash("0xabcdef")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, encryptPath, r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))

		var req encryptRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, testContract, req.ContractAddress)
		assert.Equal(t, user, req.UserAddress)
		assert.Equal(t, uint64(31337), req.ChainID)
		assert.Equal(t, "euint32", req.Type)
		assert.Equal(t, uint64(375), req.Value)

		json.NewEncoder(w).Encode(encryptResponse{Handle: handle, InputProof: hexutil.Bytes{0x01, 0x02}})
	}))
	defer srv.Close()

	c := NewGatewayClient(srv.URL+"/", 31337, 0)
	in, err := c.EncryptUint32(context.Background(), testContract, user, 375)
	require.NoError(t, err)
	assert.Equal(t, handle, in.Handle)
	assert.Equal(t, []byte{0x01, 0x02}, in.Proof)
}

func TestGatewayEncryptEmptyProof(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"handle":"0x0000000000000000000000000000000000000000000000000000000000000001","inputProof":"0x"}`))
	}))
	defer srv.Close()

	_, err := NewGatewayClient(srv.URL, 1, 0).EncryptUint32(context.Background(), testContract, common.Address{}, 1)
	assert.ErrorIs(t, err, ErrInvalidProof)
}

func TestGatewayUserDecrypt(t *testing.T) {
	temp := common.HexToHash("0x01")
	fever := common.HexToHash("0x02")
	auth := &authz.Authorization{
		PublicKey:         hexutil.Bytes{0x0a},
		PrivateKey:        hexutil.Bytes{0x0b},
		Signature:         hexutil.Bytes{0x0c},
		UserAddress:       common.HexToAddress("0x01"),
		ContractAddresses: []common.Address{testContract},
		StartTimestamp:    1700000000,
		DurationDays:      10,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, userDecryptPath, r.URL.Path)
		var req userDecryptRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Handles, 2)
		assert.Equal(t, temp, req.Handles[0].Handle)
		assert.Equal(t, testContract, req.Handles[0].ContractAddress)
		assert.Equal(t, auth.Signature, req.Signature)
		assert.Equal(t, int64(1700000000), req.StartTimestamp)
		assert.Equal(t, uint64(10), req.DurationDays)

		w.Write([]byte(`{"results":{"` + temp.Hex() + `":380,"` + fever.Hex() + `":true}}`))
	}))
	defer srv.Close()

	res, err := NewGatewayClient(srv.URL, 31337, 100).UserDecrypt(context.Background(), []HandleRef{
		{Handle: temp, Contract: testContract},
		{Handle: fever, Contract: testContract},
	}, auth)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(380), res[temp])
	assert.Equal(t, true, res[fever])
}

func TestGatewayStatusErrors(t *testing.T) {
	code := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "relayer down", code)
	}))
	defer srv.Close()
	c := NewGatewayClient(srv.URL, 1, 0)

	_, err := c.EncryptUint32(context.Background(), testContract, common.Address{}, 1)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, code, statusErr.StatusCode)
	assert.Equal(t, "relayer down", statusErr.Body)
	assert.True(t, IsUnavailable(err))

	code = http.StatusBadRequest
	_, err = c.EncryptUint32(context.Background(), testContract, common.Address{}, 1)
	require.ErrorAs(t, err, &statusErr)
	assert.False(t, IsUnavailable(err))
}

func TestGatewayConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewGatewayClient(url, 1, 0).EncryptUint32(context.Background(), testContract, common.Address{}, 1)
	assert.ErrorIs(t, err, ErrBackendConnection)
	assert.True(t, IsUnavailable(err))
}

func TestParseResults(t *testing.T) {
	h := common.HexToHash("0x05")
	res, err := parseResults(map[string]json.RawMessage{
		h.Hex(): json.RawMessage(`"0x177"`),
	})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(375), res[h])

	_, err = parseResults(map[string]json.RawMessage{"0x05": json.RawMessage(`1`)})
	assert.ErrorIs(t, err, ErrMalformedResults)

	_, err = parseResults(map[string]json.RawMessage{h.Hex(): json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrMalformedResults)
}
