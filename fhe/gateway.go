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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/mccoysc/fhesync/authz"
	"golang.org/x/time/rate"
)

const (
	encryptPath     = "/v1/encrypt"
	userDecryptPath = "/v1/user-decrypt"

	maxErrorBody = 4 << 10
)

// GatewayClient talks to an FHE gateway: a sidecar running the vendor SDK
// that performs client-side encryption (with input proofs from the relayer)
// and relays user decryption requests.
type GatewayClient struct {
	baseURL string
	chainID uint64
	client  *http.Client
	limiter *rate.Limiter
}

// NewGatewayClient creates a client for the gateway at baseURL. Requests are
// paced to rps per second; rps <= 0 disables pacing.
func NewGatewayClient(baseURL string, chainID uint64, rps float64) *GatewayClient {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &GatewayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		chainID: chainID,
		client:  &http.Client{Timeout: 60 * time.Second},
		limiter: rate.NewLimiter(limit, 1),
	}
}

type encryptRequest struct {
	ContractAddress common.Address `json:"contractAddress"`
	UserAddress     common.Address `json:"userAddress"`
	ChainID         uint64         `json:"chainId"`
	Type            string         `json:"type"`
	Value           uint64         `json:"value"`
}

type encryptResponse struct {
	Handle     common.Hash   `json:"handle"`
	InputProof hexutil.Bytes `json:"inputProof"`
}

type handlePair struct {
	Handle          common.Hash    `json:"handle"`
	ContractAddress common.Address `json:"contractAddress"`
}

type userDecryptRequest struct {
	Handles           []handlePair     `json:"handles"`
	PublicKey         hexutil.Bytes    `json:"publicKey"`
	PrivateKey        hexutil.Bytes    `json:"privateKey"`
	Signature         hexutil.Bytes    `json:"signature"`
	ContractAddresses []common.Address `json:"contractAddresses"`
	UserAddress       common.Address   `json:"userAddress"`
	StartTimestamp    int64            `json:"startTimestamp"`
	DurationDays      uint64           `json:"durationDays"`
	ChainID           uint64           `json:"chainId"`
}

type userDecryptResponse struct {
	Results map[string]json.RawMessage `json:"results"`
}

// EncryptUint32 implements Encryptor.
func (c *GatewayClient) EncryptUint32(ctx context.Context, contract, user common.Address, value uint32) (EncryptedInput, error) {
	req := &encryptRequest{
		ContractAddress: contract,
		UserAddress:     user,
		ChainID:         c.chainID,
		Type:            "euint32",
		Value:           uint64(value),
	}
	var resp encryptResponse
	if err := c.post(ctx, encryptPath, req, &resp); err != nil {
		return EncryptedInput{}, err
	}
	if IsEmpty(resp.Handle) || len(resp.InputProof) == 0 {
		return EncryptedInput{}, fmt.Errorf("%w: empty handle or proof", ErrInvalidProof)
	}
	return EncryptedInput{Handle: resp.Handle, Proof: resp.InputProof}, nil
}

// UserDecrypt implements Decryptor.
func (c *GatewayClient) UserDecrypt(ctx context.Context, handles []HandleRef, auth *authz.Authorization) (Results, error) {
	if auth == nil {
		return nil, ErrUnauthorized
	}
	req := &userDecryptRequest{
		Handles:           make([]handlePair, len(handles)),
		PublicKey:         auth.PublicKey,
		PrivateKey:        auth.PrivateKey,
		Signature:         auth.Signature,
		ContractAddresses: auth.ContractAddresses,
		UserAddress:       auth.UserAddress,
		StartTimestamp:    auth.StartTimestamp,
		DurationDays:      auth.DurationDays,
		ChainID:           c.chainID,
	}
	for i, ref := range handles {
		req.Handles[i] = handlePair{Handle: ref.Handle, ContractAddress: ref.Contract}
	}
	var resp userDecryptResponse
	if err := c.post(ctx, userDecryptPath, req, &resp); err != nil {
		return nil, err
	}
	return parseResults(resp.Results)
}

func (c *GatewayClient) post(ctx context.Context, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	id := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", id)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrBackendConnection, err)
	}
	defer resp.Body.Close()
	log.Trace("Gateway request", "path", path, "id", id, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}

// parseResults decodes clear values: JSON booleans stay bool, numbers and
// decimal or 0x-prefixed strings become *big.Int.
func parseResults(raw map[string]json.RawMessage) (Results, error) {
	results := make(Results, len(raw))
	for key, value := range raw {
		handle, err := hexutil.Decode(key)
		if err != nil || len(handle) != common.HashLength {
			return nil, fmt.Errorf("%w: bad handle %q", ErrMalformedResults, key)
		}
		var b bool
		if err := json.Unmarshal(value, &b); err == nil {
			results[common.BytesToHash(handle)] = b
			continue
		}
		text := strings.Trim(string(value), `"`)
		n, ok := new(big.Int).SetString(text, 0)
		if !ok {
			return nil, fmt.Errorf("%w: bad value %s for %s", ErrMalformedResults, value, key)
		}
		results[common.BytesToHash(handle)] = n
	}
	return results, nil
}
