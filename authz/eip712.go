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

package authz

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	domainName    = "Decryption"
	domainVersion = "1"
	primaryType   = "UserDecryptRequestVerification"
)

// Domain is the EIP-712 domain of the decryption verifier.
type Domain struct {
	ChainID           uint64
	VerifyingContract common.Address
}

// TypedData builds the EIP-712 user decrypt request the signer is asked to sign.
func (d Domain) TypedData(publicKey []byte, contracts []common.Address, start int64, durationDays uint64) apitypes.TypedData {
	addrs := make([]interface{}, len(contracts))
	for i, addr := range contracts {
		addrs[i] = addr.Hex()
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			primaryType: {
				{Name: "publicKey", Type: "bytes"},
				{Name: "contractAddresses", Type: "address[]"},
				{Name: "startTimestamp", Type: "uint256"},
				{Name: "durationDays", Type: "uint256"},
			},
		},
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domainName,
			Version:           domainVersion,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).SetUint64(d.ChainID)),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"publicKey":         hexutil.Encode(publicKey),
			"contractAddresses": addrs,
			"startTimestamp":    fmt.Sprint(start),
			"durationDays":      fmt.Sprint(durationDays),
		},
	}
}

// Recover returns the address that signed auth under this domain.
func (d Domain) Recover(auth *Authorization) (common.Address, error) {
	if len(auth.Signature) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	hash, _, err := apitypes.TypedDataAndHash(d.TypedData(auth.PublicKey, auth.ContractAddresses, auth.StartTimestamp, auth.DurationDays))
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash request: %w", err)
	}
	sig := common.CopyBytes(auth.Signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks that auth was signed by its UserAddress.
func (d Domain) Verify(auth *Authorization) error {
	signer, err := d.Recover(auth)
	if err != nil {
		return err
	}
	if signer != auth.UserAddress {
		return fmt.Errorf("%w: signed by %s, claims %s", ErrInvalidSignature, signer.Hex(), auth.UserAddress.Hex())
	}
	return nil
}

// generateKeypair returns fresh ephemeral key material for one authorization.
func generateKeypair() (publicKey, privateKey []byte, err error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, nil, err
	}
	return crypto.CompressPubkey(&key.PublicKey), crypto.FromECDSA(key), nil
}
