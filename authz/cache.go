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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/mccoysc/fhesync/chaincontext"
	"golang.org/x/sync/singleflight"
)

// Cache obtains decryption authorizations, persisting them in a Store and
// reusing them while they remain valid. Concurrent callers asking for the
// same (signer, contracts) pair share a single signing prompt.
type Cache struct {
	store        Store
	domain       Domain
	durationDays uint64
	now          func() time.Time
	flights      singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for validity checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a cache. durationDays must be within [1, MaxDurationDays].
func NewCache(store Store, domain Domain, durationDays uint64, opts ...Option) (*Cache, error) {
	if durationDays == 0 || durationDays > MaxDurationDays {
		return nil, fmt.Errorf("%w: %d days", ErrInvalidDuration, durationDays)
	}
	c := &Cache{
		store:        store,
		domain:       domain,
		durationDays: durationDays,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Domain returns the EIP-712 domain authorizations are signed under.
func (c *Cache) Domain() Domain {
	return c.domain
}

// LoadOrSign returns a valid authorization for signer over contracts, asking
// the signer for a fresh signature only when no valid one is stored. A
// rejected or failed prompt yields an error wrapping ErrSignatureRejected.
// Cancelling ctx returns ctx.Err() to this caller only.
func (c *Cache) LoadOrSign(ctx context.Context, signer chaincontext.Signer, contracts []common.Address) (*Authorization, error) {
	if signer == nil {
		return nil, chaincontext.ErrSignerUnavailable
	}
	if len(contracts) == 0 {
		return nil, ErrNoTargets
	}
	key := NewKey(signer.Address(), contracts)

	// The flight outlives any single caller: one caller giving up must not
	// fail the others waiting on the same prompt.
	flight := c.flights.DoChan(key.String(), func() (interface{}, error) {
		return c.loadOrSign(context.WithoutCancel(ctx), signer, key)
	})
	select {
	case res := <-flight:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			log.Trace("Shared decryption authorization flight", "user", key.User)
		}
		return res.Val.(*Authorization).copy(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) loadOrSign(ctx context.Context, signer chaincontext.Signer, key Key) (*Authorization, error) {
	now := c.now()

	auth, err := c.store.Load(ctx, key)
	switch {
	case err == nil:
		if auth.IsValidFor(key.User, key.Contracts, now) {
			log.Debug("Reusing decryption authorization", "user", key.User, "expires", auth.ExpiresAt())
			return auth, nil
		}
		log.Debug("Stored decryption authorization no longer valid", "user", key.User, "expired", auth.ExpiresAt())
		if err := c.store.Delete(ctx, key); err != nil {
			log.Warn("Failed to delete stale decryption authorization", "user", key.User, "err", err)
		}
	case errors.Is(err, ErrNotFound):
	default:
		log.Warn("Failed to load decryption authorization", "user", key.User, "err", err)
	}
	return c.sign(ctx, signer, key, now)
}

func (c *Cache) sign(ctx context.Context, signer chaincontext.Signer, key Key, now time.Time) (*Authorization, error) {
	publicKey, privateKey, err := generateKeypair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}
	start := now.Unix()

	sig, err := signer.SignTypedData(ctx, c.domain.TypedData(publicKey, key.Contracts, start, c.durationDays))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignatureRejected, err)
	}
	auth := &Authorization{
		PublicKey:         publicKey,
		PrivateKey:        privateKey,
		Signature:         sig,
		UserAddress:       key.User,
		ContractAddresses: key.Contracts,
		StartTimestamp:    start,
		DurationDays:      c.durationDays,
	}
	if err := c.store.Save(ctx, key, auth); err != nil {
		log.Warn("Failed to persist decryption authorization", "user", key.User, "err", err)
	}
	log.Info("Created decryption authorization", "user", key.User, "contracts", len(key.Contracts), "days", c.durationDays)
	return auth, nil
}
