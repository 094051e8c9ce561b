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

// Package chaincontext tracks the wallet/network context that every
// asynchronous engine operation is validated against before it publishes.
package chaincontext

import (
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
)

// Context is an immutable snapshot of the current network and signing identity.
// A new snapshot replaces the old one on every change; snapshots are never
// modified after publication.
type Context struct {
	ChainID uint64
	Signer  Signer
	Version uint64 // bumped on every change, informational only
}

// SignerAddress returns the address of the snapshot's signer, or the zero
// address when no signer is connected.
func (c *Context) SignerAddress() common.Address {
	if c == nil || c.Signer == nil {
		return common.Address{}
	}
	return c.Signer.Address()
}

// HasSigner reports whether a signing identity is connected.
func (c *Context) HasSigner() bool {
	return c != nil && c.Signer != nil
}

// Change is delivered to subscribers whenever the tracked context moves.
type Change struct {
	Previous *Context
	Current  *Context
}

// NetworkChanged reports whether the chain id differs between the two snapshots.
func (c Change) NetworkChanged() bool {
	return c.Previous == nil || c.Previous.ChainID != c.Current.ChainID
}

// SignerChanged reports whether the signing identity differs between the two snapshots.
func (c Change) SignerChanged() bool {
	return c.Previous == nil || c.Previous.Signer != c.Current.Signer
}

// Tracker holds the process-wide current context. Reads are lock free;
// updates are serialised so subscribers observe changes in order.
type Tracker struct {
	current atomic.Pointer[Context]
	mu      sync.Mutex
	feed    event.Feed
}

// NewTracker creates a tracker seeded with an initial context. A nil signer
// means no wallet is connected.
func NewTracker(chainID uint64, signer Signer) *Tracker {
	t := &Tracker{}
	t.current.Store(&Context{ChainID: chainID, Signer: signer})
	return t
}

// Current returns the current snapshot.
func (t *Tracker) Current() *Context {
	return t.current.Load()
}

// Matches reports whether snap still describes the current context. The chain
// id is compared by value and the signer by identity: a fresh signer object
// for the same address does not match, since provider re-initialisation must
// invalidate in-flight work.
func (t *Tracker) Matches(snap *Context) bool {
	if snap == nil {
		return false
	}
	cur := t.current.Load()
	return snap.ChainID == cur.ChainID && snap.Signer == cur.Signer
}

// SetNetwork records a network switch.
func (t *Tracker) SetNetwork(chainID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.current.Load()
	t.replace(cur, chainID, cur.Signer)
}

// SetSigner records an account switch, disconnect (nil) or provider re-initialisation.
func (t *Tracker) SetSigner(signer Signer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.current.Load()
	t.replace(cur, cur.ChainID, signer)
}

// Update records a single external event that changed both network and signer.
func (t *Tracker) Update(chainID uint64, signer Signer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.replace(t.current.Load(), chainID, signer)
}

// SubscribeChanges registers ch for change notifications. Sends block until
// the subscriber receives, so ch should be buffered.
func (t *Tracker) SubscribeChanges(ch chan<- Change) event.Subscription {
	return t.feed.Subscribe(ch)
}

func (t *Tracker) replace(cur *Context, chainID uint64, signer Signer) {
	if cur.ChainID == chainID && cur.Signer == signer {
		return
	}
	next := &Context{ChainID: chainID, Signer: signer, Version: cur.Version + 1}
	t.current.Store(next)

	log.Debug("Chain context changed", "chain", chainID, "signer", next.SignerAddress(), "version", next.Version)
	t.feed.Send(Change{Previous: cur, Current: next})
}
