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

// Package engine keeps the client-side view of an EncryptedTemperatureCheck
// deployment in sync with the chain. It reads the encrypted handles,
// submits new encrypted readings and decrypts handles for the connected
// signer, discarding any result whose chain context moved on while the
// operation was running.
package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/mccoysc/fhesync/authz"
	"github.com/mccoysc/fhesync/chaincontext"
	"github.com/mccoysc/fhesync/contract"
	"github.com/mccoysc/fhesync/fhe"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// StateHolder reads and writes the encrypted state of a deployment.
//
// Every confirmed SubmitAndCheck must leave new handles in both fields. A
// cleared value is matched to its field by handle alone, so a handle reused
// for a different value would keep a stale plaintext published.
type StateHolder interface {
	ReadHandle(ctx context.Context, snap *chaincontext.Context, address common.Address, field Field) (fhe.Handle, error)
	SubmitAndCheck(ctx context.Context, snap *chaincontext.Context, address common.Address, value, threshold fhe.EncryptedInput) (*types.Transaction, error)
	WaitConfirmed(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// Authorizer provides decryption authorizations. *authz.Cache implements it.
type Authorizer interface {
	LoadOrSign(ctx context.Context, signer chaincontext.Signer, contracts []common.Address) (*authz.Authorization, error)
}

type opKind int

const (
	opRefresh opKind = iota
	opSubmit
	opDecrypt
	numOps
)

func (k opKind) String() string {
	switch k {
	case opRefresh:
		return "refresh"
	case opSubmit:
		return "submit"
	case opDecrypt:
		return "decrypt"
	}
	return "unknown"
}

// operation is the in-flight guard of a running operation, holding the
// context it captured when it started.
type operation struct {
	kind     opKind
	id       string
	snap     *chaincontext.Context
	contract common.Address
	started  time.Time
	done     chan struct{}
}

// Engine owns the published state and runs the refresh, submit and decrypt
// operations against it. At most one operation of each kind runs at a time.
type Engine struct {
	config  Config
	tracker *chaincontext.Tracker
	holder  StateHolder
	enc     fhe.Encryptor
	dec     fhe.Decryptor
	auth    Authorizer
	metrics *metrics
	tracer  trace.Tracer

	mu          sync.Mutex // protects the published state below
	deployments map[uint64]common.Address
	handles     map[Field]EncryptedHandle
	cleared     map[Field]ClearedValue
	owner       common.Address // account the handles were read for
	message     string
	inflight    [numOps]*operation

	trigger   chan struct{}
	lifecycle sync.Mutex
	quit      chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates an engine. It does not watch the tracker until Start is called.
func New(cfg *Config, tracker *chaincontext.Tracker, holder StateHolder, enc fhe.Encryptor, dec fhe.Decryptor, auth Authorizer) *Engine {
	conf := cfg.sanitize()
	return &Engine{
		config:      conf,
		tracker:     tracker,
		holder:      holder,
		enc:         enc,
		dec:         dec,
		auth:        auth,
		metrics:     newMetrics(conf.Registerer),
		tracer:      otel.Tracer("github.com/mccoysc/fhesync/engine"),
		deployments: conf.Deployments,
		handles:     make(map[Field]EncryptedHandle),
		cleared:     make(map[Field]ClearedValue),
		trigger:     make(chan struct{}, 1),
	}
}

// Snapshot returns a copy of the published state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.tracker.Current()
	addr, ok := e.deployments[cur.ChainID]
	handles, cleared := e.visibleLocked(cur.SignerAddress())
	return State{
		ChainID:    cur.ChainID,
		Contract:   addr,
		Deployed:   ok,
		HasSigner:  cur.HasSigner(),
		Handles:    maps.Clone(handles),
		Cleared:    maps.Clone(cleared),
		Refreshing: e.inflight[opRefresh] != nil,
		Submitting: e.inflight[opSubmit] != nil,
		Decrypting: e.inflight[opDecrypt] != nil,
		Message:    e.message,
	}
}

// visibleLocked returns the handles and cleared values published for
// account. Both are per account, so another account sees neither until a
// refresh commits its own handles.
func (e *Engine) visibleLocked(account common.Address) (map[Field]EncryptedHandle, map[Field]ClearedValue) {
	if account != e.owner {
		return nil, nil
	}
	return e.handles, e.cleared
}

// SetDeployment changes the contract address used on chainID. The zero
// address removes the deployment. A refresh is requested when the current
// chain is affected and the engine is running.
func (e *Engine) SetDeployment(chainID uint64, address common.Address) {
	e.mu.Lock()
	if address == (common.Address{}) {
		delete(e.deployments, chainID)
	} else {
		e.deployments[chainID] = address
	}
	current := e.tracker.Current().ChainID == chainID
	e.mu.Unlock()

	if current {
		e.requestRefresh()
	}
}

// Refresh reads the current handles of every tracked field and publishes
// them if the chain context and deployment did not change meanwhile.
func (e *Engine) Refresh(ctx context.Context) error {
	return e.run(ctx, opRefresh, e.refresh)
}

// Submit encrypts a reading in tenths of a degree together with the fever
// threshold, sends them to the deployment and refreshes once the
// transaction is mined.
func (e *Engine) Submit(ctx context.Context, tenths uint32) error {
	return e.run(ctx, opSubmit, func(ctx context.Context, op *operation) error {
		return e.submit(ctx, op, tenths)
	})
}

// Decrypt clears every current handle that has not been cleared yet.
func (e *Engine) Decrypt(ctx context.Context) error {
	return e.run(ctx, opDecrypt, e.decrypt)
}

func (e *Engine) refresh(ctx context.Context, op *operation) error {
	handles := make([]fhe.Handle, len(contract.Fields))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range contract.Fields {
		g.Go(func() error {
			h, err := e.holder.ReadHandle(gctx, op.snap, op.contract, f)
			handles[i] = h
			return err
		})
	}
	err := g.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.staleLocked(op) {
		return ErrStale
	}
	if err != nil {
		e.message = "TemperatureCheck.getTemperature() call failed! error=" + err.Error()
		return err
	}
	if owner := op.snap.SignerAddress(); owner != e.owner {
		clear(e.cleared)
		e.owner = owner
	}
	for i, f := range contract.Fields {
		e.handles[f] = EncryptedHandle{Field: f, Handle: handles[i], Contract: op.contract}
	}
	log.Debug("Refresh committed", "op", op.id, "chain", op.snap.ChainID, "contract", op.contract,
		"temperature", handles[FieldTemperature], "feverResult", handles[FieldFeverResult])
	return nil
}

func (e *Engine) submit(ctx context.Context, op *operation, tenths uint32) error {
	if tenths < e.config.MinTenths || tenths > e.config.MaxTenths {
		err := &ValidationError{Tenths: tenths, Min: e.config.MinTenths, Max: e.config.MaxTenths}
		e.status(op, err.Error())
		return err
	}
	e.status(op, fmt.Sprintf("Submitting temperature: %s°C...", formatTenths(tenths)))

	if e.config.SubmitDelay > 0 {
		timer := time.NewTimer(e.config.SubmitDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return e.submitFailed(op, ctx.Err())
		}
	}

	// The reading and the threshold are encrypted separately; the contract
	// compares two independently committed inputs.
	user := op.snap.SignerAddress()
	value, err := e.enc.EncryptUint32(ctx, op.contract, user, tenths)
	if err != nil {
		return e.submitFailed(op, err)
	}
	threshold, err := e.enc.EncryptUint32(ctx, op.contract, user, e.config.Threshold)
	if err != nil {
		return e.submitFailed(op, err)
	}
	if e.ignore(op, "Ignore submission") {
		return ErrStale
	}

	e.status(op, "Calling submitAndCheck...")
	tx, err := e.holder.SubmitAndCheck(ctx, op.snap, op.contract, value, threshold)
	if err != nil {
		return e.submitFailed(op, err)
	}
	e.status(op, fmt.Sprintf("Waiting for tx:%s...", tx.Hash().Hex()))

	receipt, err := e.holder.WaitConfirmed(ctx, tx)
	if err != nil {
		return e.submitFailed(op, err)
	}
	e.status(op, fmt.Sprintf("Submission completed! status=%d", receipt.Status))
	stale := e.ignore(op, "Ignore submission")

	// The stored handles moved on chain whatever the outcome, so refresh
	// even when this submission is being discarded.
	if err := e.Refresh(ctx); err != nil && !IsDiscard(err) {
		log.Warn("Post-submission refresh failed", "op", op.id, "err", err)
	}
	switch {
	case stale:
		return ErrStale
	case receipt.Status != types.ReceiptStatusSuccessful:
		return fmt.Errorf("%w: %s", ErrTxReverted, tx.Hash().Hex())
	}
	log.Info("Temperature submitted", "tx", tx.Hash(), "block", receipt.BlockNumber, "user", user)
	return nil
}

func (e *Engine) submitFailed(op *operation, err error) error {
	msg, err := classify("Submission failed! error: ", err)
	e.status(op, msg)
	return err
}

func (e *Engine) decrypt(ctx context.Context, op *operation) error {
	e.mu.Lock()
	handles, cleared := e.visibleLocked(op.snap.SignerAddress())
	view := State{Contract: op.contract, Handles: handles, Cleared: cleared}
	pending := view.pending()
	if len(pending) == 0 {
		e.mu.Unlock()
		return ErrNothingToDecrypt
	}
	if !e.staleLocked(op) {
		e.message = "Start decrypting..."
	}
	e.mu.Unlock()

	auth, err := e.auth.LoadOrSign(ctx, op.snap.Signer, []common.Address{op.contract})
	if err != nil {
		e.status(op, "Unable to build FHEVM decryption signature")
		return fmt.Errorf("decryption authorization failed: %w", err)
	}
	if e.ignore(op, "Ignore FHEVM decryption") {
		return ErrStale
	}

	e.status(op, "Calling FHEVM userDecrypt...")
	refs := make([]fhe.HandleRef, len(pending))
	for i, h := range pending {
		refs[i] = fhe.HandleRef{Handle: h.Handle, Contract: h.Contract}
	}
	results, err := e.dec.UserDecrypt(ctx, refs, auth)
	if err != nil {
		msg, err := classify("FHEVM userDecrypt failed! error: ", err)
		e.status(op, msg)
		return err
	}
	log.Debug("FHEVM userDecrypt completed", "op", op.id, "handles", len(refs))

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.staleLocked(op) {
		e.message = "Ignore FHEVM decryption"
		return ErrStale
	}
	// Pair each value with the handle that was decrypted, not with whatever
	// handle a concurrent refresh may have published since.
	for _, h := range pending {
		v, ok := results[h.Handle]
		if !ok {
			log.Warn("Decryption result missing", "op", op.id, "field", h.Field, "handle", h.Handle)
			continue
		}
		e.cleared[h.Field] = ClearedValue{Field: h.Field, Handle: h.Handle, Value: v}
	}
	e.message = "Decryption completed!"
	return nil
}

// run acquires the guard of kind, runs fn and releases the guard on every
// exit path, including panics in collaborators.
func (e *Engine) run(ctx context.Context, kind opKind, fn func(context.Context, *operation) error) error {
	op, err := e.begin(kind)
	if err != nil {
		e.metrics.record(kind, err)
		log.Debug("Operation skipped", "kind", kind, "reason", err)
		return err
	}
	defer e.end(op)

	ctx, span := e.tracer.Start(ctx, "engine."+kind.String(), trace.WithAttributes(
		attribute.String("op.id", op.id),
		attribute.Int64("chain.id", int64(op.snap.ChainID)),
		attribute.String("contract", op.contract.Hex()),
	))
	defer span.End()
	log.Debug("Operation started", "kind", kind, "op", op.id, "chain", op.snap.ChainID, "contract", op.contract, "version", op.snap.Version)

	err = fn(ctx, op)
	e.metrics.record(kind, err)
	switch {
	case err == nil:
		log.Debug("Operation completed", "kind", kind, "op", op.id, "elapsed", time.Since(op.started))
	case IsDiscard(err):
		span.SetAttributes(attribute.Bool("discarded", true))
		log.Debug("Operation discarded", "kind", kind, "op", op.id, "reason", err)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("Operation failed", "kind", kind, "op", op.id, "err", err)
	}
	return err
}

func (e *Engine) begin(kind opKind) (*operation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inflight[kind] != nil {
		return nil, ErrBusy
	}
	if kind == opDecrypt && e.inflight[opRefresh] != nil {
		return nil, ErrRefreshInFlight
	}
	snap := e.tracker.Current()
	addr, ok := e.deployments[snap.ChainID]
	if !ok {
		e.message = fmt.Sprintf("TemperatureCheck deployment not found for chainId=%d.", snap.ChainID)
		if kind == opRefresh {
			clear(e.handles)
		}
		return nil, fmt.Errorf("%w: no deployment on chain %d", ErrNotReady, snap.ChainID)
	}
	if kind != opRefresh {
		switch {
		case !snap.HasSigner():
			return nil, fmt.Errorf("%w: no signer connected", ErrNotReady)
		case kind == opSubmit && e.enc == nil, kind == opDecrypt && (e.dec == nil || e.auth == nil):
			return nil, fmt.Errorf("%w: FHEVM instance unavailable", ErrNotReady)
		}
	}
	op := &operation{
		kind:     kind,
		id:       uuid.NewString(),
		snap:     snap,
		contract: addr,
		started:  time.Now(),
		done:     make(chan struct{}),
	}
	e.inflight[kind] = op
	e.metrics.inflight.WithLabelValues(kind.String()).Set(1)
	return op, nil
}

func (e *Engine) end(op *operation) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.inflight[op.kind] = nil
	close(op.done)
	e.metrics.inflight.WithLabelValues(op.kind.String()).Set(0)
	e.metrics.duration.WithLabelValues(op.kind.String()).Observe(time.Since(op.started).Seconds())
}

// staleLocked reports whether op's captured context or deployment is no
// longer current. Callers hold e.mu.
func (e *Engine) staleLocked(op *operation) bool {
	return !e.tracker.Matches(op.snap) || e.deployments[op.snap.ChainID] != op.contract
}

// status publishes msg unless op went stale.
func (e *Engine) status(op *operation, msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.staleLocked(op) {
		e.message = msg
	}
}

// ignore publishes msg and reports true if op went stale.
func (e *Engine) ignore(op *operation, msg string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.staleLocked(op) {
		return false
	}
	e.message = msg
	return true
}

// Start refreshes once and then again after every network, signer or
// deployment change, until Stop is called.
func (e *Engine) Start() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.quit != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan struct{})
	changes := make(chan chaincontext.Change, 16)
	sub := e.tracker.SubscribeChanges(changes)

	e.quit, e.cancel = quit, cancel
	e.wg.Add(2)
	go e.watchLoop(sub, changes, quit)
	go e.refreshLoop(ctx, quit)
	e.requestRefresh()
}

// Stop terminates the watch loop and cancels any automatic refresh.
func (e *Engine) Stop() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.quit == nil {
		return
	}
	close(e.quit)
	e.cancel()
	e.wg.Wait()
	e.quit, e.cancel = nil, nil
}

func (e *Engine) watchLoop(sub event.Subscription, changes <-chan chaincontext.Change, quit <-chan struct{}) {
	defer e.wg.Done()
	defer sub.Unsubscribe()

	for {
		select {
		case ch := <-changes:
			if ch.NetworkChanged() || ch.SignerChanged() {
				log.Debug("Chain context changed", "chain", ch.Current.ChainID, "signer", ch.Current.SignerAddress(), "version", ch.Current.Version)
				e.requestRefresh()
			}
		case <-sub.Err():
			return
		case <-quit:
			return
		}
	}
}

func (e *Engine) refreshLoop(ctx context.Context, quit <-chan struct{}) {
	defer e.wg.Done()

	for {
		select {
		case <-e.trigger:
			e.autoRefresh(ctx, quit)
		case <-quit:
			return
		}
	}
}

// autoRefresh runs a refresh for the current context. If one is already in
// flight it waits for it and runs once more, since the running one may have
// captured the context that just changed.
func (e *Engine) autoRefresh(ctx context.Context, quit <-chan struct{}) {
	for {
		err := e.Refresh(ctx)
		if !errors.Is(err, ErrBusy) {
			return
		}
		e.mu.Lock()
		var done chan struct{}
		if op := e.inflight[opRefresh]; op != nil {
			done = op.done
		}
		e.mu.Unlock()
		if done == nil {
			continue
		}
		select {
		case <-done:
		case <-quit:
			return
		}
	}
}

func (e *Engine) requestRefresh() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}
