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
	"context"
	"encoding/binary"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/mccoysc/fhesync/authz"
	"github.com/mccoysc/fhesync/chaincontext"
	"github.com/mccoysc/fhesync/contract"
	"github.com/mccoysc/fhesync/fhe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	chainA = 31337
	chainB = 11155111
)

var (
	addrA = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	addrB = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
)

// countingSigner counts authorization prompts and can reject them.
type countingSigner struct {
	inner   *chaincontext.KeySigner
	prompts atomic.Int32
	reject  error
}

func newCountingSigner(t *testing.T) *countingSigner {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &countingSigner{inner: chaincontext.NewKeySigner(key)}
}

func (s *countingSigner) Address() common.Address { return s.inner.Address() }

func (s *countingSigner) SignTypedData(ctx context.Context, typedData apitypes.TypedData) ([]byte, error) {
	s.prompts.Add(1)
	if s.reject != nil {
		return nil, s.reject
	}
	return s.inner.SignTypedData(ctx, typedData)
}

func (s *countingSigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return s.inner.SignTx(ctx, tx, chainID)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeHolder is a StateHolder whose calls can be gated and hooked to change
// the chain context at a chosen suspension point.
type fakeHolder struct {
	mu      sync.Mutex
	handles map[common.Address]map[Field]fhe.Handle
	status  uint64
	readErr error
	nonce   uint64

	reads   atomic.Int32
	submits atomic.Int32

	gate     chan struct{}
	entered  chan struct{}
	onRead   func()
	onSubmit func()
	onWait   func()
}

func newFakeHolder() *fakeHolder {
	return &fakeHolder{
		handles: make(map[common.Address]map[Field]fhe.Handle),
		status:  types.ReceiptStatusSuccessful,
	}
}

func (h *fakeHolder) set(addr common.Address, temp, fever fhe.Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handles[addr] = map[Field]fhe.Handle{FieldTemperature: temp, FieldFeverResult: fever}
}

func (h *fakeHolder) ReadHandle(ctx context.Context, snap *chaincontext.Context, address common.Address, field Field) (fhe.Handle, error) {
	h.reads.Add(1)
	if h.entered != nil {
		select {
		case h.entered <- struct{}{}:
		default:
		}
	}
	if h.gate != nil {
		select {
		case <-h.gate:
		case <-ctx.Done():
			return fhe.EmptyHandle, ctx.Err()
		}
	}
	if h.onRead != nil {
		h.onRead()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.readErr != nil {
		return fhe.EmptyHandle, h.readErr
	}
	return h.handles[address][field], nil
}

func (h *fakeHolder) SubmitAndCheck(ctx context.Context, snap *chaincontext.Context, address common.Address, value, threshold fhe.EncryptedInput) (*types.Transaction, error) {
	h.submits.Add(1)
	if h.onSubmit != nil {
		h.onSubmit()
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.handles[address] = map[Field]fhe.Handle{
		FieldTemperature: crypto.Keccak256Hash(value.Handle.Bytes()),
		FieldFeverResult: crypto.Keccak256Hash(threshold.Handle.Bytes()),
	}
	h.nonce++
	return types.NewTx(&types.LegacyTx{Nonce: h.nonce, To: &address}), nil
}

func (h *fakeHolder) WaitConfirmed(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if h.onWait != nil {
		h.onWait()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return &types.Receipt{Status: h.status, TxHash: tx.Hash(), BlockNumber: big.NewInt(1)}, nil
}

// fakeFHE encrypts to counter-derived handles and decrypts every handle to
// the value registered for it, or 1.
type fakeFHE struct {
	mu     sync.Mutex
	seq    uint64
	values map[fhe.Handle]any

	encrypts atomic.Int32
	decrypts atomic.Int32
	decrypted [][]fhe.HandleRef

	encErr    error
	decErr    error
	onEncrypt func()
	onDecrypt func()
}

func newFakeFHE() *fakeFHE {
	return &fakeFHE{values: make(map[fhe.Handle]any)}
}

func (f *fakeFHE) EncryptUint32(ctx context.Context, contract, user common.Address, value uint32) (fhe.EncryptedInput, error) {
	f.encrypts.Add(1)
	if f.onEncrypt != nil {
		f.onEncrypt()
	}
	if f.encErr != nil {
		return fhe.EncryptedInput{}, f.encErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	var buf [12]byte
	binary.BigEndian.PutUint64(buf[:8], f.seq)
	binary.BigEndian.PutUint32(buf[8:], value)
	return fhe.EncryptedInput{Handle: crypto.Keccak256Hash(contract.Bytes(), user.Bytes(), buf[:]), Proof: []byte{0x01}}, nil
}

func (f *fakeFHE) UserDecrypt(ctx context.Context, handles []fhe.HandleRef, auth *authz.Authorization) (fhe.Results, error) {
	f.decrypts.Add(1)
	if f.onDecrypt != nil {
		f.onDecrypt()
	}
	if f.decErr != nil {
		return nil, f.decErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decrypted = append(f.decrypted, handles)
	res := make(fhe.Results, len(handles))
	for _, ref := range handles {
		if v, ok := f.values[ref.Handle]; ok {
			res[ref.Handle] = v
		} else {
			res[ref.Handle] = big.NewInt(1)
		}
	}
	return res, nil
}

type fixture struct {
	engine  *Engine
	tracker *chaincontext.Tracker
	holder  *fakeHolder
	fhe     *fakeFHE
	signer  *countingSigner
	clock   *fakeClock
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		holder: newFakeHolder(),
		fhe:    newFakeFHE(),
		signer: newCountingSigner(t),
		clock:  &fakeClock{now: time.Unix(1_700_000_000, 0)},
	}
	f.tracker = chaincontext.NewTracker(chainA, f.signer)
	cache, err := authz.NewCache(authz.NewMemoryStore(), authz.Domain{ChainID: chainA}, 1, authz.WithClock(f.clock.Now))
	require.NoError(t, err)

	cfg := &Config{Deployments: map[uint64]common.Address{chainA: addrA, chainB: addrB}}
	f.engine = New(cfg, f.tracker, f.holder, f.fhe, f.fhe, cache)
	return f
}

// reconnect replaces the signer with a new object for the same account.
func (f *fixture) reconnect() {
	f.tracker.SetSigner(&countingSigner{inner: f.signer.inner})
}

func hash(b byte) fhe.Handle { return common.BytesToHash([]byte{b}) }

func TestSubmitThenRefreshPublishesHandles(t *testing.T) {
	tests := []struct {
		tenths uint32
		fever  bool
	}{
		{365, false},
		{380, true},
		{375, true},
	}
	for _, tt := range tests {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		signer := chaincontext.NewKeySigner(key)
		domain := authz.Domain{ChainID: chainA, VerifyingContract: common.HexToAddress("0x05fD9B5EFE0a996095f42Ed7e77c390810CF660c")}
		mock := fhe.NewMockBackend(domain)
		cache, err := authz.NewCache(authz.NewMemoryStore(), domain, 1)
		require.NoError(t, err)

		e := New(&Config{Deployments: map[uint64]common.Address{chainA: addrA}},
			chaincontext.NewTracker(chainA, signer), contract.NewSimulated(mock, addrA), mock, mock, cache)
		ctx := context.Background()

		require.NoError(t, e.Refresh(ctx))
		st := e.Snapshot()
		assert.True(t, fhe.IsEmpty(st.Handle(FieldTemperature)))
		assert.False(t, st.CanDecrypt())

		require.NoError(t, e.Submit(ctx, tt.tenths))
		st = e.Snapshot()
		assert.False(t, fhe.IsEmpty(st.Handle(FieldTemperature)))
		assert.False(t, fhe.IsEmpty(st.Handle(FieldFeverResult)))
		assert.Equal(t, "Submission completed! status=1", st.Message)
		assert.True(t, st.CanDecrypt())

		require.NoError(t, e.Decrypt(ctx))
		st = e.Snapshot()
		temp, ok := st.Temperature()
		require.True(t, ok)
		assert.Equal(t, uint64(tt.tenths), temp)
		fever, ok := st.FeverResult()
		require.True(t, ok)
		assert.Equal(t, tt.fever, fever, "tenths %d", tt.tenths)
		assert.True(t, st.IsTemperatureDecrypted())
		assert.True(t, st.IsFeverResultDecrypted())
		assert.Equal(t, "Decryption completed!", st.Message)
		assert.False(t, st.CanDecrypt())
	}
}

func TestRefreshSingleFlight(t *testing.T) {
	f := newFixture(t)
	f.holder.set(addrA, hash(1), hash(2))
	f.holder.gate = make(chan struct{})
	f.holder.entered = make(chan struct{}, 4)

	errc := make(chan error, 1)
	go func() { errc <- f.engine.Refresh(context.Background()) }()
	<-f.holder.entered

	assert.True(t, f.engine.Snapshot().Refreshing)
	assert.False(t, f.engine.Snapshot().CanRefresh())
	assert.ErrorIs(t, f.engine.Refresh(context.Background()), ErrBusy)
	assert.ErrorIs(t, f.engine.Refresh(context.Background()), ErrBusy)

	close(f.holder.gate)
	require.NoError(t, <-errc)

	assert.Equal(t, int32(len(contract.Fields)), f.holder.reads.Load())
	st := f.engine.Snapshot()
	assert.False(t, st.Refreshing)
	assert.Equal(t, hash(1), st.Handle(FieldTemperature))
	assert.Equal(t, hash(2), st.Handle(FieldFeverResult))
}

func TestRefreshDiscardsOnSignerChange(t *testing.T) {
	f := newFixture(t)
	f.holder.set(addrA, hash(1), hash(2))
	require.NoError(t, f.engine.Refresh(context.Background()))

	f.holder.set(addrA, hash(3), hash(4))
	var once sync.Once
	f.holder.onRead = func() { once.Do(f.reconnect) }

	assert.ErrorIs(t, f.engine.Refresh(context.Background()), ErrStale)
	st := f.engine.Snapshot()
	assert.Equal(t, hash(1), st.Handle(FieldTemperature))
	assert.Equal(t, hash(2), st.Handle(FieldFeverResult))
	assert.False(t, st.Refreshing)
}

func TestRefreshDiscardsOnNetworkChange(t *testing.T) {
	f := newFixture(t)
	f.holder.set(addrA, hash(1), hash(2))
	var once sync.Once
	f.holder.onRead = func() { once.Do(func() { f.tracker.SetNetwork(chainB) }) }

	assert.ErrorIs(t, f.engine.Refresh(context.Background()), ErrStale)
	assert.Empty(t, f.engine.Snapshot().Handles)
}

func TestRefreshDiscardsOnDeploymentChange(t *testing.T) {
	f := newFixture(t)
	f.holder.set(addrA, hash(1), hash(2))
	var once sync.Once
	f.holder.onRead = func() { once.Do(func() { f.engine.SetDeployment(chainA, addrB) }) }

	assert.ErrorIs(t, f.engine.Refresh(context.Background()), ErrStale)
	st := f.engine.Snapshot()
	assert.Empty(t, st.Handles)
	assert.Equal(t, addrB, st.Contract)
}

func TestRefreshFailure(t *testing.T) {
	f := newFixture(t)
	f.holder.readErr = errors.New("connection refused")

	err := f.engine.Refresh(context.Background())
	require.Error(t, err)
	assert.False(t, IsDiscard(err))
	st := f.engine.Snapshot()
	assert.Equal(t, "TemperatureCheck.getTemperature() call failed! error=connection refused", st.Message)
	assert.False(t, st.Refreshing)

	// The engine stays usable.
	f.holder.readErr = nil
	f.holder.set(addrA, hash(1), hash(2))
	require.NoError(t, f.engine.Refresh(context.Background()))
}

func TestRefreshWithoutDeployment(t *testing.T) {
	f := newFixture(t)
	f.holder.set(addrA, hash(1), hash(2))
	require.NoError(t, f.engine.Refresh(context.Background()))

	f.tracker.SetNetwork(1)
	err := f.engine.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)

	st := f.engine.Snapshot()
	assert.False(t, st.IsDeployed())
	assert.Empty(t, st.Handles)
	assert.Equal(t, "TemperatureCheck deployment not found for chainId=1.", st.Message)
	assert.False(t, st.CanRefresh())
	assert.False(t, st.CanSubmit())
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	for _, tenths := range []uint32{0, 299, 451} {
		err := f.engine.Submit(context.Background(), tenths)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, tenths, verr.Tenths)
		assert.False(t, IsDiscard(err))
	}
	assert.Zero(t, f.fhe.encrypts.Load())
	assert.Equal(t, "Temperature 45.1°C is out of range [30.0°C, 45.0°C]", f.engine.Snapshot().Message)
	assert.False(t, f.engine.Snapshot().Submitting)
}

func TestSubmitEncryptsValueAndThresholdSeparately(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.Submit(context.Background(), 380))

	assert.Equal(t, int32(2), f.fhe.encrypts.Load())
	assert.Equal(t, int32(1), f.holder.submits.Load())
	// the post-submission refresh read both fields
	assert.Equal(t, int32(2), f.holder.reads.Load())
	assert.False(t, fhe.IsEmpty(f.engine.Snapshot().Handle(FieldTemperature)))
}

func TestSubmitStaleBeforeSend(t *testing.T) {
	f := newFixture(t)
	f.holder.set(addrA, hash(1), hash(2))
	require.NoError(t, f.engine.Refresh(context.Background()))

	var once sync.Once
	f.fhe.onEncrypt = func() { once.Do(f.reconnect) }

	assert.ErrorIs(t, f.engine.Submit(context.Background(), 380), ErrStale)
	assert.Zero(t, f.holder.submits.Load())
	st := f.engine.Snapshot()
	assert.Equal(t, "Ignore submission", st.Message)
	assert.Equal(t, hash(1), st.Handle(FieldTemperature))
	assert.False(t, st.Submitting)
}

func TestSubmitStaleAfterConfirmation(t *testing.T) {
	f := newFixture(t)
	f.holder.onWait = func() { f.tracker.SetNetwork(chainB) }

	assert.ErrorIs(t, f.engine.Submit(context.Background(), 380), ErrStale)
	assert.Equal(t, int32(1), f.holder.submits.Load())

	// The refresh that follows confirmation runs for the new context.
	st := f.engine.Snapshot()
	assert.Equal(t, addrB, st.Contract)
	for _, h := range st.Handles {
		assert.Equal(t, addrB, h.Contract)
	}
	assert.True(t, fhe.IsEmpty(st.Handle(FieldTemperature)))
}

func TestSubmitReverted(t *testing.T) {
	f := newFixture(t)
	f.holder.status = types.ReceiptStatusFailed

	err := f.engine.Submit(context.Background(), 380)
	assert.ErrorIs(t, err, ErrTxReverted)
	assert.Equal(t, "Submission completed! status=0", f.engine.Snapshot().Message)
	assert.Equal(t, int32(2), f.holder.reads.Load())
}

func TestSubmitFailureClassification(t *testing.T) {
	f := newFixture(t)

	f.fhe.encErr = &fhe.StatusError{StatusCode: 503, Body: "maintenance"}
	err := f.engine.Submit(context.Background(), 380)
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, unavailableMessage, f.engine.Snapshot().Message)

	f.fhe.encErr = errors.New("Relayer didn't respond")
	assert.ErrorIs(t, f.engine.Submit(context.Background(), 380), ErrServiceUnavailable)

	f.fhe.encErr = errors.New("nonce too low")
	err = f.engine.Submit(context.Background(), 380)
	assert.NotErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, "Submission failed! error: nonce too low", f.engine.Snapshot().Message)
	assert.Zero(t, f.holder.submits.Load())
}

func TestSubmitSingleFlight(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	f.holder.onSubmit = func() {
		entered <- struct{}{}
		<-gate
	}

	errc := make(chan error, 1)
	go func() { errc <- f.engine.Submit(context.Background(), 380) }()
	<-entered

	assert.ErrorIs(t, f.engine.Submit(context.Background(), 370), ErrBusy)
	assert.False(t, f.engine.Snapshot().CanSubmit())
	// Other kinds still run.
	require.NoError(t, f.engine.Refresh(context.Background()))

	close(gate)
	require.NoError(t, <-errc)
	assert.Equal(t, int32(1), f.holder.submits.Load())
}

func TestGuardReleasedOnPanic(t *testing.T) {
	f := newFixture(t)
	f.fhe.onEncrypt = func() { panic("wallet crashed") }

	assert.Panics(t, func() { f.engine.Submit(context.Background(), 380) })
	assert.False(t, f.engine.Snapshot().Submitting)

	f.fhe.onEncrypt = nil
	require.NoError(t, f.engine.Submit(context.Background(), 380))
}

func TestSubmitCancelledDuringDelay(t *testing.T) {
	f := newFixture(t)
	f.engine.config.SubmitDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.engine.Submit(ctx, 380), context.Canceled)
	assert.Zero(t, f.fhe.encrypts.Load())
	assert.False(t, f.engine.Snapshot().Submitting)
}

func TestRequiresSigner(t *testing.T) {
	f := newFixture(t)
	f.holder.set(addrA, hash(1), hash(2))
	require.NoError(t, f.engine.Refresh(context.Background()))
	f.tracker.SetSigner(nil)

	assert.ErrorIs(t, f.engine.Submit(context.Background(), 380), ErrNotReady)
	assert.ErrorIs(t, f.engine.Decrypt(context.Background()), ErrNotReady)
	st := f.engine.Snapshot()
	assert.False(t, st.CanSubmit())
	assert.False(t, st.CanDecrypt())
	assert.True(t, st.CanRefresh())
}

func TestDecryptIdempotent(t *testing.T) {
	f := newFixture(t)
	f.holder.set(addrA, hash(1), hash(2))
	f.fhe.values[hash(1)] = big.NewInt(380)
	f.fhe.values[hash(2)] = true
	require.NoError(t, f.engine.Refresh(context.Background()))

	require.NoError(t, f.engine.Decrypt(context.Background()))
	assert.ErrorIs(t, f.engine.Decrypt(context.Background()), ErrNothingToDecrypt)
	assert.Equal(t, int32(1), f.fhe.decrypts.Load())

	// A refresh returning the same handles keeps them cleared.
	require.NoError(t, f.engine.Refresh(context.Background()))
	assert.ErrorIs(t, f.engine.Decrypt(context.Background()), ErrNothingToDecrypt)

	// Only the changed field is decrypted again.
	f.holder.set(addrA, hash(3), hash(2))
	require.NoError(t, f.engine.Refresh(context.Background()))
	require.NoError(t, f.engine.Decrypt(context.Background()))
	require.Len(t, f.fhe.decrypted, 2)
	assert.Equal(t, []fhe.HandleRef{{Handle: hash(3), Contract: addrA}}, f.fhe.decrypted[1])
}

func TestDecryptSkipsEmptyHandles(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.Refresh(context.Background()))

	assert.ErrorIs(t, f.engine.Decrypt(context.Background()), ErrNothingToDecrypt)
	assert.Zero(t, f.fhe.decrypts.Load())
	assert.Zero(t, f.signer.prompts.Load())
}

func TestDecryptWaitsForRefresh(t *testing.T) {
	f := newFixture(t)
	f.holder.set(addrA, hash(1), hash(2))
	require.NoError(t, f.engine.Refresh(context.Background()))

	f.holder.gate = make(chan struct{})
	f.holder.entered = make(chan struct{}, 4)
	errc := make(chan error, 1)
	go func() { errc <- f.engine.Refresh(context.Background()) }()
	<-f.holder.entered

	assert.False(t, f.engine.Snapshot().CanDecrypt())
	assert.ErrorIs(t, f.engine.Decrypt(context.Background()), ErrRefreshInFlight)
	assert.Zero(t, f.fhe.decrypts.Load())

	close(f.holder.gate)
	require.NoError(t, <-errc)
	require.NoError(t, f.engine.Decrypt(context.Background()))
}

func TestDecryptDiscardsOnDrift(t *testing.T) {
	f := newFixture(t)
	f.holder.set(addrA, hash(1), hash(2))
	require.NoError(t, f.engine.Refresh(context.Background()))

	var once sync.Once
	f.fhe.onDecrypt = func() { once.Do(f.reconnect) }

	assert.ErrorIs(t, f.engine.Decrypt(context.Background()), ErrStale)
	st := f.engine.Snapshot()
	assert.Empty(t, st.Cleared)
	assert.Equal(t, "Ignore FHEVM decryption", st.Message)
	assert.False(t, st.Decrypting)
}

func TestDecryptDiscardsOnDriftDuringSigning(t *testing.T) {
	f := newFixture(t)
	f.holder.set(addrA, hash(1), hash(2))
	require.NoError(t, f.engine.Refresh(context.Background()))

	// Switching accounts while the signature prompt is open.
	next := newCountingSigner(t)
	f.engine.auth = authorizerFunc(func(ctx context.Context, signer chaincontext.Signer, contracts []common.Address) (*authz.Authorization, error) {
		f.tracker.SetSigner(next)
		return &authz.Authorization{UserAddress: signer.Address(), ContractAddresses: contracts}, nil
	})

	assert.ErrorIs(t, f.engine.Decrypt(context.Background()), ErrStale)
	assert.Zero(t, f.fhe.decrypts.Load())
	assert.Empty(t, f.engine.Snapshot().Cleared)
}

type authorizerFunc func(ctx context.Context, signer chaincontext.Signer, contracts []common.Address) (*authz.Authorization, error)

func (f authorizerFunc) LoadOrSign(ctx context.Context, signer chaincontext.Signer, contracts []common.Address) (*authz.Authorization, error) {
	return f(ctx, signer, contracts)
}

func TestDecryptPairsWithDecryptedHandle(t *testing.T) {
	f := newFixture(t)
	f.holder.set(addrA, hash(1), hash(2))
	require.NoError(t, f.engine.Refresh(context.Background()))

	// A refresh lands while the decrypt call is outstanding.
	f.fhe.onDecrypt = func() {
		f.holder.set(addrA, hash(3), hash(4))
		require.NoError(t, f.engine.Refresh(context.Background()))
	}
	require.NoError(t, f.engine.Decrypt(context.Background()))

	st := f.engine.Snapshot()
	assert.Equal(t, hash(1), st.Cleared[FieldTemperature].Handle)
	assert.Equal(t, hash(2), st.Cleared[FieldFeverResult].Handle)
	assert.Equal(t, hash(3), st.Handle(FieldTemperature))
	assert.False(t, st.IsTemperatureDecrypted())
	assert.False(t, st.IsFeverResultDecrypted())
	_, ok := st.Temperature()
	assert.False(t, ok)
	assert.True(t, st.CanDecrypt())
}

func TestAccountSwitchHidesPreviousAccountState(t *testing.T) {
	f := newFixture(t)
	f.holder.set(addrA, hash(1), hash(2))
	ctx := context.Background()
	require.NoError(t, f.engine.Refresh(ctx))
	require.NoError(t, f.engine.Decrypt(ctx))
	require.True(t, f.engine.Snapshot().IsTemperatureDecrypted())

	other := newCountingSigner(t)
	f.tracker.SetSigner(other)
	st := f.engine.Snapshot()
	assert.Empty(t, st.Handles)
	assert.Empty(t, st.Cleared)
	_, ok := st.Temperature()
	assert.False(t, ok)
	assert.False(t, st.CanDecrypt())
	assert.ErrorIs(t, f.engine.Decrypt(ctx), ErrNothingToDecrypt)

	// Switching back before any refresh shows the first account's state again.
	f.tracker.SetSigner(f.signer)
	assert.True(t, f.engine.Snapshot().IsTemperatureDecrypted())
	f.reconnect()
	assert.True(t, f.engine.Snapshot().IsTemperatureDecrypted())

	// A refresh for the other account drops the first account's plaintext.
	f.tracker.SetSigner(other)
	require.NoError(t, f.engine.Refresh(ctx))
	st = f.engine.Snapshot()
	assert.Equal(t, hash(1), st.Handle(FieldTemperature))
	assert.False(t, st.IsTemperatureDecrypted())
	assert.True(t, st.CanDecrypt())

	f.tracker.SetSigner(f.signer)
	assert.Empty(t, f.engine.Snapshot().Cleared)
}

func TestDecryptReusesAuthorization(t *testing.T) {
	f := newFixture(t)
	f.holder.set(addrA, hash(1), hash(2))
	require.NoError(t, f.engine.Refresh(context.Background()))
	require.NoError(t, f.engine.Decrypt(context.Background()))

	f.clock.Advance(12 * time.Hour)
	f.holder.set(addrA, hash(3), hash(4))
	require.NoError(t, f.engine.Refresh(context.Background()))
	require.NoError(t, f.engine.Decrypt(context.Background()))
	assert.Equal(t, int32(1), f.signer.prompts.Load())

	f.clock.Advance(12 * time.Hour)
	f.holder.set(addrA, hash(5), hash(6))
	require.NoError(t, f.engine.Refresh(context.Background()))
	require.NoError(t, f.engine.Decrypt(context.Background()))
	assert.Equal(t, int32(2), f.signer.prompts.Load())
}

func TestDecryptAuthorizationRejected(t *testing.T) {
	f := newFixture(t)
	f.holder.set(addrA, hash(1), hash(2))
	require.NoError(t, f.engine.Refresh(context.Background()))
	f.signer.reject = errors.New("user rejected the request")

	err := f.engine.Decrypt(context.Background())
	assert.ErrorIs(t, err, authz.ErrSignatureRejected)
	assert.False(t, IsDiscard(err))
	st := f.engine.Snapshot()
	assert.Equal(t, "Unable to build FHEVM decryption signature", st.Message)
	assert.False(t, st.Decrypting)
	assert.Zero(t, f.fhe.decrypts.Load())

	f.signer.reject = nil
	require.NoError(t, f.engine.Decrypt(context.Background()))
}

func TestDecryptServiceUnavailable(t *testing.T) {
	f := newFixture(t)
	f.holder.set(addrA, hash(1), hash(2))
	require.NoError(t, f.engine.Refresh(context.Background()))

	f.fhe.decErr = fhe.ErrBackendConnection
	assert.ErrorIs(t, f.engine.Decrypt(context.Background()), ErrServiceUnavailable)
	assert.Equal(t, unavailableMessage, f.engine.Snapshot().Message)

	f.fhe.decErr = fhe.ErrNotAllowed
	err := f.engine.Decrypt(context.Background())
	assert.ErrorIs(t, err, fhe.ErrNotAllowed)
	assert.Equal(t, "FHEVM userDecrypt failed! error: "+fhe.ErrNotAllowed.Error(), f.engine.Snapshot().Message)
}
