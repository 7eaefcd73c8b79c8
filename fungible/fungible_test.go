package fungible

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	amm "github.com/Iwinswap/iwinswap-amm-pool"
	"github.com/Iwinswap/iwinswap-amm-pool/metadata"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenA    = common.HexToAddress("0xaaaa")
	tokenB    = common.HexToAddress("0xbbbb")
	tokenC    = common.HexToAddress("0xcccc")
	owner     = common.HexToAddress("0x0a")
	alice     = common.HexToAddress("0xa11ce")
	poolAddr  = common.HexToAddress("0x5001")
	oneUnit   = uint256.NewInt(1)
	bigSupply = uint256.NewInt(1_000_000_000)
	errPaused = errors.New("mock: token paused")
)

func testMeta(name, symbol string) metadata.Metadata {
	return metadata.Metadata{Spec: metadata.SpecVersion, Name: name, Symbol: symbol, Decimals: 10}
}

// --- Mock Infrastructure ---

// recordingReceiver keeps a fixed share of every incoming transfer.
type recordingReceiver struct {
	mu    sync.Mutex
	keep  uint64
	calls int
}

func (r *recordingReceiver) OnIncomingTransfer(asset, sender common.Address, amount *uint256.Int, msg string) *uint256.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	keep := uint256.NewInt(r.keep)
	if keep.Gt(amount) {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Sub(amount, keep)
}

func testService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	s := New(opts...)
	require.NoError(t, s.CreateToken(tokenA, testMeta("Token A", "A$"), owner, bigSupply))
	require.NoError(t, s.CreateToken(tokenB, testMeta("Token B", "B$"), owner, bigSupply))
	return s
}

func testBalance(t *testing.T, s *Service, asset, account common.Address) uint64 {
	t.Helper()
	b, err := s.Balance(asset, account)
	require.NoError(t, err)
	return b.Uint64()
}

// --- Test Suite ---

func TestCreateToken(t *testing.T) {
	s := testService(t)
	assert.Equal(t, bigSupply.Uint64(), testBalance(t, s, tokenA, owner))
	supply, err := s.TotalSupply(tokenA)
	require.NoError(t, err)
	assert.Equal(t, bigSupply.Uint64(), supply.Uint64())

	err = s.CreateToken(tokenA, testMeta("Token A", "A$"), owner, bigSupply)
	assert.ErrorIs(t, err, ErrTokenExists)

	bad := testMeta("Token C", "")
	assert.Error(t, s.CreateToken(tokenC, bad, owner, bigSupply))
}

func TestTransferDirect(t *testing.T) {
	testCases := []struct {
		name      string
		setup     func(t *testing.T, s *Service)
		sender    common.Address
		receiver  common.Address
		amount    uint64
		deposit   *uint256.Int
		expectErr error
	}{
		{
			name:     "Happy path",
			setup:    func(t *testing.T, s *Service) { require.NoError(t, s.StorageDeposit(tokenA, alice)) },
			sender:   owner,
			receiver: alice,
			amount:   10,
			deposit:  oneUnit,
		},
		{
			name:      "Receiver not registered",
			setup:     func(t *testing.T, s *Service) {},
			sender:    owner,
			receiver:  alice,
			amount:    10,
			deposit:   oneUnit,
			expectErr: ErrNotRegistered,
		},
		{
			name:      "Missing deposit",
			setup:     func(t *testing.T, s *Service) { require.NoError(t, s.StorageDeposit(tokenA, alice)) },
			sender:    owner,
			receiver:  alice,
			amount:    10,
			deposit:   nil,
			expectErr: ErrDepositRequired,
		},
		{
			name:      "Deposit above one unit",
			setup:     func(t *testing.T, s *Service) { require.NoError(t, s.StorageDeposit(tokenA, alice)) },
			sender:    owner,
			receiver:  alice,
			amount:    10,
			deposit:   uint256.NewInt(2),
			expectErr: ErrDepositRequired,
		},
		{
			name:      "Zero amount",
			setup:     func(t *testing.T, s *Service) { require.NoError(t, s.StorageDeposit(tokenA, alice)) },
			sender:    owner,
			receiver:  alice,
			amount:    0,
			deposit:   oneUnit,
			expectErr: ErrZeroAmount,
		},
		{
			name:      "Self transfer",
			setup:     func(t *testing.T, s *Service) {},
			sender:    owner,
			receiver:  owner,
			amount:    1,
			deposit:   oneUnit,
			expectErr: ErrSameAccount,
		},
		{
			name:      "Insufficient funds",
			setup:     func(t *testing.T, s *Service) { require.NoError(t, s.StorageDeposit(tokenA, alice)) },
			sender:    alice,
			receiver:  owner,
			amount:    1,
			deposit:   oneUnit,
			expectErr: ErrInsufficientFund,
		},
		{
			name: "Injected failure",
			setup: func(t *testing.T, s *Service) {
				require.NoError(t, s.StorageDeposit(tokenA, alice))
				s.FailTransfers(tokenA, errPaused)
			},
			sender:    owner,
			receiver:  alice,
			amount:    1,
			deposit:   oneUnit,
			expectErr: errPaused,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := testService(t)
			tc.setup(t, s)
			before := testBalance(t, s, tokenA, tc.sender)

			err := s.TransferDirect(tokenA, tc.sender, tc.receiver, uint256.NewInt(tc.amount), tc.deposit)
			if tc.expectErr != nil {
				require.ErrorIs(t, err, tc.expectErr)
				assert.Equal(t, before, testBalance(t, s, tokenA, tc.sender), "failed transfer must not move funds")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, before-tc.amount, testBalance(t, s, tokenA, tc.sender))
			assert.Equal(t, tc.amount, testBalance(t, s, tokenA, tc.receiver))
		})
	}
}

func TestTransferCallRefundsUnused(t *testing.T) {
	s := testService(t)
	receiver := &recordingReceiver{keep: 4}
	require.NoError(t, s.StorageDeposit(tokenA, poolAddr))
	s.BindReceiver(poolAddr, receiver)

	used, err := s.TransferCall(tokenA, owner, poolAddr, uint256.NewInt(10), oneUnit, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), used.Uint64())
	assert.Equal(t, uint64(4), testBalance(t, s, tokenA, poolAddr))
	assert.Equal(t, bigSupply.Uint64()-4, testBalance(t, s, tokenA, owner))
	assert.Equal(t, 1, receiver.calls)

	_, err = s.TransferCall(tokenA, owner, alice, uint256.NewInt(10), oneUnit, "")
	assert.Error(t, err, "unbound receivers reject transfer-and-call")
}

func TestDeferredDelivery(t *testing.T) {
	s := testService(t, Deferred())
	require.NoError(t, s.StorageDeposit(tokenA, alice))

	var got amm.Result[struct{}]
	replied := false
	s.Transfer(context.Background(), amm.TransferRequest{
		Asset:    tokenA,
		From:     owner,
		Receiver: alice,
		Amount:   uint256.NewInt(3),
		Deposit:  oneUnit,
	}, func(res amm.Result[struct{}]) {
		got = res
		replied = true
	})

	assert.False(t, replied)
	assert.Equal(t, 1, s.Queued())
	assert.Equal(t, uint64(0), testBalance(t, s, tokenA, alice), "nothing moves before settlement")

	assert.Equal(t, 1, s.Settle())
	assert.True(t, replied)
	assert.NoError(t, got.Err)
	assert.Equal(t, uint64(3), testBalance(t, s, tokenA, alice))
	assert.Equal(t, 0, s.Settle())
}

func TestAssetServiceReplies(t *testing.T) {
	s := testService(t)

	var meta amm.Result[metadata.Metadata]
	s.FetchMetadata(context.Background(), tokenB, func(res amm.Result[metadata.Metadata]) { meta = res })
	require.NoError(t, meta.Err)
	assert.Equal(t, "B$", meta.Value.Symbol)

	s.FetchMetadata(context.Background(), tokenC, func(res amm.Result[metadata.Metadata]) { meta = res })
	assert.ErrorIs(t, meta.Err, ErrUnknownToken)

	var reg amm.Result[struct{}]
	s.RegisterAccount(context.Background(), tokenA, alice, func(res amm.Result[struct{}]) { reg = res })
	require.NoError(t, reg.Err)
	s.RegisterAccount(context.Background(), tokenA, alice, func(res amm.Result[struct{}]) { reg = res })
	require.NoError(t, reg.Err, "registration is idempotent")

	balance, err := s.BalanceOf(context.Background(), tokenA, owner)
	require.NoError(t, err)
	assert.Equal(t, bigSupply.Uint64(), balance.Uint64())
}

// --- Pool integration ---

type poolHarness struct {
	svc  *Service
	pool *amm.Pool

	errorMu sync.Mutex
	errs    []error
}

func (h *poolHarness) addError(err error) {
	h.errorMu.Lock()
	defer h.errorMu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *poolHarness) errors() []error {
	h.errorMu.Lock()
	defer h.errorMu.Unlock()
	out := make([]error, len(h.errs))
	copy(out, h.errs)
	return out
}

func testPoolHarness(t *testing.T, opts ...Option) *poolHarness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &poolHarness{svc: testService(t, opts...)}
	pool, err := amm.NewPool(ctx, &amm.Config{
		SystemName:    "fungible_test",
		PrometheusReg: prometheus.NewRegistry(),
		Owner:         owner,
		Account:       poolAddr,
		AssetA:        tokenA,
		AssetB:        tokenB,
		Service:       h.svc,
		ErrorHandler:  h.addError,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	h.svc.BindReceiver(poolAddr, pool)
	h.svc.Settle()
	h.pool = pool

	require.NoError(t, h.svc.StorageDeposit(tokenA, alice))
	require.NoError(t, h.svc.StorageDeposit(tokenB, alice))
	require.NoError(t, h.svc.TransferDirect(tokenB, owner, alice, uint256.NewInt(10), oneUnit))
	return h
}

func (h *poolHarness) internal(t *testing.T, asset, account common.Address) uint64 {
	t.Helper()
	b, err := h.pool.BalanceOf(asset, account)
	require.NoError(t, err)
	return b.Uint64()
}

// requireBacked checks that the pool's external holdings equal its internal
// total supply for both assets.
func (h *poolHarness) requireBacked(t *testing.T) {
	t.Helper()
	for _, asset := range []common.Address{tokenA, tokenB} {
		supply, err := h.pool.TotalSupply(asset)
		require.NoError(t, err)
		assert.Equal(t, supply.Uint64(), testBalance(t, h.svc, asset, poolAddr), "asset %s", asset.Hex())
	}
}

func TestPoolSession(t *testing.T) {
	h := testPoolHarness(t)

	m, err := h.pool.Metadata(tokenA)
	require.NoError(t, err)
	assert.Equal(t, "Token A", m.Name)

	// The owner deposits and seeds the pool.
	_, err = h.svc.TransferCall(tokenA, owner, poolAddr, uint256.NewInt(30), oneUnit, "")
	require.NoError(t, err)
	_, err = h.svc.TransferCall(tokenB, owner, poolAddr, uint256.NewInt(6), oneUnit, "")
	require.NoError(t, err)
	require.NoError(t, h.pool.AddLiquidity(amm.Direct(owner), tokenA, uint256.NewInt(30), tokenB, uint256.NewInt(6)))

	// Alice trades 1 B for 5 A.
	_, err = h.svc.TransferCall(tokenB, alice, poolAddr, uint256.NewInt(1), oneUnit, "")
	require.NoError(t, err)
	out, err := h.pool.Swap(amm.Direct(alice), tokenB, tokenA, uint256.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), out.Uint64())

	// A top-up above the new rate is rejected, one within it is accepted.
	_, err = h.svc.TransferCall(tokenA, owner, poolAddr, uint256.NewInt(10), oneUnit, "")
	require.NoError(t, err)
	_, err = h.svc.TransferCall(tokenB, owner, poolAddr, uint256.NewInt(10), oneUnit, "")
	require.NoError(t, err)
	err = h.pool.AddLiquidity(amm.Direct(owner), tokenA, uint256.NewInt(1), tokenB, uint256.NewInt(4))
	require.ErrorIs(t, err, amm.ErrRatioCheckFailed)
	require.NoError(t, h.pool.AddLiquidity(amm.Direct(owner), tokenA, uint256.NewInt(1), tokenB, uint256.NewInt(3)))

	// Alice withdraws her A.
	handle, err := h.pool.WithdrawAsset(context.Background(), amm.Caller{Predecessor: alice, Signer: alice, Deposit: oneUnit}, tokenA, uint256.NewInt(5))
	require.NoError(t, err)
	require.NoError(t, handle.Wait(context.Background()))
	assert.Equal(t, uint64(5), testBalance(t, h.svc, tokenA, alice))
	assert.Equal(t, uint64(0), h.internal(t, tokenA, alice))

	h.requireBacked(t)
	assert.Empty(t, h.errors())
}

func TestPoolDeferredWithdrawal(t *testing.T) {
	h := testPoolHarness(t, Deferred())

	_, err := h.svc.TransferCall(tokenB, alice, poolAddr, uint256.NewInt(4), oneUnit, "")
	require.NoError(t, err)

	handle, err := h.pool.WithdrawAsset(context.Background(), amm.Caller{Predecessor: alice, Deposit: oneUnit}, tokenB, uint256.NewInt(3))
	require.NoError(t, err)

	assert.Equal(t, uint64(4), h.internal(t, tokenB, alice), "no debit while in flight")
	assert.Len(t, h.pool.Pending(), 1)
	assert.NoError(t, handle.Err())

	h.svc.Settle()
	require.NoError(t, handle.Err())
	assert.Equal(t, uint64(1), h.internal(t, tokenB, alice))
	assert.Equal(t, uint64(9), testBalance(t, h.svc, tokenB, alice))
	h.requireBacked(t)
}

func TestPoolWithdrawalFailureKeepsBalance(t *testing.T) {
	h := testPoolHarness(t)

	_, err := h.svc.TransferCall(tokenB, alice, poolAddr, uint256.NewInt(4), oneUnit, "")
	require.NoError(t, err)
	h.svc.FailTransfers(tokenB, errPaused)

	handle, err := h.pool.WithdrawAsset(context.Background(), amm.Caller{Predecessor: alice, Deposit: oneUnit}, tokenB, uint256.NewInt(3))
	require.NoError(t, err)
	require.ErrorIs(t, handle.Wait(context.Background()), errPaused)

	assert.Equal(t, uint64(4), h.internal(t, tokenB, alice))
	h.requireBacked(t)
	require.Len(t, h.errors(), 1)
}

func TestPoolReturnsUnsupportedAsset(t *testing.T) {
	h := testPoolHarness(t)
	require.NoError(t, h.svc.CreateToken(tokenC, testMeta("Token C", "C$"), owner, bigSupply))
	require.NoError(t, h.svc.StorageDeposit(tokenC, poolAddr))

	used, err := h.svc.TransferCall(tokenC, owner, poolAddr, uint256.NewInt(7), oneUnit, "")
	require.NoError(t, err)
	assert.True(t, used.IsZero())
	assert.Equal(t, uint64(0), testBalance(t, h.svc, tokenC, poolAddr))
	assert.Equal(t, bigSupply.Uint64(), testBalance(t, h.svc, tokenC, owner))
}
