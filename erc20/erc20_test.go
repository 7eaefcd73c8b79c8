package erc20

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	amm "github.com/Iwinswap/iwinswap-amm-pool"
	"github.com/Iwinswap/iwinswap-amm-pool/metadata"
	"github.com/Iwinswap/iwinswap-amm-pool/u128"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock Infrastructure ---

type callHandler func(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)

// testCaller is a thread-safe ethereum.ContractCaller with a swappable handler.
type testCaller struct {
	mu      sync.Mutex
	handler callHandler
	calls   int
}

func (c *testCaller) SetCallContractHandler(h callHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *testCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	c.mu.Lock()
	h := c.handler
	c.calls++
	c.mu.Unlock()
	if h == nil {
		return nil, errors.New("no handler set")
	}
	return h(ctx, msg, blockNumber)
}

type fakeToken struct {
	name     string
	symbol   string
	decimals uint8
	balances map[common.Address]*big.Int
}

// tokenHandler answers view calls the way a deployed ERC-20 would.
func tokenHandler(t *testing.T, tokens map[common.Address]fakeToken) callHandler {
	return func(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
		tok, ok := tokens[*msg.To]
		if !ok {
			return nil, fmt.Errorf("execution reverted: no code at %s", msg.To.Hex())
		}
		method, err := TokenABI.MethodById(msg.Data[:4])
		require.NoError(t, err)
		switch method.Name {
		case "name":
			return method.Outputs.Pack(tok.name)
		case "symbol":
			return method.Outputs.Pack(tok.symbol)
		case "decimals":
			return method.Outputs.Pack(tok.decimals)
		case "balanceOf":
			args, err := method.Inputs.Unpack(msg.Data[4:])
			require.NoError(t, err)
			b, ok := tok.balances[args[0].(common.Address)]
			if !ok {
				b = new(big.Int)
			}
			return method.Outputs.Pack(b)
		}
		return nil, fmt.Errorf("unexpected method %s", method.Name)
	}
}

var (
	tokenA  = common.HexToAddress("0xA")
	tokenB  = common.HexToAddress("0xB")
	unknown = common.HexToAddress("0xDEAD")
	holder  = common.HexToAddress("0x1001")
)

func testTokens() map[common.Address]fakeToken {
	huge, _ := new(big.Int).SetString("400000000000000000000000000000000000000", 10)
	return map[common.Address]fakeToken{
		tokenA: {name: "Token A", symbol: "A$", decimals: 10, balances: map[common.Address]*big.Int{holder: big.NewInt(30)}},
		tokenB: {name: "Token B", symbol: "B$", decimals: 18, balances: map[common.Address]*big.Int{holder: huge}},
	}
}

// --- Test Suite ---

func TestFetchMetadata(t *testing.T) {
	testCases := []struct {
		name      string
		token     common.Address
		handler   func(t *testing.T) callHandler
		expected  metadata.Metadata
		expectErr bool
	}{
		{
			name:     "Happy path",
			token:    tokenA,
			handler:  func(t *testing.T) callHandler { return tokenHandler(t, testTokens()) },
			expected: metadata.Metadata{Spec: metadata.SpecVersion, Name: "Token A", Symbol: "A$", Decimals: 10},
		},
		{
			name:      "Contract missing",
			token:     unknown,
			handler:   func(t *testing.T) callHandler { return tokenHandler(t, testTokens()) },
			expectErr: true,
		},
		{
			name:  "Empty symbol fails validation",
			token: tokenA,
			handler: func(t *testing.T) callHandler {
				tokens := testTokens()
				tok := tokens[tokenA]
				tok.symbol = ""
				tokens[tokenA] = tok
				return tokenHandler(t, tokens)
			},
			expectErr: true,
		},
		{
			name:  "Malformed response",
			token: tokenA,
			handler: func(t *testing.T) callHandler {
				return func(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
					return []byte{0x01, 0x02}, nil
				}
			},
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client := &testCaller{}
			client.SetCallContractHandler(tc.handler(t))

			m, err := FetchMetadata(context.Background(), client, time.Second, tc.token)
			if tc.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, m)
			assert.Equal(t, 3, client.calls)
		})
	}
}

func TestBalanceOf(t *testing.T) {
	client := &testCaller{}
	client.SetCallContractHandler(tokenHandler(t, testTokens()))

	b, err := BalanceOf(context.Background(), client, time.Second, tokenA, holder)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), b.Uint64())

	b, err = BalanceOf(context.Background(), client, time.Second, tokenA, common.HexToAddress("0x2"))
	require.NoError(t, err)
	assert.True(t, b.IsZero())

	_, err = BalanceOf(context.Background(), client, time.Second, tokenB, holder)
	assert.ErrorIs(t, err, u128.ErrOverflow, "balances above 128 bits are rejected")
}

func TestNewBalances(t *testing.T) {
	client := &testCaller{}
	client.SetCallContractHandler(tokenHandler(t, testTokens()))
	getBalances := NewBalances(2, time.Second)

	balances, errs := getBalances(context.Background(), client, []common.Address{tokenA, unknown, tokenA}, holder)
	require.Len(t, balances, 3)
	require.NoError(t, errs[0])
	assert.Error(t, errs[1])
	require.NoError(t, errs[2])
	assert.Equal(t, uint64(30), balances[0].Uint64())
	assert.Equal(t, uint64(30), balances[2].Uint64())

	balances, errs = getBalances(context.Background(), client, nil, holder)
	assert.Nil(t, balances)
	assert.Nil(t, errs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, errs = getBalances(ctx, client, []common.Address{tokenA}, holder)
	assert.ErrorIs(t, errs[0], context.Canceled)
}

func TestServiceTransfer(t *testing.T) {
	type submission struct {
		token, from common.Address
		to          common.Address
		amount      *big.Int
	}
	submitted := make(chan submission, 1)
	failing := errors.New("mock: transaction reverted")

	testCases := []struct {
		name      string
		submitErr error
	}{
		{name: "Happy path"},
		{name: "Submission fails", submitErr: failing},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewService(&Config{
				Client: &testCaller{},
				Submit: func(ctx context.Context, token, from common.Address, calldata []byte) error {
					method, err := TokenABI.MethodById(calldata[:4])
					require.NoError(t, err)
					require.Equal(t, "transfer", method.Name)
					args, err := method.Inputs.Unpack(calldata[4:])
					require.NoError(t, err)
					submitted <- submission{token: token, from: from, to: args[0].(common.Address), amount: args[1].(*big.Int)}
					return tc.submitErr
				},
				Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
			})
			require.NoError(t, err)

			done := make(chan amm.Result[struct{}], 1)
			svc.Transfer(context.Background(), amm.TransferRequest{
				Asset:    tokenA,
				From:     holder,
				Receiver: common.HexToAddress("0x2"),
				Amount:   uint256.NewInt(5),
				Deposit:  uint256.NewInt(1),
			}, func(res amm.Result[struct{}]) { done <- res })

			var res amm.Result[struct{}]
			select {
			case res = <-done:
			case <-time.After(time.Second):
				t.Fatal("transfer reply not delivered")
			}
			sub := <-submitted
			assert.Equal(t, tokenA, sub.token)
			assert.Equal(t, holder, sub.from)
			assert.Equal(t, common.HexToAddress("0x2"), sub.to)
			assert.Equal(t, int64(5), sub.amount.Int64())
			if tc.submitErr != nil {
				assert.ErrorIs(t, res.Err, tc.submitErr)
			} else {
				assert.NoError(t, res.Err)
			}
		})
	}
}

func TestServiceReads(t *testing.T) {
	client := &testCaller{}
	client.SetCallContractHandler(tokenHandler(t, testTokens()))
	svc, err := NewService(&Config{
		Client: client,
		Submit: func(context.Context, common.Address, common.Address, []byte) error { return nil },
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	got := make(chan amm.Result[metadata.Metadata], 1)
	svc.FetchMetadata(context.Background(), tokenA, func(res amm.Result[metadata.Metadata]) { got <- res })
	res := <-got
	require.NoError(t, res.Err)
	assert.Equal(t, "A$", res.Value.Symbol)

	var reg amm.Result[struct{}]
	svc.RegisterAccount(context.Background(), tokenA, holder, func(r amm.Result[struct{}]) { reg = r })
	assert.NoError(t, reg.Err)

	b, err := svc.BalanceOf(context.Background(), tokenA, holder)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), b.Uint64())

	_, err = NewService(&Config{Client: client})
	assert.Error(t, err)
}

func TestPoolReconcilesAgainstTokens(t *testing.T) {
	tokens := testTokens()
	tokens[tokenB] = fakeToken{name: "Token B", symbol: "B$", decimals: 18, balances: map[common.Address]*big.Int{}}
	client := &testCaller{}
	client.SetCallContractHandler(tokenHandler(t, tokens))

	svc, err := NewService(&Config{
		Client: client,
		Submit: func(context.Context, common.Address, common.Address, []byte) error {
			return errors.New("read-only")
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		reported []error
	)
	drifts := func() []*amm.ReconcileError {
		mu.Lock()
		defer mu.Unlock()
		var out []*amm.ReconcileError
		for _, err := range reported {
			var reconcileErr *amm.ReconcileError
			if errors.As(err, &reconcileErr) {
				out = append(out, reconcileErr)
			}
		}
		reported = nil
		return out
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	owner := common.HexToAddress("0x0e")
	pool, err := amm.NewPool(ctx, &amm.Config{
		SystemName:    "erc20_test",
		PrometheusReg: prometheus.NewRegistry(),
		Owner:         owner,
		Account:       holder,
		AssetA:        tokenA,
		AssetB:        tokenB,
		Service:       svc,
		ErrorHandler: func(err error) {
			mu.Lock()
			reported = append(reported, err)
			mu.Unlock()
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	t.Run("UncreditedHoldingsDrift", func(t *testing.T) {
		pool.Reconcile(ctx)
		got := drifts()
		require.Len(t, got, 1)
		assert.Equal(t, tokenA, got[0].Asset)
		assert.Equal(t, uint64(0), got[0].Internal.Uint64())
		assert.Equal(t, uint64(30), got[0].External.Uint64())
	})

	t.Run("CreditedHoldingsMatch", func(t *testing.T) {
		unused := pool.OnIncomingTransfer(tokenA, owner, uint256.NewInt(30), "")
		require.True(t, unused.IsZero())
		pool.Reconcile(ctx)
		assert.Empty(t, drifts())
	})
}
