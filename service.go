package amm

import (
	"context"

	"github.com/Iwinswap/iwinswap-amm-pool/metadata"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Result is the response of an asynchronous external call: either a value
// or the reason the call failed.
type Result[T any] struct {
	Value T
	Err   error
}

func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

func Fail[T any](err error) Result[T] {
	return Result[T]{Err: err}
}

// Reply delivers the response of one external call. It must be invoked
// exactly once per request; the pool treats a second invocation as a
// protocol violation.
type Reply[T any] func(Result[T])

// TransferRequest asks the asset service to move funds out of the pool's
// external account.
type TransferRequest struct {
	Asset    common.Address
	From     common.Address
	Receiver common.Address
	Amount   *uint256.Int
	// Deposit is the refundable amount attached to the call, as required by
	// the service's calling convention.
	Deposit *uint256.Int
	Memo    string
}

// AssetService is the external ledger holding the real assets.
// Requests are asynchronous; implementations may invoke reply on any
// goroutine, including synchronously before the method returns.
type AssetService interface {
	FetchMetadata(ctx context.Context, asset common.Address, reply Reply[metadata.Metadata])
	Transfer(ctx context.Context, req TransferRequest, reply Reply[struct{}])
	// RegisterAccount allocates storage for account on asset. It is idempotent.
	RegisterAccount(ctx context.Context, asset, account common.Address, reply Reply[struct{}])
	BalanceOf(ctx context.Context, asset, account common.Address) (*uint256.Int, error)
}

// Caller identifies who invoked an entry point.
type Caller struct {
	// Predecessor is the immediate caller; balances are always taken from it.
	Predecessor common.Address
	// Signer is the account that signed the originating transaction.
	Signer common.Address
	// Deposit is the amount attached to the call.
	Deposit *uint256.Int
}

// Direct returns a Caller that is both predecessor and signer.
func Direct(account common.Address) Caller {
	return Caller{Predecessor: account, Signer: account}
}
