package amm

import (
	"errors"
	"fmt"

	"github.com/Iwinswap/iwinswap-amm-pool/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrAssetMismatch is returned when supplied asset identities differ from the pool's pair.
	ErrAssetMismatch = errors.New("asset identities do not match the pool")
	// ErrUnknownAsset is returned when an asset identity belongs to neither side of the pool.
	ErrUnknownAsset = errors.New("unsupported asset")
	// ErrSameAsset is returned when a swap names the same asset on both sides.
	ErrSameAsset = errors.New("source and destination assets must differ")
	// ErrUnauthorized is returned when an owner-only entry point is called by someone else.
	ErrUnauthorized = errors.New("access unauthorized")
	// ErrZeroReserve is returned when a swap is attempted against an empty reserve.
	ErrZeroReserve = errors.New("pool reserve is empty")
	// ErrRatioCheckFailed is returned when a liquidity top-up exceeds the current exchange rate.
	ErrRatioCheckFailed = errors.New("incorrect amounts for liquidity top-up")
	// ErrInsufficientOutput is returned when a swap would pay out nothing.
	ErrInsufficientOutput = errors.New("swap output rounds down to zero")
	// ErrDepositRequired is returned when the attached deposit cannot cover the external transfer deposit.
	ErrDepositRequired = errors.New("attached deposit does not cover the transfer deposit")
	// ErrDuplicateResponse is reported when an external call is answered more than once.
	ErrDuplicateResponse = errors.New("external response already consumed")

	ErrInsufficientBalance = ledger.ErrInsufficientBalance
	ErrZeroAmount          = ledger.ErrZeroAmount
	ErrSelfTransfer        = ledger.ErrSelfTransfer
)

// PreconditionError is a rejected entry-point call. Nothing was mutated.
type PreconditionError struct {
	Op      string
	Account common.Address
	Details string
	Err     error
}

func (e *PreconditionError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s rejected for %s: %s: %v", e.Op, e.Account.Hex(), e.Details, e.Err)
	}
	return fmt.Sprintf("%s rejected for %s: %v", e.Op, e.Account.Hex(), e.Err)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// ArithmeticError is an overflow, underflow or division by zero in ledger or
// pricing math. It always indicates a defect or an unrepresentable amount.
type ArithmeticError struct {
	Op  string
	Err error
}

func (e *ArithmeticError) Error() string {
	return fmt.Sprintf("CRITICAL %s: arithmetic fault: %v", e.Op, e.Err)
}

func (e *ArithmeticError) Unwrap() error {
	return e.Err
}

// ExternalCallError is a failed, missing or duplicated response from the
// external asset service. The dependent ledger mutation was not applied.
type ExternalCallError struct {
	Op        string
	RequestID uint64
	Asset     common.Address
	Err       error
}

func (e *ExternalCallError) Error() string {
	return fmt.Sprintf("%s request %d on asset %s: external call failed: %v", e.Op, e.RequestID, e.Asset.Hex(), e.Err)
}

func (e *ExternalCallError) Unwrap() error {
	return e.Err
}

// ReconcileError reports that the ledger of an asset no longer matches the
// external balance held by the pool account.
type ReconcileError struct {
	Asset    common.Address
	Internal *uint256.Int
	External *uint256.Int
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("reconciler: asset %s drifted: internal supply %s, external pool balance %s", e.Asset.Hex(), e.Internal.Dec(), e.External.Dec())
}

// determineErrorType maps an error to the label used by the errors metric.
func determineErrorType(err error) string {
	var (
		preErr       *PreconditionError
		arithErr     *ArithmeticError
		externalErr  *ExternalCallError
		reconcileErr *ReconcileError
	)
	switch {
	case errors.As(err, &arithErr):
		return "arithmetic"
	case errors.As(err, &externalErr):
		return "external_call"
	case errors.As(err, &reconcileErr):
		return "reconcile"
	case errors.As(err, &preErr):
		return "precondition"
	default:
		return "unknown"
	}
}
