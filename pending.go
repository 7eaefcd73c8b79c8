package amm

import (
	"errors"
	"fmt"
	"time"

	"github.com/Iwinswap/iwinswap-amm-pool/u128"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrRequestExists is returned when a request id is issued twice.
	ErrRequestExists = errors.New("request already pending")
	// ErrRequestNotFound is returned when a response names an unknown or already consumed request.
	ErrRequestNotFound = errors.New("request not pending")
)

// OperationKind is the type of an outstanding external call.
type OperationKind uint8

const (
	OpFetchMetadata OperationKind = iota + 1
	OpRegisterAccount
	OpWithdraw
)

func (k OperationKind) String() string {
	switch k {
	case OpFetchMetadata:
		return "fetch_metadata"
	case OpRegisterAccount:
		return "register_account"
	case OpWithdraw:
		return "withdraw"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

// PendingOperation is a copy of an external call awaiting its response.
type PendingOperation struct {
	RequestID uint64         `json:"requestId"`
	Kind      OperationKind  `json:"kind"`
	Asset     common.Address `json:"asset"`
	Account   common.Address `json:"account"`
	Amount    *uint256.Int   `json:"amount,omitempty"`
	IssuedAt  time.Time      `json:"issuedAt"`
}

// pendingTable tracks outstanding external calls using a data-oriented layout.
// Each request id is consumed exactly once.
type pendingTable struct {
	id       []uint64
	kind     []OperationKind
	asset    []common.Address
	account  []common.Address
	amount   []*uint256.Int
	issuedAt []time.Time

	// --- Mapping layer to separate request ID from physical index ---
	idToIndex map[uint64]int
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		idToIndex: make(map[uint64]int),
	}
}

func addPending(op PendingOperation, table *pendingTable) error {
	if _, ok := table.idToIndex[op.RequestID]; ok {
		return ErrRequestExists
	}

	table.id = append(table.id, op.RequestID)
	table.kind = append(table.kind, op.Kind)
	table.asset = append(table.asset, op.Asset)
	table.account = append(table.account, op.Account)
	// Amounts are copied so later changes to the caller's value cannot alter the pending debit.
	table.amount = append(table.amount, u128.Copy(op.Amount))
	table.issuedAt = append(table.issuedAt, op.IssuedAt)

	table.idToIndex[op.RequestID] = len(table.id) - 1
	return nil
}

// takePending removes and returns the operation for requestID.
func takePending(requestID uint64, table *pendingTable) (PendingOperation, error) {
	index, ok := table.idToIndex[requestID]
	if !ok {
		return PendingOperation{}, ErrRequestNotFound
	}
	op := pendingAt(index, table)

	lastIndex := len(table.id) - 1
	lastID := table.id[lastIndex]

	if index != lastIndex {
		table.id[index] = lastID
		table.kind[index] = table.kind[lastIndex]
		table.asset[index] = table.asset[lastIndex]
		table.account[index] = table.account[lastIndex]
		table.amount[index] = table.amount[lastIndex]
		table.issuedAt[index] = table.issuedAt[lastIndex]
		table.idToIndex[lastID] = index
	}

	delete(table.idToIndex, requestID)

	table.id = table.id[:lastIndex]
	table.kind = table.kind[:lastIndex]
	table.asset = table.asset[:lastIndex]
	table.account = table.account[:lastIndex]
	table.amount = table.amount[:lastIndex]
	table.issuedAt = table.issuedAt[:lastIndex]

	return op, nil
}

func pendingAt(index int, table *pendingTable) PendingOperation {
	return PendingOperation{
		RequestID: table.id[index],
		Kind:      table.kind[index],
		Asset:     table.asset[index],
		Account:   table.account[index],
		Amount:    u128.Copy(table.amount[index]),
		IssuedAt:  table.issuedAt[index],
	}
}

func viewPending(table *pendingTable) []PendingOperation {
	n := len(table.id)
	if n == 0 {
		return nil
	}

	views := make([]PendingOperation, n)
	for i := 0; i < n; i++ {
		views[i] = pendingAt(i, table)
	}
	return views
}

// hasPendingFor reports whether any operation of kind is outstanding on asset.
func hasPendingFor(kind OperationKind, asset common.Address, table *pendingTable) bool {
	for i := range table.id {
		if table.kind[i] == kind && table.asset[i] == asset {
			return true
		}
	}
	return false
}

func countPending(kind OperationKind, table *pendingTable) int {
	n := 0
	for _, k := range table.kind {
		if k == kind {
			n++
		}
	}
	return n
}

// reservedFor sums the outstanding withdrawals of account on asset.
func reservedFor(asset, account common.Address, table *pendingTable) (*uint256.Int, error) {
	total := u128.Zero()
	for i := range table.id {
		if table.kind[i] != OpWithdraw || table.asset[i] != asset || table.account[i] != account {
			continue
		}
		sum, err := u128.Add(total, table.amount[i])
		if err != nil {
			return nil, err
		}
		total = sum
	}
	return total, nil
}
