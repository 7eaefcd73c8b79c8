package events

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Topics identify each pool event in its log form. They are the Keccak-256
// hash of the event signature, the same way ERC-20 and pair contracts do it.
var (
	DepositTopic        = crypto.Keccak256Hash([]byte("Deposit(address,address,uint128)"))
	LiquidityAddedTopic = crypto.Keccak256Hash([]byte("LiquidityAdded(address,address,address,uint128,uint128)"))
	SwapTopic           = crypto.Keccak256Hash([]byte("Swap(address,address,address,uint128,uint128)"))
	WithdrawTopic       = crypto.Keccak256Hash([]byte("Withdraw(address,address,uint128)"))
)

// ErrUnknownTopic is returned when decoding a log that is not a pool event.
var ErrUnknownTopic = errors.New("unknown event topic")

type Kind uint8

const (
	KindDeposit Kind = iota + 1
	KindLiquidityAdded
	KindSwap
	KindWithdraw
)

func (k Kind) String() string {
	switch k {
	case KindDeposit:
		return "deposit"
	case KindLiquidityAdded:
		return "liquidity_added"
	case KindSwap:
		return "swap"
	case KindWithdraw:
		return "withdraw"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Kinds lists every event kind.
var Kinds = []Kind{KindDeposit, KindLiquidityAdded, KindSwap, KindWithdraw}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// Event is a committed change to the pool's ledgers.
//
// Deposit and Withdraw only use AssetIn/AmountIn. LiquidityAdded carries
// asset A as "in" and asset B as "out". Swap carries what the account paid
// and what it received.
type Event struct {
	Kind      Kind
	Account   common.Address
	AssetIn   common.Address
	AssetOut  common.Address
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
}

// Topic returns the log topic of the event kind.
func (e Event) Topic() common.Hash {
	switch e.Kind {
	case KindDeposit:
		return DepositTopic
	case KindLiquidityAdded:
		return LiquidityAddedTopic
	case KindSwap:
		return SwapTopic
	case KindWithdraw:
		return WithdrawTopic
	}
	return common.Hash{}
}

// ToLog encodes the event as a log emitted by pool. Indexed topics are the
// account and the asset identities; amounts are packed into two 32-byte words.
func (e Event) ToLog(pool common.Address) types.Log {
	data := make([]byte, 64)
	if e.AmountIn != nil {
		in := e.AmountIn.Bytes32()
		copy(data[:32], in[:])
	}
	if e.AmountOut != nil {
		out := e.AmountOut.Bytes32()
		copy(data[32:], out[:])
	}
	return types.Log{
		Address: pool,
		Topics: []common.Hash{
			e.Topic(),
			common.BytesToHash(e.Account.Bytes()),
			common.BytesToHash(e.AssetIn.Bytes()),
			common.BytesToHash(e.AssetOut.Bytes()),
		},
		Data: data,
	}
}

// FromLog decodes a pool event log.
func FromLog(log types.Log) (Event, error) {
	if len(log.Topics) != 4 {
		return Event{}, fmt.Errorf("invalid topic count %d", len(log.Topics))
	}
	if len(log.Data) != 64 {
		return Event{}, fmt.Errorf("invalid data length %d", len(log.Data))
	}

	var kind Kind
	switch log.Topics[0] {
	case DepositTopic:
		kind = KindDeposit
	case LiquidityAddedTopic:
		kind = KindLiquidityAdded
	case SwapTopic:
		kind = KindSwap
	case WithdrawTopic:
		kind = KindWithdraw
	default:
		return Event{}, fmt.Errorf("%w: %s", ErrUnknownTopic, log.Topics[0].Hex())
	}

	return Event{
		Kind:      kind,
		Account:   common.BytesToAddress(log.Topics[1].Bytes()),
		AssetIn:   common.BytesToAddress(log.Topics[2].Bytes()),
		AssetOut:  common.BytesToAddress(log.Topics[3].Bytes()),
		AmountIn:  new(uint256.Int).SetBytes(log.Data[:32]),
		AmountOut: new(uint256.Int).SetBytes(log.Data[32:]),
	}, nil
}

// Filter returns the logs whose first topic is topic, preserving order.
func Filter(logs []types.Log, topic common.Hash) []types.Log {
	var matched []types.Log
	for _, log := range logs {
		if len(log.Topics) > 0 && log.Topics[0] == topic {
			matched = append(matched, log)
		}
	}
	return matched
}
