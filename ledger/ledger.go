package ledger

import (
	"errors"
	"fmt"

	"github.com/Iwinswap/iwinswap-amm-pool/u128"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrAccountNotRegistered is returned when debiting an account that has no entry.
	ErrAccountNotRegistered = errors.New("account is not registered")
	// ErrInsufficientBalance is returned when an account cannot cover a debit.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrZeroAmount is returned for transfers of nothing.
	ErrZeroAmount = errors.New("amount must be positive")
	// ErrSelfTransfer is returned when sender and receiver are the same account.
	ErrSelfTransfer = errors.New("sender and receiver must differ")
)

// BalanceError describes a failed ledger mutation. Err is one of the
// package sentinels or a u128 arithmetic error.
type BalanceError struct {
	Asset   common.Address
	Account common.Address
	Op      string
	Err     error
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("ledger %s: %s for account %s: %v", e.Asset.Hex(), e.Op, e.Account.Hex(), e.Err)
}

func (e *BalanceError) Unwrap() error {
	return e.Err
}

// Entry is a copy of one account's balance.
type Entry struct {
	Account common.Address `codec:"account"`
	Balance *uint256.Int   `codec:"balance"`
}

// AssetLedger is the internal balance table of a single asset.
// It is not safe for concurrent use; the owning pool serializes access.
type AssetLedger struct {
	asset       common.Address
	balances    map[common.Address]*uint256.Int
	totalSupply *uint256.Int
}

func New(asset common.Address) *AssetLedger {
	return &AssetLedger{
		asset:       asset,
		balances:    make(map[common.Address]*uint256.Int),
		totalSupply: u128.Zero(),
	}
}

// Restore rebuilds a ledger from entries, recomputing the total supply.
func Restore(asset common.Address, entries []Entry) (*AssetLedger, error) {
	l := New(asset)
	for _, e := range entries {
		if _, ok := l.balances[e.Account]; ok {
			return nil, fmt.Errorf("ledger %s: duplicate entry for account %s", asset.Hex(), e.Account.Hex())
		}
		l.Register(e.Account)
		if e.Balance == nil || e.Balance.IsZero() {
			continue
		}
		if err := l.Deposit(e.Account, e.Balance); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Asset returns the identity of the asset this ledger tracks.
func (l *AssetLedger) Asset() common.Address {
	return l.asset
}

// Register creates a zero entry for account if it has none.
func (l *AssetLedger) Register(account common.Address) {
	if _, ok := l.balances[account]; !ok {
		l.balances[account] = u128.Zero()
	}
}

func (l *AssetLedger) IsRegistered(account common.Address) bool {
	_, ok := l.balances[account]
	return ok
}

// BalanceOf returns a copy of the account balance, zero when unregistered.
func (l *AssetLedger) BalanceOf(account common.Address) *uint256.Int {
	return u128.Copy(l.balances[account])
}

// TotalSupply returns the sum of all balances.
func (l *AssetLedger) TotalSupply() *uint256.Int {
	return u128.Copy(l.totalSupply)
}

// Deposit credits amount to account, registering it first if needed.
func (l *AssetLedger) Deposit(account common.Address, amount *uint256.Int) error {
	current := l.balances[account]
	if current == nil {
		current = u128.Zero()
	}
	balance, err := u128.Add(current, amount)
	if err != nil {
		return &BalanceError{Asset: l.asset, Account: account, Op: "deposit", Err: err}
	}
	supply, err := u128.Add(l.totalSupply, amount)
	if err != nil {
		return &BalanceError{Asset: l.asset, Account: account, Op: "deposit", Err: err}
	}
	l.balances[account] = balance
	l.totalSupply = supply
	return nil
}

// Withdraw debits amount from account.
func (l *AssetLedger) Withdraw(account common.Address, amount *uint256.Int) error {
	current, ok := l.balances[account]
	if !ok {
		return &BalanceError{Asset: l.asset, Account: account, Op: "withdraw", Err: ErrAccountNotRegistered}
	}
	balance, err := u128.Sub(current, amount)
	if err != nil {
		return &BalanceError{Asset: l.asset, Account: account, Op: "withdraw", Err: err}
	}
	supply, err := u128.Sub(l.totalSupply, amount)
	if err != nil {
		return &BalanceError{Asset: l.asset, Account: account, Op: "withdraw", Err: err}
	}
	l.balances[account] = balance
	l.totalSupply = supply
	return nil
}

// Transfer moves amount from one account to another. Either both sides are
// applied or neither is.
func (l *AssetLedger) Transfer(from, to common.Address, amount *uint256.Int) error {
	if from == to {
		return &BalanceError{Asset: l.asset, Account: from, Op: "transfer", Err: ErrSelfTransfer}
	}
	if amount.IsZero() {
		return &BalanceError{Asset: l.asset, Account: from, Op: "transfer", Err: ErrZeroAmount}
	}
	fromBalance, ok := l.balances[from]
	if !ok {
		return &BalanceError{Asset: l.asset, Account: from, Op: "transfer", Err: ErrAccountNotRegistered}
	}
	if fromBalance.Lt(amount) {
		return &BalanceError{Asset: l.asset, Account: from, Op: "transfer", Err: ErrInsufficientBalance}
	}

	toBalance := l.balances[to]
	if toBalance == nil {
		toBalance = u128.Zero()
	}
	credited, err := u128.Add(toBalance, amount)
	if err != nil {
		return &BalanceError{Asset: l.asset, Account: to, Op: "transfer", Err: err}
	}

	l.balances[from] = new(uint256.Int).Sub(fromBalance, amount)
	l.balances[to] = credited
	return nil
}

// Entries returns a copy of every registered account and balance.
// Iteration order is unspecified.
func (l *AssetLedger) Entries() []Entry {
	if len(l.balances) == 0 {
		return nil
	}
	entries := make([]Entry, 0, len(l.balances))
	for account, balance := range l.balances {
		entries = append(entries, Entry{Account: account, Balance: u128.Copy(balance)})
	}
	return entries
}
