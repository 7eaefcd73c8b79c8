// Package fungible simulates a set of NEP-141 style fungible tokens that
// satisfy amm.AssetService. It keeps its own balances and storage
// registrations, enforces the one-unit attached deposit on transfers, and
// supports transfer-and-call with refunds of the unconsumed amount.
//
// By default every reply is delivered before the request method returns.
// With Deferred, replies queue up until Settle is called, which lets callers
// observe the window between issuing a call and receiving its response.
package fungible

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amm "github.com/Iwinswap/iwinswap-amm-pool"
	"github.com/Iwinswap/iwinswap-amm-pool/metadata"
	"github.com/Iwinswap/iwinswap-amm-pool/u128"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrUnknownToken     = errors.New("token does not exist")
	ErrTokenExists      = errors.New("token already exists")
	ErrNotRegistered    = errors.New("account is not registered")
	ErrInsufficientFund = errors.New("the account doesn't have enough balance")
	ErrDepositRequired  = errors.New("requires attached deposit of exactly 1 unit")
	ErrZeroAmount       = errors.New("the amount should be a positive number")
	ErrSameAccount      = errors.New("sender and receiver should be different")
)

// Receiver is an account that accepts transfer-and-call. It returns the
// part of amount it did not consume.
type Receiver interface {
	OnIncomingTransfer(asset, sender common.Address, amount *uint256.Int, msg string) *uint256.Int
}

type token struct {
	meta        metadata.Metadata
	balances    map[common.Address]*uint256.Int
	totalSupply *uint256.Int
}

// Service holds every simulated token.
type Service struct {
	mu        sync.Mutex
	tokens    map[common.Address]*token
	receivers map[common.Address]Receiver
	failures  map[common.Address]error
	deferred  bool
	queue     []func()
}

type Option func(*Service)

// Deferred queues every reply until Settle is called.
func Deferred() Option {
	return func(s *Service) {
		s.deferred = true
	}
}

func New(opts ...Option) *Service {
	s := &Service{
		tokens:    make(map[common.Address]*token),
		receivers: make(map[common.Address]Receiver),
		failures:  make(map[common.Address]error),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateToken mints supply of a new token to owner.
func (s *Service) CreateToken(id common.Address, meta metadata.Metadata, owner common.Address, supply *uint256.Int) error {
	if err := meta.Validate(); err != nil {
		return fmt.Errorf("token %s: %w", id.Hex(), err)
	}
	if supply.Gt(u128.Max) {
		return fmt.Errorf("token %s: %w", id.Hex(), u128.ErrOverflow)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[id]; ok {
		return fmt.Errorf("token %s: %w", id.Hex(), ErrTokenExists)
	}
	s.tokens[id] = &token{
		meta:        meta,
		balances:    map[common.Address]*uint256.Int{owner: u128.Copy(supply)},
		totalSupply: u128.Copy(supply),
	}
	return nil
}

// BindReceiver makes account accept transfer-and-call through r.
func (s *Service) BindReceiver(account common.Address, r Receiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receivers[account] = r
}

// FailTransfers makes every later transfer of asset fail with err. A nil err
// clears the failure.
func (s *Service) FailTransfers(asset common.Address, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, asset)
		return
	}
	s.failures[asset] = err
}

// StorageDeposit registers account on asset. Registering twice is a no-op.
func (s *Service) StorageDeposit(asset, account common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, asset.Hex())
	}
	if _, ok := t.balances[account]; !ok {
		t.balances[account] = u128.Zero()
	}
	return nil
}

// Balance returns the balance of account on asset.
func (s *Service) Balance(asset, account common.Address) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, asset.Hex())
	}
	return u128.Copy(t.balances[account]), nil
}

// TotalSupply returns the sum of all balances of asset.
func (s *Service) TotalSupply(asset common.Address) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, asset.Hex())
	}
	return u128.Copy(t.totalSupply), nil
}

// TransferDirect moves amount from sender to receiver.
func (s *Service) TransferDirect(asset, sender, receiver common.Address, amount, deposit *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferLocked(asset, sender, receiver, amount, deposit)
}

// TransferCall moves amount from sender to receiver, then lets the
// receiver's Receiver decide how much to keep. The unconsumed part is
// refunded to sender, bounded by what receiver still holds. It returns the
// amount that stayed with receiver.
func (s *Service) TransferCall(asset, sender, receiver common.Address, amount, deposit *uint256.Int, msg string) (*uint256.Int, error) {
	s.mu.Lock()
	r, ok := s.receivers[receiver]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("account %s does not accept transfer-and-call", receiver.Hex())
	}
	if err := s.transferLocked(asset, sender, receiver, amount, deposit); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	unused := r.OnIncomingTransfer(asset, sender, u128.Copy(amount), msg)
	if unused == nil || unused.IsZero() {
		return u128.Copy(amount), nil
	}
	if unused.Gt(amount) {
		unused = u128.Copy(amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tokens[asset]
	refund := u128.Copy(unused)
	if held := t.balances[receiver]; held.Lt(refund) {
		refund = u128.Copy(held)
	}
	if !refund.IsZero() {
		t.balances[receiver] = new(uint256.Int).Sub(t.balances[receiver], refund)
		t.balances[sender] = new(uint256.Int).Add(t.balances[sender], refund)
	}
	return new(uint256.Int).Sub(amount, refund), nil
}

// transferLocked must be called with s.mu held.
func (s *Service) transferLocked(asset, sender, receiver common.Address, amount, deposit *uint256.Int) error {
	if deposit == nil || !deposit.Eq(uint256.NewInt(1)) {
		return ErrDepositRequired
	}
	t, ok := s.tokens[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, asset.Hex())
	}
	if err, failing := s.failures[asset]; failing {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	if sender == receiver {
		return ErrSameAccount
	}
	from, ok := t.balances[sender]
	if !ok {
		return fmt.Errorf("sender %s: %w", sender.Hex(), ErrNotRegistered)
	}
	to, ok := t.balances[receiver]
	if !ok {
		return fmt.Errorf("receiver %s: %w", receiver.Hex(), ErrNotRegistered)
	}
	if from.Lt(amount) {
		return ErrInsufficientFund
	}
	credited, err := u128.Add(to, amount)
	if err != nil {
		return err
	}
	t.balances[sender] = new(uint256.Int).Sub(from, amount)
	t.balances[receiver] = credited
	return nil
}

// Settle runs every queued reply in issue order and returns how many ran.
// Replies queued while settling run in the same call.
func (s *Service) Settle() int {
	n := 0
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return n
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		next()
		n++
	}
}

// Queued returns the number of replies waiting for Settle.
func (s *Service) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// run executes op now or queues it, depending on the delivery mode.
func (s *Service) run(op func()) {
	s.mu.Lock()
	if s.deferred {
		s.queue = append(s.queue, op)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	op()
}

// --- amm.AssetService ---

func (s *Service) FetchMetadata(ctx context.Context, asset common.Address, reply amm.Reply[metadata.Metadata]) {
	s.run(func() {
		s.mu.Lock()
		t, ok := s.tokens[asset]
		s.mu.Unlock()
		if !ok {
			reply(amm.Fail[metadata.Metadata](fmt.Errorf("%w: %s", ErrUnknownToken, asset.Hex())))
			return
		}
		reply(amm.Ok(t.meta))
	})
}

func (s *Service) Transfer(ctx context.Context, req amm.TransferRequest, reply amm.Reply[struct{}]) {
	s.run(func() {
		if err := ctx.Err(); err != nil {
			reply(amm.Fail[struct{}](err))
			return
		}
		if err := s.TransferDirect(req.Asset, req.From, req.Receiver, req.Amount, req.Deposit); err != nil {
			reply(amm.Fail[struct{}](err))
			return
		}
		reply(amm.Ok(struct{}{}))
	})
}

func (s *Service) RegisterAccount(ctx context.Context, asset, account common.Address, reply amm.Reply[struct{}]) {
	s.run(func() {
		if err := s.StorageDeposit(asset, account); err != nil {
			reply(amm.Fail[struct{}](err))
			return
		}
		reply(amm.Ok(struct{}{}))
	})
}

func (s *Service) BalanceOf(ctx context.Context, asset, account common.Address) (*uint256.Int, error) {
	return s.Balance(asset, account)
}

var _ amm.AssetService = (*Service)(nil)
