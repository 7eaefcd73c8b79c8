package amm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iwinswap/iwinswap-amm-pool/events"
	"github.com/Iwinswap/iwinswap-amm-pool/ledger"
	"github.com/Iwinswap/iwinswap-amm-pool/metadata"
	"github.com/Iwinswap/iwinswap-amm-pool/u128"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultReceiptCacheSize is the number of completed operations kept for Receipt lookups.
const DefaultReceiptCacheSize = 1024

// Logger defines a standard interface for structured, leveled logging,
// compatible with the standard library's slog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type ErrorHandlerFunc func(err error)

// Config holds all the dependencies and settings for the Pool.
type Config struct {
	SystemName    string
	PrometheusReg prometheus.Registerer
	// Owner is the only account allowed to add liquidity.
	Owner common.Address
	// Account is the pool's own account, on the internal ledgers and on the asset service.
	Account common.Address
	AssetA  common.Address
	AssetB  common.Address
	Service AssetService
	// TransferDeposit is attached to every outgoing transfer. Defaults to 1.
	TransferDeposit  *uint256.Int
	ReceiptCacheSize int
	ResyncFrequency  time.Duration
	ErrorHandler     ErrorHandlerFunc
	Logger           Logger
}

// validate checks that all essential fields in the Config are provided.
func (c *Config) validate() error {
	if c.SystemName == "" {
		return errors.New("system name is required")
	}
	if c.Owner == (common.Address{}) {
		return errors.New("owner is required")
	}
	if c.Account == (common.Address{}) {
		return errors.New("pool account is required")
	}
	if c.AssetA == (common.Address{}) || c.AssetB == (common.Address{}) {
		return errors.New("both asset identities are required")
	}
	if c.AssetA == c.AssetB {
		return fmt.Errorf("asset A and asset B must differ, both are %s", c.AssetA.Hex())
	}
	if c.Service == nil {
		return errors.New("asset service is required")
	}
	if c.TransferDeposit != nil && c.TransferDeposit.Gt(u128.Max) {
		return errors.New("transfer deposit exceeds 128 bits")
	}
	if c.ReceiptCacheSize < 0 {
		return errors.New("receipt cache size must not be negative")
	}
	if c.ErrorHandler == nil {
		return errors.New("error handler function is required")
	}
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Receipt is the outcome of a completed external call.
type Receipt struct {
	RequestID   uint64
	Kind        OperationKind
	Asset       common.Address
	Account     common.Address
	Amount      *uint256.Int
	Err         error
	CompletedAt time.Time
}

func (r Receipt) Succeeded() bool {
	return r.Err == nil
}

// Pool is a two-asset constant-product pool. It owns the internal ledgers of
// both assets, and sequences every mutation that depends on the external
// asset service against that service's asynchronous responses.
//
// A single mutex serializes entry points and response handlers. It is never
// held while calling the asset service, the error handler, or event
// subscribers, so services that reply synchronously are supported.
type Pool struct {
	systemName      string
	owner           common.Address
	account         common.Address
	ledgers         [2]*ledger.AssetLedger
	metadata        *metadata.Cache
	service         AssetService
	transferDeposit *uint256.Int
	resyncFrequency time.Duration
	nextRequestID   uint64
	pending         *pendingTable
	cachedPending   atomic.Pointer[[]PendingOperation]
	receipts        *lru.Cache[uint64, Receipt]
	feed            event.Feed
	errorHandler    ErrorHandlerFunc
	mu              sync.Mutex
	metrics         *Metrics
	logger          Logger
}

// NewPool constructs a pool with empty ledgers and starts it: the pool
// account is registered with the asset service, the metadata of both assets
// is requested, and the reconciler begins running when ResyncFrequency > 0.
func NewPool(ctx context.Context, cfg *Config) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid amm pool configuration: %w", err)
	}

	pool, err := newPool(cfg, ledger.New(cfg.AssetA), ledger.New(cfg.AssetB), metadata.NewCache())
	if err != nil {
		return nil, err
	}
	pool.start(ctx)
	return pool, nil
}

func newPool(cfg *Config, ledgerA, ledgerB *ledger.AssetLedger, cache *metadata.Cache) (*Pool, error) {
	cacheSize := cfg.ReceiptCacheSize
	if cacheSize == 0 {
		cacheSize = DefaultReceiptCacheSize
	}
	receipts, err := lru.New[uint64, Receipt](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("receipt cache: %w", err)
	}

	transferDeposit := u128.From(1)
	if cfg.TransferDeposit != nil {
		transferDeposit = u128.Copy(cfg.TransferDeposit)
	}

	metrics := NewMetrics(cfg.PrometheusReg, cfg.SystemName)

	pool := &Pool{
		systemName:      cfg.SystemName,
		owner:           cfg.Owner,
		account:         cfg.Account,
		ledgers:         [2]*ledger.AssetLedger{ledgerA, ledgerB},
		metadata:        cache,
		service:         cfg.Service,
		transferDeposit: transferDeposit,
		resyncFrequency: cfg.ResyncFrequency,
		pending:         newPendingTable(),
		receipts:        receipts,
		errorHandler: func(err error) {
			errorType := determineErrorType(err)
			cfg.Logger.Error("AMM pool internal error", "system", cfg.SystemName, "type", errorType, "error", err)
			metrics.ErrorsTotal.WithLabelValues(errorType).Inc()
			cfg.ErrorHandler(err)
		},
		metrics: metrics,
		logger:  cfg.Logger,
	}
	pool.cachedPending.Store(&[]PendingOperation{})
	return pool, nil
}

func (p *Pool) start(ctx context.Context) {
	p.mu.Lock()
	p.updateGauges()
	p.mu.Unlock()

	p.logger.Info("AMM pool started",
		"system", p.systemName,
		"owner", p.owner.Hex(),
		"account", p.account.Hex(),
		"assetA", p.ledgers[0].Asset().Hex(),
		"assetB", p.ledgers[1].Asset().Hex(),
	)

	for _, l := range p.ledgers {
		p.registerAccount(ctx, l.Asset(), p.account)
		if _, err := p.metadata.Get(l.Asset()); err != nil {
			p.fetchMetadata(ctx, l.Asset())
		}
	}
	go p.startReconciler(ctx)
}

func (p *Pool) Owner() common.Address   { return p.owner }
func (p *Pool) Account() common.Address { return p.account }
func (p *Pool) AssetA() common.Address  { return p.ledgers[0].Asset() }
func (p *Pool) AssetB() common.Address  { return p.ledgers[1].Asset() }

// ledgerFor resolves an asset identity to its ledger. It must be called with p.mu held.
func (p *Pool) ledgerFor(asset common.Address) (*ledger.AssetLedger, bool) {
	for _, l := range p.ledgers {
		if l.Asset() == asset {
			return l, true
		}
	}
	return nil, false
}

// Metadata returns the stored metadata of asset. Metadata that was never
// set is an operator-visible fault and is logged at error level.
func (p *Pool) Metadata(asset common.Address) (metadata.Metadata, error) {
	if asset != p.AssetA() && asset != p.AssetB() {
		return metadata.Metadata{}, fmt.Errorf("%w: %s", ErrUnknownAsset, asset.Hex())
	}
	m, err := p.metadata.Get(asset)
	if err != nil {
		p.logger.Error("Metadata requested before it was set", "system", p.systemName, "asset", asset.Hex(), "error", err)
		return metadata.Metadata{}, err
	}
	return m, nil
}

// TotalSupply returns the sum of all internal balances of asset.
func (p *Pool) TotalSupply(asset common.Address) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.ledgerFor(asset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset.Hex())
	}
	return l.TotalSupply(), nil
}

// Reserve returns the pool account's balance of asset.
func (p *Pool) Reserve(asset common.Address) (*uint256.Int, error) {
	return p.BalanceOf(asset, p.account)
}

// BalanceOf returns the internal balance of account on asset.
func (p *Pool) BalanceOf(asset, account common.Address) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.ledgerFor(asset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset.Hex())
	}
	return l.BalanceOf(account), nil
}

// Pending returns a copy of the external calls awaiting a response. This operation is lock-free.
func (p *Pool) Pending() []PendingOperation {
	viewPtr := p.cachedPending.Load()
	if viewPtr == nil {
		return nil
	}
	view := *viewPtr
	viewCopy := make([]PendingOperation, len(view))
	for i, op := range view {
		op.Amount = u128.Copy(op.Amount)
		viewCopy[i] = op
	}
	return viewCopy
}

// Receipt returns the outcome of a completed external call, if it is still cached.
func (p *Pool) Receipt(requestID uint64) (Receipt, bool) {
	return p.receipts.Get(requestID)
}

// SubscribeEvents delivers every committed ledger change to ch. Delivery is
// synchronous; a subscriber that stops reading blocks the pool's callers.
func (p *Pool) SubscribeEvents(ch chan<- events.Event) event.Subscription {
	return p.feed.Subscribe(ch)
}

// available returns what account can spend on l: its balance minus the
// withdrawals it has in flight. It must be called with p.mu held.
func (p *Pool) available(l *ledger.AssetLedger, account common.Address) (*uint256.Int, error) {
	balance := l.BalanceOf(account)
	reserved, err := reservedFor(l.Asset(), account, p.pending)
	if err != nil {
		return nil, err
	}
	if balance.Lt(reserved) {
		return u128.Zero(), nil
	}
	return new(uint256.Int).Sub(balance, reserved), nil
}

// begin records a new outstanding external call. It must be called with p.mu held.
func (p *Pool) begin(kind OperationKind, asset, account common.Address, amount *uint256.Int) (PendingOperation, error) {
	p.nextRequestID++
	op := PendingOperation{
		RequestID: p.nextRequestID,
		Kind:      kind,
		Asset:     asset,
		Account:   account,
		Amount:    u128.Copy(amount),
		IssuedAt:  time.Now(),
	}
	if err := addPending(op, p.pending); err != nil {
		return PendingOperation{}, fmt.Errorf("request %d: %w", op.RequestID, err)
	}
	p.updateCachedPending()
	p.metrics.PendingOperations.WithLabelValues(kind.String()).Inc()
	return op, nil
}

// settle consumes the outstanding call answered by a response. A second
// response for the same request returns an ExternalCallError wrapping
// ErrDuplicateResponse. It must be called with p.mu held.
func (p *Pool) settle(issued PendingOperation) (PendingOperation, error) {
	op, err := takePending(issued.RequestID, p.pending)
	if err != nil {
		return PendingOperation{}, &ExternalCallError{
			Op:        issued.Kind.String(),
			RequestID: issued.RequestID,
			Asset:     issued.Asset,
			Err:       ErrDuplicateResponse,
		}
	}
	p.updateCachedPending()
	p.metrics.PendingOperations.WithLabelValues(op.Kind.String()).Dec()
	p.metrics.ExternalCallDur.WithLabelValues(op.Kind.String()).Observe(time.Since(op.IssuedAt).Seconds())
	return op, nil
}

func (p *Pool) recordReceipt(op PendingOperation, err error) {
	p.receipts.Add(op.RequestID, Receipt{
		RequestID:   op.RequestID,
		Kind:        op.Kind,
		Asset:       op.Asset,
		Account:     op.Account,
		Amount:      u128.Copy(op.Amount),
		Err:         err,
		CompletedAt: time.Now(),
	})
}

// updateCachedPending regenerates the lock-free pending view.
// This method MUST be called with p.mu held.
func (p *Pool) updateCachedPending() {
	view := viewPending(p.pending)
	p.cachedPending.Store(&view)
}

// updateGauges must be called with p.mu held.
func (p *Pool) updateGauges() {
	for _, l := range p.ledgers {
		asset := l.Asset().Hex()
		p.metrics.Reserve.WithLabelValues(asset).Set(l.BalanceOf(p.account).Float64())
		p.metrics.TotalSupply.WithLabelValues(asset).Set(l.TotalSupply().Float64())
	}
}

// publish sends committed events to subscribers. It must not be called with p.mu held.
func (p *Pool) publish(evs ...events.Event) {
	for _, ev := range evs {
		p.feed.Send(ev)
	}
}

// outcome records an entry-point result in the operations counter.
func (p *Pool) outcome(op string, err error) {
	switch {
	case err == nil:
		p.metrics.OperationsTotal.WithLabelValues(op, "ok").Inc()
	case determineErrorType(err) == "precondition":
		p.metrics.OperationsTotal.WithLabelValues(op, "rejected").Inc()
	default:
		p.metrics.OperationsTotal.WithLabelValues(op, "failed").Inc()
	}
}
