// Package erc20 serves pool assets from ERC-20 token contracts. Reads go
// through eth_call; transfers are handed to a caller-supplied submitter that
// signs, sends and waits for the transaction.
package erc20

import (
	"context"
	"errors"
	"fmt"
	"time"

	amm "github.com/Iwinswap/iwinswap-amm-pool"
	"github.com/Iwinswap/iwinswap-amm-pool/metadata"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SubmitTransferFunc sends a transaction from `from` to token carrying
// calldata and returns once it is final. A nil error means the transfer
// executed successfully.
type SubmitTransferFunc func(ctx context.Context, token, from common.Address, calldata []byte) error

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type Config struct {
	Client  ethereum.ContractCaller
	Submit  SubmitTransferFunc
	Timeout time.Duration
	Logger  Logger
}

func (c *Config) validate() error {
	if c.Client == nil {
		return errors.New("contract caller is required")
	}
	if c.Submit == nil {
		return errors.New("transfer submitter is required")
	}
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Service implements amm.AssetService on top of ERC-20 contracts.
type Service struct {
	client  ethereum.ContractCaller
	submit  SubmitTransferFunc
	timeout time.Duration
	logger  Logger
}

func NewService(cfg *Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid erc20 service configuration: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRPCTimeout
	}
	return &Service{
		client:  cfg.Client,
		submit:  cfg.Submit,
		timeout: timeout,
		logger:  cfg.Logger,
	}, nil
}

func (s *Service) FetchMetadata(ctx context.Context, asset common.Address, reply amm.Reply[metadata.Metadata]) {
	go func() {
		m, err := FetchMetadata(ctx, s.client, s.timeout, asset)
		if err != nil {
			reply(amm.Fail[metadata.Metadata](err))
			return
		}
		reply(amm.Ok(m))
	}()
}

// Transfer packs an ERC-20 transfer call and submits it from req.From. The
// attached deposit has no ERC-20 counterpart and is ignored.
func (s *Service) Transfer(ctx context.Context, req amm.TransferRequest, reply amm.Reply[struct{}]) {
	calldata, err := TokenABI.Pack("transfer", req.Receiver, req.Amount.ToBig())
	if err != nil {
		reply(amm.Fail[struct{}](fmt.Errorf("pack transfer: %w", err)))
		return
	}
	go func() {
		s.logger.Debug("Submitting ERC-20 transfer", "token", req.Asset.Hex(), "to", req.Receiver.Hex(), "amount", req.Amount.Dec(), "memo", req.Memo)
		if err := s.submit(ctx, req.Asset, req.From, calldata); err != nil {
			s.logger.Warn("ERC-20 transfer failed", "token", req.Asset.Hex(), "to", req.Receiver.Hex(), "error", err)
			reply(amm.Fail[struct{}](err))
			return
		}
		reply(amm.Ok(struct{}{}))
	}()
}

// RegisterAccount always succeeds: ERC-20 balances need no registration.
func (s *Service) RegisterAccount(ctx context.Context, asset, account common.Address, reply amm.Reply[struct{}]) {
	reply(amm.Ok(struct{}{}))
}

func (s *Service) BalanceOf(ctx context.Context, asset, account common.Address) (*uint256.Int, error) {
	return BalanceOf(ctx, s.client, s.timeout, asset, account)
}

var _ amm.AssetService = (*Service)(nil)
