package erc20

import (
	"context"
	"fmt"
	"time"

	"github.com/Iwinswap/iwinswap-amm-pool/metadata"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

const (
	// defaultRPCTimeout bounds each individual eth_call.
	defaultRPCTimeout = 10 * time.Second
)

// callView performs an eth_call of a view method on token and unpacks its
// single return value.
func callView(parentCtx context.Context, client ethereum.ContractCaller, timeout time.Duration, token common.Address, method string, args ...any) (any, error) {
	if timeout <= 0 {
		timeout = defaultRPCTimeout
	}
	ctx, cancel := context.WithTimeout(parentCtx, timeout)
	defer cancel()

	data, err := TokenABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("eth_call for %s failed on token %s: %w", method, token.Hex(), err)
	}
	out, err := TokenABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid response for %s on token %s: %w", method, token.Hex(), err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("invalid response for %s on token %s: got %d values", method, token.Hex(), len(out))
	}
	return out[0], nil
}

// FetchMetadata reads name, symbol and decimals of token concurrently and
// returns them as fungible-token metadata. The first failed call cancels the
// others.
func FetchMetadata(ctx context.Context, client ethereum.ContractCaller, timeout time.Duration, token common.Address) (metadata.Metadata, error) {
	var (
		name, symbol string
		decimals     uint8
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := callView(gCtx, client, timeout, token, "name")
		if err != nil {
			return err
		}
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("name of token %s has type %T", token.Hex(), v)
		}
		name = s
		return nil
	})
	g.Go(func() error {
		v, err := callView(gCtx, client, timeout, token, "symbol")
		if err != nil {
			return err
		}
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("symbol of token %s has type %T", token.Hex(), v)
		}
		symbol = s
		return nil
	})
	g.Go(func() error {
		v, err := callView(gCtx, client, timeout, token, "decimals")
		if err != nil {
			return err
		}
		d, ok := v.(uint8)
		if !ok {
			return fmt.Errorf("decimals of token %s has type %T", token.Hex(), v)
		}
		decimals = d
		return nil
	})
	if err := g.Wait(); err != nil {
		return metadata.Metadata{}, err
	}

	m := metadata.Metadata{
		Spec:     metadata.SpecVersion,
		Name:     name,
		Symbol:   symbol,
		Decimals: decimals,
	}
	if err := m.Validate(); err != nil {
		return metadata.Metadata{}, fmt.Errorf("token %s: %w", token.Hex(), err)
	}
	return m, nil
}
