package amm

import (
	"context"
	"fmt"

	"github.com/Iwinswap/iwinswap-amm-pool/metadata"
	"github.com/ethereum/go-ethereum/common"
)

// fetchMetadata requests the metadata of asset. A failed or invalid response
// leaves the asset's metadata unset and is reported.
func (p *Pool) fetchMetadata(ctx context.Context, asset common.Address) {
	issued, err := p.issue(OpFetchMetadata, asset, common.Address{})
	if err != nil {
		p.errorHandler(err)
		return
	}
	p.service.FetchMetadata(ctx, asset, func(res Result[metadata.Metadata]) {
		p.completeMetadata(issued, res)
	})
}

func (p *Pool) completeMetadata(issued PendingOperation, res Result[metadata.Metadata]) {
	if err := p.consume(issued); err != nil {
		p.errorHandler(err)
		return
	}

	var result error
	if res.Err != nil {
		result = &ExternalCallError{Op: issued.Kind.String(), RequestID: issued.RequestID, Asset: issued.Asset, Err: res.Err}
	} else if err := p.metadata.Set(issued.Asset, res.Value); err != nil {
		result = &ExternalCallError{Op: issued.Kind.String(), RequestID: issued.RequestID, Asset: issued.Asset, Err: fmt.Errorf("rejected metadata: %w", err)}
	}
	p.recordReceipt(issued, result)

	if result != nil {
		p.metadata.MarkFailed(issued.Asset, result)
		p.errorHandler(result)
		return
	}
	p.logger.Info("Asset metadata stored", "system", p.systemName, "asset", issued.Asset.Hex(), "symbol", res.Value.Symbol, "decimals", res.Value.Decimals)
}

// registerAccount asks the asset service to allocate storage for account.
func (p *Pool) registerAccount(ctx context.Context, asset, account common.Address) {
	issued, err := p.issue(OpRegisterAccount, asset, account)
	if err != nil {
		p.errorHandler(err)
		return
	}
	p.service.RegisterAccount(ctx, asset, account, func(res Result[struct{}]) {
		p.completeRegistration(issued, res)
	})
}

func (p *Pool) completeRegistration(issued PendingOperation, res Result[struct{}]) {
	if err := p.consume(issued); err != nil {
		p.errorHandler(err)
		return
	}

	var result error
	if res.Err != nil {
		result = &ExternalCallError{Op: issued.Kind.String(), RequestID: issued.RequestID, Asset: issued.Asset, Err: res.Err}
	}
	p.recordReceipt(issued, result)

	if result != nil {
		p.errorHandler(result)
		return
	}
	p.logger.Debug("Account registered with asset service", "system", p.systemName, "asset", issued.Asset.Hex(), "account", issued.Account.Hex())
}

func (p *Pool) issue(kind OperationKind, asset, account common.Address) (PendingOperation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.begin(kind, asset, account, nil)
}

func (p *Pool) consume(issued PendingOperation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.settle(issued)
	return err
}
