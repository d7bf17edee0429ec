package eth

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

func (c *Client) TokenBalance(ctx context.Context, symbol, owner string) (*big.Int, error) {
	return c.tokenUint(ctx, symbol, "balanceOf", common.HexToAddress(owner))
}

func (c *Client) TokenAllowance(ctx context.Context, symbol, owner, spender string) (*big.Int, error) {
	return c.tokenUint(ctx, symbol, "allowance", common.HexToAddress(owner), common.HexToAddress(spender))
}

func (c *Client) tokenUint(ctx context.Context, symbol, method string, args ...any) (*big.Int, error) {
	addr, err := c.token(symbol)
	if err != nil {
		return nil, err
	}
	data, err := tokenContract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("eth: pack %s: %w", method, err)
	}
	res, err := c.call(ctx, addr, data)
	if err != nil {
		return nil, fmt.Errorf("eth: %s.%s: %w", symbol, method, err)
	}
	out, err := tokenContract.Unpack(method, res)
	if err != nil || len(out) != 1 {
		return nil, fmt.Errorf("eth: unpack %s.%s: %v", symbol, method, err)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("eth: %s.%s: unexpected type %T", symbol, method, out[0])
	}
	return v, nil
}

func (c *Client) SubmitApprove(ctx context.Context, symbol, spender string, value *big.Int, gas uint64) (string, error) {
	addr, err := c.token(symbol)
	if err != nil {
		return "", err
	}
	data, err := tokenContract.Pack("approve", common.HexToAddress(spender), value)
	if err != nil {
		return "", fmt.Errorf("eth: pack approve: %w", err)
	}
	return c.send(ctx, addr, nil, data, gas)
}

// SubmitDeposit wraps value ether into the ether token.
func (c *Client) SubmitDeposit(ctx context.Context, value *big.Int, gas uint64) (string, error) {
	addr, err := c.token(c.etherSymbol)
	if err != nil {
		return "", err
	}
	data, err := tokenContract.Pack("deposit")
	if err != nil {
		return "", fmt.Errorf("eth: pack deposit: %w", err)
	}
	return c.send(ctx, addr, value, data, gas)
}

// SubmitWithdraw unwraps value ether tokens.
func (c *Client) SubmitWithdraw(ctx context.Context, value *big.Int, gas uint64) (string, error) {
	addr, err := c.token(c.etherSymbol)
	if err != nil {
		return "", err
	}
	data, err := tokenContract.Pack("withdraw", value)
	if err != nil {
		return "", fmt.Errorf("eth: pack withdraw: %w", err)
	}
	return c.send(ctx, addr, nil, data, gas)
}
