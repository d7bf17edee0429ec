package tokens

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"slices"

	"github.com/alanyoungcy/otcdesk/internal/amount"
	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// SetNewAllowance stages an allowance, given in human units, for symbol.
func (s *Store) SetNewAllowance(symbol, human string) error {
	wei, err := amount.HumanToBig(human)
	if err != nil {
		return fmt.Errorf("tokens: new allowance %s: %w", symbol, err)
	}
	if wei.Sign() < 0 {
		return fmt.Errorf("tokens: new allowance %s: %w", symbol, amount.ErrInvalidAmount)
	}

	s.mu.Lock()
	tok, ok := s.tokens[symbol]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("tokens: new allowance %s: %w", symbol, domain.ErrNotFound)
	}
	tok.NewAllowance = wei.String()
	s.tokens[symbol] = tok
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(tok)
	}
	return nil
}

// ChangedAllowances returns the tokens whose staged allowance differs from
// the on-chain one.
func (s *Store) ChangedAllowances() []domain.Token {
	var out []domain.Token
	for _, tok := range s.List() {
		if tok.AllowanceChanged() {
			out = append(out, tok)
		}
	}
	return out
}

// ApplyAllowance submits approve(exchange, newAllowance) for symbol. Only one
// approve per token may be in flight.
func (s *Store) ApplyAllowance(ctx context.Context, symbol string) (string, error) {
	tok, ok := s.Get(symbol)
	if !ok {
		return "", fmt.Errorf("tokens: apply allowance %s: %w", symbol, domain.ErrNotFound)
	}
	if !tok.AllowanceChanged() {
		return "", fmt.Errorf("tokens: apply allowance %s: unchanged: %w", symbol, domain.ErrNotActionable)
	}
	typ := domain.AllowanceTxType(symbol)
	if len(s.pending.FindByType(typ)) > 0 {
		return "", fmt.Errorf("tokens: apply allowance %s: approve in flight: %w", symbol, domain.ErrNotActionable)
	}
	value, err := amount.ParseBig(tok.NewAllowance)
	if err != nil {
		return "", fmt.Errorf("tokens: apply allowance %s: %w", symbol, err)
	}

	hash, err := s.chain.SubmitApprove(ctx, symbol, s.chain.Exchange(), value, s.cfg.ApproveGas)
	if err != nil {
		return "", fmt.Errorf("tokens: approve %s: %w", symbol, err)
	}
	s.pending.Add(typ, hash, domain.TokenTxPayload{Kind: "approve", Symbol: symbol, Amount: value.String()})
	s.logger.InfoContext(ctx, "approve submitted",
		slog.String("symbol", symbol),
		slog.String("amount", value.String()),
		slog.String("tx", hash),
	)
	return hash, nil
}

// CanDeposit reports whether human ether can be wrapped: positive and no more
// than the native balance.
func (s *Store) CanDeposit(human string) bool {
	_, err := s.checkTransfer(human, s.NativeBalance())
	return err == nil
}

// CanWithdraw reports whether human ether tokens can be unwrapped.
func (s *Store) CanWithdraw(human string) bool {
	_, err := s.checkTransfer(human, s.etherTokenBalance())
	return err == nil
}

// Deposit wraps human ether into the ether token.
func (s *Store) Deposit(ctx context.Context, human string) (string, error) {
	value, err := s.checkTransfer(human, s.NativeBalance())
	if err != nil {
		return "", fmt.Errorf("tokens: deposit: %w", err)
	}
	hash, err := s.chain.SubmitDeposit(ctx, value, s.cfg.DepositGas)
	if err != nil {
		return "", fmt.Errorf("tokens: deposit: %w", err)
	}
	s.pending.Add(domain.TxTypeEthTokens, hash, domain.TokenTxPayload{Kind: "deposit", Symbol: s.cfg.EtherSymbol, Amount: value.String()})
	s.logger.InfoContext(ctx, "deposit submitted", slog.String("amount", value.String()), slog.String("tx", hash))
	return hash, nil
}

// Withdraw unwraps human ether tokens back to ether.
func (s *Store) Withdraw(ctx context.Context, human string) (string, error) {
	value, err := s.checkTransfer(human, s.etherTokenBalance())
	if err != nil {
		return "", fmt.Errorf("tokens: withdraw: %w", err)
	}
	hash, err := s.chain.SubmitWithdraw(ctx, value, s.cfg.WithdrawGas)
	if err != nil {
		return "", fmt.Errorf("tokens: withdraw: %w", err)
	}
	s.pending.Add(domain.TxTypeEthTokens, hash, domain.TokenTxPayload{Kind: "withdraw", Symbol: s.cfg.EtherSymbol, Amount: value.String()})
	s.logger.InfoContext(ctx, "withdraw submitted", slog.String("amount", value.String()), slog.String("tx", hash))
	return hash, nil
}

func (s *Store) etherTokenBalance() *big.Int {
	tok, ok := s.Get(s.cfg.EtherSymbol)
	if !ok {
		return new(big.Int)
	}
	bal, err := amount.ParseBig(tok.Balance)
	if err != nil {
		return new(big.Int)
	}
	return bal
}

// checkTransfer enforces 0 < amount <= max and returns the wei value.
func (s *Store) checkTransfer(human string, limit *big.Int) (*big.Int, error) {
	value, err := amount.HumanToBig(human)
	if err != nil {
		return nil, err
	}
	if value.Sign() <= 0 {
		return nil, amount.ErrInvalidAmount
	}
	if value.Cmp(limit) > 0 {
		return nil, domain.ErrInsufficientFunds
	}
	return value, nil
}
