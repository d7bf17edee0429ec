package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/event"
)

// Block is the subset of a block header the client reads.
type Block struct {
	Number    uint64
	Hash      string
	Timestamp time.Time
}

// SyncStatus reports node catch-up progress. A nil *SyncStatus means the
// node is fully synced.
type SyncStatus struct {
	CurrentBlock uint64
	HighestBlock uint64
}

// Chain is the node + contract RPC surface the client drives. Token methods
// take a symbol; the adapter resolves it to a contract address. Submit
// methods sign, send and return the transaction hash without waiting.
type Chain interface {
	// exchange contract
	OrderCount(ctx context.Context) (uint64, error)
	Order(ctx context.Context, id uint64) (OrderData, error)
	SubmitOrder(ctx context.Context, req OrderRequest, gas uint64) (string, error)
	SubmitBuy(ctx context.Context, id uint64, quantity *big.Int, gas uint64) (string, error)
	SubmitCancel(ctx context.Context, id uint64, gas uint64) (string, error)
	SubscribeOrderUpdates(ctx context.Context, ch chan<- uint64) (event.Subscription, error)
	TradeEvents(ctx context.Context, fromBlock uint64) ([]TradeEvent, error)
	SubscribeTrades(ctx context.Context, ch chan<- TradeEvent) (event.Subscription, error)

	// tokens
	TokenBalance(ctx context.Context, symbol, owner string) (*big.Int, error)
	TokenAllowance(ctx context.Context, symbol, owner, spender string) (*big.Int, error)
	SubmitApprove(ctx context.Context, symbol, spender string, value *big.Int, gas uint64) (string, error)
	SubmitDeposit(ctx context.Context, value *big.Int, gas uint64) (string, error)
	SubmitWithdraw(ctx context.Context, value *big.Int, gas uint64) (string, error)

	// node
	TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)
	NativeBalance(ctx context.Context, owner string) (*big.Int, error)
	SubscribeNewHeads(ctx context.Context, ch chan<- Block) (event.Subscription, error)
	Block(ctx context.Context, number uint64) (Block, error)
	Syncing(ctx context.Context) (*SyncStatus, error)
	CodeAt(ctx context.Context, address string) ([]byte, error)

	// Account is the address transactions are sent from, or "" if none.
	Account() string
	// Exchange is the exchange contract address.
	Exchange() string
}
