// Package eth implements domain.Chain over a go-ethereum RPC connection.
package eth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"

	"github.com/alanyoungcy/otcdesk/internal/crypto"
	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// Config holds node and contract settings.
type Config struct {
	URL         string
	ChainID     int64 // 0 asks the node
	Exchange    string
	EtherSymbol string
	Tokens      map[string]string // symbol -> contract address
	DialTimeout time.Duration
}

// Client is a domain.Chain backed by ethclient. Without a wallet it is
// read-only: Account returns "" and Submit* fail with domain.ErrNoAccount.
type Client struct {
	rpc      *ethclient.Client
	wallet   *crypto.Wallet
	chainID  *big.Int
	exchange common.Address
	tokens   map[string]common.Address
	logger   *slog.Logger

	etherSymbol string

	sendMu sync.Mutex
}

var _ domain.Chain = (*Client)(nil)

// Dial connects to cfg.URL. wallet may be nil.
func Dial(ctx context.Context, cfg Config, wallet *crypto.Wallet, logger *slog.Logger) (*Client, error) {
	if !common.IsHexAddress(cfg.Exchange) {
		return nil, fmt.Errorf("eth: exchange address %q invalid", cfg.Exchange)
	}
	tokens := make(map[string]common.Address, len(cfg.Tokens))
	for sym, addr := range cfg.Tokens {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("eth: token %s address %q invalid", sym, addr)
		}
		tokens[sym] = common.HexToAddress(addr)
	}

	if cfg.EtherSymbol == "" {
		cfg.EtherSymbol = "ETH"
	}

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rpc, err := ethclient.DialContext(dctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("eth: dial %s: %w", cfg.URL, err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = rpc.ChainID(dctx)
		if err != nil {
			rpc.Close()
			return nil, fmt.Errorf("eth: chain id: %w", err)
		}
	}

	c := &Client{
		rpc:      rpc,
		wallet:   wallet,
		chainID:  chainID,
		exchange: common.HexToAddress(cfg.Exchange),
		tokens:   tokens,
		logger:   logger.With(slog.String("component", "eth")),

		etherSymbol: cfg.EtherSymbol,
	}
	c.logger.Info("connected to node",
		slog.String("url", cfg.URL),
		slog.String("chain_id", chainID.String()),
		slog.String("account", c.Account()),
	)
	return c, nil
}

// Close releases the RPC connection.
func (c *Client) Close() { c.rpc.Close() }

func (c *Client) Account() string {
	if c.wallet == nil {
		return ""
	}
	return c.wallet.Address().Hex()
}

func (c *Client) Exchange() string { return c.exchange.Hex() }

func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (*domain.Receipt, error) {
	r, err := c.rpc.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("eth: receipt %s: %w", txHash, err)
	}
	out := &domain.Receipt{
		TxHash:      r.TxHash.Hex(),
		BlockNumber: r.BlockNumber.Uint64(),
		Status:      r.Status,
		LogCount:    len(r.Logs),
		GasUsed:     r.GasUsed,
	}
	for _, lg := range r.Logs {
		if lg.Address != c.exchange {
			continue
		}
		if id, err := decodeItemUpdate(*lg); err == nil {
			out.OrderIDs = append(out.OrderIDs, id)
		}
	}
	return out, nil
}

func (c *Client) NativeBalance(ctx context.Context, owner string) (*big.Int, error) {
	bal, err := c.rpc.BalanceAt(ctx, common.HexToAddress(owner), nil)
	if err != nil {
		return nil, fmt.Errorf("eth: balance %s: %w", owner, err)
	}
	return bal, nil
}

func (c *Client) Block(ctx context.Context, number uint64) (domain.Block, error) {
	h, err := c.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return domain.Block{}, fmt.Errorf("eth: block %d: %w", number, err)
	}
	return headerToBlock(h), nil
}

func (c *Client) Syncing(ctx context.Context) (*domain.SyncStatus, error) {
	p, err := c.rpc.SyncProgress(ctx)
	if err != nil {
		return nil, fmt.Errorf("eth: sync progress: %w", err)
	}
	if p == nil {
		return nil, nil
	}
	return &domain.SyncStatus{CurrentBlock: p.CurrentBlock, HighestBlock: p.HighestBlock}, nil
}

func (c *Client) CodeAt(ctx context.Context, address string) ([]byte, error) {
	code, err := c.rpc.CodeAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("eth: code at %s: %w", address, err)
	}
	return code, nil
}

// SubscribeNewHeads forwards new block headers to ch.
func (c *Client) SubscribeNewHeads(ctx context.Context, ch chan<- domain.Block) (event.Subscription, error) {
	heads := make(chan *types.Header, 16)
	sub, err := c.rpc.SubscribeNewHead(ctx, heads)
	if err != nil {
		return nil, fmt.Errorf("eth: subscribe heads: %w", err)
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case h := <-heads:
				select {
				case ch <- headerToBlock(h):
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

func headerToBlock(h *types.Header) domain.Block {
	return domain.Block{
		Number:    h.Number.Uint64(),
		Hash:      h.Hash().Hex(),
		Timestamp: time.Unix(int64(h.Time), 0).UTC(),
	}
}

// call runs a read-only contract call.
func (c *Client) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{To: &to, Data: data}
	if c.wallet != nil {
		msg.From = c.wallet.Address()
	}
	return c.rpc.CallContract(ctx, msg, nil)
}

// send signs and broadcasts a transaction and returns its hash. Sends are
// serialized so pending nonces do not collide.
func (c *Client) send(ctx context.Context, to common.Address, value *big.Int, data []byte, gas uint64) (string, error) {
	if c.wallet == nil {
		return "", domain.ErrNoAccount
	}
	if value == nil {
		value = new(big.Int)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	from := c.wallet.Address()
	nonce, err := c.rpc.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("eth: nonce: %w", err)
	}
	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("eth: gas price: %w", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     data,
	})
	signed, err := c.wallet.SignTx(tx, c.chainID)
	if err != nil {
		return "", err
	}
	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("eth: send: %w", err)
	}
	hash := signed.Hash().Hex()
	c.logger.DebugContext(ctx, "transaction sent",
		slog.String("tx", hash),
		slog.String("to", to.Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas),
	)
	return hash, nil
}

func (c *Client) token(symbol string) (common.Address, error) {
	addr, ok := c.tokens[symbol]
	if !ok {
		for sym, a := range c.tokens {
			if strings.EqualFold(sym, symbol) {
				return a, nil
			}
		}
		return common.Address{}, fmt.Errorf("eth: token %s: %w", symbol, domain.ErrNotFound)
	}
	return addr, nil
}
