// Package chaintest provides an in-memory domain.Chain for tests.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/event"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// ErrDown is returned by every call while the fake is marked down.
var ErrDown = errors.New("chaintest: node down")

// Submission records one transaction sent through the fake.
type Submission struct {
	Kind     string // order, buy, cancel, approve, deposit, withdraw
	TxHash   string
	ID       uint64
	Quantity *big.Int
	Order    domain.OrderRequest
	Symbol   string
	Spender  string
	Value    *big.Int
	Gas      uint64
}

// Chain is a scriptable domain.Chain. The zero value is not usable; call New.
type Chain struct {
	mu sync.Mutex

	account  string
	exchange string

	count      uint64
	orders     map[uint64]domain.OrderData
	orderErr   map[uint64]error
	receipts   map[string]*domain.Receipt
	balances   map[string]map[string]*big.Int
	allowances map[string]map[string]*big.Int
	native     map[string]*big.Int
	blocks     map[uint64]domain.Block
	code       map[string][]byte
	syncing    *domain.SyncStatus
	trades     []domain.TradeEvent

	down      bool
	submitErr error
	nonce     int
	submitted []Submission
	calls     map[string]int

	heads        event.Feed
	orderUpdates event.Feed
	tradeFeed    event.Feed
}

// New returns an empty fake for account trading on exchange.
func New(account, exchange string) *Chain {
	return &Chain{
		account:    account,
		exchange:   exchange,
		orders:     make(map[uint64]domain.OrderData),
		orderErr:   make(map[uint64]error),
		receipts:   make(map[string]*domain.Receipt),
		balances:   make(map[string]map[string]*big.Int),
		allowances: make(map[string]map[string]*big.Int),
		native:     make(map[string]*big.Int),
		blocks:     make(map[uint64]domain.Block),
		code:       make(map[string][]byte),
		calls:      make(map[string]int),
	}
}

var _ domain.Chain = (*Chain)(nil)

// --- scripting ---

// SetDown makes every RPC fail with ErrDown.
func (c *Chain) SetDown(down bool) {
	c.mu.Lock()
	c.down = down
	c.mu.Unlock()
}

// SetSubmitErr makes every Submit* call fail with err.
func (c *Chain) SetSubmitErr(err error) {
	c.mu.Lock()
	c.submitErr = err
	c.mu.Unlock()
}

// PutOrder stores an order and raises the order count to at least id.
func (c *Chain) PutOrder(id uint64, o domain.OrderData) {
	c.mu.Lock()
	c.orders[id] = o
	if id > c.count {
		c.count = id
	}
	c.mu.Unlock()
}

// FailOrder makes Order(id) return err.
func (c *Chain) FailOrder(id uint64, err error) {
	c.mu.Lock()
	c.orderErr[id] = err
	c.mu.Unlock()
}

// SetReceipt marks txHash as mined with r.
func (c *Chain) SetReceipt(txHash string, r domain.Receipt) {
	r.TxHash = txHash
	c.mu.Lock()
	c.receipts[txHash] = &r
	c.mu.Unlock()
}

func (c *Chain) SetTokenBalance(symbol, owner string, v *big.Int) {
	c.mu.Lock()
	setNested(c.balances, symbol, owner, v)
	c.mu.Unlock()
}

func (c *Chain) SetTokenAllowance(symbol, owner string, v *big.Int) {
	c.mu.Lock()
	setNested(c.allowances, symbol, owner, v)
	c.mu.Unlock()
}

func (c *Chain) SetNativeBalance(owner string, v *big.Int) {
	c.mu.Lock()
	c.native[owner] = new(big.Int).Set(v)
	c.mu.Unlock()
}

func (c *Chain) SetBlock(b domain.Block) {
	c.mu.Lock()
	c.blocks[b.Number] = b
	c.mu.Unlock()
}

func (c *Chain) SetCode(address string, code []byte) {
	c.mu.Lock()
	c.code[address] = code
	c.mu.Unlock()
}

func (c *Chain) SetSyncing(s *domain.SyncStatus) {
	c.mu.Lock()
	c.syncing = s
	c.mu.Unlock()
}

func (c *Chain) AddTradeEvent(ev domain.TradeEvent) {
	c.mu.Lock()
	c.trades = append(c.trades, ev)
	c.mu.Unlock()
}

// EmitHead, EmitOrderUpdate and EmitTrade push to live subscribers and
// return how many received the value.
func (c *Chain) EmitHead(b domain.Block) int        { return c.heads.Send(b) }
func (c *Chain) EmitOrderUpdate(id uint64) int      { return c.orderUpdates.Send(id) }
func (c *Chain) EmitTrade(ev domain.TradeEvent) int { return c.tradeFeed.Send(ev) }

// Submitted returns every transaction sent so far.
func (c *Chain) Submitted() []Submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Submission(nil), c.submitted...)
}

// Calls returns how many times the named method was invoked.
func (c *Chain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// --- domain.Chain ---

func (c *Chain) Account() string  { return c.account }
func (c *Chain) Exchange() string { return c.exchange }

func (c *Chain) OrderCount(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("OrderCount"); err != nil {
		return 0, err
	}
	return c.count, nil
}

func (c *Chain) Order(_ context.Context, id uint64) (domain.OrderData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("Order"); err != nil {
		return domain.OrderData{}, err
	}
	if err := c.orderErr[id]; err != nil {
		return domain.OrderData{}, err
	}
	o, ok := c.orders[id]
	if !ok {
		// the contract returns a zeroed record for unknown ids
		return domain.OrderData{SellAmount: new(big.Int), BuyAmount: new(big.Int)}, nil
	}
	return o, nil
}

func (c *Chain) SubmitOrder(_ context.Context, req domain.OrderRequest, gas uint64) (string, error) {
	return c.submit(Submission{Kind: "order", Order: req, Gas: gas})
}

func (c *Chain) SubmitBuy(_ context.Context, id uint64, quantity *big.Int, gas uint64) (string, error) {
	return c.submit(Submission{Kind: "buy", ID: id, Quantity: quantity, Gas: gas})
}

func (c *Chain) SubmitCancel(_ context.Context, id uint64, gas uint64) (string, error) {
	return c.submit(Submission{Kind: "cancel", ID: id, Gas: gas})
}

func (c *Chain) SubscribeOrderUpdates(_ context.Context, ch chan<- uint64) (event.Subscription, error) {
	if err := c.check("SubscribeOrderUpdates"); err != nil {
		return nil, err
	}
	return c.orderUpdates.Subscribe(ch), nil
}

func (c *Chain) TradeEvents(_ context.Context, fromBlock uint64) ([]domain.TradeEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("TradeEvents"); err != nil {
		return nil, err
	}
	var out []domain.TradeEvent
	for _, ev := range c.trades {
		if ev.BlockNumber >= fromBlock {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (c *Chain) SubscribeTrades(_ context.Context, ch chan<- domain.TradeEvent) (event.Subscription, error) {
	if err := c.check("SubscribeTrades"); err != nil {
		return nil, err
	}
	return c.tradeFeed.Subscribe(ch), nil
}

func (c *Chain) TokenBalance(_ context.Context, symbol, owner string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("TokenBalance"); err != nil {
		return nil, err
	}
	return getNested(c.balances, symbol, owner), nil
}

func (c *Chain) TokenAllowance(_ context.Context, symbol, owner, _ string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("TokenAllowance"); err != nil {
		return nil, err
	}
	return getNested(c.allowances, symbol, owner), nil
}

func (c *Chain) SubmitApprove(_ context.Context, symbol, spender string, value *big.Int, gas uint64) (string, error) {
	return c.submit(Submission{Kind: "approve", Symbol: symbol, Spender: spender, Value: value, Gas: gas})
}

func (c *Chain) SubmitDeposit(_ context.Context, value *big.Int, gas uint64) (string, error) {
	return c.submit(Submission{Kind: "deposit", Value: value, Gas: gas})
}

func (c *Chain) SubmitWithdraw(_ context.Context, value *big.Int, gas uint64) (string, error) {
	return c.submit(Submission{Kind: "withdraw", Value: value, Gas: gas})
}

func (c *Chain) TransactionReceipt(_ context.Context, txHash string) (*domain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("TransactionReceipt"); err != nil {
		return nil, err
	}
	r, ok := c.receipts[txHash]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (c *Chain) NativeBalance(_ context.Context, owner string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("NativeBalance"); err != nil {
		return nil, err
	}
	if v, ok := c.native[owner]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (c *Chain) SubscribeNewHeads(_ context.Context, ch chan<- domain.Block) (event.Subscription, error) {
	if err := c.check("SubscribeNewHeads"); err != nil {
		return nil, err
	}
	return c.heads.Subscribe(ch), nil
}

func (c *Chain) Block(_ context.Context, number uint64) (domain.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("Block"); err != nil {
		return domain.Block{}, err
	}
	b, ok := c.blocks[number]
	if !ok {
		return domain.Block{}, fmt.Errorf("chaintest: block %d: %w", number, domain.ErrNotFound)
	}
	return b, nil
}

func (c *Chain) Syncing(context.Context) (*domain.SyncStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("Syncing"); err != nil {
		return nil, err
	}
	return c.syncing, nil
}

func (c *Chain) CodeAt(_ context.Context, address string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("CodeAt"); err != nil {
		return nil, err
	}
	return c.code[address], nil
}

// --- helpers ---

// enter counts the call and reports ErrDown. Caller holds c.mu.
func (c *Chain) enter(method string) error {
	c.calls[method]++
	if c.down {
		return ErrDown
	}
	return nil
}

func (c *Chain) check(method string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enter(method)
}

func (c *Chain) submit(s Submission) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("Submit"); err != nil {
		return "", err
	}
	if c.submitErr != nil {
		return "", c.submitErr
	}
	c.nonce++
	s.TxHash = fmt.Sprintf("0x%064x", c.nonce)
	c.submitted = append(c.submitted, s)
	return s.TxHash, nil
}

func setNested(m map[string]map[string]*big.Int, k1, k2 string, v *big.Int) {
	inner, ok := m[k1]
	if !ok {
		inner = make(map[string]*big.Int)
		m[k1] = inner
	}
	inner[k2] = new(big.Int).Set(v)
}

func getNested(m map[string]map[string]*big.Int, k1, k2 string) *big.Int {
	if v, ok := m[k1][k2]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}
