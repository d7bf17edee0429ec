package eth

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

func (c *Client) OrderCount(ctx context.Context) (uint64, error) {
	data, err := exchangeContract.Pack("last_offer_id")
	if err != nil {
		return 0, fmt.Errorf("eth: pack last_offer_id: %w", err)
	}
	res, err := c.call(ctx, c.exchange, data)
	if err != nil {
		return 0, fmt.Errorf("eth: last_offer_id: %w", err)
	}
	out, err := exchangeContract.Unpack("last_offer_id", res)
	if err != nil || len(out) != 1 {
		return 0, fmt.Errorf("eth: unpack last_offer_id: %v", err)
	}
	n, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("eth: last_offer_id: unexpected type %T", out[0])
	}
	return n.Uint64(), nil
}

func (c *Client) Order(ctx context.Context, id uint64) (domain.OrderData, error) {
	data, err := exchangeContract.Pack("offers", new(big.Int).SetUint64(id))
	if err != nil {
		return domain.OrderData{}, fmt.Errorf("eth: pack offers: %w", err)
	}
	res, err := c.call(ctx, c.exchange, data)
	if err != nil {
		return domain.OrderData{}, fmt.Errorf("eth: offers(%d): %w", id, err)
	}
	return decodeOrder(res)
}

func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest, gas uint64) (string, error) {
	sellTok, err := encodeSymbol(req.SellToken)
	if err != nil {
		return "", err
	}
	buyTok, err := encodeSymbol(req.BuyToken)
	if err != nil {
		return "", err
	}
	data, err := exchangeContract.Pack("offer", req.SellAmount, sellTok, req.BuyAmount, buyTok)
	if err != nil {
		return "", fmt.Errorf("eth: pack offer: %w", err)
	}
	return c.send(ctx, c.exchange, nil, data, gas)
}

// SubmitBuy buys quantity of the order's sell token. A nil quantity takes
// the whole order.
func (c *Client) SubmitBuy(ctx context.Context, id uint64, quantity *big.Int, gas uint64) (string, error) {
	if quantity == nil {
		o, err := c.Order(ctx, id)
		if err != nil {
			return "", err
		}
		quantity = o.SellAmount
	}
	data, err := exchangeContract.Pack("buy", new(big.Int).SetUint64(id), quantity)
	if err != nil {
		return "", fmt.Errorf("eth: pack buy: %w", err)
	}
	return c.send(ctx, c.exchange, nil, data, gas)
}

func (c *Client) SubmitCancel(ctx context.Context, id uint64, gas uint64) (string, error) {
	data, err := exchangeContract.Pack("cancel", new(big.Int).SetUint64(id))
	if err != nil {
		return "", fmt.Errorf("eth: pack cancel: %w", err)
	}
	return c.send(ctx, c.exchange, nil, data, gas)
}

func (c *Client) eventQuery(name string, from *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: from,
		Addresses: []common.Address{c.exchange},
		Topics:    [][]common.Hash{{exchangeContract.Events[name].ID}},
	}
}

// SubscribeOrderUpdates forwards the id of every ItemUpdate event to ch.
func (c *Client) SubscribeOrderUpdates(ctx context.Context, ch chan<- uint64) (event.Subscription, error) {
	return c.watch(ctx, "ItemUpdate", func(lg types.Log, quit <-chan struct{}) {
		id, err := decodeItemUpdate(lg)
		if err != nil {
			c.logger.Warn("bad ItemUpdate log", slog.String("error", err.Error()))
			return
		}
		select {
		case ch <- id:
		case <-quit:
		}
	})
}

// TradeEvents returns every Trade event from fromBlock on.
func (c *Client) TradeEvents(ctx context.Context, fromBlock uint64) ([]domain.TradeEvent, error) {
	logs, err := c.rpc.FilterLogs(ctx, c.eventQuery("Trade", new(big.Int).SetUint64(fromBlock)))
	if err != nil {
		return nil, fmt.Errorf("eth: trade logs: %w", err)
	}
	out := make([]domain.TradeEvent, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ev, err := decodeTrade(lg)
		if err != nil {
			c.logger.WarnContext(ctx, "bad Trade log", slog.String("error", err.Error()))
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// SubscribeTrades forwards live Trade events to ch.
func (c *Client) SubscribeTrades(ctx context.Context, ch chan<- domain.TradeEvent) (event.Subscription, error) {
	return c.watch(ctx, "Trade", func(lg types.Log, quit <-chan struct{}) {
		ev, err := decodeTrade(lg)
		if err != nil {
			c.logger.Warn("bad Trade log", slog.String("error", err.Error()))
			return
		}
		select {
		case ch <- ev:
		case <-quit:
		}
	})
}

// watch subscribes to one exchange event and hands each non-removed log to
// deliver until unsubscribed.
func (c *Client) watch(ctx context.Context, name string, deliver func(types.Log, <-chan struct{})) (event.Subscription, error) {
	logs := make(chan types.Log, 64)
	sub, err := c.rpc.SubscribeFilterLogs(ctx, c.eventQuery(name, nil), logs)
	if err != nil {
		return nil, fmt.Errorf("eth: subscribe %s: %w", name, err)
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case lg := <-logs:
				if !lg.Removed {
					deliver(lg, quit)
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}
