package domain

import (
	"fmt"
	"math/big"
	"time"
)

// Trade is one historical execution on the exchange, classified against the
// base currency like an offer.
type Trade struct {
	TxHash      string    `json:"tx_hash"`
	LogIndex    uint      `json:"log_index"`
	Type        OfferType `json:"type"`
	Currency    string    `json:"currency"`
	Volume      string    `json:"volume"`
	Price       string    `json:"price"`
	BlockNumber uint64    `json:"block_number"`
	Timestamp   time.Time `json:"timestamp"`
}

// Key identifies the trade's log: one transaction may emit several.
func (t Trade) Key() string { return TradeKey(t.TxHash, t.LogIndex) }

// TradeKey is the key of the Trade log at logIndex in txHash.
func TradeKey(txHash string, logIndex uint) string {
	return fmt.Sprintf("%s:%d", txHash, logIndex)
}

// TradeEvent is a raw Trade log emitted by the exchange contract.
type TradeEvent struct {
	TxHash      string
	LogIndex    uint
	BlockNumber uint64
	SellAmount  *big.Int
	SellToken   string
	BuyAmount   *big.Int
	BuyToken    string
}
