package domain

import (
	"math/big"
	"strconv"
)

// OfferType is the orientation of an offer relative to the base currency.
type OfferType string

const (
	OfferTypeBid OfferType = "bid" // wants to buy the base currency
	OfferTypeAsk OfferType = "ask" // wants to sell the base currency
)

// OfferStatus tracks an offer through the local lifecycle.
type OfferStatus string

const (
	OfferStatusPending   OfferStatus = "pending"
	OfferStatusConfirmed OfferStatus = "confirmed"
	OfferStatusCancelled OfferStatus = "cancelled"
	OfferStatusBought    OfferStatus = "bought"
)

// Offer is the local mirror of one resting order on the exchange. Volume and
// Price are exact wei decimal strings; Price is the quote-per-base ratio
// scaled by 10^18.
type Offer struct {
	ID       string      `json:"id"`
	Type     OfferType   `json:"type"`
	Currency string      `json:"currency"`
	Volume   string      `json:"volume"`
	Price    string      `json:"price"`
	Owner    string      `json:"owner"`
	Status   OfferStatus `json:"status"`
	Helper   string      `json:"helper,omitempty"`
	Tx       string      `json:"tx,omitempty"`
}

// OnChainID returns the numeric order id, or false for a local placeholder
// keyed by a transaction hash.
func (o Offer) OnChainID() (uint64, bool) {
	id, err := strconv.ParseUint(o.ID, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// OrderData is one order record as the exchange contract reports it: sell
// SellAmount of SellToken for BuyAmount of BuyToken.
type OrderData struct {
	SellAmount *big.Int
	SellToken  string
	BuyAmount  *big.Int
	BuyToken   string
	Owner      string
	Active     bool
}

// OrderRequest is the quadruple submitted when making a new order. Amounts
// are in wei.
type OrderRequest struct {
	SellAmount *big.Int `json:"sell_amount"`
	SellToken  string   `json:"sell_token"`
	BuyAmount  *big.Int `json:"buy_amount"`
	BuyToken   string   `json:"buy_token"`
}

// Validate checks that both legs are present and positive.
func (r OrderRequest) Validate() error {
	if r.SellToken == "" || r.BuyToken == "" || r.SellToken == r.BuyToken {
		return ErrInvalidOrder
	}
	if r.SellAmount == nil || r.SellAmount.Sign() <= 0 {
		return ErrInvalidOrder
	}
	if r.BuyAmount == nil || r.BuyAmount.Sign() <= 0 {
		return ErrInvalidOrder
	}
	return nil
}
