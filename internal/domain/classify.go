package domain

import (
	"fmt"
	"math/big"

	"github.com/alanyoungcy/otcdesk/internal/amount"
)

// Classification is the bid/ask view of a two-legged order or trade.
type Classification struct {
	Type     OfferType
	Currency string
	Volume   string // wei, base denominated
	Price    string // quote per base, scaled by 10^18
}

// Classify derives the bid/ask view of "sell sellAmt of sellTok for buyAmt of
// buyTok" against base. When the sell leg is the base currency the order is an
// ask priced buy/sell; when the buy leg is the base it is a bid priced
// sell/buy. Anything else is ErrUnclassifiable.
func Classify(sellAmt *big.Int, sellTok string, buyAmt *big.Int, buyTok string, base string) (Classification, error) {
	sell := amount.FromBig(sellAmt)
	buy := amount.FromBig(buyAmt)

	switch base {
	case sellTok:
		price, err := amount.Ratio(buy, sell)
		if err != nil {
			return Classification{}, fmt.Errorf("domain: classify ask: %w", err)
		}
		return Classification{
			Type:     OfferTypeAsk,
			Currency: buyTok,
			Volume:   sell.String(),
			Price:    amount.ToWei(price).String(),
		}, nil
	case buyTok:
		price, err := amount.Ratio(sell, buy)
		if err != nil {
			return Classification{}, fmt.Errorf("domain: classify bid: %w", err)
		}
		return Classification{
			Type:     OfferTypeBid,
			Currency: sellTok,
			Volume:   buy.String(),
			Price:    amount.ToWei(price).String(),
		}, nil
	default:
		return Classification{}, fmt.Errorf("domain: classify %s/%s against %s: %w", sellTok, buyTok, base, ErrUnclassifiable)
	}
}

// OrderFor builds the order that Classify maps back to a typ offer of volume
// base wei at price (quote per base, scaled by 10^18) against currency.
func OrderFor(typ OfferType, currency, base string, volume, price *big.Int) (OrderRequest, error) {
	if volume == nil || price == nil || volume.Sign() <= 0 || price.Sign() <= 0 || currency == "" || currency == base {
		return OrderRequest{}, ErrInvalidOrder
	}
	quote := amount.FromWei(amount.Mul(amount.FromBig(volume), amount.FromBig(price))).Truncate(0).BigInt()
	if quote.Sign() <= 0 {
		return OrderRequest{}, ErrInvalidOrder
	}
	switch typ {
	case OfferTypeAsk:
		return OrderRequest{SellAmount: new(big.Int).Set(volume), SellToken: base, BuyAmount: quote, BuyToken: currency}, nil
	case OfferTypeBid:
		return OrderRequest{SellAmount: quote, SellToken: currency, BuyAmount: new(big.Int).Set(volume), BuyToken: base}, nil
	default:
		return OrderRequest{}, ErrInvalidOrder
	}
}
