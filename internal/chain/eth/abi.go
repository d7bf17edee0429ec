package eth

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

// Exchange contract surface. Tokens are identified by their bytes32 symbol.
const exchangeABI = `[
 {"type":"function","name":"last_offer_id","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"offers","stateMutability":"view","inputs":[{"name":"id","type":"uint256"}],"outputs":[
   {"name":"sell_how_much","type":"uint256"},{"name":"sell_which_token","type":"bytes32"},
   {"name":"buy_how_much","type":"uint256"},{"name":"buy_which_token","type":"bytes32"},
   {"name":"owner","type":"address"},{"name":"active","type":"bool"}]},
 {"type":"function","name":"offer","stateMutability":"nonpayable","inputs":[
   {"name":"sell_how_much","type":"uint256"},{"name":"sell_which_token","type":"bytes32"},
   {"name":"buy_how_much","type":"uint256"},{"name":"buy_which_token","type":"bytes32"}],"outputs":[{"name":"id","type":"uint256"}]},
 {"type":"function","name":"buy","stateMutability":"nonpayable","inputs":[{"name":"id","type":"uint256"},{"name":"quantity","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"cancel","stateMutability":"nonpayable","inputs":[{"name":"id","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"event","name":"ItemUpdate","anonymous":false,"inputs":[{"name":"id","type":"uint256","indexed":true}]},
 {"type":"event","name":"Trade","anonymous":false,"inputs":[
   {"name":"sell_how_much","type":"uint256","indexed":false},{"name":"sell_which_token","type":"bytes32","indexed":true},
   {"name":"buy_how_much","type":"uint256","indexed":false},{"name":"buy_which_token","type":"bytes32","indexed":true}]}
]`

// ERC20 plus the wrapped-ether deposit/withdraw pair.
const tokenABI = `[
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"deposit","stateMutability":"payable","inputs":[],"outputs":[]},
 {"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]}
]`

var (
	exchangeContract = mustABI(exchangeABI)
	tokenContract    = mustABI(tokenABI)
)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// encodeSymbol left-aligns symbol in a zero-padded bytes32.
func encodeSymbol(symbol string) ([32]byte, error) {
	var out [32]byte
	if symbol == "" || len(symbol) > len(out) {
		return out, fmt.Errorf("eth: symbol %q does not fit bytes32", symbol)
	}
	copy(out[:], symbol)
	return out, nil
}

// decodeSymbol cuts a bytes32 at the first NUL and trims whitespace.
func decodeSymbol(b [32]byte) string {
	s := b[:]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(string(s))
}

// decodeOrder unpacks the offers(id) return data.
func decodeOrder(data []byte) (domain.OrderData, error) {
	out, err := exchangeContract.Unpack("offers", data)
	if err != nil {
		return domain.OrderData{}, fmt.Errorf("eth: unpack offers: %w", err)
	}
	if len(out) != 6 {
		return domain.OrderData{}, fmt.Errorf("eth: unpack offers: %d values", len(out))
	}
	sellAmt, ok1 := out[0].(*big.Int)
	sellTok, ok2 := out[1].([32]byte)
	buyAmt, ok3 := out[2].(*big.Int)
	buyTok, ok4 := out[3].([32]byte)
	owner, ok5 := addressOf(out[4])
	active, ok6 := out[5].(bool)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return domain.OrderData{}, fmt.Errorf("eth: unpack offers: unexpected types")
	}
	return domain.OrderData{
		SellAmount: sellAmt,
		SellToken:  decodeSymbol(sellTok),
		BuyAmount:  buyAmt,
		BuyToken:   decodeSymbol(buyTok),
		Owner:      owner,
		Active:     active,
	}, nil
}

// decodeItemUpdate returns the order id of an ItemUpdate log.
func decodeItemUpdate(lg types.Log) (uint64, error) {
	if len(lg.Topics) < 2 || lg.Topics[0] != exchangeContract.Events["ItemUpdate"].ID {
		return 0, fmt.Errorf("eth: not an ItemUpdate log")
	}
	return new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64(), nil
}

// decodeTrade converts a Trade log.
func decodeTrade(lg types.Log) (domain.TradeEvent, error) {
	if len(lg.Topics) < 3 || lg.Topics[0] != exchangeContract.Events["Trade"].ID {
		return domain.TradeEvent{}, fmt.Errorf("eth: not a Trade log")
	}
	out, err := exchangeContract.Unpack("Trade", lg.Data)
	if err != nil {
		return domain.TradeEvent{}, fmt.Errorf("eth: unpack Trade: %w", err)
	}
	if len(out) != 2 {
		return domain.TradeEvent{}, fmt.Errorf("eth: unpack Trade: %d values", len(out))
	}
	sellAmt, ok1 := out[0].(*big.Int)
	buyAmt, ok2 := out[1].(*big.Int)
	if !ok1 || !ok2 {
		return domain.TradeEvent{}, fmt.Errorf("eth: unpack Trade: unexpected types")
	}
	return domain.TradeEvent{
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
		BlockNumber: lg.BlockNumber,
		SellAmount:  sellAmt,
		SellToken:   decodeSymbol(lg.Topics[1]),
		BuyAmount:   buyAmt,
		BuyToken:    decodeSymbol(lg.Topics[2]),
	}, nil
}

func addressOf(v any) (string, bool) {
	a, ok := v.(common.Address)
	if !ok {
		return "", false
	}
	return a.Hex(), true
}
