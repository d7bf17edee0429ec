package eth

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbolEncoding(t *testing.T) {
	b, err := encodeSymbol("MKR")
	require.NoError(t, err)
	assert.Equal(t, byte('M'), b[0])
	assert.Equal(t, byte(0), b[3])
	assert.Equal(t, "MKR", decodeSymbol(b))

	_, err = encodeSymbol("")
	assert.Error(t, err)
	_, err = encodeSymbol("THIS-SYMBOL-IS-FAR-TOO-LONG-FOR-BYTES32")
	assert.Error(t, err)
}

func TestDecodeOrder(t *testing.T) {
	mkr, _ := encodeSymbol("MKR")
	dai, _ := encodeSymbol("DAI")
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	data, err := exchangeContract.Methods["offers"].Outputs.Pack(
		big.NewInt(2), mkr, big.NewInt(4), dai, owner, true,
	)
	require.NoError(t, err)

	o, err := decodeOrder(data)
	require.NoError(t, err)
	assert.Equal(t, "MKR", o.SellToken)
	assert.Equal(t, "DAI", o.BuyToken)
	assert.Equal(t, int64(2), o.SellAmount.Int64())
	assert.Equal(t, int64(4), o.BuyAmount.Int64())
	assert.Equal(t, owner.Hex(), o.Owner)
	assert.True(t, o.Active)
}

func TestDecodeLogs(t *testing.T) {
	update := types.Log{
		Topics: []common.Hash{
			exchangeContract.Events["ItemUpdate"].ID,
			common.BigToHash(big.NewInt(42)),
		},
	}
	id, err := decodeItemUpdate(update)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), id)

	mkr, _ := encodeSymbol("MKR")
	eth, _ := encodeSymbol("ETH")
	data, err := exchangeContract.Events["Trade"].Inputs.NonIndexed().Pack(big.NewInt(5), big.NewInt(10))
	require.NoError(t, err)
	trade := types.Log{
		Topics:      []common.Hash{exchangeContract.Events["Trade"].ID, common.Hash(mkr), common.Hash(eth)},
		Data:        data,
		BlockNumber: 7,
		TxHash:      common.HexToHash("0x01"),
	}
	ev, err := decodeTrade(trade)
	require.NoError(t, err)
	assert.Equal(t, "MKR", ev.SellToken)
	assert.Equal(t, "ETH", ev.BuyToken)
	assert.Equal(t, int64(5), ev.SellAmount.Int64())
	assert.Equal(t, int64(10), ev.BuyAmount.Int64())
	assert.Equal(t, uint64(7), ev.BlockNumber)

	_, err = decodeTrade(update)
	assert.Error(t, err)
}
