package domain

import "time"

// Pending transaction categories.
const (
	TxTypeOffer     = "offer"
	TxTypeEthTokens = "ethtokens"
)

// AllowanceTxType is the pending category for an approve on symbol.
func AllowanceTxType(symbol string) string {
	return "allowance_" + symbol
}

// Receipt is the subset of a transaction receipt the client acts on.
type Receipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	Status      uint64 `json:"status"` // 1 success, 0 failure
	LogCount    int    `json:"log_count"`
	GasUsed     uint64 `json:"gas_used"`
	// OrderIDs lists the orders the exchange reported touching (ItemUpdate).
	OrderIDs []uint64 `json:"order_ids,omitempty"`
}

// Effective reports whether the transaction succeeded and emitted at least
// one log. A receipt without logs means the contract call changed nothing.
func (r Receipt) Effective() bool {
	return r.Status == 1 && r.LogCount > 0
}

// PendingTx is a locally submitted transaction awaiting its receipt.
type PendingTx struct {
	Type      string    `json:"type"`
	TxHash    string    `json:"tx_hash"`
	Payload   any       `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	Receipt   *Receipt  `json:"receipt,omitempty"`
}

// OfferTxPayload is the payload recorded for pending "offer" transactions.
type OfferTxPayload struct {
	ID     string      `json:"id"`
	Status OfferStatus `json:"status"`
}

// TokenTxPayload is the payload recorded for approve/deposit/withdraw.
type TokenTxPayload struct {
	Kind   string `json:"kind"` // approve, deposit, withdraw
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}
