package ledger

import (
	"strconv"
	"strings"
)

// Attribute is a single key-value pair of a notification event.
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event is a structured change notification. Field order and presence of the
// attributes are the contract surface external auditors rely on; the transport
// layer decides how events are indexed and delivered.
type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// Event types emitted by the ledger core.
const (
	EventCardMinted        = "card_minted"
	EventCardTransferred   = "card_transferred"
	EventOperatorApproved  = "operator_approved"
	EventMinterAuthorized  = "minter_authorized"
	EventDeposit           = "deposit"
	EventPackPurchased     = "pack_purchased"
	EventPackPriceUpdated  = "pack_price_updated"
	EventFundsWithdrawn    = "funds_withdrawn"
	EventTradeProposed     = "trade_proposed"
	EventTradeAccepted     = "trade_accepted"
	EventTradeCancelled    = "trade_cancelled"
	EventMatchRecorded     = "match_recorded"
	EventGameServerUpdated = "game_server_updated"
)

func attr(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

func attrUint(key string, value uint64) Attribute {
	return Attribute{Key: key, Value: strconv.FormatUint(value, 10)}
}

// attrIDs encodes a card-id list as a comma-joined value, preserving order.
func attrIDs(key string, ids []uint64) Attribute {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	return Attribute{Key: key, Value: strings.Join(parts, ",")}
}
