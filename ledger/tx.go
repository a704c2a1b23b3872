package ledger

import "encoding/json"

// OpType identifies a state-mutating ledger operation.
type OpType string

const (
	OpMintCard         OpType = "mint_card"
	OpTransferCard     OpType = "transfer_card"
	OpApproveOperator  OpType = "approve_operator"
	OpAuthorizeMinter  OpType = "authorize_minter"
	OpDeposit          OpType = "deposit"
	OpPurchasePack     OpType = "purchase_pack"
	OpSetPackPrice     OpType = "set_pack_price"
	OpWithdraw         OpType = "withdraw"
	OpProposeTrade     OpType = "propose_trade"
	OpAcceptTrade      OpType = "accept_trade"
	OpCancelTrade      OpType = "cancel_trade"
	OpRecordMatch      OpType = "record_match"
	OpUpdateGameServer OpType = "update_game_server"
)

// Operation is the transaction envelope submitted to consensus. Exactly one
// payload field must be set, matching Type. Caller is the address the
// transport layer authenticated; the ledger trusts it and only checks
// capabilities against it.
type Operation struct {
	Type   OpType `json:"type"`
	Caller string `json:"caller"`

	MintCard         *MintCardOp         `json:"mint_card,omitempty"`
	TransferCard     *TransferCardOp     `json:"transfer_card,omitempty"`
	ApproveOperator  *ApproveOperatorOp  `json:"approve_operator,omitempty"`
	AuthorizeMinter  *AuthorizeMinterOp  `json:"authorize_minter,omitempty"`
	Deposit          *DepositOp          `json:"deposit,omitempty"`
	PurchasePack     *PurchasePackOp     `json:"purchase_pack,omitempty"`
	SetPackPrice     *SetPackPriceOp     `json:"set_pack_price,omitempty"`
	ProposeTrade     *ProposeTradeOp     `json:"propose_trade,omitempty"`
	AcceptTrade      *AcceptTradeOp      `json:"accept_trade,omitempty"`
	CancelTrade      *CancelTradeOp      `json:"cancel_trade,omitempty"`
	RecordMatch      *RecordMatchOp      `json:"record_match,omitempty"`
	UpdateGameServer *UpdateGameServerOp `json:"update_game_server,omitempty"`
}

type MintCardOp struct {
	Owner    string `json:"owner"`
	CardType string `json:"card_type"`
	Rarity   uint8  `json:"rarity"`
	Attack   uint32 `json:"attack"`
	Defense  uint32 `json:"defense"`
}

type TransferCardOp struct {
	To     string `json:"to"`
	CardID uint64 `json:"card_id"`
}

type ApproveOperatorOp struct {
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

type AuthorizeMinterOp struct {
	Minter string `json:"minter"`
}

type DepositOp struct {
	Amount uint64 `json:"amount"`
}

type PurchasePackOp struct {
	Tier    PackTier `json:"tier"`
	Payment uint64   `json:"payment"`
}

type SetPackPriceOp struct {
	NewPrice uint64 `json:"new_price"`
}

type ProposeTradeOp struct {
	Acceptor         string   `json:"acceptor"`
	OfferedCardIDs   []uint64 `json:"offered_card_ids"`
	RequestedCardIDs []uint64 `json:"requested_card_ids"`
}

type AcceptTradeOp struct {
	TradeID uint64 `json:"trade_id"`
}

type CancelTradeOp struct {
	TradeID uint64 `json:"trade_id"`
}

type RecordMatchOp struct {
	Player1      string `json:"player1"`
	Player2      string `json:"player2"`
	Winner       string `json:"winner"`
	Fingerprint  string `json:"game_state_fingerprint"`
	Player1Score uint32 `json:"player1_score"`
	Player2Score uint32 `json:"player2_score"`
}

type UpdateGameServerOp struct {
	NewAuthority string `json:"new_authority"`
}

// ParseOperation decodes a raw consensus transaction into an envelope.
func ParseOperation(raw []byte) (*Operation, *Error) {
	var op Operation
	if err := json.Unmarshal(raw, &op); err != nil {
		return nil, precondition(CodeMalformedOperation, "invalid operation encoding: %v", err)
	}
	if err := op.ValidateEnvelope(); err != nil {
		return nil, err
	}
	return &op, nil
}

// ValidateEnvelope checks the static shape of the envelope: a known type, a
// caller address, and the payload field matching the type. Business rules are
// left to Apply, which evaluates them atomically against current state.
func (op *Operation) ValidateEnvelope() *Error {
	if op.Caller == "" {
		return precondition(CodeMalformedOperation, "missing caller address")
	}
	payloadSet := false
	switch op.Type {
	case OpMintCard:
		payloadSet = op.MintCard != nil
	case OpTransferCard:
		payloadSet = op.TransferCard != nil
	case OpApproveOperator:
		payloadSet = op.ApproveOperator != nil
	case OpAuthorizeMinter:
		payloadSet = op.AuthorizeMinter != nil
	case OpDeposit:
		payloadSet = op.Deposit != nil
	case OpPurchasePack:
		payloadSet = op.PurchasePack != nil
	case OpSetPackPrice:
		payloadSet = op.SetPackPrice != nil
	case OpWithdraw:
		payloadSet = true
	case OpProposeTrade:
		payloadSet = op.ProposeTrade != nil
	case OpAcceptTrade:
		payloadSet = op.AcceptTrade != nil
	case OpCancelTrade:
		payloadSet = op.CancelTrade != nil
	case OpRecordMatch:
		payloadSet = op.RecordMatch != nil
	case OpUpdateGameServer:
		payloadSet = op.UpdateGameServer != nil
	default:
		return precondition(CodeUnknownOperationType, "unknown operation type %q", op.Type)
	}
	if !payloadSet {
		return precondition(CodeMalformedOperation, "missing payload for operation type %q", op.Type)
	}
	return nil
}
