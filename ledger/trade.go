package ledger

import "time"

// TradeStatus is a one-way state machine: active trades end exactly once, as
// either completed or cancelled.
type TradeStatus string

const (
	TradeActive    TradeStatus = "active"
	TradeCompleted TradeStatus = "completed"
	TradeCancelled TradeStatus = "cancelled"
)

// Trade is a negotiated atomic exchange of two disjoint card sets.
type Trade struct {
	ID               uint64      `json:"trade_id"`
	Proposer         string      `json:"proposer"`
	Acceptor         string      `json:"acceptor"`
	OfferedCardIDs   []uint64    `json:"offered_card_ids"`
	RequestedCardIDs []uint64    `json:"requested_card_ids"`
	Status           TradeStatus `json:"status"`
	CreatedAt        time.Time   `json:"created_at"`
}

// TradeEngine lets two owners swap card sets through the Asset Registry. It
// moves cards under a dedicated operator identity that both parties must have
// approved in the registry.
type TradeEngine struct {
	operator     string
	registry     *AssetRegistry
	trades       []Trade
	playerTrades map[string][]uint64
}

func newTradeEngine(operator string, registry *AssetRegistry) *TradeEngine {
	return &TradeEngine{
		operator:     operator,
		registry:     registry,
		playerTrades: make(map[string][]uint64),
	}
}

func (t *TradeEngine) proposeTrade(caller string, op *ProposeTradeOp, now time.Time) (*Trade, []Event, *Error) {
	if op.Acceptor == caller {
		return nil, nil, precondition(CodeSelfTrade, "cannot trade with yourself")
	}
	if op.Acceptor == "" {
		return nil, nil, precondition(CodeInvalidAddress, "acceptor address is empty")
	}
	if len(op.OfferedCardIDs) == 0 || len(op.RequestedCardIDs) == 0 {
		return nil, nil, precondition(CodeEmptyCardList, "both card lists must be non-empty")
	}
	if err := checkDistinct(op.OfferedCardIDs, op.RequestedCardIDs); err != nil {
		return nil, nil, err
	}
	if err := t.checkOwnership(op.OfferedCardIDs, caller, CodeProposerDoesNotOwn); err != nil {
		return nil, nil, err
	}
	if err := t.checkOwnership(op.RequestedCardIDs, op.Acceptor, CodeAcceptorDoesNotOwn); err != nil {
		return nil, nil, err
	}

	id := uint64(len(t.trades))
	trade := Trade{
		ID:               id,
		Proposer:         caller,
		Acceptor:         op.Acceptor,
		OfferedCardIDs:   append([]uint64(nil), op.OfferedCardIDs...),
		RequestedCardIDs: append([]uint64(nil), op.RequestedCardIDs...),
		Status:           TradeActive,
		CreatedAt:        now,
	}
	t.trades = append(t.trades, trade)
	t.playerTrades[caller] = append(t.playerTrades[caller], id)
	t.playerTrades[op.Acceptor] = append(t.playerTrades[op.Acceptor], id)

	ev := Event{Type: EventTradeProposed, Attributes: []Attribute{
		attrUint("trade_id", id),
		attr("proposer", caller),
		attr("acceptor", op.Acceptor),
		attrIDs("offered_card_ids", trade.OfferedCardIDs),
		attrIDs("requested_card_ids", trade.RequestedCardIDs),
	}}
	return &trade, []Event{ev}, nil
}

// acceptTrade re-validates ownership and approvals against current state and
// then executes the swap in full: all validation precedes the first move, so
// no partial swap is ever observable.
func (t *TradeEngine) acceptTrade(caller string, op *AcceptTradeOp) (*Trade, []Event, *Error) {
	if op.TradeID >= uint64(len(t.trades)) {
		return nil, nil, notFound(CodeTradeNotFound, "trade %d does not exist", op.TradeID)
	}
	trade := &t.trades[op.TradeID]
	if trade.Status != TradeActive {
		return nil, nil, stateConflict(CodeTradeNotActive, "trade %d is %s", trade.ID, trade.Status)
	}
	if caller != trade.Acceptor {
		return nil, nil, unauthorized(CodeNotAcceptor, "%s is not the acceptor of trade %d", caller, trade.ID)
	}
	if !t.registry.isApproved(trade.Proposer, t.operator) {
		return nil, nil, unauthorized(CodeOperatorNotApproved, "proposer %s has not approved the trade operator", trade.Proposer)
	}
	if !t.registry.isApproved(trade.Acceptor, t.operator) {
		return nil, nil, unauthorized(CodeOperatorNotApproved, "acceptor %s has not approved the trade operator", trade.Acceptor)
	}
	// Ownership may have drifted since the proposal; a stale trade must fail
	// rather than move the wrong assets.
	if err := t.checkCurrentOwnership(trade.OfferedCardIDs, trade.Proposer); err != nil {
		return nil, nil, err
	}
	if err := t.checkCurrentOwnership(trade.RequestedCardIDs, trade.Acceptor); err != nil {
		return nil, nil, err
	}

	var events []Event
	for _, id := range trade.OfferedCardIDs {
		moved, err := t.registry.operatorTransfer(t.operator, trade.Proposer, trade.Acceptor, id)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, moved...)
	}
	for _, id := range trade.RequestedCardIDs {
		moved, err := t.registry.operatorTransfer(t.operator, trade.Acceptor, trade.Proposer, id)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, moved...)
	}
	trade.Status = TradeCompleted

	events = append(events, Event{Type: EventTradeAccepted, Attributes: []Attribute{
		attrUint("trade_id", trade.ID),
		attr("proposer", trade.Proposer),
		attr("acceptor", trade.Acceptor),
	}})
	out := *trade
	return &out, events, nil
}

func (t *TradeEngine) cancelTrade(caller string, op *CancelTradeOp) (*Trade, []Event, *Error) {
	if op.TradeID >= uint64(len(t.trades)) {
		return nil, nil, notFound(CodeTradeNotFound, "trade %d does not exist", op.TradeID)
	}
	trade := &t.trades[op.TradeID]
	if trade.Status != TradeActive {
		return nil, nil, stateConflict(CodeTradeNotActive, "trade %d is %s", trade.ID, trade.Status)
	}
	if caller != trade.Proposer {
		return nil, nil, unauthorized(CodeNotProposer, "%s is not the proposer of trade %d", caller, trade.ID)
	}
	trade.Status = TradeCancelled

	ev := Event{Type: EventTradeCancelled, Attributes: []Attribute{
		attrUint("trade_id", trade.ID),
		attr("proposer", trade.Proposer),
	}}
	out := *trade
	return &out, []Event{ev}, nil
}

func (t *TradeEngine) getTrade(id uint64) (*Trade, *Error) {
	if id >= uint64(len(t.trades)) {
		return nil, notFound(CodeTradeNotFound, "trade %d does not exist", id)
	}
	trade := t.trades[id]
	return &trade, nil
}

func (t *TradeEngine) getPlayerTrades(address string) []uint64 {
	ids := t.playerTrades[address]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out
}

func (t *TradeEngine) getActiveTrades(address string) []uint64 {
	var out []uint64
	for _, id := range t.playerTrades[address] {
		if t.trades[id].Status == TradeActive {
			out = append(out, id)
		}
	}
	return out
}

// checkOwnership validates proposal-time ownership, reporting which side of
// the trade fails.
func (t *TradeEngine) checkOwnership(ids []uint64, expected, code string) *Error {
	for _, id := range ids {
		owner, err := t.registry.ownerOf(id)
		if err != nil {
			return err
		}
		if owner != expected {
			return precondition(code, "card %d is not owned by %s", id, expected)
		}
	}
	return nil
}

// checkCurrentOwnership validates acceptance-time ownership; drift is a state
// conflict, not a caller mistake.
func (t *TradeEngine) checkCurrentOwnership(ids []uint64, expected string) *Error {
	for _, id := range ids {
		owner, err := t.registry.ownerOf(id)
		if err != nil {
			return err
		}
		if owner != expected {
			return stateConflict(CodeOwnershipChanged, "card %d moved to %s since the proposal", id, owner)
		}
	}
	return nil
}

func checkDistinct(offered, requested []uint64) *Error {
	seen := make(map[uint64]bool, len(offered)+len(requested))
	for _, id := range offered {
		if seen[id] {
			return precondition(CodeDuplicateCard, "card %d listed more than once", id)
		}
		seen[id] = true
	}
	for _, id := range requested {
		if seen[id] {
			return precondition(CodeDuplicateCard, "card %d listed more than once", id)
		}
		seen[id] = true
	}
	return nil
}
