// Package ledger implements the authoritative card-game ledger core: an asset
// registry with exclusive ownership, a pack store, an atomic trade engine and
// an authority-attested match ledger. The core is a deterministic state
// machine: operations are applied one at a time under a single lock, fully
// validated before any mutation, and every accepted operation emits the
// notification events external auditors rely on. Transport and persistence
// live outside this package.
package ledger

import (
	"encoding/json"
	"sync"
	"time"
)

// Genesis fixes the authorities and policy the ledger starts with.
type Genesis struct {
	// RegistryOwner may mint directly and grant minting rights.
	RegistryOwner string
	// StoreAuthority administers pack pricing and withdraws the treasury.
	StoreAuthority string
	// GameServer is the initial match-recording authority.
	GameServer string
	// TradeOperator is the service identity owners approve so the trade
	// engine can move their cards.
	TradeOperator string
	PackPrice     uint64
	PackPolicy    PackPolicy
}

// BlockContext carries the deterministic clock for one batch of operations.
type BlockContext struct {
	Height int64
	Time   time.Time
}

// State is the shared, totally-ordered mutable store. All four components and
// the account balances live behind one mutex; an operation either has not
// happened or has fully happened, never half-applied.
type State struct {
	mu       sync.Mutex
	genesis  Genesis
	registry *AssetRegistry
	store    *Store
	trades   *TradeEngine
	matches  *MatchLedger
	balances map[string]uint64
}

// NewState builds a ledger from genesis. The Store is the only component
// minting without an explicit capability grant; it is wired to the registry
// here, at initialization time.
func NewState(genesis Genesis) *State {
	if genesis.PackPolicy.CardsPerPack == 0 {
		genesis.PackPolicy = DefaultPackPolicy()
	}
	registry := newAssetRegistry(genesis.RegistryOwner)
	return &State{
		genesis:  genesis,
		registry: registry,
		store:    newStore(genesis.StoreAuthority, registry, genesis.PackPrice, genesis.PackPolicy),
		trades:   newTradeEngine(genesis.TradeOperator, registry),
		matches:  newMatchLedger(genesis.GameServer),
		balances: make(map[string]uint64),
	}
}

// Result types returned by Apply for operations that assign identifiers.

type MintResult struct {
	CardID uint64 `json:"card_id"`
}

type PurchaseResult struct {
	PurchaseID uint64   `json:"purchase_id"`
	CardIDs    []uint64 `json:"card_ids"`
}

type TradeResult struct {
	TradeID uint64      `json:"trade_id"`
	Status  TradeStatus `json:"status"`
}

type MatchResult struct {
	MatchID uint64 `json:"match_id"`
}

type DepositResult struct {
	Balance uint64 `json:"balance"`
}

// Apply executes one operation against current state. It returns the
// operation's result value and emitted events, or a structured rejection with
// state byte-for-byte untouched. Callers already hold a total order over
// operations (consensus); the lock additionally serializes them against reads.
func (s *State) Apply(op *Operation, blk BlockContext) (interface{}, []Event, *Error) {
	if err := op.ValidateEnvelope(); err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch op.Type {
	case OpMintCard:
		id, events, err := s.registry.mintCard(op.Caller, op.MintCard, blk.Time)
		if err != nil {
			return nil, nil, err
		}
		return &MintResult{CardID: id}, events, nil

	case OpTransferCard:
		events, err := s.registry.transferCard(op.Caller, op.TransferCard)
		return nil, events, err

	case OpApproveOperator:
		events, err := s.registry.approveOperator(op.Caller, op.ApproveOperator)
		return nil, events, err

	case OpAuthorizeMinter:
		events, err := s.registry.authorizeMinter(op.Caller, op.AuthorizeMinter)
		return nil, events, err

	case OpDeposit:
		if op.Deposit.Amount == 0 {
			return nil, nil, precondition(CodeInvalidAmount, "deposit amount must be positive")
		}
		s.balances[op.Caller] += op.Deposit.Amount
		ev := []Event{{Type: EventDeposit, Attributes: []Attribute{
			attr("account", op.Caller),
			attrUint("amount", op.Deposit.Amount),
		}}}
		return &DepositResult{Balance: s.balances[op.Caller]}, ev, nil

	case OpPurchasePack:
		purchase, events, err := s.store.purchasePack(op.Caller, op.PurchasePack, s.balances, blk)
		if err != nil {
			return nil, nil, err
		}
		return &PurchaseResult{PurchaseID: purchase.ID, CardIDs: purchase.CardIDs}, events, nil

	case OpSetPackPrice:
		events, err := s.store.setPackPrice(op.Caller, op.SetPackPrice)
		return nil, events, err

	case OpWithdraw:
		events, err := s.store.withdraw(op.Caller, s.balances)
		return nil, events, err

	case OpProposeTrade:
		trade, events, err := s.trades.proposeTrade(op.Caller, op.ProposeTrade, blk.Time)
		if err != nil {
			return nil, nil, err
		}
		return &TradeResult{TradeID: trade.ID, Status: trade.Status}, events, nil

	case OpAcceptTrade:
		trade, events, err := s.trades.acceptTrade(op.Caller, op.AcceptTrade)
		if err != nil {
			return nil, nil, err
		}
		return &TradeResult{TradeID: trade.ID, Status: trade.Status}, events, nil

	case OpCancelTrade:
		trade, events, err := s.trades.cancelTrade(op.Caller, op.CancelTrade)
		if err != nil {
			return nil, nil, err
		}
		return &TradeResult{TradeID: trade.ID, Status: trade.Status}, events, nil

	case OpRecordMatch:
		record, events, err := s.matches.recordMatch(op.Caller, op.RecordMatch, blk.Time)
		if err != nil {
			return nil, nil, err
		}
		return &MatchResult{MatchID: record.ID}, events, nil

	case OpUpdateGameServer:
		events, err := s.matches.updateGameServer(op.Caller, op.UpdateGameServer)
		return nil, events, err
	}

	return nil, nil, precondition(CodeUnknownOperationType, "unknown operation type %q", op.Type)
}

// Read operations. Each takes the lock so readers never observe an in-flight
// mutation.

func (s *State) GetCard(id uint64) (*Card, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.getCard(id)
}

func (s *State) OwnerOf(id uint64) (string, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.ownerOf(id)
}

func (s *State) GetPlayerCards(owner string) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.getPlayerCards(owner)
}

func (s *State) GetTotalCards() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.totalCards()
}

func (s *State) IsApproved(owner, operator string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.isApproved(owner, operator)
}

func (s *State) BalanceOf(address string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[address]
}

func (s *State) PackPrice() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.price
}

func (s *State) TreasuryBalance() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.treasury
}

func (s *State) GetPurchase(id uint64) (*Purchase, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.getPurchase(id)
}

func (s *State) GetPurchaseHistory(buyer string) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.purchaseHistory(buyer)
}

func (s *State) GetTrade(id uint64) (*Trade, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trades.getTrade(id)
}

func (s *State) GetPlayerTrades(address string) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trades.getPlayerTrades(address)
}

func (s *State) GetActiveTrades(address string) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trades.getActiveTrades(address)
}

func (s *State) GetMatch(id uint64) (*MatchRecord, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matches.getMatch(id)
}

func (s *State) GetPlayerMatchHistory(address string) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matches.playerMatchHistory(address)
}

func (s *State) GetPlayerStats(address string) PlayerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matches.playerStats(address)
}

func (s *State) GetWinRate(address string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return winRate(s.matches.wins[address], s.matches.totalMatches[address])
}

func (s *State) GetTotalMatches() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matches.totalRecorded()
}

func (s *State) VerifyGameState(id uint64, candidate string) (bool, *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matches.verifyGameState(id, candidate)
}

func (s *State) GameServer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matches.gameServer
}

// stateSnapshot is the serialized form of the full ledger, written to the
// block store on commit and restored on node restart.
type stateSnapshot struct {
	Cards       []Card                       `json:"cards"`
	CardOwner   map[uint64]string            `json:"card_owner"`
	PlayerCards map[string][]uint64          `json:"player_cards"`
	Minters     map[string]bool              `json:"minters"`
	Approvals   map[string]map[string]bool   `json:"approvals"`
	Price       uint64                       `json:"pack_price"`
	Treasury    uint64                       `json:"treasury"`
	Purchases   []Purchase                   `json:"purchases"`
	History     map[string][]uint64          `json:"purchase_history"`
	Trades      []Trade                      `json:"trades"`
	PlayerTrade map[string][]uint64          `json:"player_trades"`
	GameServer  string                       `json:"game_server"`
	Matches     []MatchRecord                `json:"matches"`
	TotalMatch  map[string]uint64            `json:"total_matches"`
	Wins        map[string]uint64            `json:"wins"`
	MatchIndex  map[string][]uint64          `json:"match_history"`
	Balances    map[string]uint64            `json:"balances"`
}

// Snapshot serializes the full ledger state.
func (s *State) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(stateSnapshot{
		Cards:       s.registry.cards,
		CardOwner:   s.registry.cardOwner,
		PlayerCards: s.registry.playerCards,
		Minters:     s.registry.minters,
		Approvals:   s.registry.approvals,
		Price:       s.store.price,
		Treasury:    s.store.treasury,
		Purchases:   s.store.purchases,
		History:     s.store.history,
		Trades:      s.trades.trades,
		PlayerTrade: s.trades.playerTrades,
		GameServer:  s.matches.gameServer,
		Matches:     s.matches.matches,
		TotalMatch:  s.matches.totalMatches,
		Wins:        s.matches.wins,
		MatchIndex:  s.matches.history,
		Balances:    s.balances,
	})
}

// Restore replaces the ledger state with a previously taken snapshot.
func (s *State) Restore(raw []byte) error {
	var snap stateSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry.cards = snap.Cards
	s.registry.cardOwner = orMap(snap.CardOwner)
	s.registry.playerCards = orIndex(snap.PlayerCards)
	s.registry.minters = snap.Minters
	if s.registry.minters == nil {
		s.registry.minters = make(map[string]bool)
	}
	s.registry.approvals = snap.Approvals
	if s.registry.approvals == nil {
		s.registry.approvals = make(map[string]map[string]bool)
	}
	s.store.price = snap.Price
	s.store.treasury = snap.Treasury
	s.store.purchases = snap.Purchases
	s.store.history = orIndex(snap.History)
	s.trades.trades = snap.Trades
	s.trades.playerTrades = orIndex(snap.PlayerTrade)
	s.matches.gameServer = snap.GameServer
	s.matches.matches = snap.Matches
	s.matches.totalMatches = orCount(snap.TotalMatch)
	s.matches.wins = orCount(snap.Wins)
	s.matches.history = orIndex(snap.MatchIndex)
	s.balances = orCount(snap.Balances)
	return nil
}

func orMap(m map[uint64]string) map[uint64]string {
	if m == nil {
		return make(map[uint64]string)
	}
	return m
}

func orIndex(m map[string][]uint64) map[string][]uint64 {
	if m == nil {
		return make(map[string][]uint64)
	}
	return m
}

func orCount(m map[string]uint64) map[string]uint64 {
	if m == nil {
		return make(map[string]uint64)
	}
	return m
}
