package ledger

import "time"

// Attribute caps. A card's defense may only reach the attack cap at the top
// rarity; below that it stays strictly under it.
const (
	MinRarity         = 1
	MaxRarity         = 5
	MaxAttack         = 3000
	MaxDefenseRegular = 2999
)

// Card is a uniquely-owned asset record. Everything except ownership is
// immutable after minting.
type Card struct {
	ID        uint64    `json:"card_id"`
	CardType  string    `json:"card_type"`
	Rarity    uint8     `json:"rarity"`
	Attack    uint32    `json:"attack"`
	Defense   uint32    `json:"defense"`
	CreatedAt time.Time `json:"created_at"`
}

// AssetRegistry owns card records and the ownership mapping. All other
// components mutate ownership exclusively through it; it never calls out.
type AssetRegistry struct {
	owner       string
	cards       []Card
	cardOwner   map[uint64]string
	playerCards map[string][]uint64
	minters     map[string]bool
	// approvals[owner][operator]: blanket permission for operator to move
	// any of owner's cards without taking ownership.
	approvals map[string]map[string]bool
}

func newAssetRegistry(owner string) *AssetRegistry {
	return &AssetRegistry{
		owner:       owner,
		cardOwner:   make(map[uint64]string),
		playerCards: make(map[string][]uint64),
		minters:     make(map[string]bool),
		approvals:   make(map[string]map[string]bool),
	}
}

func defenseCap(rarity uint8) uint32 {
	if rarity == MaxRarity {
		return MaxAttack
	}
	return MaxDefenseRegular
}

func validateAttributes(rarity uint8, attack, defense uint32) *Error {
	if rarity < MinRarity || rarity > MaxRarity {
		return precondition(CodeInvalidRarity, "rarity %d outside [%d,%d]", rarity, MinRarity, MaxRarity)
	}
	if attack > MaxAttack {
		return precondition(CodeAttackTooHigh, "attack %d exceeds cap %d", attack, MaxAttack)
	}
	if cap := defenseCap(rarity); defense > cap {
		return precondition(CodeDefenseTooHigh, "defense %d exceeds cap %d for rarity %d", defense, cap, rarity)
	}
	return nil
}

// mintCard mints on behalf of an external caller, which must be the registry
// owner or an authorized minter.
func (r *AssetRegistry) mintCard(caller string, op *MintCardOp, now time.Time) (uint64, []Event, *Error) {
	if caller != r.owner && !r.minters[caller] {
		return 0, nil, unauthorized(CodeNotAuthorized, "%s is not the registry owner or an authorized minter", caller)
	}
	return r.mint(op.Owner, op.CardType, op.Rarity, op.Attack, op.Defense, now)
}

// mint performs the actual mint. Callers inside the ledger (the Store) reach
// it directly; the capability check lives in mintCard so it is evaluated
// atomically with the mutation.
func (r *AssetRegistry) mint(owner, cardType string, rarity uint8, attack, defense uint32, now time.Time) (uint64, []Event, *Error) {
	if owner == "" {
		return 0, nil, precondition(CodeInvalidAddress, "card owner address is empty")
	}
	if err := validateAttributes(rarity, attack, defense); err != nil {
		return 0, nil, err
	}

	id := uint64(len(r.cards))
	r.cards = append(r.cards, Card{
		ID:        id,
		CardType:  cardType,
		Rarity:    rarity,
		Attack:    attack,
		Defense:   defense,
		CreatedAt: now,
	})
	r.cardOwner[id] = owner
	r.playerCards[owner] = append(r.playerCards[owner], id)

	ev := Event{Type: EventCardMinted, Attributes: []Attribute{
		attrUint("card_id", id),
		attr("owner", owner),
		attr("card_type", cardType),
		attrUint("rarity", uint64(rarity)),
		attrUint("attack", uint64(attack)),
		attrUint("defense", uint64(defense)),
	}}
	return id, []Event{ev}, nil
}

// transferCard moves a card on the current owner's authority.
func (r *AssetRegistry) transferCard(caller string, op *TransferCardOp) ([]Event, *Error) {
	owner, ok := r.cardOwner[op.CardID]
	if !ok {
		return nil, notFound(CodeCardNotFound, "card %d does not exist", op.CardID)
	}
	if caller != owner {
		return nil, unauthorized(CodeNotOwner, "%s is not the owner of card %d", caller, op.CardID)
	}
	if op.To == "" {
		return nil, precondition(CodeInvalidAddress, "transfer target address is empty")
	}
	return r.move(op.CardID, owner, op.To), nil
}

// operatorTransfer moves a card on behalf of an approved operator. Used by the
// Trade Engine; the approval check happens here, atomically with the move.
func (r *AssetRegistry) operatorTransfer(operator string, from, to string, cardID uint64) ([]Event, *Error) {
	owner, ok := r.cardOwner[cardID]
	if !ok {
		return nil, notFound(CodeCardNotFound, "card %d does not exist", cardID)
	}
	if owner != from {
		return nil, stateConflict(CodeOwnershipChanged, "card %d is owned by %s, not %s", cardID, owner, from)
	}
	if operator != from && !r.approvals[from][operator] {
		return nil, unauthorized(CodeOperatorNotApproved, "%s has not approved operator %s", from, operator)
	}
	return r.move(cardID, from, to), nil
}

func (r *AssetRegistry) move(cardID uint64, from, to string) []Event {
	r.cardOwner[cardID] = to
	r.removeFromIndex(from, cardID)
	r.playerCards[to] = append(r.playerCards[to], cardID)

	return []Event{{Type: EventCardTransferred, Attributes: []Attribute{
		attrUint("card_id", cardID),
		attr("from", from),
		attr("to", to),
	}}}
}

func (r *AssetRegistry) removeFromIndex(owner string, cardID uint64) {
	ids := r.playerCards[owner]
	for i, id := range ids {
		if id == cardID {
			r.playerCards[owner] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

func (r *AssetRegistry) approveOperator(caller string, op *ApproveOperatorOp) ([]Event, *Error) {
	if op.Operator == "" {
		return nil, precondition(CodeInvalidAddress, "operator address is empty")
	}
	if r.approvals[caller] == nil {
		r.approvals[caller] = make(map[string]bool)
	}
	r.approvals[caller][op.Operator] = op.Approved

	return []Event{{Type: EventOperatorApproved, Attributes: []Attribute{
		attr("owner", caller),
		attr("operator", op.Operator),
		attr("approved", boolString(op.Approved)),
	}}}, nil
}

func (r *AssetRegistry) authorizeMinter(caller string, op *AuthorizeMinterOp) ([]Event, *Error) {
	if caller != r.owner {
		return nil, unauthorized(CodeNotAuthorized, "%s is not the registry owner", caller)
	}
	if op.Minter == "" {
		return nil, precondition(CodeInvalidAddress, "minter address is empty")
	}
	r.minters[op.Minter] = true

	return []Event{{Type: EventMinterAuthorized, Attributes: []Attribute{
		attr("minter", op.Minter),
	}}}, nil
}

func (r *AssetRegistry) getCard(cardID uint64) (*Card, *Error) {
	if cardID >= uint64(len(r.cards)) {
		return nil, notFound(CodeCardNotFound, "card %d does not exist", cardID)
	}
	card := r.cards[cardID]
	return &card, nil
}

func (r *AssetRegistry) ownerOf(cardID uint64) (string, *Error) {
	owner, ok := r.cardOwner[cardID]
	if !ok {
		return "", notFound(CodeCardNotFound, "card %d does not exist", cardID)
	}
	return owner, nil
}

func (r *AssetRegistry) getPlayerCards(owner string) []uint64 {
	ids := r.playerCards[owner]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out
}

func (r *AssetRegistry) totalCards() uint64 {
	return uint64(len(r.cards))
}

func (r *AssetRegistry) isApproved(owner, operator string) bool {
	return r.approvals[owner][operator]
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
