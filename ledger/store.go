package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"time"
)

// PackTier enumerates the purchasable pack tiers.
type PackTier uint8

const (
	PackBronze PackTier = 1
	PackSilver PackTier = 2
	PackGold   PackTier = 3
)

// Purchase is an immutable receipt of a pack sale.
type Purchase struct {
	ID        uint64    `json:"purchase_id"`
	Buyer     string    `json:"buyer"`
	Tier      PackTier  `json:"pack_type"`
	CardIDs   []uint64  `json:"cards_received"`
	Timestamp time.Time `json:"timestamp"`
}

// PackPolicy parameterizes pack contents. The distribution is store policy,
// not a correctness rule; only the attribute caps are.
type PackPolicy struct {
	CardsPerPack int
	// RarityWeights[tier] holds relative weights for rarities 1..5.
	RarityWeights map[PackTier][MaxRarity]int
	CardTypes     []string
}

// DefaultPackPolicy biases higher tiers toward higher rarities.
func DefaultPackPolicy() PackPolicy {
	return PackPolicy{
		CardsPerPack: 5,
		RarityWeights: map[PackTier][MaxRarity]int{
			PackBronze: {50, 30, 15, 4, 1},
			PackSilver: {25, 35, 25, 10, 5},
			PackGold:   {10, 20, 30, 25, 15},
		},
		CardTypes: []string{"Monster", "Spell", "Trap", "Equipment"},
	}
}

// Store sells packs for payment, minting through the Asset Registry. It is
// wired as an authorized minter at genesis.
type Store struct {
	authority string
	registry  *AssetRegistry
	price     uint64
	treasury  uint64
	purchases []Purchase
	history   map[string][]uint64
	policy    PackPolicy
}

func newStore(authority string, registry *AssetRegistry, price uint64, policy PackPolicy) *Store {
	return &Store{
		authority: authority,
		registry:  registry,
		price:     price,
		history:   make(map[string][]uint64),
		policy:    policy,
	}
}

// purchasePack validates payment, mints the pack's cards, settles the price
// against the buyer's balance and records a receipt. Validation completes
// before any mutation, so a rejection leaves no partial effect; generated
// attributes always sit inside the registry caps, so the mints cannot fail
// halfway through.
func (s *Store) purchasePack(caller string, op *PurchasePackOp, balances map[string]uint64, blk BlockContext) (*Purchase, []Event, *Error) {
	weights, ok := s.policy.RarityWeights[op.Tier]
	if !ok {
		return nil, nil, precondition(CodeInvalidPackType, "pack type %d is not one of {1,2,3}", op.Tier)
	}
	if op.Payment < s.price {
		return nil, nil, precondition(CodeInsufficientPayment, "payment %d below pack price %d", op.Payment, s.price)
	}
	if balances[caller] < op.Payment {
		return nil, nil, precondition(CodeInsufficientFunds, "balance %d below committed payment %d", balances[caller], op.Payment)
	}

	purchaseID := uint64(len(s.purchases))
	rng := packRNG(purchaseID, caller, op.Tier, blk.Height)

	var events []Event
	cardIDs := make([]uint64, 0, s.policy.CardsPerPack)
	for i := 0; i < s.policy.CardsPerPack; i++ {
		cardType, rarity, attack, defense := s.rollCard(rng, weights)
		id, mintEvents, err := s.registry.mint(caller, cardType, rarity, attack, defense, blk.Time)
		if err != nil {
			// Unreachable with in-policy attributes; surfaced rather than swallowed.
			return nil, nil, err
		}
		cardIDs = append(cardIDs, id)
		events = append(events, mintEvents...)
	}

	// Settle the debit-then-refund as its net: the buyer pays exactly the price.
	balances[caller] -= s.price
	s.treasury += s.price

	purchase := Purchase{
		ID:        purchaseID,
		Buyer:     caller,
		Tier:      op.Tier,
		CardIDs:   cardIDs,
		Timestamp: blk.Time,
	}
	s.purchases = append(s.purchases, purchase)
	s.history[caller] = append(s.history[caller], purchaseID)

	events = append(events, Event{Type: EventPackPurchased, Attributes: []Attribute{
		attrUint("purchase_id", purchaseID),
		attr("buyer", caller),
		attrUint("pack_type", uint64(op.Tier)),
		attrIDs("card_ids", cardIDs),
	}})
	return &purchase, events, nil
}

// packRNG derives a PRNG every replica seeds identically for a given purchase.
func packRNG(purchaseID uint64, buyer string, tier PackTier, height int64) *rand.Rand {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%d|%d", purchaseID, buyer, tier, height)
	seed := int64(binary.BigEndian.Uint64(h.Sum(nil)[:8]))
	return rand.New(rand.NewSource(seed))
}

func (s *Store) rollCard(rng *rand.Rand, weights [MaxRarity]int) (string, uint8, uint32, uint32) {
	total := 0
	for _, w := range weights {
		total += w
	}
	roll := rng.Intn(total)
	rarity := uint8(MaxRarity)
	for i, w := range weights {
		if roll < w {
			rarity = uint8(i + 1)
			break
		}
		roll -= w
	}

	cardType := s.policy.CardTypes[rng.Intn(len(s.policy.CardTypes))]
	attack := uint32(rng.Intn(int(rarity)*600 + 1))
	maxDefense := int(rarity) * 500
	if cap := int(defenseCap(rarity)); maxDefense > cap {
		maxDefense = cap
	}
	defense := uint32(rng.Intn(maxDefense + 1))
	return cardType, rarity, attack, defense
}

func (s *Store) setPackPrice(caller string, op *SetPackPriceOp) ([]Event, *Error) {
	if caller != s.authority {
		return nil, unauthorized(CodeNotAuthorized, "%s is not the store authority", caller)
	}
	old := s.price
	s.price = op.NewPrice

	return []Event{{Type: EventPackPriceUpdated, Attributes: []Attribute{
		attrUint("old_price", old),
		attrUint("new_price", op.NewPrice),
	}}}, nil
}

func (s *Store) withdraw(caller string, balances map[string]uint64) ([]Event, *Error) {
	if caller != s.authority {
		return nil, unauthorized(CodeNotAuthorized, "%s is not the store authority", caller)
	}
	amount := s.treasury
	s.treasury = 0
	balances[caller] += amount

	return []Event{{Type: EventFundsWithdrawn, Attributes: []Attribute{
		attr("authority", caller),
		attrUint("amount", amount),
	}}}, nil
}

func (s *Store) getPurchase(id uint64) (*Purchase, *Error) {
	if id >= uint64(len(s.purchases)) {
		return nil, notFound(CodePurchaseNotFound, "purchase %d does not exist", id)
	}
	p := s.purchases[id]
	return &p, nil
}

func (s *Store) purchaseHistory(buyer string) []uint64 {
	ids := s.history[buyer]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out
}
