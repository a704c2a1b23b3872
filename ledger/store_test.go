package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func deposit(t *testing.T, s *State, account string, amount uint64) {
	t.Helper()
	_, _, err := s.Apply(&Operation{
		Type:    OpDeposit,
		Caller:  account,
		Deposit: &DepositOp{Amount: amount},
	}, testBlock)
	require.Nil(t, err)
}

func buyPack(t *testing.T, s *State, buyer string, tier PackTier, payment uint64) *PurchaseResult {
	t.Helper()
	result, _, err := s.Apply(&Operation{
		Type:         OpPurchasePack,
		Caller:       buyer,
		PurchasePack: &PurchasePackOp{Tier: tier, Payment: payment},
	}, testBlock)
	require.Nil(t, err)
	return result.(*PurchaseResult)
}

func TestPurchasePack_MintsPackAndSettlesPayment(t *testing.T) {
	s := testState()
	deposit(t, s, "alice", 500)

	result := buyPack(t, s, "alice", PackGold, 150)

	require.Equal(t, uint64(0), result.PurchaseID)
	require.Len(t, result.CardIDs, 5)

	// Only the pack price is debited; the committed excess stays with the buyer.
	require.Equal(t, uint64(400), s.BalanceOf("alice"))
	require.Equal(t, uint64(100), s.TreasuryBalance())

	// Every minted card belongs to the buyer and sits inside the caps.
	for _, id := range result.CardIDs {
		owner, err := s.OwnerOf(id)
		require.Nil(t, err)
		require.Equal(t, "alice", owner)

		card, err := s.GetCard(id)
		require.Nil(t, err)
		require.GreaterOrEqual(t, card.Rarity, uint8(MinRarity))
		require.LessOrEqual(t, card.Rarity, uint8(MaxRarity))
		require.LessOrEqual(t, card.Attack, uint32(MaxAttack))
		require.LessOrEqual(t, card.Defense, defenseCap(card.Rarity))
	}

	purchase, err := s.GetPurchase(result.PurchaseID)
	require.Nil(t, err)
	require.Equal(t, "alice", purchase.Buyer)
	require.Equal(t, PackGold, purchase.Tier)
	require.Equal(t, result.CardIDs, purchase.CardIDs)
	require.Equal(t, []uint64{0}, s.GetPurchaseHistory("alice"))
}

func TestPurchasePack_Rejections(t *testing.T) {
	s := testState()
	deposit(t, s, "alice", 120)

	_, _, err := s.Apply(&Operation{
		Type:         OpPurchasePack,
		Caller:       "alice",
		PurchasePack: &PurchasePackOp{Tier: 9, Payment: 100},
	}, testBlock)
	require.NotNil(t, err)
	require.Equal(t, CodeInvalidPackType, err.Code)

	_, _, err = s.Apply(&Operation{
		Type:         OpPurchasePack,
		Caller:       "alice",
		PurchasePack: &PurchasePackOp{Tier: PackBronze, Payment: 99},
	}, testBlock)
	require.NotNil(t, err)
	require.Equal(t, CodeInsufficientPayment, err.Code)

	// Payment covers the price but the committed amount exceeds the balance.
	_, _, err = s.Apply(&Operation{
		Type:         OpPurchasePack,
		Caller:       "alice",
		PurchasePack: &PurchasePackOp{Tier: PackBronze, Payment: 121},
	}, testBlock)
	require.NotNil(t, err)
	require.Equal(t, CodeInsufficientFunds, err.Code)

	// No partial effects from any rejection.
	require.Equal(t, uint64(120), s.BalanceOf("alice"))
	require.Equal(t, uint64(0), s.TreasuryBalance())
	require.Equal(t, uint64(0), s.GetTotalCards())
	require.Empty(t, s.GetPurchaseHistory("alice"))
}

func TestPurchasePack_DeterministicAcrossReplicas(t *testing.T) {
	// Two states fed the same operations at the same block produce
	// byte-identical packs.
	a := testState()
	b := testState()
	deposit(t, a, "alice", 1000)
	deposit(t, b, "alice", 1000)

	resultA := buyPack(t, a, "alice", PackSilver, 100)
	resultB := buyPack(t, b, "alice", PackSilver, 100)

	require.Equal(t, resultA.CardIDs, resultB.CardIDs)
	for _, id := range resultA.CardIDs {
		cardA, errA := a.GetCard(id)
		cardB, errB := b.GetCard(id)
		require.Nil(t, errA)
		require.Nil(t, errB)
		require.Equal(t, cardA, cardB)
	}
}

func TestPurchasePack_SeedVariesPerPurchase(t *testing.T) {
	s := testState()
	deposit(t, s, "alice", 1000)

	first := buyPack(t, s, "alice", PackGold, 100)
	second := buyPack(t, s, "alice", PackGold, 100)

	firstCards := make([]Card, 0, len(first.CardIDs))
	secondCards := make([]Card, 0, len(second.CardIDs))
	for _, id := range first.CardIDs {
		card, err := s.GetCard(id)
		require.Nil(t, err)
		card.ID = 0
		card.CreatedAt = testBlock.Time
		firstCards = append(firstCards, *card)
	}
	for _, id := range second.CardIDs {
		card, err := s.GetCard(id)
		require.Nil(t, err)
		card.ID = 0
		card.CreatedAt = testBlock.Time
		secondCards = append(secondCards, *card)
	}
	require.NotEqual(t, firstCards, secondCards)
}

func TestSetPackPrice_AuthorityOnly(t *testing.T) {
	s := testState()

	_, _, err := s.Apply(&Operation{
		Type:         OpSetPackPrice,
		Caller:       "alice",
		SetPackPrice: &SetPackPriceOp{NewPrice: 250},
	}, testBlock)
	require.NotNil(t, err)
	require.Equal(t, KindAuthorization, err.Kind)
	require.Equal(t, uint64(100), s.PackPrice())

	_, events, err := s.Apply(&Operation{
		Type:         OpSetPackPrice,
		Caller:       "store-authority",
		SetPackPrice: &SetPackPriceOp{NewPrice: 250},
	}, testBlock)
	require.Nil(t, err)
	require.Equal(t, uint64(250), s.PackPrice())
	require.Len(t, events, 1)
	require.Equal(t, EventPackPriceUpdated, events[0].Type)
}

func TestWithdraw_MovesTreasuryToAuthority(t *testing.T) {
	s := testState()
	deposit(t, s, "alice", 300)
	buyPack(t, s, "alice", PackBronze, 100)
	buyPack(t, s, "alice", PackBronze, 100)
	require.Equal(t, uint64(200), s.TreasuryBalance())

	_, _, err := s.Apply(&Operation{Type: OpWithdraw, Caller: "alice"}, testBlock)
	require.NotNil(t, err)
	require.Equal(t, KindAuthorization, err.Kind)

	_, _, err = s.Apply(&Operation{Type: OpWithdraw, Caller: "store-authority"}, testBlock)
	require.Nil(t, err)
	require.Equal(t, uint64(0), s.TreasuryBalance())
	require.Equal(t, uint64(200), s.BalanceOf("store-authority"))
}

func TestGetPurchase_NotFound(t *testing.T) {
	s := testState()
	_, err := s.GetPurchase(0)
	require.NotNil(t, err)
	require.Equal(t, KindNotFound, err.Kind)
	require.Equal(t, CodePurchaseNotFound, err.Code)
}
