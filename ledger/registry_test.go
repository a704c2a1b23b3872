package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testBlock = BlockContext{Height: 1, Time: time.Unix(1700000000, 0).UTC()}

func testState() *State {
	return NewState(Genesis{
		RegistryOwner:  "registry-owner",
		StoreAuthority: "store-authority",
		GameServer:     "game-server",
		TradeOperator:  "trade-operator",
		PackPrice:      100,
	})
}

func mintFor(t *testing.T, s *State, owner string) uint64 {
	t.Helper()
	result, _, err := s.Apply(&Operation{
		Type:   OpMintCard,
		Caller: "registry-owner",
		MintCard: &MintCardOp{
			Owner:    owner,
			CardType: "Monster",
			Rarity:   3,
			Attack:   1500,
			Defense:  1200,
		},
	}, testBlock)
	require.Nil(t, err)
	return result.(*MintResult).CardID
}

func TestMintCard_AssignsSequentialIDs(t *testing.T) {
	s := testState()

	first := mintFor(t, s, "alice")
	second := mintFor(t, s, "alice")
	third := mintFor(t, s, "bob")

	require.Equal(t, uint64(0), first)
	require.Equal(t, uint64(1), second)
	require.Equal(t, uint64(2), third)
	require.Equal(t, uint64(3), s.GetTotalCards())
	require.Equal(t, []uint64{0, 1}, s.GetPlayerCards("alice"))
	require.Equal(t, []uint64{2}, s.GetPlayerCards("bob"))
}

func TestMintCard_AttributeValidation(t *testing.T) {
	cases := []struct {
		name     string
		rarity   uint8
		attack   uint32
		defense  uint32
		wantCode string
	}{
		{"rarity zero", 0, 100, 100, CodeInvalidRarity},
		{"rarity above max", 6, 100, 100, CodeInvalidRarity},
		{"attack above cap", 3, 3001, 100, CodeAttackTooHigh},
		{"defense above regular cap", 4, 100, 3000, CodeDefenseTooHigh},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := testState()
			_, _, err := s.Apply(&Operation{
				Type:   OpMintCard,
				Caller: "registry-owner",
				MintCard: &MintCardOp{
					Owner:    "alice",
					CardType: "Monster",
					Rarity:   tc.rarity,
					Attack:   tc.attack,
					Defense:  tc.defense,
				},
			}, testBlock)
			require.NotNil(t, err)
			require.Equal(t, KindPrecondition, err.Kind)
			require.Equal(t, tc.wantCode, err.Code)
			require.Equal(t, uint64(0), s.GetTotalCards())
		})
	}
}

func TestMintCard_TopRarityDefenseReachesAttackCap(t *testing.T) {
	s := testState()

	_, _, err := s.Apply(&Operation{
		Type:   OpMintCard,
		Caller: "registry-owner",
		MintCard: &MintCardOp{
			Owner:    "alice",
			CardType: "Monster",
			Rarity:   5,
			Attack:   3000,
			Defense:  3000,
		},
	}, testBlock)
	require.Nil(t, err)

	card, lookupErr := s.GetCard(0)
	require.Nil(t, lookupErr)
	require.Equal(t, uint32(3000), card.Defense)
}

func TestMintCard_RequiresOwnerOrMinter(t *testing.T) {
	s := testState()

	_, _, err := s.Apply(&Operation{
		Type:     OpMintCard,
		Caller:   "mallory",
		MintCard: &MintCardOp{Owner: "mallory", CardType: "Monster", Rarity: 1, Attack: 1, Defense: 1},
	}, testBlock)
	require.NotNil(t, err)
	require.Equal(t, KindAuthorization, err.Kind)
	require.Equal(t, CodeNotAuthorized, err.Code)

	// Grant minting rights, then the same caller succeeds.
	_, _, err = s.Apply(&Operation{
		Type:            OpAuthorizeMinter,
		Caller:          "registry-owner",
		AuthorizeMinter: &AuthorizeMinterOp{Minter: "mallory"},
	}, testBlock)
	require.Nil(t, err)

	_, _, err = s.Apply(&Operation{
		Type:     OpMintCard,
		Caller:   "mallory",
		MintCard: &MintCardOp{Owner: "mallory", CardType: "Monster", Rarity: 1, Attack: 1, Defense: 1},
	}, testBlock)
	require.Nil(t, err)
}

func TestAuthorizeMinter_RegistryOwnerOnly(t *testing.T) {
	s := testState()

	_, _, err := s.Apply(&Operation{
		Type:            OpAuthorizeMinter,
		Caller:          "alice",
		AuthorizeMinter: &AuthorizeMinterOp{Minter: "bob"},
	}, testBlock)
	require.NotNil(t, err)
	require.Equal(t, KindAuthorization, err.Kind)
}

func TestTransferCard_MovesOwnership(t *testing.T) {
	s := testState()
	id := mintFor(t, s, "alice")

	_, events, err := s.Apply(&Operation{
		Type:         OpTransferCard,
		Caller:       "alice",
		TransferCard: &TransferCardOp{To: "bob", CardID: id},
	}, testBlock)
	require.Nil(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EventCardTransferred, events[0].Type)

	owner, lookupErr := s.OwnerOf(id)
	require.Nil(t, lookupErr)
	require.Equal(t, "bob", owner)
	require.Empty(t, s.GetPlayerCards("alice"))
	require.Equal(t, []uint64{id}, s.GetPlayerCards("bob"))
}

func TestTransferCard_Rejections(t *testing.T) {
	s := testState()
	id := mintFor(t, s, "alice")

	_, _, err := s.Apply(&Operation{
		Type:         OpTransferCard,
		Caller:       "bob",
		TransferCard: &TransferCardOp{To: "bob", CardID: id},
	}, testBlock)
	require.NotNil(t, err)
	require.Equal(t, KindAuthorization, err.Kind)
	require.Equal(t, CodeNotOwner, err.Code)

	_, _, err = s.Apply(&Operation{
		Type:         OpTransferCard,
		Caller:       "alice",
		TransferCard: &TransferCardOp{To: "bob", CardID: 99},
	}, testBlock)
	require.NotNil(t, err)
	require.Equal(t, KindNotFound, err.Kind)
	require.Equal(t, CodeCardNotFound, err.Code)

	_, _, err = s.Apply(&Operation{
		Type:         OpTransferCard,
		Caller:       "alice",
		TransferCard: &TransferCardOp{To: "", CardID: id},
	}, testBlock)
	require.NotNil(t, err)
	require.Equal(t, CodeInvalidAddress, err.Code)

	// The failed attempts left ownership untouched.
	owner, lookupErr := s.OwnerOf(id)
	require.Nil(t, lookupErr)
	require.Equal(t, "alice", owner)
}

func TestApproveOperator_GrantAndRevoke(t *testing.T) {
	s := testState()

	_, _, err := s.Apply(&Operation{
		Type:            OpApproveOperator,
		Caller:          "alice",
		ApproveOperator: &ApproveOperatorOp{Operator: "trade-operator", Approved: true},
	}, testBlock)
	require.Nil(t, err)
	require.True(t, s.IsApproved("alice", "trade-operator"))

	_, _, err = s.Apply(&Operation{
		Type:            OpApproveOperator,
		Caller:          "alice",
		ApproveOperator: &ApproveOperatorOp{Operator: "trade-operator", Approved: false},
	}, testBlock)
	require.Nil(t, err)
	require.False(t, s.IsApproved("alice", "trade-operator"))
}

func TestGetCard_CopyIsDetached(t *testing.T) {
	s := testState()
	id := mintFor(t, s, "alice")

	card, err := s.GetCard(id)
	require.Nil(t, err)
	card.Attack = 9999

	again, err := s.GetCard(id)
	require.Nil(t, err)
	require.Equal(t, uint32(1500), again.Attack)
}
