package srvreg

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/duelingprotocol/dueling-ledger/ledger"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) (*ServiceRegistry, *ledger.State) {
	t.Helper()
	state := ledger.NewState(ledger.Genesis{
		RegistryOwner:  "registry-owner",
		StoreAuthority: "store-authority",
		GameServer:     "game-server",
		TradeOperator:  "trade-operator",
		PackPrice:      100,
	})
	sr := NewServiceRegistry(nil, state, cmtlog.NewNopLogger())
	sr.RegisterDefaultServices()
	return sr, state
}

func mintTestCard(t *testing.T, state *ledger.State, owner string) uint64 {
	t.Helper()
	result, _, err := state.Apply(&ledger.Operation{
		Type:   ledger.OpMintCard,
		Caller: "registry-owner",
		MintCard: &ledger.MintCardOp{
			Owner:    owner,
			CardType: "Monster",
			Rarity:   2,
			Attack:   800,
			Defense:  600,
		},
	}, ledger.BlockContext{Height: 1, Time: time.Unix(1700000000, 0).UTC()})
	require.Nil(t, err)
	return result.(*ledger.MintResult).CardID
}

func TestMatchPath(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/ledger/cards/:id", "/ledger/cards/7", true},
		{"/ledger/cards/:id", "/ledger/cards/7/extra", false},
		{"/ledger/cards/:id", "/ledger/trades/7", false},
		{"/ledger/players/:address/cards", "/ledger/players/alice/cards", true},
		{"/ledger/players/:address/cards", "/ledger/players/alice/balance", false},
		{"/ledger/trades/:id/accept", "/ledger/trades/3/accept", true},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, matchPath(tc.pattern, tc.path), "pattern %s against %s", tc.pattern, tc.path)
	}
}

func TestGetHandlerForPath(t *testing.T) {
	sr, _ := testRegistry(t)

	_, found := sr.GetHandlerForPath("GET", "/ledger/status")
	require.True(t, found)

	_, found = sr.GetHandlerForPath("GET", "/ledger/cards/12")
	require.True(t, found)

	_, found = sr.GetHandlerForPath("POST", "/ledger/trades/12/accept")
	require.True(t, found)

	// Method matters: trades are proposed with POST only.
	_, found = sr.GetHandlerForPath("DELETE", "/ledger/trades")
	require.False(t, found)

	_, found = sr.GetHandlerForPath("GET", "/ledger/nothing/here/at/all")
	require.False(t, found)
}

func TestGenerateResponse_UnknownRouteIs404(t *testing.T) {
	sr, _ := testRegistry(t)

	req := &Request{Method: "GET", Path: "/ledger/unknown", Timestamp: time.Now()}
	resp, err := req.GenerateResponse(sr)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetCardHandler(t *testing.T) {
	sr, state := testRegistry(t)
	id := mintTestCard(t, state, "alice")

	resp, err := (&Request{Method: "GET", Path: "/ledger/cards/0"}).GenerateResponse(sr)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Card  ledger.Card `json:"card"`
		Owner string      `json:"owner"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
	require.Equal(t, id, body.Card.ID)
	require.Equal(t, "Monster", body.Card.CardType)
	require.Equal(t, "alice", body.Owner)

	resp, err = (&Request{Method: "GET", Path: "/ledger/cards/42"}).GenerateResponse(sr)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = (&Request{Method: "GET", Path: "/ledger/cards/notanumber"}).GenerateResponse(sr)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPlayerReadHandlers(t *testing.T) {
	sr, state := testRegistry(t)
	mintTestCard(t, state, "alice")
	mintTestCard(t, state, "alice")

	resp, err := (&Request{Method: "GET", Path: "/ledger/players/alice/cards"}).GenerateResponse(sr)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cards struct {
		Address string   `json:"address"`
		Cards   []uint64 `json:"cards"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &cards))
	require.Equal(t, "alice", cards.Address)
	require.Len(t, cards.Cards, 2)

	resp, err = (&Request{Method: "GET", Path: "/ledger/players/alice/balance"}).GenerateResponse(sr)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var balance struct {
		Balance uint64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &balance))
	require.Equal(t, uint64(0), balance.Balance)
}

func TestStatusHandler(t *testing.T) {
	sr, state := testRegistry(t)
	mintTestCard(t, state, "alice")

	resp, err := (&Request{Method: "GET", Path: "/ledger/status"}).GenerateResponse(sr)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		TotalCards   uint64 `json:"total_cards"`
		TotalMatches uint64 `json:"total_matches"`
		PackPrice    uint64 `json:"pack_price"`
		GameServer   string `json:"game_server"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &status))
	require.Equal(t, uint64(1), status.TotalCards)
	require.Equal(t, uint64(100), status.PackPrice)
	require.Equal(t, "game-server", status.GameServer)
}

func TestStatusForCode(t *testing.T) {
	require.Equal(t, http.StatusOK, statusForCode(0))
	require.Equal(t, http.StatusBadRequest, statusForCode(1))
	require.Equal(t, http.StatusForbidden, statusForCode(2))
	require.Equal(t, http.StatusNotFound, statusForCode(3))
	require.Equal(t, http.StatusConflict, statusForCode(4))
	require.Equal(t, http.StatusUnprocessableEntity, statusForCode(5))
}

func TestRequestGenerateRequestID_Deterministic(t *testing.T) {
	ts := time.Unix(1700000000, 0).UTC()
	a := &Request{Method: "POST", Path: "/ledger/trades", Body: `{"caller":"alice"}`, Timestamp: ts}
	b := &Request{Method: "POST", Path: "/ledger/trades", Body: `{"caller":"alice"}`, Timestamp: ts}
	a.GenerateRequestID()
	b.GenerateRequestID()
	require.Equal(t, a.RequestID, b.RequestID)
	require.Len(t, a.RequestID, 32)
}
