package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/duelingprotocol/dueling-ledger/ledger"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func testGenesis() ledger.Genesis {
	return ledger.Genesis{
		RegistryOwner:  "registry-owner",
		StoreAuthority: "store-authority",
		GameServer:     "game-server",
		TradeOperator:  "trade-operator",
		PackPrice:      100,
	}
}

func newTestApp(t *testing.T) (*Application, *badger.DB) {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	app, err := NewApplication(db, ledger.NewState(testGenesis()), cmtlog.NewNopLogger())
	require.NoError(t, err)
	return app, db
}

func mustTx(t *testing.T, op *ledger.Operation) []byte {
	t.Helper()
	raw, err := json.Marshal(op)
	require.NoError(t, err)
	return raw
}

func finalize(t *testing.T, app *Application, height int64, txs ...[]byte) *abcitypes.FinalizeBlockResponse {
	t.Helper()
	resp, err := app.FinalizeBlock(context.Background(), &abcitypes.FinalizeBlockRequest{
		Height: height,
		Time:   time.Unix(1700000000, 0).UTC(),
		Txs:    txs,
	})
	require.NoError(t, err)
	_, err = app.Commit(context.Background(), &abcitypes.CommitRequest{})
	require.NoError(t, err)
	return resp
}

func TestCheckTx(t *testing.T) {
	app, _ := newTestApp(t)
	ctx := context.Background()

	valid := mustTx(t, &ledger.Operation{
		Type:    ledger.OpDeposit,
		Caller:  "alice",
		Deposit: &ledger.DepositOp{Amount: 10},
	})
	resp, err := app.CheckTx(ctx, &abcitypes.CheckTxRequest{Tx: valid})
	require.NoError(t, err)
	require.Equal(t, CodeOK, resp.Code)

	resp, err = app.CheckTx(ctx, &abcitypes.CheckTxRequest{Tx: []byte("not an operation")})
	require.NoError(t, err)
	require.Equal(t, CodeMalformed, resp.Code)

	// Envelope checks run at the mempool gate; business rules do not.
	noCaller := mustTx(t, &ledger.Operation{
		Type:    ledger.OpDeposit,
		Deposit: &ledger.DepositOp{Amount: 10},
	})
	resp, err = app.CheckTx(ctx, &abcitypes.CheckTxRequest{Tx: noCaller})
	require.NoError(t, err)
	require.Equal(t, CodeMalformed, resp.Code)
}

func TestProcessProposal(t *testing.T) {
	app, _ := newTestApp(t)
	ctx := context.Background()

	valid := mustTx(t, &ledger.Operation{
		Type:    ledger.OpDeposit,
		Caller:  "alice",
		Deposit: &ledger.DepositOp{Amount: 10},
	})

	resp, err := app.ProcessProposal(ctx, &abcitypes.ProcessProposalRequest{Txs: [][]byte{valid}})
	require.NoError(t, err)
	require.Equal(t, abcitypes.PROCESS_PROPOSAL_STATUS_ACCEPT, resp.Status)

	resp, err = app.ProcessProposal(ctx, &abcitypes.ProcessProposalRequest{Txs: [][]byte{valid, []byte("junk")}})
	require.Error(t, err)
	require.Equal(t, abcitypes.PROCESS_PROPOSAL_STATUS_REJECT, resp.Status)
}

func TestFinalizeBlock_AppliesOperationsInOrder(t *testing.T) {
	app, _ := newTestApp(t)

	depositTx := mustTx(t, &ledger.Operation{
		Type:    ledger.OpDeposit,
		Caller:  "alice",
		Deposit: &ledger.DepositOp{Amount: 500},
	})
	mintTx := mustTx(t, &ledger.Operation{
		Type:   ledger.OpMintCard,
		Caller: "registry-owner",
		MintCard: &ledger.MintCardOp{
			Owner:    "alice",
			CardType: "Monster",
			Rarity:   3,
			Attack:   1500,
			Defense:  1200,
		},
	})
	// Rejected: bob is neither the registry owner nor a minter.
	badMintTx := mustTx(t, &ledger.Operation{
		Type:     ledger.OpMintCard,
		Caller:   "bob",
		MintCard: &ledger.MintCardOp{Owner: "bob", CardType: "Monster", Rarity: 1, Attack: 1, Defense: 1},
	})

	resp := finalize(t, app, 1, depositTx, mintTx, badMintTx)
	require.Len(t, resp.TxResults, 3)

	require.Equal(t, CodeOK, resp.TxResults[0].Code)
	var depositResult ledger.DepositResult
	require.NoError(t, json.Unmarshal(resp.TxResults[0].Data, &depositResult))
	require.Equal(t, uint64(500), depositResult.Balance)

	require.Equal(t, CodeOK, resp.TxResults[1].Code)
	var mintResult ledger.MintResult
	require.NoError(t, json.Unmarshal(resp.TxResults[1].Data, &mintResult))
	require.Equal(t, uint64(0), mintResult.CardID)
	require.NotEmpty(t, resp.TxResults[1].Events)
	require.Equal(t, "card_minted", resp.TxResults[1].Events[0].Type)

	require.Equal(t, CodeAuthorization, resp.TxResults[2].Code)
	require.Empty(t, resp.TxResults[2].Events)

	require.NotEmpty(t, resp.AppHash)
	require.Equal(t, uint64(500), app.Ledger().BalanceOf("alice"))
	require.Equal(t, uint64(1), app.Ledger().GetTotalCards())
}

func TestFinalizeBlock_RejectionCodesFollowErrorKinds(t *testing.T) {
	app, _ := newTestApp(t)

	cases := []struct {
		op       *ledger.Operation
		wantCode uint32
	}{
		{&ledger.Operation{Type: ledger.OpDeposit, Caller: "alice", Deposit: &ledger.DepositOp{Amount: 0}}, CodePrecondition},
		{&ledger.Operation{Type: ledger.OpWithdraw, Caller: "alice"}, CodeAuthorization},
		{&ledger.Operation{Type: ledger.OpAcceptTrade, Caller: "alice", AcceptTrade: &ledger.AcceptTradeOp{TradeID: 9}}, CodeNotFound},
	}
	txs := make([][]byte, len(cases))
	for i, tc := range cases {
		txs[i] = mustTx(t, tc.op)
	}

	resp := finalize(t, app, 1, txs...)
	for i, tc := range cases {
		require.Equal(t, tc.wantCode, resp.TxResults[i].Code)
	}
}

func TestInfo_TracksCommittedHeight(t *testing.T) {
	app, _ := newTestApp(t)
	ctx := context.Background()

	info, err := app.Info(ctx, &abcitypes.InfoRequest{})
	require.NoError(t, err)
	require.Equal(t, int64(0), info.LastBlockHeight)

	finalize(t, app, 1, mustTx(t, &ledger.Operation{
		Type:    ledger.OpDeposit,
		Caller:  "alice",
		Deposit: &ledger.DepositOp{Amount: 10},
	}))

	info, err = app.Info(ctx, &abcitypes.InfoRequest{})
	require.NoError(t, err)
	require.Equal(t, int64(1), info.LastBlockHeight)
	require.NotEmpty(t, info.LastBlockAppHash)
}

func TestQuery_VerifyTransaction(t *testing.T) {
	app, _ := newTestApp(t)
	ctx := context.Background()

	tx := mustTx(t, &ledger.Operation{
		Type:    ledger.OpDeposit,
		Caller:  "alice",
		Deposit: &ledger.DepositOp{Amount: 10},
	})
	rejectedTx := mustTx(t, &ledger.Operation{
		Type:    ledger.OpDeposit,
		Caller:  "alice",
		Deposit: &ledger.DepositOp{Amount: 0},
	})
	finalize(t, app, 1, tx, rejectedTx)

	resp, err := app.Query(ctx, &abcitypes.QueryRequest{Data: append([]byte("verify:"), txHashHex(tx)...)})
	require.NoError(t, err)
	require.Equal(t, uint32(0), resp.Code)
	require.Equal(t, "accepted", resp.Log)
	require.Equal(t, tx, resp.Value)

	resp, err = app.Query(ctx, &abcitypes.QueryRequest{Data: append([]byte("verify:"), txHashHex(rejectedTx)...)})
	require.NoError(t, err)
	require.Equal(t, uint32(0), resp.Code)
	require.Equal(t, "rejected", resp.Log)

	resp, err = app.Query(ctx, &abcitypes.QueryRequest{Data: []byte("verify:unknownhash")})
	require.NoError(t, err)
	require.Equal(t, uint32(1), resp.Code)
}

func TestNewApplication_RestoresLedgerFromBlockStore(t *testing.T) {
	app, db := newTestApp(t)

	finalize(t, app, 1,
		mustTx(t, &ledger.Operation{
			Type:    ledger.OpDeposit,
			Caller:  "alice",
			Deposit: &ledger.DepositOp{Amount: 500},
		}),
		mustTx(t, &ledger.Operation{
			Type:   ledger.OpMintCard,
			Caller: "registry-owner",
			MintCard: &ledger.MintCardOp{
				Owner:    "alice",
				CardType: "Monster",
				Rarity:   3,
				Attack:   1500,
				Defense:  1200,
			},
		}),
	)

	// A fresh application over the same block store picks the state back up.
	restarted, err := NewApplication(db, ledger.NewState(testGenesis()), cmtlog.NewNopLogger())
	require.NoError(t, err)
	require.Equal(t, uint64(500), restarted.Ledger().BalanceOf("alice"))
	require.Equal(t, uint64(1), restarted.Ledger().GetTotalCards())

	owner, lookupErr := restarted.Ledger().OwnerOf(0)
	require.Nil(t, lookupErr)
	require.Equal(t, "alice", owner)
}

func TestCodeForKind(t *testing.T) {
	require.Equal(t, CodePrecondition, codeForKind(ledger.KindPrecondition))
	require.Equal(t, CodeAuthorization, codeForKind(ledger.KindAuthorization))
	require.Equal(t, CodeNotFound, codeForKind(ledger.KindNotFound))
	require.Equal(t, CodeStateConflict, codeForKind(ledger.KindStateConflict))
}

func TestInt64Bytes_RoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, 255, 1 << 32, 1<<62 - 1} {
		require.Equal(t, v, bytesToInt64(int64ToBytes(v)))
	}
}
