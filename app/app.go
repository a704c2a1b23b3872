package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/duelingprotocol/dueling-ledger/ledger"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/dgraph-io/badger/v4"
)

// Tx result codes, by error kind. External callers map these back to the
// ledger's rejection taxonomy.
const (
	CodeOK uint32 = iota
	CodePrecondition
	CodeAuthorization
	CodeNotFound
	CodeStateConflict
	CodeMalformed
)

const (
	keyLastBlockHeight = "last_block_height"
	keyLastBlockHash   = "last_block_app_hash"
	keyLedgerState     = "ledger_state"
)

// Application implements the ABCI interface around the ledger core. Consensus
// supplies the total order; FinalizeBlock applies each operation against the
// ledger and persists the raw transactions plus a state snapshot in badger.
type Application struct {
	badgerDB     *badger.DB
	onGoingBlock *badger.Txn
	ledger       *ledger.State
	nodeID       string
	mu           sync.Mutex
	logger       cmtlog.Logger
}

// NewApplication creates the ABCI application. If the block store already
// holds a ledger snapshot from a previous run, state is restored from it.
func NewApplication(badgerDB *badger.DB, state *ledger.State, logger cmtlog.Logger) (*Application, error) {
	app := &Application{
		badgerDB: badgerDB,
		ledger:   state,
		logger:   logger,
	}
	if err := app.restoreLedger(); err != nil {
		return nil, fmt.Errorf("restoring ledger state: %w", err)
	}
	return app, nil
}

func (app *Application) SetNodeID(id string) {
	app.nodeID = id
}

// Ledger exposes the ledger core for read paths.
func (app *Application) Ledger() *ledger.State {
	return app.ledger
}

func (app *Application) restoreLedger() error {
	return app.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyLedgerState))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return app.ledger.Restore(val)
		})
	})
}

// Info implements the ABCI Info method.
func (app *Application) Info(_ context.Context, info *abcitypes.InfoRequest) (*abcitypes.InfoResponse, error) {
	lastBlockHeight := int64(0)
	var lastBlockAppHash []byte

	err := app.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyLastBlockHeight))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		err = item.Value(func(val []byte) error {
			lastBlockHeight = bytesToInt64(val)
			return nil
		})
		if err != nil {
			return err
		}

		item, err = txn.Get([]byte(keyLastBlockHash))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err == nil {
			err = item.Value(func(val []byte) error {
				lastBlockAppHash = append([]byte{}, val...)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("Error getting last block info: %v", err)
	}

	return &abcitypes.InfoResponse{
		LastBlockHeight:  lastBlockHeight,
		LastBlockAppHash: lastBlockAppHash,
	}, nil
}

// Query implements the ABCI Query method. It serves raw transaction lookups
// ("verify:<hash>") and plain key-value reads against the block store.
func (app *Application) Query(_ context.Context, req *abcitypes.QueryRequest) (*abcitypes.QueryResponse, error) {
	if len(req.Data) == 0 {
		return &abcitypes.QueryResponse{
			Code: 1,
			Log:  "Empty query data",
		}, nil
	}

	if len(req.Data) > 7 && string(req.Data[:7]) == "verify:" {
		return app.verifyTransaction(req.Data[7:])
	}

	resp := abcitypes.QueryResponse{Key: req.Data}
	dbErr := app.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(req.Data)
		if err != nil {
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			resp.Log = "key doesn't exist"
			return nil
		}
		return item.Value(func(val []byte) error {
			resp.Log = "exists"
			resp.Value = append([]byte{}, val...)
			return nil
		})
	})
	if dbErr != nil {
		log.Printf("Error reading database: %v", dbErr)
		return &abcitypes.QueryResponse{
			Code: 2,
			Log:  fmt.Sprintf("Database error: %v", dbErr),
		}, nil
	}
	return &resp, nil
}

// verifyTransaction looks up a recorded operation and its status by tx hash.
func (app *Application) verifyTransaction(txHash []byte) (*abcitypes.QueryResponse, error) {
	var resp abcitypes.QueryResponse

	err := app.badgerDB.View(func(txn *badger.Txn) error {
		txKey := append([]byte("tx:"), txHash...)
		item, err := txn.Get(txKey)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				resp.Log = "Transaction not found"
				resp.Code = 1
				return nil
			}
			return err
		}

		var txData []byte
		err = item.Value(func(val []byte) error {
			txData = append([]byte{}, val...)
			return nil
		})
		if err != nil {
			return err
		}

		statusKey := append([]byte("status:"), txHash...)
		item, err = txn.Get(statusKey)
		status := "confirmed"
		if err == nil {
			err = item.Value(func(val []byte) error {
				status = string(val)
				return nil
			})
			if err != nil {
				return err
			}
		}

		resp.Value = txData
		resp.Log = status
		resp.Code = 0
		return nil
	})
	if err != nil {
		resp.Code = 2
		resp.Log = fmt.Sprintf("Database error: %v", err)
	}
	return &resp, nil
}

// CheckTx statically validates the operation envelope before it enters the
// mempool. Business rules wait for FinalizeBlock, where they are evaluated
// against committed state.
func (app *Application) CheckTx(_ context.Context, check *abcitypes.CheckTxRequest) (*abcitypes.CheckTxResponse, error) {
	if _, err := ledger.ParseOperation(check.Tx); err != nil {
		return &abcitypes.CheckTxResponse{Code: CodeMalformed, Log: err.Error()}, nil
	}
	return &abcitypes.CheckTxResponse{Code: CodeOK}, nil
}

// InitChain implements the ABCI InitChain method.
func (app *Application) InitChain(_ context.Context, chain *abcitypes.InitChainRequest) (*abcitypes.InitChainResponse, error) {
	return &abcitypes.InitChainResponse{}, nil
}

// PrepareProposal implements the ABCI PrepareProposal method.
func (app *Application) PrepareProposal(_ context.Context, proposal *abcitypes.PrepareProposalRequest) (*abcitypes.PrepareProposalResponse, error) {
	return &abcitypes.PrepareProposalResponse{Txs: proposal.Txs}, nil
}

// ProcessProposal rejects blocks carrying transactions that do not even parse
// as operation envelopes.
func (app *Application) ProcessProposal(_ context.Context, proposal *abcitypes.ProcessProposalRequest) (*abcitypes.ProcessProposalResponse, error) {
	for i, txBytes := range proposal.Txs {
		if _, err := ledger.ParseOperation(txBytes); err != nil {
			app.logger.Error("Invalid operation in proposal", "index", i, "error", err)
			return &abcitypes.ProcessProposalResponse{
				Status: abcitypes.PROCESS_PROPOSAL_STATUS_REJECT,
			}, fmt.Errorf("invalid operation at index %d: %v", i, err)
		}
	}
	return &abcitypes.ProcessProposalResponse{
		Status: abcitypes.PROCESS_PROPOSAL_STATUS_ACCEPT,
	}, nil
}

// FinalizeBlock applies every transaction in the block to the ledger in
// order. Rejected operations produce coded results and touch no state;
// accepted ones are recorded in the block store together with their status.
func (app *Application) FinalizeBlock(_ context.Context, req *abcitypes.FinalizeBlockRequest) (*abcitypes.FinalizeBlockResponse, error) {
	txResults := make([]*abcitypes.ExecTxResult, len(req.Txs))

	app.mu.Lock()
	defer app.mu.Unlock()

	app.onGoingBlock = app.badgerDB.NewTransaction(true)
	blk := ledger.BlockContext{Height: req.Height, Time: req.Time}

	for i, txBytes := range req.Txs {
		op, parseErr := ledger.ParseOperation(txBytes)
		if parseErr != nil {
			txResults[i] = &abcitypes.ExecTxResult{Code: CodeMalformed, Log: parseErr.Error()}
			continue
		}

		result, events, applyErr := app.ledger.Apply(op, blk)
		if applyErr != nil {
			txResults[i] = &abcitypes.ExecTxResult{
				Code: codeForKind(applyErr.Kind),
				Log:  applyErr.Error(),
			}
			app.storeTx(txBytes, "rejected")
			continue
		}

		var data []byte
		if result != nil {
			var err error
			data, err = json.Marshal(result)
			if err != nil {
				log.Printf("Error encoding tx result: %v", err)
			}
		}
		app.storeTx(txBytes, "accepted")
		txResults[i] = &abcitypes.ExecTxResult{
			Code:   CodeOK,
			Data:   data,
			Log:    "accepted",
			Events: convertEvents(events),
		}
	}

	appHash := calculateAppHash(txResults)
	if err := app.onGoingBlock.Set([]byte(keyLastBlockHeight), int64ToBytes(req.Height)); err != nil {
		log.Printf("Error storing block height: %v", err)
	}
	if err := app.onGoingBlock.Set([]byte(keyLastBlockHash), appHash); err != nil {
		log.Printf("Error storing app hash: %v", err)
	}
	if snapshot, err := app.ledger.Snapshot(); err != nil {
		log.Printf("Error taking ledger snapshot: %v", err)
	} else if err := app.onGoingBlock.Set([]byte(keyLedgerState), snapshot); err != nil {
		log.Printf("Error storing ledger snapshot: %v", err)
	}

	return &abcitypes.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   appHash,
	}, nil
}

// storeTx records the raw transaction and its status under its hash.
func (app *Application) storeTx(rawTx []byte, status string) {
	txHash := txHashHex(rawTx)
	if err := app.onGoingBlock.Set(append([]byte("tx:"), txHash...), rawTx); err != nil {
		log.Printf("Error storing transaction: %v", err)
	}
	if err := app.onGoingBlock.Set(append([]byte("status:"), txHash...), []byte(status)); err != nil {
		log.Printf("Error storing transaction status: %v", err)
	}
}

// Commit implements the ABCI Commit method.
func (app *Application) Commit(_ context.Context, commit *abcitypes.CommitRequest) (*abcitypes.CommitResponse, error) {
	if err := app.onGoingBlock.Commit(); err != nil {
		log.Printf("Error committing block: %v", err)
	}
	return &abcitypes.CommitResponse{}, nil
}

// Placeholder implementations for other ABCI methods.
func (app *Application) ListSnapshots(_ context.Context, snapshots *abcitypes.ListSnapshotsRequest) (*abcitypes.ListSnapshotsResponse, error) {
	return &abcitypes.ListSnapshotsResponse{}, nil
}

func (app *Application) OfferSnapshot(_ context.Context, snapshot *abcitypes.OfferSnapshotRequest) (*abcitypes.OfferSnapshotResponse, error) {
	return &abcitypes.OfferSnapshotResponse{}, nil
}

func (app *Application) LoadSnapshotChunk(_ context.Context, chunk *abcitypes.LoadSnapshotChunkRequest) (*abcitypes.LoadSnapshotChunkResponse, error) {
	return &abcitypes.LoadSnapshotChunkResponse{}, nil
}

func (app *Application) ApplySnapshotChunk(_ context.Context, chunk *abcitypes.ApplySnapshotChunkRequest) (*abcitypes.ApplySnapshotChunkResponse, error) {
	return &abcitypes.ApplySnapshotChunkResponse{
		Result: abcitypes.APPLY_SNAPSHOT_CHUNK_RESULT_ACCEPT,
	}, nil
}

func (app *Application) ExtendVote(_ context.Context, extend *abcitypes.ExtendVoteRequest) (*abcitypes.ExtendVoteResponse, error) {
	return &abcitypes.ExtendVoteResponse{}, nil
}

func (app *Application) VerifyVoteExtension(_ context.Context, verify *abcitypes.VerifyVoteExtensionRequest) (*abcitypes.VerifyVoteExtensionResponse, error) {
	return &abcitypes.VerifyVoteExtensionResponse{}, nil
}

// Helper functions

func codeForKind(kind ledger.ErrorKind) uint32 {
	switch kind {
	case ledger.KindPrecondition:
		return CodePrecondition
	case ledger.KindAuthorization:
		return CodeAuthorization
	case ledger.KindNotFound:
		return CodeNotFound
	case ledger.KindStateConflict:
		return CodeStateConflict
	}
	return CodeMalformed
}

// convertEvents turns ledger notifications into indexed ABCI events.
func convertEvents(events []ledger.Event) []abcitypes.Event {
	out := make([]abcitypes.Event, len(events))
	for i, ev := range events {
		attrs := make([]abcitypes.EventAttribute, len(ev.Attributes))
		for j, a := range ev.Attributes {
			attrs[j] = abcitypes.EventAttribute{Key: a.Key, Value: a.Value, Index: true}
		}
		out[i] = abcitypes.Event{Type: ev.Type, Attributes: attrs}
	}
	return out
}

// txHashHex matches the hash CometBFT reports for a transaction.
func txHashHex(rawTx []byte) []byte {
	hash := sha256.Sum256(rawTx)
	return []byte(hex.EncodeToString(hash[:]))
}

// calculateAppHash calculates the application hash for the current block.
func calculateAppHash(txResults []*abcitypes.ExecTxResult) []byte {
	allData := make([]byte, 0)
	for _, result := range txResults {
		allData = append(allData, result.Data...)
	}
	hash := sha256.Sum256(allData)
	return hash[:]
}

// int64ToBytes converts an int64 to bytes.
func int64ToBytes(i int64) []byte {
	buf := make([]byte, 8)
	buf[0] = byte(i >> 56)
	buf[1] = byte(i >> 48)
	buf[2] = byte(i >> 40)
	buf[3] = byte(i >> 32)
	buf[4] = byte(i >> 24)
	buf[5] = byte(i >> 16)
	buf[6] = byte(i >> 8)
	buf[7] = byte(i)
	return buf
}

// bytesToInt64 converts bytes to an int64.
func bytesToInt64(buf []byte) int64 {
	if len(buf) < 8 {
		return 0
	}
	return int64(buf[0])<<56 |
		int64(buf[1])<<48 |
		int64(buf[2])<<40 |
		int64(buf[3])<<32 |
		int64(buf[4])<<24 |
		int64(buf[5])<<16 |
		int64(buf[6])<<8 |
		int64(buf[7])
}
