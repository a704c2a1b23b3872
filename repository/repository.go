package repository

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/duelingprotocol/dueling-ledger/ledger"
	"github.com/duelingprotocol/dueling-ledger/repository/models"

	cmtrpc "github.com/cometbft/cometbft/rpc/client/local"
	cmtrpctypes "github.com/cometbft/cometbft/rpc/core/types"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// PostgreSQL error codes
const (
	PgErrForeignKeyViolation = "23503"
	PgErrUniqueViolation     = "23505"
)

// RepositoryError represents repository layer errors
type RepositoryError struct {
	Code    string
	Message string
	Detail  string
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Detail)
}

// ConsensusResult contains the outcome of one committed ledger transaction.
type ConsensusResult struct {
	TxHash      string
	BlockHeight int64
	Code        uint32
	Log         string
	Data        []byte
}

// Repository submits ledger operations to consensus and keeps an off-chain
// audit mirror of confirmed operations in PostgreSQL.
type Repository struct {
	db        *gorm.DB
	rpcClient *cmtrpc.Local
}

func NewRepository() *Repository {
	return &Repository{}
}

// ConnectDB establishes database connection and performs migrations
func (r *Repository) ConnectDB(dsn string) {
	for i := range 10 {
		log.Printf("Connection attempt %d...\n", i+1)
		DB, err := gorm.Open(postgres.Open(dsn))
		if err != nil {
			log.Printf("Connection attempt %d, failed: %v\n", i+1, err)
			time.Sleep(2 * time.Second)
			continue
		}
		r.db = DB
		break
	}

	if r.db != nil {
		r.Migrate()
		log.Println("Connected to DB and completed setup")
	} else {
		log.Println("Failed to connect to DB")
	}
}

// Migrate performs database schema migrations
func (r *Repository) Migrate() {
	migrator := r.db.Migrator()

	if !migrator.HasTable(&models.ServiceAccount{}) {
		if err := migrator.CreateTable(&models.ServiceAccount{}); err != nil {
			log.Printf("Error creating ServiceAccount table: %v", err)
			return
		}
		log.Println("✓ ServiceAccount table created")
	} else {
		log.Println("✓ ServiceAccount table already exists")
	}

	if !migrator.HasTable(&models.Operation{}) {
		if err := migrator.CreateTable(&models.Operation{}); err != nil {
			log.Printf("Error creating Operation table: %v", err)
			return
		}
		log.Println("✓ Operation table created")
	} else {
		log.Println("✓ Operation table already exists")
	}

	log.Println("Database migration completed successfully")
}

// SeedServiceAccounts registers the genesis authorities for role lookups.
func (r *Repository) SeedServiceAccounts(genesis ledger.Genesis) {
	var count int64
	r.db.Model(&models.ServiceAccount{}).Count(&count)
	if count > 0 {
		log.Println("Service accounts already seeded, skipping...")
		return
	}

	accounts := []models.ServiceAccount{
		{Address: genesis.RegistryOwner, Role: "registry_owner", Label: "Asset Registry Owner"},
		{Address: genesis.StoreAuthority, Role: "store_authority", Label: "Card Store Authority"},
		{Address: genesis.GameServer, Role: "game_server", Label: "Match Recording Authority"},
		{Address: genesis.TradeOperator, Role: "trade_operator", Label: "Trade Engine Operator"},
	}
	for _, account := range accounts {
		if err := r.db.Create(&account).Error; err != nil {
			log.Printf("Error creating service account %s: %v", account.Address, err)
		}
	}
	log.Println("Service account seeding completed")
}

// SetupRpcClient configures the RPC client for consensus submission.
func (r *Repository) SetupRpcClient(rpcClient *cmtrpc.Local) {
	r.rpcClient = rpcClient
}

// SubmitOperation runs one ledger operation through consensus and, once
// confirmed, records the audit row. The ledger's own rejection comes back
// as the tx result code and log; rejections are recorded too, so auditors
// see every attempt that reached a block.
func (r *Repository) SubmitOperation(ctx context.Context, op *ledger.Operation) (*models.Operation, *ConsensusResult, *RepositoryError) {
	if err := op.ValidateEnvelope(); err != nil {
		return nil, nil, &RepositoryError{
			Code:    "MALFORMED_OPERATION",
			Message: "Invalid operation envelope",
			Detail:  err.Error(),
		}
	}

	consensusResult, repoErr := r.runConsensus(ctx, op)
	if repoErr != nil {
		return nil, nil, repoErr
	}

	status := "confirmed"
	if consensusResult.Code != 0 {
		status = "rejected"
	}

	payloadBytes, err := json.Marshal(op)
	if err != nil {
		return nil, nil, &RepositoryError{
			Code:    "SERIALIZATION_ERROR",
			Message: "Failed to serialize operation",
			Detail:  err.Error(),
		}
	}

	record := models.Operation{
		TxHash:      consensusResult.TxHash,
		OpType:      string(op.Type),
		Caller:      op.Caller,
		BlockHeight: consensusResult.BlockHeight,
		Status:      status,
		Payload:     string(payloadBytes),
		Result:      string(consensusResult.Data),
		Timestamp:   time.Now(),
	}

	if err := r.db.Create(&record).Error; err != nil {
		pgErr, isPgError := err.(*pgconn.PgError)
		if isPgError && pgErr.Code == PgErrUniqueViolation {
			// Same envelope resubmitted; the first audit row stands.
			return &record, consensusResult, nil
		}
		return nil, nil, &RepositoryError{
			Code:    "DATABASE_ERROR",
			Message: "Failed to record operation",
			Detail:  err.Error(),
		}
	}

	return &record, consensusResult, nil
}

// runConsensus submits the operation to the consensus engine and waits for
// it to be committed in a block.
func (r *Repository) runConsensus(ctx context.Context, op *ledger.Operation) (*ConsensusResult, *RepositoryError) {
	payloadBytes, err := json.Marshal(op)
	if err != nil {
		return nil, &RepositoryError{
			Code:    "SERIALIZATION_ERROR",
			Message: "Failed to serialize consensus payload",
			Detail:  err.Error(),
		}
	}

	consensusTx := cmttypes.Tx(payloadBytes)

	done := make(chan struct {
		result *cmtrpctypes.ResultBroadcastTxCommit
		err    error
	}, 1)

	go func() {
		result, err := r.rpcClient.BroadcastTxCommit(ctx, consensusTx)
		done <- struct {
			result *cmtrpctypes.ResultBroadcastTxCommit
			err    error
		}{result, err}
	}()

	select {
	case <-ctx.Done():
		return nil, &RepositoryError{
			Code:    "CONSENSUS_TIMEOUT",
			Message: "Consensus operation timed out",
			Detail:  ctx.Err().Error(),
		}
	case result := <-done:
		if result.err != nil {
			return nil, &RepositoryError{
				Code:    "CONSENSUS_ERROR",
				Message: "Failed to commit to ledger",
				Detail:  result.err.Error(),
			}
		}
		if result.result.CheckTx.Code != 0 {
			return nil, &RepositoryError{
				Code:    "CONSENSUS_ERROR",
				Message: "Ledger rejected transaction at mempool",
				Detail:  fmt.Sprintf("CheckTx code: %d, log: %s", result.result.CheckTx.Code, result.result.CheckTx.Log),
			}
		}

		return &ConsensusResult{
			TxHash:      hex.EncodeToString(result.result.Hash),
			BlockHeight: result.result.Height,
			Code:        result.result.TxResult.Code,
			Log:         result.result.TxResult.Log,
			Data:        result.result.TxResult.Data,
		}, nil
	}
}

// Audit query methods

// GetOperationByHash retrieves one audited operation by consensus tx hash.
func (r *Repository) GetOperationByHash(txHash string) (*models.Operation, *RepositoryError) {
	var record models.Operation
	err := r.db.Where("tx_hash = ?", txHash).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &RepositoryError{
				Code:    "OPERATION_NOT_FOUND",
				Message: "Operation not found",
				Detail:  fmt.Sprintf("Operation with hash %s not found", txHash),
			}
		}
		return nil, &RepositoryError{
			Code:    "DATABASE_ERROR",
			Message: "Failed to query operation",
			Detail:  err.Error(),
		}
	}
	return &record, nil
}

// GetOperationsByCaller retrieves the audit trail for one address, in block
// order.
func (r *Repository) GetOperationsByCaller(caller string) ([]models.Operation, *RepositoryError) {
	var records []models.Operation
	err := r.db.Where("caller = ?", caller).
		Order("block_height asc").Find(&records).Error
	if err != nil {
		return nil, &RepositoryError{
			Code:    "DATABASE_ERROR",
			Message: "Failed to query operations",
			Detail:  err.Error(),
		}
	}
	return records, nil
}

// GetServiceAccounts lists the registered ledger authorities.
func (r *Repository) GetServiceAccounts() ([]models.ServiceAccount, *RepositoryError) {
	var accounts []models.ServiceAccount
	err := r.db.Find(&accounts).Error
	if err != nil {
		return nil, &RepositoryError{
			Code:    "DATABASE_ERROR",
			Message: "Failed to query service accounts",
			Detail:  err.Error(),
		}
	}
	return accounts, nil
}
