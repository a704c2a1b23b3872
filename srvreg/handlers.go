package srvreg

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/duelingprotocol/dueling-ledger/ledger"
)

// consensusTimeout bounds how long a write handler waits for its operation
// to be committed in a block.
const consensusTimeout = 30 * time.Second

// ABCI result codes assigned by the application, one per error kind.
const (
	codeOK            = 0
	codePrecondition  = 1
	codeAuthorization = 2
	codeNotFound      = 3
	codeStateConflict = 4
	codeMalformed     = 5
)

// statusForCode maps a committed transaction's result code to an HTTP status.
func statusForCode(code uint32) int {
	switch code {
	case codeOK:
		return http.StatusOK
	case codePrecondition:
		return http.StatusBadRequest
	case codeAuthorization:
		return http.StatusForbidden
	case codeNotFound:
		return http.StatusNotFound
	case codeStateConflict:
		return http.StatusConflict
	case codeMalformed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// statusForKind maps a ledger read error to an HTTP status.
func statusForKind(kind ledger.ErrorKind) int {
	switch kind {
	case ledger.KindPrecondition:
		return http.StatusBadRequest
	case ledger.KindAuthorization:
		return http.StatusForbidden
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindStateConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(statusCode int, v interface{}) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return &Response{
			StatusCode: http.StatusInternalServerError,
			Headers:    defaultHeaders,
			Body:       `{"error":"Failed to encode response"}`,
			Error:      err.Error(),
		}, nil
	}
	return &Response{
		StatusCode: statusCode,
		Headers:    defaultHeaders,
		Body:       string(body),
	}, nil
}

func respondError(statusCode int, message string) (*Response, error) {
	return respondJSON(statusCode, map[string]string{"error": message})
}

// pathSegment returns the n-th slash-separated segment of the path, counting
// from zero after the leading slash.
func pathSegment(path string, n int) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if n < 0 || n >= len(parts) {
		return ""
	}
	return parts[n]
}

func pathID(path string, n int) (uint64, bool) {
	id, err := strconv.ParseUint(pathSegment(path, n), 10, 64)
	return id, err == nil
}

// submitOperation runs one operation through consensus and renders the
// outcome. A committed-but-rejected operation maps to a 4xx status carrying
// the ledger's error string; a committed-and-applied one returns the result
// payload alongside the transaction hash and block height.
func (sr *ServiceRegistry) submitOperation(req *Request, op *ledger.Operation) (*Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), consensusTimeout)
	defer cancel()

	record, result, repoErr := sr.repository.SubmitOperation(ctx, op)
	if repoErr != nil {
		sr.logger.Error("Operation submission failed",
			"op", op.Type, "caller", op.Caller, "requestID", req.RequestID, "err", repoErr.Error())
		switch repoErr.Code {
		case "MALFORMED_OPERATION":
			return respondError(http.StatusUnprocessableEntity, repoErr.Detail)
		case "CONSENSUS_TIMEOUT":
			return respondError(http.StatusGatewayTimeout, "Consensus timed out, operation outcome unknown")
		default:
			return respondError(http.StatusBadGateway, repoErr.Message)
		}
	}

	if result.Code != codeOK {
		sr.logger.Info("Operation rejected by ledger",
			"op", op.Type, "caller", op.Caller, "txHash", result.TxHash, "log", result.Log)
		return respondJSON(statusForCode(result.Code), map[string]interface{}{
			"error":        result.Log,
			"tx_hash":      result.TxHash,
			"block_height": result.BlockHeight,
			"status":       record.Status,
		})
	}

	sr.logger.Info("Operation committed",
		"op", op.Type, "caller", op.Caller, "txHash", result.TxHash, "height", result.BlockHeight)

	body := map[string]interface{}{
		"tx_hash":      result.TxHash,
		"block_height": result.BlockHeight,
		"status":       record.Status,
	}
	if len(result.Data) > 0 {
		body["result"] = json.RawMessage(result.Data)
	}
	return respondJSON(http.StatusOK, body)
}

// Asset registry handlers

// MintCardHandler creates a new card for a player. The caller must be the
// registry owner or an authorized minter.
func (sr *ServiceRegistry) MintCardHandler(req *Request) (*Response, error) {
	var body struct {
		Caller   string `json:"caller"`
		Owner    string `json:"owner"`
		CardType string `json:"card_type"`
		Rarity   uint8  `json:"rarity"`
		Attack   uint32 `json:"attack"`
		Defense  uint32 `json:"defense"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return respondError(http.StatusBadRequest, "Invalid request body")
	}

	return sr.submitOperation(req, &ledger.Operation{
		Type:   ledger.OpMintCard,
		Caller: body.Caller,
		MintCard: &ledger.MintCardOp{
			Owner:    body.Owner,
			CardType: body.CardType,
			Rarity:   body.Rarity,
			Attack:   body.Attack,
			Defense:  body.Defense,
		},
	})
}

// TransferCardHandler moves a card the caller owns to another player.
func (sr *ServiceRegistry) TransferCardHandler(req *Request) (*Response, error) {
	var body struct {
		Caller string `json:"caller"`
		To     string `json:"to"`
		CardID uint64 `json:"card_id"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return respondError(http.StatusBadRequest, "Invalid request body")
	}

	return sr.submitOperation(req, &ledger.Operation{
		Type:   ledger.OpTransferCard,
		Caller: body.Caller,
		TransferCard: &ledger.TransferCardOp{
			To:     body.To,
			CardID: body.CardID,
		},
	})
}

// ApproveOperatorHandler grants or revokes an operator's right to move all of
// the caller's cards.
func (sr *ServiceRegistry) ApproveOperatorHandler(req *Request) (*Response, error) {
	var body struct {
		Caller   string `json:"caller"`
		Operator string `json:"operator"`
		Approved bool   `json:"approved"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return respondError(http.StatusBadRequest, "Invalid request body")
	}

	return sr.submitOperation(req, &ledger.Operation{
		Type:   ledger.OpApproveOperator,
		Caller: body.Caller,
		ApproveOperator: &ledger.ApproveOperatorOp{
			Operator: body.Operator,
			Approved: body.Approved,
		},
	})
}

// AuthorizeMinterHandler lets the registry owner grant minting rights.
func (sr *ServiceRegistry) AuthorizeMinterHandler(req *Request) (*Response, error) {
	var body struct {
		Caller string `json:"caller"`
		Minter string `json:"minter"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return respondError(http.StatusBadRequest, "Invalid request body")
	}

	return sr.submitOperation(req, &ledger.Operation{
		Type:            ledger.OpAuthorizeMinter,
		Caller:          body.Caller,
		AuthorizeMinter: &ledger.AuthorizeMinterOp{Minter: body.Minter},
	})
}

func (sr *ServiceRegistry) GetCardHandler(req *Request) (*Response, error) {
	id, ok := pathID(req.Path, 2)
	if !ok {
		return respondError(http.StatusBadRequest, "Invalid card ID")
	}
	card, err := sr.ledger.GetCard(id)
	if err != nil {
		return respondError(statusForKind(err.Kind), err.Error())
	}
	owner, _ := sr.ledger.OwnerOf(id)
	return respondJSON(http.StatusOK, map[string]interface{}{
		"card":  card,
		"owner": owner,
	})
}

func (sr *ServiceRegistry) GetPlayerCardsHandler(req *Request) (*Response, error) {
	address := pathSegment(req.Path, 2)
	return respondJSON(http.StatusOK, map[string]interface{}{
		"address": address,
		"cards":   sr.ledger.GetPlayerCards(address),
	})
}

// Account handlers

// DepositHandler credits the caller's ledger balance.
func (sr *ServiceRegistry) DepositHandler(req *Request) (*Response, error) {
	var body struct {
		Caller string `json:"caller"`
		Amount uint64 `json:"amount"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return respondError(http.StatusBadRequest, "Invalid request body")
	}

	return sr.submitOperation(req, &ledger.Operation{
		Type:    ledger.OpDeposit,
		Caller:  body.Caller,
		Deposit: &ledger.DepositOp{Amount: body.Amount},
	})
}

func (sr *ServiceRegistry) GetBalanceHandler(req *Request) (*Response, error) {
	address := pathSegment(req.Path, 2)
	return respondJSON(http.StatusOK, map[string]interface{}{
		"address": address,
		"balance": sr.ledger.BalanceOf(address),
	})
}

// Store handlers

// PurchasePackHandler buys a card pack. Payment is committed up front; the
// ledger nets out exactly the pack price and rejects underpayment or an
// insufficient balance.
func (sr *ServiceRegistry) PurchasePackHandler(req *Request) (*Response, error) {
	var body struct {
		Caller  string          `json:"caller"`
		Tier    ledger.PackTier `json:"tier"`
		Payment uint64          `json:"payment"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return respondError(http.StatusBadRequest, "Invalid request body")
	}

	return sr.submitOperation(req, &ledger.Operation{
		Type:   ledger.OpPurchasePack,
		Caller: body.Caller,
		PurchasePack: &ledger.PurchasePackOp{
			Tier:    body.Tier,
			Payment: body.Payment,
		},
	})
}

// SetPackPriceHandler updates the pack price. Store authority only.
func (sr *ServiceRegistry) SetPackPriceHandler(req *Request) (*Response, error) {
	var body struct {
		Caller   string `json:"caller"`
		NewPrice uint64 `json:"new_price"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return respondError(http.StatusBadRequest, "Invalid request body")
	}

	return sr.submitOperation(req, &ledger.Operation{
		Type:         ledger.OpSetPackPrice,
		Caller:       body.Caller,
		SetPackPrice: &ledger.SetPackPriceOp{NewPrice: body.NewPrice},
	})
}

// WithdrawHandler moves accumulated store proceeds to the authority's balance.
func (sr *ServiceRegistry) WithdrawHandler(req *Request) (*Response, error) {
	var body struct {
		Caller string `json:"caller"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return respondError(http.StatusBadRequest, "Invalid request body")
	}

	return sr.submitOperation(req, &ledger.Operation{
		Type:   ledger.OpWithdraw,
		Caller: body.Caller,
	})
}

func (sr *ServiceRegistry) GetPurchaseHandler(req *Request) (*Response, error) {
	id, ok := pathID(req.Path, 2)
	if !ok {
		return respondError(http.StatusBadRequest, "Invalid purchase ID")
	}
	purchase, err := sr.ledger.GetPurchase(id)
	if err != nil {
		return respondError(statusForKind(err.Kind), err.Error())
	}
	return respondJSON(http.StatusOK, purchase)
}

func (sr *ServiceRegistry) GetPurchaseHistoryHandler(req *Request) (*Response, error) {
	address := pathSegment(req.Path, 2)
	return respondJSON(http.StatusOK, map[string]interface{}{
		"address":   address,
		"purchases": sr.ledger.GetPurchaseHistory(address),
	})
}

// Trade engine handlers

// ProposeTradeHandler opens a card-for-card swap offer to another player.
func (sr *ServiceRegistry) ProposeTradeHandler(req *Request) (*Response, error) {
	var body struct {
		Caller           string   `json:"caller"`
		Acceptor         string   `json:"acceptor"`
		OfferedCardIDs   []uint64 `json:"offered_card_ids"`
		RequestedCardIDs []uint64 `json:"requested_card_ids"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return respondError(http.StatusBadRequest, "Invalid request body")
	}

	return sr.submitOperation(req, &ledger.Operation{
		Type:   ledger.OpProposeTrade,
		Caller: body.Caller,
		ProposeTrade: &ledger.ProposeTradeOp{
			Acceptor:         body.Acceptor,
			OfferedCardIDs:   body.OfferedCardIDs,
			RequestedCardIDs: body.RequestedCardIDs,
		},
	})
}

// AcceptTradeHandler executes a pending trade as an atomic swap.
func (sr *ServiceRegistry) AcceptTradeHandler(req *Request) (*Response, error) {
	id, ok := pathID(req.Path, 2)
	if !ok {
		return respondError(http.StatusBadRequest, "Invalid trade ID")
	}
	var body struct {
		Caller string `json:"caller"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return respondError(http.StatusBadRequest, "Invalid request body")
	}

	return sr.submitOperation(req, &ledger.Operation{
		Type:        ledger.OpAcceptTrade,
		Caller:      body.Caller,
		AcceptTrade: &ledger.AcceptTradeOp{TradeID: id},
	})
}

// CancelTradeHandler withdraws a pending trade. Proposer only.
func (sr *ServiceRegistry) CancelTradeHandler(req *Request) (*Response, error) {
	id, ok := pathID(req.Path, 2)
	if !ok {
		return respondError(http.StatusBadRequest, "Invalid trade ID")
	}
	var body struct {
		Caller string `json:"caller"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return respondError(http.StatusBadRequest, "Invalid request body")
	}

	return sr.submitOperation(req, &ledger.Operation{
		Type:        ledger.OpCancelTrade,
		Caller:      body.Caller,
		CancelTrade: &ledger.CancelTradeOp{TradeID: id},
	})
}

func (sr *ServiceRegistry) GetTradeHandler(req *Request) (*Response, error) {
	id, ok := pathID(req.Path, 2)
	if !ok {
		return respondError(http.StatusBadRequest, "Invalid trade ID")
	}
	trade, err := sr.ledger.GetTrade(id)
	if err != nil {
		return respondError(statusForKind(err.Kind), err.Error())
	}
	return respondJSON(http.StatusOK, trade)
}

func (sr *ServiceRegistry) GetPlayerTradesHandler(req *Request) (*Response, error) {
	address := pathSegment(req.Path, 2)
	return respondJSON(http.StatusOK, map[string]interface{}{
		"address": address,
		"trades":  sr.ledger.GetPlayerTrades(address),
	})
}

func (sr *ServiceRegistry) GetActiveTradesHandler(req *Request) (*Response, error) {
	address := pathSegment(req.Path, 2)
	return respondJSON(http.StatusOK, map[string]interface{}{
		"address": address,
		"trades":  sr.ledger.GetActiveTrades(address),
	})
}

// Match ledger handlers

// RecordMatchHandler appends a match outcome. Game server authority only.
func (sr *ServiceRegistry) RecordMatchHandler(req *Request) (*Response, error) {
	var body struct {
		Caller       string `json:"caller"`
		Player1      string `json:"player1"`
		Player2      string `json:"player2"`
		Winner       string `json:"winner"`
		Fingerprint  string `json:"game_state_fingerprint"`
		Player1Score uint32 `json:"player1_score"`
		Player2Score uint32 `json:"player2_score"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return respondError(http.StatusBadRequest, "Invalid request body")
	}

	return sr.submitOperation(req, &ledger.Operation{
		Type:   ledger.OpRecordMatch,
		Caller: body.Caller,
		RecordMatch: &ledger.RecordMatchOp{
			Player1:      body.Player1,
			Player2:      body.Player2,
			Winner:       body.Winner,
			Fingerprint:  body.Fingerprint,
			Player1Score: body.Player1Score,
			Player2Score: body.Player2Score,
		},
	})
}

// VerifyGameStateHandler compares a candidate fingerprint against the one
// recorded for a match. Read-only; takes the candidate in the request body.
func (sr *ServiceRegistry) VerifyGameStateHandler(req *Request) (*Response, error) {
	id, ok := pathID(req.Path, 2)
	if !ok {
		return respondError(http.StatusBadRequest, "Invalid match ID")
	}
	var body struct {
		Fingerprint string `json:"game_state_fingerprint"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return respondError(http.StatusBadRequest, "Invalid request body")
	}

	valid, err := sr.ledger.VerifyGameState(id, body.Fingerprint)
	if err != nil {
		return respondError(statusForKind(err.Kind), err.Error())
	}
	return respondJSON(http.StatusOK, map[string]interface{}{
		"match_id": id,
		"valid":    valid,
	})
}

// UpdateGameServerHandler rotates the match-recording authority.
func (sr *ServiceRegistry) UpdateGameServerHandler(req *Request) (*Response, error) {
	var body struct {
		Caller       string `json:"caller"`
		NewAuthority string `json:"new_authority"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return respondError(http.StatusBadRequest, "Invalid request body")
	}

	return sr.submitOperation(req, &ledger.Operation{
		Type:             ledger.OpUpdateGameServer,
		Caller:           body.Caller,
		UpdateGameServer: &ledger.UpdateGameServerOp{NewAuthority: body.NewAuthority},
	})
}

func (sr *ServiceRegistry) GetMatchHandler(req *Request) (*Response, error) {
	id, ok := pathID(req.Path, 2)
	if !ok {
		return respondError(http.StatusBadRequest, "Invalid match ID")
	}
	match, err := sr.ledger.GetMatch(id)
	if err != nil {
		return respondError(statusForKind(err.Kind), err.Error())
	}
	return respondJSON(http.StatusOK, match)
}

func (sr *ServiceRegistry) GetPlayerMatchesHandler(req *Request) (*Response, error) {
	address := pathSegment(req.Path, 2)
	return respondJSON(http.StatusOK, map[string]interface{}{
		"address": address,
		"matches": sr.ledger.GetPlayerMatchHistory(address),
	})
}

func (sr *ServiceRegistry) GetPlayerStatsHandler(req *Request) (*Response, error) {
	address := pathSegment(req.Path, 2)
	return respondJSON(http.StatusOK, map[string]interface{}{
		"address": address,
		"stats":   sr.ledger.GetPlayerStats(address),
	})
}

// Audit and system handlers

// GetOperationHandler looks up one audited operation by consensus tx hash.
func (sr *ServiceRegistry) GetOperationHandler(req *Request) (*Response, error) {
	txHash := pathSegment(req.Path, 2)
	record, repoErr := sr.repository.GetOperationByHash(txHash)
	if repoErr != nil {
		if repoErr.Code == "OPERATION_NOT_FOUND" {
			return respondError(http.StatusNotFound, repoErr.Message)
		}
		return respondError(http.StatusBadGateway, repoErr.Message)
	}
	return respondJSON(http.StatusOK, record)
}

func (sr *ServiceRegistry) GetPlayerOperationsHandler(req *Request) (*Response, error) {
	address := pathSegment(req.Path, 2)
	records, repoErr := sr.repository.GetOperationsByCaller(address)
	if repoErr != nil {
		return respondError(http.StatusBadGateway, repoErr.Message)
	}
	return respondJSON(http.StatusOK, map[string]interface{}{
		"address":    address,
		"operations": records,
	})
}

func (sr *ServiceRegistry) GetServiceAccountsHandler(req *Request) (*Response, error) {
	accounts, repoErr := sr.repository.GetServiceAccounts()
	if repoErr != nil {
		return respondError(http.StatusBadGateway, repoErr.Message)
	}
	return respondJSON(http.StatusOK, map[string]interface{}{"accounts": accounts})
}

// StatusHandler summarizes the ledger's top-level counters.
func (sr *ServiceRegistry) StatusHandler(req *Request) (*Response, error) {
	return respondJSON(http.StatusOK, map[string]interface{}{
		"total_cards":   sr.ledger.GetTotalCards(),
		"total_matches": sr.ledger.GetTotalMatches(),
		"pack_price":    sr.ledger.PackPrice(),
		"treasury":      sr.ledger.TreasuryBalance(),
		"game_server":   sr.ledger.GameServer(),
	})
}
