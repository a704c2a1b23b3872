package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/duelingprotocol/dueling-ledger/app"
	"github.com/duelingprotocol/dueling-ledger/repository"
	"github.com/duelingprotocol/dueling-ledger/srvreg"

	"github.com/google/uuid"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	nm "github.com/cometbft/cometbft/node"
	cmtrpc "github.com/cometbft/cometbft/rpc/client/local"
)

// WebServer exposes the ledger node's HTTP API
type WebServer struct {
	app             *app.Application
	httpAddr        string
	server          *http.Server
	logger          cmtlog.Logger
	node            *nm.Node
	startTime       time.Time
	serviceRegistry *srvreg.ServiceRegistry
	rpcClient       *cmtrpc.Local
	repository      *repository.Repository
}

// APIResponse is the envelope for ledger API responses
type APIResponse struct {
	StatusCode int               `json:"-"`
	Headers    map[string]string `json:"-"`
	Data       interface{}       `json:"data"`
	Meta       ResponseMeta      `json:"meta"`
	NodeID     string            `json:"node_id"`
}

// ResponseMeta carries request bookkeeping alongside the payload
type ResponseMeta struct {
	RequestID   string    `json:"request_id"`
	ProcessedAt time.Time `json:"processed_at"`
}

// NewWebServer creates a new ledger web server
func NewWebServer(app *app.Application, httpPort string, logger cmtlog.Logger, node *nm.Node, serviceRegistry *srvreg.ServiceRegistry, repository *repository.Repository) (*WebServer, error) {
	mux := http.NewServeMux()

	server := &WebServer{
		app:      app,
		httpAddr: ":" + httpPort,
		server: &http.Server{
			Addr:    ":" + httpPort,
			Handler: mux,
		},
		logger:          logger,
		node:            node,
		startTime:       time.Now(),
		serviceRegistry: serviceRegistry,
		rpcClient:       cmtrpc.New(node),
		repository:      repository,
	}

	// Register routes
	mux.HandleFunc("/", server.handleRoot)
	mux.HandleFunc("/debug", server.handleDebug)
	mux.HandleFunc("/ledger/", server.handleLedgerAPI)

	return server, nil
}

// Start starts the web server
func (ws *WebServer) Start() error {
	ws.logger.Info("Starting ledger web server", "addr", ws.httpAddr)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error("Ledger web server error: ", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the web server
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.logger.Info("Shutting down ledger web server")
	return ws.server.Shutdown(ctx)
}

// handleRoot shows node information
func (ws *WebServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte("<h1>Dueling Protocol - Card Game Ledger Node</h1>"))
	w.Write([]byte("<p>Node ID: " + string(ws.node.NodeInfo().ID()) + "</p>"))
	w.Write([]byte("<p>Type: BFT Consensus Ledger</p>"))

	rpcPort := extractPortFromAddress(ws.node.Config().RPC.ListenAddress)
	rpcAddrHtml := fmt.Sprintf("<p>RPC Address: <a href=\"http://localhost:%s\">http://localhost:%s</a></p>", rpcPort, rpcPort)
	w.Write([]byte(rpcAddrHtml))

	// Add API documentation
	apiDocs := `
	<h2>Ledger API Endpoints</h2>
	<ul>
		<li><strong>POST /ledger/cards/mint</strong> - Mint a card (owner or authorized minter)</li>
		<li><strong>POST /ledger/cards/transfer</strong> - Transfer an owned card</li>
		<li><strong>POST /ledger/operators/approve</strong> - Approve or revoke an operator</li>
		<li><strong>POST /ledger/minters/authorize</strong> - Authorize a minter</li>
		<li><strong>POST /ledger/accounts/deposit</strong> - Credit a player balance</li>
		<li><strong>POST /ledger/packs/purchase</strong> - Buy a card pack</li>
		<li><strong>POST /ledger/packs/price</strong> - Update the pack price</li>
		<li><strong>POST /ledger/store/withdraw</strong> - Withdraw store proceeds</li>
		<li><strong>POST /ledger/trades</strong> - Propose a trade</li>
		<li><strong>POST /ledger/trades/{id}/accept</strong> - Accept a trade</li>
		<li><strong>POST /ledger/trades/{id}/cancel</strong> - Cancel a trade</li>
		<li><strong>POST /ledger/matches</strong> - Record a match result</li>
		<li><strong>POST /ledger/matches/{id}/verify</strong> - Verify a game state fingerprint</li>
		<li><strong>POST /ledger/authority</strong> - Rotate the game server authority</li>
		<li><strong>GET /ledger/cards/{id}</strong> - Get a card</li>
		<li><strong>GET /ledger/players/{address}/cards</strong> - Get a player's cards</li>
		<li><strong>GET /ledger/players/{address}/balance</strong> - Get a player's balance</li>
		<li><strong>GET /ledger/players/{address}/trades</strong> - Get a player's trades</li>
		<li><strong>GET /ledger/players/{address}/stats</strong> - Get a player's match stats</li>
		<li><strong>GET /ledger/trades/{id}</strong> - Get a trade</li>
		<li><strong>GET /ledger/matches/{id}</strong> - Get a match record</li>
		<li><strong>GET /ledger/purchases/{id}</strong> - Get a pack purchase</li>
		<li><strong>GET /ledger/tx/{hash}</strong> - Get an audited operation</li>
		<li><strong>GET /ledger/status</strong> - Get ledger counters</li>
	</ul>
	`
	w.Write([]byte(apiDocs))
}

// handleDebug provides node debugging information
func (ws *WebServer) handleDebug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	nodeStatus := "online"
	if ws.node.ConsensusReactor().WaitSync() {
		nodeStatus = "syncing"
	}
	if !ws.node.IsListening() {
		nodeStatus = "offline"
	}

	debugInfo := map[string]interface{}{
		"type":        "Card Game Ledger",
		"node_id":     string(ws.node.NodeInfo().ID()),
		"node_status": nodeStatus,
		"p2p_address": ws.node.Config().P2P.ListenAddress,
		"rpc_address": ws.node.Config().RPC.ListenAddress,
		"uptime":      time.Since(ws.startTime).String(),
	}

	// Get consensus info
	status, err := ws.rpcClient.Status(context.Background())
	outboundPeers, inboundPeers, dialingPeers := ws.node.Switch().NumPeers()
	debugInfo["num_peers_out"] = outboundPeers
	debugInfo["num_peers_in"] = inboundPeers
	debugInfo["num_peers_dialing"] = dialingPeers

	if err != nil {
		debugInfo["consensus_error"] = err.Error()
	} else {
		debugInfo["latest_block_height"] = status.SyncInfo.LatestBlockHeight
		debugInfo["latest_block_time"] = status.SyncInfo.LatestBlockTime
		debugInfo["catching_up"] = status.SyncInfo.CatchingUp
	}

	// Add ABCI info
	abciInfo, err := ws.rpcClient.ABCIInfo(context.Background())
	if err != nil {
		debugInfo["abci_error"] = err.Error()
	} else {
		debugInfo["abci_version"] = abciInfo.Response.Version
		debugInfo["app_version"] = abciInfo.Response.AppVersion
		debugInfo["last_block_height"] = abciInfo.Response.LastBlockHeight
		debugInfo["last_block_app_hash"] = fmt.Sprintf("%X", abciInfo.Response.LastBlockAppHash)
	}

	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(debugInfo); err != nil {
		JSONError(w, "Error encoding response: "+err.Error(), http.StatusInternalServerError)
		return
	}
}

// handleLedgerAPI dispatches all /ledger/ requests to the service registry
func (ws *WebServer) handleLedgerAPI(w http.ResponseWriter, r *http.Request) {
	requestID, err := generateRequestID()
	if err != nil {
		JSONError(w, "Internal Server Error", http.StatusInternalServerError)
		ws.logger.Error("Failed to generate request ID", "err", err)
		return
	}

	request, err := srvreg.ConvertHttpRequestToConsensusRequest(r, requestID)
	if err != nil {
		JSONError(w, "Failed to convert request: "+err.Error(), http.StatusUnprocessableEntity)
		ws.logger.Error("Failed to convert HTTP request", "err", err)
		return
	}

	response, err := request.GenerateResponse(ws.serviceRegistry)
	if err != nil {
		JSONError(w, "Failed to generate response: "+err.Error(), http.StatusUnprocessableEntity)
		ws.logger.Error("Failed to generate response", "err", err)
		return
	}

	var responseData interface{}
	json.Unmarshal([]byte(response.Body), &responseData)

	apiResponse := APIResponse{
		StatusCode: response.StatusCode,
		Headers:    response.Headers,
		Data:       responseData,
		Meta: ResponseMeta{
			RequestID:   requestID,
			ProcessedAt: time.Now(),
		},
		NodeID: string(ws.node.NodeInfo().ID()),
	}

	// Set headers
	for key, value := range response.Headers {
		w.Header().Set(key, value)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(response.StatusCode)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(apiResponse); err != nil {
		ws.logger.Error("Failed to encode API response", "err", err)
	}

	ws.logger.Info("Ledger API Request Processed",
		"path", request.Path,
		"method", request.Method,
		"status", response.StatusCode,
	)
}

// Helper functions

func generateRequestID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func extractPortFromAddress(address string) string {
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == ':' {
			return address[i+1:]
		}
	}
	return ""
}

func JSONError(w http.ResponseWriter, message string, statusCode int) {
	errorResponse := struct {
		Error string `json:"error"`
	}{
		Error: message,
	}
	jsonBytes, err := json.Marshal(errorResponse)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(jsonBytes)
}
