package srvreg

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/duelingprotocol/dueling-ledger/ledger"
	"github.com/duelingprotocol/dueling-ledger/repository"

	cmtlog "github.com/cometbft/cometbft/libs/log"
)

// Request represents the client's HTTP request
type Request struct {
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	RemoteAddr string            `json:"remote_addr"`
	RequestID  string            `json:"request_id"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Response represents the computed response from the ledger node
type Response struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	Error      string            `json:"error,omitempty"`
}

// ServiceHandler is a function type for service handlers
type ServiceHandler func(*Request) (*Response, error)

// RouteKey uniquely identifies a route
type RouteKey struct {
	Method string
	Path   string
}

// ServiceRegistry manages the ledger node's service handlers. Write handlers
// submit operations through the repository (and thus consensus); read
// handlers answer straight from the ledger core.
type ServiceRegistry struct {
	handlers    map[RouteKey]ServiceHandler
	exactRoutes map[RouteKey]bool
	mu          sync.RWMutex
	repository  *repository.Repository
	ledger      *ledger.State
	logger      cmtlog.Logger
}

var defaultHeaders = map[string]string{"Content-Type": "application/json"}

// NewServiceRegistry creates a new service registry
func NewServiceRegistry(repository *repository.Repository, state *ledger.State, logger cmtlog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		handlers:    make(map[RouteKey]ServiceHandler),
		exactRoutes: make(map[RouteKey]bool),
		repository:  repository,
		ledger:      state,
		logger:      logger,
	}
}

// GenerateRequestID generates a deterministic ID for the request
func (r *Request) GenerateRequestID() {
	hasher := sha256.New()
	hasher.Write([]byte(fmt.Sprintf("%s-%s-%s-%s", r.Path, r.Method, r.Body, r.Timestamp)))
	r.RequestID = hex.EncodeToString(hasher.Sum(nil)[:16])
}

// RegisterHandler registers a new service handler
func (sr *ServiceRegistry) RegisterHandler(method, path string, isExactPath bool, handler ServiceHandler) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	key := RouteKey{Method: strings.ToUpper(method), Path: path}
	sr.handlers[key] = handler
	sr.exactRoutes[key] = isExactPath
}

// GetHandlerForPath finds the appropriate handler for a given path
func (sr *ServiceRegistry) GetHandlerForPath(method, path string) (ServiceHandler, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	// Try exact match first
	key := RouteKey{Method: strings.ToUpper(method), Path: path}
	if handler, ok := sr.handlers[key]; ok {
		if sr.exactRoutes[key] {
			return handler, true
		}
	}

	// Try pattern matching
	for routeKey, handler := range sr.handlers {
		if routeKey.Method != strings.ToUpper(method) {
			continue
		}
		if sr.exactRoutes[routeKey] {
			continue
		}
		if matchPath(routeKey.Path, path) {
			return handler, true
		}
	}

	return nil, false
}

// matchPath does simple pattern matching for routes
func matchPath(pattern, path string) bool {
	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")

	if len(patternParts) != len(pathParts) {
		return false
	}

	for i := range len(patternParts) {
		if strings.HasPrefix(patternParts[i], ":") {
			continue
		}
		if patternParts[i] != pathParts[i] {
			return false
		}
	}

	return true
}

// RegisterDefaultServices sets up the ledger API routes.
func (sr *ServiceRegistry) RegisterDefaultServices() {
	// Asset registry
	sr.RegisterHandler("POST", "/ledger/cards/mint", true, sr.MintCardHandler)
	sr.RegisterHandler("POST", "/ledger/cards/transfer", true, sr.TransferCardHandler)
	sr.RegisterHandler("POST", "/ledger/operators/approve", true, sr.ApproveOperatorHandler)
	sr.RegisterHandler("POST", "/ledger/minters/authorize", true, sr.AuthorizeMinterHandler)
	sr.RegisterHandler("GET", "/ledger/cards/:id", false, sr.GetCardHandler)
	sr.RegisterHandler("GET", "/ledger/players/:address/cards", false, sr.GetPlayerCardsHandler)

	// Accounts
	sr.RegisterHandler("POST", "/ledger/accounts/deposit", true, sr.DepositHandler)
	sr.RegisterHandler("GET", "/ledger/players/:address/balance", false, sr.GetBalanceHandler)

	// Store
	sr.RegisterHandler("POST", "/ledger/packs/purchase", true, sr.PurchasePackHandler)
	sr.RegisterHandler("POST", "/ledger/packs/price", true, sr.SetPackPriceHandler)
	sr.RegisterHandler("POST", "/ledger/store/withdraw", true, sr.WithdrawHandler)
	sr.RegisterHandler("GET", "/ledger/purchases/:id", false, sr.GetPurchaseHandler)
	sr.RegisterHandler("GET", "/ledger/players/:address/purchases", false, sr.GetPurchaseHistoryHandler)

	// Trade engine
	sr.RegisterHandler("POST", "/ledger/trades", true, sr.ProposeTradeHandler)
	sr.RegisterHandler("POST", "/ledger/trades/:id/accept", false, sr.AcceptTradeHandler)
	sr.RegisterHandler("POST", "/ledger/trades/:id/cancel", false, sr.CancelTradeHandler)
	sr.RegisterHandler("GET", "/ledger/trades/:id", false, sr.GetTradeHandler)
	sr.RegisterHandler("GET", "/ledger/players/:address/trades", false, sr.GetPlayerTradesHandler)
	sr.RegisterHandler("GET", "/ledger/players/:address/trades/active", false, sr.GetActiveTradesHandler)

	// Match ledger
	sr.RegisterHandler("POST", "/ledger/matches", true, sr.RecordMatchHandler)
	sr.RegisterHandler("POST", "/ledger/matches/:id/verify", false, sr.VerifyGameStateHandler)
	sr.RegisterHandler("POST", "/ledger/authority", true, sr.UpdateGameServerHandler)
	sr.RegisterHandler("GET", "/ledger/matches/:id", false, sr.GetMatchHandler)
	sr.RegisterHandler("GET", "/ledger/players/:address/matches", false, sr.GetPlayerMatchesHandler)
	sr.RegisterHandler("GET", "/ledger/players/:address/stats", false, sr.GetPlayerStatsHandler)

	// Audit and system
	sr.RegisterHandler("GET", "/ledger/tx/:hash", false, sr.GetOperationHandler)
	sr.RegisterHandler("GET", "/ledger/players/:address/operations", false, sr.GetPlayerOperationsHandler)
	sr.RegisterHandler("GET", "/ledger/accounts/service", true, sr.GetServiceAccountsHandler)
	sr.RegisterHandler("GET", "/ledger/status", true, sr.StatusHandler)
}

// ConvertHttpRequestToConsensusRequest converts an http.Request to Request
func ConvertHttpRequestToConsensusRequest(r *http.Request, requestID string) (*Request, error) {
	headers := make(map[string]string)
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	body := ""
	if r.Body != nil {
		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		raw := strings.TrimSpace(string(bodyBytes))
		body = compactJSON(raw)
	}

	return &Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		Headers:    headers,
		Body:       body,
		RemoteAddr: r.RemoteAddr,
		RequestID:  requestID,
		Timestamp:  time.Now(),
	}, nil
}

// GenerateResponse executes the request and generates a response
func (req *Request) GenerateResponse(services *ServiceRegistry) (*Response, error) {
	handler, found := services.GetHandlerForPath(req.Method, req.Path)
	if !found {
		return &Response{
			StatusCode: http.StatusNotFound,
			Headers:    defaultHeaders,
			Body:       fmt.Sprintf(`{"error":"Service not found for %s %s"}`, req.Method, req.Path),
		}, nil
	}

	response, err := handler(req)
	return response, err
}

func compactJSON(body string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(body)); err != nil {
		return strings.TrimSpace(body)
	}
	return buf.String()
}
