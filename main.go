package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/duelingprotocol/dueling-ledger/app"
	appconfig "github.com/duelingprotocol/dueling-ledger/config"
	"github.com/duelingprotocol/dueling-ledger/ledger"
	"github.com/duelingprotocol/dueling-ledger/repository"
	"github.com/duelingprotocol/dueling-ledger/server"
	"github.com/duelingprotocol/dueling-ledger/srvreg"

	cfg "github.com/cometbft/cometbft/config"
	cmtflags "github.com/cometbft/cometbft/libs/cli/flags"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	nm "github.com/cometbft/cometbft/node"
	"github.com/cometbft/cometbft/p2p"
	"github.com/cometbft/cometbft/privval"
	"github.com/cometbft/cometbft/proxy"
	cmtrpc "github.com/cometbft/cometbft/rpc/client/local"
	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/viper"
)

var (
	homeDir   string
	ledgerDir string
	httpPort  string
)

func init() {
	flag.StringVar(&homeDir, "cmt-home", "./node-config/ledger-node", "Path to the CometBFT config directory")
	flag.StringVar(&ledgerDir, "ledger-config", "", "Path to the ledger config directory (optional config.toml)")
	flag.StringVar(&httpPort, "http-port", "", "HTTP web server port (overrides configured value)")
}

func main() {
	// Parse command line flags
	flag.Parse()

	log.Println("=== Starting Card Game Ledger Node ===")
	log.Printf("Home Directory: %s", homeDir)

	// Load ledger configuration
	ledgerCfg, err := appconfig.LoadConfig(ledgerDir)
	if err != nil {
		log.Fatalf("Loading ledger config: %v", err)
	}
	if httpPort != "" {
		ledgerCfg.HTTPPort = httpPort
	}
	if err := ledgerCfg.Validate(); err != nil {
		log.Fatalf("Invalid ledger configuration: %v", err)
	}
	log.Printf("HTTP Port: %s", ledgerCfg.HTTPPort)

	// Load CometBFT configuration
	if homeDir == "" {
		homeDir = os.ExpandEnv("$HOME/.cometbft")
	}
	config := cfg.DefaultConfig()
	config.SetRoot(homeDir)
	viper.SetConfigFile(fmt.Sprintf("%s/%s", homeDir, "config/config.toml"))
	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("Reading config: %v", err)
	}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("Decoding config: %v", err)
	}
	if err := config.ValidateBasic(); err != nil {
		log.Fatalf("Invalid configuration data: %v", err)
	}

	// Connect to PostgreSQL Database
	dsn := ledgerCfg.GetDSN()
	repository := repository.NewRepository()
	log.Printf("Connecting to PostgreSQL: host=%s dbname=%s", ledgerCfg.DatabaseHost, ledgerCfg.DatabaseName)
	repository.ConnectDB(dsn)

	// Initialize Badger DB for block storage
	badgerPath := filepath.Join(homeDir, "badger")
	db, err := badger.Open(badger.DefaultOptions(badgerPath))
	if err != nil {
		log.Fatalf("Opening badger database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Fatalf("Closing badger database: %v", err)
		}
	}()

	// Create logger
	logger := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout))
	logger, err = cmtflags.ParseLogLevel(config.LogLevel, logger, cfg.DefaultLogLevel)
	if err != nil {
		log.Fatalf("Failed to parse log level: %v", err)
	}

	// Initialize ledger state from genesis identities
	genesis := ledger.Genesis{
		RegistryOwner:  ledgerCfg.RegistryOwner,
		StoreAuthority: ledgerCfg.StoreAuthority,
		GameServer:     ledgerCfg.GameServer,
		TradeOperator:  ledgerCfg.TradeOperator,
		PackPrice:      ledgerCfg.PackPrice,
	}
	state := ledger.NewState(genesis)
	repository.SeedServiceAccounts(genesis)

	// Create ABCI Application
	abciApp, err := app.NewApplication(db, state, logger)
	if err != nil {
		log.Fatalf("Creating ABCI application: %v", err)
	}

	// Initialize Service Registry with ledger endpoints
	serviceRegistry := srvreg.NewServiceRegistry(repository, state, logger)
	serviceRegistry.RegisterDefaultServices()

	// Load private validator
	pv := privval.LoadFilePV(
		config.PrivValidatorKeyFile(),
		config.PrivValidatorStateFile(),
	)

	// Load node key for P2P networking
	nodeKey, err := p2p.LoadNodeKey(config.NodeKeyFile())
	if err != nil {
		log.Fatalf("Failed to load node's key: %v", err)
	}

	// Initialize CometBFT node
	node, err := nm.NewNode(
		context.Background(),
		config,
		pv,
		nodeKey,
		proxy.NewLocalClientCreator(abciApp),
		nm.DefaultGenesisDocProviderFunc(config),
		cfg.DefaultDBProvider,
		nm.DefaultMetricsProvider(config.Instrumentation),
		logger,
	)
	if err != nil {
		log.Fatalf("Creating CometBFT node: %v", err)
	}

	// Set node ID in the application
	abciApp.SetNodeID(string(node.NodeInfo().ID()))
	logger.Info("Ledger node initialized", "node_id", string(node.NodeInfo().ID()))

	// Create RPC client and set up repository
	rpcClient := cmtrpc.New(node)
	repository.SetupRpcClient(rpcClient)

	// Start CometBFT node
	logger.Info("Starting CometBFT node...")
	err = node.Start()
	if err != nil {
		log.Fatalf("Starting CometBFT node: %v", err)
	}
	defer func() {
		logger.Info("Stopping CometBFT node...")
		node.Stop()
		node.Wait()
	}()

	// Start Web Server
	logger.Info("Starting ledger web server...")
	webserver, err := server.NewWebServer(abciApp, ledgerCfg.HTTPPort, logger, node, serviceRegistry, repository)
	if err != nil {
		log.Fatalf("Creating web server: %v", err)
	}

	err = webserver.Start()
	if err != nil {
		log.Fatalf("Starting HTTP server: %v", err)
	}

	// Display startup information
	logger.Info("=== Ledger Node Successfully Started ===")
	logger.Info("Ledger HTTP API", "url", fmt.Sprintf("http://localhost:%s", ledgerCfg.HTTPPort))
	logger.Info("CometBFT RPC", "url", fmt.Sprintf("http://localhost:%s", extractPortFromAddress(config.RPC.ListenAddress)))
	logger.Info("Node ID", "id", string(node.NodeInfo().ID()))
	logger.Info("Registry Owner", "address", ledgerCfg.RegistryOwner)
	logger.Info("Store Authority", "address", ledgerCfg.StoreAuthority)
	logger.Info("Game Server", "address", ledgerCfg.GameServer)
	logger.Info("Trade Operator", "address", ledgerCfg.TradeOperator)

	// Wait for interrupt signal to gracefully shut down
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	logger.Info("Received shutdown signal, shutting down gracefully...")

	// Create deadline for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Shutdown the web server
	err = webserver.Shutdown(ctx)
	if err != nil {
		logger.Error("Error shutting down HTTP web server", "err", err)
	}
	logger.Info("Ledger node gracefully stopped")
}

// extractPortFromAddress extracts the port from an address string
func extractPortFromAddress(address string) string {
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == ':' {
			return address[i+1:]
		}
	}
	return ""
}
