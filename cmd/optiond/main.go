package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"optionchain/cmd/internal/passphrase"
	"optionchain/config"
	"optionchain/core/events"
	"optionchain/crypto"
	"optionchain/native/fees"
	"optionchain/native/options"
	"optionchain/native/oracle"
	"optionchain/native/registry"
	"optionchain/observability"
	"optionchain/observability/logging"
	"optionchain/rpc"
	"optionchain/storage"
)

const (
	routerPassEnv = "OPTIOND_ROUTER_PASS"
	envNameEnv    = "OPTIOND_ENV"
)

var genesisMarkerKey = []byte("optionchain/genesis-applied")

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envNameEnv))
	logger := logging.Setup("optiond", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if err := config.Validate(cfg); err != nil {
		logger.Error("Invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if file := strings.TrimSpace(cfg.Logging.File); file != "" {
		logger = logging.SetupWithFile("optiond", env, logging.FileConfig{
			Path:       file,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		})
	}

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	state, err := registry.NewState(db)
	if err != nil {
		panic(fmt.Sprintf("Failed to build state: %v", err))
	}

	if err := applyGenesis(db, state, cfg, logger); err != nil {
		logger.Error("Failed to apply genesis", slog.Any("error", err))
		os.Exit(1)
	}

	plan, err := cfg.ParsedFees()
	if err != nil {
		logger.Error("Failed to parse fee schedule", slog.Any("error", err))
		os.Exit(1)
	}
	schedule := fees.NewSchedule()
	if err := schedule.SetMatchFeeRate(plan.MatchRate); err != nil {
		logger.Error("Rejected match fee rate", slog.Any("error", err))
		os.Exit(1)
	}
	if err := schedule.SetExerciseFeeRate(plan.ExerciseRate); err != nil {
		logger.Error("Rejected exercise fee rate", slog.Any("error", err))
		os.Exit(1)
	}
	for partner, share := range plan.Partners {
		if err := schedule.SetPartnerShare(partner, share); err != nil {
			logger.Error("Rejected partner share",
				slog.String("addr", partner.Hex()), slog.Any("error", err))
			os.Exit(1)
		}
	}

	manual := oracle.NewManualSource(cfg.Oracle.MaxQuoteAgeSeconds)
	prices, err := cfg.ParsedPrices()
	if err != nil {
		logger.Error("Failed to parse genesis prices", slog.Any("error", err))
		os.Exit(1)
	}
	for _, price := range prices {
		if err := manual.SetPrice(price.Base, price.Quote, price.Value); err != nil {
			logger.Error("Failed to seed price", slog.Any("error", err))
			os.Exit(1)
		}
	}
	var priceSource oracle.Source = manual
	if attester, enabled, err := cfg.AttesterAddress(); err != nil {
		logger.Error("Failed to parse oracle attester", slog.Any("error", err))
		os.Exit(1)
	} else if enabled {
		priceSource = oracle.NewAttestedSource(attester, cfg.Oracle.MaxQuoteAgeSeconds, cfg.Oracle.MaxDeviationBps, manual)
		logger.Info("Oracle attestations required", slog.String("addr", attester.Hex()))
	}

	feed := events.NewBuffer(cfg.EventBufferSize)

	routerKey, err := loadRouterKey(cfg)
	if err != nil {
		panic(fmt.Sprintf("Failed to load router key: %v", err))
	}
	routerAddr := routerKey.Address()

	engine := options.NewEngine()
	engine.SetState(state)
	engine.SetOracle(priceSource)
	engine.SetFeeProvider(schedule)
	engine.SetFeeTreasury(plan.Treasury)
	engine.SetChainID(cfg.ChainID)
	engine.SetEmitter(feed)

	delegates, err := registry.NewDelegateLedger(db, routerAddr)
	if err != nil {
		panic(fmt.Sprintf("Failed to open delegate ledger: %v", err))
	}
	engine.SetDelegateRegistry(delegates)

	reg, err := registry.New(engine, state, routerAddr)
	if err != nil {
		panic(fmt.Sprintf("Failed to create registry: %v", err))
	}

	if token := strings.TrimSpace(os.Getenv("OPTIOND_RPC_TOKEN")); token == "" {
		logger.Warn("OPTIOND_RPC_TOKEN not set; state-changing RPC methods will be rejected")
	} else {
		logger.Info("State-changing RPC methods enabled",
			logging.MaskField("token", token))
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go recordFeedMetrics(stopCtx, feed)

	if addr := strings.TrimSpace(cfg.MetricsAddress); addr != "" {
		go serveMetrics(addr, logger)
	}

	if cfg.SweepIntervalSeconds > 0 {
		interval := time.Duration(cfg.SweepIntervalSeconds) * time.Second
		go runSweeper(stopCtx, logger, reg, routerAddr, interval)
	}

	rpcServer := rpc.NewServer(reg, manual, feed)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      rpcServer.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	rpcErrCh := make(chan error, 1)
	go func() {
		rpcErrCh <- httpServer.ListenAndServe()
	}()
	if err := waitForRPCStartup(cfg.ListenAddress, rpcErrCh, 5*time.Second); err != nil {
		logger.Error("RPC server failed to start", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("Options node initialised and running",
		slog.String("addr", cfg.ListenAddress),
		slog.String("component", "optiond"))

	select {
	case <-stopCtx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
		}
	case err := <-rpcErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("RPC server terminated", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

func openDatabase(dataDir string) (storage.Database, error) {
	if strings.TrimSpace(dataDir) == "" {
		return storage.NewMemDB(), nil
	}
	return storage.NewLevelDB(dataDir)
}

// applyGenesis registers the configured tokens on every start and mints the
// genesis balances exactly once, guarded by a marker key so restarts over a
// persistent database never double-mint.
func applyGenesis(db storage.Database, state *registry.State, cfg *config.Config, logger *slog.Logger) error {
	tokens, err := cfg.ParsedTokens()
	if err != nil {
		return err
	}
	for _, token := range tokens {
		if err := state.Bank.RegisterToken(token.Address, token.Symbol, token.Decimals); err != nil {
			return fmt.Errorf("register token %s: %w", token.Symbol, err)
		}
	}

	if _, err := db.Get(genesisMarkerKey); err == nil {
		return nil
	} else if !storage.IsNotFound(err) {
		return err
	}

	balances, err := cfg.ParsedBalances()
	if err != nil {
		return err
	}
	for _, balance := range balances {
		if err := state.Bank.Mint(balance.Token, balance.Address, balance.Amount); err != nil {
			return fmt.Errorf("mint genesis balance: %w", err)
		}
	}
	if len(balances) > 0 {
		logger.Info("Applied genesis balances", slog.Int("count", len(balances)))
	}
	return db.Put(genesisMarkerKey, []byte{1})
}

func loadRouterKey(cfg *config.Config) (*crypto.PrivateKey, error) {
	if cfg.RouterKeystorePath == "" {
		return nil, fmt.Errorf("router keystore path not configured")
	}
	if value, ok := os.LookupEnv(routerPassEnv); ok {
		return crypto.LoadFromKeystore(cfg.RouterKeystorePath, value)
	}
	// Keystores generated by config.Load carry an empty passphrase; try that
	// before prompting.
	key, err := crypto.LoadFromKeystore(cfg.RouterKeystorePath, "")
	if err == nil {
		return key, nil
	}
	source := passphrase.NewSource(routerPassEnv)
	pass, passErr := source.Get()
	if passErr != nil {
		return nil, fmt.Errorf("unable to decrypt keystore %s: %w", cfg.RouterKeystorePath, err)
	}
	return crypto.LoadFromKeystore(cfg.RouterKeystorePath, pass)
}

// recordFeedMetrics taps the event buffer so emission counts reach the
// metrics registry without coupling the buffer to it.
func recordFeedMetrics(ctx context.Context, feed *events.Buffer) {
	updates, cancel, backlog := feed.Subscribe(0, 256)
	defer cancel()
	for _, entry := range backlog {
		observability.Events().RecordEvent(entry.Event.EventType(), entry.Seq)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-updates:
			if !ok {
				return
			}
			observability.Events().RecordEvent(entry.Event.EventType(), entry.Seq)
		}
	}
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("Metrics listening", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Metrics server terminated", slog.Any("error", err))
	}
}

// runSweeper periodically returns residual vault balances to owners once
// escrows can no longer match or exercise.
func runSweeper(ctx context.Context, logger *slog.Logger, reg *registry.Registry, router common.Address, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepOnce(logger, reg, router)
		}
	}
}

func sweepOnce(logger *slog.Logger, reg *registry.Registry, router common.Address) {
	escrows, err := reg.List()
	if err != nil {
		logger.Warn("Sweep listing failed", slog.Any("error", err))
		return
	}
	now := time.Now().Unix()
	for _, esc := range escrows {
		if !sweepable(esc, now) {
			continue
		}
		id := fmt.Sprintf("0x%x", esc.ID)
		if err := reg.SweepExpired(esc.ID, router, common.Address{}); err != nil {
			logger.Warn("Sweep failed", slog.String("escrow", id), slog.Any("error", err))
			continue
		}
		logger.Info("Escrow swept", slog.String("escrow", id))
	}
}

// sweepable reports whether an escrow is safe to sweep: a matched option past
// expiry, or an auction whose decay finished without a bid. Live auctions and
// active options are left alone.
func sweepable(esc *options.Escrow, now int64) bool {
	if esc == nil || esc.State == options.EscrowClosed {
		return false
	}
	switch esc.State {
	case options.EscrowMatched:
		return now > esc.Terms.Expiry
	case options.EscrowUnmatched:
		if esc.Schedule == nil {
			return false
		}
		return now > esc.Schedule.DecayStartTime+esc.Schedule.DecayDuration
	default:
		return false
	}
}

func waitForRPCStartup(addr string, errCh <-chan error, timeout time.Duration) error {
	dialAddr := dialAddressFor(addr)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err, ok := <-errCh:
			if !ok {
				return fmt.Errorf("RPC server terminated before startup confirmation")
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("RPC server exited before startup confirmation")
		default:
		}

		conn, err := net.DialTimeout("tcp", dialAddr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case err, ok := <-errCh:
			if !ok {
				return fmt.Errorf("RPC server terminated before startup confirmation")
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("RPC server exited before startup confirmation")
		case <-ticker.C:
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for RPC server to start on %s", addr)
		}
	}
}

func dialAddressFor(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
