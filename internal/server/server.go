// Package server wires the raffle stack behind an HTTP API.
//
// On development networks the whole system runs in-process: a mock VRF
// coordinator, the raffle engine, a fulfiller standing in for the oracle
// node and a keeper standing in for Chainlink Automation. On public networks
// the server fronts the deployed contract over RPC, watches its events and
// optionally keeps it when a PRIVATE_KEY is configured.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/raffle/internal/auth"
	"github.com/mbd888/raffle/internal/chain"
	"github.com/mbd888/raffle/internal/config"
	"github.com/mbd888/raffle/internal/deploy"
	"github.com/mbd888/raffle/internal/ethunit"
	"github.com/mbd888/raffle/internal/health"
	"github.com/mbd888/raffle/internal/idgen"
	"github.com/mbd888/raffle/internal/keeper"
	"github.com/mbd888/raffle/internal/ledger"
	"github.com/mbd888/raffle/internal/logging"
	"github.com/mbd888/raffle/internal/metrics"
	"github.com/mbd888/raffle/internal/raffle"
	"github.com/mbd888/raffle/internal/ratelimit"
	"github.com/mbd888/raffle/internal/realtime"
	"github.com/mbd888/raffle/internal/reconciliation"
	"github.com/mbd888/raffle/internal/security"
	"github.com/mbd888/raffle/internal/traces"
	"github.com/mbd888/raffle/internal/validation"
	"github.com/mbd888/raffle/internal/vrf"
	"github.com/mbd888/raffle/internal/wallet"
	"github.com/mbd888/raffle/internal/webhooks"
)

// Run modes reported by /v1/info and the build-info metric.
const (
	ModeDev   = "dev"
	ModeChain = "chain"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg     *config.Config
	mode    string
	version string
	logger  *slog.Logger

	// Storage
	db        *sql.DB           // nil unless DATABASE_URL is set
	boltStore *raffle.BoltStore // nil unless BOLT_PATH is set
	raffleDB  raffle.Store
	ledgerDB  ledger.Store
	hookStore webhooks.Store
	engineOpt []raffle.Option

	// Development stack
	deployment *deploy.Deployment
	fulfiller  *vrf.Fulfiller
	ledger     *ledger.Ledger
	reconciler *reconciliation.Timer

	// Chain stack
	client  *ethclient.Client
	binding *chain.Raffle
	upkeep  *chain.UpkeepTarget
	watcher *chain.EventWatcher

	// Shared
	wallet      *wallet.Wallet // nil without PRIVATE_KEY
	keeper      *keeper.Keeper // nil in read-only chain mode
	hub         *realtime.Hub
	webhooks    *webhooks.Dispatcher
	health      *health.Registry
	rateLimiter *ratelimit.Limiter

	router          *gin.Engine
	httpSrv         *http.Server
	drainDelay      time.Duration
	cancelRunCtx    context.CancelFunc // cancels background goroutines started in Run
	shutdownTracing func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the version reported by /v1/info and metrics.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithEngineOptions appends options to the in-process raffle engine.
func WithEngineOptions(opts ...raffle.Option) Option {
	return func(s *Server) {
		s.engineOpt = append(s.engineOpt, opts...)
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers to notice
// the server is no longer ready.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		mode:       ModeChain,
		version:    "dev",
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: 5 * time.Second,
		health:     health.NewRegistry(),
	}
	if cfg.Network.IsDevelopment() {
		s.mode = ModeDev
	}

	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("network", cfg.Network.Name, "mode", s.mode)

	// Context for initialization
	ctx := context.Background()

	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.shutdownTracing = shutdownTracing

	if err := s.initStorage(); err != nil {
		s.closeResources()
		return nil, err
	}

	s.hub = realtime.NewHub(s.logger, realtime.WithGreeting(s.greeting))
	if err := s.initWebhooks(ctx); err != nil {
		s.closeResources()
		return nil, err
	}
	sink := raffle.MultiSink{s.hub, s.webhooks}

	if s.mode == ModeDev {
		err = s.initDev(ctx, sink)
	} else {
		err = s.initChain(ctx, sink)
	}
	if err != nil {
		s.closeResources()
		return nil, err
	}

	s.registerHealthChecks()
	metrics.SetBuildInfo(s.version, s.mode)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// initStorage picks Postgres, then bbolt, then memory.
func (s *Server) initStorage() error {
	switch {
	case s.cfg.DatabaseURL != "":
		db, err := sql.Open("postgres", s.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.raffleDB = raffle.NewPostgresStore(db)
		s.ledgerDB = ledger.NewPostgresStore(db)
		s.hookStore = webhooks.NewPostgresStore(db)
		s.logger.Info("using postgres storage", "dsn", maskDSN(s.cfg.DatabaseURL))

	case s.cfg.BoltPath != "":
		bs, err := raffle.OpenBoltStore(s.cfg.BoltPath)
		if err != nil {
			return fmt.Errorf("failed to open bolt store: %w", err)
		}
		s.boltStore = bs
		s.raffleDB = bs
		s.ledgerDB = ledger.NewMemoryStore()
		s.hookStore = webhooks.NewMemoryStore()
		s.logger.Info("using bolt storage for raffle state", "path", s.cfg.BoltPath)

	default:
		s.raffleDB = raffle.NewMemoryStore()
		s.ledgerDB = ledger.NewMemoryStore()
		s.hookStore = webhooks.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}
	return nil
}

func (s *Server) initWebhooks(ctx context.Context) error {
	var opts []webhooks.Option
	if s.cfg.IsDevelopment() {
		// Local receivers listen on loopback.
		opts = append(opts, webhooks.WithURLValidator(schemeOnly))
	}
	s.webhooks = webhooks.NewDispatcher(s.hookStore, s.logger, opts...)
	if len(s.cfg.WebhookURLs) > 0 {
		if err := s.webhooks.Seed(ctx, s.cfg.WebhookURLs, s.cfg.WebhookSecret); err != nil {
			return fmt.Errorf("failed to seed webhooks: %w", err)
		}
		s.logger.Info("webhooks configured", "count", len(s.cfg.WebhookURLs))
	}
	return nil
}

func schemeOnly(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return webhooks.ErrInvalidURL
	}
	return nil
}

// openWallet connects the signing wallet when a key is configured.
func (s *Server) openWallet(client wallet.EthClient) error {
	if s.cfg.PrivateKey == "" || s.cfg.RPCURL == "" {
		return nil
	}
	var opts []wallet.Option
	opts = append(opts, wallet.WithLogger(s.logger))
	if client != nil {
		opts = append(opts, wallet.WithClient(client))
	}
	w, err := wallet.New(wallet.Config{
		RPCURL:     s.cfg.RPCURL,
		PrivateKey: s.cfg.PrivateKey,
		ChainID:    s.cfg.Network.ChainID,
	}, opts...)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	s.wallet = w
	s.logger.Info("wallet configured", "address", w.Address().Hex())
	return nil
}

func (s *Server) initDev(ctx context.Context, sink raffle.EventSink) error {
	if err := s.openWallet(nil); err != nil {
		return err
	}

	var executor ledger.WithdrawalExecutor
	if s.wallet != nil {
		executor = s.wallet
	}
	s.ledger = ledger.New(s.ledgerDB, executor, s.logger)

	var payer raffle.Payer = s.ledger
	if s.cfg.Payout == config.PayoutWallet {
		payer = s.wallet
	}

	fund, err := ethunit.ParseEther(s.cfg.VRFFundAmount)
	if err != nil {
		return fmt.Errorf("invalid VRF_FUND_AMOUNT: %w", err)
	}

	engineOpts := append([]raffle.Option{raffle.WithEventSink(sink)}, s.engineOpt...)
	d, err := deploy.Local(ctx, s.cfg.Network, deploy.LocalOptions{
		Payer:         payer,
		Store:         s.raffleDB,
		FundAmount:    fund,
		Logger:        s.logger,
		EngineOptions: engineOpts,
	})
	if err != nil {
		return fmt.Errorf("failed to deploy local raffle: %w", err)
	}
	s.deployment = d

	s.fulfiller = vrf.NewFulfiller(d.Coordinator, s.cfg.FulfillDelay, s.cfg.FulfillPoll, s.logger)
	s.keeper = keeper.New("raffle", keeper.Engine(d.Engine), s.cfg.KeeperInterval, s.logger)
	if s.cfg.Payout == config.PayoutLedger {
		s.reconciler = reconciliation.NewTimer(
			reconciliation.NewService(d.Engine, s.ledger, reconciliation.DefaultWindow),
			s.cfg.ReconcileInterval, s.logger)
	}

	s.logger.Info("development raffle ready",
		"raffle", d.Engine.Address().Hex(),
		"coordinator", d.Coordinator.Address().Hex(),
		"subscription", d.SubscriptionID,
		"payout", s.cfg.Payout,
	)
	return nil
}

func (s *Server) initChain(ctx context.Context, sink raffle.EventSink) error {
	client, err := ethclient.DialContext(ctx, s.cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("failed to dial RPC: %w", err)
	}
	s.client = client

	if err := s.openWallet(client); err != nil {
		return err
	}

	addr := common.HexToAddress(s.cfg.RaffleAddress)
	var transactor chain.Transactor
	if s.wallet != nil {
		transactor = s.wallet
	}
	s.binding = chain.NewRaffle(addr, client, transactor)

	if transactor != nil {
		s.upkeep = chain.NewUpkeepTarget(s.binding, s.cfg.UpkeepGasLimit, 0)
		s.keeper = keeper.New("raffle-chain", s.upkeep, s.cfg.KeeperInterval, s.logger)
	} else {
		s.logger.Warn("no PRIVATE_KEY configured, serving read-only")
	}

	s.watcher = chain.NewEventWatcher(client, chain.DefaultWatcherConfig(addr), sink, s.logger)

	s.logger.Info("fronting deployed raffle", "raffle", addr.Hex(), "rpc", maskDSN(s.cfg.RPCURL))
	return nil
}

func (s *Server) registerHealthChecks() {
	if s.db != nil {
		s.health.RegisterFunc("database", s.db.PingContext)
	}
	if s.client != nil {
		s.health.RegisterFunc("rpc", func(ctx context.Context) error {
			_, err := s.client.BlockNumber(ctx)
			return err
		})
	}
	if s.keeper != nil {
		s.health.RegisterFunc("keeper", running("keeper", s.keeper.Running))
	}
	if s.fulfiller != nil {
		s.health.RegisterFunc("fulfiller", running("fulfiller", s.fulfiller.Running))
	}
	if s.watcher != nil {
		s.health.RegisterFunc("watcher", running("watcher", s.watcher.Running))
	}
	if s.reconciler != nil {
		s.health.RegisterFunc("reconciliation", running("reconciliation", s.reconciler.Running))
	}
}

func running(name string, fn func() bool) func(context.Context) error {
	return func(context.Context) error {
		if !fn() {
			return fmt.Errorf("%s not running", name)
		}
		return nil
	}
}

// greeting is the snapshot sent to websocket clients on connect.
func (s *Server) greeting() any {
	if s.deployment != nil {
		return raffle.Status(s.deployment.Engine)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := s.binding.Status(ctx)
	if err != nil {
		return gin.H{"error": err.Error()}
	}
	return status
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Keep an upstream ID (load balancer, client) when present.
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = idgen.Hex(16)
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Debug("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.health.Handler())
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	rpm := s.cfg.RateLimitRPM
	if rpm <= 0 {
		rpm = config.DefaultRateLimitRPM
	}
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: rpm,
		BurstSize:         max(10, rpm/6),
		CleanupInterval:   time.Minute,
	})

	v1 := s.router.Group("/v1")
	v1.Use(s.rateLimiter.Middleware())
	v1.GET("/info", s.infoHandler)
	v1.GET("/stream/stats", s.streamStatsHandler)

	admin := v1.Group("", auth.RequireAdmin(s.cfg.AdminSecret))
	if s.cfg.AdminSecret == "" {
		s.logger.Warn("ADMIN_SECRET not set, operator routes are open")
	}

	if s.deployment != nil {
		raffleHandler := raffle.NewHandler(s.deployment.Engine)
		raffleHandler.RegisterRoutes(v1)
		raffleHandler.RegisterProtectedRoutes(admin)

		vrfHandler := vrf.NewHandler(s.deployment.Coordinator)
		vrfHandler.RegisterRoutes(v1)
		vrfHandler.RegisterProtectedRoutes(admin)

		ledgerHandler := ledger.NewHandler(s.ledger)
		ledgerHandler.RegisterRoutes(v1)
		ledgerHandler.RegisterProtectedRoutes(admin)

		if s.reconciler != nil {
			reconciliation.NewHandler(s.reconciler).RegisterProtectedRoutes(admin)
		}
	} else {
		chainHandler := chain.NewHandler(s.binding, s.upkeep)
		chainHandler.RegisterRoutes(v1)
		chainHandler.RegisterProtectedRoutes(admin)
	}

	webhooks.NewHandler(s.hookStore, s.webhooks).RegisterProtectedRoutes(admin)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// InfoResponse describes what the server is fronting.
type InfoResponse struct {
	Version        string `json:"version"`
	Mode           string `json:"mode"`
	Network        string `json:"network"`
	ChainID        int64  `json:"chainId"`
	Raffle         string `json:"raffle"`
	Coordinator    string `json:"coordinator,omitempty"`
	SubscriptionID uint64 `json:"subscriptionId,omitempty"`
	Keeper         bool   `json:"keeper"`
	Wallet         string `json:"wallet,omitempty"`
	Payout         string `json:"payout,omitempty"`
}

func (s *Server) info() InfoResponse {
	resp := InfoResponse{
		Version: s.version,
		Mode:    s.mode,
		Network: s.cfg.Network.Name,
		ChainID: s.cfg.Network.ChainID,
		Keeper:  s.keeper != nil,
	}
	if s.wallet != nil {
		resp.Wallet = s.wallet.Address().Hex()
	}
	if s.deployment != nil {
		resp.Raffle = s.deployment.Engine.Address().Hex()
		resp.Coordinator = s.deployment.Coordinator.Address().Hex()
		resp.SubscriptionID = s.deployment.SubscriptionID
		resp.Payout = s.cfg.Payout
		if resp.Payout == "" {
			resp.Payout = config.PayoutLedger
		}
	} else {
		resp.Raffle = s.binding.Address().Hex()
	}
	return resp
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.info())
}

func (s *Server) streamStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Stats())
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and background loops, and blocks until ctx is
// cancelled, a signal arrives or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	// Cancelled by Shutdown to stop every background goroutine.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "version", s.version)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)
	go s.webhooks.Run(runCtx)
	go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)

	if s.fulfiller != nil {
		go s.fulfiller.Start(runCtx)
	}
	if s.keeper != nil {
		go s.keeper.Start(runCtx)
	}
	if s.reconciler != nil {
		go s.reconciler.Start(runCtx)
	}
	if s.watcher != nil {
		if err := s.watcher.Start(runCtx); err != nil {
			s.logger.Error("failed to start event watcher", "error", err)
		}
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Let load balancers see the failing readiness probe.
	if s.drainDelay > 0 {
		time.Sleep(s.drainDelay)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	// Stop producers before the hub and webhook queue they feed.
	if s.keeper != nil {
		s.keeper.Stop()
		s.logger.Info("keeper stopped")
	}
	if s.fulfiller != nil {
		s.fulfiller.Stop()
		s.logger.Info("fulfiller stopped")
	}
	if s.watcher != nil {
		s.watcher.Stop()
		s.logger.Info("event watcher stopped")
	}
	if s.reconciler != nil {
		s.reconciler.Stop()
	}

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
		select {
		case <-s.webhooks.Done():
		case <-ctx.Done():
			s.logger.Warn("webhook queue did not drain before timeout")
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	s.closeResources()
	if s.shutdownTracing != nil {
		if err := s.shutdownTracing(ctx); err != nil {
			s.logger.Error("tracing shutdown error", "error", err)
		}
	}

	s.healthy.Store(false)
	s.logger.Info("server stopped")
	return shutdownErr
}

// closeResources releases connections and files. Safe on a partially
// constructed server.
func (s *Server) closeResources() {
	if s.wallet != nil {
		if err := s.wallet.Close(); err != nil {
			s.logger.Error("wallet close error", "error", err)
		}
		s.wallet = nil
	}
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	if s.boltStore != nil {
		if err := s.boltStore.Close(); err != nil {
			s.logger.Error("bolt close error", "error", err)
		}
		s.boltStore = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
		s.db = nil
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Ready reports whether the server is accepting traffic.
func (s *Server) Ready() bool {
	return s.ready.Load()
}

// Engine returns the in-process raffle engine, or nil in chain mode.
func (s *Server) Engine() *raffle.Engine {
	if s.deployment == nil {
		return nil
	}
	return s.deployment.Engine
}

// Coordinator returns the mock VRF coordinator, or nil in chain mode.
func (s *Server) Coordinator() *vrf.MockCoordinator {
	if s.deployment == nil {
		return nil
	}
	return s.deployment.Coordinator
}
