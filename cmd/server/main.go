package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"

	"stake-raffle/internal/auth"
	"stake-raffle/internal/cache"
	"stake-raffle/internal/config"
	"stake-raffle/internal/database"
	"stake-raffle/internal/handlers"
	"stake-raffle/internal/metrics"
	"stake-raffle/internal/scheduler"
	"stake-raffle/internal/services/oracle"
	"stake-raffle/internal/services/raffle"
	"stake-raffle/internal/services/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	snap, err := store.LoadSnapshot(ctx)
	if err != nil {
		logger.Error("ledger snapshot load failed", "error", err)
		os.Exit(1)
	}

	resolutions, err := cache.NewResolutions(cfg.WinnerCacheSize)
	if err != nil {
		logger.Error("winner cache init failed", "error", err)
		os.Exit(1)
	}

	opts := raffle.Options{
		Owner:       cfg.Owner,
		Custody:     cfg.Custody,
		Gateway:     cfg.Gateway,
		Fee:         cfg.Oracle.Fee,
		MinDuration: cfg.MinRaffleDuration,
		Journal:     store,
		Cache:       resolutions,
		Logger:      logger.With("component", "ledger"),
	}

	var vault *token.Vault
	if cfg.TokenEndpoint != "" {
		opts.Token = token.NewClient(cfg.TokenEndpoint)
	} else {
		vault = token.NewVault(cfg.Custody, logger.With("component", "vault"))
		opts.Token = vault
	}

	var coordinator *oracle.Coordinator
	var verifier *oracle.Verifier
	switch cfg.Oracle.Mode {
	case config.OracleModeLocal:
		key, err := crypto.HexToECDSA(cfg.Oracle.PrivateKey)
		if err != nil {
			logger.Error("invalid oracle private key", "error", err)
			os.Exit(1)
		}
		coordinator, err = oracle.NewCoordinator(key, cfg.Oracle.QueueSize, logger.With("component", "oracle"))
		if err != nil {
			logger.Error("oracle coordinator init failed", "error", err)
			os.Exit(1)
		}
		opts.Oracle = coordinator
		opts.OracleAddress = coordinator.Address()
		opts.KeyHash = coordinator.KeyHash()
	case config.OracleModeRemote:
		opts.Oracle = oracle.NewHTTPClient(cfg.Oracle.Endpoint)
		opts.OracleAddress = cfg.Oracle.Address
		opts.KeyHash = cfg.Oracle.KeyHash
	}
	if cfg.Oracle.PublicKey != "" {
		pub, err := hexutil.Decode(cfg.Oracle.PublicKey)
		if err == nil {
			verifier, err = oracle.NewVerifier(pub)
		}
		if err != nil {
			logger.Error("invalid oracle public key", "error", err)
			os.Exit(1)
		}
		if opts.KeyHash != (common.Hash{}) && verifier.KeyHash() != opts.KeyHash {
			logger.Error("oracle public key does not match key hash", "key_hash", opts.KeyHash.Hex())
			os.Exit(1)
		}
	}

	ledger, err := raffle.Restore(snap, opts)
	if err != nil {
		logger.Error("ledger restore failed", "error", err)
		os.Exit(1)
	}
	if vault != nil {
		vault.SetAcceptor(ledger.AcceptDeposit)
	}
	logger.Info("ledger restored", "raffles", len(snap.Raffles), "height", ledger.Height(), "owner", ledger.Owner().Hex())

	if coordinator != nil {
		coordinator.Start(ctx, ledger)
		defer coordinator.Stop()
		// Requests queued before a restart were lost with the process.
		if _, err := coordinator.ResubmitOutstanding(ctx, ledger.OutstandingRequests()); err != nil {
			logger.Error("resubmitting outstanding requests failed", "error", err)
		}
	}

	m := metrics.New(ledger)
	events, unsubscribe := ledger.Subscribe(256)
	defer unsubscribe()
	go m.Run(ctx, events)

	resolveRunner := scheduler.NewResolveRunner(ledger, cfg.ResolvePolicy, ledger.Owner(), cfg.ResolveTick, logger.With("component", "scheduler"))
	resolveRunner.Start(ctx)
	defer resolveRunner.Stop()

	jwtMgr := auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	handler, err := handlers.NewHandler(cfg, ledger, jwtMgr, handlers.Options{
		Vault:    vault,
		Verifier: verifier,
		Metrics:  m,
	}, logger)
	if err != nil {
		logger.Error("handler init failed", "error", err)
		os.Exit(1)
	}
	handlers.RegisterRoutes(r, handler, jwtMgr, cfg.AdminAllowedIPs)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: r,
	}

	go func() {
		logger.Info("server starting", "port", cfg.HTTPPort, "oracle_mode", cfg.Oracle.Mode, "resolve_policy", cfg.ResolvePolicy)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
}
