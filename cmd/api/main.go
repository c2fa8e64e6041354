package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kongswap/kong-backend/internal/api"
	"github.com/kongswap/kong-backend/internal/archive"
	"github.com/kongswap/kong-backend/internal/claims"
	"github.com/kongswap/kong-backend/internal/config"
	"github.com/kongswap/kong-backend/internal/ledger"
	"github.com/kongswap/kong-backend/internal/log"
	"github.com/kongswap/kong-backend/internal/metrics"
	"github.com/kongswap/kong-backend/internal/registry"
	"github.com/kongswap/kong-backend/internal/settlement"
	"github.com/kongswap/kong-backend/internal/swapcalc"
	"github.com/kongswap/kong-backend/internal/tokenledger"
	"github.com/kongswap/kong-backend/internal/ws"
	"github.com/kongswap/kong-backend/pkg/kv"
	_ "github.com/kongswap/kong-backend/pkg/kv/memory"
	_ "github.com/kongswap/kong-backend/pkg/kv/redis"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ledgerAdapter is what both settlement and the claims processor need from a
// token ledger.
type ledgerAdapter interface {
	settlement.Adapter
	claims.Sender
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	zl, err := log.NewLoggerWithFile(cfg.Env, log.FileConfig{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger := zl.Sugar()
	defer logger.Sync()

	logger.Infow("Starting Kong swap API server",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"kvBackend", cfg.Store.KVBackend,
		"ledgerBackend", cfg.Ledger.Backend,
	)

	if err := run(cfg, logger); err != nil {
		logger.Fatalw("Server stopped with error", "error", err)
	}
	logger.Infow("Server stopped")
}

func run(cfg *config.Config, logger *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Setup metrics
	metricsObj, metricsHandler, err := metrics.Setup("kong-api")
	if err != nil {
		return fmt.Errorf("setup metrics: %w", err)
	}

	store, err := kv.NewStoreFromConfig(kv.Config{
		Backend:  kv.Backend(cfg.Store.KVBackend),
		RedisURL: cfg.Store.RedisURL,
		Logger:   logger.Infow,
	})
	if err != nil {
		return fmt.Errorf("open kv store: %w", err)
	}
	defer store.Close()

	reg, err := registry.New(ctx, store, logger)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	if cfg.Store.SeedFile != "" {
		seed, err := registry.LoadSeed(cfg.Store.SeedFile)
		if err != nil {
			return err
		}
		if err := reg.ApplySeed(ctx, seed); err != nil {
			return err
		}
		logger.Infow("Seed applied", "file", cfg.Store.SeedFile, "tokens", len(reg.Tokens()), "pools", len(reg.Pools()))
	}
	led := ledger.New(store, logger)

	adapter, err := newLedgerAdapter(cfg, reg, logger)
	if err != nil {
		return err
	}

	// Setup WebSocket hub; it is fed by the archive dispatcher
	wsHub := ws.NewHub(cfg.Security.CORSAllowedOrigins, logger, metricsObj)

	sinks := []archive.Sink{wsHub}
	var readyChecks []api.ReadyCheck
	readyChecks = append(readyChecks, api.ReadyCheck{Name: "kv", Check: store.Ping})
	if cfg.Archive.Enabled {
		if cfg.Archive.KVMirror {
			sinks = append(sinks, archive.NewKVSink(store))
		}
		if cfg.Archive.NATSURL != "" {
			natsSink, err := archive.NewNATSSink(archive.NATSConfig{
				URL:     cfg.Archive.NATSURL,
				Subject: cfg.Archive.NATSSubject,
				Stream:  cfg.Archive.NATSStream,
			}, logger)
			if err != nil {
				return fmt.Errorf("connect nats: %w", err)
			}
			defer natsSink.Close()
			sinks = append(sinks, natsSink)
		}
		if cfg.Archive.PostgresDSN != "" {
			pgSink, err := archive.NewPostgresSink(ctx, cfg.Archive.PostgresDSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pgSink.Close()
			sinks = append(sinks, pgSink)
			readyChecks = append(readyChecks, api.ReadyCheck{Name: "postgres", Check: pgSink.Ping})
		}
	}
	dispatcher := archive.NewDispatcher(led, logger, archive.DefaultConfig(), metricsObj, sinks...)

	svc := settlement.NewService(settlement.Config{
		Bridges:               resolveBridges(reg, cfg.Settlement.BridgeTokens, logger),
		DefaultMaxSlippageBps: cfg.Settlement.DefaultMaxSlippageBps,
		Workers:               cfg.Settlement.AsyncWorkers,
	}, reg, led, adapter, logger,
		settlement.WithArchiver(dispatcher),
		settlement.WithMetrics(metricsObj),
		settlement.WithMaintenance(cfg.Settlement.MaintenanceMode),
	)

	processor := claims.NewProcessor(reg, led, adapter, logger,
		claims.WithArchiver(dispatcher),
		claims.WithMetrics(metricsObj),
	)
	sweeper := claims.NewSweeper(processor, store, claims.SweepConfig{
		Interval:    cfg.Claims.Interval,
		MaxAttempts: cfg.Claims.MaxAttempts,
	}, svc.Maintenance)

	auth := api.NewAuthenticator(api.AuthConfig{
		HMACSecret:           cfg.Security.JWTSecret,
		AdminPrincipals:      cfg.Security.AdminPrincipals,
		AllowHeaderPrincipal: cfg.IsDev(),
	}, logger)

	// Setup API handler and middleware
	handler := api.NewHandler(svc, processor, reg, led, wsHub, auth, logger, readyChecks...)
	middleware := api.NewMiddleware(logger, metricsObj)
	router := handler.Routes(middleware, cfg.Security.CORSAllowedOrigins, cfg.Security.RateLimitRPM, metricsHandler)

	// Log configured CORS origins for easier debugging in dev
	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	dispatcher.Start(ctx)
	svc.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := sweeper.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("claims sweep: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Infow("API server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Infow("Shutdown signal received")

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}
		// in-flight swaps finish before their records are flushed to the sinks
		if err := svc.Shutdown(shutdownCtx); err != nil {
			logger.Errorw("Settlement drain incomplete", "error", err)
		}
		if err := dispatcher.Close(shutdownCtx); err != nil {
			logger.Errorw("Archive drain incomplete", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func newLedgerAdapter(cfg *config.Config, reg *registry.Registry, logger *zap.SugaredLogger) (ledgerAdapter, error) {
	switch cfg.Ledger.Backend {
	case "rpc":
		logger.Infow("Using ledger gateway", "url", cfg.Ledger.RPCURL, "rps", cfg.Ledger.RPCRPS)
		return tokenledger.NewClient(tokenledger.ClientConfig{
			URL: cfg.Ledger.RPCURL,
			RPS: cfg.Ledger.RPCRPS,
		}, logger), nil
	case "memory":
		// the simulated ledger starts with the exchange holding every pool's reserves
		chain := tokenledger.NewMemory(cfg.Ledger.Exchange)
		for _, p := range reg.Pools() {
			chain.Mint(p.Token0, cfg.Ledger.Exchange, p.Balance0)
			chain.Mint(p.Token1, cfg.Ledger.Exchange, p.Balance1)
		}
		logger.Warnw("Using simulated token ledger", "exchange", cfg.Ledger.Exchange)
		return chain, nil
	default:
		return nil, fmt.Errorf("unsupported ledger backend: %s", cfg.Ledger.Backend)
	}
}

// resolveBridges maps the configured bridge symbols onto token ids. A bridge
// that is not registered yet is left out of routing.
func resolveBridges(reg *registry.Registry, symbols []string, logger *zap.SugaredLogger) swapcalc.Bridges {
	var ids [2]uint32
	for i, sym := range symbols {
		if i >= len(ids) {
			break
		}
		t, err := reg.ResolveToken(sym)
		if err != nil {
			logger.Warnw("Bridge token not registered", "token", sym, "error", err)
			continue
		}
		ids[i] = t.ID
	}
	return swapcalc.Bridges{Primary: ids[0], Secondary: ids[1]}
}
