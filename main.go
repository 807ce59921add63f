package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/fluxfolio/engine/pkg/api"
	"github.com/fluxfolio/engine/pkg/chainrpc"
	"github.com/fluxfolio/engine/pkg/circuitbreaker"
	"github.com/fluxfolio/engine/pkg/config"
	"github.com/fluxfolio/engine/pkg/health"
	"github.com/fluxfolio/engine/pkg/intents"
	"github.com/fluxfolio/engine/pkg/jobstore"
	"github.com/fluxfolio/engine/pkg/logger"
	"github.com/fluxfolio/engine/pkg/orchestrator"
	"github.com/fluxfolio/engine/pkg/relay"
	"github.com/fluxfolio/engine/pkg/sessions"
	"github.com/fluxfolio/engine/pkg/signing"
	"github.com/fluxfolio/engine/pkg/users"
)

// redisPinger adapts a redis client to the health server's Pinger
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	// The platform key is parsed once at startup so a bad key fails fast.
	// It is never logged.
	if _, err := signing.NewLocalSigner(cfg.SigningKey); err != nil {
		log.Fatalf("Failed to parse SIGNING_KEY: %v", err)
	}

	// Storage: Redis when configured, in-memory otherwise
	var (
		jobStore     jobstore.Store
		userStore    users.Store
		sessionStore sessions.Store
		dependencies = make(map[string]health.Pinger)
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		jobStore = jobstore.NewRedisStore(client)
		userStore = users.NewRedisStore(client)
		sessionStore = sessions.NewRedisStore(client)
		dependencies["redis"] = redisPinger{client: client}
		appLogger.Info("Using Redis storage at %s", cfg.RedisAddr)
	} else {
		jobStore = jobstore.NewMemoryStore()
		userStore = users.NewMemoryStore()
		sessionStore = sessions.NewMemoryStore()
		appLogger.Notice("REDIS_ADDR not set, using in-memory storage")
	}

	// Chain node client behind a circuit breaker
	nodeBreaker := circuitbreaker.NewCircuitBreaker(
		cfg.CircuitBreaker.Enabled,
		cfg.CircuitBreaker.Threshold,
		cfg.CircuitBreaker.WindowDuration,
		cfg.CircuitBreaker.ResetTimeout,
		appLogger,
	)
	node := chainrpc.New(cfg.NodeRPCURL, cfg.PlatformAccountID, cfg.VerifyingContract, nodeBreaker, appLogger)

	relayClient := relay.New(cfg.RelayEndpoint, appLogger)
	relayClient.SetPolling(cfg.FinalizePollBase, cfg.FinalizeAttempts)

	builder := intents.NewBuilder(node, cfg.VerifyingContract, appLogger)

	service := orchestrator.NewService(jobStore, userStore, builder, relayClient, node, node, orchestrator.Options{
		WorkerCount:   cfg.WorkerCount,
		QueueSize:     cfg.QueueSize,
		MaxRetries:    cfg.MaxRetries,
		WithdrawChain: cfg.WithdrawChain,
		WithdrawToken: cfg.WithdrawToken,
		ReserveAsset:  cfg.ReserveAsset,
		ProxyContract: cfg.ProxyContract,
	}, appLogger)

	apiServer := api.NewServer(service, jobStore, sessionStore, appLogger)
	healthServer := health.NewServer(cfg.MetricsPort, dependencies, map[string]*circuitbreaker.CircuitBreaker{
		"node": nodeBreaker,
	})

	// Shut down gracefully on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service.Start(ctx)

	httpServer := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLogger.Info("Starting API server on port %s", cfg.APIPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		healthServer.Start()
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		appLogger.Notice("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("API server shutdown: %v", err)
		}

		service.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Service error: %v", err)
	}
}
