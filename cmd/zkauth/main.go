package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/layer-3/zkauth/adapters/claims"
	"github.com/layer-3/zkauth/adapters/events"
	"github.com/layer-3/zkauth/adapters/metrics"
	"github.com/layer-3/zkauth/adapters/prover"
	"github.com/layer-3/zkauth/adapters/salt"
	"github.com/layer-3/zkauth/adapters/store"
	"github.com/layer-3/zkauth/adapters/sui"
	"github.com/layer-3/zkauth/ports"
	"github.com/layer-3/zkauth/service"
	"github.com/layer-3/zkauth/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

func main() {
	loadEnvFiles()
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Error("config.invalid", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("zkauth.exit", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, log *slog.Logger) error {
	chain, err := sui.Dial(ctx, cfg.SuiRPCURL)
	if err != nil {
		return err
	}
	defer chain.Close()

	salts, err := salt.NewHMACProvider([]byte(cfg.SaltSeed))
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	cookies, err := store.NewCookieStore([]byte(cfg.CookieSecret), cfg.Production)
	if err != nil {
		return err
	}

	fallback, closeFallback, err := openFallback(ctx, cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeFallback()
	log.Info("store.ready", "primary", cookies.Name(), "fallback", fallback.Name())

	wmLogger := watermill.NewStdLogger(false, false)
	bus := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, wmLogger)
	pubs := []message.Publisher{bus}
	if redisClient != nil {
		stream, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: redisClient}, wmLogger)
		if err != nil {
			return fmt.Errorf("failed to create redis publisher: %w", err)
		}
		pubs = append(pubs, stream)
	}
	fanOut := events.NewFanOut(pubs...)
	defer fanOut.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	extractor := claims.NewJWTExtractor()
	sessions := service.NewSessionStore([]ports.Backend{cookies, store.Scoped(fallback)}, extractor, cfg.Session, log)
	proofs := service.NewProofService(prover.NewClient(cfg.ProverURL, cfg.ProverTimeout, cfg.ProverRPS), extractor, cfg.ProofCacheTTL, m, log)
	signer := service.NewTxSigner(chain, proofs, extractor, m, log)
	monitor := service.NewMonitor(sessions, proofs, events.NewWatermillPublisher(fanOut), cfg.Monitor, m, log)
	login := service.NewLoginService(chain, extractor, salts, sessions, monitor, service.LoginConfig{
		OAuth:          cfg.OAuth,
		MaxEpochWindow: cfg.MaxEpochWindow,
	}, log)

	var keypair *service.KeypairWallet
	if cfg.WalletKey != "" {
		keypair, err = service.NewKeypairWallet(cfg.WalletKey, chain, sessions, cfg.GasBudget, log)
		if err != nil {
			return err
		}
		log.Info("wallet.keypair.loaded", "address", keypair.Address())
	}

	monitor.Start(ctx)
	defer monitor.Stop()

	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := http.SetupRouter(http.Deps{
		Login:          login,
		Sessions:       sessions,
		Monitor:        monitor,
		Wallets:        service.NewWalletResolver(sessions, signer, chain, keypair, cfg.GasBudget),
		Chain:          chain,
		Events:         bus,
		Cookies:        cookies,
		Gatherer:       reg,
		GasBudget:      cfg.GasBudget,
		OriginPatterns: []string{cfg.OriginHost()},
		Log:            log,
	})

	srv := &nethttp.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http.listen", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("http.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openFallback opens the configured fallback session store
func openFallback(ctx context.Context, cfg Config, redisClient *redis.Client) (ports.Backend, func(), error) {
	switch cfg.FallbackStore {
	case FallbackRedis:
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		return store.NewRedisStore(redisClient), func() {}, nil

	case FallbackPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create db pool: %w", err)
		}
		pg, err := store.NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pg, pool.Close, nil

	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}
