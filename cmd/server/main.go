// Command server runs the kycvault HTTP API, the optional gRPC resolver and
// the audit outbox relay.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	audithandler "kycvault/internal/audit/handler"
	"kycvault/internal/audit/outbox"
	auditservice "kycvault/internal/audit/service"
	consenthandler "kycvault/internal/consent/handler"
	consentservice "kycvault/internal/consent/service"
	"kycvault/internal/extraction"
	"kycvault/internal/platform/config"
	"kycvault/internal/platform/httpserver"
	"kycvault/internal/platform/kafka"
	"kycvault/internal/platform/logger"
	"kycvault/internal/platform/metrics"
	"kycvault/internal/platform/postgres"
	"kycvault/internal/platform/redis"
	profilehandler "kycvault/internal/profile/handler"
	profileservice "kycvault/internal/profile/service"
	rlmiddleware "kycvault/internal/ratelimit/middleware"
	"kycvault/internal/ratelimit/store/bucket"
	"kycvault/internal/signature"
	"kycvault/internal/store"
	"kycvault/internal/store/memory"
	pgstore "kycvault/internal/store/postgres"
	tokengrpc "kycvault/internal/token/adapters/grpc"
	tokenhandler "kycvault/internal/token/handler"
	tokenservice "kycvault/internal/token/service"
	httptransport "kycvault/internal/transport/http"
	audit "kycvault/pkg/platform/audit"
	"kycvault/pkg/platform/circuit"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewWithRegisterer(reg)
	checks := map[string]httptransport.HealthCheck{}

	keys, err := signature.DeriveKeys([]byte(cfg.Signing.Secret))
	if err != nil {
		return err
	}
	signer := signature.NewService(keys.Signing)
	digester := signature.NewAddressDigester(keys.Digest)

	var entities store.Tx
	var outboxStore *outbox.Store
	if cfg.Database.URL != "" {
		if cfg.Database.AutoMigrate {
			if err := postgres.Migrate(ctx, cfg.Database.URL); err != nil {
				return err
			}
		}
		pool, err := postgres.Open(ctx, cfg.Database.URL, postgres.PoolConfig{
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
		if err != nil {
			return err
		}
		defer pool.Close()
		entities = pgstore.New(pool,
			pgstore.WithTimeout(cfg.Database.TxTimeout),
			pgstore.WithMaxAttempts(cfg.Database.MaxTxRetries),
			pgstore.WithLogger(log),
		)
		outboxStore = outbox.NewStore(pool)
		checks["postgres"] = pool.Ping
		log.Info("using postgres entity store")
	} else {
		entities = memory.New(memory.WithTimeout(cfg.Database.TxTimeout))
		log.Warn("DATABASE_URL not set, using in-memory entity store")
	}

	var relay *outbox.Relay
	if outboxStore != nil {
		client, err := kafka.NewClient(cfg.Kafka)
		if err != nil {
			return err
		}
		if client != nil {
			defer client.Close()
			if err := ensureAuditTopics(ctx, client, cfg.Kafka.TopicPrefix); err != nil {
				log.Warn("could not create audit topics", "error", err)
			}
			checks["kafka"] = func(ctx context.Context) error { return kafka.Health(ctx, client) }
			relay = outbox.NewRelay(outboxStore, client, cfg.Kafka.TopicPrefix,
				outbox.WithBatchSize(cfg.Kafka.BatchSize),
				outbox.WithPollInterval(cfg.Kafka.PollInterval),
				outbox.WithLogger(log),
				outbox.WithMetrics(m),
			)
		}
	}

	var extractor extraction.Extractor = extraction.NewHeuristic()
	var summarizer extraction.Summarizer = extraction.FirstSentence{}
	if cfg.Extraction.RemoteURL != "" {
		remote := extraction.NewRemote(cfg.Extraction.RemoteURL)
		breakerOpts := []circuit.Option{
			circuit.WithFailureThreshold(cfg.Extraction.FailureThreshold),
			circuit.WithCooldown(cfg.Extraction.Cooldown),
		}
		extractor = extraction.NewWithFallback(remote, extractor, circuit.New("extraction", breakerOpts...), log)
		summarizer = extraction.NewSummarizerWithFallback(remote, summarizer, circuit.New("summarizer", breakerOpts...), log)
	}

	var limiter rlmiddleware.Limiter = bucket.New()
	var limiterOpts []rlmiddleware.Option
	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable, rate limiting is per-instance", "error", err)
	} else if rdb != nil {
		defer rdb.Close()
		limiterOpts = append(limiterOpts, rlmiddleware.WithFallback(limiter, circuit.New("ratelimit")))
		limiter = bucket.NewRedis(rdb.Client)
		checks["redis"] = rdb.Health
	}
	limiterOpts = append(limiterOpts,
		rlmiddleware.WithMetrics(m),
		rlmiddleware.WithDisabled(!cfg.RateLimit.Enabled),
	)
	rateLimit := rlmiddleware.New(limiter, log, limiterOpts...)

	profiles := profileservice.New(entities, extractor, digester,
		profileservice.WithLogger(log), profileservice.WithMetrics(m))
	consents := consentservice.New(entities, summarizer,
		consentservice.WithLogger(log), consentservice.WithMetrics(m))
	tokens := tokenservice.New(entities, signer,
		tokenservice.WithLogger(log), tokenservice.WithMetrics(m))
	auditLog := auditservice.New(entities, log)

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:   log,
		Metrics:  m,
		Gatherer: reg,
		Handlers: []httptransport.Registrar{
			profilehandler.New(profiles, log),
			consenthandler.New(consents, log),
			tokenhandler.New(tokens, log, tokenhandler.WithResolveGuard(
				rateLimit.RateLimitByRequester(cfg.RateLimit.ResolvePerWindow, cfg.RateLimit.Window),
			)),
		},
		AdminHandlers: []httptransport.Registrar{audithandler.New(auditLog, log)},
		AdminToken:    cfg.Admin.Token,
		HealthChecks:  checks,
	})
	srv := httpserver.New(cfg.Server, router)

	var grpcLis net.Listener
	if cfg.Server.GRPCAddr != "" {
		if grpcLis, err = net.Listen("tcp", cfg.Server.GRPCAddr); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting kycvault", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if grpcLis != nil {
		gs := tokengrpc.NewGRPCServer(tokens, log)
		hs := health.NewServer()
		healthpb.RegisterHealthServer(gs, hs)
		lis := grpcLis
		g.Go(func() error {
			log.Info("starting grpc resolver", "addr", cfg.Server.GRPCAddr)
			return gs.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			hs.Shutdown()
			gs.GracefulStop()
			return nil
		})
	}

	if relay != nil {
		g.Go(func() error {
			if err := relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func ensureAuditTopics(ctx context.Context, client *kgo.Client, prefix string) error {
	categories := []audit.EventCategory{audit.CategoryCompliance, audit.CategoryAccess, audit.CategoryOperations}
	topics := make([]string, len(categories))
	for i, c := range categories {
		topics[i] = kafka.Topic(prefix, string(c))
	}
	return kafka.EnsureTopics(ctx, client, 3, 1, topics...)
}
