package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/abdulhad-eng/home-fair-share/internal/core/port"
	"github.com/abdulhad-eng/home-fair-share/internal/gateway"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/config"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/database"
	kafkainfra "github.com/abdulhad-eng/home-fair-share/internal/infra/kafka"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/logger"
	redisinfra "github.com/abdulhad-eng/home-fair-share/internal/infra/redis"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/security"
	"github.com/abdulhad-eng/home-fair-share/internal/infra/telemetry"
	"github.com/abdulhad-eng/home-fair-share/internal/provider/social"
	"github.com/abdulhad-eng/home-fair-share/internal/ratelimit"
	postgresrepo "github.com/abdulhad-eng/home-fair-share/internal/repository/postgres"
	redisrepo "github.com/abdulhad-eng/home-fair-share/internal/repository/redis"
	"github.com/abdulhad-eng/home-fair-share/internal/transport/http/middleware"
	"github.com/abdulhad-eng/home-fair-share/internal/transport/http/routes"
	"github.com/abdulhad-eng/home-fair-share/internal/usecase"
	"github.com/abdulhad-eng/home-fair-share/internal/verification"
)

const flowSweepInterval = time.Minute

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	fanout   *kafkainfra.ConsumerGroup
	tracer   *telemetry.TracerProvider
	sessions *usecase.SessionTracker
	flows    *verification.Registry
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Application{cfg: cfg, logger: log}
	ok := false
	defer func() {
		if !ok {
			a.close(context.Background())
		}
	}()

	a.tracer, err = telemetry.NewTracerProvider(ctx, cfg.App, cfg.Telemetry, log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	metrics, err := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Namespace: "roomie"})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	a.pool, err = database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	repos := postgresrepo.NewRepositories(a.pool)

	a.redis, err = redisinfra.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	rdb := a.redis.Client()
	prefix := a.redis.KeyPrefix()

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if cfg.RateLimit.PhoneSendWindow > rateLimitWindow {
		rateLimitWindow = cfg.RateLimit.PhoneSendWindow
	}
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	limiter := ratelimit.New(redisrepo.NewRateLimitRepository(rdb, prefix, rateLimitWindow*2))

	events := a.eventPublisher(metrics)

	hasher, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("configure argon2: %w", err)
	}

	broker := social.NewBroker(cfg.Social.ConsentTimeout, log, a.socialConnectors(ctx)...)

	provider, err := usecase.NewProvider(cfg, usecase.ProviderDeps{
		Users:      repos.Users,
		Identities: repos.Identities,
		Pending:    redisrepo.NewPendingCodeRepository(rdb, prefix),
		Challenges: redisrepo.NewChallengeRepository(rdb, prefix),
		Links:      redisrepo.NewLinkTokenRepository(rdb, prefix),
		Limiter:    limiter,
		Hasher:     hasher,
		Events:     events,
		Social:     broker,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("init identity provider: %w", err)
	}

	a.sessions = usecase.NewSessionTracker(redisrepo.NewSessionRepository(rdb, prefix), events, metrics, cfg.Session.TTL, log)
	a.fanout = a.identityFanout()

	gw := gateway.New(provider, a.sessions, log,
		gateway.WithMetrics(metrics),
		gateway.WithTracer(a.tracer.Tracer(telemetry.TracerName)),
	)
	a.flows = verification.NewRegistry(gw, cfg.Verification, metrics, log)

	a.engine = routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		Gateway:     gw,
		Flows:       a.flows,
		Consents:    broker,
		Limiter:     limiter,
		HTTPMetrics: httpMetrics,
		Database:    a.pool,
		Cache:       a.redis,
	})

	ok = true
	return a, nil
}

func (a *Application) eventPublisher(metrics *telemetry.Metrics) port.EventPublisher {
	if len(a.cfg.Kafka.Brokers) == 0 {
		a.logger.Info("kafka brokers not configured, using stub publisher")
		return kafkainfra.NewStubPublisher(a.logger)
	}

	producer, err := kafkainfra.NewProducer(a.cfg.Kafka, a.logger, metrics.NotificationFailed)
	if err != nil {
		a.logger.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
		return kafkainfra.NewStubPublisher(a.logger)
	}
	a.producer = producer
	return kafkainfra.NewEventPublisher(producer, a.cfg.App, a.logger)
}

// identityFanout relays identity changes made by other instances to the
// streams held here. Each instance joins its own group so every instance
// sees every change.
func (a *Application) identityFanout() *kafkainfra.ConsumerGroup {
	if a.producer == nil {
		return nil
	}
	consumer := kafkainfra.NewIdentityChangedConsumer(a.sessions, a.sessions.InstanceID(), a.logger)
	groupID := "roomie-identity-fanout-" + a.sessions.InstanceID()
	group, err := kafkainfra.NewConsumerGroup(a.cfg.Kafka, groupID, []string{kafkainfra.EventIdentityChanged}, consumer, a.logger)
	if err != nil {
		a.logger.Warn("identity fan-out disabled, streams only see local changes", zap.Error(err))
		return nil
	}
	return group
}

// socialConnectors builds the configured providers. A provider that fails
// discovery is left disabled rather than failing startup.
func (a *Application) socialConnectors(ctx context.Context) []social.Connector {
	base := strings.TrimRight(a.cfg.App.PublicURL, "/") + "/api/v1/auth/social/"
	var connectors []social.Connector

	if g := a.cfg.Social.Google; g.ClientID != "" {
		c, err := social.NewGoogle(ctx, g, base+"google/callback")
		if err != nil {
			a.logger.Warn("google sign-in disabled", zap.Error(err))
		} else {
			connectors = append(connectors, c)
		}
	}

	if ap := a.cfg.Social.Apple; ap.ClientID != "" && ap.PrivateKeyPath != "" {
		c, err := social.NewApple(ctx, ap, base+"apple/callback")
		if err != nil {
			a.logger.Warn("apple sign-in disabled", zap.Error(err))
		} else {
			connectors = append(connectors, c)
		}
	}

	return connectors
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.close(context.Background())

	go a.flows.Run(ctx, flowSweepInterval)
	if a.fanout != nil {
		go a.fanout.Run(ctx)
	}

	// Request contexts derive from baseCtx so open streams end on shutdown.
	baseCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()

	// no WriteTimeout: consent and identity streams stay open
	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	a.logger.Info("starting identity API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		cancelRequests()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

func (a *Application) close(ctx context.Context) {
	if a.fanout != nil {
		if err := a.fanout.Close(); err != nil {
			a.logger.Warn("close kafka consumer group", zap.Error(err))
		}
	}
	if a.sessions != nil {
		a.sessions.Close()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("shutdown tracer", zap.Error(err))
		}
	}
}
