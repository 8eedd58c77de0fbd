package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"consent-manager/internal/authz"
	consenthandler "consent-manager/internal/consent/handler"
	consentmetrics "consent-manager/internal/consent/metrics"
	consentservice "consent-manager/internal/consent/service"
	"consent-manager/internal/consent/signer"
	consentstore "consent-manager/internal/consent/store"
	"consent-manager/internal/correlation"
	"consent-manager/internal/dataflow"
	"consent-manager/internal/gateway"
	"consent-manager/internal/idempotency"
	jwttoken "consent-manager/internal/jwt_token"
	"consent-manager/internal/link"
	"consent-manager/internal/notification"
	"consent-manager/internal/platform/config"
	"consent-manager/internal/platform/httpserver"
	"consent-manager/internal/platform/kafka"
	"consent-manager/internal/platform/kafka/consumer"
	"consent-manager/internal/platform/metrics"
	"consent-manager/internal/platform/postgres"
	redisclient "consent-manager/internal/platform/redis"
	"consent-manager/internal/scheduler"
	"consent-manager/pkg/platform/middleware/request"
	"consent-manager/pkg/platform/middleware/requesttime"
	strs "consent-manager/pkg/platform/strings"
)

const healthTimeout = 2 * time.Second

// app holds the assembled components. Redis, Postgres and Kafka are each
// optional; without them the in-memory implementations are used.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry

	redis    *redisclient.Client
	db       *sql.DB
	producer *kafka.Producer
	loopback *consumer.Loopback

	consent   *consentservice.Service
	scheduler *scheduler.Scheduler
	topics    *consumer.Router
	handler   http.Handler

	checkers []httpserver.Checker
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: metrics.NewRegistry()}
	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.assemble(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) connect(ctx context.Context) error {
	rc, err := redisclient.New(a.cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if rc != nil {
		a.redis = rc
		a.checkers = append(a.checkers, rc)
	} else {
		a.logger.Warn("REDIS_URL not set, using in-memory replay, correlation and link stores")
	}

	db, err := postgres.Open(ctx, a.cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	if db != nil {
		a.db = db
		a.checkers = append(a.checkers, postgres.Health{DB: db})
	} else {
		a.logger.Warn("DATABASE_URL not set, using in-memory consent and hip action stores")
	}

	if len(a.cfg.Kafka.Brokers) == 0 {
		a.logger.Warn("KAFKA_BROKERS not set, notifications are delivered in-process")
		return nil
	}
	if err := kafka.EnsureTopics(ctx, a.cfg.Kafka.Brokers, a.cfg.Kafka.Partitions, a.cfg.Kafka.Replication,
		notification.TopicHIUNotify,
		notification.TopicHIPNotify,
		notification.TopicHIPDataFlow,
		notification.TopicParked,
	); err != nil {
		return fmt.Errorf("ensure kafka topics: %w", err)
	}
	producer, err := kafka.NewProducer(a.cfg.Kafka.Brokers, kafka.WithProducerLogger(a.logger))
	if err != nil {
		return err
	}
	a.producer = producer
	a.checkers = append(a.checkers, producer)
	return nil
}

func (a *app) assemble() error {
	cfg, logger, reg := a.cfg, a.logger, a.registry

	guard, err := idempotency.New(a.replayStore(""),
		idempotency.WithWindow(cfg.Idempotency.Window),
		idempotency.WithAllowedSkew(cfg.Idempotency.AllowedSkew),
		idempotency.WithLogger(logger),
		idempotency.WithMetrics(idempotency.NewMetrics(reg)),
	)
	if err != nil {
		return err
	}

	var corrStore correlation.Store = correlation.NewMemoryStore()
	if a.redis != nil {
		corrStore = correlation.NewRedisStore(a.redis.Client)
	}
	correlator, err := correlation.New(corrStore,
		correlation.WithDefaultTimeout(cfg.Correlation.Timeout),
		correlation.WithPollInterval(cfg.Correlation.PollInterval),
		correlation.WithTTL(cfg.Correlation.TTL),
		correlation.WithLogger(logger),
		correlation.WithMetrics(correlation.NewMetrics(reg)),
	)
	if err != nil {
		return err
	}

	gw, err := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.ClientID, cfg.Gateway.Timeout, gateway.WithLogger(logger))
	if err != nil {
		return err
	}

	a.topics = consumer.NewRouter(logger, nil)
	var publisher notification.Publisher
	if a.producer != nil {
		publisher = a.producer
	} else {
		a.loopback = consumer.NewLoopback(a.topics, 0, consumer.WithLogger(logger))
		a.checkers = append(a.checkers, a.loopback)
		publisher = a.loopback
	}
	notifyMetrics := notification.NewMetrics(reg)
	fanout, err := notification.NewFanout(publisher,
		notification.WithFanoutLogger(logger),
		notification.WithFanoutMetrics(notifyMetrics),
	)
	if err != nil {
		return err
	}
	dispatcher, err := notification.NewDispatcher(gw, a.replayStore("delivered:"), publisher,
		notification.WithMaxRetries(cfg.Notification.MaxRetries),
		notification.WithDedupeTTL(cfg.Notification.DedupeTTL),
		notification.WithDispatcherLogger(logger),
		notification.WithDispatcherMetrics(notifyMetrics),
	)
	if err != nil {
		return err
	}
	dispatcher.Register(a.topics)

	var (
		store consentservice.Store
		tx    consentservice.ConsentStoreTx
	)
	if a.db != nil {
		store, tx = consentstore.NewPostgres(a.db), consentstore.NewPostgresTxRunner(a.db)
	} else {
		mem := consentstore.NewInMemoryStore()
		store, tx = mem, consentstore.NewShardedTx(mem)
	}
	artefactSigner, err := signer.NewHMACSigner(cfg.Consent.ArtefactSigningKey, cfg.Gateway.ClientID)
	if err != nil {
		return err
	}
	consent, err := consentservice.New(store, tx, artefactSigner, fanout,
		consentservice.WithLogger(logger),
		consentservice.WithMetrics(consentmetrics.New(reg)),
		consentservice.WithAutoApprovalPolicy(autoApprovalPolicy(cfg.Consent)),
	)
	if err != nil {
		return err
	}
	a.consent = consent

	a.scheduler, err = scheduler.New(store, consent, cfg.Consent.RequestExpiry,
		scheduler.WithRequestSchedule(cfg.Scheduler.RequestSweep),
		scheduler.WithArtefactSchedule(cfg.Scheduler.ArtefactSweep),
		scheduler.WithPageSize(cfg.Scheduler.PageSize),
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(scheduler.NewMetrics(reg)),
	)
	if err != nil {
		return err
	}

	var actions authz.Store = authz.NewMemoryStore()
	if a.db != nil {
		actions = authz.NewPostgresStore(a.db)
	}
	validator, err := authz.New(actions, cfg.Authz.SigningKey,
		authz.WithActionTTL(cfg.Authz.ActionTTL),
		authz.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	var links link.Store = link.NewMemoryStore()
	if a.redis != nil {
		links = link.NewRedisStore(a.redis.Client)
	}
	linkService, err := link.New(gw, correlator, validator, links,
		link.WithTimeout(cfg.Correlation.Timeout),
		link.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	dataFlow, err := dataflow.New(consent, fanout, logger)
	if err != nil {
		return err
	}

	callers := jwttoken.NewJWTServiceAdapter(jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer))

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(logger))
	r.Use(request.Logger(logger))
	r.Use(requesttime.Middleware)

	r.Get("/healthz", httpserver.HealthHandler(healthTimeout, a.checkers...))
	r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))

	consenthandler.New(consent, guard, callers, logger).Register(r)
	link.NewHandler(linkService, guard, callers, logger).Register(r)
	dataflow.NewHandler(dataFlow, guard, callers, logger).Register(r)
	gateway.NewCallbackHandler(guard, correlator, logger).Register(r)

	a.handler = r
	return nil
}

// replayStore is the set-if-absent store behind both the replay guard and
// the delivery dedupe: Redis when configured, otherwise process memory.
func (a *app) replayStore(prefix string) idempotency.Store {
	if a.redis != nil {
		var opts []idempotency.RedisStoreOption
		if prefix != "" {
			opts = append(opts, idempotency.WithKeyPrefix(prefix))
		}
		return idempotency.NewRedisStore(a.redis.Client, opts...)
	}
	return idempotency.NewMemoryStore()
}

func autoApprovalPolicy(cfg config.ConsentConfig) consentservice.AutoApprovalPolicy {
	hius := strs.DedupeAndTrim(cfg.AutoApprovalHIUs)
	if len(hius) == 0 {
		return consentservice.DenyAllPolicy{}
	}
	return consentservice.AllowlistPolicy{
		HIUs:     hius,
		Purposes: strs.DedupeAndTrim(cfg.AutoApprovalPurposes),
	}
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	if a.producer != nil {
		a.producer.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
