package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kinledger/internal/billing"
	"kinledger/internal/funding"
	fundingservice "kinledger/internal/funding/service"
	hhhandler "kinledger/internal/household/handler"
	hhservice "kinledger/internal/household/service"
	hhstore "kinledger/internal/household/store"
	"kinledger/internal/idempotency"
	idemstore "kinledger/internal/idempotency/store"
	"kinledger/internal/ledger"
	ledgermetrics "kinledger/internal/ledger/metrics"
	ledgerservice "kinledger/internal/ledger/service"
	ledgerstore "kinledger/internal/ledger/store"
	"kinledger/internal/obligation"
	obmetrics "kinledger/internal/obligation/metrics"
	observice "kinledger/internal/obligation/service"
	obstore "kinledger/internal/obligation/store"
	"kinledger/internal/outbox"
	outboxstore "kinledger/internal/outbox/store"
	"kinledger/internal/overview"
	"kinledger/internal/payout"
	payoutmetrics "kinledger/internal/payout/metrics"
	"kinledger/internal/payout/rail"
	payoutservice "kinledger/internal/payout/service"
	payoutstore "kinledger/internal/payout/store"
	"kinledger/internal/platform/auth"
	"kinledger/internal/platform/config"
	"kinledger/internal/platform/httpserver"
	"kinledger/internal/platform/kafka"
	"kinledger/internal/platform/metrics"
	"kinledger/internal/platform/postgres"
	"kinledger/internal/platform/redis"
	rlmiddleware "kinledger/internal/ratelimit/middleware"
	rlstore "kinledger/internal/ratelimit/store"
	"kinledger/internal/reconciliation"
	rechandler "kinledger/internal/reconciliation/handler"
	recmetrics "kinledger/internal/reconciliation/metrics"
	"kinledger/internal/reconciliation/provider"
	recservice "kinledger/internal/reconciliation/service"
	recstore "kinledger/internal/reconciliation/store"
	"kinledger/pkg/platform/middleware/logging"
	"kinledger/pkg/platform/middleware/metadata"
	"kinledger/pkg/platform/middleware/requesttime"
	txcontext "kinledger/pkg/platform/tx"
)

// infra holds the external connections. Postgres, Redis and Kafka are each
// optional; without them the service runs on in-memory stores, a local
// lock and a log publisher.
type infra struct {
	db       *sql.DB
	tx       txcontext.Runner
	redis    *redis.Client
	locker   redis.Locker
	producer *kafka.Producer
}

func openInfra(ctx context.Context, cfg *config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{tx: txcontext.NewMemoryRunner(), locker: redis.NewLocalLocker()}

	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		in.db = db
		if cfg.Database.MigrateOnStart {
			if err := postgres.Migrate(db); err != nil {
				in.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		in.tx = postgres.NewTxRunner(db, cfg.Database.TxRetries)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		in.Close()
		return nil, err
	}
	if client != nil {
		in.redis = client
		in.locker = redis.NewRedLocker(client.Client)
	}

	if cfg.Kafka.Enabled() {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, "kinledger")
		if err != nil {
			in.Close()
			return nil, err
		}
		in.producer = producer
		if err := producer.EnsureTopics(ctx, 3, 1, cfg.Kafka.EventsTopic, cfg.Kafka.AlertsTopic); err != nil {
			in.Close()
			return nil, err
		}
	}
	return in, nil
}

func (in *infra) Close() {
	if in.producer != nil {
		in.producer.Close()
	}
	if in.redis != nil {
		_ = in.redis.Close()
	}
	if in.db != nil {
		_ = in.db.Close()
	}
}

type stores struct {
	households     hhservice.Store
	ledger         ledgerservice.Store
	obligations    observice.Store
	payouts        payoutservice.Store
	idempotency    idempotency.Store
	outbox         outbox.Store
	reconciliation recservice.Store
}

func newStores(db *sql.DB) stores {
	if db == nil {
		return stores{
			households:     hhstore.NewInMemory(),
			ledger:         ledgerstore.NewInMemory(),
			obligations:    obstore.NewInMemory(),
			payouts:        payoutstore.NewInMemory(),
			idempotency:    idemstore.NewInMemory(),
			outbox:         outboxstore.NewInMemory(),
			reconciliation: recstore.NewInMemory(),
		}
	}
	return stores{
		households:     hhstore.NewPostgres(db),
		ledger:         ledgerstore.NewPostgres(db),
		obligations:    obstore.NewPostgres(db),
		payouts:        payoutstore.NewPostgres(db),
		idempotency:    idemstore.NewPostgres(db),
		outbox:         outboxstore.NewPostgres(db),
		reconciliation: recstore.NewPostgres(db),
	}
}

type app struct {
	jwt         *auth.JWTService
	households  *hhhandler.Handler
	admin       *hhhandler.AdminHandler
	ledger      *ledger.Handler
	obligations *obligation.Handler
	payouts     *payout.Handler
	funding     *funding.Handler
	overview    *overview.Handler
	webhooks    *reconciliation.Handler
	workers     []func(ctx context.Context) error
}

func buildApp(cfg *config.Config, in *infra, log *slog.Logger) *app {
	st := newStores(in.db)

	idemOpts := []idempotency.Option{
		idempotency.WithLogger(log),
		idempotency.WithMetrics(idempotency.NewMetrics()),
	}
	if in.redis != nil {
		idemOpts = append(idemOpts, idempotency.WithCache(idempotency.NewRedisCache(in.redis.Client, 0, log)))
	}
	idem := idempotency.NewService(st.idempotency, idemOpts...)
	events := outbox.NewWriter(st.outbox, cfg.Kafka.EventsTopic, cfg.Kafka.AlertsTopic)

	stripeClient := billing.NewClient(cfg.Stripe)
	hhOpts := []hhservice.Option{hhservice.WithLogger(log)}
	if cfg.Stripe.SecretKey != "" {
		hhOpts = append(hhOpts, hhservice.WithBilling(stripeClient))
	}
	// households only ask the ledger whether entries exist
	households := hhservice.New(st.households, in.tx, ledgerservice.New(st.ledger, in.tx), hhOpts...)
	ledgerSvc := ledgerservice.New(st.ledger, in.tx,
		ledgerservice.WithLogger(log),
		ledgerservice.WithMetrics(ledgermetrics.New()),
		ledgerservice.WithIdempotency(idem),
		ledgerservice.WithCurrencyLookup(households),
	)
	obligations := observice.New(st.obligations, in.tx, households, payoutservice.NewJobQueue(st.payouts), idem,
		observice.WithLogger(log),
		observice.WithMetrics(obmetrics.New()),
		observice.WithEvents(events),
		observice.WithApprovalGrace(cfg.Payout.ApprovalGrace),
	)

	payoutMetrics := payoutmetrics.New()
	dispatcher := rail.NewDispatcher(newRail(cfg), rail.DispatcherConfig{
		Timeout:         cfg.Payout.DispatchTimeout,
		MaxAttempts:     cfg.Payout.MaxAttempts,
		InitialBackoff:  cfg.Payout.RetryInitialBackoff,
		BreakerFailures: cfg.Payout.BreakerFailures,
		BreakerTimeout:  cfg.Payout.BreakerOpenTimeout,
	}, rail.WithDispatcherLogger(log), rail.WithDispatcherMetrics(payoutMetrics))
	payouts := payoutservice.New(st.payouts, in.tx, ledgerSvc, obligations, households, dispatcher, idem,
		payoutservice.WithLogger(log),
		payoutservice.WithMetrics(payoutMetrics),
		payoutservice.WithEvents(events),
	)

	fundingSvc := fundingservice.New(in.tx, ledgerSvc, households, stripeClient, idem,
		fundingservice.WithLogger(log),
		fundingservice.WithEvents(events),
		fundingservice.WithTransfers(dispatcher),
	)

	recMetrics := recmetrics.New()
	processor := recservice.New(st.reconciliation, in.tx, payouts, fundingSvc, households, events,
		recservice.WithLogger(log),
		recservice.WithMetrics(recMetrics),
		recservice.WithRetention(cfg.Reconciliation.OrphanRetention),
	)
	payouts.SetAcceptedHook(processor.OnPayoutAccepted)

	var publisher outbox.Publisher = outbox.LogPublisher{Logger: log}
	if in.producer != nil {
		publisher = in.producer
	}
	jwt := auth.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer)

	return &app{
		jwt:         jwt,
		households:  hhhandler.New(households, log),
		admin:       hhhandler.NewAdmin(households, jwt, cfg.Auth.TokenTTL, log),
		ledger:      ledger.NewHandler(ledgerSvc, log),
		obligations: obligation.NewHandler(obligations, log),
		payouts:     payout.NewHandler(payouts, log),
		funding:     funding.NewHandler(fundingSvc, log),
		overview:    overview.NewHandler(overview.NewService(ledgerSvc, obligations)),
		webhooks: rechandler.New(processor, recMetrics, log,
			provider.NewFlutterwave(cfg.Flutterwave.WebhookHash),
			provider.NewStripe(cfg.Stripe.WebhookSecret),
		),
		workers: []func(ctx context.Context) error{
			outbox.NewWorker(st.outbox, in.tx, publisher,
				outbox.WithWorkerLogger(log),
				outbox.WithWorkerMetrics(outbox.NewMetrics()),
				outbox.WithBatch(cfg.Kafka.PollInterval, cfg.Kafka.BatchSize),
			).Run,
			payoutservice.NewScheduler(payouts, in.locker, cfg.Payout.SchedulerInterval, cfg.Payout.JobMaxAttempts).Run,
			payoutservice.NewConfirmationSweeper(payouts, in.locker, cfg.Payout.ConfirmationTimeout, cfg.Reconciliation.SweepInterval).Run,
			recservice.NewOrphanSweeper(processor, in.locker, cfg.Reconciliation.SweepInterval).Run,
		},
	}
}

func newRail(cfg *config.Config) rail.Rail {
	if cfg.Payout.Rail == "flutterwave" {
		return rail.NewFlutterwave(rail.FlutterwaveConfig{
			BaseURL:   cfg.Flutterwave.BaseURL,
			SecretKey: cfg.Flutterwave.SecretKey,
			Timeout:   cfg.Payout.DispatchTimeout,
		})
	}
	return rail.NewSandbox()
}

func newRouter(cfg *config.Config, a *app, in *infra, log *slog.Logger) http.Handler {
	httpMetrics := metrics.New()

	var primary rlmiddleware.Limiter = rlstore.NewInMemory()
	limiterOpts := []rlmiddleware.Option{rlmiddleware.WithDisabled(!cfg.RateLimit.Enabled)}
	if in.redis != nil {
		primary = rlstore.NewRedis(in.redis.Client)
		limiterOpts = append(limiterOpts, rlmiddleware.WithFallback(rlstore.NewInMemory()))
	}
	limiter := rlmiddleware.New(primary, cfg.RateLimit.Requests, cfg.RateLimit.Window, log, limiterOpts...)

	checks := map[string]httpserver.Check{}
	if in.db != nil {
		checks["postgres"] = in.db.PingContext
	}
	if in.redis != nil {
		checks["redis"] = in.redis.Health
	}
	if in.producer != nil {
		checks["kafka"] = in.producer.Ping
	}

	r := chi.NewRouter()
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(logging.Recover(log))
	r.Use(logging.AccessLog(log))
	r.Use(httpMetrics.Middleware)

	r.Get("/health", httpserver.Health(checks))
	r.Handle("/metrics", metrics.Handler())

	r.Route("/"+cfg.Server.Version, func(r chi.Router) {
		a.webhooks.Register(r)

		if cfg.Auth.AdminToken != "" {
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAdminToken(cfg.Auth.AdminToken, log))
				a.admin.Register(r)
				a.webhooks.RegisterAdmin(r)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(a.jwt, log))
			r.Use(limiter.Limit("api"))
			a.households.Register(r)
			a.overview.Register(r)
			a.ledger.Register(r)
			a.funding.Register(r)
			a.obligations.Register(r)
			a.payouts.Register(r)
		})
	})
	return r
}
