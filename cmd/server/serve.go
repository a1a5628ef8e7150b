package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	activityservice "tumi/internal/activitylog/service"
	activitystore "tumi/internal/activitylog/store"
	"tumi/internal/graphql"
	jwttoken "tumi/internal/jwt_token"
	"tumi/internal/outbox/publisher"
	outboxstore "tumi/internal/outbox/store"
	"tumi/internal/outbox/worker"
	paymentservice "tumi/internal/payment/service"
	paymentstore "tumi/internal/payment/store"
	"tumi/internal/platform/amqp"
	"tumi/internal/platform/config"
	"tumi/internal/platform/httpserver"
	"tumi/internal/platform/kafka"
	"tumi/internal/platform/logger"
	"tumi/internal/platform/metrics"
	"tumi/internal/platform/postgres"
	"tumi/internal/platform/redis"
	"tumi/internal/platform/tracing"
	ratelimit "tumi/internal/ratelimit/middleware"
	"tumi/internal/ratelimit/store/bucket"
	purchaseservice "tumi/internal/purchase/service"
	purchasestore "tumi/internal/purchase/store"
	regservice "tumi/internal/registration/service"
	regstore "tumi/internal/registration/store"
	userservice "tumi/internal/user/service"
	userstore "tumi/internal/user/store"
	"tumi/internal/webhook/dedupe"
	"tumi/internal/webhook/gateway"
	webhookhandler "tumi/internal/webhook/handler"
	webhookservice "tumi/internal/webhook/service"
	"tumi/pkg/platform/tx"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the outbox publisher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.Server.Environment)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.WarnContext(flushCtx, "flush traces", "error", err)
		}
	}()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	var (
		deduper webhookservice.Deduper
		buckets ratelimit.Store
	)
	if rc != nil {
		defer rc.Close()
		deduper = dedupe.NewRedis(rc.Client, cfg.Stripe.DedupeTTL)
		buckets = bucket.NewRedis(rc.Client)
	} else {
		log.WarnContext(ctx, "redis not configured, webhook deduplication and rate limits are per process")
		deduper = dedupe.NewInMemory(cfg.Stripe.DedupeTTL)
		buckets = bucket.NewInMemory()
	}

	runner := tx.NewSQLRunner(db)
	users := userstore.NewPostgres(db)
	payments := paymentstore.NewPostgres(db)
	registrations := regstore.NewPostgres(db)
	purchases := purchasestore.NewPostgres(db)
	activity := activityservice.New(activitystore.NewPostgres(db), log)
	outbox := outboxstore.NewPostgres(db)

	stripeAPI := gateway.New(cfg.Stripe.SecretKey,
		gateway.WithLogger(log),
		gateway.WithRegisterer(prometheus.DefaultRegisterer),
	)
	reconciler := webhookservice.New(payments, registrations, purchases, stripeAPI, activity,
		webhookservice.WithTxRunner(runner),
		webhookservice.WithDeduper(deduper),
		webhookservice.WithOutbox(outbox),
		webhookservice.WithMetrics(webhookservice.NewMetrics()),
		webhookservice.WithLogger(log),
	)

	schema, err := graphql.NewSchema(graphql.Services{
		Users:         userservice.New(users),
		Registrations: regservice.New(registrations),
		Payments:      paymentservice.New(payments, purchases, registrations),
		Purchases:     purchaseservice.NewPurchaseService(purchases),
		Cart:          purchaseservice.NewCartService(purchases, runner, log),
		ActivityLogs:  activity,
	}, log)
	if err != nil {
		return fmt.Errorf("build graphql schema: %w", err)
	}
	tokens := jwttoken.NewJWTServiceAdapter(jwttoken.NewJWTService(string(cfg.SigningKey()), cfg.Auth.Issuer))

	checks := []readinessCheck{{name: "postgres", check: db.PingContext}}
	if rc != nil {
		checks = append(checks, readinessCheck{name: "redis", check: rc.Health})
	}
	pub, closePublisher, brokerCheck, err := newPublisher(ctx, cfg.Events, log)
	if err != nil {
		return err
	}
	defer closePublisher()
	if brokerCheck != nil {
		checks = append(checks, *brokerCheck)
	}
	limiter := ratelimit.New(buckets, cfg.Limits.GraphQLRequests, cfg.Limits.Window, log,
		ratelimit.WithRegisterer(prometheus.DefaultRegisterer),
	)
	router := newRouter(log, metrics.NewHTTP(), routes{
		webhook:    webhookhandler.New(reconciler, cfg.Stripe.WebhookSecret, cfg.Stripe.Tolerance, log),
		graphql:    graphql.NewHandler(schema, tokens, log, limiter.PerIP("graphql")),
		checks:     checks,
		trustProxy: cfg.Server.TrustProxy,
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	outboxWorker := worker.New(outbox, pub, runner, log,
		worker.WithInterval(cfg.Events.OutboxInterval),
		worker.WithBatchSize(cfg.Events.OutboxBatch),
		worker.WithMetrics(worker.NewMetrics()),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(ctx, "starting tumi", "addr", cfg.Server.Addr, "env", cfg.Server.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return outboxWorker.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.InfoContext(shutdownCtx, "shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// newPublisher picks the outbox broker. The returned close func is always
// safe to call; the readiness check is nil when the broker has none.
func newPublisher(ctx context.Context, cfg config.EventsConfig, log *slog.Logger) (worker.Publisher, func(), *readinessCheck, error) {
	switch cfg.Broker {
	case config.BrokerKafka:
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.Topic)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("kafka producer: %w", err)
		}
		if err := producer.EnsureTopic(ctx, 3, 1); err != nil {
			_ = producer.Close()
			return nil, nil, nil, err
		}
		return publisher.Kafka(producer), func() { _ = producer.Close() }, &readinessCheck{name: "kafka", check: producer.Health}, nil
	case config.BrokerAMQP:
		p, err := amqp.NewPublisher(cfg.AMQPURL, cfg.Topic)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("amqp publisher: %w", err)
		}
		return publisher.AMQP(p), func() { _ = p.Close() }, nil, nil
	default:
		log.InfoContext(ctx, "no broker configured, outbox messages are logged")
		return publisher.NewLog(log), func() {}, nil, nil
	}
}
