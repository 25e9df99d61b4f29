package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/chairbook/chairbook/libs/config"
	"github.com/chairbook/chairbook/libs/db"
	"github.com/chairbook/chairbook/libs/grpcx"
	"github.com/chairbook/chairbook/libs/httpx"
	"github.com/chairbook/chairbook/libs/kafkax"
	otelx "github.com/chairbook/chairbook/libs/otel"
	"github.com/chairbook/chairbook/libs/redisx"
	"github.com/chairbook/chairbook/libs/runtime"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/availability"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/booking"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/clock"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/handlers"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/memstore"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/notify"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/outbox"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/storage"
	"github.com/chairbook/chairbook/services/scheduling-service/internal/waitlist"
)

// store is everything the service needs from its persistence layer.
type store interface {
	booking.Store
	waitlist.Store
	notify.Recorder
	handlers.Store
}

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	allowUnassigned := mustBool("ALLOW_UNASSIGNED_BOOKING", false)
	staffBypass := mustBool("STAFF_BYPASS_CANCELLATION_LEAD", true)
	brokers := config.String("KAFKA_BROKERS", "")

	var (
		readyChecks []runtime.ReadyCheck
		grpcChecks  []grpcx.Check
	)

	clk := clock.System{}
	var st store
	var pool *db.Pool
	outboxRepo := outbox.NewRepository()
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		pool, err = db.Open(ctx, dbURL, db.Options{MaxConns: int32(mustInt("DB_MAX_CONNS", 10)), ApplicationName: service})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()
		if mustBool("DB_AUTO_MIGRATE", false) {
			if err := storage.Migrate(ctx, pool, logger); err != nil {
				logger.Error("db migration failed", "err", err)
				panic(err)
			}
		}
		st = storage.NewStore(pool, outboxRepo, clk)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
		grpcChecks = append(grpcChecks, db.ReadyCheck(pool))
	} else {
		mem := memstore.New(memstore.WithClock(clk))
		demo := memstore.SeedDemo(mem, config.String("DEMO_TIMEZONE", "America/Sao_Paulo"))
		logger.Warn("DATABASE_URL not set; using in-memory store with demo data",
			"tenant_id", demo.TenantID,
			"professional_id", demo.ProfessionalID,
			"service_id", demo.ServiceID,
		)
		st = mem
	}
	if brokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: mustDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	sender, err := newSender(logger)
	if err != nil {
		logger.Error("notifier init failed; messages will be dropped", "err", err)
		sender = notify.NewNoopSender()
	}
	channel, err := notify.ParseChannel(config.String("NOTIFY_CHANNEL", "whatsapp"))
	if err != nil {
		panic(err)
	}
	dispatcher := notify.NewDispatcher(sender, st, logger, notify.DispatcherConfig{
		CountryCode: config.String("DEFAULT_COUNTRY_CODE", "55"),
		Channel:     channel,
		Timeout:     mustDuration("NOTIFY_TIMEOUT", 10*time.Second),
		Clock:       clk,
	})
	defer dispatcher.Wait()

	resolver := availability.NewResolver(st, clk, availability.Options{AllowUnassigned: allowUnassigned})
	matcher := waitlist.NewMatcher(st, clk, dispatcher, logger)
	transactor := booking.NewTransactor(st, resolver, clk, dispatcher, matcher, logger, booking.Config{
		AllowUnassigned:             allowUnassigned,
		StaffBypassCancellationLead: staffBypass,
	})
	schedulingHandler := handlers.NewSchedulingHandler(st, resolver, transactor, matcher, logger)

	rdb, err := redisx.Open(ctx, redisx.Options{
		Addr:     config.String("REDIS_ADDR", ""),
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       mustInt("REDIS_DB", 0),
	})
	if err != nil {
		logger.Error("redis connection failed; using in-process rate limiter", "err", err)
	}
	if rdb != nil {
		defer rdb.Close()
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb)})
	}
	perMinute := mustInt("RATE_LIMIT_PER_MINUTE", 120)
	var limit httpx.Middleware
	if rdb != nil {
		limit = httpx.NewRedisRateLimiter(rdb, perMinute, time.Minute, service).Middleware(logger, true)
	} else {
		limit = httpx.NewRateLimiter(perMinute, time.Minute).Middleware()
	}

	api := http.NewServeMux()
	schedulingHandler.Register(api)

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.Handle("/api/v1/public/", limit(api))
	mux.Handle("/api/v1/", api)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "X-Request-Id", "X-Tenant-Id", "X-Role", "X-Actor-Name"},
			ExposedHeaders: []string{httpx.RequestIDHeader, "Retry-After"},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(mustDuration("HTTP_HANDLER_TIMEOUT", 15*time.Second)),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if grpcPort := config.String("GRPC_PORT", "9093"); grpcPort != "" {
		go func() {
			if err := grpcx.ServeHealth(ctx, logger, ":"+grpcPort, service, 5*time.Second, grpcChecks...); err != nil {
				logger.Error("grpc health server error", "err", err)
			}
		}()
	}

	if err := runtime.ServeHTTP(ctx, logger, srv, 10*time.Second); err != nil {
		logger.Error("http server error", "err", err)
	}
}

func newSender(logger *slog.Logger) (notify.Sender, error) {
	switch kind := config.String("NOTIFIER", "noop"); kind {
	case "noop":
		return notify.NewNoopSender(), nil
	case "webhook":
		url, err := config.RequiredString("NOTIFY_WEBHOOK_URL")
		if err != nil {
			return nil, err
		}
		return notify.NewWebhookSender(url, config.String("NOTIFY_WEBHOOK_TOKEN", ""), mustDuration("NOTIFY_TIMEOUT", 10*time.Second)), nil
	case "twilio":
		channel, err := notify.ParseChannel(config.String("NOTIFY_CHANNEL", "whatsapp"))
		if err != nil {
			return nil, err
		}
		sender, err := notify.NewTwilioSender(notify.TwilioConfig{
			AccountSID: config.String("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  config.String("TWILIO_AUTH_TOKEN", ""),
			From:       config.String("TWILIO_FROM", ""),
			Channel:    channel,
		})
		if err != nil {
			return nil, err
		}
		return sender, nil
	default:
		logger.Warn("unknown NOTIFIER", "value", kind)
		return nil, fmt.Errorf("unknown notifier %q", kind)
	}
}

func mustBool(key string, fallback bool) bool {
	v, err := config.Bool(key, fallback)
	if err != nil {
		panic(err)
	}
	return v
}

func mustInt(key string, fallback int) int {
	v, err := config.Int(key, fallback)
	if err != nil {
		panic(err)
	}
	return v
}

func mustDuration(key string, fallback time.Duration) time.Duration {
	v, err := config.Duration(key, fallback)
	if err != nil {
		panic(err)
	}
	return v
}
