package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/api"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/auth"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/config"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/domain"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/notify"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/outbox"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/pairing"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/persistence/postgres"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/persistence/sqlite"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/platform/logger"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/realtime"
	httptransport "github.com/VinoGram/echo-couples-connection-app-sub000/internal/transport/http"
)

// backend is the store wiring chosen by STORE_DRIVER.
type backend struct {
	store     domain.RecordStore
	directory pairing.Directory
	sinks     domain.CompletionSinks
	closers   []func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var b backend
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		b, err = sqliteBackend(cfg, log)
	default:
		b, err = postgresBackend(ctx, cfg, log)
	}
	if err != nil {
		log.Fatal("failed to initialise store", "driver", cfg.StoreDriver, "error", err)
	}
	defer func() {
		for i := len(b.closers) - 1; i >= 0; i-- {
			b.closers[i]()
		}
	}()

	if cfg.RedisAddr != "" {
		pub, err := realtime.NewRedisPublisher(log, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			log.Warn("redis unavailable, realtime fan-out disabled", "addr", cfg.RedisAddr, "error", err)
		} else {
			b.sinks = append(b.sinks, pub)
			b.closers = append(b.closers, func() { _ = pub.Close() })
		}
	}

	service := domain.NewService(b.store, pairing.NewResolver(b.directory),
		domain.WithLogger(log),
		domain.WithCompletionSink(b.sinks),
	)

	mux := http.NewServeMux()
	api.NewHandler(service, log).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	handler := httptransport.Chain(mux,
		httptransport.CORS(cfg.CORSOrigin),
		httptransport.RequestLogger(log),
		authMiddleware.Wrap,
	)
	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress), handler)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("couples activity service listening", "address", cfg.HTTPAddress, "driver", cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", "error", err)
		}
	}()

	<-shutdownCh
	log.Info("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", "error", err)
	}
}

// postgresBackend stores records and the outbox in Postgres. Completion
// notifications leave through the dispatcher and cmd/consumer.
func postgresBackend(ctx context.Context, cfg config.Config, log *logger.Logger) (backend, error) {
	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return backend{}, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return backend{}, err
	}

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
	dispatcher := outbox.NewDispatcher(pool, producer, registry, log.With("component", "outbox"), cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	go dispatcher.Start(ctx)

	repo := postgres.NewRepository(pool)
	return backend{
		store:     repo,
		directory: repo,
		closers: []func(){
			pool.Close,
			func() { _ = producer.Close() },
			dispatcher.Wait,
		},
	}, nil
}

// sqliteBackend runs everything in-process, so the notifier is called
// directly after each completing write.
func sqliteBackend(cfg config.Config, log *logger.Logger) (backend, error) {
	store, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		return backend{}, err
	}

	var delivery notify.Delivery = notify.NoopDelivery{}
	if cfg.NotifyWebhookURL != "" {
		delivery = notify.NewHTTPDelivery(cfg.NotifyWebhookURL, cfg.NotifyWebhookToken, cfg.NotifyTimeout)
	}
	notifier := notify.NewNotifier(store, delivery, log.With("component", "notify"))

	return backend{
		store:     store,
		directory: store,
		sinks:     domain.CompletionSinks{notifier},
		closers:   []func(){func() { _ = store.Close() }},
	}, nil
}
