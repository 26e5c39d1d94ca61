// Command stripesync runs the webhook-driven billing-state synchronizer:
// it receives Stripe events, reconciles per-user subscription records into
// the configured store, and serves the portal and manual-sync endpoints.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/stripesync/pkg/api"
	"github.com/mihaimyh/stripesync/pkg/billing"
	zerologadapter "github.com/mihaimyh/stripesync/pkg/billing/logger/zerolog"
	prommetrics "github.com/mihaimyh/stripesync/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/stripesync/pkg/billing/stripeapi"
	"github.com/mihaimyh/stripesync/pkg/config"
	firestorestore "github.com/mihaimyh/stripesync/storage/firestore"
	memorystore "github.com/mihaimyh/stripesync/storage/memory"
	postgresstore "github.com/mihaimyh/stripesync/storage/postgres"
	redisstore "github.com/mihaimyh/stripesync/storage/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	zlog := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := zerologadapter.NewLogger(zlog)
	metrics := prommetrics.DefaultMetrics("stripesync")

	store, cleanup, err := newStore(ctx, cfg)
	if err != nil {
		zlog.Fatal().Err(err).Str("backend", cfg.StorageBackend).Msg("failed to initialize store")
	}
	defer cleanup()

	provider, err := stripeapi.NewClient(cfg.StripeAPIKey, metrics)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to create stripe client")
	}

	reconciler, err := billing.NewReconciler(billing.Config{
		Store:           store,
		Provider:        provider,
		Tiers:           billing.NewTierResolver(cfg.TierMapping, cfg.DefaultTier, logger),
		PortalReturnURL: cfg.PortalReturnURL,
		Logger:          logger,
		Metrics:         metrics,
	})
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to create reconciler")
	}

	handler, err := api.NewHandler(api.Config{
		Reconciler:    reconciler,
		WebhookSecret: cfg.StripeWebhookSecret,
		GetUserID:     api.FromHeader(cfg.AuthHeader),
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to create handler")
	}

	router := chi.NewRouter()
	router.Mount("/", handler.Routes())
	router.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zlog.Info().Str("addr", cfg.ListenAddr).Str("backend", cfg.StorageBackend).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		zlog.Fatal().Err(err).Msg("server error")
	}
	zlog.Info().Msg("shutdown complete")
}

// newStore builds the record store for the configured backend. The returned
// cleanup closes backend connections.
func newStore(ctx context.Context, cfg *config.Config) (billing.Store, func(), error) {
	switch cfg.StorageBackend {
	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return nil, nil, err
		}
		store, err := firestorestore.New(client, firestorestore.Config{
			Collection: cfg.FirestoreCollection,
		})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil

	case config.BackendPostgres:
		pgConfig := postgresstore.DefaultConfig()
		pgConfig.ConnectionString = cfg.PostgresDSN
		store, err := postgresstore.New(ctx, pgConfig)
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, store.Close, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		store, err := redisstore.New(client, redisstore.Config{})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil

	case config.BackendMemory:
		return memorystore.New(), func() {}, nil

	default:
		return nil, nil, errors.New("unknown storage backend " + cfg.StorageBackend)
	}
}
