// Command billingd runs the billing HTTP service: checkout initiation,
// webhook ingestion, and subscription status for the creator platform.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/creatorshop/billing/pkg/billing"
	"github.com/creatorshop/billing/pkg/changefeed"
	"github.com/creatorshop/billing/pkg/config"
	"github.com/creatorshop/billing/pkg/httpserver"
	"github.com/creatorshop/billing/pkg/logger"
	"github.com/creatorshop/billing/pkg/pg"
	"github.com/creatorshop/billing/pkg/redis"
	"github.com/creatorshop/billing/svc/billinghttp"
)

type appConfig struct {
	Logger logger.Config
	Server httpserver.Config
	DB     pg.Config
	Redis  redis.Config
	Stripe billing.StripeConfig
	Prices billing.PriceTable
	Auth   billinghttp.AuthConfig

	CacheTTL time.Duration `env:"ENTITLEMENT_CACHE_TTL" envDefault:"1m"`
}

func main() {
	ctx := context.Background()

	var cfg appConfig
	config.MustLoad(&cfg)

	log := logger.New(cfg.Logger, os.Stdout)

	if err := run(ctx, cfg, log); err != nil {
		log.ErrorContext(ctx, "billingd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, cfg.DB, log); err != nil {
		return err
	}

	provider, err := billing.NewStripeProvider(cfg.Stripe)
	if err != nil {
		return err
	}

	feed := changefeed.New[uuid.UUID](8)
	defer feed.Close()

	svc := billing.NewService(
		provider,
		billing.NewPostgresSubscriptionStore(pool),
		billing.NewPostgresEntitlementStore(pool),
		billing.NewPostgresProfileStore(pool),
		cfg.Prices,
		billing.WithLogger(log),
		billing.WithFeed(feed),
	)

	gateOpts := []billing.GateOption{billing.WithGateLogger(log)}
	if cache, err := redis.Connect(ctx, cfg.Redis); err != nil {
		// The gate degrades to direct store reads without a cache.
		log.WarnContext(ctx, "redis unavailable, entitlement cache disabled", "error", err)
	} else {
		defer cache.Close()
		gateOpts = append(gateOpts, billing.WithCache(cache, cfg.CacheTTL))
	}
	gate := billing.NewFeatureGate(billing.NewPostgresEntitlementStore(pool), gateOpts...)

	verifier, err := billinghttp.NewTokenVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/health", healthHandler(pg.Healthcheck(pool)))
	r.Mount("/billing", billinghttp.NewHandler(svc, gate, verifier, log).Router())

	return httpserver.Run(ctx, cfg.Server, r, log)
}

func healthHandler(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := check(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
