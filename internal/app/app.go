package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bookshop-orders/internal/domain/cart"
	"github.com/xenking/bookshop-orders/internal/domain/checkout"
	"github.com/xenking/bookshop-orders/internal/domain/order"
	"github.com/xenking/bookshop-orders/internal/handler"
	"github.com/xenking/bookshop-orders/internal/outbox"
	"github.com/xenking/bookshop-orders/internal/storage/postgres"
	"github.com/xenking/bookshop-orders/pkg/health"
	"github.com/xenking/bookshop-orders/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the outbox relay,
// and handles graceful shutdown. It is the single wiring point for the
// application. m is usually the *app.Telemetry of go-faster/sdk.
func Run(ctx context.Context, lg *zap.Logger, m httpmiddleware.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.Bool("strict_transitions", cfg.Payment.StrictTransitions),
		zap.Bool("outbox", cfg.Outbox.Enabled()),
	)

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.Database.MaxConns)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	defer healthSvc.Stop()

	// Repositories outside a transaction.
	bookRepo := postgres.NewBookRepository(pool)
	cartRepo := postgres.NewCartRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	uow := postgres.NewUnitOfWork(pool, postgres.UnitOfWorkConfig{
		TxTimeout:   cfg.Database.TxTimeout,
		LockTimeout: cfg.Database.LockTimeout,
		Events:      cfg.Outbox.Enabled(),
	})
	checkoutSvc, err := checkout.NewService(uow, order.NewNumberGenerator(), checkout.Options{
		OrderNumberAttempts: cfg.Checkout.OrderNumberAttempts,
		StrictTransitions:   cfg.Payment.StrictTransitions,
		TracerProvider:      m.TracerProvider(),
		MeterProvider:       m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create checkout service")
	}
	cartSvc := cart.NewService(cartRepo, bookRepo)

	// HTTP handlers.
	h := handler.NewHandler(
		handler.Config{CallbackSecret: []byte(cfg.Payment.CallbackSecret)},
		bookRepo,
		cartSvc,
		checkoutSvc,
	)
	security := handler.NewSecurity(apikeyRepo, []byte(cfg.APIKeyPepper))

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux, security.RequireAPIKey())
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.RequestID(),
			httpmiddleware.Recovery(),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				RPS:     cfg.RateLimit.RPS,
				Burst:   cfg.RateLimit.Burst,
				KeyFunc: httpmiddleware.HeaderKey(handler.HeaderAPIKey),
			}),
			httpmiddleware.Instrument("bookshop-api", routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Outbox.Enabled() {
		pub := outbox.NewKafkaPublisher(cfg.Outbox.Brokers, cfg.Outbox.Topic, lg.Named("outbox"))
		defer func() {
			if err := pub.Close(); err != nil {
				lg.Warn("Close kafka publisher", zap.Error(err))
			}
		}()
		relay := outbox.NewRelay(postgres.NewOutboxStore(pool), pub, outbox.RelayConfig{
			BatchSize: cfg.Outbox.BatchSize,
			Interval:  cfg.Outbox.Interval,
		})
		g.Go(func() error {
			lg.Info("Outbox relay started", zap.Strings("brokers", cfg.Outbox.Brokers), zap.String("topic", cfg.Outbox.Topic))
			return relay.Run(zctx.Base(gCtx, lg.Named("outbox")))
		})
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
		<-gCtx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})

	g.Go(func() error {
		healthSvc.SetReady(true)
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
