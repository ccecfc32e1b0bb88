package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/config"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/events"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/gateway"
	checkoutHttp "github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/handler/http"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/idempotency"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/ledger"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/metrics"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/payment"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/settlement"
	"golang.org/x/time/rate"
)

const (
	redeliveryInterval = 30 * time.Second
	redeliveryBatch    = 50
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	setupLogger(cfg.App)

	log.Info().Msg("Checkout service starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pg.Close()

	if err := db.Migrate(pg.Pool, cfg.Postgres.MigrationsPath, cfg.Postgres.SSLMode); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var cache payment.Cache = payment.NopCache{}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unreachable, payment reads will fall back to Postgres")
		}
		cache = payment.NewRedisCache(rdb, cfg.Redis.PaymentCacheTTL)
	}

	var publisher events.Publisher = events.LogPublisher{}
	if cfg.Kafka.Enabled() {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.EventsTopic).Msg("Publishing events to Kafka")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close event publisher")
		}
	}()

	provider := gateway.NewClient(gateway.Config{
		BaseURL:   cfg.Gateway.BaseURL,
		SecretKey: cfg.Gateway.SecretKey,
		Timeout:   cfg.Gateway.Timeout,
	})

	stockRepo := inventory.NewRepository(pg.Pool)
	stock := inventory.NewLedger(stockRepo)
	cartRepo := cart.NewRepository(pg.Pool)
	orderRepo := order.NewRepository(pg.Pool)
	paymentRepo := payment.NewRepository(pg.Pool)
	keys := idempotency.NewStore(pg.Pool)

	ledgerReader := ledger.NewReader(pg.Pool)
	defer ledgerReader.Close()

	reconciler := settlement.NewReconciler(pg, paymentRepo, orderRepo, stock, ledger.NewRecorder(), publisher, cache, m)
	receiver := settlement.NewReceiver(cfg.Gateway.SecretKey, settlement.NewInbox(pg.Pool), reconciler, m)

	orchestrator := checkout.NewOrchestrator(pg, cartRepo, orderRepo, keys, stock, checkout.Pricing{
		Shipping: checkout.FlatShipping(cfg.Checkout.ShippingFee, cfg.Checkout.FreeShippingOver),
		Tax:      checkout.RateTax(cfg.Checkout.TaxRate),
		Discount: checkout.NoDiscount(),
	}, cfg.Checkout.DefaultCurrency, m)

	paymentSvc := payment.NewService(pg, paymentRepo, keys, orderRepo, provider, payment.DefaultChargers(provider),
		reconciler, cache, payment.ServiceConfig{CallbackURL: cfg.Gateway.CallbackURL})

	var limiter *rate.Limiter
	if cfg.Checkout.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Checkout.RateLimitRPS), cfg.Checkout.RateLimitBurst)
	}

	router := checkoutHttp.NewRouter(checkoutHttp.RouterDeps{
		Checkout: checkoutHttp.NewCheckoutHandler(orchestrator, cart.NewService(cartRepo, stock)),
		Orders:   checkoutHttp.NewOrderHandler(order.NewService(orderRepo), ledgerReader),
		Payments: checkoutHttp.NewPaymentHandler(paymentSvc, receiver),
		Metrics:  m,
		Limiter:  limiter,
	})

	go receiver.Run(ctx, redeliveryInterval, redeliveryBatch)

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}
	log.Info().Msg("Server stopped")
}

func setupLogger(cfg config.AppConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", "checkout-service").Logger()
}
