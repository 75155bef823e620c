package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/go_storefront/internal/backend/addresses"
	"github.com/fjod/go_storefront/internal/backend/carts"
	"github.com/fjod/go_storefront/internal/backend/catalog"
	"github.com/fjod/go_storefront/internal/backend/coupons"
	h "github.com/fjod/go_storefront/internal/backend/http"
	"github.com/fjod/go_storefront/internal/backend/inventory"
	"github.com/fjod/go_storefront/internal/backend/orders"
	"github.com/fjod/go_storefront/internal/backend/payments"
	"github.com/fjod/go_storefront/internal/backend/storage"
	"github.com/fjod/go_storefront/internal/config"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/logger"
	"github.com/fjod/go_storefront/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

func main() {
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	cfg, err := config.LoadBackend(*envFile)
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}
	log := logger.New(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("backend stopped with error", zap.Error(err))
	}
}

func run(cfg *config.BackendConfig, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Postgres: orders, outbox, address book
	pg, err := storage.ConnectPostgres(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := storage.RunMigrations(pg); err != nil {
		return err
	}
	log.Info("connected to postgres", zap.String("host", cfg.Postgres.Host), zap.String("db", cfg.Postgres.DBName))

	mongoDB, err := storage.ConnectMongoDB(ctx, cfg.Mongo.URI, cfg.Mongo.DBName)
	if err != nil {
		return err
	}
	defer mongoDB.Client().Disconnect(context.Background())
	log.Info("connected to mongodb", zap.String("db", cfg.Mongo.DBName))

	redisClient, err := storage.ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))

	otel.SetTextMapPropagator(propagation.TraceContext{})
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store := domain.StoreConfig{
		CODEnabled:            cfg.Store.CODEnabled,
		OnlineEnabled:         cfg.Store.OnlineEnabled,
		Currency:              cfg.Store.Currency,
		TaxRate:               cfg.Store.TaxRate,
		ShippingFee:           cfg.Store.ShippingFee,
		FreeShippingThreshold: cfg.Store.FreeShippingThreshold,
	}

	// catalog and stock
	products, err := catalog.LoadSeed(cfg.Catalog.SeedPath)
	if err != nil {
		return err
	}
	stock := inventory.NewMemoryStore(cfg.Inventory.ReservationTTL, cfg.Inventory.SweepInterval, log)
	defer stock.Close()
	stock.Seed(products)
	productCatalog := catalog.New(products, stock)
	log.Info("catalog loaded", zap.Int("products", len(products)))

	// carts
	cartRepo := carts.NewMongoRepository(mongoDB)
	if err := cartRepo.CreateIndexes(ctx); err != nil {
		return err
	}
	cartService := carts.NewService(cartRepo, carts.NewRedisCache(redisClient, cfg.Redis.CacheTTL), productCatalog, log)

	// coupons
	couponRepo := coupons.NewMongoRepository(mongoDB)
	if err := couponRepo.CreateIndexes(ctx); err != nil {
		return err
	}
	couponService := coupons.NewService(couponRepo, log)
	seed, err := coupons.LoadSeed(cfg.Coupons.SeedPath)
	if err != nil {
		return err
	}
	if err := couponService.Seed(ctx, seed); err != nil {
		return err
	}

	gateway := payments.NewGateway(payments.Config{
		KeyID:     cfg.Payment.KeyID,
		Secret:    cfg.Payment.Secret,
		PublicURL: cfg.HTTP.PublicURL,
	}, payments.RandomCharger{}, log)

	orderRepo := orders.NewPostgresRepository(pg)
	orderService := orders.NewService(orders.Deps{
		Repo:      orderRepo,
		Catalog:   productCatalog,
		Inventory: stock,
		Coupons:   couponService,
		Payments:  gateway,
		Store:     store,
	}, log, m)

	server := h.NewServer(h.Deps{
		Catalog:   productCatalog,
		Carts:     cartService,
		Addresses: addresses.NewBook(addresses.NewPostgresRepository(pg)),
		Coupons:   couponService,
		Payments:  gateway,
		Orders:    orderService,
		Store:     store,
		Tokens:    h.NewTokens(cfg.JWT),
		Gatherer:  reg,
	}, h.Options{
		RequestTimeout: cfg.HTTP.RequestTimeout,
		MaxBodySize:    cfg.HTTP.MaxBodySize,
	}, log)

	// background workers
	var wg sync.WaitGroup
	publisher := orders.NewPublisher(orderRepo, orders.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic),
		cfg.Outbox.PollInterval, cfg.Outbox.BatchSize, log)
	defer publisher.Close()
	consumer := carts.NewConsumer(carts.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID), cartService, log)
	defer consumer.Close()

	wg.Add(2)
	go func() {
		defer wg.Done()
		publisher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		consumer.Run(ctx)
	}()

	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      server.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.HTTP.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("backend listening", zap.String("port", cfg.HTTP.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		stop()
		wg.Wait()
		return err
	}

	log.Info("shutting down backend")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	wg.Wait()
	log.Info("backend stopped")
	return nil
}
