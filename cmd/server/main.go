package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shop-assistant/config"
	"shop-assistant/internal/api"
	"shop-assistant/internal/broker"
	"shop-assistant/internal/catalog"
	"shop-assistant/internal/classifier"
	"shop-assistant/internal/payment"
	"shop-assistant/internal/redisclient"
	"shop-assistant/internal/service"
	"shop-assistant/internal/store"
	"shop-assistant/internal/util"
	"shop-assistant/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	tp, err := util.InitTracer("shop-assistant", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(ctx)
		}()
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	cache, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer cache.Close()

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayments)
	defer producer.Close()
	publisher := broker.NewEventPublisher(producer)

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPayments, cfg.Kafka.ConsumerGroup)
	defer consumer.Close()

	cat := buildCatalog(cfg, cache, logger)
	gateway := buildGateway(cfg, logger)
	intents := classifier.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL, cfg.Business.ClassifyTimeout)

	orchestrator := service.NewOrchestrator(
		intents, cat, gateway, db, cache, publisher,
		cfg.Business, cfg.Server.AppURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	webhookWorker := worker.NewWebhookWorker(consumer, orchestrator)
	go func() {
		if err := webhookWorker.Start(ctx); err != nil && err != context.Canceled {
			logger.Error("Webhook worker stopped", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	readyCheck := func(ctx context.Context) error {
		if err := db.GetDB().PingContext(ctx); err != nil {
			return err
		}
		return cache.GetClient().Ping(ctx).Err()
	}
	handler := api.NewHandler(orchestrator, publisher, readyCheck)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.Info("Server starting",
			zap.String("port", cfg.Server.Port),
			zap.String("catalog", cat.Name()),
			zap.String("provider", gateway.Provider()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Forced shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

func buildCatalog(cfg *config.Config, cache *redisclient.Client, logger *zap.Logger) catalog.Catalog {
	var backend catalog.Catalog
	switch cfg.Catalog.Backend {
	case "shopify":
		backend = catalog.NewShopify(
			cfg.Catalog.ShopifyShop, cfg.Catalog.ShopifyToken,
			cfg.Catalog.ShopifyAPIVer, cfg.Business.Currency, cfg.Business.CatalogTimeout)
	case "fakestore":
		backend = catalog.NewFakeStore(cfg.Catalog.FakeStoreURL, cfg.Business.Currency, cfg.Business.CatalogTimeout)
	default:
		logger.Fatal("Unknown catalog backend", zap.String("backend", cfg.Catalog.Backend))
	}
	return catalog.WithCache(backend, cache)
}

func buildGateway(cfg *config.Config, logger *zap.Logger) payment.Gateway {
	switch cfg.Payment.Provider {
	case "paypal":
		return payment.NewPayPal(
			cfg.Payment.PayPalBaseURL, cfg.Payment.PayPalClientID,
			cfg.Payment.PayPalSecret, cfg.Business.PaymentTimeout)
	case "stripe":
		return payment.NewStripe(cfg.Payment.StripeBaseURL, cfg.Payment.StripeSecretKey, cfg.Business.PaymentTimeout)
	default:
		logger.Fatal("Unknown payment provider", zap.String("provider", cfg.Payment.Provider))
		return nil
	}
}
