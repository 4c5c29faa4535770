package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-service/config"
	"checkout-service/internal/api"
	"checkout-service/internal/auth"
	"checkout-service/internal/broker"
	"checkout-service/internal/notify"
	"checkout-service/internal/payment"
	"checkout-service/internal/pricing"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/service"
	"checkout-service/internal/store"
	"checkout-service/internal/util"
	"checkout-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(util.LogOptions{
		Env:     cfg.Server.Env,
		Level:   cfg.Observ.LogLevel,
		Service: cfg.Observ.ServiceName,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting checkout service")

	tp, err := util.InitTracer(util.TracerOptions{
		ServiceName: cfg.Observ.ServiceName,
		Environment: cfg.Server.Env,
		Endpoint:    cfg.Observ.JaegerEndpoint,
		SampleRatio: cfg.Observ.TraceSampleRatio,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer db.Close()
	logger.Info("Store ready", zap.String("backend", cfg.Store.Backend))

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	var bus notify.Bus
	switch cfg.Notify.Backend {
	case "redis":
		bus = notify.NewRedisBus(redisClient.GetClient(), cfg.Notify.ChannelPrefix)
	default:
		bus = notify.NewMemoryBus()
	}

	var events service.EventPublisher = broker.NoopPublisher{}
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer producer.Close()
		events = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOrder))
	}

	codec, err := payment.NewCodec(cfg.Business.CodePrefix, cfg.Business.CodeSuffix)
	if err != nil {
		log.Fatalf("Invalid payment code format: %v", err)
	}
	bank := payment.BankAccount{
		BankCode:      cfg.Bank.Code,
		AccountNumber: cfg.Bank.AccountNumber,
		AccountName:   cfg.Bank.AccountName,
		Currency:      cfg.Bank.Currency,
		QRBaseURL:     cfg.Bank.QRBaseURL,
	}

	notifier := service.NewNotifier(bus, events)
	guard := service.NewRedisGuard(redisClient, cfg.Business.IdempotencyTTL)

	orderService := service.NewOrderService(db, pricing.NewEngine(), codec, bank, notifier, cfg.Business.PaymentTTL)
	reconciler := service.NewReconciler(db, codec, notifier, guard)
	adminService := service.NewAdminService(db, notifier)
	expiryService := service.NewExpiryService(db, notifier)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	expiryWorker := worker.NewExpiryWorker(expiryService, redisClient, cfg.Business.ExpirySweepInterval)
	go func() {
		if err := expiryWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Expiry worker error", zap.Error(err))
		}
	}()

	var notificationWorker *worker.NotificationWorker
	if cfg.Kafka.Enabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, cfg.Kafka.ConsumerGroup)
		notificationWorker = worker.NewNotificationWorker(consumer, reconciler)
		go func() {
			if err := notificationWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Notification worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Orders:      orderService,
		Reconciler:  reconciler,
		Admin:       adminService,
		Bus:         bus,
		Tokens:      auth.NewTokens(cfg.Auth.JWTSecret, 0),
		WebhookKeys: cfg.Auth.WebhookKeys,
		Provider:    cfg.Auth.WebhookProvider,
		Ready:       []api.Pinger{db, redisClient},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// streams end when the bus closes, letting Shutdown drain them
	if err := bus.Close(); err != nil {
		logger.Warn("Error closing notification bus", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if notificationWorker != nil {
		if err := notificationWorker.Stop(); err != nil {
			logger.Warn("Error stopping notification worker", zap.Error(err))
		}
	}
	notifier.Wait()

	logger.Info("Server exited")
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Store.Backend == "memory" {
		return store.NewMemoryStore(), nil
	}

	pg, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Migrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
	}
	return pg, nil
}
