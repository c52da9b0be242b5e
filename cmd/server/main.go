package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"redemption-engine/config"
	"redemption-engine/internal/api"
	"redemption-engine/internal/broker"
	"redemption-engine/internal/redisclient"
	"redemption-engine/internal/service"
	"redemption-engine/internal/store"
	"redemption-engine/internal/util"
	"redemption-engine/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting redemption engine")

	tp, err := util.InitTracer("redemption-engine", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	sessionProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSessions)
	defer sessionProducer.Close()
	reconciliationProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReconciliation)
	defer reconciliationProducer.Close()
	log.Println("Kafka producers initialized")

	eventPublisher := broker.NewEventPublisher(sessionProducer, reconciliationProducer)

	limiter := service.NewSlidingWindowLimiter(redisClient, db, cfg.Business.RateLimitCount, cfg.Business.RateLimitWindow)
	chainClient := service.NewSimulatedChainClient(0.95)

	sessionService := service.NewSessionService(
		db, db, limiter, eventPublisher, redisClient,
		cfg.Business.SessionTTL,
		cfg.Business.MinRedemption, cfg.Business.MaxRedemption,
	)
	promoService := service.NewPromoService(db, db)
	settlementService := service.NewSettlementService(
		sessionService, db, chainClient, db, eventPublisher,
		cfg.Business.LedgerScope,
	)
	rewardService := service.NewRewardService(promoService, db, db, cfg.Business.LedgerScope)

	sweeper := worker.NewSweeper(db, cfg.Business.SweepInterval, cfg.Business.ProcessedEventTTL)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("Failed to start sweeper: %v", err)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	reconciliationConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicReconciliation, cfg.Kafka.ConsumerGroup)
	reconciliationWorker := worker.NewReconciliationWorker(reconciliationConsumer, settlementService, db)
	go func() {
		if err := reconciliationWorker.Start(workerCtx); err != nil {
			log.Printf("Reconciliation worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(sessionService, promoService, settlementService, rewardService)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	if err := reconciliationWorker.Stop(); err != nil {
		log.Printf("Error stopping reconciliation worker: %v", err)
	}
	sweeper.Stop()

	log.Println("Server exited")
}
