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

	"ticketing-service/config"
	"ticketing-service/internal/api"
	"ticketing-service/internal/broker"
	"ticketing-service/internal/gateway"
	"ticketing-service/internal/redisclient"
	"ticketing-service/internal/service"
	"ticketing-service/internal/store"
	"ticketing-service/internal/util"
	"ticketing-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting ticketing service")

	tp, err := util.InitTracer("ticketing-service", cfg.Observ.JaegerEndpoint)
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

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicTickets)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:        cfg.Gateway.BaseURL,
		ConsumerKey:    cfg.Gateway.ConsumerKey,
		ConsumerSecret: cfg.Gateway.ConsumerSecret,
		Timeout:        cfg.Gateway.Timeout,
	})

	resolver := service.NewReferenceResolver(db)
	reconciler := service.NewStatusReconciler(gatewayClient, resolver, db, eventPublisher, redisClient)
	purchaseService := service.NewPurchaseService(db, redisClient, gatewayClient, eventPublisher, reconciler,
		cfg.Gateway.CallbackURL, cfg.Gateway.NotificationID)

	// Warm up the gateway token; failure is not fatal, the first request
	// authenticates lazily.
	warmupCtx, warmupCancel := context.WithTimeout(context.Background(), cfg.Gateway.Timeout)
	if _, _, err := gatewayClient.Authenticate(warmupCtx); err != nil {
		log.Printf("Gateway token warm-up failed: %v", err)
	}
	warmupCancel()

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	ticketConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicTickets, cfg.Kafka.ConsumerGroup)
	ticketWorker := worker.NewTicketWorker(ticketConsumer, db)
	go func() {
		if err := ticketWorker.Start(workerCtx); err != nil {
			log.Printf("Ticket worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(purchaseService, reconciler)
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
	ticketWorker.Stop()

	log.Println("Server exited")
}
