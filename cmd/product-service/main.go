package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/example/ec-platform/internal/auth"
	"github.com/example/ec-platform/internal/config"
	"github.com/example/ec-platform/internal/dedupe"
	"github.com/example/ec-platform/internal/events"
	"github.com/example/ec-platform/internal/logging"
	"github.com/example/ec-platform/internal/messaging"
	"github.com/example/ec-platform/internal/productsvc"
	"github.com/example/ec-platform/internal/store"
)

func main() {
	cfg, err := config.Load(envOr("ECP_CONFIG_DIR", "./configs"), envOr("ECP_ENV", "dev"))
	if err != nil {
		panic(err)
	}
	log := logging.Init("product-service", cfg.App.LogDir+"/product-service.log")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Connect(cfg.Postgres.URL, cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns)
	if err != nil {
		log.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	catalog := store.NewProductStore(db)
	ledger := store.NewInventoryStore(db)
	if err := catalog.EnsureSchema(ctx); err != nil {
		log.Error("schema migration failed", "error", err)
		os.Exit(1)
	}
	if err := ledger.EnsureSchema(ctx); err != nil {
		log.Error("schema migration failed", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
	defer rdb.Close()

	mq := messaging.NewClient(cfg.Rabbit.URL,
		messaging.WithBackoff(cfg.Rabbit.ReconnectBackoff, cfg.Rabbit.MaxReconnectWait))
	defer mq.Close()

	publisher, err := messaging.NewPublisher(ctx, mq, events.ProductExchange)
	if err != nil {
		log.Error("publisher setup failed", "error", err)
		os.Exit(1)
	}

	svc := productsvc.NewService(catalog, ledger, publisher)
	orchestrator := productsvc.NewOrchestrator(svc, dedupe.NewRedisStore(rdb, cfg.Dedupe.TTL))

	consumer := messaging.NewConsumer(mq, messaging.QueueSpec{
		Queue:        "product-service.order-events",
		Exchange:     events.OrderExchange,
		Bindings: []string{
			events.OrderCreated,
			events.OrderPaid,
			events.OrderCancelled,
			events.OrderRefunded,
			events.OrderItemAdded,
			events.OrderItemRemoved,
		},
		DLExchange:   events.OrderExchange + ".dlx",
		DLQueue:      "product-service.order-events.dlq",
		DLRoutingKey: "dead-letter",
	}, orchestrator.Handle)
	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("consumer stopped", "error", err)
			stop()
		}
	}()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessExpiry, cfg.JWT.RefreshExpiry)
	r := gin.New()
	r.Use(gin.Recovery())
	productsvc.NewHandlers(svc).Register(r, jwtService)

	srv := &http.Server{
		Addr:         cfg.HTTP.ProductAddr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	go func() {
		log.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
