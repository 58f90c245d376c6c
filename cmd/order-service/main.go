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

	"github.com/example/ec-platform/internal/auth"
	"github.com/example/ec-platform/internal/breaker"
	"github.com/example/ec-platform/internal/config"
	"github.com/example/ec-platform/internal/domain/product"
	"github.com/example/ec-platform/internal/events"
	"github.com/example/ec-platform/internal/logging"
	"github.com/example/ec-platform/internal/messaging"
	"github.com/example/ec-platform/internal/ordersvc"
	"github.com/example/ec-platform/internal/store"
)

func main() {
	cfg, err := config.Load(envOr("ECP_CONFIG_DIR", "./configs"), envOr("ECP_ENV", "dev"))
	if err != nil {
		panic(err)
	}
	log := logging.Init("order-service", cfg.App.LogDir+"/order-service.log")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Connect(cfg.Postgres.URL, cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns)
	if err != nil {
		log.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	orders := store.NewOrderStore(db)
	if err := orders.EnsureSchema(ctx); err != nil {
		log.Error("schema migration failed", "error", err)
		os.Exit(1)
	}

	mq := messaging.NewClient(cfg.Rabbit.URL,
		messaging.WithBackoff(cfg.Rabbit.ReconnectBackoff, cfg.Rabbit.MaxReconnectWait))
	defer mq.Close()

	publisher, err := messaging.NewPublisher(ctx, mq, events.OrderExchange)
	if err != nil {
		log.Error("publisher setup failed", "error", err)
		os.Exit(1)
	}

	// A missing product is an answer, not an outage.
	productBreaker := breaker.New("product-service", breaker.Settings{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		CallTimeout:      cfg.Breaker.CallTimeout,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, product.ErrNotFound)
		},
	})
	catalog := ordersvc.NewHTTPCatalog(cfg.ProductService.BaseURL, productBreaker)

	svc := ordersvc.NewService(orders, publisher, catalog)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessExpiry, cfg.JWT.RefreshExpiry)

	r := gin.New()
	r.Use(gin.Recovery())
	ordersvc.NewHandlers(svc).Register(r, jwtService)

	consumer := messaging.NewConsumer(mq, messaging.QueueSpec{
		Queue:        "order-service.product-events",
		Exchange:     events.ProductExchange,
		Bindings:     []string{events.ProductUpdated, events.ProductDeleted},
		DLExchange:   events.ProductExchange + ".dlx",
		DLQueue:      "order-service.product-events.dlq",
		DLRoutingKey: "dead-letter",
	}, ordersvc.NewProductEventHandler(orders).Handle)
	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("consumer stopped", "error", err)
			stop()
		}
	}()

	srv := &http.Server{
		Addr:         cfg.HTTP.OrderAddr,
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
