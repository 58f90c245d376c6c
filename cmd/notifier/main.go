package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/ec-platform/internal/config"
	"github.com/example/ec-platform/internal/dedupe"
	"github.com/example/ec-platform/internal/email"
	"github.com/example/ec-platform/internal/events"
	"github.com/example/ec-platform/internal/logging"
	"github.com/example/ec-platform/internal/messaging"
	"github.com/example/ec-platform/internal/notify"
	"github.com/example/ec-platform/internal/store"
)

func main() {
	cfg, err := config.Load(envOr("ECP_CONFIG_DIR", "./configs"), envOr("ECP_ENV", "dev"))
	if err != nil {
		panic(err)
	}
	log := logging.Init("notifier", cfg.App.LogDir+"/notifier.log")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Connect(cfg.Postgres.URL, cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns)
	if err != nil {
		log.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
	defer rdb.Close()

	mq := messaging.NewClient(cfg.Rabbit.URL,
		messaging.WithBackoff(cfg.Rabbit.ReconnectBackoff, cfg.Rabbit.MaxReconnectWait))
	defer mq.Close()

	handler := notify.NewHandler(
		email.NewService(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From),
		store.NewUserStore(db),
		store.NewOrderStore(db),
		dedupe.NewRedisStore(rdb, cfg.Dedupe.TTL),
	)

	consumer := messaging.NewConsumer(mq, messaging.QueueSpec{
		Queue:        "notifier.order-events",
		Exchange:     events.OrderExchange,
		Bindings:     []string{events.OrderCreated, events.OrderShipped},
		DLExchange:   events.OrderExchange + ".dlx",
		DLQueue:      "notifier.order-events.dlq",
		DLRoutingKey: "dead-letter",
	}, handler.Handle)

	log.Info("consuming order events")
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
	log.Info("shutting down")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
