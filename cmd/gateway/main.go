package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ec-platform/internal/config"
	"github.com/example/ec-platform/internal/gateway"
	"github.com/example/ec-platform/internal/logging"
)

func main() {
	cfg, err := config.Load(envOr("ECP_CONFIG_DIR", "./configs"), envOr("ECP_ENV", "dev"))
	if err != nil {
		panic(err)
	}
	log := logging.Init("gateway", cfg.App.LogDir+"/gateway.log")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
	defer rdb.Close()

	limiter := gateway.NewRedisLimiter(rdb, cfg.RateLimit.Requests, cfg.RateLimit.Window)
	engine, err := gateway.New(gateway.Upstreams{
		Auth:    "http://" + hostport(cfg.HTTP.AuthAddr),
		Users:   "http://" + hostport(cfg.HTTP.UserAddr),
		Orders:  "http://" + hostport(cfg.HTTP.OrderAddr),
		Product: "http://" + hostport(cfg.HTTP.ProductAddr),
	}, limiter)
	if err != nil {
		log.Error("gateway setup failed", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.GatewayAddr,
		Handler:      engine,
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

// hostport fills in localhost for listen addresses given as ":8081".
func hostport(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
