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
	"github.com/example/ec-platform/internal/authsvc"
	"github.com/example/ec-platform/internal/config"
	"github.com/example/ec-platform/internal/logging"
	"github.com/example/ec-platform/internal/store"
)

func main() {
	cfg, err := config.Load(envOr("ECP_CONFIG_DIR", "./configs"), envOr("ECP_ENV", "dev"))
	if err != nil {
		panic(err)
	}
	log := logging.Init("auth-service", cfg.App.LogDir+"/auth-service.log")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Connect(cfg.Postgres.URL, cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns)
	if err != nil {
		log.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	users := store.NewUserStore(db)
	if err := users.EnsureSchema(ctx); err != nil {
		log.Error("schema migration failed", "error", err)
		os.Exit(1)
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessExpiry, cfg.JWT.RefreshExpiry)
	svc := authsvc.NewService(users, jwtService)

	r := gin.New()
	r.Use(gin.Recovery())
	authsvc.NewHandlers(svc).Register(r)

	srv := &http.Server{
		Addr:         cfg.HTTP.AuthAddr,
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
