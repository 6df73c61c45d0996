package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/batisoft/batifact/internal/config"
	"github.com/batisoft/batifact/internal/db"
	"github.com/batisoft/batifact/internal/logging"
	"github.com/batisoft/batifact/internal/server"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logging.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if os.Getenv("DATABASE_DSN") == "" {
		_ = os.Setenv("DATABASE_DSN", cfg.DatabaseDSN)
	}
	gdb, err := db.ConnectAndMigrate()
	if err != nil {
		log.Fatal("store initialization failed", zap.Error(err))
	}

	app := server.NewApp(gdb, log)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server stopped", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("graceful shutdown incomplete", zap.Error(err))
	}
	log.Info("stopped")
}
