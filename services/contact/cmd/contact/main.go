package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadmachine/internal/ratelimit"
	"leadmachine/internal/util"
	"leadmachine/pkg/ai"
	"leadmachine/pkg/store"
	"leadmachine/services/contact/internal/app"
	"leadmachine/services/contact/internal/config"
	"leadmachine/services/contact/internal/server"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var generator ai.TextGenerator
	if cfg.AIAPIKey != "" || cfg.AIProvider == "ollama" {
		generator, err = ai.NewTextGenerator(ai.ProviderConfig{
			Provider: cfg.AIProvider,
			BaseURL:  cfg.AIBaseURL,
			APIKey:   cfg.AIAPIKey,
			Model:    cfg.AIModel,
		})
		if err != nil {
			util.Fatal("failed to init acknowledgment provider", "err", err)
		}
	} else {
		logger.Warn("acknowledgment provider not configured, using canned replies")
	}

	appCfg := app.Config{
		DatabaseURL: cfg.DatabaseURL,
		Generator:   generator,
		Timeout:     time.Duration(cfg.AITimeoutSeconds) * time.Second,
	}
	if cfg.UsesMemoryStore() {
		appCfg.Store = store.NewMemoryStore()
	}
	appCore, err := app.New(appCfg)
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	var limiter ratelimit.Limiter
	if n := cfg.RateLimitPerMinute; n > 0 {
		if cfg.RedisAddr != "" {
			limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "leadmachine:ratelimit:contact", n, time.Minute)
		} else {
			limiter, err = ratelimit.NewLocalLimiter(n, time.Minute)
		}
		if err != nil {
			util.Fatal("failed to init rate limiter", "err", err)
		}
	}
	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		util.Fatal("failed to parse trusted proxies", "err", err)
	}

	httpServer, err := server.New(server.Config{App: appCore, Limiter: limiter, TrustedProxies: trustedProxies})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("contact server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
