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
	"leadmachine/internal/servicetoken"
	"leadmachine/internal/usertoken"
	"leadmachine/internal/util"
	"leadmachine/pkg/ai"
	"leadmachine/pkg/queue"
	"leadmachine/pkg/storage"
	"leadmachine/pkg/store"
	"leadmachine/services/leads/internal/app"
	"leadmachine/services/leads/internal/config"
	"leadmachine/services/leads/internal/server"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		util.Fatal("failed to parse jwt leeway", "err", err)
	}
	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		HMACSecret: cfg.JWTSecret,
		JWKSURL:    cfg.JWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     jwtLeeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		util.Fatal("failed to init token verifier", "err", err)
	}

	researchTimeout := time.Duration(cfg.ResearchTimeoutSeconds) * time.Second
	var researcher ai.TextGenerator
	if cfg.ResearchAPIKey != "" {
		temperature := cfg.ResearchTemperature
		researcher, err = ai.NewTextGenerator(ai.ProviderConfig{
			Provider:          "perplexity",
			BaseURL:           cfg.ResearchBaseURL,
			APIKey:            cfg.ResearchAPIKey,
			Model:             cfg.ResearchModel,
			Temperature:       &temperature,
			RequestsPerSecond: cfg.ResearchRequestsPerSecond,
			Timeout:           researchTimeout,
		})
		if err != nil {
			util.Fatal("failed to init research provider", "err", err)
		}
	} else {
		logger.Warn("research provider not configured, generations will fail")
	}

	var structurer ai.TextGenerator
	if cfg.StructuringAPIKey != "" || cfg.StructuringProvider == "ollama" {
		structurer, err = ai.NewTextGenerator(ai.ProviderConfig{
			Provider: cfg.StructuringProvider,
			BaseURL:  cfg.StructuringBaseURL,
			APIKey:   cfg.StructuringAPIKey,
			Model:    cfg.StructuringModel,
			Timeout:  researchTimeout,
		})
		if err != nil {
			util.Fatal("failed to init structuring provider", "err", err)
		}
	} else {
		logger.Info("structuring fallback disabled")
	}

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			util.Fatal("failed to init object store", "err", err)
		}
	}

	var dataStore store.Store
	if cfg.UsesMemoryStore() {
		logger.Warn("using in-memory store, data is lost on restart")
		dataStore = store.NewMemoryStore()
	}

	var limiter ratelimit.Limiter
	if n := cfg.GenerateRateLimitPerMinute; n > 0 {
		if cfg.RedisAddr != "" {
			limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "leadmachine:ratelimit:generate", n, time.Minute)
		} else {
			limiter, err = ratelimit.NewLocalLimiter(n, time.Minute)
		}
		if err != nil {
			util.Fatal("failed to init rate limiter", "err", err)
		}
	}

	var retryQueue *queue.RedisJobQueue
	if cfg.RedisAddr != "" {
		retryQueue, err = queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			Stream:     cfg.RetryQueueName,
			Group:      cfg.RetryQueueGroup,
			MaxRetries: cfg.RetryQueueMaxRetries,
			RetryDelay: time.Duration(cfg.RetryQueueDelaySeconds) * time.Second,
		})
		if err != nil {
			util.Fatal("failed to init retry queue", "err", err)
		}
		defer retryQueue.Close()
	}

	appCfg := app.Config{
		DatabaseURL:   cfg.DatabaseURL,
		Store:         dataStore,
		Researcher:    researcher,
		Structurer:    structurer,
		Objects:       objects,
		ChargeOnEmpty: cfg.ChargeOnEmpty,
	}
	if retryQueue != nil {
		appCfg.Retry = retryQueue
	}
	appCore, err := app.New(appCfg)
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}
	if retryQueue != nil {
		retryQueue.Start(ctx, cfg.RetryQueueConcurrency, appCore.HandlePersistJob, appCore.HandlePersistFailure)
	}

	var internalVerifier *servicetoken.Verifier
	internalVerifyKeys, err := servicetoken.ParseVerifyPublicKeys(cfg.InternalJWTVerifyPublicKeys)
	if err != nil {
		util.Fatal("failed to parse internal jwt verify public keys", "err", err)
	}
	if cfg.InternalJWTPublicKeyPath != "" || len(internalVerifyKeys) > 0 {
		internalVerifier, err = servicetoken.NewVerifierWithOptions(servicetoken.VerifierOptions{
			PublicKeyPath:      cfg.InternalJWTPublicKeyPath,
			VerifyPublicKeyMap: internalVerifyKeys,
			DefaultKeyID:       cfg.InternalJWTKeyID,
			Audience:           cfg.InternalJWTAudience,
			AllowedIssuers:     cfg.InternalJWTIssuers,
		})
		if err != nil {
			util.Fatal("failed to init internal token verifier", "err", err)
		}
	}

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		util.Fatal("failed to parse trusted proxies", "err", err)
	}

	httpServer, err := server.New(server.Config{
		App:              appCore,
		TokenVerifier:    tokenVerifier,
		GenerateLimiter:  limiter,
		InternalVerifier: internalVerifier,
		TrustedProxies:   trustedProxies,
	})
	if err != nil {
		util.Fatal("failed to init server", "err", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2*researchTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("leads server listening", "addr", addr, "memory_store", cfg.UsesMemoryStore(), "retry_queue", retryQueue != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
