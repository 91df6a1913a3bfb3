package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"timeflow/internal/config"
	"timeflow/internal/domain"
	"timeflow/internal/infra/credmem"
	"timeflow/internal/infra/db"
	"timeflow/internal/infra/dedupmem"
	"timeflow/internal/infra/dedupredis"
	httpserver "timeflow/internal/infra/http"
	"timeflow/internal/infra/ratelimit"
	"timeflow/internal/infra/rulemem"
	"timeflow/internal/infra/trackerapi"
	"timeflow/internal/usecase"
)

func main() {
	cfg := config.FromEnv()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rules, creds, err := buildStores(cfg)
	if err != nil {
		log.WithError(err).Fatal("store setup failed")
	}

	dedup, err := buildDedup(cfg)
	if err != nil {
		log.WithError(err).Fatal("dedup cache setup failed")
	}

	limiter, err := buildLimiter(cfg)
	if err != nil {
		log.WithError(err).Fatal("rate limiter setup failed")
	}

	sink := usecase.NewLogSink(log)
	engine, err := usecase.NewEngine(rules, usecase.NewConditionEvaluator(sink))
	if err != nil {
		log.WithError(err).Fatal("engine setup failed")
	}

	client := trackerapi.New(&http.Client{Timeout: cfg.OutboundTimeout})
	executor, err := usecase.NewExecutor(creds, client, limiter, sink, log, usecase.ExecutorConfig{
		MaxAttempts: cfg.RetryMaxAttempts,
		RetryBase:   cfg.RetryBase,
		RetryMax:    cfg.RetryMax,
		CallTimeout: cfg.OutboundTimeout,
	})
	if err != nil {
		log.WithError(err).Fatal("executor setup failed")
	}

	processor, err := usecase.NewProcessor(dedup, engine, executor, sink, log)
	if err != nil {
		log.WithError(err).Fatal("processor setup failed")
	}

	server, err := httpserver.NewServer(httpserver.ServerConfig{
		Addr:                cfg.ListenAddr,
		AdminToken:          cfg.AdminToken,
		RateLimitFailClosed: cfg.RateLimitFailClosed,
	}, processor, rules, creds, limiter, log)
	if err != nil {
		log.WithError(err).Fatal("server setup failed")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.WithField("addr", cfg.ListenAddr).Info("timeflow listening")
		return server.Run(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		processor.Shutdown()
		return nil
	})

	if err := group.Wait(); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func buildStores(cfg config.Config) (usecase.RuleStore, usecase.CredentialStore, error) {
	if cfg.DatabaseDSN == "" {
		creds := credmem.New(credmem.Config{GracePeriod: cfg.GracePeriod})
		seedCredentials(creds)
		return rulemem.New(), creds, nil
	}
	gdb, err := db.Open(cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, nil, err
	}
	return db.NewRuleRepository(gdb), db.NewCredentialRepository(gdb, cfg.GracePeriod), nil
}

func buildDedup(cfg config.Config) (usecase.DedupCache, error) {
	if cfg.RedisAddr == "" {
		return dedupmem.New(dedupmem.Config{TTL: cfg.DedupTTL}), nil
	}
	return dedupredis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.DedupTTL)
}

func buildLimiter(cfg config.Config) (domain.RateLimiter, error) {
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{
			Capacity:   cfg.RateLimitCapacity,
			RefillRate: cfg.RateLimitRefill,
		}), nil
	}
	return ratelimit.NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Now)
}

// seedCredentials loads TIMEFLOW_TENANT_SECRET_<tenant> style bootstrap
// credentials for the in-memory store; durable deployments manage
// credentials through the database instead.
func seedCredentials(store *credmem.Store) {
	apiBase := os.Getenv("TIMEFLOW_TRACKER_API_BASE")
	const prefix = "TIMEFLOW_TENANT_SECRET_"
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" || !strings.HasPrefix(key, prefix) {
			continue
		}
		_ = store.Seed(domain.Credential{
			TenantID:      strings.ToLower(key[len(prefix):]),
			CurrentSecret: value,
			APIBase:       apiBase,
		})
	}
}
