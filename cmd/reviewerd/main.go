// reviewerd serves the human-in-the-loop task review API: queue listing,
// submit/approve/return/reject transitions, the agentic rule engine and
// LLM council, notifications, and the audit log.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/reviewlane/reviewer/internal/api"
	"github.com/reviewlane/reviewer/internal/archive"
	"github.com/reviewlane/reviewer/internal/config"
	"github.com/reviewlane/reviewer/internal/council"
	"github.com/reviewlane/reviewer/internal/leader"
	"github.com/reviewlane/reviewer/internal/llm"
	"github.com/reviewlane/reviewer/internal/notify"
	"github.com/reviewlane/reviewer/internal/presence"
	"github.com/reviewlane/reviewer/internal/ratelimit"
	"github.com/reviewlane/reviewer/internal/review"
	"github.com/reviewlane/reviewer/internal/rules"
	"github.com/reviewlane/reviewer/internal/session"
	"github.com/reviewlane/reviewer/internal/storage"
	"github.com/reviewlane/reviewer/internal/store"
	"github.com/reviewlane/reviewer/internal/sweep"
	"github.com/reviewlane/reviewer/internal/teamdir"
	"github.com/reviewlane/reviewer/internal/versioning"
)

// validateEnv checks that critical environment variables have valid values.
// Returns a slice of validation errors (empty if all valid).
func validateEnv() []string {
	var errs []string

	if addr := os.Getenv("REVIEWERD_LISTEN_ADDR"); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Sprintf("REVIEWERD_LISTEN_ADDR=%q: must be host:port (%v)", addr, err))
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		if _, err := net.LookupPort("tcp", port); err != nil {
			errs = append(errs, fmt.Sprintf("PORT=%q: must be a valid port number", port))
		}
	}

	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		if _, _, err := net.SplitHostPort(redisAddr); err != nil {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR=%q: must be host:port (%v)", redisAddr, err))
		}
	}

	if s3Endpoint := os.Getenv("S3_ENDPOINT"); s3Endpoint != "" {
		if _, _, err := net.SplitHostPort(s3Endpoint); err != nil {
			if _, err := url.Parse("http://" + s3Endpoint); err != nil {
				errs = append(errs, fmt.Sprintf("S3_ENDPOINT=%q: must be a valid endpoint", s3Endpoint))
			}
		}
	}

	if llmURL := os.Getenv("LLM_BASE_URL"); llmURL != "" {
		if _, err := url.ParseRequestURI(llmURL); err != nil {
			errs = append(errs, fmt.Sprintf("LLM_BASE_URL=%q: must be a valid URL (%v)", llmURL, err))
		}
	}

	for _, name := range []string{"SWEEP_INTERVAL", "SWEEP_STALE_AFTER"} {
		if v := os.Getenv(name); v != "" {
			if _, err := time.ParseDuration(v); err != nil {
				errs = append(errs, fmt.Sprintf("%s=%q: must be a valid Go duration (e.g. 10s, 2m) (%v)", name, v, err))
			}
		}
	}

	return errs
}

// warnDefaultCredentials logs security warnings when S3 credentials appear
// to be well-known defaults (e.g., minioadmin/minioadmin). Safe for local
// development but dangerous in production deployments.
func warnDefaultCredentials() {
	s3Access := os.Getenv("S3_ACCESS_KEY")
	s3Secret := os.Getenv("S3_SECRET_KEY")
	if s3Access == "minioadmin" || s3Secret == "minioadmin" {
		slog.Warn("S3 credentials are set to default values (minioadmin) — change these for production deployments")
	}
}

// storeHealthChecker adapts store.RedisStore's Ping to api.HealthChecker.
type storeHealthChecker struct {
	ping func(ctx context.Context) error
}

func (c storeHealthChecker) HealthCheck(ctx context.Context) error {
	return c.ping(ctx)
}

func main() {
	// Built-in healthcheck for scratch containers (no wget/curl available).
	// Usage: /reviewerd healthcheck
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		resp, err := http.Get("http://localhost:8080/health")
		if err != nil {
			os.Exit(1)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	baseHandler := slog.NewJSONHandler(os.Stdout, nil)
	logger := slog.New(api.NewContextHandler(baseHandler))
	slog.SetDefault(logger)

	if errs := validateEnv(); len(errs) > 0 {
		for _, e := range errs {
			slog.Error("invalid environment variable", "error", e)
		}
		os.Exit(1)
	}

	configPath := config.ResolvePath()
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	if configPath != "" {
		slog.Info("config loaded", "path", configPath)
	}

	ctx := context.Background()

	// Wire the keyed store: Redis when REDIS_ADDR is set (production), an
	// in-memory fake otherwise (single-replica development/testing). A
	// memory-backed store can never be leader-elected across replicas, so
	// background workers always run directly in that mode below.
	var st store.Store
	var redisStore *store.RedisStore
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = cfg.Redis.Addr
	}
	if redisAddr != "" && os.Getenv("REVIEWERD_STORE") != "memory" {
		redisCfg := store.RedisConfig{
			Addr:             redisAddr,
			Password:         os.Getenv("REDIS_PASSWORD"),
			DB:               cfg.Redis.DB,
			DialTimeout:      time.Duration(cfg.Redis.DialTimeoutMS) * time.Millisecond,
			ReadTimeout:      time.Duration(cfg.Redis.ReadTimeoutMS) * time.Millisecond,
			BlockReadTimeout: time.Duration(cfg.Redis.BlockReadTimeout) * time.Second,
		}
		rs, err := store.NewRedisStore(ctx, redisCfg)
		if err != nil {
			slog.Error("failed to connect to redis", "addr", redisAddr, "error", err)
			os.Exit(1)
		}
		redisStore = rs
		st = rs
		slog.Info("redis store initialized", "addr", redisAddr)
	} else {
		st = store.NewMemory()
		slog.Info("in-memory store initialized (no REDIS_ADDR set)")
	}

	sessions := session.New(st, cfg.SessionTTL())
	versions := versioning.New(st, cfg.IdempotencyTTL(), cfg.SessionTTL())
	pres := presence.New(st, cfg.PresenceTTL(), cfg.SessionTTL())
	notifier := notify.New(st, 7*24*time.Hour, cfg.TaskIdentity)
	auditLog := notify.NewAuditLog(st, cfg.SessionTTL())
	teams := teamdir.New(cfg.Teams)
	reviewSvc := review.New(sessions, versions, notifier, auditLog, teams, cfg.Review.MaxRounds, logger)

	// LLM council: judge models reached through llm.Client, gated by a
	// per-provider concurrency limiter so a burst of reviews can't overrun
	// the upstream API's rate limit.
	llmClient := llm.New(cfg.LLM)
	providerLimiter := ratelimit.NewProviderLimiter(logger)
	if n := cfg.LLM.ProviderConcurrency; n > 0 {
		for _, m := range cfg.Agentic.Council.Models {
			providerLimiter.SetCapacity(m.ID, n)
		}
		if cfg.Agentic.Council.ChairmanModel != "" {
			providerLimiter.SetCapacity(cfg.Agentic.Council.ChairmanModel, n)
		}
	}
	councilSvc := council.New(llmClient, providerLimiter, logger)
	rulesEngine := rules.New(councilSvc, cfg.Agentic.Council, logger)

	// S3/MinIO-backed approval archive — optional. Without S3_ENDPOINT,
	// approvals still transition but are not archived for the downstream
	// training pipeline.
	var archiveStore *archive.Store
	var s3Health api.HealthChecker
	if endpoint := os.Getenv("S3_ENDPOINT"); endpoint != "" || cfg.Storage.Endpoint != "" {
		s3Cfg := storage.S3Config{
			Endpoint:  firstNonEmpty(endpoint, cfg.Storage.Endpoint),
			AccessKey: firstNonEmpty(os.Getenv("S3_ACCESS_KEY"), cfg.Storage.AccessKey),
			SecretKey: firstNonEmpty(os.Getenv("S3_SECRET_KEY"), cfg.Storage.SecretKey),
			Bucket:    firstNonEmpty(os.Getenv("S3_BUCKET"), cfg.Storage.Bucket),
			UseSSL:    cfg.Storage.UseSSL,
		}
		s3Store, err := storage.NewS3StoreFromConfig(ctx, s3Cfg)
		if err != nil {
			slog.Error("failed to connect to S3/MinIO", "endpoint", s3Cfg.Endpoint, "error", err)
			os.Exit(1)
		}
		archiveStore = archive.New(s3Store)
		s3Health = storage.NewHealthChecker(s3Store)
		slog.Info("approval archive initialized", "endpoint", s3Cfg.Endpoint, "bucket", s3Cfg.Bucket)
	}

	warnDefaultCredentials()

	srv := &api.Server{
		Sessions: sessions,
		Versions: versions,
		Presence: pres,
		Notify:   notifier,
		Audit:    auditLog,
		Teams:    teams,
		Review:   reviewSvc,
		Rules:    rulesEngine,
		RuleDefs: cfg.RuleDefinitions(),
		Council:  councilSvc,
		Archive:  archiveStore,
		Config:   cfg,
		S3Health: s3Health,
	}
	if redisStore != nil {
		srv.StoreHealth = storeHealthChecker{ping: redisStore.Ping}
	}

	// Background sweep worker: logs the idempotency-cache size and stale
	// escalated sessions; it changes no session state. Only one replica should run it; with a Redis store
	// that's enforced with a distributed lock, with a memory store there
	// is only ever one replica by construction.
	sweepInterval := 5 * time.Minute
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			sweepInterval = d
		}
	}
	staleAfter := 30 * time.Minute
	if v := os.Getenv("SWEEP_STALE_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			staleAfter = d
		}
	}
	sweepWorker := sweep.New(sessions, versions, st, sweepInterval, staleAfter, logger).WithPresence(pres)

	var stopLeader func()
	startSweep := func(ctx context.Context) func() {
		sweepWorker.Start(ctx)
		slog.Info("sweep worker started", "interval", sweepInterval, "stale_after", staleAfter)
		return sweepWorker.Stop
	}

	if sweepEnabled := os.Getenv("SWEEP_ENABLED") != "false"; !sweepEnabled {
		slog.Info("sweep worker disabled (SWEEP_ENABLED=false)")
	} else if redisStore != nil {
		lock := store.NewRedisLock(redisStore, leader.DefaultLockKey, leader.DefaultLockTTL)
		elector := leader.New(lock.Acquire, leader.RetryInterval, startSweep)
		elector.Start(ctx)
		stopLeader = elector.Stop
		slog.Info("leader election started (redis lock)")
	} else {
		stopLeader = startSweep(ctx)
	}

	if corsEnv := os.Getenv("CORS_ORIGINS"); corsEnv != "" {
		srv.CORSOrigins = strings.Split(corsEnv, ",")
	}

	if rl := os.Getenv("RATE_LIMIT"); rl != "0" {
		rlCfg := api.DefaultRateLimitConfig()
		srv.RateLimit = &rlCfg
		slog.Info("rate limiting enabled", "rps", rlCfg.RequestsPerSecond, "burst", rlCfg.Burst)
	}

	router := api.NewRouter(srv)

	addr := "127.0.0.1:8080"
	if listenAddr := os.Getenv("REVIEWERD_LISTEN_ADDR"); listenAddr != "" {
		addr = listenAddr
	} else if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	if strings.HasPrefix(addr, "0.0.0.0") {
		slog.Warn("listening on 0.0.0.0 — ensure identity headers are only accepted behind a trusted proxy")
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS13,
		},
	}

	tlsCertFile := os.Getenv("TLS_CERT_FILE")
	tlsKeyFile := os.Getenv("TLS_KEY_FILE")

	errCh := make(chan error, 1)
	if tlsCertFile != "" && tlsKeyFile != "" {
		go func() {
			errCh <- httpServer.ListenAndServeTLS(tlsCertFile, tlsKeyFile)
		}()
		slog.Info("starting reviewerd (HTTPS)", "addr", addr)
	} else {
		go func() {
			errCh <- httpServer.ListenAndServe()
		}()
		slog.Info("starting reviewerd", "addr", addr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	// Ordered cleanup: leader (stops the sweep worker) → rate limiter → store.
	if stopLeader != nil {
		stopLeader()
		slog.Info("leader elector stopped")
	}
	if srv.RateLimiterStop != nil {
		srv.RateLimiterStop()
		slog.Info("rate limiter stopped")
	}
	if redisStore != nil {
		redisStore.Close()
		slog.Info("redis store closed")
	}

	slog.Info("reviewerd shutdown complete")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
