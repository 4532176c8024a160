package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"

	"runhub/internal/api"
	"runhub/internal/app/bootstrap"
	"runhub/internal/cache"
	"runhub/internal/db/postgres"
	redisdb "runhub/internal/db/redis"
	"runhub/internal/domain/knowledge"
	"runhub/internal/platform/config"
	applog "runhub/internal/platform/log"
	"runhub/internal/platform/metrics"
	"runhub/internal/source"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Config load failed: %v\n", err)
		os.Exit(1)
	}

	applog.Init(applog.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	collector := metrics.NewCollector()

	// ── 知识源 ────────────────────────────────────────────────
	registry := source.NewRegistry(&cfg.Registry, collector)
	if err := bootstrap.RegisterSources(registry, &cfg.Sources); err != nil {
		applog.Fatalf("❌ Source registration failed: %v", err)
	}

	initCtx, initCancel := context.WithTimeout(context.Background(), 60*time.Second)
	err = registry.Initialize(initCtx)
	initCancel()
	if err != nil {
		applog.Fatalf("❌ Source initialization failed: %v", err)
	}
	registry.StartHealthChecks()
	defer registry.Close()

	// ── 检索引擎 ──────────────────────────────────────────────
	engine := knowledge.NewEngine(&cfg.Knowledge, collector)
	engine.SetSourcePriorities(registry.Priorities())
	if cfg.Knowledge.HasEmbedding() {
		embedder := knowledge.NewOpenAIEmbedder(knowledge.OpenAIEmbedderConfig{
			BaseURL:        cfg.Embedding.BaseURL,
			APIKey:         cfg.Embedding.APIKey,
			Model:          cfg.Knowledge.EmbeddingModel,
			Dims:           cfg.Knowledge.EmbeddingDims,
			BatchSize:      cfg.Knowledge.EmbeddingBatchSize,
			TimeoutSeconds: cfg.Knowledge.EmbeddingHTTPTimeoutSeconds,
		})
		engine.SetEmbedder(embedder)
		applog.Infof("✅ Embedder initialized (model: %s, dims: %d)", cfg.Knowledge.EmbeddingModel, embedder.Dims())
	} else {
		applog.Info("ℹ️  No embedding configured, running fuzzy-only scoring")
	}

	processor := knowledge.NewProcessor(registry, engine, collector)

	// ── 结果缓存 ──────────────────────────────────────────────
	hybrid := cache.NewHybrid(&cfg.Cache, collector)
	if cfg.Redis.URL != "" {
		if opt, err := goredis.ParseURL(cfg.Redis.URL); err != nil {
			applog.Warnf("⚠️  Invalid REDIS_URL, remote cache tier disabled: %v", err)
		} else {
			redisClient := goredis.NewClient(opt)
			pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = redisClient.Ping(pingCtx).Err()
			pingCancel()
			if err != nil {
				applog.Warnf("⚠️  Redis ping failed, remote cache tier disabled: %v", err)
			} else {
				hybrid.SetRemote(redisdb.NewResultCache(redisClient))
				hybrid.SetFlightLock(redisdb.NewFlightLock(redisClient))
				applog.Info("✅ Connected to Redis for result cache")
			}
		}
	} else {
		applog.Info("ℹ️  No REDIS_URL set, result cache is memory-only")
	}
	processor.SetCache(hybrid)

	// ── HTTP 服务 ─────────────────────────────────────────────
	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	serverConfig.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	serverConfig.JWTSecret = cfg.Auth.JWTSecret
	serverConfig.JWTIssuer = cfg.Auth.JWTIssuer
	server := api.NewServer(serverConfig, processor, registry, collector)
	server.SetCache(hybrid)

	// ── 反馈持久化（可选）──────────────────────────────────────
	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			applog.Fatalf("❌ Failed to open database: %v", err)
		}
		defer db.Close()

		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetimeSeconds) * time.Second)

		if err := db.Ping(); err != nil {
			applog.Fatalf("❌ Failed to ping database: %v", err)
		}
		applog.Info("✅ Connected to PostgreSQL")

		store := postgres.NewFeedbackStore(db)
		ensureCtx, ensureCancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = store.EnsureTable(ensureCtx)
		ensureCancel()
		if err != nil {
			applog.Warnf("⚠️  Failed to ensure feedback table: %v", err)
		} else {
			applog.Info("✅ Feedback table ready (result_feedback)")
		}
		server.SetFeedbackStore(store)
	} else {
		applog.Info("ℹ️  No DATABASE_URL set, feedback is log-only")
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		applog.Info("🔄 Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			applog.Errorf("❌ Server shutdown error: %v", err)
		}
	}()

	if err := server.Start(); err != nil && err.Error() != "http: Server closed" {
		applog.Fatalf("❌ Server error: %v", err)
	}

	applog.Info("👋 Server stopped")
}
