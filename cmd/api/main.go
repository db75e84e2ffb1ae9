package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"billing-platform/internal/audit"
	"billing-platform/internal/cache"
	"billing-platform/internal/catalog"
	"billing-platform/internal/config"
	"billing-platform/internal/featureflags"
	"billing-platform/internal/httpapi"
	"billing-platform/internal/pricing"
	"billing-platform/pkg/logger"
	"billing-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	var rdb *redis.Client
	var remote cache.RemoteStore
	if cfg.Cache.L2Enabled {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		remote = cache.NewRedisStore(rdb)
	}

	billingCache := cache.New(cacheConfig(cfg), remote, log)

	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	products := catalog.NewPostgresRepo(db)
	engine := pricing.NewEngine(pricing.NewPostgresRepo(db), products, billingCache, auditSvc)

	if cfg.Cache.WarmingEnabled && len(cfg.Cache.WarmTenants) > 0 {
		warmCatalog(rootCtx, billingCache, products, cfg.Cache.WarmTenants, log)
	}

	var flags *featureflags.Service
	if remote != nil {
		flags = featureflags.NewService(remote)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		handlers: httpapi.Handlers{
			Pricing: engine,
			Cache:   billingCache,
			Flags:   flags,
		},
		db:  db,
		rdb: rdb,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

// warmCatalog pre-loads the active product catalog of each configured tenant
// so the first calculations after a deploy don't all stampede the database.
func warmCatalog(ctx context.Context, bc *cache.BillingCache, products catalog.Repository, tenants []string, log *slog.Logger) {
	for _, tenantID := range tenants {
		list, err := products.ListActive(ctx, tenantID)
		if err != nil {
			log.Warn("catalog warm skipped", "tenant_id", tenantID, "err", err)
			continue
		}
		entries := make([]cache.WarmEntry, 0, len(list))
		for _, p := range list {
			b, err := json.Marshal(p)
			if err != nil {
				continue
			}
			entries = append(entries, cache.WarmEntry{
				Key:   cache.ProductKey(tenantID, p.ID),
				Value: b,
				Tags:  []string{cache.TagTenantProducts(tenantID)},
			})
		}
		n := bc.Warm(ctx, entries)
		log.Info("catalog warmed", "tenant_id", tenantID, "entries", n)
	}
}

func cacheConfig(cfg config.Config) cache.Config {
	return cache.Config{
		ProductTTL:      cfg.Cache.ProductTTL,
		RuleTTL:         cfg.Cache.RuleTTL,
		PlanTTL:         cfg.Cache.PlanTTL,
		SubscriptionTTL: cfg.Cache.SubscriptionTTL,
		SegmentTTL:      cfg.Cache.SegmentTTL,
		L1Enabled:       cfg.Cache.L1Enabled,
		L2Enabled:       cfg.Cache.L2Enabled,
		WarmingEnabled:  cfg.Cache.WarmingEnabled,
		L1MaxEntries:    cfg.Cache.L1MaxEntries,
	}
}

// healthCheck verifies the database is reachable.
func healthCheck(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
