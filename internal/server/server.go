package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/hamedsk/corpusqa/config"
	"github.com/hamedsk/corpusqa/internal/cache"
	"github.com/hamedsk/corpusqa/internal/chunker"
	"github.com/hamedsk/corpusqa/internal/index"
	idxmemory "github.com/hamedsk/corpusqa/internal/index/memory"
	idxpostgres "github.com/hamedsk/corpusqa/internal/index/postgres"
	"github.com/hamedsk/corpusqa/internal/ingest"
	"github.com/hamedsk/corpusqa/internal/retrieval"
	"github.com/hamedsk/corpusqa/internal/runtime"
	"github.com/hamedsk/corpusqa/internal/synthesis"
	"github.com/hamedsk/corpusqa/internal/telemetry"
	"github.com/hamedsk/corpusqa/provider"
)

// Run wires the whole pipeline and serves it until the listener fails.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	var mets *telemetry.Metrics
	if cfg.Telemetry.Enabled {
		mets = telemetry.NewMetrics()
		e.GET(cfg.Telemetry.Normalize().MetricsPath, echo.WrapHandler(mets.Handler()))
	}

	ctx := context.Background()

	prov, err := provider.New(cfg.LLM.Normalize())
	if err != nil {
		return err
	}

	idx, err := buildIndex(ctx, cfg)
	if err != nil {
		return err
	}

	cacheCfg := cfg.Cache.Normalize()
	kv, rdb, err := buildKV(ctx, cfg, cacheCfg)
	if err != nil {
		return err
	}
	cacheSvc := cache.NewService(kv, log.New(log.Writer(), "[CACHE] ", log.LstdFlags))

	engine := retrieval.NewEngine(prov, idx, cacheSvc, cfg.Retrieval, cacheCfg.EmbeddingTTL,
		log.New(log.Writer(), "[RETRIEVAL] ", log.LstdFlags))
	orch := synthesis.NewOrchestrator(engine, prov, cacheSvc, cfg.Synthesis, cacheCfg.ResponseTTL, mets,
		log.New(log.Writer(), "[SYNTHESIS] ", log.LstdFlags))

	if err := setupIngestion(ctx, cfg, prov, idx, rdb); err != nil {
		return err
	}

	api := e.Group("/api")
	if cfg.Server.AuthRequired {
		auth := NewAuthHandler(cfg.Server)
		auth.Register(api.Group("/auth"))
		protected := api.Group("")
		protected.Use(runtime.EchoAuthMiddleware(auth.Secret))
		registerAsk(protected, engine, orch, idx, cfg.Retrieval.Normalize())
	} else {
		registerAsk(api, engine, orch, idx, cfg.Retrieval.Normalize())
	}

	if addr == "" {
		addr = cfg.Server.Address
		if addr == "" {
			addr = ":8080"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

func registerAsk(g *echo.Group, engine *retrieval.Engine, orch *synthesis.Orchestrator, idx index.Index, rcfg config.RetrievalConfig) {
	h := &AskHandler{Engine: engine, Orch: orch, Index: idx, Cfg: rcfg}
	h.Register(g)
}

func buildIndex(ctx context.Context, cfg *config.Config) (index.Index, error) {
	switch cfg.Index.Normalize().Backend {
	case "postgres":
		dsn, err := cfg.Storage.Postgres.DSN()
		if err != nil {
			return nil, err
		}
		if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return idxpostgres.NewWithDSN(ctx, dsn)
	default:
		return idxmemory.New()
	}
}

func buildKV(ctx context.Context, cfg *config.Config, cacheCfg config.CacheConfig) (cache.KV, *redis.Client, error) {
	if cacheCfg.Backend != "redis" {
		return cache.NewMemoryKV(), nil, nil
	}
	if err := cfg.Storage.Redis.Validate(); err != nil {
		return nil, nil, err
	}
	rdb, err := cache.Conn(ctx, cfg.Storage.Redis.Host, cfg.Storage.Redis.Port,
		cfg.Storage.Redis.Password, cfg.Storage.Redis.DB, cfg.Storage.Redis.Timeout)
	if err != nil {
		return nil, nil, err
	}
	return cache.NewRedisKV(rdb), rdb, nil
}

// setupIngestion loads the corpus when the index is empty and starts the cron
// reindex scheduler when one is configured. Without a corpus path the server
// answers against whatever the index already holds.
func setupIngestion(ctx context.Context, cfg *config.Config, prov provider.Provider, idx index.Index, rdb *redis.Client) error {
	ingestCfg := cfg.Ingest.Normalize()
	if ingestCfg.CorpusPath == "" {
		return nil
	}
	chunkCfg := cfg.Chunking.Normalize()
	ch, err := chunker.New(chunkCfg.MaxTokens, chunkCfg.OverlapTokens)
	if err != nil {
		return err
	}
	logger := log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	pipeline := ingest.NewPipeline(
		ingest.JSONLSource{Path: ingestCfg.CorpusPath},
		ch, prov, idx, ingestCfg.WriterBatchSize, logger,
	)

	n, err := idx.Count(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := pipeline.Run(ctx); err != nil {
			return fmt.Errorf("initial ingest: %w", err)
		}
	}

	if ingestCfg.RefreshCron != "" {
		sched := &ingest.Scheduler{
			Pipeline: pipeline,
			CronSpec: ingestCfg.RefreshCron,
			Rdb:      rdb,
			Stop:     make(chan struct{}),
			Logger:   log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
		}
		sched.Start()
	}
	return nil
}
