package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"archimap/internal/admin"
	"archimap/internal/apierr"
	"archimap/internal/auth"
	"archimap/internal/cache"
	"archimap/internal/catalog"
	"archimap/internal/dbfile"
	"archimap/internal/events"
	"archimap/internal/i18n"
	"archimap/internal/logging"
	"archimap/internal/ratelimit"
	"archimap/internal/remotedb"
	"archimap/internal/search"
	"archimap/internal/telemetry"
	"archimap/pkg/utils"
)

func main() {
	configPath := flag.String("config", "archimap.yaml", "YAML config file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "api-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := utils.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing)
	if err != nil {
		return err
	}

	// Start loading right away so the first request rarely waits.
	loader := remotedb.New(remotedb.ConfigFrom(cfg.Database, logger.Named("remotedb")))
	loader.Start()

	var rdb *redis.Client
	if cfg.Cache.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
	}

	var resultCache cache.Cache
	if cfg.Cache.Backend == "redis" && rdb != nil {
		resultCache = cache.NewRedisClient(rdb, cache.DefaultPrefix)
	} else if resultCache, err = cache.New(cfg.Cache); err != nil {
		return err
	}

	svc := search.NewService(loader, resultCache, search.Options{
		TTL:               cfg.Cache.TTL,
		PrefetchWorkers:   cfg.Cache.PrefetchWorkers,
		MaxQueryRunes:     cfg.Search.MaxQueryRunes,
		AutocompleteMin:   cfg.Search.AutocompleteMin,
		AutocompleteLimit: cfg.Search.AutocompleteLimit,
		Logger:            logger.Named("search"),
	})

	hub := events.NewHub(logger.Named("events"))
	var relay *events.Relay
	if rdb != nil && cfg.Events.RedisChannel != "" {
		relay = events.NewRelay(rdb, cfg.Events.RedisChannel, hub, logger.Named("relay"))
	}
	events.Attach(loader, hub, relay)

	// Cached pages describe the previous file once a reload lands.
	loader.OnChange(func(c remotedb.Change) {
		if c.Kind != remotedb.ChangeReloaded {
			return
		}
		pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svc.Purge(pctx); err != nil {
			logger.Warn("purge result cache after reload", zap.Error(err))
		}
	})

	router := gin.New()
	_ = router.SetTrustedProxies(cfg.Server.TrustedProxies)
	router.Use(
		gin.Recovery(),
		logging.GinMiddleware(logger.Named("http")),
		telemetry.GinMiddleware(),
		i18n.Middleware(),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": loader.Status().Source})
	})

	router.GET("/ready", func(c *gin.Context) {
		st := loader.Status()
		stats := hub.Stats()
		body := gin.H{
			"status":      st.State,
			"generation":  st.Generation,
			"tcp_clients": stats.TCPClients,
			"ws_clients":  stats.WSClients,
		}
		if st.State != remotedb.StateReady {
			if st.Error != "" {
				body["db_error"] = st.Error
			}
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		c.JSON(http.StatusOK, body)
	})

	// The database file itself, for range-reading clients.
	var file *dbfile.File
	if cfg.Database.Path != "" {
		file = dbfile.New(cfg.Database.Path, logger.Named("dbfile"))
		file.RegisterRoutes(router.Group("/db"))
	}

	// Static JSON export, readable by importer.JSONSource.
	if cfg.Server.ExportDir != "" {
		router.Static("/data", cfg.Server.ExportDir)
	}

	api := router.Group("/api")

	catalogHandler := catalog.NewHandler(loader, logger.Named("catalog"))
	if cfg.Server.ExplorerRows > 0 {
		catalogHandler.ExploreRows = cfg.Server.ExplorerRows
	}
	limiter := ratelimit.New(cfg.Server.ExplorerRPS, cfg.Server.ExplorerBurst)
	catalogHandler.ExploreLimit = limiter.Middleware(func(c *gin.Context) {
		apierr.Abort(c, http.StatusTooManyRequests, i18n.CodeRateLimited)
	})
	catalogHandler.RegisterRoutes(api)

	searchHandler := search.NewHandler(svc, logger.Named("search"))
	if cfg.Search.Debounce > 0 {
		searchHandler.Debounce = cfg.Search.Debounce
	}
	searchHandler.RegisterRoutes(api)

	router.GET("/ws/autocomplete", searchHandler.AutocompleteWS)
	router.GET("/ws/events", events.WSHandler(hub))

	// Admin
	tokens := auth.TokenService{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.JWTIssuer,
		Duration: cfg.Auth.JWTDuration,
	}
	adminUser := auth.NewAdmin(cfg.Auth.AdminPasswordHash)
	if !adminUser.Enabled() {
		logger.Info("admin endpoints disabled: no password hash configured")
	}
	authHandler := auth.NewHandler(adminUser, tokens, logger.Named("auth"))
	adminGroup := router.Group("/admin")
	authHandler.RegisterRoutes(adminGroup)
	admin.NewHandler(loader, svc, hub, logger.Named("admin")).RegisterRoutes(adminGroup, authHandler.Middleware())

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 4)
	var wg sync.WaitGroup

	if cfg.Events.TCPAddr != "" {
		tcpSrv := events.NewServer(cfg.Events.TCPAddr, hub, logger.Named("events"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tcpSrv.Run(ctx); err != nil {
				errCh <- fmt.Errorf("event stream: %w", err)
			}
		}()
	}

	if relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("event relay stopped", zap.Error(err))
			}
		}()
	}

	if file != nil && cfg.Database.Watch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := file.Watch(ctx, dbfile.DefaultSettle, func() {
				logger.Info("database file changed, reloading", zap.String("path", file.Path))
				rctx, cancel := context.WithTimeout(ctx, time.Minute)
				defer cancel()
				if err := loader.Reload(rctx); err != nil {
					logger.Error("reload after file change", zap.Error(err))
				}
			})
			if err != nil {
				logger.Warn("database watcher stopped", zap.Error(err))
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("HTTP API server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}
	stop()

	logger.Info("shutting down servers")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	svc.Close()
	if err := loader.Close(); err != nil {
		logger.Warn("loader close", zap.Error(err))
	}
	hub.Close()
	if err := resultCache.Close(); err != nil {
		logger.Warn("cache close", zap.Error(err))
	}
	// a redis result cache closes the shared client itself
	if rdb != nil && cfg.Cache.Backend != "redis" {
		_ = rdb.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}

	wg.Wait()
	logger.Info("servers stopped")
	return nil
}
