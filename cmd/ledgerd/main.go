package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/GreenLedger/internal/audit"
	"github.com/jmerrifield20/GreenLedger/internal/ledger"
	"github.com/jmerrifield20/GreenLedger/internal/session"
	"github.com/jmerrifield20/GreenLedger/internal/storage"
	"github.com/jmerrifield20/GreenLedger/internal/supply/handler"
	"github.com/jmerrifield20/GreenLedger/internal/supply/service"
	"github.com/jmerrifield20/GreenLedger/internal/trust"
	"github.com/jmerrifield20/GreenLedger/internal/webhooks"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	if os.Getenv("LEDGERD_LOG_DEVELOPMENT") != "" {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("ledgerd exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("ledgerd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.rate_limit_rps", 20)
	viper.SetDefault("storage.driver", storage.DriverFile)
	viper.SetDefault("storage.path", storage.DefaultFilePath)
	viper.SetDefault("storage.bolt_path", "data/green_ledger.db")
	viper.SetDefault("storage.database_url", "")
	viper.SetDefault("storage.redis_addr", "localhost:6379")
	viper.SetDefault("storage.redis_key", storage.DefaultRedisKey)
	viper.SetDefault("session.key_dir", "keys")
	viper.SetDefault("session.token_ttl_seconds", 86400)
	viper.SetDefault("session.admin_email", "")
	viper.SetDefault("session.admin_password_hash", "")
	viper.SetDefault("trust.analyzer", "auto")
	viper.SetDefault("trust.gemini_api_key", "")
	viper.SetDefault("trust.gemini_model", "")
	viper.SetDefault("trust.timeout", "20s")
	viper.SetDefault("audit.enabled", true)
	viper.SetDefault("audit.interval", "5m")
	viper.SetDefault("audit.concurrency", 8)
	viper.SetDefault("webhooks.urls", []string{})
	viper.SetDefault("webhooks.secret", "")
	viper.SetDefault("webhooks.max_attempts", 3)

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Storage ──────────────────────────────────────────────────────────────
	persister, closer, err := storage.Open(ctx, storage.Config{
		Driver:      viper.GetString("storage.driver"),
		Path:        viper.GetString("storage.path"),
		BoltPath:    viper.GetString("storage.bolt_path"),
		DatabaseURL: viper.GetString("storage.database_url"),
		RedisAddr:   viper.GetString("storage.redis_addr"),
		RedisKey:    viper.GetString("storage.redis_key"),
	}, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer closer.Close() //nolint:errcheck

	store := ledger.Open(ctx, persister, logger)
	cats, batches, blocks := store.Stats()
	logger.Info("ledger loaded",
		zap.Int("categories", cats),
		zap.Int("batches", batches),
		zap.Int("blocks", blocks),
	)

	// ── Sessions ─────────────────────────────────────────────────────────────
	keyDir := viper.GetString("session.key_dir")
	keys := session.NewKeyManager(keyDir)
	if err := keys.LoadOrCreate(); err != nil {
		return fmt.Errorf("session key setup failed: %w", err)
	}
	logger.Info("session key ready", zap.String("key_dir", keyDir))

	tokenTTL := time.Duration(viper.GetInt("session.token_ttl_seconds")) * time.Second
	tokens := session.NewIssuer(keys.Key(), tokenTTL)
	admin := session.NewAdmin(viper.GetString("session.admin_email"), viper.GetString("session.admin_password_hash"))
	if !admin.Enabled() {
		logger.Warn("administrator login disabled: set session.admin_email and session.admin_password_hash")
	}

	// ── Trust analysis ───────────────────────────────────────────────────────
	gemini := trust.NewGeminiAnalyzer(trust.GeminiConfig{
		APIKey:  viper.GetString("trust.gemini_api_key"),
		Model:   viper.GetString("trust.gemini_model"),
		Timeout: viper.GetDuration("trust.timeout"),
	}, logger)
	analyzer, err := selectAnalyzer(viper.GetString("trust.analyzer"), viper.GetString("trust.gemini_api_key"), gemini)
	if err != nil {
		return err
	}

	// ── Webhooks ─────────────────────────────────────────────────────────────
	endpoints, err := webhookEndpoints()
	if err != nil {
		return err
	}
	dispatcher := webhooks.NewDispatcher(webhooks.Config{
		Endpoints:   endpoints,
		Secret:      viper.GetString("webhooks.secret"),
		MaxAttempts: uint64(viper.GetInt("webhooks.max_attempts")),
	}, logger)
	dispatcher.SetMetricsRecorder(handler.RecordWebhookDelivery)
	logger.Info("webhooks configured", zap.Int("endpoints", len(endpoints)))

	// ── Service ──────────────────────────────────────────────────────────────
	svc := service.NewLedgerService(store, logger)
	svc.SetAnalyzer(analyzer)
	svc.SetStageRecorder(handler.RecordStage)
	if dispatcher.Enabled() {
		svc.SetWebhookDispatcher(dispatcher)
	}

	// ── Background audit ─────────────────────────────────────────────────────
	var auditor *audit.Auditor
	if viper.GetBool("audit.enabled") {
		auditor = audit.New(store, audit.Config{
			Interval:    viper.GetDuration("audit.interval"),
			Concurrency: viper.GetInt("audit.concurrency"),
		}, logger)
		auditor.SetMetricsRecord(handler.RecordAudit)
		if dispatcher.Enabled() {
			auditor.SetWebhookDispatch(dispatcher.Dispatch)
		}
		go auditor.Start(ctx)
	}

	// ── Handlers ─────────────────────────────────────────────────────────────
	authHandler := handler.NewAuthHandler(tokens, admin, logger)
	ledgerHandler := handler.NewLedgerHandler(svc, tokens, logger)
	adminHandler := handler.NewAdminHandler(svc, tokens, logger)
	if auditor != nil {
		adminHandler.SetAuditor(auditor)
	}
	publicHandler := handler.NewPublicHandler(svc, logger)
	assistantHandler := handler.NewAssistantHandler(gemini, tokens, logger)

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("server.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Stage payloads are small; 1 MB is generous.
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	if rps := viper.GetInt("server.rate_limit_rps"); rps > 0 {
		limiter := handler.NewRateLimiter(rps, rps*2)
		go limiter.Run(ctx)
		router.Use(limiter.Middleware())
	}

	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", handler.MetricsHandler())

	v1 := router.Group("/api/v1")
	authHandler.Register(v1)
	ledgerHandler.Register(v1)
	adminHandler.Register(v1)
	publicHandler.Register(v1)
	assistantHandler.Register(v1)

	// ── Serve ────────────────────────────────────────────────────────────────
	port := viper.GetInt("server.port")
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("ledgerd HTTP listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutting down ledgerd...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	dispatcher.Wait()

	logger.Info("ledgerd stopped")
	return nil
}

// selectAnalyzer picks the trust analyzer. "auto" uses Gemini when an API
// key is configured and the local rules otherwise.
func selectAnalyzer(mode, apiKey string, gemini *trust.GeminiAnalyzer) (trust.Analyzer, error) {
	switch strings.ToLower(mode) {
	case "", "auto":
		if apiKey != "" {
			return gemini, nil
		}
		return trust.NewRuleAnalyzer(), nil
	case "gemini":
		return gemini, nil
	case "rules":
		return trust.NewRuleAnalyzer(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown trust.analyzer %q (want auto, gemini, rules or none)", mode)
	}
}

// webhookEndpoints merges webhooks.urls (every event) with the filtered
// webhooks.endpoints list.
func webhookEndpoints() ([]webhooks.Endpoint, error) {
	var eps []webhooks.Endpoint
	for _, u := range viper.GetStringSlice("webhooks.urls") {
		if u = strings.TrimSpace(u); u != "" {
			eps = append(eps, webhooks.Endpoint{URL: u})
		}
	}
	var filtered []webhooks.Endpoint
	if err := viper.UnmarshalKey("webhooks.endpoints", &filtered); err != nil {
		return nil, fmt.Errorf("parse webhooks.endpoints: %w", err)
	}
	return append(eps, filtered...), nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
