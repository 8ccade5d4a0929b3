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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tessera-sec/gatewise/internal/audit"
	"github.com/tessera-sec/gatewise/internal/contextstore"
	"github.com/tessera-sec/gatewise/internal/engine"
	"github.com/tessera-sec/gatewise/internal/health"
	"github.com/tessera-sec/gatewise/internal/notify"
	"github.com/tessera-sec/gatewise/internal/policy"
	"github.com/tessera-sec/gatewise/internal/rules"
	"github.com/tessera-sec/gatewise/internal/scorer"
	"github.com/tessera-sec/gatewise/internal/server/handler"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("gatewised exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("gatewised")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.rate_limit_rps", 50)
	viper.SetDefault("server.admin_rate_limit_rps", 10)
	viper.SetDefault("server.admin_secret", "")
	viper.SetDefault("database.url", "")
	viper.SetDefault("engine.decision_threshold", engine.DefaultThreshold)
	viper.SetDefault("risk.location_change", 0.3)
	viper.SetDefault("risk.unusual_time", 0.4)
	viper.SetDefault("risk.new_device", 0.5)
	viper.SetDefault("risk.vpn_usage", 0.2)
	viper.SetDefault("risk.failed_attempts", 0.6)
	viper.SetDefault("risk.failed_attempts_cap", 0.8)
	viper.SetDefault("risk.business_hours_start", 6)
	viper.SetDefault("risk.business_hours_end", 22)
	viper.SetDefault("audit.max_memory_events", 10000)
	viper.SetDefault("audit.retention_days", 90)
	viper.SetDefault("audit.lookback_days", 30)
	viper.SetDefault("notify.endpoints", []string{})
	viper.SetDefault("notify.secret", "")
	viper.SetDefault("health.check_interval", "1m")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	// ── Storage backends ─────────────────────────────────────────────────────
	// With no database.url, policies and audit events live in memory only.
	var (
		db          *pgxpool.Pool
		policyStore policy.Store
		auditSink   audit.Sink
		pgSink      *audit.PostgresSink
	)
	if dbURL := viper.GetString("database.url"); dbURL != "" {
		var err error
		db, err = pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		if err := db.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")

		policyStore = policy.NewPostgresStore(db, logger)
		pgSink = audit.NewPostgresSink(db, logger)
		auditSink = pgSink
	} else {
		logger.Warn("no database.url configured — using in-memory stores, state is lost on restart")
		policyStore = policy.NewMemoryStore()
		auditSink = audit.NewMemorySink(viper.GetInt("audit.max_memory_events"))
	}

	// ── Decision pipeline ────────────────────────────────────────────────────
	weights := contextstore.RiskWeights{
		LocationChange:     viper.GetFloat64("risk.location_change"),
		UnusualTime:        viper.GetFloat64("risk.unusual_time"),
		NewDevice:          viper.GetFloat64("risk.new_device"),
		VPNUsage:           viper.GetFloat64("risk.vpn_usage"),
		FailedAttempts:     viper.GetFloat64("risk.failed_attempts"),
		FailedAttemptsCap:  viper.GetFloat64("risk.failed_attempts_cap"),
		BusinessHoursStart: viper.GetInt("risk.business_hours_start"),
		BusinessHoursEnd:   viper.GetInt("risk.business_hours_end"),
	}
	contexts := contextstore.New(weights, logger)
	predictor := scorer.NewLogistic(logger)
	generator := rules.NewGenerator(logger)
	analyzer := audit.NewAnalyzer(auditSink, time.Duration(viper.GetInt("audit.lookback_days"))*24*time.Hour)

	eng := engine.New(policyStore, contexts, predictor, auditSink, logger)
	eng.SetThreshold(viper.GetFloat64("engine.decision_threshold"))

	// Decision webhooks
	dispatcher := notify.NewDispatcher(
		viper.GetStringSlice("notify.endpoints"),
		viper.GetString("notify.secret"),
		logger,
	)
	dispatcher.SetMetricsRecorder(handler.RecordNotifyDelivery)
	eng.SetDecisionHook(func(subjectID, dataType, action string, v engine.Verdict) {
		eventType, ok := notify.ShouldNotify(v.Allowed, v.RiskScore)
		if !ok {
			return
		}
		dispatcher.Dispatch(eventType, map[string]string{
			"subject_id": subjectID,
			"data_type":  dataType,
			"action":     action,
			"reason":     v.Reason,
			"risk_score": fmt.Sprintf("%.2f", v.RiskScore),
		})
	})

	// ── HTTP handlers ────────────────────────────────────────────────────────
	authHandler, err := handler.NewAuthHandler(viper.GetString("server.admin_secret"), logger)
	if err != nil {
		return fmt.Errorf("init auth handler: %w", err)
	}
	accessHandler := handler.NewAccessHandler(eng, logger)
	policyHandler := handler.NewPolicyHandler(policyStore, logger)
	adminHandler := handler.NewAdminHandler(predictor, generator, logger)
	auditHandler := handler.NewAuditHandler(auditSink, analyzer, logger)

	// ── Router ───────────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("server.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	limiter := handler.NewRateLimiter(handler.RateLimits{
		DecisionRPS: viper.GetInt("server.rate_limit_rps"),
		AdminRPS:    viper.GetInt("server.admin_rate_limit_rps"),
	})

	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	// ── Health checks ────────────────────────────────────────────────────────
	var probes []health.Probe
	if db != nil {
		probes = append(probes, health.Probe{Name: "postgres", Check: db.Ping})
	}
	checker := health.New(probes, health.Config{
		CheckInterval: viper.GetDuration("health.check_interval"),
	}, logger)
	checker.SetMetricsRecord(handler.RecordHealthProbe)
	healthHandler := handler.NewHealthHandler(checker)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/healthz/deep", healthHandler.Deep)
	router.GET("/metrics", handler.MetricsHandler())

	// API v1: the decision endpoint and token issuance are open (callers
	// are trusted services inside the perimeter); everything that mutates
	// policies or the model is admin-gated.
	v1 := router.Group("/api/v1")
	open := v1.Group("")
	open.Use(limiter.Middleware(handler.LimitDecision))
	accessHandler.Register(open)
	authHandler.Register(open)

	admin := v1.Group("")
	admin.Use(limiter.Middleware(handler.LimitAdmin))
	admin.Use(authHandler.Middleware())
	policyHandler.Register(admin)
	adminHandler.Register(admin)
	auditHandler.Register(admin)

	// ── Background jobs ──────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// stop is closed once on shutdown so every background job sees it.
	stop := make(chan struct{})

	go checker.Start(stop)
	go limiter.Start(stop)

	// Audit retention sweep, Postgres only.
	if pgSink != nil {
		retention := time.Duration(viper.GetInt("audit.retention_days")) * 24 * time.Hour
		go func() {
			ticker := time.NewTicker(6 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
					n, err := pgSink.DeleteBefore(ctx, time.Now().UTC().Add(-retention))
					if err != nil {
						logger.Warn("audit retention sweep error", zap.Error(err))
					} else if n > 0 {
						logger.Info("audit retention sweep", zap.Int64("deleted", n))
					}
					cancel()
				case <-stop:
					return
				}
			}
		}()
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	port := viper.GetInt("server.port")
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("gatewised listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-quit
	close(stop)
	logger.Info("shutting down gatewised...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("gatewised stopped")
	return nil
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
