package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meetjoin/internal/core/domain"
	"meetjoin/internal/core/ports"
	"meetjoin/internal/core/services"
	httphandlers "meetjoin/internal/handlers/http"
	"meetjoin/internal/infrastructure/assets"
	"meetjoin/internal/infrastructure/middleware"
	"meetjoin/internal/infrastructure/monitoring"
	"meetjoin/internal/infrastructure/provisioning"
	"meetjoin/internal/infrastructure/reliability"
	"meetjoin/internal/infrastructure/repositories"
	"meetjoin/internal/infrastructure/rtc"
	"meetjoin/internal/infrastructure/surfaces"
	"meetjoin/pkg/circuitbreaker"
	"meetjoin/pkg/config"
	"meetjoin/pkg/logger"
	"meetjoin/pkg/retry"
	"meetjoin/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var defaultConfigPaths = []string{
	"configs/config.yaml",
	"config.yaml",
}

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	issueToken := flag.String("issue-token", "", "print a control API token for the named operator and exit")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(1)
	}

	if *issueToken != "" {
		if cfg.Control.JWTSecret == "" {
			fmt.Fprintln(os.Stderr, "control.jwt_secret is not set")
			os.Exit(1)
		}
		token, err := services.NewAuthService(cfg.Control.JWTSecret, 0).GenerateToken(*issueToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if err := run(cfg, zapLogger); err != nil {
		log.Fatalw("meetjoin stopped with error", "error", err)
	}
}

// loadConfig reads path, or the first default path that exists. With no
// file at all the defaults plus environment overrides are used.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	for _, p := range defaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return config.Load(p)
		}
	}
	return config.Load("")
}

func run(cfg *config.Config, zapLogger *zap.Logger) error {
	log := zapLogger.Sugar()

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = cfg.Monitoring.Tracing.Enabled
	tracingCfg.JaegerURL = cfg.Monitoring.Tracing.JaegerURL
	tracingCfg.Environment = "production"
	tracingCfg.SampleRate = cfg.Monitoring.Tracing.SampleRate
	tp, err := tracing.Init(tracingCfg)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Warnw("failed to flush traces", "error", err)
		}
	}()

	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	defer func() {
		if err := repoFactory.Close(); err != nil {
			log.Errorw("error closing repository factory", "error", err)
		}
	}()

	collector := monitoring.NewPrometheusCollector()
	provisioner, breaker := buildProvisioner(cfg, repoFactory, log)

	engine, err := rtc.NewEngine(rtc.ConfigFrom(cfg), log.Named("rtc"))
	if err != nil {
		return fmt.Errorf("init media engine: %w", err)
	}
	transforms := services.NewTransformManager(
		buildTransformEngine(cfg, log),
		assets.NewHTTPFetcher(cfg.Transforms.AssetTimeout, cfg.Transforms.MaxAssetBytes, log),
		collector,
		log,
	)
	grid := surfaces.NewGrid(log.Named("surfaces"))

	coordinator := services.NewCoordinator(
		services.CoordinatorConfig{
			VideoProfile:        domain.DefaultVideoProfile,
			ProvisioningTimeout: cfg.Provisioning.Timeout,
			StartTimeout:        cfg.Session.StartTimeout,
		},
		provisioner,
		engine,
		transforms,
		grid,
		collector,
		zapLogger,
	)

	health := monitoring.NewHealthChecker()
	health.AddStoreCheck("redis", repoFactory.HealthCheck, 30*time.Second, 2*time.Second)
	health.AddCredentialsRepositoryCheck(repoFactory.CreateCredentialsRepository(), 0, 2*time.Second)
	if breaker != nil {
		health.AddCheck("provisioning_circuit", func(context.Context) (bool, error) {
			if st := breaker.BreakerState(); st == circuitbreaker.StateOpen {
				return false, fmt.Errorf("circuit %s", st)
			}
			return true, nil
		}, 10*time.Second, time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	health.StartBackgroundChecks(ctx, log)

	srv := &http.Server{
		Addr:              cfg.Control.Address,
		Handler:           buildRouter(cfg, coordinator, grid, collector, health, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("control API listening", "address", cfg.Control.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if cfg.Session.AutoJoin {
		go func() {
			if err := coordinator.Initialize(ctx, cfg.Session.MeetingID); err != nil {
				log.Errorw("auto join failed", "meeting_id", cfg.Session.MeetingID, "error", err)
			}
		}()
	}

	select {
	case err := <-serverErr:
		return fmt.Errorf("control API: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Control.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		_ = srv.Close()
	}
	if err := coordinator.Leave(shutdownCtx); err != nil {
		log.Errorw("error leaving meeting", "error", err)
	}

	log.Info("meetjoin stopped")
	return nil
}

// buildProvisioner layers the optional reliability wrapper and credential
// cache over the HTTP provisioner. The wrapper is returned when used.
func buildProvisioner(cfg *config.Config, repoFactory *repositories.RepositoryFactory, log *zap.SugaredLogger) (ports.Provisioner, *reliability.ProvisionerWrapper) {
	var p ports.Provisioner = provisioning.NewHTTPProvisioner(cfg.Provisioning.Endpoint, cfg.Provisioning.Timeout, log)

	var wrapper *reliability.ProvisionerWrapper
	pc := cfg.Provisioning
	if pc.Retry.Enabled || pc.CircuitBreaker.Enabled {
		retryCfg := retry.DefaultConfig()
		retryCfg.Enabled = pc.Retry.Enabled
		retryCfg.MaxAttempts = pc.Retry.MaxAttempts
		retryCfg.InitialDelay = pc.Retry.InitialDelay
		retryCfg.MaxDelay = pc.Retry.MaxDelay

		var cbCfg *circuitbreaker.Config
		if pc.CircuitBreaker.Enabled {
			c := circuitbreaker.DefaultConfig()
			c.FailureThreshold = pc.CircuitBreaker.FailureThreshold
			c.SuccessThreshold = pc.CircuitBreaker.SuccessThreshold
			c.Timeout = pc.CircuitBreaker.Timeout
			cbCfg = &c
		}
		wrapper = reliability.NewProvisionerWrapper(p, retryCfg, cbCfg, log)
		p = wrapper
	}

	if pc.CacheTTL > 0 {
		var opts []provisioning.CachedOption
		if locker := repoFactory.CreateMeetingLocker(); locker != nil {
			opts = append(opts, provisioning.WithLocker(locker))
		}
		p = provisioning.NewCachedProvisioner(p, repoFactory.CreateCredentialsRepository(), pc.CacheTTL, log, opts...)
	}
	return p, wrapper
}

func buildTransformEngine(cfg *config.Config, log *zap.SugaredLogger) *rtc.TransformEngine {
	var opts []rtc.TransformOption
	for _, k := range cfg.Transforms.Kinds {
		switch domain.TransformKind(k) {
		case domain.TransformBlur:
			opts = append(opts, rtc.WithProcessor(domain.TransformBlur, rtc.NewBlurMarker))
		case domain.TransformReplacement:
			opts = append(opts, rtc.WithProcessor(domain.TransformReplacement, rtc.NewReplacementMarker))
		}
	}
	return rtc.NewTransformEngine(log.Named("transform"), opts...)
}

func buildRouter(
	cfg *config.Config,
	coordinator *services.Coordinator,
	grid *surfaces.Grid,
	collector *monitoring.PrometheusCollector,
	health *monitoring.HealthChecker,
	log *zap.SugaredLogger,
) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	startTime := time.Now()
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(startTime).String(),
			"meeting": coordinator.Status(),
		})
	})
	router.GET("/ready", func(c *gin.Context) {
		status := health.GetReadinessStatus(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(collector.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	var protected []gin.HandlerFunc
	if cfg.Control.JWTSecret != "" {
		protected = append(protected, middleware.AuthMiddleware(services.NewAuthService(cfg.Control.JWTSecret, 0)))
	} else {
		log.Warn("control.jwt_secret is empty, control API is unauthenticated")
	}
	httphandlers.NewMeetingHandler(coordinator, grid, cfg.Session.MeetingID).SetupRoutes(router, protected...)

	return router
}
