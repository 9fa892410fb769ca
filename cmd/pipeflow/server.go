package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/pipeflow/api/handlers"
	"github.com/BaSui01/pipeflow/config"
	"github.com/BaSui01/pipeflow/credentials"
	"github.com/BaSui01/pipeflow/events"
	"github.com/BaSui01/pipeflow/executor"
	"github.com/BaSui01/pipeflow/graph"
	"github.com/BaSui01/pipeflow/internal/metrics"
	"github.com/BaSui01/pipeflow/internal/server"
	"github.com/BaSui01/pipeflow/internal/telemetry"
	"github.com/BaSui01/pipeflow/pipelines/blogwriter"
	"github.com/BaSui01/pipeflow/step"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 Pipeflow 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 执行核心
	storage  *storage
	bus      *events.Bus
	executor *executor.Executor
	registry *step.Registry

	// Handlers
	healthHandler *handlers.HealthHandler
	runHandler    *handlers.RunHandler
	eventsHandler *handlers.EventsHandler

	// 可观测性
	metricsCollector *metrics.Collector
	otelProviders    *telemetry.Providers

	// 后台 goroutine（限流清理、事件计数）
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer 创建新的服务器实例。registry 中是嵌入方注册的能力实现
func NewServer(cfg *config.Config, registry *step.Registry, logger *zap.Logger) *Server {
	if registry == nil {
		registry = step.NewRegistry()
	}
	return &Server{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	// 1. 指标与遥测
	s.metricsCollector = metrics.NewCollector("pipeflow", s.logger)
	providers, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
		providers = &telemetry.Providers{}
	}
	s.otelProviders = providers

	// 2. 事件总线
	s.bus = events.NewBus(s.logger)
	s.metricsCollector.TrackEventDrops(s.bus.Dropped)
	if s.cfg.Telemetry.Enabled {
		sub := s.bus.Subscribe("", events.DefaultBuffer)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer sub.Close()
			if err := telemetry.RecordEvents(bgCtx, sub); err != nil {
				s.logger.Warn("event telemetry stopped", zap.Error(err))
			}
		}()
	}

	// 3. 检查点存储
	st, err := openStorage(ctx, s.cfg, s.metricsCollector, s.logger)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint storage: %w", err)
	}
	s.storage = st

	// 4. 执行器与图
	s.initExecutor()
	if err := s.registerGraphs(); err != nil {
		return fmt.Errorf("failed to register graphs: %w", err)
	}

	// 5. Handlers，并继续上次停机时被中断的运行
	s.initHandlers()
	if n, err := s.runHandler.RecoverInterrupted(ctx); err != nil {
		s.logger.Warn("failed to scan interrupted runs", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("recovering interrupted runs", zap.Int("runs", n))
	}

	// 6. HTTP 与 Metrics 服务器
	if err := s.startHTTPServer(bgCtx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.String("metrics_addr", s.metricsManager.Addr()),
		zap.String("checkpoint", s.cfg.Checkpoint.Type),
		zap.Int("graphs", len(s.executor.Graphs())),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

func (s *Server) initExecutor() {
	execCfg := s.cfg.Executor

	runnerOpts := []step.Option{
		step.WithLogger(s.logger),
		step.WithObserver(s.metricsCollector),
		step.WithDefaultTimeout(execCfg.StepTimeout),
		step.WithCredentials(credentials.Default(), os.LookupEnv),
	}
	if execCfg.StepRateLimit > 0 {
		runnerOpts = append(runnerOpts, step.WithRateLimiter(
			rate.NewLimiter(rate.Limit(execCfg.StepRateLimit), max(execCfg.StepRateBurst, 1))))
	}
	runner := step.NewRunner(s.registry, runnerOpts...)

	for _, spec := range credentials.Default().StartupMissing(os.LookupEnv) {
		s.logger.Warn("credential not configured",
			zap.String("credential", spec.ID),
			zap.String("env_var", spec.EnvVar),
		)
	}

	opts := executor.ConfigOptions(execCfg, s.logger)
	opts = append(opts,
		executor.WithLogger(s.logger),
		executor.WithObserver(s.metricsCollector),
		executor.WithEvents(s.bus),
		executor.WithLocker(s.storage.locker),
	)
	s.executor = executor.New(runner, s.storage.store, opts...)
}

// registerGraphs 注册内置流水线与 graphs.pattern 匹配的定义文件
func (s *Server) registerGraphs() error {
	if s.cfg.Graphs.Builtin {
		if err := blogwriter.Register(s.executor); err != nil {
			return err
		}
	}

	if s.cfg.Graphs.Pattern != "" {
		graphs, err := graph.LoadGlob(s.cfg.Graphs.Pattern)
		if err != nil {
			return err
		}
		for _, g := range graphs {
			if err := s.executor.RegisterGraph(g, nil); err != nil {
				return err
			}
		}
	}

	for _, g := range s.executor.Graphs() {
		for _, w := range g.Lint() {
			s.logger.Warn("graph lint", zap.String("graph_id", g.ID()), zap.String("warning", w.String()))
		}
		if missing := s.registry.MissingFor(g); len(missing) > 0 {
			s.logger.Warn("graph references unregistered capabilities",
				zap.String("graph_id", g.ID()),
				zap.Strings("capabilities", missing),
			)
		}
		s.logger.Info("graph registered",
			zap.String("graph_id", g.ID()),
			zap.String("version", g.Version()),
			zap.Int("steps", g.NumSteps()),
		)
	}
	return nil
}

func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	for _, c := range s.storage.checks {
		s.healthHandler.RegisterCheck(c)
	}
	s.healthHandler.RegisterCheck(handlers.NewFuncCheck("checkpoint", func(ctx context.Context) error {
		_, err := s.executor.List(ctx)
		return err
	}))

	s.runHandler = handlers.NewRunHandler(s.executor, s.logger)

	var eventOpts []handlers.EventsOption
	if len(s.cfg.Server.CORSAllowedOrigins) > 0 {
		eventOpts = append(eventOpts, handlers.WithOriginPatterns(s.cfg.Server.CORSAllowedOrigins...))
	}
	s.eventsHandler = handlers.NewEventsHandler(s.bus, s.logger, eventOpts...)
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// skipAuthPrefixes 不需要认证的路径前缀
var skipAuthPrefixes = []string{"/health", "/ready", "/version"}

func (s *Server) startHTTPServer(ctx context.Context) error {
	mux := http.NewServeMux()
	s.healthHandler.Register(mux, Version, BuildTime, GitCommit)
	s.runHandler.Register(mux)
	s.eventsHandler.Register(mux)

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.metricsCollector),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		JWTAuth(s.cfg.JWT, skipAuthPrefixes, s.logger),
		RateLimiter(ctx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	)

	s.httpManager = server.NewManager(handler, server.ConfigFrom(s.cfg.Server), s.logger)
	return s.httpManager.Start()
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	cfg := server.DefaultConfig()
	cfg.Addr = fmt.Sprintf(":%d", s.cfg.Server.MetricsPort)
	cfg.ShutdownTimeout = s.cfg.Server.ShutdownTimeout

	s.metricsManager = server.NewManager(mux, cfg, s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Wait 阻塞直到 ctx 结束或 HTTP 服务器异常退出，然后关闭所有组件
func (s *Server) Wait(ctx context.Context) error {
	err := s.httpManager.Wait(ctx)
	return errors.Join(err, s.Shutdown(context.WithoutCancel(ctx)))
}

// Shutdown 优雅关闭所有服务。顺序：HTTP → 后台运行 → 事件总线 → Metrics → 存储 → 遥测
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Starting graceful shutdown...")

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error

	// 1. 停止接收请求
	if s.httpManager != nil {
		errs = append(errs, s.httpManager.Shutdown(ctx))
	}

	// 2. 中断后台运行，等待在途步骤完成并写入检查点
	if s.runHandler != nil {
		if err := s.runHandler.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("background runs: %w", err))
		}
	}

	// 3. 关闭事件订阅与后台 goroutine
	if s.bus != nil {
		s.bus.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	// 4. Metrics 服务器
	if s.metricsManager != nil {
		errs = append(errs, s.metricsManager.Shutdown(ctx))
	}

	// 5. 存储与遥测
	if s.storage != nil {
		errs = append(errs, s.storage.Close(ctx))
	}
	if s.otelProviders != nil {
		errs = append(errs, s.otelProviders.Shutdown(ctx))
	}

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("Graceful shutdown finished with errors", zap.Error(err))
	} else {
		s.logger.Info("Graceful shutdown completed")
	}
	return err
}
