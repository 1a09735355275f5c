package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/reclip/reclip/analyze"
	"github.com/reclip/reclip/api/handlers"
	"github.com/reclip/reclip/config"
	"github.com/reclip/reclip/engine"
	"github.com/reclip/reclip/internal/metrics"
	"github.com/reclip/reclip/internal/server"
	"github.com/reclip/reclip/internal/telemetry"
	"github.com/reclip/reclip/media"
	"github.com/reclip/reclip/promptgen"
	"github.com/reclip/reclip/settings"
	"github.com/reclip/reclip/store"
	"github.com/reclip/reclip/types"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 Reclip 的主服务器
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	logLevel   zap.AtomicLevel
	otel       *telemetry.Providers

	// 存储层
	live     *store.RedisStore
	archive  *store.Store
	settings *settings.Store

	// 会话引擎
	manager *engine.Manager

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 指标收集器
	metricsCollector *metrics.Collector

	// 配置文件监听器（仅指定 --config 时启用）
	watcher *config.Watcher

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, logLevel zap.AtomicLevel, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		logLevel:   logLevel,
		otel:       otel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("reclip", s.logger)

	// 2. 连接存储层
	if err := s.initStores(); err != nil {
		return fmt.Errorf("failed to init stores: %w", err)
	}

	// 3. 装配会话引擎
	s.initEngine()

	// 4. 配置文件监听
	if err := s.initWatcher(); err != nil {
		return fmt.Errorf("failed to init config watcher: %w", err)
	}

	// 5. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 6. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("database_driver", s.cfg.Database.Driver),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initStores 连接 Redis 热状态、归档数据库与设置存储
func (s *Server) initStores() error {
	ctx := context.Background()

	live, err := store.Connect(ctx, store.RedisConfig{
		Addr:        s.cfg.Redis.Addr,
		Password:    s.cfg.Redis.Password,
		DB:          s.cfg.Redis.DB,
		TerminalTTL: s.cfg.Redis.TerminalTTL,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	s.live = live

	archive, err := store.Open(store.DatabaseConfig{
		Driver: s.cfg.Database.Driver,
		DSN:    s.cfg.Database.DSN(),
	}, s.logger)
	if err != nil {
		return fmt.Errorf("open archive database: %w", err)
	}
	s.archive = archive

	// 环境配置作为设置默认值，Redis 中的运行期设置覆盖之
	s.settings = settings.NewStore(live.Client(), settings.Settings{
		KieBaseURL:    s.cfg.Providers.KieBaseURL,
		DefapiBaseURL: s.cfg.Providers.DefapiBaseURL,
	}, s.logger)

	return nil
}

// initEngine 装配会话引擎及其协作者
func (s *Server) initEngine() {
	engineCfg := &engine.Config{
		MaxConcurrentClips: s.cfg.Generation.MaxConcurrentClips,
		PollInterval:       s.cfg.Generation.PollInterval,
		ClipTimeoutFactor:  s.cfg.Generation.ClipTimeoutFactor,
		ClipTimeoutMin:     s.cfg.Generation.ClipTimeoutMin,
		SessionTimeout:     s.cfg.Generation.SessionTimeout,
	}

	s.manager = engine.NewManager(engine.ManagerDeps{
		Live:        s.live,
		Archive:     s.archive,
		Credentials: s.settings,
		Downloader: media.NewHTTPDownloader(media.DownloaderConfig{
			WorkDir: s.cfg.Storage.WorkDir,
		}, s.logger),
		Segmenter: media.NewSceneServiceClient(media.SegmenterConfig{
			BaseURL: s.cfg.Providers.SceneServiceURL,
		}, s.logger),
		Analyzer: &liveKeyAnalyzer{
			settings: s.settings,
			cfg: analyze.GeminiConfig{
				BaseURL: s.cfg.Providers.GeminiBaseURL,
				Model:   s.cfg.Providers.GeminiModel,
			},
		},
		Prompts:  promptgen.NewBuilder(s.settings.Templates),
		Observer: s.metricsCollector,
	}, engineCfg, s.logger)
}

// initWatcher 监听配置文件变更，运行期只消化日志级别调整
func (s *Server) initWatcher() error {
	if s.configPath == "" {
		return nil
	}

	watcher, err := config.NewWatcher(s.configPath, config.NewLoader().WithConfigPath(s.configPath),
		config.WithWatcherLogger(s.logger))
	if err != nil {
		return err
	}

	watcher.OnReload(func(cfg *config.Config) {
		s.logLevel.SetLevel(parseLogLevel(cfg.Log.Level))
		s.logger.Info("log level applied from config file",
			zap.String("level", cfg.Log.Level))
	})

	if err := watcher.Start(context.Background()); err != nil {
		return err
	}
	s.watcher = watcher
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	healthHandler := handlers.NewHealthHandler(s.logger)
	healthHandler.RegisterCheck(handlers.NewPingCheck("redis", s.live.Ping))
	healthHandler.RegisterCheck(handlers.NewPingCheck("database", s.archive.Ping))

	mux.HandleFunc("/health", healthHandler.HandleHealth)
	mux.HandleFunc("/ready", healthHandler.HandleReady)
	mux.HandleFunc("/version", healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// API 路由
	// ========================================
	sessionHandler := handlers.NewSessionHandler(s.manager, handlers.UploadConfig{
		Dir:      s.cfg.Storage.WorkDir,
		MaxBytes: s.cfg.Storage.MaxUploadBytes,
	}, s.logger)
	sessionHandler.Register(mux)

	handlers.NewSettingsHandler(s.settings, s.logger).Register(mux)
	handlers.NewLibraryHandler(s.archive, s.logger).Register(mux)

	// ========================================
	// 构建中间件链
	// ========================================
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
	)

	// WriteTimeout 置 0：进度 websocket 是长连接，不能被写超时掐断
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    0,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 1. 停止接受新请求
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 2. 取消运行中的会话并等待落到终态
	if s.manager != nil {
		if err := s.manager.Shutdown(ctx); err != nil {
			s.logger.Error("Session engine shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 4. 其余后台组件
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}
	if s.live != nil {
		if err := s.live.Close(); err != nil {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}

// =============================================================================
// 🔍 内容分析装配
// =============================================================================

// liveKeyAnalyzer 每次分析时取最新的 Gemini key，key 轮换无需重启。
type liveKeyAnalyzer struct {
	settings *settings.Store
	cfg      analyze.GeminiConfig
}

func (a *liveKeyAnalyzer) Analyze(ctx context.Context, m *types.SourceMedia, productName string) (string, error) {
	key, err := a.settings.GeminiKey(ctx)
	if err != nil {
		return "", err
	}
	cfg := a.cfg
	cfg.APIKey = key
	return analyze.NewGeminiAnalyzer(cfg).Analyze(ctx, m, productName)
}
