package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"argus-ingest/config"
	"argus-ingest/distribute"
	"argus-ingest/ingest"
	"argus-ingest/web"
)

const (
	DefaultConfigPath = "config.toml"
	AppName           = "Argus Ingestion Engine"
	AppVersion        = "1.0.0"
)

// Application wires Layer 1 (ingest.Manager), the frame distributor, and
// the HTTP/WebSocket boundary together and owns their lifecycle.
type Application struct {
	config *config.Config
	logger *zap.Logger

	manager     *ingest.Manager
	distributor *distribute.Distributor
	webServer   *web.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	defaultConfigPath := DefaultConfigPath
	if envPath := os.Getenv("ARGUS_CONFIG"); envPath != "" {
		defaultConfigPath = envPath
	}

	var (
		configPath = flag.String("config", defaultConfigPath, "Path to configuration file")
		logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		version    = flag.Bool("version", false, "Show version information")
		help       = flag.Bool("help", false, "Show help information")
	)
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", AppName, AppVersion)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	if *help {
		fmt.Printf("%s v%s\n\n", AppName, AppVersion)
		fmt.Println("A multi-source video ingestion and fan-out engine (RTSP/MJPEG/USB/file)")
		fmt.Println("\nUsage:")
		flag.PrintDefaults()
		fmt.Println("\nEnvironment Variables:")
		fmt.Println("  ARGUS_CONFIG        - Override the default configuration file path")
		fmt.Println("  ARGUS_HOST          - Override the HTTP bind host")
		fmt.Println("  ARGUS_ADVERTISED_IP - Override the auto-detected advertised IP")
		os.Exit(0)
	}

	logger, err := createLogger(*logLevel)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting argus ingestion engine",
		zap.String("version", AppVersion),
		zap.String("go_version", runtime.Version()),
		zap.String("platform", runtime.GOOS+"/"+runtime.GOARCH))

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("advertised_ip", cfg.Server.AdvertisedIP),
		zap.Int("max_sources", cfg.Ingest.MaxSources),
		zap.Int("default_target_fps", cfg.Ingest.DefaultTargetFPS))

	app := NewApplication(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		logger.Fatal("failed to start application", zap.Error(err))
	}

	select {
	case sig := <-signalCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("context cancelled")
	}

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(app.config.Timeouts.ShutdownTimeoutSeconds)*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// NewApplication wires the ingest manager, distributor, and web server
// together. No sources are registered here: sources are added at runtime
// via POST /sources/start.
func NewApplication(cfg *config.Config, logger *zap.Logger) *Application {
	ctx, cancel := context.WithCancel(context.Background())

	manager := ingest.NewManager(logger, cfg.Ingest.DefaultTargetFPS, cfg.Ingest.MaxSources, cfg.Ingest.FrameQueueSize)
	distributor := distribute.NewDistributor(logger, cfg.Ingest.JPEGQuality, cfg.Buffers.RelayChannelSize)
	webServer := web.NewServer(cfg, logger, manager, distributor)

	return &Application{
		config:      cfg,
		logger:      logger,
		manager:     manager,
		distributor: distributor,
		webServer:   webServer,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the distributor's frame-draining loop and the HTTP
// server. Source capture itself only starts once a source is registered.
func (a *Application) Start(ctx context.Context) error {
	a.logger.Info("starting application components")

	go a.distributor.Run(a.ctx, a.manager.Frames())

	if err := a.webServer.Start(); err != nil {
		return fmt.Errorf("failed to start web server: %w", err)
	}

	a.logger.Info("application started successfully",
		zap.String("web_url", fmt.Sprintf("http://%s:%d", a.config.Server.AdvertisedIP, a.config.Server.Port)))

	return nil
}

// Stop gracefully stops every component: HTTP server first, then every
// registered source, then the distributor's drain loop.
func (a *Application) Stop(ctx context.Context) error {
	a.logger.Info("stopping application")

	if err := a.webServer.Stop(); err != nil {
		a.logger.Error("error stopping web server", zap.Error(err))
	}

	a.manager.StopAll()
	a.cancel()

	done := make(chan struct{})
	go func() {
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("all components stopped gracefully")
	case <-ctx.Done():
		a.logger.Warn("shutdown timeout reached, forcing exit")
	}

	return nil
}

// createLogger builds a console-encoded zap logger writing to both stdout
// and a timestamped, rotation-pruned log file.
func createLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	const logDir = "logs"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	ts := time.Now().Format("20060102-150405")
	logFile := filepath.Join(logDir, fmt.Sprintf("argus-ingest-%s.log", ts))

	// Clean up old logs, keeping the most recent maxLogFiles (config
	// default 20).
	files, _ := filepath.Glob(filepath.Join(logDir, "argus-ingest-*.log"))
	const maxLogFiles = 20
	if len(files) > maxLogFiles {
		sort.Strings(files) // lexicographic order matches timestamp
		for _, f := range files[:len(files)-maxLogFiles] {
			_ = os.Remove(f)
		}
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout", logFile},
		ErrorOutputPaths: []string{"stderr", logFile},
	}

	return cfg.Build()
}
