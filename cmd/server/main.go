package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/judgments-ocr/frontend/internal/api"
	"github.com/judgments-ocr/frontend/internal/backend"
	"github.com/judgments-ocr/frontend/internal/config"
	"github.com/judgments-ocr/frontend/internal/logging"
	"github.com/judgments-ocr/frontend/internal/ocr"
	"github.com/judgments-ocr/frontend/internal/session"
	"github.com/judgments-ocr/frontend/internal/storage"
	"github.com/judgments-ocr/frontend/internal/upload"
	"github.com/judgments-ocr/frontend/internal/web"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath, err := resolveConfigPath()
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Advanced.LogLevel,
		Format:      cfg.Advanced.LogFormat,
		Development: cfg.Advanced.LogLevel == "debug",
	})
	if err != nil {
		logger = logging.NewDefault()
		logger.Warn("invalid logging config, using defaults", zap.Error(err))
	}
	defer logger.Sync()

	if err := run(cfg, configPath, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

// resolveConfigPath honours CONFIG_PATH, falling back to a file next to
// the executable.
func resolveConfigPath() (string, error) {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p, nil
	}
	exePath, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(exePath), "judgments-ocr.config"), nil
}

func run(cfg *config.AppConfig, configPath string, logger *zap.Logger) error {
	// Staged files only live as long as their session, so anything left on
	// disk belongs to a previous process.
	fileStore, err := storage.NewLocalStore(cfg.Staging.Directory)
	if err != nil {
		return fmt.Errorf("initialize staging: %w", err)
	}
	if err := fileStore.Purge(); err != nil {
		logger.Warn("failed to purge staging directory", zap.Error(err))
	}

	client := backend.NewClient(backend.Options{
		BaseURL:        cfg.Backend.BaseURL,
		JudgementsPath: cfg.Backend.JudgementsPath,
		OCRPath:        cfg.Backend.OCRPath,
		Timeout:        cfg.BackendTimeout(),
		Logger:         logger,
	})

	sessionMgr := session.NewManager(session.Options{
		Store:         fileStore,
		Uploader:      client,
		Extractor:     client,
		Locator:       ocr.DefaultLocator,
		Logger:        logger,
		MaxFiles:      cfg.Staging.MaxUploadFiles,
		MaxImageBytes: cfg.MaxImageBytes(),
		MaxSessions:   cfg.Sessions.MaxSessions,
	})
	jobMgr := upload.NewManager(cfg.BackendTimeout(), logger)

	renderer, err := web.NewRenderer()
	if err != nil {
		return err
	}

	h := api.NewHandler(api.Options{
		Sessions: sessionMgr,
		Jobs:     jobMgr,
		Logger:   logger,
		Cookie: api.CookieConfig{
			Name:   cfg.Sessions.CookieName,
			Secure: cfg.Sessions.SecureCookie,
		},
		Version: Version,
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = renderer
	e.HTTPErrorHandler = api.NewErrorHandler(logger, cfg.Advanced.LogLevel == "debug")

	if cfg.Advanced.EnableRequestLogging {
		e.Use(logging.RequestLogger(logger))
	}
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 << 10,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.Error("handler panicked", zap.Error(err), zap.ByteString("stack", stack))
			return err
		},
	}))
	e.Use(middleware.RequestID())
	e.Use(middleware.Secure())
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))
	if cfg.Advanced.EnableCompression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Skipper: func(c echo.Context) bool {
				// PDFs and images are already compressed.
				path := c.Request().URL.Path
				return strings.HasPrefix(path, "/judgments/files/") ||
					strings.HasPrefix(path, "/ocr/image/")
			},
		}))
	}
	if cfg.Advanced.RateLimitPerSecond > 0 {
		e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Skipper: func(c echo.Context) bool {
				return c.Request().Method != http.MethodPost
			},
			Store: middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.Advanced.RateLimitPerSecond)),
		}))
	}

	api.RegisterRoutes(e, h)
	if err := web.RegisterStaticRoutes(e); err != nil {
		return fmt.Errorf("register static routes: %w", err)
	}
	if cfg.Advanced.EnableMetrics {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sessionMgr.CleanupOldSessions(cfg.SessionTimeout())
				jobMgr.CleanupOldJobs(cfg.SessionTimeout())
			}
		}
	}()

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	printBanner(cfg, configPath)

	serverErr := make(chan error, 1)
	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := jobMgr.Wait(shutdownCtx); err != nil {
		logger.Warn("abandoning in-flight submissions", zap.Error(err))
	}
	sessionMgr.Close()
	return nil
}

func printBanner(cfg *config.AppConfig, configPath string) {
	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Judgments & OCR Front End                       ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  API:       %-46s║\n", cfg.Backend.BaseURL)
	fmt.Printf("║  Staging:   %-46s║\n", cfg.Staging.Directory)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")
	fmt.Printf("Open http://localhost:%d in your browser\n\n", cfg.Server.Port)
}
