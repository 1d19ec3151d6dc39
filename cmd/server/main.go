package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucasduarte0/whatsapp-api/internal/api"
	"github.com/lucasduarte0/whatsapp-api/internal/browser"
	"github.com/lucasduarte0/whatsapp-api/internal/client/rodclient"
	"github.com/lucasduarte0/whatsapp-api/internal/config"
	"github.com/lucasduarte0/whatsapp-api/internal/events"
	"github.com/lucasduarte0/whatsapp-api/internal/logging"
	"github.com/lucasduarte0/whatsapp-api/internal/proxy"
	"github.com/lucasduarte0/whatsapp-api/internal/ratelimit"
	"github.com/lucasduarte0/whatsapp-api/internal/session"
	"github.com/lucasduarte0/whatsapp-api/internal/store"
	"github.com/lucasduarte0/whatsapp-api/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

var (
	envFile string
	port    int
)

var rootCmd = &cobra.Command{
	Use:   "whatsapp-api",
	Short: "REST gateway running many WhatsApp Web sessions side by side",
	Long: `Run the session gateway.

Every session drives its own browser with a persistent auth folder under
SESSIONS_PATH. Client events are posted to BASE_WEBHOOK_URL (or the
per-session <SESSIONID>_WEBHOOK_URL) and streamed over /session/events.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve()
	},
}

func init() {
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.Flags().IntVar(&port, "port", 0, "HTTP listen port, overrides PORT")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve() error {
	envErr := godotenv.Load(envFile)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Port = port
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	if envErr != nil {
		logger.Info("no env file found, using system environment variables", zap.String("path", envFile))
	}
	logger.Info("starting whatsapp api", zap.String("browser_mode", cfg.BrowserMode), zap.String("sessions_path", cfg.SessionsPath))

	var messages session.MessageStore
	if cfg.MessageDBPath != "" {
		db, err := store.Open(cfg.MessageDBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		messages = db
		logger.Info("message store opened", zap.String("path", cfg.MessageDBPath))
	}

	factory := &rodclient.Factory{Logger: logger}
	var pool *browser.Pool
	if cfg.BrowserMode == config.BrowserDocker {
		pool, err = browser.NewPool(browser.DefaultImage, logger)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		err = pool.EnsureImage(ctx)
		cancel()
		if err != nil {
			return err
		}
		factory.Launcher = rodclient.Docker{Pool: pool}
		logger.Info("chrome image ready", zap.String("image", browser.DefaultImage))
	}

	dispatcher := webhook.NewDispatcher(cfg.APIKey, logger)
	hub := events.NewHub(logger)

	binder := session.NewBinder(session.BinderConfig{
		Gate:              events.NewGate(cfg.DisabledCallbacks),
		Dispatcher:        dispatcher,
		Publisher:         hub,
		Store:             messages,
		WebhookURL:        cfg.WebhookURLFor,
		SetMessagesAsSeen: cfg.SetMessagesAsSeen,
		RecoverSessions:   cfg.RecoverSessions,
	}, logger)

	scfg := session.DefaultConfig()
	scfg.SessionsPath = cfg.SessionsPath
	scfg.ExecutablePath = cfg.ChromeBin
	scfg.Headless = cfg.Headless
	scfg.WebVersion = cfg.WebVersion
	scfg.WebVersionCache = cfg.WebVersionCacheType

	manager := session.NewManager(scfg, session.NewRegistry(), factory, binder, logger)
	if err := manager.Recover(); err != nil {
		logger.Error("failed to restore sessions", zap.Error(err))
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sweepLimiter(sweepCtx, limiter, logger)

	handler := api.NewHandler(manager, api.Options{
		APIKey:              cfg.APIKey,
		SessionsPath:        cfg.SessionsPath,
		MaxBodySize:         cfg.MaxAttachmentSize,
		EnableLocalCallback: cfg.EnableLocalCallbackExample,
	}, logger)
	router := handler.SetupRoutes(proxy.NewServer(hub, logger), limiter)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if err := dispatcher.Close(ctx); err != nil {
		logger.Warn("pending webhooks dropped", zap.Error(err))
	}
	if pool != nil {
		if err := pool.Close(ctx); err != nil {
			logger.Warn("failed to stop browser containers", zap.Error(err))
		}
	}

	logger.Info("server stopped")
	return nil
}

// sweepLimiter forgets clients that have been idle for a while
func sweepLimiter(ctx context.Context, l *ratelimit.Limiter, logger *zap.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(10 * time.Minute); n > 0 {
				logger.Debug("rate limiter swept", zap.Int("clients", n))
			}
		}
	}
}
