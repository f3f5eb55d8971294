package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"      // Load .env in development
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	kiroadapter "github.com/z871327332/kiropanel/internal/adapter/driven/kiro"
	sqliteadapter "github.com/z871327332/kiropanel/internal/adapter/driven/sqlite"
	httphandler "github.com/z871327332/kiropanel/internal/adapter/driving/http"
	"github.com/z871327332/kiropanel/internal/adapter/driving/web"
	"github.com/z871327332/kiropanel/internal/application"
	"github.com/z871327332/kiropanel/internal/config"
	"github.com/z871327332/kiropanel/internal/domain/port/driven"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"refresh_interval", cfg.RefreshInterval,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire adapters.
	poolStore := sqliteadapter.NewPoolRepo(db)
	auditStore := sqliteadapter.NewAuditRepo(db)
	settingsStore := sqliteadapter.NewSettingsRepo(db, cfg.SecretKey())

	// 6. Create the upstream client. Stored settings take priority over env
	// vars; without either, the app starts and waits for settings via the GUI.
	upstreamURL := cfg.UpstreamURL
	adminToken := cfg.UpstreamAdminToken
	if stored, err := settingsStore.Get(ctx, driven.SettingUpstreamURL); err == nil && stored != "" {
		upstreamURL = stored
	}
	if stored, err := settingsStore.Get(ctx, driven.SettingAdminToken); err == nil && stored != "" {
		adminToken = stored
	}

	var client driven.KiroClient
	if upstreamURL != "" && adminToken != "" {
		c, err := kiroadapter.NewClient(upstreamURL, adminToken)
		if err != nil {
			return err
		}
		client = c
		slog.Info("upstream client created", "url", upstreamURL)
	} else {
		slog.Info("no upstream configured, pool inactive until settings are provided via GUI")
	}

	provider := application.NewKiroClientProvider(client)

	// 7. Create and start the pool service.
	poolSvc := application.NewPoolService(provider, poolStore, auditStore, cfg.RefreshInterval, cfg.ItemDelay)
	go poolSvc.Start(ctx)

	importSvc := application.NewImportService(provider, poolStore, auditStore, poolSvc, cfg.ItemDelay)

	sessionSecret := cfg.SessionSecret
	if sessionSecret == "" {
		sessionSecret = randomSecret()
		slog.Warn("KIROPANEL_SESSION_SECRET not set, sessions will not survive restarts")
	}
	authSvc := application.NewAuthService(cfg.AdminPassword, sessionSecret, cfg.SessionTTL)

	// 8. Wire the HTTP surface: API handler, metrics, embedded GUI.
	metrics, err := httphandler.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	factory := func(baseURL, token string) (driven.KiroClient, error) {
		return kiroadapter.NewClient(baseURL, token)
	}
	apiHandler := httphandler.NewHandler(
		poolSvc, importSvc, authSvc,
		auditStore, settingsStore, provider,
		factory, slog.Default(),
	)
	handler := httphandler.NewServeMux(apiHandler, metrics, web.Handler(), slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("kiropanel started",
		"listen_addr", cfg.ListenAddr,
		"refresh_interval", cfg.RefreshInterval,
	)

	// 9. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 10. Graceful shutdown with 10s timeout to drain in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// randomSecret generates an ephemeral session-signing secret.
func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("failed to generate session secret: " + err.Error())
	}
	return hex.EncodeToString(b)
}
