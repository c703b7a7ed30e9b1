package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container
	"golang.org/x/sync/errgroup"

	"github.com/nomorepassword/bclient/internal/adapter/driven/relay"
	"github.com/nomorepassword/bclient/internal/adapter/driven/site"
	sqliteadapter "github.com/nomorepassword/bclient/internal/adapter/driven/sqlite"
	httphandler "github.com/nomorepassword/bclient/internal/adapter/driving/http"
	"github.com/nomorepassword/bclient/internal/application"
	"github.com/nomorepassword/bclient/internal/config"
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
	key, err := cfg.EncryptionKey()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"node_id", cfg.NodeID,
		"refresh_interval", cfg.RefreshInterval,
		"session_ttl", cfg.SessionTTL,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Load the target-site table.
	table, err := site.LoadTable(cfg.SitesFile, cfg.DefaultSiteURL)
	if err != nil {
		return fmt.Errorf("load site table: %w", err)
	}

	// 6. Wire adapters.
	logger := slog.Default()
	credentialStore := sqliteadapter.NewCredentialRepo(db, key)
	sessionStore := sqliteadapter.NewSessionRepo(db)
	nodeStore := sqliteadapter.NewNodeRepo(db)
	mailboxStore := sqliteadapter.NewMailboxRepo(db)

	siteClient := site.NewClient(table, cfg.HTTPTimeout, logger)
	sessionRelay := relay.NewSessionRelay(cfg.HTTPTimeout, logger)
	peers := relay.NewPeerForwarder(cfg.HTTPTimeout, logger)
	addrs := relay.NewAddressCache(cfg.AddressCacheTTL, cfg.AddressCacheSize)

	// 7. Wire services.
	refreshSvc := application.NewRefreshService(sessionStore, cfg.RefreshInterval, cfg.SessionTTL, logger)
	bindSvc := application.NewBindService(siteClient, credentialStore, sessionStore, sessionRelay, addrs, refreshSvc, cfg.SessionTTL, logger)
	nodeSvc := application.NewNodeService(cfg.NodeID, nodeStore, mailboxStore, peers, logger)

	handler := httphandler.NewServeMux(httphandler.NewHandler(bindSvc, nodeSvc, refreshSvc, logger), logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Bind runs a signup and a login against the target site.
		WriteTimeout: 4*cfg.HTTPTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		refreshSvc.Start(gctx)
		<-gctx.Done()
		refreshSvc.Stop()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})

	slog.Info("bclient started", "listen_addr", cfg.ListenAddr, "node_id", cfg.NodeID)

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("shutdown complete")
	return nil
}
