// Package server wires configuration, storage, the trust services and their
// transports into one runnable application.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/trustvault/internal/cryptox"
	"github.com/dmitrijs2005/trustvault/internal/filex"
	"github.com/dmitrijs2005/trustvault/internal/logging"
	"github.com/dmitrijs2005/trustvault/internal/server/auth"
	"github.com/dmitrijs2005/trustvault/internal/server/blobstore"
	"github.com/dmitrijs2005/trustvault/internal/server/config"
	"github.com/dmitrijs2005/trustvault/internal/server/metrics"
	"github.com/dmitrijs2005/trustvault/internal/server/repositories/memory"
	"github.com/dmitrijs2005/trustvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/trustvault/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/trustvault/internal/server/grpc"
)

const (
	keySize         = 32
	shutdownTimeout = 5 * time.Second
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	registry *prometheus.Registry

	repos   repomanager.RepositoryManager
	content blobstore.ContentStore

	creds  *services.CredentialStore
	keys   *services.KeyLifecycleManager
	ledger *services.IntegrityLedger
	vault  *services.RecordVault
	trust  *services.TrustService
	grpc   *gs.Server
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)
	return newApp(ctx, c, logger)
}

func newApp(ctx context.Context, c *config.Config, logger logging.Logger) (_ *App, err error) {
	app := &App{config: c, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(app.registry)

	digest, err := cryptox.LookupDigester(c.Digest)
	if err != nil {
		return nil, err
	}

	signingKey, err := app.sealedKey(ctx, "signing key", c.SigningKey)
	if err != nil {
		return nil, err
	}
	signer, err := auth.NewSigner(c.Signer, signingKey)
	if err != nil {
		return nil, err
	}

	kek, err := app.sealedKey(ctx, "key-encryption key", c.KEK)
	if err != nil {
		return nil, err
	}
	wrapper, err := cryptox.NewKeyWrapper(kek)
	if err != nil {
		return nil, err
	}

	hasher, err := cryptox.NewPasswordHasher(cryptox.DefaultArgon)
	if err != nil {
		return nil, err
	}

	if app.repos, err = app.openRepositories(ctx); err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if app.content, err = app.openContent(ctx); err != nil {
		return nil, fmt.Errorf("content store init error: %w", err)
	}

	app.keys = services.NewKeyLifecycleManager(app.repos, wrapper, services.KeyOptions{
		StoreTimeout: c.StoreTimeout,
		Logger:       logger,
		Metrics:      m,
	})
	app.creds = services.NewCredentialStore(app.repos, hasher, signer, services.CredentialOptions{
		MinSecretLength:     c.MinSecretLength,
		StoreTimeout:        c.StoreTimeout,
		Epochs:              app.keys,
		RejectStaleSessions: c.RejectStaleSessions,
		Logger:              logger,
		Metrics:             m,
	})
	app.ledger = services.NewIntegrityLedger(app.repos, digest, services.LedgerOptions{
		Logger:  logger,
		Metrics: m,
	})
	app.vault = services.NewRecordVault(app.repos, app.ledger, app.keys, app.content, services.VaultOptions{
		Logger:  logger,
		Metrics: m,
	})
	app.trust = services.NewTrustService(app.repos, app.creds, app.keys, c.SessionTTL)

	app.grpc = gs.NewServer(c.EndpointAddrGRPC, logger, m, gs.Services{
		Accounts: app.trust,
		Sessions: app.creds,
		Keys:     app.keys,
		Ledger:   app.ledger,
		Vault:    app.vault,
	})

	return app, nil
}

// sealedKey decodes configured key material, or generates a throwaway key
// when none is configured.
func (app *App) sealedKey(ctx context.Context, name, encoded string) (*cryptox.SealedKey, error) {
	if encoded == "" {
		app.logger.Warn(ctx, "no "+name+" configured, using a random one")
		return cryptox.NewRandomSealedKey(keySize), nil
	}
	key, err := cryptox.SealedKeyFromBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return key, nil
}

// openRepositories uses Postgres when a DSN is configured and the in-memory
// store otherwise.
func (app *App) openRepositories(ctx context.Context) (repomanager.RepositoryManager, error) {
	if app.config.DatabaseDSN == "" {
		app.logger.Warn(ctx, "no database configured, state is kept in memory")
		return memory.NewManager(), nil
	}

	db, err := repomanager.OpenPostgres(ctx, app.config.DatabaseDSN, app.logger)
	if err != nil {
		return nil, err
	}
	m := repomanager.NewPostgresRepositoryManager(db)
	if err := m.RunMigrations(ctx); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

func (app *App) openContent(ctx context.Context) (blobstore.ContentStore, error) {
	c := app.config
	if c.S3Bucket == "" {
		dir, err := filex.EnsureDir(c.ContentDir)
		if err != nil {
			return nil, err
		}
		return blobstore.OpenBadger(dir)
	}
	return blobstore.NewS3Store(ctx, blobstore.S3Config{
		Region:       c.S3Region,
		Endpoint:     c.S3BaseEndpoint,
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		Bucket:       c.S3Bucket,
		UsePathStyle: c.S3BaseEndpoint != "",
	})
}

func (app *App) close() {
	if app.content != nil {
		if err := app.content.Close(); err != nil {
			app.logger.Warn(context.Background(), "close content store", "error", err)
		}
	}
	if app.repos != nil {
		if err := app.repos.Close(); err != nil {
			app.logger.Warn(context.Background(), "close repositories", "error", err)
		}
	}
}

// serveMetrics exposes the registry on MetricsAddr until ctx is done.
func (app *App) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(app.registry))
	srv := &http.Server{Addr: app.config.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	app.logger.Info(ctx, "Starting metrics server", "address", app.config.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// runRotationScheduler rotates every principal whose epoch is due on each
// tick.
func (app *App) runRotationScheduler(ctx context.Context, tick <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-tick:
			report, err := app.keys.RotateDue(ctx, now)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				app.logger.Error(ctx, "scheduled rotation", "error", err)
				continue
			}
			if len(report.Rotated) > 0 || len(report.Failed) > 0 {
				app.logger.Info(ctx, "scheduled rotation",
					"checked", report.Checked,
					"rotated", len(report.Rotated),
					"skipped", len(report.Skipped),
					"failed", len(report.Failed))
			}
		}
	}
}

// Run serves until ctx is canceled or a termination signal arrives.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()
	defer app.close()

	app.logger.Info(ctx, "Starting app...")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.grpc.Run(gctx)
	})

	if app.config.MetricsAddr != "" {
		g.Go(func() error {
			return app.serveMetrics(gctx)
		})
	}

	if app.config.RotationCheckInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(app.config.RotationCheckInterval)
			defer ticker.Stop()
			return app.runRotationScheduler(gctx, ticker.C)
		})
	}

	err := g.Wait()
	app.logger.Info(context.Background(), "App stopped")
	return err
}
