// Package server assembles the rental backend: it opens the store, the
// object storage and the payment provider, builds the services and runs the
// HTTP API together with the periodic sweeps until a shutdown signal.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/studyrent/internal/dbx"
	"github.com/dmitrijs2005/studyrent/internal/logging"
	"github.com/dmitrijs2005/studyrent/internal/server/access"
	"github.com/dmitrijs2005/studyrent/internal/server/billing"
	"github.com/dmitrijs2005/studyrent/internal/server/config"
	"github.com/dmitrijs2005/studyrent/internal/server/httpapi"
	"github.com/dmitrijs2005/studyrent/internal/server/repositories/memory"
	"github.com/dmitrijs2005/studyrent/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/studyrent/internal/server/services"
	"github.com/dmitrijs2005/studyrent/internal/server/storage"
	"github.com/dmitrijs2005/studyrent/internal/server/webhooks"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	repos  repomanager.RepositoryManager
	store  services.Store

	Users      *services.UserService
	KYC        *services.KYCService
	Properties *services.PropertyService
	Contracts  *services.ContractService
	Payments   *services.PaymentService
	webhooks   *webhooks.Handler
}

// openStore returns the in-memory store for "memory://" and PostgreSQL
// through pgx otherwise.
func openStore(ctx context.Context, c *config.Config) (*sql.DB, services.Store, repomanager.RepositoryManager, error) {
	if c.InMemory() {
		mem := memory.NewStore()
		return nil, services.Store{Tx: mem, Repos: mem}, mem, nil
	}

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, services.Store{}, nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, services.Store{}, nil, err
	}

	repos := repomanager.NewPostgresRepositoryManager()
	return db, services.Store{DB: db, Tx: dbx.NewSQLTransactor(db), Repos: repos}, repos, nil
}

func openBlobs(ctx context.Context, c *config.Config) (storage.BlobStore, error) {
	if c.S3Bucket == "" {
		return storage.NewMemoryStore(), nil
	}
	return storage.NewS3Store(ctx, storage.S3Options{
		User:         c.S3RootUser,
		Password:     c.S3RootPassword,
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
	})
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(c.LogLevel))

	db, store, repos, err := openStore(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	blobs, err := openBlobs(ctx, c)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("object storage init error: %w", err)
	}

	var provider billing.Provider = billing.Unconfigured{}
	if c.StripeSecretKey != "" {
		provider = billing.NewStripe(c.StripeSecretKey, c.ProviderTimeout)
	} else {
		logger.Warn(ctx, "no payment provider configured, payment calls will fail as unavailable")
	}

	gate := access.NewGate()
	payments := services.NewPaymentService(store, gate, provider, logger, c)

	app := &App{
		config:     c,
		logger:     logger,
		db:         db,
		repos:      repos,
		store:      store,
		Users:      services.NewUserService(store, gate, logger, c),
		KYC:        services.NewKYCService(store, gate, blobs, logger),
		Properties: services.NewPropertyService(store, gate, logger),
		Contracts:  services.NewContractService(store, gate, blobs, payments, logger),
		Payments:   payments,
	}
	app.webhooks = webhooks.NewHandler(payments, repos.WebhookEvents(store.DB), c.StripeWebhookSecret, c.StripeWebhookTolerance, logger)
	return app, nil
}

// Migrate applies the embedded schema migrations. It is a no-op for the
// in-memory store.
func (app *App) Migrate(ctx context.Context) error {
	return app.repos.RunMigrations(ctx, app.db)
}

// Sweep completes expired contracts and retries failed subscription
// unlinks. Both steps run even if the first one fails.
func (app *App) Sweep(ctx context.Context, now time.Time) (completed, reconciled int, err error) {
	completed, cerr := app.Contracts.CompleteExpired(ctx, now)
	reconciled, rerr := app.Payments.ReconcileDetachments(ctx)
	return completed, reconciled, errors.Join(cerr, rerr)
}

func (app *App) Close() error {
	if app.db != nil {
		return app.db.Close()
	}
	return nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	router := httpapi.NewRouter(httpapi.Services{
		Users:      app.Users,
		KYC:        app.KYC,
		Properties: app.Properties,
		Contracts:  app.Contracts,
		Payments:   app.Payments,
	}, app.webhooks, app.logger)

	s := httpapi.NewHTTPServer(app.config.HTTPAddr, app.logger, router)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) runSweeper(ctx context.Context) {
	if app.config.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(app.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			completed, reconciled, err := app.Sweep(ctx, now.UTC())
			if err != nil {
				app.logger.Error(ctx, "sweep failed", "error", err)
			}
			if completed > 0 || reconciled > 0 {
				app.logger.Info(ctx, "sweep done", "completed", completed, "reconciled", reconciled)
			}
		}
	}
}

// Run migrates the schema and serves until SIGINT or SIGTERM.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	defer app.Close()

	app.logger.Info(ctx, "Starting app...")

	if err := app.Migrate(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.runSweeper(ctx)
	}()

	wg.Wait()
	app.logger.Info(ctx, "Stopped")
	return nil
}
