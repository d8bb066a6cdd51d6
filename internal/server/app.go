// Package server wires the record server together: it opens the record
// store named by the configuration, builds the record service and runs the
// gRPC endpoint until a termination signal arrives.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/logging"
	"github.com/dmitrijs2005/coachkeeper/internal/server/auth"
	"github.com/dmitrijs2005/coachkeeper/internal/server/config"
	"github.com/dmitrijs2005/coachkeeper/internal/server/records"

	gs "github.com/dmitrijs2005/coachkeeper/internal/server/grpc"
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	store   records.Store
	records *records.Service
}

// openStore returns the store selected by dsn.
func openStore(ctx context.Context, dsn string, logger logging.Logger) (records.Store, error) {
	if dsn == config.MemoryDSN {
		return records.NewMemoryStore(), nil
	}
	return records.OpenPostgres(ctx, dsn, logger)
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(c.LogFormat, os.Stdout)

	store, err := openStore(ctx, c.DatabaseDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	return &App{
		config:  c,
		logger:  logger,
		store:   store,
		records: records.NewService(store, logger),
	}, nil
}

// MintToken returns an access token for owner signed with the configured
// secret. It serves development setups where no identity provider exists.
func MintToken(c *config.Config, owner string) (string, error) {
	return auth.GenerateToken(owner, []byte(c.SecretKey), c.TokenValidityDuration)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.records, app.config.SecretKey)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until ctx is cancelled or a termination signal arrives, then
// closes the store.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "store", fmt.Sprintf("%T", app.store))

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.store.Close(); err != nil {
		app.logger.Error(ctx, "store close", "error", err)
	}
	app.logger.Info(ctx, "Stopped", "at", time.Now().UTC().Format(time.RFC3339))
}
