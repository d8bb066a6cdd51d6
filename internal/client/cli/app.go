package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dmitrijs2005/coachkeeper/internal/client/backend"
	"github.com/dmitrijs2005/coachkeeper/internal/client/backup"
	"github.com/dmitrijs2005/coachkeeper/internal/client/cache"
	"github.com/dmitrijs2005/coachkeeper/internal/client/client"
	"github.com/dmitrijs2005/coachkeeper/internal/client/config"
	"github.com/dmitrijs2005/coachkeeper/internal/client/connectivity"
	"github.com/dmitrijs2005/coachkeeper/internal/client/identity"
	"github.com/dmitrijs2005/coachkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/coachkeeper/internal/client/repositories/records"
	"github.com/dmitrijs2005/coachkeeper/internal/client/repositories/syncqueue"
	"github.com/dmitrijs2005/coachkeeper/internal/client/storage"
	"github.com/dmitrijs2005/coachkeeper/internal/client/syncer"
	"github.com/dmitrijs2005/coachkeeper/internal/logging"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

type syncRunner interface {
	Run(ctx context.Context) error
	RunCycle(ctx context.Context, t syncer.Trigger) syncer.Summary
	SyncNow()
	State() syncer.State
	Subscribe(o syncer.Observer)
}

type connectivityMonitor interface {
	Run(ctx context.Context) error
	Online() bool
	SetNetworkAvailable(ok bool)
}

type localUsage interface {
	UsedBytes(ctx context.Context) (int64, error)
}

type issueQueue interface {
	DeadLetters(ctx context.Context) ([]models.SyncOperation, error)
	Requeue(ctx context.Context, id string) error
}

type backupStore interface {
	Upload(ctx context.Context, owner string, p storage.ExportPayload) (string, error)
	Download(ctx context.Context, owner, key string) (storage.ExportPayload, error)
	List(ctx context.Context, owner string) ([]backup.Object, error)
}

type tokenStore interface {
	identity.Provider
	SetToken(token string) error
}

type App struct {
	config   *config.Config
	logger   logging.Logger
	manager  *storage.Manager
	syncer   syncRunner
	conn     connectivityMonitor
	issues   issueQueue
	usage    localUsage
	backups  backupStore
	cache    *cache.Store
	tokens   tokenStore
	registry *prometheus.Registry
	closers  []io.Closer

	reader *bufio.Reader
	outMu  sync.Mutex
	out    io.Writer
}

// NewApp opens the local database and cache and wires the storage manager,
// the connectivity monitor and the sync coordinator over them. The S3
// backup sink is only set up when a bucket is configured.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(c.LogFormat, os.Stderr)

	pref, ok := backend.ParseName(c.PreferredBackend)
	if !ok {
		return nil, fmt.Errorf("unknown preferred backend %q", c.PreferredBackend)
	}

	tokens, err := identity.NewTokenProvider(c.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("access token: %w", err)
	}

	app := &App{config: c, logger: logger, tokens: tokens, reader: bufio.NewReader(os.Stdin), out: os.Stdout}

	db, err := client.InitDatabase(ctx, c.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}
	app.closers = append(app.closers, db)

	var cacheStore *cache.Store
	if c.CacheTTL > 0 {
		cacheStore, err = cache.Open(ctx, c.CachePath, cache.Options{TTL: c.CacheTTL, BudgetBytes: c.CacheBudgetBytes, Logger: logger})
		if err != nil {
			app.close()
			return nil, err
		}
		app.closers = append(app.closers, cacheStore)
		app.cache = cacheStore
	}

	remote, err := client.NewGRPCClient(c.ServerEndpointAddr, tokens, c.RemoteTimeout)
	if err != nil {
		app.close()
		return nil, err
	}
	app.closers = append(app.closers, remote)

	queue := syncqueue.NewSQLiteQueue(db, syncqueue.Policy{
		MaxRetries: c.MaxRetries,
		BaseDelay:  c.RetryBaseDelay,
		MaxDelay:   c.RetryMaxDelay,
	})
	app.issues = queue

	local := records.NewSQLiteStore(db, c.LocalQuotaBytes)
	app.usage = local

	app.manager = storage.New(
		storage.Config{PreferredBackend: pref, FallbackEnabled: c.FallbackEnabled},
		storage.Backends{
			Local:  local,
			Remote: remote,
			Cache:  cacheStore,
			Queue:  queue,
			Meta:   metadata.NewSQLiteRepository(db),
		}, tokens, logger)

	monitor := connectivity.NewMonitor(remote, c.OnlineCheckInterval, c.RemoteTimeout, logger)
	app.conn = monitor

	app.registry = prometheus.NewRegistry()
	app.syncer = syncer.New(app.manager, queue, monitor, tokens, syncer.Options{
		BatchSize:  c.SyncBatchSize,
		BatchPause: c.SyncBatchPause,
		Interval:   c.SyncInterval,
		Registerer: app.registry,
	}, logger)

	if c.S3Bucket != "" {
		app.backups, err = backup.NewS3Store(ctx, backup.Config{
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
			AccessKey:    c.S3AccessKey,
			SecretKey:    c.S3SecretKey,
			Passphrase:   c.BackupPassphrase,
		})
		if err != nil {
			app.close()
			return nil, err
		}
	}

	return app, nil
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn(context.Background(), "close failed", "error", err)
		}
	}
	a.closers = nil
}

// Run starts the background components and then the REPL. It returns once
// the user exits and the background components have stopped.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.syncer.Subscribe(syncer.ObserverFunc(a.reportCycle))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.conn.Run(gctx) })
	g.Go(func() error { return a.syncer.Run(gctx) })
	if a.cache != nil {
		// Entries left over from the previous session go first.
		if n, err := a.cache.Cleanup(ctx); err != nil {
			a.logger.Warn(ctx, "cache cleanup failed", "error", err)
		} else if n > 0 {
			a.logger.Debug(ctx, "stale cache entries evicted", "count", n)
		}
		g.Go(func() error { return a.cache.RunCleanup(gctx, a.config.CacheTTL, a.logger) })
	}
	if a.config.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, a.config.MetricsAddr, a.registry, a.logger) })
	}

	a.Root(gctx)
	cancel()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// reportCycle prints background sync results that changed something.
// Manual cycles are reported by the sync command itself.
func (a *App) reportCycle(s syncer.Summary) {
	if s.Trigger == syncer.TriggerManual || s.Skipped {
		return
	}
	if s.ProcessedCount == 0 && s.FailedCount == 0 && s.Pulled.Applied == 0 && s.Pulled.Deleted == 0 {
		return
	}
	a.printf("[sync %s] %s\n", s.Trigger, describeCycle(s))
}

func (a *App) printf(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}

func (a *App) getStatus(ctx context.Context) string {
	owner := a.tokens.CurrentOwnerScope()
	if owner == "" {
		owner = "signed out"
	}
	mode := "offline"
	if a.conn != nil && a.conn.Online() {
		mode = "online"
	}
	s := owner + " " + mode
	if n, err := a.manager.PendingWrites(ctx); err == nil && n > 0 {
		s += fmt.Sprintf(" %d pending", n)
	}
	return "(" + s + ")"
}
