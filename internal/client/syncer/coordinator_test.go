package syncer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/client/backend"
	"github.com/dmitrijs2005/coachkeeper/internal/client/backend/fake"
	"github.com/dmitrijs2005/coachkeeper/internal/client/client"
	"github.com/dmitrijs2005/coachkeeper/internal/client/identity"
	"github.com/dmitrijs2005/coachkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/coachkeeper/internal/client/repositories/records"
	"github.com/dmitrijs2005/coachkeeper/internal/client/repositories/syncqueue"
	"github.com/dmitrijs2005/coachkeeper/internal/client/storage"
	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConn struct {
	reachable atomic.Bool
	updates   chan bool
}

func newStubConn(up bool) *stubConn {
	c := &stubConn{updates: make(chan bool, 1)}
	c.reachable.Store(up)
	return c
}

func (c *stubConn) CheckRemoteReachable(context.Context) bool { return c.reachable.Load() }
func (c *stubConn) Online() bool                              { return c.reachable.Load() }
func (c *stubConn) Subscribe() <-chan bool                    { return c.updates }

type env struct {
	m      *storage.Manager
	queue  *syncqueue.SQLiteQueue
	remote *fake.Remote
	conn   *stubConn
	reg    *prometheus.Registry
	id     identity.Static
}

func newEnv(t *testing.T, policy syncqueue.Policy) *env {
	t.Helper()
	ctx := context.Background()
	db, err := client.InitDatabase(ctx, filepath.Join(t.TempDir(), "local.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	e := &env{
		queue:  syncqueue.NewSQLiteQueue(db, policy),
		remote: fake.NewRemote(),
		conn:   newStubConn(true),
		reg:    prometheus.NewRegistry(),
		id:     identity.Static{Owner: "o1", Token: "t"},
	}
	e.m = storage.New(
		storage.Config{PreferredBackend: backend.Local, FallbackEnabled: true},
		storage.Backends{
			Local:  records.NewSQLiteStore(db, 0),
			Remote: e.remote,
			Queue:  e.queue,
			Meta:   metadata.NewSQLiteRepository(db),
		},
		e.id, nil)
	return e
}

func (e *env) coordinator(store Store, opts Options) *Coordinator {
	if store == nil {
		store = e.m
	}
	opts.Registerer = e.reg
	return New(store, e.queue, e.conn, e.id, opts, nil)
}

func (e *env) savePlayers(t *testing.T, names ...string) []string {
	t.Helper()
	var ids []string
	for _, n := range names {
		res, err := e.m.SavePlayer(context.Background(), &models.Player{Name: n})
		require.NoError(t, err)
		require.True(t, res.Pending)
		ids = append(ids, res.Value.ID)
	}
	return ids
}

func (e *env) depth(t *testing.T) (int, int) {
	t.Helper()
	p, d, err := e.queue.Depth(context.Background())
	require.NoError(t, err)
	return p, d
}

func TestRunCycle_DrainsAndConfirmsIDs(t *testing.T) {
	e := newEnv(t, syncqueue.DefaultPolicy())
	ids := e.savePlayers(t, "Mo")
	require.True(t, models.IsTempID(ids[0]))

	c := e.coordinator(nil, Options{})
	sum := c.RunCycle(context.Background(), TriggerManual)

	assert.Equal(t, 1, sum.ProcessedCount)
	assert.Zero(t, sum.FailedCount)
	assert.False(t, sum.Skipped)
	assert.Empty(t, sum.Errors)
	assert.Equal(t, StateIdle, c.State())

	p, d := e.depth(t)
	assert.Zero(t, p)
	assert.Zero(t, d)

	players, err := e.m.GetPlayers(context.Background())
	require.NoError(t, err)
	require.Len(t, players.Value, 1)
	assert.False(t, models.IsTempID(players.Value[0].ID))
	assert.Equal(t, "Mo", players.Value[0].Name)
	assert.Equal(t, 1, e.remote.Len(models.KindPlayer))
}

func TestRunCycle_SkipsWhenUnreachable(t *testing.T) {
	e := newEnv(t, syncqueue.DefaultPolicy())
	e.savePlayers(t, "Mo")
	e.conn.reachable.Store(false)

	sum := e.coordinator(nil, Options{}).RunCycle(context.Background(), TriggerPeriodic)
	assert.True(t, sum.Skipped)
	assert.Zero(t, sum.ProcessedCount)
	assert.Zero(t, e.remote.Calls("put"))

	p, _ := e.depth(t)
	assert.Equal(t, 1, p)
}

func TestRunCycle_SkipsWhenSignedOut(t *testing.T) {
	e := newEnv(t, syncqueue.DefaultPolicy())
	c := New(e.m, e.queue, e.conn, identity.Static{}, Options{}, nil)

	sum := c.RunCycle(context.Background(), TriggerStartup)
	assert.True(t, sum.Skipped)
}

func TestRunCycle_PoisonItemDoesNotBlockOthers(t *testing.T) {
	e := newEnv(t, syncqueue.DefaultPolicy())
	ids := e.savePlayers(t, "Bad", "Good")
	e.remote.FailOn(models.KindPlayer, ids[0], fmt.Errorf("%w: rejected", common.ErrValidation))

	sum := e.coordinator(nil, Options{}).RunCycle(context.Background(), TriggerManual)
	assert.Equal(t, 1, sum.ProcessedCount)
	assert.Equal(t, 1, sum.FailedCount)
	assert.Equal(t, 1, sum.DeadLetters)
	require.Len(t, sum.Errors, 1)
	assert.ErrorIs(t, sum.Errors[0], common.ErrValidation)

	p, d := e.depth(t)
	assert.Zero(t, p)
	assert.Equal(t, 1, d)
	issues, err := e.m.SyncIssues(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, issues)
}

func TestRunCycle_AuthFailurePausesOwner(t *testing.T) {
	e := newEnv(t, syncqueue.DefaultPolicy())
	e.savePlayers(t, "A", "B")
	e.remote.Fail(common.ErrAuth)

	c := e.coordinator(nil, Options{})
	sum := c.RunCycle(context.Background(), TriggerOnline)
	assert.Equal(t, 1, sum.FailedCount)
	assert.True(t, sum.Paused)
	assert.Zero(t, sum.DeadLetters)

	ops, err := e.queue.All(context.Background())
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, models.OpPending, ops[0].Status)
	assert.Zero(t, ops[0].RetryCount)
	assert.NotEmpty(t, ops[0].LastError)

	e.remote.Fail(nil)
	sum = c.RunCycle(context.Background(), TriggerOnline)
	assert.Equal(t, 2, sum.ProcessedCount)
	assert.False(t, sum.Paused)
	p, _ := e.depth(t)
	assert.Zero(t, p)
}

func TestRunCycle_TransientFailureBacksOff(t *testing.T) {
	e := newEnv(t, syncqueue.Policy{MaxRetries: 2})
	e.savePlayers(t, "A", "B")
	e.remote.Fail(fmt.Errorf("%w: connection refused", common.ErrNetwork))

	c := e.coordinator(nil, Options{})
	sum := c.RunCycle(context.Background(), TriggerManual)
	assert.Equal(t, 2, sum.FailedCount)
	assert.Zero(t, sum.DeadLetters)

	ops, err := e.queue.All(context.Background())
	require.NoError(t, err)
	for _, op := range ops {
		assert.Equal(t, 1, op.RetryCount)
		assert.Equal(t, models.OpPending, op.Status)
	}

	sum = c.RunCycle(context.Background(), TriggerManual)
	assert.Equal(t, 2, sum.DeadLetters)
	p, d := e.depth(t)
	assert.Zero(t, p)
	assert.Equal(t, 2, d)
}

type cancelAfterFirst struct {
	Store
	cancel context.CancelFunc
	calls  atomic.Int32
}

func (s *cancelAfterFirst) Replay(ctx context.Context, op models.SyncOperation) (storage.ReplayResult, error) {
	s.calls.Add(1)
	s.cancel()
	return s.Store.Replay(ctx, op)
}

func TestRunCycle_CancellationStopsBetweenBatches(t *testing.T) {
	e := newEnv(t, syncqueue.DefaultPolicy())
	e.savePlayers(t, "A", "B", "C")

	ctx, cancel := context.WithCancel(context.Background())
	store := &cancelAfterFirst{Store: e.m, cancel: cancel}
	c := e.coordinator(store, Options{BatchSize: 2})

	sum := c.RunCycle(ctx, TriggerManual)
	// The first batch runs to completion even though ctx was cancelled
	// during its first item.
	assert.Equal(t, 2, sum.ProcessedCount)
	assert.EqualValues(t, 2, store.calls.Load())
	p, _ := e.depth(t)
	assert.Equal(t, 1, p)
}

func TestRunCycle_BatchesAndMetrics(t *testing.T) {
	e := newEnv(t, syncqueue.DefaultPolicy())
	e.savePlayers(t, "A", "B", "C")

	var got []Summary
	c := e.coordinator(nil, Options{BatchSize: 2, BatchPause: time.Millisecond})
	c.Subscribe(ObserverFunc(func(s Summary) { got = append(got, s) }))

	c.RunCycle(context.Background(), TriggerManual)
	c.RunCycle(context.Background(), TriggerPeriodic)

	require.Len(t, got, 2)
	assert.Equal(t, TriggerManual, got[0].Trigger)
	assert.Equal(t, 3, got[0].ProcessedCount)
	assert.Equal(t, TriggerPeriodic, got[1].Trigger)
	assert.Zero(t, got[1].ProcessedCount)
	assert.False(t, got[0].FinishedAt.Before(got[0].StartedAt))

	assert.Equal(t, 3.0, testutil.ToFloat64(c.metrics.operations.WithLabelValues("processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.cycles.WithLabelValues("manual", "ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.metrics.queueDepth.WithLabelValues("pending")))
	n, err := testutil.GatherAndCount(e.reg, "coachkeeper_sync_cycles_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

type gatedStore struct {
	Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Replay(ctx context.Context, op models.SyncOperation) (storage.ReplayResult, error) {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.Store.Replay(ctx, op)
}

func TestRun_TriggersDuringCycleCoalesce(t *testing.T) {
	e := newEnv(t, syncqueue.DefaultPolicy())
	e.savePlayers(t, "A")

	store := &gatedStore{Store: e.m, entered: make(chan struct{}), release: make(chan struct{})}
	c := e.coordinator(store, Options{Interval: time.Hour})
	done := make(chan Summary, 8)
	c.Subscribe(ObserverFunc(func(s Summary) { done <- s }))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- c.Run(ctx) }()

	<-store.entered
	assert.Equal(t, StateDraining, c.State())
	c.SyncNow()
	c.SyncNow()
	e.conn.updates <- true
	close(store.release)

	first := <-done
	assert.Equal(t, TriggerStartup, first.Trigger)
	assert.Equal(t, 1, first.ProcessedCount)

	second := <-done
	assert.Equal(t, TriggerManual, second.Trigger)

	select {
	case s := <-done:
		// The online update can only land after the manual cycle started.
		assert.Equal(t, TriggerOnline, s.Trigger)
	case <-time.After(100 * time.Millisecond):
	}
	select {
	case s := <-done:
		t.Fatalf("unexpected extra cycle %v", s.Trigger)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	require.NoError(t, <-stopped)
}
