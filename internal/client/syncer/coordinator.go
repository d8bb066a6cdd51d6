// Package syncer drains the sync queue against the remote store in the
// background and reports each finished cycle to observers.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/client/identity"
	"github.com/dmitrijs2005/coachkeeper/internal/client/storage"
	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/dmitrijs2005/coachkeeper/internal/logging"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

type State string

const (
	StateIdle                 State = "idle"
	StateCheckingConnectivity State = "checking_connectivity"
	StateDraining             State = "draining"
	StateReconciling          State = "reconciling"
)

type Trigger string

const (
	TriggerStartup  Trigger = "startup"
	TriggerOnline   Trigger = "online"
	TriggerManual   Trigger = "manual"
	TriggerPeriodic Trigger = "periodic"
)

// Summary describes one finished cycle.
type Summary struct {
	Trigger        Trigger
	ProcessedCount int
	FailedCount    int
	Errors         []error
	DeadLetters    int
	// Skipped is set when the cycle never reached the queue: no signed-in
	// owner or an unreachable remote.
	Skipped bool
	// Paused is set when the remote rejected the owner's identity and the
	// rest of the owner's queue was left for a later cycle.
	Paused     bool
	Remapped   int
	Pulled     storage.PullSummary
	StartedAt  time.Time
	FinishedAt time.Time
}

type Observer interface {
	SyncFinished(Summary)
}

type ObserverFunc func(Summary)

func (f ObserverFunc) SyncFinished(s Summary) { f(s) }

// Store replays queued operations and applies their results locally.
// storage.Manager implements it.
type Store interface {
	Replay(ctx context.Context, op models.SyncOperation) (storage.ReplayResult, error)
	Reconcile(ctx context.Context, mapping models.IdentityMapping) (int, error)
	Pull(ctx context.Context) (storage.PullSummary, error)
}

type Queue interface {
	Ready(ctx context.Context, owner string, now time.Time, limit int) ([]models.SyncOperation, error)
	MarkAttempted(ctx context.Context, id string, attemptErr error) (models.SyncOperation, error)
	RecordError(ctx context.Context, id string, attemptErr error) error
	DeadLetter(ctx context.Context, id string, cause error) error
	Remove(ctx context.Context, id string) error
	Depth(ctx context.Context) (pending, dead int, err error)
}

type Connectivity interface {
	CheckRemoteReachable(ctx context.Context) bool
	Online() bool
	Subscribe() <-chan bool
}

type Options struct {
	BatchSize  int
	BatchPause time.Duration
	// Interval between periodic cycles while online.
	Interval   time.Duration
	Registerer prometheus.Registerer
}

type Coordinator struct {
	store    Store
	queue    Queue
	conn     Connectivity
	identity identity.Provider
	opts     Options
	logger   logging.Logger
	metrics  *metrics
	now      func() time.Time

	triggerCh chan Trigger
	cycleMu   sync.Mutex
	cycles    uint64

	mu        sync.Mutex
	state     State
	observers []Observer
}

func New(store Store, queue Queue, conn Connectivity, id identity.Provider, opts Options, logger logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	return &Coordinator{
		store:     store,
		queue:     queue,
		conn:      conn,
		identity:  id,
		opts:      opts,
		logger:    logger.With("module", "syncer"),
		metrics:   newMetrics(opts.Registerer),
		now:       time.Now,
		triggerCh: make(chan Trigger, 1),
		state:     StateIdle,
	}
}

// Subscribe adds an observer. Observers are called synchronously, in the
// order cycles finish, from the goroutine that ran the cycle.
func (c *Coordinator) Subscribe(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SyncNow asks Run for a cycle without waiting for it.
func (c *Coordinator) SyncNow() {
	c.trigger(TriggerManual)
}

// trigger records a request for one more cycle. Requests made while one is
// already recorded collapse into it.
func (c *Coordinator) trigger(t Trigger) {
	select {
	case c.triggerCh <- t:
	default:
	}
}

// Run executes cycles on triggers until ctx is done: once at startup, on
// every transition to online, on SyncNow and periodically while online.
func (c *Coordinator) Run(ctx context.Context) error {
	var online <-chan bool
	if c.conn != nil {
		online = c.conn.Subscribe()
	}
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	c.trigger(TriggerStartup)
	for {
		select {
		case <-ctx.Done():
			return nil
		case up := <-online:
			if up {
				c.trigger(TriggerOnline)
			}
		case <-ticker.C:
			if c.conn != nil && c.conn.Online() {
				c.trigger(TriggerPeriodic)
			}
		case t := <-c.triggerCh:
			c.RunCycle(ctx, t)
		}
	}
}

// RunCycle runs one cycle and returns its summary. Concurrent calls run one
// after another. Cancelling ctx stops the cycle between batches; an
// operation already sent to the remote is allowed to finish.
func (c *Coordinator) RunCycle(ctx context.Context, t Trigger) Summary {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	c.cycles++
	ctx = logging.ContextWith(ctx, "cycle", c.cycles)

	sum := Summary{Trigger: t, StartedAt: c.now()}
	c.cycle(ctx, &sum)
	sum.FinishedAt = c.now()
	c.setState(StateIdle)

	c.metrics.observe(sum)
	if pending, dead, err := c.queue.Depth(context.WithoutCancel(ctx)); err == nil {
		c.metrics.queueDepth.WithLabelValues(string(models.OpPending)).Set(float64(pending))
		c.metrics.queueDepth.WithLabelValues(string(models.OpDead)).Set(float64(dead))
	}
	c.logger.Info(ctx, "sync cycle finished",
		"trigger", t, "processed", sum.ProcessedCount, "failed", sum.FailedCount,
		"dead", sum.DeadLetters, "skipped", sum.Skipped, "paused", sum.Paused)

	c.mu.Lock()
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()
	for _, o := range observers {
		o.SyncFinished(sum)
	}
	return sum
}

func (c *Coordinator) cycle(ctx context.Context, sum *Summary) {
	owner := ""
	if c.identity != nil {
		owner = c.identity.CurrentOwnerScope()
	}
	if owner == "" {
		sum.Skipped = true
		return
	}

	c.setState(StateCheckingConnectivity)
	if c.conn == nil || !c.conn.CheckRemoteReachable(ctx) {
		sum.Skipped = true
		return
	}

	c.setState(StateDraining)
	mapping := c.drain(ctx, owner, sum)

	// Confirmed ids are rewritten even when the drain stopped early.
	c.setState(StateReconciling)
	if mapping.Len() > 0 {
		n, err := c.store.Reconcile(context.WithoutCancel(ctx), mapping)
		if err != nil {
			sum.Errors = append(sum.Errors, fmt.Errorf("reconcile: %w", err))
		}
		sum.Remapped = n
	}
	if ctx.Err() != nil || sum.Paused {
		return
	}
	pulled, err := c.store.Pull(ctx)
	if err != nil {
		sum.Errors = append(sum.Errors, fmt.Errorf("pull: %w", err))
	}
	sum.Pulled = pulled
}

func (c *Coordinator) drain(ctx context.Context, owner string, sum *Summary) models.IdentityMapping {
	mapping := models.IdentityMapping{}
	attempted := map[string]bool{}

	for batch := 0; ; batch++ {
		if ctx.Err() != nil {
			return mapping
		}
		if batch > 0 && c.opts.BatchPause > 0 {
			select {
			case <-ctx.Done():
				return mapping
			case <-time.After(c.opts.BatchPause):
			}
		}

		ready, err := c.queue.Ready(ctx, owner, c.now(), 0)
		if err != nil {
			sum.Errors = append(sum.Errors, fmt.Errorf("read queue: %w", err))
			return mapping
		}
		var ops []models.SyncOperation
		for _, op := range ready {
			if !attempted[op.OperationID] {
				ops = append(ops, op)
			}
			if len(ops) == c.opts.BatchSize {
				break
			}
		}
		if len(ops) == 0 {
			return mapping
		}

		for _, op := range ops {
			attempted[op.OperationID] = true
			if !c.replay(context.WithoutCancel(ctx), op, mapping, sum) {
				return mapping
			}
		}
	}
}

// replay sends one operation and files the outcome. It returns false when
// the rest of the owner's queue must wait for a later cycle.
func (c *Coordinator) replay(ctx context.Context, op models.SyncOperation, mapping models.IdentityMapping, sum *Summary) bool {
	ctx = logging.ContextWith(ctx, "op", op.OperationID)
	res, err := c.store.Replay(ctx, op)
	if err == nil {
		if err := c.queue.Remove(ctx, op.OperationID); err != nil {
			sum.Errors = append(sum.Errors, fmt.Errorf("remove %s: %w", op.OperationID, err))
		}
		for kind, ids := range res.Mapping {
			for oldID, newID := range ids {
				mapping.Add(kind, oldID, newID)
			}
		}
		sum.ProcessedCount++
		return true
	}

	sum.FailedCount++
	sum.Errors = append(sum.Errors, fmt.Errorf("%s %s %s: %w", op.Action, op.EntityKind, op.EntityID, err))

	switch {
	case errors.Is(err, common.ErrAuth):
		if qerr := c.queue.RecordError(ctx, op.OperationID, err); qerr != nil {
			sum.Errors = append(sum.Errors, qerr)
		}
		c.logger.Warn(ctx, "remote rejected identity, pausing queue", "owner", op.OwnerID)
		sum.Paused = true
		return false

	case common.IsPermanent(err):
		if qerr := c.queue.DeadLetter(ctx, op.OperationID, err); qerr != nil {
			sum.Errors = append(sum.Errors, qerr)
			return true
		}
		sum.DeadLetters++
		c.logger.Error(ctx, "operation dead-lettered", "kind", op.EntityKind, "error", err)

	default:
		updated, qerr := c.queue.MarkAttempted(ctx, op.OperationID, err)
		if qerr != nil {
			sum.Errors = append(sum.Errors, qerr)
			return true
		}
		if updated.Status == models.OpDead {
			sum.DeadLetters++
			c.logger.Error(ctx, "operation exhausted retries", "kind", op.EntityKind, "error", err)
		}
	}
	return true
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
