// Package connectivity tracks whether the remote record service can be used.
//
// Two signals are combined: the device's network availability, reported by
// the host through SetNetworkAvailable, and periodic liveness pings against
// the remote service itself. The monitor is online only while both hold.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/logging"
)

// Pinger checks that the remote service answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Monitor struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   logging.Logger

	kick chan struct{}

	mu        sync.Mutex
	network   bool
	reachable bool
	online    bool
	subs      []chan bool
}

// NewMonitor returns a monitor that assumes the network is available and the
// remote is unreachable until the first check says otherwise. A nil pinger
// keeps the monitor permanently offline.
func NewMonitor(p Pinger, interval, timeout time.Duration, logger logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Monitor{
		pinger:   p,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("module", "connectivity"),
		kick:     make(chan struct{}, 1),
		network:  true,
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe returns a channel receiving online transitions. The channel holds
// only the latest state: a slow reader skips intermediate flips but always
// observes the current one.
func (m *Monitor) Subscribe() <-chan bool {
	ch := make(chan bool, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// SetNetworkAvailable records the device's network state. Losing the network
// takes the monitor offline at once; regaining it schedules an immediate
// check.
func (m *Monitor) SetNetworkAvailable(ok bool) {
	m.mu.Lock()
	m.network = ok
	if !ok {
		m.reachable = false
	}
	m.publishLocked()
	m.mu.Unlock()

	if ok {
		select {
		case m.kick <- struct{}{}:
		default:
		}
	}
}

// CheckRemoteReachable pings the remote service and updates the online
// state with the result.
func (m *Monitor) CheckRemoteReachable(ctx context.Context) bool {
	m.mu.Lock()
	network := m.network
	m.mu.Unlock()

	ok := false
	if network && m.pinger != nil {
		pctx := ctx
		if m.timeout > 0 {
			var cancel context.CancelFunc
			pctx, cancel = context.WithTimeout(ctx, m.timeout)
			defer cancel()
		}
		err := m.pinger.Ping(pctx)
		if err != nil {
			m.logger.Debug(ctx, "remote ping failed", "error", err)
		}
		ok = err == nil
	}

	m.mu.Lock()
	m.reachable = ok
	m.publishLocked()
	m.mu.Unlock()
	return ok
}

// Run checks the remote every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.CheckRemoteReachable(ctx)

	interval := m.interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-m.kick:
		}
		m.CheckRemoteReachable(ctx)
	}
}

func (m *Monitor) publishLocked() {
	online := m.network && m.reachable
	if online == m.online {
		return
	}
	m.online = online
	m.logger.Info(context.Background(), "connectivity changed", "online", online)
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- online:
		default:
		}
	}
}
