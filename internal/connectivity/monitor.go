package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/flatshare/internal/core/domain"
	"github.com/vietddude/flatshare/internal/metrics"
)

// Retrier replays the offline queue. The request client implements it.
type Retrier interface {
	RetryOfflineRequests(ctx context.Context) (int, error)
}

// Monitor owns the current connectivity state. It triggers a replay sweep on
// every transition into Connected and, optionally, on a fixed interval.
type Monitor struct {
	platform Platform
	bus      *Bus
	log      *slog.Logger
	now      func() time.Time

	transitionMu sync.Mutex // serializes platform callbacks
	mu           sync.RWMutex
	state        domain.ConnectivityState
	retrier      Retrier

	unsubscribePlatform func()

	retryMu   sync.Mutex
	retryStop chan struct{}
	retryDone chan struct{}

	ctx         context.Context
	cancel      context.CancelFunc
	sweepMu     sync.Mutex // orders sweeps.Add against Cleanup's Wait
	sweeps      sync.WaitGroup
	closed      atomic.Bool
	cleanupOnce sync.Once
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorLogger overrides the monitor logger.
func WithMonitorLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		if l != nil {
			m.log = l
		}
	}
}

// WithMonitorClock overrides the timestamp source.
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMonitor fetches the initial state from platform and subscribes to its
// change notifications. A failed bootstrap fetch leaves the state Unknown.
func NewMonitor(ctx context.Context, platform Platform, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		platform: platform,
		log:      slog.Default().With("component", "connectivity"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.bus = NewBus(m.log)
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.state = domain.ConnectivityState{
		Status:    domain.NetworkStatusUnknown,
		Type:      domain.NetworkTypeUnknown,
		Quality:   domain.NetworkQualityUnreachable,
		Timestamp: m.now(),
	}

	if err := m.Refresh(ctx); err != nil {
		m.log.Warn("Initial connectivity check failed", "error", err)
	}
	m.unsubscribePlatform = platform.Subscribe(m.handle)
	return m
}

// Refresh asks the platform for the current state and applies it.
func (m *Monitor) Refresh(ctx context.Context) error {
	raw, err := m.platform.FetchCurrentState(ctx)
	if err != nil {
		return err
	}
	m.handle(raw)
	return nil
}

// Subscribe registers l for connectivity events.
func (m *Monitor) Subscribe(l Listener) (unsubscribe func()) {
	return m.bus.Subscribe(l)
}

// State returns a snapshot of the current state.
func (m *Monitor) State() domain.ConnectivityState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsOnline reports whether the current status is Connected.
func (m *Monitor) IsOnline() bool {
	return m.State().Online()
}

// IsOffline reports whether the platform explicitly reported no connection.
// Unknown and Connecting are not offline.
func (m *Monitor) IsOffline() bool {
	return m.State().Status == domain.NetworkStatusDisconnected
}

// AttachRetrier sets the sweep target used on reconnect and by periodic retry.
func (m *Monitor) AttachRetrier(r Retrier) {
	m.mu.Lock()
	m.retrier = r
	m.mu.Unlock()
}

// NotifyRetrySweep emits a RetrySweepStarted event for count pending requests.
func (m *Monitor) NotifyRetrySweep(count int) {
	state := m.State()
	m.bus.Publish(domain.ConnectivityEvent{
		Kind:      domain.EventRetrySweepStarted,
		Previous:  state,
		Current:   state,
		Retried:   count,
		Timestamp: m.now(),
	})
}

func (m *Monitor) handle(raw RawState) {
	if m.closed.Load() {
		return
	}

	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()

	next := computeState(raw, m.now())
	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()

	switch {
	case next.Status != prev.Status:
		m.log.Info("Connectivity changed",
			"from", prev.Status,
			"to", next.Status,
			"type", next.Type,
			"quality", next.Quality,
		)
		metrics.ConnectivityTransitions.WithLabelValues(string(next.Status)).Inc()
		if next.Online() {
			metrics.ConnectivityOnline.Set(1)
		} else {
			metrics.ConnectivityOnline.Set(0)
		}
		m.publish(domain.EventStatusChanged, prev, next)
		if next.Online() && !prev.Online() {
			m.triggerSweep()
		}
	case next.Quality != prev.Quality || next.Type != prev.Type:
		m.log.Debug("Connectivity quality changed", "from", prev.Quality, "to", next.Quality, "type", next.Type)
		m.publish(domain.EventQualityChanged, prev, next)
	}
}

func (m *Monitor) publish(kind domain.ConnectivityEventKind, prev, next domain.ConnectivityState) {
	m.bus.Publish(domain.ConnectivityEvent{
		Kind:      kind,
		Previous:  prev,
		Current:   next,
		Timestamp: next.Timestamp,
	})
}

// triggerSweep runs a sweep in the background.
func (m *Monitor) triggerSweep() {
	m.mu.RLock()
	r := m.retrier
	m.mu.RUnlock()
	if r == nil {
		return
	}

	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()
	if m.closed.Load() {
		return
	}
	m.sweeps.Add(1)
	go func() {
		defer m.sweeps.Done()
		m.sweep(r, "reconnect")
	}()
}

func (m *Monitor) sweep(r Retrier, reason string) {
	defer func() {
		if p := recover(); p != nil {
			m.log.Error("Replay sweep panicked", "reason", reason, "panic", p)
		}
	}()
	n, err := r.RetryOfflineRequests(m.ctx)
	if err != nil {
		m.log.Warn("Replay sweep failed", "reason", reason, "error", err)
		return
	}
	if n > 0 {
		m.log.Info("Replay sweep finished", "reason", reason, "replayed", n)
	}
}

// StartPeriodicRetry sweeps every interval while online. It replaces any
// running schedule.
func (m *Monitor) StartPeriodicRetry(interval time.Duration) {
	if interval <= 0 || m.closed.Load() {
		return
	}
	m.StopPeriodicRetry()

	m.retryMu.Lock()
	defer m.retryMu.Unlock()
	stop := make(chan struct{})
	done := make(chan struct{})
	m.retryStop, m.retryDone = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				if !m.IsOnline() {
					continue
				}
				m.mu.RLock()
				r := m.retrier
				m.mu.RUnlock()
				if r != nil {
					m.sweep(r, "periodic")
				}
			}
		}
	}()
}

// StopPeriodicRetry stops the periodic schedule, if any.
func (m *Monitor) StopPeriodicRetry() {
	m.retryMu.Lock()
	stop, done := m.retryStop, m.retryDone
	m.retryStop, m.retryDone = nil, nil
	m.retryMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Cleanup releases the platform subscription, timers and subscribers.
// It is safe to call more than once.
func (m *Monitor) Cleanup() {
	m.cleanupOnce.Do(func() {
		m.sweepMu.Lock()
		m.closed.Store(true)
		m.sweepMu.Unlock()

		if m.unsubscribePlatform != nil {
			m.unsubscribePlatform()
		}
		// In-flight sweeps observe the cancellation and return early.
		m.cancel()
		m.StopPeriodicRetry()
		m.sweeps.Wait()
		m.bus.Close()
	})
}
