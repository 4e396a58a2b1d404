package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/layer-3/zkauth/adapters/metrics"
	"github.com/layer-3/zkauth/core"
	"github.com/layer-3/zkauth/ports"
)

// ActivitySignal is a user interaction that counts as activity
type ActivitySignal string

const (
	SignalMouseDown  ActivitySignal = "mousedown"
	SignalKeyDown    ActivitySignal = "keydown"
	SignalScroll     ActivitySignal = "scroll"
	SignalTouchStart ActivitySignal = "touchstart"
	SignalClick      ActivitySignal = "click"
	SignalVisible    ActivitySignal = "visibilitychange"
	SignalFocus      ActivitySignal = "focus"
)

func (s ActivitySignal) Valid() bool {
	switch s {
	case SignalMouseDown, SignalKeyDown, SignalScroll, SignalTouchStart, SignalClick, SignalVisible, SignalFocus:
		return true
	default:
		return false
	}
}

// MonitorConfig holds the activity monitor timings
type MonitorConfig struct {
	Interval     time.Duration
	ActiveWindow time.Duration
	WarnBefore   time.Duration
}

// DefaultMonitorConfig checks every 15 minutes, treats the last hour as
// active and warns an hour before expiry
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:     15 * time.Minute,
		ActiveWindow: time.Hour,
		WarnBefore:   time.Hour,
	}
}

// sessionState is what the monitor knows about one browser session
type sessionState struct {
	lastActivity  time.Time
	warned        bool
	authenticated bool
}

// Monitor keeps sessions fresh while their users are active and owns session
// teardown. State is kept per browser session id.
type Monitor struct {
	sessions *SessionStore
	proofs   *ProofService
	events   ports.EventPublisher
	metrics  *metrics.Metrics
	log      *slog.Logger
	cfg      MonitorConfig
	now      func() time.Time

	mu      sync.Mutex
	tracked map[string]*sessionState
	parent  context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewMonitor creates an activity monitor. proofs may be nil.
func NewMonitor(sessions *SessionStore, proofs *ProofService, events ports.EventPublisher, cfg MonitorConfig, m *metrics.Metrics, log *slog.Logger) *Monitor {
	return &Monitor{
		sessions: sessions,
		proofs:   proofs,
		events:   events,
		metrics:  m,
		log:      log,
		cfg:      cfg,
		now:      time.Now,
		tracked:  make(map[string]*sessionState),
	}
}

// Observe records a user interaction for the session in ctx
func (m *Monitor) Observe(ctx context.Context, signal ActivitySignal) error {
	if !signal.Valid() {
		return fmt.Errorf("%w: %q", core.ErrUnknownActivity, signal)
	}
	m.touch(ctx)
	return nil
}

// OnVisible records that the page regained visibility or focus and checks
// the session right away
func (m *Monitor) OnVisible(ctx context.Context) {
	m.touch(ctx)
	m.Check(ctx)
}

// touch only updates sessions the monitor already knows about
func (m *Monitor) touch(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.tracked[core.SessionID(ctx)]; ok {
		st.lastActivity = m.now()
	}
}

func (m *Monitor) stateLocked(id string) *sessionState {
	st, ok := m.tracked[id]
	if !ok {
		st = &sessionState{}
		m.tracked[id] = st
	}
	return st
}

// LastActivity returns the time of the last recorded interaction of the
// session in ctx
func (m *Monitor) LastActivity(ctx context.Context) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.tracked[core.SessionID(ctx)]; ok {
		return st.lastActivity
	}
	return time.Time{}
}

// Track starts monitoring the freshly authenticated session in ctx and
// restarts the check loop if the last logout stopped it
func (m *Monitor) Track(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.stateLocked(core.SessionID(ctx))
	st.lastActivity = m.now()
	st.authenticated = true
	st.warned = false
	if m.parent != nil {
		m.launchLocked()
	}
}

// Start launches the check loop under ctx. The loop stops once the last
// tracked session logs out and Track starts it again under the same ctx.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.parent = ctx
	m.launchLocked()
}

// Running reports whether the check loop is active
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.cancel != nil
}

func (m *Monitor) launchLocked() {
	if m.cancel != nil || m.parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(m.parent)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go func() {
		defer close(done)
		m.run(ctx)
	}()
}

func (m *Monitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.log.Info("monitor.started", "interval", m.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			m.log.Info("monitor.stopped")
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// Stop halts the check loop and waits for it to exit
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// CheckAll runs one monitor pass over every tracked session
func (m *Monitor) CheckAll(ctx context.Context) {
	m.sweep()

	m.mu.Lock()
	ids := make([]string, 0, len(m.tracked))
	for id := range m.tracked {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		m.check(core.WithSessionID(ctx, id))
	}
}

// Check runs one monitor pass for the session in ctx: sweeps stale proofs,
// refreshes the session if its user was recently active, warns when expiry
// is near and tears down a session that has run out.
func (m *Monitor) Check(ctx context.Context) {
	m.sweep()
	m.check(ctx)
}

func (m *Monitor) sweep() {
	if m.proofs == nil {
		return
	}
	if n := m.proofs.Sweep(); n > 0 {
		m.log.Debug("monitor.proofs.swept", "count", n)
	}
}

func (m *Monitor) check(ctx context.Context) {
	id := core.SessionID(ctx)
	info := m.sessions.Info(ctx)

	m.mu.Lock()
	st := m.stateLocked(id)
	tracking := st.authenticated
	st.authenticated = info.IsAuthenticated
	active := !st.lastActivity.IsZero() && m.now().Sub(st.lastActivity) <= m.cfg.ActiveWindow
	if !info.IsAuthenticated && !tracking {
		delete(m.tracked, id)
	}
	if info.IsAuthenticated && m.parent != nil {
		m.launchLocked()
	}
	m.mu.Unlock()

	if !info.IsAuthenticated {
		if tracking {
			m.logout(ctx, "session expired", false)
		}
		return
	}

	if active && info.TimeUntilExpiry > 0 {
		if err := m.sessions.Refresh(ctx); err != nil {
			m.log.Warn("monitor.refresh.failed", "error", err)
		} else {
			info = m.sessions.Info(ctx)
		}
	}

	m.warn(ctx, info)
}

func (m *Monitor) warn(ctx context.Context, info core.SessionInfo) {
	m.mu.Lock()
	st := m.stateLocked(core.SessionID(ctx))
	if info.TimeUntilExpiry >= m.cfg.WarnBefore {
		st.warned = false
		m.mu.Unlock()
		return
	}
	if st.warned {
		m.mu.Unlock()
		return
	}
	st.warned = true
	m.mu.Unlock()

	warning := core.SessionWarning{
		TimeUntilExpiry: info.TimeUntilExpiry,
		Minutes:         int(info.TimeUntilExpiry / time.Minute),
	}
	m.metrics.SessionEvent("warning")
	m.log.Info("monitor.session.expiring", "minutes", warning.Minutes)
	if err := m.events.PublishSessionWarning(ctx, warning); err != nil {
		m.log.Warn("monitor.publish.failed", "event", "session_warning", "error", err)
	}
}

// ForceLogout clears the session records of the session in ctx, stops
// monitoring it and announces the logout. The check loop stops with the
// last tracked session. It is safe to call repeatedly.
func (m *Monitor) ForceLogout(ctx context.Context, reason string) error {
	return m.logout(ctx, reason, true)
}

func (m *Monitor) logout(ctx context.Context, reason string, wait bool) error {
	err := m.sessions.Clear(ctx)
	if err != nil {
		m.log.Warn("monitor.logout.clear_failed", "error", err)
	}

	m.mu.Lock()
	delete(m.tracked, core.SessionID(ctx))
	var cancel context.CancelFunc
	var done chan struct{}
	if !m.anyAuthenticatedLocked() {
		cancel, done = m.cancel, m.done
		m.cancel, m.done = nil, nil
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		// The loop itself may be the caller; it exits on its next select.
		if wait {
			<-done
		}
	}

	m.metrics.SessionEvent("force_logout")
	m.log.Info("monitor.logout", "reason", reason)
	if perr := m.events.PublishForceLogout(context.WithoutCancel(ctx), core.ForceLogout{Reason: reason}); perr != nil {
		m.log.Warn("monitor.publish.failed", "event", "force_logout", "error", perr)
	}
	return err
}

func (m *Monitor) anyAuthenticatedLocked() bool {
	for _, st := range m.tracked {
		if st.authenticated {
			return true
		}
	}
	return false
}
