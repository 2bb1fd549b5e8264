/*
scheduler.go - Approval SLA monitor

PURPOSE:
  Periodically scans inbound requests waiting for approval and tags the
  ones past the approval SLA with APPROVAL_DELAY. Tagging is idempotent, so
  a request is reported once per tag, not once per tick.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs a first check immediately on Start
  - Each check uses a fresh context bounded by the interval

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 minute)
  - Enabled: Whether the monitor is active (default: true)

USAGE:
  monitor := NewSLAMonitor(eng.Inbound, logger)
  monitor.Start()
  // ... later
  monitor.Stop()

SEE ALSO:
  - inbound/service.go: FlagApprovalDelays, CheckApprovalSLA
  - config/config.go: sla.interval
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/wms-engine/lifecycle"
)

// ApprovalChecker tags overdue approvals and returns the ids it tagged.
type ApprovalChecker interface {
	FlagApprovalDelays(ctx context.Context) ([]lifecycle.RequestID, error)
}

// SLAMonitor runs ApprovalChecker on a ticker.
type SLAMonitor struct {
	Checker       ApprovalChecker
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun time.Time
	flagged int
}

// NewSLAMonitor creates a new monitor.
func NewSLAMonitor(checker ApprovalChecker, logger *zap.Logger) *SLAMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SLAMonitor{
		Checker:       checker,
		Logger:        logger.Named("sla"),
		CheckInterval: time.Minute,
		Enabled:       true,
	}
}

// Start begins the monitor. Calling Start on a running monitor is a no-op.
func (m *SLAMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.Enabled || m.CheckInterval <= 0 {
		m.Logger.Info("disabled, not starting")
		return
	}
	if m.ticker != nil {
		return
	}

	m.ticker = time.NewTicker(m.CheckInterval)
	m.stop = make(chan struct{})
	m.wg.Add(1)

	go m.run(m.ticker, m.stop)

	m.Logger.Info("started", zap.Duration("interval", m.CheckInterval))
}

// Stop stops the monitor and waits for a running check to finish.
func (m *SLAMonitor) Stop() {
	m.mu.Lock()
	if m.ticker == nil {
		m.mu.Unlock()
		return
	}
	m.ticker.Stop()
	close(m.stop)
	m.ticker = nil
	m.mu.Unlock()

	m.wg.Wait()
	m.Logger.Info("stopped")
}

func (m *SLAMonitor) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer m.wg.Done()

	// Run immediately on start
	m.check()

	for {
		select {
		case <-ticker.C:
			m.check()
		case <-stop:
			return
		}
	}
}

func (m *SLAMonitor) check() {
	ctx, cancel := context.WithTimeout(context.Background(), m.CheckInterval)
	defer cancel()
	if _, err := m.RunNow(ctx); err != nil {
		m.Logger.Error("approval SLA check failed", zap.Error(err))
	}
}

// RunNow performs one check synchronously.
func (m *SLAMonitor) RunNow(ctx context.Context) ([]lifecycle.RequestID, error) {
	ids, err := m.Checker.FlagApprovalDelays(ctx)

	m.mu.Lock()
	m.lastRun = time.Now()
	m.flagged += len(ids)
	m.mu.Unlock()

	if err != nil {
		return ids, err
	}
	for _, id := range ids {
		m.Logger.Warn("approval SLA breached", zap.String("request_id", string(id)))
	}
	return ids, nil
}

// Stats returns the time of the last check and how many requests have been
// tagged since the monitor was created.
func (m *SLAMonitor) Stats() (lastRun time.Time, flagged int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRun, m.flagged
}
