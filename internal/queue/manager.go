// Package queue runs background price checks on an autoscaled worker pool.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/fairyhunter13/drug-price-aggregator/internal/config"
	"github.com/fairyhunter13/drug-price-aggregator/internal/model"
	"github.com/fairyhunter13/drug-price-aggregator/internal/obs"
)

// Manager owns the workers draining the queue and scales them with backlog.
type Manager struct {
	cfg      config.Config
	q        *Queue
	checker  Checker
	notifier Notifier
	ctx      context.Context
	cancel   context.CancelFunc

	mu            sync.Mutex
	workerCancels []context.CancelFunc
}

// NewManager builds a Manager. A nil notifier logs fired alerts.
func NewManager(cfg config.Config, q *Queue, checker Checker, notifier Notifier) *Manager {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Manager{cfg: cfg, q: q, checker: checker, notifier: notifier}
}

// Start launches the broker, the initial workers and the scaler.
func (m *Manager) Start(parent context.Context) {
	m.ctx, m.cancel = context.WithCancel(parent)
	m.q.Start(m.ctx, m.cfg.QueueHighWatermark)
	m.addWorkers(m.cfg.InitialWorkerCount)
	go m.scaler()
}

func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Lock()
	for _, c := range m.workerCancels {
		c()
	}
	m.workerCancels = nil
	m.mu.Unlock()
}

func (m *Manager) scaler() {
	t := time.NewTicker(m.cfg.ScaleInterval)
	defer t.Stop()
	idleTicks := 0
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-t.C:
			backlog := m.q.BacklogSize()
			wc := m.WorkerCount()
			if backlog > wc*m.cfg.ScaleUpBacklogPerWorker && wc < m.cfg.WorkerMax {
				m.addWorkers(1)
				idleTicks = 0
				continue
			}
			if backlog == 0 {
				idleTicks++
				if idleTicks >= m.cfg.ScaleDownIdleTicks && wc > m.cfg.WorkerMin {
					m.removeWorkers(1)
					idleTicks = 0
				}
			} else {
				idleTicks = 0
			}
		}
	}
}

func (m *Manager) addWorkers(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		wctx, cancel := context.WithCancel(m.ctx)
		m.workerCancels = append(m.workerCancels, cancel)
		go m.worker(wctx)
	}
	obs.Logger.Info("workers_scaled", "worker_count", len(m.workerCancels))
}

func (m *Manager) removeWorkers(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > len(m.workerCancels) {
		n = len(m.workerCancels)
	}
	for i := 0; i < n; i++ {
		c := m.workerCancels[len(m.workerCancels)-1]
		m.workerCancels = m.workerCancels[:len(m.workerCancels)-1]
		c()
	}
	obs.Logger.Info("workers_scaled", "worker_count", len(m.workerCancels))
}

func (m *Manager) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pc := <-m.q.Out():
			m.q.Take(pc)
			m.process(ctx, pc)
			m.q.MarkProcessed()
		}
	}
}

func (m *Manager) process(ctx context.Context, pc model.PriceCheck) {
	rec, fired := m.checker.Check(ctx, pc.DrugName)
	obs.Logger.Debug("price_check_done",
		"drug_name", pc.DrugName,
		"sequence", pc.Sequence,
		"found", rec.Found,
		"fired", len(fired),
	)
	if len(fired) > 0 {
		m.notifier.Notify(ctx, rec, fired)
	}
}

// Enqueue schedules a price check for drugName. See Queue.Enqueue.
func (m *Manager) Enqueue(drugName string) (Ticket, bool) {
	return m.q.Enqueue(drugName)
}

func (m *Manager) BacklogSize() int { return m.q.BacklogSize() }

func (m *Manager) QueueDepth() int { return m.q.QueueDepth() }

func (m *Manager) WorkerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workerCancels)
}

func (m *Manager) LastSequence() uint64 { return m.q.LastSequence() }

func (m *Manager) CoalescedChecks() uint64 { return m.q.Coalesced() }

func (m *Manager) IsShuttingDown() bool { return m.q.IsShuttingDown() }

func (m *Manager) CloseIntake() { m.q.CloseIntake() }

func (m *Manager) QueueMetrics() (enq, proc uint64, backlog, depth int) {
	return m.q.Metrics()
}

// DrainUntil waits for every accepted check to finish. It reports false if
// ctx ends first.
func (m *Manager) DrainUntil(ctx context.Context) bool {
	for {
		enq, proc, backlog, depth := m.q.Metrics()
		if backlog == 0 && depth == 0 && enq == proc {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}
