package lanes

import (
	"sync"
	"time"

	"github.com/aescanero/evalpipe/pkg/ports"
	"go.uber.org/zap"
)

// Monitor periodically logs lane queue depths and records them as metrics
type Monitor struct {
	topology *Topology
	interval time.Duration
	logger   *zap.Logger
	metrics  ports.MetricsCollector

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMonitor creates a lane monitor
func NewMonitor(topology *Topology, interval time.Duration, logger *zap.Logger, metrics ports.MetricsCollector) *Monitor {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Monitor{
		topology: topology,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
	}
}

// Start starts the monitor. It is a no-op when already running.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.run(m.stopCh, m.doneCh)
}

// Stop stops the monitor and waits for its loop to exit
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	done := m.doneCh
	m.mu.Unlock()

	<-done
}

func (m *Monitor) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check logs and records the status of every lane once
func (m *Monitor) Check() {
	for _, status := range m.topology.Status() {
		m.logger.Info("lane status",
			zap.String("lane", string(status.Name)),
			zap.Int("size", status.Size),
			zap.Int("queued", status.Queued),
			zap.Int("running", status.Running))

		m.metrics.RecordLaneStatus(string(status.Name), status.Size, status.Queued, status.Running)

		if status.Running >= status.Size && status.Queued > 0 {
			m.logger.Warn("all lane threads are busy and tasks are queued",
				zap.String("lane", string(status.Name)),
				zap.Int("queued", status.Queued))
		}
	}
}
