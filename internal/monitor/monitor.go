// Package monitor holds the process-wide counters and last-status string
// that the scheduler, probe engine, and admin API all update and read. It is
// constructed explicitly at startup and passed down, rather than living as
// package-level global mutable state.
package monitor

import (
	"sync"
	"time"
)

// Monitor is a counters-plus-last-status singleton guarded by its own
// mutex, exposing a snapshot of crawl counters and the last error/status.
type Monitor struct {
	mu      sync.Mutex
	metrics *Metrics

	batchesRun       int64
	resourcesChecked int64
	probesFailed     int64
	probesBackedOff  int64
	analysesRun      int64
	analysesFailed   int64
	notifiesFailed   int64

	lastBatchAt  time.Time
	lastStatus   string
	lastError    string
	startedAt    time.Time
}

// New returns a Monitor with StartedAt set to now. metrics may be nil if
// Prometheus exposition is disabled.
func New(metrics *Metrics) *Monitor {
	return &Monitor{startedAt: time.Now(), metrics: metrics}
}

// Snapshot is an immutable copy of the monitor's counters for the admin
// API's /api/status and /api/stats endpoints.
type Snapshot struct {
	BatchesRun       int64
	ResourcesChecked int64
	ProbesFailed     int64
	ProbesBackedOff  int64
	AnalysesRun      int64
	AnalysesFailed   int64
	NotifiesFailed   int64
	LastBatchAt      time.Time
	LastStatus       string
	LastError        string
	StartedAt        time.Time
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		BatchesRun:       m.batchesRun,
		ResourcesChecked: m.resourcesChecked,
		ProbesFailed:     m.probesFailed,
		ProbesBackedOff:  m.probesBackedOff,
		AnalysesRun:      m.analysesRun,
		AnalysesFailed:   m.analysesFailed,
		NotifiesFailed:   m.notifiesFailed,
		LastBatchAt:      m.lastBatchAt,
		LastStatus:       m.lastStatus,
		LastError:        m.lastError,
		StartedAt:        m.startedAt,
	}
}

func (m *Monitor) RecordBatch(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchesRun++
	m.resourcesChecked += int64(n)
	m.lastBatchAt = time.Now()
	m.lastStatus = "running"
	if m.metrics != nil {
		m.metrics.BatchesRun.Inc()
		m.metrics.ResourcesChecked.Add(float64(n))
	}
}

func (m *Monitor) RecordProbeFailure() {
	m.mu.Lock()
	m.probesFailed++
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.ProbesFailed.Inc()
	}
}

func (m *Monitor) RecordBackoff() {
	m.mu.Lock()
	m.probesBackedOff++
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.ProbesBackedOff.Inc()
	}
}

func (m *Monitor) RecordAnalysis(ok bool) {
	m.mu.Lock()
	m.analysesRun++
	if !ok {
		m.analysesFailed++
	}
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.AnalysesRun.Inc()
		if !ok {
			m.metrics.AnalysesFailed.Inc()
		}
	}
}

func (m *Monitor) RecordNotifyFailure() {
	m.mu.Lock()
	m.notifiesFailed++
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.NotifiesFailed.Inc()
	}
}

func (m *Monitor) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		m.lastError = ""
		return
	}
	m.lastError = err.Error()
}

func (m *Monitor) SetStatus(status string) {
	m.mu.Lock()
	m.lastStatus = status
	m.mu.Unlock()
}
