package monitor

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the monitor's counters as Prometheus collectors for the
// METRICS_LISTEN_ADDR endpoint. Register once per process.
type Metrics struct {
	BatchesRun       prometheus.Counter
	ResourcesChecked prometheus.Counter
	ProbesFailed     prometheus.Counter
	ProbesBackedOff  prometheus.Counter
	AnalysesRun      prometheus.Counter
	AnalysesFailed   prometheus.Counter
	NotifiesFailed   prometheus.Counter
}

// NewMetrics builds and registers the crawler's Prometheus collectors
// against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BatchesRun:       prometheus.NewCounter(prometheus.CounterOpts{Name: "hydracrawl_batches_run_total", Help: "Scheduler batches completed."}),
		ResourcesChecked: prometheus.NewCounter(prometheus.CounterOpts{Name: "hydracrawl_resources_checked_total", Help: "Resources probed."}),
		ProbesFailed:     prometheus.NewCounter(prometheus.CounterOpts{Name: "hydracrawl_probes_failed_total", Help: "Probes that ended in a transport error or 5xx."}),
		ProbesBackedOff:  prometheus.NewCounter(prometheus.CounterOpts{Name: "hydracrawl_probes_backed_off_total", Help: "Probes that moved a resource into BACKOFF."}),
		AnalysesRun:      prometheus.NewCounter(prometheus.CounterOpts{Name: "hydracrawl_analyses_run_total", Help: "CSV analyses attempted."}),
		AnalysesFailed:   prometheus.NewCounter(prometheus.CounterOpts{Name: "hydracrawl_analyses_failed_total", Help: "CSV analyses that ended in a parsing or materialization error."}),
		NotifiesFailed:   prometheus.NewCounter(prometheus.CounterOpts{Name: "hydracrawl_notifies_failed_total", Help: "Webhook notifications that failed after retries."}),
	}
	reg.MustRegister(m.BatchesRun, m.ResourcesChecked, m.ProbesFailed, m.ProbesBackedOff, m.AnalysesRun, m.AnalysesFailed, m.NotifiesFailed)
	return m
}
