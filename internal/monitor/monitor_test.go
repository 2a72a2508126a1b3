package monitor

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMonitor_recordCounters(t *testing.T) {
	m := New(nil)
	m.RecordBatch(5)
	m.RecordProbeFailure()
	m.RecordBackoff()
	m.RecordAnalysis(true)
	m.RecordAnalysis(false)
	m.RecordNotifyFailure()

	snap := m.Snapshot()
	if snap.BatchesRun != 1 {
		t.Errorf("BatchesRun = %d, want 1", snap.BatchesRun)
	}
	if snap.ResourcesChecked != 5 {
		t.Errorf("ResourcesChecked = %d, want 5", snap.ResourcesChecked)
	}
	if snap.ProbesFailed != 1 {
		t.Errorf("ProbesFailed = %d, want 1", snap.ProbesFailed)
	}
	if snap.AnalysesRun != 2 || snap.AnalysesFailed != 1 {
		t.Errorf("AnalysesRun/Failed = %d/%d, want 2/1", snap.AnalysesRun, snap.AnalysesFailed)
	}
	if snap.NotifiesFailed != 1 {
		t.Errorf("NotifiesFailed = %d, want 1", snap.NotifiesFailed)
	}
	if snap.LastStatus != "running" {
		t.Errorf("LastStatus = %q, want running", snap.LastStatus)
	}
}

func TestMonitor_setError(t *testing.T) {
	m := New(nil)
	m.SetError(errors.New("boom"))
	if m.Snapshot().LastError != "boom" {
		t.Errorf("LastError = %q, want boom", m.Snapshot().LastError)
	}
	m.SetError(nil)
	if m.Snapshot().LastError != "" {
		t.Error("LastError should clear on nil")
	}
}

func TestNewMetrics_registersWithoutPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("NewMetrics panicked: %v", r)
		}
	}()
	_ = New(NewMetrics(prometheus.NewRegistry()))
}
