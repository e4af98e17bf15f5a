package monitoring

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_RecordsSamplesAndDiscards(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.ObserveSample("accelerometer")
	c.ObserveSample("accelerometer")
	c.ObserveDiscard("gyroscope", "saturated")
	c.IncCalibrations()
	c.SetHeights(1.5, -0.25)

	if got := testutil.ToFloat64(c.Samples.WithLabelValues("accelerometer")); got != 2 {
		t.Fatalf("samples_total=%v want 2", got)
	}
	if got := testutil.ToFloat64(c.Discarded.WithLabelValues("gyroscope", "saturated")); got != 1 {
		t.Fatalf("discarded_total=%v want 1", got)
	}
	if got := testutil.ToFloat64(c.Calibrations); got != 1 {
		t.Fatalf("calibrations_total=%v want 1", got)
	}
	if got := testutil.ToFloat64(c.FrontHeight); got != 1.5 {
		t.Fatalf("front=%v want 1.5", got)
	}
	if got := testutil.ToFloat64(c.SideHeight); got != -0.25 {
		t.Fatalf("side=%v want -0.25", got)
	}
}

func TestCollector_ReRegisterReusesExisting(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("first NewCollector: %v", err)
	}
	b, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}
	a.ObserveSample("gyroscope")
	if got := testutil.ToFloat64(b.Samples.WithLabelValues("gyroscope")); got != 1 {
		t.Fatalf("shared counter=%v want 1", got)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.ObserveSample("x")
	c.ObserveDiscard("x", "y")
	c.IncCalibrations()
	c.SetHeights(1, 2)
	if c.Gatherer() != nil {
		t.Fatalf("expected nil gatherer")
	}
}

func TestSetLogger_NilMutes(t *testing.T) {
	old := Logf
	t.Cleanup(func() { Logf = old })

	var got string
	SetLogger(func(format string, v ...interface{}) { got = format })
	Logf("hello")
	if got != "hello" {
		t.Fatalf("got=%q want hello", got)
	}
	SetLogger(nil)
	Logf("muted")
	if got != "hello" {
		t.Fatalf("nil logger should not forward, got=%q", got)
	}
}
