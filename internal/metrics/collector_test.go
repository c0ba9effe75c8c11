package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("fluxmcp", reg)

	c.Submission("flux-dev", "ok")
	c.Submission("flux-dev", "ok")
	c.Submission("flux-pro-1.1", "error")
	c.StatusFetch("Pending")
	c.StatusFetch("Ready")
	c.PollOutcome("ready")
	c.ArtifactBytes("inline", 2048)
	c.ArtifactBytes("inline", 0)

	if got := testutil.ToFloat64(c.submissions.WithLabelValues("flux-dev", "ok")); got != 2 {
		t.Errorf("submissions{flux-dev,ok} = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(c.submissions); got != 2 {
		t.Errorf("submission series = %d, want 2", got)
	}
	if got := testutil.CollectAndCount(c.statusFetches); got != 2 {
		t.Errorf("status series = %d, want 2", got)
	}
	if got := testutil.ToFloat64(c.artifactBytes.WithLabelValues("inline")); got != 2048 {
		t.Errorf("artifact bytes = %v, want 2048", got)
	}
}

func TestCollector_Histogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("fluxmcp", reg)
	c.GenerationDuration("flux-dev", 3*time.Second)

	n, err := testutil.GatherAndCount(reg, "fluxmcp_generation_duration_seconds")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 1 {
		t.Errorf("histogram series = %d, want 1", n)
	}
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.Submission("flux-dev", "ok")
	c.StatusFetch("Ready")
	c.PollOutcome("timeout")
	c.ArtifactBytes("download", 10)
	c.GenerationDuration("flux-dev", time.Second)
}

func TestNewCollector_SeparateRegistries(t *testing.T) {
	// Each registry gets its own metrics; registering twice on one would panic.
	NewCollector("fluxmcp", prometheus.NewRegistry())
	NewCollector("fluxmcp", prometheus.NewRegistry())
}
