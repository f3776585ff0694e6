package diaglog

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsCollectorGather(t *testing.T) {
	e, _ := newTestEmitter(t, func(cfg *Config) {
		cfg.DefaultLevel = LevelInfo
	})
	e.Log("storage.wal", LevelError, 1, "emitted", nil)
	e.Log("storage.wal", LevelDebug, 2, "gated", nil)

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(NewMetricsCollector(e)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	got := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, lp := range m.GetLabel() {
				key += "{" + lp.GetName() + "=" + lp.GetValue() + "}"
			}
			got[key] = m.GetCounter().GetValue()
		}
	}

	if got[`diaglog_records_emitted_total{level=ERROR}`] != 1 {
		t.Errorf("emitted counter = %v, want 1 (all: %v)", got[`diaglog_records_emitted_total{level=ERROR}`], got)
	}
	if got[`diaglog_records_dropped_total{cause=level}`] != 1 {
		t.Errorf("dropped counter = %v, want 1 (all: %v)", got[`diaglog_records_dropped_total{cause=level}`], got)
	}
	if got["diaglog_config_applies_total"] != 1 {
		t.Errorf("config applies = %v, want 1", got["diaglog_config_applies_total"])
	}
	if got["diaglog_bytes_written_total"] == 0 {
		t.Error("bytes written counter is zero after a successful emit")
	}
}
